package sync

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	gosync "sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uysp/leadsync/internal/db"
)

// Locker serializes sync runs per tenant. Acquire is non-blocking: held=false
// means another run is in flight and the caller must back off, not queue.
// Release must be idempotent and is invoked on every exit path.
type Locker interface {
	Acquire(ctx context.Context, tenantID uuid.UUID) (held bool, err error)
	Release(ctx context.Context, tenantID uuid.UUID) error
}

// lockKey derives a 60-bit advisory lock key from the MD5 of the tenant ID,
// the same derivation the portal uses, so multiple engine versions contend
// on the same key.
func lockKey(tenantID uuid.UUID) int64 {
	sum := md5.Sum([]byte(tenantID.String()))
	return int64(binary.BigEndian.Uint64(sum[:8]) >> 4)
}

// AdvisoryLocker implements Locker over PostgreSQL advisory locks, making the
// exclusion visible to every engine process sharing the database. The
// connection must be a single dedicated session: advisory locks are
// session-scoped, and a pooled acquire/release pair could land on different
// backends.
type AdvisoryLocker struct {
	conn db.PgxIface
}

// NewAdvisoryLocker creates a Locker on a dedicated session connection.
func NewAdvisoryLocker(conn db.PgxIface) *AdvisoryLocker {
	return &AdvisoryLocker{conn: conn}
}

// Acquire tries to take the tenant lock without waiting.
func (l *AdvisoryLocker) Acquire(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var held bool
	err := l.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockKey(tenantID)).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("failed to acquire tenant lock: %w", err)
	}
	return held, nil
}

// Release frees the tenant lock. Releasing a lock this session does not hold
// is logged and ignored, so double release on an error path is harmless.
func (l *AdvisoryLocker) Release(ctx context.Context, tenantID uuid.UUID) error {
	var released bool
	err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockKey(tenantID)).Scan(&released)
	if err != nil {
		return fmt.Errorf("failed to release tenant lock: %w", err)
	}
	if !released {
		logrus.WithField("tenant", tenantID).Warn("Released a tenant lock that was not held by this session")
	}
	return nil
}

// MemoryLocker is an in-process Locker for tests and single-instance setups.
type MemoryLocker struct {
	mu   gosync.Mutex
	held map[uuid.UUID]bool
}

// NewMemoryLocker creates an empty in-process Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uuid.UUID]bool)}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, tenantID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[tenantID] {
		return false, nil
	}
	l.held[tenantID] = true
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(_ context.Context, tenantID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, tenantID)
	return nil
}
