package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/uysp/leadsync/internal/db"
)

const pendingOutboundSQL = `SELECT EXISTS (
	SELECT 1 FROM airtable_sync_queue
	WHERE tenant_id = $1 AND record_id = $2 AND status IN ('pending', 'processing'))`

const taskUpdatedAtSQL = `SELECT updated_at FROM project_tasks
	WHERE tenant_id = $1 AND airtable_record_id = $2`

// conflictResolver decides whether an inbound task record may overwrite the
// local row. Local edits win: a queued outbound write or a local write inside
// the conflict window blocks the overwrite, and beyond the window the remote
// side must be strictly newer.
type conflictResolver struct {
	pool   db.PgxIface
	window time.Duration
	now    func() time.Time
}

func newConflictResolver(pool db.PgxIface, window time.Duration) *conflictResolver {
	return &conflictResolver{pool: pool, window: window, now: time.Now}
}

// allowOverwrite reports whether the mapped record may replace the local row.
// A skipped record is not an error, it is the resolver doing its job.
func (cr *conflictResolver) allowOverwrite(ctx context.Context, tenantID uuid.UUID, rec mappedRecord) (bool, error) {
	var pending bool
	if err := cr.pool.QueryRow(ctx, pendingOutboundSQL, tenantID, rec.externalID).Scan(&pending); err != nil {
		return false, fmt.Errorf("failed to check outbound queue for %s: %w", rec.externalID, err)
	}
	if pending {
		return false, nil
	}

	var updatedAt time.Time
	err := cr.pool.QueryRow(ctx, taskUpdatedAtSQL, tenantID, rec.externalID).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// New record, nothing local to protect.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load local row for %s: %w", rec.externalID, err)
	}

	if cr.now().Sub(updatedAt) < cr.window {
		return false, nil
	}
	if rec.remoteModified != nil && !rec.remoteModified.After(updatedAt) {
		return false, nil
	}
	return true, nil
}
