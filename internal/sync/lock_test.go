package sync

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKeyDeterministic(t *testing.T) {
	a := lockKey(testTenantID)
	b := lockKey(testTenantID)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, int64(0), "60-bit key never overflows into the sign bit")
}

func TestLockKeyDistinctTenants(t *testing.T) {
	other := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.NotEqual(t, lockKey(testTenantID), lockKey(other))
}

func TestAdvisoryLockerAcquireRelease(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	key := lockKey(testTenantID)
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(key).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery("SELECT pg_advisory_unlock").
		WithArgs(key).
		WillReturnRows(pgxmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	l := NewAdvisoryLocker(mock)
	held, err := l.Acquire(context.Background(), testTenantID)
	require.NoError(t, err)
	assert.True(t, held)
	require.NoError(t, l.Release(context.Background(), testTenantID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockerContention(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lockKey(testTenantID)).
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	l := NewAdvisoryLocker(mock)
	held, err := l.Acquire(context.Background(), testTenantID)
	require.NoError(t, err)
	assert.False(t, held, "a held lock is reported, not waited on")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLockerReleaseNotHeld(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT pg_advisory_unlock").
		WithArgs(lockKey(testTenantID)).
		WillReturnRows(pgxmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(false))

	l := NewAdvisoryLocker(mock)
	assert.NoError(t, l.Release(context.Background(), testTenantID), "double release is harmless")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryLockerExclusivity(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	held, err := l.Acquire(ctx, testTenantID)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = l.Acquire(ctx, testTenantID)
	require.NoError(t, err)
	assert.False(t, held, "second acquire for the same tenant must fail")

	other := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	held, err = l.Acquire(ctx, other)
	require.NoError(t, err)
	assert.True(t, held, "locks are per tenant")

	require.NoError(t, l.Release(ctx, testTenantID))
	held, err = l.Acquire(ctx, testTenantID)
	require.NoError(t, err)
	assert.True(t, held, "release makes the lock available again")
}
