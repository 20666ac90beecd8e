package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/uysp/leadsync/internal/db"
)

const auditDeletionSQL = `INSERT INTO sync_deletion_audit (tenant_id, entity_type, airtable_record_id)
	SELECT $1, 'leads', unnest($2::text[])`

const deleteLeadsSQL = `DELETE FROM leads WHERE tenant_id = $1 AND airtable_record_id = ANY($2)`

// deletionGuard reconciles local lead rows that no longer exist upstream.
// Deletion is the one destructive step of a sync, so it sits behind two
// circuit breakers: an empty pull aborts outright, and losing more than the
// configured fraction of local rows skips the phase.
type deletionGuard struct {
	pool     db.PgxIface
	tenantID uuid.UUID
	cfg      *Config
}

// run compares the external IDs seen this run against the local table and
// deletes the difference. It returns a *SafetyAbortError when a circuit
// breaker trips and any other error for infrastructure failures.
func (g *deletionGuard) run(ctx context.Context, seen map[string]struct{}, fetched int, er *EntityReport, dryRun bool) error {
	localIDs, err := localLeadIDs(ctx, g.pool, g.tenantID)
	if err != nil {
		return fmt.Errorf("failed to list local lead ids: %w", err)
	}

	if fetched == 0 && len(localIDs) > 0 {
		return &SafetyAbortError{EmptyPull: true, LocalRows: len(localIDs)}
	}

	var localOnly []string
	for _, id := range localIDs {
		if _, ok := seen[id]; !ok {
			localOnly = append(localOnly, id)
		}
	}
	if len(localOnly) == 0 {
		return nil
	}

	pct := float64(len(localOnly)) / float64(len(localIDs))
	if pct > g.cfg.DeletionThreshold {
		return &SafetyAbortError{
			LocalRows:      len(localIDs),
			MissingRows:    len(localOnly),
			MissingPercent: pct * 100,
		}
	}

	if dryRun {
		er.Deleted = len(localOnly)
		logrus.WithField("count", len(localOnly)).Info("Dry run: would delete stale leads")
		return nil
	}

	name := fmt.Sprintf("lead deletion (%d records)", len(localOnly))
	return withTimeout(ctx, g.cfg.OperationTimeout, name, func(ctx context.Context) error {
		return g.deleteStale(ctx, localOnly, er)
	})
}

// deleteStale audits and deletes in one transaction. The local row count is
// re-checked inside the transaction so a concurrent writer cannot shift the
// denominator after the threshold decision.
func (g *deletionGuard) deleteStale(ctx context.Context, stale []string, er *EntityReport) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin deletion transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logrus.WithError(err).Warn("Failed to roll back deletion transaction")
		}
	}()

	var localRows int
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM leads WHERE tenant_id = $1", g.tenantID).Scan(&localRows); err != nil {
		return fmt.Errorf("failed to recount local leads: %w", err)
	}
	if localRows == 0 || float64(len(stale))/float64(localRows) > g.cfg.DeletionThreshold {
		return &SafetyAbortError{
			LocalRows:      localRows,
			MissingRows:    len(stale),
			MissingPercent: float64(len(stale)) / float64(max(localRows, 1)) * 100,
		}
	}

	if _, err := tx.Exec(ctx, auditDeletionSQL, g.tenantID, stale); err != nil {
		return fmt.Errorf("failed to write deletion audit: %w", err)
	}
	tag, err := tx.Exec(ctx, deleteLeadsSQL, g.tenantID, stale)
	if err != nil {
		return fmt.Errorf("failed to delete stale leads: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}

	er.Deleted = int(tag.RowsAffected())
	logrus.WithFields(logrus.Fields{
		"tenant":  g.tenantID,
		"deleted": er.Deleted,
	}).Info("Deleted stale leads")
	return nil
}
