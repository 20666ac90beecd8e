package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uysp/leadsync/internal/airtable"
	"github.com/uysp/leadsync/internal/db"
)

// RecordSource streams records from one external table. *airtable.Client
// satisfies it; tests substitute an in-memory source.
type RecordSource interface {
	StreamTable(ctx context.Context, baseID, table string, onRecord func(airtable.Record) error) (int, error)
}

// Service runs record reconciliation for tenants.
type Service struct {
	pool   db.PgxIface
	source RecordSource
	locker Locker
	cfg    *Config
}

// NewService wires the engine. A nil cfg selects the production defaults.
func NewService(pool db.PgxIface, source RecordSource, locker Locker, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{pool: pool, source: source, locker: locker, cfg: cfg}
}

// Sync reconciles all entity types for one tenant and returns a structured
// report. A non-nil error means the run could not start or lost a critical
// precondition; everything record- or entity-level lands in the report
// instead. Sync never runs concurrently for the same tenant: contention
// returns ErrLockContention immediately.
func (s *Service) Sync(ctx context.Context, tenantID uuid.UUID, dryRun bool) (*Report, error) {
	held, err := s.locker.Acquire(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant lock: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrLockContention)
	}
	defer func() {
		if err := s.locker.Release(ctx, tenantID); err != nil {
			logrus.WithError(err).WithField("tenant", tenantID).Warn("Failed to release tenant lock")
		}
	}()

	tenant, err := getTenant(ctx, s.pool, tenantID)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{"tenant": tenantID, "company": tenant.CompanyName})
	log.WithField("dryRun", dryRun).Info("Starting sync")

	run := newReport(tenantID, dryRun, s.cfg)
	seen := make(map[string]struct{})

	for _, spec := range entitySpecs() {
		s.syncEntity(ctx, spec, tenant, run, seen, dryRun)
	}

	s.reconcileDeletions(ctx, run, seen, dryRun)

	if !dryRun && !run.failed {
		s.postSync(ctx, run, tenantID)
	}

	run.finalize()
	log.WithFields(logrus.Fields{
		"status":  run.Status(),
		"elapsed": run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	}).Info(run.Message)
	return run, nil
}

// syncEntity streams one external table into its local mirror. Stream
// failures mark the entity type failed and the run moves on to the next one.
func (s *Service) syncEntity(ctx context.Context, spec entitySpec, tenant *Tenant, run *Report, seen map[string]struct{}, dryRun bool) {
	er := run.Entity(spec.name)
	up := newBatchUpserter(s.pool, spec, tenant.ID, s.cfg, er, dryRun)

	fetched, err := s.source.StreamTable(ctx, tenant.AirtableBaseID, spec.table, func(rec airtable.Record) error {
		er.Fetched++
		if spec.tracked {
			seen[rec.ID] = struct{}{}
		}
		mapped, err := spec.mapFn(rec, tenant.ID)
		if err != nil {
			er.addError(rec.ID, err.Error())
			return err
		}
		up.add(ctx, mapped)
		return nil
	})
	// The tail is flushed even when the stream broke mid-table, so records
	// fetched before the failure are not lost.
	up.finish(ctx)
	if err != nil {
		er.fail(fmt.Errorf("failed to stream table %q: %w", spec.table, err))
		return
	}

	logrus.WithFields(logrus.Fields{
		"entity":    spec.name,
		"fetched":   fetched,
		"processed": er.Processed,
		"errors":    er.Errors,
	}).Debug("Entity sync finished")
}

// reconcileDeletions runs the lead deletion phase after all entities have
// synced. A tripped circuit breaker is recorded on the report; the empty-pull
// breaker additionally fails the whole run.
func (s *Service) reconcileDeletions(ctx context.Context, run *Report, seen map[string]struct{}, dryRun bool) {
	er := run.Entity(EntityLeads)
	if er.failed() {
		// The pull itself broke, so the missing-set is meaningless.
		return
	}

	guard := &deletionGuard{pool: s.pool, tenantID: run.TenantID, cfg: s.cfg}
	err := guard.run(ctx, seen, er.Fetched, er, dryRun)
	if err == nil {
		return
	}

	var abort *SafetyAbortError
	if errors.As(err, &abort) {
		run.safetyAbort = abort
		if abort.EmptyPull {
			run.failed = true
		}
		logrus.WithField("tenant", run.TenantID).Warn(abort.Error())
		return
	}
	er.fail(fmt.Errorf("deletion phase: %w", err))
}

// postSync runs the best-effort follow-ups: campaign FK backfill, aggregate
// refresh, and the tenant watermark. Their failures degrade the run to
// partial success but never undo the synced data.
func (s *Service) postSync(ctx context.Context, run *Report, tenantID uuid.UUID) {
	leadsOK := !run.Entity(EntityLeads).failed()
	campaignsOK := !run.Entity(EntityCampaigns).failed()

	if !s.cfg.SkipBackfill && leadsOK && campaignsOK {
		backfill, err := backfillCampaignLinks(ctx, s.pool, tenantID)
		if err != nil {
			run.Entity(EntityCampaigns).fail(err)
		} else {
			updated, err := refreshCampaignAggregates(ctx, s.pool, tenantID)
			if err != nil {
				run.Entity(EntityCampaigns).fail(err)
			} else {
				backfill.AggregatesUpdated = updated
			}
			run.Backfill = backfill
		}
	}

	if err := markTenantSynced(ctx, s.pool, tenantID); err != nil {
		logrus.WithError(err).WithField("tenant", tenantID).Warn("Failed to advance sync watermark")
	}
}
