package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uysp/leadsync/internal/db"
)

// batchResult is the outcome of one flush, computed locally inside the
// flush operation and merged into the entity report only when the flush
// finished before its deadline.
type batchResult struct {
	processed int
	skipped   int
	errs      []RecordError
}

// batchUpserter buffers mapped records and flushes them in fixed-size
// batches. Each record in a batch is upserted independently: one bad row is
// reported against its external ID and the rest of the batch proceeds.
type batchUpserter struct {
	pool     db.PgxIface
	spec     entitySpec
	tenantID uuid.UUID
	cfg      *Config
	report   *EntityReport
	resolver *conflictResolver
	dryRun   bool
	buf      []mappedRecord
}

func newBatchUpserter(pool db.PgxIface, spec entitySpec, tenantID uuid.UUID, cfg *Config, report *EntityReport, dryRun bool) *batchUpserter {
	u := &batchUpserter{
		pool:     pool,
		spec:     spec,
		tenantID: tenantID,
		cfg:      cfg,
		report:   report,
		dryRun:   dryRun,
	}
	if spec.guarded {
		u.resolver = newConflictResolver(pool, cfg.ConflictWindow)
	}
	return u
}

// add buffers one record, flushing when the batch is full.
func (u *batchUpserter) add(ctx context.Context, rec mappedRecord) {
	u.buf = append(u.buf, rec)
	if len(u.buf) >= u.cfg.BatchSize {
		u.flush(ctx)
	}
}

// finish flushes whatever the last partial batch holds. The buffer is empty
// afterwards, so calling finish after an exact batch-size boundary does not
// flush the same records twice.
func (u *batchUpserter) finish(ctx context.Context) {
	u.flush(ctx)
}

// flush writes the buffered batch under the operation deadline. The buffer is
// detached before the operation starts so a timed-out flush that is still
// running in the background cannot observe records from a later batch.
func (u *batchUpserter) flush(ctx context.Context) {
	if len(u.buf) == 0 {
		return
	}
	batch := u.buf
	u.buf = nil

	var result batchResult
	name := fmt.Sprintf("%s batch upsert (%d records)", u.spec.name, len(batch))
	err := withTimeout(ctx, u.cfg.OperationTimeout, name, func(ctx context.Context) error {
		result = u.apply(ctx, batch)
		return nil
	})

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		// The background flush may still mutate its own local result, but
		// never the report; all records in the batch count as failed here.
		for _, rec := range batch {
			u.report.addError(rec.externalID, timeoutErr.Error())
		}
		return
	}

	u.report.Processed += result.processed
	for _, re := range result.errs {
		u.report.addError(re.RecordID, re.Message)
	}
	if result.skipped > 0 {
		logrus.WithFields(logrus.Fields{
			"entity":  u.spec.name,
			"skipped": result.skipped,
		}).Debug("Records skipped by conflict resolution")
	}
}

// apply upserts one batch record by record. It writes only to the returned
// batchResult, never to shared state, so a late-finishing call after a
// timeout has nothing to race against.
func (u *batchUpserter) apply(ctx context.Context, batch []mappedRecord) batchResult {
	var res batchResult
	for _, rec := range batch {
		if u.resolver != nil {
			allow, err := u.resolver.allowOverwrite(ctx, u.tenantID, rec)
			if err != nil {
				res.errs = append(res.errs, RecordError{RecordID: rec.externalID, Message: fmt.Sprintf("conflict check failed: %v", err)})
				continue
			}
			if !allow {
				// Local edit wins; the record still counts as processed.
				logrus.WithFields(logrus.Fields{
					"entity": u.spec.name,
					"record": rec.externalID,
				}).Debug("Skipping overwrite of locally modified record")
				res.processed++
				res.skipped++
				continue
			}
		}
		if u.dryRun {
			res.processed++
			continue
		}
		if _, err := u.pool.Exec(ctx, u.spec.upsert, rec.args...); err != nil {
			res.errs = append(res.errs, RecordError{RecordID: rec.externalID, Message: fmt.Sprintf("upsert failed: %v", err)})
			continue
		}
		res.processed++
	}
	return res
}
