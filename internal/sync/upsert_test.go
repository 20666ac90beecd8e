package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uysp/leadsync/internal/airtable"
)

// anyArgs builds n pgxmock.AnyArg matchers; pgxmock requires the argument
// count to be declared even when the values themselves don't matter.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func leadSpec() entitySpec {
	for _, s := range entitySpecs() {
		if s.name == EntityLeads {
			return s
		}
	}
	panic("unreachable")
}

func mappedLead(id string) mappedRecord {
	rec := leadRecord(map[string]any{"First Name": "Ada"})
	rec.ID = id
	m, err := mapLead(rec, testTenantID)
	if err != nil {
		panic(err)
	}
	return m
}

func TestUpserterFlushesFullBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	er := &EntityReport{maxErrors: cfg.MaxErrorsPerEntity}
	up := newBatchUpserter(mock, leadSpec(), testTenantID, cfg, er, false)

	for i := 0; i < 5; i++ {
		mock.ExpectExec("INSERT INTO leads").
			WithArgs(anyArgs(16)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		up.add(ctx, mappedLead(fmt.Sprintf("rec%d", i)))
	}
	up.finish(ctx)

	assert.Equal(t, 5, er.Processed)
	assert.Equal(t, 0, er.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpserterExactBoundaryDoesNotDoubleFlush(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	er := &EntityReport{maxErrors: cfg.MaxErrorsPerEntity}
	up := newBatchUpserter(mock, leadSpec(), testTenantID, cfg, er, false)

	mock.ExpectExec("INSERT INTO leads").WithArgs(anyArgs(16)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO leads").WithArgs(anyArgs(16)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	up.add(ctx, mappedLead("rec0"))
	up.add(ctx, mappedLead("rec1")) // flushes here
	up.finish(ctx)                  // buffer empty, must not flush again

	assert.Equal(t, 2, er.Processed)
	assert.NoError(t, mock.ExpectationsWereMet(), "finish after a full batch must not re-upsert")
}

func TestUpserterIsolatesRecordFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := DefaultConfig()
	er := &EntityReport{maxErrors: cfg.MaxErrorsPerEntity}
	up := newBatchUpserter(mock, leadSpec(), testTenantID, cfg, er, false)

	mock.ExpectExec("INSERT INTO leads").WithArgs(anyArgs(16)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO leads").WithArgs(anyArgs(16)...).WillReturnError(errors.New("value too long for type"))
	mock.ExpectExec("INSERT INTO leads").WithArgs(anyArgs(16)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	up.add(ctx, mappedLead("rec0"))
	up.add(ctx, mappedLead("rec1"))
	up.add(ctx, mappedLead("rec2"))
	up.finish(ctx)

	assert.Equal(t, 2, er.Processed)
	assert.Equal(t, 1, er.Errors)
	require.Len(t, er.entries, 1)
	assert.Equal(t, "rec1", er.entries[0].RecordID)
	assert.Contains(t, er.entries[0].Message, "upsert failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpserterDryRunSkipsWrites(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := DefaultConfig()
	er := &EntityReport{maxErrors: cfg.MaxErrorsPerEntity}
	up := newBatchUpserter(mock, leadSpec(), testTenantID, cfg, er, true)

	ctx := context.Background()
	up.add(ctx, mappedLead("rec0"))
	up.add(ctx, mappedLead("rec1"))
	up.finish(ctx)

	assert.Equal(t, 2, er.Processed, "dry run still counts records as processed")
	assert.NoError(t, mock.ExpectationsWereMet(), "dry run must issue no statements")
}

func TestUpserterTimeoutFailsWholeBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := DefaultConfig()
	cfg.OperationTimeout = 10 * time.Millisecond
	er := &EntityReport{maxErrors: cfg.MaxErrorsPerEntity}
	up := newBatchUpserter(mock, leadSpec(), testTenantID, cfg, er, false)

	mock.ExpectExec("INSERT INTO leads").
		WithArgs(anyArgs(16)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1)).
		WillDelayFor(100 * time.Millisecond)
	mock.ExpectExec("INSERT INTO leads").
		WithArgs(anyArgs(16)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ctx := context.Background()
	up.add(ctx, mappedLead("rec0"))
	up.add(ctx, mappedLead("rec1"))
	up.finish(ctx)

	assert.Equal(t, 0, er.Processed, "a timed-out batch contributes nothing")
	assert.Equal(t, 2, er.Errors)
	for _, e := range er.entries {
		assert.True(t, strings.Contains(e.Message, "timed out"), e.Message)
	}
	// Let the background flush drain before the mock is torn down.
	time.Sleep(200 * time.Millisecond)
}

func TestUpserterGuardedSkipCountsAsProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var taskSpec entitySpec
	for _, s := range entitySpecs() {
		if s.name == EntityTasks {
			taskSpec = s
		}
	}
	cfg := DefaultConfig()
	er := &EntityReport{maxErrors: cfg.MaxErrorsPerEntity}
	up := newBatchUpserter(mock, taskSpec, testTenantID, cfg, er, false)
	require.NotNil(t, up.resolver)
	up.resolver.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	// Pending outbound write for this task, resolver refuses the overwrite.
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(testTenantID, "recTask001").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	m, err := mapTask(airtable.Record{ID: "recTask001", Fields: map[string]any{"Task": "Review"}}, testTenantID)
	require.NoError(t, err)
	ctx := context.Background()
	up.add(ctx, m)
	up.finish(ctx)

	assert.Equal(t, 1, er.Processed, "a conflict skip is a processed record")
	assert.Equal(t, 0, er.Errors)
	assert.NoError(t, mock.ExpectationsWereMet(), "no upsert for a skipped record")
}
