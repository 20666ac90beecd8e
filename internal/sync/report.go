package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordError is one failed record with its accumulated error message.
type RecordError struct {
	RecordID string `json:"recordId"`
	Message  string `json:"message"`
}

// EntityReport aggregates the outcome of one entity type within a run.
type EntityReport struct {
	Fetched   int           `json:"fetched"`
	Processed int           `json:"processed"`
	Deleted   int           `json:"deleted,omitempty"`
	Errors    int           `json:"errors"`
	Sample    []RecordError `json:"errorSample,omitempty"`
	Truncated bool          `json:"truncated"`
	Failure   string        `json:"failure,omitempty"`

	maxErrors int
	entries   []RecordError
	byID      map[string]int // externalID -> index into entries, -1 when dropped by cap
}

// addError records a failure for one external record. A second error for the
// same record (mapping failure followed by an upsert failure) is appended to
// the existing entry instead of creating a duplicate; Errors counts records,
// not error events.
func (er *EntityReport) addError(recordID, msg string) {
	if er.byID == nil {
		er.byID = make(map[string]int)
	}
	if idx, known := er.byID[recordID]; known {
		if idx >= 0 {
			er.entries[idx].Message += "; " + msg
		}
		return
	}
	er.Errors++
	if len(er.entries) >= er.maxErrors {
		er.Truncated = true
		er.byID[recordID] = -1
		return
	}
	er.entries = append(er.entries, RecordError{RecordID: recordID, Message: msg})
	er.byID[recordID] = len(er.entries) - 1
}

// fail marks the whole entity type as failed (schema missing, stream error).
// The run continues with the next entity type.
func (er *EntityReport) fail(err error) {
	er.Failure = err.Error()
}

func (er *EntityReport) failed() bool {
	return er.Failure != ""
}

// BackfillReport summarizes the post-sync campaign FK backfill.
type BackfillReport struct {
	MatchedByCampaignName int64 `json:"matchedByCampaignName"`
	MatchedByLeadSource   int64 `json:"matchedByLeadSource"`
	MatchedByFormID       int64 `json:"matchedByFormId"`
	AggregatesUpdated     int64 `json:"aggregatesUpdated"`
}

// Report is the structured result of one Sync invocation. It is created at
// invocation start, threaded through every component, and returned to the
// caller; nothing in the engine accumulates state outside of it.
type Report struct {
	TenantID       uuid.UUID                `json:"tenantId"`
	Success        bool                     `json:"success"`
	PartialSuccess bool                     `json:"partialSuccess"`
	DryRun         bool                     `json:"dryRun"`
	PerEntity      map[string]*EntityReport `json:"perEntity"`
	Backfill       *BackfillReport          `json:"backfill,omitempty"`
	Message        string                   `json:"message"`
	StartedAt      time.Time                `json:"startedAt"`
	FinishedAt     time.Time                `json:"finishedAt"`

	cfg         *Config
	failed      bool
	safetyAbort *SafetyAbortError
}

func newReport(tenantID uuid.UUID, dryRun bool, cfg *Config) *Report {
	return &Report{
		TenantID:  tenantID,
		DryRun:    dryRun,
		PerEntity: make(map[string]*EntityReport),
		StartedAt: time.Now(),
		cfg:       cfg,
	}
}

// Entity returns the report bucket for one entity type, creating it on first use.
func (r *Report) Entity(name string) *EntityReport {
	er, ok := r.PerEntity[name]
	if !ok {
		er = &EntityReport{maxErrors: r.cfg.MaxErrorsPerEntity}
		r.PerEntity[name] = er
	}
	return er
}

// finalize resolves the overall status and composes the summary message.
// failed is reserved for critical preconditions (the empty-pull guard); any
// record- or entity-level trouble yields partial_success.
func (r *Report) finalize() {
	r.FinishedAt = time.Now()

	totalErrors := 0
	entityFailures := 0
	var processed, fetched, deleted int
	for _, name := range entityOrder() {
		er, ok := r.PerEntity[name]
		if !ok {
			continue
		}
		er.Sample = er.entries
		if len(er.Sample) > r.cfg.ErrorSampleSize {
			er.Sample = er.Sample[:r.cfg.ErrorSampleSize]
			er.Truncated = true
		}
		totalErrors += er.Errors
		if er.failed() {
			entityFailures++
		}
		fetched += er.Fetched
		processed += er.Processed
		deleted += er.Deleted
	}

	clean := totalErrors == 0 && entityFailures == 0 && r.safetyAbort == nil
	r.Success = !r.failed && clean
	r.PartialSuccess = !r.failed && !clean

	parts := []string{fmt.Sprintf("fetched %d, processed %d, deleted %d, errors %d",
		fetched, processed, deleted, totalErrors)}
	if entityFailures > 0 {
		parts = append(parts, fmt.Sprintf("%d entity type(s) failed", entityFailures))
	}
	if r.safetyAbort != nil {
		parts = append(parts, r.safetyAbort.Error())
	}
	switch {
	case r.failed:
		r.Message = "Sync failed: " + strings.Join(parts, "; ")
	case r.Success:
		r.Message = "Sync complete: " + strings.Join(parts, "; ")
	default:
		r.Message = "Sync completed with errors: " + strings.Join(parts, "; ")
	}
	if r.DryRun {
		r.Message += " (dry run)"
	}
}

// Status returns the overall status as a word, for logging and exit codes.
func (r *Report) Status() string {
	switch {
	case r.Success:
		return "success"
	case r.PartialSuccess:
		return "partial_success"
	default:
		return "failed"
	}
}
