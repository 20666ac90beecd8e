// Package sync implements the Airtable to PostgreSQL record reconciliation engine.
package sync

import "time"

// Entity type names used as report keys and log fields.
const (
	EntityLeads     = "leads"
	EntityTasks     = "tasks"
	EntityBlockers  = "blockers"
	EntityStatus    = "status"
	EntityCampaigns = "campaigns"
)

// Config holds the engine tunables.
type Config struct {
	// BatchSize is the number of mapped records buffered before a flush.
	BatchSize int
	// ConflictWindow protects locally edited tasks from being overwritten
	// by upstream data for this long after their last local write.
	ConflictWindow time.Duration
	// DeletionThreshold is the maximum fraction of local lead rows that may
	// go missing upstream in one run before the deletion phase refuses to act.
	DeletionThreshold float64
	// OperationTimeout bounds a single batch flush or deletion transaction.
	OperationTimeout time.Duration
	// MaxErrorsPerEntity caps the stored per-entity error list.
	MaxErrorsPerEntity int
	// ErrorSampleSize caps the error sample serialized into the report.
	ErrorSampleSize int
	// SkipBackfill disables the campaign FK backfill and aggregate refresh
	// that normally run after a clean non-dry-run sync.
	SkipBackfill bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:          500,
		ConflictWindow:     5 * time.Minute,
		DeletionThreshold:  0.10,
		OperationTimeout:   30 * time.Second,
		MaxErrorsPerEntity: 100,
		ErrorSampleSize:    10,
	}
}
