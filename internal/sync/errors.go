package sync

import (
	"errors"
	"fmt"
	"time"
)

// ErrLockContention is returned when another sync already holds the tenant lock.
var ErrLockContention = errors.New("sync already in progress for tenant")

// NotFoundError indicates a tenant that does not exist or has no Airtable base configured.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// MappingError indicates a single external record that could not be mapped
// because a required field is missing or of the wrong shape. It is recorded
// against the record and never aborts a run.
type MappingError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("record %s: field %q %s", e.RecordID, e.Field, e.Reason)
}

// TimeoutError indicates a single operation exceeded its deadline. The
// underlying operation keeps running in the background; its eventual outcome
// is logged and swallowed.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Operation, e.Timeout)
}

// SafetyAbortError indicates that one of the deletion circuit breakers
// tripped. EmptyPull distinguishes the zero-records guard (fatal for the
// whole run) from the percentage guard (deletion phase only is skipped).
type SafetyAbortError struct {
	EmptyPull      bool
	LocalRows      int
	MissingRows    int
	MissingPercent float64
}

func (e *SafetyAbortError) Error() string {
	if e.EmptyPull {
		return fmt.Sprintf("deletion safety: external pull returned zero records while %d local rows exist", e.LocalRows)
	}
	return fmt.Sprintf("deletion safety: %d of %d local rows (%.1f%%) missing upstream, deletion skipped",
		e.MissingRows, e.LocalRows, e.MissingPercent)
}
