package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/uysp/leadsync/internal/airtable"
)

// mappedRecord is one external record translated into upsert bind arguments.
// args line up positionally with the owning entity's upsert statement.
type mappedRecord struct {
	externalID string
	args       []any
	// remoteModified carries the upstream last-modified timestamp for
	// entities that go through conflict resolution.
	remoteModified *time.Time
}

// optString returns a field value or SQL NULL.
func optString(rec airtable.Record, name string) any {
	if s, ok := rec.String(name); ok {
		return s
	}
	return nil
}

// optTime returns a timestamp field or SQL NULL.
func optTime(rec airtable.Record, name string) any {
	if t, ok := rec.Time(name); ok {
		return t
	}
	return nil
}

func stringOr(rec airtable.Record, name, fallback string) string {
	if s, ok := rec.String(name); ok {
		return s
	}
	return fallback
}

func intField(rec airtable.Record, name string) int {
	n, ok := rec.Number(name)
	if !ok {
		return 0
	}
	return int(n)
}

// Mapping is deterministic: the same record and tenant always produce the
// same arguments, which is what makes re-running a sync safe. Required
// fields fail with a MappingError instead of being defaulted.

func mapLead(rec airtable.Record, tenantID uuid.UUID) (mappedRecord, error) {
	firstName, ok := rec.String("First Name")
	if !ok {
		// Older bases only carry the combined "Lead" name column.
		if firstName, ok = rec.String("Lead"); !ok {
			return mappedRecord{}, &MappingError{RecordID: rec.ID, Field: "First Name", Reason: "is required and missing"}
		}
	}
	return mappedRecord{
		externalID: rec.ID,
		args: []any{
			tenantID,
			rec.ID,
			firstName,
			stringOr(rec, "Last Name", ""),
			stringOr(rec, "Email", ""),
			optString(rec, "Phone"),
			optString(rec, "Company"),
			optString(rec, "Job Title"),
			intField(rec, "ICP Score"),
			stringOr(rec, "SMS Status", "New"),
			optString(rec, "SMS Campaign ID"),
			optString(rec, "Lead Source"),
			optString(rec, "Form ID"),
			!rec.Bool("Booked"), // booked leads are archived
			rec.Bool("Booked"),
			rec.CreatedTime,
		},
	}, nil
}

func mapTask(rec airtable.Record, tenantID uuid.UUID) (mappedRecord, error) {
	task, ok := rec.String("Task")
	if !ok {
		return mappedRecord{}, &MappingError{RecordID: rec.ID, Field: "Task", Reason: "is required and missing"}
	}
	m := mappedRecord{
		externalID: rec.ID,
		args: []any{
			tenantID,
			rec.ID,
			task,
			stringOr(rec, "Status", "Pending"),
			stringOr(rec, "Priority", "Medium"),
			stringOr(rec, "Type", "Task"),
			optString(rec, "Owner"),
			optTime(rec, "Due Date"),
			optString(rec, "Notes"),
			rec.CreatedTime,
		},
	}
	if t, ok := rec.LastModified(); ok {
		m.remoteModified = &t
	}
	return m, nil
}

func mapBlocker(rec airtable.Record, tenantID uuid.UUID) (mappedRecord, error) {
	blocker, ok := rec.String("Blocker")
	if !ok {
		return mappedRecord{}, &MappingError{RecordID: rec.ID, Field: "Blocker", Reason: "is required and missing"}
	}
	return mappedRecord{
		externalID: rec.ID,
		args: []any{
			tenantID,
			rec.ID,
			blocker,
			stringOr(rec, "Severity", "Medium"),
			optString(rec, "Action to Resolve"),
			stringOr(rec, "Status", "Active"),
			optTime(rec, "Resolved At"),
			rec.CreatedTime,
		},
	}, nil
}

func mapStatusMetric(rec airtable.Record, tenantID uuid.UUID) (mappedRecord, error) {
	metric, ok := rec.String("Metric")
	if !ok {
		return mappedRecord{}, &MappingError{RecordID: rec.ID, Field: "Metric", Reason: "is required and missing"}
	}
	return mappedRecord{
		externalID: rec.ID,
		args: []any{
			tenantID,
			rec.ID,
			metric,
			stringOr(rec, "Value", ""),
			stringOr(rec, "Category", "General"),
			intField(rec, "Display Order"),
			rec.CreatedTime,
		},
	}, nil
}

func mapCampaign(rec airtable.Record, tenantID uuid.UUID) (mappedRecord, error) {
	name, ok := rec.String("Name")
	if !ok {
		if name, ok = rec.String("Campaign Name"); !ok {
			return mappedRecord{}, &MappingError{RecordID: rec.ID, Field: "Name", Reason: "is required and missing"}
		}
	}
	return mappedRecord{
		externalID: rec.ID,
		args: []any{
			tenantID,
			rec.ID,
			name,
			stringOr(rec, "Type", "Standard"),
			optString(rec, "Form ID"),
			!rec.Bool("Archived"),
			rec.CreatedTime,
		},
	}, nil
}
