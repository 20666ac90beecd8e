package sync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uysp/leadsync/internal/airtable"
)

var testTenantID = uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

func leadRecord(fields map[string]any) airtable.Record {
	return airtable.Record{
		ID:          "recLead001",
		Fields:      fields,
		CreatedTime: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestMapLead(t *testing.T) {
	rec := leadRecord(map[string]any{
		"First Name": "Ada",
		"Last Name":  "Lovelace",
		"Email":      "ada@example.com",
		"ICP Score":  float64(85),
		"SMS Status": "Queued",
		"Booked":     true,
	})
	m, err := mapLead(rec, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "recLead001", m.externalID)
	assert.Equal(t, testTenantID, m.args[0])
	assert.Equal(t, "recLead001", m.args[1])
	assert.Equal(t, "Ada", m.args[2])
	assert.Equal(t, "Lovelace", m.args[3])
	assert.Equal(t, "ada@example.com", m.args[4])
	assert.Equal(t, 85, m.args[8])
	assert.Equal(t, "Queued", m.args[9])
	assert.Equal(t, false, m.args[13], "booked lead should be archived")
	assert.Equal(t, true, m.args[14])
}

func TestMapLeadDefaults(t *testing.T) {
	m, err := mapLead(leadRecord(map[string]any{"First Name": "Ada"}), testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "", m.args[3], "missing last name defaults to empty")
	assert.Nil(t, m.args[5], "missing phone maps to NULL")
	assert.Equal(t, 0, m.args[8], "missing ICP score defaults to zero")
	assert.Equal(t, "New", m.args[9], "missing status defaults to New")
	assert.Equal(t, true, m.args[13], "unbooked lead stays active")
}

func TestMapLeadNameFallback(t *testing.T) {
	m, err := mapLead(leadRecord(map[string]any{"Lead": "Grace Hopper"}), testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", m.args[2])
}

func TestMapLeadMissingName(t *testing.T) {
	_, err := mapLead(leadRecord(map[string]any{"Email": "x@example.com"}), testTenantID)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "recLead001", mapErr.RecordID)
	assert.Equal(t, "First Name", mapErr.Field)
}

func TestMapTask(t *testing.T) {
	rec := airtable.Record{
		ID: "recTask001",
		Fields: map[string]any{
			"Task":          "Review onboarding doc",
			"Status":        "In Progress",
			"Due Date":      "2026-09-01",
			"Last Modified": "2026-08-20T14:30:00Z",
		},
		CreatedTime: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	m, err := mapTask(rec, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "Review onboarding doc", m.args[2])
	assert.Equal(t, "In Progress", m.args[3])
	assert.Equal(t, "Medium", m.args[4], "missing priority defaults")
	require.NotNil(t, m.remoteModified)
	assert.Equal(t, time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC), m.remoteModified.UTC())
}

func TestMapTaskNoLastModified(t *testing.T) {
	m, err := mapTask(airtable.Record{ID: "recTask002", Fields: map[string]any{"Task": "x"}}, testTenantID)
	require.NoError(t, err)
	assert.Nil(t, m.remoteModified)
}

func TestMapBlockerRequiresTitle(t *testing.T) {
	_, err := mapBlocker(airtable.Record{ID: "recB1", Fields: map[string]any{}}, testTenantID)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "Blocker", mapErr.Field)
}

func TestMapStatusMetric(t *testing.T) {
	rec := airtable.Record{ID: "recS1", Fields: map[string]any{
		"Metric":        "Calls Booked",
		"Value":         "12",
		"Display Order": float64(3),
	}}
	m, err := mapStatusMetric(rec, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "Calls Booked", m.args[2])
	assert.Equal(t, "12", m.args[3])
	assert.Equal(t, "General", m.args[4])
	assert.Equal(t, 3, m.args[5])
}

func TestMapCampaignNameFallback(t *testing.T) {
	m, err := mapCampaign(airtable.Record{ID: "recC1", Fields: map[string]any{
		"Campaign Name": "Q3 Webinar",
		"Type":          "Webinar",
	}}, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, "Q3 Webinar", m.args[2])
	assert.Equal(t, "Webinar", m.args[3])
	assert.Equal(t, true, m.args[5], "unarchived campaign is active")
}

func TestMappingIsDeterministic(t *testing.T) {
	rec := leadRecord(map[string]any{"First Name": "Ada", "ICP Score": float64(42)})
	a, err := mapLead(rec, testTenantID)
	require.NoError(t, err)
	b, err := mapLead(rec, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEntitySpecsOrder(t *testing.T) {
	specs := entitySpecs()
	require.Len(t, specs, 5)
	var names []string
	for _, s := range specs {
		names = append(names, s.name)
	}
	assert.Equal(t, entityOrder(), names)
	assert.True(t, specs[0].tracked, "leads participate in deletion reconciliation")
	assert.True(t, specs[1].guarded, "tasks go through conflict resolution")
	assert.Equal(t, EntityCampaigns, specs[4].name, "campaigns sync last for the backfill")
}
