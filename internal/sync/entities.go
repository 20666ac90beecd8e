package sync

import (
	"github.com/google/uuid"

	"github.com/uysp/leadsync/internal/airtable"
)

// entitySpec binds one Airtable table to its local mirror: the source table
// name, the mapper, and the upsert statement whose placeholders line up with
// the mapper's argument order. created_at is written on insert only; every
// conflict update bumps updated_at.
type entitySpec struct {
	name    string
	table   string // Airtable table name
	upsert  string
	mapFn   func(airtable.Record, uuid.UUID) (mappedRecord, error)
	tracked bool // participates in deletion reconciliation
	guarded bool // goes through the conflict resolver before overwrite
}

const upsertLeadSQL = `
	INSERT INTO leads (tenant_id, airtable_record_id, first_name, last_name, email,
		phone, company, title, icp_score, status, campaign_name, lead_source, form_id,
		is_active, booked, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (tenant_id, airtable_record_id) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		email = EXCLUDED.email,
		phone = EXCLUDED.phone,
		company = EXCLUDED.company,
		title = EXCLUDED.title,
		icp_score = EXCLUDED.icp_score,
		status = EXCLUDED.status,
		campaign_name = EXCLUDED.campaign_name,
		lead_source = EXCLUDED.lead_source,
		form_id = EXCLUDED.form_id,
		is_active = EXCLUDED.is_active,
		booked = EXCLUDED.booked,
		updated_at = now()`

const upsertTaskSQL = `
	INSERT INTO project_tasks (tenant_id, airtable_record_id, task, status, priority,
		task_type, owner, due_date, notes, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (tenant_id, airtable_record_id) DO UPDATE SET
		task = EXCLUDED.task,
		status = EXCLUDED.status,
		priority = EXCLUDED.priority,
		task_type = EXCLUDED.task_type,
		owner = EXCLUDED.owner,
		due_date = EXCLUDED.due_date,
		notes = EXCLUDED.notes,
		updated_at = now()`

const upsertBlockerSQL = `
	INSERT INTO project_blockers (tenant_id, airtable_record_id, blocker, severity,
		action_to_resolve, status, resolved_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (tenant_id, airtable_record_id) DO UPDATE SET
		blocker = EXCLUDED.blocker,
		severity = EXCLUDED.severity,
		action_to_resolve = EXCLUDED.action_to_resolve,
		status = EXCLUDED.status,
		resolved_at = EXCLUDED.resolved_at,
		updated_at = now()`

const upsertStatusSQL = `
	INSERT INTO project_status (tenant_id, airtable_record_id, metric, value,
		category, display_order, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (tenant_id, airtable_record_id) DO UPDATE SET
		metric = EXCLUDED.metric,
		value = EXCLUDED.value,
		category = EXCLUDED.category,
		display_order = EXCLUDED.display_order,
		updated_at = now()`

const upsertCampaignSQL = `
	INSERT INTO campaigns (tenant_id, airtable_record_id, name, campaign_type,
		form_id, is_active, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (tenant_id, airtable_record_id) DO UPDATE SET
		name = EXCLUDED.name,
		campaign_type = EXCLUDED.campaign_type,
		form_id = EXCLUDED.form_id,
		is_active = EXCLUDED.is_active,
		updated_at = now()`

// entitySpecs returns all entity types in sync order. Campaigns run last so
// the FK backfill sees the freshest campaign rows.
func entitySpecs() []entitySpec {
	return []entitySpec{
		{name: EntityLeads, table: "Leads", upsert: upsertLeadSQL, mapFn: mapLead, tracked: true},
		{name: EntityTasks, table: "Tasks", upsert: upsertTaskSQL, mapFn: mapTask, guarded: true},
		{name: EntityBlockers, table: "Blockers", upsert: upsertBlockerSQL, mapFn: mapBlocker},
		{name: EntityStatus, table: "Project_Status", upsert: upsertStatusSQL, mapFn: mapStatusMetric},
		{name: EntityCampaigns, table: "Campaigns", upsert: upsertCampaignSQL, mapFn: mapCampaign},
	}
}

func entityOrder() []string {
	return []string{EntityLeads, EntityTasks, EntityBlockers, EntityStatus, EntityCampaigns}
}
