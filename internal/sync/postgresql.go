package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/uysp/leadsync/internal/db"
)

// Tenant is one client account with its external base binding.
type Tenant struct {
	ID             uuid.UUID
	CompanyName    string
	AirtableBaseID string
	IsActive       bool
	LastSyncAt     *time.Time
}

func getTenant(ctx context.Context, pool db.PgxIface, tenantID uuid.UUID) (*Tenant, error) {
	t := &Tenant{}
	err := pool.QueryRow(ctx,
		"SELECT id, company_name, airtable_base_id, is_active, last_sync_at FROM tenants WHERE id = $1",
		tenantID).Scan(&t.ID, &t.CompanyName, &t.AirtableBaseID, &t.IsActive, &t.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "tenant", ID: tenantID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	if t.AirtableBaseID == "" {
		return nil, &NotFoundError{Resource: "airtable base for tenant", ID: tenantID.String()}
	}
	return t, nil
}

func localLeadIDs(ctx context.Context, pool db.PgxIface, tenantID uuid.UUID) ([]string, error) {
	rows, err := pool.Query(ctx, "SELECT airtable_record_id FROM leads WHERE tenant_id = $1", tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// markTenantSynced advances the tenant watermark after a run that completed
// its pull, whether fully or partially.
func markTenantSynced(ctx context.Context, pool db.PgxIface, tenantID uuid.UUID) error {
	_, err := pool.Exec(ctx,
		"UPDATE tenants SET last_sync_at = now(), updated_at = now() WHERE id = $1", tenantID)
	if err != nil {
		return fmt.Errorf("failed to update tenant watermark: %w", err)
	}
	return nil
}

// The portal stores the campaign reference on leads as loose text in three
// historical shapes. Backfill resolves them to the campaigns FK in priority
// order; each statement only touches rows the previous ones left unlinked.
var backfillStatements = []struct {
	field string
	sql   string
}{
	{"campaign_name", `
		UPDATE leads l SET campaign_id = c.id, updated_at = now()
		FROM campaigns c
		WHERE l.tenant_id = $1 AND c.tenant_id = $1
		  AND l.campaign_id IS NULL AND l.is_active
		  AND l.campaign_name = c.id::text`},
	{"lead_source", `
		UPDATE leads l SET campaign_id = c.id, updated_at = now()
		FROM campaigns c
		WHERE l.tenant_id = $1 AND c.tenant_id = $1
		  AND l.campaign_id IS NULL AND l.is_active
		  AND l.lead_source = c.name`},
	{"form_id", `
		UPDATE leads l SET campaign_id = c.id, updated_at = now()
		FROM campaigns c
		WHERE l.tenant_id = $1 AND c.tenant_id = $1
		  AND l.campaign_id IS NULL AND l.is_active
		  AND l.form_id = c.form_id AND c.campaign_type = 'Webinar'`},
}

func backfillCampaignLinks(ctx context.Context, pool db.PgxIface, tenantID uuid.UUID) (*BackfillReport, error) {
	report := &BackfillReport{}
	targets := []*int64{&report.MatchedByCampaignName, &report.MatchedByLeadSource, &report.MatchedByFormID}
	for i, stmt := range backfillStatements {
		tag, err := pool.Exec(ctx, stmt.sql, tenantID)
		if err != nil {
			return report, fmt.Errorf("campaign backfill by %s failed: %w", stmt.field, err)
		}
		*targets[i] = tag.RowsAffected()
	}
	return report, nil
}

func refreshCampaignAggregates(ctx context.Context, pool db.PgxIface, tenantID uuid.UUID) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE campaigns c SET total_leads = (
			SELECT count(*) FROM leads l
			WHERE l.tenant_id = c.tenant_id AND l.campaign_id = c.id AND l.is_active
		), updated_at = now()
		WHERE c.tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh campaign aggregates: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SyncStatus is the tenant watermark plus the current mirror size, for
// health checks and tooling.
type SyncStatus struct {
	LastSyncAt *time.Time `json:"lastSyncAt"`
	LeadCount  int        `json:"leadCount"`
}

// LastSyncStatus returns when the tenant last synced and how many lead rows
// the mirror holds now.
func LastSyncStatus(ctx context.Context, pool db.PgxIface, tenantID uuid.UUID) (*SyncStatus, error) {
	t, err := getTenant(ctx, pool, tenantID)
	if err != nil {
		return nil, err
	}
	status := &SyncStatus{LastSyncAt: t.LastSyncAt}
	err = pool.QueryRow(ctx, "SELECT count(*) FROM leads WHERE tenant_id = $1", tenantID).Scan(&status.LeadCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count leads for tenant %s: %w", tenantID, err)
	}
	return status, nil
}
