// Package migrations contains database migration definitions for leadsync.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_tables",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				// Create all tables and indexes in a single transaction
				_, err := tx.Exec(ctx, `
					-- Tenants: one row per client, holding the Airtable base binding
					CREATE TABLE tenants (
						id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
						company_name text NOT NULL,
						airtable_base_id text NOT NULL UNIQUE,
						is_active boolean NOT NULL DEFAULT true,
						last_sync_at timestamp with time zone,
						created_at timestamp with time zone NOT NULL DEFAULT now(),
						updated_at timestamp with time zone NOT NULL DEFAULT now()
					);

					-- Leads: mirror of the Airtable Leads table
					CREATE TABLE leads (
						id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
						tenant_id uuid NOT NULL REFERENCES tenants(id),
						airtable_record_id text NOT NULL,
						first_name text NOT NULL,
						last_name text NOT NULL DEFAULT '',
						email text NOT NULL DEFAULT '',
						phone text,
						company text,
						title text,
						icp_score integer NOT NULL DEFAULT 0,
						status text NOT NULL DEFAULT 'New',
						campaign_id uuid,
						campaign_name text,
						lead_source text,
						form_id text,
						is_active boolean NOT NULL DEFAULT true,
						booked boolean NOT NULL DEFAULT false,
						created_at timestamp with time zone NOT NULL DEFAULT now(),
						updated_at timestamp with time zone NOT NULL DEFAULT now(),
						UNIQUE (tenant_id, airtable_record_id)
					);

					-- Project management entities, locally editable (tasks) or read-only mirrors
					CREATE TABLE project_tasks (
						id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
						tenant_id uuid NOT NULL REFERENCES tenants(id),
						airtable_record_id text NOT NULL,
						task text NOT NULL,
						status text NOT NULL DEFAULT 'Pending',
						priority text NOT NULL DEFAULT 'Medium',
						task_type text NOT NULL DEFAULT 'Task',
						owner text,
						due_date timestamp with time zone,
						notes text,
						created_at timestamp with time zone NOT NULL DEFAULT now(),
						updated_at timestamp with time zone NOT NULL DEFAULT now(),
						UNIQUE (tenant_id, airtable_record_id)
					);

					CREATE TABLE project_blockers (
						id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
						tenant_id uuid NOT NULL REFERENCES tenants(id),
						airtable_record_id text NOT NULL,
						blocker text NOT NULL,
						severity text NOT NULL DEFAULT 'Medium',
						action_to_resolve text,
						status text NOT NULL DEFAULT 'Active',
						resolved_at timestamp with time zone,
						created_at timestamp with time zone NOT NULL DEFAULT now(),
						updated_at timestamp with time zone NOT NULL DEFAULT now(),
						UNIQUE (tenant_id, airtable_record_id)
					);

					CREATE TABLE project_status (
						id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
						tenant_id uuid NOT NULL REFERENCES tenants(id),
						airtable_record_id text NOT NULL,
						metric text NOT NULL,
						value text NOT NULL DEFAULT '',
						category text NOT NULL DEFAULT 'General',
						display_order integer NOT NULL DEFAULT 0,
						created_at timestamp with time zone NOT NULL DEFAULT now(),
						updated_at timestamp with time zone NOT NULL DEFAULT now(),
						UNIQUE (tenant_id, airtable_record_id)
					);

					CREATE TABLE campaigns (
						id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
						tenant_id uuid NOT NULL REFERENCES tenants(id),
						airtable_record_id text NOT NULL,
						name text NOT NULL,
						campaign_type text NOT NULL DEFAULT 'Standard',
						form_id text,
						is_active boolean NOT NULL DEFAULT true,
						total_leads integer NOT NULL DEFAULT 0,
						created_at timestamp with time zone NOT NULL DEFAULT now(),
						updated_at timestamp with time zone NOT NULL DEFAULT now(),
						UNIQUE (tenant_id, airtable_record_id)
					);

					-- Outbound writes queued for delivery back to Airtable.
					-- The conflict resolver treats a pending row here as "local copy
					-- is authoritative" and refuses to overwrite it from upstream.
					CREATE TABLE airtable_sync_queue (
						id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
						tenant_id uuid NOT NULL REFERENCES tenants(id),
						table_name text NOT NULL,
						record_id text NOT NULL,
						operation text NOT NULL,
						payload jsonb NOT NULL,
						status text NOT NULL DEFAULT 'pending',
						attempts integer NOT NULL DEFAULT 0,
						last_error text,
						created_at timestamp with time zone NOT NULL DEFAULT now(),
						updated_at timestamp with time zone NOT NULL DEFAULT now()
					);

					-- Audit trail written in the same transaction as sync deletions
					CREATE TABLE sync_deletion_audit (
						id bigserial PRIMARY KEY,
						tenant_id uuid NOT NULL,
						entity_type text NOT NULL,
						airtable_record_id text NOT NULL,
						deleted_at timestamp with time zone NOT NULL DEFAULT now()
					);

					-- Performance indexes
					CREATE INDEX idx_leads_tenant_airtable ON leads(tenant_id, airtable_record_id);
					CREATE INDEX idx_leads_campaign ON leads(campaign_id);
					CREATE INDEX idx_tasks_tenant ON project_tasks(tenant_id);
					CREATE INDEX idx_blockers_tenant ON project_blockers(tenant_id);
					CREATE INDEX idx_status_tenant ON project_status(tenant_id);
					CREATE INDEX idx_campaigns_tenant ON campaigns(tenant_id);
					CREATE INDEX idx_sync_queue_pending ON airtable_sync_queue(tenant_id, record_id) WHERE status IN ('pending', 'processing');
					CREATE INDEX idx_deletion_audit_tenant ON sync_deletion_audit(tenant_id, deleted_at);
				`)
				return err
			},
		},
		// adding new migration here

		// &migrator.Migration{
		// 	Name: "Short description of a migration",
		// 	Func: func(ctx context.Context, tx pgx.Tx) error {
		// 		...
		// 	},
		// },
	)
}

var (
	migratorInstance *migrator.Migrator
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	var err error
	once.Do(func() {
		migratorInstance, err = migrator.New(
			migrations(),
			migrator.TableName("leadsync_migrations"),
		)
	})
	return migratorInstance, err
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}

	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return needUpgrade, nil
}
