// Package dbtest opens isolated in-memory SQLite databases carrying the
// entitlement schema, for repository and sweep tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  slug TEXT NOT NULL UNIQUE,
  settings TEXT,
  additional_schools INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS subscription_plans (
  id TEXT PRIMARY KEY,
  slug TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  description TEXT,
  sort_order INTEGER NOT NULL UNIQUE,
  is_active INTEGER NOT NULL DEFAULT 1,
  is_default INTEGER NOT NULL DEFAULT 0,
  is_custom INTEGER NOT NULL DEFAULT 0,
  trial_days INTEGER NOT NULL DEFAULT 0,
  grace_period_days INTEGER NOT NULL DEFAULT 14,
  readonly_period_days INTEGER NOT NULL DEFAULT 60,
  max_schools INTEGER NOT NULL DEFAULT 1,
  billing_period TEXT NOT NULL DEFAULT 'yearly',
  custom_billing_days INTEGER,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS plan_fees (
  id TEXT PRIMARY KEY,
  plan_id TEXT NOT NULL,
  currency TEXT NOT NULL,
  license_fee TEXT NOT NULL DEFAULT '0',
  maintenance_fee TEXT NOT NULL DEFAULT '0',
  per_school_maintenance_fee TEXT NOT NULL DEFAULT '0',
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (plan_id, currency)
);`,
	`CREATE TABLE IF NOT EXISTS plan_features (
  id TEXT PRIMARY KEY,
  plan_id TEXT NOT NULL,
  feature_key TEXT NOT NULL,
  is_enabled INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (plan_id, feature_key)
);`,
	`CREATE TABLE IF NOT EXISTS plan_limits (
  id TEXT PRIMARY KEY,
  plan_id TEXT NOT NULL,
  resource_key TEXT NOT NULL,
  limit_value INTEGER NOT NULL DEFAULT -1,
  warning_threshold INTEGER NOT NULL DEFAULT 80,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (plan_id, resource_key)
);`,
	`CREATE TABLE IF NOT EXISTS organization_subscriptions (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at DATETIME NOT NULL,
  expires_at DATETIME,
  currency TEXT NOT NULL DEFAULT 'AFN',
  additional_schools INTEGER NOT NULL DEFAULT 0,
  cancelled_at DATETIME,
  cancellation_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS subscription_history (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  subscription_id TEXT,
  action TEXT NOT NULL,
  from_plan_id TEXT,
  to_plan_id TEXT,
  from_status TEXT,
  to_status TEXT,
  actor_kind TEXT NOT NULL,
  actor_id TEXT,
  notes TEXT NOT NULL DEFAULT '',
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS organization_limit_overrides (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  resource_key TEXT NOT NULL,
  limit_value INTEGER NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (organization_id, resource_key)
);`,
	`CREATE TABLE IF NOT EXISTS usage_counters (
  organization_id TEXT NOT NULL,
  resource_key TEXT NOT NULL,
  current_count INTEGER NOT NULL DEFAULT 0,
  period_start DATETIME,
  period_end DATETIME,
  updated_at DATETIME NOT NULL,
  PRIMARY KEY (organization_id, resource_key)
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  CONSTRAINT ux_outbox_events_event_aggregate UNIQUE (event_type, aggregate_type, aggregate_id)
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// CountedTables are the domain tables the usage recalculation counts. Tests
// create them on demand with CreateCountedTable.
const countedTableDDL = `CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  deleted_at DATETIME
);`

// Open returns a fresh database private to the calling test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// a single connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

// CreateCountedTable creates a minimal soft-deletable table keyed by organization.
func CreateCountedTable(t testing.TB, db *gorm.DB, table string) {
	t.Helper()
	if err := db.Exec(fmt.Sprintf(countedTableDDL, table)).Error; err != nil {
		t.Fatalf("create counted table %s: %v", table, err)
	}
}

// InsertCountedRows adds n live rows for the organization to a counted table.
func InsertCountedRows(t testing.TB, db *gorm.DB, table string, organizationID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		stmt := fmt.Sprintf("INSERT INTO %s (id, organization_id) VALUES (?, ?)", table)
		if err := db.Exec(stmt, uuid.NewString(), organizationID.String()).Error; err != nil {
			t.Fatalf("insert into %s: %v", table, err)
		}
	}
}
