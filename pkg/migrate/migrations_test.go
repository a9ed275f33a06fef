package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/entitlements-backend/pkg/db/dbtest"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"create_subscription_plans_table": {
			"CREATE TABLE IF NOT EXISTS subscription_plans",
			"ux_subscription_plans_single_default",
			"CHECK (billing_period IN ('monthly', 'quarterly', 'yearly', 'custom'))",
			"CHECK (limit_value >= -1)",
			"UNIQUE (plan_id, currency)",
			"DROP TABLE IF EXISTS subscription_plans",
		},
		"create_organization_subscriptions_table": {
			"CHECK (status IN ('trial', 'active', 'grace', 'readonly', 'expired', 'cancelled'))",
			"idx_organization_subscriptions_current",
			"DROP TABLE IF EXISTS organization_subscriptions",
		},
		"create_usage_tables": {
			"UNIQUE (organization_id, resource_key)",
			"CHECK (current_count >= 0)",
			"PRIMARY KEY (organization_id, resource_key)",
		},
		"create_outbox_tables": {
			"CONSTRAINT ux_outbox_events_event_aggregate UNIQUE (event_type, aggregate_type, aggregate_id)",
			"ux_outbox_dlq_event_id",
			"DROP TABLE IF EXISTS outbox_events",
		},
	}
	for suffix, checks := range cases {
		content := readMigration(t, suffix)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
	}
}

func TestEmbeddedMigrationsMatchTree(t *testing.T) {
	embedded, err := migrate.Source("")
	if err != nil {
		t.Fatalf("embedded source: %v", err)
	}
	if err := migrate.Validate(embedded); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
	onDisk, err := migrate.Source("migrations")
	if err != nil {
		t.Fatalf("disk source: %v", err)
	}
	want, _ := fs.Glob(onDisk, "*.sql")
	got, _ := fs.Glob(embedded, "*.sql")
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("embedded %v, on disk %v", got, want)
	}

	pool, err := dbtest.Open(t).DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	runner, err := migrate.NewRunner(pool, embedded)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	versions := runner.Versions()
	if len(versions) != len(want) || versions[0] != 20260301090000 {
		t.Fatalf("unexpected versions %v", versions)
	}
}

func TestSourceRejectsMissingDir(t *testing.T) {
	if _, err := migrate.Source(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestValidateReportsEveryBadFile(t *testing.T) {
	ok := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	migrations := fstest.MapFS{
		"badname.sql":                       {Data: []byte(ok)},
		"20260101000000_missing_down.sql":   {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		"20260101000001_missing_header.sql": {Data: []byte("SELECT 1;\n")},
		"20260101000002_a.sql":              {Data: []byte(ok)},
		"20260101000002_b.sql":              {Data: []byte(ok)},
		"20260101000003_unbalanced.sql":     {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
		"20260101000004_down_first.sql":     {Data: []byte("-- +goose Down\n-- +goose Up\n")},
		"20260101000005_fine.sql":           {Data: []byte(ok)},
		"README.md":                         {Data: []byte("not a migration")},
	}
	err := migrate.Validate(migrations)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{"badname.sql", "missing_down", "missing_header", "duplicate version 20260101000002", "1 StatementBegin but 0 StatementEnd", "down section precedes"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("missing %q in %v", fragment, err)
		}
	}
	if strings.Contains(err.Error(), "fine") {
		t.Errorf("valid file reported: %v", err)
	}
}

func TestCreateSQLMigrationProducesValidFile(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Plan Archive!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_plan_archive.sql") {
		t.Fatalf("unexpected file name %q", path)
	}
	if err := migrate.Validate(os.DirFS(dir)); err != nil {
		t.Fatalf("generated migration fails validation: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for unusable name")
	}
}
