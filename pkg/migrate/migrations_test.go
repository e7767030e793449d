package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/materialflow/pkg/migrate"
)

func TestComponentLineMigrationContainsLedgerConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_component_lines.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no component line migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS component_lines",
		"UNIQUE (order_number, mpn, lineage_id)",
		"CHECK (passed_qty + failed_qty <= received_qty)",
		"CHECK (received_qty + reordered_qty + short_closed_qty <= ordered_qty)",
		"CHECK (returned_qty + written_off_qty <= failed_qty)",
		"DROP TABLE IF EXISTS component_lines",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Migrations()); err != nil {
		t.Fatalf("validate embedded: %v", err)
	}
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate dir: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "create_things.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename error")
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Supplier Index")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_supplier_index.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("validate created: %v", err)
	}
}

func TestRunAppliesMigrationsOnSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migrate_run?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	if err := migrate.Run(ctx, sqlDB, conn.Dialector.Name(), "up"); err != nil {
		t.Fatalf("goose up: %v", err)
	}

	for _, table := range []string{
		"component_lines", "sequence_counters", "spawn_records", "approval_chains",
		"approval_slots", "ledger_movements", "quality_checkpoints", "outbox_events", "outbox_dlq",
	} {
		if !conn.Migrator().HasTable(table) {
			t.Errorf("expected table %s", table)
		}
	}

	var seeded int64
	if err := conn.Table("quality_checkpoints").Count(&seeded).Error; err != nil {
		t.Fatalf("count checkpoints: %v", err)
	}
	if seeded == 0 {
		t.Fatalf("expected seeded checkpoints")
	}

	if err := migrate.Run(ctx, sqlDB, "sqlite", "reset"); err != nil {
		t.Fatalf("goose reset: %v", err)
	}
	if conn.Migrator().HasTable("component_lines") {
		t.Fatalf("component_lines should be dropped after reset")
	}
}

func TestGooseDialectRejectsUnknown(t *testing.T) {
	if _, err := migrate.GooseDialect("mysql"); err == nil {
		t.Fatalf("expected error for mysql")
	}
}

func TestValidateDirReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"20261001090000_first.sql":  "-- +goose Up\n",
		"20261001090000_second.sql": "-- +goose Up\n-- +goose Down\n",
		"notes.sql":                 "",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	err := migrate.ValidateDir(dir)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"missing \"-- +goose Down\"", "already used", "notes.sql"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q should mention %q", err.Error(), want)
		}
	}
}
