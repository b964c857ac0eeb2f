package migrate_test

import (
	"testing"

	"archon/internal/db"
	"archon/internal/migrate"
)

func TestMigrateRecordsVersions(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v < 1 {
		t.Fatalf("version = %d, want >= 1", v)
	}

	var name, appliedAt string
	err = conn.QueryRow(`SELECT name, applied_at FROM schema_migrations WHERE version = ?`, v).Scan(&name, &appliedAt)
	if err != nil {
		t.Fatalf("ledger row: %v", err)
	}
	if name == "" || appliedAt == "" {
		t.Fatalf("ledger row incomplete: name=%q applied_at=%q", name, appliedAt)
	}

	// Re-running must be a no-op, not a re-apply.
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var rows int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != v {
		t.Fatalf("ledger rows = %d, want %d", rows, v)
	}
}
