package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeMigrations(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("%s - write %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestLoadMigrationFiles_EmbeddedDispatchLog(t *testing.T) {
	files, err := LoadMigrationFiles("")
	if err != nil {
		t.Fatalf("%s - embedded: %v", migrationsTestPrefix, err)
	}
	if len(files) != 2 {
		t.Fatalf("%s - got %d embedded migrations, want 2", migrationsTestPrefix, len(files))
	}
	if !strings.Contains(files[0], "CREATE TABLE IF NOT EXISTS dispatch_log") {
		t.Errorf("%s - 0001 should create dispatch_log", migrationsTestPrefix)
	}
	for _, col := range []string{"request_id", "queue_group", "outcome", "replied", "duration_ms"} {
		if !strings.Contains(files[0], col) {
			t.Errorf("%s - dispatch_log missing column %s", migrationsTestPrefix, col)
		}
	}
	if !strings.Contains(files[1], "CREATE UNIQUE INDEX IF NOT EXISTS idx_dispatch_log_request_id") {
		t.Errorf("%s - 0002 should add the request_id unique index", migrationsTestPrefix)
	}
}

func TestLoadMigrationFiles_OverrideDirSortedByName(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0010_archive.sql":      "CREATE TABLE dispatch_archive ();",
		"0002_request_id.sql":   "CREATE UNIQUE INDEX idx ON dispatch_log (request_id);",
		"0001_dispatch_log.sql": "CREATE TABLE dispatch_log ();",
	})

	files, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - override dir: %v", migrationsTestPrefix, err)
	}
	want := []string{
		"CREATE TABLE dispatch_log ();",
		"CREATE UNIQUE INDEX idx ON dispatch_log (request_id);",
		"CREATE TABLE dispatch_archive ();",
	}
	if len(files) != len(want) {
		t.Fatalf("%s - got %d files, want %d", migrationsTestPrefix, len(files), len(want))
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("%s - file %d = %q, want %q", migrationsTestPrefix, i, files[i], want[i])
		}
	}
}

func TestLoadMigrationFiles_OnlyTopLevelSQL(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0001_dispatch_log.sql": "CREATE TABLE dispatch_log ();",
		"README.md":             "# dispatch log schema",
		"0002_seed.sql.bak":     "INSERT INTO dispatch_log DEFAULT VALUES;",
	})
	if err := os.Mkdir(filepath.Join(dir, "rollback.sql"), 0o755); err != nil {
		t.Fatalf("%s - mkdir: %v", migrationsTestPrefix, err)
	}
	writeMigrations(t, filepath.Join(dir, "rollback.sql"), map[string]string{
		"0001_down.sql": "DROP TABLE dispatch_log;",
	})

	files, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - load: %v", migrationsTestPrefix, err)
	}
	if len(files) != 1 || files[0] != "CREATE TABLE dispatch_log ();" {
		t.Errorf("%s - files = %q, want only 0001_dispatch_log.sql", migrationsTestPrefix, files)
	}
}

func TestLoadMigrationFiles_EmptyOverrideDir(t *testing.T) {
	files, err := LoadMigrationFiles(t.TempDir())
	if err != nil {
		t.Fatalf("%s - empty dir: %v", migrationsTestPrefix, err)
	}
	if len(files) != 0 {
		t.Errorf("%s - got %d files from empty dir", migrationsTestPrefix, len(files))
	}
}

func TestLoadMigrationFiles_MissingOverrideDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "migrations")
	_, err := LoadMigrationFiles(missing)
	if err == nil {
		t.Fatalf("%s - expected error for missing MIGRATION_PATH", migrationsTestPrefix)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("%s - error should name the directory: %v", migrationsTestPrefix, err)
	}
}
