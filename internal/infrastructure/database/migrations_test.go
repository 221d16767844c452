package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/nerrad567/gray-logic-camera/migrations"
)

// testMigrations is a single create/drop pair.
var testMigrations = fstest.MapFS{
	"20260118_120000_create_users.up.sql": {
		Data: []byte("CREATE TABLE test_users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
	},
	"20260118_120000_create_users.down.sql": {
		Data: []byte("DROP TABLE test_users;"),
	},
	"README.md": {Data: []byte("ignored")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "test_users") {
		t.Fatal("table test_users not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("expected 1 applied migration, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrate_Ordering verifies migrations apply oldest first.
func TestMigrate_Ordering(t *testing.T) {
	source := fstest.MapFS{
		"20260201_000000_add_column.up.sql": {
			Data: []byte("ALTER TABLE items ADD COLUMN label TEXT;"),
		},
		"20260101_000000_create_items.up.sql": {
			Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY);"),
		},
	}

	db := openTestDB(t)

	if err := db.Migrate(context.Background(), source); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.ExecContext(context.Background(), "INSERT INTO items (label) VALUES (?)", "x"); err != nil {
		t.Errorf("column from second migration missing: %v", err)
	}
}

// TestMigrate_FailureStopsBatch verifies a failing migration is rolled back
// and later ones are not attempted.
func TestMigrate_FailureStopsBatch(t *testing.T) {
	source := fstest.MapFS{
		"20260101_000000_good.up.sql":  {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260102_000000_bad.up.sql":   {Data: []byte("CREATE TABLE bad (id INTEGER); NOT SQL;")},
		"20260103_000000_later.up.sql": {Data: []byte("CREATE TABLE later (id INTEGER);")},
	}

	db := openTestDB(t)

	err := db.Migrate(context.Background(), source)
	if err == nil || !strings.Contains(err.Error(), "20260102_000000") {
		t.Fatalf("Migrate() error = %v, want failure naming the bad migration", err)
	}
	if !tableExists(t, db, "good") {
		t.Error("earlier migration should stay committed")
	}
	if tableExists(t, db, "bad") {
		t.Error("failed migration should be rolled back")
	}
	if tableExists(t, db, "later") {
		t.Error("migrations after the failure should not run")
	}
}

// TestMigrate_OrphanDownFile verifies a down file needs a matching up file.
func TestMigrate_OrphanDownFile(t *testing.T) {
	source := fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	}

	db := openTestDB(t)

	if err := db.Migrate(context.Background(), source); err == nil {
		t.Error("Migrate() expected error for orphan down file")
	}
}

// TestMigrateDown verifies migration rollback.
func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx, testMigrations); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_users") {
		t.Error("table test_users should have been dropped")
	}

	applied, _, err := db.GetMigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied migrations after rollback, got %d", len(applied))
	}
}

// TestMigrateNoMigrations verifies behaviour with no migrations.
func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)

	ctx := context.Background()

	if err := db.Migrate(ctx, nil); err != nil {
		t.Fatalf("Migrate(nil) error = %v", err)
	}
	if err := db.Migrate(ctx, fstest.MapFS{}); err != nil {
		t.Fatalf("Migrate(empty) error = %v", err)
	}
}

// TestGetMigrationStatus verifies status reporting.
func TestGetMigrationStatus(t *testing.T) {
	db := openTestDB(t)

	applied, pending, err := db.GetMigrationStatus(context.Background(), testMigrations)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied, got %d", len(applied))
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending, got %d", len(pending))
	}
}

// TestEmbeddedMigrations applies the shipped schema up and fully down.
func TestEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)

	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(migrations.FS) error = %v", err)
	}
	if !tableExists(t, db, "camera_events") {
		t.Fatal("camera_events not created")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO camera_events (id, type, camera_index, state, created_at, snapshot_bytes)
		 VALUES ('evt-1', 'snapshot', 0, 'active', '2026-10-17T09:00:00Z', 1024)`,
	); err != nil {
		t.Fatalf("insert into migrated schema: %v", err)
	}

	applied, _, err := db.GetMigrationStatus(ctx, migrations.FS)
	if err != nil {
		t.Fatal(err)
	}
	for range applied {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	if tableExists(t, db, "camera_events") {
		t.Error("camera_events should be dropped after full rollback")
	}
}

// TestRollback_Steps verifies multi-step rollback stops at the requested count.
func TestRollback_Steps(t *testing.T) {
	source := fstest.MapFS{
		"20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER);")},
		"20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER);")},
		"20260102_000000_second.down.sql": {Data: []byte("DROP TABLE second;")},
		"20260103_000000_third.up.sql":    {Data: []byte("CREATE TABLE third (id INTEGER);")},
	}

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, source); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// third has no down SQL, so nothing can be rolled back past it.
	n, err := db.Rollback(ctx, source, 2)
	if err == nil || n != 0 {
		t.Fatalf("Rollback() = %d, %v; want 0 and an error for missing down SQL", n, err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = '20260103_000000'"); err != nil {
		t.Fatal(err)
	}
	n, err = db.Rollback(ctx, source, 5)
	if err != nil || n != 2 {
		t.Fatalf("Rollback() = %d, %v; want 2, nil", n, err)
	}
	if tableExists(t, db, "first") || tableExists(t, db, "second") {
		t.Error("rolled back tables still exist")
	}
}

// TestGetMigrationStatus_Modified verifies checksum drift is reported.
func TestGetMigrationStatus_Modified(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, testMigrations); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	applied, _, err := db.GetMigrationStatus(ctx, testMigrations)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 1 || applied[0].Modified || applied[0].Name != "create_users" {
		t.Fatalf("applied = %+v, want one unmodified create_users", applied)
	}

	edited := fstest.MapFS{
		"20260118_120000_create_users.up.sql": {
			Data: []byte("CREATE TABLE test_users (id INTEGER PRIMARY KEY);"),
		},
	}
	applied, pending, err := db.GetMigrationStatus(ctx, edited)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if !applied[0].Modified {
		t.Error("edited up file not reported as modified")
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", "create_users", true, true},
		{"20261017_090000_camera_events.down.sql", "20261017_090000", "camera_events", false, true},
		{"20260118_120000_add_email_to_users.up.sql", "20260118_120000", "add_email_to_users", true, true},
		{"20260118_120000.up.sql", "20260118_120000", "", true, true},
		{"readme.txt", "", "", false, false},
		{"20260118_120000_create_users.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v; want %q, %q, %v",
					tt.filename, version, name, isUp, tt.wantVersion, tt.wantName, tt.wantIsUp)
			}
		})
	}
}
