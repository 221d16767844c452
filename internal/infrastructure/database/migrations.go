package database

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// Migration is one versioned schema change loaded from a pair of files named
// YYYYMMDD_HHMMSS_description.up.sql and .down.sql.
type Migration struct {
	Version  string // YYYYMMDD_HHMMSS
	Name     string // description part of the filename
	UpSQL    string
	DownSQL  string
	Checksum string // hex SHA-256 of UpSQL
}

// MigrationRecord is a row in schema_migrations.
type MigrationRecord struct {
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time

	// Modified is set by GetMigrationStatus when the up file on disk no
	// longer matches what was applied.
	Modified bool
}

// Migrate applies every pending migration in version order.
//
// Each migration runs in its own transaction. When one fails it is rolled
// back, earlier ones stay committed and later ones are not attempted, so
// re-running Migrate after a fix continues from the failed version.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - source: Filesystem holding *.up.sql / *.down.sql at its root; nil means none
//
// Returns:
//   - error: Naming the failed version, if any
func (db *DB) Migrate(ctx context.Context, source fs.FS) error {
	_, pending, err := db.GetMigrationStatus(ctx, source)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(ctx context.Context, source fs.FS) error {
	_, err := db.Rollback(ctx, source, 1)
	return err
}

// Rollback undoes up to steps applied migrations, newest first, and returns
// how many were rolled back. It stops at the first migration that cannot
// be undone.
func (db *DB) Rollback(ctx context.Context, source fs.FS, steps int) (int, error) {
	if err := db.createMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("creating migrations table: %w", err)
	}
	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	migrations, err := loadMigrations(source)
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}
	byVersion := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	done := 0
	for i := len(applied) - 1; i >= 0 && done < steps; i-- {
		version := applied[i].Version
		m, ok := byVersion[version]
		if !ok {
			return done, fmt.Errorf("migration %s not found in filesystem", version)
		}
		if m.DownSQL == "" {
			return done, fmt.Errorf("migration %s has no down SQL", version)
		}
		if err := db.revertMigration(ctx, m); err != nil {
			return done, fmt.Errorf("rolling back migration %s (%s): %w", m.Version, m.Name, err)
		}
		done++
	}
	return done, nil
}

// GetMigrationStatus returns applied migrations (oldest first) and the ones
// still pending. Applied records are flagged Modified when their up file has
// changed since it ran.
func (db *DB) GetMigrationStatus(ctx context.Context, source fs.FS) (applied []MigrationRecord, pending []Migration, err error) {
	if err := db.createMigrationsTable(ctx); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err = db.getAppliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}

	migrations, err := loadMigrations(source)
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	onDisk := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		onDisk[m.Version] = m
	}
	seen := make(map[string]bool, len(applied))
	for i := range applied {
		seen[applied[i].Version] = true
		if m, ok := onDisk[applied[i].Version]; ok && applied[i].Checksum != "" {
			applied[i].Modified = m.Checksum != applied[i].Checksum
		}
	}
	for _, m := range migrations {
		if !seen[m.Version] {
			pending = append(pending, m)
		}
	}

	return applied, pending, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (db *DB) getAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.DB.QueryContext(ctx,
		"SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version",
	)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &r.Name, &r.Checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // written by applyMigration
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return records, nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		m.Version, m.Name, m.Checksum, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

func (db *DB) revertMigration(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
		return fmt.Errorf("executing down SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads the migration files at the root of source, sorted by
// version. Files that do not follow the naming scheme are ignored; a down
// file without its up file is an error.
func loadMigrations(source fs.FS) ([]Migration, error) {
	if source == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	found := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		version, name, isUp, ok := parseMigrationFilename(file)
		if !ok {
			continue
		}
		data, err := fs.ReadFile(source, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}

		m := found[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			found[version] = m
		}
		if isUp {
			m.UpSQL = string(data)
			sum := sha256.Sum256(data)
			m.Checksum = hex.EncodeToString(sum[:])
		} else {
			m.DownSQL = string(data)
		}
	}

	migrations := make([]Migration, 0, len(found))
	for version, m := range found {
		if m.Checksum == "" {
			return nil, fmt.Errorf("down migration %s has no matching up migration", version)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return migrations, nil
}

// parseMigrationFilename splits "20261017_090000_camera_events.up.sql" into
// version "20261017_090000", name "camera_events" and direction.
func parseMigrationFilename(file string) (version, name string, isUp, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", false, false
	}

	if b, up := strings.CutSuffix(base, ".up"); up {
		base, isUp = b, true
	} else if b, down := strings.CutSuffix(base, ".down"); down {
		base = b
	} else {
		return "", "", false, false
	}

	date, rest, found := strings.Cut(base, "_")
	if !found || date == "" {
		return "", "", false, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return "", "", false, false
	}
	return date + "_" + clock, name, isUp, true
}
