package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	sqltool "github.com/quarry-labs/quarry/internal/sql"
	"github.com/quarry-labs/quarry/migrations"
)

// Migration files are written for sqlite; this token is the one piece of
// DDL the two backends spell differently.
const autoincrementColumn = "INTEGER PRIMARY KEY AUTOINCREMENT"

// Migrate applies every pending embedded migration in version order,
// tracked in a schema_migrations table. It is safe to call repeatedly.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("store: creating schema_migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("store: reading applied migrations: %w", err)
	}
	files, err := migrationFiles()
	if err != nil {
		return fmt.Errorf("store: reading migration files: %w", err)
	}

	for _, m := range files {
		if applied[m.version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("store: applying migration %s: %w", m.name, err)
		}
	}
	return nil
}

type migration struct {
	version string
	name    string
	content string
}

func (s *SQLStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at VARCHAR(32) NOT NULL
		)`)
	return err
}

func (s *SQLStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func migrationFiles() ([]migration, error) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return nil, err
	}

	var files []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, _, found := strings.Cut(name, "_")
		if !found {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return nil, err
		}
		files = append(files, migration{
			version: version,
			name:    strings.TrimSuffix(name, ".up.sql"),
			content: string(content),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

func (s *SQLStore) applyMigration(ctx context.Context, m migration) error {
	ddl := m.content
	if s.style == sqltool.PlaceholderDollar {
		ddl = strings.ReplaceAll(ddl, autoincrementColumn, "BIGSERIAL PRIMARY KEY")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
		m.version, now()); err != nil {
		return err
	}
	return tx.Commit()
}
