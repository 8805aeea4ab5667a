// Package combined owns the per-report scratch database: one in-memory
// SQLite instance that every plan result loads into, and the combining
// query that joins the loaded tables back together on the report grain.
package combined

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // scratch engine driver

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/planner"
)

// sqlite caps bind parameters per statement; stay under the strictest
// compile-time default.
const maxStatementParams = 999

// DB is one report's scratch database. The in-memory database is pinned
// to a single connection so loaded tables survive across statements.
type DB struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open creates an empty scratch database.
func Open() (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("combined: opening scratch database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return &DB{db: db}, nil
}

// CreateTable creates a plan's landing table from its ingest schema and
// indexes the grain columns the combining query joins on.
func (c *DB) CreateTable(ctx context.Context, table string, cols []planner.IngestColumn) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("combined: table %s has no columns", table)
	}

	decls := make([]string, 0, len(cols))
	var dims []string
	for _, col := range cols {
		decls = append(decls, quoteIdent(col.Name)+" "+typeDecl(col.Type))
		if col.Dimension {
			dims = append(dims, quoteIdent(col.Name))
		}
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(decls, ", "))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("combined: creating table %s: %w", table, err)
	}
	if len(dims) > 0 {
		idx := fmt.Sprintf("CREATE INDEX %s_grain ON %s (%s)",
			table, table, strings.Join(dims, ", "))
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("combined: indexing table %s: %w", table, err)
		}
	}
	return nil
}

// InsertRows loads one chunk of plan rows into a landing table inside a
// transaction, splitting into multi-row inserts under the statement
// parameter cap.
func (c *DB) InsertRows(ctx context.Context, table string, cols []planner.IngestColumn, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	db, err := c.handle()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("combined: table %s expects %d columns, row has %d",
				table, len(cols), len(row))
		}
	}

	chunk := maxStatementParams / len(cols)
	if chunk < 1 {
		chunk = 1
	}

	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdent(col.Name)
	}
	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("combined: beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		groups := make([]string, len(batch))
		args := make([]interface{}, 0, len(batch)*len(cols))
		for i, row := range batch {
			groups[i] = group
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, prefix+strings.Join(groups, ", "), args...); err != nil {
			return fmt.Errorf("combined: loading table %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Query runs a statement against the scratch database and materializes
// the result.
func (c *DB) Query(ctx context.Context, query string, args ...interface{}) (*adapters.QueryResult, error) {
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("combined: query failed: %w", err)
	}
	defer rows.Close()
	return adapters.ScanRows(ctx, rows)
}

// Close releases the scratch database. Close is idempotent.
func (c *DB) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

func (c *DB) handle() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("combined: scratch database is closed")
	}
	return c.db, nil
}
