// Package duckdb provides the DuckDB engine adapter.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/dialects"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter runs datasource queries against a DuckDB database.
type Adapter struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect *dialects.Dialect
	path    string
	closed  bool
}

// Open connects to the database behind a duckdb connection URL.
// duckdb:///analytics.db opens a file; duckdb:// opens an in-memory
// database pinned to a single connection, since each driver connection
// to an empty DSN would otherwise get its own database.
func Open(connectURL string) (adapters.Adapter, error) {
	rest, found := strings.CutPrefix(connectURL, "duckdb://")
	if !found {
		return nil, fmt.Errorf("duckdb: connection URL %q must start with duckdb://", connectURL)
	}
	path := strings.TrimPrefix(rest, "/")
	memory := path == "" || path == ":memory:"
	if memory {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb: opening %s: %w", path, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	dialect, err := dialects.Get("duckdb")
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db, dialect: dialect, path: path}, nil
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "duckdb" }

// Dialect returns the SQL dialect queries are rendered in.
func (a *Adapter) Dialect() *dialects.Dialect { return a.dialect }

// ConversionDialect names the datetime conversion vocabulary.
func (a *Adapter) ConversionDialect() string { return "duckdb" }

// Capabilities returns the engine's feature set.
func (a *Adapter) Capabilities() dialects.CapabilitySet { return a.dialect.Capabilities }

// Query runs a query and materializes the result.
func (a *Adapter) Query(ctx context.Context, query string, args ...interface{}) (*adapters.QueryResult, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: query failed: %w", err)
	}
	defer rows.Close()
	return adapters.ScanRows(ctx, rows)
}

// Exec runs a statement that returns no rows.
func (a *Adapter) Exec(ctx context.Context, query string, args ...interface{}) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("duckdb: exec failed: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// KillQuery is unsupported; duckdb queries stop when their context is
// cancelled.
func (a *Adapter) KillQuery(ctx context.Context, queryID string) error {
	return fmt.Errorf("duckdb: kill query is not supported")
}

// Close releases the database. Close is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

func (a *Adapter) handle() (*sql.DB, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, fmt.Errorf("duckdb: connection is closed")
	}
	return a.db, nil
}
