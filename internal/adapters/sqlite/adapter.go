// Package sqlite provides the SQLite engine adapter, backed by the
// modernc.org driver so deployments stay CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/dialects"

	_ "modernc.org/sqlite" // sqlite driver
)

// Adapter runs datasource queries against a SQLite database.
type Adapter struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect *dialects.Dialect
	path    string
	closed  bool
}

// Open connects to the database behind a sqlite connection URL.
// sqlite:///relative.db and sqlite:////abs/path.db open files;
// sqlite:///:memory: opens an in-memory database pinned to a single
// connection so it survives across statements.
func Open(connectURL string) (adapters.Adapter, error) {
	rest, found := strings.CutPrefix(connectURL, "sqlite://")
	if !found {
		return nil, fmt.Errorf("sqlite: connection URL %q must start with sqlite://", connectURL)
	}
	path := strings.TrimPrefix(rest, "/")
	memory := path == "" || path == ":memory:"
	if memory {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	if memory {
		// Every connection to :memory: gets its own database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	dialect, err := dialects.Get("sqlite")
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db, dialect: dialect, path: path}, nil
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "sqlite" }

// Dialect returns the SQL dialect queries are rendered in.
func (a *Adapter) Dialect() *dialects.Dialect { return a.dialect }

// ConversionDialect names the datetime conversion vocabulary.
func (a *Adapter) ConversionDialect() string { return "sqlite" }

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
		return nil, fmt.Errorf("sqlite: query failed: %w", err)
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
		return fmt.Errorf("sqlite: exec failed: %w", err)
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

// KillQuery is unsupported; sqlite queries stop when their context is
// cancelled.
func (a *Adapter) KillQuery(ctx context.Context, queryID string) error {
	return fmt.Errorf("sqlite: kill query is not supported")
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
		return nil, fmt.Errorf("sqlite: connection is closed")
	}
	return a.db, nil
}
