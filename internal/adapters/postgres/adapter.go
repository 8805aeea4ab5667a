// Package postgres provides the PostgreSQL engine adapter.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/dialects"

	_ "github.com/lib/pq" // postgres driver
)

// Adapter runs datasource queries against a PostgreSQL server.
type Adapter struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect *dialects.Dialect
	closed  bool
}

// Open connects to the server behind a postgres:// or postgresql://
// connection URL. The URL is handed to the driver as-is.
func Open(connectURL string) (adapters.Adapter, error) {
	if !strings.HasPrefix(connectURL, "postgres://") && !strings.HasPrefix(connectURL, "postgresql://") {
		return nil, fmt.Errorf("postgres: connection URL %q must start with postgres:// or postgresql://", connectURL)
	}

	db, err := sql.Open("postgres", connectURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	dialect, err := dialects.Get("postgresql")
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db, dialect: dialect}, nil
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "postgresql" }

// Dialect returns the SQL dialect queries are rendered in.
func (a *Adapter) Dialect() *dialects.Dialect { return a.dialect }

// ConversionDialect names the datetime conversion vocabulary.
func (a *Adapter) ConversionDialect() string { return "postgresql" }

// Capabilities returns the engine's feature set.
func (a *Adapter) Capabilities() dialects.CapabilitySet { return a.dialect.Capabilities }

// Query runs a query and materializes the result. When the caller
// captures query ids, the query runs on a pinned connection whose
// backend pid is reported first, so KillQuery can cancel it.
func (a *Adapter) Query(ctx context.Context, query string, args ...interface{}) (*adapters.QueryResult, error) {
	db, err := a.handle()
	if err != nil {
		return nil, err
	}
	if !adapters.CapturesQueryID(ctx) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("postgres: query failed: %w", err)
		}
		defer rows.Close()
		return adapters.ScanRows(ctx, rows)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: checking out connection: %w", err)
	}
	defer conn.Close()
	var pid int64
	if err := conn.QueryRowContext(ctx, "SELECT pg_backend_pid()").Scan(&pid); err == nil {
		adapters.NotifyQueryID(ctx, strconv.FormatInt(pid, 10))
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query failed: %w", err)
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
		return fmt.Errorf("postgres: exec failed: %w", err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// KillQuery cancels a running backend by pid.
func (a *Adapter) KillQuery(ctx context.Context, queryID string) error {
	pid, err := strconv.Atoi(queryID)
	if err != nil {
		return fmt.Errorf("postgres: query id must be a backend pid, got %q", queryID)
	}
	db, err := a.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "SELECT pg_cancel_backend($1)", pid); err != nil {
		return fmt.Errorf("postgres: cancelling backend %d: %w", pid, err)
	}
	return nil
}

// Close releases the connection pool. Close is idempotent.
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
		return nil, fmt.Errorf("postgres: connection is closed")
	}
	return a.db, nil
}
