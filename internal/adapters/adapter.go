// Package adapters connects datasources to their engines. Each engine
// family lives in its own subpackage and is registered under the URL
// scheme of the connection strings it accepts.
package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/quarry-labs/quarry/internal/dialects"
)

// QueryResult is a fully materialized query result.
type QueryResult struct {
	// Columns are the column names in result order.
	Columns []string

	// Rows are the result rows, one value slice per row.
	Rows [][]interface{}

	// RowCount is the number of rows returned.
	RowCount int
}

// Adapter is one open engine connection serving a datasource. Adapters
// are thin: they translate connection URLs, run SQL, and report the
// dialect queries must be rendered in. They never retry on their own.
type Adapter interface {
	// Name returns the engine name.
	Name() string

	// Dialect returns the SQL dialect queries are rendered in.
	Dialect() *dialects.Dialect

	// ConversionDialect names the datetime conversion vocabulary for
	// this engine. Engines without their own vocabulary borrow one
	// (redshift reads postgresql's).
	ConversionDialect() string

	// Capabilities returns the engine's feature set.
	Capabilities() dialects.CapabilitySet

	// Query runs a query and materializes the result.
	Query(ctx context.Context, query string, args ...interface{}) (*QueryResult, error)

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...interface{}) error

	// Ping checks that the engine is reachable.
	Ping(ctx context.Context) error

	// KillQuery makes a best-effort attempt to stop a running query by
	// its engine-side id. Engines without a kill mechanism return an
	// error; in-flight queries still stop when their context is
	// cancelled.
	KillQuery(ctx context.Context, queryID string) error

	// Close releases the connection. Close is idempotent.
	Close() error
}

type queryIDCaptureKey struct{}

// WithQueryIDCapture registers a callback invoked with the engine-side
// id of each query started under the returned context. The ids feed
// KillQuery. Engines that never learn an id never call back.
func WithQueryIDCapture(ctx context.Context, capture func(queryID string)) context.Context {
	return context.WithValue(ctx, queryIDCaptureKey{}, capture)
}

// CapturesQueryID reports whether a query id capture callback is
// registered, letting adapters skip the extra round trip capture can
// cost.
func CapturesQueryID(ctx context.Context) bool {
	_, ok := ctx.Value(queryIDCaptureKey{}).(func(string))
	return ok
}

// NotifyQueryID hands a started query's engine-side id to the capture
// callback, if one is registered. Blank ids are dropped.
func NotifyQueryID(ctx context.Context, queryID string) {
	if capture, ok := ctx.Value(queryIDCaptureKey{}).(func(string)); ok && queryID != "" {
		capture(queryID)
	}
}

// Factory opens an adapter for a connection URL.
type Factory func(connectURL string) (Adapter, error)

// Registry routes connection URLs to adapter factories by scheme.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a URL scheme. Later registrations of the
// same scheme win, which lets tests swap in fakes.
func (r *Registry) Register(scheme string, factory Factory) {
	r.factories[strings.ToLower(scheme)] = factory
}

// Open parses the scheme off a connection URL and opens an adapter for
// it.
func (r *Registry) Open(connectURL string) (Adapter, error) {
	scheme, _, found := strings.Cut(connectURL, "://")
	if !found {
		return nil, fmt.Errorf("adapters: connection URL %q has no scheme", connectURL)
	}
	factory, ok := r.factories[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("adapters: no adapter registered for scheme %q (have %s)",
			scheme, strings.Join(r.Schemes(), ", "))
	}
	return factory(connectURL)
}

// Schemes returns the registered URL schemes sorted.
func (r *Registry) Schemes() []string {
	schemes := make([]string, 0, len(r.factories))
	for scheme := range r.factories {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// ScanRows drains a database/sql result into a QueryResult, checking
// the context between rows.
func ScanRows(ctx context.Context, rows *sql.Rows) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("adapters: reading columns: %w", err)
	}

	result := &QueryResult{Columns: columns}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("adapters: scanning row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("adapters: row iteration: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}
