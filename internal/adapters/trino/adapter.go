// Package trino provides the Trino engine adapter.
package trino

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/dialects"

	_ "github.com/trinodb/trino-go-client/trino" // trino driver
)

// Adapter runs datasource queries against a Trino coordinator.
type Adapter struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect *dialects.Dialect
	closed  bool
}

// Open connects to the coordinator behind a trino:// connection URL,
// for example trino://user@coordinator:8080/hive/web?ssl=true. The
// path carries catalog and schema; ssl switches the coordinator
// endpoint to https.
func Open(connectURL string) (adapters.Adapter, error) {
	dsn, err := dsnFromURL(connectURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("trino", dsn)
	if err != nil {
		return nil, fmt.Errorf("trino: opening connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	dialect, err := dialects.Get("trino")
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db, dialect: dialect}, nil
}

// dsnFromURL rewrites a trino:// connection URL into the driver's
// http[s]://user@host:port?catalog=X&schema=Y form.
func dsnFromURL(connectURL string) (string, error) {
	if !strings.HasPrefix(connectURL, "trino://") {
		return "", fmt.Errorf("trino: connection URL %q must start with trino://", connectURL)
	}
	u, err := url.Parse(connectURL)
	if err != nil {
		return "", fmt.Errorf("trino: parsing connection URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("trino: connection URL %q has no host", connectURL)
	}

	host := u.Host
	if u.Port() == "" {
		host += ":8080"
	}
	user := u.User
	if user == nil || user.Username() == "" {
		user = url.User("quarry")
	}

	params := u.Query()
	scheme := "http"
	if params.Get("ssl") == "true" || params.Get("sslmode") == "require" {
		scheme = "https"
	}
	params.Del("ssl")
	params.Del("sslmode")

	catalog, schema := "memory", "default"
	if parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2); parts[0] != "" {
		catalog = parts[0]
		if len(parts) > 1 && parts[1] != "" {
			schema = parts[1]
		}
	}
	params.Set("catalog", catalog)
	params.Set("schema", schema)

	dsn := url.URL{Scheme: scheme, User: user, Host: host, RawQuery: params.Encode()}
	return dsn.String(), nil
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "trino" }

// Dialect returns the SQL dialect queries are rendered in.
func (a *Adapter) Dialect() *dialects.Dialect { return a.dialect }

// ConversionDialect names the datetime conversion vocabulary. Trino
// has none, so converted calendar dimensions are not generated.
func (a *Adapter) ConversionDialect() string { return "trino" }

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
		return nil, fmt.Errorf("trino: query failed: %w", err)
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
		return fmt.Errorf("trino: exec failed: %w", err)
	}
	return nil
}

// Ping checks that the coordinator is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	db, err := a.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

var queryIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// KillQuery stops a running query through the system.runtime catalog.
func (a *Adapter) KillQuery(ctx context.Context, queryID string) error {
	if !queryIDPattern.MatchString(queryID) {
		return fmt.Errorf("trino: invalid query id %q", queryID)
	}
	db, err := a.handle()
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("CALL system.runtime.kill_query(query_id => '%s', message => 'killed by quarry')", queryID)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("trino: killing query %s: %w", queryID, err)
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
		return nil, fmt.Errorf("trino: connection is closed")
	}
	return a.db, nil
}
