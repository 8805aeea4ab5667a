package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quarry-labs/quarry/internal/dialects"
)

// TestAdapter_RoundTrip proves the adapter can create, fill, and query
// a table end to end against an in-memory database.
func TestAdapter_RoundTrip(t *testing.T) {
	a, err := Open("sqlite:///:memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	if err := a.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := a.Exec(ctx, "CREATE TABLE partners (id INTEGER, name TEXT)"); err != nil {
		t.Fatalf("Exec create: %v", err)
	}
	if err := a.Exec(ctx, "INSERT INTO partners VALUES (?, ?), (?, ?)", 1, "Partner A", 2, "Partner B"); err != nil {
		t.Fatalf("Exec insert: %v", err)
	}

	result, err := a.Query(ctx, "SELECT id, name FROM partners ORDER BY id")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("row count = %d", result.RowCount)
	}
	if result.Columns[0] != "id" || result.Columns[1] != "name" {
		t.Errorf("columns = %v", result.Columns)
	}
	if result.Rows[1][1] != "Partner B" {
		t.Errorf("rows = %v", result.Rows)
	}
}

// TestAdapter_DialectAndKill proves the adapter reports the sqlite
// dialect and refuses kill requests.
func TestAdapter_DialectAndKill(t *testing.T) {
	a, err := Open("sqlite:///:memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if a.Name() != "sqlite" || a.Dialect().Name != "sqlite" {
		t.Errorf("name = %q dialect = %q", a.Name(), a.Dialect().Name)
	}
	if a.ConversionDialect() != "sqlite" {
		t.Errorf("conversion dialect = %q", a.ConversionDialect())
	}
	if a.Capabilities().Has(dialects.CapabilityKillQuery) {
		t.Error("sqlite should not report kill support")
	}
	if err := a.KillQuery(context.Background(), "1"); err == nil {
		t.Error("KillQuery should fail")
	}
}

// TestAdapter_CloseIsIdempotent proves double close is safe and later
// queries fail cleanly.
func TestAdapter_CloseIsIdempotent(t *testing.T) {
	a, err := Open("sqlite:///:memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := a.Query(context.Background(), "SELECT 1"); err == nil {
		t.Error("query after close should fail")
	} else if !strings.Contains(err.Error(), "closed") {
		t.Errorf("error = %v", err)
	}
}

// TestOpen_FileURL proves file URLs strip the routing slash and reject
// foreign schemes.
func TestOpen_FileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry_test.db")
	a, err := Open("sqlite:///" + path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Exec(ctx, "CREATE TABLE t (x INTEGER)"); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	if _, err := Open("postgres://elsewhere/db"); err == nil {
		t.Error("foreign scheme should fail")
	}
}
