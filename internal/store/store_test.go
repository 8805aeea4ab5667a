package store

import (
	"context"
	"testing"

	"github.com/quarry-labs/quarry/internal/errors"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open("sqlite://")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestOpenRejectsBadURLs(t *testing.T) {
	if _, err := Open("no-scheme"); err == nil {
		t.Error("expected an error for a URL without a scheme")
	}
	if _, err := Open("mysql://host/db"); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}

func TestWarehouseRoundTrip(t *testing.T) {
	// Arrange
	s := openTestStore(t)
	ctx := context.Background()

	// Act
	id, err := s.SaveWarehouse(ctx, "adtech", "warehouse.yaml", "abc123")
	if err != nil {
		t.Fatalf("SaveWarehouse: %v", err)
	}

	// Assert
	rec, err := s.GetWarehouse(ctx, "adtech")
	if err != nil {
		t.Fatalf("GetWarehouse: %v", err)
	}
	if rec.ID != id || rec.ConfigURL != "warehouse.yaml" || rec.ParamsHash != "abc123" {
		t.Errorf("record = %+v, want id %d with saved fields", rec, id)
	}
	if rec.CreatedAt == "" {
		t.Error("CreatedAt should be set")
	}
}

func TestSaveWarehouseUpdatesByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.SaveWarehouse(ctx, "adtech", "v1.yaml", "hash1")
	if err != nil {
		t.Fatalf("SaveWarehouse: %v", err)
	}
	second, err := s.SaveWarehouse(ctx, "adtech", "v2.yaml", "hash2")
	if err != nil {
		t.Fatalf("SaveWarehouse update: %v", err)
	}

	if first != second {
		t.Errorf("update returned id %d, want the original %d", second, first)
	}
	rec, err := s.GetWarehouse(ctx, "adtech")
	if err != nil {
		t.Fatalf("GetWarehouse: %v", err)
	}
	if rec.ConfigURL != "v2.yaml" || rec.ParamsHash != "hash2" {
		t.Errorf("record = %+v, want the updated fields", rec)
	}
}

func TestGetWarehouseNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetWarehouse(context.Background(), "missing")
	if _, ok := err.(*errors.ErrNotFound); !ok {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListWarehousesSortsByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := s.SaveWarehouse(ctx, name, name+".yaml", "h"); err != nil {
			t.Fatalf("SaveWarehouse(%s): %v", name, err)
		}
	}

	records, err := s.ListWarehouses(ctx)
	if err != nil {
		t.Fatalf("ListWarehouses: %v", err)
	}
	if len(records) != 2 || records[0].Name != "alpha" || records[1].Name != "zeta" {
		t.Errorf("records = %v, want alpha then zeta", records)
	}
}

func TestReportSpecRoundTrip(t *testing.T) {
	// Arrange
	s := openTestStore(t)
	ctx := context.Background()
	whID, err := s.SaveWarehouse(ctx, "adtech", "warehouse.yaml", "h")
	if err != nil {
		t.Fatalf("SaveWarehouse: %v", err)
	}

	// Act
	specID, err := s.SaveReportSpec(ctx, whID, `{"metrics":["leads"]}`)
	if err != nil {
		t.Fatalf("SaveReportSpec: %v", err)
	}

	// Assert
	rec, err := s.GetReportSpec(ctx, specID)
	if err != nil {
		t.Fatalf("GetReportSpec: %v", err)
	}
	if rec.WarehouseID != whID || rec.ParamsJSON != `{"metrics":["leads"]}` {
		t.Errorf("record = %+v, want the saved spec", rec)
	}

	if err := s.DeleteReportSpec(ctx, specID); err != nil {
		t.Errorf("DeleteReportSpec: %v", err)
	}
	if _, err := s.GetReportSpec(ctx, specID); err == nil {
		t.Error("deleted spec should not resolve")
	}
	if err := s.DeleteReportSpec(ctx, specID); err == nil {
		t.Error("deleting twice should report not found")
	}
}

func TestDeleteWarehouseRemovesSpecs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	whID, err := s.SaveWarehouse(ctx, "adtech", "warehouse.yaml", "h")
	if err != nil {
		t.Fatalf("SaveWarehouse: %v", err)
	}
	specID, err := s.SaveReportSpec(ctx, whID, `{}`)
	if err != nil {
		t.Fatalf("SaveReportSpec: %v", err)
	}

	if err := s.DeleteWarehouse(ctx, "adtech"); err != nil {
		t.Fatalf("DeleteWarehouse: %v", err)
	}

	if _, err := s.GetWarehouse(ctx, "adtech"); err == nil {
		t.Error("deleted warehouse should not resolve")
	}
	if _, err := s.GetReportSpec(ctx, specID); err == nil {
		t.Error("specs should be removed with their warehouse")
	}
}
