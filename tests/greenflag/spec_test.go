package greenflag

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/quarry-labs/quarry/internal/warehouse"
	"github.com/quarry-labs/quarry/pkg/models"
)

// TestSpecRoundTrip proves that running a saved spec by id produces the
// same frame as running its params directly.
func TestSpecRoundTrip(t *testing.T) {
	// Arrange
	ctx := context.Background()
	st := testStore(t)
	w := newWarehouse(t, warehouse.Options{Store: st})
	if _, err := w.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	params := &models.ReportParams{
		Metrics:    metricRefs("sales", "leads", "revenue"),
		Dimensions: metricRefs("partner_name"),
		Rollup:     models.RollupTotals,
	}

	// Act
	direct := run(t, w, params)
	id, err := w.SaveSpec(ctx, params)
	if err != nil {
		t.Fatalf("SaveSpec: %v", err)
	}
	stored, err := w.ExecuteID(ctx, id)
	if err != nil {
		t.Fatalf("ExecuteID: %v", err)
	}

	// Assert
	if !reflect.DeepEqual(stored.Columns, direct.Columns) {
		t.Errorf("columns differ: %v vs %v", stored.Columns, direct.Columns)
	}
	if !reflect.DeepEqual(stored.Rows, direct.Rows) {
		t.Errorf("rows differ: %v vs %v", stored.Rows, direct.Rows)
	}
	if !reflect.DeepEqual(stored.RollupRows, direct.RollupRows) {
		t.Errorf("rollup markers differ: %v vs %v", stored.RollupRows, direct.RollupRows)
	}
}

// TestStoredSpecAsSubreport proves that "in report" criteria resolve a
// stored spec id through the metadata store.
func TestStoredSpecAsSubreport(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	w := newWarehouse(t, warehouse.Options{Store: st})
	if _, err := w.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	id, err := w.SaveSpec(ctx, &models.ReportParams{
		Metrics:    metricRefs("revenue"),
		Dimensions: metricRefs("partner_name"),
		RowFilters: []models.Criterion{{Field: "revenue", Op: ">", Value: 100}},
	})
	if err != nil {
		t.Fatalf("SaveSpec: %v", err)
	}

	res := run(t, w, &models.ReportParams{
		Metrics:    metricRefs("leads"),
		Dimensions: metricRefs("partner_name"),
		Criteria:   []models.Criterion{{Field: "partner_name", Op: "in report", Value: id}},
	})

	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2: %v", len(res.Rows), res.Rows)
	}
	assertRow(t, res.Rows[0], "Partner A", 4)
	assertRow(t, res.Rows[1], "Partner C", 1)
}

func TestDeleteSpec(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	w := newWarehouse(t, warehouse.Options{Store: st})
	if _, err := w.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	id, err := w.SaveSpec(ctx, &models.ReportParams{
		Metrics:    metricRefs("revenue"),
		Dimensions: metricRefs("partner_name"),
	})
	if err != nil {
		t.Fatalf("SaveSpec: %v", err)
	}
	if err := w.DeleteSpec(ctx, id); err != nil {
		t.Fatalf("DeleteSpec: %v", err)
	}
	if _, err := w.ExecuteID(ctx, id); err == nil {
		t.Error("a deleted spec must not execute")
	}
}

// TestWarehouseSaveAndLoad proves that a registered warehouse rebuilds
// from its stored config url and answers the same report.
func TestWarehouseSaveAndLoad(t *testing.T) {
	// Arrange: the config has to live on disk for Load to find it.
	ctx := context.Background()
	dir := t.TempDir()
	seedFixture(t, dir)
	path := filepath.Join(dir, "warehouse.yaml")
	writeFile(t, path, funnelYAML(dir))

	cfg, err := warehouse.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	st := testStore(t)
	w, err := warehouse.New(ctx, "adtech", cfg, warehouse.Options{Store: st, ConfigURL: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	if _, err := w.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Act
	loaded, err := warehouse.Load(ctx, "adtech", st, warehouse.Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	// Assert
	res := run(t, loaded, &models.ReportParams{
		Metrics:    metricRefs("revenue"),
		Dimensions: metricRefs("partner_name"),
	})
	if len(res.Rows) != 3 {
		t.Fatalf("got %d rows: %v", len(res.Rows), res.Rows)
	}
	assertRow(t, res.Rows[0], "Partner A", 165)
}
