package redflag

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/warehouse"
	"github.com/quarry-labs/quarry/pkg/models"
)

func TestConfigUnknownKeyRejected(t *testing.T) {
	_, err := warehouse.ParseConfig([]byte("datasources: {}\ndata_sources: {}\n"))

	var cfgErr *errors.ErrInvalidWarehouseConfig
	if !stderrors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want an invalid warehouse config error", err)
	}
}

func TestConfigRequiresDataSources(t *testing.T) {
	if _, err := warehouse.ParseConfig([]byte("datasources: {}\n")); err == nil {
		t.Error("a warehouse without datasources must not parse")
	}
}

func TestConfigRejectsUnknownPriorityName(t *testing.T) {
	dir := t.TempDir()
	seedFixture(t, dir)

	yaml := funnelYAML(dir) + "\nds_priority: [nope]\n"
	if _, err := warehouse.ParseConfig([]byte(yaml)); err == nil {
		t.Error("ds_priority naming an unknown datasource must not parse")
	}
}

func TestUnresolvedWarehouseFormulaRejected(t *testing.T) {
	dir := t.TempDir()
	seedFixture(t, dir)
	cfg, err := warehouse.ParseConfig([]byte(funnelYAML(dir)))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	cfg.Metrics = append(cfg.Metrics, fields.MetricConfig{
		Name: "margin", Formula: "{revenue}-{cost}",
	})

	if _, err := warehouse.New(context.Background(), "adtech", cfg, warehouse.Options{}); err == nil {
		t.Error("a formula referencing an unknown field must fail the build")
	}
}

func TestSpecOpsRequireStore(t *testing.T) {
	ctx := context.Background()
	w := newWarehouse(t, "adtech", warehouse.Options{})
	params := &models.ReportParams{Metrics: metricRefs("revenue")}

	if _, err := w.SaveSpec(ctx, params); err == nil {
		t.Error("SaveSpec without a store must fail")
	}
	if _, err := w.ExecuteID(ctx, 1); err == nil {
		t.Error("ExecuteID without a store must fail")
	}
	if err := w.DeleteSpec(ctx, 1); err == nil {
		t.Error("DeleteSpec without a store must fail")
	}
}

func TestSaveSpecRequiresSavedWarehouse(t *testing.T) {
	ctx := context.Background()
	w := newWarehouse(t, "adtech", warehouse.Options{Store: testStore(t)})

	// The warehouse has a store but was never registered in it.
	if _, err := w.SaveSpec(ctx, &models.ReportParams{Metrics: metricRefs("revenue")}); err == nil {
		t.Error("SaveSpec before Save must fail")
	}
}

func TestSaveSpecValidatesParams(t *testing.T) {
	ctx := context.Background()
	w := newWarehouse(t, "adtech", warehouse.Options{Store: testStore(t)})
	if _, err := w.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := w.SaveSpec(ctx, &models.ReportParams{Metrics: metricRefs("profit")}); err == nil {
		t.Error("a spec naming unknown fields must not save")
	}
}

func TestSpecIsScopedToItsWarehouse(t *testing.T) {
	// Arrange: two warehouses sharing one metadata store.
	ctx := context.Background()
	st := testStore(t)
	mine := newWarehouse(t, "adtech", warehouse.Options{Store: st})
	other := newWarehouse(t, "other", warehouse.Options{Store: st})
	if _, err := mine.Save(ctx); err != nil {
		t.Fatalf("Save(mine): %v", err)
	}
	if _, err := other.Save(ctx); err != nil {
		t.Fatalf("Save(other): %v", err)
	}

	id, err := mine.SaveSpec(ctx, &models.ReportParams{
		Metrics:    metricRefs("revenue"),
		Dimensions: metricRefs("partner_name"),
	})
	if err != nil {
		t.Fatalf("SaveSpec: %v", err)
	}

	// Act + Assert: the other warehouse cannot run or delete it.
	if _, err := other.ExecuteID(ctx, id); err == nil {
		t.Error("a spec must not execute under a different warehouse")
	}
	if err := other.DeleteSpec(ctx, id); err == nil {
		t.Error("a spec must not delete under a different warehouse")
	}
	if _, err := mine.ExecuteID(ctx, id); err != nil {
		t.Errorf("the owning warehouse should still run it: %v", err)
	}
}

func TestLoadUnknownWarehouse(t *testing.T) {
	_, err := warehouse.Load(context.Background(), "missing", testStore(t), warehouse.Options{})

	var notFound *errors.ErrNotFound
	if !stderrors.As(err, &notFound) {
		t.Fatalf("err = %v, want a not found error", err)
	}
}
