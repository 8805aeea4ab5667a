package fields

import (
	"testing"

	"github.com/quarry-labs/quarry/internal/errors"
)

// TestRegistry_ScopeResolution proves that lookups consult the wider
// scope first and fall through to children in order.
func TestRegistry_ScopeResolution(t *testing.T) {
	wh := testRegistry(t)
	ds := NewRegistry("datasource:main")
	for _, f := range mustCreateMetrics(t, MetricConfig{Name: "ds_only", Type: "integer"}) {
		if err := ds.AddMetric(f); err != nil {
			t.Fatalf("AddMetric: %v", err)
		}
	}
	wh.AddChild(ds)

	if !wh.HasMetric("ds_only") {
		t.Fatal("child scope metric not visible from the warehouse")
	}
	f, err := wh.Get("ds_only")
	if err != nil || f.Name() != "ds_only" {
		t.Fatalf("Get(ds_only) = %v, %v", f, err)
	}
	if _, err := ds.Get("revenue"); err == nil {
		t.Fatal("datasource scope resolved a warehouse-only field")
	}
}

// TestRegistry_ShadowingWinsForOwner proves that when a child redefines
// a warehouse name, the warehouse still resolves its own definition
// while the child sees its local one.
func TestRegistry_ShadowingWinsForOwner(t *testing.T) {
	wh := testRegistry(t)
	ds := NewRegistry("datasource:main")
	local := mustCreateMetrics(t, MetricConfig{Name: "revenue", Type: "integer", Aggregation: "max"})[0]
	if err := ds.AddMetric(local); err != nil {
		t.Fatalf("AddMetric: %v", err)
	}
	wh.AddChild(ds)

	whField, err := wh.GetMetric("revenue")
	if err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	if whField.(*Metric).Aggregation == "max" {
		t.Error("warehouse lookup resolved the child's shadowing definition")
	}
	dsField, err := ds.GetMetric("revenue")
	if err != nil {
		t.Fatalf("GetMetric: %v", err)
	}
	if dsField.(*Metric).Aggregation != "max" {
		t.Error("child lookup did not resolve its local definition")
	}
}

// TestRegistry_KindConflicts proves that a name cannot exist as both a
// metric and a dimension within the visible scope stack.
func TestRegistry_KindConflicts(t *testing.T) {
	reg := testRegistry(t)

	dim := mustCreateDimension(t, DimensionConfig{Name: "revenue", Type: "string"})
	err := reg.AddDimension(dim)
	if err == nil {
		t.Fatal("dimension named after an existing metric accepted")
	}
	if _, ok := err.(*errors.ErrInvalidFieldConfig); !ok {
		t.Fatalf("expected ErrInvalidFieldConfig, got %T", err)
	}

	metric := mustCreateMetrics(t, MetricConfig{Name: "partner_name", Type: "integer"})[0]
	if err := reg.AddMetric(metric); err == nil {
		t.Fatal("metric named after an existing dimension accepted")
	}

	dup := mustCreateMetrics(t, MetricConfig{Name: "revenue", Type: "integer"})[0]
	if err := reg.AddMetric(dup); err == nil {
		t.Fatal("duplicate metric in the same scope accepted")
	}

	wrongKind := mustCreateDimension(t, DimensionConfig{Name: "fresh", Type: "string"})
	if err := reg.AddMetric(wrongKind); err == nil {
		t.Fatal("AddMetric accepted a dimension-role field")
	}
}

// TestRegistry_DeterministicIteration proves sorted name iteration
// across scopes.
func TestRegistry_DeterministicIteration(t *testing.T) {
	wh := testRegistry(t)
	ds := NewRegistry("datasource:main")
	for _, f := range mustCreateMetrics(t, MetricConfig{Name: "aggr_sales", Type: "integer"}) {
		if err := ds.AddMetric(f); err != nil {
			t.Fatalf("AddMetric: %v", err)
		}
	}
	wh.AddChild(ds)

	names := wh.MetricNames()
	want := []string{"aggr_sales", "leads", "revenue", "sales"}
	if len(names) != len(want) {
		t.Fatalf("MetricNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("MetricNames[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	fields := wh.Fields()
	if len(fields) != 6 {
		t.Fatalf("Fields() returned %d entries, want 6", len(fields))
	}
	for i := 1; i < len(fields); i++ {
		if fields[i-1].Name() >= fields[i].Name() {
			t.Fatalf("Fields() not sorted at %d: %q >= %q", i, fields[i-1].Name(), fields[i].Name())
		}
	}
}

// TestStacked proves that report ad-hoc scopes resolve after the
// warehouse without mutating it.
func TestStacked(t *testing.T) {
	wh := testRegistry(t)
	adhoc := NewRegistry("report:adhoc")
	fm, err := NewAdHocMetric("my_rpl", "{revenue}/{leads}", nil, nil, nil)
	if err != nil {
		t.Fatalf("NewAdHocMetric: %v", err)
	}
	if err := adhoc.AddMetric(fm); err != nil {
		t.Fatalf("AddMetric: %v", err)
	}

	view := Stacked(wh, adhoc)
	if !view.HasMetric("my_rpl") || !view.HasMetric("revenue") {
		t.Fatal("stacked view does not resolve both scopes")
	}

	leaves, _, err := fm.FormulaFields(view, 0)
	if err != nil {
		t.Fatalf("FormulaFields through stacked view: %v", err)
	}
	if len(leaves) != 2 {
		t.Errorf("leaves = %v", leaves)
	}

	if wh.HasMetric("my_rpl") {
		t.Error("stacking leaked the ad-hoc field into the warehouse scope")
	}
}

// TestRegistry_GetMissing proves NotFound errors carry the entity kind.
func TestRegistry_GetMissing(t *testing.T) {
	reg := testRegistry(t)
	_, err := reg.GetMetric("partner_name")
	if err == nil {
		t.Fatal("GetMetric on a dimension name did not fail")
	}
	if _, ok := err.(*errors.ErrNotFound); !ok {
		t.Fatalf("expected ErrNotFound, got %T", err)
	}
	if _, err := reg.Get("missing_entirely"); err == nil {
		t.Fatal("Get on an unknown name did not fail")
	}
}
