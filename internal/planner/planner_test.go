package planner

import (
	"reflect"
	"strings"
	"testing"

	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/schema"
	"github.com/quarry-labs/quarry/internal/sql"
)

type stubSource struct {
	name    string
	graph   *schema.Graph
	dialect *dialects.Dialect
}

func (s *stubSource) Name() string               { return s.name }
func (s *stubSource) Graph() *schema.Graph       { return s.graph }
func (s *stubSource) Dialect() *dialects.Dialect { return s.dialect }

func newStubSource(t *testing.T, name string, tables []*schema.Table) *stubSource {
	t.Helper()
	graph, err := schema.NewGraph(name, tables, schema.Config{})
	if err != nil {
		t.Fatalf("NewGraph(%s): %v", name, err)
	}
	dialect, err := dialects.Get("sqlite")
	if err != nil {
		t.Fatalf("Get(sqlite): %v", err)
	}
	return &stubSource{name: name, graph: graph, dialect: dialect}
}

func mustTable(t *testing.T, name string, cfg *schema.TableConfig) *schema.Table {
	t.Helper()
	table, err := schema.TableFromConfig(name, cfg)
	if err != nil {
		t.Fatalf("TableFromConfig(%s): %v", name, err)
	}
	return table
}

func mustAddMetric(t *testing.T, reg *fields.Registry, cfg fields.MetricConfig) {
	t.Helper()
	created, err := fields.CreateMetrics(cfg)
	if err != nil {
		t.Fatalf("CreateMetrics(%s): %v", cfg.Name, err)
	}
	for _, f := range created {
		if err := reg.AddMetric(f); err != nil {
			t.Fatalf("AddMetric(%s): %v", f.Name(), err)
		}
	}
}

func mustAddDimension(t *testing.T, reg *fields.Registry, cfg fields.DimensionConfig) {
	t.Helper()
	f, err := fields.CreateDimension(cfg)
	if err != nil {
		t.Fatalf("CreateDimension(%s): %v", cfg.Name, err)
	}
	if err := reg.AddDimension(f); err != nil {
		t.Fatalf("AddDimension(%s): %v", cfg.Name, err)
	}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

// testRegistry declares the warehouse fields the planner fixtures bind.
func testRegistry(t *testing.T) *fields.Registry {
	t.Helper()
	reg := fields.NewRegistry("warehouse")

	for _, cfg := range []fields.DimensionConfig{
		{Name: "partner_id", Type: "integer"},
		{Name: "partner_name", Type: "string(32)"},
		{Name: "campaign_id", Type: "integer"},
		{Name: "campaign_name", Type: "string(32)"},
		{Name: "lead_id", Type: "integer"},
		{Name: "sale_id", Type: "integer"},
		{Name: "event_id", Type: "integer"},
		{Name: "lead_year", Type: "integer"},
		{Name: "region", Type: "string(32)"},
		{Name: "partner_label", Formula: "{partner_name}"},
	} {
		mustAddDimension(t, reg, cfg)
	}

	for _, cfg := range []fields.MetricConfig{
		{Name: "leads", Type: "integer", Aggregation: "sum"},
		{Name: "sales", Type: "integer", Aggregation: "sum"},
		{Name: "revenue", Type: "decimal(10,2)", Aggregation: "sum"},
		{Name: "quantity", Type: "integer", Aggregation: "sum"},
		{Name: "revenue_avg", Type: "decimal(10,2)", Aggregation: "mean", WeightingMetric: "quantity"},
		{Name: "bonus", Type: "decimal(10,2)", Aggregation: "sum", RequiredGrain: []string{"partner_name"}},
		{Name: "special", Type: "integer", Aggregation: "sum"},
		{Name: "rpl", Formula: "{revenue}/{leads}", Rounding: intPtr(2)},
	} {
		mustAddMetric(t, reg, cfg)
	}
	return reg
}

// testTables builds the partner -> campaign -> lead -> sale chain with
// combined-layer namespacing off so assertions read plainly.
func testTables(t *testing.T) []*schema.Table {
	t.Helper()
	return []*schema.Table{
		mustTable(t, "main.partners", &schema.TableConfig{
			Type:               "dimension",
			PrimaryKey:         []string{"partner_id"},
			UseFullColumnNames: boolPtr(false),
			Columns: map[string]*schema.ColumnConfig{
				"id":   {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "partner_id"}}},
				"name": {Type: "string(32)", Fields: []schema.FieldBindingConfig{{Name: "partner_name"}}},
			},
		}),
		mustTable(t, "main.campaigns", &schema.TableConfig{
			Type:               "dimension",
			Parent:             "main.partners",
			PrimaryKey:         []string{"campaign_id"},
			UseFullColumnNames: boolPtr(false),
			Columns: map[string]*schema.ColumnConfig{
				"id":         {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "campaign_id"}}},
				"name":       {Type: "string(32)", Fields: []schema.FieldBindingConfig{{Name: "campaign_name"}}},
				"partner_id": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "partner_id"}}},
			},
		}),
		mustTable(t, "main.leads", &schema.TableConfig{
			Type:               "metric",
			Parent:             "main.campaigns",
			PrimaryKey:         []string{"lead_id"},
			UseFullColumnNames: boolPtr(false),
			Columns: map[string]*schema.ColumnConfig{
				"id": {Type: "integer", Fields: []schema.FieldBindingConfig{
					{Name: "lead_id"},
					{Name: "leads", DSFormula: "COUNT(DISTINCT main.leads.id)"},
				}},
				"campaign_id": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "campaign_id"}}},
				"created_at": {Type: "datetime", Fields: []schema.FieldBindingConfig{
					{
						Name:      "lead_year",
						DSFormula: "CAST(STRFTIME('%Y', main.leads.created_at) AS INTEGER)",
						CriteriaConversions: dialects.CriteriaConversions{
							"=": {{Op: sql.OpBetween, Values: []string{"date(:0 || '-01-01')", "date(:0 || '-12-31')"}}},
						},
					},
				}},
			},
		}),
		mustTable(t, "main.sales", &schema.TableConfig{
			Type:               "metric",
			Parent:             "main.leads",
			PrimaryKey:         []string{"sale_id"},
			UseFullColumnNames: boolPtr(false),
			Columns: map[string]*schema.ColumnConfig{
				"id": {Type: "integer", Fields: []schema.FieldBindingConfig{
					{Name: "sale_id"},
					{Name: "sales", DSFormula: "COUNT(main.sales.id)"},
				}},
				"lead_id": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "lead_id"}}},
				"revenue": {Type: "decimal(10,2)", Fields: []schema.FieldBindingConfig{
					{Name: "revenue"}, {Name: "revenue_avg"}, {Name: "bonus"},
				}},
				"quantity": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "quantity"}}},
			},
		}),
	}
}

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	return New(testRegistry(t), []Source{newStubSource(t, "testdb", testTables(t))})
}

// TestPlan_SharedTableSingleQuery proves that two metrics on the same
// table with the same join chain share one query, with dimensions
// selected ahead of metrics and aggregation applied per binding.
func TestPlan_SharedTableSingleQuery(t *testing.T) {
	p := testPlanner(t)

	set, err := p.Plan(&Request{
		Metrics:    []string{"revenue", "sales"},
		Dimensions: []string{"partner_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(set.Plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(set.Plans))
	}
	plan := set.Plans[0]
	if !reflect.DeepEqual(plan.Metrics, []string{"revenue", "sales"}) {
		t.Errorf("plan metrics = %v", plan.Metrics)
	}
	if plan.TempTable != "dsq_0" {
		t.Errorf("temp table = %q", plan.TempTable)
	}
	if !reflect.DeepEqual(set.Grain, []string{"partner_name"}) {
		t.Errorf("grain = %v", set.Grain)
	}

	// The select list leads with the dimension, then plain aggregation,
	// then the verbatim aggregating formula.
	wantFragments := []string{
		`main.partners.name AS "partner_name"`,
		`SUM(main.sales.revenue) AS "revenue"`,
		`(COUNT(main.sales.id)) AS "sales"`,
		"LEFT OUTER JOIN main.leads ON main.leads.id = main.sales.lead_id",
		"LEFT OUTER JOIN main.campaigns ON main.campaigns.id = main.leads.campaign_id",
		"LEFT OUTER JOIN main.partners ON main.partners.id = main.campaigns.partner_id",
		"GROUP BY 1",
	}
	for _, frag := range wantFragments {
		if !strings.Contains(plan.SQL, frag) {
			t.Errorf("SQL missing %q:\n%s", frag, plan.SQL)
		}
	}
	if strings.Contains(plan.SQL, "SUM((COUNT") {
		t.Errorf("aggregating formula was double-aggregated:\n%s", plan.SQL)
	}

	if len(plan.Columns) != 3 {
		t.Fatalf("expected 3 ingest columns, got %d", len(plan.Columns))
	}
	if !plan.Columns[0].Dimension || plan.Columns[0].Field != "partner_name" {
		t.Errorf("first column = %+v", plan.Columns[0])
	}
	if plan.Columns[1].Field != "revenue" || plan.Columns[1].Dimension {
		t.Errorf("second column = %+v", plan.Columns[1])
	}
}

// TestPlan_CriteriaJoinGrain proves that criteria fields join the grain
// and filter through the join chain without being selected or grouped.
func TestPlan_CriteriaJoinGrain(t *testing.T) {
	p := testPlanner(t)

	set, err := p.Plan(&Request{
		Metrics:  []string{"revenue"},
		Criteria: []Criterion{{Field: "campaign_name", Op: "=", Value: "Campaign 1A"}},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if !reflect.DeepEqual(set.Grain, []string{"campaign_name"}) {
		t.Errorf("grain = %v", set.Grain)
	}
	if len(set.Dimensions) != 0 {
		t.Errorf("selected dimensions = %v", set.Dimensions)
	}

	plan := set.Plans[0]
	if !strings.Contains(plan.SQL, "WHERE main.campaigns.name = ?") {
		t.Errorf("SQL missing criteria clause:\n%s", plan.SQL)
	}
	if strings.Contains(plan.SQL, "GROUP BY") {
		t.Errorf("no dimensions selected, GROUP BY should be absent:\n%s", plan.SQL)
	}
	if !reflect.DeepEqual(plan.Args, []interface{}{"Campaign 1A"}) {
		t.Errorf("args = %v", plan.Args)
	}
	if len(plan.Columns) != 1 || plan.Columns[0].Field != "revenue" {
		t.Errorf("columns = %+v", plan.Columns)
	}
}

// TestPlan_FormulaMetricExpansion proves that a formula metric plans its
// leaves, producing one query per leaf table in request order.
func TestPlan_FormulaMetricExpansion(t *testing.T) {
	p := testPlanner(t)

	set, err := p.Plan(&Request{
		Metrics:    []string{"rpl"},
		Dimensions: []string{"partner_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(set.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(set.Plans))
	}
	first, second := set.Plans[0], set.Plans[1]
	if first.TableSet.Table.Name != "main.sales" || !reflect.DeepEqual(first.Metrics, []string{"revenue"}) {
		t.Errorf("first plan = %s %v", first.TableSet.Table.Name, first.Metrics)
	}
	if second.TableSet.Table.Name != "main.leads" || !reflect.DeepEqual(second.Metrics, []string{"leads"}) {
		t.Errorf("second plan = %s %v", second.TableSet.Table.Name, second.Metrics)
	}
	if second.TempTable != "dsq_1" {
		t.Errorf("second temp table = %q", second.TempTable)
	}
	for _, plan := range set.Plans {
		if !reflect.DeepEqual(plan.Dimensions, []string{"partner_name"}) {
			t.Errorf("plan %s dimensions = %v", plan.TempTable, plan.Dimensions)
		}
	}
}

// TestPlan_UnsupportedGrain proves that every unsatisfiable metric is
// reported in a single error along with the grain.
func TestPlan_UnsupportedGrain(t *testing.T) {
	p := testPlanner(t)

	_, err := p.Plan(&Request{
		Metrics:    []string{"revenue", "leads"},
		Dimensions: []string{"region"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	ug, ok := err.(*errors.ErrUnsupportedGrain)
	if !ok {
		t.Fatalf("expected ErrUnsupportedGrain, got %T: %v", err, err)
	}
	if !reflect.DeepEqual(ug.Metrics, []string{"revenue", "leads"}) {
		t.Errorf("metrics = %v", ug.Metrics)
	}
	if !reflect.DeepEqual(ug.Grain, []string{"region"}) {
		t.Errorf("grain = %v", ug.Grain)
	}
}

// TestPlan_AllowPartial proves that a metric with no covering table set
// is dropped with a warning when partial results are allowed, and that
// losing every metric still fails.
func TestPlan_AllowPartial(t *testing.T) {
	reg := testRegistry(t)
	tables := append(testTables(t), mustTable(t, "main.events", &schema.TableConfig{
		Type:               "metric",
		PrimaryKey:         []string{"event_id"},
		UseFullColumnNames: boolPtr(false),
		Columns: map[string]*schema.ColumnConfig{
			"id":      {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "event_id"}}},
			"special": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "special"}}},
		},
	}))
	p := New(reg, []Source{newStubSource(t, "testdb", tables)})

	set, err := p.Plan(&Request{
		Metrics:      []string{"revenue", "special"},
		Dimensions:   []string{"partner_name"},
		AllowPartial: true,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(set.Plans) != 1 || !reflect.DeepEqual(set.Plans[0].Metrics, []string{"revenue"}) {
		t.Fatalf("plans = %d %v", len(set.Plans), set.Plans[0].Metrics)
	}
	if !reflect.DeepEqual(set.DroppedMetrics, []string{"special"}) {
		t.Errorf("dropped = %v", set.DroppedMetrics)
	}
	if len(set.Warnings) != 1 || !strings.Contains(set.Warnings[0], "special") {
		t.Errorf("warnings = %v", set.Warnings)
	}

	// With every metric unsatisfiable the request fails even when
	// partial results are allowed.
	_, err = p.Plan(&Request{
		Metrics:      []string{"special"},
		Dimensions:   []string{"partner_name"},
		AllowPartial: true,
	})
	if _, ok := err.(*errors.ErrUnsupportedGrain); !ok {
		t.Fatalf("expected ErrUnsupportedGrain, got %T: %v", err, err)
	}
}

// TestPlan_DataSourcePriority proves that the source listed first wins
// when two datasources can satisfy a metric equally.
func TestPlan_DataSourcePriority(t *testing.T) {
	reg := testRegistry(t)
	primary := newStubSource(t, "primary", testTables(t))
	backup := newStubSource(t, "backup", testTables(t))

	set, err := New(reg, []Source{primary, backup}).Plan(&Request{
		Metrics:    []string{"revenue"},
		Dimensions: []string{"partner_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if set.Plans[0].DataSource != "primary" {
		t.Errorf("datasource = %q", set.Plans[0].DataSource)
	}

	// Reversing the source order flips the winner.
	set, err = New(reg, []Source{backup, primary}).Plan(&Request{
		Metrics:    []string{"revenue"},
		Dimensions: []string{"partner_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if set.Plans[0].DataSource != "backup" {
		t.Errorf("datasource = %q", set.Plans[0].DataSource)
	}
}

// TestPlan_DimensionOnly proves that a report without metrics turns into
// a single deduplicating query over the smallest covering table set.
func TestPlan_DimensionOnly(t *testing.T) {
	p := testPlanner(t)

	set, err := p.Plan(&Request{
		Dimensions: []string{"partner_name", "campaign_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(set.Plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(set.Plans))
	}
	plan := set.Plans[0]
	if len(plan.Metrics) != 0 {
		t.Errorf("metrics = %v", plan.Metrics)
	}
	if plan.TableSet.Table.Name != "main.campaigns" {
		t.Errorf("table = %q", plan.TableSet.Table.Name)
	}
	for _, frag := range []string{
		"FROM main.campaigns",
		"LEFT OUTER JOIN main.partners ON main.partners.id = main.campaigns.partner_id",
		"GROUP BY 1, 2",
	} {
		if !strings.Contains(plan.SQL, frag) {
			t.Errorf("SQL missing %q:\n%s", frag, plan.SQL)
		}
	}
	for _, col := range plan.Columns {
		if !col.Dimension {
			t.Errorf("column %s should be a dimension", col.Name)
		}
	}
}

// TestPlan_WeightedPair proves that a weighted metric emits numerator
// and denominator columns both carrying the metric's name.
func TestPlan_WeightedPair(t *testing.T) {
	p := testPlanner(t)

	set, err := p.Plan(&Request{
		Metrics:    []string{"revenue_avg"},
		Dimensions: []string{"campaign_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	plan := set.Plans[0]
	for _, frag := range []string{
		`SUM(1.0 * main.sales.revenue * main.sales.quantity) AS "revenue_avg_weighting_metric_numerator"`,
		`SUM(main.sales.quantity) AS "revenue_avg_weighting_metric_denominator"`,
	} {
		if !strings.Contains(plan.SQL, frag) {
			t.Errorf("SQL missing %q:\n%s", frag, plan.SQL)
		}
	}
	if len(plan.Columns) != 3 {
		t.Fatalf("expected 3 ingest columns, got %d", len(plan.Columns))
	}
	num, den := plan.Columns[1], plan.Columns[2]
	if num.Field != "revenue_avg" || den.Field != "revenue_avg" {
		t.Errorf("pair fields = %q %q", num.Field, den.Field)
	}
	if num.Name != "revenue_avg_weighting_metric_numerator" || den.Name != "revenue_avg_weighting_metric_denominator" {
		t.Errorf("pair names = %q %q", num.Name, den.Name)
	}
}

// TestPlan_CriteriaConversionRewrite proves that a declared criteria
// conversion rewrites the filter against the raw column instead of
// wrapping the conversion expression.
func TestPlan_CriteriaConversionRewrite(t *testing.T) {
	p := testPlanner(t)

	set, err := p.Plan(&Request{
		Metrics:    []string{"leads"},
		Dimensions: []string{"campaign_name"},
		Criteria:   []Criterion{{Field: "lead_year", Op: "=", Value: 2019}},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	plan := set.Plans[0]
	want := "main.leads.created_at BETWEEN date(? || '-01-01') AND date(? || '-12-31')"
	if !strings.Contains(plan.SQL, want) {
		t.Errorf("SQL missing rewritten criterion:\n%s", plan.SQL)
	}
	if strings.Contains(plan.SQL, "CAST(STRFTIME") && strings.Contains(plan.SQL, "WHERE (CAST") {
		t.Errorf("criterion wrapped the conversion expression:\n%s", plan.SQL)
	}
	if !reflect.DeepEqual(plan.Args, []interface{}{2019, 2019}) {
		t.Errorf("args = %v", plan.Args)
	}
	// lead_year is grain-only: filtered on but not selected.
	if len(plan.Columns) != 2 {
		t.Errorf("columns = %+v", plan.Columns)
	}
}

// TestPlan_MetricRequiredGrain proves that a metric's required grain is
// checked against the full report grain.
func TestPlan_MetricRequiredGrain(t *testing.T) {
	p := testPlanner(t)

	_, err := p.Plan(&Request{
		Metrics:    []string{"bonus"},
		Dimensions: []string{"campaign_name"},
	})
	ug, ok := err.(*errors.ErrUnsupportedGrain)
	if !ok {
		t.Fatalf("expected ErrUnsupportedGrain, got %T: %v", err, err)
	}
	if !reflect.DeepEqual(ug.Metrics, []string{"bonus"}) {
		t.Errorf("metrics = %v", ug.Metrics)
	}

	set, err := p.Plan(&Request{
		Metrics:    []string{"bonus"},
		Dimensions: []string{"partner_name"},
	})
	if err != nil {
		t.Fatalf("Plan with satisfying grain: %v", err)
	}
	if len(set.Plans) != 1 {
		t.Errorf("expected 1 plan, got %d", len(set.Plans))
	}
}

// TestPlan_PrefersSmallerTableSet proves that a table covering the grain
// on its own beats a longer join chain.
func TestPlan_PrefersSmallerTableSet(t *testing.T) {
	reg := testRegistry(t)
	tables := append(testTables(t), mustTable(t, "main.sales_wide", &schema.TableConfig{
		Type:               "metric",
		PrimaryKey:         []string{"sale_id"},
		UseFullColumnNames: boolPtr(false),
		Columns: map[string]*schema.ColumnConfig{
			"id":           {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "sale_id"}}},
			"partner_name": {Type: "string(32)", Fields: []schema.FieldBindingConfig{{Name: "partner_name"}}},
			"revenue":      {Type: "decimal(10,2)", Fields: []schema.FieldBindingConfig{{Name: "revenue"}}},
		},
	}))
	p := New(reg, []Source{newStubSource(t, "testdb", tables)})

	set, err := p.Plan(&Request{
		Metrics:    []string{"revenue"},
		Dimensions: []string{"partner_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	plan := set.Plans[0]
	if plan.TableSet.Table.Name != "main.sales_wide" {
		t.Errorf("table = %q", plan.TableSet.Table.Name)
	}
	if plan.TableSet.Join != nil {
		t.Errorf("expected no join, got %v", plan.TableSet.Join.TableNames())
	}
	if strings.Contains(plan.SQL, "JOIN") {
		t.Errorf("SQL should not join:\n%s", plan.SQL)
	}
}

// TestPlan_FullColumnNames proves that tables with full column names on
// namespace their output columns by datasource and table.
func TestPlan_FullColumnNames(t *testing.T) {
	reg := testRegistry(t)
	tables := testTables(t)
	for _, table := range tables {
		table.UseFullColumnNames = true
	}
	p := New(reg, []Source{newStubSource(t, "testdb", tables)})

	set, err := p.Plan(&Request{
		Metrics:    []string{"revenue"},
		Dimensions: []string{"partner_name"},
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	plan := set.Plans[0]
	if plan.Columns[0].Name != "testdb_main_partners_partner_name" {
		t.Errorf("dimension column = %q", plan.Columns[0].Name)
	}
	if plan.Columns[1].Name != "testdb_main_sales_revenue" {
		t.Errorf("metric column = %q", plan.Columns[1].Name)
	}
	if !strings.Contains(plan.SQL, `AS "testdb_main_sales_revenue"`) {
		t.Errorf("SQL missing namespaced alias:\n%s", plan.SQL)
	}
}

// TestPlan_RequestValidation proves the planner rejects empty requests,
// criteria on metrics, and criteria on formula dimensions.
func TestPlan_RequestValidation(t *testing.T) {
	p := testPlanner(t)

	if _, err := p.Plan(&Request{}); err == nil {
		t.Error("empty request should fail")
	} else if _, ok := err.(*errors.ErrInvalidReportConfig); !ok {
		t.Errorf("expected ErrInvalidReportConfig, got %T", err)
	}

	_, err := p.Plan(&Request{
		Metrics:    []string{"revenue"},
		Dimensions: []string{"partner_name"},
		Criteria:   []Criterion{{Field: "revenue", Op: ">", Value: 10}},
	})
	if _, ok := err.(*errors.ErrInvalidReportConfig); !ok {
		t.Errorf("criteria on a metric: expected ErrInvalidReportConfig, got %T: %v", err, err)
	}

	_, err = p.Plan(&Request{
		Metrics:    []string{"revenue"},
		Dimensions: []string{"partner_name"},
		Criteria:   []Criterion{{Field: "partner_label", Op: "=", Value: "x"}},
	})
	if _, ok := err.(*errors.ErrUnsupportedOperation); !ok {
		t.Errorf("criteria on a formula dimension: expected ErrUnsupportedOperation, got %T: %v", err, err)
	}
}
