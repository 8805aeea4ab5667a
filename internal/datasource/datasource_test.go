package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/adapters/sqlite"
	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/schema"
	"github.com/quarry-labs/quarry/internal/sql"
)

func testAdapter(t *testing.T) adapters.Adapter {
	t.Helper()
	a, err := sqlite.Open("sqlite:///:memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func intPtr(i int) *int { return &i }

func boolPtr(b bool) *bool { return &b }

// salesConfig declares a partner -> campaign -> sale schema with one
// declared metric and field auto-creation on.
func salesConfig() *Config {
	return &Config{
		Metrics: []fields.MetricConfig{
			{Name: "revenue", Type: "decimal(10, 2)", Aggregation: "sum", Rounding: intPtr(2)},
		},
		Dimensions: []fields.DimensionConfig{
			{Name: "partner_name", Type: "string(32)"},
		},
		Tables: map[string]*schema.TableConfig{
			"main.partners": {
				Type:         "dimension",
				CreateFields: true,
				PrimaryKey:   []string{"partner_id"},
				Columns: map[string]*schema.ColumnConfig{
					"id":   {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "partner_id"}}},
					"name": {Type: "string(32)", Fields: []schema.FieldBindingConfig{{Name: "partner_name"}}},
					"created_at": {
						Type:                 "datetime",
						AllowTypeConversions: true,
						TypeConversionPrefix: "partner_created_",
						Fields:               []schema.FieldBindingConfig{{Name: "partner_created_at"}},
					},
				},
			},
			"main.campaigns": {
				Type:         "dimension",
				CreateFields: true,
				Parent:       "main.partners",
				PrimaryKey:   []string{"campaign_id"},
				Columns: map[string]*schema.ColumnConfig{
					"id":         {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "campaign_id"}}},
					"name":       {Type: "string(32)", Fields: []schema.FieldBindingConfig{{Name: "campaign_name"}}},
					"partner_id": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "partner_id"}}},
				},
			},
			"main.sales": {
				Type:         "metric",
				CreateFields: true,
				Parent:       "main.campaigns",
				PrimaryKey:   []string{"sale_id"},
				Columns: map[string]*schema.ColumnConfig{
					"id": {Type: "integer", Fields: []schema.FieldBindingConfig{
						{Name: "sale_id"},
						{Name: "sales", DSFormula: "COUNT(DISTINCT main.sales.id)"},
					}},
					"campaign_id": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "campaign_id"}}},
					"revenue":     {Type: "decimal(10, 2)", Fields: []schema.FieldBindingConfig{{Name: "revenue"}}},
				},
			},
		},
	}
}

// TestFromAdapter_BuildsRegistryAndGraph proves that config application
// produces a registry with declared and auto-created fields and a
// validated schema graph.
func TestFromAdapter_BuildsRegistryAndGraph(t *testing.T) {
	ds, err := FromAdapter(context.Background(), "testdb", testAdapter(t), salesConfig(), nil)
	if err != nil {
		t.Fatalf("FromAdapter: %v", err)
	}

	if ds.Name() != "testdb" || ds.Dialect().Name != "sqlite" {
		t.Errorf("name = %q dialect = %q", ds.Name(), ds.Dialect().Name)
	}
	if len(ds.Warnings()) != 0 {
		t.Errorf("warnings = %v", ds.Warnings())
	}

	reg := ds.Registry()
	// The declared metric wins over auto-creation, keeping its rounding.
	m, err := reg.GetMetric("revenue")
	if err != nil {
		t.Fatalf("GetMetric(revenue): %v", err)
	}
	revenue := m.(*fields.Metric)
	if revenue.Aggregation != sql.AggregationSum || revenue.Rounding == nil || *revenue.Rounding != 2 {
		t.Errorf("revenue = %+v", revenue)
	}

	// An aggregating ds_formula on a metric table creates a metric with
	// the aggregation inferred from the column type.
	m, err = reg.GetMetric("sales")
	if err != nil {
		t.Fatalf("GetMetric(sales): %v", err)
	}
	sales := m.(*fields.Metric)
	if sales.Aggregation != sql.AggregationSum || sales.Rounding == nil || *sales.Rounding != 0 {
		t.Errorf("sales = %+v", sales)
	}

	// Primary key and id-suffixed columns become dimensions.
	for _, name := range []string{"sale_id", "campaign_id", "partner_id", "partner_name", "campaign_name", "partner_created_at"} {
		if !reg.HasDimension(name) {
			t.Errorf("missing dimension %s", name)
		}
	}
	d, err := reg.GetDimension("campaign_id")
	if err != nil {
		t.Fatalf("GetDimension(campaign_id): %v", err)
	}
	if d.Type() != "integer" {
		t.Errorf("campaign_id type = %q", d.Type())
	}

	graph := ds.Graph()
	if graph.DataSource() != "testdb" {
		t.Errorf("graph datasource = %q", graph.DataSource())
	}
	for _, name := range []string{"main.partners", "main.campaigns", "main.sales"} {
		if _, ok := graph.Table(name); !ok {
			t.Errorf("graph missing table %s", name)
		}
	}
}

// TestFromAdapter_DefaultFieldBindings proves that columns without
// declared fields bind their default name: the bare column name when
// full column names are off, the table-qualified name otherwise.
func TestFromAdapter_DefaultFieldBindings(t *testing.T) {
	cfg := &Config{
		Tables: map[string]*schema.TableConfig{
			"main.partners": {
				Type:         "dimension",
				CreateFields: true,
				PrimaryKey:   []string{"partners_id"},
				Columns: map[string]*schema.ColumnConfig{
					"id":   {Type: "integer"},
					"name": {Type: "string(32)"},
				},
			},
			"main.regions": {
				Type:               "dimension",
				CreateFields:       true,
				PrimaryKey:         []string{"id"},
				UseFullColumnNames: boolPtr(false),
				Columns: map[string]*schema.ColumnConfig{
					"id":    {Type: "integer"},
					"label": {Type: "string(32)"},
				},
			},
		},
	}

	ds, err := FromAdapter(context.Background(), "testdb", testAdapter(t), cfg, nil)
	if err != nil {
		t.Fatalf("FromAdapter: %v", err)
	}

	reg := ds.Registry()
	for _, name := range []string{"partners_id", "partners_name", "id", "label"} {
		if !reg.HasDimension(name) {
			t.Errorf("missing dimension %s", name)
		}
	}
	if reg.Has("name") {
		t.Error("full-name table should not bind the bare column name")
	}

	table, ok := ds.Graph().Table("main.partners")
	if !ok {
		t.Fatal("graph missing main.partners")
	}
	col, ok := table.ColumnForField("partners_name")
	if !ok || col.Name != "name" {
		t.Errorf("partners_name bound to %+v", col)
	}
}

// TestFromAdapter_CreateFieldsOff proves that create_fields only gates
// registry auto-creation: table bindings survive either way.
func TestFromAdapter_CreateFieldsOff(t *testing.T) {
	cfg := salesConfig()
	cfg.Tables["main.sales"].CreateFields = false

	ds, err := FromAdapter(context.Background(), "testdb", testAdapter(t), cfg, nil)
	if err != nil {
		t.Fatalf("FromAdapter: %v", err)
	}

	reg := ds.Registry()
	if reg.HasMetric("sales") || reg.Has("sale_id") {
		t.Error("create_fields off should not auto-create sales table fields")
	}
	if !reg.HasMetric("revenue") {
		t.Error("declared metric should exist regardless of create_fields")
	}

	table, ok := ds.Graph().Table("main.sales")
	if !ok {
		t.Fatal("graph missing main.sales")
	}
	if !table.HasField("sales") || !table.HasField("sale_id") {
		t.Errorf("table fields = %v", table.FieldNames())
	}
}

// TestFromAdapter_ConversionFields proves that conversion-allowing
// datetime columns grow prefixed conversion dimensions bound through
// engine formulas, and that skip_conversion_fields turns this off.
func TestFromAdapter_ConversionFields(t *testing.T) {
	ds, err := FromAdapter(context.Background(), "testdb", testAdapter(t), salesConfig(), nil)
	if err != nil {
		t.Fatalf("FromAdapter: %v", err)
	}

	reg := ds.Registry()
	for _, name := range []string{"partner_created_year", "partner_created_month_name", "partner_created_date"} {
		if !reg.HasDimension(name) {
			t.Errorf("missing conversion dimension %s", name)
		}
	}
	d, err := reg.GetDimension("partner_created_year")
	if err != nil {
		t.Fatalf("GetDimension(partner_created_year): %v", err)
	}
	if d.(*fields.Dimension).Description() != "Automatic conversion field" {
		t.Errorf("description = %q", d.(*fields.Dimension).Description())
	}

	table, ok := ds.Graph().Table("main.partners")
	if !ok {
		t.Fatal("graph missing main.partners")
	}
	col, ok := table.Column("created_at")
	if !ok {
		t.Fatal("created_at column missing")
	}
	binding, ok := col.BindingFor("partner_created_year")
	if !ok {
		t.Fatal("created_at should bind partner_created_year")
	}
	if !strings.Contains(binding.DSFormula, "main.partners.created_at") {
		t.Errorf("conversion formula = %q", binding.DSFormula)
	}

	// With conversions skipped only the explicit bindings remain.
	cfg := salesConfig()
	cfg.SkipConversionFields = true
	ds, err = FromAdapter(context.Background(), "testdb", testAdapter(t), cfg, nil)
	if err != nil {
		t.Fatalf("FromAdapter with skip: %v", err)
	}
	if ds.Registry().Has("partner_created_year") {
		t.Error("skip_conversion_fields should suppress conversion dimensions")
	}
	if !ds.Registry().HasDimension("partner_created_at") {
		t.Error("explicit binding should survive skip_conversion_fields")
	}
}

// TestFromAdapter_ConversionClash proves that two same-type columns on
// one table cannot both allow conversions.
func TestFromAdapter_ConversionClash(t *testing.T) {
	cfg := &Config{
		Tables: map[string]*schema.TableConfig{
			"main.events": {
				Type:         "dimension",
				CreateFields: true,
				PrimaryKey:   []string{"event_id"},
				Columns: map[string]*schema.ColumnConfig{
					"id":         {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "event_id"}}},
					"created_at": {Type: "datetime", AllowTypeConversions: true, TypeConversionPrefix: "created_"},
					"updated_at": {Type: "datetime", AllowTypeConversions: true, TypeConversionPrefix: "updated_"},
				},
			},
		},
	}

	_, err := FromAdapter(context.Background(), "testdb", testAdapter(t), cfg, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*errors.ErrInvalidTableConfig); !ok {
		t.Fatalf("expected ErrInvalidTableConfig, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "created_at") || !strings.Contains(err.Error(), "updated_at") {
		t.Errorf("error should name both columns: %v", err)
	}
}

// TestFromAdapter_ConfigErrors proves malformed datasource configs fail
// with messages naming the problem.
func TestFromAdapter_ConfigErrors(t *testing.T) {
	cases := []struct {
		desc    string
		name    string
		cfg     *Config
		wantMsg string
	}{
		{
			desc:    "missing config",
			name:    "testdb",
			cfg:     nil,
			wantMsg: "missing datasource config",
		},
		{
			desc:    "invalid datasource name",
			name:    "bad name",
			cfg:     &Config{},
			wantMsg: "field naming rules",
		},
		{
			desc:    "no tables",
			name:    "testdb",
			cfg:     &Config{},
			wantMsg: "declares no tables",
		},
		{
			desc: "dimension table binds a metric",
			name: "testdb",
			cfg: &Config{
				Metrics: []fields.MetricConfig{
					{Name: "revenue", Type: "decimal(10, 2)", Aggregation: "sum"},
				},
				Tables: map[string]*schema.TableConfig{
					"main.partners": {
						Type:       "dimension",
						PrimaryKey: []string{"partner_id"},
						Columns: map[string]*schema.ColumnConfig{
							"id":  {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "partner_id"}}},
							"rev": {Type: "decimal(10, 2)", Fields: []schema.FieldBindingConfig{{Name: "revenue"}}},
						},
					},
				},
			},
			wantMsg: "binds metric field revenue",
		},
		{
			desc: "aggregating formula on a non-numeric column",
			name: "testdb",
			cfg: &Config{
				Tables: map[string]*schema.TableConfig{
					"main.codes": {
						Type:         "metric",
						CreateFields: true,
						PrimaryKey:   []string{"code_id"},
						Columns: map[string]*schema.ColumnConfig{
							"id": {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "code_id"}}},
							"code": {Type: "string(8)", Fields: []schema.FieldBindingConfig{
								{Name: "code_count", DSFormula: "COUNT(DISTINCT main.codes.code)"},
							}},
						},
					},
				},
			},
			wantMsg: "cannot infer an aggregation",
		},
	}

	for _, tc := range cases {
		_, err := FromAdapter(context.Background(), tc.name, testAdapter(t), tc.cfg, nil)
		if err == nil {
			t.Errorf("%s: expected error, got none", tc.desc)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantMsg) {
			t.Errorf("%s: error = %v, want %q", tc.desc, err, tc.wantMsg)
		}
	}
}

// TestConnectConfig_Forms proves connect decodes from both the bare URL
// and the connector-object form, in YAML and JSON.
func TestConnectConfig_Forms(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(`connect: "sqlite:///:memory:"`), &cfg); err != nil {
		t.Fatalf("yaml scalar: %v", err)
	}
	if cfg.Connect.URL != "sqlite:///:memory:" || cfg.Connect.Func != "" {
		t.Errorf("scalar form decoded wrong: %+v", cfg.Connect)
	}

	objectDoc := `
connect:
  func: url
  params:
    data_url: "https://example.com/sales.db"
`
	cfg = Config{}
	if err := yaml.Unmarshal([]byte(objectDoc), &cfg); err != nil {
		t.Fatalf("yaml object: %v", err)
	}
	if cfg.Connect.Func != "url" || cfg.Connect.URL != "" {
		t.Errorf("object form decoded wrong: %+v", cfg.Connect)
	}
	if cfg.Connect.Params["data_url"] != "https://example.com/sales.db" {
		t.Errorf("params = %v", cfg.Connect.Params)
	}

	cfg = Config{}
	if err := json.Unmarshal([]byte(`{"connect": "sqlite:///x.db"}`), &cfg); err != nil {
		t.Fatalf("json scalar: %v", err)
	}
	if cfg.Connect.URL != "sqlite:///x.db" {
		t.Errorf("json scalar decoded wrong: %+v", cfg.Connect)
	}
}

// TestOpenAdapter proves connect configs route through the adapter
// registry for URLs and through named connectors for funcs.
func TestOpenAdapter(t *testing.T) {
	reg := adapters.NewRegistry()
	reg.Register("sqlite", sqlite.Open)

	a, err := OpenAdapter("testdb", ConnectConfig{URL: "sqlite:///:memory:"}, reg, nil)
	if err != nil {
		t.Fatalf("OpenAdapter url: %v", err)
	}
	a.Close()

	var gotParams map[string]interface{}
	RegisterConnector("stub", func(req *ConnectRequest) (adapters.Adapter, error) {
		gotParams = req.Params
		return req.Adapters.Open("sqlite:///:memory:")
	})
	a, err = OpenAdapter("testdb", ConnectConfig{
		Func:   "stub",
		Params: map[string]interface{}{"flavor": "plain"},
	}, reg, nil)
	if err != nil {
		t.Fatalf("OpenAdapter func: %v", err)
	}
	a.Close()
	if gotParams["flavor"] != "plain" {
		t.Errorf("connector params = %v", gotParams)
	}

	_, err = OpenAdapter("testdb", ConnectConfig{URL: "sqlite:///:memory:", Func: "stub"}, reg, nil)
	if _, ok := err.(*errors.ErrInvalidDataSourceConfig); !ok {
		t.Errorf("url and func together: expected ErrInvalidDataSourceConfig, got %T: %v", err, err)
	}

	_, err = OpenAdapter("testdb", ConnectConfig{Func: "mystery"}, reg, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown connector") {
		t.Errorf("unknown connector: %v", err)
	}

	_, err = OpenAdapter("testdb", ConnectConfig{}, reg, nil)
	if err == nil {
		t.Error("empty connect should fail")
	}
}

// TestAdHoc_CSVLoad proves a CSV data_url loads through the full build:
// configured columns only, type conversions applied, duplicate primary
// keys dropped with a warning.
func TestAdHoc_CSVLoad(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "partners.csv")
	writeFile(t, csvPath, "id,name,score,ignored\n1,Partner A,1.5,x\n2,Partner B,2.5,y\n2,Partner B,2.5,z\n")

	cfg := &Config{
		Tables: map[string]*schema.TableConfig{
			"main.partners": {
				Type:         "dimension",
				CreateFields: true,
				PrimaryKey:   []string{"partner_id"},
				DataURL:      "file://" + csvPath,
				DropDupes:    true,
				ConvertTypes: map[string]string{"score": "float"},
				Columns: map[string]*schema.ColumnConfig{
					"id":    {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "partner_id"}}},
					"name":  {Type: "string(32)", Fields: []schema.FieldBindingConfig{{Name: "partner_name"}}},
					"score": {Type: "string(16)", Fields: []schema.FieldBindingConfig{{Name: "partner_score"}}},
				},
			},
		},
	}

	ctx := context.Background()
	ds, err := FromAdapter(ctx, "testdb", testAdapter(t), cfg, config.DefaultConfig())
	if err != nil {
		t.Fatalf("FromAdapter: %v", err)
	}

	res, err := ds.Adapter().Query(ctx, "SELECT COUNT(*) FROM main.partners")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Rows[0][0] != int64(2) {
		t.Errorf("row count = %v", res.Rows[0][0])
	}

	res, err = ds.Adapter().Query(ctx, "SELECT score FROM main.partners WHERE id = ?", 1)
	if err != nil {
		t.Fatalf("Query score: %v", err)
	}
	if res.Rows[0][0] != float64(1.5) {
		t.Errorf("converted score = %v (%T)", res.Rows[0][0], res.Rows[0][0])
	}

	if len(ds.Warnings()) != 1 || !strings.Contains(ds.Warnings()[0], "1 duplicate") {
		t.Errorf("warnings = %v", ds.Warnings())
	}
}

// TestAdHoc_IfExistsModes proves the if_exists modes against an already
// loaded table: fail errors, ignore keeps it, replace reloads it.
func TestAdHoc_IfExistsModes(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "prices.csv")
	writeFile(t, csvPath, "id,price\n1,10.5\n2,20.5\n")

	newConfigs := func(mode string) map[string]*schema.TableConfig {
		return map[string]*schema.TableConfig{
			"main.prices": {
				Type:       "metric",
				PrimaryKey: []string{"price_id"},
				DataURL:    csvPath,
				IfExists:   mode,
				Columns: map[string]*schema.ColumnConfig{
					"id":    {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "price_id"}}},
					"price": {Type: "float", Fields: []schema.FieldBindingConfig{{Name: "price"}}},
				},
			},
		}
	}

	ctx := context.Background()
	adapter := testAdapter(t)
	cfg := config.DefaultConfig()

	count := func() int64 {
		t.Helper()
		res, err := adapter.Query(ctx, "SELECT COUNT(*) FROM main.prices")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		return res.Rows[0][0].(int64)
	}

	if _, err := loadAdHocTables(ctx, "testdb", adapter, newConfigs("fail"), cfg); err != nil {
		t.Fatalf("first load: %v", err)
	}
	// A marker row makes reloads observable.
	if err := adapter.Exec(ctx, "INSERT INTO main.prices (id, price) VALUES (?, ?)", 3, 30.5); err != nil {
		t.Fatalf("marker insert: %v", err)
	}
	if got := count(); got != 3 {
		t.Fatalf("seeded count = %d", got)
	}

	_, err := loadAdHocTables(ctx, "testdb", adapter, newConfigs("fail"), cfg)
	if err == nil {
		t.Fatal("fail mode should reject an existing table")
	}
	if _, ok := err.(*errors.ErrInvalidTableConfig); !ok || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("fail mode error = %T: %v", err, err)
	}

	if _, err := loadAdHocTables(ctx, "testdb", adapter, newConfigs("ignore"), cfg); err != nil {
		t.Fatalf("ignore mode: %v", err)
	}
	if got := count(); got != 3 {
		t.Errorf("ignore mode count = %d, want 3", got)
	}

	if _, err := loadAdHocTables(ctx, "testdb", adapter, newConfigs("replace"), cfg); err != nil {
		t.Fatalf("replace mode: %v", err)
	}
	if got := count(); got != 2 {
		t.Errorf("replace mode count = %d, want 2", got)
	}

	_, err = loadAdHocTables(ctx, "testdb", adapter, newConfigs("overwrite"), cfg)
	if err == nil || !strings.Contains(err.Error(), "invalid if_exists") {
		t.Errorf("invalid mode error = %v", err)
	}
}

// TestAdHoc_JSONLoad proves JSON data loads from both the bare-array
// and the data-wrapper form, with JSON numbers coerced to integer
// columns and missing keys loaded as NULL.
func TestAdHoc_JSONLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "events.json"),
		`[{"id": 1, "label": "signup"}, {"id": 2}]`)
	writeFile(t, filepath.Join(dir, "wrapped.json"),
		`{"data": [{"id": 7, "label": "renewal"}]}`)

	configs := map[string]*schema.TableConfig{
		"main.events": {
			Type:       "dimension",
			PrimaryKey: []string{"event_id"},
			DataURL:    filepath.Join(dir, "events.json"),
			Columns: map[string]*schema.ColumnConfig{
				"id":    {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "event_id"}}},
				"label": {Type: "string(16)", Fields: []schema.FieldBindingConfig{{Name: "event_label"}}},
			},
		},
		"main.renewals": {
			Type:       "dimension",
			PrimaryKey: []string{"renewal_id"},
			DataURL:    filepath.Join(dir, "wrapped.json"),
			Columns: map[string]*schema.ColumnConfig{
				"id":    {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "renewal_id"}}},
				"label": {Type: "string(16)", Fields: []schema.FieldBindingConfig{{Name: "renewal_label"}}},
			},
		},
	}

	ctx := context.Background()
	adapter := testAdapter(t)
	if _, err := loadAdHocTables(ctx, "testdb", adapter, configs, config.DefaultConfig()); err != nil {
		t.Fatalf("loadAdHocTables: %v", err)
	}

	res, err := adapter.Query(ctx, "SELECT id, label FROM main.events ORDER BY id")
	if err != nil {
		t.Fatalf("Query events: %v", err)
	}
	if res.RowCount != 2 || res.Rows[0][0] != int64(1) || res.Rows[0][1] != "signup" {
		t.Errorf("events rows = %v", res.Rows)
	}
	if res.Rows[1][1] != nil {
		t.Errorf("missing key should load as NULL, got %v", res.Rows[1][1])
	}

	res, err = adapter.Query(ctx, "SELECT label FROM main.renewals")
	if err != nil {
		t.Fatalf("Query renewals: %v", err)
	}
	if res.RowCount != 1 || res.Rows[0][0] != "renewal" {
		t.Errorf("renewals rows = %v", res.Rows)
	}
}

// TestAdHoc_DownloadsRemoteData proves remote data URLs download into
// the ad-hoc directory under a datasource-scoped name before loading.
func TestAdHoc_DownloadsRemoteData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "id,name\n1,Remote A\n2,Remote B\n")
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AdHocDataSourceDirectory = dir

	configs := map[string]*schema.TableConfig{
		"main.partners": {
			Type:       "dimension",
			PrimaryKey: []string{"partner_id"},
			DataURL:    srv.URL + "/partners.csv",
			Columns: map[string]*schema.ColumnConfig{
				"id":   {Type: "integer", Fields: []schema.FieldBindingConfig{{Name: "partner_id"}}},
				"name": {Type: "string(32)", Fields: []schema.FieldBindingConfig{{Name: "partner_name"}}},
			},
		},
	}

	ctx := context.Background()
	adapter := testAdapter(t)
	if _, err := loadAdHocTables(ctx, "testdb", adapter, configs, cfg); err != nil {
		t.Fatalf("loadAdHocTables: %v", err)
	}

	res, err := adapter.Query(ctx, "SELECT COUNT(*) FROM main.partners")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Rows[0][0] != int64(2) {
		t.Errorf("row count = %v", res.Rows[0][0])
	}

	cached := filepath.Join(dir, "testdb_main_partners.csv")
	if _, err := os.Stat(cached); err != nil {
		t.Errorf("expected cached download at %s: %v", cached, err)
	}
}

type noAdHocAdapter struct {
	adapters.Adapter
	dialect *dialects.Dialect
}

func (a *noAdHocAdapter) Name() string { return "trino" }

func (a *noAdHocAdapter) Capabilities() dialects.CapabilitySet { return a.dialect.Capabilities }

// TestAdHoc_RequiresCapability proves engines without ad-hoc table
// support reject data_url tables up front.
func TestAdHoc_RequiresCapability(t *testing.T) {
	dialect, err := dialects.Get("trino")
	if err != nil {
		t.Fatalf("Get(trino): %v", err)
	}

	configs := map[string]*schema.TableConfig{
		"t": {DataURL: "file:///nope.csv"},
	}
	_, err = loadAdHocTables(context.Background(), "testdb", &noAdHocAdapter{dialect: dialect}, configs, config.DefaultConfig())
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*errors.ErrUnsupportedOperation); !ok {
		t.Fatalf("expected ErrUnsupportedOperation, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "trino") {
		t.Errorf("error should name the engine: %v", err)
	}
}

// TestFetchDataFile_RemoteCaching proves the download cache honors the
// if_exists modes, including age-based replacement.
func TestFetchDataFile_RemoteCaching(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "id\n1\n")
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "cache.csv")
	dataURL := srv.URL + "/data.csv"

	if _, err := fetchDataFile(dataURL, out, IfExistsFail, ""); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d", hits)
	}

	if _, err := fetchDataFile(dataURL, out, IfExistsIgnore, ""); err != nil {
		t.Fatalf("ignore fetch: %v", err)
	}
	if hits != 1 {
		t.Errorf("ignore should reuse the cache, hits = %d", hits)
	}

	if _, err := fetchDataFile(dataURL, out, IfExistsReplace, ""); err != nil {
		t.Fatalf("replace fetch: %v", err)
	}
	if hits != 2 {
		t.Errorf("replace should redownload, hits = %d", hits)
	}

	if _, err := fetchDataFile(dataURL, out, IfExistsReplaceAfter, "1 hours"); err != nil {
		t.Fatalf("replace_after fetch: %v", err)
	}
	if hits != 2 {
		t.Errorf("fresh cache should be reused, hits = %d", hits)
	}

	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(out, stale, stale); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if _, err := fetchDataFile(dataURL, out, IfExistsReplaceAfter, "1 hours"); err != nil {
		t.Fatalf("stale fetch: %v", err)
	}
	if hits != 3 {
		t.Errorf("stale cache should redownload, hits = %d", hits)
	}

	if _, err := fetchDataFile(dataURL, out, IfExistsFail, ""); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("fail mode error = %v", err)
	}
}

// TestParseReplaceAfter proves the "number interval" format with plural
// units only.
func TestParseReplaceAfter(t *testing.T) {
	valid := []struct {
		in   string
		want time.Duration
	}{
		{"30 seconds", 30 * time.Second},
		{"1.5 hours", 90 * time.Minute},
		{"1 days", 24 * time.Hour},
		{"2 weeks", 14 * 24 * time.Hour},
	}
	for _, tc := range valid {
		got, err := parseReplaceAfter(tc.in)
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, in := range []string{"1 day", "soon", "five days", "1", "10 months"} {
		if _, err := parseReplaceAfter(in); err == nil {
			t.Errorf("%q should fail", in)
		}
	}
}
