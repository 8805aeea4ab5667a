package greenflag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/quarry-labs/quarry/internal/report"
	"github.com/quarry-labs/quarry/internal/store"
	"github.com/quarry-labs/quarry/internal/warehouse"
	"github.com/quarry-labs/quarry/pkg/models"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func intPtr(i int) *int { return &i }

// num converts a numeric cell for comparison. Aggregates come back as
// int64 or float64 depending on what SQLite stored.
func num(t *testing.T, v interface{}) float64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case int:
		return float64(n)
	}
	t.Fatalf("cell %v (%T) is not numeric", v, v)
	return 0
}

// seedFixture writes the partner funnel dataset: three partners, four
// campaigns, seven leads, eighteen sales, a sibling tier table, and an
// aggregated spend table for the second datasource.
func seedFixture(t *testing.T, dir string) {
	t.Helper()

	writeFile(t, filepath.Join(dir, "partners.csv"),
		`id,name,created_at
1,Partner A,2019-01-02 09:00:00
2,Partner B,2019-01-03 09:00:00
3,Partner C,2019-01-04 09:00:00
`)

	writeFile(t, filepath.Join(dir, "partner_tiers.csv"),
		`id,tier
1,gold
2,silver
3,bronze
`)

	writeFile(t, filepath.Join(dir, "campaigns.csv"),
		`id,name,partner_id,created_at
1,Campaign 1A,1,2019-03-26 21:02:15
2,Campaign 2A,1,2019-03-26 21:02:15
3,Campaign 1B,2,2019-03-26 21:02:15
4,Campaign 1C,3,2019-03-26 21:02:15
`)

	writeFile(t, filepath.Join(dir, "leads.csv"),
		`id,campaign_id,created_at
1,1,2019-04-01 10:00:00
2,1,2019-04-02 10:00:00
3,2,2019-04-03 10:00:00
4,2,2019-04-04 10:00:00
5,3,2019-04-05 10:00:00
6,3,2019-04-06 10:00:00
7,4,2019-04-07 10:00:00
`)

	// One sale per day so rolling windows over sale_date see one row
	// per period. Unit prices are uniform within a partner, so each
	// partner's weighted average price is exact while the overall
	// average depends on the quantities.
	writeFile(t, filepath.Join(dir, "sales.csv"),
		`id,lead_id,revenue,qty,unit_price,created_at
1,1,16.0,1,10.0,2020-01-05 11:00:00
2,1,16.0,1,10.0,2020-01-08 11:00:00
3,1,17.0,1,10.0,2020-01-11 11:00:00
4,2,17.0,1,10.0,2020-01-14 11:00:00
5,2,17.0,1,10.0,2020-01-17 11:00:00
6,3,14.0,1,10.0,2020-02-03 11:00:00
7,3,14.0,1,10.0,2020-02-06 11:00:00
8,3,14.0,1,10.0,2020-02-09 11:00:00
9,4,14.0,1,10.0,2020-02-12 11:00:00
10,4,13.0,1,10.0,2020-02-15 11:00:00
11,4,13.0,1,10.0,2020-02-18 11:00:00
12,5,9.0,3,20.0,2020-03-02 11:00:00
13,6,10.0,3,20.0,2020-03-05 11:00:00
14,7,20.0,2,31.0,2020-04-01 11:00:00
15,7,20.0,2,31.0,2020-04-04 11:00:00
16,7,25.0,2,31.0,2020-04-07 11:00:00
17,7,25.0,2,31.0,2020-04-10 11:00:00
18,7,28.5,2,31.0,2020-04-13 11:00:00
`)

	writeFile(t, filepath.Join(dir, "partner_spend.csv"),
		`partner,spend
Partner A,50.5
Partner B,10.25
Partner C,40.0
`)
}

// funnelYAML declares the warehouse: a sales datasource holding the
// partner -> campaign -> lead -> sale chain plus a sibling tier table,
// and a finance datasource already aggregated to partner grain.
func funnelYAML(dir string) string {
	return fmt.Sprintf(`
meta:
  name: adtech

metrics:
  - name: revenue_per_lead
    formula: 1.0*{revenue}/{leads}
    rounding: 2

datasources:
  sales:
    connect: "sqlite:///:memory:"
    metrics:
      - name: revenue
        type: decimal(10, 2)
        aggregation: sum
        rounding: 1
      - name: quantity
        type: integer
        aggregation: sum
      - name: avg_price
        type: decimal(10, 2)
        aggregation: mean
        weighting_metric: quantity
        rounding: 2
    dimensions:
      - name: partner_name
        type: string(32)
    tables:
      main.partners:
        type: dimension
        create_fields: true
        siblings: [main.partner_tiers]
        primary_key: [partner_id]
        data_url: "file://%[1]s/partners.csv"
        columns:
          id: {type: integer, fields: [partner_id]}
          name: {type: string(32), fields: [partner_name]}
          created_at:
            type: datetime
            allow_type_conversions: true
            type_conversion_prefix: partner_created_
            fields: [partner_created_at]
      main.partner_tiers:
        type: dimension
        create_fields: true
        primary_key: [partner_id]
        data_url: "file://%[1]s/partner_tiers.csv"
        columns:
          id: {type: integer, fields: [partner_id]}
          tier: {type: string(16), fields: [partner_tier]}
      main.campaigns:
        type: dimension
        create_fields: true
        parent: main.partners
        primary_key: [campaign_id]
        data_url: "file://%[1]s/campaigns.csv"
        columns:
          id: {type: integer, fields: [campaign_id]}
          name: {type: string(32), fields: [campaign_name]}
          partner_id: {type: integer, fields: [partner_id]}
          created_at:
            type: datetime
            allow_type_conversions: true
            type_conversion_prefix: campaign_created_
            fields: [campaign_created_at]
      main.leads:
        type: metric
        create_fields: true
        parent: main.campaigns
        primary_key: [lead_id]
        data_url: "file://%[1]s/leads.csv"
        columns:
          id:
            type: integer
            fields:
              - lead_id
              - {name: leads, ds_formula: "COUNT(DISTINCT main.leads.id)"}
          campaign_id: {type: integer, fields: [campaign_id]}
      main.sales:
        type: metric
        create_fields: true
        parent: main.leads
        primary_key: [sale_id]
        data_url: "file://%[1]s/sales.csv"
        columns:
          id:
            type: integer
            fields:
              - sale_id
              - {name: sales, ds_formula: "COUNT(DISTINCT main.sales.id)"}
          lead_id: {type: integer, fields: [lead_id]}
          revenue: {type: "decimal(10, 2)", fields: [revenue]}
          qty: {type: integer, fields: [quantity]}
          unit_price: {type: "decimal(10, 2)", fields: [avg_price]}
          created_at:
            type: datetime
            allow_type_conversions: true
            type_conversion_prefix: sale_
            fields: [sale_created_at]
  finance:
    connect: "sqlite:///:memory:"
    metrics:
      - name: spend
        type: decimal(10, 2)
        aggregation: sum
        rounding: 2
    dimensions:
      - name: partner_name
        type: string(32)
    tables:
      main.partner_spend:
        type: metric
        create_fields: true
        primary_key: [partner_name]
        data_url: "file://%[1]s/partner_spend.csv"
        columns:
          partner: {type: string(32), fields: [partner_name]}
          spend: {type: "decimal(10, 2)", fields: [spend]}

ds_priority: [sales, finance]
`, dir)
}

// newWarehouse builds the fixture warehouse. Options customize the
// store or config; the datasources and seed data are fixed.
func newWarehouse(t *testing.T, opts warehouse.Options) *warehouse.Warehouse {
	t.Helper()
	dir := t.TempDir()
	seedFixture(t, dir)

	cfg, err := warehouse.ParseConfig([]byte(funnelYAML(dir)))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	w, err := warehouse.New(context.Background(), "adtech", cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func testStore(t *testing.T) *store.SQLStore {
	t.Helper()
	st, err := store.Open("sqlite://")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return st
}

func run(t *testing.T, w *warehouse.Warehouse, params *models.ReportParams) *report.Result {
	t.Helper()
	res, err := w.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func metricRefs(names ...string) []models.FieldRef {
	refs := make([]models.FieldRef, len(names))
	for i, n := range names {
		refs[i] = models.FieldRef{Name: n}
	}
	return refs
}
