package redflag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

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

// seedFixture writes a small partner funnel: the full table chain with
// just enough rows to execute against.
func seedFixture(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "partners.csv"),
		"id,name\n1,Partner A\n2,Partner B\n")
	writeFile(t, filepath.Join(dir, "campaigns.csv"),
		"id,name,partner_id\n1,Campaign 1A,1\n2,Campaign 1B,2\n")
	writeFile(t, filepath.Join(dir, "leads.csv"),
		"id,campaign_id\n1,1\n2,1\n3,2\n")
	writeFile(t, filepath.Join(dir, "sales.csv"),
		"id,lead_id,revenue\n1,1,16.5\n2,2,17.0\n3,3,9.25\n")
}

func funnelYAML(dir string) string {
	return fmt.Sprintf(`
datasources:
  sales:
    connect: "sqlite:///:memory:"
    metrics:
      - name: revenue
        type: decimal(10, 2)
        aggregation: sum
        rounding: 2
    dimensions:
      - name: partner_name
        type: string(32)
    tables:
      main.partners:
        type: dimension
        create_fields: true
        primary_key: [partner_id]
        data_url: "file://%[1]s/partners.csv"
        columns:
          id: {type: integer, fields: [partner_id]}
          name: {type: string(32), fields: [partner_name]}
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
`, dir)
}

// seedSplitRegionFixture writes a sales table whose region name and
// region code each live on two interchangeable lookup tables.
func seedSplitRegionFixture(t *testing.T, dir string) {
	t.Helper()
	names := "id,name\n1,North\n2,South\n"
	codes := "id,code\n1,N\n2,S\n"
	writeFile(t, filepath.Join(dir, "region_names_a.csv"), names)
	writeFile(t, filepath.Join(dir, "region_names_b.csv"), names)
	writeFile(t, filepath.Join(dir, "region_codes_a.csv"), codes)
	writeFile(t, filepath.Join(dir, "region_codes_b.csv"), codes)
	writeFile(t, filepath.Join(dir, "region_sales.csv"),
		"id,region_id,revenue\n1,1,10.0\n2,2,5.5\n3,1,4.5\n")
}

// splitRegionYAML declares four region lookup tables keyed by
// region_id. No lookup is the sole provider of its field, so every
// join is optional, and no single join reaches both region_name and
// region_code.
func splitRegionYAML(dir string) string {
	lookup := func(table, column, field string) string {
		return fmt.Sprintf(`      main.%[1]s:
        type: dimension
        create_fields: true
        primary_key: [region_id]
        data_url: "file://%[2]s/%[1]s.csv"
        columns:
          id: {type: integer, fields: [region_id]}
          %[3]s: {type: string(32), fields: [%[4]s]}
`, table, dir, column, field)
	}
	return fmt.Sprintf(`
datasources:
  sales:
    connect: "sqlite:///:memory:"
    metrics:
      - name: revenue
        type: decimal(10, 2)
        aggregation: sum
        rounding: 2
    dimensions:
      - name: region_name
        type: string(32)
      - name: region_code
        type: string(32)
    tables:
%s%s%s%s      main.region_sales:
        type: metric
        create_fields: true
        primary_key: [sale_id]
        data_url: "file://%s/region_sales.csv"
        columns:
          id: {type: integer, fields: [sale_id]}
          region_id: {type: integer, fields: [region_id]}
          revenue: {type: "decimal(10, 2)", fields: [revenue]}
`,
		lookup("region_names_a", "name", "region_name"),
		lookup("region_names_b", "name", "region_name"),
		lookup("region_codes_a", "code", "region_code"),
		lookup("region_codes_b", "code", "region_code"),
		dir)
}

func newSplitRegionWarehouse(t *testing.T, opts warehouse.Options) *warehouse.Warehouse {
	t.Helper()
	dir := t.TempDir()
	seedSplitRegionFixture(t, dir)

	cfg, err := warehouse.ParseConfig([]byte(splitRegionYAML(dir)))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	w, err := warehouse.New(context.Background(), "regions", cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func newWarehouse(t *testing.T, name string, opts warehouse.Options) *warehouse.Warehouse {
	t.Helper()
	dir := t.TempDir()
	seedFixture(t, dir)

	cfg, err := warehouse.ParseConfig([]byte(funnelYAML(dir)))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	w, err := warehouse.New(context.Background(), name, cfg, opts)
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

func metricRefs(names ...string) []models.FieldRef {
	refs := make([]models.FieldRef, len(names))
	for i, n := range names {
		refs[i] = models.FieldRef{Name: n}
	}
	return refs
}
