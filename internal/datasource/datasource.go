// Package datasource builds queryable datasources from declarative
// configs. Building a datasource opens its engine adapter, loads any
// ad-hoc tables declared with a data_url, creates fields from column
// bindings, attaches automatic datetime conversion dimensions, and
// assembles the join graph the planner works against.
package datasource

import (
	"context"
	"fmt"
	"sort"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/planner"
	"github.com/quarry-labs/quarry/internal/schema"
	"github.com/quarry-labs/quarry/internal/sql"
)

// DataSource is one configured, connected data backend. It owns the
// engine adapter, the datasource-scoped field registry, and the table
// graph built from its config.
type DataSource struct {
	name     string
	adapter  adapters.Adapter
	graph    *schema.Graph
	registry *fields.Registry
	warnings []string
}

var _ planner.Source = (*DataSource)(nil)

// New opens the configured connection and builds the datasource over it.
func New(ctx context.Context, name string, dscfg *Config, reg *adapters.Registry, cfg *config.Config) (*DataSource, error) {
	if dscfg == nil {
		return nil, errors.NewInvalidDataSourceConfig(name, "missing datasource config")
	}
	adapter, err := OpenAdapter(name, dscfg.Connect, reg, cfg)
	if err != nil {
		return nil, err
	}
	ds, err := FromAdapter(ctx, name, adapter, dscfg, cfg)
	if err != nil {
		adapter.Close()
		return nil, err
	}
	return ds, nil
}

// FromAdapter builds a datasource over an already open adapter. The
// adapter is owned by the returned datasource and closed with it.
func FromAdapter(ctx context.Context, name string, adapter adapters.Adapter, dscfg *Config, cfg *config.Config) (*DataSource, error) {
	if err := fields.ValidateFieldName(name); err != nil {
		return nil, errors.NewInvalidDataSourceConfig(name, "datasource names follow field naming rules")
	}
	if dscfg == nil {
		return nil, errors.NewInvalidDataSourceConfig(name, "missing datasource config")
	}
	if len(dscfg.Tables) == 0 {
		return nil, errors.NewInvalidDataSourceConfig(name, "config declares no tables")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ds := &DataSource{
		name:     name,
		adapter:  adapter,
		registry: fields.NewRegistry(name),
	}

	warnings, err := loadAdHocTables(ctx, name, adapter, dscfg.Tables, cfg)
	if err != nil {
		return nil, err
	}
	ds.warnings = warnings

	if err := ds.addConfigFields(dscfg); err != nil {
		return nil, err
	}

	tables, err := buildTables(name, dscfg.Tables)
	if err != nil {
		return nil, err
	}

	if err := ds.createColumnFields(tables); err != nil {
		return nil, err
	}

	if !dscfg.SkipConversionFields {
		if err := ds.addConversionFields(tables); err != nil {
			return nil, err
		}
	}

	graph, err := schema.NewGraph(name, tables, schema.Config{
		MaxJoins:          cfg.DataSourceMaxJoins,
		MaxJoinCandidates: cfg.DataSourceMaxJoinCandidates,
	})
	if err != nil {
		return nil, err
	}
	ds.graph = graph
	return ds, nil
}

// Name returns the datasource name.
func (ds *DataSource) Name() string { return ds.name }

// Graph returns the datasource's table graph.
func (ds *DataSource) Graph() *schema.Graph { return ds.graph }

// Dialect returns the SQL dialect queries against this datasource
// render in.
func (ds *DataSource) Dialect() *dialects.Dialect { return ds.adapter.Dialect() }

// Adapter returns the engine adapter queries execute on.
func (ds *DataSource) Adapter() adapters.Adapter { return ds.adapter }

// Registry returns the datasource-scoped field registry. The warehouse
// stacks it under its own registry.
func (ds *DataSource) Registry() *fields.Registry { return ds.registry }

// Warnings returns non-fatal observations from the build, such as
// duplicate rows dropped during ad-hoc table loads.
func (ds *DataSource) Warnings() []string { return ds.warnings }

// Ping checks that the backing engine is reachable.
func (ds *DataSource) Ping(ctx context.Context) error { return ds.adapter.Ping(ctx) }

// Close releases the engine connection.
func (ds *DataSource) Close() error { return ds.adapter.Close() }

// addConfigFields registers the metrics and dimensions the config
// declares, in declaration order. Declared fields win over anything the
// column scan would create later.
func (ds *DataSource) addConfigFields(dscfg *Config) error {
	for _, mc := range dscfg.Metrics {
		metrics, err := fields.CreateMetrics(mc)
		if err != nil {
			return err
		}
		for _, m := range metrics {
			if err := ds.registry.AddMetric(m); err != nil {
				return err
			}
		}
	}
	for _, dc := range dscfg.Dimensions {
		dim, err := fields.CreateDimension(dc)
		if err != nil {
			return err
		}
		if err := ds.registry.AddDimension(dim); err != nil {
			return err
		}
	}
	return nil
}

// buildTables constructs the table models in sorted name order,
// injecting default field bindings for columns that declare none.
func buildTables(ds string, configs map[string]*schema.TableConfig) ([]*schema.Table, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]*schema.Table, 0, len(names))
	for _, name := range names {
		cfg, err := withDefaultBindings(name, configs[name])
		if err != nil {
			return nil, err
		}
		t, err := schema.TableFromConfig(name, cfg)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// withDefaultBindings returns a table config where every column with an
// empty fields list is bound to its default field name: the bare column
// name, or table_column under use_full_column_names. The input config is
// never mutated.
func withDefaultBindings(tableName string, cfg *schema.TableConfig) (*schema.TableConfig, error) {
	if cfg == nil {
		return nil, errors.NewInvalidTableConfig(tableName, "missing table config")
	}
	needsDefault := false
	for _, col := range cfg.Columns {
		if col != nil && len(col.Fields) == 0 {
			needsDefault = true
			break
		}
	}
	if !needsDefault {
		return cfg, nil
	}

	out := *cfg
	out.Columns = make(map[string]*schema.ColumnConfig, len(cfg.Columns))
	for colName, col := range cfg.Columns {
		if col == nil || len(col.Fields) > 0 {
			out.Columns[colName] = col
			continue
		}
		name := defaultFieldName(tableName, colName, cfg.UseFullColumnNames)
		if err := fields.ValidateFieldName(name); err != nil {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("column %s: default field name %q is invalid", colName, name))
		}
		clone := *col
		clone.Fields = []schema.FieldBindingConfig{{Name: name}}
		out.Columns[colName] = &clone
	}
	return &out, nil
}

func defaultFieldName(tableName, colName string, useFullColumnNames *bool) string {
	useFull := true
	if useFullColumnNames != nil {
		useFull = *useFullColumnNames
	}
	if !useFull {
		return colName
	}
	return sql.DefaultFieldName(sql.ColumnFullName(tableName, colName))
}

// createColumnFields walks every active column binding and creates the
// fields that tables with create_fields ask for. Fields already known to
// the datasource, declared or created earlier in the walk, are left
// alone.
func (ds *DataSource) createColumnFields(tables []*schema.Table) error {
	for _, t := range tables {
		for _, col := range t.Columns {
			if !col.Active {
				continue
			}
			for _, b := range col.Bindings {
				var err error
				if t.IsMetricTable() {
					err = ds.createFromMetricTable(t, col, b)
				} else {
					err = ds.createFromDimensionTable(t, col, b)
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (ds *DataSource) createFromMetricTable(t *schema.Table, col *schema.Column, b schema.FieldBinding) error {
	if ds.registry.Has(b.Field) {
		return nil
	}
	if !t.CreateFields {
		return nil
	}
	if looksLikeMetric(t, col, b) {
		return ds.addColumnMetric(t, col, b.Field)
	}
	return ds.addColumnDimension(col, b.Field)
}

func (ds *DataSource) createFromDimensionTable(t *schema.Table, col *schema.Column, b schema.FieldBinding) error {
	if ds.registry.HasMetric(b.Field) {
		return errors.NewInvalidTableConfig(t.Name,
			fmt.Sprintf("dimension table binds metric field %s", b.Field))
	}
	if ds.registry.HasDimension(b.Field) {
		return nil
	}
	if !t.CreateFields {
		return nil
	}
	return ds.addColumnDimension(col, b.Field)
}

// looksLikeMetric guesses whether a binding on a metric table carries a
// measure. A ds_formula that already aggregates settles it; otherwise
// the column type and name decide.
func looksLikeMetric(t *schema.Table, col *schema.Column, b schema.FieldBinding) bool {
	if b.DSFormula != "" && fields.ContainsAggregateCall(b.DSFormula) {
		return true
	}
	return sql.IsProbablyMetric(col.Name, col.Type, columnInPrimaryKey(t, col))
}

func columnInPrimaryKey(t *schema.Table, col *schema.Column) bool {
	for _, pk := range t.PrimaryKey {
		if col.HasField(pk) {
			return true
		}
	}
	return false
}

func (ds *DataSource) addColumnMetric(t *schema.Table, col *schema.Column, name string) error {
	if !col.Type.IsNumeric() {
		return errors.NewInvalidTableConfig(t.Name,
			fmt.Sprintf("cannot infer an aggregation for metric %s from non-numeric column %s; declare the metric explicitly", name, col.Name))
	}
	inferred, err := sql.InferAggregation(col.Type)
	if err != nil {
		return err
	}
	cfg := fields.MetricConfig{
		Name:        name,
		Type:        col.Type.String(),
		Aggregation: string(inferred.Aggregation),
	}
	if inferred.HasRounding {
		rounding := inferred.Rounding
		cfg.Rounding = &rounding
	}
	created, err := fields.CreateMetrics(cfg)
	if err != nil {
		return err
	}
	return ds.registry.AddMetric(created[0])
}

func (ds *DataSource) addColumnDimension(col *schema.Column, name string) error {
	dim, err := fields.CreateDimension(fields.DimensionConfig{
		Name: name,
		Type: col.Type.String(),
	})
	if err != nil {
		return err
	}
	return ds.registry.AddDimension(dim)
}
