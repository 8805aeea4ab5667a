package warehouse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/adapters/bigquery"
	"github.com/quarry-labs/quarry/internal/adapters/duckdb"
	"github.com/quarry-labs/quarry/internal/adapters/postgres"
	"github.com/quarry-labs/quarry/internal/adapters/redshift"
	"github.com/quarry-labs/quarry/internal/adapters/snowflake"
	"github.com/quarry-labs/quarry/internal/adapters/sqlite"
	"github.com/quarry-labs/quarry/internal/adapters/trino"
	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/datasource"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/observability"
	"github.com/quarry-labs/quarry/internal/report"
	"github.com/quarry-labs/quarry/internal/store"
	"github.com/quarry-labs/quarry/pkg/models"
)

// DefaultAdapters returns an adapter registry with every built-in
// engine registered.
func DefaultAdapters() *adapters.Registry {
	reg := adapters.NewRegistry()
	reg.Register("sqlite", sqlite.Open)
	reg.Register("duckdb", duckdb.Open)
	reg.Register("postgres", postgres.Open)
	reg.Register("postgresql", postgres.Open)
	reg.Register("redshift", redshift.Open)
	reg.Register("snowflake", snowflake.Open)
	reg.Register("trino", trino.Open)
	reg.Register("bigquery", bigquery.Open)
	return reg
}

// Options configures warehouse construction. Zero values mean defaults:
// the built-in adapter registry, default process config, no logging and
// no metadata store.
type Options struct {
	Adapters  *adapters.Registry
	Config    *config.Config
	Logger    observability.ReportLogger
	Store     store.Store
	ConfigURL string
}

// Warehouse is a built, connected warehouse: its own fields stacked
// over the registries of its datasources, ready to run reports.
type Warehouse struct {
	name      string
	cfg       *Config
	configURL string
	registry  *fields.Registry
	sources   []*datasource.DataSource
	logger    observability.ReportLogger
	config    *config.Config
	store     store.Store
	storeID   int64
	warnings  []string
}

// New builds a warehouse from a parsed config: creates the warehouse
// fields, opens every datasource in priority order, stacks the
// registries and verifies that every formula field resolves.
func New(ctx context.Context, name string, cfg *Config, opts Options) (*Warehouse, error) {
	if name == "" {
		return nil, errors.NewInvalidWarehouseConfig("warehouse name is required")
	}
	if cfg == nil {
		return nil, errors.NewInvalidWarehouseConfig("missing warehouse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Adapters == nil {
		opts.Adapters = DefaultAdapters()
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNoopLogger()
	}

	w := &Warehouse{
		name:      name,
		cfg:       cfg,
		configURL: opts.ConfigURL,
		registry:  fields.NewRegistry(name),
		logger:    opts.Logger,
		config:    opts.Config,
		store:     opts.Store,
	}

	if err := w.addConfigFields(cfg); err != nil {
		return nil, err
	}

	for _, dsName := range cfg.orderedNames() {
		ref := cfg.DataSources[dsName]
		if ref == nil || ref.Config == nil {
			w.closeSources()
			return nil, errors.NewInvalidDataSourceConfig(dsName, "missing datasource config")
		}
		ds, err := datasource.New(ctx, dsName, ref.Config, opts.Adapters, opts.Config)
		if err != nil {
			w.closeSources()
			return nil, err
		}
		w.sources = append(w.sources, ds)
		w.registry.AddChild(ds.Registry())
		for _, warning := range ds.Warnings() {
			w.warnings = append(w.warnings, fmt.Sprintf("%s: %s", dsName, warning))
		}
	}

	if err := w.checkFormulas(); err != nil {
		w.closeSources()
		return nil, err
	}
	return w, nil
}

// Load rebuilds a registered warehouse from its stored config URL.
func Load(ctx context.Context, name string, st store.Store, opts Options) (*Warehouse, error) {
	if st == nil {
		return nil, errors.NewInvalidWarehouseConfig("loading a warehouse requires a store")
	}
	rec, err := st.GetWarehouse(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(rec.ConfigURL)
	if err != nil {
		return nil, err
	}
	opts.Store = st
	opts.ConfigURL = rec.ConfigURL
	w, err := New(ctx, name, cfg, opts)
	if err != nil {
		return nil, err
	}
	w.storeID = rec.ID
	return w, nil
}

// addConfigFields registers warehouse-level metrics and dimensions in
// declaration order. They shadow same-named datasource fields.
func (w *Warehouse) addConfigFields(cfg *Config) error {
	for _, mc := range cfg.Metrics {
		metrics, err := fields.CreateMetrics(mc)
		if err != nil {
			return err
		}
		for _, m := range metrics {
			if err := w.registry.AddMetric(m); err != nil {
				return err
			}
		}
	}
	for _, dc := range cfg.Dimensions {
		dim, err := fields.CreateDimension(dc)
		if err != nil {
			return err
		}
		if err := w.registry.AddDimension(dim); err != nil {
			return err
		}
	}
	return nil
}

// checkFormulas verifies every formula field against the full stacked
// registry. Warehouse formulas may reference datasource fields, so this
// runs only after all registries are attached.
func (w *Warehouse) checkFormulas() error {
	for _, f := range w.registry.Fields() {
		if err := w.registry.CheckFormula(f); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the warehouse name.
func (w *Warehouse) Name() string { return w.name }

// Registry returns the stacked field registry.
func (w *Warehouse) Registry() *fields.Registry { return w.registry }

// Sources returns the datasources in execution priority order.
func (w *Warehouse) Sources() []*datasource.DataSource { return w.sources }

// Warnings returns non-fatal observations from the build.
func (w *Warehouse) Warnings() []string { return w.warnings }

// AddMetric registers a metric on the warehouse level after the build.
func (w *Warehouse) AddMetric(cfg fields.MetricConfig) error {
	metrics, err := fields.CreateMetrics(cfg)
	if err != nil {
		return err
	}
	for _, m := range metrics {
		if err := w.registry.CheckFormula(m); err != nil {
			return err
		}
		if err := w.registry.AddMetric(m); err != nil {
			return err
		}
	}
	return nil
}

// AddDimension registers a dimension on the warehouse level after the
// build.
func (w *Warehouse) AddDimension(cfg fields.DimensionConfig) error {
	dim, err := fields.CreateDimension(cfg)
	if err != nil {
		return err
	}
	if err := w.registry.CheckFormula(dim); err != nil {
		return err
	}
	return w.registry.AddDimension(dim)
}

// NewReport validates params against this warehouse and returns a
// report ready to execute.
func (w *Warehouse) NewReport(params *models.ReportParams) (*report.Report, error) {
	deps := report.Deps{
		Registry:  w.registry,
		Config:    w.config,
		Logger:    w.logger,
		Warehouse: w.name,
	}
	for _, ds := range w.sources {
		deps.Sources = append(deps.Sources, ds)
	}
	if w.store != nil {
		deps.Specs = &specLoader{store: w.store, warehouseID: w.storeID}
	}
	return report.New(deps, params)
}

// Execute runs one report to completion.
func (w *Warehouse) Execute(ctx context.Context, params *models.ReportParams) (*report.Result, error) {
	r, err := w.NewReport(params)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx)
}

// ExecuteID runs a saved report spec.
func (w *Warehouse) ExecuteID(ctx context.Context, specID int64) (*report.Result, error) {
	params, err := w.loadSpec(ctx, specID)
	if err != nil {
		return nil, err
	}
	return w.Execute(ctx, params)
}

// SaveSpec validates report params and stores them under this
// warehouse, returning the spec id. The warehouse must be saved first.
func (w *Warehouse) SaveSpec(ctx context.Context, params *models.ReportParams) (int64, error) {
	if w.store == nil {
		return 0, errors.NewUnsupportedOperation("save spec", "requires a store")
	}
	if w.storeID == 0 {
		return 0, errors.NewUnsupportedOperation("save spec", "save the warehouse first")
	}
	if _, err := w.NewReport(params); err != nil {
		return 0, err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return 0, errors.NewInvalidReportConfig(fmt.Sprintf("params do not serialize: %v", err))
	}
	return w.store.SaveReportSpec(ctx, w.storeID, string(data))
}

// DeleteSpec removes a saved spec by id.
func (w *Warehouse) DeleteSpec(ctx context.Context, specID int64) error {
	if w.store == nil {
		return errors.NewUnsupportedOperation("delete spec", "requires a store")
	}
	if _, err := w.loadSpec(ctx, specID); err != nil {
		return err
	}
	return w.store.DeleteReportSpec(ctx, specID)
}

// Save registers the warehouse in the store, keyed by name. The stored
// hash lets a later load detect config drift.
func (w *Warehouse) Save(ctx context.Context) (int64, error) {
	if w.store == nil {
		return 0, errors.NewUnsupportedOperation("save warehouse", "requires a store")
	}
	hash, err := ConfigHash(w.cfg)
	if err != nil {
		return 0, err
	}
	id, err := w.store.SaveWarehouse(ctx, w.name, w.configURL, hash)
	if err != nil {
		return 0, err
	}
	w.storeID = id
	return id, nil
}

// ConfigHash returns the hex sha256 of a config's canonical JSON form.
func ConfigHash(cfg *Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", errors.NewInvalidWarehouseConfig(fmt.Sprintf("config does not serialize: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Health pings every datasource and the store. The map holds one entry
// per component, nil for healthy.
func (w *Warehouse) Health(ctx context.Context) map[string]error {
	health := make(map[string]error, len(w.sources)+1)
	for _, ds := range w.sources {
		health[ds.Name()] = ds.Ping(ctx)
	}
	if w.store != nil {
		health["store"] = w.store.Ping(ctx)
	}
	return health
}

// Close releases every datasource connection. The store is shared and
// stays open.
func (w *Warehouse) Close() error {
	var firstErr error
	for _, ds := range w.sources {
		if err := ds.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.sources = nil
	return firstErr
}

func (w *Warehouse) closeSources() {
	for _, ds := range w.sources {
		ds.Close()
	}
	w.sources = nil
}

// loadSpec reads a saved spec, checks it belongs to this warehouse and
// decodes its params.
func (w *Warehouse) loadSpec(ctx context.Context, specID int64) (*models.ReportParams, error) {
	if w.store == nil {
		return nil, errors.NewUnsupportedOperation("load spec", "requires a store")
	}
	rec, err := w.store.GetReportSpec(ctx, specID)
	if err != nil {
		return nil, err
	}
	if w.storeID != 0 && rec.WarehouseID != w.storeID {
		return nil, errors.NewNotFound("report spec", fmt.Sprintf("%d", specID))
	}
	params := &models.ReportParams{}
	if err := json.Unmarshal([]byte(rec.ParamsJSON), params); err != nil {
		return nil, errors.NewInvalidReportConfig(fmt.Sprintf("stored spec %d does not parse: %v", specID, err))
	}
	return params, nil
}

// specLoader resolves stored spec ids for subreport criteria.
type specLoader struct {
	store       store.Store
	warehouseID int64
}

func (l *specLoader) LoadSpec(id int64) (*models.ReportParams, error) {
	rec, err := l.store.GetReportSpec(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if l.warehouseID != 0 && rec.WarehouseID != l.warehouseID {
		return nil, errors.NewNotFound("report spec", fmt.Sprintf("%d", id))
	}
	params := &models.ReportParams{}
	if err := json.Unmarshal([]byte(rec.ParamsJSON), params); err != nil {
		return nil, errors.NewInvalidReportConfig(fmt.Sprintf("stored spec %d does not parse: %v", id, err))
	}
	return params, nil
}
