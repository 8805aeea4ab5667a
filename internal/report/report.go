// Package report runs one report end to end: params validation,
// planning, datasource query execution, the combined layer, and the
// post-processing passes that shape the final frame.
package report

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/combined"
	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/observability"
	"github.com/quarry-labs/quarry/internal/planner"
	"github.com/quarry-labs/quarry/internal/sql"
	"github.com/quarry-labs/quarry/pkg/models"
)

// Source is the report's view of one datasource: the planner's view
// plus the adapter its queries execute on.
type Source interface {
	planner.Source
	Adapter() adapters.Adapter
}

// SpecLoader resolves stored report spec ids for "in report" criteria.
type SpecLoader interface {
	LoadSpec(id int64) (*models.ReportParams, error)
}

// Deps carries everything a report needs from its warehouse.
type Deps struct {
	// Registry is the warehouse registry with datasource scopes attached.
	Registry *fields.Registry

	// Sources are the datasources in priority order.
	Sources []Source

	// Config is the process configuration. Nil means defaults.
	Config *config.Config

	// Logger receives the report's outcome entry. Nil disables logging.
	Logger observability.ReportLogger

	// Warehouse labels log entries.
	Warehouse string

	// Specs resolves stored spec ids in "in report" criteria. Nil means
	// only inline subreport params are accepted.
	Specs SpecLoader
}

// Report is one validated report request and its execution state.
type Report struct {
	id     string
	deps   Deps
	params *models.ReportParams

	// reg is the warehouse registry stacked with this report's ad-hoc
	// fields.
	reg        *fields.Registry
	metrics    []string
	dimensions []string
	criteria   []models.Criterion
	rowFilters []models.Criterion
	orderBy    []models.OrderBy
	pivot      []string
	limit      int
	limitFirst bool

	rollupLevels int
	rollupGrand  bool
	rollupSet    bool

	mu            sync.Mutex
	state         State
	killRequested bool
	cancel        context.CancelFunc
	active        []*activeQuery
	result        *Result
}

// activeQuery is one in-flight datasource query whose engine-side id
// is known, addressable by KillQuery.
type activeQuery struct {
	source string
	id     string
}

// rowFilterOps are the operators allowed in row filters over the final
// frame.
var rowFilterOps = map[string]struct{}{
	sql.OpEqual: {}, sql.OpNotEqual: {},
	sql.OpGreater: {}, sql.OpGreaterEqual: {},
	sql.OpLess: {}, sql.OpLessEqual: {},
	sql.OpIn: {}, sql.OpNotIn: {},
	sql.OpLike: {}, sql.OpNotLike: {},
}

// New validates params against the warehouse registry and returns a
// report in the Ready state.
func New(deps Deps, params *models.ReportParams) (*Report, error) {
	if params == nil {
		return nil, errors.NewInvalidReportConfig("missing report params")
	}
	if deps.Registry == nil || len(deps.Sources) == 0 {
		return nil, errors.NewInvalidReportConfig("report requires a registry and at least one datasource")
	}
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	if len(params.Metrics) == 0 && len(params.Dimensions) == 0 {
		return nil, errors.NewInvalidReportConfig("no metrics or dimensions requested")
	}
	if params.Limit < 0 {
		return nil, errors.NewInvalidReportConfig("limit must be >= 0")
	}

	r := &Report{
		id:         newReportID(),
		deps:       deps,
		params:     params,
		limit:      params.Limit,
		limitFirst: params.LimitFirst,
		state:      StateCreated,
	}

	adhoc := fields.NewRegistry("report")
	haveAdHoc := false

	for _, ref := range params.Metrics {
		if ref.IsAdHoc() {
			technical, err := fields.ParseTechnical(ref.Technical)
			if err != nil {
				return nil, err
			}
			m, err := fields.NewAdHocMetric(ref.Name, ref.Formula, ref.Rounding, technical, ref.RequiredGrain)
			if err != nil {
				return nil, err
			}
			if deps.Registry.Has(ref.Name) {
				return nil, errors.NewInvalidReportConfig(
					fmt.Sprintf("ad-hoc metric %q shadows a warehouse field", ref.Name))
			}
			if err := adhoc.AddMetric(m); err != nil {
				return nil, err
			}
			haveAdHoc = true
		}
		r.metrics = append(r.metrics, ref.Name)
	}
	for _, ref := range params.Dimensions {
		if ref.IsAdHoc() {
			d, err := fields.NewAdHocDimension(ref.Name, ref.Formula)
			if err != nil {
				return nil, err
			}
			if deps.Registry.Has(ref.Name) {
				return nil, errors.NewInvalidReportConfig(
					fmt.Sprintf("ad-hoc dimension %q shadows a warehouse field", ref.Name))
			}
			if err := adhoc.AddDimension(d); err != nil {
				return nil, err
			}
			haveAdHoc = true
		}
		r.dimensions = append(r.dimensions, ref.Name)
	}

	r.reg = deps.Registry
	if haveAdHoc {
		r.reg = fields.Stacked(deps.Registry, adhoc)
		for _, f := range adhoc.Fields() {
			if err := r.reg.CheckFormula(f); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range r.metrics {
		if !r.reg.HasMetric(name) {
			return nil, errors.NewNotFound("metric", name)
		}
	}
	for _, name := range r.dimensions {
		if !r.reg.HasDimension(name) {
			return nil, errors.NewNotFound("dimension", name)
		}
	}

	for _, c := range params.Criteria {
		op, err := sql.NormalizeOperator(c.Op)
		if err != nil {
			return nil, err
		}
		if !r.reg.Has(c.Field) {
			return nil, errors.NewNotFound("field", c.Field)
		}
		r.criteria = append(r.criteria, models.Criterion{Field: c.Field, Op: op, Value: c.Value})
	}

	outputs := map[string]struct{}{}
	for _, name := range r.dimensions {
		outputs[name] = struct{}{}
	}
	for _, name := range r.metrics {
		outputs[name] = struct{}{}
	}

	for _, f := range params.RowFilters {
		op, err := sql.NormalizeOperator(f.Op)
		if err != nil {
			return nil, err
		}
		if _, ok := rowFilterOps[op]; !ok {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("operator %q is not allowed in row filters", f.Op))
		}
		if _, ok := outputs[f.Field]; !ok {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("row filter field %q is not a report column", f.Field))
		}
		r.rowFilters = append(r.rowFilters, models.Criterion{Field: f.Field, Op: op, Value: f.Value})
	}

	for _, o := range params.OrderBy {
		if _, ok := outputs[o.Field]; !ok {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("order_by field %q is not a report column", o.Field))
		}
		r.orderBy = append(r.orderBy, o)
	}

	for _, p := range params.Pivot {
		found := false
		for _, d := range r.dimensions {
			if d == p {
				found = true
				break
			}
		}
		if !found {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("pivot field %q is not a report dimension", p))
		}
		r.pivot = append(r.pivot, p)
	}

	levels, grand, set, err := params.Rollup.Levels(len(r.dimensions))
	if err != nil {
		return nil, errors.NewInvalidReportConfig(err.Error())
	}
	if set && len(r.dimensions) == 0 {
		return nil, errors.NewInvalidReportConfig("rollup requires at least one dimension")
	}
	r.rollupLevels, r.rollupGrand, r.rollupSet = levels, grand, set

	r.state = StateReady
	return r, nil
}

// ID returns the report's run id.
func (r *Report) ID() string { return r.id }

// Params returns the params the report was built from.
func (r *Report) Params() *models.ReportParams { return r.params }

// Result returns the finished result, or nil before completion.
func (r *Report) Result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Kill requests cancellation. It is idempotent and a no-op on terminal
// states. The kill is honored at the next suspension point; in-flight
// queries stop through context cancellation, and queries whose engine
// reported an id also get an engine-side kill.
func (r *Report) Kill() {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.killRequested = true
	cancel := r.cancel
	active := make([]activeQuery, len(r.active))
	for i, q := range r.active {
		active[i] = *q
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.killActiveQueries(active)
}

// killActiveQueries asks each engine to stop the report's in-flight
// queries by id. Best effort: context cancellation remains the
// backstop for engines that never reported one.
func (r *Report) killActiveQueries(active []activeQuery) {
	if len(active) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, q := range active {
		if source := r.sourceFor(q.source); source != nil {
			_ = source.Adapter().KillQuery(ctx, q.id)
		}
	}
}

func (r *Report) killed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killRequested
}

func (r *Report) killCheck() error {
	if r.killed() {
		return errors.NewReportKilled(r.id)
	}
	return nil
}

// Execute runs the report to completion and returns its result. A
// report executes once; terminal states refuse re-execution.
func (r *Report) Execute(ctx context.Context) (*Result, error) {
	start := time.Now()
	result, err := r.execute(ctx)
	if result != nil {
		result.Duration = time.Since(start)
	}
	r.logOutcome(ctx, result, err, time.Since(start))
	return result, err
}

func (r *Report) execute(ctx context.Context) (*Result, error) {
	if err := r.setState(StatePlanning); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	set, err := r.plan(ctx)
	if err != nil {
		return nil, r.fail(err)
	}

	survivors, warnings, err := r.surviveDropped(set)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.setState(StateQueued); err != nil {
		return nil, r.fail(err)
	}

	db, err := combined.Open()
	if err != nil {
		return nil, r.fail(err)
	}
	defer db.Close()

	if err := r.setState(StateRunning); err != nil {
		return nil, r.fail(err)
	}

	summaries, err := r.runPlans(ctx, db, set.Plans)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.killCheck(); err != nil {
		return nil, r.fail(err)
	}
	if err := r.setState(StateCombining); err != nil {
		return nil, r.fail(err)
	}

	scratch, err := dialects.Get("sqlite")
	if err != nil {
		return nil, r.fail(err)
	}
	q, err := combined.BuildQuery(r.reg, set.Plans, survivors, r.dimensions,
		scratch.Has(dialects.CapabilityFullOuterJoin))
	if err != nil {
		return nil, r.fail(err)
	}

	res, err := db.Query(ctx, q.SQL)
	if err != nil {
		return nil, r.fail(err)
	}

	result, err := r.postprocess(q, res.Rows)
	if err != nil {
		return nil, r.fail(err)
	}
	result.QuerySummaries = summaries
	result.Warnings = append(append(append(result.Warnings, set.Warnings...), q.Warnings...), warnings...)

	if err := r.setState(StateFinished); err != nil {
		return nil, r.fail(err)
	}
	r.mu.Lock()
	r.result = result
	r.mu.Unlock()
	return result, nil
}

// plan resolves subreport criteria and runs the planner.
func (r *Report) plan(ctx context.Context) (*planner.PlanSet, error) {
	criteria, err := r.resolveCriteria(ctx)
	if err != nil {
		return nil, err
	}
	req := &planner.Request{
		Metrics:      r.metrics,
		Dimensions:   r.dimensions,
		Criteria:     criteria,
		AllowPartial: r.params.AllowPartial,
	}
	sources := make([]planner.Source, len(r.deps.Sources))
	for i, s := range r.deps.Sources {
		sources[i] = s
	}
	return planner.New(r.reg, sources).Plan(req)
}

// resolveCriteria turns "in report" criteria into plain membership
// criteria by executing their subreports.
func (r *Report) resolveCriteria(ctx context.Context) ([]planner.Criterion, error) {
	out := make([]planner.Criterion, 0, len(r.criteria))
	for _, c := range r.criteria {
		if c.Op != sql.OpInReport && c.Op != sql.OpNotInReport {
			out = append(out, planner.Criterion{Field: c.Field, Op: c.Op, Value: c.Value})
			continue
		}
		values, err := r.subreportValues(ctx, c)
		if err != nil {
			return nil, err
		}
		op := sql.OpIn
		if c.Op == sql.OpNotInReport {
			op = sql.OpNotIn
		}
		out = append(out, planner.Criterion{Field: c.Field, Op: op, Value: values})
	}
	return out, nil
}

func (r *Report) subreportValues(ctx context.Context, c models.Criterion) ([]interface{}, error) {
	params, err := r.subreportParams(c)
	if err != nil {
		return nil, err
	}
	sub, err := New(r.deps, params)
	if err != nil {
		return nil, err
	}
	result, err := sub.Execute(ctx)
	if err != nil {
		return nil, err
	}
	var values []interface{}
	for i, row := range result.Rows {
		if result.IsRollupRow(i) || len(row) == 0 {
			continue
		}
		values = append(values, row[0])
	}
	if len(values) == 0 {
		return nil, errors.NewInvalidReportConfig(
			fmt.Sprintf("criteria subreport for %q returned no values", c.Field))
	}
	return values, nil
}

// subreportParams resolves a criterion value to report params: a stored
// spec id or an inline params object.
func (r *Report) subreportParams(c models.Criterion) (*models.ReportParams, error) {
	switch v := c.Value.(type) {
	case int, int64, float64:
		if r.deps.Specs == nil {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("criteria on %q references a stored spec but no spec store is attached", c.Field))
		}
		id, err := asSpecID(v)
		if err != nil {
			return nil, errors.NewInvalidReportConfig(err.Error())
		}
		return r.deps.Specs.LoadSpec(id)
	case map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("criteria subreport params on %q do not serialize: %v", c.Field, err))
		}
		var params models.ReportParams
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("criteria subreport params on %q are invalid: %v", c.Field, err))
		}
		return &params, nil
	case *models.ReportParams:
		return v, nil
	}
	return nil, errors.NewInvalidReportConfig(
		fmt.Sprintf("criteria on %q: %q takes a stored spec id or inline params", c.Field, c.Op))
}

func asSpecID(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("spec id must be an integer, got %v", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("spec id must be an integer, got %v", v)
}

// surviveDropped removes requested metrics whose leaves were dropped
// under allow_partial, carrying a warning per removed metric.
func (r *Report) surviveDropped(set *planner.PlanSet) ([]string, []string, error) {
	if len(set.DroppedMetrics) == 0 {
		return r.metrics, nil, nil
	}
	dropped := make(map[string]struct{}, len(set.DroppedMetrics))
	for _, m := range set.DroppedMetrics {
		dropped[m] = struct{}{}
	}

	var survivors, warnings []string
	for _, name := range r.metrics {
		field, err := r.reg.GetMetric(name)
		if err != nil {
			return nil, nil, err
		}
		leaves, _, err := field.FormulaFields(r.reg, 0)
		if err != nil {
			return nil, nil, err
		}
		if len(leaves) == 0 {
			leaves = []string{name}
		}
		lost := false
		for _, leaf := range leaves {
			if _, ok := dropped[leaf]; ok {
				lost = true
				break
			}
		}
		if lost {
			if _, ok := dropped[name]; !ok {
				warnings = append(warnings,
					fmt.Sprintf("metric %s dropped: a leaf it depends on is unsatisfiable at the grain", name))
			}
			continue
		}
		survivors = append(survivors, name)
	}
	return survivors, warnings, nil
}

// fail moves the report to its terminal error state: Killed when a kill
// was requested, Failed otherwise.
func (r *Report) fail(cause error) error {
	if r.killed() {
		_ = r.setState(StateKilled)
		if _, ok := cause.(*errors.ErrReportKilled); ok {
			return cause
		}
		return errors.NewReportKilled(r.id)
	}
	_ = r.setState(StateFailed)
	return cause
}

func (r *Report) logOutcome(ctx context.Context, result *Result, execErr error, took time.Duration) {
	if r.deps.Logger == nil {
		return
	}
	entry := observability.ReportLogEntry{
		ReportID:      r.id,
		Warehouse:     r.deps.Warehouse,
		Metrics:       r.metrics,
		Dimensions:    r.dimensions,
		State:         string(r.State()),
		ExecutionTime: took,
	}
	if result != nil {
		entry.RowCount = len(result.Rows)
		entry.QueryCount = len(result.QuerySummaries)
		seen := map[string]struct{}{}
		for _, qs := range result.QuerySummaries {
			if _, ok := seen[qs.DataSource]; ok {
				continue
			}
			seen[qs.DataSource] = struct{}{}
			entry.DataSources = append(entry.DataSources, qs.DataSource)
		}
	}
	if execErr != nil {
		entry.Error = execErr.Error()
	}
	_ = r.deps.Logger.LogReport(ctx, entry)
}

func newReportID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
