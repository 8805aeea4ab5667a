package combined

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/planner"
	"github.com/quarry-labs/quarry/internal/sql"
)

// Query is the rendered combining statement together with the shape of
// the frame it produces.
type Query struct {
	// SQL is the combining SELECT over the loaded plan tables.
	SQL string

	// Columns are the output column names: requested dimensions first,
	// then requested metrics, both in request order.
	Columns []string

	// DimensionCount is the number of leading dimension columns.
	DimensionCount int

	// WeightedHelpers locate the numerator and denominator sums selected
	// after the visible columns for each weighted mean metric. Rollup
	// passes recombine from these instead of averaging the averages.
	WeightedHelpers []WeightedHelper

	// Warnings describe non-fatal rendering decisions.
	Warnings []string
}

// WeightedHelper names one weighted mean metric and the row positions
// of its numerator and denominator sums.
type WeightedHelper struct {
	Metric   string
	NumIndex int
	DenIndex int
}

// spineTable names the grain spine CTE used when the scratch engine
// cannot join plan tables with FULL OUTER JOIN.
const spineTable = "grain_spine"

// BuildQuery renders the combining statement: one row per grain value,
// dimensions coalesced across plan tables, metrics re-aggregated by
// their combined-layer aggregation, formula fields expanded in place.
// Metrics and dimensions are the report-level requested names; formula
// fields resolve against reg, which must include any ad-hoc scope.
func BuildQuery(reg *fields.Registry, plans []*planner.Plan, metrics, dimensions []string, fullOuterJoin bool) (*Query, error) {
	if len(plans) == 0 {
		return nil, errors.NewInvalidReportConfig("no plans to combine")
	}

	env := &combineEnv{
		reg:     reg,
		dimRefs: map[string][]string{},
		leaves:  map[string]leafColumns{},
	}
	for _, p := range plans {
		env.addPlan(p)
	}

	out := &Query{DimensionCount: len(dimensions)}
	useSpine := len(plans) > 1 && len(plans[0].Dimensions) > 0 && !fullOuterJoin
	if useSpine {
		env.spineDims = plans[0].Dimensions
		out.Warnings = append(out.Warnings,
			"scratch engine lacks FULL OUTER JOIN; combining through a grain spine")
	}

	q := &sql.SelectQuery{GroupBy: len(dimensions), QuoteRune: '"'}

	for _, name := range dimensions {
		expr, err := env.dimensionOutput(name)
		if err != nil {
			return nil, err
		}
		q.Select(expr, name)
		out.Columns = append(out.Columns, name)
	}
	for _, name := range metrics {
		expr, err := env.metricOutput(name)
		if err != nil {
			return nil, err
		}
		q.Select(expr, name)
		out.Columns = append(out.Columns, name)
	}

	// Weighted means also surface their summed parts so rollups over the
	// frame can reweight instead of averaging the averages.
	next := len(out.Columns)
	for _, name := range metrics {
		lc := env.leaves[name]
		if lc.num == "" || lc.den == "" {
			continue
		}
		q.Select(fmt.Sprintf("SUM(%s)", lc.num), fields.WeightingNumeratorName(name))
		q.Select(fmt.Sprintf("SUM(%s)", lc.den), fields.WeightingDenominatorName(name))
		out.WeightedHelpers = append(out.WeightedHelpers, WeightedHelper{
			Metric: name, NumIndex: next, DenIndex: next + 1,
		})
		next += 2
	}

	var with string
	if useSpine {
		with = env.spineCTE(plans) + "\n"
		q.From = spineTable
		for _, p := range plans {
			q.Join("LEFT JOIN", p.TempTable, "", env.spineJoinCondition(p))
		}
	} else {
		q.From = plans[0].TempTable
		for i := 1; i < len(plans); i++ {
			kind := "FULL OUTER JOIN"
			if len(plans[0].Dimensions) == 0 || !fullOuterJoin {
				// Grainless plans carry one row each; a plain join pairs them.
				kind = "LEFT JOIN"
			}
			q.Join(kind, plans[i].TempTable, "", env.joinCondition(plans[:i], plans[i]))
		}
	}

	// Stable grain order keeps rollup and technical passes deterministic.
	for i := 1; i <= len(dimensions); i++ {
		q.OrderBy = append(q.OrderBy, strconv.Itoa(i))
	}

	text, _ := q.SQL()
	out.SQL = with + text
	return out, nil
}

// leafColumns locates a leaf metric's loaded columns. Weighted metrics
// land as a numerator and denominator pair; everything else as one
// value column.
type leafColumns struct {
	value string
	num   string
	den   string
}

func (lc leafColumns) complete() bool {
	return lc.value != "" || (lc.num != "" && lc.den != "")
}

type combineEnv struct {
	reg       *fields.Registry
	dimRefs   map[string][]string
	leaves    map[string]leafColumns
	spineDims []string
}

func (e *combineEnv) addPlan(p *planner.Plan) {
	for _, col := range p.Columns {
		ref := p.TempTable + "." + quoteIdent(col.Name)
		if col.Dimension {
			e.dimRefs[col.Field] = append(e.dimRefs[col.Field], ref)
			continue
		}
		lc := e.leaves[col.Field]
		if lc.complete() {
			continue
		}
		switch {
		case strings.HasSuffix(col.Name, fields.WeightingNumeratorName(col.Field)):
			lc.num = ref
		case strings.HasSuffix(col.Name, fields.WeightingDenominatorName(col.Field)):
			lc.den = ref
		default:
			lc.value = ref
		}
		e.leaves[col.Field] = lc
	}
}

// dimExpr is the combined expression for one leaf dimension: the spine
// column under spine mode, otherwise a coalesce over every plan table
// that carries it.
func (e *combineEnv) dimExpr(name string) (string, error) {
	if len(e.spineDims) > 0 {
		for _, d := range e.spineDims {
			if d == name {
				return spineTable + "." + quoteIdent(name), nil
			}
		}
	}
	refs := e.dimRefs[name]
	switch len(refs) {
	case 0:
		return "", errors.NewInvalidReportConfig(
			fmt.Sprintf("dimension %s is not present in any plan", name))
	case 1:
		return refs[0], nil
	}
	return "COALESCE(" + strings.Join(refs, ", ") + ")", nil
}

// metricLeafExpr re-aggregates one leaf metric across the grain rows
// the join produced. Additive aggregations and counts sum their partial
// results; weighted means recombine from the numerator and denominator
// pair.
func (e *combineEnv) metricLeafExpr(name string) (string, error) {
	field, err := e.reg.GetMetric(name)
	if err != nil {
		return "", err
	}
	lc, ok := e.leaves[name]
	if !ok || !lc.complete() {
		return "", errors.NewInvalidReportConfig(
			fmt.Sprintf("metric %s is not present in any plan", name))
	}

	var expr string
	if lc.num != "" {
		expr = fmt.Sprintf("SUM(%s) * 1.0 / NULLIF(SUM(%s), 0)", lc.num, lc.den)
	} else {
		agg, _ := fields.MetricAggregation(field)
		switch agg {
		case sql.AggregationMean:
			expr = fmt.Sprintf("AVG(%s)", lc.value)
		case sql.AggregationMin:
			expr = fmt.Sprintf("MIN(%s)", lc.value)
		case sql.AggregationMax:
			expr = fmt.Sprintf("MAX(%s)", lc.value)
		default:
			// sum, count, count_distinct: partials add up.
			expr = fmt.Sprintf("SUM(%s)", lc.value)
		}
	}
	if v := fields.MetricIfNull(field); v != nil {
		expr = fmt.Sprintf("COALESCE(%s, %s)", expr, strconv.FormatFloat(*v, 'g', -1, 64))
	}
	return expr, nil
}

// metricOutput renders the select expression for one requested metric.
// Formula metrics expand with each leaf replaced by its combined
// expression.
func (e *combineEnv) metricOutput(name string) (string, error) {
	field, err := e.reg.GetMetric(name)
	if err != nil {
		return "", err
	}
	leaves, expanded, err := field.FormulaFields(e.reg, 0)
	if err != nil {
		return "", err
	}
	if len(leaves) == 0 {
		return e.metricLeafExpr(name)
	}

	var refErr error
	expr := fields.ReplaceReferences(expanded, func(ref string) string {
		var leafExpr string
		var err error
		if e.reg.HasMetric(ref) {
			leafExpr, err = e.metricLeafExpr(ref)
		} else {
			leafExpr, err = e.dimExpr(ref)
		}
		if err != nil && refErr == nil {
			refErr = err
		}
		return leafExpr
	})
	if refErr != nil {
		return "", refErr
	}
	if v := fields.MetricIfNull(field); v != nil {
		expr = fmt.Sprintf("COALESCE(%s, %s)", expr, strconv.FormatFloat(*v, 'g', -1, 64))
	}
	return expr, nil
}

// dimensionOutput renders the select expression for one requested
// dimension, expanding formula dimensions over their leaves.
func (e *combineEnv) dimensionOutput(name string) (string, error) {
	field, err := e.reg.GetDimension(name)
	if err != nil {
		return "", err
	}
	leaves, expanded, err := field.FormulaFields(e.reg, 0)
	if err != nil {
		return "", err
	}
	if len(leaves) == 0 {
		return e.dimExpr(name)
	}

	var refErr error
	expr := fields.ReplaceReferences(expanded, func(ref string) string {
		leafExpr, err := e.dimExpr(ref)
		if err != nil && refErr == nil {
			refErr = err
		}
		return leafExpr
	})
	if refErr != nil {
		return "", refErr
	}
	return expr, nil
}

// joinCondition matches a new plan table to the tables already joined,
// one null-safe equality per grain dimension. The left side coalesces
// over the prior tables so keys contributed by any of them match.
func (e *combineEnv) joinCondition(prior []*planner.Plan, next *planner.Plan) string {
	dims := next.Dimensions
	if len(dims) == 0 {
		return "1 = 1"
	}
	conds := make([]string, 0, len(dims))
	for _, dim := range dims {
		left := e.priorRefs(prior, dim)
		right := e.planRef(next, dim)
		conds = append(conds, right+" IS "+left)
	}
	return strings.Join(conds, " AND ")
}

func (e *combineEnv) priorRefs(prior []*planner.Plan, dim string) string {
	refs := make([]string, 0, len(prior))
	for _, p := range prior {
		if ref := e.planRef(p, dim); ref != "" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 1 {
		return refs[0]
	}
	return "COALESCE(" + strings.Join(refs, ", ") + ")"
}

func (e *combineEnv) planRef(p *planner.Plan, dim string) string {
	for _, col := range p.Columns {
		if col.Dimension && col.Field == dim {
			return p.TempTable + "." + quoteIdent(col.Name)
		}
	}
	return ""
}

// spineCTE renders the grain spine: the union of every plan's grain
// values, each column aliased to its field name.
func (e *combineEnv) spineCTE(plans []*planner.Plan) string {
	var b strings.Builder
	b.WriteString("WITH ")
	b.WriteString(spineTable)
	b.WriteString(" AS (\n")
	for i, p := range plans {
		if i > 0 {
			b.WriteString("\nUNION\n")
		}
		b.WriteString("SELECT ")
		for j, dim := range p.Dimensions {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.planRef(p, dim))
			b.WriteString(" AS ")
			b.WriteString(quoteIdent(dim))
		}
		b.WriteString(" FROM ")
		b.WriteString(p.TempTable)
	}
	b.WriteString("\n)")
	return b.String()
}

func (e *combineEnv) spineJoinCondition(p *planner.Plan) string {
	conds := make([]string, 0, len(p.Dimensions))
	for _, dim := range p.Dimensions {
		conds = append(conds, e.planRef(p, dim)+" IS "+spineTable+"."+quoteIdent(dim))
	}
	if len(conds) == 0 {
		return "1 = 1"
	}
	return strings.Join(conds, " AND ")
}

func quoteIdent(name string) string {
	return sql.QuoteIdentifier(name, '"')
}

func typeDecl(t sql.ColumnType) string {
	return sql.TypeDecl(t)
}
