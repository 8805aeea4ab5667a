package planner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/schema"
	"github.com/quarry-labs/quarry/internal/sql"
)

// Plan is one executable datasource query: the rendered SQL, the table
// set it reads, and the schema the combined layer ingests the result
// under.
type Plan struct {
	// DataSource names the datasource the query runs against.
	DataSource string

	// TableSet is the table and join chain the query reads.
	TableSet *schema.TableSet

	// Metrics are the leaf metrics this query produces, in request order.
	Metrics []string

	// Dimensions are the grain dimensions selected, shared across plans.
	Dimensions []string

	// TempTable names the combined-layer table the result loads into.
	TempTable string

	// Columns describe the select list in order: dimensions first, then
	// metric columns. A weighted metric contributes two columns.
	Columns []IngestColumn

	// SQL is the rendered statement; Args are its bind values in
	// placeholder order.
	SQL  string
	Args []interface{}
}

// IngestColumn maps one select-list column to the field it carries and
// the combined-layer column it loads into.
type IngestColumn struct {
	// Name is the column's alias in the result set and its column name
	// in the combined layer.
	Name string

	// Field is the warehouse field the column carries. A weighted
	// metric's numerator and denominator both carry the metric's name.
	Field string

	// Type is the declared type used for combined-layer storage.
	Type sql.ColumnType

	// Dimension marks grain columns; the combined layer joins on them.
	Dimension bool
}

// newPlan compiles one query for a table set: grain dimensions first,
// then the assigned metrics, joins from the table set's join chain,
// criteria against raw columns, and a positional GROUP BY.
func newPlan(src Source, ts *schema.TableSet, metrics []string, exp *expansion, criteria []Criterion, reg *fields.Registry, index int) (*Plan, error) {
	plan := &Plan{
		DataSource: src.Name(),
		TableSet:   ts,
		Metrics:    metrics,
		Dimensions: exp.dimensions,
		TempTable:  "dsq_" + strconv.Itoa(index),
	}

	dialect := src.Dialect()
	q := &sql.SelectQuery{
		From:      ts.Table.Name,
		Prefix:    ts.Table.PrefixWith,
		GroupBy:   len(exp.dimensions),
		QuoteRune: dialect.QuoteRune,
	}

	for _, dim := range exp.dimensions {
		col, binding, err := resolveColumn(ts, dim)
		if err != nil {
			return nil, err
		}
		ic := IngestColumn{
			Name:      combinedColumnName(plan.DataSource, col.Table(), dim),
			Field:     dim,
			Type:      ingestType(reg, dim, col),
			Dimension: true,
		}
		q.Select(bindingExpression(col, binding), ic.Name)
		plan.Columns = append(plan.Columns, ic)
	}

	for _, name := range metrics {
		field, err := reg.GetMetric(name)
		if err != nil {
			return nil, err
		}
		if rg := fields.MetricRequiredGrain(field); len(rg) > 0 && !coveredBy(rg, exp.grain) {
			return nil, errors.NewUnsupportedGrain([]string{name}, exp.grain)
		}
		cols, err := metricSelect(plan.DataSource, ts, field, reg)
		if err != nil {
			return nil, err
		}
		for _, mc := range cols {
			q.Select(mc.expr, mc.ingest.Name)
			plan.Columns = append(plan.Columns, mc.ingest)
		}
	}

	if err := addJoins(q, ts, plan.DataSource); err != nil {
		return nil, err
	}
	if err := addCriteria(q, ts, criteria); err != nil {
		return nil, err
	}

	text, args := q.SQL()
	plan.SQL = sql.Rebind(dialect.Placeholders, text)
	plan.Args = args
	return plan, nil
}

// metricColumn pairs a select expression with its ingest schema entry.
type metricColumn struct {
	expr   string
	ingest IngestColumn
}

// metricSelect renders the select columns for one metric on the table
// set's main table. Datasource formulas that already aggregate are
// emitted verbatim; count aggregations ignore weighting; weighted
// metrics emit a numerator and denominator pair the combined layer
// recombines.
func metricSelect(ds string, ts *schema.TableSet, field fields.Field, reg *fields.Registry) ([]metricColumn, error) {
	name := field.Name()
	col, ok := ts.Table.ColumnForField(name)
	if !ok {
		return nil, errors.NewInvalidDataSourceConfig(ds,
			fmt.Sprintf("metric %s is not bound on table %s", name, ts.Table.Name))
	}
	binding, _ := col.BindingFor(name)

	expr := columnRef(col)
	skipAggr := false
	if binding.DSFormula != "" {
		expr = "(" + binding.DSFormula + ")"
		skipAggr = fields.ContainsAggregateCall(binding.DSFormula)
	}

	agg, _ := fields.MetricAggregation(field)
	weighting := ""
	if m, ok := field.(*fields.Metric); ok {
		weighting = m.WeightingMetric
	}

	single := func(e string) []metricColumn {
		if v := fields.MetricIfNull(field); v != nil {
			e = fmt.Sprintf("COALESCE(%s, %s)", e, formatFloat(*v))
		}
		return []metricColumn{{
			expr: e,
			ingest: IngestColumn{
				Name:  combinedColumnName(ds, ts.Table, name),
				Field: name,
				Type:  ingestType(reg, name, col),
			},
		}}
	}

	switch {
	case skipAggr:
		return single(expr), nil
	case agg == sql.AggregationCount || agg == sql.AggregationCountDistinct:
		return single(sql.AggregateExpression(agg, expr)), nil
	case weighting != "":
		wcol, ok := ts.Table.ColumnForField(weighting)
		if !ok {
			return nil, errors.NewInvalidDataSourceConfig(ds,
				fmt.Sprintf("weighting metric %s for %s is not bound on table %s", weighting, name, ts.Table.Name))
		}
		wbinding, _ := wcol.BindingFor(weighting)
		wexpr := bindingExpression(wcol, wbinding)
		// 1.0 keeps integer-typed engines from truncating the products.
		num := fmt.Sprintf("SUM(1.0 * %s * %s)", expr, wexpr)
		den := fmt.Sprintf("SUM(%s)", wexpr)
		return []metricColumn{
			{
				expr: num,
				ingest: IngestColumn{
					Name:  combinedColumnName(ds, ts.Table, fields.WeightingNumeratorName(name)),
					Field: name,
					Type:  ingestType(reg, name, col),
				},
			},
			{
				expr: den,
				ingest: IngestColumn{
					Name:  combinedColumnName(ds, ts.Table, fields.WeightingDenominatorName(name)),
					Field: name,
					Type:  ingestType(reg, weighting, wcol),
				},
			},
		}, nil
	default:
		return single(sql.AggregateExpression(agg, expr)), nil
	}
}

// addJoins renders the table set's join chain as LEFT OUTER JOIN steps.
// Parts are emitted in chain order; a part whose target is already in
// the query is skipped, which keeps merged orthogonal chains from
// re-joining their shared root.
func addJoins(q *sql.SelectQuery, ts *schema.TableSet, ds string) error {
	if ts.Join == nil {
		return nil
	}
	joined := map[string]struct{}{ts.Table.Name: {}}
	for _, part := range ts.Join.Parts {
		if len(part.Tables) < 2 {
			// Self-coverage placeholder, nothing to join.
			continue
		}
		left, right := part.Tables[0], part.Tables[1]
		if _, ok := joined[right]; ok {
			continue
		}
		if _, ok := joined[left]; !ok {
			return errors.NewInvalidDataSourceConfig(ds,
				fmt.Sprintf("join chain for %s skips over %s", ts.Table.Name, left))
		}
		if len(part.JoinFields) == 0 {
			return errors.NewInvalidDataSourceConfig(ds,
				fmt.Sprintf("no join fields between %s and %s", left, right))
		}
		conds := make([]string, 0, len(part.JoinFields))
		for _, f := range part.JoinFields {
			lref, err := joinFieldRef(ts.Join, left, f, ds)
			if err != nil {
				return err
			}
			rref, err := joinFieldRef(ts.Join, right, f, ds)
			if err != nil {
				return err
			}
			conds = append(conds, rref+" = "+lref)
		}
		q.Join("LEFT OUTER JOIN", right, "", strings.Join(conds, " AND "))
		joined[right] = struct{}{}
	}
	return nil
}

func joinFieldRef(j *schema.Join, tableName, field, ds string) (string, error) {
	t, ok := j.Table(tableName)
	if !ok {
		return "", errors.NewInvalidDataSourceConfig(ds,
			fmt.Sprintf("join references unknown table %s", tableName))
	}
	col, ok := t.ColumnForField(field)
	if !ok {
		return "", errors.NewInvalidDataSourceConfig(ds,
			fmt.Sprintf("join field %s is not bound on table %s", field, tableName))
	}
	return sql.QualifyColumn(t.Name, col.Name), nil
}

// addCriteria applies every criterion to the query. Column-level
// criteria conversions rewrite the filter against the raw column when
// the operator has a declared rewrite; otherwise the filter wraps the
// bound expression.
func addCriteria(q *sql.SelectQuery, ts *schema.TableSet, criteria []Criterion) error {
	for _, c := range criteria {
		col, binding, err := resolveColumn(ts, c.Field)
		if err != nil {
			return err
		}
		clause, args, ok, err := binding.CriteriaConversions.RewriteCriterion(columnRef(col), c.Op, c.Value)
		if err != nil {
			return err
		}
		if !ok {
			clause, args, err = sql.BuildCriterion(bindingExpression(col, binding), c.Op, c.Value)
			if err != nil {
				return err
			}
		}
		q.AddWhere(clause, args...)
	}
	return nil
}

// resolveColumn finds the column carrying a field: the join's field map
// first, then the main table.
func resolveColumn(ts *schema.TableSet, field string) (*schema.Column, schema.FieldBinding, error) {
	if ts.Join != nil {
		if col, ok := ts.Join.FieldMap[field]; ok {
			b, _ := col.BindingFor(field)
			return col, b, nil
		}
	}
	if col, ok := ts.Table.ColumnForField(field); ok {
		b, _ := col.BindingFor(field)
		return col, b, nil
	}
	return nil, schema.FieldBinding{}, errors.NewInvalidDataSourceConfig(ts.DataSource,
		fmt.Sprintf("field %s is not reachable from table %s", field, ts.Table.Name))
}

func bindingExpression(col *schema.Column, b schema.FieldBinding) string {
	if b.DSFormula != "" {
		return "(" + b.DSFormula + ")"
	}
	return columnRef(col)
}

func columnRef(col *schema.Column) string {
	return sql.QualifyColumn(col.Table().Name, col.Name)
}

// combinedColumnName namespaces a plan output column for the combined
// layer. Tables that opt out of full column names keep the bare field
// name.
func combinedColumnName(ds string, t *schema.Table, name string) string {
	if !t.UseFullColumnNames {
		return name
	}
	return ds + "_" + strings.ReplaceAll(t.Name, ".", "_") + "_" + name
}

// ingestType prefers the field's declared type for combined-layer
// storage, falling back to the physical column type.
func ingestType(reg *fields.Registry, name string, col *schema.Column) sql.ColumnType {
	if f, err := reg.Get(name); err == nil && f.Type() != "" {
		if t, err := sql.ParseColumnType(f.Type()); err == nil {
			return t
		}
	}
	return col.Type
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
