// Package fields implements the semantic field catalogue: metrics,
// dimensions, formula fields, technicals, and the scoped registry that
// resolves names across warehouse, datasource, and report scopes.
package fields

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/sql"
)

// Kind tags the concrete field variants.
type Kind string

const (
	KindMetric           Kind = "metric"
	KindDimension        Kind = "dimension"
	KindFormulaMetric    Kind = "formula_metric"
	KindFormulaDimension Kind = "formula_dimension"
	KindAdHocMetric      Kind = "adhoc_metric"
	KindAdHocDimension   Kind = "adhoc_dimension"
)

// IsMetric reports whether the kind plays the metric role.
func (k Kind) IsMetric() bool {
	return k == KindMetric || k == KindFormulaMetric || k == KindAdHocMetric
}

// IsDimension reports whether the kind plays the dimension role.
func (k Kind) IsDimension() bool {
	return k == KindDimension || k == KindFormulaDimension || k == KindAdHocDimension
}

// IsFormula reports whether the field is formula-based.
func (k Kind) IsFormula() bool {
	switch k {
	case KindFormulaMetric, KindFormulaDimension, KindAdHocMetric, KindAdHocDimension:
		return true
	}
	return false
}

// IsAdHoc reports whether the field is scoped to a single report.
func (k Kind) IsAdHoc() bool {
	return k == KindAdHocMetric || k == KindAdHocDimension
}

// Field is the unit of addressable data. Concrete types are *Metric,
// *Dimension, *FormulaMetric and *FormulaDimension; ad-hoc fields are
// formula fields tagged with an ad-hoc kind.
type Field interface {
	Name() string
	Kind() Kind
	// Type is the declared SQL type string; empty for formula fields.
	Type() string
	DisplayName() string
	// FormulaFields returns the transitive non-formula leaves of a
	// formula field and the formula with sub-formulas inlined. Leaves
	// keep their {name} references in the expanded body. Non-formula
	// fields return empty results.
	FormulaFields(reg *Registry, depth int) ([]string, string, error)
	Copy() Field
}

var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateFieldName checks a candidate field name.
func ValidateFieldName(name string) error {
	if !fieldNamePattern.MatchString(name) {
		return errors.NewInvalidFieldConfig(name,
			"field names must start with a letter and contain only letters, digits, and underscores")
	}
	return nil
}

func defaultDisplayName(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

const (
	weightingNumeratorSuffix   = "_weighting_metric_numerator"
	weightingDenominatorSuffix = "_weighting_metric_denominator"
)

// WeightingNumeratorName is the column name a weighted metric's
// numerator sum is emitted under at the datasource layer.
func WeightingNumeratorName(metric string) string {
	return metric + weightingNumeratorSuffix
}

// WeightingDenominatorName is the column name a weighted metric's
// denominator sum is emitted under at the datasource layer.
func WeightingDenominatorName(metric string) string {
	return metric + weightingDenominatorSuffix
}

// Metric is a plain aggregated measure bound to physical columns.
type Metric struct {
	name        string
	typ         string
	displayName string
	description string

	Aggregation     sql.Aggregation
	Rounding        *int
	WeightingMetric string
	IfNull          *float64
	RequiredGrain   []string
	Technical       *Technical
	Meta            map[string]interface{}
}

func (m *Metric) Name() string        { return m.name }
func (m *Metric) Kind() Kind          { return KindMetric }
func (m *Metric) Type() string        { return m.typ }
func (m *Metric) DisplayName() string { return m.displayName }
func (m *Metric) Description() string { return m.description }

func (m *Metric) FormulaFields(reg *Registry, depth int) ([]string, string, error) {
	return nil, "", nil
}

func (m *Metric) Copy() Field {
	c := *m
	c.Rounding = copyIntPtr(m.Rounding)
	c.IfNull = copyFloatPtr(m.IfNull)
	c.RequiredGrain = append([]string(nil), m.RequiredGrain...)
	c.Technical = m.Technical.Copy()
	c.Meta = copyMeta(m.Meta)
	return &c
}

// Dimension is a grouping and filtering field.
type Dimension struct {
	name        string
	typ         string
	displayName string
	description string

	// Values is the declared display and sort order; Sorter selects the
	// sorting strategy ("values" is the only built-in).
	Values []string
	Sorter string
	Meta   map[string]interface{}
}

func (d *Dimension) Name() string        { return d.name }
func (d *Dimension) Kind() Kind          { return KindDimension }
func (d *Dimension) Type() string        { return d.typ }
func (d *Dimension) DisplayName() string { return d.displayName }
func (d *Dimension) Description() string { return d.description }

func (d *Dimension) FormulaFields(reg *Registry, depth int) ([]string, string, error) {
	return nil, "", nil
}

func (d *Dimension) Copy() Field {
	c := *d
	c.Values = append([]string(nil), d.Values...)
	c.Meta = copyMeta(d.Meta)
	return &c
}

// ValueRank returns the declared sort rank of a dimension value.
// Undeclared values rank after all declared ones.
func (d *Dimension) ValueRank(value string) (int, bool) {
	for i, v := range d.Values {
		if v == value {
			return i, true
		}
	}
	return len(d.Values), false
}

// HasTechnical reports whether a field carries a post-aggregation
// technical transform.
func HasTechnical(f Field) bool {
	switch t := f.(type) {
	case *Metric:
		return t.Technical != nil
	case *FormulaMetric:
		return t.Technical != nil
	}
	return false
}

// MetricAggregation returns the aggregation a metric field contributes
// under rollups. Formula metrics default to sum.
func MetricAggregation(f Field) (sql.Aggregation, bool) {
	switch t := f.(type) {
	case *Metric:
		return t.Aggregation, true
	case *FormulaMetric:
		return t.Aggregation, true
	}
	return "", false
}

// MetricRounding returns a metric field's rounding digits, if declared.
func MetricRounding(f Field) *int {
	switch t := f.(type) {
	case *Metric:
		return t.Rounding
	case *FormulaMetric:
		return t.Rounding
	}
	return nil
}

// MetricTechnical returns a metric field's technical, if declared.
func MetricTechnical(f Field) *Technical {
	switch t := f.(type) {
	case *Metric:
		return t.Technical
	case *FormulaMetric:
		return t.Technical
	}
	return nil
}

// MetricRequiredGrain returns a metric field's required grain.
func MetricRequiredGrain(f Field) []string {
	switch t := f.(type) {
	case *Metric:
		return t.RequiredGrain
	case *FormulaMetric:
		return t.RequiredGrain
	}
	return nil
}

// MetricIfNull returns a metric field's null default, if declared.
func MetricIfNull(f Field) *float64 {
	switch t := f.(type) {
	case *Metric:
		return t.IfNull
	case *FormulaMetric:
		return t.IfNull
	}
	return nil
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func validateMetricCore(name, typ string, agg sql.Aggregation, weighting string) error {
	if err := ValidateFieldName(name); err != nil {
		return err
	}
	if !sql.ValidAggregation(string(agg)) {
		return errors.NewInvalidFieldConfig(name, fmt.Sprintf("unknown aggregation %q", agg))
	}
	if weighting != "" && agg != sql.AggregationMean {
		return errors.NewInvalidFieldConfig(name,
			fmt.Sprintf("weighting metrics require %q aggregation", sql.AggregationMean))
	}
	if typ != "" {
		if _, err := sql.ParseColumnType(typ); err != nil {
			return errors.NewInvalidFieldConfig(name, fmt.Sprintf("invalid type %q", typ))
		}
	}
	return nil
}
