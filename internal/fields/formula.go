package fields

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/sql"
)

// MaxFormulaDepth bounds formula nesting. Chained formula metrics are
// expanded recursively and anything deeper than this is treated as a
// config error.
const MaxFormulaDepth = 8

var referencePattern = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9_]*)\}`)

// FormulaReferences extracts the field names referenced by a formula,
// deduplicated in first-appearance order.
func FormulaReferences(formula string) []string {
	var names []string
	seen := map[string]struct{}{}
	for _, m := range referencePattern.FindAllStringSubmatch(formula, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// ReplaceReferences rewrites every {name} reference through fn.
func ReplaceReferences(formula string, fn func(name string) string) string {
	return referencePattern.ReplaceAllStringFunc(formula, func(ref string) string {
		return fn(ref[1 : len(ref)-1])
	})
}

// aggregateCallPattern spots aggregate function calls. Formula bodies
// run over already-aggregated columns at the combined layer, so
// aggregation belongs to the datasource layer only.
var aggregateCallPattern = regexp.MustCompile(`(?i)(?:^|[^a-zA-Z0-9_])(sum|avg|min|max|count)\s*\(`)

// ContainsAggregateCall reports whether an expression already aggregates.
// Datasource formulas that aggregate are emitted as-is instead of being
// wrapped in the metric's default aggregation.
func ContainsAggregateCall(expr string) bool {
	return aggregateCallPattern.MatchString(expr)
}

var errMaxFormulaDepth = errors.NewInvalidFieldConfig("", "maximum formula depth exceeded")

// expandFormula resolves the references of one formula field. Leaves
// are non-formula fields and keep their {name} markers in the expanded
// body; sub-formulas are inlined parenthesized.
func expandFormula(owner, formula string, reg *Registry, depth int) ([]string, string, error) {
	if depth > MaxFormulaDepth {
		return nil, "", errMaxFormulaDepth
	}

	var leaves []string
	seen := map[string]struct{}{}
	addLeaf := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		leaves = append(leaves, name)
	}

	replacements := map[string]string{}
	for _, ref := range FormulaReferences(formula) {
		field, err := reg.Get(ref)
		if err != nil {
			return nil, "", errors.NewInvalidFieldConfig(owner,
				fmt.Sprintf("formula references unknown field %q", ref))
		}
		if HasTechnical(field) {
			return nil, "", errors.NewInvalidFieldConfig(owner,
				fmt.Sprintf("formula references %q, which carries a technical", ref))
		}
		if field.Kind().IsFormula() {
			subLeaves, subFormula, err := field.FormulaFields(reg, depth+1)
			if err != nil {
				if err == errMaxFormulaDepth && depth == 0 {
					return nil, "", errors.NewInvalidFieldConfig(owner,
						fmt.Sprintf("maximum formula depth (%d) exceeded expanding %q", MaxFormulaDepth, formula))
				}
				return nil, "", err
			}
			for _, l := range subLeaves {
				addLeaf(l)
			}
			replacements[ref] = "(" + subFormula + ")"
		} else {
			addLeaf(ref)
			replacements[ref] = "{" + ref + "}"
		}
	}

	expanded := ReplaceReferences(formula, func(name string) string {
		return replacements[name]
	})
	return leaves, expanded, nil
}

// validateFormulaBody screens a formula body: the references are
// substituted with bare names, the remainder must not contain SQL
// statements or aggregate calls.
func validateFormulaBody(owner, formula string) error {
	if strings.TrimSpace(formula) == "" {
		return errors.NewInvalidFieldConfig(owner, "formula is empty")
	}
	rendered := ReplaceReferences(formula, func(name string) string { return name })
	if err := sql.ScreenFragment(rendered); err != nil {
		return err
	}
	if aggregateCallPattern.MatchString(formula) {
		return errors.NewInvalidFieldConfig(owner,
			"aggregate functions are not allowed in formulas; aggregation happens at the datasource layer")
	}
	return nil
}

// FormulaMetric is a metric computed from other fields at the combined
// layer. Its references are aggregated at the datasource layer first.
type FormulaMetric struct {
	kind        Kind
	name        string
	displayName string
	description string

	Formula       string
	Aggregation   sql.Aggregation
	Rounding      *int
	IfNull        *float64
	RequiredGrain []string
	Technical     *Technical
	Meta          map[string]interface{}
}

func (m *FormulaMetric) Name() string        { return m.name }
func (m *FormulaMetric) Kind() Kind          { return m.kind }
func (m *FormulaMetric) Type() string        { return "" }
func (m *FormulaMetric) DisplayName() string { return m.displayName }
func (m *FormulaMetric) Description() string { return m.description }

func (m *FormulaMetric) FormulaFields(reg *Registry, depth int) ([]string, string, error) {
	return expandFormula(m.name, m.Formula, reg, depth)
}

func (m *FormulaMetric) Copy() Field {
	c := *m
	c.Rounding = copyIntPtr(m.Rounding)
	c.IfNull = copyFloatPtr(m.IfNull)
	c.RequiredGrain = append([]string(nil), m.RequiredGrain...)
	c.Technical = m.Technical.Copy()
	c.Meta = copyMeta(m.Meta)
	return &c
}

// FormulaDimension is a dimension computed from other dimensions at the
// combined layer. It may not appear in criteria or row filters.
type FormulaDimension struct {
	kind        Kind
	name        string
	displayName string
	description string

	Formula string
	Meta    map[string]interface{}
}

func (d *FormulaDimension) Name() string        { return d.name }
func (d *FormulaDimension) Kind() Kind          { return d.kind }
func (d *FormulaDimension) Type() string        { return "" }
func (d *FormulaDimension) DisplayName() string { return d.displayName }
func (d *FormulaDimension) Description() string { return d.description }

func (d *FormulaDimension) FormulaFields(reg *Registry, depth int) ([]string, string, error) {
	leaves, expanded, err := expandFormula(d.name, d.Formula, reg, depth)
	if err != nil {
		return nil, "", err
	}
	for _, ref := range FormulaReferences(d.Formula) {
		field, err := reg.Get(ref)
		if err != nil {
			return nil, "", err
		}
		if !field.Kind().IsDimension() {
			return nil, "", errors.NewInvalidFieldConfig(d.name,
				fmt.Sprintf("formula dimensions may only reference dimensions, %q is a metric", ref))
		}
	}
	return leaves, expanded, nil
}

func (d *FormulaDimension) Copy() Field {
	c := *d
	c.Meta = copyMeta(d.Meta)
	return &c
}

// NewAdHocMetric builds a report-scoped formula metric.
func NewAdHocMetric(name, formula string, rounding *int, technical *Technical, requiredGrain []string) (*FormulaMetric, error) {
	if err := ValidateFieldName(name); err != nil {
		return nil, err
	}
	if err := validateFormulaBody(name, formula); err != nil {
		return nil, err
	}
	return &FormulaMetric{
		kind:          KindAdHocMetric,
		name:          name,
		displayName:   defaultDisplayName(name),
		Formula:       formula,
		Aggregation:   sql.AggregationSum,
		Rounding:      copyIntPtr(rounding),
		RequiredGrain: append([]string(nil), requiredGrain...),
		Technical:     technical,
	}, nil
}

// NewAdHocDimension builds a report-scoped formula dimension.
func NewAdHocDimension(name, formula string) (*FormulaDimension, error) {
	if err := ValidateFieldName(name); err != nil {
		return nil, err
	}
	if err := validateFormulaBody(name, formula); err != nil {
		return nil, err
	}
	return &FormulaDimension{
		kind:        KindAdHocDimension,
		name:        name,
		displayName: defaultDisplayName(name),
		Formula:     formula,
	}, nil
}
