package dialects

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/sql"
)

// Conversion derives one calendar dimension from a date or datetime
// column. Formula is the select expression with "{}" standing for the
// column reference. Criteria, when present, rewrites WHERE predicates on
// the converted dimension into range predicates on the raw column so the
// engine can keep using its index.
type Conversion struct {
	Field    string
	Type     string
	Formula  string
	Criteria CriteriaConversions
}

// FormulaFor renders the conversion expression for a column reference.
func (c Conversion) FormulaFor(columnRef string) string {
	return strings.ReplaceAll(c.Formula, "{}", columnRef)
}

// Replacement is a single rewritten predicate. Values are SQL value
// templates with :0 and :1 standing for the original criteria values;
// between-style operators take two templates.
type Replacement struct {
	Op     string
	Values []string
}

// CriteriaConversions maps an original criteria operator to the
// replacement predicates it expands into. All replacements for one
// operator are ANDed together.
type CriteriaConversions map[string][]Replacement

var valueRefPattern = regexp.MustCompile(`:([0-9])`)

// RewriteCriterion renders the replacement predicates for op against the
// raw column reference. ok is false when no rewrite is declared for op,
// in which case the caller falls back to filtering on the conversion
// expression itself.
func (cc CriteriaConversions) RewriteCriterion(rawRef, op string, value interface{}) (string, []interface{}, bool, error) {
	if cc == nil {
		return "", nil, false, nil
	}
	op, err := sql.NormalizeOperator(op)
	if err != nil {
		return "", nil, false, err
	}
	replacements, found := cc[op]
	if !found {
		return "", nil, false, nil
	}

	values, err := sql.ValueList(value)
	if err != nil {
		values = []interface{}{value}
	}

	var clauses []string
	var args []interface{}
	for _, r := range replacements {
		switch r.Op {
		case sql.OpBetween, sql.OpNotBetween:
			if len(r.Values) != 2 {
				return "", nil, false, errors.NewInvalidTableConfig("",
					fmt.Sprintf("criteria conversion for %q needs two value templates", r.Op))
			}
			lo, loArgs, err := renderValueTemplate(r.Values[0], values)
			if err != nil {
				return "", nil, false, err
			}
			hi, hiArgs, err := renderValueTemplate(r.Values[1], values)
			if err != nil {
				return "", nil, false, err
			}
			kw := "BETWEEN"
			if r.Op == sql.OpNotBetween {
				kw = "NOT BETWEEN"
			}
			clauses = append(clauses, fmt.Sprintf("%s %s %s AND %s", rawRef, kw, lo, hi))
			args = append(args, loArgs...)
			args = append(args, hiArgs...)
		default:
			if len(r.Values) != 1 {
				return "", nil, false, errors.NewInvalidTableConfig("",
					fmt.Sprintf("criteria conversion for %q needs one value template", r.Op))
			}
			rendered, vArgs, err := renderValueTemplate(r.Values[0], values)
			if err != nil {
				return "", nil, false, err
			}
			clauses = append(clauses, fmt.Sprintf("%s %s %s", rawRef, strings.ToUpper(r.Op), rendered))
			args = append(args, vArgs...)
		}
	}

	clause := strings.Join(clauses, " AND ")
	if len(clauses) > 1 {
		clause = "(" + clause + ")"
	}
	return clause, args, true, nil
}

// renderValueTemplate swaps :N references for bind placeholders and
// returns the referenced values in placeholder order.
func renderValueTemplate(tpl string, values []interface{}) (string, []interface{}, error) {
	var args []interface{}
	var tplErr error
	rendered := valueRefPattern.ReplaceAllStringFunc(tpl, func(ref string) string {
		idx := int(ref[1] - '0')
		if idx >= len(values) {
			tplErr = errors.NewInvalidReportConfig(
				fmt.Sprintf("criteria conversion references value %s but only %d values given", ref, len(values)))
			return ref
		}
		args = append(args, values[idx])
		return "?"
	})
	if tplErr != nil {
		return "", nil, tplErr
	}
	return rendered, args, nil
}

// Validate checks operator names and screens the value templates. Custom
// conversions arrive from table configs, so the fragments get the same
// treatment as formulas.
func (cc CriteriaConversions) Validate() error {
	for op, replacements := range cc {
		if _, err := sql.NormalizeOperator(op); err != nil {
			return err
		}
		for _, r := range replacements {
			if _, err := sql.NormalizeOperator(r.Op); err != nil {
				return err
			}
			for _, tpl := range r.Values {
				if err := sql.ScreenFragment(tpl); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// rangeConversions builds the standard half-open range rewrites for a
// period conversion from three value templates: the period start, the
// start of the next period, and the last second of the period.
func rangeConversions(start, next, end string) CriteriaConversions {
	shift := func(tpl string) string { return strings.ReplaceAll(tpl, ":0", ":1") }
	return CriteriaConversions{
		"=":           {{Op: ">=", Values: []string{start}}, {Op: "<", Values: []string{next}}},
		"!=":          {{Op: "not between", Values: []string{start, end}}},
		">":           {{Op: ">=", Values: []string{next}}},
		">=":          {{Op: ">=", Values: []string{start}}},
		"<":           {{Op: "<", Values: []string{start}}},
		"<=":          {{Op: "<", Values: []string{next}}},
		"between":     {{Op: ">=", Values: []string{start}}, {Op: "<", Values: []string{shift(next)}}},
		"not between": {{Op: "not between", Values: []string{start, shift(end)}}},
	}
}

// identityConversions passes criteria through on the raw column, used
// when the conversion output matches the stored representation.
func identityConversions() CriteriaConversions {
	return CriteriaConversions{
		"=":           {{Op: "=", Values: []string{":0"}}},
		"!=":          {{Op: "!=", Values: []string{":0"}}},
		">":           {{Op: ">", Values: []string{":0"}}},
		">=":          {{Op: ">=", Values: []string{":0"}}},
		"<":           {{Op: "<", Values: []string{":0"}}},
		"<=":          {{Op: "<=", Values: []string{":0"}}},
		"between":     {{Op: "between", Values: []string{":0", ":1"}}},
		"not between": {{Op: "not between", Values: []string{":0", ":1"}}},
	}
}
