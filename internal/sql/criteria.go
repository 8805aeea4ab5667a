package sql

import (
	"fmt"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
)

// Criteria operators supported in report criteria. The "in report" and
// "not in report" operators are resolved into plain "in"/"not in" before
// clause building by running the nested report.
const (
	OpEqual        = "="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpIn           = "in"
	OpNotIn        = "not in"
	OpBetween      = "between"
	OpNotBetween   = "not between"
	OpLike         = "like"
	OpNotLike      = "not like"
	OpIsNull       = "is null"
	OpIsNotNull    = "is not null"
	OpInReport     = "in report"
	OpNotInReport  = "not in report"
)

// NormalizeOperator lowercases and canonicalizes a criteria operator.
// "==" is accepted as an alias for "=".
func NormalizeOperator(op string) (string, error) {
	norm := strings.Join(strings.Fields(strings.ToLower(op)), " ")
	if norm == "==" {
		norm = OpEqual
	}
	switch norm {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual,
		OpIn, OpNotIn, OpBetween, OpNotBetween, OpLike, OpNotLike,
		OpIsNull, OpIsNotNull, OpInReport, OpNotInReport:
		return norm, nil
	}
	return "", errors.NewInvalidReportConfig(fmt.Sprintf("invalid criteria operator %q", op))
}

// BuildCriterion renders a single criterion against expr as a SQL clause
// with "?" placeholders and its bind arguments. NULL values in equality
// and membership operators are rewritten to IS NULL / IS NOT NULL forms so
// the clause behaves the way a config author expects.
func BuildCriterion(expr, op string, value interface{}) (string, []interface{}, error) {
	op, err := NormalizeOperator(op)
	if err != nil {
		return "", nil, err
	}

	switch op {
	case OpIsNull:
		return expr + " IS NULL", nil, nil
	case OpIsNotNull:
		return expr + " IS NOT NULL", nil, nil

	case OpEqual:
		if value == nil {
			return expr + " IS NULL", nil, nil
		}
		return expr + " = ?", []interface{}{value}, nil
	case OpNotEqual:
		if value == nil {
			return expr + " IS NOT NULL", nil, nil
		}
		return expr + " != ?", []interface{}{value}, nil

	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		if value == nil {
			return "", nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("operator %q requires a non-null value", op))
		}
		return fmt.Sprintf("%s %s ?", expr, op), []interface{}{value}, nil

	case OpLike, OpNotLike:
		s, ok := value.(string)
		if !ok {
			return "", nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("operator %q requires a string value", op))
		}
		kw := "LIKE"
		if op == OpNotLike {
			kw = "NOT LIKE"
		}
		return fmt.Sprintf("%s %s ?", expr, kw), []interface{}{s}, nil

	case OpIn, OpNotIn:
		return buildMembership(expr, op, value)

	case OpBetween, OpNotBetween:
		values, err := ValueList(value)
		if err != nil || len(values) != 2 {
			return "", nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("operator %q requires a two-element list", op))
		}
		kw := "BETWEEN"
		if op == OpNotBetween {
			kw = "NOT BETWEEN"
		}
		return fmt.Sprintf("%s %s ? AND ?", expr, kw), values, nil

	case OpInReport, OpNotInReport:
		return "", nil, errors.NewInvalidReportConfig(
			fmt.Sprintf("operator %q must be resolved before clause building", op))
	}
	return "", nil, errors.NewInvalidReportConfig(fmt.Sprintf("invalid criteria operator %q", op))
}

func buildMembership(expr, op string, value interface{}) (string, []interface{}, error) {
	values, err := ValueList(value)
	if err != nil {
		return "", nil, errors.NewInvalidReportConfig(
			fmt.Sprintf("operator %q requires a list value", op))
	}
	if len(values) == 0 {
		return "", nil, errors.NewInvalidReportConfig(
			fmt.Sprintf("operator %q requires a non-empty list", op))
	}

	var nonNull []interface{}
	hasNull := false
	for _, v := range values {
		if v == nil {
			hasNull = true
			continue
		}
		nonNull = append(nonNull, v)
	}

	negate := op == OpNotIn
	if len(nonNull) == 0 {
		if negate {
			return expr + " IS NOT NULL", nil, nil
		}
		return expr + " IS NULL", nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(nonNull)), ", ")
	if negate {
		clause := fmt.Sprintf("%s NOT IN (%s)", expr, placeholders)
		if hasNull {
			clause = fmt.Sprintf("(%s AND %s IS NOT NULL)", clause, expr)
		}
		return clause, nonNull, nil
	}
	clause := fmt.Sprintf("%s IN (%s)", expr, placeholders)
	if hasNull {
		clause = fmt.Sprintf("(%s OR %s IS NULL)", clause, expr)
	}
	return clause, nonNull, nil
}

// ValueList coerces a criteria value into a slice of bind arguments.
func ValueList(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, nil
	case []float64:
		out := make([]interface{}, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("nil is not a list value")
	default:
		return nil, fmt.Errorf("value %v is not a list", value)
	}
}
