package sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
)

// ColumnType is a parsed column type declaration such as "integer" or
// "decimal(10,2)". Base is normalized to a canonical family name.
type ColumnType struct {
	Base string
	Args []int
}

var typeDeclPattern = regexp.MustCompile(`^\s*([a-zA-Z_][a-zA-Z_ ]*?)\s*(?:\(\s*([0-9]+(?:\s*,\s*[0-9]+)*)\s*\))?\s*$`)

// ParseColumnType parses a type declaration string. Synonyms collapse to a
// canonical base: int/bigint/smallint map to integer, varchar/char/text map
// to string, numeric maps to decimal, timestamp maps to datetime.
func ParseColumnType(s string) (ColumnType, error) {
	m := typeDeclPattern.FindStringSubmatch(s)
	if m == nil {
		return ColumnType{}, errors.NewInvalidTableConfig("",
			fmt.Sprintf("cannot parse column type %q", s))
	}
	base := strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
	switch base {
	case "int", "integer", "bigint", "smallint", "tinyint", "biginteger", "smallinteger":
		base = "integer"
	case "decimal", "numeric":
		base = "decimal"
	case "float", "double", "real", "double precision":
		base = "float"
	case "varchar", "char", "text", "string", "unicode", "unicodetext":
		base = "string"
	case "datetime", "timestamp", "timestamptz":
		base = "datetime"
	case "bool", "boolean":
		base = "boolean"
	case "date", "time", "json", "interval":
		// already canonical
	default:
		return ColumnType{}, errors.NewInvalidTableConfig("",
			fmt.Sprintf("unsupported column type %q", s))
	}

	var args []int
	if m[2] != "" {
		for _, part := range strings.Split(m[2], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return ColumnType{}, errors.NewInvalidTableConfig("",
					fmt.Sprintf("bad type argument in %q", s))
			}
			args = append(args, n)
		}
	}
	return ColumnType{Base: base, Args: args}, nil
}

func (t ColumnType) String() string {
	if len(t.Args) == 0 {
		return t.Base
	}
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = strconv.Itoa(a)
	}
	return fmt.Sprintf("%s(%s)", t.Base, strings.Join(parts, ","))
}

func (t ColumnType) IsInteger() bool { return t.Base == "integer" }
func (t ColumnType) IsDecimal() bool { return t.Base == "decimal" }
func (t ColumnType) IsFloat() bool   { return t.Base == "float" }
func (t ColumnType) IsNumeric() bool { return t.IsInteger() || t.IsDecimal() || t.IsFloat() }
func (t ColumnType) IsString() bool  { return t.Base == "string" }

// IsDateLike reports whether the type carries calendar semantics and is
// eligible for automatic type conversion fields.
func (t ColumnType) IsDateLike() bool { return t.Base == "date" || t.Base == "datetime" }

// InferredAggregation is the aggregation guessed from a column type when a
// table requests automatic field creation.
type InferredAggregation struct {
	Aggregation Aggregation
	Rounding    int
	HasRounding bool
}

// InferAggregation guesses an aggregation and rounding for a numeric
// column type. Integers sum with no decimal places. Floats sum without
// rounding. Decimals round to their scale; a decimal with at most one
// whole digit is assumed to be a rate and averages instead of summing.
func InferAggregation(t ColumnType) (InferredAggregation, error) {
	switch {
	case t.IsInteger():
		return InferredAggregation{Aggregation: AggregationSum, Rounding: 0, HasRounding: true}, nil
	case t.IsFloat():
		return InferredAggregation{Aggregation: AggregationSum}, nil
	case t.IsDecimal():
		if len(t.Args) < 2 {
			return InferredAggregation{Aggregation: AggregationSum}, nil
		}
		precision, scale := t.Args[0], t.Args[1]
		agg := AggregationSum
		if precision-scale <= 1 {
			agg = AggregationMean
		}
		return InferredAggregation{Aggregation: agg, Rounding: scale, HasRounding: true}, nil
	}
	return InferredAggregation{}, errors.NewInvalidTableConfig("",
		fmt.Sprintf("cannot infer aggregation for non-numeric type %q", t))
}

// TypeDecl renders a parsed column type as a SQL column declaration.
func TypeDecl(t ColumnType) string {
	var decl string
	switch t.Base {
	case "integer":
		decl = "INTEGER"
	case "float":
		decl = "FLOAT"
	case "decimal":
		decl = "DECIMAL"
	case "string":
		decl = "VARCHAR"
	case "boolean":
		decl = "BOOLEAN"
	case "date":
		decl = "DATE"
	case "datetime":
		decl = "DATETIME"
	case "time":
		decl = "TIME"
	default:
		decl = "TEXT"
	}
	if len(t.Args) > 0 {
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = strconv.Itoa(a)
		}
		decl += "(" + strings.Join(parts, ",") + ")"
	}
	return decl
}

// IsProbablyMetric guesses whether a column holds measurable values rather
// than identity. Numeric columns qualify unless they sit in the primary
// key or look like identifiers.
func IsProbablyMetric(name string, t ColumnType, inPrimaryKey bool) bool {
	if inPrimaryKey || !t.IsNumeric() {
		return false
	}
	lower := strings.ToLower(name)
	if lower == "id" || strings.HasSuffix(lower, "_id") {
		return false
	}
	return true
}
