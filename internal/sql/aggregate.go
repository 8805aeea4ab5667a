package sql

import "fmt"

// Aggregation identifies how a metric column is aggregated.
type Aggregation string

const (
	AggregationMean          Aggregation = "mean"
	AggregationSum           Aggregation = "sum"
	AggregationMin           Aggregation = "min"
	AggregationMax           Aggregation = "max"
	AggregationCount         Aggregation = "count"
	AggregationCountDistinct Aggregation = "count_distinct"
)

// ValidAggregation reports whether s names a supported aggregation.
func ValidAggregation(s string) bool {
	switch Aggregation(s) {
	case AggregationMean, AggregationSum, AggregationMin, AggregationMax,
		AggregationCount, AggregationCountDistinct:
		return true
	}
	return false
}

// AggregateExpression wraps expr in the SQL aggregate for agg. An
// unweighted mean renders as AVG; weighted means are handled upstream by
// emitting separate numerator and denominator columns.
func AggregateExpression(agg Aggregation, expr string) string {
	switch agg {
	case AggregationMean:
		return fmt.Sprintf("AVG(%s)", expr)
	case AggregationSum:
		return fmt.Sprintf("SUM(%s)", expr)
	case AggregationMin:
		return fmt.Sprintf("MIN(%s)", expr)
	case AggregationMax:
		return fmt.Sprintf("MAX(%s)", expr)
	case AggregationCount:
		return fmt.Sprintf("COUNT(%s)", expr)
	case AggregationCountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", expr)
	}
	return expr
}
