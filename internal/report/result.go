package report

import (
	"time"
)

// RollupSentinel marks a collapsed dimension cell in rollup rows. It is
// the highest code point, so it sorts after every real value.
const RollupSentinel = "\U0010FFFF"

// NullDimensionSentinel stands in for NULL dimension cells during
// display. It sorts after every real value but before the rollup
// sentinel.
const NullDimensionSentinel = "\U0010FFFE"

// TotalsLabel replaces the rollup sentinel in display output.
const TotalsLabel = "Totals"

// QuerySummary records one executed datasource query.
type QuerySummary struct {
	DataSource string        `json:"datasource"`
	TempTable  string        `json:"temp_table"`
	SQL        string        `json:"sql"`
	Rows       int           `json:"rows"`
	Duration   time.Duration `json:"duration"`
}

// Result is a finished report's frame plus its execution bookkeeping.
type Result struct {
	// Columns are the output column names: dimensions first, then
	// metrics, then any technical-generated columns.
	Columns []string `json:"columns"`

	// DimensionCount is the number of leading dimension columns.
	DimensionCount int `json:"dimension_count"`

	// Rows is the final frame in output order.
	Rows [][]interface{} `json:"rows"`

	// RollupRows are the indices of subtotal and grand total rows.
	RollupRows []int `json:"rollup_rows,omitempty"`

	// QuerySummaries describe the datasource queries that fed the frame.
	QuerySummaries []QuerySummary `json:"query_summaries,omitempty"`

	// Warnings are non-fatal planning and execution observations.
	Warnings []string `json:"warnings,omitempty"`

	// Duration is the end-to-end execution time.
	Duration time.Duration `json:"duration"`
}

// IsRollupRow reports whether the row at index i is a subtotal or grand
// total row.
func (r *Result) IsRollupRow(i int) bool {
	for _, idx := range r.RollupRows {
		if idx == i {
			return true
		}
	}
	return false
}

// DisplayRows returns a copy of the frame with sentinels replaced for
// humans: the rollup sentinel becomes the totals label and NULL
// dimension cells become prettyNull.
func (r *Result) DisplayRows(prettyNull string) [][]interface{} {
	out := make([][]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		display := make([]interface{}, len(row))
		copy(display, row)
		for j := 0; j < r.DimensionCount && j < len(display); j++ {
			switch display[j] {
			case RollupSentinel:
				display[j] = TotalsLabel
			case nil, NullDimensionSentinel:
				display[j] = prettyNull
			}
		}
		out[i] = display
	}
	return out
}
