package report

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/quarry-labs/quarry/internal/combined"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/sql"
	"github.com/quarry-labs/quarry/pkg/models"
)

// frame is the mutable result under post-processing. Rollup rows carry
// a marker so filters and technicals can skip them and sorting can pin
// them after their group.
type frame struct {
	columns  []string
	dimCount int
	rows     []frameRow
}

type frameRow struct {
	cells  []interface{}
	rollup bool

	// weights carries the numerator and denominator sums behind each
	// weighted mean cell, keyed by metric name.
	weights map[string]weightParts
}

type weightParts struct {
	num float64
	den float64
}

// metricShape is the per-metric post-processing configuration: the
// field's own rounding and technical overlaid by the request's.
type metricShape struct {
	name        string
	aggregation sql.Aggregation
	rounding    *int
	technical   *fields.Technical
}

// postprocess shapes the combined query result into the final frame:
// row filters, technicals, rollups, rounding, ordering, limit, pivot.
func (r *Report) postprocess(q *combined.Query, rows [][]interface{}) (*Result, error) {
	f := &frame{columns: append([]string(nil), q.Columns...), dimCount: q.DimensionCount}
	f.rows = make([]frameRow, len(rows))
	for i, row := range rows {
		fr := frameRow{cells: row[:len(q.Columns)]}
		for _, h := range q.WeightedHelpers {
			num, nok := toFloat(row[h.NumIndex])
			den, dok := toFloat(row[h.DenIndex])
			if !nok || !dok {
				continue
			}
			if fr.weights == nil {
				fr.weights = make(map[string]weightParts)
			}
			fr.weights[h.Metric] = weightParts{num: num, den: den}
		}
		f.rows[i] = fr
	}

	shapes, err := r.metricShapes(q)
	if err != nil {
		return nil, err
	}

	if err := r.applyRowFilters(f); err != nil {
		return nil, err
	}
	if r.limitFirst && r.limit > 0 {
		r.orderFrame(f)
		if len(f.rows) > r.limit {
			f.rows = f.rows[:r.limit]
		}
	}
	if err := r.applyTechnicals(f, shapes); err != nil {
		return nil, err
	}
	if r.rollupSet {
		r.applyRollups(f, shapes)
	}
	r.applyRounding(f, shapes)
	r.orderFrame(f)
	if !r.limitFirst && r.limit > 0 && len(f.rows) > r.limit {
		f.rows = f.rows[:r.limit]
	}
	if len(r.pivot) > 0 {
		if err := r.applyPivot(f); err != nil {
			return nil, err
		}
	}

	result := &Result{Columns: f.columns, DimensionCount: f.dimCount}
	result.Rows = make([][]interface{}, len(f.rows))
	for i, row := range f.rows {
		result.Rows[i] = row.cells
		if row.rollup {
			result.RollupRows = append(result.RollupRows, i)
		}
	}
	return result, nil
}

// metricShapes resolves rounding and technicals for every output
// metric. Request-level settings on a plain field reference override
// the warehouse definition.
func (r *Report) metricShapes(q *combined.Query) (map[string]metricShape, error) {
	refs := map[string]models.FieldRef{}
	for _, ref := range r.params.Metrics {
		refs[ref.Name] = ref
	}

	shapes := make(map[string]metricShape)
	for _, name := range q.Columns[q.DimensionCount:] {
		field, err := r.reg.GetMetric(name)
		if err != nil {
			return nil, err
		}
		shape := metricShape{
			name:      name,
			rounding:  fields.MetricRounding(field),
			technical: fields.MetricTechnical(field),
		}
		if agg, ok := fields.MetricAggregation(field); ok {
			shape.aggregation = agg
		}
		if ref, ok := refs[name]; ok && !ref.IsAdHoc() {
			if ref.Rounding != nil {
				shape.rounding = ref.Rounding
			}
			if ref.Technical != nil {
				technical, err := fields.ParseTechnical(ref.Technical)
				if err != nil {
					return nil, err
				}
				shape.technical = technical
			}
		}
		shapes[name] = shape
	}
	return shapes, nil
}

// --- row filters ---

func (r *Report) applyRowFilters(f *frame) error {
	if len(r.rowFilters) == 0 {
		return nil
	}
	kept := f.rows[:0]
	for _, row := range f.rows {
		match := true
		for _, filter := range r.rowFilters {
			idx := f.columnIndex(filter.Field)
			if idx < 0 {
				return errors.NewInvalidReportConfig(
					fmt.Sprintf("row filter field %q is not a result column", filter.Field))
			}
			ok, err := matchFilter(row.cells[idx], filter)
			if err != nil {
				return err
			}
			if !ok {
				match = false
				break
			}
		}
		if match {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return nil
}

func matchFilter(cell interface{}, filter models.Criterion) (bool, error) {
	switch filter.Op {
	case sql.OpEqual:
		return cellEqual(cell, filter.Value), nil
	case sql.OpNotEqual:
		return !cellEqual(cell, filter.Value), nil
	case sql.OpGreater, sql.OpGreaterEqual, sql.OpLess, sql.OpLessEqual:
		a, aok := toFloat(cell)
		b, bok := toFloat(filter.Value)
		if !aok || !bok {
			return false, nil
		}
		switch filter.Op {
		case sql.OpGreater:
			return a > b, nil
		case sql.OpGreaterEqual:
			return a >= b, nil
		case sql.OpLess:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case sql.OpIn, sql.OpNotIn:
		values, ok := filter.Value.([]interface{})
		if !ok {
			return false, errors.NewInvalidReportConfig(
				fmt.Sprintf("row filter %q on %q requires a list", filter.Op, filter.Field))
		}
		found := false
		for _, v := range values {
			if cellEqual(cell, v) {
				found = true
				break
			}
		}
		if filter.Op == sql.OpNotIn {
			return !found, nil
		}
		return found, nil
	case sql.OpLike, sql.OpNotLike:
		pattern, ok := filter.Value.(string)
		if !ok {
			return false, errors.NewInvalidReportConfig(
				fmt.Sprintf("row filter %q on %q requires a string pattern", filter.Op, filter.Field))
		}
		matched, err := likeMatch(fmt.Sprint(cell), pattern)
		if err != nil {
			return false, err
		}
		if filter.Op == sql.OpNotLike {
			return !matched, nil
		}
		return matched, nil
	}
	return false, errors.NewInvalidReportConfig(
		fmt.Sprintf("operator %q is not allowed in row filters", filter.Op))
}

// likeMatch evaluates a SQL LIKE pattern case-insensitively: % matches
// any run, _ matches one character.
func likeMatch(s, pattern string) (bool, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, ch := range pattern {
		switch ch {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false, errors.NewInvalidReportConfig(
			fmt.Sprintf("invalid like pattern %q", pattern))
	}
	return re.MatchString(s), nil
}

func cellEqual(cell, value interface{}) bool {
	if cell == nil || value == nil {
		return cell == nil && value == nil
	}
	if a, ok := toFloat(cell); ok {
		if b, ok := toFloat(value); ok {
			return a == b
		}
	}
	return fmt.Sprint(cell) == fmt.Sprint(value)
}

// --- technicals ---

func (r *Report) applyTechnicals(f *frame, shapes map[string]metricShape) error {
	// Columns are processed in declaration order so bollinger bands land
	// next to each other deterministically.
	for _, name := range append([]string(nil), f.columns...) {
		shape, ok := shapes[name]
		if !ok || shape.technical == nil {
			continue
		}
		if err := applyTechnical(f, name, shape.technical); err != nil {
			return err
		}
	}
	return nil
}

func applyTechnical(f *frame, column string, t *fields.Technical) error {
	idx := f.columnIndex(column)
	if idx < 0 {
		return errors.NewInvalidReportConfig(
			fmt.Sprintf("technical target %q is not a result column", column))
	}

	var lowerIdx, upperIdx int
	if t.Type == fields.TechnicalBollinger {
		lowerIdx, upperIdx = len(f.columns), len(f.columns)+1
		f.columns = append(f.columns, column+"_lower", column+"_upper")
		for i := range f.rows {
			f.rows[i].cells = append(f.rows[i].cells, nil, nil)
		}
	}

	for _, part := range partitions(f, t.Mode) {
		series := make([]interface{}, len(part))
		for i, rowIdx := range part {
			series[i] = f.rows[rowIdx].cells[idx]
		}
		out, lower, upper := computeTechnical(series, t)
		for i, rowIdx := range part {
			f.rows[rowIdx].cells[idx] = out[i]
			if t.Type == fields.TechnicalBollinger {
				f.rows[rowIdx].cells[lowerIdx] = lower[i]
				f.rows[rowIdx].cells[upperIdx] = upper[i]
			}
		}
	}
	return nil
}

// partitions groups row indices for a technical pass. Group mode
// partitions on all dimensions but the last; all mode is one partition.
func partitions(f *frame, mode fields.TechnicalMode) [][]int {
	if mode == fields.TechnicalModeAll || f.dimCount <= 1 {
		all := make([]int, len(f.rows))
		for i := range f.rows {
			all[i] = i
		}
		return [][]int{all}
	}

	var parts [][]int
	index := map[string]int{}
	for i, row := range f.rows {
		key := partitionKey(row.cells[:f.dimCount-1])
		p, ok := index[key]
		if !ok {
			p = len(parts)
			index[key] = p
			parts = append(parts, nil)
		}
		parts[p] = append(parts[p], i)
	}
	return parts
}

func partitionKey(cells []interface{}) string {
	var b strings.Builder
	for _, c := range cells {
		fmt.Fprintf(&b, "%v\x00", c)
	}
	return b.String()
}

// computeTechnical evaluates one transform over a partition's series.
// Lower and upper are only populated for bollinger bands.
func computeTechnical(series []interface{}, t *fields.Technical) (out, lower, upper []interface{}) {
	out = make([]interface{}, len(series))
	if t.Type == fields.TechnicalBollinger {
		lower = make([]interface{}, len(series))
		upper = make([]interface{}, len(series))
	}

	switch {
	case t.Type.IsRolling():
		for i := range series {
			end := i
			if t.Center {
				end = i + t.Window/2
			}
			start := end - t.Window + 1
			var window []float64
			for j := start; j <= end; j++ {
				if j < 0 || j >= len(series) {
					continue
				}
				if v, ok := toFloat(series[j]); ok {
					window = append(window, v)
				}
			}
			if len(window) < t.MinPeriods {
				continue
			}
			switch t.Type {
			case fields.TechnicalMean:
				out[i] = mean(window)
			case fields.TechnicalSum:
				out[i] = sum(window)
			case fields.TechnicalMedian:
				out[i] = median(window)
			case fields.TechnicalStdDev:
				if v, ok := sampleStd(window); ok {
					out[i] = v
				}
			case fields.TechnicalVariance:
				if v, ok := sampleVar(window); ok {
					out[i] = v
				}
			case fields.TechnicalMin:
				out[i] = minOf(window)
			case fields.TechnicalMax:
				out[i] = maxOf(window)
			case fields.TechnicalBollinger:
				m := mean(window)
				out[i] = m
				if std, ok := sampleStd(window); ok {
					lower[i] = m - 2*std
					upper[i] = m + 2*std
				}
			}
		}

	case t.Type.IsOffset():
		for i := range series {
			j := i - t.Window
			if j < 0 {
				continue
			}
			a, aok := toFloat(series[i])
			b, bok := toFloat(series[j])
			if !aok || !bok {
				continue
			}
			if t.Type == fields.TechnicalDiff {
				out[i] = a - b
			} else if b != 0 {
				out[i] = a/b - 1
			}
		}

	case t.Type.IsCumulative():
		var acc float64
		started := false
		for i := range series {
			v, ok := toFloat(series[i])
			if !ok {
				continue
			}
			switch t.Type {
			case fields.TechnicalCumSum:
				acc += v
			case fields.TechnicalCumMin:
				if !started || v < acc {
					acc = v
				}
			case fields.TechnicalCumMax:
				if !started || v > acc {
					acc = v
				}
			}
			started = true
			out[i] = acc
		}

	case t.Type.IsRank():
		type entry struct {
			index int
			value float64
		}
		var entries []entry
		for i := range series {
			if v, ok := toFloat(series[i]); ok {
				entries = append(entries, entry{i, v})
			}
		}
		sort.SliceStable(entries, func(a, b int) bool { return entries[a].value < entries[b].value })
		// Ties share the average of the positions they span.
		for i := 0; i < len(entries); {
			j := i
			for j < len(entries) && entries[j].value == entries[i].value {
				j++
			}
			rank := float64(i+j+1) / 2
			for k := i; k < j; k++ {
				if t.Type == fields.TechnicalPctRank {
					out[entries[k].index] = rank / float64(len(entries))
				} else {
					out[entries[k].index] = rank
				}
			}
			i = j
		}
	}
	return out, lower, upper
}

// --- rollups ---

// applyRollups appends subtotal rows for the deepest rollup levels and
// a grand total when requested. The ordering pass places them after
// their group.
func (r *Report) applyRollups(f *frame, shapes map[string]metricShape) {
	if f.dimCount == 0 {
		return
	}
	details := make([]frameRow, len(f.rows))
	copy(details, f.rows)

	for prefix := f.dimCount - 1; prefix >= f.dimCount-r.rollupLevels && prefix > 0; prefix-- {
		var order []string
		groups := map[string][]frameRow{}
		for _, row := range details {
			key := partitionKey(row.cells[:prefix])
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], row)
		}
		for _, key := range order {
			f.rows = append(f.rows, r.rollupRow(f, shapes, groups[key], prefix))
		}
	}
	if r.rollupGrand {
		f.rows = append(f.rows, r.rollupRow(f, shapes, details, 0))
	}
}

// rollupRow aggregates one group of detail rows into a subtotal: the
// shared prefix, sentinels over the collapsed dimensions, metrics
// re-aggregated by their combined aggregation. Weighted means recombine
// from the numerator and denominator sums the rows carry.
func (r *Report) rollupRow(f *frame, shapes map[string]metricShape, group []frameRow, prefix int) frameRow {
	cells := make([]interface{}, len(f.columns))
	copy(cells[:prefix], group[0].cells[:prefix])
	for i := prefix; i < f.dimCount; i++ {
		cells[i] = RollupSentinel
	}

	for i := f.dimCount; i < len(f.columns); i++ {
		agg := sql.AggregationSum
		if shape, ok := shapes[f.columns[i]]; ok && shape.aggregation != "" {
			agg = shape.aggregation
		}
		var values []float64
		for _, row := range group {
			if v, ok := toFloat(row.cells[i]); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		switch agg {
		case sql.AggregationMean:
			if num, den, ok := groupWeights(group, f.columns[i]); ok {
				if den != 0 {
					cells[i] = num / den
				}
				break
			}
			cells[i] = mean(values)
		case sql.AggregationMin:
			cells[i] = minOf(values)
		case sql.AggregationMax:
			cells[i] = maxOf(values)
		default:
			cells[i] = sum(values)
		}
	}
	return frameRow{cells: cells, rollup: true}
}

// groupWeights sums a weighted metric's numerator and denominator over
// a group. ok is false when no row in the group carries weights, which
// sends the rollup down the plain mean path.
func groupWeights(group []frameRow, metric string) (num, den float64, ok bool) {
	for _, row := range group {
		w, has := row.weights[metric]
		if !has {
			continue
		}
		num += w.num
		den += w.den
		ok = true
	}
	return num, den, ok
}

// --- rounding ---

func (r *Report) applyRounding(f *frame, shapes map[string]metricShape) {
	for name, shape := range shapes {
		if shape.rounding == nil {
			continue
		}
		targets := []int{f.columnIndex(name)}
		if shape.technical != nil && shape.technical.Type == fields.TechnicalBollinger {
			targets = append(targets, f.columnIndex(name+"_lower"), f.columnIndex(name+"_upper"))
		}
		for _, idx := range targets {
			if idx < 0 {
				continue
			}
			for i := range f.rows {
				if v, ok := toFloat(f.rows[i].cells[idx]); ok {
					f.rows[i].cells[idx] = roundTo(v, *shape.rounding)
				}
			}
		}
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// --- ordering ---

// orderFrame sorts the frame. Explicit order_by keys win; otherwise the
// dimensions sort ascending. Rollup rows stay after the details in
// either direction and whatever the key: sentinel dimension cells sort
// after every real value, and a metric key never lifts a subtotal or
// the grand total into the details.
func (r *Report) orderFrame(f *frame) {
	type key struct {
		idx  int
		desc bool
		rank func(string) (int, bool)
	}
	var keys []key
	if len(r.orderBy) > 0 {
		for _, o := range r.orderBy {
			if idx := f.columnIndex(o.Field); idx >= 0 {
				keys = append(keys, key{idx: idx, desc: o.Desc, rank: r.valueRanker(o.Field)})
			}
		}
	} else {
		for i := 0; i < f.dimCount; i++ {
			keys = append(keys, key{idx: i, rank: r.valueRanker(f.columns[i])})
		}
	}
	if len(keys) == 0 {
		return
	}

	sort.SliceStable(f.rows, func(a, b int) bool {
		ra, rb := f.rows[a], f.rows[b]
		for _, k := range keys {
			pa, pb := f.sortPin(ra, k.idx), f.sortPin(rb, k.idx)
			if pa != pb {
				return pa < pb
			}
			if pa > 0 {
				continue
			}
			c := compareCells(ra.cells[k.idx], rb.cells[k.idx], k.rank)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// sortPin ranks a row for one sort key: real values first, NULLs next,
// rollup rows last. A rollup row pins on metric keys by its depth, so
// subtotals land after the details and the grand total after the
// subtotals.
func (f *frame) sortPin(row frameRow, idx int) int {
	if row.rollup && idx >= f.dimCount {
		depth := 0
		for i := 0; i < f.dimCount; i++ {
			if row.cells[i] == RollupSentinel {
				depth++
			}
		}
		return 1 + depth
	}
	return pinWeight(row.cells[idx])
}

// valueRanker returns the declared-order ranker for a dimension with an
// explicit value order, or nil.
func (r *Report) valueRanker(column string) func(string) (int, bool) {
	if !r.reg.HasDimension(column) {
		return nil
	}
	field, err := r.reg.GetDimension(column)
	if err != nil {
		return nil
	}
	d, ok := field.(*fields.Dimension)
	if !ok || len(d.Values) == 0 {
		return nil
	}
	return d.ValueRank
}

// compareCells orders two real cell values: numeric when both sides
// are numeric, declared rank when the dimension has one, string
// otherwise. Pinned cells never reach it; sortPin handles those.
func compareCells(a, b interface{}, rank func(string) (int, bool)) int {
	if rank != nil {
		ra, _ := rank(fmt.Sprint(a))
		rb, _ := rank(fmt.Sprint(b))
		if ra != rb {
			if ra < rb {
				return -1
			}
			return 1
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func pinWeight(v interface{}) int {
	switch v {
	case RollupSentinel:
		return 2
	case nil, NullDimensionSentinel:
		return 1
	}
	return 0
}

// --- pivot ---

// applyPivot moves the pivot dimensions into the column axis. Each
// metric expands into one column per observed pivot value combination,
// named "metric|value". Rollup sentinels in pivot cells surface as the
// totals label in the header.
func (r *Report) applyPivot(f *frame) error {
	var pivotIdx, keepDims []int
	isPivot := map[int]bool{}
	for _, p := range r.pivot {
		idx := f.columnIndex(p)
		if idx < 0 || idx >= f.dimCount {
			return errors.NewInvalidReportConfig(
				fmt.Sprintf("pivot field %q is not a result dimension", p))
		}
		pivotIdx = append(pivotIdx, idx)
		isPivot[idx] = true
	}
	for i := 0; i < f.dimCount; i++ {
		if !isPivot[i] {
			keepDims = append(keepDims, i)
		}
	}
	valueCols := make([]int, 0, len(f.columns)-f.dimCount)
	for i := f.dimCount; i < len(f.columns); i++ {
		valueCols = append(valueCols, i)
	}

	// Observed pivot combinations, in frame order.
	var combos []string
	comboSeen := map[string]bool{}
	for _, row := range f.rows {
		combo := pivotLabel(row.cells, pivotIdx)
		if !comboSeen[combo] {
			comboSeen[combo] = true
			combos = append(combos, combo)
		}
	}

	columns := make([]string, 0, len(keepDims)+len(combos)*len(valueCols))
	for _, idx := range keepDims {
		columns = append(columns, f.columns[idx])
	}
	cellIndex := map[string]int{}
	for _, idx := range valueCols {
		for _, combo := range combos {
			cellIndex[f.columns[idx]+"|"+combo] = len(columns)
			columns = append(columns, f.columns[idx]+"|"+combo)
		}
	}

	var out []frameRow
	groupIndex := map[string]int{}
	for _, row := range f.rows {
		key := partitionKeyAt(row.cells, keepDims) + fmt.Sprintf("\x01%v", row.rollup)
		g, ok := groupIndex[key]
		if !ok {
			cells := make([]interface{}, len(columns))
			for i, idx := range keepDims {
				cells[i] = row.cells[idx]
			}
			g = len(out)
			groupIndex[key] = g
			out = append(out, frameRow{cells: cells, rollup: row.rollup})
		}
		combo := pivotLabel(row.cells, pivotIdx)
		for _, idx := range valueCols {
			out[g].cells[cellIndex[f.columns[idx]+"|"+combo]] = row.cells[idx]
		}
	}

	f.columns = columns
	f.dimCount = len(keepDims)
	f.rows = out
	return nil
}

func pivotLabel(cells []interface{}, pivotIdx []int) string {
	parts := make([]string, len(pivotIdx))
	for i, idx := range pivotIdx {
		switch cells[idx] {
		case RollupSentinel:
			parts[i] = TotalsLabel
		case nil, NullDimensionSentinel:
			parts[i] = "null"
		default:
			parts[i] = fmt.Sprint(cells[idx])
		}
	}
	return strings.Join(parts, "|")
}

func partitionKeyAt(cells []interface{}, idxs []int) string {
	var b strings.Builder
	for _, idx := range idxs {
		fmt.Fprintf(&b, "%v\x00", cells[idx])
	}
	return b.String()
}

// --- helpers ---

func (f *frame) columnIndex(name string) int {
	for i, c := range f.columns {
		if c == name {
			return i
		}
	}
	return -1
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func mean(values []float64) float64 {
	return sum(values) / float64(len(values))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func sampleVar(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return ss / float64(len(values)-1), true
}

func sampleStd(values []float64) (float64, bool) {
	v, ok := sampleVar(values)
	if !ok {
		return 0, false
	}
	return math.Sqrt(v), true
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
