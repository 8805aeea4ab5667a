// Package planner turns a report request into executable datasource
// query plans. It computes the report grain, enumerates candidate table
// sets for every leaf metric across datasources, and assigns metrics to
// the smallest set of queries that covers them all.
package planner

import (
	"fmt"
	"sort"

	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/fields"
	"github.com/quarry-labs/quarry/internal/schema"
)

// Source is the planner's view of one queryable datasource. Sources are
// supplied in priority order; earlier sources win ties.
type Source interface {
	// Name returns the datasource name.
	Name() string

	// Graph returns the datasource's table graph.
	Graph() *schema.Graph

	// Dialect returns the SQL dialect queries render in.
	Dialect() *dialects.Dialect
}

// Criterion filters rows before aggregation. Field must name a
// non-formula dimension.
type Criterion struct {
	Field string
	Op    string
	Value interface{}
}

// Request describes the fields a report needs from the datasource layer.
type Request struct {
	// Metrics are the requested metric names in declaration order.
	// Formula metrics expand to their leaves here and are reassembled by
	// the combined layer.
	Metrics []string

	// Dimensions are the requested dimension names in declaration order.
	Dimensions []string

	// Criteria contribute their fields to the grain even when those
	// fields are not selected.
	Criteria []Criterion

	// AllowPartial drops metrics that cannot meet the grain instead of
	// failing the request, as long as at least one metric survives.
	AllowPartial bool
}

// PlanSet is the planner's output: the query plans in execution order
// plus the grain bookkeeping the combined layer keys on.
type PlanSet struct {
	// Grain is the full planning grain: selected dimensions followed by
	// criteria-only fields.
	Grain []string

	// Dimensions are the dimension columns every plan selects. The
	// combined layer joins plan results on these.
	Dimensions []string

	// Plans are the datasource queries in execution order. The first
	// plan anchors the combined-layer join.
	Plans []*Plan

	// DroppedMetrics lists metrics removed under AllowPartial.
	DroppedMetrics []string

	// Warnings describe non-fatal planning decisions.
	Warnings []string
}

// Planner assigns report fields to datasource table sets.
type Planner struct {
	registry *fields.Registry
	sources  []Source
}

// New creates a planner over sources listed in priority order.
func New(registry *fields.Registry, sources []Source) *Planner {
	return &Planner{registry: registry, sources: sources}
}

// Plan builds the datasource query plans for a request. It fails with
// ErrUnsupportedGrain when any leaf metric has no table set reaching the
// grain, listing every offending metric at once.
func (p *Planner) Plan(req *Request) (*PlanSet, error) {
	if req == nil || (len(req.Metrics) == 0 && len(req.Dimensions) == 0) {
		return nil, errors.NewInvalidReportConfig("no metrics or dimensions requested")
	}

	exp, err := p.expand(req)
	if err != nil {
		return nil, err
	}

	set := &PlanSet{Grain: exp.grain, Dimensions: exp.dimensions}

	if len(exp.metrics) == 0 {
		plan, err := p.dimensionPlan(exp, req.Criteria)
		if err != nil {
			return nil, err
		}
		set.Plans = []*Plan{plan}
		return set, nil
	}

	groups, dropped, err := p.cover(exp, req.AllowPartial)
	if err != nil {
		return nil, err
	}
	for _, m := range dropped {
		set.DroppedMetrics = append(set.DroppedMetrics, m)
		set.Warnings = append(set.Warnings,
			fmt.Sprintf("metric %s dropped: no table set covers grain [%s]", m, joinNames(exp.grain)))
	}

	for i, g := range groups {
		plan, err := newPlan(g.src, g.ts, g.metrics, exp, req.Criteria, p.registry, i)
		if err != nil {
			return nil, err
		}
		set.Plans = append(set.Plans, plan)
	}
	return set, nil
}

// expansion is a request with formula fields replaced by their leaves.
type expansion struct {
	metrics    []string // leaf metrics, first-occurrence order
	metricIdx  map[string]int
	dimensions []string // selected dimension columns
	grain      []string // dimensions plus criteria-only fields
	weighting  map[string]string
}

func (p *Planner) expand(req *Request) (*expansion, error) {
	exp := &expansion{
		metricIdx: make(map[string]int),
		weighting: make(map[string]string),
	}
	extraDims := make(map[string]struct{})

	addLeafMetric := func(name string) error {
		if _, ok := exp.metricIdx[name]; ok {
			return nil
		}
		field, err := p.registry.GetMetric(name)
		if err != nil {
			return err
		}
		if m, ok := field.(*fields.Metric); ok && m.WeightingMetric != "" {
			if _, err := p.registry.GetMetric(m.WeightingMetric); err != nil {
				return err
			}
			exp.weighting[name] = m.WeightingMetric
		}
		exp.metricIdx[name] = len(exp.metrics)
		exp.metrics = append(exp.metrics, name)
		return nil
	}

	for _, name := range req.Metrics {
		field, err := p.registry.GetMetric(name)
		if err != nil {
			return nil, err
		}
		leaves, _, err := field.FormulaFields(p.registry, 0)
		if err != nil {
			return nil, err
		}
		if len(leaves) == 0 {
			leaves = []string{name}
		}
		for _, leaf := range leaves {
			kind, ok := p.registry.KindOf(leaf)
			if !ok {
				return nil, errors.NewNotFound("field", leaf)
			}
			if kind.IsMetric() {
				if err := addLeafMetric(leaf); err != nil {
					return nil, err
				}
			} else {
				extraDims[leaf] = struct{}{}
			}
		}
	}

	dimSeen := make(map[string]struct{})
	addDim := func(name string) {
		if _, ok := dimSeen[name]; ok {
			return
		}
		dimSeen[name] = struct{}{}
		exp.dimensions = append(exp.dimensions, name)
	}

	for _, name := range req.Dimensions {
		field, err := p.registry.GetDimension(name)
		if err != nil {
			return nil, err
		}
		leaves, _, err := field.FormulaFields(p.registry, 0)
		if err != nil {
			return nil, err
		}
		if len(leaves) == 0 {
			leaves = []string{name}
		}
		for _, leaf := range leaves {
			addDim(leaf)
		}
	}

	// Dimensions a metric formula pulls in rank after the declared ones.
	for _, name := range sortedSet(extraDims) {
		addDim(name)
	}

	exp.grain = append(exp.grain, exp.dimensions...)
	criteriaOnly := make(map[string]struct{})
	for _, c := range req.Criteria {
		kind, ok := p.registry.KindOf(c.Field)
		if !ok {
			return nil, errors.NewNotFound("field", c.Field)
		}
		if kind.IsMetric() {
			return nil, errors.NewInvalidReportConfig(
				fmt.Sprintf("criteria field %q is a metric; criteria filter dimensions before aggregation", c.Field))
		}
		if kind.IsFormula() {
			return nil, errors.NewUnsupportedOperation("criteria",
				fmt.Sprintf("formula dimension %q has no datasource column to filter on", c.Field))
		}
		if _, ok := dimSeen[c.Field]; !ok {
			criteriaOnly[c.Field] = struct{}{}
		}
	}
	exp.grain = append(exp.grain, sortedSet(criteriaOnly)...)
	return exp, nil
}

// candidate is one table set able to produce a metric at the grain.
type candidate struct {
	ts       *schema.TableSet
	src      Source
	srcIndex int
}

// group is one planned query: a table set plus every metric assigned to it.
type group struct {
	ts       *schema.TableSet
	src      Source
	metrics  []string
	firstIdx int
}

// cover assigns each leaf metric to a table set, sharing queries
// whenever two metrics land on the same table with the same join.
// Metrics with the fewest candidates are placed first; each goes to the
// candidate with the most metrics already assigned, then the fewest
// tables, then datasource order, then table priority, then name.
func (p *Planner) cover(exp *expansion, allowPartial bool) ([]*group, []string, error) {
	cands := make(map[string][]candidate, len(exp.metrics))
	var unsatisfied []string
	for _, m := range exp.metrics {
		list, err := p.metricCandidates(m, exp)
		if err != nil {
			return nil, nil, err
		}
		if len(list) == 0 {
			unsatisfied = append(unsatisfied, m)
			continue
		}
		cands[m] = list
	}

	if len(unsatisfied) > 0 {
		if !allowPartial || len(unsatisfied) == len(exp.metrics) {
			return nil, nil, errors.NewUnsupportedGrain(unsatisfied, exp.grain)
		}
	}

	order := make([]string, 0, len(cands))
	for _, m := range exp.metrics {
		if _, ok := cands[m]; ok {
			order = append(order, m)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(cands[order[i]]) < len(cands[order[j]])
	})

	groups := make(map[string]*group)
	var keys []string
	for _, m := range order {
		list := cands[m]
		best := 0
		for i := 1; i < len(list); i++ {
			if betterCandidate(list[i], list[best], assignedCount(groups, list[i]), assignedCount(groups, list[best])) {
				best = i
			}
		}
		c := list[best]
		key := c.ts.Key()
		g, ok := groups[key]
		if !ok {
			g = &group{ts: c.ts, src: c.src, firstIdx: exp.metricIdx[m]}
			groups[key] = g
			keys = append(keys, key)
		}
		g.metrics = append(g.metrics, m)
		g.ts.AddTargetField(m)
		if exp.metricIdx[m] < g.firstIdx {
			g.firstIdx = exp.metricIdx[m]
		}
	}

	out := make([]*group, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		sort.Slice(g.metrics, func(i, j int) bool {
			return exp.metricIdx[g.metrics[i]] < exp.metricIdx[g.metrics[j]]
		})
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].firstIdx != out[j].firstIdx {
			return out[i].firstIdx < out[j].firstIdx
		}
		return out[i].ts.Key() < out[j].ts.Key()
	})
	return out, unsatisfied, nil
}

func assignedCount(groups map[string]*group, c candidate) int {
	if g, ok := groups[c.ts.Key()]; ok {
		return len(g.metrics)
	}
	return 0
}

func betterCandidate(a, b candidate, aAssigned, bAssigned int) bool {
	if aAssigned != bAssigned {
		return aAssigned > bAssigned
	}
	if a.ts.Len() != b.ts.Len() {
		return a.ts.Len() < b.ts.Len()
	}
	if a.srcIndex != b.srcIndex {
		return a.srcIndex < b.srcIndex
	}
	if a.ts.Table.Priority != b.ts.Table.Priority {
		return a.ts.Table.Priority < b.ts.Table.Priority
	}
	return a.ts.Key() < b.ts.Key()
}

// metricCandidates enumerates the table sets able to produce one leaf
// metric at the grain, across sources in priority order. A weighted
// metric only considers tables that also bind its weighting metric,
// since the weighting column must come from the same table.
func (p *Planner) metricCandidates(name string, exp *expansion) ([]candidate, error) {
	field, err := p.registry.GetMetric(name)
	if err != nil {
		return nil, err
	}
	if rg := fields.MetricRequiredGrain(field); len(rg) > 0 && !coveredBy(rg, exp.grain) {
		return nil, nil
	}
	weighting := exp.weighting[name]

	var out []candidate
	for i, src := range p.sources {
		sets, err := src.Graph().TableSetsForField(name, exp.grain, exp.dimensions)
		if err != nil {
			return nil, err
		}
		for _, ts := range sets {
			if weighting != "" && !ts.Table.HasField(weighting) {
				continue
			}
			out = append(out, candidate{ts: ts, src: src, srcIndex: i})
		}
	}
	return out, nil
}

// dimensionPlan serves a report with no metrics: one query against the
// smallest dimension table set covering the grain, from the first source
// that has one.
func (p *Planner) dimensionPlan(exp *expansion, criteria []Criterion) (*Plan, error) {
	for _, src := range p.sources {
		var best *schema.TableSet
		for _, dim := range exp.grain {
			sets, err := src.Graph().DimensionTableSetsForField(dim, exp.grain, exp.dimensions)
			if err != nil {
				return nil, err
			}
			for _, ts := range sets {
				if best == nil || ts.Len() < best.Len() ||
					(ts.Len() == best.Len() && ts.Key() < best.Key()) {
					best = ts
				}
			}
		}
		if best != nil {
			return newPlan(src, best, nil, exp, criteria, p.registry, 0)
		}
	}
	return nil, errors.NewUnsupportedGrain(nil, exp.grain)
}

func coveredBy(needles, haystack []string) bool {
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if h == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
