package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
)

// Config bounds the join search. Zero values mean unbounded.
type Config struct {
	// MaxJoins caps the number of optional joins tried per combination.
	MaxJoins int

	// MaxJoinCandidates caps the number of grain-covering combinations
	// considered before picking a winner.
	MaxJoinCandidates int
}

// Neighbor is a table reachable from another in a single join step,
// annotated with the dimension fields the step joins on.
type Neighbor struct {
	Table      *Table
	JoinFields []string
}

// Graph is the join graph of one datasource. Edges are directed: a child
// points up to its parent, a metric table points at dimension tables
// whose full primary key it carries, and declared sibling links connect
// dimension tables laterally in both directions.
type Graph struct {
	datasource string
	cfg        Config
	tables     map[string]*Table
	order      []string
	neighbors  map[string][]Neighbor
}

// NewGraph validates the tables of a datasource and builds its join
// graph.
func NewGraph(datasource string, tables []*Table, cfg Config) (*Graph, error) {
	g := &Graph{
		datasource: datasource,
		cfg:        cfg,
		tables:     make(map[string]*Table, len(tables)),
		neighbors:  make(map[string][]Neighbor),
	}
	for _, t := range tables {
		if _, dup := g.tables[t.Name]; dup {
			return nil, errors.NewInvalidDataSourceConfig(datasource, "duplicate table "+t.Name)
		}
		t.attach()
		if err := t.validate(); err != nil {
			return nil, err
		}
		g.tables[t.Name] = t
		g.order = append(g.order, t.Name)
	}
	sort.Strings(g.order)

	for _, name := range g.order {
		if err := g.checkRelationships(g.tables[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range g.order {
		g.buildNeighbors(g.tables[name])
	}
	return g, nil
}

// DataSource returns the name of the datasource the graph belongs to.
func (g *Graph) DataSource() string { return g.datasource }

// Table returns the table with the given fully qualified name.
func (g *Graph) Table(name string) (*Table, bool) {
	t, ok := g.tables[name]
	return t, ok
}

// Tables returns every table in name order.
func (g *Graph) Tables() []*Table {
	out := make([]*Table, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.tables[name])
	}
	return out
}

// MetricTables returns the metric tables in name order.
func (g *Graph) MetricTables() []*Table {
	var out []*Table
	for _, t := range g.Tables() {
		if t.IsMetricTable() {
			out = append(out, t)
		}
	}
	return out
}

// DimensionTables returns the dimension tables in name order.
func (g *Graph) DimensionTables() []*Table {
	var out []*Table
	for _, t := range g.Tables() {
		if t.IsDimensionTable() {
			out = append(out, t)
		}
	}
	return out
}

// TablesWithField returns the tables binding the field, in name order.
func (g *Graph) TablesWithField(field string) []*Table {
	var out []*Table
	for _, t := range g.Tables() {
		if t.HasField(field) {
			out = append(out, t)
		}
	}
	return out
}

// DimensionTablesWithField returns the dimension tables binding the
// field, in name order.
func (g *Graph) DimensionTablesWithField(field string) []*Table {
	var out []*Table
	for _, t := range g.DimensionTables() {
		if t.HasField(field) {
			out = append(out, t)
		}
	}
	return out
}

// checkRelationships validates parent and sibling declarations against
// the rest of the graph.
func (g *Graph) checkRelationships(t *Table) error {
	if t.Parent != "" {
		parent, ok := g.tables[t.Parent]
		if !ok {
			return errors.NewInvalidTableConfig(t.Name,
				fmt.Sprintf("parent %s is not defined", t.Parent))
		}
		for _, pk := range parent.PrimaryKey {
			if !t.HasField(pk) {
				return errors.NewInvalidTableConfig(t.Name,
					fmt.Sprintf("table %s is parent of %s but primary key field %s is not bound on both",
						parent.Name, t.Name, pk))
			}
		}
	}
	for _, sibName := range t.Siblings {
		sibling, ok := g.tables[sibName]
		if !ok {
			return errors.NewInvalidTableConfig(t.Name,
				fmt.Sprintf("sibling %s is not defined", sibName))
		}
		if !sibling.IsDimensionTable() {
			return errors.NewInvalidTableConfig(t.Name,
				fmt.Sprintf("sibling %s must be a dimension table", sibName))
		}
		if !samePrimaryKey(t.PrimaryKey, sibling.PrimaryKey) {
			return errors.NewInvalidTableConfig(t.Name,
				fmt.Sprintf("sibling %s must share the primary key", sibName))
		}
	}
	return nil
}

// buildNeighbors assembles the adjacency list for one table.
func (g *Graph) buildNeighbors(t *Table) {
	add := func(from string, target *Table, joinFields []string) {
		for _, n := range g.neighbors[from] {
			if n.Table.Name == target.Name {
				return
			}
		}
		g.neighbors[from] = append(g.neighbors[from], Neighbor{
			Table:      target,
			JoinFields: append([]string(nil), joinFields...),
		})
	}

	if t.IsMetricTable() {
		for _, dim := range g.DimensionTables() {
			if dim.Name == t.Name {
				continue
			}
			if t.HasPrimaryKeyOf(dim) {
				add(t.Name, dim, dim.PrimaryKey)
			}
		}
	}

	if t.Parent != "" {
		parent := g.tables[t.Parent]
		add(t.Name, parent, parent.PrimaryKey)

		// The parent's declared siblings are reachable from the child
		// through the shared key.
		if parent.IsDimensionTable() {
			for _, sibName := range parent.Siblings {
				if sibling, ok := g.tables[sibName]; ok {
					add(t.Name, sibling, sibling.PrimaryKey)
				}
			}
		}
	}

	// Declared sibling links are usable in both directions.
	for _, sibName := range t.Siblings {
		if sibling, ok := g.tables[sibName]; ok {
			add(t.Name, sibling, sibling.PrimaryKey)
			add(sibling.Name, t, sibling.PrimaryKey)
		}
	}
}

// NeighborTables returns the tables reachable from t in one join step,
// in adjacency order.
func (g *Graph) NeighborTables(t *Table) []Neighbor {
	return g.neighbors[t.Name]
}

// edgeJoinFields returns the join fields of the edge start -> end.
func (g *Graph) edgeJoinFields(start, end string) []string {
	for _, n := range g.neighbors[start] {
		if n.Table.Name == end {
			return n.JoinFields
		}
	}
	return nil
}

// DescendentTables returns every table reachable from t through join
// edges, sorted by name. t itself is excluded.
func (g *Graph) DescendentTables(t *Table) []string {
	seen := map[string]struct{}{t.Name: {}}
	queue := []string{t.Name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, n := range g.neighbors[current] {
			if _, ok := seen[n.Table.Name]; ok {
				continue
			}
			seen[n.Table.Name] = struct{}{}
			queue = append(queue, n.Table.Name)
		}
	}
	delete(seen, t.Name)
	return sortedFieldSet(seen)
}

// allSimplePaths enumerates every cycle-free path from one table to
// another. Neighbor order keeps the result deterministic.
func (g *Graph) allSimplePaths(from, to string) [][]string {
	var paths [][]string
	onPath := map[string]struct{}{}

	var walk func(current string, path []string)
	walk = func(current string, path []string) {
		path = append(path, current)
		onPath[current] = struct{}{}
		defer delete(onPath, current)

		if current == to {
			paths = append(paths, append([]string(nil), path...))
			return
		}
		neighbors := append([]Neighbor(nil), g.neighbors[current]...)
		sort.Slice(neighbors, func(i, j int) bool {
			return neighbors[i].Table.Name < neighbors[j].Table.Name
		})
		for _, n := range neighbors {
			if _, visiting := onPath[n.Table.Name]; visiting {
				continue
			}
			walk(n.Table.Name, path)
		}
	}
	walk(from, nil)
	return paths
}

// joinsToDimension enumerates joins from t to every table providing the
// dimension at grain. A placeholder join stands for t providing the
// dimension itself.
func (g *Graph) joinsToDimension(t *Table, dim string) []*Join {
	var joins []*Join
	for _, target := range g.Tables() {
		if !target.ProvidesAtGrain(dim) {
			continue
		}
		var paths [][]string
		if target.Name == t.Name {
			paths = [][]string{{t.Name}}
		} else {
			paths = g.allSimplePaths(t.Name, target.Name)
		}
		for _, path := range paths {
			// Reference the dimension in the earliest table of the
			// path that provides it.
			var fieldMap map[string]*Column
			for _, name := range path {
				pt := g.tables[name]
				if !pt.ProvidesAtGrain(dim) {
					continue
				}
				if col, ok := pt.ColumnForField(dim); ok {
					fieldMap = map[string]*Column{dim: col}
					break
				}
			}
			if fieldMap == nil {
				continue
			}
			join := g.joinFromPath(path, fieldMap)
			if len(t.IncompleteDimensions) > 0 {
				joinFields := join.JoinFieldsForTable(t.Name)
				if intersects(joinFields, t.IncompleteDimensions) {
					continue
				}
			}
			joins = append(joins, join)
		}
	}
	return joins
}

// PossibleJoins maps every grain dimension to the joins that can reach
// it from t. A nil result means t can not satisfy the grain.
func (g *Graph) PossibleJoins(t *Table, grain []string) map[string][]*Join {
	if len(grain) == 0 {
		return nil
	}
	result := make(map[string][]*Join, len(grain))
	for _, dim := range sortedCopy(grain) {
		joins := g.joinsToDimension(t, dim)
		if len(joins) == 0 {
			return nil
		}
		result[dim] = joins
	}
	return result
}

// joinCover pairs a candidate join with the grain fields it covers.
type joinCover struct {
	join    *Join
	covered map[string]struct{}
}

func (c *joinCover) coveredNames() []string { return sortedFieldSet(c.covered) }

// ConsolidatedJoins reduces the possible joins for a grain to the
// cheapest set that covers it, with each winning join's field map
// populated. A nil result means the grain can not be met from t.
func (g *Graph) ConsolidatedJoins(t *Table, grain []string) ([]*Join, error) {
	possible := g.PossibleJoins(t, grain)
	if possible == nil {
		return nil, nil
	}

	grainSet := make(map[string]struct{}, len(grain))
	for _, dim := range grain {
		grainSet[dim] = struct{}{}
	}

	// Invert dimension -> joins into join -> covered dimensions, then
	// credit each join with every other grain field its tables provide.
	byKey := make(map[string]*joinCover)
	for _, dim := range sortedCopy(grain) {
		for _, join := range possible[dim] {
			key := join.Key()
			cover, ok := byKey[key]
			if !ok {
				cover = &joinCover{join: join, covered: map[string]struct{}{}}
				byKey[key] = cover
			}
			cover.covered[dim] = struct{}{}
		}
	}
	covers := make([]*joinCover, 0, len(byKey))
	for _, key := range sortedKeys(byKey) {
		cover := byKey[key]
		for field := range cover.join.CoveredFields() {
			if _, ok := grainSet[field]; ok {
				cover.covered[field] = struct{}{}
			}
		}
		covers = append(covers, cover)
	}

	sort.SliceStable(covers, func(i, j int) bool {
		a, b := covers[i], covers[j]
		if len(a.covered) != len(b.covered) {
			return len(a.covered) > len(b.covered)
		}
		if a.join.Len() != b.join.Len() {
			return a.join.Len() < b.join.Len()
		}
		return a.join.Key() < b.join.Key()
	})

	// A single join covering the whole grain is already optimal under
	// the sort order.
	if len(covers[0].covered) == len(grain) {
		best := covers[0]
		if err := best.join.AddFields(best.coveredNames()); err != nil {
			return nil, err
		}
		return []*Join{best.join}, nil
	}

	covers = g.eliminateRedundantJoins(covers, t)
	candidates := g.findJoinCombinations(covers, grainSet)
	if len(candidates) == 0 {
		return nil, nil
	}
	candidates, err := g.combineOrthogonalJoins(candidates)
	if err != nil {
		return nil, err
	}
	return chooseBestJoinCombination(candidates)
}

// eliminateRedundantJoins drops joins that only restate what a smaller
// join already covers. When two joins cover the same fields, the one
// whose second table carries the main table's primary key wins.
func (g *Graph) eliminateRedundantJoins(covers []*joinCover, mainTable *Table) []*joinCover {
	deleted := make(map[*joinCover]struct{})
	for _, cover := range covers {
		if _, gone := deleted[cover]; gone {
			continue
		}
		for _, other := range covers {
			if other == cover {
				continue
			}

			if cover.join.IsSubsetOf(other.join) && !hasUniqueFields(other.covered, cover.covered) {
				deleted[other] = struct{}{}
				continue
			}

			if sameFieldSet(cover.covered, other.covered) && cover.join.Len() > 1 && other.join.Len() > 1 {
				joinSecond, ok1 := g.Table(cover.join.TableNames()[1])
				otherSecond, ok2 := g.Table(other.join.TableNames()[1])
				if ok1 && ok2 &&
					stringSlicesEqual(joinSecond.PrimaryKey, mainTable.PrimaryKey) &&
					!stringSlicesEqual(otherSecond.PrimaryKey, mainTable.PrimaryKey) {
					deleted[other] = struct{}{}
				}
			}
		}
	}
	kept := make([]*joinCover, 0, len(covers))
	for _, cover := range covers {
		if _, gone := deleted[cover]; !gone {
			kept = append(kept, cover)
		}
	}
	return kept
}

// findJoinCombinations searches combinations of the candidate joins that
// cover the entire grain. Joins that are the sole provider of some grain
// field are required in every combination; the rest are tried as a
// bounded powerset.
func (g *Graph) findJoinCombinations(covers []*joinCover, grainSet map[string]struct{}) [][]*joinCover {
	var required, optional []*joinCover
	for _, cover := range covers {
		unique := make(map[string]struct{}, len(cover.covered))
		for f := range cover.covered {
			unique[f] = struct{}{}
		}
		for _, other := range covers {
			if other == cover {
				continue
			}
			for f := range other.covered {
				delete(unique, f)
			}
		}
		if len(unique) > 0 {
			required = append(required, cover)
		} else {
			optional = append(optional, cover)
		}
	}

	var candidates [][]*joinCover
	maxCombo := g.cfg.MaxJoins
	if maxCombo <= 0 || maxCombo > len(optional) {
		maxCombo = len(optional)
	}

	tryCombo := func(optionalCombo []*joinCover) bool {
		combo := append(append([]*joinCover(nil), optionalCombo...), required...)
		if len(combo) == 0 {
			return true
		}

		covered := make(map[string]struct{})
		for _, cover := range combo {
			for _, other := range combo {
				if other == cover {
					continue
				}
				// The powerset will also hit the combination without
				// the redundant member; skip this one.
				if other.join.IsSubsetOf(cover.join) {
					return true
				}
			}
			for f := range cover.covered {
				covered[f] = struct{}{}
			}
		}
		if len(covered) != len(grainSet) {
			return true
		}

		for _, existing := range candidates {
			if joinSetIsSubset(existing, combo) {
				return true
			}
		}
		candidates = append(candidates, combo)
		return g.cfg.MaxJoinCandidates <= 0 || len(candidates) < g.cfg.MaxJoinCandidates
	}

	// Combination sizes ascend so smaller covers are found first.
combos:
	for size := 0; size <= maxCombo; size++ {
		if size == 0 {
			if !tryCombo(nil) {
				break combos
			}
			continue
		}
		idx := make([]int, size)
		for i := range idx {
			idx[i] = i
		}
		for {
			combo := make([]*joinCover, size)
			for i, v := range idx {
				combo[i] = optional[v]
			}
			if !tryCombo(combo) {
				break combos
			}
			// Advance to the next index combination.
			i := size - 1
			for i >= 0 && idx[i] == len(optional)-size+i {
				i--
			}
			if i < 0 {
				break
			}
			idx[i]++
			for k := i + 1; k < size; k++ {
				idx[k] = idx[k-1] + 1
			}
		}
	}
	return candidates
}

// combineOrthogonalJoins merges the joins of each candidate that stem
// from the same root table into one join.
func (g *Graph) combineOrthogonalJoins(candidates [][]*joinCover) ([][]*joinCover, error) {
	result := make([][]*joinCover, 0, len(candidates))
	for _, combo := range candidates {
		byRoot := make(map[string]*joinCover)
		var rootOrder []string
		for _, cover := range combo {
			root := cover.join.TableNames()[0]
			existing, ok := byRoot[root]
			if !ok {
				byRoot[root] = &joinCover{join: cover.join, covered: copyFieldSet(cover.covered)}
				rootOrder = append(rootOrder, root)
				continue
			}
			merged, err := Combine(existing.join, cover.join)
			if err != nil {
				return nil, err
			}
			existing.join = merged
			for f := range cover.covered {
				existing.covered[f] = struct{}{}
			}
		}
		finalCombo := make([]*joinCover, 0, len(rootOrder))
		for _, root := range rootOrder {
			finalCombo = append(finalCombo, byRoot[root])
		}
		result = append(result, finalCombo)
	}
	return result, nil
}

// chooseBestJoinCombination picks the candidate touching the fewest
// distinct tables and populates its joins' field maps.
func chooseBestJoinCombination(candidates [][]*joinCover) ([]*Join, error) {
	type scored struct {
		combo  []*joinCover
		tables int
		key    string
	}
	scoredCandidates := make([]scored, 0, len(candidates))
	for _, combo := range candidates {
		tables := make(map[string]struct{})
		keys := make([]string, 0, len(combo))
		for _, cover := range combo {
			for _, name := range cover.join.TableNames() {
				tables[name] = struct{}{}
			}
			keys = append(keys, cover.join.Key())
		}
		sort.Strings(keys)
		scoredCandidates = append(scoredCandidates, scored{
			combo:  combo,
			tables: len(tables),
			key:    strings.Join(keys, ";"),
		})
	}
	sort.SliceStable(scoredCandidates, func(i, j int) bool {
		if scoredCandidates[i].tables != scoredCandidates[j].tables {
			return scoredCandidates[i].tables < scoredCandidates[j].tables
		}
		return scoredCandidates[i].key < scoredCandidates[j].key
	})

	chosen := scoredCandidates[0].combo
	joins := make([]*Join, 0, len(chosen))
	for _, cover := range chosen {
		if err := cover.join.AddFields(cover.coveredNames()); err != nil {
			return nil, err
		}
		joins = append(joins, cover.join)
	}
	return joins, nil
}

// TableSetsForField enumerates the table sets that can serve a field at
// the given grain. Bindings restricted by a required_grain are checked
// against the requested-dimension subset of the grain.
func (g *Graph) TableSetsForField(field string, grain, dimensionGrain []string) ([]*TableSet, error) {
	return g.tableSetsForField(g.TablesWithField(field), field, grain, dimensionGrain)
}

// DimensionTableSetsForField is TableSetsForField restricted to pure
// dimension tables, used for reports with no metrics.
func (g *Graph) DimensionTableSetsForField(field string, grain, dimensionGrain []string) ([]*TableSet, error) {
	return g.tableSetsForField(g.DimensionTablesWithField(field), field, grain, dimensionGrain)
}

func (g *Graph) tableSetsForField(tables []*Table, field string, grain, dimensionGrain []string) ([]*TableSet, error) {
	var sets []*TableSet
	for _, t := range tables {
		if !t.FieldAllowsGrain(field, dimensionGrain) {
			continue
		}
		if len(grain) == 0 || t.ProvidesAllAtGrain(grain) {
			sets = append(sets, &TableSet{
				DataSource:   g.datasource,
				Table:        t,
				Grain:        append([]string(nil), grain...),
				TargetFields: []string{field},
			})
			continue
		}
		joins, err := g.ConsolidatedJoins(t, grain)
		if err != nil {
			return nil, err
		}
		for _, join := range joins {
			sets = append(sets, &TableSet{
				DataSource:   g.datasource,
				Table:        t,
				Join:         join,
				Grain:        append([]string(nil), grain...),
				TargetFields: []string{field},
			})
		}
	}
	return sets, nil
}

func samePrimaryKey(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedCopy(a)
	bs := sortedCopy(b)
	return stringSlicesEqual(as, bs)
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if containsString(b, v) {
			return true
		}
	}
	return false
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]*joinCover) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyFieldSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func joinSetIsSubset(sub, super []*joinCover) bool {
	for _, s := range sub {
		found := false
		for _, p := range super {
			if p.join.Key() == s.join.Key() {
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

func hasUniqueFields(a, b map[string]struct{}) bool {
	for f := range a {
		if _, ok := b[f]; !ok {
			return true
		}
	}
	return false
}

func sameFieldSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for f := range a {
		if _, ok := b[f]; !ok {
			return false
		}
	}
	return true
}
