package schema

import (
	"fmt"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
)

// JoinPart is a single edge of a join path: the pair of tables involved
// and the dimension fields they join on. A part with one table and no
// join fields is a placeholder meaning the starting table alone.
type JoinPart struct {
	Tables     []string
	JoinFields []string
}

func (p JoinPart) equal(other JoinPart) bool {
	return stringSlicesEqual(p.Tables, other.Tables) &&
		stringSlicesEqual(p.JoinFields, other.JoinFields)
}

// Join is a chain of join parts rooted at a metric table, together with
// the mapping of each covered field to the column that serves it.
type Join struct {
	Parts    []JoinPart
	FieldMap map[string]*Column

	graph      *Graph
	tableNames []string
}

func newJoin(g *Graph, parts []JoinPart, fieldMap map[string]*Column) *Join {
	j := &Join{graph: g, FieldMap: map[string]*Column{}}
	for field, col := range fieldMap {
		j.FieldMap[field] = col
	}
	for _, p := range parts {
		j.appendPart(p)
	}
	return j
}

func (j *Join) appendPart(p JoinPart) {
	j.Parts = append(j.Parts, p)
	for _, name := range p.Tables {
		if !containsString(j.tableNames, name) {
			j.tableNames = append(j.tableNames, name)
		}
	}
}

// TableNames returns the tables of the join in first-use order.
func (j *Join) TableNames() []string { return j.tableNames }

// Len returns the number of distinct tables in the join.
func (j *Join) Len() int { return len(j.tableNames) }

// Key is a stable identity for the join derived from its table chain.
func (j *Join) Key() string { return strings.Join(j.tableNames, ",") }

// HasTable reports whether the join involves the named table.
func (j *Join) HasTable(name string) bool { return containsString(j.tableNames, name) }

// Table resolves a table of the join's graph by name.
func (j *Join) Table(name string) (*Table, bool) { return j.graph.Table(name) }

// IsSubsetOf reports whether every table of this join appears in other.
func (j *Join) IsSubsetOf(other *Join) bool {
	for _, name := range j.tableNames {
		if !other.HasTable(name) {
			return false
		}
	}
	return true
}

// JoinFieldsForTable returns the sorted set of fields the named table
// joins on across all parts it participates in.
func (j *Join) JoinFieldsForTable(name string) []string {
	set := make(map[string]struct{})
	for _, p := range j.Parts {
		if !containsString(p.Tables, name) {
			continue
		}
		for _, f := range p.JoinFields {
			set[f] = struct{}{}
		}
	}
	return sortedFieldSet(set)
}

// CoveredFields returns every field some join table provides at grain.
func (j *Join) CoveredFields() map[string]struct{} {
	fields := make(map[string]struct{})
	for _, name := range j.tableNames {
		t, ok := j.graph.Table(name)
		if !ok {
			continue
		}
		for _, f := range t.FieldNames() {
			if t.ProvidesAtGrain(f) {
				fields[f] = struct{}{}
			}
		}
	}
	return fields
}

// AddField records the column serving a covered field, preferring the
// earliest table in the join chain that provides it.
func (j *Join) AddField(field string) error {
	if _, ok := j.FieldMap[field]; ok {
		return nil
	}
	for _, name := range j.tableNames {
		t, ok := j.graph.Table(name)
		if !ok {
			continue
		}
		if !t.ProvidesAtGrain(field) {
			continue
		}
		col, ok := t.ColumnForField(field)
		if !ok {
			continue
		}
		j.FieldMap[field] = col
		return nil
	}
	return errors.NewInvalidTableConfig(j.Key(),
		fmt.Sprintf("field %s is not provided by any join table", field))
}

// AddFields records columns for every given field.
func (j *Join) AddFields(fields []string) error {
	for _, f := range fields {
		if err := j.AddField(f); err != nil {
			return err
		}
	}
	return nil
}

// Combine merges two joins rooted at the same graph into one, keeping
// j1's parts and re-resolving j2's fields against the merged chain.
func Combine(j1, j2 *Join) (*Join, error) {
	if j1.graph != j2.graph {
		return nil, errors.NewInvalidTableConfig(j1.Key(),
			"can not combine joins from different datasources")
	}
	merged := newJoin(j1.graph, j1.Parts, j1.FieldMap)
	for _, p := range j2.Parts {
		dup := false
		for _, existing := range merged.Parts {
			if existing.equal(p) {
				dup = true
				break
			}
		}
		if !dup {
			merged.appendPart(p)
		}
	}
	for field := range j2.FieldMap {
		if err := merged.AddField(field); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// joinFromPath builds a Join for a path of table names. Single-table
// paths produce the placeholder part.
func (g *Graph) joinFromPath(path []string, fieldMap map[string]*Column) *Join {
	var parts []JoinPart
	if len(path) == 1 {
		parts = append(parts, JoinPart{Tables: append([]string(nil), path...)})
	} else {
		for i := 0; i+1 < len(path); i++ {
			start, end := path[i], path[i+1]
			parts = append(parts, JoinPart{
				Tables:     []string{start, end},
				JoinFields: g.edgeJoinFields(start, end),
			})
		}
	}
	return newJoin(g, parts, fieldMap)
}

// TableSet is a candidate assignment target for the planner: a field
// table plus the join (possibly none) that reaches the grain.
type TableSet struct {
	DataSource   string
	Table        *Table
	Join         *Join
	Grain        []string
	TargetFields []string
}

// TableNames returns the involved tables, starting with the field table.
func (ts *TableSet) TableNames() []string {
	names := []string{ts.Table.Name}
	if ts.Join != nil {
		for _, name := range ts.Join.TableNames() {
			if !containsString(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// Len returns the number of tables the set touches.
func (ts *TableSet) Len() int {
	if ts.Join == nil {
		return 1
	}
	return ts.Join.Len()
}

// Key is a stable identity for the table set. Two metrics may share a
// datasource query exactly when their chosen table sets share a key.
func (ts *TableSet) Key() string {
	join := ""
	if ts.Join != nil {
		join = ts.Join.Key()
	}
	return ts.DataSource + ":" + ts.Table.Name + "[" + join + "]"
}

// AddTargetField records another field this table set was selected for.
func (ts *TableSet) AddTargetField(field string) {
	if !containsString(ts.TargetFields, field) {
		ts.TargetFields = append(ts.TargetFields, field)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
