package schema

import (
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/sql"
)

// TableType classifies a table as a fact carrier or a lookup table.
type TableType string

const (
	TableTypeMetric    TableType = "metric"
	TableTypeDimension TableType = "dimension"
)

// ValidTableType reports whether s names a known table type.
func ValidTableType(s string) bool {
	return s == string(TableTypeMetric) || s == string(TableTypeDimension)
}

// Table is one physical table of a datasource: its columns, its primary
// key expressed as dimension names, and its join relationships (parent
// and sibling links).
type Table struct {
	// Name is the fully qualified table name, e.g. "main.sales".
	Name string

	Type       TableType
	Parent     string
	Siblings   []string
	PrimaryKey []string

	// IncompleteDimensions lists dimensions bound on this table at a
	// coarser granularity than the primary key. They may be selected
	// directly but do not count as provided when planning joins for a
	// metric table.
	IncompleteDimensions []string

	Priority           int
	CreateFields       bool
	UseFullColumnNames bool
	PrefixWith         string

	Columns []*Column
}

// attach wires column back-references. Called once at graph build.
func (t *Table) attach() {
	for _, c := range t.Columns {
		c.table = t
	}
}

// ShortName returns the unqualified table name.
func (t *Table) ShortName() string { return sql.TableShortName(t.Name) }

// IsMetricTable reports whether the table carries facts.
func (t *Table) IsMetricTable() bool { return t.Type == TableTypeMetric }

// IsDimensionTable reports whether the table is a pure lookup table.
func (t *Table) IsDimensionTable() bool { return t.Type == TableTypeDimension }

// Column returns the active column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name && c.Active {
			return c, true
		}
	}
	return nil, false
}

// ColumnsForField returns the active columns bound to the field, in
// declaration order.
func (t *Table) ColumnsForField(field string) []*Column {
	var cols []*Column
	for _, c := range t.Columns {
		if c.Active && c.HasField(field) {
			cols = append(cols, c)
		}
	}
	return cols
}

// ColumnForField returns the first active column bound to the field.
func (t *Table) ColumnForField(field string) (*Column, bool) {
	cols := t.ColumnsForField(field)
	if len(cols) == 0 {
		return nil, false
	}
	return cols[0], true
}

// HasField reports whether any active column is bound to the field.
func (t *Table) HasField(field string) bool {
	_, ok := t.ColumnForField(field)
	return ok
}

// FieldNames returns every field bound on an active column, sorted.
func (t *Table) FieldNames() []string {
	set := make(map[string]struct{})
	for _, c := range t.Columns {
		if !c.Active {
			continue
		}
		for _, b := range c.Bindings {
			set[b.Field] = struct{}{}
		}
	}
	return sortedFieldSet(set)
}

// FieldAllowsGrain reports whether some active binding of the field may
// serve a report at the given dimension grain.
func (t *Table) FieldAllowsGrain(field string, dimensionGrain []string) bool {
	for _, c := range t.ColumnsForField(field) {
		if b, ok := c.BindingFor(field); ok && b.AllowsGrain(dimensionGrain) {
			return true
		}
	}
	return false
}

// HasPrimaryKeyOf reports whether every primary key dimension of other is
// bound on this table.
func (t *Table) HasPrimaryKeyOf(other *Table) bool {
	if len(other.PrimaryKey) == 0 {
		return false
	}
	for _, pk := range other.PrimaryKey {
		if !t.HasField(pk) {
			return false
		}
	}
	return true
}

// isIncompleteDimension reports whether dim was declared incomplete.
func (t *Table) isIncompleteDimension(dim string) bool {
	for _, d := range t.IncompleteDimensions {
		if d == dim {
			return true
		}
	}
	return false
}

// inPrimaryKey reports whether dim is part of the primary key.
func (t *Table) inPrimaryKey(dim string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == dim {
			return true
		}
	}
	return false
}

// ProvidesAtGrain reports whether the table can serve dimension dim at
// report grain without joining: the dimension must be bound to one of its
// columns and either belong to the primary key, be declared complete, or
// the table must be a pure dimension table.
func (t *Table) ProvidesAtGrain(dim string) bool {
	if !t.HasField(dim) {
		return false
	}
	if t.inPrimaryKey(dim) {
		return true
	}
	if !t.isIncompleteDimension(dim) {
		return true
	}
	return t.IsDimensionTable()
}

// ProvidesAllAtGrain reports whether every grain dimension is provided
// without joining.
func (t *Table) ProvidesAllAtGrain(grain []string) bool {
	for _, dim := range grain {
		if !t.ProvidesAtGrain(dim) {
			return false
		}
	}
	return true
}

// validate checks the table's own declarations. Relationship checks that
// need other tables live in NewGraph.
func (t *Table) validate() error {
	if t.Name == "" {
		return errors.NewInvalidTableConfig(t.Name, "table name is required")
	}
	if !ValidTableType(string(t.Type)) {
		return errors.NewInvalidTableConfig(t.Name, "type must be metric or dimension")
	}
	if len(t.PrimaryKey) == 0 {
		return errors.NewInvalidTableConfig(t.Name, "primary_key is required")
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return errors.NewInvalidTableConfig(t.Name, "column name is required")
		}
		if _, dup := seen[c.Name]; dup {
			return errors.NewInvalidTableConfig(t.Name, "duplicate column "+c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for _, pk := range t.PrimaryKey {
		if !t.HasField(pk) {
			return errors.NewInvalidTableConfig(t.Name, "primary key dimension "+pk+" is not bound to any column")
		}
	}
	return nil
}
