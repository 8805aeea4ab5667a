package schema

import (
	"sort"

	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/sql"
)

// FieldBinding attaches a field to a column. A plain binding reads the
// column directly; a binding with a DSFormula reads an expression in the
// source dialect instead. RequiredGrain restricts the binding to reports
// whose grain includes every listed dimension.
type FieldBinding struct {
	Field               string
	DSFormula           string
	RequiredGrain       []string
	CriteriaConversions dialects.CriteriaConversions
}

// AllowsGrain reports whether the binding may be used for a report at the
// given grain. Bindings without a RequiredGrain are always usable.
func (b FieldBinding) AllowsGrain(grain []string) bool {
	if len(b.RequiredGrain) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(grain))
	for _, g := range grain {
		have[g] = struct{}{}
	}
	for _, req := range b.RequiredGrain {
		if _, ok := have[req]; !ok {
			return false
		}
	}
	return true
}

// Column is a physical column of a datasource table together with the
// fields bound to it.
type Column struct {
	Name     string
	Type     sql.ColumnType
	Active   bool
	Bindings []FieldBinding

	AllowTypeConversions    bool
	TypeConversionPrefix    string
	DisabledTypeConversions []string

	table *Table
}

// Table returns the owning table. It is set when the column is attached.
func (c *Column) Table() *Table { return c.table }

// FullName returns the canonical "table.column" name.
func (c *Column) FullName() string {
	if c.table == nil {
		return c.Name
	}
	return sql.ColumnFullName(c.table.Name, c.Name)
}

// FieldNames lists the bound field names in binding order.
func (c *Column) FieldNames() []string {
	names := make([]string, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		names = append(names, b.Field)
	}
	return names
}

// BindingFor returns the binding for a field name.
func (c *Column) BindingFor(field string) (FieldBinding, bool) {
	for _, b := range c.Bindings {
		if b.Field == field {
			return b, true
		}
	}
	return FieldBinding{}, false
}

// HasField reports whether the column is bound to the field.
func (c *Column) HasField(field string) bool {
	_, ok := c.BindingFor(field)
	return ok
}

// AddBinding appends a field binding. Duplicate field names on one column
// are collapsed to the first binding.
func (c *Column) AddBinding(b FieldBinding) {
	if c.HasField(b.Field) {
		return
	}
	c.Bindings = append(c.Bindings, b)
}

// ConversionDisabled reports whether the named datetime conversion was
// switched off for this column.
func (c *Column) ConversionDisabled(conversion string) bool {
	for _, d := range c.DisabledTypeConversions {
		if d == conversion {
			return true
		}
	}
	return false
}

// sortedFieldSet collects field names from a set into a sorted slice.
func sortedFieldSet(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
