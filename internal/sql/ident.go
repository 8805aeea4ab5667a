// Package sql provides the SQL text toolkit for datasource and combined
// layer query generation: identifier handling, select-statement assembly,
// criteria clause building, statement screening, and column type inference.
package sql

import (
	"fmt"
	"strings"
)

// PlaceholderStyle selects the bind-parameter syntax of a backend.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses "?" (sqlite, duckdb, mysql, snowflake, trino).
	PlaceholderQuestion PlaceholderStyle = iota

	// PlaceholderDollar uses "$1".."$n" (postgres, redshift).
	PlaceholderDollar
)

// QuoteIdentifier quotes an identifier with the given quote rune, doubling
// embedded quote characters.
func QuoteIdentifier(name string, quote rune) string {
	q := string(quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// QualifyColumn joins a table reference and column name.
func QualifyColumn(table, column string) string {
	if table == "" {
		return column
	}
	return table + "." + column
}

// ColumnFullName returns the canonical "table.column" name used to key
// column bindings. The table part keeps only the last path segment so that
// schema-qualified tables produce stable field names.
func ColumnFullName(table, column string) string {
	return TableShortName(table) + "." + column
}

// TableShortName returns the last dot-separated segment of a table FQN.
func TableShortName(fqn string) string {
	idx := strings.LastIndex(fqn, ".")
	if idx < 0 {
		return fqn
	}
	return fqn[idx+1:]
}

// DefaultFieldName derives a field name from a column full name by
// replacing dots with underscores.
func DefaultFieldName(columnFullName string) string {
	return strings.ReplaceAll(columnFullName, ".", "_")
}

// Rebind rewrites "?" placeholders to the target style. Question marks
// inside single-quoted literals are left alone.
func Rebind(style PlaceholderStyle, query string) string {
	if style == PlaceholderQuestion {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for _, r := range query {
		switch {
		case r == '\'':
			inLiteral = !inLiteral
			b.WriteRune(r)
		case r == '?' && !inLiteral:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
