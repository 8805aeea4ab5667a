package sql

import (
	"strconv"
	"strings"
)

// SelectColumn is one projected expression with its output alias.
type SelectColumn struct {
	Expr  string
	Alias string
}

// JoinClause is a single join step in a select statement. Kind is the
// full join keyword ("INNER JOIN", "LEFT JOIN", "FULL OUTER JOIN").
type JoinClause struct {
	Kind  string
	Table string
	Alias string
	On    string
}

// SelectQuery assembles a SELECT statement with "?" bind placeholders.
// The zero value is ready to use. GroupBy counts leading select columns
// grouped by ordinal position.
type SelectQuery struct {
	Prefix     string
	Columns    []SelectColumn
	From       string
	FromAlias  string
	Joins      []JoinClause
	Where      []string
	WhereArgs  []interface{}
	GroupBy    int
	Having     []string
	HavingArgs []interface{}
	OrderBy    []string
	Limit      int
	QuoteRune  rune
}

// Select appends a projected column.
func (q *SelectQuery) Select(expr, alias string) *SelectQuery {
	q.Columns = append(q.Columns, SelectColumn{Expr: expr, Alias: alias})
	return q
}

// Join appends a join clause.
func (q *SelectQuery) Join(kind, table, alias, on string) *SelectQuery {
	q.Joins = append(q.Joins, JoinClause{Kind: kind, Table: table, Alias: alias, On: on})
	return q
}

// AddWhere appends a WHERE predicate. Predicates combine with AND.
func (q *SelectQuery) AddWhere(clause string, args ...interface{}) *SelectQuery {
	q.Where = append(q.Where, clause)
	q.WhereArgs = append(q.WhereArgs, args...)
	return q
}

func (q *SelectQuery) quote() rune {
	if q.QuoteRune == 0 {
		return '"'
	}
	return q.QuoteRune
}

// SQL renders the statement and returns it with its bind arguments in
// placeholder order.
func (q *SelectQuery) SQL() (string, []interface{}) {
	var b strings.Builder
	b.Grow(256)

	b.WriteString("SELECT")
	if q.Prefix != "" {
		b.WriteString(" ")
		b.WriteString(q.Prefix)
	}
	b.WriteString("\n")
	for i, col := range q.Columns {
		b.WriteString("  ")
		b.WriteString(col.Expr)
		if col.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(QuoteIdentifier(col.Alias, q.quote()))
		}
		if i < len(q.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	b.WriteString("FROM ")
	b.WriteString(q.From)
	if q.FromAlias != "" {
		b.WriteString(" ")
		b.WriteString(q.FromAlias)
	}
	b.WriteString("\n")

	for _, j := range q.Joins {
		b.WriteString(j.Kind)
		b.WriteString(" ")
		b.WriteString(j.Table)
		if j.Alias != "" {
			b.WriteString(" ")
			b.WriteString(j.Alias)
		}
		if j.On != "" {
			b.WriteString(" ON ")
			b.WriteString(j.On)
		}
		b.WriteString("\n")
	}

	if len(q.Where) > 0 {
		b.WriteString("WHERE ")
		b.WriteString(strings.Join(q.Where, " AND "))
		b.WriteString("\n")
	}

	if q.GroupBy > 0 {
		positions := make([]string, q.GroupBy)
		for i := range positions {
			positions[i] = strconv.Itoa(i + 1)
		}
		b.WriteString("GROUP BY ")
		b.WriteString(strings.Join(positions, ", "))
		b.WriteString("\n")
	}

	if len(q.Having) > 0 {
		b.WriteString("HAVING ")
		b.WriteString(strings.Join(q.Having, " AND "))
		b.WriteString("\n")
	}

	if len(q.OrderBy) > 0 {
		b.WriteString("ORDER BY ")
		b.WriteString(strings.Join(q.OrderBy, ", "))
		b.WriteString("\n")
	}

	if q.Limit > 0 {
		b.WriteString("LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
		b.WriteString("\n")
	}

	args := make([]interface{}, 0, len(q.WhereArgs)+len(q.HavingArgs))
	args = append(args, q.WhereArgs...)
	args = append(args, q.HavingArgs...)
	return strings.TrimRight(b.String(), "\n"), args
}
