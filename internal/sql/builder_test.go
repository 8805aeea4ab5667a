package sql

import "testing"

// TestSelectQuerySQL proves that a fully loaded SelectQuery renders every
// clause in order with positional GROUP BY and collects bind args.
func TestSelectQuerySQL(t *testing.T) {
	// Arrange
	q := &SelectQuery{From: "main.sales", FromAlias: "sales", GroupBy: 1, Limit: 10}
	q.Select("partners.name", "partner_name")
	q.Select("SUM(sales.revenue)", "revenue")
	q.Join("INNER JOIN", "main.partners", "partners", "sales.partner_id = partners.id")
	q.AddWhere("partners.name = ?", "Partner A")
	q.OrderBy = []string{"1 ASC"}

	// Act
	stmt, args := q.SQL()

	// Assert
	want := "SELECT\n" +
		"  partners.name AS \"partner_name\",\n" +
		"  SUM(sales.revenue) AS \"revenue\"\n" +
		"FROM main.sales sales\n" +
		"INNER JOIN main.partners partners ON sales.partner_id = partners.id\n" +
		"WHERE partners.name = ?\n" +
		"GROUP BY 1\n" +
		"ORDER BY 1 ASC\n" +
		"LIMIT 10"
	if stmt != want {
		t.Errorf("rendered SQL mismatch:\ngot:\n%s\nwant:\n%s", stmt, want)
	}
	if len(args) != 1 || args[0] != "Partner A" {
		t.Errorf("expected args [Partner A], got %v", args)
	}
}

// TestSelectQueryPrefix proves that a dialect hint renders directly after
// the SELECT keyword.
func TestSelectQueryPrefix(t *testing.T) {
	q := &SelectQuery{Prefix: "SQL_NO_CACHE", From: "t"}
	q.Select("x", "")

	stmt, _ := q.SQL()

	want := "SELECT SQL_NO_CACHE\n  x\nFROM t"
	if stmt != want {
		t.Errorf("expected %q, got %q", want, stmt)
	}
}

// TestRebindDollar proves that question-mark placeholders become numbered
// dollar placeholders while literals are untouched.
func TestRebindDollar(t *testing.T) {
	got := Rebind(PlaceholderDollar, "SELECT * FROM t WHERE a = ? AND b = '?' AND c IN (?, ?)")

	want := "SELECT * FROM t WHERE a = $1 AND b = '?' AND c IN ($2, $3)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

// TestQuoteIdentifier proves embedded quote characters are doubled.
func TestQuoteIdentifier(t *testing.T) {
	if got := QuoteIdentifier(`we"ird`, '"'); got != `"we""ird"` {
		t.Errorf("unexpected quoting: %s", got)
	}
	if got := QuoteIdentifier("path", '`'); got != "`path`" {
		t.Errorf("unexpected backtick quoting: %s", got)
	}
}

// TestColumnFullName proves schema-qualified tables collapse to their last
// segment when naming columns.
func TestColumnFullName(t *testing.T) {
	if got := ColumnFullName("main.sales", "revenue"); got != "sales.revenue" {
		t.Errorf("expected sales.revenue, got %s", got)
	}
	if got := DefaultFieldName("sales.revenue"); got != "sales_revenue" {
		t.Errorf("expected sales_revenue, got %s", got)
	}
}
