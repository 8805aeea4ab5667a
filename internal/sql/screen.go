package sql

import (
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/quarry-labs/quarry/internal/errors"
)

// Formula bodies and ds_formula fragments are column expressions. Any
// fragment that parses as a complete statement, or that carries statement
// keywords, is rejected so config files cannot smuggle DML or DDL into
// generated queries.

var (
	stringLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
	statementKeywords    = regexp.MustCompile(`(?i)(?:^|[^a-zA-Z0-9_])(select|insert|update|delete|drop|create|alter|truncate|grant|revoke|merge|with|replace)(?:[^a-zA-Z0-9_]|$)`)
)

// ContainsSQLKeywords reports whether fragment is a complete SQL
// statement or contains statement-level keywords outside string literals.
func ContainsSQLKeywords(fragment string) bool {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" {
		return false
	}
	if _, err := sqlparser.Parse(trimmed); err == nil {
		return true
	}
	return statementKeywords.MatchString(stringLiteralPattern.ReplaceAllString(trimmed, "''"))
}

// ScreenFragment returns DisallowedSQL when fragment fails the keyword
// screen. It is applied to formulas, ds_formulas, ds_criteria_conversions,
// and criteria field names at load time.
func ScreenFragment(fragment string) error {
	if ContainsSQLKeywords(fragment) {
		return errors.NewDisallowedSQL(fragment,
			"fragment parses as a SQL statement or contains statement keywords")
	}
	return nil
}
