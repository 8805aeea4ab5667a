package dialects

import (
	"sort"
	"strings"

	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/sql"
)

// Dialect describes the SQL surface of one engine family.
type Dialect struct {
	Name         string
	QuoteRune    rune
	Placeholders sql.PlaceholderStyle
	Capabilities CapabilitySet

	conversions []Conversion
}

// Has reports whether the dialect supports a capability.
func (d *Dialect) Has(c Capability) bool {
	return d.Capabilities.Has(c)
}

// Conversions returns the calendar conversions applicable to a column
// type, in vocabulary order. Date columns stop before the hour level;
// non-date-like types get none.
func (d *Dialect) Conversions(t sql.ColumnType) []Conversion {
	if !d.Has(CapabilityTypeConversions) {
		return nil
	}
	switch t.Base {
	case "datetime":
		return d.conversions
	case "date":
		var out []Conversion
		for _, c := range d.conversions {
			if c.Field == "hour" {
				break
			}
			out = append(out, c)
		}
		return out
	}
	return nil
}

// Quote quotes an identifier with the dialect's quote character.
func (d *Dialect) Quote(name string) string {
	return sql.QuoteIdentifier(name, d.QuoteRune)
}

var registry = map[string]*Dialect{
	"sqlite": {
		Name:         "sqlite",
		QuoteRune:    '"',
		Placeholders: sql.PlaceholderQuestion,
		Capabilities: NewCapabilitySet(CapabilityFullOuterJoin, CapabilityTypeConversions, CapabilityAdHocTables),
		conversions:  sqliteConversions,
	},
	"mysql": {
		Name:         "mysql",
		QuoteRune:    '`',
		Placeholders: sql.PlaceholderQuestion,
		Capabilities: NewCapabilitySet(CapabilityKillQuery, CapabilityTypeConversions),
		conversions:  mysqlConversions,
	},
	"postgresql": {
		Name:         "postgresql",
		QuoteRune:    '"',
		Placeholders: sql.PlaceholderDollar,
		Capabilities: NewCapabilitySet(CapabilityKillQuery, CapabilityFullOuterJoin, CapabilityTypeConversions),
		conversions:  postgresqlConversions,
	},
	"redshift": {
		Name:         "redshift",
		QuoteRune:    '"',
		Placeholders: sql.PlaceholderDollar,
		Capabilities: NewCapabilitySet(CapabilityKillQuery, CapabilityFullOuterJoin, CapabilityTypeConversions),
		conversions:  postgresqlConversions,
	},
	"duckdb": {
		Name:         "duckdb",
		QuoteRune:    '"',
		Placeholders: sql.PlaceholderQuestion,
		Capabilities: NewCapabilitySet(CapabilityFullOuterJoin, CapabilityTypeConversions),
		conversions:  duckdbConversions,
	},
	"snowflake": {
		Name:         "snowflake",
		QuoteRune:    '"',
		Placeholders: sql.PlaceholderQuestion,
		Capabilities: NewCapabilitySet(CapabilityKillQuery, CapabilityFullOuterJoin),
	},
	"trino": {
		Name:         "trino",
		QuoteRune:    '"',
		Placeholders: sql.PlaceholderQuestion,
		Capabilities: NewCapabilitySet(CapabilityKillQuery, CapabilityFullOuterJoin),
	},
	"bigquery": {
		Name:         "bigquery",
		QuoteRune:    '`',
		Placeholders: sql.PlaceholderQuestion,
		Capabilities: NewCapabilitySet(CapabilityKillQuery, CapabilityFullOuterJoin),
	},
}

// Get looks up a dialect by name. "postgres" is accepted as an alias.
func Get(name string) (*Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "postgres" {
		key = "postgresql"
	}
	d, ok := registry[key]
	if !ok {
		return nil, errors.NewNotFound("dialect", name)
	}
	return d, nil
}

// Names returns the registered dialect names sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
