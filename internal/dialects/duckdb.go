package dialects

// DuckDB datetime conversions. DuckDB carries a few extra calendar fields
// the other dialects do not define: week_of_year, week_of_month,
// period_of_month_7d, and is_weekday.
var duckdbConversions = []Conversion{
	{
		Field:   "year",
		Type:    "integer",
		Formula: "EXTRACT(YEAR FROM {})",
		Criteria: rangeConversions(
			"CAST(:0 || '-01-01' AS DATE)",
			"(CAST(:0 || '-01-01' AS DATE) + to_years(1))",
			"(CAST(:0 || '-01-01' AS TIMESTAMP) + to_years(1) - to_seconds(1))",
		),
	},
	{
		Field:   "quarter",
		Type:    "string(8)",
		Formula: "strftime({}, '%Y-Q')  || date_part('quarter', {})",
	},
	{
		Field:   "quarter_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(QUARTER FROM {})",
	},
	{
		Field:   "month",
		Type:    "string(8)",
		Formula: "strftime({}, '%Y-%m')",
		Criteria: rangeConversions(
			"strftime(CAST(:0 || '-01' AS DATE), '%Y-%m')",
			"strftime(CAST(:0 || '-01' AS DATE) + to_months(1), '%Y-%m')",
			"(CAST(:0 || '-01' AS TIMESTAMP) + to_months(1) - to_seconds(1))",
		),
	},
	{
		Field:   "month_name",
		Type:    "string(10)",
		Formula: "strftime({}, '%B')",
	},
	{
		Field:   "month_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(MONTH FROM {})",
	},
	{
		Field:   "week_of_month",
		Type:    "smallint",
		Formula: "EXTRACT(WEEK FROM {}) - EXTRACT(WEEK FROM CAST(DATE_TRUNC('month', {}) as date)) + 1",
	},
	{
		Field:   "week_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(WEEK FROM {})",
	},
	{
		Field:   "period_of_month_7d",
		Type:    "smallint",
		Formula: "FLOOR((EXTRACT(DAY FROM {}) - 1) / 7) + 1",
	},
	{
		Field:   "date",
		Type:    "string(10)",
		Formula: "strftime({}, '%Y-%m-%d')",
		Criteria: rangeConversions(
			":0",
			"(CAST(:0 AS DATE) + to_days(1))",
			"(CAST(:0 AS TIMESTAMP) + to_days(1) - to_seconds(1))",
		),
	},
	{
		Field:   "day_name",
		Type:    "string(10)",
		Formula: "strftime({}, '%A')",
	},
	{
		Field:   "day_of_week",
		Type:    "smallint",
		Formula: "EXTRACT(ISODOW FROM {})",
	},
	{
		Field: "is_weekday",
		Type:  "smallint",
		Formula: "CASE EXTRACT(ISODOW FROM {}) " +
			"WHEN 1 THEN 1 " +
			"WHEN 2 THEN 1 " +
			"WHEN 3 THEN 1 " +
			"WHEN 4 THEN 1 " +
			"WHEN 5 THEN 1 " +
			"WHEN 6 THEN 0 " +
			"WHEN 7 THEN 0 " +
			"ELSE NULL " +
			"END",
	},
	{
		Field:   "day_of_month",
		Type:    "smallint",
		Formula: "EXTRACT(DAY FROM {})",
	},
	{
		Field:   "day_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(DOY FROM {})",
	},
	{
		Field:   "hour",
		Type:    "string(20)",
		Formula: "strftime({}, '%Y-%m-%d %H:00:00')",
		Criteria: rangeConversions(
			":0",
			"(CAST(:0 AS TIMESTAMP) + to_hours(1))",
			"(CAST(:0 AS TIMESTAMP) + to_hours(1) - to_seconds(1))",
		),
	},
	{
		Field:   "hour_of_day",
		Type:    "smallint",
		Formula: "EXTRACT(HOUR FROM {})",
	},
	{
		Field:   "minute",
		Type:    "string(20)",
		Formula: "strftime({}, '%Y-%m-%d %H:%M:00')",
		Criteria: rangeConversions(
			":0",
			"(CAST(:0 AS TIMESTAMP) + to_minutes(1))",
			"(CAST(:0 AS TIMESTAMP) + to_minutes(1) - to_seconds(1))",
		),
	},
	{
		Field:   "minute_of_hour",
		Type:    "smallint",
		Formula: "EXTRACT(MINUTE FROM {})",
	},
	{
		Field:    "datetime",
		Type:     "string(20)",
		Formula:  "strftime({}, '%Y-%m-%d %H:%M:%S')",
		Criteria: identityConversions(),
	},
	{
		Field:   "unixtime",
		Type:    "bigint",
		Formula: "EXTRACT(epoch from {})",
	},
}
