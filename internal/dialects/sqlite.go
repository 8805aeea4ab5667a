package dialects

// SQLite datetime conversions. Formats track ISO 8601 without the "T"
// separator; everything is assumed to share one timezone.
var sqliteConversions = []Conversion{
	{
		Field:   "year",
		Type:    "integer",
		Formula: "cast(strftime('%Y', {}) as integer)",
		Criteria: rangeConversions(
			"DATE(:0 || '-01-01')",
			"DATE(:0 || '-01-01', '+1 year')",
			"DATETIME(:0 || '-01-01', '+1 year', '-1 second')",
		),
	},
	{
		Field:   "quarter",
		Type:    "string(8)",
		Formula: "strftime('%Y', {}) || '-Q' || ((cast(strftime('%m', {}) as integer) + 2) / 3)",
	},
	{
		Field:   "quarter_of_year",
		Type:    "smallint",
		Formula: "(cast(strftime('%m', {}) as integer) + 2) / 3",
	},
	{
		Field:   "month",
		Type:    "string(8)",
		Formula: "strftime('%Y-%m', {})",
		Criteria: rangeConversions(
			"DATE(:0 || '-01')",
			"DATE(:0 || '-01', '+1 month')",
			"DATETIME(:0 || '-01', '+1 month', '-1 second')",
		),
	},
	{
		Field: "month_name",
		Type:  "string(10)",
		Formula: "CASE strftime('%m', {}) " +
			"WHEN '01' THEN 'January' " +
			"WHEN '02' THEN 'February' " +
			"WHEN '03' THEN 'March' " +
			"WHEN '04' THEN 'April' " +
			"WHEN '05' THEN 'May' " +
			"WHEN '06' THEN 'June' " +
			"WHEN '07' THEN 'July' " +
			"WHEN '08' THEN 'August' " +
			"WHEN '09' THEN 'September' " +
			"WHEN '10' THEN 'October' " +
			"WHEN '11' THEN 'November' " +
			"WHEN '12' THEN 'December' " +
			"ELSE NULL " +
			"END",
	},
	{
		Field:   "month_of_year",
		Type:    "smallint",
		Formula: "cast(strftime('%m', {}) as integer)",
	},
	{
		Field:   "date",
		Type:    "string(10)",
		Formula: "strftime('%Y-%m-%d', {})",
		Criteria: rangeConversions(
			":0",
			"DATE(:0, '+1 day')",
			"DATETIME(:0, '+1 day', '-1 second')",
		),
	},
	{
		Field: "day_name",
		Type:  "string(10)",
		Formula: "CASE cast(strftime('%w', {}) as integer) " +
			"WHEN 0 THEN 'Sunday' " +
			"WHEN 1 THEN 'Monday' " +
			"WHEN 2 THEN 'Tuesday' " +
			"WHEN 3 THEN 'Wednesday' " +
			"WHEN 4 THEN 'Thursday' " +
			"WHEN 5 THEN 'Friday' " +
			"WHEN 6 THEN 'Saturday' " +
			"ELSE NULL " +
			"END",
	},
	{
		// strftime %w counts from Sunday=0; shift to Monday=1.
		Field:   "day_of_week",
		Type:    "smallint",
		Formula: "(cast(strftime('%w', {}) as integer) + 6) % 7 + 1",
	},
	{
		Field:   "day_of_month",
		Type:    "smallint",
		Formula: "cast(strftime('%d', {}) as integer)",
	},
	{
		Field:   "day_of_year",
		Type:    "smallint",
		Formula: "cast(strftime('%j', {}) as integer)",
	},
	{
		Field:   "hour",
		Type:    "string(20)",
		Formula: "strftime('%Y-%m-%d %H:00:00', {})",
		Criteria: rangeConversions(
			":0",
			"DATETIME(:0, '+1 hour')",
			"DATETIME(:0, '+1 hour', '-1 second')",
		),
	},
	{
		Field:   "hour_of_day",
		Type:    "smallint",
		Formula: "cast(strftime('%H', {}) as integer)",
	},
	{
		Field:   "minute",
		Type:    "string(20)",
		Formula: "strftime('%Y-%m-%d %H:%M:00', {})",
		Criteria: rangeConversions(
			":0",
			"DATETIME(:0, '+1 minute')",
			"DATETIME(:0, '+1 minute', '-1 second')",
		),
	},
	{
		Field:   "minute_of_hour",
		Type:    "smallint",
		Formula: "cast(strftime('%M', {}) as integer)",
	},
	{
		Field:    "datetime",
		Type:     "string(20)",
		Formula:  "strftime('%Y-%m-%d %H:%M:%S', {})",
		Criteria: identityConversions(),
	},
	{
		Field:   "unixtime",
		Type:    "bigint",
		Formula: "cast(strftime('%s', {}) as integer)",
	},
}
