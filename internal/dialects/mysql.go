package dialects

// MySQL datetime conversions.
var mysqlConversions = []Conversion{
	{
		Field:   "year",
		Type:    "integer",
		Formula: "EXTRACT(YEAR FROM {})",
		Criteria: rangeConversions(
			"CONCAT(:0, '-01-01')",
			"DATE_ADD(CONCAT(:0, '-01-01'), INTERVAL 1 YEAR)",
			"DATE_SUB(DATE_ADD(CONCAT(:0, '-01-01'), INTERVAL 1 YEAR), INTERVAL 1 SECOND)",
		),
	},
	{
		Field:   "quarter",
		Type:    "string(8)",
		Formula: "CONCAT(YEAR({}), '-Q', QUARTER({}))",
	},
	{
		Field:   "quarter_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(QUARTER FROM {})",
	},
	{
		Field:   "month",
		Type:    "string(8)",
		Formula: "DATE_FORMAT({}, '%Y-%m')",
		Criteria: rangeConversions(
			"CONCAT(:0, '-01')",
			"DATE_ADD(CONCAT(:0, '-01'), INTERVAL 1 MONTH)",
			"DATE_SUB(DATE_ADD(CONCAT(:0, '-01'), INTERVAL 1 MONTH), INTERVAL 1 SECOND)",
		),
	},
	{
		Field:   "month_name",
		Type:    "string(10)",
		Formula: "MONTHNAME({})",
	},
	{
		Field:   "month_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(MONTH FROM {})",
	},
	{
		Field:   "date",
		Type:    "string(10)",
		Formula: "DATE_FORMAT({}, '%Y-%m-%d')",
		Criteria: rangeConversions(
			":0",
			"DATE_ADD(:0, INTERVAL 1 DAY)",
			"DATE_SUB(DATE_ADD(:0, INTERVAL 1 DAY), INTERVAL 1 SECOND)",
		),
	},
	{
		Field:   "day_name",
		Type:    "string(10)",
		Formula: "DAYNAME({})",
	},
	{
		// WEEKDAY counts from Monday=0; shift to Monday=1.
		Field:   "day_of_week",
		Type:    "smallint",
		Formula: "WEEKDAY({}) + 1",
	},
	{
		Field:   "day_of_month",
		Type:    "smallint",
		Formula: "EXTRACT(DAY FROM {})",
	},
	{
		Field:   "day_of_year",
		Type:    "smallint",
		Formula: "DAYOFYEAR({})",
	},
	{
		Field:   "hour",
		Type:    "string(20)",
		Formula: "DATE_FORMAT({}, '%Y-%m-%d %H:00:00')",
		Criteria: rangeConversions(
			":0",
			"DATE_ADD(:0, INTERVAL 1 HOUR)",
			"DATE_SUB(DATE_ADD(:0, INTERVAL 1 HOUR), INTERVAL 1 SECOND)",
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
		Formula: "DATE_FORMAT({}, '%Y-%m-%d %H:%i:00')",
		Criteria: rangeConversions(
			":0",
			"DATE_ADD(:0, INTERVAL 1 MINUTE)",
			"DATE_SUB(DATE_ADD(:0, INTERVAL 1 MINUTE), INTERVAL 1 SECOND)",
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
		Formula:  "DATE_FORMAT({}, '%Y-%m-%d %H:%i:%S')",
		Criteria: identityConversions(),
	},
	{
		Field:   "unixtime",
		Type:    "bigint",
		Formula: "UNIX_TIMESTAMP({})",
	},
}
