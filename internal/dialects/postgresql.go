package dialects

// PostgreSQL datetime conversions. Redshift shares this vocabulary.
var postgresqlConversions = []Conversion{
	{
		Field:   "year",
		Type:    "integer",
		Formula: "EXTRACT(YEAR FROM {})",
		Criteria: rangeConversions(
			"TO_DATE(:0 || '-01-01', 'YYYY-MM-DD')",
			"(TO_DATE(:0 || '-01-01', 'YYYY-MM-DD') + interval '1 year')",
			"(TO_DATE(:0 || '-01-01', 'YYYY-MM-DD') + interval '1 year' - interval '1 second')",
		),
	},
	{
		Field:   "quarter",
		Type:    "string(8)",
		Formula: "TO_CHAR({}, 'FMYYYY-\"Q\"Q')",
	},
	{
		Field:   "quarter_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(QUARTER FROM {})",
	},
	{
		Field:   "month",
		Type:    "string(8)",
		Formula: "TO_CHAR({}, 'FMYYYY-MM')",
		Criteria: rangeConversions(
			"TO_DATE(:0 || '-01', 'YYYY-MM')",
			"(TO_DATE(:0 || '-01', 'YYYY-MM') + interval '1 month')",
			"(TO_DATE(:0 || '-01', 'YYYY-MM') + interval '1 month' - interval '1 second')",
		),
	},
	{
		Field:   "month_name",
		Type:    "string(10)",
		Formula: "TO_CHAR({}, 'FMMonth')",
	},
	{
		Field:   "month_of_year",
		Type:    "smallint",
		Formula: "EXTRACT(MONTH FROM {})",
	},
	{
		Field:   "date",
		Type:    "string(10)",
		Formula: "TO_CHAR({}, 'FMYYYY-MM-DD')",
		Criteria: rangeConversions(
			":0",
			"(TO_DATE(:0, 'YYYY-MM-DD') + interval '1 day')",
			"(TO_DATE(:0, 'YYYY-MM-DD') + interval '1 day' - interval '1 second')",
		),
	},
	{
		Field:   "day_name",
		Type:    "string(10)",
		Formula: "TO_CHAR({}, 'FMDay')",
	},
	{
		Field:   "day_of_week",
		Type:    "smallint",
		Formula: "EXTRACT(ISODOW FROM {})",
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
		Formula: "TO_CHAR({}, 'FMYYYY-MM-DD HH24:00:00')",
		Criteria: rangeConversions(
			":0",
			"(TO_TIMESTAMP(:0, 'YYYY-MM-DD HH24:MI:SS') + interval '1 hour')",
			"(TO_TIMESTAMP(:0, 'YYYY-MM-DD HH24:MI:SS') + interval '1 hour' - interval '1 second')",
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
		Formula: "TO_CHAR({}, 'FMYYYY-MM-DD HH24:MI:00')",
		Criteria: rangeConversions(
			":0",
			"(TO_TIMESTAMP(:0, 'YYYY-MM-DD HH24:MI:SS') + interval '1 minute')",
			"(TO_TIMESTAMP(:0, 'YYYY-MM-DD HH24:MI:SS') + interval '1 minute' - interval '1 second')",
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
		Formula:  "TO_CHAR({}, 'FMYYYY-MM-DD HH24:MI:SS')",
		Criteria: identityConversions(),
	},
	{
		Field:   "unixtime",
		Type:    "bigint",
		Formula: "EXTRACT(epoch from {})",
	},
}
