// Package redflag holds end-to-end tests that prove the engine refuses
// invalid or unsafe requests: grains below a metric's table, unknown
// fields, malformed configs, disallowed SQL in formulas, and execution
// after a kill.
package redflag

// The suite is organized by concern:
// - suite_test.go: the shared single-datasource fixture
// - report_test.go: request and execution refusals
// - config_test.go: warehouse config and metadata store refusals
