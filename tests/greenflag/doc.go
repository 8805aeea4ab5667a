// Package greenflag holds end-to-end tests that prove the engine
// succeeds on valid requests: reports over a partner funnel schema
// loaded into in-memory SQLite, cross-datasource combination, rollups,
// technicals, and the saved spec lifecycle.
package greenflag

// The suite is organized by concern:
// - suite_test.go: the shared two-datasource fixture
// - report_test.go: report execution happy paths
// - spec_test.go: metadata store round trips
