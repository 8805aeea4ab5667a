// Package errors provides explicit, human-readable error types for quarry.
// All errors must include a Reason and Suggestion for actionable feedback.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// QuarryError is the base error type for all quarry errors.
// Every error must provide a human-readable reason and suggestion.
type QuarryError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeConfig     ErrorCode = 2
	CodeExecution  ErrorCode = 3
	CodeInternal   ErrorCode = 4
)

func (e *QuarryError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *QuarryError) Unwrap() error {
	return e.Cause
}

func (e *QuarryError) code() ErrorCode { return e.Code }

// CodeOf returns the category code of an error for exit code mapping.
// Errors from outside this package map to CodeInternal.
func CodeOf(err error) ErrorCode {
	var c interface{ code() ErrorCode }
	if stderrors.As(err, &c) {
		return c.code()
	}
	return CodeInternal
}

// ErrInvalidFieldConfig is returned when a metric or dimension definition
// cannot be accepted at warehouse or datasource build time.
type ErrInvalidFieldConfig struct {
	QuarryError
	Field string
}

// NewInvalidFieldConfig creates a new ErrInvalidFieldConfig.
func NewInvalidFieldConfig(field, reason string) *ErrInvalidFieldConfig {
	return &ErrInvalidFieldConfig{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("invalid field config: %s", field),
			Reason:     reason,
			Suggestion: "check the field definition in the warehouse config",
		},
		Field: field,
	}
}

// ErrInvalidTableConfig is returned when a table definition is invalid.
type ErrInvalidTableConfig struct {
	QuarryError
	Table string
}

// NewInvalidTableConfig creates a new ErrInvalidTableConfig.
func NewInvalidTableConfig(table, reason string) *ErrInvalidTableConfig {
	return &ErrInvalidTableConfig{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("invalid table config: %s", table),
			Reason:     reason,
			Suggestion: "check the table definition in the datasource config",
		},
		Table: table,
	}
}

// ErrInvalidDataSourceConfig is returned when a datasource config is invalid.
type ErrInvalidDataSourceConfig struct {
	QuarryError
	DataSource string
}

// NewInvalidDataSourceConfig creates a new ErrInvalidDataSourceConfig.
func NewInvalidDataSourceConfig(ds, reason string) *ErrInvalidDataSourceConfig {
	return &ErrInvalidDataSourceConfig{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("invalid datasource config: %s", ds),
			Reason:     reason,
			Suggestion: "validate the config with 'quarry validate'",
		},
		DataSource: ds,
	}
}

// ErrInvalidWarehouseConfig is returned when the warehouse config as a whole
// is inconsistent.
type ErrInvalidWarehouseConfig struct {
	QuarryError
}

// NewInvalidWarehouseConfig creates a new ErrInvalidWarehouseConfig.
func NewInvalidWarehouseConfig(reason string) *ErrInvalidWarehouseConfig {
	return &ErrInvalidWarehouseConfig{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    "invalid warehouse config",
			Reason:     reason,
			Suggestion: "validate the config with 'quarry validate'",
		},
	}
}

// ErrInvalidReportConfig is returned when report params fail validation
// before planning starts.
type ErrInvalidReportConfig struct {
	QuarryError
}

// NewInvalidReportConfig creates a new ErrInvalidReportConfig.
func NewInvalidReportConfig(reason string) *ErrInvalidReportConfig {
	return &ErrInvalidReportConfig{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    "invalid report params",
			Reason:     reason,
			Suggestion: "list known fields with 'quarry fields'",
		},
	}
}

// ErrUnsupportedGrain is returned when the planner cannot produce every
// requested metric at the report grain.
type ErrUnsupportedGrain struct {
	QuarryError
	Metrics []string
	Grain   []string
}

// NewUnsupportedGrain creates a new ErrUnsupportedGrain. An empty
// metrics list marks a dimension-only request no table set can cover.
func NewUnsupportedGrain(metrics, grain []string) *ErrUnsupportedGrain {
	msg := fmt.Sprintf("unsupported grain for metrics: %s", strings.Join(metrics, ", "))
	if len(metrics) == 0 {
		msg = "no dimension tables cover the requested grain"
	}
	return &ErrUnsupportedGrain{
		QuarryError: QuarryError{
			Code:    CodeValidation,
			Message: msg,
			Reason:  fmt.Sprintf("no table set covers grain [%s]", strings.Join(grain, ", ")),
			Suggestion: "drop dimensions/criteria the metric tables cannot reach, " +
				"or bind the metrics to tables that can join to the grain",
		},
		Metrics: metrics,
		Grain:   grain,
	}
}

// ErrQueryTimeout is returned when a single datasource query exceeds its
// configured timeout.
type ErrQueryTimeout struct {
	QuarryError
	DataSource string
	Seconds    float64
}

// NewQueryTimeout creates a new ErrQueryTimeout.
func NewQueryTimeout(ds string, seconds float64) *ErrQueryTimeout {
	return &ErrQueryTimeout{
		QuarryError: QuarryError{
			Code:       CodeExecution,
			Message:    fmt.Sprintf("datasource query timed out after %.3fs", seconds),
			Reason:     fmt.Sprintf("datasource %s did not answer within the configured timeout", ds),
			Suggestion: "raise QUARRY_DATASOURCE_QUERY_TIMEOUT or reduce the report scope",
		},
		DataSource: ds,
		Seconds:    seconds,
	}
}

// ErrFailedExecution is returned when a datasource query fails.
// It wraps the underlying SQL error.
type ErrFailedExecution struct {
	QuarryError
	DataSource string
}

// NewFailedExecution creates a new ErrFailedExecution.
func NewFailedExecution(ds string, cause error) *ErrFailedExecution {
	return &ErrFailedExecution{
		QuarryError: QuarryError{
			Code:       CodeExecution,
			Message:    fmt.Sprintf("datasource query failed on %s", ds),
			Reason:     "the backing database rejected the query",
			Suggestion: "check datasource connectivity with 'quarry doctor'",
			Cause:      cause,
		},
		DataSource: ds,
	}
}

// ErrCrashedExecution is returned when a query worker panicked.
type ErrCrashedExecution struct {
	QuarryError
	DataSource string
}

// NewCrashedExecution creates a new ErrCrashedExecution.
func NewCrashedExecution(ds string, recovered interface{}) *ErrCrashedExecution {
	return &ErrCrashedExecution{
		QuarryError: QuarryError{
			Code:       CodeInternal,
			Message:    fmt.Sprintf("query worker crashed on %s", ds),
			Reason:     fmt.Sprintf("panic: %v", recovered),
			Suggestion: "this is a bug; capture the report params and file an issue",
		},
		DataSource: ds,
	}
}

// ErrReportKilled is returned when a kill request was honored.
type ErrReportKilled struct {
	QuarryError
	ReportID string
}

// NewReportKilled creates a new ErrReportKilled.
func NewReportKilled(reportID string) *ErrReportKilled {
	return &ErrReportKilled{
		QuarryError: QuarryError{
			Code:       CodeExecution,
			Message:    "report killed",
			Reason:     "cancellation was requested and honored at a safe point",
			Suggestion: "re-run the report if the kill was unintended",
		},
		ReportID: reportID,
	}
}

// ErrUnsupportedOperation is returned for requests the engine refuses by
// design, e.g. criteria on a formula dimension.
type ErrUnsupportedOperation struct {
	QuarryError
	Operation string
}

// NewUnsupportedOperation creates a new ErrUnsupportedOperation.
func NewUnsupportedOperation(operation, reason string) *ErrUnsupportedOperation {
	return &ErrUnsupportedOperation{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("unsupported operation: %s", operation),
			Reason:     reason,
			Suggestion: "rewrite the report params to avoid the operation",
		},
		Operation: operation,
	}
}

// ErrDisallowedSQL is returned when a formula or criteria fragment contains
// SQL that is not a plain expression.
type ErrDisallowedSQL struct {
	QuarryError
	Fragment string
}

// NewDisallowedSQL creates a new ErrDisallowedSQL.
func NewDisallowedSQL(fragment, reason string) *ErrDisallowedSQL {
	return &ErrDisallowedSQL{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    "disallowed SQL fragment",
			Reason:     reason,
			Suggestion: "formulas and criteria may only contain plain expressions",
		},
		Fragment: fragment,
	}
}

// ErrInvalidTechnical is returned when a technical definition cannot be parsed.
type ErrInvalidTechnical struct {
	QuarryError
	Input string
}

// NewInvalidTechnical creates a new ErrInvalidTechnical.
func NewInvalidTechnical(input, reason string) *ErrInvalidTechnical {
	return &ErrInvalidTechnical{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("invalid technical: %s", input),
			Reason:     reason,
			Suggestion: "use TYPE-WINDOW[-MIN_PERIODS] or an object with type and window",
		},
		Input: input,
	}
}

// ErrNotFound is returned when a named entity does not exist.
type ErrNotFound struct {
	QuarryError
	Kind string
	Name string
}

// NewNotFound creates a new ErrNotFound.
func NewNotFound(kind, name string) *ErrNotFound {
	return &ErrNotFound{
		QuarryError: QuarryError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("%s not found: %s", kind, name),
			Reason:     fmt.Sprintf("no %s registered with this name", kind),
			Suggestion: "list known entities with 'quarry fields' or 'quarry specs'",
		},
		Kind: kind,
		Name: name,
	}
}
