// Package observability provides structured logging for report execution.
//
// Every executed report emits: report_id, warehouse, datasources queried,
// requested metrics and dimensions, final state, execution time, row count,
// and error (if any).
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// ReportLogEntry contains all required fields for report logging.
type ReportLogEntry struct {
	// ReportID is the unique identifier for this report run.
	ReportID string

	// Warehouse is the warehouse name the report ran against.
	Warehouse string

	// DataSources are the datasources that received queries.
	DataSources []string

	// Metrics are the requested metric names.
	Metrics []string

	// Dimensions are the requested dimension names.
	Dimensions []string

	// State is the final report state: finished, failed, killed.
	State string

	// QueryCount is the number of datasource queries executed.
	QueryCount int

	// RowCount is the number of rows in the final result.
	RowCount int

	// ExecutionTime is how long the report took end to end.
	ExecutionTime time.Duration

	// Error contains the error message if the report failed.
	Error string
}

// Validate checks that all required fields are present.
func (e *ReportLogEntry) Validate() error {
	if e.ReportID == "" {
		return fmt.Errorf("observability: report_id is required")
	}
	if e.State == "" {
		return fmt.Errorf("observability: state is required")
	}
	if e.ExecutionTime < 0 {
		return fmt.Errorf("observability: execution_time cannot be negative")
	}
	return nil
}

// ReportLogger is the interface for report logging.
type ReportLogger interface {
	// LogReport logs a report execution event.
	// Returns an error if logging fails or the entry is invalid.
	LogReport(ctx context.Context, entry ReportLogEntry) error

	// GetRunSummary returns aggregated run statistics.
	GetRunSummary() *RunSummary
}

// RunSummary represents aggregated report run statistics.
type RunSummary struct {
	FinishedCount    int               `json:"finished_count"`
	FailedCount      int               `json:"failed_count"`
	KilledCount      int               `json:"killed_count"`
	TopFailureCauses []FailureStat     `json:"top_failure_causes"`
	TopMetrics       []MetricQueryStat `json:"top_metrics"`
}

// FailureStat represents failure cause statistics.
type FailureStat struct {
	Cause string `json:"cause"`
	Count int    `json:"count"`
}

// MetricQueryStat represents per-metric request statistics.
type MetricQueryStat struct {
	Metric string `json:"metric"`
	Count  int    `json:"count"`
}

// jsonLogOutput is the structured format for JSON logs.
type jsonLogOutput struct {
	Timestamp       string   `json:"timestamp"`
	Level           string   `json:"level"`
	ReportID        string   `json:"report_id"`
	Warehouse       string   `json:"warehouse,omitempty"`
	DataSources     []string `json:"datasources"`
	Metrics         []string `json:"metrics"`
	Dimensions      []string `json:"dimensions"`
	State           string   `json:"state"`
	QueryCount      int      `json:"query_count"`
	RowCount        int      `json:"row_count"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Error           string   `json:"error,omitempty"`
}

func buildOutput(entry ReportLogEntry) jsonLogOutput {
	level := "info"
	if entry.Error != "" {
		level = "error"
	}
	out := jsonLogOutput{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Level:           level,
		ReportID:        entry.ReportID,
		Warehouse:       entry.Warehouse,
		DataSources:     entry.DataSources,
		Metrics:         entry.Metrics,
		Dimensions:      entry.Dimensions,
		State:           entry.State,
		QueryCount:      entry.QueryCount,
		RowCount:        entry.RowCount,
		ExecutionTimeMs: entry.ExecutionTime.Milliseconds(),
		Error:           entry.Error,
	}
	// Keep list fields non-nil in JSON
	if out.DataSources == nil {
		out.DataSources = []string{}
	}
	if out.Metrics == nil {
		out.Metrics = []string{}
	}
	if out.Dimensions == nil {
		out.Dimensions = []string{}
	}
	return out
}

// JSONLogger implements ReportLogger with JSON output.
type JSONLogger struct {
	writer  io.Writer
	entries []ReportLogEntry
	mu      sync.RWMutex
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer) *JSONLogger {
	return &JSONLogger{
		writer:  w,
		entries: make([]ReportLogEntry, 0),
	}
}

// LogReport logs a report execution event as JSON.
func (l *JSONLogger) LogReport(ctx context.Context, entry ReportLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(buildOutput(entry))
	if err != nil {
		return fmt.Errorf("observability: failed to marshal log: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("observability: failed to write log: %w", err)
	}
	l.entries = append(l.entries, entry)
	return nil
}

// GetRunSummary returns aggregated run statistics.
func (l *JSONLogger) GetRunSummary() *RunSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summary := &RunSummary{
		TopFailureCauses: []FailureStat{},
		TopMetrics:       []MetricQueryStat{},
	}

	failureCauses := make(map[string]int)
	metricCounts := make(map[string]int)

	for _, entry := range l.entries {
		switch entry.State {
		case "killed":
			summary.KilledCount++
		case "failed":
			summary.FailedCount++
		default:
			if entry.Error == "" {
				summary.FinishedCount++
			} else {
				summary.FailedCount++
			}
		}
		if entry.Error != "" {
			failureCauses[entry.Error]++
		}
		for _, m := range entry.Metrics {
			metricCounts[m]++
		}
	}

	for cause, count := range failureCauses {
		summary.TopFailureCauses = append(summary.TopFailureCauses, FailureStat{
			Cause: cause,
			Count: count,
		})
	}
	sort.Slice(summary.TopFailureCauses, func(i, j int) bool {
		a, b := summary.TopFailureCauses[i], summary.TopFailureCauses[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Cause < b.Cause
	})
	if len(summary.TopFailureCauses) > 5 {
		summary.TopFailureCauses = summary.TopFailureCauses[:5]
	}

	for metric, count := range metricCounts {
		summary.TopMetrics = append(summary.TopMetrics, MetricQueryStat{
			Metric: metric,
			Count:  count,
		})
	}
	sort.Slice(summary.TopMetrics, func(i, j int) bool {
		a, b := summary.TopMetrics[i], summary.TopMetrics[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Metric < b.Metric
	})
	if len(summary.TopMetrics) > 5 {
		summary.TopMetrics = summary.TopMetrics[:5]
	}

	return summary
}

// NoopLogger is a logger that discards all logs.
// Useful for testing or when logging is disabled.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// LogReport does nothing and always succeeds.
func (l *NoopLogger) LogReport(ctx context.Context, entry ReportLogEntry) error {
	return nil
}

// GetRunSummary returns an empty summary for the no-op logger.
func (l *NoopLogger) GetRunSummary() *RunSummary {
	return &RunSummary{
		TopFailureCauses: []FailureStat{},
		TopMetrics:       []MetricQueryStat{},
	}
}

// FileLogger implements ReportLogger by appending JSON lines to a file.
type FileLogger struct {
	inner *JSONLogger
	file  *os.File
}

// NewFileLogger creates a logger that appends to the given path.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to open log file: %w", err)
	}
	return &FileLogger{
		inner: NewJSONLogger(f),
		file:  f,
	}, nil
}

// LogReport appends a report execution event to the file.
func (l *FileLogger) LogReport(ctx context.Context, entry ReportLogEntry) error {
	return l.inner.LogReport(ctx, entry)
}

// GetRunSummary returns aggregated run statistics for this process.
func (l *FileLogger) GetRunSummary() *RunSummary {
	return l.inner.GetRunSummary()
}

// Close closes the underlying file.
func (l *FileLogger) Close() error {
	return l.file.Close()
}
