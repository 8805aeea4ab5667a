// Package bigquery provides the Google BigQuery engine adapter. Unlike
// the database/sql engines it speaks the BigQuery job API, which is
// what makes query cancellation possible.
package bigquery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/dialects"
)

// Adapter runs datasource queries as BigQuery jobs.
type Adapter struct {
	mu       sync.RWMutex
	client   *bigquery.Client
	dialect  *dialects.Dialect
	project  string
	dataset  string
	location string
	closed   bool
}

// Open connects to the project behind a bigquery:// connection URL,
// for example bigquery://my-project/my_dataset?credentials=/path/key.json.
// Without a credentials parameter the client uses application default
// credentials. An optional location parameter pins the job region.
func Open(connectURL string) (adapters.Adapter, error) {
	if !strings.HasPrefix(connectURL, "bigquery://") {
		return nil, fmt.Errorf("bigquery: connection URL %q must start with bigquery://", connectURL)
	}
	u, err := url.Parse(connectURL)
	if err != nil {
		return nil, fmt.Errorf("bigquery: parsing connection URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("bigquery: connection URL %q has no project", connectURL)
	}

	params := u.Query()
	var opts []option.ClientOption
	if credentials := params.Get("credentials"); credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}

	client, err := bigquery.NewClient(context.Background(), u.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: creating client: %w", err)
	}

	dialect, err := dialects.Get("bigquery")
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client:   client,
		dialect:  dialect,
		project:  u.Host,
		dataset:  strings.Trim(u.Path, "/"),
		location: params.Get("location"),
	}, nil
}

// Name returns the engine name.
func (a *Adapter) Name() string { return "bigquery" }

// Dialect returns the SQL dialect queries are rendered in.
func (a *Adapter) Dialect() *dialects.Dialect { return a.dialect }

// ConversionDialect names the datetime conversion vocabulary. BigQuery
// has none, so converted calendar dimensions are not generated.
func (a *Adapter) ConversionDialect() string { return "bigquery" }

// Capabilities returns the engine's feature set.
func (a *Adapter) Capabilities() dialects.CapabilitySet { return a.dialect.Capabilities }

func (a *Adapter) query(query string, args []interface{}) (*bigquery.Query, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, fmt.Errorf("bigquery: client is closed")
	}

	q := a.client.Query(query)
	if a.dataset != "" {
		q.DefaultProjectID = a.project
		q.DefaultDatasetID = a.dataset
	}
	if a.location != "" {
		q.Location = a.location
	}
	for _, arg := range args {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Value: arg})
	}
	return q, nil
}

// Query runs a query job and materializes the result. The job id is
// reported to any registered query id capture so KillQuery can cancel
// the job.
func (a *Adapter) Query(ctx context.Context, query string, args ...interface{}) (*adapters.QueryResult, error) {
	q, err := a.query(query, args)
	if err != nil {
		return nil, err
	}
	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: starting job: %w", err)
	}
	adapters.NotifyQueryID(ctx, job.ID())
	it, err := job.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery: query failed: %w", err)
	}

	columns := make([]string, len(it.Schema))
	for i, field := range it.Schema {
		columns[i] = field.Name
	}

	result := &adapters.QueryResult{Columns: columns}
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery: reading row: %w", err)
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		result.Rows = append(result.Rows, values)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// Exec runs a statement job and waits for it to finish.
func (a *Adapter) Exec(ctx context.Context, query string, args ...interface{}) error {
	q, err := a.query(query, args)
	if err != nil {
		return err
	}
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: starting job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("bigquery: job failed: %w", err)
	}
	return nil
}

// Ping checks that the project is reachable by running a trivial query.
func (a *Adapter) Ping(ctx context.Context) error {
	q, err := a.query("SELECT 1", nil)
	if err != nil {
		return err
	}
	it, err := q.Read(ctx)
	if err != nil {
		return fmt.Errorf("bigquery: ping failed: %w", err)
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return fmt.Errorf("bigquery: ping read failed: %w", err)
	}
	return nil
}

// KillQuery cancels a running job by id.
func (a *Adapter) KillQuery(ctx context.Context, queryID string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("bigquery: client is closed")
	}

	job, err := a.client.JobFromID(ctx, queryID)
	if err != nil {
		return fmt.Errorf("bigquery: looking up job %s: %w", queryID, err)
	}
	if err := job.Cancel(ctx); err != nil {
		return fmt.Errorf("bigquery: cancelling job %s: %w", queryID, err)
	}
	return nil
}

// Close releases the client. Close is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.client.Close()
}

var _ adapters.Adapter = (*Adapter)(nil)
