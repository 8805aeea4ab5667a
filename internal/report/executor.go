package report

import (
	"context"
	"time"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/combined"
	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/planner"
)

// runPlans executes every plan and loads its rows into the scratch
// database. Mode and parallelism come from the config; summaries come
// back in plan order regardless of mode.
func (r *Report) runPlans(ctx context.Context, db *combined.DB, plans []*planner.Plan) ([]QuerySummary, error) {
	if r.deps.Config.DataSourceQueryMode == config.QueryModeMultithread {
		return r.runPlansMultithread(ctx, db, plans)
	}

	summaries := make([]QuerySummary, 0, len(plans))
	for _, plan := range plans {
		if err := r.killCheck(); err != nil {
			return nil, err
		}
		summary, err := r.runPlan(ctx, db, plan)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (r *Report) runPlansMultithread(ctx context.Context, db *combined.DB, plans []*planner.Plan) ([]QuerySummary, error) {
	workers := r.deps.Config.DataSourceQueryWorkers
	if workers <= 0 || workers > len(plans) {
		workers = len(plans)
	}

	summaries := make([]QuerySummary, len(plans))
	errs := make([]error, len(plans))
	sem := make(chan struct{}, workers)
	done := make(chan int, len(plans))

	for i, plan := range plans {
		go func(i int, plan *planner.Plan) {
			sem <- struct{}{}
			defer func() { <-sem }()
			defer func() { done <- i }()
			if err := r.killCheck(); err != nil {
				errs[i] = err
				return
			}
			summaries[i], errs[i] = r.runPlan(ctx, db, plan)
		}(i, plan)
	}
	for range plans {
		<-done
	}

	// The first failing plan in plan order decides the report error.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

// runPlan runs one datasource query and loads the result into the
// plan's landing table. A panic inside the adapter is contained to this
// plan and surfaces as a crashed-execution error.
func (r *Report) runPlan(ctx context.Context, db *combined.DB, plan *planner.Plan) (summary QuerySummary, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.NewCrashedExecution(plan.DataSource, recovered)
		}
	}()

	source := r.sourceFor(plan.DataSource)
	if source == nil {
		return summary, errors.NewNotFound("datasource", plan.DataSource)
	}

	queryCtx := ctx
	timeout := r.deps.Config.DataSourceQueryTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}
	queryCtx, release := r.captureQueryIDs(queryCtx, plan.DataSource)
	defer release()

	start := time.Now()
	result, err := source.Adapter().Query(queryCtx, plan.SQL, plan.Args...)
	if err != nil {
		if queryCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return summary, errors.NewQueryTimeout(plan.DataSource, float64(timeout))
		}
		if r.killed() {
			return summary, errors.NewReportKilled(r.id)
		}
		return summary, errors.NewFailedExecution(plan.DataSource, err)
	}

	if err := db.CreateTable(ctx, plan.TempTable, plan.Columns); err != nil {
		return summary, err
	}

	chunk := r.deps.Config.LoadTableChunkSize
	if chunk <= 0 {
		chunk = len(result.Rows)
	}
	for offset := 0; offset < len(result.Rows); offset += chunk {
		if err := r.killCheck(); err != nil {
			return summary, err
		}
		end := offset + chunk
		if end > len(result.Rows) {
			end = len(result.Rows)
		}
		if err := db.InsertRows(ctx, plan.TempTable, plan.Columns, result.Rows[offset:end]); err != nil {
			return summary, err
		}
	}

	return QuerySummary{
		DataSource: plan.DataSource,
		TempTable:  plan.TempTable,
		SQL:        plan.SQL,
		Rows:       len(result.Rows),
		Duration:   time.Since(start),
	}, nil
}

// captureQueryIDs registers engine-reported query ids for one plan
// under the report so Kill can address them. The release drops
// whatever this capture added; it is safe to call more than once.
func (r *Report) captureQueryIDs(ctx context.Context, source string) (context.Context, func()) {
	var mine []*activeQuery
	ctx = adapters.WithQueryIDCapture(ctx, func(id string) {
		entry := &activeQuery{source: source, id: id}
		r.mu.Lock()
		r.active = append(r.active, entry)
		mine = append(mine, entry)
		r.mu.Unlock()
	})
	release := func() {
		r.mu.Lock()
		for _, entry := range mine {
			for i, got := range r.active {
				if got == entry {
					r.active = append(r.active[:i], r.active[i+1:]...)
					break
				}
			}
		}
		mine = nil
		r.mu.Unlock()
	}
	return ctx, release
}

func (r *Report) sourceFor(name string) Source {
	for _, s := range r.deps.Sources {
		if s.Name() == name {
			return s
		}
	}
	return nil
}
