package syncjob

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bggsync/internal/core/catalog"
	"bggsync/internal/core/job"
	"bggsync/internal/logger"
	"bggsync/internal/syncerr"
)

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Worker         *Worker
	Catalog        catalog.Gateway
	Jobs           job.Store
	Concurrency    int
	MaxRetries     int
	AuthErrorLimit int
	Logger         *logger.Logger
}

// Runner processes a whole run in-process with a bounded pool. It stops
// starting items once the auth error limit is reached.
type Runner struct {
	worker      *Worker
	catalog     catalog.Gateway
	jobs        job.Store
	concurrency int
	maxRetries  int
	authLimit   int
	log         *logger.Logger
}

// RunResult is the outcome of an in-process run.
type RunResult struct {
	RunID    string        `json:"run_id"`
	Summary  job.Summary   `json:"summary"`
	Outcomes []job.Outcome `json:"outcomes"`
}

func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		worker:      cfg.Worker,
		catalog:     cfg.Catalog,
		jobs:        cfg.Jobs,
		concurrency: cfg.Concurrency,
		maxRetries:  cfg.MaxRetries,
		authLimit:   cfg.AuthErrorLimit,
		log:         cfg.Logger,
	}
	if r.jobs == nil {
		r.jobs = job.NewMemoryStore()
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	if r.authLimit <= 0 {
		r.authLimit = DefaultAuthErrorLimit
	}
	if r.log == nil {
		r.log = logger.New("Runner")
	}
	return r
}

// Run lists the catalog and syncs every selected item. Only a failed
// listing returns an error; item failures become outcomes.
func (r *Runner) Run(ctx context.Context, req Request) (RunResult, error) {
	result := RunResult{RunID: uuid.New().String()}
	if err := r.jobs.InitPending(ctx, job.Run{RunID: result.RunID, Force: req.Force, FilterName: req.FilterName}); err != nil {
		return result, err
	}
	_ = r.jobs.SetProcessing(ctx, result.RunID)

	items, err := r.catalog.ListItems(ctx)
	if err != nil {
		_ = r.jobs.Fail(ctx, result.RunID, err)
		return result, err
	}
	selected := Filter(items, req)
	r.log.LogInfof("run %s: %d of %d items selected (concurrency %d)", result.RunID, len(selected), len(items), r.concurrency)

	var (
		mu         sync.Mutex
		summary    job.Summary
		outcomes   []job.Outcome
		authErrors int
		aborted    bool
	)
	tripped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return authErrors >= r.authLimit
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	started := 0
	for _, item := range selected {
		if tripped() {
			aborted = true
			break
		}
		if gctx.Err() != nil {
			break
		}
		item := item
		started++
		g.Go(func() error {
			if tripped() || gctx.Err() != nil {
				return nil
			}
			o := r.worker.ProcessWithRetries(gctx, result.RunID, item, req.Force, r.maxRetries)
			if _, err := r.jobs.RecordOutcome(context.WithoutCancel(ctx), result.RunID, o); err != nil {
				r.log.LogWarnf("run %s: storing outcome for %s failed: %v", result.RunID, item.ID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, o)
			summary.Add(o)
			if o.ErrorKind == syncerr.KindAuth {
				authErrors++
			}
			return nil
		})
	}
	_ = g.Wait()

	if authErrors >= r.authLimit {
		aborted = true
	}
	summary.Aborted = aborted
	if aborted {
		r.log.LogErrorf("run %s aborted after %d auth errors (%d of %d items started)", result.RunID, authErrors, started, len(selected))
	}
	_ = r.jobs.MarkDispatched(context.WithoutCancel(ctx), result.RunID, len(selected), len(outcomes), 1)

	result.Summary = summary
	result.Outcomes = outcomes
	r.log.LogInfof("run %s finished: %d synced, %d no match, %d errors", result.RunID, summary.Synced, summary.NoMatch, summary.Errors)
	return result, nil
}
