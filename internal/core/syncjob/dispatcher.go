package syncjob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/text/cases"

	"bggsync/internal/core/catalog"
	"bggsync/internal/core/job"
	"bggsync/internal/logger"
	"bggsync/internal/platform/tasks"
	"bggsync/internal/syncerr"
)

const DefaultBatchSize = 100

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Catalog    catalog.Gateway
	Tasks      tasks.Enqueuer
	Jobs       job.Store
	BatchSize  int
	MaxRetries int
	// Validate runs before a run is accepted; a non-nil error rejects it.
	Validate func() error
	Logger   *logger.Logger
}

// Dispatcher turns a sync request into one queued task per catalog item.
type Dispatcher struct {
	catalog    catalog.Gateway
	tasks      tasks.Enqueuer
	jobs       job.Store
	batchSize  int
	maxRetries int
	validate   func() error
	log        *logger.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		catalog:    cfg.Catalog,
		tasks:      cfg.Tasks,
		jobs:       cfg.Jobs,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		validate:   cfg.Validate,
		log:        cfg.Logger,
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.maxRetries < 0 {
		d.maxRetries = 0
	}
	if d.log == nil {
		d.log = logger.New("Dispatcher")
	}
	return d
}

// Start records a pending run and queues its dispatch task. It only fails
// for problems that make the whole run impossible.
func (d *Dispatcher) Start(ctx context.Context, req Request) (string, error) {
	if d.validate != nil {
		if err := d.validate(); err != nil {
			return "", err
		}
	}
	runID := uuid.New().String()
	if err := d.jobs.InitPending(ctx, job.Run{RunID: runID, Force: req.Force, FilterName: req.FilterName}); err != nil {
		return "", err
	}
	payload, _ := json.Marshal(DispatchPayload{RunID: runID, Request: req})
	task := asynq.NewTask(tasks.TaskTypeDispatch, payload)
	if err := d.tasks.Enqueue(ctx, task, tasks.QueueSync, d.maxRetries, asynq.TaskID("dispatch:"+runID)); err != nil {
		_ = d.jobs.Fail(ctx, runID, err)
		return "", err
	}
	d.log.LogInfof("queued sync run %s (force=%v filter=%q)", runID, req.Force, req.FilterName)
	return runID, nil
}

func (d *Dispatcher) HandleDispatchTask(ctx context.Context, task *asynq.Task) error {
	var p DispatchPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode dispatch payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := d.Dispatch(ctx, p.RunID, p.Request)
	if err != nil && !syncerr.Retryable(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Dispatch lists the catalog, filters it and enqueues one item task per
// remaining item, batch by batch. It does not wait for the items.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, req Request) (DispatchSummary, error) {
	summary := DispatchSummary{RunID: runID}
	if err := d.jobs.SetProcessing(ctx, runID); err != nil {
		d.log.LogWarnf("run %s: could not mark processing: %v", runID, err)
	}

	items, err := d.catalog.ListItems(ctx)
	if err != nil {
		d.log.LogErrorf("run %s: listing catalog failed: %v", runID, err)
		if !syncerr.Retryable(err) || isLastAttempt(ctx) {
			_ = d.jobs.Fail(context.WithoutCancel(ctx), runID, err)
		}
		return summary, err
	}

	selected := Filter(items, req)
	batches := Batches(selected, d.batchSize)
	summary.Total = len(selected)
	summary.Batches = len(batches)
	d.log.LogInfof("run %s: %d catalog items, %d selected, %d batches", runID, len(items), len(selected), len(batches))

	var stopErr error
dispatch:
	for i, batch := range batches {
		for _, item := range batch {
			if err := ctx.Err(); err != nil {
				stopErr = err
				break dispatch
			}
			if err := d.enqueueItem(ctx, runID, req.Force, item); err != nil {
				if ctx.Err() != nil {
					stopErr = ctx.Err()
					break dispatch
				}
				d.log.LogErrorf("run %s: enqueue item %s failed: %v", runID, item.ID, err)
				_, _ = d.jobs.RecordOutcome(ctx, runID, job.Outcome{
					ItemID:    item.ID,
					Name:      item.Name,
					Status:    job.OutcomeError,
					ErrorKind: syncerr.KindUpstream,
					Error:     "enqueue failed: " + err.Error(),
				})
			}
			summary.Dispatched++
		}
		d.log.LogDebugf("run %s: batch %d/%d enqueued", runID, i+1, len(batches))
	}

	bg := context.WithoutCancel(ctx)
	if err := d.jobs.MarkDispatched(bg, runID, summary.Total, summary.Dispatched, summary.Batches); err != nil {
		d.log.LogWarnf("run %s: could not record dispatch totals: %v", runID, err)
	}
	if stopErr != nil {
		d.log.LogWarnf("run %s: dispatch cancelled after %d of %d items", runID, summary.Dispatched, summary.Total)
		return summary, stopErr
	}
	d.log.LogSuccessf("run %s: dispatched %d items in %d batches", runID, summary.Dispatched, summary.Batches)
	return summary, nil
}

func (d *Dispatcher) enqueueItem(ctx context.Context, runID string, force bool, item catalog.Item) error {
	payload, err := json.Marshal(ItemPayload{RunID: runID, Force: force, Item: item})
	if err != nil {
		return err
	}
	task := asynq.NewTask(tasks.TaskTypeItem, payload)
	return d.tasks.Enqueue(ctx, task, tasks.QueueSync, d.maxRetries, asynq.TaskID(runID+":"+item.ID))
}

// Filter drops fully synced items unless forced and keeps only names
// containing filterName, compared case-insensitively.
func Filter(items []catalog.Item, req Request) []catalog.Item {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(req.FilterName))
	out := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		if !req.Force && item.FullySynced() {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(item.Name), needle) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Batches splits items into consecutive groups of at most size.
func Batches(items []catalog.Item, size int) [][]catalog.Item {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]catalog.Item
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// isLastAttempt reports whether the task in ctx will not be retried. Work
// run outside the queue has no retry metadata and counts as final.
func isLastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
