package syncjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"bggsync/internal/core/bgg"
	"bggsync/internal/core/catalog"
	"bggsync/internal/core/job"
	"bggsync/internal/logger"
	"bggsync/internal/syncerr"
)

const (
	DefaultAuthErrorLimit = 10
	// DefaultRetryBackoff is the pause before the first in-process retry;
	// later retries wait proportionally longer.
	DefaultRetryBackoff = 2 * time.Second
)

// Item states, in order. Only terminal states are stored as outcomes; the
// others appear in logs.
const (
	statePending    = "pending"
	stateMatching   = "matching"
	stateMatched    = "matched"
	stateUploading  = "uploading"
	stateDescribing = "describing"
)

// WorkerConfig wires a Worker.
type WorkerConfig struct {
	Matcher        Matcher
	Catalog        catalog.Gateway
	Jobs           job.Store
	AuthErrorLimit int
	RetryBackoff   time.Duration
	// Sleep waits for d or until ctx is done. Tests inject a recorder.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *logger.Logger
}

// Worker syncs one catalog item: match, upload, describe. Each completed
// step is memoized in the job store so a replay resumes where it stopped.
type Worker struct {
	matcher   Matcher
	catalog   catalog.Gateway
	jobs      job.Store
	authLimit int
	backoff   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logger.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		matcher:   cfg.Matcher,
		catalog:   cfg.Catalog,
		jobs:      cfg.Jobs,
		authLimit: cfg.AuthErrorLimit,
		backoff:   cfg.RetryBackoff,
		sleep:     cfg.Sleep,
		log:       cfg.Logger,
	}
	if w.authLimit <= 0 {
		w.authLimit = DefaultAuthErrorLimit
	}
	if w.backoff <= 0 {
		w.backoff = DefaultRetryBackoff
	}
	if w.sleep == nil {
		w.sleep = bgg.SleepWithContext
	}
	if w.log == nil {
		w.log = logger.New("Worker")
	}
	return w
}

// HandleItemTask is the queue entry point for sync:item tasks.
func (w *Worker) HandleItemTask(ctx context.Context, task *asynq.Task) error {
	var p ItemPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode item payload: %v: %w", err, asynq.SkipRetry)
	}
	log := w.log.With("run_id", p.RunID).With("item_id", p.Item.ID)

	if open, n := w.circuitOpen(ctx, p.RunID); open {
		log.LogWarnf("circuit open after %d auth errors, skipping %q", n, p.Item.Name)
		w.record(ctx, p.RunID, errorOutcome(p.Item, syncerr.KindCircuitOpen, "auth error limit reached"))
		return nil
	}

	outcome, err := w.Process(ctx, p.RunID, p.Item, p.Force)
	if err == nil {
		w.record(ctx, p.RunID, outcome)
		return nil
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		// Shutdown between steps; the redelivered task resumes from progress.
		log.LogWarnf("interrupted while syncing %q: %v", p.Item.Name, err)
		return err
	}
	if syncerr.Retryable(err) && !isLastAttempt(ctx) {
		retried, _ := asynq.GetRetryCount(ctx)
		log.LogWarnf("attempt %d failed for %q, will retry: %v", retried+1, p.Item.Name, err)
		return err
	}
	log.LogErrorf("giving up on %q: %v", p.Item.Name, err)
	w.record(ctx, p.RunID, failedOutcome(p.Item, err))
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// Process runs the remaining steps for item. A nil error means outcome is
// terminal; otherwise the failing step can be replayed. Cancelling ctx
// stops the item between steps; a step that has started runs to completion.
func (w *Worker) Process(ctx context.Context, runID string, item catalog.Item, force bool) (job.Outcome, error) {
	log := w.log.With("run_id", runID).With("item_id", item.ID)
	stepCtx := catalog.WithRunID(context.WithoutCancel(ctx), runID)

	progress, err := w.jobs.LoadProgress(stepCtx, runID, item.ID)
	if err != nil {
		log.LogWarnf("progress unavailable, starting from scratch: %v", err)
		progress = job.Progress{}
	}
	log.LogDebugf("state %s: %q", statePending, item.Name)

	if !progress.Matched {
		if err := ctx.Err(); err != nil {
			return job.Outcome{}, err
		}
		log.LogDebugf("state %s: %q", stateMatching, item.Name)
		detail, err := w.matcher.FindBestMatch(stepCtx, item.Name, hintsFor(item))
		if err != nil {
			return job.Outcome{}, err
		}
		progress.Matched = true
		progress.NoMatch = detail == nil
		progress.Match = detail
		w.save(stepCtx, runID, item.ID, progress)
	}
	if progress.NoMatch || progress.Match == nil {
		log.LogInfof("no match for %q", item.Name)
		return job.Outcome{ItemID: item.ID, Name: item.Name, Status: job.OutcomeNoMatch}, nil
	}
	detail := progress.Match
	log.LogDebugf("state %s: %q -> %d %q", stateMatched, item.Name, detail.ExternalID, detail.Name)

	if (force || !item.HasImage) && !progress.Uploaded && detail.ImageURL != "" {
		if err := ctx.Err(); err != nil {
			return job.Outcome{}, err
		}
		log.LogDebugf("state %s: %s", stateUploading, detail.ImageURL)
		imageID, err := w.catalog.UploadAsset(stepCtx, item.ID, detail.ImageURL, detail.Name)
		if err != nil {
			return job.Outcome{}, err
		}
		progress.Uploaded = true
		progress.ImageID = imageID
		w.save(stepCtx, runID, item.ID, progress)
	}

	if (force || !item.HasDescription) && !progress.Described && detail.DescriptionHTML != "" {
		if err := ctx.Err(); err != nil {
			return job.Outcome{}, err
		}
		log.LogDebugf("state %s", stateDescribing)
		if err := w.catalog.UpdateDescription(stepCtx, item.ID, detail.DescriptionHTML); err != nil {
			return job.Outcome{}, err
		}
		progress.Described = true
		w.save(stepCtx, runID, item.ID, progress)
	}

	ext := detail.ExternalID
	if !progress.Uploaded && !progress.Described {
		// The match carried nothing the item was missing.
		log.LogInfof("match %d for %q has no usable image or description", ext, item.Name)
		return job.Outcome{ItemID: item.ID, Name: item.Name, Status: job.OutcomeNoMatch, ExternalID: &ext}, nil
	}
	log.Success().Str("item_name", item.Name).Int("bgg_id", ext).Msg("item synced")
	return job.Outcome{ItemID: item.ID, Name: item.Name, Status: job.OutcomeSynced, ExternalID: &ext}, nil
}

// ProcessWithRetries replays Process in-process up to maxRetries extra
// times for retryable failures, pausing with a linear backoff in between,
// and always returns a terminal outcome. Cancelling ctx prevents further
// attempts but lets the running step finish.
func (w *Worker) ProcessWithRetries(ctx context.Context, runID string, item catalog.Item, force bool, maxRetries int) job.Outcome {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := w.sleep(ctx, time.Duration(attempt)*w.backoff); err != nil {
				break
			}
		}
		outcome, err := w.Process(ctx, runID, item, force)
		if err == nil {
			return outcome
		}
		lastErr = err
		if !syncerr.Retryable(err) || ctx.Err() != nil {
			break
		}
		w.log.LogWarnf("item %s attempt %d/%d failed: %v", item.ID, attempt+1, maxRetries+1, err)
	}
	return failedOutcome(item, lastErr)
}

func (w *Worker) circuitOpen(ctx context.Context, runID string) (bool, int) {
	n, err := w.jobs.AuthErrors(ctx, runID)
	if err != nil {
		w.log.LogWarnf("run %s: auth error counter unavailable: %v", runID, err)
		return false, 0
	}
	return n >= w.authLimit, n
}

func (w *Worker) save(ctx context.Context, runID, itemID string, p job.Progress) {
	if err := w.jobs.SaveProgress(ctx, runID, itemID, p); err != nil {
		w.log.LogWarnf("run %s: saving progress for %s failed: %v", runID, itemID, err)
	}
}

func (w *Worker) record(ctx context.Context, runID string, o job.Outcome) {
	summary, err := w.jobs.RecordOutcome(context.WithoutCancel(ctx), runID, o)
	if err != nil {
		w.log.LogErrorf("run %s: recording outcome for %s failed: %v", runID, o.ItemID, err)
		return
	}
	w.log.LogDebugf("run %s: %d outcomes (%d synced, %d no match, %d errors)", runID, summary.Total, summary.Synced, summary.NoMatch, summary.Errors)
}

func failedOutcome(item catalog.Item, err error) job.Outcome {
	kind := syncerr.KindOf(err)
	if kind == "" {
		kind = syncerr.KindInternal
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return errorOutcome(item, kind, msg)
}

func errorOutcome(item catalog.Item, kind, msg string) job.Outcome {
	return job.Outcome{ItemID: item.ID, Name: item.Name, Status: job.OutcomeError, ErrorKind: kind, Error: msg}
}
