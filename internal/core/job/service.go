package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rds "bggsync/internal/platform/redis"
	"bggsync/internal/syncerr"
)

// Store persists run records and per-item progress.
type Store interface {
	InitPending(ctx context.Context, run Run) error
	SetProcessing(ctx context.Context, runID string) error
	MarkDispatched(ctx context.Context, runID string, total, dispatched, batches int) error
	Fail(ctx context.Context, runID string, cause error) error
	RecordOutcome(ctx context.Context, runID string, o Outcome) (Summary, error)
	Get(ctx context.Context, runID string) (*Run, error)
	Outcomes(ctx context.Context, runID string) ([]Outcome, error)
	AuthErrors(ctx context.Context, runID string) (int, error)
	LoadProgress(ctx context.Context, runID, itemID string) (Progress, error)
	SaveProgress(ctx context.Context, runID, itemID string, p Progress) error
}

// JobService keeps run records in Redis. Every key expires after ttl.
type JobService struct {
	redis *rds.Service
	ttl   time.Duration
	now   func() time.Time
}

var _ Store = (*JobService)(nil)

func NewJobService(redis *rds.Service, ttl time.Duration) *JobService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobService{redis: redis, ttl: ttl, now: time.Now}
}

func key(id string) string               { return "run:" + id }
func outcomesKey(id string) string       { return key(id) + ":outcomes" }
func countsKey(id string) string         { return key(id) + ":counts" }
func itemsKey(id string) string          { return key(id) + ":items" }
func progressKey(id, item string) string { return "progress:" + id + ":" + item }

func (s *JobService) load(ctx context.Context, runID string) (*Run, error) {
	var run Run
	if err := s.redis.CacheGet(ctx, key(runID), &run); err != nil {
		if rds.IsMiss(err) {
			return nil, syncerr.Wrap(syncerr.ErrNotFound, "job", "run "+runID, nil)
		}
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &run, nil
}

func (s *JobService) store(ctx context.Context, run *Run) error {
	run.UpdatedAt = s.now().UTC()
	if err := s.redis.CacheSet(ctx, key(run.RunID), run, s.ttl); err != nil {
		return fmt.Errorf("store run %s: %w", run.RunID, err)
	}
	// Notify status listeners
	s.redis.Publish(ctx, key(run.RunID), "updated")
	return nil
}

// update applies fn to the stored run together with a summary read in the
// same optimistic transaction, so concurrent workers cannot overwrite each
// other's status.
func (s *JobService) update(ctx context.Context, runID string, fn func(*Run, Summary)) error {
	err := s.redis.UpdateJSON(ctx, key(runID), countsKey(runID), s.ttl, func(raw []byte, counters map[string]int64) (interface{}, error) {
		var run Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, err
		}
		fn(&run, summaryFromCounters(counters))
		run.UpdatedAt = s.now().UTC()
		return &run, nil
	})
	if err != nil {
		if rds.IsMiss(err) {
			return syncerr.Wrap(syncerr.ErrNotFound, "job", "run "+runID, nil)
		}
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	s.redis.Publish(ctx, key(runID), "updated")
	return nil
}

func (s *JobService) InitPending(ctx context.Context, run Run) error {
	run.Status = StatusPending
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	return s.store(ctx, &run)
}

func (s *JobService) SetProcessing(ctx context.Context, runID string) error {
	return s.update(ctx, runID, func(r *Run, _ Summary) { r.Status = StatusProcessing })
}

func (s *JobService) MarkDispatched(ctx context.Context, runID string, total, dispatched, batches int) error {
	return s.update(ctx, runID, func(r *Run, summary Summary) {
		r.Total, r.Dispatched, r.Batches = total, dispatched, batches
		r.DispatchDone = true
		settle(r, summary)
	})
}

func (s *JobService) Fail(ctx context.Context, runID string, cause error) error {
	return s.update(ctx, runID, func(r *Run, _ Summary) {
		r.Status = StatusFailed
		if cause != nil {
			r.Error = cause.Error()
		}
	})
}

// RecordOutcome appends o unless an outcome for the same item was already
// recorded in this run, and returns the run summary afterwards.
func (s *JobService) RecordOutcome(ctx context.Context, runID string, o Outcome) (Summary, error) {
	claimed, err := s.redis.ClaimField(ctx, itemsKey(runID), o.ItemID, string(o.Status), s.ttl)
	if err != nil {
		return Summary{}, fmt.Errorf("claim outcome %s/%s: %w", runID, o.ItemID, err)
	}
	if !claimed {
		return s.summary(ctx, runID)
	}
	counters, err := s.redis.AppendJSON(ctx, outcomesKey(runID), o, countsKey(runID), counterFields(o), s.ttl)
	if err != nil {
		return Summary{}, fmt.Errorf("record outcome %s/%s: %w", runID, o.ItemID, err)
	}
	summary := summaryFromCounters(counters)
	if err := s.update(ctx, runID, func(r *Run, latest Summary) { settle(r, latest) }); err != nil && !errors.Is(err, syncerr.ErrNotFound) {
		return summary, err
	}
	return summary, nil
}

func (s *JobService) Get(ctx context.Context, runID string) (*Run, error) {
	run, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	summary, err := s.summary(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Summary = summary
	return run, nil
}

func (s *JobService) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	var out []Outcome
	err := s.redis.ListJSON(ctx, outcomesKey(runID), func(raw []byte) error {
		var o Outcome
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

func (s *JobService) AuthErrors(ctx context.Context, runID string) (int, error) {
	summary, err := s.summary(ctx, runID)
	return summary.AuthErrors, err
}

func (s *JobService) LoadProgress(ctx context.Context, runID, itemID string) (Progress, error) {
	var p Progress
	if err := s.redis.CacheGet(ctx, progressKey(runID, itemID), &p); err != nil && !rds.IsMiss(err) {
		return Progress{}, fmt.Errorf("load progress %s/%s: %w", runID, itemID, err)
	}
	return p, nil
}

func (s *JobService) SaveProgress(ctx context.Context, runID, itemID string, p Progress) error {
	return s.redis.CacheSet(ctx, progressKey(runID, itemID), p, s.ttl)
}

func (s *JobService) summary(ctx context.Context, runID string) (Summary, error) {
	counters, err := s.redis.Counters(ctx, countsKey(runID))
	if err != nil {
		return Summary{}, fmt.Errorf("read counters %s: %w", runID, err)
	}
	return summaryFromCounters(counters), nil
}

func counterFields(o Outcome) []string {
	fields := []string{"total"}
	switch o.Status {
	case OutcomeSynced:
		fields = append(fields, "synced")
	case OutcomeNoMatch:
		fields = append(fields, "no_match")
	default:
		fields = append(fields, "errors")
		switch o.ErrorKind {
		case syncerr.KindAuth:
			fields = append(fields, "auth_errors")
		case syncerr.KindCircuitOpen:
			fields = append(fields, "aborted")
		}
	}
	return fields
}

func summaryFromCounters(c map[string]int64) Summary {
	return Summary{
		Total:      int(c["total"]),
		Synced:     int(c["synced"]),
		NoMatch:    int(c["no_match"]),
		Errors:     int(c["errors"]),
		AuthErrors: int(c["auth_errors"]),
		Aborted:    c["aborted"] > 0,
	}
}

// settle copies the summary onto the run and completes it once every
// dispatched item has reported.
func settle(r *Run, summary Summary) {
	r.Summary = summary
	if r.Status == StatusFailed || r.Status == StatusCompleted {
		return
	}
	if r.DispatchDone && summary.Total >= r.Dispatched {
		r.Status = StatusCompleted
	}
}
