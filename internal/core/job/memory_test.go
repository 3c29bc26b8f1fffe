package job

import (
	"context"
	"errors"
	"testing"

	"bggsync/internal/core/bgg"
	"bggsync/internal/syncerr"
)

func TestMemoryStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.InitPending(ctx, Run{RunID: "r1", Force: true}); err != nil {
		t.Fatalf("InitPending: %v", err)
	}
	if err := s.SetProcessing(ctx, "r1"); err != nil {
		t.Fatalf("SetProcessing: %v", err)
	}

	ext := 13
	if _, err := s.RecordOutcome(ctx, "r1", Outcome{ItemID: "a", Status: OutcomeSynced, ExternalID: &ext}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := s.MarkDispatched(ctx, "r1", 3, 3, 1); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}
	run, _ := s.Get(ctx, "r1")
	if run.Status != StatusProcessing {
		t.Fatalf("expected processing until all outcomes arrive, got %s", run.Status)
	}

	_, _ = s.RecordOutcome(ctx, "r1", Outcome{ItemID: "b", Status: OutcomeNoMatch})
	summary, _ := s.RecordOutcome(ctx, "r1", Outcome{ItemID: "c", Status: OutcomeError, ErrorKind: syncerr.KindAuth})
	if summary.Total != 3 || summary.Synced != 1 || summary.NoMatch != 1 || summary.Errors != 1 || summary.AuthErrors != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	run, _ = s.Get(ctx, "r1")
	if run.Status != StatusCompleted || !run.Force {
		t.Fatalf("expected completed forced run, got %+v", run)
	}
	if n, _ := s.AuthErrors(ctx, "r1"); n != 1 {
		t.Fatalf("expected 1 auth error, got %d", n)
	}
}

func TestMemoryStoreOutcomeOncePerItem(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.InitPending(ctx, Run{RunID: "r"})
	_, _ = s.RecordOutcome(ctx, "r", Outcome{ItemID: "x", Status: OutcomeError, ErrorKind: "upstream"})
	summary, _ := s.RecordOutcome(ctx, "r", Outcome{ItemID: "x", Status: OutcomeSynced})
	if summary.Total != 1 || summary.Errors != 1 {
		t.Fatalf("duplicate outcome should be ignored: %+v", summary)
	}
	outcomes, _ := s.Outcomes(ctx, "r")
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes))
	}
}

func TestMemoryStoreEmptyDispatchCompletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.InitPending(ctx, Run{RunID: "r"})
	_ = s.MarkDispatched(ctx, "r", 0, 0, 0)
	run, _ := s.Get(ctx, "r")
	if run.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
}

func TestMemoryStoreProgressAndMissingRun(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := Progress{Matched: true, Match: &bgg.Detail{ExternalID: 13}, Uploaded: true}
	_ = s.SaveProgress(ctx, "r", "i", p)
	got, _ := s.LoadProgress(ctx, "r", "i")
	if !got.Matched || got.Match.ExternalID != 13 || !got.Uploaded || got.Described {
		t.Fatalf("unexpected progress %+v", got)
	}
	if other, _ := s.LoadProgress(ctx, "r2", "i"); other.Matched {
		t.Fatal("progress must be scoped to the run")
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSummaryAdd(t *testing.T) {
	var s Summary
	s.Add(Outcome{Status: OutcomeError, ErrorKind: syncerr.KindConflict})
	s.Add(Outcome{Status: OutcomeSynced})
	if s.Total != 2 || s.Errors != 1 || s.AuthErrors != 0 || s.Synced != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestMemoryStoreCircuitOpenMarksAborted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.InitPending(ctx, Run{RunID: "r"})
	summary, _ := s.RecordOutcome(ctx, "r", Outcome{ItemID: "a", Status: OutcomeError, ErrorKind: syncerr.KindAuth})
	if summary.Aborted {
		t.Fatal("an auth error alone must not abort")
	}
	summary, _ = s.RecordOutcome(ctx, "r", Outcome{ItemID: "b", Status: OutcomeError, ErrorKind: syncerr.KindCircuitOpen})
	if !summary.Aborted || summary.Errors != 2 {
		t.Fatalf("expected aborted summary, got %+v", summary)
	}
}
