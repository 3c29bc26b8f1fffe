package job

import (
	"time"

	"bggsync/internal/core/bgg"
	"bggsync/internal/syncerr"
)

// Run is the stored record of one sync run.
type Run struct {
	RunID        string    `json:"run_id"`
	Status       Status    `json:"status"`
	Force        bool      `json:"force"`
	FilterName   string    `json:"filter_name,omitempty"`
	Total        int       `json:"total"`
	Dispatched   int       `json:"dispatched"`
	Batches      int       `json:"batches"`
	DispatchDone bool      `json:"dispatch_done"`
	Error        string    `json:"error,omitempty"`
	Summary      Summary   `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Status for run tracking
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// OutcomeStatus is the terminal state of one item.
type OutcomeStatus string

const (
	OutcomeSynced  OutcomeStatus = "synced"
	OutcomeNoMatch OutcomeStatus = "no_match"
	OutcomeError   OutcomeStatus = "error"
)

// Outcome is the single result recorded for one catalog item in a run.
type Outcome struct {
	ItemID     string        `json:"item_id"`
	Name       string        `json:"name"`
	Status     OutcomeStatus `json:"status"`
	ExternalID *int          `json:"external_id,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Total      int  `json:"total"`
	Synced     int  `json:"synced"`
	NoMatch    int  `json:"no_match"`
	Errors     int  `json:"errors"`
	AuthErrors int  `json:"auth_errors"`
	Aborted    bool `json:"aborted"`
}

// Add folds one outcome into the summary.
func (s *Summary) Add(o Outcome) {
	s.Total++
	switch o.Status {
	case OutcomeSynced:
		s.Synced++
	case OutcomeNoMatch:
		s.NoMatch++
	default:
		s.Errors++
		switch o.ErrorKind {
		case syncerr.KindAuth:
			s.AuthErrors++
		case syncerr.KindCircuitOpen:
			s.Aborted = true
		}
	}
}

// Progress memoizes the completed steps of one item within one run so a
// retried worker resumes instead of repeating work.
type Progress struct {
	Matched   bool        `json:"matched"`
	NoMatch   bool        `json:"no_match"`
	Match     *bgg.Detail `json:"match,omitempty"`
	ImageID   string      `json:"image_id,omitempty"`
	Uploaded  bool        `json:"uploaded"`
	Described bool        `json:"described"`
}
