package domain

import "time"

// Status enumerates the terminal classifications of a processing unit.
type Status string

const (
	StatusSuccess        Status = "Success"
	StatusPartialSuccess Status = "PartialSuccess"
	StatusNoLinks        Status = "NoLinks"
	StatusInvalidURL     Status = "InvalidURL"
	StatusError          Status = "Error"
)

// Counted reports whether the status counts towards the success side of a run summary.
func (s Status) Counted() bool {
	switch s {
	case StatusSuccess, StatusPartialSuccess, StatusNoLinks:
		return true
	default:
		return false
	}
}

// ProcessID uniquely identifies one processing unit (or one top-level failure).
type ProcessID string

func (p ProcessID) String() string { return string(p) }

// OutcomeRecord is the persisted result of handling one unit or one unit-link pair.
type OutcomeRecord struct {
	ID            int64
	Timestamp     time.Time
	Sender        string
	Subject       string
	Content       string
	URL           string
	Status        Status
	DetailedError string
	FinalResult   string
	ProcessID     ProcessID
	InsertedAt    time.Time
}

// ClickAttemptResult captures what happened during one activation attempt.
type ClickAttemptResult struct {
	Success      bool
	Observations string
	Attempts     int
	Strategy     int
}

// ErrorDetail is one entry of a run's error report.
type ErrorDetail struct {
	Kind      string
	Message   string
	Context   string
	Timestamp time.Time
}

// RunSummary accumulates counters for a single run.
type RunSummary struct {
	StartedAt      time.Time
	TotalProcessed int
	TotalSuccess   int
	TotalErrors    int
	DroppedRecords int
	ByStatus       map[Status]int
	Elapsed        time.Duration
	ErrorDetails   []ErrorDetail
}

// NewRunSummary returns an empty summary anchored at start.
func NewRunSummary(start time.Time) RunSummary {
	return RunSummary{StartedAt: start, ByStatus: map[Status]int{}}
}

// Count registers one outcome in the counters.
func (s *RunSummary) Count(status Status) {
	if s.ByStatus == nil {
		s.ByStatus = map[Status]int{}
	}
	s.TotalProcessed++
	s.ByStatus[status]++
	if status.Counted() {
		s.TotalSuccess++
		return
	}
	s.TotalErrors++
}

// SuccessRate returns the success percentage, zero when nothing was processed.
func (s RunSummary) SuccessRate() float64 {
	if s.TotalProcessed == 0 {
		return 0
	}
	return float64(s.TotalSuccess) / float64(s.TotalProcessed) * 100
}
