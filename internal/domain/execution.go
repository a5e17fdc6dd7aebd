package domain

import "time"

// Status is the lifecycle state of an execution record.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// validTransitions lists the states reachable from each status. Terminal
// states may be rewritten so a retry wrapper can overwrite a stage's result.
var validTransitions = map[Status][]Status{
	StatusRunning: {StatusSuccess, StatusFailed},
	StatusSuccess: {StatusSuccess, StatusFailed},
	StatusFailed:  {StatusSuccess, StatusFailed},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends an execution.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ExecutionRecord identifies one attempt of one logical process.
type ExecutionRecord struct {
	ExecutionID     string
	ConfigID        int64
	ProcessName     string
	RunDate         time.Time
	Status          Status
	StartTime       time.Time
	EndTime         *time.Time
	RecordsInserted int64
	RecordsFailed   int64
	ErrorMessage    string
	Attempt         int
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomePartialFailure
	OutcomeAllFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial_failure"
	case OutcomeAllFailed:
		return "all_failed"
	default:
		return "unknown"
	}
}

// Outcome classifies a batch of per-entity calls. Failed is set for
// OutcomePartialFailure and OutcomeAllFailed.
type Outcome struct {
	Kind   OutcomeKind
	Failed int
}

// ClassifyOutcome derives the outcome from entity totals.
func ClassifyOutcome(total, failed int) Outcome {
	switch {
	case failed == 0:
		return Outcome{Kind: OutcomeSuccess}
	case failed >= total:
		return Outcome{Kind: OutcomeAllFailed, Failed: failed}
	default:
		return Outcome{Kind: OutcomePartialFailure, Failed: failed}
	}
}
