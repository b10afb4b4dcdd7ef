package model

import "time"

// RunStatus represents the state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// IngestRun is one entry of the ingestion run log.
type IngestRun struct {
	ID          string     `json:"id"`
	Account     string     `json:"account"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Pages       int        `json:"pages"`
	Inserted    int        `json:"inserted"`
	Updated     int        `json:"updated"`
	Unchanged   int        `json:"unchanged"`
	Mismatches  int        `json:"mismatches"`
	Error       string     `json:"error,omitempty"`
}

// RunTotals holds the counters recorded when a run completes.
type RunTotals struct {
	Pages      int `json:"pages"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Mismatches int `json:"mismatches"`
}
