package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a collection run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the collector, kept for auditing.
type Run struct {
	ID         string          `json:"id"`
	Status     RunStatus       `json:"status"`
	Args       string          `json:"args"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
