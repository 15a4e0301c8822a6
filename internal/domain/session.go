package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus tracks the lifecycle of a sync session or reconstruction run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// EmployeeError pairs one failed unit of work with its reason.
type EmployeeError struct {
	EmployeeID string `json:"employee_id"`
	Error      string `json:"error"`
}

// SyncSession accounts for one collection run: every fetch attempt, success
// or failure, lands in these totals. A single employee's failure never aborts
// the session.
type SyncSession struct {
	ID         uuid.UUID
	Mode       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Total      int
	Successful int
	Failed     int
	Errors     []EmployeeError
}

// SuccessRate renders the session health as a percentage string.
func (s SyncSession) SuccessRate() string {
	return successRate(s.Successful, s.Total)
}

// ReconstructionRun is the run-level completion log row a backfill writes.
type ReconstructionRun struct {
	ID              uuid.UUID
	Mode            string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Status          RunStatus
	EventsProcessed int
	Successful      int
	Failed          int
	Errors          []EmployeeError
}

// SuccessRate renders the run health as a percentage string.
func (r ReconstructionRun) SuccessRate() string {
	return successRate(r.Successful, r.EventsProcessed)
}

func successRate(successful, total int) string {
	if total == 0 {
		return "100.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(successful)/float64(total)*100)
}
