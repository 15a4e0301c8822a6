package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/staffsync/internal/domain"
)

// SnapshotOutcome reports what the dedup write path did with a payload.
type SnapshotOutcome string

const (
	// SnapshotInserted means the payload diverged: the previous latest row
	// was closed and a new row inserted.
	SnapshotInserted SnapshotOutcome = "inserted"
	// SnapshotVerified means the payload hash matched the current latest
	// row: only last_verified_at advanced.
	SnapshotVerified SnapshotOutcome = "verified"
)

// SnapshotUpsertResult carries the write outcome plus the previous payload
// when one was superseded, which feeds the change detector.
type SnapshotUpsertResult struct {
	Outcome  SnapshotOutcome
	Record   domain.SnapshotRecord
	Previous *domain.SnapshotRecord
}

// SnapshotRepository is the append-only temporal snapshot store. There is no
// delete operation: superseded rows are closed, never removed.
type SnapshotRepository interface {
	// Upsert idempotently persists a fetched payload: hash-match short
	// circuits to a verification touch, divergence closes the old latest
	// row and inserts a new one in the same transaction.
	Upsert(ctx context.Context, snapshot domain.SnapshotRecord) (SnapshotUpsertResult, error)
	Latest(ctx context.Context, employeeID string, endpoint domain.Endpoint) (domain.SnapshotRecord, error)
	ListHistory(ctx context.Context, employeeID string, endpoint domain.Endpoint) ([]domain.SnapshotRecord, error)
	// EarliestPerEndpoint returns the oldest snapshot per endpoint for one
	// employee, the inputs to base-state derivation.
	EarliestPerEndpoint(ctx context.Context, employeeID string) (map[domain.Endpoint]domain.SnapshotRecord, error)
	// ListEmployeeIDs returns every employee with at least one snapshot.
	ListEmployeeIDs(ctx context.Context) ([]string, error)
	// LatestProfiles returns the latest profile payload per employee, the
	// matcher's external input.
	LatestProfiles(ctx context.Context) ([]domain.SnapshotRecord, error)
}

// ChangeRepository stores detected field-level changes. Pure log.
type ChangeRepository interface {
	CreateBatch(ctx context.Context, changes []domain.ChangeRecord) error
	ListByEmployee(ctx context.Context, employeeID string) ([]domain.ChangeRecord, error)
}

// TimelineRepository stores the append-only timeline projection.
type TimelineRepository interface {
	CreateBatch(ctx context.Context, events []domain.TimelineEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.TimelineEvent, error)
	// ListByEmployee returns events ordered by (event_date, sequence_order).
	ListByEmployee(ctx context.Context, employeeID string) ([]domain.TimelineEvent, error)
}

// StateRepository stores reconstructed states keyed by
// (employee_id, state_version). Upsert keeps replay idempotent.
type StateRepository interface {
	Upsert(ctx context.Context, state domain.ReconstructedState) error
	LatestByEmployee(ctx context.Context, employeeID string) (domain.ReconstructedState, error)
	GetByVersion(ctx context.Context, employeeID string, version int64) (domain.ReconstructedState, error)
	ListByEmployee(ctx context.Context, employeeID string) ([]domain.ReconstructedState, error)
	GetByEvent(ctx context.Context, eventID uuid.UUID) (domain.ReconstructedState, error)
}

// StaffRepository reads and updates internally-held staff records.
type StaffRepository interface {
	List(ctx context.Context) ([]domain.StaffMember, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.StaffMember, error)
	Update(ctx context.Context, member domain.StaffMember) (domain.StaffMember, error)
}

// RunRepository records sync sessions and reconstruction runs for
// observability.
type RunRepository interface {
	CreateSession(ctx context.Context, session domain.SyncSession) error
	FinishSession(ctx context.Context, session domain.SyncSession) error
	ListSessions(ctx context.Context, limit int) ([]domain.SyncSession, error)
	CreateRun(ctx context.Context, run domain.ReconstructionRun) error
	FinishRun(ctx context.Context, run domain.ReconstructionRun) error
	ListRuns(ctx context.Context, limit int) ([]domain.ReconstructionRun, error)
}
