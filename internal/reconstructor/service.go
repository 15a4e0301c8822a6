// Package reconstructor replays timeline events in order to produce the
// complete "as of this event" employment state for each employee.
package reconstructor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/staffsync/internal/domain"
	"github.com/rpattn/staffsync/internal/repository"
)

// Mode selects the replay scope. All modes share one code path; they differ
// only in iteration scope.
type Mode string

const (
	ModeSingleEvent    Mode = "single_event"
	ModeSingleEmployee Mode = "single_employee"
	ModeAllEmployees   Mode = "all_employees"
	ModeBackfillAll    Mode = "backfill_all"
)

// ErrUnknownMode rejects trigger requests with an unrecognized mode.
var ErrUnknownMode = errors.New("unknown reconstruction mode")

// Request describes one reconstruction invocation. BatchSize, when positive,
// caps how many employees an all/backfill run touches.
type Request struct {
	Mode       Mode
	EmployeeID string
	EventID    uuid.UUID
	BatchSize  int
	DryRun     bool
}

// Result is the aggregate accounting for one invocation.
type Result struct {
	Mode               string                 `json:"mode"`
	DryRun             bool                   `json:"dry_run"`
	EventsProcessed    int                    `json:"events_processed"`
	Successful         int                    `json:"successful"`
	Failed             int                    `json:"failed"`
	EmployeesCompleted int                    `json:"employees_completed"`
	Errors             []domain.EmployeeError `json:"errors"`
}

// SuccessRate renders the run health as a percentage string.
func (r Result) SuccessRate() string {
	if r.EventsProcessed == 0 {
		return "100.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(r.Successful)/float64(r.EventsProcessed)*100)
}

// Service replays timeline events. Employees are independent and safe to
// process concurrently; within one employee replay is strictly sequential
// because each state builds on the immediately preceding one.
type Service struct {
	snapshots repository.SnapshotRepository
	timeline  repository.TimelineRepository
	states    repository.StateRepository
	runs      repository.RunRepository

	workers int
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithWorkers bounds the cross-employee parallelism of all/backfill modes.
func WithWorkers(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// WithClock overrides the run timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a reconstructor. The state mapping table is validated
// here so unknown field paths fail at startup, not mid-replay.
func NewService(
	snapshots repository.SnapshotRepository,
	timeline repository.TimelineRepository,
	states repository.StateRepository,
	runs repository.RunRepository,
	opts ...Option,
) (*Service, error) {
	if err := domain.ValidateStateMapping(); err != nil {
		return nil, err
	}

	service := &Service{
		snapshots: snapshots,
		timeline:  timeline,
		states:    states,
		runs:      runs,
		workers:   4,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Run executes one reconstruction invocation.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	result := Result{Mode: string(req.Mode), DryRun: req.DryRun}

	switch req.Mode {
	case ModeSingleEvent:
		if err := s.runSingleEvent(ctx, req, &result); err != nil {
			return result, err
		}
	case ModeSingleEmployee:
		if req.EmployeeID == "" {
			return result, errors.New("single_employee mode requires an employee id")
		}
		s.accumulate(&result, req.EmployeeID, s.reconstructEmployee(ctx, req.EmployeeID, req.DryRun))
	case ModeAllEmployees:
		if err := s.runAll(ctx, req, &result); err != nil {
			return result, err
		}
	case ModeBackfillAll:
		if err := s.runBackfill(ctx, req, &result); err != nil {
			return result, err
		}
	default:
		return result, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	return result, nil
}

func (s *Service) runSingleEvent(ctx context.Context, req Request, result *Result) error {
	if req.EventID == uuid.Nil {
		return errors.New("single_event mode requires an event id")
	}

	event, err := s.timeline.GetByID(ctx, req.EventID)
	if err != nil {
		return err
	}

	events, err := s.timeline.ListByEmployee(ctx, event.EmployeeID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	position := -1
	for i, candidate := range events {
		if candidate.ID == event.ID {
			position = i
			break
		}
	}
	if position < 0 {
		return repository.ErrEventNotFound
	}

	state, err := s.reconstructEvent(ctx, event.EmployeeID, events, position, nil)
	result.EventsProcessed++
	if err != nil {
		result.Failed++
		result.Errors = append(result.Errors, domain.EmployeeError{
			EmployeeID: event.EmployeeID,
			Error:      err.Error(),
		})
		return nil
	}
	if !req.DryRun {
		if err := s.states.Upsert(ctx, state); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, domain.EmployeeError{
				EmployeeID: event.EmployeeID,
				Error:      err.Error(),
			})
			return nil
		}
	}
	result.Successful++
	result.EmployeesCompleted = 1
	return nil
}

func (s *Service) runAll(ctx context.Context, req Request, result *Result) error {
	employeeIDs, err := s.snapshots.ListEmployeeIDs(ctx)
	if err != nil {
		return fmt.Errorf("list employees: %w", err)
	}
	if req.BatchSize > 0 && len(employeeIDs) > req.BatchSize {
		employeeIDs = employeeIDs[:req.BatchSize]
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for _, employeeID := range employeeIDs {
		group.Go(func() error {
			partial := s.reconstructEmployee(groupCtx, employeeID, req.DryRun)
			mu.Lock()
			s.accumulate(result, employeeID, partial)
			mu.Unlock()
			// Per-employee failures are accounted, never propagated:
			// they must not cancel the other workers.
			return nil
		})
	}
	return group.Wait()
}

// runBackfill is runAll plus a run-level completion log row.
func (s *Service) runBackfill(ctx context.Context, req Request, result *Result) error {
	run := domain.ReconstructionRun{
		ID:        uuid.New(),
		Mode:      string(ModeBackfillAll),
		StartedAt: s.now().UTC(),
		Status:    domain.RunStatusRunning,
	}
	if !req.DryRun {
		if err := s.runs.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("open reconstruction run: %w", err)
		}
	}

	runErr := s.runAll(ctx, req, result)

	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.EventsProcessed = result.EventsProcessed
	run.Successful = result.Successful
	run.Failed = result.Failed
	run.Errors = result.Errors
	run.Status = domain.RunStatusCompleted
	if runErr != nil {
		run.Status = domain.RunStatusFailed
	}

	if !req.DryRun {
		if err := s.runs.FinishRun(ctx, run); err != nil {
			return fmt.Errorf("close reconstruction run: %w", err)
		}
	}
	return runErr
}

// employeeOutcome carries one employee's replay accounting.
type employeeOutcome struct {
	processed int
	succeeded int
	failed    int
	errors    []string
	completed bool
}

func (s *Service) accumulate(result *Result, employeeID string, outcome employeeOutcome) {
	result.EventsProcessed += outcome.processed
	result.Successful += outcome.succeeded
	result.Failed += outcome.failed
	for _, message := range outcome.errors {
		result.Errors = append(result.Errors, domain.EmployeeError{
			EmployeeID: employeeID,
			Error:      message,
		})
	}
	if outcome.completed {
		result.EmployeesCompleted++
	}
}

// reconstructEmployee replays one employee's full event history in order.
// A single event's failure is logged and counted but does not stop the
// remaining events.
func (s *Service) reconstructEmployee(ctx context.Context, employeeID string, dryRun bool) employeeOutcome {
	var outcome employeeOutcome

	events, err := s.timeline.ListByEmployee(ctx, employeeID)
	if err != nil {
		outcome.failed++
		outcome.errors = append(outcome.errors, fmt.Sprintf("list events: %v", err))
		return outcome
	}
	if len(events) == 0 {
		outcome.completed = true
		return outcome
	}

	var previous *domain.ReconstructedState
	for i := range events {
		outcome.processed++

		state, err := s.reconstructEvent(ctx, employeeID, events, i, previous)
		if err != nil {
			outcome.failed++
			outcome.errors = append(outcome.errors, err.Error())
			log.Printf("reconstructor: employee %s event %s: %v", employeeID, events[i].ID, err)
			continue
		}
		if !dryRun {
			if err := s.states.Upsert(ctx, state); err != nil {
				outcome.failed++
				outcome.errors = append(outcome.errors, err.Error())
				continue
			}
		}
		previous = &state
		outcome.succeeded++
	}

	outcome.completed = true
	return outcome
}

// reconstructEvent produces the state for events[position]. When previous is
// nil the preceding state is loaded from storage (single-event mode) or, for
// the first event, derived from the employee's earliest snapshots.
func (s *Service) reconstructEvent(ctx context.Context, employeeID string, events []domain.TimelineEvent, position int, previous *domain.ReconstructedState) (domain.ReconstructedState, error) {
	event := events[position]

	if position == 0 {
		return s.deriveBaseState(ctx, employeeID, event)
	}

	if previous == nil {
		stored, err := s.states.GetByVersion(ctx, employeeID, int64(position))
		if err != nil {
			return domain.ReconstructedState{}, fmt.Errorf("load previous state version %d: %w", position, err)
		}
		previous = &stored
	}

	state := previous.Clone()
	state.ID = uuid.New()
	state.EventID = event.ID
	state.StateVersion = previous.StateVersion + 1
	state.FieldsChanged = nil
	state.ChangeConfidence = 1.0
	state.ChangeSource = eventSource(event)
	state.CreatedAt = s.now().UTC()

	if fieldPath, ok := eventFieldPath(event); ok {
		stateField, changed, err := domain.ApplyStateField(&state, fieldPath, event.EventData["new_value"])
		if err != nil {
			return domain.ReconstructedState{}, err
		}
		if changed {
			state.FieldsChanged = append(state.FieldsChanged, stateField)
		}
	}
	state.RecomputeDerived()

	return state, nil
}

// deriveBaseState builds version 1 from the earliest snapshot per endpoint.
// Each endpoint contributes a disjoint subset of fields; there is no previous
// state to diff against.
func (s *Service) deriveBaseState(ctx context.Context, employeeID string, event domain.TimelineEvent) (domain.ReconstructedState, error) {
	earliest, err := s.snapshots.EarliestPerEndpoint(ctx, employeeID)
	if err != nil {
		return domain.ReconstructedState{}, fmt.Errorf("load earliest snapshots: %w", err)
	}
	if len(earliest) == 0 {
		return domain.ReconstructedState{}, fmt.Errorf("no snapshots for employee %s", employeeID)
	}

	state := domain.ReconstructedState{
		ID:               uuid.New(),
		EmployeeID:       employeeID,
		EventID:          event.ID,
		StateVersion:     1,
		ChangeSource:     "initial_import",
		ChangeConfidence: 1.0,
		CreatedAt:        s.now().UTC(),
	}

	for _, endpoint := range domain.Endpoints() {
		snapshot, ok := earliest[endpoint]
		if !ok {
			continue
		}
		for _, field := range domain.TrackedFieldsForEndpoint(endpoint) {
			value, present := snapshot.Payload[field.Path]
			if !present || value == nil {
				continue
			}
			stateField, changed, err := domain.ApplyStateField(&state, field.Path, value)
			if err != nil {
				return domain.ReconstructedState{}, err
			}
			if changed {
				state.FieldsChanged = append(state.FieldsChanged, stateField)
			}
		}
	}
	state.RecomputeDerived()

	return state, nil
}

func eventFieldPath(event domain.TimelineEvent) (string, bool) {
	if event.EventType == domain.EventTypeEntityAdded {
		return "", false
	}
	raw, ok := event.EventData["field_path"]
	if !ok {
		return "", false
	}
	path, ok := raw.(string)
	return path, ok && path != ""
}

func eventSource(event domain.TimelineEvent) string {
	if raw, ok := event.EventData["endpoint"]; ok {
		if endpoint, ok := raw.(string); ok {
			return endpoint
		}
	}
	return "timeline"
}
