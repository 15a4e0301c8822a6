package reconstructor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/staffsync/internal/domain"
	"github.com/rpattn/staffsync/internal/repository"
)

type stubSnapshotRepo struct {
	earliest map[string]map[domain.Endpoint]domain.SnapshotRecord
}

func (r *stubSnapshotRepo) Upsert(ctx context.Context, snapshot domain.SnapshotRecord) (repository.SnapshotUpsertResult, error) {
	return repository.SnapshotUpsertResult{}, nil
}

func (r *stubSnapshotRepo) Latest(ctx context.Context, employeeID string, endpoint domain.Endpoint) (domain.SnapshotRecord, error) {
	return domain.SnapshotRecord{}, nil
}

func (r *stubSnapshotRepo) ListHistory(ctx context.Context, employeeID string, endpoint domain.Endpoint) ([]domain.SnapshotRecord, error) {
	return nil, nil
}

func (r *stubSnapshotRepo) EarliestPerEndpoint(ctx context.Context, employeeID string) (map[domain.Endpoint]domain.SnapshotRecord, error) {
	return r.earliest[employeeID], nil
}

func (r *stubSnapshotRepo) ListEmployeeIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(r.earliest))
	for id := range r.earliest {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *stubSnapshotRepo) LatestProfiles(ctx context.Context) ([]domain.SnapshotRecord, error) {
	return nil, nil
}

type stubTimelineRepo struct {
	events map[string][]domain.TimelineEvent
}

func (r *stubTimelineRepo) CreateBatch(ctx context.Context, events []domain.TimelineEvent) error {
	return nil
}

func (r *stubTimelineRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.TimelineEvent, error) {
	for _, events := range r.events {
		for _, event := range events {
			if event.ID == id {
				return event, nil
			}
		}
	}
	return domain.TimelineEvent{}, repository.ErrEventNotFound
}

func (r *stubTimelineRepo) ListByEmployee(ctx context.Context, employeeID string) ([]domain.TimelineEvent, error) {
	return r.events[employeeID], nil
}

type stateKey struct {
	employeeID string
	version    int64
}

type stubStateRepo struct {
	states  map[stateKey]domain.ReconstructedState
	upserts int
}

func newStubStateRepo() *stubStateRepo {
	return &stubStateRepo{states: make(map[stateKey]domain.ReconstructedState)}
}

func (r *stubStateRepo) Upsert(ctx context.Context, state domain.ReconstructedState) error {
	r.upserts++
	r.states[stateKey{state.EmployeeID, state.StateVersion}] = state
	return nil
}

func (r *stubStateRepo) LatestByEmployee(ctx context.Context, employeeID string) (domain.ReconstructedState, error) {
	var latest domain.ReconstructedState
	found := false
	for key, state := range r.states {
		if key.employeeID == employeeID && (!found || state.StateVersion > latest.StateVersion) {
			latest = state
			found = true
		}
	}
	if !found {
		return domain.ReconstructedState{}, repository.ErrStateNotFound
	}
	return latest, nil
}

func (r *stubStateRepo) GetByVersion(ctx context.Context, employeeID string, version int64) (domain.ReconstructedState, error) {
	state, ok := r.states[stateKey{employeeID, version}]
	if !ok {
		return domain.ReconstructedState{}, repository.ErrStateNotFound
	}
	return state, nil
}

func (r *stubStateRepo) ListByEmployee(ctx context.Context, employeeID string) ([]domain.ReconstructedState, error) {
	var out []domain.ReconstructedState
	for key, state := range r.states {
		if key.employeeID == employeeID {
			out = append(out, state)
		}
	}
	return out, nil
}

func (r *stubStateRepo) GetByEvent(ctx context.Context, eventID uuid.UUID) (domain.ReconstructedState, error) {
	for _, state := range r.states {
		if state.EventID == eventID {
			return state, nil
		}
	}
	return domain.ReconstructedState{}, repository.ErrStateNotFound
}

type stubRunRepo struct {
	created  []domain.ReconstructionRun
	finished []domain.ReconstructionRun
}

func (r *stubRunRepo) CreateSession(ctx context.Context, session domain.SyncSession) error { return nil }

func (r *stubRunRepo) FinishSession(ctx context.Context, session domain.SyncSession) error { return nil }

func (r *stubRunRepo) ListSessions(ctx context.Context, limit int) ([]domain.SyncSession, error) {
	return nil, nil
}

func (r *stubRunRepo) CreateRun(ctx context.Context, run domain.ReconstructionRun) error {
	r.created = append(r.created, run)
	return nil
}

func (r *stubRunRepo) FinishRun(ctx context.Context, run domain.ReconstructionRun) error {
	r.finished = append(r.finished, run)
	return nil
}

func (r *stubRunRepo) ListRuns(ctx context.Context, limit int) ([]domain.ReconstructionRun, error) {
	return r.finished, nil
}

func changeEvent(employeeID, fieldPath string, oldValue, newValue string, eventDate time.Time, seq int) domain.TimelineEvent {
	return domain.TimelineEvent{
		ID:         uuid.New(),
		EmployeeID: employeeID,
		EventType:  domain.ClassifyFieldPath(fieldPath),
		EventDate:  eventDate,
		EventData: map[string]any{
			"field_path": fieldPath,
			"old_value":  oldValue,
			"new_value":  newValue,
			"endpoint":   "employment",
		},
		SequenceOrder: seq,
	}
}

// wageScenario is an employee whose hourly wage moved from 16.28 to 17.37
// after the initial import.
func wageScenario() (*stubSnapshotRepo, *stubTimelineRepo) {
	base := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

	snapshots := &stubSnapshotRepo{earliest: map[string]map[domain.Endpoint]domain.SnapshotRecord{
		"emp-1": {
			domain.EndpointProfile: {
				EmployeeID: "emp-1",
				Endpoint:   domain.EndpointProfile,
				Payload:    map[string]any{"first_name": "Anna", "last_name": "Smith", "email": "anna@example.org"},
			},
			domain.EndpointEmployment: {
				EmployeeID: "emp-1",
				Endpoint:   domain.EndpointEmployment,
				Payload:    map[string]any{"hourly_wage": 16.28, "month_wage": 2500.0, "hours_per_week": 32.0},
			},
		},
	}}

	added := domain.NewEntityAddedEvent("emp-1", domain.EndpointProfile, base)
	raise := changeEvent("emp-1", "hourly_wage", "16.28", "17.37", base.AddDate(0, 1, 0), 0)
	timeline := &stubTimelineRepo{events: map[string][]domain.TimelineEvent{
		"emp-1": {added, raise},
	}}

	return snapshots, timeline
}

func newService(t *testing.T, snapshots *stubSnapshotRepo, timeline *stubTimelineRepo, states *stubStateRepo, runs *stubRunRepo) *Service {
	t.Helper()
	service, err := NewService(snapshots, timeline, states, runs)
	if err != nil {
		t.Fatalf("failed to build reconstructor: %v", err)
	}
	return service
}

func TestRunSingleEmployeeReplaysHistory(t *testing.T) {
	snapshots, timeline := wageScenario()
	states := newStubStateRepo()
	service := newService(t, snapshots, timeline, states, &stubRunRepo{})

	result, err := service.Run(context.Background(), Request{Mode: ModeSingleEmployee, EmployeeID: "emp-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.EventsProcessed != 2 || result.Successful != 2 || result.Failed != 0 {
		t.Fatalf("unexpected accounting: processed=%d ok=%d failed=%d", result.EventsProcessed, result.Successful, result.Failed)
	}
	if result.EmployeesCompleted != 1 {
		t.Fatalf("expected one completed employee, got %d", result.EmployeesCompleted)
	}

	base, err := states.GetByVersion(context.Background(), "emp-1", 1)
	if err != nil {
		t.Fatalf("missing base state: %v", err)
	}
	if base.ChangeSource != "initial_import" {
		t.Fatalf("base state source must be initial_import, got %s", base.ChangeSource)
	}
	if base.HourWageAtEvent == nil || *base.HourWageAtEvent != 16.28 {
		t.Fatalf("base hourly wage wrong: %v", base.HourWageAtEvent)
	}
	if base.FirstNameAtEvent == nil || *base.FirstNameAtEvent != "Anna" {
		t.Fatalf("base state must merge profile fields, got %v", base.FirstNameAtEvent)
	}
	if base.AnnualSalaryAtEvent == nil || *base.AnnualSalaryAtEvent != 2500.0*12 {
		t.Fatalf("annual salary must be twelve monthly wages, got %v", base.AnnualSalaryAtEvent)
	}
	if base.NetSalaryAtEvent == nil || *base.NetSalaryAtEvent != 2500.0*0.63 {
		t.Fatalf("net salary wrong: %v", base.NetSalaryAtEvent)
	}

	raised, err := states.GetByVersion(context.Background(), "emp-1", 2)
	if err != nil {
		t.Fatalf("missing raised state: %v", err)
	}
	if raised.HourWageAtEvent == nil || *raised.HourWageAtEvent != 17.37 {
		t.Fatalf("raise not applied: %v", raised.HourWageAtEvent)
	}
	if len(raised.FieldsChanged) != 1 || raised.FieldsChanged[0] != "hour_wage_at_event" {
		t.Fatalf("fields_changed must name only the moved field, got %v", raised.FieldsChanged)
	}
	// Everything else carries forward.
	if raised.FirstNameAtEvent == nil || *raised.FirstNameAtEvent != "Anna" {
		t.Fatalf("untouched fields must carry forward, got %v", raised.FirstNameAtEvent)
	}
	if raised.MonthWageAtEvent == nil || *raised.MonthWageAtEvent != 2500.0 {
		t.Fatalf("month wage must carry forward, got %v", raised.MonthWageAtEvent)
	}
	if raised.ChangeSource != "employment" {
		t.Fatalf("change source must come from the event endpoint, got %s", raised.ChangeSource)
	}
}

func TestRunReplayIsIdempotent(t *testing.T) {
	snapshots, timeline := wageScenario()
	states := newStubStateRepo()
	service := newService(t, snapshots, timeline, states, &stubRunRepo{})

	req := Request{Mode: ModeSingleEmployee, EmployeeID: "emp-1"}
	if _, err := service.Run(context.Background(), req); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first, _ := states.GetByVersion(context.Background(), "emp-1", 2)

	if _, err := service.Run(context.Background(), req); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second, _ := states.GetByVersion(context.Background(), "emp-1", 2)

	if len(states.states) != 2 {
		t.Fatalf("replay must overwrite by version, got %d stored states", len(states.states))
	}
	if second.HourWageAtEvent == nil || *second.HourWageAtEvent != *first.HourWageAtEvent {
		t.Fatalf("replay must be deterministic: %v vs %v", first.HourWageAtEvent, second.HourWageAtEvent)
	}
	if second.StateVersion != first.StateVersion {
		t.Fatalf("state versions must be stable across replays")
	}
}

func TestRunSingleEventLoadsStoredPrevious(t *testing.T) {
	snapshots, timeline := wageScenario()
	states := newStubStateRepo()
	service := newService(t, snapshots, timeline, states, &stubRunRepo{})

	// Full replay first so version 1 exists in storage.
	if _, err := service.Run(context.Background(), Request{Mode: ModeSingleEmployee, EmployeeID: "emp-1"}); err != nil {
		t.Fatalf("seed run failed: %v", err)
	}

	raiseEvent := timeline.events["emp-1"][1]
	result, err := service.Run(context.Background(), Request{Mode: ModeSingleEvent, EventID: raiseEvent.ID})
	if err != nil {
		t.Fatalf("single event run failed: %v", err)
	}
	if result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("unexpected accounting: %+v", result)
	}

	state, err := states.GetByVersion(context.Background(), "emp-1", 2)
	if err != nil {
		t.Fatalf("missing rebuilt state: %v", err)
	}
	if state.HourWageAtEvent == nil || *state.HourWageAtEvent != 17.37 {
		t.Fatalf("rebuilt state wrong: %v", state.HourWageAtEvent)
	}
}

func TestRunSingleEventUnknownIDFails(t *testing.T) {
	snapshots, timeline := wageScenario()
	service := newService(t, snapshots, timeline, newStubStateRepo(), &stubRunRepo{})

	_, err := service.Run(context.Background(), Request{Mode: ModeSingleEvent, EventID: uuid.New()})
	if !errors.Is(err, repository.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestRunEventFailureDoesNotStopReplay(t *testing.T) {
	snapshots, timeline := wageScenario()
	// Inject a poisoned event between the good ones.
	events := timeline.events["emp-1"]
	poison := changeEvent("emp-1", "no_such_field", "a", "b", events[1].EventDate.Add(-time.Hour), 0)
	timeline.events["emp-1"] = []domain.TimelineEvent{events[0], poison, events[1]}

	states := newStubStateRepo()
	service := newService(t, snapshots, timeline, states, &stubRunRepo{})

	result, err := service.Run(context.Background(), Request{Mode: ModeSingleEmployee, EmployeeID: "emp-1"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.EventsProcessed != 3 || result.Failed != 1 || result.Successful != 2 {
		t.Fatalf("unexpected accounting: processed=%d ok=%d failed=%d", result.EventsProcessed, result.Successful, result.Failed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("failure must be recorded, got %v", result.Errors)
	}
	if result.SuccessRate() != "66.7%" {
		t.Fatalf("unexpected success rate %s", result.SuccessRate())
	}
}

func TestRunAllEmployeesIsolatesFailures(t *testing.T) {
	snapshots, timeline := wageScenario()
	// Second employee with no snapshots: base derivation fails.
	snapshots.earliest["emp-2"] = map[domain.Endpoint]domain.SnapshotRecord{}
	timeline.events["emp-2"] = []domain.TimelineEvent{
		domain.NewEntityAddedEvent("emp-2", domain.EndpointProfile, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
	}

	states := newStubStateRepo()
	service := newService(t, snapshots, timeline, states, &stubRunRepo{})

	result, err := service.Run(context.Background(), Request{Mode: ModeAllEmployees})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Successful != 2 || result.Failed != 1 {
		t.Fatalf("unexpected accounting: ok=%d failed=%d", result.Successful, result.Failed)
	}
	if result.EmployeesCompleted != 2 {
		t.Fatalf("both employees must complete their replay loop, got %d", result.EmployeesCompleted)
	}
	if _, err := states.GetByVersion(context.Background(), "emp-1", 2); err != nil {
		t.Fatalf("emp-2's failure must not block emp-1: %v", err)
	}
}

func TestRunBackfillRecordsRun(t *testing.T) {
	snapshots, timeline := wageScenario()
	states := newStubStateRepo()
	runs := &stubRunRepo{}
	service := newService(t, snapshots, timeline, states, runs)

	result, err := service.Run(context.Background(), Request{Mode: ModeBackfillAll})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(runs.created) != 1 || len(runs.finished) != 1 {
		t.Fatalf("backfill must open and close a run row: created=%d finished=%d", len(runs.created), len(runs.finished))
	}
	run := runs.finished[0]
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.EventsProcessed != result.EventsProcessed || run.Successful != result.Successful {
		t.Fatalf("run row must mirror the result accounting")
	}
	if run.FinishedAt == nil {
		t.Fatalf("finished run must carry a finish time")
	}
}

func TestRunDryRunPersistsNothing(t *testing.T) {
	snapshots, timeline := wageScenario()
	states := newStubStateRepo()
	runs := &stubRunRepo{}
	service := newService(t, snapshots, timeline, states, runs)

	result, err := service.Run(context.Background(), Request{Mode: ModeBackfillAll, DryRun: true})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Successful != 2 {
		t.Fatalf("dry run still replays, got ok=%d", result.Successful)
	}
	if states.upserts != 0 {
		t.Fatalf("dry run must not persist states, got %d upserts", states.upserts)
	}
	if len(runs.created) != 0 || len(runs.finished) != 0 {
		t.Fatalf("dry run must not record a run row")
	}
}

func TestRunUnknownModeRejected(t *testing.T) {
	snapshots, timeline := wageScenario()
	service := newService(t, snapshots, timeline, newStubStateRepo(), &stubRunRepo{})

	_, err := service.Run(context.Background(), Request{Mode: "bogus"})
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}
