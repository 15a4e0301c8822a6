// Package collector pulls current employee data from the external payroll
// system and feeds it through the snapshot store's dedup write path.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/staffsync/internal/detector"
	"github.com/rpattn/staffsync/internal/domain"
	"github.com/rpattn/staffsync/internal/payroll"
	"github.com/rpattn/staffsync/internal/repository"
)

// Mode selects the collection scope.
type Mode string

const (
	// ModeTest collects a capped number of employees from the first
	// listing page only.
	ModeTest Mode = "test"
	// ModeSpecific collects the employee IDs named in the request.
	ModeSpecific Mode = "specific"
	// ModeFull paginates the entire employee listing.
	ModeFull Mode = "full"
)

// ErrUnknownMode rejects trigger requests with an unrecognized mode.
var ErrUnknownMode = errors.New("unknown collection mode")

// Request describes one collection run. BatchSize, when positive, caps how
// many employees the run touches regardless of mode.
type Request struct {
	Mode        Mode
	EmployeeIDs []string
	BatchSize   int
	DryRun      bool
}

// PayrollClient is the slice of the external client the collector needs.
type PayrollClient interface {
	ListEmployees(ctx context.Context) ([]payroll.EmployeeSummary, error)
	ListFirstPage(ctx context.Context) ([]payroll.EmployeeSummary, error)
	FetchEndpoint(ctx context.Context, employeeID string, endpoint domain.Endpoint) (map[string]any, error)
}

// ChangeDetector receives (previous, current) payload pairs whenever the
// store reports a divergent write.
type ChangeDetector interface {
	Detect(ctx context.Context, employeeID string, endpoint domain.Endpoint, previous, current map[string]any) (detector.Result, error)
}

// Service orchestrates sync sessions. Every fetch attempt lands in the
// session totals; one employee's failure never aborts the run.
type Service struct {
	client    PayrollClient
	snapshots repository.SnapshotRepository
	runs      repository.RunRepository
	detector  ChangeDetector

	retry       payroll.RetryPolicy
	sleep       payroll.SleepFunc
	callTimeout time.Duration
	testLimit   int
	now         func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRetryPolicy overrides the per-fetch retry behavior.
func WithRetryPolicy(policy payroll.RetryPolicy) Option {
	return func(s *Service) { s.retry = policy }
}

// WithSleep injects the retry sleep function (tests pass a no-op).
func WithSleep(sleep payroll.SleepFunc) Option {
	return func(s *Service) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithCallTimeout bounds each outbound payroll call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// WithTestLimit caps how many employees a test-mode run touches.
func WithTestLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.testLimit = limit
		}
	}
}

// WithClock overrides the session timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a collector.
func NewService(
	client PayrollClient,
	snapshots repository.SnapshotRepository,
	runs repository.RunRepository,
	changeDetector ChangeDetector,
	opts ...Option,
) *Service {
	service := &Service{
		client:      client,
		snapshots:   snapshots,
		runs:        runs,
		detector:    changeDetector,
		retry:       payroll.DefaultRetryPolicy(),
		sleep:       payroll.ContextSleep,
		callTimeout: 15 * time.Second,
		testLimit:   5,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Run executes one sync session and returns its final accounting.
func (s *Service) Run(ctx context.Context, req Request) (domain.SyncSession, error) {
	targets, err := s.resolveTargets(ctx, req)
	if err != nil {
		return domain.SyncSession{}, err
	}
	if req.BatchSize > 0 && len(targets) > req.BatchSize {
		targets = targets[:req.BatchSize]
	}

	session := domain.SyncSession{
		ID:        uuid.New(),
		Mode:      string(req.Mode),
		StartedAt: s.now().UTC(),
		Status:    domain.RunStatusRunning,
		Total:     len(targets),
	}
	if !req.DryRun {
		if err := s.runs.CreateSession(ctx, session); err != nil {
			return domain.SyncSession{}, fmt.Errorf("open sync session: %w", err)
		}
	}

	for _, employeeID := range targets {
		if err := s.collectEmployee(ctx, session.ID, employeeID, req.DryRun); err != nil {
			session.Failed++
			session.Errors = append(session.Errors, domain.EmployeeError{
				EmployeeID: employeeID,
				Error:      err.Error(),
			})
			log.Printf("collector: employee %s failed: %v", employeeID, err)
			continue
		}
		session.Successful++
	}

	finished := s.now().UTC()
	session.FinishedAt = &finished
	session.Status = domain.RunStatusCompleted
	if err := ctx.Err(); err != nil {
		session.Status = domain.RunStatusFailed
	}

	if !req.DryRun {
		if err := s.runs.FinishSession(ctx, session); err != nil {
			return session, fmt.Errorf("close sync session: %w", err)
		}
	}
	return session, nil
}

func (s *Service) resolveTargets(ctx context.Context, req Request) ([]string, error) {
	switch req.Mode {
	case ModeSpecific:
		if len(req.EmployeeIDs) == 0 {
			return nil, errors.New("specific mode requires employee ids")
		}
		return req.EmployeeIDs, nil
	case ModeTest:
		summaries, err := s.client.ListFirstPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list employees: %w", err)
		}
		if len(summaries) > s.testLimit {
			summaries = summaries[:s.testLimit]
		}
		return summaryIDs(summaries), nil
	case ModeFull:
		summaries, err := s.client.ListEmployees(ctx)
		if err != nil {
			return nil, fmt.Errorf("list employees: %w", err)
		}
		return summaryIDs(summaries), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}

// collectEmployee fetches every configured endpoint for one employee. A 404
// marks the snapshot partial ("no data" is not a failure); a 403 or exhausted
// retries fails the employee. Endpoints that did fetch are still written.
func (s *Service) collectEmployee(ctx context.Context, sessionID uuid.UUID, employeeID string, dryRun bool) error {
	payloads := make(map[domain.Endpoint]map[string]any)
	var missing []string
	var hardErr error

	for _, endpoint := range domain.Endpoints() {
		payload, err := s.fetchWithRetry(ctx, employeeID, endpoint)
		switch {
		case err == nil:
			payloads[endpoint] = payload
		case errors.Is(err, payroll.ErrNotFound):
			missing = append(missing, string(endpoint))
		default:
			hardErr = fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		if hardErr != nil {
			break
		}
	}

	for endpoint, payload := range payloads {
		if dryRun {
			continue
		}
		if err := s.writeSnapshot(ctx, sessionID, employeeID, endpoint, payload, len(missing) > 0); err != nil {
			return err
		}
	}

	if hardErr != nil {
		return hardErr
	}
	return nil
}

func (s *Service) fetchWithRetry(ctx context.Context, employeeID string, endpoint domain.Endpoint) (map[string]any, error) {
	var payload map[string]any
	err := s.retry.Do(ctx, s.sleep, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		fetched, err := s.client.FetchEndpoint(callCtx, employeeID, endpoint)
		if err != nil {
			return err
		}
		payload = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// writeSnapshot hands one payload to the dedup write path and, when the store
// reports a divergent insert, runs change detection against the superseded
// payload.
func (s *Service) writeSnapshot(ctx context.Context, sessionID uuid.UUID, employeeID string, endpoint domain.Endpoint, payload map[string]any, partial bool) error {
	snapshot, err := domain.NewSnapshotRecord(employeeID, endpoint, payload, sessionID)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	snapshot.IsPartial = partial
	if partial {
		msg := "one or more endpoints returned no data"
		snapshot.ErrorMessage = &msg
	}

	result, err := s.snapshots.Upsert(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if result.Outcome != repository.SnapshotInserted {
		// Hash matched: verification touch only, nothing to detect.
		return nil
	}

	var previous map[string]any
	if result.Previous != nil {
		previous = result.Previous.Payload
	}
	if _, err := s.detector.Detect(ctx, employeeID, endpoint, previous, payload); err != nil {
		return fmt.Errorf("detect changes: %w", err)
	}
	return nil
}

func summaryIDs(summaries []payroll.EmployeeSummary) []string {
	ids := make([]string, len(summaries))
	for i, summary := range summaries {
		ids[i] = summary.ID
	}
	return ids
}
