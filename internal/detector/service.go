// Package detector compares chronologically adjacent snapshots and projects
// the differences into the change log and the timeline.
package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/staffsync/internal/domain"
	"github.com/rpattn/staffsync/internal/repository"
)

// Service is the change detector plus its timeline projection. It only ever
// reads committed snapshot payloads handed to it by the collector, so it
// needs no locking of its own.
type Service struct {
	changes  repository.ChangeRepository
	timeline repository.TimelineRepository
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a change detector.
func NewService(changes repository.ChangeRepository, timeline repository.TimelineRepository, opts ...Option) *Service {
	service := &Service{
		changes:  changes,
		timeline: timeline,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Result summarizes one detection pass.
type Result struct {
	Changes []domain.ChangeRecord
	Events  []domain.TimelineEvent
}

// Detect diffs the tracked fields of one endpoint between the previous and
// current payloads and persists the resulting change records and timeline
// events. A nil previous payload means this is the employee's first snapshot:
// one synthetic entity_added event, no field diffs.
func (s *Service) Detect(ctx context.Context, employeeID string, endpoint domain.Endpoint, previous, current map[string]any) (Result, error) {
	detectedAt := s.now().UTC()

	if previous == nil {
		event := domain.NewEntityAddedEvent(employeeID, endpoint, detectedAt)
		if err := s.timeline.CreateBatch(ctx, []domain.TimelineEvent{event}); err != nil {
			return Result{}, fmt.Errorf("record entity added event: %w", err)
		}
		return Result{Events: []domain.TimelineEvent{event}}, nil
	}

	changes, err := diffTrackedFields(employeeID, endpoint, previous, current, detectedAt)
	if err != nil {
		return Result{}, err
	}
	if len(changes) == 0 {
		return Result{}, nil
	}

	if err := s.changes.CreateBatch(ctx, changes); err != nil {
		return Result{}, fmt.Errorf("record changes: %w", err)
	}

	// One event per change; sequence_order disambiguates events from the
	// same detection pass sharing a timestamp.
	events := make([]domain.TimelineEvent, len(changes))
	for i, change := range changes {
		events[i] = domain.NewTimelineEvent(change, i)
	}
	if err := s.timeline.CreateBatch(ctx, events); err != nil {
		return Result{}, fmt.Errorf("record timeline events: %w", err)
	}

	return Result{Changes: changes, Events: events}, nil
}

// diffTrackedFields compares only the fixed allow-list of field paths for the
// endpoint. Values are compared in canonical JSON form so map ordering and
// numeric formatting never produce phantom changes.
func diffTrackedFields(employeeID string, endpoint domain.Endpoint, previous, current map[string]any, detectedAt time.Time) ([]domain.ChangeRecord, error) {
	var changes []domain.ChangeRecord

	for _, field := range domain.TrackedFieldsForEndpoint(endpoint) {
		oldRaw, oldPresent := previous[field.Path]
		newRaw, newPresent := current[field.Path]
		if !oldPresent && !newPresent {
			continue
		}

		oldCanonical, err := canonicalOrNil(oldRaw, oldPresent)
		if err != nil {
			return nil, fmt.Errorf("normalize old %s: %w", field.Path, err)
		}
		newCanonical, err := canonicalOrNil(newRaw, newPresent)
		if err != nil {
			return nil, fmt.Errorf("normalize new %s: %w", field.Path, err)
		}

		if equalCanonical(oldCanonical, newCanonical) {
			continue
		}

		changeType := domain.ChangeTypeUpdated
		if !oldPresent {
			changeType = domain.ChangeTypeCreated
		}
		changes = append(changes, domain.ChangeRecord{
			ID:          uuid.New(),
			EmployeeID:  employeeID,
			Endpoint:    endpoint,
			FieldPath:   field.Path,
			OldValue:    oldCanonical,
			NewValue:    newCanonical,
			DetectedAt:  detectedAt,
			ChangeType:  changeType,
			Significant: field.Significant,
			Label:       field.Label,
		})
	}

	return changes, nil
}

func canonicalOrNil(value any, present bool) (*string, error) {
	if !present || value == nil {
		return nil, nil
	}
	canonical, err := domain.CanonicalValue(value)
	if err != nil {
		return nil, err
	}
	return &canonical, nil
}

func equalCanonical(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
