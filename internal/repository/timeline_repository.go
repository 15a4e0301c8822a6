package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/staffsync/internal/domain"
)

// ErrEventNotFound is returned when a timeline event id does not exist.
var ErrEventNotFound = errors.New("timeline event not found")

type timelineRepository struct {
	pool *pgxpool.Pool
}

// NewTimelineRepository wires the append-only timeline onto a pgx pool.
func NewTimelineRepository(pool *pgxpool.Pool) TimelineRepository {
	return &timelineRepository{pool: pool}
}

func (r *timelineRepository) CreateBatch(ctx context.Context, events []domain.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		eventDataJSON, err := json.Marshal(event.EventData)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		batch.Queue(`
			INSERT INTO timeline_events (
				id, employee_id, event_type, event_date, title, description,
				event_data, sequence_order, change_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			event.ID, event.EmployeeID, string(event.EventType), event.EventDate,
			event.Title, event.Description, eventDataJSON, event.SequenceOrder,
			event.ChangeID)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert timeline event: %w", err)
		}
	}
	return nil
}

func (r *timelineRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.TimelineEvent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, employee_id, event_type, event_date, title, description,
			event_data, sequence_order, change_id
		FROM timeline_events
		WHERE id = $1`,
		id)

	event, err := scanTimelineEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TimelineEvent{}, ErrEventNotFound
	}
	if err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("get timeline event: %w", err)
	}
	return event, nil
}

func (r *timelineRepository) ListByEmployee(ctx context.Context, employeeID string) ([]domain.TimelineEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, employee_id, event_type, event_date, title, description,
			event_data, sequence_order, change_id
		FROM timeline_events
		WHERE employee_id = $1
		ORDER BY event_date ASC, sequence_order ASC`,
		employeeID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		event, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanTimelineEvent(row pgx.Row) (domain.TimelineEvent, error) {
	var (
		event         domain.TimelineEvent
		eventType     string
		eventDataJSON []byte
	)
	err := row.Scan(
		&event.ID, &event.EmployeeID, &eventType, &event.EventDate,
		&event.Title, &event.Description, &eventDataJSON,
		&event.SequenceOrder, &event.ChangeID,
	)
	if err != nil {
		return domain.TimelineEvent{}, err
	}

	event.EventType = domain.EventType(eventType)
	if len(eventDataJSON) > 0 {
		if err := json.Unmarshal(eventDataJSON, &event.EventData); err != nil {
			return domain.TimelineEvent{}, fmt.Errorf("decode event data: %w", err)
		}
	}
	return event, nil
}
