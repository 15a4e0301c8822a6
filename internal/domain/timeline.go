package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a timeline event by the kind of field that moved.
type EventType string

const (
	EventTypeEntityAdded    EventType = "entity_added"
	EventTypeSalaryChange   EventType = "salary_change"
	EventTypeHoursChange    EventType = "hours_change"
	EventTypeContractChange EventType = "contract_change"
	EventTypeStatusChange   EventType = "status_change"
	EventTypeDataUpdate     EventType = "data_update"
)

// TimelineEvent is a narrative projection of one ChangeRecord (or a synthetic
// entity_added event for an employee's first snapshot). Append-only; ordering
// key is (EventDate, SequenceOrder).
type TimelineEvent struct {
	ID            uuid.UUID
	EmployeeID    string
	EventType     EventType
	EventDate     time.Time
	Title         string
	Description   string
	EventData     map[string]any
	SequenceOrder int
	ChangeID      *uuid.UUID
}

// ClassifyFieldPath maps a tracked field path onto its event type. Unknown
// paths fall through to data_update; the detector never emits those because
// it only diffs the allow-list.
func ClassifyFieldPath(fieldPath string) EventType {
	switch fieldPath {
	case "hourly_wage", "month_wage":
		return EventTypeSalaryChange
	case "hours_per_week", "days_per_week":
		return EventTypeHoursChange
	case "contract_type", "contract_start_date", "contract_end_date":
		return EventTypeContractChange
	case "employment_status":
		return EventTypeStatusChange
	default:
		return EventTypeDataUpdate
	}
}

// NewTimelineEvent projects one change record into its timeline form,
// deriving the human-readable title from the change values.
func NewTimelineEvent(change ChangeRecord, sequenceOrder int) TimelineEvent {
	eventType := ClassifyFieldPath(change.FieldPath)
	title := eventTitle(eventType, change)

	changeID := change.ID
	return TimelineEvent{
		ID:          uuid.New(),
		EmployeeID:  change.EmployeeID,
		EventType:   eventType,
		EventDate:   change.DetectedAt,
		Title:       title,
		Description: fmt.Sprintf("%s changed from %s to %s", change.Label, valueOrNone(change.OldValue), valueOrNone(change.NewValue)),
		EventData: map[string]any{
			"field_path": change.FieldPath,
			"old_value":  change.OldValue,
			"new_value":  change.NewValue,
			"endpoint":   string(change.Endpoint),
		},
		SequenceOrder: sequenceOrder,
		ChangeID:      &changeID,
	}
}

// NewEntityAddedEvent is the synthetic event emitted for the first snapshot
// of an employee, when there is no previous payload to diff against.
func NewEntityAddedEvent(employeeID string, endpoint Endpoint, eventDate time.Time) TimelineEvent {
	return TimelineEvent{
		ID:          uuid.New(),
		EmployeeID:  employeeID,
		EventType:   EventTypeEntityAdded,
		EventDate:   eventDate,
		Title:       "Employee added",
		Description: fmt.Sprintf("First %s snapshot collected for employee %s", endpoint, employeeID),
		EventData: map[string]any{
			"endpoint": string(endpoint),
		},
	}
}

func eventTitle(eventType EventType, change ChangeRecord) string {
	oldText := valueOrNone(change.OldValue)
	newText := valueOrNone(change.NewValue)

	switch eventType {
	case EventTypeSalaryChange:
		if pct, ok := percentDelta(change.OldValue, change.NewValue); ok {
			return fmt.Sprintf("Salary changed %+.1f%%: %s → %s", pct, oldText, newText)
		}
		return fmt.Sprintf("Salary changed: %s → %s", oldText, newText)
	case EventTypeHoursChange:
		return fmt.Sprintf("Hours changed: %s → %s", oldText, newText)
	case EventTypeContractChange:
		return fmt.Sprintf("Contract updated: %s", change.Label)
	case EventTypeStatusChange:
		return fmt.Sprintf("Status changed: %s → %s", oldText, newText)
	default:
		return fmt.Sprintf("%s updated", change.Label)
	}
}

func percentDelta(oldValue, newValue *string) (float64, bool) {
	oldNum, okOld := parseNumericValue(oldValue)
	newNum, okNew := parseNumericValue(newValue)
	if !okOld || !okNew || oldNum == 0 {
		return 0, false
	}
	return (newNum - oldNum) / oldNum * 100, true
}

func parseNumericValue(value *string) (float64, bool) {
	if value == nil {
		return 0, false
	}
	// Canonical values keep strings quoted; strip quotes before parsing.
	text := *value
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return num, true
}

func valueOrNone(value *string) string {
	if value == nil {
		return "(none)"
	}
	text := *value
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	if text == "" {
		return "(none)"
	}
	return text
}
