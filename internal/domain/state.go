package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownFieldPath is returned when a change references a field path the
// state mapping table does not know. The mapping is validated at startup so
// this surfaces in tests rather than silently dropping data.
var ErrUnknownFieldPath = errors.New("unknown state field path")

// effectiveTaxRate is the flat rate used for the net salary approximation.
const effectiveTaxRate = 0.37

// ReconstructedState is the complete denormalized employment state attributed
// to one timeline event: what was true for the employee as of that event.
// Produced only by the reconstructor, superseded (never mutated) on replay.
type ReconstructedState struct {
	ID         uuid.UUID
	EmployeeID string
	EventID    uuid.UUID

	FirstNameAtEvent        *string
	LastNameAtEvent         *string
	EmailAtEvent            *string
	PhoneAtEvent            *string
	HourWageAtEvent         *float64
	MonthWageAtEvent        *float64
	AnnualSalaryAtEvent     *float64
	NetSalaryAtEvent        *float64
	HoursPerWeekAtEvent     *float64
	DaysPerWeekAtEvent      *float64
	ContractTypeAtEvent     *string
	ContractStartAtEvent    *string
	ContractEndAtEvent      *string
	JobTitleAtEvent         *string
	DepartmentAtEvent       *string
	EmploymentStatusAtEvent *string

	FieldsChanged    []string
	ChangeSource     string
	StateVersion     int64
	ChangeConfidence float64
	CreatedAt        time.Time
}

// Clone returns a copy suitable for applying the next event on top of.
func (s ReconstructedState) Clone() ReconstructedState {
	out := s
	out.FirstNameAtEvent = cloneString(s.FirstNameAtEvent)
	out.LastNameAtEvent = cloneString(s.LastNameAtEvent)
	out.EmailAtEvent = cloneString(s.EmailAtEvent)
	out.PhoneAtEvent = cloneString(s.PhoneAtEvent)
	out.HourWageAtEvent = cloneFloat(s.HourWageAtEvent)
	out.MonthWageAtEvent = cloneFloat(s.MonthWageAtEvent)
	out.AnnualSalaryAtEvent = cloneFloat(s.AnnualSalaryAtEvent)
	out.NetSalaryAtEvent = cloneFloat(s.NetSalaryAtEvent)
	out.HoursPerWeekAtEvent = cloneFloat(s.HoursPerWeekAtEvent)
	out.DaysPerWeekAtEvent = cloneFloat(s.DaysPerWeekAtEvent)
	out.ContractTypeAtEvent = cloneString(s.ContractTypeAtEvent)
	out.ContractStartAtEvent = cloneString(s.ContractStartAtEvent)
	out.ContractEndAtEvent = cloneString(s.ContractEndAtEvent)
	out.JobTitleAtEvent = cloneString(s.JobTitleAtEvent)
	out.DepartmentAtEvent = cloneString(s.DepartmentAtEvent)
	out.EmploymentStatusAtEvent = cloneString(s.EmploymentStatusAtEvent)
	out.FieldsChanged = append([]string(nil), s.FieldsChanged...)
	return out
}

// RecomputeDerived refreshes the fields computed from other state fields:
// annual salary is exactly twelve monthly wages, net salary a flat-rate
// approximation of the same.
func (s *ReconstructedState) RecomputeDerived() {
	if s.MonthWageAtEvent == nil {
		s.AnnualSalaryAtEvent = nil
		s.NetSalaryAtEvent = nil
		return
	}
	annual := *s.MonthWageAtEvent * 12
	net := *s.MonthWageAtEvent * (1 - effectiveTaxRate)
	s.AnnualSalaryAtEvent = &annual
	s.NetSalaryAtEvent = &net
}

// stateFieldSetter applies one external value to its state field, reporting
// whether the stored value actually changed.
type stateFieldSetter struct {
	Name  string
	Apply func(state *ReconstructedState, value any) (bool, error)
}

// stateFieldMapping maps external field paths (including legacy aliases) onto
// state field setters. Built once; ValidateStateMapping checks it covers the
// tracked-field allow-list at startup.
var stateFieldMapping = buildStateFieldMapping()

func buildStateFieldMapping() map[string]stateFieldSetter {
	mapping := map[string]stateFieldSetter{
		"first_name":          stringSetter("first_name_at_event", func(s *ReconstructedState) **string { return &s.FirstNameAtEvent }),
		"last_name":           stringSetter("last_name_at_event", func(s *ReconstructedState) **string { return &s.LastNameAtEvent }),
		"email":               stringSetter("email_at_event", func(s *ReconstructedState) **string { return &s.EmailAtEvent }),
		"phone":               stringSetter("phone_at_event", func(s *ReconstructedState) **string { return &s.PhoneAtEvent }),
		"hourly_wage":         floatSetter("hour_wage_at_event", func(s *ReconstructedState) **float64 { return &s.HourWageAtEvent }),
		"month_wage":          floatSetter("month_wage_at_event", func(s *ReconstructedState) **float64 { return &s.MonthWageAtEvent }),
		"hours_per_week":      floatSetter("hours_per_week_at_event", func(s *ReconstructedState) **float64 { return &s.HoursPerWeekAtEvent }),
		"days_per_week":       floatSetter("days_per_week_at_event", func(s *ReconstructedState) **float64 { return &s.DaysPerWeekAtEvent }),
		"contract_type":       stringSetter("contract_type_at_event", func(s *ReconstructedState) **string { return &s.ContractTypeAtEvent }),
		"contract_start_date": stringSetter("contract_start_at_event", func(s *ReconstructedState) **string { return &s.ContractStartAtEvent }),
		"contract_end_date":   stringSetter("contract_end_at_event", func(s *ReconstructedState) **string { return &s.ContractEndAtEvent }),
		"job_title":           stringSetter("job_title_at_event", func(s *ReconstructedState) **string { return &s.JobTitleAtEvent }),
		"department":          stringSetter("department_at_event", func(s *ReconstructedState) **string { return &s.DepartmentAtEvent }),
		"employment_status":   stringSetter("employment_status_at_event", func(s *ReconstructedState) **string { return &s.EmploymentStatusAtEvent }),
	}

	// Legacy aliases seen in older payloads map onto the same setters.
	aliases := map[string]string{
		"wage_per_hour":  "hourly_wage",
		"wage_per_month": "month_wage",
		"salary_month":   "month_wage",
		"weekly_hours":   "hours_per_week",
		"function_name":  "job_title",
		"status":         "employment_status",
	}
	for alias, canonical := range aliases {
		mapping[alias] = mapping[canonical]
	}

	return mapping
}

// ApplyStateField routes one external field value into the state, returning
// the state field name and whether the value actually changed. Unknown paths
// fail loudly with ErrUnknownFieldPath.
func ApplyStateField(state *ReconstructedState, fieldPath string, value any) (string, bool, error) {
	setter, ok := stateFieldMapping[fieldPath]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownFieldPath, fieldPath)
	}
	changed, err := setter.Apply(state, value)
	if err != nil {
		return "", false, fmt.Errorf("apply %s: %w", fieldPath, err)
	}
	return setter.Name, changed, nil
}

// ValidateStateMapping checks every tracked field path resolves to a state
// field setter. Run at startup so unknown paths fail there, not mid-replay.
func ValidateStateMapping() error {
	for _, field := range TrackedFields() {
		if _, ok := stateFieldMapping[field.Path]; !ok {
			return fmt.Errorf("%w: tracked field %s has no state mapping", ErrUnknownFieldPath, field.Path)
		}
	}
	return nil
}

func stringSetter(name string, target func(*ReconstructedState) **string) stateFieldSetter {
	return stateFieldSetter{
		Name: name,
		Apply: func(state *ReconstructedState, value any) (bool, error) {
			text, err := coerceString(value)
			if err != nil {
				return false, err
			}
			slot := target(state)
			if text == nil {
				changed := *slot != nil
				*slot = nil
				return changed, nil
			}
			changed := *slot == nil || **slot != *text
			*slot = text
			return changed, nil
		},
	}
}

func floatSetter(name string, target func(*ReconstructedState) **float64) stateFieldSetter {
	return stateFieldSetter{
		Name: name,
		Apply: func(state *ReconstructedState, value any) (bool, error) {
			num, err := coerceFloat(value)
			if err != nil {
				return false, err
			}
			slot := target(state)
			if num == nil {
				changed := *slot != nil
				*slot = nil
				return changed, nil
			}
			changed := *slot == nil || **slot != *num
			*slot = num
			return changed, nil
		},
	}
}

func coerceString(value any) (*string, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case string:
		text := typed
		if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
			text = text[1 : len(text)-1]
		}
		if text == "" || text == "null" {
			return nil, nil
		}
		return &text, nil
	case float64:
		text := strconv.FormatFloat(typed, 'f', -1, 64)
		return &text, nil
	case json.Number:
		text := typed.String()
		return &text, nil
	case bool:
		text := strconv.FormatBool(typed)
		return &text, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to string", value)
	}
}

func coerceFloat(value any) (*float64, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case float64:
		num := typed
		return &num, nil
	case int:
		num := float64(typed)
		return &num, nil
	case json.Number:
		num, err := typed.Float64()
		if err != nil {
			return nil, err
		}
		return &num, nil
	case string:
		text := typed
		if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
			text = text[1 : len(text)-1]
		}
		if text == "" || text == "null" {
			return nil, nil
		}
		num, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q as number: %w", typed, err)
		}
		return &num, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to number", value)
	}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}
