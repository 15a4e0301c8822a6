package domain

import (
	"errors"
	"testing"
)

func TestValidateStateMapping(t *testing.T) {
	if err := ValidateStateMapping(); err != nil {
		t.Fatalf("expected every tracked field to map, got %v", err)
	}
}

func TestApplyStateFieldUnknownPath(t *testing.T) {
	var state ReconstructedState
	_, _, err := ApplyStateField(&state, "favourite_colour", "blue")
	if !errors.Is(err, ErrUnknownFieldPath) {
		t.Fatalf("expected ErrUnknownFieldPath, got %v", err)
	}
}

func TestApplyStateFieldReportsActualChange(t *testing.T) {
	var state ReconstructedState

	name, changed, err := ApplyStateField(&state, "hourly_wage", 16.28)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if name != "hour_wage_at_event" || !changed {
		t.Fatalf("expected hour_wage_at_event changed, got %s changed=%v", name, changed)
	}

	// Same value again: present in the diff, but not an actual change.
	_, changed, err = ApplyStateField(&state, "hourly_wage", 16.28)
	if err != nil {
		t.Fatalf("apply same: %v", err)
	}
	if changed {
		t.Fatalf("expected unchanged value not to report a change")
	}
}

func TestApplyStateFieldAcceptsCanonicalQuotedStrings(t *testing.T) {
	var state ReconstructedState

	// Timeline event data stores canonical JSON, so strings stay quoted
	// and numbers may arrive as strings.
	if _, _, err := ApplyStateField(&state, "first_name", `"Anna"`); err != nil {
		t.Fatalf("apply quoted string: %v", err)
	}
	if state.FirstNameAtEvent == nil || *state.FirstNameAtEvent != "Anna" {
		t.Fatalf("expected Anna, got %v", state.FirstNameAtEvent)
	}

	if _, _, err := ApplyStateField(&state, "hourly_wage", "17.37"); err != nil {
		t.Fatalf("apply numeric string: %v", err)
	}
	if state.HourWageAtEvent == nil || *state.HourWageAtEvent != 17.37 {
		t.Fatalf("expected 17.37, got %v", state.HourWageAtEvent)
	}
}

func TestApplyStateFieldLegacyAliases(t *testing.T) {
	var state ReconstructedState

	name, _, err := ApplyStateField(&state, "wage_per_hour", 15.0)
	if err != nil {
		t.Fatalf("apply alias: %v", err)
	}
	if name != "hour_wage_at_event" {
		t.Fatalf("expected alias to resolve to hour_wage_at_event, got %s", name)
	}
	if state.HourWageAtEvent == nil || *state.HourWageAtEvent != 15.0 {
		t.Fatalf("expected 15.0, got %v", state.HourWageAtEvent)
	}
}

func TestRecomputeDerived(t *testing.T) {
	monthWage := 2640.0
	state := ReconstructedState{MonthWageAtEvent: &monthWage}
	state.RecomputeDerived()

	if state.AnnualSalaryAtEvent == nil || *state.AnnualSalaryAtEvent != monthWage*12 {
		t.Fatalf("expected annual salary %v, got %v", monthWage*12, state.AnnualSalaryAtEvent)
	}
	if state.NetSalaryAtEvent == nil || *state.NetSalaryAtEvent != monthWage*(1-effectiveTaxRate) {
		t.Fatalf("expected net salary %v, got %v", monthWage*(1-effectiveTaxRate), state.NetSalaryAtEvent)
	}

	state.MonthWageAtEvent = nil
	state.RecomputeDerived()
	if state.AnnualSalaryAtEvent != nil || state.NetSalaryAtEvent != nil {
		t.Fatalf("expected derived fields cleared without month wage")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	wage := 16.28
	original := ReconstructedState{HourWageAtEvent: &wage, FieldsChanged: []string{"hour_wage_at_event"}}

	clone := original.Clone()
	*clone.HourWageAtEvent = 99.0
	clone.FieldsChanged[0] = "other"

	if *original.HourWageAtEvent != 16.28 {
		t.Fatalf("mutating the clone changed the original wage")
	}
	if original.FieldsChanged[0] != "hour_wage_at_event" {
		t.Fatalf("mutating the clone changed the original fields list")
	}
}
