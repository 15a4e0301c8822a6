package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPayloadHashStableUnderKeyReordering(t *testing.T) {
	a := map[string]any{
		"first_name": "Anna",
		"last_name":  "de Vries",
		"wages": map[string]any{
			"hourly_wage": 16.28,
			"month_wage":  2640.0,
		},
	}
	b := map[string]any{
		"wages": map[string]any{
			"month_wage":  2640.0,
			"hourly_wage": 16.28,
		},
		"last_name":  "de Vries",
		"first_name": "Anna",
	}

	hashA, err := PayloadHash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, err := PayloadHash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("expected equal hashes, got %s vs %s", hashA, hashB)
	}
}

func TestPayloadHashChangesWithValue(t *testing.T) {
	base := map[string]any{"hourly_wage": 16.28}
	changed := map[string]any{"hourly_wage": 17.37}

	hashBase, err := PayloadHash(base)
	if err != nil {
		t.Fatalf("hash base: %v", err)
	}
	hashChanged, err := PayloadHash(changed)
	if err != nil {
		t.Fatalf("hash changed: %v", err)
	}
	if hashBase == hashChanged {
		t.Fatalf("expected different hashes for different payloads")
	}
}

func TestNewSnapshotRecordUsesPayloadDate(t *testing.T) {
	payload := map[string]any{
		"hourly_wage":        16.28,
		"start_date_history": "2024-03-01",
	}

	snapshot, err := NewSnapshotRecord("emp-1", EndpointEmployment, payload, uuid.New())
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}

	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !snapshot.EffectiveFrom.Equal(want) {
		t.Fatalf("expected effective_from %s, got %s", want, snapshot.EffectiveFrom)
	}
	if !snapshot.IsLatest {
		t.Fatalf("expected new snapshot to be latest")
	}
}

func TestNewSnapshotRecordFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	snapshot, err := NewSnapshotRecord("emp-1", EndpointProfile, map[string]any{"first_name": "Anna"}, uuid.New())
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if snapshot.EffectiveFrom.Before(before) {
		t.Fatalf("expected effective_from to default to collection time")
	}
}

func TestCanonicalValueNormalizesMaps(t *testing.T) {
	a, err := CanonicalValue(map[string]any{"b": 2.0, "a": 1.0})
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	b, err := CanonicalValue(map[string]any{"a": 1.0, "b": 2.0})
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical canonical forms, got %q vs %q", a, b)
	}

	nullForm, err := CanonicalValue(nil)
	if err != nil {
		t.Fatalf("canonical nil: %v", err)
	}
	if nullForm != "null" {
		t.Fatalf("expected null, got %q", nullForm)
	}
}
