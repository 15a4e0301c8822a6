package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Endpoint identifies a logical data source for an employee, not a network
// detail. Each endpoint contributes a disjoint subset of tracked fields.
type Endpoint string

const (
	// EndpointProfile supplies personal fields (name, email, phone).
	EndpointProfile Endpoint = "profile"
	// EndpointEmployment supplies contract, wage and schedule fields.
	EndpointEmployment Endpoint = "employment"
)

// Endpoints lists every configured data source in collection order.
func Endpoints() []Endpoint {
	return []Endpoint{EndpointProfile, EndpointEmployment}
}

// SnapshotRecord is one ingested point-in-time payload for one employee from
// one endpoint. Rows are append-only: a superseded row is closed
// (IsLatest=false, EffectiveTo set), never deleted.
type SnapshotRecord struct {
	ID              uuid.UUID
	EmployeeID      string
	Endpoint        Endpoint
	Payload         map[string]any
	ContentHash     string
	CollectedAt     time.Time
	LastVerifiedAt  time.Time
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
	IsLatest        bool
	ConfidenceScore float64
	IsPartial       bool
	ErrorMessage    *string
	SyncSessionID   uuid.UUID
}

// NewSnapshotRecord builds an open-ended latest snapshot for the given
// employee/endpoint. EffectiveFrom is taken from the payload when it carries a
// parseable domain date, otherwise the collection time.
func NewSnapshotRecord(employeeID string, endpoint Endpoint, payload map[string]any, sessionID uuid.UUID) (SnapshotRecord, error) {
	hash, err := PayloadHash(payload)
	if err != nil {
		return SnapshotRecord{}, err
	}

	now := time.Now().UTC()
	effectiveFrom := now
	if ts, ok := payloadEffectiveDate(payload); ok {
		effectiveFrom = ts
	}

	return SnapshotRecord{
		ID:              uuid.New(),
		EmployeeID:      employeeID,
		Endpoint:        endpoint,
		Payload:         payload,
		ContentHash:     hash,
		CollectedAt:     now,
		LastVerifiedAt:  now,
		EffectiveFrom:   effectiveFrom,
		IsLatest:        true,
		ConfidenceScore: 1.0,
		SyncSessionID:   sessionID,
	}, nil
}

// PayloadHash returns the SHA-256 hex digest of the RFC 8785 canonical JSON
// form of the payload. Byte-identical and key-reordered payloads hash equal,
// which is what makes re-ingestion a no-op.
func PayloadHash(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalValue renders one payload value in its canonical JSON form so that
// equality checks are stable across map ordering and numeric formatting.
func CanonicalValue(value any) (string, error) {
	if value == nil {
		return "null", nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize value: %w", err)
	}
	return string(canonical), nil
}

// effectiveDateKeys are probed in order when deriving EffectiveFrom from a
// payload. External payloads are inconsistent about which one they carry.
var effectiveDateKeys = []string{"start_date_history", "modified_at", "effective_date"}

var effectiveDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func payloadEffectiveDate(payload map[string]any) (time.Time, bool) {
	for _, key := range effectiveDateKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		text, ok := raw.(string)
		if !ok || text == "" {
			continue
		}
		for _, layout := range effectiveDateLayouts {
			if ts, err := time.Parse(layout, text); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// GetPayloadAsJSONB serializes the payload for storage.
func (s *SnapshotRecord) GetPayloadAsJSONB() (json.RawMessage, error) {
	if s.Payload == nil {
		s.Payload = make(map[string]any)
	}
	return json.Marshal(s.Payload)
}

// FromJSONBPayload decodes a stored payload column.
func FromJSONBPayload(payloadJSON json.RawMessage) (map[string]any, error) {
	var payload map[string]any
	err := json.Unmarshal(payloadJSON, &payload)
	return payload, err
}
