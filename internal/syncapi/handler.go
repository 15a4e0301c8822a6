// Package syncapi exposes the operator-facing trigger endpoints for the sync
// pipeline.
package syncapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/staffsync/internal/collector"
	"github.com/rpattn/staffsync/internal/domain"
	"github.com/rpattn/staffsync/internal/matcher"
	"github.com/rpattn/staffsync/internal/reconstructor"
	"github.com/rpattn/staffsync/internal/repository"
)

// Handler routes the trigger interface: collection, reconstruction, matching
// and run-log inspection.
type Handler struct {
	collector     *collector.Service
	reconstructor *reconstructor.Service
	matcher       *matcher.Service
	snapshots     repository.SnapshotRepository
	runs          repository.RunRepository
}

// NewHandler wires the trigger endpoints.
func NewHandler(
	collectorService *collector.Service,
	reconstructorService *reconstructor.Service,
	matcherService *matcher.Service,
	snapshots repository.SnapshotRepository,
	runs repository.RunRepository,
) http.Handler {
	return &Handler{
		collector:     collectorService,
		reconstructor: reconstructorService,
		matcher:       matcherService,
		snapshots:     snapshots,
		runs:          runs,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/collect"):
		h.handleCollect(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/reconstruct"):
		h.handleReconstruct(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/match"):
		h.handleMatch(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/sessions"):
		h.handleListSessions(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/runs"):
		h.handleListRuns(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type collectPayload struct {
	Mode        string   `json:"mode"`
	EmployeeIDs []string `json:"employee_ids"`
	BatchSize   int      `json:"batch_size"`
	DryRun      bool     `json:"dry_run"`
}

type reconstructPayload struct {
	Mode       string `json:"mode"`
	EmployeeID string `json:"employee_id"`
	EventID    string `json:"event_id"`
	BatchSize  int    `json:"batch_size"`
	DryRun     bool   `json:"dry_run"`
}

type matchPayload struct {
	DryRun bool `json:"dry_run"`
}

type triggerResponse struct {
	Success bool   `json:"success"`
	Mode    string `json:"mode"`
	DryRun  bool   `json:"dry_run"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	var payload collectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.collector.Run(r.Context(), collector.Request{
		Mode:        collector.Mode(payload.Mode),
		EmployeeIDs: payload.EmployeeIDs,
		BatchSize:   payload.BatchSize,
		DryRun:      payload.DryRun,
	})
	if err != nil {
		writeTriggerError(w, payload.Mode, payload.DryRun, err)
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse{
		Success: true,
		Mode:    payload.Mode,
		DryRun:  payload.DryRun,
		Result: map[string]any{
			"session_id":   session.ID,
			"total":        session.Total,
			"successful":   session.Successful,
			"failed":       session.Failed,
			"errors":       session.Errors,
			"success_rate": session.SuccessRate(),
		},
	})
}

func (h *Handler) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	var payload reconstructPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req := reconstructor.Request{
		Mode:       reconstructor.Mode(payload.Mode),
		EmployeeID: payload.EmployeeID,
		BatchSize:  payload.BatchSize,
		DryRun:     payload.DryRun,
	}
	if payload.EventID != "" {
		eventID, err := uuid.Parse(payload.EventID)
		if err != nil {
			http.Error(w, "invalid event_id", http.StatusBadRequest)
			return
		}
		req.EventID = eventID
	}

	result, err := h.reconstructor.Run(r.Context(), req)
	if err != nil {
		writeTriggerError(w, payload.Mode, payload.DryRun, err)
		return
	}

	writeJSON(w, http.StatusOK, triggerResponse{
		Success: true,
		Mode:    payload.Mode,
		DryRun:  payload.DryRun,
		Result: map[string]any{
			"events_processed":    result.EventsProcessed,
			"successful":          result.Successful,
			"failed":              result.Failed,
			"employees_completed": result.EmployeesCompleted,
			"errors":              result.Errors,
			"success_rate":        result.SuccessRate(),
		},
	})
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	var payload matchPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	matches, err := h.computeMatches(r.Context())
	if err != nil {
		writeTriggerError(w, "match", payload.DryRun, err)
		return
	}

	if r.URL.Query().Get("report") == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="reconciliation.xlsx"`)
		if err := matcher.WriteReport(w, matches); err != nil {
			log.Printf("syncapi: write reconciliation report: %v", err)
		}
		return
	}

	syncRequired := 0
	conflicted := 0
	for _, match := range matches {
		if match.SyncRequired {
			syncRequired++
		}
		if len(match.Conflicts) > 0 {
			conflicted++
		}
	}

	writeJSON(w, http.StatusOK, triggerResponse{
		Success: true,
		Mode:    "match",
		DryRun:  payload.DryRun,
		Result: map[string]any{
			"total":         len(matches),
			"sync_required": syncRequired,
			"conflicted":    conflicted,
			"matches":       matchViews(matches),
		},
	})
}

func (h *Handler) computeMatches(ctx context.Context) ([]domain.EmployeeMatch, error) {
	profiles, err := h.snapshots.LatestProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest profiles: %w", err)
	}

	externals := make([]domain.EmployeeRecord, len(profiles))
	for i, profile := range profiles {
		externals[i] = domain.EmployeeRecordFromPayload(profile.EmployeeID, profile.Payload)
	}
	return h.matcher.MatchAll(ctx, externals)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.runs.ListSessions(r.Context(), parseLimit(r))
	if err != nil {
		writeTriggerError(w, "sessions", false, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessionViews(sessions)})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns(r.Context(), parseLimit(r))
	if err != nil {
		writeTriggerError(w, "runs", false, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runViews(runs)})
}

type matchView struct {
	PayrollID    string   `json:"payroll_id"`
	ExternalName string   `json:"external_name"`
	MatchType    string   `json:"match_type"`
	Confidence   int      `json:"confidence"`
	InternalID   *string  `json:"internal_id,omitempty"`
	SyncRequired bool     `json:"sync_required"`
	Conflicts    []string `json:"conflicts"`
}

func matchViews(matches []domain.EmployeeMatch) []matchView {
	views := make([]matchView, len(matches))
	for i, match := range matches {
		view := matchView{
			PayrollID:    match.External.PayrollID,
			ExternalName: match.External.FullName(),
			MatchType:    string(match.MatchType),
			Confidence:   match.Confidence,
			SyncRequired: match.SyncRequired,
			Conflicts:    match.Conflicts,
		}
		if view.Conflicts == nil {
			view.Conflicts = []string{}
		}
		if match.Internal != nil {
			id := match.Internal.ID.String()
			view.InternalID = &id
		}
		views[i] = view
	}
	return views
}

func sessionViews(sessions []domain.SyncSession) []map[string]any {
	views := make([]map[string]any, len(sessions))
	for i, session := range sessions {
		views[i] = map[string]any{
			"id":           session.ID,
			"mode":         session.Mode,
			"started_at":   session.StartedAt,
			"finished_at":  session.FinishedAt,
			"status":       session.Status,
			"total":        session.Total,
			"successful":   session.Successful,
			"failed":       session.Failed,
			"success_rate": session.SuccessRate(),
		}
	}
	return views
}

func runViews(runs []domain.ReconstructionRun) []map[string]any {
	views := make([]map[string]any, len(runs))
	for i, run := range runs {
		views[i] = map[string]any{
			"id":               run.ID,
			"mode":             run.Mode,
			"started_at":       run.StartedAt,
			"finished_at":      run.FinishedAt,
			"status":           run.Status,
			"events_processed": run.EventsProcessed,
			"successful":       run.Successful,
			"failed":           run.Failed,
			"success_rate":     run.SuccessRate(),
		}
	}
	return views
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	var limit int
	if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
		return 0
	}
	return limit
}

func writeTriggerError(w http.ResponseWriter, mode string, dryRun bool, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, collector.ErrUnknownMode) || errors.Is(err, reconstructor.ErrUnknownMode) {
		status = http.StatusBadRequest
	}
	log.Printf("syncapi: %s failed: %v", mode, err)
	writeJSON(w, status, triggerResponse{
		Success: false,
		Mode:    mode,
		DryRun:  dryRun,
		Error:   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("syncapi: encode response: %v", err)
	}
}
