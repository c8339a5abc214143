// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/evanschultz/cadence/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service common.EngineService
	mux     *http.ServeMux
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter over the engine service.
func NewHandler(service common.EngineService) *Handler {
	h := &Handler{service: service, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /campaigns", h.handleListCampaigns)
	h.mux.HandleFunc("POST /campaigns", h.handleCreateCampaign)
	h.mux.HandleFunc("GET /campaigns/{id}", h.handleGetCampaign)
	h.mux.HandleFunc("GET /campaigns/{id}/phases", h.handleListPhases)
	h.mux.HandleFunc("POST /campaigns/{id}/phases", h.handleCreatePhase)
	h.mux.HandleFunc("GET /campaigns/{id}/items", h.handleListWorkItems)
	h.mux.HandleFunc("POST /campaigns/{id}/items", h.handleCreateWorkItem)
	h.mux.HandleFunc("GET /campaigns/{id}/events", h.handleListChangeEvents)
	h.mux.HandleFunc("GET /campaigns/{id}/drift", h.handleDriftBoard)
	h.mux.HandleFunc("GET /campaigns/{id}/health", h.handleOperationalHealth)
	h.mux.HandleFunc("POST /campaigns/{id}/risk", h.handleAssessRisk)
	h.mux.HandleFunc("POST /campaigns/{id}/overrides", h.handleRecordOverride)
	h.mux.HandleFunc("GET /campaigns/{id}/reports", h.handleListReports)
	h.mux.HandleFunc("POST /campaigns/{id}/reports", h.handleRecordReport)
	h.mux.HandleFunc("POST /campaigns/{id}/correlations", h.handleAnalyzeCorrelations)

	h.mux.HandleFunc("POST /phases/{id}/start", h.handleStartPhase)
	h.mux.HandleFunc("POST /phases/{id}/complete", h.handleCompletePhase)
	h.mux.HandleFunc("GET /phases/{id}/projected_drift", h.handleProjectedDrift)

	h.mux.HandleFunc("POST /items/{id}/move", h.handleMoveWorkItem)
	h.mux.HandleFunc("POST /items/{id}/status", h.handleSetWorkItemStatus)
	h.mux.HandleFunc("GET /items/{id}/history", h.handlePhaseHistory)

	h.mux.HandleFunc("POST /overrides/{id}/reconcile", h.handleReconcileOverride)

	h.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	})
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "engine service is not configured",
		})
		return
	}
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}
	if len(r.URL.Path) > 1 {
		r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
	}
	h.mux.ServeHTTP(w, r)
}

// handleListCampaigns serves GET `/campaigns`.
func (h *Handler) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.service.ListCampaigns(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

// handleCreateCampaign serves POST `/campaigns`.
func (h *Handler) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req common.CreateCampaignRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	campaign, err := h.service.CreateCampaign(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

// handleGetCampaign serves GET `/campaigns/{id}`.
func (h *Handler) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.service.GetCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// handleListPhases serves GET `/campaigns/{id}/phases`.
func (h *Handler) handleListPhases(w http.ResponseWriter, r *http.Request) {
	phases, err := h.service.ListPhases(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"phases": phases})
}

// handleCreatePhase serves POST `/campaigns/{id}/phases`.
func (h *Handler) handleCreatePhase(w http.ResponseWriter, r *http.Request) {
	var req common.CreatePhaseRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.CampaignID = r.PathValue("id")
	phase, err := h.service.CreatePhase(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, phase)
}

// handleStartPhase serves POST `/phases/{id}/start`.
func (h *Handler) handleStartPhase(w http.ResponseWriter, r *http.Request) {
	phase, err := h.service.StartPhase(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phase)
}

// handleCompletePhase serves POST `/phases/{id}/complete`.
func (h *Handler) handleCompletePhase(w http.ResponseWriter, r *http.Request) {
	var req common.CompletePhaseRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.PhaseID = r.PathValue("id")
	result, err := h.service.CompletePhase(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleProjectedDrift serves GET `/phases/{id}/projected_drift`.
func (h *Handler) handleProjectedDrift(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ProjectedDrift(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListWorkItems serves GET `/campaigns/{id}/items`.
func (h *Handler) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListWorkItems(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleCreateWorkItem serves POST `/campaigns/{id}/items`.
func (h *Handler) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req common.CreateWorkItemRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.CampaignID = r.PathValue("id")
	item, err := h.service.CreateWorkItem(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleMoveWorkItem serves POST `/items/{id}/move`.
func (h *Handler) handleMoveWorkItem(w http.ResponseWriter, r *http.Request) {
	var req common.MoveWorkItemRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ItemID = r.PathValue("id")
	item, err := h.service.MoveWorkItem(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleSetWorkItemStatus serves POST `/items/{id}/status`.
func (h *Handler) handleSetWorkItemStatus(w http.ResponseWriter, r *http.Request) {
	var req common.SetWorkItemStatusRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.ItemID = r.PathValue("id")
	item, err := h.service.SetWorkItemStatus(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handlePhaseHistory serves GET `/items/{id}/history`.
func (h *Handler) handlePhaseHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.ListPhaseHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// handleListChangeEvents serves GET `/campaigns/{id}/events`.
func (h *Handler) handleListChangeEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    "invalid_request",
				Message: "limit must be a non-negative integer",
			})
			return
		}
		limit = parsed
	}
	events, err := h.service.ListChangeEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleDriftBoard serves GET `/campaigns/{id}/drift`.
func (h *Handler) handleDriftBoard(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.DriftBoard(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// handleOperationalHealth serves GET `/campaigns/{id}/health`.
func (h *Handler) handleOperationalHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.OperationalHealth(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// handleAssessRisk serves POST `/campaigns/{id}/risk`.
func (h *Handler) handleAssessRisk(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.service.AssessRisk(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assessment)
}

// handleRecordOverride serves POST `/campaigns/{id}/overrides`.
func (h *Handler) handleRecordOverride(w http.ResponseWriter, r *http.Request) {
	var req common.RecordOverrideRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.CampaignID = r.PathValue("id")
	override, err := h.service.RecordOverride(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, override)
}

// handleReconcileOverride serves POST `/overrides/{id}/reconcile`.
func (h *Handler) handleReconcileOverride(w http.ResponseWriter, r *http.Request) {
	var req common.ReconcileOverrideRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.OverrideID = r.PathValue("id")
	override, err := h.service.ReconcileOverride(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, override)
}

// handleListReports serves GET `/campaigns/{id}/reports`.
func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.ListReports(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// handleRecordReport serves POST `/campaigns/{id}/reports`.
func (h *Handler) handleRecordReport(w http.ResponseWriter, r *http.Request) {
	var req common.RecordReportRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.CampaignID = r.PathValue("id")
	report, err := h.service.RecordReport(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// handleAnalyzeCorrelations serves POST `/campaigns/{id}/correlations`.
func (h *Handler) handleAnalyzeCorrelations(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.AnalyzeCorrelations(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrConflict):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "conflict",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
