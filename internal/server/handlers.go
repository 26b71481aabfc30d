package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/service"
	"github.com/scrypster/mneme/internal/storage"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Event is one message broadcast to WebSocket clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Handlers contains the HTTP handlers for the memory API.
type Handlers struct {
	svc    *service.Service
	config *config.Config
	hub    *WebSocketHub
}

// NewHandlers creates a Handlers instance.
func NewHandlers(svc *service.Service, cfg *config.Config, hub *WebSocketHub) *Handlers {
	return &Handlers{svc: svc, config: cfg, hub: hub}
}

// StartSession handles POST /api/sessions.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entity_id"`
		Name     string `json:"name"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sessionID, err := h.svc.StartSession(r.Context(), req.EntityID, req.Name, req.Platform)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to start session", err)
		return
	}

	h.hub.Broadcast(Event{Type: "session_started", Data: map[string]string{"session_id": sessionID}})
	respondJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

// EndSession handles POST /api/sessions/end. The active session is
// closed and its consolidation summary returned.
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.EndSession(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrNoSession) {
			respondError(w, http.StatusConflict, "no active session", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to end session", err)
		return
	}

	h.hub.Broadcast(Event{Type: "session_ended", Data: entry})
	respondJSON(w, http.StatusOK, entry)
}

// ProcessTurn handles POST /api/turns - record one user/assistant exchange.
func (h *Handlers) ProcessTurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User      string `json:"user"`
		Assistant string `json:"assistant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.svc.ProcessTurn(r.Context(), req.User, req.Assistant); err != nil {
		if errors.Is(err, service.ErrNoSession) {
			respondError(w, http.StatusConflict, "no active session", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to process turn", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleInterrupt handles POST /api/interrupt - truncate the last
// assistant message to what was actually heard.
func (h *Handlers) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Heard string `json:"heard"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	h.svc.HandleInterrupt(req.Heard)
	w.WriteHeader(http.StatusNoContent)
}

// BuildContext handles POST /api/context - assemble the LLM context for
// the next response.
func (h *Handlers) BuildContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query        string `json:"query"`
		BudgetTokens int    `json:"budget_tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out, err := h.svc.BuildContext(r.Context(), req.Query, req.BudgetTokens)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build context", err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// ListMemories handles GET /api/memories.
func (h *Handlers) ListMemories(w http.ResponseWriter, r *http.Request) {
	memories, err := h.svc.GetAllMemories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list memories", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"total":    len(memories),
	})
}

// CreateMemory handles POST /api/memories - store one memory directly.
func (h *Handlers) CreateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string  `json:"content"`
		Type       string  `json:"type"`
		Importance float64 `json:"importance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	id, err := h.svc.AddMemory(r.Context(), req.Content, req.Type, req.Importance)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid memory", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to store memory", err)
		return
	}

	h.hub.Broadcast(Event{Type: "memory_created", Data: map[string]string{"id": id}})
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// SearchMemories handles GET /api/search?q=...&top_k=N.
func (h *Handlers) SearchMemories(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required", nil)
		return
	}
	topK := parseInt(r.URL.Query().Get("top_k"), h.config.Retrieval.TopK)

	results, err := h.svc.SearchMemories(r.Context(), query, topK)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "search failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
		"query":   query,
	})
}

// DeleteMemory handles DELETE /api/memories/{id}.
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if !h.config.Server.AllowDeletes {
		respondError(w, http.StatusForbidden, "deletes are disabled", nil)
		return
	}

	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	if err := h.svc.DeleteMemory(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete memory", err)
		return
	}

	h.hub.Broadcast(Event{Type: "memory_deleted", Data: map[string]string{"id": id}})
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllMemories handles DELETE /api/memories.
func (h *Handlers) DeleteAllMemories(w http.ResponseWriter, r *http.Request) {
	if !h.config.Server.AllowDeletes {
		respondError(w, http.StatusForbidden, "deletes are disabled", nil)
		return
	}

	deleted, err := h.svc.DeleteAllMemories(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete memories", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// CreateRule handles POST /api/rules - store one learned behavior rule.
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuleType   string  `json:"rule_type"`
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	id, err := h.svc.AddRule(r.Context(), req.RuleType, req.Content, req.Confidence)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid rule", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to store rule", err)
		return
	}

	h.hub.Broadcast(Event{Type: "rule_created", Data: map[string]string{"id": id}})
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// RecordStreamEvent handles POST /api/stream/events.
func (h *Handlers) RecordStreamEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType   string `json:"event_type"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.EventType == "" {
		respondError(w, http.StatusBadRequest, "event_type is required", nil)
		return
	}

	h.svc.AddStreamEvent(req.EventType, req.Description)
	h.hub.Broadcast(Event{Type: "stream_event", Data: req})
	w.WriteHeader(http.StatusNoContent)
}

// RecordSentiment handles POST /api/sentiment.
func (h *Handlers) RecordSentiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sentiment   float64 `json:"sentiment"`
		TriggerText string  `json:"trigger_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Sentiment < -1.0 || req.Sentiment > 1.0 {
		respondError(w, http.StatusBadRequest, "sentiment must be in [-1.0, 1.0]", nil)
		return
	}

	if err := h.svc.RecordSentiment(r.Context(), req.Sentiment, req.TriggerText); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record sentiment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// extractID extracts a path parameter using Go 1.22+ path value support.
func extractID(r *http.Request, key string) string {
	return r.PathValue(key)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; log and move on.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
