package assistant

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/study-planner/internal/identity"
	"github.com/ashureev/study-planner/internal/llm"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the assistant HTTP endpoints.
type Handler struct {
	svc     *Service
	limiter *RateLimiter
	stream  http.Handler
	maxBody int64
}

// NewHandler creates the HTTP handler. stream, when non-nil, is mounted at
// /api/assistant/stream.
func NewHandler(svc *Service, limiter *RateLimiter, stream http.Handler, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	return &Handler{svc: svc, limiter: limiter, stream: stream, maxBody: maxBody}
}

// RegisterRoutes registers assistant routes (requires identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assistant", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/analyze", h.HandleAnalyze)
		r.Get("/history", h.HandleHistory)
		r.Delete("/session", h.HandleReset)
		if h.stream != nil {
			r.Get("/stream", h.stream.ServeHTTP)
		}
	})
}

// HandleChat handles POST /api/assistant/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	// Rate-limit by userID only so clients cannot bypass throttling by
	// rotating session IDs.
	if h.limiter != nil && !h.limiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.UserID = userID
	req.SessionID = sessionID
	req.Channel = ChannelChatHTTP

	resp, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		status, msg := chatErrorStatus(err)
		slog.Warn("Chat turn failed",
			"error", err,
			"user_id", userID,
			"session_id", sessionID,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"ip", identity.IPFromRequest(r),
		)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAnalyze handles POST /api/assistant/analyze. It classifies a message
// without acting on it.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if identity.UserIDFromContext(r.Context()) == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Analyze(req.Message))
}

// HandleHistory handles GET /api/assistant/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	messages, err := h.svc.History(r.Context(), userID, identity.SessionIDFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to load chat history", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// HandleReset handles DELETE /api/assistant/session.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if err := h.svc.ResetSession(r.Context(), userID, identity.SessionIDFromContext(r.Context())); err != nil {
		slog.Error("Failed to reset chat session", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, ErrInvalidIntent):
		return http.StatusBadRequest, "invalid intent"
	case errors.Is(err, llm.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "assistant is unavailable"
	case errors.Is(err, llm.ErrEmptyReply):
		return http.StatusBadGateway, "assistant returned an empty reply"
	default:
		return http.StatusInternalServerError, "failed to process message"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
