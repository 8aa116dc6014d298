package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/study-planner/internal/identity"
)

const (
	defaultKeepalive  = 10 * time.Second
	defaultRetryDelay = 5 * time.Second
)

// StreamHandler serves the notification stream as Server-Sent Events.
type StreamHandler struct {
	hub       *Hub
	keepalive time.Duration
	retry     time.Duration
	logger    *slog.Logger
}

// NewStreamHandler creates an SSE handler. Zero durations fall back to
// defaults.
func NewStreamHandler(hub *Hub, keepalive, retry time.Duration, logger *slog.Logger) *StreamHandler {
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	if retry <= 0 {
		retry = defaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{hub: hub, keepalive: keepalive, retry: retry, logger: logger}
}

// ServeHTTP handles GET /api/assistant/stream. A reconnecting client sends
// Last-Event-ID (or ?lastEventId=) and receives the messages it missed.
//
//nolint:gocyclo // SSE lifecycle handling keeps its branches together.
func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil && parsed > 0 {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", s.retry.Milliseconds())); err != nil {
		s.logger.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	sub := s.hub.Subscribe(userID, sessionID, func(eventID int64, msg Message) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		if err := writeSSEWithID(w, eventID, "message", string(data)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	defer func() {
		s.hub.Unsubscribe(sub)
		s.logger.Info("SSE connection closed", "user_id", userID, "session_id", sessionID, "sub_id", sub.ID)
	}()

	if lastEventID > 0 {
		if n := s.hub.Replay(sub, lastEventID); n > 0 {
			s.logger.Info("Sent missed notifications", "user_id", userID, "session_id", sessionID, "count", n)
		}
	}

	connected := fmt.Sprintf(`{"status":"connected","user_id":%q,"last_event_id":%d}`, userID, sub.LastEventID())
	if err := sub.Do(func() error {
		if err := writeSSE(w, "connected", connected); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}); err != nil {
		s.logger.Warn("failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}

	s.logger.Info("SSE connection established",
		"user_id", userID,
		"session_id", sessionID,
		"reconnect", lastEventID > 0,
	)

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-keepalive.C:
			if err := sub.Do(func() error {
				if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
					return err
				}
				flusher.Flush()
				return nil
			}); err != nil {
				s.logger.Warn("failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
