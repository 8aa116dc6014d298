package assistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/study-planner/internal/identity"
	"github.com/ashureev/study-planner/internal/notify"
)

const wsWriteTimeout = 5 * time.Second

// WebSocketHandler serves the chat over a WebSocket at /ws/assistant.
// Celebrations for the session are pushed on the same connection.
type WebSocketHandler struct {
	svc           *Service
	hub           *notify.Hub
	sm            *SessionManager
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. hub may be nil.
func NewWebSocketHandler(svc *Service, hub *notify.Hub, sm *SessionManager, limiter *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:           svc,
		hub:           hub,
		sm:            sm,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is a client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Intent  string `json:"intent,omitempty"`
}

// wsFrame is a server frame.
type wsFrame struct {
	Type     string        `json:"type"`
	Content  string        `json:"content,omitempty"`
	EventID  int64         `json:"event_id,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.hub != nil {
		sub := h.hub.Subscribe(userID, sessionID, func(eventID int64, msg notify.Message) error {
			return h.writeJSON(ctx, ws, wsFrame{Type: msg.Type, Content: msg.Content, EventID: eventID})
		})
		defer h.hub.Unsubscribe(sub)
	}

	h.inputLoop(ctx, ws, userID, sessionID)
	slog.Info("Chat WebSocket ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.reply(ctx, ws, wsFrame{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "chat":
			h.handleChat(ctx, ws, userID, sessionID, msg)
		case "ping":
			h.reply(ctx, ws, wsFrame{Type: "pong"})
		default:
			h.reply(ctx, ws, wsFrame{Type: "error", Error: "unknown message type"})
		}

		// Update last seen asynchronously with timeout.
		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.svc.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}

func (h *WebSocketHandler) handleChat(ctx context.Context, ws *websocket.Conn, userID, sessionID string, msg wsMessage) {
	if h.limiter != nil && !h.limiter.Allow(userID) {
		h.reply(ctx, ws, wsFrame{Type: "error", Error: "rate limit exceeded"})
		return
	}
	resp, err := h.svc.Chat(ctx, ChatRequest{
		Message:   msg.Content,
		Intent:    msg.Intent,
		UserID:    userID,
		SessionID: sessionID,
		Channel:   ChannelChatWS,
	})
	if err != nil {
		_, text := chatErrorStatus(err)
		slog.Warn("Chat turn failed", "error", err, "user_id", userID, "session_id", sessionID)
		h.reply(ctx, ws, wsFrame{Type: "error", Error: text})
		return
	}
	h.reply(ctx, ws, wsFrame{Type: "reply", Content: resp.Reply, Response: resp})
}

func (h *WebSocketHandler) reply(ctx context.Context, ws *websocket.Conn, frame wsFrame) {
	if err := h.writeJSON(ctx, ws, frame); err != nil {
		slog.Debug("Failed to send frame", "type", frame.Type, "error", err)
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
