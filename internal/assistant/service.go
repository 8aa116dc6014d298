package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/study-planner/internal/bulk"
	"github.com/ashureev/study-planner/internal/domain"
	"github.com/ashureev/study-planner/internal/intent"
	"github.com/ashureev/study-planner/internal/llm"
	"github.com/ashureev/study-planner/internal/store"
)

// Reply sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
	SourceAction   = "action"
	SourceOffer    = "offer"
	SourceClarify  = "clarify"
)

const (
	defaultEventHour     = 14
	defaultScheduleWeeks = 4
)

var (
	// ErrEmptyMessage is returned for a blank message without an explicit intent.
	ErrEmptyMessage = errors.New("message is required")
	// ErrMissingUser is returned when a request carries no user identity.
	ErrMissingUser = errors.New("user id is required")
	// ErrInvalidIntent is returned for an unknown explicit intent.
	ErrInvalidIntent = errors.New("invalid intent")
)

// ChatRequest is one user turn. Intent optionally forces the action, as the
// UI quick actions do.
type ChatRequest struct {
	Message   string `json:"message"`
	Intent    string `json:"intent,omitempty"`
	UserID    string `json:"-"`
	SessionID string `json:"-"`
	Channel   string `json:"-"`
}

// ChatResponse is the assistant's answer to a turn.
type ChatResponse struct {
	Reply    string                 `json:"reply"`
	Intent   intent.Intent          `json:"intent"`
	Source   string                 `json:"source"`
	Analysis Analysis               `json:"analysis"`
	Result   *bulk.Result           `json:"result,omitempty"`
	Pending  []domain.EventDraft    `json:"pending,omitempty"`
	Events   []domain.CalendarEvent `json:"events,omitempty"`
}

// Notifier provides per-session celebration callbacks.
type Notifier interface {
	CelebratorFor(userID, sessionID string) func(string)
}

// Config tunes the dispatcher.
type Config struct {
	// Location is the user-facing calendar timezone.
	Location *time.Location
	// DefaultHour is the start hour of events created from a bare day.
	DefaultHour int
	// ScheduleWeeks is the number of weekly occurrences create_schedule makes.
	ScheduleWeeks int
	// BulkOptions are appended to every batch orchestrator.
	BulkOptions []bulk.Option
}

// Service dispatches analysed messages to planner actions.
type Service struct {
	repo     store.Repository
	pipeline *Pipeline
	gen      llm.Generator
	notifier Notifier
	log      ConversationLogger
	metrics  *Metrics
	cfg      Config
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where batch celebrations are published.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithConversationLogger sets the NDJSON conversation log.
func WithConversationLogger(l ConversationLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the turn counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the dispatcher. A nil generator behaves as an
// unconfigured provider.
func NewService(repo store.Repository, pipeline *Pipeline, gen llm.Generator, cfg Config, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("assistant: repository is nil")
	}
	if pipeline == nil {
		pipeline = NewPipeline(nil, cfg.Location)
	}
	if gen == nil {
		gen = llm.Unavailable{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DefaultHour <= 0 || cfg.DefaultHour > 23 {
		cfg.DefaultHour = defaultEventHour
	}
	if cfg.ScheduleWeeks <= 0 {
		cfg.ScheduleWeeks = defaultScheduleWeeks
	}
	s := &Service{
		repo:     repo,
		pipeline: pipeline,
		gen:      gen,
		log:      noopConversationLogger{},
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Analyze runs the classification pipeline without acting on the result.
func (s *Service) Analyze(message string) Analysis {
	return s.pipeline.Analyze(message, s.now().In(s.cfg.Location))
}

// Chat handles one user turn.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" && req.Intent == "" {
		return nil, ErrEmptyMessage
	}
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	if req.Channel == "" {
		req.Channel = ChannelChatHTTP
	}
	now := s.now().In(s.cfg.Location)

	analysis := s.pipeline.Analyze(message, now)
	if req.Intent != "" {
		explicit, err := intent.Parse(req.Intent)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
		}
		analysis.Intent = explicit
	}

	events, err := s.repo.ListEvents(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	session, err := s.loadSession(ctx, req.UserID, req.SessionID, now)
	if err != nil {
		return nil, err
	}

	s.logMessage(req, "outbound", "chat_user_message", message, map[string]any{
		"intent":     analysis.Intent,
		"subject":    analysis.Subject,
		"date_label": analysis.DateContext.Label,
	})

	userEvents := store.NewUserEvents(s.repo, req.UserID)
	orchestrator, err := s.orchestrator(userEvents, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}

	t := &turn{
		message:    message,
		analysis:   analysis,
		events:     events,
		session:    session,
		now:        now,
		loc:        s.cfg.Location,
		userEvents: userEvents,
		bulk:       orchestrator,
	}
	resp, err := s.dispatch(ctx, t)
	if err != nil {
		s.logMessage(req, "inbound", "chat_error", err.Error(), map[string]any{"intent": analysis.Intent})
		return nil, err
	}
	// Handlers may reroute a turn, e.g. a create verb carrying a status word.
	resp.Intent = t.analysis.Intent
	resp.Analysis = t.analysis
	s.metrics.observe(resp)

	if resp.Intent != intent.CreateEvent && resp.Intent != intent.ScheduleEvent {
		// Only a direct confirmation may consume an offer.
		session.ClearPending()
	}
	s.saveSession(ctx, session, message, resp.Reply, now)

	meta := map[string]any{"intent": resp.Intent, "source": resp.Source}
	if resp.Result != nil {
		meta["success_count"] = resp.Result.SuccessCount
		meta["fail_count"] = resp.Result.FailCount
		meta["total"] = resp.Result.Total
	}
	s.logMessage(req, "inbound", "chat_assistant_message", resp.Reply, meta)
	return resp, nil
}

// History returns the stored transcript of a session.
func (s *Service) History(ctx context.Context, userID, sessionID string) ([]domain.StoredMessage, error) {
	session, err := s.repo.GetChatSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	return session.Messages()
}

// ResetSession forgets the transcript and pending offer of a session.
func (s *Service) ResetSession(ctx context.Context, userID, sessionID string) error {
	return s.repo.DeleteChatSession(ctx, userID, sessionID)
}

func (s *Service) orchestrator(events bulk.EventStore, userID, sessionID string) (*bulk.Orchestrator, error) {
	opts := []bulk.Option{
		bulk.WithLocation(s.cfg.Location),
		bulk.WithClock(s.now),
	}
	if s.notifier != nil {
		opts = append(opts, bulk.WithCelebrator(s.notifier.CelebratorFor(userID, sessionID)))
	}
	opts = append(opts, s.cfg.BulkOptions...)
	return bulk.New(events, opts...)
}

func (s *Service) loadSession(ctx context.Context, userID, sessionID string, now time.Time) (*domain.ChatSession, error) {
	session, err := s.repo.GetChatSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	if session == nil {
		session = &domain.ChatSession{
			UserID:    userID,
			SessionID: sessionID,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return session, nil
}

func (s *Service) saveSession(ctx context.Context, session *domain.ChatSession, message, reply string, now time.Time) {
	if err := session.AppendMessages(
		domain.StoredMessage{Role: "user", Content: message},
		domain.StoredMessage{Role: "assistant", Content: reply},
	); err != nil {
		slog.Warn("failed to append chat transcript", "error", err, "user_id", session.UserID)
		return
	}
	session.UpdatedAt = now
	if err := s.repo.UpsertChatSession(ctx, session); err != nil {
		slog.Warn("failed to persist chat session", "error", err, "user_id", session.UserID, "session_id", session.SessionID)
	}
}

func (s *Service) logMessage(req ChatRequest, direction, eventType, content string, meta map[string]any) {
	s.log.Log(ConversationLogEvent{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    req.Channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}
