package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/study-planner/internal/bulk"
	"github.com/ashureev/study-planner/internal/calendar"
	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
	"github.com/ashureev/study-planner/internal/identity"
	"github.com/ashureev/study-planner/internal/store"
)

const (
	defaultImportHorizon = 180 * 24 * time.Hour
	defaultMaxBodySize   = 1 << 20
	exportCalendarName   = "Planner de estudos"
)

// Celebrations provides per-session celebration callbacks for imports.
type Celebrations interface {
	CelebratorFor(userID, sessionID string) func(string)
}

// EventsConfig tunes the events endpoints.
type EventsConfig struct {
	// ImportHorizon bounds how far ahead recurring ICS events are expanded.
	ImportHorizon time.Duration
	// MaxBodySize caps JSON and ICS request bodies.
	MaxBodySize int64
	// BulkOptions are applied to the import batch.
	BulkOptions []bulk.Option
}

// EventsHandler serves calendar event CRUD and ICS exchange.
type EventsHandler struct {
	*Handler
	cfg          EventsConfig
	celebrations Celebrations
}

// NewEventsHandler creates the events handler. celebrations may be nil.
func NewEventsHandler(base *Handler, cfg EventsConfig, celebrations Celebrations) *EventsHandler {
	if cfg.ImportHorizon <= 0 {
		cfg.ImportHorizon = defaultImportHorizon
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	return &EventsHandler{Handler: base, cfg: cfg, celebrations: celebrations}
}

// RegisterRoutes registers event routes (requires identity middleware).
func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/events", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/export.ics", h.Export)
		r.Post("/import", h.Import)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// List returns the user's events. Optional from/to query parameters
// (RFC 3339 or YYYY-MM-DD) bound the start time; subject filters by subject.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	rng, err := h.parseRange(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var events []domain.CalendarEvent
	if rng != nil {
		events, err = h.repo.ListEventsBetween(r.Context(), userID, rng.Start, rng.End)
	} else {
		events, err = h.repo.ListEvents(r.Context(), userID)
	}
	if err != nil {
		slog.Error("Failed to list events", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if subject := r.URL.Query().Get("subject"); subject != "" {
		events = calendar.BySubject(events, subject)
	}
	if events == nil {
		events = []domain.CalendarEvent{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// Create adds one event from a JSON draft.
func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var draft domain.EventDraft
	if !h.decode(w, r, &draft) {
		return
	}
	if draft.Start.IsZero() {
		Error(w, http.StatusBadRequest, "start is required")
		return
	}

	e, err := store.NewUserEvents(h.repo, userID).Create(r.Context(), draft)
	if err != nil {
		h.writeEventErr(w, "create", userID, err)
		return
	}
	JSON(w, http.StatusCreated, e)
}

// Update applies a JSON patch to one event.
func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var patch domain.EventPatch
	if !h.decode(w, r, &patch) {
		return
	}
	if patch.IsEmpty() {
		Error(w, http.StatusBadRequest, "patch changes nothing")
		return
	}

	e, err := store.NewUserEvents(h.repo, userID).Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeEventErr(w, "update", userID, err)
		return
	}
	JSON(w, http.StatusOK, e)
}

// Delete removes one event.
func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := store.NewUserEvents(h.repo, userID).DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeEventErr(w, "delete", userID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export writes the user's events as an iCalendar attachment.
func (h *EventsHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	events, err := h.repo.ListEvents(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list events for export", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to export events")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="planner.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(calendar.ExportICS(exportCalendarName, events, h.now()))); err != nil {
		slog.Debug("Failed to write ICS export", "error", err, "user_id", userID)
	}
}

// Import creates events from an iCalendar body. Recurring events are
// expanded from today up to the import horizon.
func (h *EventsHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())

	today := datecontext.StartOfDay(h.now().In(h.loc))
	parsed, err := calendar.ImportICS(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize), calendar.ImportOptions{
		Window:   datecontext.Range{Start: today, End: today.Add(h.cfg.ImportHorizon)},
		Location: h.loc,
	})
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, fmt.Sprintf("invalid calendar: %v", err))
		return
	}

	opts := []bulk.Option{bulk.WithLocation(h.loc), bulk.WithClock(h.now)}
	if h.celebrations != nil {
		opts = append(opts, bulk.WithCelebrator(h.celebrations.CelebratorFor(userID, sessionID)))
	}
	orchestrator, err := bulk.New(store.NewUserEvents(h.repo, userID), append(opts, h.cfg.BulkOptions...)...)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to import events")
		return
	}
	res, err := orchestrator.CreateMany(r.Context(), parsed.Drafts)
	if err != nil {
		slog.Error("Failed to import events", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to import events")
		return
	}

	slog.Info("Calendar imported", "user_id", userID, "created", res.SuccessCount, "failed", res.FailCount, "skipped", parsed.Skipped)
	JSON(w, http.StatusOK, map[string]interface{}{
		"result":  res,
		"skipped": parsed.Skipped,
		"summary": bulk.SummaryMessage(bulk.OpCreateMany, res),
	})
}

func (h *EventsHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *EventsHandler) parseRange(r *http.Request) (*datecontext.Range, error) {
	q := r.URL.Query()
	fromRaw, toRaw := q.Get("from"), q.Get("to")
	if fromRaw == "" && toRaw == "" {
		return nil, nil
	}

	rng := datecontext.Range{
		Start: time.Unix(0, 0),
		End:   time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	if fromRaw != "" {
		from, err := h.parseTime(fromRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid from: %w", err)
		}
		rng.Start = from
	}
	if toRaw != "" {
		to, err := h.parseTime(toRaw)
		if err != nil {
			return nil, fmt.Errorf("invalid to: %w", err)
		}
		rng.End = to
	}
	if !rng.End.After(rng.Start) {
		return nil, errors.New("to must be after from")
	}
	return &rng, nil
}

func (h *EventsHandler) parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, v, h.loc)
}

func (h *EventsHandler) writeEventErr(w http.ResponseWriter, op, userID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "event not found")
	case isValidationErr(err):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Event operation failed", "op", op, "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to "+op+" event")
	}
}

func isValidationErr(err error) bool {
	return errors.Is(err, domain.ErrEmptyTitle) ||
		errors.Is(err, domain.ErrEndBeforeStart) ||
		errors.Is(err, domain.ErrInvalidStatus) ||
		errors.Is(err, domain.ErrInvalidPriority)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
