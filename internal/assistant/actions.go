package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/study-planner/internal/bulk"
	"github.com/ashureev/study-planner/internal/calendar"
	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
	"github.com/ashureev/study-planner/internal/intent"
	"github.com/ashureev/study-planner/internal/prompt"
	"github.com/ashureev/study-planner/internal/store"
	"github.com/ashureev/study-planner/internal/textnorm"
)

// Clarifying questions.
const (
	askSubjectAndDay = `Para agendar, me diga a matéria e o dia. Exemplo: "agendar Física amanhã".`
	askSubjectFmt    = "Qual matéria você quer estudar %s?"
	askDayFmt        = `Para quando devo agendar %s? Diga um dia, como "amanhã" ou "sexta".`
	askEditTarget    = "Qual evento você quer alterar? Diga a matéria ou o dia."
	askEditChange    = `O que você quer alterar? Diga um novo dia ou um status, por exemplo: "alterar Física para sexta" ou "alterar Física para concluído" (também em andamento ou cancelado).`
	askMoveOneFmt    = "Encontrei %d eventos correspondentes. Para remarcar, cite um evento por vez, por exemplo pela matéria e o dia."
	askDeleteTarget  = `Qual evento você quer excluir? Diga a matéria ou o dia (por exemplo: "excluir Física de amanhã").`
)

// turn is the state of one chat turn.
type turn struct {
	message    string
	analysis   Analysis
	events     []domain.CalendarEvent
	session    *domain.ChatSession
	now        time.Time
	loc        *time.Location
	userEvents *store.UserEvents
	bulk       *bulk.Orchestrator
}

//nolint:gocyclo // One case per intent.
func (s *Service) dispatch(ctx context.Context, t *turn) (*ChatResponse, error) {
	switch t.analysis.Intent {
	case intent.CreateEvent:
		return s.handleCreate(ctx, t)
	case intent.ScheduleEvent:
		return s.handleSchedule(t)
	case intent.CreateSchedule:
		return s.handleCreateSchedule(ctx, t)
	case intent.EditEvent:
		return s.handleEdit(ctx, t)
	case intent.DeleteEvent:
		return s.handleDelete(ctx, t)
	case intent.DeleteAllEvents:
		return s.handleDeleteAll(ctx, t)
	case intent.DeleteWeekEvents:
		res, err := t.bulk.DeleteByWeek(ctx, t.events, weekFor(t.analysis.DateContext))
		return batchResponse(bulk.OpDeleteByWeek, res, err)
	case intent.ListEvents:
		return s.handleList(ctx, t)
	case intent.AnalyzeProgress:
		return s.handleProgress(ctx, t)
	default:
		return s.handleGeneral(ctx, t)
	}
}

func (s *Service) handleGeneral(ctx context.Context, t *turn) (*ChatResponse, error) {
	in := t.promptInput(t.relevantEvents())
	reply, err := s.gen.GenerateReply(ctx, prompt.Compose(in))
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	return &ChatResponse{Reply: reply, Source: SourceLLM}, nil
}

func (s *Service) handleList(ctx context.Context, t *turn) (*ChatResponse, error) {
	listed := calendar.SortByStart(t.relevantEvents())
	in := t.promptInput(listed)
	resp := &ChatResponse{Source: SourceLLM, Events: listed}

	reply, err := s.gen.GenerateReply(ctx, prompt.Compose(in))
	if err != nil {
		slog.Warn("provider failed on listing, using fallback", "error", err)
		resp.Reply = prompt.ComposeFallbackListing(in)
		resp.Source = SourceFallback
		return resp, nil
	}
	resp.Reply = reply
	return resp, nil
}

func (s *Service) handleProgress(ctx context.Context, t *turn) (*ChatResponse, error) {
	scoped := t.events
	if r := t.analysis.DateContext.Range; r != nil {
		scoped = calendar.FilterByRange(scoped, *r)
	}
	in := t.promptInput(scoped)
	reply, err := s.gen.GenerateReply(ctx, prompt.ComposeProgress(in, prompt.NewStats(scoped)))
	if err != nil {
		return nil, fmt.Errorf("generate progress analysis: %w", err)
	}
	return &ChatResponse{Reply: reply, Source: SourceLLM}, nil
}

func (s *Service) handleCreate(ctx context.Context, t *turn) (*ChatResponse, error) {
	pending, err := t.session.Pending()
	if err != nil {
		slog.Warn("discarding unreadable pending offer", "error", err, "user_id", t.session.UserID)
		pending = nil
	}
	// A bare confirmation accepts the offer; a new request replaces it.
	if len(pending) > 0 && t.analysis.Subject == "" && t.analysis.Date == nil {
		res, err := t.bulk.CreateMany(ctx, pending)
		if err != nil {
			return nil, err
		}
		t.session.ClearPending()
		return batchResponse(bulk.OpCreateMany, res, nil)
	}
	t.session.ClearPending()

	// "marcar física como concluída" asks for a status change, not a new event.
	if statusFromMessage(t.message) != nil {
		t.analysis.Intent = intent.EditEvent
		return s.handleEdit(ctx, t)
	}

	draft, question := s.draftFor(t)
	if question != "" {
		return clarify(question), nil
	}
	e, err := t.userEvents.Create(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &ChatResponse{
		Reply:  fmt.Sprintf("✅ Evento \"%s\" criado para %s.", e.Title, describeSlot(e.Start, t.loc)),
		Source: SourceAction,
		Events: []domain.CalendarEvent{*e},
	}, nil
}

func (s *Service) handleSchedule(t *turn) (*ChatResponse, error) {
	draft, question := s.draftFor(t)
	if question != "" {
		return clarify(question), nil
	}
	offer := []domain.EventDraft{draft}
	if err := t.session.SetPending(offer); err != nil {
		return nil, err
	}
	return &ChatResponse{
		Reply:   fmt.Sprintf("Posso agendar %s para %s? Responda \"sim\" para confirmar.", draft.Title, describeSlot(draft.Start, t.loc)),
		Source:  SourceOffer,
		Pending: offer,
	}, nil
}

func (s *Service) handleCreateSchedule(ctx context.Context, t *turn) (*ChatResponse, error) {
	draft, question := s.draftFor(t)
	if question != "" {
		return clarify(question), nil
	}
	starts, err := calendar.Weekly(draft.Start, s.cfg.ScheduleWeeks)
	if err != nil {
		return nil, fmt.Errorf("expand weekly schedule: %w", err)
	}
	length := draft.End.Sub(draft.Start)
	drafts := make([]domain.EventDraft, 0, len(starts))
	for _, start := range starts {
		d := draft
		d.Start = start
		d.End = start.Add(length)
		drafts = append(drafts, d)
	}
	res, err := t.bulk.CreateMany(ctx, drafts)
	return batchResponse(bulk.OpCreateMany, res, err)
}

//nolint:gocyclo // Target narrowing and patch selection read best inline.
func (s *Service) handleEdit(ctx context.Context, t *turn) (*ChatResponse, error) {
	a := t.analysis
	status := statusFromMessage(t.message)
	move := status == nil && a.Date != nil

	targets := t.events
	narrowed := false
	if a.Subject != "" {
		targets = calendar.BySubject(targets, a.Subject)
		narrowed = true
	}
	if !move && a.DateContext.Range != nil {
		targets = calendar.FilterByRange(targets, *a.DateContext.Range)
		narrowed = true
	}

	switch {
	case !narrowed:
		return clarify(askEditTarget), nil
	case status == nil && !move:
		return clarify(askEditChange), nil
	case len(targets) == 0:
		return batchResponse(bulk.OpUpdateMany, bulk.Result{}, nil)
	}

	if move {
		if len(targets) > 1 {
			return clarify(fmt.Sprintf(askMoveOneFmt, len(targets))), nil
		}
		updated, err := t.userEvents.Update(ctx, targets[0].ID, moveTo(targets[0], *a.Date, t.loc))
		if err != nil {
			return nil, fmt.Errorf("move event: %w", err)
		}
		return &ChatResponse{
			Reply:  fmt.Sprintf("✅ \"%s\" remarcado para %s.", updated.Title, describeSlot(updated.Start, t.loc)),
			Source: SourceAction,
			Events: []domain.CalendarEvent{*updated},
		}, nil
	}

	patch := domain.EventPatch{Status: status}
	if len(targets) == 1 {
		updated, err := t.userEvents.Update(ctx, targets[0].ID, patch)
		if err != nil {
			return nil, fmt.Errorf("update event: %w", err)
		}
		return &ChatResponse{
			Reply:  fmt.Sprintf("✅ \"%s\" marcado como %s.", updated.Title, prompt.StatusLabel(updated.Status)),
			Source: SourceAction,
			Events: []domain.CalendarEvent{*updated},
		}, nil
	}
	res, err := t.bulk.UpdateMany(ctx, targets, patch)
	return batchResponse(bulk.OpUpdateMany, res, err)
}

func (s *Service) handleDelete(ctx context.Context, t *turn) (*ChatResponse, error) {
	a := t.analysis
	dc := a.DateContext

	switch {
	case a.Subject != "":
		scoped := t.events
		if dc.Range != nil {
			scoped = calendar.FilterByRange(scoped, *dc.Range)
		}
		res, err := t.bulk.DeleteBySubject(ctx, scoped, a.Subject)
		return batchResponse(bulk.OpDeleteBySubject, res, err)
	case dc.Target != nil:
		res, err := t.bulk.DeleteByDate(ctx, t.events, *dc.Target)
		return batchResponse(bulk.OpDeleteByDate, res, err)
	case dc.Label == datecontext.LabelThisWeek || dc.Label == datecontext.LabelNextWeek:
		res, err := t.bulk.DeleteByWeek(ctx, t.events, weekFor(dc))
		return batchResponse(bulk.OpDeleteByWeek, res, err)
	default:
		return clarify(askDeleteTarget), nil
	}
}

// handleDeleteAll scopes "todos" to the subject or period named alongside
// it; with neither, the whole calendar goes.
func (s *Service) handleDeleteAll(ctx context.Context, t *turn) (*ChatResponse, error) {
	a := t.analysis
	dc := a.DateContext

	switch {
	case a.Subject != "":
		scoped := t.events
		if dc.Range != nil {
			scoped = calendar.FilterByRange(scoped, *dc.Range)
		}
		res, err := t.bulk.DeleteBySubject(ctx, scoped, a.Subject)
		return batchResponse(bulk.OpDeleteBySubject, res, err)
	case dc.Label == datecontext.LabelThisWeek || dc.Label == datecontext.LabelNextWeek:
		res, err := t.bulk.DeleteByWeek(ctx, t.events, weekFor(dc))
		return batchResponse(bulk.OpDeleteByWeek, res, err)
	case dc.Target != nil:
		res, err := t.bulk.DeleteByDate(ctx, t.events, *dc.Target)
		return batchResponse(bulk.OpDeleteByDate, res, err)
	case dc.Range != nil:
		res, err := t.bulk.DeleteAll(ctx, calendar.FilterByRange(t.events, *dc.Range))
		return batchResponse(bulk.OpDeleteAll, res, err)
	default:
		res, err := t.bulk.DeleteAll(ctx, t.events)
		return batchResponse(bulk.OpDeleteAll, res, err)
	}
}

// draftFor builds a creation draft from the analysed subject and day, or
// returns the question to ask when one of them is missing.
func (s *Service) draftFor(t *turn) (domain.EventDraft, string) {
	a := t.analysis
	switch {
	case a.Subject == "" && a.Date == nil:
		return domain.EventDraft{}, askSubjectAndDay
	case a.Subject == "":
		return domain.EventDraft{}, fmt.Sprintf(askSubjectFmt, a.DateContext.Label)
	case a.Date == nil:
		return domain.EventDraft{}, fmt.Sprintf(askDayFmt, a.Subject)
	}
	d := a.Date.In(t.loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), s.cfg.DefaultHour, 0, 0, 0, t.loc)
	return domain.EventDraft{Title: a.Subject, Subject: a.Subject, Start: start}.WithDefaults(), ""
}

func (t *turn) relevantEvents() []domain.CalendarEvent {
	var events []domain.CalendarEvent
	if r := t.analysis.DateContext.Range; r != nil {
		events = calendar.FilterByRange(t.events, *r)
	} else {
		events = calendar.Upcoming(t.events, t.now)
	}
	if t.analysis.Subject != "" {
		events = calendar.BySubject(events, t.analysis.Subject)
	}
	return events
}

func (t *turn) promptInput(events []domain.CalendarEvent) prompt.Input {
	return prompt.Input{
		Message:     t.message,
		DateContext: t.analysis.DateContext,
		Events:      events,
		Now:         t.now,
		Intent:      string(t.analysis.Intent),
	}
}

func batchResponse(op string, res bulk.Result, err error) (*ChatResponse, error) {
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		Reply:  bulk.SummaryMessage(op, res),
		Source: SourceAction,
		Result: &res,
	}, nil
}

func clarify(question string) *ChatResponse {
	return &ChatResponse{Reply: question, Source: SourceClarify}
}

func weekFor(dc datecontext.DateContext) bulk.Week {
	if dc.Label == datecontext.LabelNextWeek {
		return bulk.WeekNext
	}
	return bulk.WeekCurrent
}

var statusWords = []struct {
	status domain.EventStatus
	words  []string
}{
	{domain.StatusCompleted, []string{"concluido", "concluida", "concluidos", "concluidas", "feito", "feita", "terminei", "done", "completed"}},
	{domain.StatusCancelled, []string{"cancelado", "cancelada", "cancelados", "canceladas", "cancelled", "canceled"}},
	{domain.StatusInProgress, []string{"andamento", "comecei", "iniciei", "started"}},
}

// statusFromMessage returns the status a message asks for, if any.
func statusFromMessage(message string) *domain.EventStatus {
	tokens := textnorm.Tokens(message)
	for _, sw := range statusWords {
		if textnorm.ContainsAny(tokens, sw.words...) {
			st := sw.status
			return &st
		}
	}
	return nil
}

// moveTo keeps e's time of day and duration on another calendar day.
func moveTo(e domain.CalendarEvent, day time.Time, loc *time.Location) domain.EventPatch {
	local := e.Start.In(loc)
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), local.Hour(), local.Minute(), local.Second(), 0, loc)
	end := start.Add(e.Duration())
	return domain.EventPatch{Start: &start, End: &end}
}

func describeSlot(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return fmt.Sprintf("%s, %s às %s", datecontext.WeekdayLabel(t.Weekday()), t.Format("02/01"), t.Format("15:04"))
}
