package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ashureev/study-planner/internal/bulk"
	"github.com/ashureev/study-planner/internal/domain"
	"github.com/ashureev/study-planner/internal/intent"
	"github.com/ashureev/study-planner/internal/llm"
	"github.com/ashureev/study-planner/internal/store"
)

// Wednesday, 23 July 2025.
var testNow = time.Date(2025, 7, 23, 10, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) CelebratorFor(_, _ string) func(string) {
	return func(msg string) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.messages = append(f.messages, msg)
	}
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type recordingGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (g *recordingGenerator) GenerateReply(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type harness struct {
	svc      *Service
	repo     store.Repository
	gen      *recordingGenerator
	notifier *fakeNotifier
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:     newTestRepo(t),
		gen:      &recordingGenerator{reply: "resposta do modelo"},
		notifier: &fakeNotifier{},
	}
	svc, err := NewService(h.repo, NewPipeline(nil, time.UTC), h.gen, Config{
		Location:    time.UTC,
		BulkOptions: []bulk.Option{bulk.WithSleep(func(time.Duration) {})},
	},
		WithNotifier(h.notifier),
		WithClock(func() time.Time { return testNow }),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) chat(t *testing.T, message string) *ChatResponse {
	t.Helper()
	return h.chatIntent(t, message, "")
}

func (h *harness) chatIntent(t *testing.T, message, explicit string) *ChatResponse {
	t.Helper()
	resp, err := h.svc.Chat(context.Background(), ChatRequest{
		Message:   message,
		Intent:    explicit,
		UserID:    "u1",
		SessionID: "tab-1",
	})
	if err != nil {
		t.Fatalf("Chat(%q) failed: %v", message, err)
	}
	return resp
}

func (h *harness) seed(t *testing.T, subject string, start time.Time) domain.CalendarEvent {
	t.Helper()
	e, err := store.NewUserEvents(h.repo, "u1").Create(context.Background(), domain.EventDraft{
		Subject: subject,
		Start:   start,
	})
	if err != nil {
		t.Fatalf("seed %s failed: %v", subject, err)
	}
	return *e
}

func (h *harness) events(t *testing.T) []domain.CalendarEvent {
	t.Helper()
	events, err := h.repo.ListEvents(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	return events
}

func at(day, hour int) time.Time {
	return time.Date(2025, 7, day, hour, 0, 0, 0, time.UTC)
}

func TestNewServiceRequiresRepository(t *testing.T) {
	if _, err := NewService(nil, nil, nil, Config{}); err == nil {
		t.Error("Expected error for nil repository")
	}
}

func TestChatValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Chat(ctx, ChatRequest{Message: "   ", UserID: "u1"}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
	if _, err := h.svc.Chat(ctx, ChatRequest{Message: "oi"}); !errors.Is(err, ErrMissingUser) {
		t.Errorf("Expected ErrMissingUser, got %v", err)
	}
	if _, err := h.svc.Chat(ctx, ChatRequest{Message: "oi", Intent: "delete_everything", UserID: "u1"}); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("Expected ErrInvalidIntent, got %v", err)
	}
}

func TestChatCreateEvent(t *testing.T) {
	h := newHarness(t)

	resp := h.chat(t, "criar evento de física amanhã")
	if resp.Intent != intent.CreateEvent || resp.Source != SourceAction {
		t.Fatalf("Expected create_event action, got %s/%s", resp.Intent, resp.Source)
	}
	if !strings.Contains(resp.Reply, "Física") || !strings.Contains(resp.Reply, "24/07 às 14:00") {
		t.Errorf("Unexpected reply: %q", resp.Reply)
	}

	events := h.events(t)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if !events[0].Start.Equal(at(24, 14)) || events[0].Duration() != time.Hour {
		t.Errorf("Expected 24/07 14:00 for one hour, got %v (%v)", events[0].Start, events[0].Duration())
	}
	if len(h.gen.prompts) != 0 {
		t.Errorf("Expected no provider call, got %d", len(h.gen.prompts))
	}
}

func TestChatCreateAsksForMissingPieces(t *testing.T) {
	h := newHarness(t)

	if resp := h.chat(t, "criar evento amanhã"); resp.Source != SourceClarify || !strings.Contains(resp.Reply, "amanhã") {
		t.Errorf("Expected subject question, got %s: %q", resp.Source, resp.Reply)
	}
	if resp := h.chat(t, "criar evento de química"); resp.Source != SourceClarify || !strings.Contains(resp.Reply, "Química") {
		t.Errorf("Expected day question, got %s: %q", resp.Source, resp.Reply)
	}
	if len(h.events(t)) != 0 {
		t.Error("Expected nothing created")
	}
}

func TestChatScheduleOfferAndConfirm(t *testing.T) {
	h := newHarness(t)

	offer := h.chatIntent(t, "química na sexta", string(intent.ScheduleEvent))
	if offer.Source != SourceOffer || len(offer.Pending) != 1 {
		t.Fatalf("Expected one pending offer, got %s with %d", offer.Source, len(offer.Pending))
	}
	if len(h.events(t)) != 0 {
		t.Fatal("Expected an offer not to create events")
	}

	confirm := h.chat(t, "sim")
	if confirm.Result == nil || confirm.Result.SuccessCount != 1 {
		t.Fatalf("Expected confirmation to create the offer, got %+v", confirm)
	}
	events := h.events(t)
	if len(events) != 1 || !events[0].Start.Equal(at(25, 14)) {
		t.Fatalf("Expected Química on 25/07 14:00, got %+v", events)
	}
	if h.notifier.count() != 1 {
		t.Errorf("Expected 1 celebration, got %d", h.notifier.count())
	}

	// The offer is consumed: a second confirmation has nothing to accept.
	again := h.chat(t, "sim")
	if again.Source != SourceClarify {
		t.Errorf("Expected clarification, got %s", again.Source)
	}
	if len(h.events(t)) != 1 {
		t.Errorf("Expected still 1 event, got %d", len(h.events(t)))
	}
}

func TestChatOfferDiscardedByOtherIntent(t *testing.T) {
	h := newHarness(t)

	h.chatIntent(t, "química na sexta", string(intent.ScheduleEvent))
	h.chat(t, "como estudar melhor?")

	resp := h.chat(t, "sim")
	if resp.Source != SourceClarify {
		t.Errorf("Expected stale offer to be discarded, got %s", resp.Source)
	}
	if len(h.events(t)) != 0 {
		t.Error("Expected no events")
	}
}

func TestChatCreateSchedule(t *testing.T) {
	h := newHarness(t)

	resp := h.chatIntent(t, "física amanhã", string(intent.CreateSchedule))
	if resp.Result == nil || resp.Result.SuccessCount != defaultScheduleWeeks {
		t.Fatalf("Expected %d events created, got %+v", defaultScheduleWeeks, resp.Result)
	}
	events := h.events(t)
	if len(events) != defaultScheduleWeeks {
		t.Fatalf("Expected %d events, got %d", defaultScheduleWeeks, len(events))
	}
	for i, e := range events {
		want := at(24, 14).AddDate(0, 0, 7*i)
		if !e.Start.Equal(want) {
			t.Errorf("occurrence %d: expected %v, got %v", i, want, e.Start)
		}
	}
}

func TestChatDeleteBySubjectToday(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))
	h.seed(t, "Física", at(23, 16))
	h.seed(t, "Química", at(23, 15))
	h.seed(t, "Física", at(24, 14))

	resp := h.chat(t, "excluir física de hoje")
	if resp.Intent != intent.DeleteEvent {
		t.Fatalf("Expected delete_event, got %s", resp.Intent)
	}
	if resp.Result == nil || resp.Result.SuccessCount != 2 || resp.Result.Total != 2 {
		t.Fatalf("Expected 2 of 2 deleted, got %+v", resp.Result)
	}
	if got := len(h.events(t)); got != 2 {
		t.Errorf("Expected 2 events left, got %d", got)
	}
	if h.notifier.count() != 1 {
		t.Errorf("Expected 1 celebration, got %d", h.notifier.count())
	}
}

func TestChatDeleteNeedsTarget(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))

	resp := h.chat(t, "apagar")
	if resp.Source != SourceClarify {
		t.Errorf("Expected clarification, got %s", resp.Source)
	}
	if len(h.events(t)) != 1 {
		t.Error("Expected nothing deleted")
	}
}

func TestChatDeleteAll(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))
	h.seed(t, "Química", at(28, 9))

	resp := h.chat(t, "excluir todos os eventos")
	if resp.Intent != intent.DeleteAllEvents || resp.Result.SuccessCount != 2 {
		t.Fatalf("Expected all deleted, got %s %+v", resp.Intent, resp.Result)
	}
	if len(h.events(t)) != 0 {
		t.Error("Expected empty calendar")
	}
}

func TestChatDeleteAllScopedBySubject(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))
	h.seed(t, "Física", at(28, 9))
	h.seed(t, "Química", at(24, 10))

	resp := h.chat(t, "excluir todos os eventos de física")
	if resp.Intent != intent.DeleteAllEvents {
		t.Fatalf("Expected delete_all_events, got %s", resp.Intent)
	}
	if resp.Result == nil || resp.Result.SuccessCount != 2 || resp.Result.Total != 2 {
		t.Fatalf("Expected 2 of 2 deleted, got %+v", resp.Result)
	}
	left := h.events(t)
	if len(left) != 1 || left[0].Subject != "Química" {
		t.Errorf("Expected only Química left, got %+v", left)
	}
}

// seedWeeks puts one event in the current week (20-26 July), two in the
// next week (27 July - 2 August) and one after that.
func (h *harness) seedWeeks(t *testing.T) {
	t.Helper()
	h.seed(t, "Física", at(23, 14))
	h.seed(t, "Química", at(28, 9))
	h.seed(t, "Física", at(31, 10))
	h.seed(t, "Química", time.Date(2025, 8, 5, 9, 0, 0, 0, time.UTC))
}

func assertRemaining(t *testing.T, events []domain.CalendarEvent, want ...time.Time) {
	t.Helper()
	if len(events) != len(want) {
		t.Fatalf("Expected %d events left, got %d: %+v", len(want), len(events), events)
	}
	for i, e := range events {
		if !e.Start.Equal(want[i]) {
			t.Errorf("event %d: expected start %v, got %v", i, want[i], e.Start)
		}
	}
}

func TestChatDeleteWeekScopes(t *testing.T) {
	august5 := time.Date(2025, 8, 5, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		message  string
		explicit string
		intent   intent.Intent
		deleted  int
		left     []time.Time
	}{
		{"all next week", "excluir todos os eventos da próxima semana", "", intent.DeleteAllEvents, 2, []time.Time{at(23, 14), august5}},
		{"delete next week", "excluir eventos da próxima semana", "", intent.DeleteEvent, 2, []time.Time{at(23, 14), august5}},
		{"delete this week", "apagar os eventos desta semana", "", intent.DeleteEvent, 1, []time.Time{at(28, 9), at(31, 10), august5}},
		{"explicit next week", "próxima semana", "delete_week_events", intent.DeleteWeekEvents, 2, []time.Time{at(23, 14), august5}},
		{"explicit current week", "", "delete_week_events", intent.DeleteWeekEvents, 1, []time.Time{at(28, 9), at(31, 10), august5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedWeeks(t)

			resp := h.chatIntent(t, tt.message, tt.explicit)
			if resp.Intent != tt.intent {
				t.Fatalf("Expected %s, got %s", tt.intent, resp.Intent)
			}
			if resp.Result == nil || resp.Result.SuccessCount != tt.deleted || resp.Result.Total != tt.deleted {
				t.Fatalf("Expected %d deleted, got %+v", tt.deleted, resp.Result)
			}
			assertRemaining(t, h.events(t), tt.left...)
		})
	}
}

func TestChatDeleteNoMatch(t *testing.T) {
	h := newHarness(t)

	resp := h.chat(t, "excluir química de amanhã")
	if resp.Result == nil || resp.Result.Total != 0 {
		t.Fatalf("Expected empty result, got %+v", resp.Result)
	}
	if resp.Reply != bulk.SummaryMessage(bulk.OpDeleteBySubject, bulk.Result{}) {
		t.Errorf("Unexpected reply: %q", resp.Reply)
	}
	if h.notifier.count() != 0 {
		t.Error("Expected no celebration for an empty batch")
	}
}

func TestChatEditMove(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "História", at(23, 9))

	resp := h.chat(t, "mudar a aula de história para sexta")
	if resp.Intent != intent.EditEvent || resp.Source != SourceAction {
		t.Fatalf("Expected edit action, got %s/%s: %q", resp.Intent, resp.Source, resp.Reply)
	}
	events := h.events(t)
	if len(events) != 1 || !events[0].Start.Equal(at(25, 9)) || events[0].Duration() != time.Hour {
		t.Errorf("Expected História moved to 25/07 09:00, got %+v", events)
	}
}

func TestChatEditStatus(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))
	h.seed(t, "Física", at(24, 14))

	resp := h.chat(t, "alterar física de hoje para concluída")
	if resp.Source != SourceAction {
		t.Fatalf("Expected action, got %s: %q", resp.Source, resp.Reply)
	}
	for _, e := range h.events(t) {
		want := domain.StatusScheduled
		if e.Start.Equal(at(23, 14)) {
			want = domain.StatusCompleted
		}
		if e.Status != want {
			t.Errorf("event at %v: expected %s, got %s", e.Start, want, e.Status)
		}
	}
}

func TestChatCreateVerbWithStatusEditsInstead(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))

	resp := h.chat(t, "marcar física de hoje como concluída")
	if resp.Intent != intent.EditEvent || resp.Source != SourceAction {
		t.Fatalf("Expected edit action, got %s/%s: %q", resp.Intent, resp.Source, resp.Reply)
	}
	events := h.events(t)
	if len(events) != 1 {
		t.Fatalf("Expected no duplicate event, got %d events", len(events))
	}
	if events[0].Status != domain.StatusCompleted {
		t.Errorf("Expected completed, got %s", events[0].Status)
	}
}

func TestChatEditSuggestedPhrasesWork(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))
	h.seed(t, "Química", at(24, 9))

	if strings.Contains(strings.ToLower(askEditChange), "marcar") {
		t.Errorf("Change question suggests a create verb: %q", askEditChange)
	}

	if resp := h.chat(t, "alterar física para concluído"); resp.Intent != intent.EditEvent || resp.Source != SourceAction {
		t.Fatalf("Expected status edit, got %s/%s: %q", resp.Intent, resp.Source, resp.Reply)
	}
	if resp := h.chat(t, "alterar química para sexta"); resp.Intent != intent.EditEvent || resp.Source != SourceAction {
		t.Fatalf("Expected move, got %s/%s: %q", resp.Intent, resp.Source, resp.Reply)
	}

	events := h.events(t)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	for _, e := range events {
		switch e.Subject {
		case "Física":
			if e.Status != domain.StatusCompleted {
				t.Errorf("Expected Física completed, got %s", e.Status)
			}
		case "Química":
			if !e.Start.Equal(at(25, 9)) {
				t.Errorf("Expected Química moved to 25/07 09:00, got %v", e.Start)
			}
		}
	}
}

func TestChatEditClarifies(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(23, 14))

	if resp := h.chat(t, "alterar evento"); resp.Reply != askEditTarget {
		t.Errorf("Expected target question, got %q", resp.Reply)
	}
	if resp := h.chat(t, "alterar física"); resp.Reply != askEditChange {
		t.Errorf("Expected change question, got %q", resp.Reply)
	}
}

func TestChatListUsesProvider(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Química", at(24, 16))
	h.seed(t, "Física", at(24, 8))
	h.seed(t, "Biologia", at(28, 8))

	resp := h.chat(t, "quais eventos tenho amanhã?")
	if resp.Source != SourceLLM || resp.Reply != "resposta do modelo" {
		t.Fatalf("Expected provider reply, got %s: %q", resp.Source, resp.Reply)
	}
	if len(resp.Events) != 2 || resp.Events[0].Subject != "Física" {
		t.Errorf("Expected tomorrow's events sorted by start, got %+v", resp.Events)
	}
	if len(h.gen.prompts) != 1 || !strings.Contains(h.gen.prompts[0], "quais eventos tenho amanhã?") {
		t.Errorf("Expected prompt to carry the message, got %v", h.gen.prompts)
	}
}

func TestChatListFallsBackWhenProviderFails(t *testing.T) {
	h := newHarness(t)
	h.gen.err = llm.ErrProviderUnavailable
	h.seed(t, "Física", at(24, 8))

	resp := h.chat(t, "quais eventos tenho amanhã?")
	if resp.Source != SourceFallback {
		t.Fatalf("Expected fallback, got %s", resp.Source)
	}
	if !strings.Contains(resp.Reply, "Física") {
		t.Errorf("Expected fallback listing to name the event, got %q", resp.Reply)
	}
}

func TestChatGeneralPropagatesProviderError(t *testing.T) {
	h := newHarness(t)
	h.gen.err = llm.ErrProviderUnavailable

	_, err := h.svc.Chat(context.Background(), ChatRequest{Message: "como estudar melhor?", UserID: "u1"})
	if !errors.Is(err, llm.ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

func TestChatProgress(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "Física", at(21, 14))

	resp := h.chatIntent(t, "como estou esta semana?", string(intent.AnalyzeProgress))
	if resp.Source != SourceLLM {
		t.Fatalf("Expected provider reply, got %s", resp.Source)
	}
	if len(h.gen.prompts) != 1 {
		t.Fatalf("Expected 1 prompt, got %d", len(h.gen.prompts))
	}
}

func TestHistoryAndReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.chat(t, "como estudar melhor?")
	messages, err := h.svc.History(ctx, "u1", "tab-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(messages) != 2 || messages[0].Role != "user" || messages[1].Content != "resposta do modelo" {
		t.Fatalf("Unexpected transcript: %+v", messages)
	}

	if err := h.svc.ResetSession(ctx, "u1", "tab-1"); err != nil {
		t.Fatalf("ResetSession failed: %v", err)
	}
	messages, err = h.svc.History(ctx, "u1", "tab-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Expected empty transcript, got %d", len(messages))
	}
}

func TestServiceMetrics(t *testing.T) {
	h := newHarness(t)
	m := MustNewMetrics(prometheus.NewRegistry())
	h.svc.metrics = m

	h.chat(t, "como estudar melhor?")
	h.chat(t, "criar evento")

	if got := testutil.ToFloat64(m.intents.WithLabelValues(string(intent.GeneralChat))); got != 1 {
		t.Errorf("Expected 1 general_chat, got %v", got)
	}
	if got := testutil.ToFloat64(m.replies.WithLabelValues(SourceClarify)); got != 1 {
		t.Errorf("Expected 1 clarify reply, got %v", got)
	}
}
