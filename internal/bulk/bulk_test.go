package bulk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ashureev/study-planner/internal/domain"
)

var brt = time.FixedZone("BRT", -3*60*60)

// ref is Thursday 2025-07-24 09:00 BRT.
var ref = time.Date(2025, time.July, 24, 9, 0, 0, 0, brt)

type fakeStore struct {
	mu      sync.Mutex
	fail    map[string]bool
	deleted []string
	updated []string
	created []domain.EventDraft
}

func (f *fakeStore) CreateEvent(_ context.Context, d domain.EventDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[d.Title] {
		return errors.New("create rejected")
	}
	f.created = append(f.created, d)
	return nil
}

func (f *fakeStore) UpdateEvent(_ context.Context, id string, _ domain.EventPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, id)
	if f.fail[id] {
		return errors.New("update rejected")
	}
	return nil
}

func (f *fakeStore) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if f.fail[id] {
		return errors.New("delete rejected")
	}
	return nil
}

type harness struct {
	store      *fakeStore
	orch       *Orchestrator
	celebrated []string
	sleeps     []time.Duration
	registry   *prometheus.Registry
	metrics    *Metrics
}

func newHarness(t *testing.T, failIDs ...string) *harness {
	t.Helper()
	h := &harness{
		store:    &fakeStore{fail: map[string]bool{}},
		registry: prometheus.NewRegistry(),
	}
	for _, id := range failIDs {
		h.store.fail[id] = true
	}
	h.metrics = MustNewMetrics(h.registry)
	orch, err := New(h.store,
		WithCelebrator(func(msg string) { h.celebrated = append(h.celebrated, msg) }),
		WithSleep(func(d time.Duration) { h.sleeps = append(h.sleeps, d) }),
		WithClock(func() time.Time { return ref }),
		WithMetrics(h.metrics),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.orch = orch
	return h
}

func event(id, subject string, start time.Time) domain.CalendarEvent {
	return domain.CalendarEvent{
		ID:       id,
		Title:    subject,
		Subject:  subject,
		Start:    start,
		End:      start.Add(time.Hour),
		Status:   domain.StatusScheduled,
		Priority: domain.PriorityDefault,
	}
}

func checkInvariant(t *testing.T, res Result, wantTotal int) {
	t.Helper()
	if res.Total != wantTotal {
		t.Errorf("Expected total %d, got %d", wantTotal, res.Total)
	}
	if res.SuccessCount+res.FailCount != res.Total {
		t.Errorf("Expected success+fail == total, got %+v", res)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNilStore) {
		t.Errorf("Expected ErrNilStore, got %v", err)
	}
}

func TestDeleteBySubjectTodayScenario(t *testing.T) {
	h := newHarness(t)
	events := []domain.CalendarEvent{
		event("fis", "Física", time.Date(2025, 7, 24, 14, 0, 0, 0, brt)),
		event("qui", "Química", time.Date(2025, 7, 25, 10, 0, 0, 0, brt)),
	}

	res, err := h.orch.DeleteBySubject(context.Background(), events, "Física")
	if err != nil {
		t.Fatalf("DeleteBySubject failed: %v", err)
	}
	if res != (Result{SuccessCount: 1, FailCount: 0, Total: 1}) {
		t.Errorf("Unexpected result %+v", res)
	}
	if len(h.store.deleted) != 1 || h.store.deleted[0] != "fis" {
		t.Errorf("Expected only the Física event deleted, got %v", h.store.deleted)
	}
	if len(h.celebrated) != 1 {
		t.Errorf("Expected one celebration, got %d", len(h.celebrated))
	}
}

func TestDeleteAllPartialFailure(t *testing.T) {
	h := newHarness(t, "e2", "e4")
	var events []domain.CalendarEvent
	for i, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		events = append(events, event(id, "Física", ref.Add(time.Duration(i)*time.Hour)))
	}

	res, err := h.orch.DeleteAll(context.Background(), events)
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if res != (Result{SuccessCount: 3, FailCount: 2, Total: 5}) {
		t.Errorf("Unexpected result %+v", res)
	}
	want := []string{"e1", "e2", "e3", "e4", "e5"}
	if strings.Join(h.store.deleted, ",") != strings.Join(want, ",") {
		t.Errorf("Expected every item attempted in order, got %v", h.store.deleted)
	}
	if len(h.celebrated) != 1 {
		t.Fatalf("Expected one celebration, got %d", len(h.celebrated))
	}
	if !strings.Contains(h.celebrated[0], "3 de 5") {
		t.Errorf("Expected partial-success phrasing, got %q", h.celebrated[0])
	}
	if got := testutil.ToFloat64(h.metrics.items.WithLabelValues(OpDeleteAll, "failure")); got != 2 {
		t.Errorf("Expected 2 failures recorded, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.batches.WithLabelValues(OpDeleteAll)); got != 1 {
		t.Errorf("Expected 1 batch recorded, got %v", got)
	}
}

func TestDelaysSeparateItems(t *testing.T) {
	h := newHarness(t)
	events := []domain.CalendarEvent{
		event("a", "Física", ref),
		event("b", "Física", ref),
		event("c", "Física", ref),
	}
	if _, err := h.orch.DeleteAll(context.Background(), events); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != DefaultDeleteDelay {
		t.Errorf("Expected 2 delete delays of %v, got %v", DefaultDeleteDelay, h.sleeps)
	}

	h.sleeps = nil
	drafts := []domain.EventDraft{{Title: "x", Start: ref}, {Title: "y", Start: ref}}
	if _, err := h.orch.CreateMany(context.Background(), drafts); err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != DefaultCreateDelay {
		t.Errorf("Expected 1 create delay of %v, got %v", DefaultCreateDelay, h.sleeps)
	}
}

func TestNoMatchIsNoop(t *testing.T) {
	h := newHarness(t)
	events := []domain.CalendarEvent{event("fis", "Física", ref)}

	res, err := h.orch.DeleteBySubject(context.Background(), events, "matemática")
	if err != nil {
		t.Fatalf("DeleteBySubject failed: %v", err)
	}
	if res != (Result{}) {
		t.Errorf("Expected zero result, got %+v", res)
	}
	if len(h.store.deleted) != 0 || len(h.celebrated) != 0 || len(h.sleeps) != 0 {
		t.Error("Expected no callback, celebration or delay")
	}
}

func TestAllFailedDoesNotCelebrate(t *testing.T) {
	h := newHarness(t, "a", "b")
	events := []domain.CalendarEvent{event("a", "Física", ref), event("b", "Física", ref)}
	res, _ := h.orch.DeleteAll(context.Background(), events)
	checkInvariant(t, res, 2)
	if res.SuccessCount != 0 {
		t.Errorf("Expected no successes, got %d", res.SuccessCount)
	}
	if len(h.celebrated) != 0 {
		t.Errorf("Expected no celebration, got %v", h.celebrated)
	}
}

func TestDeleteByDate(t *testing.T) {
	h := newHarness(t)
	events := []domain.CalendarEvent{
		event("today-morning", "Física", time.Date(2025, 7, 24, 8, 0, 0, 0, brt)),
		event("today-night", "Química", time.Date(2025, 7, 24, 23, 0, 0, 0, brt)),
		event("tomorrow", "Física", time.Date(2025, 7, 25, 8, 0, 0, 0, brt)),
	}
	res, err := h.orch.DeleteByDate(context.Background(), events, time.Date(2025, 7, 24, 0, 0, 0, 0, brt))
	if err != nil {
		t.Fatalf("DeleteByDate failed: %v", err)
	}
	checkInvariant(t, res, 2)

	if _, err := h.orch.DeleteByDate(context.Background(), events, time.Time{}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("Expected ErrInvalidDate, got %v", err)
	}
}

func TestDeleteByWeek(t *testing.T) {
	events := []domain.CalendarEvent{
		event("sun-this", "Física", time.Date(2025, 7, 20, 10, 0, 0, 0, brt)),
		event("sat-this", "Física", time.Date(2025, 7, 26, 23, 0, 0, 0, brt)),
		event("sun-next", "Física", time.Date(2025, 7, 27, 0, 0, 0, 0, brt)),
		event("sat-next", "Física", time.Date(2025, 8, 2, 12, 0, 0, 0, brt)),
		event("later", "Física", time.Date(2025, 8, 3, 0, 0, 0, 0, brt)),
	}

	tests := []struct {
		which Week
		want  []string
	}{
		{WeekCurrent, []string{"sun-this", "sat-this"}},
		{WeekNext, []string{"sun-next", "sat-next"}},
	}
	for _, tt := range tests {
		t.Run(tt.which.String(), func(t *testing.T) {
			h := newHarness(t)
			res, err := h.orch.DeleteByWeek(context.Background(), events, tt.which)
			if err != nil {
				t.Fatalf("DeleteByWeek failed: %v", err)
			}
			checkInvariant(t, res, len(tt.want))
			if strings.Join(h.store.deleted, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Expected %v, got %v", tt.want, h.store.deleted)
			}
		})
	}

	h := newHarness(t)
	if _, err := h.orch.DeleteByWeek(context.Background(), events, Week(7)); !errors.Is(err, ErrInvalidWeek) {
		t.Errorf("Expected ErrInvalidWeek, got %v", err)
	}
}

func TestCreateManyPartialFailure(t *testing.T) {
	h := newHarness(t, "bad")
	drafts := []domain.EventDraft{
		{Title: "ok-1", Start: ref},
		{Title: "bad", Start: ref},
		{Title: "ok-2", Start: ref},
	}
	res, err := h.orch.CreateMany(context.Background(), drafts)
	if err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	if res != (Result{SuccessCount: 2, FailCount: 1, Total: 3}) {
		t.Errorf("Unexpected result %+v", res)
	}
	if len(h.store.created) != 2 {
		t.Errorf("Expected 2 created drafts, got %d", len(h.store.created))
	}
}

func TestUpdateMany(t *testing.T) {
	h := newHarness(t)
	status := domain.StatusCompleted
	events := []domain.CalendarEvent{event("a", "Física", ref), event("b", "Física", ref)}

	res, err := h.orch.UpdateMany(context.Background(), events, domain.EventPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateMany failed: %v", err)
	}
	checkInvariant(t, res, 2)
	if len(h.celebrated) != 1 || !strings.Contains(h.celebrated[0], "atualizado") {
		t.Errorf("Expected update celebration, got %v", h.celebrated)
	}

	if _, err := h.orch.UpdateMany(context.Background(), events, domain.EventPatch{}); !errors.Is(err, ErrInvalidPatch) {
		t.Errorf("Expected ErrInvalidPatch, got %v", err)
	}
}

func TestCanceledContextStillRunsBatch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := []domain.CalendarEvent{event("a", "Física", ref), event("b", "Física", ref)}
	res, _ := h.orch.DeleteAll(ctx, events)
	if res.Total != 2 || len(h.store.deleted) != 2 {
		t.Errorf("Expected both items attempted, got %+v", res)
	}
}

func TestSummaryMessage(t *testing.T) {
	if got := SummaryMessage(OpDeleteAll, Result{}); !strings.Contains(got, "Não encontrei") {
		t.Errorf("Unexpected empty summary %q", got)
	}
	if got := SummaryMessage(OpCreateMany, Result{FailCount: 2, Total: 2}); !strings.Contains(got, "nenhum") {
		t.Errorf("Unexpected failure summary %q", got)
	}
	if got := SummaryMessage(OpCreateMany, Result{SuccessCount: 2, Total: 2}); !strings.Contains(got, "criado") {
		t.Errorf("Unexpected success summary %q", got)
	}
}
