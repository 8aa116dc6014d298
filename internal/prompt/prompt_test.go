package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
)

var brt = time.FixedZone("BRT", -3*60*60)

func events(n int, base time.Time) []domain.CalendarEvent {
	out := make([]domain.CalendarEvent, 0, n)
	// Reverse order so the composer has to sort.
	for i := n - 1; i >= 0; i-- {
		start := base.Add(time.Duration(i) * time.Hour)
		out = append(out, domain.CalendarEvent{
			ID:     fmt.Sprintf("e%d", i),
			Title:  fmt.Sprintf("Evento %02d", i),
			Start:  start,
			End:    start.Add(time.Hour),
			Status: domain.StatusScheduled,
		})
	}
	return out
}

func TestComposeTruncatesAndSorts(t *testing.T) {
	now := time.Date(2025, 7, 24, 9, 0, 0, 0, brt)
	got := Compose(Input{
		Message:     "quais atividades tenho hoje?",
		DateContext: datecontext.Resolve("hoje", now),
		Events:      events(11, now),
		Now:         now,
	})

	if !strings.Contains(got, "... e mais 3 evento(s)") {
		t.Errorf("Expected truncation note, got:\n%s", got)
	}
	if strings.Contains(got, "Evento 08") {
		t.Error("Expected only the first 8 events")
	}
	if strings.Index(got, "Evento 00") > strings.Index(got, "Evento 07") {
		t.Error("Expected chronological order")
	}
	if !strings.Contains(got, "Período consultado: hoje") {
		t.Error("Expected the date label")
	}
	if !strings.Contains(got, "24/07/2025") {
		t.Error("Expected today's date")
	}
	if !strings.HasSuffix(strings.TrimSpace(got), "quais atividades tenho hoje?") {
		t.Error("Expected the raw message at the end")
	}
}

func TestComposeWithoutPeriodOrEvents(t *testing.T) {
	now := time.Date(2025, 7, 24, 9, 0, 0, 0, brt)
	got := Compose(Input{Message: "oi", Now: now})
	if !strings.Contains(got, noPeriod) {
		t.Error("Expected no-period label")
	}
	if !strings.Contains(got, "(nenhum evento)") {
		t.Error("Expected empty event marker")
	}
	if strings.Contains(got, "e mais") {
		t.Error("Expected no truncation note")
	}
}

func TestComposeProgress(t *testing.T) {
	now := time.Date(2025, 7, 24, 9, 0, 0, 0, brt)
	evs := events(4, now)
	evs[0].Status = domain.StatusCompleted
	evs[1].Status = domain.StatusCancelled
	stats := NewStats(evs)

	if stats.CompletionRate < 0.33 || stats.CompletionRate > 0.34 {
		t.Errorf("Expected completion rate of one third, got %v", stats.CompletionRate)
	}
	got := ComposeProgress(Input{Message: "como estou?", Events: evs, Now: now}, stats)
	if !strings.Contains(got, "Taxa de conclusão: 33%") {
		t.Errorf("Expected completion rate line, got:\n%s", got)
	}
	if !strings.Contains(got, "concluído: 1") {
		t.Error("Expected completed count")
	}
}

func TestComposeFallbackListing(t *testing.T) {
	now := time.Date(2025, 7, 24, 9, 0, 0, 0, brt)
	dc := datecontext.Resolve("amanhã", now)

	empty := ComposeFallbackListing(Input{DateContext: dc, Now: now})
	if empty != "Você não tem eventos para amanhã." {
		t.Errorf("Unexpected empty listing %q", empty)
	}

	got := ComposeFallbackListing(Input{DateContext: dc, Events: events(2, now), Now: now})
	if !strings.HasPrefix(got, "Seus eventos para amanhã:") || strings.Count(got, "\n- ") != 2 {
		t.Errorf("Unexpected listing %q", got)
	}
}
