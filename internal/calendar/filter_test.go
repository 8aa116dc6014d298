package calendar

import (
	"testing"
	"time"

	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
)

var brt = time.FixedZone("BRT", -3*60*60)

func ev(id, subject string, start time.Time) domain.CalendarEvent {
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

func ids(events []domain.CalendarEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFilterByRangeHalfOpen(t *testing.T) {
	day := time.Date(2025, 7, 24, 0, 0, 0, 0, brt)
	r := datecontext.Range{Start: day, End: day.Add(24 * time.Hour)}
	events := []domain.CalendarEvent{
		ev("before", "Física", day.Add(-time.Minute)),
		ev("start", "Física", day),
		ev("utc-same-instant", "Química", day.Add(10*time.Hour).UTC()),
		ev("end", "Física", day.Add(24*time.Hour)),
	}

	got := ids(FilterByRange(events, r))
	want := []string{"start", "utc-same-instant"}
	if !equalIDs(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestFilterByRangeEmpty(t *testing.T) {
	r := datecontext.Range{Start: time.Now(), End: time.Now().Add(time.Hour)}
	if got := FilterByRange(nil, r); len(got) != 0 {
		t.Errorf("Expected empty result, got %v", got)
	}
}

func TestOnDayUsesDayLocation(t *testing.T) {
	day := time.Date(2025, 7, 24, 0, 0, 0, 0, brt)
	events := []domain.CalendarEvent{
		// 01:00 UTC on the 25th is 22:00 on the 24th in BRT.
		ev("late", "Física", time.Date(2025, 7, 25, 1, 0, 0, 0, time.UTC)),
		ev("next", "Física", time.Date(2025, 7, 25, 4, 0, 0, 0, time.UTC)),
	}
	got := ids(OnDay(events, day))
	if !equalIDs(got, []string{"late"}) {
		t.Errorf("Expected [late], got %v", got)
	}
}

func TestBySubjectFolds(t *testing.T) {
	start := time.Date(2025, 7, 24, 14, 0, 0, 0, brt)
	events := []domain.CalendarEvent{
		ev("a", "Física", start),
		ev("b", "Educação Física", start),
		ev("c", "Química", start),
	}
	got := ids(BySubject(events, "FISICA"))
	if !equalIDs(got, []string{"a", "b"}) {
		t.Errorf("Expected [a b], got %v", got)
	}
	if got := BySubject(events, " "); got != nil {
		t.Errorf("Expected blank subject to match nothing, got %v", got)
	}
}

func TestSortByStartIsStableCopy(t *testing.T) {
	base := time.Date(2025, 7, 24, 8, 0, 0, 0, brt)
	events := []domain.CalendarEvent{
		ev("late", "Física", base.Add(2*time.Hour)),
		ev("tie-1", "Física", base),
		ev("tie-2", "Física", base),
	}
	got := ids(SortByStart(events))
	if !equalIDs(got, []string{"tie-1", "tie-2", "late"}) {
		t.Errorf("Unexpected order %v", got)
	}
	if events[0].ID != "late" {
		t.Error("Expected input to be left untouched")
	}
}

func TestUpcomingAndCounts(t *testing.T) {
	now := time.Date(2025, 7, 24, 12, 0, 0, 0, brt)
	events := []domain.CalendarEvent{
		ev("past", "Física", now.Add(-3*time.Hour)),
		ev("running", "Física", now.Add(-30*time.Minute)),
		ev("future", "Física", now.Add(time.Hour)),
	}
	events[0].Status = domain.StatusCompleted
	if got := ids(Upcoming(events, now)); !equalIDs(got, []string{"running", "future"}) {
		t.Errorf("Unexpected upcoming events %v", got)
	}
	counts := StatusCounts(events)
	if counts[domain.StatusCompleted] != 1 || counts[domain.StatusScheduled] != 2 {
		t.Errorf("Unexpected counts %v", counts)
	}
}
