// Package calendar holds pure helpers over event snapshots plus ICS and
// recurrence conversion.
package calendar

import (
	"sort"
	"strings"
	"time"

	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
	"github.com/ashureev/study-planner/internal/textnorm"
)

// FilterByRange returns the events whose start lies in [r.Start, r.End).
// Instants are compared in UTC; input order is preserved.
func FilterByRange(events []domain.CalendarEvent, r datecontext.Range) []domain.CalendarEvent {
	var out []domain.CalendarEvent
	for _, e := range events {
		if r.Contains(e.Start) {
			out = append(out, e)
		}
	}
	return out
}

// OnDay returns the events that start on the same calendar day as day, in
// day's location.
func OnDay(events []domain.CalendarEvent, day time.Time) []domain.CalendarEvent {
	y, m, d := day.Date()
	loc := day.Location()
	var out []domain.CalendarEvent
	for _, e := range events {
		ey, em, ed := e.Start.In(loc).Date()
		if ey == y && em == m && ed == d {
			out = append(out, e)
		}
	}
	return out
}

// BySubject returns the events whose subject or title contains subject,
// ignoring accents and case. An empty subject matches nothing.
func BySubject(events []domain.CalendarEvent, subject string) []domain.CalendarEvent {
	want := textnorm.Fold(strings.TrimSpace(subject))
	if want == "" {
		return nil
	}
	var out []domain.CalendarEvent
	for _, e := range events {
		if strings.Contains(textnorm.Fold(e.Subject), want) || strings.Contains(textnorm.Fold(e.Title), want) {
			out = append(out, e)
		}
	}
	return out
}

// Upcoming returns events that have not ended by now.
func Upcoming(events []domain.CalendarEvent, now time.Time) []domain.CalendarEvent {
	var out []domain.CalendarEvent
	for _, e := range events {
		if !e.End.Before(now) {
			out = append(out, e)
		}
	}
	return out
}

// SortByStart returns a chronologically sorted copy. Ties keep input order.
func SortByStart(events []domain.CalendarEvent) []domain.CalendarEvent {
	out := make([]domain.CalendarEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// StatusCounts tallies events per status.
func StatusCounts(events []domain.CalendarEvent) map[domain.EventStatus]int {
	counts := make(map[domain.EventStatus]int, 4)
	for _, e := range events {
		counts[e.Status]++
	}
	return counts
}
