// Package datecontext resolves relative date phrases ("hoje", "próxima semana",
// "sexta") into absolute days and half-open ranges.
package datecontext

import (
	"time"

	"github.com/ashureev/study-planner/internal/textnorm"
)

// Range is a half-open interval [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(r.Start.UTC()) && t.Before(r.End.UTC())
}

// DateContext is the resolved form of a date phrase. An empty Label means no
// phrase was recognized, in which case Target and Range are both nil.
type DateContext struct {
	Target *time.Time `json:"target,omitempty"`
	Range  *Range     `json:"range,omitempty"`
	Label  string     `json:"label"`
}

// IsZero reports whether no date phrase was recognized.
func (c DateContext) IsZero() bool {
	return c.Label == "" && c.Target == nil && c.Range == nil
}

// Labels shown to the user.
const (
	LabelToday     = "hoje"
	LabelTomorrow  = "amanhã"
	LabelDayAfter  = "depois de amanhã"
	LabelThisWeek  = "esta semana"
	LabelNextWeek  = "próxima semana"
	LabelThisMonth = "este mês"
	LabelNextMonth = "próximo mês"
)

const (
	dayLength           = 24 * time.Hour
	daysPerWeek         = 7
	dayAfterTomorrowPhr = "depois de amanha"
	dayAfterTomorrowEn  = "day after tomorrow"
)

// Resolver turns messages into DateContext values. The zero value resolves in
// the reference instant's own location.
type Resolver struct {
	// Location, when set, overrides the reference instant's location for
	// calendar-day arithmetic.
	Location *time.Location
}

type pattern struct {
	name    string
	match   func(tokens []string) bool
	resolve func(day time.Time, tokens []string) DateContext
}

// patterns are tested in order and the first match wins. Several of them can
// co-occur in one message, so the order is part of the contract.
var patterns = []pattern{
	{
		name:  "today",
		match: anyOf("hoje", "today"),
		resolve: func(day time.Time, _ []string) DateContext {
			return dayContext(day, LabelToday)
		},
	},
	{
		name:  "tomorrow",
		match: matchTomorrow,
		resolve: func(day time.Time, _ []string) DateContext {
			return dayContext(day.AddDate(0, 0, 1), LabelTomorrow)
		},
	},
	{
		name:  "day_after_tomorrow",
		match: anyOf(dayAfterTomorrowPhr, dayAfterTomorrowEn),
		resolve: func(day time.Time, _ []string) DateContext {
			return dayContext(day.AddDate(0, 0, 2), LabelDayAfter)
		},
	},
	{
		name:  "this_week",
		match: anyOf("esta semana", "essa semana", "nesta semana", "nessa semana", "desta semana", "dessa semana", "this week"),
		resolve: func(day time.Time, _ []string) DateContext {
			r := WeekRange(day, 0)
			return DateContext{Range: &r, Label: LabelThisWeek}
		},
	},
	{
		name:  "next_week",
		match: anyOf("proxima semana", "semana que vem", "next week"),
		resolve: func(day time.Time, _ []string) DateContext {
			r := WeekRange(day, 1)
			return DateContext{Range: &r, Label: LabelNextWeek}
		},
	},
	{
		name:  "month",
		match: func(tokens []string) bool { return matchThisMonth(tokens) || matchNextMonth(tokens) },
		resolve: func(day time.Time, tokens []string) DateContext {
			if matchThisMonth(tokens) {
				r := MonthRange(day, 0)
				return DateContext{Range: &r, Label: LabelThisMonth}
			}
			r := MonthRange(day, 1)
			return DateContext{Range: &r, Label: LabelNextMonth}
		},
	},
	{
		name: "weekday",
		match: func(tokens []string) bool {
			_, ok := findWeekday(tokens)
			return ok
		},
		resolve: func(day time.Time, tokens []string) DateContext {
			wd, _ := findWeekday(tokens)
			offset := (int(wd) - int(day.Weekday()) + daysPerWeek) % daysPerWeek
			return dayContext(day.AddDate(0, 0, offset), weekdayLabels[wd])
		},
	},
}

var (
	matchThisMonth = anyOf("este mes", "esse mes", "neste mes", "nesse mes", "deste mes", "desse mes", "this month")
	matchNextMonth = anyOf("proximo mes", "mes que vem", "next month")
)

// Resolve resolves message against ref using the zero Resolver.
func Resolve(message string, ref time.Time) DateContext {
	return Resolver{}.Resolve(message, ref)
}

// Resolve returns the DateContext for the first date phrase pattern that
// matches message, or the zero DateContext when none does.
func (r Resolver) Resolve(message string, ref time.Time) DateContext {
	if r.Location != nil {
		ref = ref.In(r.Location)
	}
	tokens := textnorm.Tokens(message)
	if len(tokens) == 0 {
		return DateContext{}
	}
	day := StartOfDay(ref)
	for _, p := range patterns {
		if p.match(tokens) {
			return p.resolve(day, tokens)
		}
	}
	return DateContext{}
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekRange returns the Sunday-started week containing ref, shifted by
// offsetWeeks whole weeks.
func WeekRange(ref time.Time, offsetWeeks int) Range {
	day := StartOfDay(ref)
	start := day.AddDate(0, 0, -int(day.Weekday())+offsetWeeks*daysPerWeek)
	return Range{Start: start, End: start.AddDate(0, 0, daysPerWeek)}
}

// MonthRange returns the calendar month containing ref, shifted by
// offsetMonths.
func MonthRange(ref time.Time, offsetMonths int) Range {
	y, m, _ := ref.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, ref.Location()).AddDate(0, offsetMonths, 0)
	return Range{Start: start, End: start.AddDate(0, 1, 0)}
}

// DayRange returns [day, day+24h) for the calendar day containing t.
func DayRange(t time.Time) Range {
	start := StartOfDay(t)
	return Range{Start: start, End: start.Add(dayLength)}
}

func dayContext(day time.Time, label string) DateContext {
	target := day
	r := DayRange(day)
	return DateContext{Target: &target, Range: &r, Label: label}
}

func anyOf(phrases ...string) func([]string) bool {
	return func(tokens []string) bool {
		return textnorm.ContainsAny(tokens, phrases...)
	}
}

// matchTomorrow ignores "amanha"/"tomorrow" when it is the tail of the
// day-after-tomorrow phrase.
func matchTomorrow(tokens []string) bool {
	return hasStandalone(tokens, "amanha", dayAfterTomorrowPhr) ||
		hasStandalone(tokens, "tomorrow", dayAfterTomorrowEn)
}

func hasStandalone(tokens []string, word, longer string) bool {
	tail := len(textnorm.Tokens(longer)) - 1
	covered := make(map[int]bool)
	for _, i := range textnorm.PhraseIndexes(tokens, longer) {
		covered[i+tail] = true
	}
	for _, i := range textnorm.PhraseIndexes(tokens, word) {
		if !covered[i] {
			return true
		}
	}
	return false
}
