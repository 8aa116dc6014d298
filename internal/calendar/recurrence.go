package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/ashureev/study-planner/internal/datecontext"
)

// DefaultMaxOccurrences caps how many instances one rule may expand into.
const DefaultMaxOccurrences = 500

// ErrInvalidCount is returned when a recurrence would produce no instances.
var ErrInvalidCount = errors.New("recurrence count must be positive")

// Weekly returns count weekly occurrences starting at start, in start's
// location.
func Weekly(start time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.WEEKLY,
		Count:   count,
		Dtstart: start,
	})
	if err != nil {
		return nil, fmt.Errorf("build weekly rule: %w", err)
	}
	return r.All(), nil
}

// Expand parses an RRULE value anchored at start and returns the instances
// inside window, at most limit of them (DefaultMaxOccurrences when limit is
// not positive). The second return value reports truncation.
func Expand(raw string, start time.Time, exdates []time.Time, window datecontext.Range, limit int) ([]time.Time, bool, error) {
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, false, fmt.Errorf("parse rrule %q: %w", raw, err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex.In(start.Location()))
	}

	// The window end is exclusive for every other range in the planner.
	occ := set.Between(window.Start.In(start.Location()), window.End.In(start.Location()), true)
	if n := len(occ); n > 0 && !occ[n-1].Before(window.End) {
		occ = occ[:n-1]
	}
	if len(occ) > limit {
		return occ[:limit], true, nil
	}
	return occ, false, nil
}
