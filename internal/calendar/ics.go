package calendar

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
)

const (
	productID = "-//study-planner//assistant//PT"

	propColor       = ical.ComponentProperty("COLOR")
	propStudyStatus = ical.ComponentProperty("X-STUDY-STATUS")
)

// ExportICS serializes events into a VCALENDAR document.
func ExportICS(name string, events []domain.CalendarEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, e := range SortByStart(events) {
		ev := cal.AddEvent(e.ID)
		ev.SetDtStampTime(now)
		ev.SetCreatedTime(e.CreatedAt)
		ev.SetModifiedAt(e.UpdatedAt)
		ev.SetStartAt(e.Start)
		ev.SetEndAt(e.End)
		ev.SetSummary(e.Title)
		if e.Subject != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, e.Subject)
		}
		ev.SetProperty(ical.ComponentPropertyPriority, strconv.Itoa(toICSPriority(e.Priority)))
		ev.SetProperty(ical.ComponentPropertyStatus, toICSStatus(e.Status))
		ev.SetProperty(propStudyStatus, string(e.Status))
		if e.Color != "" {
			ev.SetProperty(propColor, e.Color)
		}
	}
	return cal.Serialize()
}

// ImportOptions controls ICS import.
type ImportOptions struct {
	// Window bounds recurring rule expansion. Single events are imported
	// regardless of the window.
	Window datecontext.Range
	// MaxOccurrences caps each recurring event.
	MaxOccurrences int
	// Location is applied to the imported instants. Nil keeps UTC.
	Location *time.Location
}

// ImportResult is the outcome of parsing an ICS payload.
type ImportResult struct {
	Drafts  []domain.EventDraft
	Skipped int
}

// ErrEmptyCalendar is returned for an empty ICS body.
var ErrEmptyCalendar = errors.New("empty ICS body")

// ImportICS parses VEVENTs into drafts, expanding RRULEs inside the window.
// Malformed events are skipped and counted rather than failing the import.
func ImportICS(r io.Reader, opts ImportOptions) (ImportResult, error) {
	var res ImportResult
	if r == nil {
		return res, ErrEmptyCalendar
	}
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return res, fmt.Errorf("parse calendar: %w", err)
	}

	for _, ve := range cal.Events() {
		drafts, perr := veventDrafts(ve, opts)
		if perr != nil {
			slog.Warn("Skipping ICS event", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "error", perr)
			res.Skipped++
			continue
		}
		res.Drafts = append(res.Drafts, drafts...)
	}
	return res, nil
}

func veventDrafts(ve *ical.VEvent, opts ImportOptions) ([]domain.EventDraft, error) {
	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("read DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start.Add(domain.DefaultDuration)
	}
	if opts.Location != nil {
		start = start.In(opts.Location)
		end = end.In(opts.Location)
	}

	base := domain.EventDraft{
		Title:    propValue(ve, ical.ComponentPropertySummary),
		Subject:  firstCategory(propValue(ve, ical.ComponentPropertyCategories)),
		Color:    propValue(ve, propColor),
		Status:   fromICSStatus(propValue(ve, propStudyStatus), propValue(ve, ical.ComponentPropertyStatus)),
		Priority: fromICSPriority(propValue(ve, ical.ComponentPropertyPriority)),
	}
	if base.Title == "" {
		base.Title = base.Subject
	}
	if base.Title == "" {
		return nil, errors.New("event has no summary")
	}

	raw := propValue(ve, ical.ComponentPropertyRrule)
	if raw == "" {
		d := base
		d.Start, d.End = start, end
		return []domain.EventDraft{d}, nil
	}

	if opts.Window.End.IsZero() {
		return nil, errors.New("recurring event needs an import window")
	}
	var exdates []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part)); err == nil {
				exdates = append(exdates, t)
			}
		}
	}
	occ, truncated, err := Expand(raw, start, exdates, opts.Window, opts.MaxOccurrences)
	if err != nil {
		return nil, err
	}
	if truncated {
		slog.Warn("Truncated recurring ICS event", "uid", propValue(ve, ical.ComponentPropertyUniqueId), "count", len(occ))
	}
	dur := end.Sub(start)
	out := make([]domain.EventDraft, 0, len(occ))
	for _, s := range occ {
		d := base
		d.Start, d.End = s, s.Add(dur)
		out = append(out, d)
	}
	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func firstCategory(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// parseICSTime handles the UTC, floating and date-only forms used by EXDATE.
func parseICSTime(v string) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	default:
		return time.ParseInLocation("20060102", v, time.UTC)
	}
}

// ICS priorities run 1 (highest) to 9 (lowest), 0 meaning undefined.
func toICSPriority(p int) int {
	switch p {
	case domain.PriorityHigh:
		return 1
	case domain.PriorityLow:
		return 9
	default:
		return 5
	}
}

func fromICSPriority(v string) int {
	n, err := strconv.Atoi(v)
	switch {
	case err != nil || n == 0 || n == 5:
		return domain.PriorityDefault
	case n < 5:
		return domain.PriorityHigh
	default:
		return domain.PriorityLow
	}
}

func toICSStatus(s domain.EventStatus) string {
	if s == domain.StatusCancelled {
		return "CANCELLED"
	}
	return "CONFIRMED"
}

func fromICSStatus(custom, standard string) domain.EventStatus {
	if s := domain.EventStatus(strings.ToLower(custom)); s.Valid() {
		return s
	}
	if strings.EqualFold(standard, "CANCELLED") {
		return domain.StatusCancelled
	}
	return domain.StatusScheduled
}
