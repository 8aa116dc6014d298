package domain

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/ashureev/study-planner/internal/textnorm"
)

// EventStatus is the lifecycle state of a calendar event.
type EventStatus string

const (
	StatusScheduled  EventStatus = "scheduled"
	StatusInProgress EventStatus = "in_progress"
	StatusCompleted  EventStatus = "completed"
	StatusCancelled  EventStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority bounds.
const (
	PriorityLow     = 1
	PriorityDefault = 2
	PriorityHigh    = 3
)

// DefaultDuration is the length of an event created without an explicit end.
const DefaultDuration = time.Hour

// DefaultColor is used for events without a subject.
const DefaultColor = "#3b82f6"

var subjectPalette = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e",
	"#14b8a6", "#06b6d4", "#6366f1", "#a855f7",
	"#ec4899", "#84cc16",
}

// ColorForSubject maps a subject to a stable palette color. Accents and
// case do not change the result.
func ColorForSubject(subject string) string {
	folded := textnorm.Fold(strings.TrimSpace(subject))
	if folded == "" {
		return DefaultColor
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(folded))
	return subjectPalette[h.Sum32()%uint32(len(subjectPalette))]
}

// Validation errors.
var (
	ErrEmptyTitle      = errors.New("event title is empty")
	ErrEndBeforeStart  = errors.New("event end is before start")
	ErrInvalidStatus   = errors.New("invalid event status")
	ErrInvalidPriority = errors.New("event priority must be between 1 and 3")
)

// CalendarEvent is one scheduled study activity.
type CalendarEvent struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Title     string      `json:"title"`
	Subject   string      `json:"subject,omitempty"`
	Start     time.Time   `json:"start"`
	End       time.Time   `json:"end"`
	Status    EventStatus `json:"status"`
	Color     string      `json:"color"`
	Priority  int         `json:"priority"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Validate checks the event invariants.
func (e *CalendarEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if e.End.Before(e.Start) {
		return ErrEndBeforeStart
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, e.Status)
	}
	if e.Priority < PriorityLow || e.Priority > PriorityHigh {
		return ErrInvalidPriority
	}
	return nil
}

// Duration returns End - Start.
func (e *CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Apply copies the non-nil patch fields onto e.
func (e *CalendarEvent) Apply(p EventPatch) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Subject != nil {
		e.Subject = *p.Subject
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
}

// EventDraft is the payload for creating an event.
type EventDraft struct {
	Title    string      `json:"title"`
	Subject  string      `json:"subject,omitempty"`
	Start    time.Time   `json:"start"`
	End      time.Time   `json:"end,omitempty"`
	Status   EventStatus `json:"status,omitempty"`
	Color    string      `json:"color,omitempty"`
	Priority int         `json:"priority,omitempty"`
}

// WithDefaults fills unset fields: scheduled status, default priority, a
// subject-derived color, a title from the subject and a one hour duration.
func (d EventDraft) WithDefaults() EventDraft {
	if d.Title == "" {
		d.Title = d.Subject
	}
	if d.Status == "" {
		d.Status = StatusScheduled
	}
	if d.Priority == 0 {
		d.Priority = PriorityDefault
	}
	if d.Color == "" {
		d.Color = ColorForSubject(d.Subject)
	}
	if d.End.IsZero() {
		d.End = d.Start.Add(DefaultDuration)
	}
	return d
}

// ToEvent builds a validated event from the draft.
func (d EventDraft) ToEvent(id, userID string, now time.Time) (*CalendarEvent, error) {
	d = d.WithDefaults()
	e := &CalendarEvent{
		ID:        id,
		UserID:    userID,
		Title:     d.Title,
		Subject:   d.Subject,
		Start:     d.Start,
		End:       d.End,
		Status:    d.Status,
		Color:     d.Color,
		Priority:  d.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// EventPatch is a partial update. Nil fields are left unchanged.
type EventPatch struct {
	Title    *string      `json:"title,omitempty"`
	Subject  *string      `json:"subject,omitempty"`
	Start    *time.Time   `json:"start,omitempty"`
	End      *time.Time   `json:"end,omitempty"`
	Status   *EventStatus `json:"status,omitempty"`
	Color    *string      `json:"color,omitempty"`
	Priority *int         `json:"priority,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p EventPatch) IsEmpty() bool {
	return p.Title == nil && p.Subject == nil && p.Start == nil && p.End == nil &&
		p.Status == nil && p.Color == nil && p.Priority == nil
}
