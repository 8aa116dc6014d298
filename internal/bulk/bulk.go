// Package bulk applies one mutation to many calendar events, sequentially,
// isolating per-item failures and reporting an aggregate result.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/study-planner/internal/calendar"
	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/domain"
)

// Default inter-item delays.
const (
	DefaultDeleteDelay = 100 * time.Millisecond
	DefaultCreateDelay = 200 * time.Millisecond
)

// Operation names used in logs and metric labels.
const (
	OpDeleteBySubject = "delete_by_subject"
	OpDeleteByDate    = "delete_by_date"
	OpDeleteByWeek    = "delete_by_week"
	OpDeleteAll       = "delete_all"
	OpCreateMany      = "create_many"
	OpUpdateMany      = "update_many"
)

// Precondition errors. Per-item failures are never returned as errors.
var (
	ErrNilStore     = errors.New("bulk: event store is nil")
	ErrInvalidDate  = errors.New("bulk: invalid target date")
	ErrInvalidWeek  = errors.New("bulk: invalid week selector")
	ErrInvalidPatch = errors.New("bulk: patch changes nothing")
)

// EventStore persists single-event mutations.
type EventStore interface {
	CreateEvent(ctx context.Context, draft domain.EventDraft) error
	UpdateEvent(ctx context.Context, id string, patch domain.EventPatch) error
	DeleteEvent(ctx context.Context, id string) error
}

// Celebrator receives the summary of a batch that had at least one success.
// Implementations must not block.
type Celebrator func(message string)

// Week selects the current or the next Sunday-based week.
type Week int

const (
	WeekCurrent Week = iota
	WeekNext
)

func (w Week) String() string {
	switch w {
	case WeekCurrent:
		return "current"
	case WeekNext:
		return "next"
	default:
		return fmt.Sprintf("Week(%d)", int(w))
	}
}

// Result is the aggregate outcome of a batch. Total is fixed before the
// first item runs and equals SuccessCount+FailCount once the batch returns.
type Result struct {
	SuccessCount int `json:"success_count"`
	FailCount    int `json:"fail_count"`
	Total        int `json:"total"`
}

// AllSucceeded reports whether a non-empty batch had no failures.
func (r Result) AllSucceeded() bool {
	return r.Total > 0 && r.FailCount == 0
}

// Orchestrator runs batches against an EventStore.
type Orchestrator struct {
	store       EventStore
	celebrate   Celebrator
	deleteDelay time.Duration
	createDelay time.Duration
	now         func() time.Time
	sleep       func(time.Duration)
	location    *time.Location
	metrics     *Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCelebrator sets the success notification hook.
func WithCelebrator(c Celebrator) Option {
	return func(o *Orchestrator) { o.celebrate = c }
}

// WithDeleteDelay sets the pause between delete and update calls.
func WithDeleteDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.deleteDelay = d }
}

// WithCreateDelay sets the pause between create calls.
func WithCreateDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.createDelay = d }
}

// WithClock overrides time.Now, used to anchor week selection.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep overrides the inter-item pause.
func WithSleep(sleep func(time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithLocation sets the calendar location for week and day arithmetic.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) { o.location = loc }
}

// WithMetrics replaces the default-registry metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New builds an Orchestrator over store.
func New(store EventStore, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	o := &Orchestrator{
		store:       store,
		deleteDelay: DefaultDeleteDelay,
		createDelay: DefaultCreateDelay,
		now:         time.Now,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = defaultMetrics()
	}
	return o, nil
}

// DeleteBySubject deletes the events whose subject or title contains subject,
// ignoring accents and case.
func (o *Orchestrator) DeleteBySubject(ctx context.Context, events []domain.CalendarEvent, subject string) (Result, error) {
	targets := calendar.BySubject(events, subject)
	return o.deleteEach(ctx, OpDeleteBySubject, targets), nil
}

// DeleteByDate deletes the events that start on day's calendar day.
func (o *Orchestrator) DeleteByDate(ctx context.Context, events []domain.CalendarEvent, day time.Time) (Result, error) {
	if day.IsZero() {
		return Result{}, ErrInvalidDate
	}
	if o.location != nil {
		day = day.In(o.location)
	}
	targets := calendar.OnDay(events, day)
	return o.deleteEach(ctx, OpDeleteByDate, targets), nil
}

// DeleteByWeek deletes the events starting in the current or next week.
func (o *Orchestrator) DeleteByWeek(ctx context.Context, events []domain.CalendarEvent, which Week) (Result, error) {
	r, err := o.WeekRange(which)
	if err != nil {
		return Result{}, err
	}
	targets := calendar.FilterByRange(events, r)
	return o.deleteEach(ctx, OpDeleteByWeek, targets), nil
}

// DeleteAll deletes every event in the snapshot.
func (o *Orchestrator) DeleteAll(ctx context.Context, events []domain.CalendarEvent) (Result, error) {
	return o.deleteEach(ctx, OpDeleteAll, events), nil
}

// CreateMany creates every draft.
func (o *Orchestrator) CreateMany(ctx context.Context, drafts []domain.EventDraft) (Result, error) {
	res := o.run(OpCreateMany, len(drafts), o.createDelay, func(i int) error {
		return o.store.CreateEvent(ctx, drafts[i])
	})
	return res, nil
}

// UpdateMany applies patch to every event in events.
func (o *Orchestrator) UpdateMany(ctx context.Context, events []domain.CalendarEvent, patch domain.EventPatch) (Result, error) {
	if patch.IsEmpty() {
		return Result{}, ErrInvalidPatch
	}
	res := o.run(OpUpdateMany, len(events), o.deleteDelay, func(i int) error {
		return o.store.UpdateEvent(ctx, events[i].ID, patch)
	})
	return res, nil
}

// WeekRange returns the Sunday-based range for which, anchored at the
// orchestrator clock.
func (o *Orchestrator) WeekRange(which Week) (datecontext.Range, error) {
	var offset int
	switch which {
	case WeekCurrent:
		offset = 0
	case WeekNext:
		offset = 1
	default:
		return datecontext.Range{}, fmt.Errorf("%w: %s", ErrInvalidWeek, which)
	}
	now := o.now()
	if o.location != nil {
		now = now.In(o.location)
	}
	return datecontext.WeekRange(now, offset), nil
}

func (o *Orchestrator) deleteEach(ctx context.Context, op string, targets []domain.CalendarEvent) Result {
	return o.run(op, len(targets), o.deleteDelay, func(i int) error {
		return o.store.DeleteEvent(ctx, targets[i].ID)
	})
}

// run invokes call for indexes 0..total-1 in order, pausing between calls.
// Context cancellation does not stop the loop; the store sees ctx and may
// fail fast on its own.
func (o *Orchestrator) run(op string, total int, delay time.Duration, call func(i int) error) Result {
	res := Result{Total: total}
	if total == 0 {
		return res
	}

	for i := 0; i < total; i++ {
		if i > 0 && delay > 0 {
			o.sleep(delay)
		}
		if err := call(i); err != nil {
			res.FailCount++
			slog.Warn("Bulk item failed",
				"op", op,
				"index", i,
				"error", err)
			continue
		}
		res.SuccessCount++
	}

	slog.Info("Bulk batch finished",
		"op", op,
		"total", res.Total,
		"success", res.SuccessCount,
		"failed", res.FailCount)
	o.metrics.observe(op, res)

	if res.SuccessCount > 0 && o.celebrate != nil {
		o.celebrate(CelebrationMessage(op, res))
	}
	return res
}
