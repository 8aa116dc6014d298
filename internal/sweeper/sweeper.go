// Package sweeper advances event statuses and expires idle chat state on a
// cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/ashureev/study-planner/internal/shared"
	"github.com/ashureev/study-planner/internal/store"
)

const (
	defaultSchedule         = "@every 1m"
	defaultSessionRetention = 7 * 24 * time.Hour
	retryAttempts           = 3
	retryBaseDelay          = 100 * time.Millisecond
)

// Pruner forgets per-session notification state idle since before cutoff.
type Pruner interface {
	PruneBefore(cutoff time.Time) int
}

// Config tunes the sweeper.
type Config struct {
	// Schedule is a standard five-field cron expression or descriptor.
	Schedule string
	// SessionRetention is how long idle chat sessions and replay queues are kept.
	SessionRetention time.Duration
}

// Report is the outcome of one sweep.
type Report struct {
	Started         int64
	Completed       int64
	SessionsDeleted int64
	QueuesPruned    int
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	repo    store.Repository
	pruner  Pruner
	cfg     Config
	cron    *cron.Cron
	now     func() time.Time
	metrics *Metrics

	mu      sync.Mutex
	running bool
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithPruner also prunes notification replay queues on every sweep.
func WithPruner(p Pruner) Option {
	return func(s *Sweeper) { s.pruner = p }
}

// WithMetrics sets the sweep counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New validates the schedule and builds a stopped sweeper.
func New(repo store.Repository, cfg Config, opts ...Option) (*Sweeper, error) {
	if repo == nil {
		return nil, errors.New("sweeper: repository is nil")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.SessionRetention <= 0 {
		cfg.SessionRetention = defaultSessionRetention
	}

	logger := cronLogger{logger: slog.Default()}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Sweeper{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
			cron.WithLogger(logger),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := s.cron.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("Sweeper run failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is done. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("Sweeper started", "schedule", s.cfg.Schedule, "session_retention", s.cfg.SessionRetention)

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		slog.Info("Sweeper shutting down", "reason", ctx.Err())
	}()
}

// Sweep advances event statuses, then deletes idle chat sessions and
// replay queues. A failed step is logged and does not stop the others; the
// first error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var (
		report   Report
		firstErr error
	)
	now := s.now()

	err := shared.RetryOnConflict(ctx, "advance event statuses", retryAttempts, retryBaseDelay, func(ctx context.Context) error {
		started, completed, err := s.repo.AdvanceEventStatuses(ctx, now)
		report.Started, report.Completed = started, completed
		return err
	})
	if err != nil {
		slog.Error("Sweeper failed to advance event statuses", "error", err)
		firstErr = err
	}

	err = shared.RetryOnConflict(ctx, "cleanup chat sessions", retryAttempts, retryBaseDelay, func(ctx context.Context) error {
		deleted, err := s.repo.CleanupExpiredChatSessions(ctx, s.cfg.SessionRetention)
		report.SessionsDeleted = deleted
		return err
	})
	if err != nil {
		slog.Error("Sweeper failed to cleanup chat sessions", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if s.pruner != nil {
		report.QueuesPruned = s.pruner.PruneBefore(now.Add(-s.cfg.SessionRetention))
	}

	if report.Started > 0 || report.Completed > 0 || report.SessionsDeleted > 0 || report.QueuesPruned > 0 {
		slog.Info("Sweeper run completed",
			"started", report.Started,
			"completed", report.Completed,
			"sessions_deleted", report.SessionsDeleted,
			"queues_pruned", report.QueuesPruned)
	}
	s.metrics.observe(report, firstErr)
	return report, firstErr
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// Metrics counts sweep outcomes.
type Metrics struct {
	transitions *prometheus.CounterVec
	deleted     prometheus.Counter
	failures    prometheus.Counter
}

// MustNewMetrics registers the sweeper collectors with reg.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "planner",
			Subsystem: "sweeper",
			Name:      "status_transitions_total",
			Help:      "Events moved to a new status by the sweeper.",
		},
		[]string{"status"},
	)
	deleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "planner",
		Subsystem: "sweeper",
		Name:      "sessions_deleted_total",
		Help:      "Idle chat sessions deleted.",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "planner",
		Subsystem: "sweeper",
		Name:      "failures_total",
		Help:      "Sweeps that finished with an error.",
	})
	return &Metrics{
		transitions: shared.MustRegister(reg, transitions),
		deleted:     shared.MustRegister(reg, deleted),
		failures:    shared.MustRegister(reg, failures),
	}
}

func (m *Metrics) observe(r Report, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues("in_progress").Add(float64(r.Started))
	m.transitions.WithLabelValues("completed").Add(float64(r.Completed))
	m.deleted.Add(float64(r.SessionsDeleted))
	if err != nil {
		m.failures.Inc()
	}
}
