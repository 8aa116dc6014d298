// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/study-planner/internal/domain"
)

// Repository defines the interface for persisting users, calendar events and
// chat sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListEvents returns all events of a user ordered by start.
	ListEvents(ctx context.Context, userID string) ([]domain.CalendarEvent, error)

	// ListEventsBetween returns the events of a user starting in [from, to).
	ListEventsBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.CalendarEvent, error)

	// GetEvent returns one event. Returns ErrNotFound when the event does not
	// exist or belongs to another user.
	GetEvent(ctx context.Context, userID, eventID string) (*domain.CalendarEvent, error)

	// CreateEvent inserts a validated event.
	CreateEvent(ctx context.Context, event *domain.CalendarEvent) error

	// UpdateEvent overwrites the mutable fields of an existing event.
	UpdateEvent(ctx context.Context, event *domain.CalendarEvent) error

	// DeleteEvent removes one event. Returns ErrNotFound when nothing matched.
	DeleteEvent(ctx context.Context, userID, eventID string) error

	// AdvanceEventStatuses moves started events to in_progress and ended
	// events to completed, as of now.
	AdvanceEventStatuses(ctx context.Context, now time.Time) (started int64, completed int64, err error)

	// GetChatSession retrieves chat state. Returns nil, nil when absent.
	GetChatSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error)

	// UpsertChatSession creates or updates chat state.
	UpsertChatSession(ctx context.Context, session *domain.ChatSession) error

	// DeleteChatSession removes chat state.
	DeleteChatSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredChatSessions removes sessions idle for longer than ttl.
	CleanupExpiredChatSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
