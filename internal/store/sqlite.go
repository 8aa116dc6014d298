package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/study-planner/internal/domain"
	"github.com/ashureev/study-planner/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db            *sql.DB
	chatSessionMu sync.Mutex // Serializes chat session writes to prevent SQLITE_BUSY
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 2,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user_start ON events(user_id, start_at);
	CREATE INDEX IF NOT EXISTS idx_events_status_end ON events(status, end_at);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		pending_json TEXT,
		messages_json TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

const eventColumns = `id, user_id, title, subject, start_at, end_at, status, color, priority, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.CalendarEvent, error) {
	var e domain.CalendarEvent
	var status string
	var startAt, endAt, createdAt, updatedAt int64

	err := row.Scan(
		&e.ID, &e.UserID, &e.Title, &e.Subject,
		&startAt, &endAt, &status, &e.Color, &e.Priority,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return e, err
	}

	e.Status = domain.EventStatus(status)
	e.Start = time.Unix(startAt, 0)
	e.End = time.Unix(endAt, 0)
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return e, nil
}

func (s *SQLiteStore) queryEvents(ctx context.Context, op, query string, args ...any) ([]domain.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapEventErr(op, "", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []domain.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapEventErr(op, "", fmt.Errorf("scan row: %w", err))
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapEventErr(op, "", fmt.Errorf("iterate rows: %w", err))
	}
	return events, nil
}

// ListEvents returns all events of a user ordered by start.
func (s *SQLiteStore) ListEvents(ctx context.Context, userID string) ([]domain.CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE user_id = ? ORDER BY start_at, created_at`
	return s.queryEvents(ctx, "list", query, userID)
}

// ListEventsBetween returns the events of a user starting in [from, to).
func (s *SQLiteStore) ListEventsBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE user_id = ? AND start_at >= ? AND start_at < ?
		ORDER BY start_at, created_at`
	return s.queryEvents(ctx, "list", query, userID, from.Unix(), to.Unix())
}

// GetEvent returns one event owned by userID.
func (s *SQLiteStore) GetEvent(ctx context.Context, userID, eventID string) (*domain.CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ? AND user_id = ?`
	e, err := scanEvent(s.db.QueryRowContext(ctx, query, eventID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapEventErr("get", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, wrapEventErr("get", eventID, err)
	}
	return &e, nil
}

// CreateEvent inserts a validated event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *domain.CalendarEvent) error {
	if err := e.Validate(); err != nil {
		return wrapEventErr("create", e.ID, err)
	}
	query := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.Title, e.Subject,
		e.Start.Unix(), e.End.Unix(), string(e.Status), e.Color, e.Priority,
		e.CreatedAt.Unix(), e.UpdatedAt.Unix(),
	)
	return wrapEventErr("create", e.ID, err)
}

// UpdateEvent overwrites the mutable fields of an existing event.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, e *domain.CalendarEvent) error {
	if err := e.Validate(); err != nil {
		return wrapEventErr("update", e.ID, err)
	}
	query := `
		UPDATE events SET
			title = ?, subject = ?, start_at = ?, end_at = ?,
			status = ?, color = ?, priority = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`
	result, err := s.db.ExecContext(ctx, query,
		e.Title, e.Subject, e.Start.Unix(), e.End.Unix(),
		string(e.Status), e.Color, e.Priority, e.UpdatedAt.Unix(),
		e.ID, e.UserID,
	)
	if err != nil {
		return wrapEventErr("update", e.ID, err)
	}
	return wrapEventErr("update", e.ID, requireRow(result))
}

// DeleteEvent removes one event owned by userID.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, userID, eventID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return wrapEventErr("delete", eventID, err)
	}
	return wrapEventErr("delete", eventID, requireRow(result))
}

// AdvanceEventStatuses completes ended events, then marks started ones as
// in progress. Cancelled and completed events are never touched.
func (s *SQLiteStore) AdvanceEventStatuses(ctx context.Context, now time.Time) (int64, int64, error) {
	ts := now.Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin status sweep: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back status sweep", "error", rbErr)
		}
	}()

	completedRes, err := tx.ExecContext(ctx, `
		UPDATE events SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND end_at <= ?`,
		string(domain.StatusCompleted), ts,
		string(domain.StatusScheduled), string(domain.StatusInProgress), ts,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("complete ended events: %w", err)
	}
	startedRes, err := tx.ExecContext(ctx, `
		UPDATE events SET status = ?, updated_at = ?
		WHERE status = ? AND start_at <= ? AND end_at > ?`,
		string(domain.StatusInProgress), ts,
		string(domain.StatusScheduled), ts, ts,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("start running events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit status sweep: %w", err)
	}

	completed, err := completedRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("get rows affected: %w", err)
	}
	started, err := startedRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("get rows affected: %w", err)
	}
	return started, completed, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetChatSession retrieves chat state for a user and tab session.
func (s *SQLiteStore) GetChatSession(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error) {
	s.chatSessionMu.Lock()
	defer s.chatSessionMu.Unlock()

	query := `
		SELECT user_id, session_id, pending_json, messages_json, created_at, updated_at
		FROM chat_sessions WHERE user_id = ? AND session_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, sessionID)

	var session domain.ChatSession
	var pendingJSON sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.UserID, &session.SessionID, &pendingJSON,
		&session.MessagesJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapSessionErr("get", sessionID, err)
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	if pendingJSON.Valid {
		session.PendingJSON = &pendingJSON.String
	}

	return &session, nil
}

// UpsertChatSession creates or updates chat state. A nil PendingJSON clears
// the pending offer.
func (s *SQLiteStore) UpsertChatSession(ctx context.Context, session *domain.ChatSession) error {
	s.chatSessionMu.Lock()
	defer s.chatSessionMu.Unlock()

	query := `
		INSERT INTO chat_sessions (
			user_id, session_id, pending_json, messages_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			pending_json = excluded.pending_json,
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`

	var pendingJSON interface{}
	if session.PendingJSON != nil {
		pendingJSON = *session.PendingJSON
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		session.UserID, session.SessionID, pendingJSON, session.MessagesJSON,
		createdAt.Unix(), time.Now().Unix(),
	)
	return wrapSessionErr("upsert", session.SessionID, err)
}

// DeleteChatSession removes chat state, retrying on SQLITE_BUSY.
func (s *SQLiteStore) DeleteChatSession(ctx context.Context, userID, sessionID string) error {
	return shared.RetryOnConflict(ctx, "delete chat session", 3, 100*time.Millisecond, func(ctx context.Context) error {
		s.chatSessionMu.Lock()
		defer s.chatSessionMu.Unlock()

		_, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID)
		return wrapSessionErr("delete", sessionID, err)
	})
}

// CleanupExpiredChatSessions removes sessions not updated within ttl.
func (s *SQLiteStore) CleanupExpiredChatSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired chat sessions: %w", err)
	}
	return result.RowsAffected()
}
