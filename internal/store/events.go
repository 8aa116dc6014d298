package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/study-planner/internal/domain"
)

// UserEvents scopes single-event mutations to one user. It satisfies the
// batch orchestrator's event store contract.
type UserEvents struct {
	repo   Repository
	userID string
	now    func() time.Time
	newID  func() string
}

// NewUserEvents returns the event mutations of userID backed by repo.
func NewUserEvents(repo Repository, userID string) *UserEvents {
	return &UserEvents{
		repo:   repo,
		userID: userID,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create persists a draft and returns the stored event.
func (u *UserEvents) Create(ctx context.Context, draft domain.EventDraft) (*domain.CalendarEvent, error) {
	e, err := draft.ToEvent(u.newID(), u.userID, u.now())
	if err != nil {
		return nil, wrapEventErr("create", "", err)
	}
	if err := u.repo.CreateEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Update applies patch to an existing event and returns the result.
func (u *UserEvents) Update(ctx context.Context, id string, patch domain.EventPatch) (*domain.CalendarEvent, error) {
	e, err := u.repo.GetEvent(ctx, u.userID, id)
	if err != nil {
		return nil, err
	}
	e.Apply(patch)
	e.UpdatedAt = u.now()
	if err := u.repo.UpdateEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateEvent implements the batch event store.
func (u *UserEvents) CreateEvent(ctx context.Context, draft domain.EventDraft) error {
	_, err := u.Create(ctx, draft)
	return err
}

// UpdateEvent implements the batch event store.
func (u *UserEvents) UpdateEvent(ctx context.Context, id string, patch domain.EventPatch) error {
	_, err := u.Update(ctx, id, patch)
	return err
}

// DeleteEvent implements the batch event store.
func (u *UserEvents) DeleteEvent(ctx context.Context, id string) error {
	return u.repo.DeleteEvent(ctx, u.userID, id)
}
