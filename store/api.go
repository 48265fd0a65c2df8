package store

//go:generate mockgen -destination=mock/mock_store.go -package=store_mock github.com/mqy/minispace/store ISpaceStore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mqy/minispace/chatstore"
)

var ErrSpaceNotFound = errors.New("space not found")

// SpaceRow is the persisted part of a space.
type SpaceRow struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Type       string    `json:"space_type"`
	CreateTime time.Time `json:"create_time"`
	UpdateTime time.Time `json:"update_time"`
}

// ISpaceStore is the persistence collaborator shared by everything scoped to a space.
type ISpaceStore interface {
	// SendMessage persists a validated draft, returns the message with server issued id and time.
	SendMessage(ctx context.Context, spaceID string, authorID int32, draft chatstore.Draft) (*chatstore.Message, error)

	// UpdateSpace sets the space type. Returns ErrSpaceNotFound if the space does not exist.
	UpdateSpace(ctx context.Context, spaceID, spaceType string) error

	// GetSpace returns ErrSpaceNotFound if the space does not exist.
	GetSpace(ctx context.Context, spaceID string) (*SpaceRow, error)

	// CreateSpace inserts the space, or returns the existing one.
	CreateSpace(ctx context.Context, row *SpaceRow) (*SpaceRow, error)

	// GetMessages gets at most `limit` latest messages, order by create time ASC.
	GetMessages(ctx context.Context, spaceID string, limit int) ([]*chatstore.Message, error)
}

// PersistenceError wraps a failed call to ISpaceStore.
// Local optimistic state has been rolled back when the caller sees it.
type PersistenceError struct {
	Op      string
	SpaceID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s space `%s`: %v", e.Op, e.SpaceID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func NewPersistenceError(op, spaceID string, err error) *PersistenceError {
	return &PersistenceError{Op: op, SpaceID: spaceID, Err: err}
}
