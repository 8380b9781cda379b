// Package sessions provides session and message persistence plus the
// per-session write lock that serializes turns.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/steward/pkg/models"
)

// ErrNotFound indicates the session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, ownerID string, opts ListOptions) ([]*models.Session, error)

	// Message history
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	IncludeArchived bool
	Limit           int
	Offset          int
}
