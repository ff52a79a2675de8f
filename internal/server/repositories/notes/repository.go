package notes

import (
	"context"

	"github.com/dkrasnov/notesync/internal/server/models"
)

// Repository persists authoritative note rows. Every query is scoped by
// user id; note ids are only unique within a user.
type Repository interface {
	// GetForUpdate loads a note and, on transactional backends, locks the
	// row for the remainder of the transaction. Returns common.ErrNotFound
	// when no row exists.
	GetForUpdate(ctx context.Context, userID, noteID string) (*models.Note, error)

	// Get loads a note without locking.
	Get(ctx context.Context, userID, noteID string) (*models.Note, error)

	// Save upserts the note row.
	Save(ctx context.Context, note *models.Note) error

	// ListSince returns notes with updated_at_s strictly greater than
	// since, newest first. Tombstones are included only when requested.
	ListSince(ctx context.Context, userID string, since int64, includeDeleted bool) ([]*models.Note, error)
}
