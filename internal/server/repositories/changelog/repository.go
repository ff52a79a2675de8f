// Package changelog persists the append-only mutation ledger. Entries are
// never updated or deleted; the change id doubles as the idempotency key
// for retried client submissions.
package changelog

import (
	"context"

	"github.com/dkrasnov/notesync/internal/server/models"
)

type Repository interface {
	// Append writes one ledger entry. Appending an already-recorded
	// change id is an error; callers must check FindByChangeID first.
	Append(ctx context.Context, entry *models.ChangeLogEntry) error

	// FindByChangeID returns the recorded entry for an idempotency check,
	// or common.ErrNotFound.
	FindByChangeID(ctx context.Context, userID, changeID string) (*models.ChangeLogEntry, error)

	// ListByUserRange returns entries with applied_at_s in [from, to],
	// oldest first. Used by audit and reconciliation tooling.
	ListByUserRange(ctx context.Context, userID string, from, to int64) ([]*models.ChangeLogEntry, error)
}
