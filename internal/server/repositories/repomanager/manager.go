// Package repomanager wires repository implementations to a storage
// backend and owns transaction boundaries for the sync service.
package repomanager

import (
	"context"

	"github.com/dkrasnov/notesync/internal/dbx"
	"github.com/dkrasnov/notesync/internal/server/repositories/changelog"
	"github.com/dkrasnov/notesync/internal/server/repositories/notes"
)

type RepositoryManager interface {
	// RunMigrations brings the backing schema up to date.
	RunMigrations(ctx context.Context) error

	// InTx runs fn atomically. On SQL backends this is a database
	// transaction; the in-memory backend serializes callers with a lock
	// so read-modify-write of the same note never races.
	InTx(ctx context.Context, fn func(ctx context.Context, db dbx.DBTX) error) error

	// Notes returns the note repository bound to db. Passing nil binds
	// to the manager's root handle.
	Notes(db dbx.DBTX) notes.Repository

	// Changes returns the change log repository bound to db.
	Changes(db dbx.DBTX) changelog.Repository
}
