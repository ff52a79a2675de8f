package repomanager

import (
	"context"
	"sync"

	"github.com/dkrasnov/notesync/internal/dbx"
	"github.com/dkrasnov/notesync/internal/server/repositories/changelog"
	"github.com/dkrasnov/notesync/internal/server/repositories/notes"
)

// MemoryRepositoryManager keeps everything in process memory. Used by tests
// and by the server's "memory" DSN for local development. InTx serializes
// all batches with one lock, which is coarse but preserves the required
// per-note read-modify-write atomicity.
type MemoryRepositoryManager struct {
	mu      sync.Mutex
	notes   *notes.MemoryRepository
	changes *changelog.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		notes:   notes.NewMemoryRepository(),
		changes: changelog.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error {
	return nil
}

func (m *MemoryRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, db dbx.DBTX) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, nil)
}

func (m *MemoryRepositoryManager) Notes(dbx.DBTX) notes.Repository {
	return m.notes
}

func (m *MemoryRepositoryManager) Changes(dbx.DBTX) changelog.Repository {
	return m.changes
}
