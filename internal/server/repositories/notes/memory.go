package notes

import (
	"context"
	"sort"
	"sync"

	"github.com/dkrasnov/notesync/internal/common"
	"github.com/dkrasnov/notesync/internal/server/models"
)

// MemoryRepository is a map-backed Repository used for tests and dev mode.
// Row locking is approximated by the repository-wide mutex; callers relying
// on serialized read-modify-write must hold the manager's transaction lock.
type MemoryRepository struct {
	mu    sync.RWMutex
	notes map[string]models.Note
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{notes: make(map[string]models.Note)}
}

func key(userID, noteID string) string {
	return userID + "\x00" + noteID
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, userID, noteID string) (*models.Note, error) {
	return r.Get(ctx, userID, noteID)
}

func (r *MemoryRepository) Get(_ context.Context, userID, noteID string) (*models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notes[key(userID, noteID)]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := n
	return &copied, nil
}

func (r *MemoryRepository) Save(_ context.Context, note *models.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notes[key(note.UserID, note.NoteID)] = *note
	return nil
}

func (r *MemoryRepository) ListSince(_ context.Context, userID string, since int64, includeDeleted bool) ([]*models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.Note
	for _, n := range r.notes {
		if n.UserID != userID || n.UpdatedAt <= since {
			continue
		}
		if n.IsDeleted && !includeDeleted {
			continue
		}
		copied := n
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt != result[j].UpdatedAt {
			return result[i].UpdatedAt > result[j].UpdatedAt
		}
		return result[i].NoteID < result[j].NoteID
	})
	return result, nil
}
