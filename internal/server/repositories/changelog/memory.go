package changelog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkrasnov/notesync/internal/common"
	"github.com/dkrasnov/notesync/internal/server/models"
)

// MemoryRepository is a map-backed Repository used for tests and dev mode.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]models.ChangeLogEntry
	order   []string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]models.ChangeLogEntry)}
}

func key(userID, changeID string) string {
	return userID + "\x00" + changeID
}

func (r *MemoryRepository) Append(_ context.Context, e *models.ChangeLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(e.UserID, e.ChangeID)
	if _, exists := r.entries[k]; exists {
		return fmt.Errorf("change %s already recorded", e.ChangeID)
	}
	r.entries[k] = *e
	r.order = append(r.order, k)
	return nil
}

func (r *MemoryRepository) FindByChangeID(_ context.Context, userID, changeID string) (*models.ChangeLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key(userID, changeID)]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := e
	return &copied, nil
}

func (r *MemoryRepository) ListByUserRange(_ context.Context, userID string, from, to int64) ([]*models.ChangeLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*models.ChangeLogEntry
	for _, k := range r.order {
		e := r.entries[k]
		if e.UserID != userID || e.AppliedAt < from || e.AppliedAt > to {
			continue
		}
		copied := e
		result = append(result, &copied)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].AppliedAt < result[j].AppliedAt
	})
	return result, nil
}
