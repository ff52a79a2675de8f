// Package notestore keeps the client's local cache of notes and the sync
// cursor, layered on the user-scoped key-value store.
package notestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/dkrasnov/notesync/internal/client/kvstore"
	"github.com/dkrasnov/notesync/internal/client/models"
	"github.com/dkrasnov/notesync/internal/common"
)

const (
	notePrefix = "note/"
	cursorKey  = "cursor"
)

// Store reads and writes the cached notes of one user.
type Store struct {
	kv kvstore.Store
}

func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Get returns the cached note or common.ErrNotFound.
func (s *Store) Get(ctx context.Context, noteID string) (*models.Note, error) {
	raw, ok, err := s.kv.Get(ctx, notePrefix+noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load note: %w", err)
	}
	if !ok {
		return nil, common.ErrNotFound
	}
	var n models.Note
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("failed to decode note: %w", err)
	}
	return &n, nil
}

// Save stores the note unconditionally.
func (s *Store) Save(ctx context.Context, n *models.Note) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode note: %w", err)
	}
	if err := s.kv.Set(ctx, notePrefix+n.NoteID, raw); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	return nil
}

// List returns all cached notes, newest first. Tombstones are included
// when includeDeleted is set.
func (s *Store) List(ctx context.Context, includeDeleted bool) ([]*models.Note, error) {
	keys, err := s.kv.Keys(ctx, notePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	notes := make([]*models.Note, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var n models.Note
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("failed to decode note %s: %w", k, err)
		}
		if n.IsDeleted && !includeDeleted {
			continue
		}
		notes = append(notes, &n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].UpdatedAt != notes[j].UpdatedAt {
			return notes[i].UpdatedAt > notes[j].UpdatedAt
		}
		return notes[i].NoteID < notes[j].NoteID
	})
	return notes, nil
}

// ReplaceFromAuthoritative overwrites the cached copy with a server-sourced
// state. It reports whether the cache actually changed, so callers can skip
// re-rendering when a poll returned a version already applied.
func (s *Store) ReplaceFromAuthoritative(ctx context.Context, n *models.Note) (bool, error) {
	current, err := s.Get(ctx, n.NoteID)
	if err != nil && err != common.ErrNotFound {
		return false, err
	}
	if current != nil && current.Version >= n.Version {
		return false, nil
	}
	if err := s.Save(ctx, n); err != nil {
		return false, err
	}
	return true, nil
}

// Cursor returns the persisted incremental-sync watermark, zero when the
// store has never synced.
func (s *Store) Cursor(ctx context.Context) (int64, error) {
	raw, ok, err := s.kv.Get(ctx, cursorKey)
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse cursor: %w", err)
	}
	return v, nil
}

// SetCursor persists the incremental-sync watermark.
func (s *Store) SetCursor(ctx context.Context, v int64) error {
	if err := s.kv.Set(ctx, cursorKey, []byte(strconv.FormatInt(v, 10))); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
