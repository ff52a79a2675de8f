// Package syncqueue persists locally originated edits until the server
// has answered them. Entries survive restarts and are drained in FIFO
// order; the per-device edit sequence that orders this writer's edits is
// kept alongside the entries.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/notesync/internal/client/kvstore"
	"github.com/dkrasnov/notesync/internal/client/models"
)

const (
	entryPrefix = "queue/"
	editSeqKey  = "editseq"
)

// Queue is the durable outbox of one user on one device.
type Queue struct {
	kv    kvstore.Store
	clock func() time.Time
}

func New(kv kvstore.Store) *Queue {
	return &Queue{kv: kv, clock: time.Now}
}

// NewWithClock is used by tests that need deterministic timestamps.
func NewWithClock(kv kvstore.Store, clock func() time.Time) *Queue {
	return &Queue{kv: kv, clock: clock}
}

// EnqueueUpsert records a local create-or-edit of the note's payload.
func (q *Queue) EnqueueUpsert(ctx context.Context, noteID, payloadJSON string, createdAt int64) (*models.PendingMutation, error) {
	return q.enqueue(ctx, noteID, models.OpUpsert, payloadJSON, createdAt)
}

// EnqueueDelete records a local deletion of the note.
func (q *Queue) EnqueueDelete(ctx context.Context, noteID string) (*models.PendingMutation, error) {
	return q.enqueue(ctx, noteID, models.OpDelete, "", 0)
}

func (q *Queue) enqueue(ctx context.Context, noteID, op, payloadJSON string, createdAt int64) (*models.PendingMutation, error) {
	seq, err := q.nextEditSeq(ctx)
	if err != nil {
		return nil, err
	}

	now := q.clock().Unix()
	m := &models.PendingMutation{
		ChangeID:        uuid.NewString(),
		NoteID:          noteID,
		Op:              op,
		PayloadJSON:     payloadJSON,
		ClientEditSeq:   seq,
		ClientUpdatedAt: now,
		CreatedAt:       createdAt,
		ClientTime:      now,
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue entry: %w", err)
	}
	if err := q.kv.Set(ctx, entryKey(seq), raw); err != nil {
		return nil, fmt.Errorf("failed to persist queue entry: %w", err)
	}
	return m, nil
}

// Drain returns up to limit pending entries in enqueue order without
// removing them; entries leave the queue only via Acknowledge, so a failed
// submission is retried as-is. A limit of zero means no cap.
func (q *Queue) Drain(ctx context.Context, limit int) ([]*models.PendingMutation, error) {
	keys, err := q.kv.Keys(ctx, entryPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]*models.PendingMutation, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := q.kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var m models.PendingMutation
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode queue entry %s: %w", k, err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// Len reports the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	keys, err := q.kv.Keys(ctx, entryPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list queue: %w", err)
	}
	return len(keys), nil
}

// Acknowledge removes the entries the server has answered. Both accepted
// and rejected submissions are acknowledged; a rejection means the server
// kept a newer state that incremental sync will deliver.
func (q *Queue) Acknowledge(ctx context.Context, changeIDs []string) error {
	if len(changeIDs) == 0 {
		return nil
	}
	answered := make(map[string]struct{}, len(changeIDs))
	for _, id := range changeIDs {
		answered[id] = struct{}{}
	}

	keys, err := q.kv.Keys(ctx, entryPrefix)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}
	for _, k := range keys {
		raw, ok, err := q.kv.Get(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		var m models.PendingMutation
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("failed to decode queue entry %s: %w", k, err)
		}
		if _, ok := answered[m.ChangeID]; !ok {
			continue
		}
		if err := q.kv.Remove(ctx, k); err != nil {
			return fmt.Errorf("failed to remove queue entry: %w", err)
		}
	}
	return nil
}

func (q *Queue) nextEditSeq(ctx context.Context) (int64, error) {
	raw, ok, err := q.kv.Get(ctx, editSeqKey)
	if err != nil {
		return 0, fmt.Errorf("failed to load edit seq: %w", err)
	}
	var seq int64
	if ok {
		seq, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse edit seq: %w", err)
		}
	}
	seq++
	if err := q.kv.Set(ctx, editSeqKey, []byte(strconv.FormatInt(seq, 10))); err != nil {
		return 0, fmt.Errorf("failed to persist edit seq: %w", err)
	}
	return seq, nil
}

// entryKey zero-pads the sequence so lexicographic key order is FIFO order.
func entryKey(seq int64) string {
	return fmt.Sprintf("%s%020d", entryPrefix, seq)
}
