package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/notesync/internal/client/kvstore"
	"github.com/dkrasnov/notesync/internal/client/models"
)

func newTestQueue(t *testing.T) (*Queue, kvstore.Store) {
	t.Helper()
	kv, err := kvstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	scoped := kvstore.NewScoped(kv, "user1")
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	return NewWithClock(scoped, clock), scoped
}

func TestEnqueueAssignsIncreasingEditSeq(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	m1, err := q.EnqueueUpsert(ctx, "n1", `{"title":"a"}`, 0)
	require.NoError(t, err)
	m2, err := q.EnqueueUpsert(ctx, "n1", `{"title":"b"}`, 0)
	require.NoError(t, err)
	m3, err := q.EnqueueDelete(ctx, "n2")
	require.NoError(t, err)

	assert.Equal(t, int64(1), m1.ClientEditSeq)
	assert.Equal(t, int64(2), m2.ClientEditSeq)
	assert.Equal(t, int64(3), m3.ClientEditSeq)
	assert.NotEqual(t, m1.ChangeID, m2.ChangeID)
	assert.Equal(t, models.OpDelete, m3.Op)
	assert.Equal(t, int64(1700000000), m1.ClientUpdatedAt)
}

func TestDrainIsFIFOAndNonDestructive(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	for i := 0; i < 5; i++ {
		_, err := q.EnqueueUpsert(ctx, "n1", `{}`, 0)
		require.NoError(t, err)
	}

	batch, err := q.Drain(ctx, 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(1), batch[0].ClientEditSeq)
	assert.Equal(t, int64(3), batch[2].ClientEditSeq)

	// Draining does not consume.
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	all, err := q.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestAcknowledgeRemovesAnsweredEntries(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	m1, err := q.EnqueueUpsert(ctx, "n1", `{}`, 0)
	require.NoError(t, err)
	m2, err := q.EnqueueUpsert(ctx, "n2", `{}`, 0)
	require.NoError(t, err)
	_, err = q.EnqueueUpsert(ctx, "n3", `{}`, 0)
	require.NoError(t, err)

	require.NoError(t, q.Acknowledge(ctx, []string{m1.ChangeID, m2.ChangeID, "unknown"}))

	left, err := q.Drain(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "n3", left[0].NoteID)
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	dsn := dir + "/client.db"

	kv, err := kvstore.OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	q := New(kvstore.NewScoped(kv, "user1"))
	m, err := q.EnqueueUpsert(ctx, "n1", `{"title":"draft"}`, 0)
	require.NoError(t, err)
	require.NoError(t, kv.Close())

	kv, err = kvstore.OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	defer kv.Close()
	q = New(kvstore.NewScoped(kv, "user1"))

	pending, err := q.Drain(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.ChangeID, pending[0].ChangeID)

	// The edit sequence keeps advancing, never restarting at one.
	m2, err := q.EnqueueUpsert(ctx, "n1", `{}`, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m2.ClientEditSeq)
}
