// Package syncer drives the client's synchronization loop: it flushes the
// durable outbox to the server, folds authoritative state back into the
// local cache, and keeps a realtime subscription so edits from other
// devices arrive without waiting for the next poll.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dkrasnov/notesync/internal/client/models"
	"github.com/dkrasnov/notesync/internal/client/notestore"
	"github.com/dkrasnov/notesync/internal/client/syncqueue"
	"github.com/dkrasnov/notesync/internal/common"
	"github.com/dkrasnov/notesync/internal/logging"
)

const (
	// batchLimit caps how many queued mutations one submission carries.
	batchLimit = 100

	defaultPollInterval = 60 * time.Second
	reconnectBase       = time.Second
	reconnectCap        = 30 * time.Second

	// eventNoteChange matches the server's stream event name.
	eventNoteChange = "note-change"
)

// Remote is the server-facing surface the syncer needs; Transport is the
// production implementation.
type Remote interface {
	Submit(ctx context.Context, pending []*models.PendingMutation) ([]SyncResult, error)
	Snapshot(ctx context.Context, since int64) ([]*models.Note, error)
	Listen(ctx context.Context, onEvent func(name string)) error
}

// Syncer owns one user's synchronization state on one device.
type Syncer struct {
	queue  *syncqueue.Queue
	notes  *notestore.Store
	remote Remote
	log    logging.Logger

	pollInterval time.Duration

	// OnRender, when set, is called after a pass that changed the local
	// cache, with the ids of the notes that changed.
	OnRender func(changed []string)
}

type Option func(*Syncer)

func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) { s.pollInterval = d }
}

func New(queue *syncqueue.Queue, notes *notestore.Store, remote Remote, log logging.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		queue:        queue,
		notes:        notes,
		remote:       remote,
		log:          log,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncOptions selects what a synchronization pass does.
type SyncOptions struct {
	// FlushQueue submits pending local mutations before pulling. A
	// pull-only pass is enough when reacting to another device's update.
	FlushQueue bool
}

// Synchronize runs one pass: optionally flush the outbox, then pull every
// note updated since the stored cursor. On transport failure the queue is
// left untouched and the same entries are submitted next time. It returns
// the ids of notes whose cached state changed.
func (s *Syncer) Synchronize(ctx context.Context, opts SyncOptions) ([]string, error) {
	changed := make(map[string]struct{})

	if opts.FlushQueue {
		if err := s.flush(ctx, changed); err != nil {
			return nil, err
		}
	}
	if err := s.pull(ctx, changed); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	if len(ids) > 0 && s.OnRender != nil {
		s.OnRender(ids)
	}
	return ids, nil
}

func (s *Syncer) flush(ctx context.Context, changed map[string]struct{}) error {
	for {
		pending, err := s.queue.Drain(ctx, batchLimit)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		results, err := s.remote.Submit(ctx, pending)
		if err != nil {
			return err
		}

		answered := make([]string, 0, len(results))
		for _, r := range results {
			answered = append(answered, r.ChangeID)
			if !r.Accepted {
				s.log.Warn(ctx, "mutation rejected by server",
					"note_id", r.NoteID, "change_id", r.ChangeID, "error", r.Error)
			}
			if r.Note == nil {
				continue
			}
			// The server's verdict carries the authoritative state for
			// both outcomes; a rejection means another writer won and
			// its state is adopted here.
			updated, err := s.notes.ReplaceFromAuthoritative(ctx, &models.Note{
				NoteID:      r.Note.NoteID,
				CreatedAt:   r.Note.CreatedAtS,
				UpdatedAt:   r.Note.UpdatedAtS,
				PayloadJSON: decodeRaw(r.Note.PayloadJSON),
				IsDeleted:   r.Note.IsDeleted,
				Version:     r.Note.Version,
			})
			if err != nil {
				return err
			}
			if updated {
				changed[r.Note.NoteID] = struct{}{}
			}
		}

		// Every answered submission leaves the queue, rejected ones
		// included; resubmitting them could only lose to the same winner.
		if err := s.queue.Acknowledge(ctx, answered); err != nil {
			return err
		}
		if len(pending) < batchLimit {
			return nil
		}
	}
}

func (s *Syncer) pull(ctx context.Context, changed map[string]struct{}) error {
	cursor, err := s.notes.Cursor(ctx)
	if err != nil {
		return err
	}

	notes, err := s.remote.Snapshot(ctx, cursor)
	if err != nil {
		return err
	}

	var maxUpdated int64
	for _, n := range notes {
		updated, err := s.notes.ReplaceFromAuthoritative(ctx, n)
		if err != nil {
			return err
		}
		if updated {
			changed[n.NoteID] = struct{}{}
		}
		if n.UpdatedAt > maxUpdated {
			maxUpdated = n.UpdatedAt
		}
	}

	// The server filter is strictly-greater, so the cursor trails the
	// newest update by one second. Notes in that window are refetched and
	// dropped by the version check instead of being missed when two
	// updates land within the same second.
	if maxUpdated > 0 && maxUpdated-1 > cursor {
		return s.notes.SetCursor(ctx, maxUpdated-1)
	}
	return nil
}

// Run keeps the device converged until ctx is cancelled: an immediate pass,
// then a pass on every poll tick and on every realtime notification. It
// returns early on common.ErrUnauthorized, since no amount of retrying
// fixes a bad token.
func (s *Syncer) Run(ctx context.Context) error {
	if _, err := s.Synchronize(ctx, SyncOptions{FlushQueue: true}); err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			return err
		}
		s.log.Warn(ctx, "initial sync failed", "error", err)
	}

	kick := make(chan struct{}, 1)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.listen(ctx, kick)
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		// Realtime notifications trigger a pull-only pass; local edits
		// still go out on the poll tick and the initial pass.
		opts := SyncOptions{FlushQueue: true}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-listenErr:
			return err
		case <-ticker.C:
		case <-kick:
			opts.FlushQueue = false
		}

		if _, err := s.Synchronize(ctx, opts); err != nil {
			if errors.Is(err, common.ErrUnauthorized) {
				return err
			}
			s.log.Warn(ctx, "sync pass failed", "error", err)
		}
	}
}

// listen maintains the event-stream subscription, reconnecting with
// exponential backoff. A connection that delivered frames resets the
// backoff before the next attempt.
func (s *Syncer) listen(ctx context.Context, kick chan<- struct{}) error {
	backoff := retry.WithCappedDuration(reconnectCap, retry.NewExponential(reconnectBase))

	for {
		var received bool
		err := s.remote.Listen(ctx, func(name string) {
			received = true
			if name != eventNoteChange {
				return
			}
			select {
			case kick <- struct{}{}:
			default:
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, common.ErrUnauthorized) {
			return err
		}
		s.log.Warn(ctx, "event stream dropped", "error", err)

		if received {
			backoff = retry.WithCappedDuration(reconnectCap, retry.NewExponential(reconnectBase))
		}
		wait, _ := backoff.Next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
