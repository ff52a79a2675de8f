package httpapi

import (
	"context"
	"sync"
	"time"
)

const (
	// EventNoteChange tells connected devices to re-sync. The payload is
	// advisory; clients treat it as an opaque trigger.
	EventNoteChange = "note-change"
	// eventHeartbeat keeps intermediaries from closing idle streams and
	// lets clients reset their reconnect backoff.
	eventHeartbeat = "heartbeat"

	heartbeatInterval = 25 * time.Second
	subscriberBuffer  = 16
)

// Notification is one realtime event fanned out to a user's devices.
type Notification struct {
	UserID  string
	NoteIDs []string
	At      time.Time
}

// Broker fans notifications out to per-user subscribers. Delivery is
// best-effort: a subscriber with a full buffer misses the event and will
// catch up on its next poll.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]chan Notification
	nextID int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int64]chan Notification)}
}

// Subscribe registers a stream for userID. The stream is removed when ctx
// is cancelled or the returned cancel function is called.
func (b *Broker) Subscribe(ctx context.Context, userID string) (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int64]chan Notification)
	}
	b.subs[userID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs := b.subs[userID]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

// Publish delivers n to every subscriber of n.UserID without blocking.
func (b *Broker) Publish(n Notification) {
	if n.UserID == "" {
		return
	}

	b.mu.RLock()
	targets := make([]chan Notification, 0, len(b.subs[n.UserID]))
	for _, ch := range b.subs[n.UserID] {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- n:
		default:
		}
	}
}

// SubscriberCount reports active streams for a user. Used by tests and the
// health endpoint.
func (b *Broker) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
