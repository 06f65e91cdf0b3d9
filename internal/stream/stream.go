// Package stream fans registry lifecycle events out to live subscribers.
// Delivery is best effort: a subscriber that cannot keep up loses events
// rather than stalling publishers.
package stream

import (
	"context"
	"sync"
	"time"
)

// Event types emitted by the orchestrator.
const (
	TypeFileUploaded           = "file.uploaded"
	TypeFileDeleted            = "file.deleted"
	TypeIssuerRegistered       = "issuer.registered"
	TypeCredentialIssued       = "credential.issued"
	TypeCredentialShared       = "credential.shared"
	TypeCredentialFieldRevoked = "credential.field_revoked"
	TypeCredentialRevoked      = "credential.revoked"
)

// Event is one registry state change.
type Event struct {
	Type    string            `json:"type"`
	Hash    string            `json:"hash,omitempty"`
	Actor   string            `json:"actor,omitempty"`
	TxHash  string            `json:"tx_hash,omitempty"`
	At      time.Time         `json:"at"`
	Details map[string]string `json:"details,omitempty"`
}

// Broker distributes events to any number of subscribers.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a buffered subscription that is torn down when ctx
// ends. The returned channel is closed on unsubscribe.
func (b *Broker) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if cur, ok := b.subs[id]; ok && cur == ch {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}()
	return ch
}

// Publish delivers the event to every subscriber without blocking. Full
// subscriber buffers drop the event.
func (b *Broker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
