// Package events is the in-process publish/subscribe channel for run and
// notification records. The core publishes unconditionally; whether a
// live viewer is attached never affects it, and a slow subscriber drops
// events rather than blocking the publisher.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event category.
type Type string

const (
	TypeRunStarted             Type = "run.started"
	TypeRunCompleted           Type = "run.completed"
	TypeNotificationSent       Type = "notification.sent"
	TypeNotificationSuppressed Type = "notification.suppressed"
)

// Event is one observable record of coordinator activity.
type Event struct {
	ID        string
	Type      Type
	Server    string
	Timestamp time.Time
	Message   string
	Fields    map[string]string
}

// Subscriber receives published events.
type Subscriber chan *Event

// Broker fans published events out to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	closed      bool
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber with a buffered channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish delivers the event to every subscriber without blocking: a full
// subscriber buffer drops the event for that subscriber only.
func (b *Broker) Publish(typ Type, server, message string, fields map[string]string) {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Server:    server,
		Timestamp: time.Now(),
		Message:   message,
		Fields:    fields,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub)
	}
}
