// Package notify delivers index-change notifications to external observers
// such as the admin UI or replication. Delivery is best-effort; the engine's
// own correctness never depends on an observer seeing an event.
package notify

import (
	"log/slog"
	"sync"
)

// ChangeType identifies what happened to an index.
type ChangeType int

const (
	// MapCompleted signals a map batch finished for the index.
	MapCompleted ChangeType = iota
	// ReduceCompleted signals a reduce batch finished for the index.
	ReduceCompleted
	// RemoveFromIndex signals documents were removed from the index.
	RemoveFromIndex
	// IndexPromotedFromIdle signals the index returned to Normal priority.
	IndexPromotedFromIdle
	// IndexDemotedToIdle signals the index was demoted by the lifecycle
	// scheduler.
	IndexDemotedToIdle
)

// String returns a human-readable representation of the change type.
func (t ChangeType) String() string {
	switch t {
	case MapCompleted:
		return "MapCompleted"
	case ReduceCompleted:
		return "ReduceCompleted"
	case RemoveFromIndex:
		return "RemoveFromIndex"
	case IndexPromotedFromIdle:
		return "IndexPromotedFromIdle"
	case IndexDemotedToIdle:
		return "IndexDemotedToIdle"
	default:
		return "Unknown"
	}
}

// IndexChange is the structured event handed to observers.
type IndexChange struct {
	// Name is the logical index name.
	Name string
	// Type is what happened.
	Type ChangeType
}

// Observer receives index-change notifications.
type Observer func(IndexChange)

// Bus fans index-change notifications out to registered observers.
// The zero value is not usable; create with NewBus.
type Bus struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewBus creates an empty notification bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers an observer for all future notifications.
func (b *Bus) Subscribe(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, obs)
}

// Notify delivers the change to every observer. A panicking observer is
// logged and skipped so it cannot take down lifecycle sweeps.
func (b *Bus) Notify(change IndexChange) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("index change observer panicked",
						slog.String("index", change.Name),
						slog.String("type", change.Type.String()),
						slog.Any("panic", r))
				}
			}()
			obs(change)
		}()
	}
}
