package realtime

import (
	"context"
	"sync"
)

// subscriberBuffer is the per-subscription channel capacity. A subscriber
// that falls this far behind starts losing events, acceptable under the
// at-most-once delivery contract.
const subscriberBuffer = 64

// MemoryBroker is an in-process [Broker] for tests and single-instance
// deployments. Safe for concurrent use.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[*memorySubscription]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Publish implements [Broker]. Events are delivered to current subscribers
// without blocking; a subscriber with a full buffer misses the event.
func (b *MemoryBroker) Publish(_ context.Context, sessionID string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[sessionID] {
		select {
		case sub.events <- ev:
		default:
		}
	}
	return nil
}

// Subscribe implements [Broker].
func (b *MemoryBroker) Subscribe(_ context.Context, sessionID string) (Subscription, error) {
	sub := &memorySubscription{
		broker:    b,
		sessionID: sessionID,
		events:    make(chan Event, subscriberBuffer),
	}
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*memorySubscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	broker    *MemoryBroker
	sessionID string
	events    chan Event
	once      sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.events }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		delete(b.subs[s.sessionID], s)
		if len(b.subs[s.sessionID]) == 0 {
			delete(b.subs, s.sessionID)
		}
		b.mu.Unlock()
		close(s.events)
	})
	return nil
}
