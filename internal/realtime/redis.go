package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces session channels within the Redis instance.
const channelPrefix = "lingolive:session:"

// RedisBroker is the production [Broker], fanning events out across server
// instances via Redis pub/sub. Safe for concurrent use.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker creates a broker on client. The client is owned by the
// caller and must outlive the broker and all of its subscriptions.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish implements [Broker]. The event is JSON-encoded onto the session's
// Redis channel.
func (b *RedisBroker) Publish(ctx context.Context, sessionID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+sessionID, payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish to session %q: %w", sessionID, err)
	}
	return nil
}

// Subscribe implements [Broker]. The returned subscription pumps Redis
// messages into its event channel until Close is called or the Redis
// connection fails, at which point the channel is closed.
func (b *RedisBroker) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channelPrefix+sessionID)

	// Force the subscription onto the wire before returning so that events
	// published immediately after Subscribe are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: subscribe to session %q: %w", sessionID, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan Event, subscriberBuffer),
	}
	go sub.pump(sessionID)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan Event
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan Event { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		// Closing the PubSub closes its message channel, which ends pump and
		// closes s.events.
		err = s.pubsub.Close()
	})
	return err
}

// pump decodes Redis messages into events. Undecodable payloads are logged
// and skipped so one bad publisher cannot wedge every subscriber.
func (s *redisSubscription) pump(sessionID string) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			slog.Warn("realtime: dropping undecodable event", "session_id", sessionID, "err", err)
			continue
		}
		select {
		case s.events <- ev:
		default:
			// Subscriber is not draining; drop under at-most-once delivery.
		}
	}
}
