package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lingolive/lingolive/pkg/types"
)

// Hub manages local subscribers on top of a [Broker].
//
// Responsibilities beyond raw pub/sub:
//
//   - Per-session preview cache: the latest streaming preview per
//     participant, overwritten on every preview event and cleared when that
//     participant's finalized transcript is observed or an empty preview
//     arrives. The cache lets a late-attaching viewer render in-progress
//     speech immediately.
//   - Local echo suppression: a subscriber created with its own participant
//     ID never receives preview events for that ID. The local reconciliation
//     state machine is authoritative for the local speaker's display.
//
// The hub keeps exactly one broker subscription per session with local
// subscribers, shared by all of them. All methods are safe for concurrent use.
type Hub struct {
	broker Broker

	mu       sync.Mutex
	sessions map[string]*sessionFeed
}

// sessionFeed is one session's shared broker subscription plus local state.
type sessionFeed struct {
	sub         Subscription
	subscribers map[*Subscriber]struct{}
	previews    map[string]types.PreviewEvent
}

// Subscriber is one local consumer of a session's event feed, typically a
// connected WebSocket client.
type Subscriber struct {
	hub       *Hub
	sessionID string
	selfID    string
	events    chan Event
	once      sync.Once
}

// Events returns the subscriber's receive channel. It is closed by
// [Subscriber.Close] or when the underlying broker subscription ends.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	s.once.Do(func() { s.hub.detach(s) })
}

// NewHub creates a hub on broker.
func NewHub(broker Broker) *Hub {
	return &Hub{
		broker:   broker,
		sessions: make(map[string]*sessionFeed),
	}
}

// Subscribe attaches a local subscriber to sessionID's event feed.
// selfParticipantID identifies the local speaker; preview events carrying
// that participant ID are filtered out at this boundary so a broadcast that
// loops back through the broker is never displayed twice. Pass "" for a
// pure viewer with no speaking identity.
func (h *Hub) Subscribe(ctx context.Context, sessionID, selfParticipantID string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.sessions[sessionID]
	if !ok {
		sub, err := h.broker.Subscribe(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("realtime: open session feed: %w", err)
		}
		feed = &sessionFeed{
			sub:         sub,
			subscribers: make(map[*Subscriber]struct{}),
			previews:    make(map[string]types.PreviewEvent),
		}
		h.sessions[sessionID] = feed
		go h.run(sessionID, feed)
	}

	s := &Subscriber{
		hub:       h,
		sessionID: sessionID,
		selfID:    selfParticipantID,
		events:    make(chan Event, subscriberBuffer),
	}
	feed.subscribers[s] = struct{}{}
	return s, nil
}

// PublishPreview broadcasts a streaming preview on the session channel.
// Fire-and-forget: delivery to any particular subscriber is not guaranteed.
func (h *Hub) PublishPreview(ctx context.Context, sessionID string, preview types.PreviewEvent) error {
	return h.broker.Publish(ctx, sessionID, Event{
		Type:      EventPreview,
		SessionID: sessionID,
		Preview:   &preview,
	})
}

// PublishTranscript notifies the session channel that a finalized transcript
// row was durably inserted. Every observer's preview cache entry for the
// transcript's participant is superseded by the durable record.
func (h *Hub) PublishTranscript(ctx context.Context, sessionID string, transcript types.Transcript) error {
	return h.broker.Publish(ctx, sessionID, Event{
		Type:       EventTranscript,
		SessionID:  sessionID,
		Transcript: &transcript,
	})
}

// PublishParticipantsChanged notifies the session channel that the active
// participant list changed.
func (h *Hub) PublishParticipantsChanged(ctx context.Context, sessionID string) error {
	return h.broker.Publish(ctx, sessionID, Event{
		Type:      EventParticipants,
		SessionID: sessionID,
	})
}

// Previews returns a snapshot of the session's current streaming previews,
// ordered by participant ID for deterministic output. Empty when the hub has
// no local feed for the session.
func (h *Hub) Previews(sessionID string) []types.PreviewEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]types.PreviewEvent, 0, len(feed.previews))
	for _, p := range feed.previews {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// run pumps the shared broker subscription into local subscribers until the
// feed closes. It owns the preview cache updates for its session.
func (h *Hub) run(sessionID string, feed *sessionFeed) {
	for ev := range feed.sub.Events() {
		h.mu.Lock()
		switch ev.Type {
		case EventPreview:
			// An empty preview is a clear: the speaker's pipeline publishes
			// one on teardown so listeners are not left with stale text.
			if ev.Preview != nil {
				if ev.Preview.Text == "" {
					delete(feed.previews, ev.Preview.ParticipantID)
				} else {
					feed.previews[ev.Preview.ParticipantID] = *ev.Preview
				}
			}
		case EventTranscript:
			// The durable row supersedes the ephemeral preview.
			if ev.Transcript != nil && ev.Transcript.ParticipantID != "" {
				delete(feed.previews, ev.Transcript.ParticipantID)
			}
		}

		for s := range feed.subscribers {
			if ev.Type == EventPreview && ev.Preview != nil && s.selfID != "" && ev.Preview.ParticipantID == s.selfID {
				continue
			}
			select {
			case s.events <- ev:
			default:
				// Slow subscriber; drop under at-most-once delivery.
			}
		}
		h.mu.Unlock()
	}

	// Broker feed ended (broker shutdown or transport failure): close all
	// local subscribers so clients observe the disconnect.
	h.mu.Lock()
	if h.sessions[sessionID] == feed {
		delete(h.sessions, sessionID)
	}
	for s := range feed.subscribers {
		s.once.Do(func() {})
		close(s.events)
	}
	feed.subscribers = nil
	h.mu.Unlock()
}

// detach removes s from its session feed, tearing the shared broker
// subscription down with the last subscriber.
func (h *Hub) detach(s *Subscriber) {
	h.mu.Lock()
	feed, ok := h.sessions[s.sessionID]
	if !ok || feed.subscribers == nil {
		h.mu.Unlock()
		return
	}
	if _, attached := feed.subscribers[s]; !attached {
		h.mu.Unlock()
		return
	}
	delete(feed.subscribers, s)
	close(s.events)
	last := len(feed.subscribers) == 0
	if last {
		delete(h.sessions, s.sessionID)
	}
	h.mu.Unlock()

	if last {
		// Closing the broker subscription ends run for this feed.
		_ = feed.sub.Close()
	}
}
