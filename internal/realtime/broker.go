// Package realtime implements the session-scoped real-time fan-out layer.
//
// Each session has one logical pub/sub channel carrying three event kinds:
// streaming previews, finalized-transcript-insert notifications, and
// participant-list-change notifications. Delivery is fire-and-forget,
// at-most-once, with no acknowledgment and no retry. There is no ordering
// guarantee across participants; per-participant ordering of finalized
// transcripts comes from the store's sequence numbers, not from this layer.
//
// A [Broker] moves events between server instances; [NewRedisBroker] is the
// production implementation and [NewMemoryBroker] serves tests and
// single-instance deployments. The [Hub] sits on top of a Broker and manages
// local subscribers, the ephemeral per-participant preview cache, and local
// echo suppression.
package realtime

import (
	"context"

	"github.com/lingolive/lingolive/pkg/types"
)

// EventType discriminates the payload of an [Event].
type EventType string

const (
	// EventPreview carries a streaming preview from a speaking participant.
	EventPreview EventType = "preview"

	// EventTranscript notifies that a finalized transcript row was durably
	// inserted for the session.
	EventTranscript EventType = "transcript"

	// EventParticipants notifies that the session's active participant list
	// changed; subscribers refetch rather than patching locally.
	EventParticipants EventType = "participants"
)

// Event is one message on a session channel. Exactly one payload field is
// populated, matching Type.
type Event struct {
	Type       EventType           `json:"type"`
	SessionID  string              `json:"session_id"`
	Preview    *types.PreviewEvent `json:"preview,omitempty"`
	Transcript *types.Transcript   `json:"transcript,omitempty"`
}

// Broker is the cross-instance pub/sub primitive underneath the [Hub].
// Implementations must be safe for concurrent use.
type Broker interface {
	// Publish broadcasts ev on the session channel. Best-effort: a nil error
	// means the event was handed to the transport, not that anyone saw it.
	Publish(ctx context.Context, sessionID string, ev Event) error

	// Subscribe opens a long-lived subscription to the session channel.
	// The subscription delivers events published after this call; it never
	// replays history.
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription is a live feed of one session's events.
type Subscription interface {
	// Events returns the receive channel. It is closed when the subscription
	// ends, whether by Close or by transport failure.
	Events() <-chan Event

	// Close terminates the subscription and releases transport resources.
	Close() error
}
