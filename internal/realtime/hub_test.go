package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/lingolive/lingolive/internal/realtime"
	"github.com/lingolive/lingolive/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func recvEvent(t *testing.T, sub *realtime.Subscriber) realtime.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return realtime.Event{}
}

func expectNoEvent(t *testing.T, sub *realtime.Subscriber) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func preview(participantID, text string) types.PreviewEvent {
	return types.PreviewEvent{
		ParticipantID:   participantID,
		ParticipantName: "Speaker " + participantID,
		Text:            text,
		Timestamp:       time.Now().UnixMilli(),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestHub_PreviewFanOut(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	viewer, err := hub.Subscribe(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer viewer.Close()

	if err := hub.PublishPreview(ctx, "sess-1", preview("p-1", "hello")); err != nil {
		t.Fatalf("publish preview: %v", err)
	}

	ev := recvEvent(t, viewer)
	if ev.Type != realtime.EventPreview || ev.Preview == nil || ev.Preview.Text != "hello" {
		t.Errorf("received %+v, want preview event with text hello", ev)
	}
}

// TestHub_LocalEchoSuppressed verifies the loop-suppression rule: a
// subscriber never receives preview broadcasts for its own participant ID,
// while other participants' previews pass through.
func TestHub_LocalEchoSuppressed(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	self, err := hub.Subscribe(ctx, "sess-1", "p-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer self.Close()

	hub.PublishPreview(ctx, "sess-1", preview("p-1", "my own echo"))
	expectNoEvent(t, self)

	hub.PublishPreview(ctx, "sess-1", preview("p-2", "someone else"))
	ev := recvEvent(t, self)
	if ev.Preview == nil || ev.Preview.ParticipantID != "p-2" {
		t.Errorf("received %+v, want p-2 preview", ev)
	}
}

// TestHub_TranscriptClearsPreviewCache verifies the streaming→final handoff:
// a finalized-insert notification removes the participant's cached preview.
func TestHub_TranscriptClearsPreviewCache(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	viewer, err := hub.Subscribe(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer viewer.Close()

	hub.PublishPreview(ctx, "sess-1", preview("p-1", "in progress"))
	recvEvent(t, viewer)

	if got := hub.Previews("sess-1"); len(got) != 1 {
		t.Fatalf("preview cache has %d entries, want 1", len(got))
	}

	hub.PublishTranscript(ctx, "sess-1", types.Transcript{
		ID:            "t-1",
		SessionID:     "sess-1",
		ParticipantID: "p-1",
		OriginalText:  "in progress, now final",
		Sequence:      1,
	})
	ev := recvEvent(t, viewer)
	if ev.Type != realtime.EventTranscript {
		t.Fatalf("received %+v, want transcript event", ev)
	}

	if got := hub.Previews("sess-1"); len(got) != 0 {
		t.Errorf("preview cache still has %d entries after finalized insert", len(got))
	}
}

// An empty preview acts as a clear: the speaker's pipeline publishes one on
// teardown so a listener never keeps displaying abandoned text.
func TestHub_EmptyPreviewClearsCache(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	viewer, err := hub.Subscribe(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer viewer.Close()

	hub.PublishPreview(ctx, "sess-1", preview("p-1", "in progress"))
	recvEvent(t, viewer)
	if got := hub.Previews("sess-1"); len(got) != 1 {
		t.Fatalf("preview cache has %d entries, want 1", len(got))
	}

	hub.PublishPreview(ctx, "sess-1", preview("p-1", ""))
	recvEvent(t, viewer)
	if got := hub.Previews("sess-1"); len(got) != 0 {
		t.Errorf("preview cache still has %d entries after clear", len(got))
	}
}

// The transcript notification itself is delivered to everyone, including the
// speaker's own subscription; only previews are echo-filtered.
func TestHub_TranscriptDeliveredToSelf(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	self, err := hub.Subscribe(ctx, "sess-1", "p-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer self.Close()

	hub.PublishTranscript(ctx, "sess-1", types.Transcript{ParticipantID: "p-1", Sequence: 1})

	ev := recvEvent(t, self)
	if ev.Type != realtime.EventTranscript {
		t.Errorf("received %+v, want transcript event", ev)
	}
}

func TestHub_SessionIsolation(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	other, err := hub.Subscribe(ctx, "sess-2", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer other.Close()

	hub.PublishPreview(ctx, "sess-1", preview("p-1", "wrong room"))
	expectNoEvent(t, other)
}

func TestHub_PreviewOverwrite(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	viewer, err := hub.Subscribe(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer viewer.Close()

	hub.PublishPreview(ctx, "sess-1", preview("p-1", "first"))
	recvEvent(t, viewer)
	hub.PublishPreview(ctx, "sess-1", preview("p-1", "first second"))
	recvEvent(t, viewer)

	got := hub.Previews("sess-1")
	if len(got) != 1 || got[0].Text != "first second" {
		t.Errorf("preview cache = %+v, want single overwritten entry", got)
	}
}

func TestHub_CloseDetaches(t *testing.T) {
	hub := realtime.NewHub(realtime.NewMemoryBroker())
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.Events(); ok {
		t.Error("events channel still open after Close")
	}
}

func TestMemoryBroker_SubscribeAfterPublish(t *testing.T) {
	broker := realtime.NewMemoryBroker()
	ctx := context.Background()

	// No replay: events published before Subscribe are not seen.
	broker.Publish(ctx, "sess-1", realtime.Event{Type: realtime.EventParticipants, SessionID: "sess-1"})

	sub, err := broker.Subscribe(ctx, "sess-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected replayed event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
