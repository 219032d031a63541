package realtime_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lingolive/lingolive/internal/realtime"
	"github.com/lingolive/lingolive/pkg/types"
)

// liveBroker connects to a real Redis instance. Run with:
//
//	LINGOLIVE_TEST_REDIS_ADDR=localhost:6379 go test ./internal/realtime/
func liveBroker(t *testing.T) *realtime.RedisBroker {
	t.Helper()
	addr := os.Getenv("LINGOLIVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LINGOLIVE_TEST_REDIS_ADDR not set, skipping live redis test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	return realtime.NewRedisBroker(client)
}

func TestRedisBrokerRoundtrip(t *testing.T) {
	broker := liveBroker(t)
	ctx := context.Background()
	sessionID := uuid.NewString()

	sub, err := broker.Subscribe(ctx, sessionID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	want := realtime.Event{
		Type:      realtime.EventPreview,
		SessionID: sessionID,
		Preview: &types.PreviewEvent{
			ParticipantID: "p1",
			Text:          "Guten Tag",
		},
	}
	if err := broker.Publish(ctx, sessionID, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.Type != want.Type || got.SessionID != sessionID {
			t.Errorf("got %+v", got)
		}
		if got.Preview == nil || got.Preview.Text != "Guten Tag" {
			t.Errorf("preview = %+v", got.Preview)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}

	// Events for other sessions stay on their own channel.
	if err := broker.Publish(ctx, uuid.NewString(), want); err != nil {
		t.Fatalf("Publish other session: %v", err)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected cross-session event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisBrokerCloseEndsEvents(t *testing.T) {
	broker := liveBroker(t)
	sub, err := broker.Subscribe(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, open := <-sub.Events():
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
}
