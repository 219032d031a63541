package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lingolive/lingolive/internal/engine"
	"github.com/lingolive/lingolive/internal/engine/mock"
	"github.com/lingolive/lingolive/internal/resilience"
)

var errUpstream = errors.New("upstream down")

func failing() error    { return errUpstream }
func succeeding() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := resilience.NewBreaker(resilience.Settings{Name: "test", Threshold: 3})

	for i := 0; i < 3; i++ {
		if err := b.Run(failing); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: got %v, want upstream error", i, err)
		}
	}
	if b.State() != resilience.Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Run(succeeding); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("open breaker must reject without calling fn, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := resilience.NewBreaker(resilience.Settings{Threshold: 3})

	_ = b.Run(failing)
	_ = b.Run(failing)
	_ = b.Run(succeeding)
	_ = b.Run(failing)
	_ = b.Run(failing)

	if b.State() != resilience.Closed {
		t.Fatalf("state = %v, want closed after interleaved success", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Now()
	b := resilience.NewBreaker(resilience.Settings{
		Threshold:   1,
		Cooldown:    time.Minute,
		ProbeBudget: 2,
		Now:         func() time.Time { return now },
	})

	_ = b.Run(failing)
	if b.State() != resilience.Open {
		t.Fatal("breaker should be open")
	}

	now = now.Add(2 * time.Minute)
	if b.State() != resilience.HalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}

	// Two successful probes close the breaker.
	if err := b.Run(succeeding); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if err := b.Run(succeeding); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if b.State() != resilience.Closed {
		t.Fatalf("state = %v, want closed after probes", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := resilience.NewBreaker(resilience.Settings{
		Threshold: 1,
		Cooldown:  time.Minute,
		Now:       func() time.Time { return now },
	})

	_ = b.Run(failing)
	now = now.Add(2 * time.Minute)

	if err := b.Run(failing); !errors.Is(err, errUpstream) {
		t.Fatalf("probe: got %v", err)
	}
	if b.State() != resilience.Open {
		t.Fatalf("state = %v, want re-opened", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b := resilience.NewBreaker(resilience.Settings{Threshold: 1})

	_ = b.Run(failing)
	b.Reset()
	if b.State() != resilience.Closed {
		t.Fatal("reset must close the breaker")
	}
	if err := b.Run(succeeding); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}

func TestGuardedEngineFailsFast(t *testing.T) {
	inner := &mock.Engine{StartStreamErr: errUpstream}
	guarded := resilience.Guard(inner, resilience.Settings{Threshold: 2, Cooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := guarded.StartStream(ctx, engine.StreamConfig{}); !errors.Is(err, errUpstream) {
			t.Fatalf("dial %d: got %v", i, err)
		}
	}

	_, err := guarded.StartStream(ctx, engine.StreamConfig{})
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("got %v, want ErrOpen", err)
	}
	if got := inner.CallCount(); got != 2 {
		t.Fatalf("inner engine dialed %d times, want 2", got)
	}
}

func TestGuardedEnginePassesThrough(t *testing.T) {
	inner := &mock.Engine{}
	guarded := resilience.Guard(inner, resilience.Settings{})

	handle, err := guarded.StartStream(context.Background(), engine.StreamConfig{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if handle == nil {
		t.Fatal("expected a stream handle")
	}
	if guarded.Breaker().State() != resilience.Closed {
		t.Fatal("breaker should stay closed on success")
	}
}
