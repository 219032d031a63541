package resilience

import (
	"context"

	"github.com/lingolive/lingolive/internal/engine"
)

// GuardedEngine wraps an [engine.Engine] with a [Breaker]. When the upstream
// keeps rejecting dials, new streams fail fast with [ErrOpen] instead of
// each participant waiting out a full dial timeout.
//
// Only StartStream is guarded. Established streams carry their own failure
// signal through [engine.StreamHandle.Err] and do not feed the breaker.
type GuardedEngine struct {
	inner   engine.Engine
	breaker *Breaker
}

var _ engine.Engine = (*GuardedEngine)(nil)

// Guard wraps eng with a breaker tuned by s.
func Guard(eng engine.Engine, s Settings) *GuardedEngine {
	return &GuardedEngine{
		inner:   eng,
		breaker: NewBreaker(s),
	}
}

// StartStream implements [engine.Engine].
func (g *GuardedEngine) StartStream(ctx context.Context, cfg engine.StreamConfig) (engine.StreamHandle, error) {
	var handle engine.StreamHandle
	err := g.breaker.Run(func() error {
		var err error
		handle, err = g.inner.StartStream(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Breaker exposes the underlying breaker for health reporting.
func (g *GuardedEngine) Breaker() *Breaker { return g.breaker }
