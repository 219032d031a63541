package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lingolive/lingolive/internal/resilience"
)

// Pinger is satisfied by any store exposing connectivity probing, such as
// the PostgreSQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database builds a checker that probes store connectivity.
func Database(p Pinger) Checker {
	return Checker{
		Name: "database",
		Check: func(ctx context.Context) error {
			return p.Ping(ctx)
		},
	}
}

// Redis builds a checker that probes the pub/sub broker connection.
func Redis(client *redis.Client) Checker {
	return Checker{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// EngineBreaker builds a checker reporting whether the engine circuit
// breaker is passing traffic. A half-open breaker still counts as ready
// because probe calls are allowed through.
func EngineBreaker(b *resilience.Breaker) Checker {
	return Checker{
		Name: "engine",
		Check: func(_ context.Context) error {
			if state := b.State(); state == resilience.Open {
				return fmt.Errorf("engine breaker is %s", state)
			}
			return nil
		},
	}
}
