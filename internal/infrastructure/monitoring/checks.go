package monitoring

import (
	"context"
	"fmt"

	"paintwithchat/pkg/circuitbreaker"
)

// Pinger is satisfied by the repository factory.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

func StorageCheck(p Pinger) HealthCheck {
	return HealthCheck{
		Name:     "storage",
		Check:    p.HealthCheck,
		Critical: true,
	}
}

// BreakerCheck reports an open storage breaker. It is not critical since
// the relay keeps serving live strokes while the store is away.
func BreakerCheck(state func() circuitbreaker.State) HealthCheck {
	return HealthCheck{
		Name: "storage_breaker",
		Check: func(context.Context) error {
			if s := state(); s == circuitbreaker.StateOpen {
				return fmt.Errorf("circuit breaker is %s", s)
			}
			return nil
		},
	}
}
