package reliability

import (
	"context"
	"errors"
	"fmt"

	"paintwithchat/internal/core/domain"
	"paintwithchat/pkg/circuitbreaker"
	"paintwithchat/pkg/config"
	"paintwithchat/pkg/retry"
	"paintwithchat/pkg/tracing"

	"go.uber.org/zap"
)

type Options struct {
	BreakerEnabled bool
	Breaker        circuitbreaker.Config
	Retry          retry.Config

	// OnStateChange is called after the transition is logged.
	OnStateChange func(from, to circuitbreaker.State)
}

func OptionsFromConfig(cfg *config.Config) Options {
	cb := cfg.Storage.CircuitBreaker
	rc := cfg.Storage.Retry
	return Options{
		BreakerEnabled: cb.Enabled,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout,
			IsFailure:        isStoreFailure,
		},
		Retry: retry.Config{
			MaxAttempts:  rc.MaxAttempts,
			InitialDelay: rc.InitialDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   2,
			Jitter:       true,
			Permanent:    outcomes,
		},
	}
}

// outcomes are answers from a healthy store, not failures of it.
var outcomes = []error{
	domain.ErrSessionNotFound,
	domain.ErrSessionAlreadyActive,
	domain.ErrUserNotFound,
	circuitbreaker.ErrOpen,
}

func isOutcome(err error) bool {
	for _, o := range outcomes {
		if errors.Is(err, o) {
			return true
		}
	}
	return false
}

func isStoreFailure(err error) bool {
	return !isOutcome(err) && !errors.Is(err, context.Canceled)
}

// Guard runs store calls through one shared circuit breaker, retries the
// idempotent ones and traces every call.
type Guard struct {
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	logger  *zap.SugaredLogger
}

func NewGuard(opts Options, logger *zap.SugaredLogger) *Guard {
	g := &Guard{retry: opts.Retry, logger: logger}
	if g.retry.MaxAttempts < 1 {
		g.retry.MaxAttempts = 1
	}
	if opts.BreakerEnabled {
		if opts.Breaker.IsFailure == nil {
			opts.Breaker.IsFailure = isStoreFailure
		}
		g.breaker = circuitbreaker.New(opts.Breaker)
		g.breaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Infow("storage circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
			if opts.OnStateChange != nil {
				opts.OnStateChange(from, to)
			}
		})
	}
	return g
}

// State reports the breaker state; closed when the breaker is disabled.
func (g *Guard) State() circuitbreaker.State {
	if g.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return g.breaker.State()
}

func (g *Guard) Stats() circuitbreaker.Stats {
	if g.breaker == nil {
		return circuitbreaker.Stats{State: circuitbreaker.StateClosed}
	}
	return g.breaker.Stats()
}

type call struct {
	store      string
	op         string
	sessionID  string
	idempotent bool
}

func guarded[T any](ctx context.Context, g *Guard, c call, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, c.op, c.store, c.sessionID)
	defer span.End()

	attempt := fn
	if g.breaker != nil {
		attempt = func(ctx context.Context) (T, error) {
			return circuitbreaker.Do(ctx, g.breaker, fn)
		}
	}

	var (
		result T
		err    error
	)
	if c.idempotent {
		result, err = retry.Do(ctx, g.retry, attempt)
	} else {
		result, err = attempt(ctx)
	}
	if err == nil {
		return result, nil
	}

	if isOutcome(err) && !errors.Is(err, circuitbreaker.ErrOpen) {
		return result, err
	}
	tracing.RecordError(ctx, err)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
	}
	return result, err
}

func guardedExec(ctx context.Context, g *Guard, c call, fn func(ctx context.Context) error) error {
	_, err := guarded(ctx, g, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
