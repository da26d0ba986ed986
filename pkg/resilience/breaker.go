// Package resilience wraps step handlers with a circuit breaker so a
// downstream system that is hard-down fails fast instead of burning every
// retry budget against it.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/saga"
)

// BreakerConfig holds circuit breaker tuning for one handler
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns conservative defaults for a step handler
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// BreakerHandler decorates a StepHandler with a gobreaker circuit breaker.
// An open breaker surfaces as a transient step error, so the retry
// controller backs off and the saga compensates only once the policy is
// truly exhausted.
type BreakerHandler struct {
	inner   ports.StepHandler
	breaker *gobreaker.CircuitBreaker
}

// WrapHandler builds a BreakerHandler around an existing step handler
func WrapHandler(inner ports.StepHandler, config BreakerConfig, logger *zap.Logger) *BreakerHandler {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Business rejections are valid answers from a healthy
			// dependency; only infrastructure failures count against it.
			return err == nil || saga.KindOf(err) != saga.ErrorKindTransient
		},
	})

	return &BreakerHandler{inner: inner, breaker: cb}
}

// Handle implements ports.StepHandler
func (h *BreakerHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	result, err := h.breaker.Execute(func() (interface{}, error) {
		return h.inner.Handle(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
		}
		return ports.StepResponse{}, err
	}

	resp, ok := result.(ports.StepResponse)
	if !ok {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, errors.New("unexpected breaker result type"))
	}
	return resp, nil
}
