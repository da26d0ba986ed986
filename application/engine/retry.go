package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/saga"
)

// SleepFunc waits for the given duration or until the context is cancelled.
// Injected so tests can record backoff decisions instead of sleeping.
type SleepFunc func(ctx context.Context, d time.Duration) error

// defaultSleep blocks on a timer while staying responsive to cancellation,
// so one execution's backoff never wedges its worker past shutdown.
func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Operation is a single attemptable unit of work
type Operation func(ctx context.Context) (ports.StepResponse, error)

// RetryController wraps one step invocation with bounded retry and
// exponential backoff. It keeps no state between invocations and persists
// nothing; durability is the executor's job.
type RetryController struct {
	sleep  SleepFunc
	logger *zap.Logger
}

// NewRetryController creates a controller with the real clock
func NewRetryController(logger *zap.Logger) *RetryController {
	return &RetryController{
		sleep:  defaultSleep,
		logger: logger,
	}
}

// NewRetryControllerWithSleep creates a controller with an injected sleep,
// for tests.
func NewRetryControllerWithSleep(logger *zap.Logger, sleep SleepFunc) *RetryController {
	return &RetryController{
		sleep:  sleep,
		logger: logger,
	}
}

// Invoke runs op up to policy.MaxAttempts times. Attempt k waits
// InitialBackoff * BackoffMultiplier^(k-1) after the k-th failure before
// trying again. Failures whose kind is outside the policy's retryable set
// fail immediately. The attempt count is returned for metrics either way.
func (rc *RetryController) Invoke(ctx context.Context, stepName string, policy saga.RetryPolicy, op Operation) (ports.StepResponse, int, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := op(ctx)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err

		kind := saga.KindOf(err)
		if !policy.Retryable(kind) {
			rc.logger.Warn("Step failed with non-retryable error",
				zap.String("step", stepName),
				zap.String("errorKind", string(kind)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return ports.StepResponse{}, attempt, err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		backoff := policy.BackoffFor(attempt)
		rc.logger.Warn("Step failed, backing off before retry",
			zap.String("step", stepName),
			zap.String("errorKind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", policy.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		if err := rc.sleep(ctx, backoff); err != nil {
			// Cancelled mid-backoff; surface the cancellation, not a
			// synthetic exhaustion.
			return ports.StepResponse{}, attempt, err
		}
	}

	return ports.StepResponse{}, policy.MaxAttempts, &saga.RetryExhaustedError{
		StepName: stepName,
		Attempts: policy.MaxAttempts,
		LastErr:  lastErr,
	}
}
