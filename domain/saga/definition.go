package saga

import (
	"fmt"
	"time"
)

// HandlerRef names a step handler registered with the engine. Handlers are
// resolved by name at registration time, so new step types are added by
// registering a handler, not by changing the executor.
type HandlerRef string

// RetryPolicy governs how a single step invocation is retried.
// Attempt k (1-indexed) waits InitialBackoff * BackoffMultiplier^(k-1)
// before the next attempt; there is no wait before attempt 1.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	RetryableKinds    map[ErrorKind]bool
}

// Reference retry constants carried over from the deployed saga:
// transient infrastructure errors back off from 2s with multiplier 2 for up
// to 6 attempts, compensation steps get a 3-attempt catch-all.
const (
	DefaultInitialBackoff    = 2 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxAttempts       = 6
	CompensationMaxAttempts  = 3
)

// DefaultRetryPolicy returns the forward-step policy: retry transient
// infrastructure failures only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		InitialBackoff:    DefaultInitialBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
		RetryableKinds:    map[ErrorKind]bool{ErrorKindTransient: true},
	}
}

// CompensationRetryPolicy returns the compensation-step policy: a catch-all
// retry across every error kind, since a compensation that gives up leaves
// the saga needing manual intervention.
func CompensationRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       CompensationMaxAttempts,
		InitialBackoff:    DefaultInitialBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
		RetryableKinds: map[ErrorKind]bool{
			ErrorKindTransient: true,
			ErrorKindBusiness:  true,
		},
	}
}

// Retryable reports whether a failure of the given kind may be retried
func (p RetryPolicy) Retryable(kind ErrorKind) bool {
	return p.RetryableKinds[kind]
}

// BackoffFor returns the wait before attempt k+1, where k is the 1-indexed
// attempt that just failed.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.BackoffMultiplier
	}
	return time.Duration(backoff)
}

// Validate checks the policy for sane bounds
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoffMultiplier must be >= 1, got %f", p.BackoffMultiplier)
	}
	if p.InitialBackoff < 0 {
		return fmt.Errorf("initialBackoff must not be negative, got %s", p.InitialBackoff)
	}
	return nil
}

// Step describes one forward action of a saga and, optionally, the action
// that undoes it. A nil Compensate means compensation is a no-op for this
// step (for example the terminal confirm steps, whose undo is the refund
// registered on the payment step).
type Step struct {
	Name            string
	Forward         HandlerRef
	Compensate      *HandlerRef
	Retry           RetryPolicy
	CompensateRetry RetryPolicy
}

// HasCompensation reports whether the step registered an undo action
func (s Step) HasCompensation() bool {
	return s.Compensate != nil
}

// Definition is an immutable, ordered sequence of steps. It is built once at
// registration time and shared by every execution; the executor never
// mutates it.
type Definition struct {
	id       string
	steps    []Step
	deadline time.Duration
}

// NewDefinition validates and constructs a saga definition. Step names must
// be unique within the definition and every retry policy must be sane.
func NewDefinition(id string, steps []Step, deadline time.Duration) (*Definition, error) {
	if id == "" {
		return nil, fmt.Errorf("definition id must not be empty")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("definition %s has no steps", id)
	}
	if deadline <= 0 {
		return nil, fmt.Errorf("definition %s deadline must be positive", id)
	}

	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("definition %s contains a step with no name", id)
		}
		if seen[step.Name] {
			return nil, fmt.Errorf("definition %s has duplicate step %s", id, step.Name)
		}
		seen[step.Name] = true

		if step.Forward == "" {
			return nil, fmt.Errorf("step %s has no forward handler", step.Name)
		}
		if err := step.Retry.Validate(); err != nil {
			return nil, fmt.Errorf("step %s retry policy: %w", step.Name, err)
		}
		if step.HasCompensation() {
			if *step.Compensate == "" {
				return nil, fmt.Errorf("step %s has an empty compensation handler", step.Name)
			}
			if err := step.CompensateRetry.Validate(); err != nil {
				return nil, fmt.Errorf("step %s compensation retry policy: %w", step.Name, err)
			}
		}
	}

	copied := make([]Step, len(steps))
	copy(copied, steps)

	return &Definition{id: id, steps: copied, deadline: deadline}, nil
}

// ID returns the definition identifier
func (d *Definition) ID() string {
	return d.id
}

// Steps returns a copy of the ordered step list
func (d *Definition) Steps() []Step {
	steps := make([]Step, len(d.steps))
	copy(steps, d.steps)
	return steps
}

// StepCount returns the number of forward steps
func (d *Definition) StepCount() int {
	return len(d.steps)
}

// StepAt returns the step at the given index
func (d *Definition) StepAt(index int) (Step, error) {
	if index < 0 || index >= len(d.steps) {
		return Step{}, fmt.Errorf("definition %s has no step at index %d", d.id, index)
	}
	return d.steps[index], nil
}

// Deadline returns the wall-clock budget for one execution of this saga
func (d *Definition) Deadline() time.Duration {
	return d.deadline
}
