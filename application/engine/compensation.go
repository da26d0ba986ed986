package engine

import (
	"fmt"

	"tripsaga/domain/saga"
)

// CompensationTask is one undo action in a compensation chain. It carries the
// payload the forward step produced, because cancelling a reservation needs
// the identifier the reserve step returned.
type CompensationTask struct {
	StepName string
	Handler  saga.HandlerRef
	Retry    saga.RetryPolicy
	Forward  saga.StepResult
}

// BuildCompensationChain derives the undo sequence for a saga that failed at
// failedIndex. It is a pure function of the definition and the recorded
// results: the chain covers steps 0..failedIndex-1 that declared a
// compensation, in reverse completion order (last completed step first),
// plus the failing step's own compensation if a partial result was recorded
// for it. A failure at index 0 yields an empty chain.
func BuildCompensationChain(def *saga.Definition, failedIndex int, results []saga.StepResult) ([]CompensationTask, error) {
	if failedIndex < 0 || failedIndex > def.StepCount() {
		return nil, fmt.Errorf("failed index %d out of range for definition %s", failedIndex, def.ID())
	}

	resultsByStep := make(map[string]saga.StepResult, len(results))
	for _, result := range results {
		resultsByStep[result.StepName] = result
	}

	chain := make([]CompensationTask, 0, failedIndex)

	appendTask := func(step saga.Step, forward saga.StepResult) {
		chain = append(chain, CompensationTask{
			StepName: step.Name,
			Handler:  *step.Compensate,
			Retry:    step.CompensateRetry,
			Forward:  forward,
		})
	}

	// The failing step is compensated first, and only if it left a partial
	// result behind.
	if failedIndex < def.StepCount() {
		step, err := def.StepAt(failedIndex)
		if err != nil {
			return nil, err
		}
		if forward, partial := resultsByStep[step.Name]; partial && step.HasCompensation() {
			appendTask(step, forward)
		}
	}

	for i := failedIndex - 1; i >= 0; i-- {
		step, err := def.StepAt(i)
		if err != nil {
			return nil, err
		}
		if !step.HasCompensation() {
			continue
		}
		forward, completed := resultsByStep[step.Name]
		if !completed {
			// A step with no recorded result applied nothing to undo.
			continue
		}
		appendTask(step, forward)
	}

	return chain, nil
}
