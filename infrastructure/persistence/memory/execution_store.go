// Package memory provides an in-memory ExecutionStore for tests and local
// development. It enforces the same compare-and-set contract as the DynamoDB
// store so executor behavior is identical against either.
package memory

import (
	"context"
	"sync"

	"tripsaga/application/ports"
	"tripsaga/domain/saga"
)

// ExecutionStore keeps executions in a map guarded by a mutex
type ExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*saga.Execution
}

// NewExecutionStore creates an empty store
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		executions: make(map[string]*saga.Execution),
	}
}

// Create persists a new execution
func (s *ExecutionStore) Create(ctx context.Context, execution *saga.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[execution.ID]; exists {
		return ports.ErrExecutionExists
	}
	s.executions[execution.ID] = copyExecution(execution)
	return nil
}

// Update persists a mutated execution, conditionally on the stored version
// being exactly one behind the incoming one.
func (s *ExecutionStore) Update(ctx context.Context, execution *saga.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.executions[execution.ID]
	if !exists {
		return ports.ErrExecutionNotFound
	}
	if stored.Version != execution.Version-1 {
		return ports.ErrVersionConflict
	}
	s.executions[execution.ID] = copyExecution(execution)
	return nil
}

// Get loads an execution by id
func (s *ExecutionStore) Get(ctx context.Context, executionID string) (*saga.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.executions[executionID]
	if !exists {
		return nil, ports.ErrExecutionNotFound
	}
	return copyExecution(stored), nil
}

// ListByStatus returns executions in the given status
func (s *ExecutionStore) ListByStatus(ctx context.Context, status saga.Status) ([]*saga.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*saga.Execution, 0)
	for _, stored := range s.executions {
		if stored.Status == status {
			matches = append(matches, copyExecution(stored))
		}
	}
	return matches, nil
}

// copyExecution clones a record so callers cannot mutate stored state
func copyExecution(execution *saga.Execution) *saga.Execution {
	clone := *execution
	clone.StepResults = make([]saga.StepResult, len(execution.StepResults))
	copy(clone.StepResults, execution.StepResults)
	if execution.Input != nil {
		clone.Input = make(map[string]interface{}, len(execution.Input))
		for k, v := range execution.Input {
			clone.Input[k] = v
		}
	}
	return &clone
}
