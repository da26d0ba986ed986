// Package ports defines the interfaces the saga engine consumes. Concrete
// implementations live under infrastructure/.
package ports

import (
	"context"
	"errors"

	"tripsaga/domain/saga"
)

var (
	// ErrExecutionNotFound is returned when no record exists for an execution id
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionExists is returned when creating an execution whose id is taken
	ErrExecutionExists = errors.New("execution already exists")

	// ErrVersionConflict is returned when a compare-and-set update loses the
	// race: another driver already advanced the execution.
	ErrVersionConflict = errors.New("execution version conflict")

	// ErrStoreUnavailable wraps I/O failures talking to the backing store.
	// The executor must never proceed without durable state.
	ErrStoreUnavailable = errors.New("execution store unavailable")
)

// ExecutionStore persists saga executions. Every state transition is written
// ahead of the next step dispatch, so a crashed driver can resume from the
// last persisted step index.
type ExecutionStore interface {
	// Create persists a brand-new execution. Fails with ErrExecutionExists
	// if the id is already taken.
	Create(ctx context.Context, execution *saga.Execution) error

	// Update persists a mutated execution conditionally on the version the
	// caller read (execution.Version is the new version; the write succeeds
	// only if the stored version is execution.Version-1). Fails with
	// ErrVersionConflict when another driver got there first.
	Update(ctx context.Context, execution *saga.Execution) error

	// Get loads an execution by id, or ErrExecutionNotFound.
	Get(ctx context.Context, executionID string) (*saga.Execution, error)

	// ListByStatus returns executions currently in the given status, for
	// the recovery sweeper.
	ListByStatus(ctx context.Context, status saga.Status) ([]*saga.Execution, error)
}
