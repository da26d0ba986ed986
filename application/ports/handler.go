package ports

import (
	"context"

	"tripsaga/domain/saga"
)

// StepRequest is the engine-to-handler call contract. PriorResults carries
// the accumulated payloads of completed forward steps in completion order,
// so a compensation can find the reservation it must cancel.
type StepRequest struct {
	ExecutionID  string
	StepName     string
	Input        map[string]interface{}
	PriorResults []saga.StepResult
}

// StepResponse is what a successful handler invocation returns
type StepResponse struct {
	Payload map[string]interface{}
}

// StepHandler is a pluggable unit of work invoked by the engine. The engine
// treats it as an opaque call: local, RPC or queue-backed implementations
// are all valid. Handlers must be idempotent with respect to repeated
// invocation with the same input, because the engine retries after ambiguous
// failures and provides no deduplication of its own.
type StepHandler interface {
	Handle(ctx context.Context, req StepRequest) (StepResponse, error)
}

// StepHandlerFunc adapts a plain function to the StepHandler interface
type StepHandlerFunc func(ctx context.Context, req StepRequest) (StepResponse, error)

// Handle implements StepHandler
func (f StepHandlerFunc) Handle(ctx context.Context, req StepRequest) (StepResponse, error) {
	return f(ctx, req)
}
