package ports

import (
	"context"
	"time"
)

// SagaEvent is a lifecycle notification emitted by the executor
type SagaEvent struct {
	ExecutionID  string                 `json:"execution_id"`
	DefinitionID string                 `json:"definition_id"`
	Type         string                 `json:"type"`
	StepName     string                 `json:"step_name,omitempty"`
	Status       string                 `json:"status"`
	Detail       map[string]interface{} `json:"detail,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// Saga lifecycle event types
const (
	EventSagaStarted      = "saga.started"
	EventStepCompleted    = "saga.step.completed"
	EventSagaCompensating = "saga.compensating"
	EventSagaSucceeded    = "saga.succeeded"
	EventSagaCompensated  = "saga.compensated"
	EventSagaFailed       = "saga.failed"
)

// EventPublisher pushes saga lifecycle events to interested consumers.
// Publishing is best-effort: the executor logs failures but never lets a
// publish error change the saga's outcome.
type EventPublisher interface {
	Publish(ctx context.Context, event SagaEvent) error
}

// MetricsRecorder records saga outcomes and step retry counts
type MetricsRecorder interface {
	RecordSagaOutcome(ctx context.Context, definitionID string, status string, duration time.Duration)
	RecordStepAttempts(ctx context.Context, definitionID, stepName string, attempts int, succeeded bool)
}
