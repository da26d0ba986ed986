package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/saga"
)

// Executor is the saga state machine. Exactly one executor drives a given
// execution at a time; the store's compare-and-set rejects a second driver.
// Executions run on independent goroutines, so one saga's backoff never
// blocks another's progress.
type Executor struct {
	store     ports.ExecutionStore
	registry  *HandlerRegistry
	retry     *RetryController
	publisher ports.EventPublisher
	metrics   ports.MetricsRecorder
	logger    *zap.Logger

	mu          sync.RWMutex
	definitions map[string]*saga.Definition

	// clock is swapped out by tests that exercise the deadline path
	clock func() time.Time

	wg sync.WaitGroup
}

// NewExecutor creates an executor. The publisher and metrics recorder may be
// nil; lifecycle events and metrics are then skipped.
func NewExecutor(
	store ports.ExecutionStore,
	registry *HandlerRegistry,
	retry *RetryController,
	publisher ports.EventPublisher,
	metrics ports.MetricsRecorder,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		store:       store,
		registry:    registry,
		retry:       retry,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		definitions: make(map[string]*saga.Definition),
		clock:       time.Now,
	}
}

// RegisterDefinition makes a saga definition startable. Every handler the
// definition references must already be registered.
func (e *Executor) RegisterDefinition(def *saga.Definition) error {
	if err := e.registry.Validate(def); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.definitions[def.ID()]; exists {
		return fmt.Errorf("definition %s is already registered", def.ID())
	}
	e.definitions[def.ID()] = def

	e.logger.Info("Saga definition registered",
		zap.String("definitionID", def.ID()),
		zap.Int("steps", def.StepCount()),
		zap.Duration("deadline", def.Deadline()),
	)
	return nil
}

// definition looks up a registered definition
func (e *Executor) definition(id string) (*saga.Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	def, exists := e.definitions[id]
	if !exists {
		return nil, fmt.Errorf("definition %s is not registered", id)
	}
	return def, nil
}

// Start creates a RUNNING execution, persists it write-ahead, and drives it
// on a background goroutine. The returned execution is the caller's handle;
// its terminal status is reached asynchronously.
func (e *Executor) Start(ctx context.Context, definitionID string, input map[string]interface{}) (*saga.Execution, error) {
	def, err := e.definition(definitionID)
	if err != nil {
		return nil, err
	}

	execution := saga.NewExecution(def, input, e.clock())
	if err := e.store.Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrStoreUnavailable, err)
	}

	e.logger.Info("Saga execution started",
		zap.String("executionID", execution.ID),
		zap.String("definitionID", definitionID),
		zap.Time("deadline", execution.Deadline),
	)
	e.publish(ctx, execution, ports.EventSagaStarted, "")

	handle := *execution

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// The trigger request's context ends with the HTTP response; the
		// saga must keep running past it.
		runCtx := context.WithoutCancel(ctx)
		if _, err := e.drive(runCtx, execution); err != nil {
			e.logger.Error("Saga execution ended with engine error",
				zap.String("executionID", execution.ID),
				zap.Error(err),
			)
		}
	}()

	return &handle, nil
}

// Resume loads an execution and drives it to a terminal status. It is
// idempotent: resuming a terminal execution returns it unchanged, and a
// crash between step completions continues from the persisted step index
// without re-invoking completed steps.
func (e *Executor) Resume(ctx context.Context, executionID string) (*saga.Execution, error) {
	execution, err := e.store.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return execution, nil
	}

	e.logger.Info("Resuming saga execution",
		zap.String("executionID", execution.ID),
		zap.String("status", string(execution.Status)),
		zap.Int("stepIndex", execution.CurrentStepIndex),
	)

	// Take ownership before dispatching anything: the claim write bumps the
	// version, so a driver still holding the old one loses the CAS instead
	// of racing this one into the same step.
	if err := execution.Claim(e.clock()); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, execution); err != nil {
		return nil, err
	}

	return e.drive(ctx, execution)
}

// Wait blocks until all background executions started via Start have
// finished. Used for graceful shutdown.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// drive advances an execution until it reaches a terminal status. The record
// is persisted before every step dispatch, so a crash leaves a resumable
// write-ahead trail.
func (e *Executor) drive(ctx context.Context, execution *saga.Execution) (*saga.Execution, error) {
	def, err := e.definition(execution.DefinitionID)
	if err != nil {
		return nil, err
	}

	if execution.Status == saga.StatusRunning {
		if err := e.runForward(ctx, def, execution); err != nil {
			return nil, err
		}
	}

	if execution.Status == saga.StatusCompensating {
		if err := e.runCompensation(ctx, def, execution); err != nil {
			return nil, err
		}
	}

	if e.metrics != nil && execution.Status.IsTerminal() {
		e.metrics.RecordSagaOutcome(ctx, execution.DefinitionID, string(execution.Status), e.clock().Sub(execution.StartedAt))
	}

	return execution, nil
}

// runForward executes forward steps from the persisted cursor until the saga
// succeeds, fails over to compensation, or hits its deadline.
func (e *Executor) runForward(ctx context.Context, def *saga.Definition, execution *saga.Execution) error {
	for execution.Status == saga.StatusRunning {
		if execution.CurrentStepIndex >= def.StepCount() {
			if err := execution.MarkSucceeded(e.clock()); err != nil {
				return err
			}
			if err := e.persist(ctx, execution); err != nil {
				return err
			}
			e.logger.Info("Saga execution succeeded",
				zap.String("executionID", execution.ID),
				zap.Int("steps", def.StepCount()),
			)
			e.publish(ctx, execution, ports.EventSagaSucceeded, "")
			return nil
		}

		step, err := def.StepAt(execution.CurrentStepIndex)
		if err != nil {
			return err
		}

		if execution.DeadlineExceeded(e.clock()) {
			deadlineErr := &saga.DeadlineExceededError{ExecutionID: execution.ID}
			e.logger.Warn("Saga deadline exceeded, rolling back",
				zap.String("executionID", execution.ID),
				zap.String("step", step.Name),
				zap.Time("deadline", execution.Deadline),
			)
			return e.failOver(ctx, def, execution, step.Name, deadlineErr)
		}

		resp, attempts, stepErr := e.invokeForward(ctx, execution, step)
		if e.metrics != nil {
			e.metrics.RecordStepAttempts(ctx, execution.DefinitionID, step.Name, attempts, stepErr == nil)
		}

		if stepErr != nil {
			if isEngineAbort(stepErr) {
				// Cancellation or store trouble, not a step outcome: leave
				// the record as-is for the recovery sweeper.
				return stepErr
			}
			e.logger.Warn("Forward step failed permanently",
				zap.String("executionID", execution.ID),
				zap.String("step", step.Name),
				zap.Int("attempts", attempts),
				zap.Error(stepErr),
			)
			return e.failOver(ctx, def, execution, step.Name, stepErr)
		}

		if err := execution.RecordResult(step.Name, resp.Payload, e.clock()); err != nil {
			return err
		}
		if err := e.persist(ctx, execution); err != nil {
			return err
		}

		e.logger.Debug("Forward step completed",
			zap.String("executionID", execution.ID),
			zap.String("step", step.Name),
			zap.Int("attempts", attempts),
			zap.Int("nextIndex", execution.CurrentStepIndex),
		)
		e.publish(ctx, execution, ports.EventStepCompleted, step.Name)
	}

	return nil
}

// invokeForward resolves and runs one forward action through the retry
// controller.
func (e *Executor) invokeForward(ctx context.Context, execution *saga.Execution, step saga.Step) (ports.StepResponse, int, error) {
	handler, err := e.registry.Resolve(step.Forward)
	if err != nil {
		return ports.StepResponse{}, 0, err
	}

	req := ports.StepRequest{
		ExecutionID:  execution.ID,
		StepName:     step.Name,
		Input:        execution.Input,
		PriorResults: execution.StepResults,
	}

	return e.retry.Invoke(ctx, step.Name, step.Retry, func(ctx context.Context) (ports.StepResponse, error) {
		return handler.Handle(ctx, req)
	})
}

// failOver transitions a RUNNING execution onto the compensation path. A
// failure at the very first step has nothing to undo and goes straight to
// FAILED.
func (e *Executor) failOver(ctx context.Context, def *saga.Definition, execution *saga.Execution, stepName string, cause error) error {
	if execution.CurrentStepIndex == 0 && len(execution.StepResults) == 0 {
		if err := execution.MarkFailed(cause.Error(), false, e.clock()); err != nil {
			return err
		}
		if err := e.persist(ctx, execution); err != nil {
			return err
		}
		e.logger.Warn("Saga failed at first step, nothing to compensate",
			zap.String("executionID", execution.ID),
			zap.String("step", stepName),
		)
		e.publish(ctx, execution, ports.EventSagaFailed, stepName)
		return nil
	}

	if err := execution.BeginCompensation(stepName, cause.Error(), e.clock()); err != nil {
		return err
	}
	if err := e.persist(ctx, execution); err != nil {
		return err
	}
	e.publish(ctx, execution, ports.EventSagaCompensating, stepName)
	return nil
}

// runCompensation undoes completed steps in reverse completion order. Each
// compensation runs under its own retry policy; if one exhausts its retries
// the saga is FAILED with the manual-intervention flag set, because there is
// no compensation-of-compensation.
func (e *Executor) runCompensation(ctx context.Context, def *saga.Definition, execution *saga.Execution) error {
	failedIndex := execution.CurrentStepIndex
	chain, err := BuildCompensationChain(def, failedIndex, execution.StepResults)
	if err != nil {
		return err
	}

	e.logger.Info("Running compensation chain",
		zap.String("executionID", execution.ID),
		zap.String("failedStep", execution.FailedStep),
		zap.Int("tasks", len(chain)),
	)

	for _, task := range chain {
		handler, err := e.registry.Resolve(task.Handler)
		if err != nil {
			return err
		}

		req := ports.StepRequest{
			ExecutionID:  execution.ID,
			StepName:     task.StepName,
			Input:        execution.Input,
			PriorResults: execution.StepResults,
		}

		_, attempts, compErr := e.retry.Invoke(ctx, task.StepName, task.Retry, func(ctx context.Context) (ports.StepResponse, error) {
			return handler.Handle(ctx, req)
		})
		if e.metrics != nil {
			e.metrics.RecordStepAttempts(ctx, execution.DefinitionID, task.StepName, attempts, compErr == nil)
		}

		if compErr != nil {
			if isEngineAbort(compErr) {
				return compErr
			}
			fatal := &saga.CompensationFailureError{
				ExecutionID: execution.ID,
				StepName:    task.StepName,
				Cause:       compErr,
			}
			if err := execution.MarkFailed(fatal.Error(), true, e.clock()); err != nil {
				return err
			}
			if err := e.persist(ctx, execution); err != nil {
				return err
			}
			e.logger.Error("Compensation failed permanently, manual intervention required",
				zap.String("executionID", execution.ID),
				zap.String("step", task.StepName),
				zap.Error(compErr),
			)
			e.publish(ctx, execution, ports.EventSagaFailed, task.StepName)
			return fatal
		}

		e.logger.Debug("Compensation step completed",
			zap.String("executionID", execution.ID),
			zap.String("step", task.StepName),
			zap.Int("attempts", attempts),
		)
	}

	if err := execution.MarkCompensated(e.clock()); err != nil {
		return err
	}
	if err := e.persist(ctx, execution); err != nil {
		return err
	}

	e.logger.Info("Saga execution fully compensated",
		zap.String("executionID", execution.ID),
		zap.String("failedStep", execution.FailedStep),
	)
	e.publish(ctx, execution, ports.EventSagaCompensated, "")
	return nil
}

// persist writes the execution through the store's compare-and-set. A
// version conflict means another driver owns the execution; this driver
// stands down without touching the record further.
func (e *Executor) persist(ctx context.Context, execution *saga.Execution) error {
	err := e.store.Update(ctx, execution)
	if err == nil {
		return nil
	}

	if errors.Is(err, ports.ErrVersionConflict) {
		e.logger.Warn("Lost execution ownership to another driver",
			zap.String("executionID", execution.ID),
			zap.Int("version", execution.Version),
		)
		return err
	}

	return fmt.Errorf("%w: %s", ports.ErrStoreUnavailable, err)
}

// publish emits a lifecycle event, best-effort
func (e *Executor) publish(ctx context.Context, execution *saga.Execution, eventType, stepName string) {
	if e.publisher == nil {
		return
	}

	event := ports.SagaEvent{
		ExecutionID:  execution.ID,
		DefinitionID: execution.DefinitionID,
		Type:         eventType,
		StepName:     stepName,
		Status:       string(execution.Status),
		OccurredAt:   e.clock(),
	}
	if execution.FailureReason != "" {
		event.Detail = map[string]interface{}{"reason": execution.FailureReason}
	}

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish saga event",
			zap.String("executionID", execution.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

// isEngineAbort distinguishes engine-level interruptions (cancellation,
// store outage, lost ownership) from step outcomes. Aborts leave the
// persisted record for the recovery sweeper instead of compensating.
func isEngineAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ports.ErrStoreUnavailable) ||
		errors.Is(err, ports.ErrVersionConflict)
}
