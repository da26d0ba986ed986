package saga

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one execution
type Status string

const (
	StatusRunning      Status = "RUNNING"
	StatusSucceeded    Status = "SUCCEEDED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusFailed       Status = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusCompensated || s == StatusFailed
}

// StepResult records the payload a completed forward step produced, in
// completion order. Compensation actions read these payloads back (a cancel
// needs the reservation id the reserve step returned).
type StepResult struct {
	StepName    string
	Payload     map[string]interface{}
	CompletedAt time.Time
}

// Execution is one running instance of a Definition. It is exclusively owned
// by the executor driving it; the store is a passive persistence surface.
// Terminal executions are never mutated again.
type Execution struct {
	ID                 string
	DefinitionID       string
	Status             Status
	CurrentStepIndex   int
	StepResults        []StepResult
	Input              map[string]interface{}
	FailedStep         string
	FailureReason      string
	ManualIntervention bool
	StartedAt          time.Time
	Deadline           time.Time
	UpdatedAt          time.Time

	// Version backs the store's compare-and-set so two executor instances
	// cannot double-advance the same saga.
	Version int
}

// NewExecution creates a RUNNING execution for the given definition
func NewExecution(def *Definition, input map[string]interface{}, now time.Time) *Execution {
	return &Execution{
		ID:               uuid.New().String(),
		DefinitionID:     def.ID(),
		Status:           StatusRunning,
		CurrentStepIndex: 0,
		StepResults:      make([]StepResult, 0, def.StepCount()),
		Input:            input,
		StartedAt:        now,
		Deadline:         now.Add(def.Deadline()),
		UpdatedAt:        now,
		Version:          1,
	}
}

// RecordResult appends a completed forward step's payload and advances the
// step cursor. Only valid while RUNNING.
func (e *Execution) RecordResult(stepName string, payload map[string]interface{}, now time.Time) error {
	if e.Status != StatusRunning {
		return fmt.Errorf("execution %s is %s, cannot record forward result", e.ID, e.Status)
	}
	e.StepResults = append(e.StepResults, StepResult{
		StepName:    stepName,
		Payload:     payload,
		CompletedAt: now,
	})
	e.CurrentStepIndex++
	e.touch(now)
	return nil
}

// ResultFor returns the recorded payload for a step, if it completed
func (e *Execution) ResultFor(stepName string) (StepResult, bool) {
	for _, result := range e.StepResults {
		if result.StepName == stepName {
			return result, true
		}
	}
	return StepResult{}, false
}

// BeginCompensation moves a RUNNING execution into COMPENSATING after an
// unrecoverable forward failure or a blown deadline.
func (e *Execution) BeginCompensation(failedStep, reason string, now time.Time) error {
	if e.Status != StatusRunning {
		return fmt.Errorf("execution %s is %s, cannot begin compensation", e.ID, e.Status)
	}
	e.Status = StatusCompensating
	e.FailedStep = failedStep
	e.FailureReason = reason
	e.touch(now)
	return nil
}

// MarkSucceeded completes the saga after every forward step succeeded
func (e *Execution) MarkSucceeded(now time.Time) error {
	if e.Status != StatusRunning {
		return fmt.Errorf("execution %s is %s, cannot succeed", e.ID, e.Status)
	}
	e.Status = StatusSucceeded
	e.touch(now)
	return nil
}

// MarkCompensated completes the rollback: every applicable compensation ran
func (e *Execution) MarkCompensated(now time.Time) error {
	if e.Status != StatusCompensating {
		return fmt.Errorf("execution %s is %s, cannot mark compensated", e.ID, e.Status)
	}
	e.Status = StatusCompensated
	e.touch(now)
	return nil
}

// MarkFailed terminates the saga without (complete) compensation. When a
// compensation step itself exhausted its retries the execution is flagged
// for manual intervention.
func (e *Execution) MarkFailed(reason string, manualIntervention bool, now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("execution %s is already terminal (%s)", e.ID, e.Status)
	}
	e.Status = StatusFailed
	e.FailureReason = reason
	e.ManualIntervention = manualIntervention
	e.touch(now)
	return nil
}

// Claim bumps the version without changing saga state. A resuming driver
// persists the claim before dispatching anything, so a concurrent driver
// holding the old version loses the compare-and-set instead of
// double-running a step.
func (e *Execution) Claim(now time.Time) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("execution %s is already terminal (%s)", e.ID, e.Status)
	}
	e.touch(now)
	return nil
}

// DeadlineExceeded reports whether the saga's wall-clock budget has passed
func (e *Execution) DeadlineExceeded(now time.Time) bool {
	return now.After(e.Deadline)
}

// touch bumps the version and update timestamp after every mutation, so the
// next store write carries a CAS-able version.
func (e *Execution) touch(now time.Time) {
	e.Version++
	e.UpdatedAt = now
}
