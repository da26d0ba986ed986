// Package engine drives saga executions: it advances forward steps through
// the retry controller, persists every transition write-ahead, and rolls
// back through the compensation chain when a step fails for good.
package engine

import (
	"fmt"
	"sync"

	"tripsaga/application/ports"
	"tripsaga/domain/saga"
)

// HandlerRegistry resolves handler references to step handlers. Handlers are
// registered once at startup; resolution is read-only afterwards.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[saga.HandlerRef]ports.StepHandler
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[saga.HandlerRef]ports.StepHandler),
	}
}

// Register binds a handler to a reference. Registering the same reference
// twice is an error: silently replacing a handler under a live engine is a
// configuration bug, not a feature.
func (r *HandlerRegistry) Register(ref saga.HandlerRef, handler ports.StepHandler) error {
	if ref == "" {
		return fmt.Errorf("handler reference must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s must not be nil", ref)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[ref]; exists {
		return fmt.Errorf("handler %s is already registered", ref)
	}
	r.handlers[ref] = handler
	return nil
}

// Resolve returns the handler bound to a reference
func (r *HandlerRegistry) Resolve(ref saga.HandlerRef) (ports.StepHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[ref]
	if !exists {
		return nil, fmt.Errorf("no handler registered for %s", ref)
	}
	return handler, nil
}

// Validate checks that every handler a definition references is registered,
// so a missing binding fails at registration time instead of mid-saga.
func (r *HandlerRegistry) Validate(def *saga.Definition) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, step := range def.Steps() {
		if _, exists := r.handlers[step.Forward]; !exists {
			return fmt.Errorf("definition %s: step %s references unregistered handler %s", def.ID(), step.Name, step.Forward)
		}
		if step.HasCompensation() {
			if _, exists := r.handlers[*step.Compensate]; !exists {
				return fmt.Errorf("definition %s: step %s references unregistered compensation %s", def.ID(), step.Name, *step.Compensate)
			}
		}
	}
	return nil
}
