package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/saga"
	"tripsaga/infrastructure/persistence/memory"
)

// callLog records handler invocations across goroutines
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) count(name string) int {
	n := 0
	for _, c := range l.names() {
		if c == name {
			n++
		}
	}
	return n
}

// fakeClock is a settable clock for deadline tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// capturingPublisher collects lifecycle events
type capturingPublisher struct {
	mu     sync.Mutex
	events []ports.SagaEvent
}

func (p *capturingPublisher) Publish(_ context.Context, event ports.SagaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func stepOK(log *callLog, name string) ports.StepHandler {
	return ports.StepHandlerFunc(func(_ context.Context, _ ports.StepRequest) (ports.StepResponse, error) {
		log.record(name)
		return ports.StepResponse{Payload: map[string]interface{}{"id": name + "-id"}}, nil
	})
}

func stepFail(log *callLog, name string, err error) ports.StepHandler {
	return ports.StepHandlerFunc(func(_ context.Context, _ ports.StepRequest) (ports.StepResponse, error) {
		log.record(name)
		return ports.StepResponse{}, err
	})
}

// bookingStyleDef mirrors the travel saga shape: three compensable steps
func bookingStyleDef(t *testing.T) *saga.Definition {
	t.Helper()

	cancelHotel := saga.HandlerRef("t.cancelHotel")
	cancelFlight := saga.HandlerRef("t.cancelFlight")
	refund := saga.HandlerRef("t.refundPayment")

	def, err := saga.NewDefinition("booking-test", []saga.Step{
		{Name: "ReserveHotel", Forward: "t.reserveHotel", Compensate: &cancelHotel, Retry: saga.DefaultRetryPolicy(), CompensateRetry: saga.CompensationRetryPolicy()},
		{Name: "ReserveFlight", Forward: "t.reserveFlight", Compensate: &cancelFlight, Retry: saga.DefaultRetryPolicy(), CompensateRetry: saga.CompensationRetryPolicy()},
		{Name: "TakePayment", Forward: "t.takePayment", Compensate: &refund, Retry: saga.DefaultRetryPolicy(), CompensateRetry: saga.CompensationRetryPolicy()},
	}, time.Minute)
	require.NoError(t, err)
	return def
}

func newTestExecutor(t *testing.T, store ports.ExecutionStore, publisher ports.EventPublisher, handlers map[saga.HandlerRef]ports.StepHandler, defs ...*saga.Definition) *Executor {
	t.Helper()

	registry := NewHandlerRegistry()
	for ref, handler := range handlers {
		require.NoError(t, registry.Register(ref, handler))
	}

	retry := NewRetryControllerWithSleep(zap.NewNop(), func(_ context.Context, _ time.Duration) error {
		return nil
	})

	executor := NewExecutor(store, registry, retry, publisher, nil, zap.NewNop())
	for _, def := range defs {
		require.NoError(t, executor.RegisterDefinition(def))
	}
	return executor
}

func TestExecutor_Start_RunsStepsInOrder(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	handle, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-1"})
	require.NoError(t, err)
	executor.Wait()

	assert.Equal(t, []string{"ReserveHotel", "ReserveFlight", "TakePayment"}, log.names())

	stored, err := store.Get(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusSucceeded, stored.Status)
	assert.Equal(t, 3, stored.CurrentStepIndex)
	require.Len(t, stored.StepResults, 3)
	assert.Equal(t, "ReserveHotel-id", stored.StepResults[0].Payload["id"])
	assert.False(t, stored.ManualIntervention)
}

func TestExecutor_Start_CompensatesInReverseCompletionOrder(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	declined := saga.NewBusinessError("TakePayment", errors.New("card declined"))
	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepFail(log, "TakePayment", declined),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	handle, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-2"})
	require.NoError(t, err)
	executor.Wait()

	// The payment never recorded a result, so only the reservations are
	// undone, flight before hotel.
	assert.Equal(t, []string{
		"ReserveHotel",
		"ReserveFlight",
		"TakePayment",
		"CancelFlight",
		"CancelHotel",
	}, log.names())

	stored, err := store.Get(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, stored.Status)
	assert.Equal(t, "TakePayment", stored.FailedStep)
	assert.Contains(t, stored.FailureReason, "card declined")
	assert.False(t, stored.ManualIntervention)
}

func TestExecutor_Start_FirstStepFailureHasNothingToCompensate(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	noRooms := saga.NewBusinessError("ReserveHotel", errors.New("no rooms available"))
	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepFail(log, "ReserveHotel", noRooms),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	handle, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-3"})
	require.NoError(t, err)
	executor.Wait()

	assert.Equal(t, []string{"ReserveHotel"}, log.names())

	stored, err := store.Get(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, stored.Status)
	assert.False(t, stored.ManualIntervention)
	assert.Contains(t, stored.FailureReason, "no rooms available")
}

func TestExecutor_Start_TransientFailureRetriesThenSucceeds(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	var mu sync.Mutex
	failures := 2
	flakyFlight := ports.StepHandlerFunc(func(_ context.Context, _ ports.StepRequest) (ports.StepResponse, error) {
		log.record("ReserveFlight")
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return ports.StepResponse{}, saga.NewTransientError("ReserveFlight", errors.New("airline API timeout"))
		}
		return ports.StepResponse{Payload: map[string]interface{}{"id": "flight-1"}}, nil
	})

	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": flakyFlight,
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	handle, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-4"})
	require.NoError(t, err)
	executor.Wait()

	assert.Equal(t, 3, log.count("ReserveFlight"))

	stored, err := store.Get(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusSucceeded, stored.Status)
}

func TestExecutor_CompensationFailure_FlagsManualIntervention(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	declined := saga.NewBusinessError("TakePayment", errors.New("card declined"))
	cancelDown := saga.NewTransientError("ReserveFlight", errors.New("airline API down"))
	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepFail(log, "TakePayment", declined),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepFail(log, "CancelFlight", cancelDown),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	handle, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-5"})
	require.NoError(t, err)
	executor.Wait()

	// The cancellation burns its whole compensation budget and the chain
	// stops there; the hotel cancellation never runs.
	assert.Equal(t, saga.CompensationMaxAttempts, log.count("CancelFlight"))
	assert.Equal(t, 0, log.count("CancelHotel"))

	stored, err := store.Get(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, stored.Status)
	assert.True(t, stored.ManualIntervention)
}

func TestExecutor_Resume_ContinuesFromPersistedStep(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	// A previous driver crashed after persisting the first two step results.
	now := time.Now()
	execution := saga.NewExecution(def, map[string]interface{}{"trip_id": "trip-6"}, now)
	require.NoError(t, execution.RecordResult("ReserveHotel", map[string]interface{}{"id": "hotel-1"}, now))
	require.NoError(t, execution.RecordResult("ReserveFlight", map[string]interface{}{"id": "flight-1"}, now))
	require.NoError(t, store.Create(context.Background(), execution))

	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	resumed, err := executor.Resume(context.Background(), execution.ID)
	require.NoError(t, err)

	// Completed steps are not re-invoked.
	assert.Equal(t, []string{"TakePayment"}, log.names())
	assert.Equal(t, saga.StatusSucceeded, resumed.Status)
	require.Len(t, resumed.StepResults, 3)
	assert.Equal(t, "hotel-1", resumed.StepResults[0].Payload["id"])
}

func TestExecutor_Resume_TerminalExecutionIsUntouched(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	now := time.Now()
	execution := saga.NewExecution(def, map[string]interface{}{"trip_id": "trip-7"}, now)
	require.NoError(t, execution.RecordResult("ReserveHotel", nil, now))
	require.NoError(t, execution.RecordResult("ReserveFlight", nil, now))
	require.NoError(t, execution.RecordResult("TakePayment", nil, now))
	require.NoError(t, execution.MarkSucceeded(now))
	require.NoError(t, store.Create(context.Background(), execution))

	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	resumed, err := executor.Resume(context.Background(), execution.ID)
	require.NoError(t, err)

	assert.Empty(t, log.names())
	assert.Equal(t, saga.StatusSucceeded, resumed.Status)
	assert.Equal(t, execution.Version, resumed.Version)
}

func TestExecutor_Resume_LostClaimStopsBeforeDispatch(t *testing.T) {
	inner := memory.NewExecutionStore()
	store := &conflictStore{inner}
	log := &callLog{}
	def := bookingStyleDef(t)

	now := time.Now()
	execution := saga.NewExecution(def, map[string]interface{}{"trip_id": "trip-11"}, now)
	require.NoError(t, execution.RecordResult("ReserveHotel", nil, now))
	require.NoError(t, inner.Create(context.Background(), execution))

	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	_, err := executor.Resume(context.Background(), execution.ID)
	require.ErrorIs(t, err, ports.ErrVersionConflict)

	// The claim write loses the race before any handler runs, so the live
	// driver and the sweeper never execute the same step concurrently.
	assert.Empty(t, log.names())
}

func TestExecutor_DeadlineExceeded_RollsBack(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	def := bookingStyleDef(t)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	// The hotel reservation succeeds but eats the whole time budget.
	slowHotel := ports.StepHandlerFunc(func(_ context.Context, _ ports.StepRequest) (ports.StepResponse, error) {
		log.record("ReserveHotel")
		clock.Advance(2 * time.Minute)
		return ports.StepResponse{Payload: map[string]interface{}{"id": "hotel-1"}}, nil
	})

	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  slowHotel,
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)
	executor.clock = clock.Now

	handle, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-8"})
	require.NoError(t, err)
	executor.Wait()

	// The flight step never runs; the completed hotel step is undone.
	assert.Equal(t, []string{"ReserveHotel", "CancelHotel"}, log.names())

	stored, err := store.Get(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, stored.Status)
	assert.Equal(t, "ReserveFlight", stored.FailedStep)
	assert.Contains(t, stored.FailureReason, "deadline")
}

func TestExecutor_Start_PublishesLifecycleEvents(t *testing.T) {
	store := memory.NewExecutionStore()
	log := &callLog{}
	publisher := &capturingPublisher{}
	def := bookingStyleDef(t)

	executor := newTestExecutor(t, store, publisher, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	_, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-9"})
	require.NoError(t, err)
	executor.Wait()

	assert.Equal(t, []string{
		ports.EventSagaStarted,
		ports.EventStepCompleted,
		ports.EventStepCompleted,
		ports.EventStepCompleted,
		ports.EventSagaSucceeded,
	}, publisher.types())
}

// conflictStore simulates another driver advancing the execution first
type conflictStore struct {
	*memory.ExecutionStore
}

func (s *conflictStore) Update(_ context.Context, _ *saga.Execution) error {
	return ports.ErrVersionConflict
}

func TestExecutor_VersionConflict_StandsDown(t *testing.T) {
	store := &conflictStore{memory.NewExecutionStore()}
	log := &callLog{}
	def := bookingStyleDef(t)

	executor := newTestExecutor(t, store, nil, map[saga.HandlerRef]ports.StepHandler{
		"t.reserveHotel":  stepOK(log, "ReserveHotel"),
		"t.reserveFlight": stepOK(log, "ReserveFlight"),
		"t.takePayment":   stepOK(log, "TakePayment"),
		"t.cancelHotel":   stepOK(log, "CancelHotel"),
		"t.cancelFlight":  stepOK(log, "CancelFlight"),
		"t.refundPayment": stepOK(log, "RefundPayment"),
	}, def)

	handle, err := executor.Start(context.Background(), def.ID(), map[string]interface{}{"trip_id": "trip-10"})
	require.NoError(t, err)
	executor.Wait()

	// The first persist after a completed step loses the race; the loser
	// stops driving instead of compensating.
	assert.Equal(t, []string{"ReserveHotel"}, log.names())

	stored, err := store.Get(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusRunning, stored.Status)
	assert.Equal(t, 1, stored.Version)
}
