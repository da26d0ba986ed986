package booking

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tripsaga/application/engine"
	"tripsaga/application/ports"
	"tripsaga/domain/booking"
	"tripsaga/domain/saga"
)

// Clock supplies the current time; injected so handler tests can pin it
type Clock func() time.Time

// TravelSagaID identifies the booking saga definition
const TravelSagaID = "travel-booking"

// TravelSagaDeadline is the default wall-clock budget for one booking saga
// run, used when no deadline is configured.
const TravelSagaDeadline = 5 * time.Minute

// Forward step names, in execution order
const (
	StepReserveHotel  = "ReserveHotel"
	StepReserveFlight = "ReserveFlight"
	StepTakePayment   = "TakePayment"
	StepConfirmHotel  = "ConfirmHotel"
	StepConfirmFlight = "ConfirmFlight"
)

// Handler references resolved through the registry
const (
	HandlerReserveHotel  saga.HandlerRef = "booking.reserveHotel"
	HandlerConfirmHotel  saga.HandlerRef = "booking.confirmHotel"
	HandlerCancelHotel   saga.HandlerRef = "booking.cancelHotel"
	HandlerReserveFlight saga.HandlerRef = "booking.reserveFlight"
	HandlerConfirmFlight saga.HandlerRef = "booking.confirmFlight"
	HandlerCancelFlight  saga.HandlerRef = "booking.cancelFlight"
	HandlerTakePayment   saga.HandlerRef = "booking.takePayment"
	HandlerRefundPayment saga.HandlerRef = "booking.refundPayment"
)

// NewTravelSagaDefinition builds the booking saga:
//
//	ReserveHotel -> ReserveFlight -> TakePayment -> ConfirmHotel -> ConfirmFlight
//
// with compensations CancelHotel, CancelFlight and RefundPayment running in
// reverse completion order on failure. The confirm steps have no
// compensation of their own; undoing a confirmed booking is the refund plus
// the cancellations already registered on the earlier steps.
//
// A non-positive deadline falls back to TravelSagaDeadline.
func NewTravelSagaDefinition(deadline time.Duration) (*saga.Definition, error) {
	if deadline <= 0 {
		deadline = TravelSagaDeadline
	}

	cancelHotel := HandlerCancelHotel
	cancelFlight := HandlerCancelFlight
	refundPayment := HandlerRefundPayment

	steps := []saga.Step{
		{
			Name:            StepReserveHotel,
			Forward:         HandlerReserveHotel,
			Compensate:      &cancelHotel,
			Retry:           saga.DefaultRetryPolicy(),
			CompensateRetry: saga.CompensationRetryPolicy(),
		},
		{
			Name:            StepReserveFlight,
			Forward:         HandlerReserveFlight,
			Compensate:      &cancelFlight,
			Retry:           saga.DefaultRetryPolicy(),
			CompensateRetry: saga.CompensationRetryPolicy(),
		},
		{
			Name:            StepTakePayment,
			Forward:         HandlerTakePayment,
			Compensate:      &refundPayment,
			Retry:           saga.DefaultRetryPolicy(),
			CompensateRetry: saga.CompensationRetryPolicy(),
		},
		{
			Name:    StepConfirmHotel,
			Forward: HandlerConfirmHotel,
			Retry:   saga.DefaultRetryPolicy(),
		},
		{
			Name:    StepConfirmFlight,
			Forward: HandlerConfirmFlight,
			Retry:   saga.DefaultRetryPolicy(),
		},
	}

	return saga.NewDefinition(TravelSagaID, steps, deadline)
}

// Handlers bundles the travel saga's step handlers for registration
type Handlers struct {
	ReserveHotel  ports.StepHandler
	ConfirmHotel  ports.StepHandler
	CancelHotel   ports.StepHandler
	ReserveFlight ports.StepHandler
	ConfirmFlight ports.StepHandler
	CancelFlight  ports.StepHandler
	TakePayment   ports.StepHandler
	RefundPayment ports.StepHandler
}

// NewHandlers wires the step handlers against the booking repositories
func NewHandlers(
	hotels ports.HotelRepository,
	flights ports.FlightRepository,
	payments ports.PaymentRepository,
	clock Clock,
	logger *zap.Logger,
) Handlers {
	return Handlers{
		ReserveHotel:  NewReserveHotelHandler(hotels, clock, logger),
		ConfirmHotel:  NewConfirmHotelHandler(hotels, clock, logger),
		CancelHotel:   NewCancelHotelHandler(hotels, clock, logger),
		ReserveFlight: NewReserveFlightHandler(flights, clock, logger),
		ConfirmFlight: NewConfirmFlightHandler(flights, clock, logger),
		CancelFlight:  NewCancelFlightHandler(flights, clock, logger),
		TakePayment:   NewTakePaymentHandler(payments, clock, logger),
		RefundPayment: NewRefundPaymentHandler(payments, clock, logger),
	}
}

// Register binds every handler into the registry and registers the travel
// saga definition, built with the given deadline, with the executor.
func Register(executor *engine.Executor, registry *engine.HandlerRegistry, handlers Handlers, deadline time.Duration) error {
	bindings := map[saga.HandlerRef]ports.StepHandler{
		HandlerReserveHotel:  handlers.ReserveHotel,
		HandlerConfirmHotel:  handlers.ConfirmHotel,
		HandlerCancelHotel:   handlers.CancelHotel,
		HandlerReserveFlight: handlers.ReserveFlight,
		HandlerConfirmFlight: handlers.ConfirmFlight,
		HandlerCancelFlight:  handlers.CancelFlight,
		HandlerTakePayment:   handlers.TakePayment,
		HandlerRefundPayment: handlers.RefundPayment,
	}

	for ref, handler := range bindings {
		if err := registry.Register(ref, handler); err != nil {
			return err
		}
	}

	def, err := NewTravelSagaDefinition(deadline)
	if err != nil {
		return err
	}
	return executor.RegisterDefinition(def)
}

// InputFromTrip converts a trip request into the saga input payload
func InputFromTrip(trip booking.TripRequest) (map[string]interface{}, error) {
	raw, err := json.Marshal(trip)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trip request: %w", err)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("failed to convert trip request: %w", err)
	}
	return input, nil
}

// tripFromInput reconstructs the trip request a step handler needs from the
// saga input payload.
func tripFromInput(input map[string]interface{}) (booking.TripRequest, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return booking.TripRequest{}, fmt.Errorf("failed to marshal saga input: %w", err)
	}
	var trip booking.TripRequest
	if err := json.Unmarshal(raw, &trip); err != nil {
		return booking.TripRequest{}, fmt.Errorf("invalid trip payload: %w", err)
	}
	if trip.TripID == "" {
		return booking.TripRequest{}, fmt.Errorf("trip payload is missing trip_id")
	}
	return trip, nil
}
