package booking

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/booking"
	"tripsaga/domain/saga"
)

// ReserveFlightHandler holds a seat for the trip. This step invokes the
// flight repository, not the hotel one.
type ReserveFlightHandler struct {
	flights ports.FlightRepository
	clock   Clock
	logger  *zap.Logger
}

// NewReserveFlightHandler creates the handler
func NewReserveFlightHandler(flights ports.FlightRepository, clock Clock, logger *zap.Logger) *ReserveFlightHandler {
	return &ReserveFlightHandler{flights: flights, clock: clock, logger: logger}
}

// Handle reserves the seat in PENDING state. The reservation identity is
// derived from the execution; a repeated invocation reuses the seat a prior
// attempt held rather than reserving a second one.
func (h *ReserveFlightHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservationID := booking.FlightReservationID(req.ExecutionID)
	if existing, err := h.flights.Get(ctx, trip.TripID, reservationID); err == nil {
		return ports.StepResponse{Payload: map[string]interface{}{
			PayloadFlightReservationID: existing.ID,
			PayloadStatus:              string(existing.Status),
		}}, nil
	} else if !errors.Is(err, ports.ErrReservationNotFound) {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	reservation := booking.NewFlightReservation(reservationID, trip.TripID, trip.DepartCity, trip.ArriveCity, trip.DepartureDate, h.clock())
	if err := h.flights.Save(ctx, reservation); err != nil {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	h.logger.Info("Flight seat reserved",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("reservationID", reservation.ID),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadFlightReservationID: reservation.ID,
		PayloadStatus:              string(reservation.Status),
	}}, nil
}

// ConfirmFlightHandler finalizes a pending flight reservation
type ConfirmFlightHandler struct {
	flights ports.FlightRepository
	clock   Clock
	logger  *zap.Logger
}

// NewConfirmFlightHandler creates the handler
func NewConfirmFlightHandler(flights ports.FlightRepository, clock Clock, logger *zap.Logger) *ConfirmFlightHandler {
	return &ConfirmFlightHandler{flights: flights, clock: clock, logger: logger}
}

// Handle confirms the reservation the reserve step created
func (h *ConfirmFlightHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservationID, err := priorPayloadString(req.PriorResults, StepReserveFlight, PayloadFlightReservationID)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservation, err := h.flights.Get(ctx, trip.TripID, reservationID)
	if err != nil {
		if errors.Is(err, ports.ErrReservationNotFound) {
			return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
		}
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	if reservation.Status != booking.ReservationConfirmed {
		if err := reservation.Confirm(h.clock()); err != nil {
			return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
		}
		if err := h.flights.Save(ctx, reservation); err != nil {
			return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
		}
	}

	h.logger.Info("Flight booking confirmed",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("reservationID", reservation.ID),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadFlightReservationID: reservation.ID,
		PayloadStatus:              string(reservation.Status),
	}}, nil
}

// CancelFlightHandler is the compensation for ReserveFlight
type CancelFlightHandler struct {
	flights ports.FlightRepository
	clock   Clock
	logger  *zap.Logger
}

// NewCancelFlightHandler creates the handler
func NewCancelFlightHandler(flights ports.FlightRepository, clock Clock, logger *zap.Logger) *CancelFlightHandler {
	return &CancelFlightHandler{flights: flights, clock: clock, logger: logger}
}

// Handle releases the reserved seat; missing or already-cancelled
// reservations count as success.
func (h *CancelFlightHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservationID, err := priorPayloadString(req.PriorResults, StepReserveFlight, PayloadFlightReservationID)
	if err != nil {
		return ports.StepResponse{Payload: map[string]interface{}{PayloadStatus: "nothing_to_cancel"}}, nil
	}

	reservation, err := h.flights.Get(ctx, trip.TripID, reservationID)
	if err != nil {
		if errors.Is(err, ports.ErrReservationNotFound) {
			return ports.StepResponse{Payload: map[string]interface{}{PayloadStatus: "nothing_to_cancel"}}, nil
		}
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	reservation.Cancel(h.clock())
	if err := h.flights.Save(ctx, reservation); err != nil {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	h.logger.Info("Flight reservation cancelled",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("reservationID", reservation.ID),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadFlightReservationID: reservation.ID,
		PayloadStatus:              string(reservation.Status),
	}}, nil
}
