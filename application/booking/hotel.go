// Package booking implements the travel saga's step handlers: reserving,
// confirming and cancelling hotel rooms and flights, and taking or refunding
// the trip payment. Each handler is idempotent, as the engine requires.
package booking

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/booking"
	"tripsaga/domain/saga"
)

// Payload keys shared between forward steps and their compensations
const (
	PayloadHotelReservationID  = "hotel_reservation_id"
	PayloadFlightReservationID = "flight_reservation_id"
	PayloadPaymentID           = "payment_id"
	PayloadStatus              = "status"
)

// ReserveHotelHandler holds a room for the trip
type ReserveHotelHandler struct {
	hotels ports.HotelRepository
	clock  Clock
	logger *zap.Logger
}

// NewReserveHotelHandler creates the handler
func NewReserveHotelHandler(hotels ports.HotelRepository, clock Clock, logger *zap.Logger) *ReserveHotelHandler {
	return &ReserveHotelHandler{hotels: hotels, clock: clock, logger: logger}
}

// Handle reserves the room in PENDING state. The reservation identity is
// derived from the execution, so a retry after an ambiguous failure or a
// resumed driver re-running the step reuses the record a prior attempt
// wrote instead of holding a second room.
func (h *ReserveHotelHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservationID := booking.HotelReservationID(req.ExecutionID)
	if existing, err := h.hotels.Get(ctx, trip.TripID, reservationID); err == nil {
		return ports.StepResponse{Payload: map[string]interface{}{
			PayloadHotelReservationID: existing.ID,
			PayloadStatus:             string(existing.Status),
		}}, nil
	} else if !errors.Is(err, ports.ErrReservationNotFound) {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	reservation := booking.NewHotelReservation(reservationID, trip.TripID, trip.HotelCity, trip.CheckIn, trip.CheckOut, h.clock())
	if err := h.hotels.Save(ctx, reservation); err != nil {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	h.logger.Info("Hotel room reserved",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("reservationID", reservation.ID),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadHotelReservationID: reservation.ID,
		PayloadStatus:             string(reservation.Status),
	}}, nil
}

// ConfirmHotelHandler finalizes a pending hotel reservation
type ConfirmHotelHandler struct {
	hotels ports.HotelRepository
	clock  Clock
	logger *zap.Logger
}

// NewConfirmHotelHandler creates the handler
func NewConfirmHotelHandler(hotels ports.HotelRepository, clock Clock, logger *zap.Logger) *ConfirmHotelHandler {
	return &ConfirmHotelHandler{hotels: hotels, clock: clock, logger: logger}
}

// Handle confirms the reservation the reserve step created
func (h *ConfirmHotelHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservationID, err := priorPayloadString(req.PriorResults, StepReserveHotel, PayloadHotelReservationID)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservation, err := h.hotels.Get(ctx, trip.TripID, reservationID)
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
		if err := h.hotels.Save(ctx, reservation); err != nil {
			return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
		}
	}

	h.logger.Info("Hotel booking confirmed",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("reservationID", reservation.ID),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadHotelReservationID: reservation.ID,
		PayloadStatus:             string(reservation.Status),
	}}, nil
}

// CancelHotelHandler is the compensation for ReserveHotel
type CancelHotelHandler struct {
	hotels ports.HotelRepository
	clock  Clock
	logger *zap.Logger
}

// NewCancelHotelHandler creates the handler
func NewCancelHotelHandler(hotels ports.HotelRepository, clock Clock, logger *zap.Logger) *CancelHotelHandler {
	return &CancelHotelHandler{hotels: hotels, clock: clock, logger: logger}
}

// Handle releases the reserved room. A reservation that was never written,
// or one already cancelled, counts as success: compensation must converge
// no matter how often it is retried.
func (h *CancelHotelHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	reservationID, err := priorPayloadString(req.PriorResults, StepReserveHotel, PayloadHotelReservationID)
	if err != nil {
		// The reserve step recorded nothing; there is no room to release.
		return ports.StepResponse{Payload: map[string]interface{}{PayloadStatus: "nothing_to_cancel"}}, nil
	}

	reservation, err := h.hotels.Get(ctx, trip.TripID, reservationID)
	if err != nil {
		if errors.Is(err, ports.ErrReservationNotFound) {
			return ports.StepResponse{Payload: map[string]interface{}{PayloadStatus: "nothing_to_cancel"}}, nil
		}
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	reservation.Cancel(h.clock())
	if err := h.hotels.Save(ctx, reservation); err != nil {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	h.logger.Info("Hotel reservation cancelled",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("reservationID", reservation.ID),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadHotelReservationID: reservation.ID,
		PayloadStatus:             string(reservation.Status),
	}}, nil
}

// priorPayloadString digs a string value out of a completed step's payload
func priorPayloadString(results []saga.StepResult, stepName, key string) (string, error) {
	for _, result := range results {
		if result.StepName != stepName {
			continue
		}
		value, ok := result.Payload[key].(string)
		if !ok || value == "" {
			return "", fmt.Errorf("step %s recorded no %s", stepName, key)
		}
		return value, nil
	}
	return "", fmt.Errorf("no recorded result for step %s", stepName)
}
