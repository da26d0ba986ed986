package ports

import (
	"context"
	"errors"

	"tripsaga/domain/booking"
)

// ErrReservationNotFound is returned when a reservation or payment id is unknown
var ErrReservationNotFound = errors.New("reservation not found")

// HotelRepository persists hotel reservations
type HotelRepository interface {
	Save(ctx context.Context, reservation *booking.HotelReservation) error
	Get(ctx context.Context, tripID, reservationID string) (*booking.HotelReservation, error)
}

// FlightRepository persists flight reservations
type FlightRepository interface {
	Save(ctx context.Context, reservation *booking.FlightReservation) error
	Get(ctx context.Context, tripID, reservationID string) (*booking.FlightReservation, error)
}

// PaymentRepository persists trip payments
type PaymentRepository interface {
	Save(ctx context.Context, payment *booking.Payment) error
	Get(ctx context.Context, tripID, paymentID string) (*booking.Payment, error)
}
