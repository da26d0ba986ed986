// Package booking holds the travel-booking entities the saga's step handlers
// reserve, confirm and cancel.
package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle of a hotel or flight reservation
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// PaymentStatus is the lifecycle of a trip payment
type PaymentStatus string

const (
	PaymentTaken    PaymentStatus = "TAKEN"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// TripRequest is the booking payload a caller submits to start the saga
type TripRequest struct {
	TripID        string `json:"trip_id" validate:"required"`
	DepartCity    string `json:"depart_city" validate:"required"`
	ArriveCity    string `json:"arrive_city" validate:"required"`
	DepartureDate string `json:"departure_date" validate:"required"`
	HotelCity     string `json:"hotel_city" validate:"required"`
	CheckIn       string `json:"check_in" validate:"required"`
	CheckOut      string `json:"check_out" validate:"required"`
	AmountCents   int64  `json:"amount_cents" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
}

// Namespaces for deriving record identities from a saga execution
var (
	hotelIDNamespace   = uuid.MustParse("f2b9a1c4-3d57-4c68-9e0a-5b1d8c2f7a64")
	flightIDNamespace  = uuid.MustParse("0a7c4e92-6f1b-4d35-8c2e-9b5a3d718f06")
	paymentIDNamespace = uuid.MustParse("c51e8d07-2a9f-4b63-b4d1-6e3c0a8f529b")
)

// HotelReservationID derives the reservation identity for one saga
// execution. The derivation is deterministic, so a retried or re-driven
// reserve step targets the same record instead of minting a duplicate.
func HotelReservationID(executionID string) string {
	return uuid.NewSHA1(hotelIDNamespace, []byte(executionID)).String()
}

// FlightReservationID derives the flight reservation identity for one saga
// execution; see HotelReservationID.
func FlightReservationID(executionID string) string {
	return uuid.NewSHA1(flightIDNamespace, []byte(executionID)).String()
}

// PaymentID derives the payment identity for one saga execution. Repeated
// take-payment invocations converge on one charge record.
func PaymentID(executionID string) string {
	return uuid.NewSHA1(paymentIDNamespace, []byte(executionID)).String()
}

// HotelReservation is a room held (and later confirmed) for a trip
type HotelReservation struct {
	ID        string
	TripID    string
	City      string
	CheckIn   string
	CheckOut  string
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewHotelReservation holds a room in PENDING state
func NewHotelReservation(id, tripID, city, checkIn, checkOut string, now time.Time) *HotelReservation {
	return &HotelReservation{
		ID:        id,
		TripID:    tripID,
		City:      city,
		CheckIn:   checkIn,
		CheckOut:  checkOut,
		Status:    ReservationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Confirm moves a pending reservation to CONFIRMED
func (r *HotelReservation) Confirm(now time.Time) error {
	if r.Status != ReservationPending {
		return fmt.Errorf("hotel reservation %s is %s, cannot confirm", r.ID, r.Status)
	}
	r.Status = ReservationConfirmed
	r.UpdatedAt = now
	return nil
}

// Cancel releases the reservation. Cancelling an already-cancelled
// reservation is a no-op so the compensation handler stays idempotent.
func (r *HotelReservation) Cancel(now time.Time) {
	if r.Status == ReservationCancelled {
		return
	}
	r.Status = ReservationCancelled
	r.UpdatedAt = now
}

// FlightReservation is a seat held (and later confirmed) for a trip
type FlightReservation struct {
	ID            string
	TripID        string
	DepartCity    string
	ArriveCity    string
	DepartureDate string
	Status        ReservationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewFlightReservation holds a seat in PENDING state
func NewFlightReservation(id, tripID, departCity, arriveCity, departureDate string, now time.Time) *FlightReservation {
	return &FlightReservation{
		ID:            id,
		TripID:        tripID,
		DepartCity:    departCity,
		ArriveCity:    arriveCity,
		DepartureDate: departureDate,
		Status:        ReservationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Confirm moves a pending reservation to CONFIRMED
func (r *FlightReservation) Confirm(now time.Time) error {
	if r.Status != ReservationPending {
		return fmt.Errorf("flight reservation %s is %s, cannot confirm", r.ID, r.Status)
	}
	r.Status = ReservationConfirmed
	r.UpdatedAt = now
	return nil
}

// Cancel releases the reservation; cancelling twice is a no-op
func (r *FlightReservation) Cancel(now time.Time) {
	if r.Status == ReservationCancelled {
		return
	}
	r.Status = ReservationCancelled
	r.UpdatedAt = now
}

// Payment is money taken for a trip. The forward action is the charge; the
// compensation is an explicit refund, deliberately a distinct operation
// rather than an undo of the charge record.
type Payment struct {
	ID          string
	TripID      string
	AmountCents int64
	Currency    string
	Status      PaymentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPayment records a charge in TAKEN state
func NewPayment(id, tripID string, amountCents int64, currency string, now time.Time) *Payment {
	return &Payment{
		ID:          id,
		TripID:      tripID,
		AmountCents: amountCents,
		Currency:    currency,
		Status:      PaymentTaken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Refund returns the money; refunding twice is a no-op
func (p *Payment) Refund(now time.Time) {
	if p.Status == PaymentRefunded {
		return
	}
	p.Status = PaymentRefunded
	p.UpdatedAt = now
}
