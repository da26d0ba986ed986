package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/booking"
)

// Booking records share the saga table: one trip partitions under
// PK=TRIP#<trip_id>, with reservations and payments as sort-keyed items.

// hotelItem is the stored form of a hotel reservation
type hotelItem struct {
	PK         string `dynamodbav:"PK"` // TRIP#<trip_id>
	SK         string `dynamodbav:"SK"` // HOTEL#<reservation_id>
	EntityType string `dynamodbav:"EntityType"`
	ID         string `dynamodbav:"ID"`
	TripID     string `dynamodbav:"TripID"`
	City       string `dynamodbav:"City"`
	CheckIn    string `dynamodbav:"CheckIn"`
	CheckOut   string `dynamodbav:"CheckOut"`
	Status     string `dynamodbav:"Status"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
}

// flightItem is the stored form of a flight reservation
type flightItem struct {
	PK            string `dynamodbav:"PK"` // TRIP#<trip_id>
	SK            string `dynamodbav:"SK"` // FLIGHT#<reservation_id>
	EntityType    string `dynamodbav:"EntityType"`
	ID            string `dynamodbav:"ID"`
	TripID        string `dynamodbav:"TripID"`
	DepartCity    string `dynamodbav:"DepartCity"`
	ArriveCity    string `dynamodbav:"ArriveCity"`
	DepartureDate string `dynamodbav:"DepartureDate"`
	Status        string `dynamodbav:"Status"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
	UpdatedAt     string `dynamodbav:"UpdatedAt"`
}

// paymentItem is the stored form of a trip payment
type paymentItem struct {
	PK          string `dynamodbav:"PK"` // TRIP#<trip_id>
	SK          string `dynamodbav:"SK"` // PAYMENT#<payment_id>
	EntityType  string `dynamodbav:"EntityType"`
	ID          string `dynamodbav:"ID"`
	TripID      string `dynamodbav:"TripID"`
	AmountCents int64  `dynamodbav:"AmountCents"`
	Currency    string `dynamodbav:"Currency"`
	Status      string `dynamodbav:"Status"`
	CreatedAt   string `dynamodbav:"CreatedAt"`
	UpdatedAt   string `dynamodbav:"UpdatedAt"`
}

// HotelRepository persists hotel reservations in the trip partition
type HotelRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewHotelRepository creates a HotelRepository
func NewHotelRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) *HotelRepository {
	return &HotelRepository{client: client, tableName: tableName, logger: logger}
}

// Save upserts a hotel reservation
func (r *HotelRepository) Save(ctx context.Context, reservation *booking.HotelReservation) error {
	item := hotelItem{
		PK:         fmt.Sprintf("TRIP#%s", reservation.TripID),
		SK:         fmt.Sprintf("HOTEL#%s", reservation.ID),
		EntityType: "HOTEL_RESERVATION",
		ID:         reservation.ID,
		TripID:     reservation.TripID,
		City:       reservation.City,
		CheckIn:    reservation.CheckIn,
		CheckOut:   reservation.CheckOut,
		Status:     string(reservation.Status),
		CreatedAt:  reservation.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  reservation.UpdatedAt.Format(time.RFC3339Nano),
	}
	return putItem(ctx, r.client, r.tableName, r.logger, "hotel reservation", reservation.ID, item)
}

// Get loads a hotel reservation
func (r *HotelRepository) Get(ctx context.Context, tripID, reservationID string) (*booking.HotelReservation, error) {
	raw, err := getItem(ctx, r.client, r.tableName, fmt.Sprintf("TRIP#%s", tripID), fmt.Sprintf("HOTEL#%s", reservationID))
	if err != nil {
		return nil, err
	}

	var item hotelItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hotel reservation: %w", err)
	}

	createdAt, updatedAt, err := parseTimestamps(item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("hotel reservation %s: %w", item.ID, err)
	}

	return &booking.HotelReservation{
		ID:        item.ID,
		TripID:    item.TripID,
		City:      item.City,
		CheckIn:   item.CheckIn,
		CheckOut:  item.CheckOut,
		Status:    booking.ReservationStatus(item.Status),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// FlightRepository persists flight reservations in the trip partition
type FlightRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewFlightRepository creates a FlightRepository
func NewFlightRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) *FlightRepository {
	return &FlightRepository{client: client, tableName: tableName, logger: logger}
}

// Save upserts a flight reservation
func (r *FlightRepository) Save(ctx context.Context, reservation *booking.FlightReservation) error {
	item := flightItem{
		PK:            fmt.Sprintf("TRIP#%s", reservation.TripID),
		SK:            fmt.Sprintf("FLIGHT#%s", reservation.ID),
		EntityType:    "FLIGHT_RESERVATION",
		ID:            reservation.ID,
		TripID:        reservation.TripID,
		DepartCity:    reservation.DepartCity,
		ArriveCity:    reservation.ArriveCity,
		DepartureDate: reservation.DepartureDate,
		Status:        string(reservation.Status),
		CreatedAt:     reservation.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:     reservation.UpdatedAt.Format(time.RFC3339Nano),
	}
	return putItem(ctx, r.client, r.tableName, r.logger, "flight reservation", reservation.ID, item)
}

// Get loads a flight reservation
func (r *FlightRepository) Get(ctx context.Context, tripID, reservationID string) (*booking.FlightReservation, error) {
	raw, err := getItem(ctx, r.client, r.tableName, fmt.Sprintf("TRIP#%s", tripID), fmt.Sprintf("FLIGHT#%s", reservationID))
	if err != nil {
		return nil, err
	}

	var item flightItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flight reservation: %w", err)
	}

	createdAt, updatedAt, err := parseTimestamps(item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("flight reservation %s: %w", item.ID, err)
	}

	return &booking.FlightReservation{
		ID:            item.ID,
		TripID:        item.TripID,
		DepartCity:    item.DepartCity,
		ArriveCity:    item.ArriveCity,
		DepartureDate: item.DepartureDate,
		Status:        booking.ReservationStatus(item.Status),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

// PaymentRepository persists trip payments in the trip partition
type PaymentRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewPaymentRepository creates a PaymentRepository
func NewPaymentRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{client: client, tableName: tableName, logger: logger}
}

// Save upserts a payment
func (r *PaymentRepository) Save(ctx context.Context, payment *booking.Payment) error {
	item := paymentItem{
		PK:          fmt.Sprintf("TRIP#%s", payment.TripID),
		SK:          fmt.Sprintf("PAYMENT#%s", payment.ID),
		EntityType:  "PAYMENT",
		ID:          payment.ID,
		TripID:      payment.TripID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		Status:      string(payment.Status),
		CreatedAt:   payment.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   payment.UpdatedAt.Format(time.RFC3339Nano),
	}
	return putItem(ctx, r.client, r.tableName, r.logger, "payment", payment.ID, item)
}

// Get loads a payment
func (r *PaymentRepository) Get(ctx context.Context, tripID, paymentID string) (*booking.Payment, error) {
	raw, err := getItem(ctx, r.client, r.tableName, fmt.Sprintf("TRIP#%s", tripID), fmt.Sprintf("PAYMENT#%s", paymentID))
	if err != nil {
		return nil, err
	}

	var item paymentItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}

	createdAt, updatedAt, err := parseTimestamps(item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w", item.ID, err)
	}

	return &booking.Payment{
		ID:          item.ID,
		TripID:      item.TripID,
		AmountCents: item.AmountCents,
		Currency:    item.Currency,
		Status:      booking.PaymentStatus(item.Status),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// putItem marshals and writes one booking item
func putItem(ctx context.Context, client *dynamodb.Client, tableName string, logger *zap.Logger, kind, id string, item interface{}) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      av,
	}); err != nil {
		logger.Error("Failed to save booking record",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}
	return nil
}

// getItem reads one booking item by its composite key
func getItem(ctx context.Context, client *dynamodb.Client, tableName, pk, sk string) (map[string]types.AttributeValue, error) {
	result, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	if result.Item == nil {
		return nil, ports.ErrReservationNotFound
	}
	return result.Item, nil
}

// parseTimestamps parses the created/updated pair stored on every record
func parseTimestamps(created, updated string) (time.Time, time.Time, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid CreatedAt: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid UpdatedAt: %w", err)
	}
	return createdAt, updatedAt, nil
}
