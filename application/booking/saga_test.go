package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripsaga/domain/booking"
	"tripsaga/domain/saga"
)

func TestNewTravelSagaDefinition_StepOrder(t *testing.T) {
	def, err := NewTravelSagaDefinition(0)
	require.NoError(t, err)

	assert.Equal(t, TravelSagaID, def.ID())
	assert.Equal(t, TravelSagaDeadline, def.Deadline())

	steps := def.Steps()
	require.Len(t, steps, 5)
	assert.Equal(t, StepReserveHotel, steps[0].Name)
	assert.Equal(t, StepReserveFlight, steps[1].Name)
	assert.Equal(t, StepTakePayment, steps[2].Name)
	assert.Equal(t, StepConfirmHotel, steps[3].Name)
	assert.Equal(t, StepConfirmFlight, steps[4].Name)
}

func TestNewTravelSagaDefinition_ConfiguredDeadline(t *testing.T) {
	def, err := NewTravelSagaDefinition(90 * time.Second)
	require.NoError(t, err)

	// The operator's deadline carries through to every execution's budget.
	assert.Equal(t, 90*time.Second, def.Deadline())
}

func TestNewTravelSagaDefinition_Compensations(t *testing.T) {
	def, err := NewTravelSagaDefinition(0)
	require.NoError(t, err)

	steps := def.Steps()

	require.True(t, steps[0].HasCompensation())
	assert.Equal(t, HandlerCancelHotel, *steps[0].Compensate)
	require.True(t, steps[1].HasCompensation())
	assert.Equal(t, HandlerCancelFlight, *steps[1].Compensate)
	require.True(t, steps[2].HasCompensation())
	assert.Equal(t, HandlerRefundPayment, *steps[2].Compensate)

	// The confirm steps have no undo of their own.
	assert.False(t, steps[3].HasCompensation())
	assert.False(t, steps[4].HasCompensation())
}

func TestNewTravelSagaDefinition_RetryPolicies(t *testing.T) {
	def, err := NewTravelSagaDefinition(0)
	require.NoError(t, err)

	for _, step := range def.Steps() {
		assert.Equal(t, saga.DefaultMaxAttempts, step.Retry.MaxAttempts, step.Name)
		assert.True(t, step.Retry.Retryable(saga.ErrorKindTransient), step.Name)
		assert.False(t, step.Retry.Retryable(saga.ErrorKindBusiness), step.Name)

		if step.HasCompensation() {
			assert.Equal(t, saga.CompensationMaxAttempts, step.CompensateRetry.MaxAttempts, step.Name)
			assert.True(t, step.CompensateRetry.Retryable(saga.ErrorKindBusiness), step.Name)
		}
	}
}

func TestInputFromTrip_RoundTrip(t *testing.T) {
	trip := booking.TripRequest{
		TripID:        "trip-1",
		DepartCity:    "Seattle",
		ArriveCity:    "Tokyo",
		DepartureDate: "2025-07-01",
		HotelCity:     "Tokyo",
		CheckIn:       "2025-07-01",
		CheckOut:      "2025-07-08",
		AmountCents:   250000,
		Currency:      "USD",
	}

	input, err := InputFromTrip(trip)
	require.NoError(t, err)
	assert.Equal(t, "trip-1", input["trip_id"])

	parsed, err := tripFromInput(input)
	require.NoError(t, err)
	assert.Equal(t, trip, parsed)
}

func TestTripFromInput_RequiresTripID(t *testing.T) {
	_, err := tripFromInput(map[string]interface{}{"hotel_city": "Tokyo"})
	assert.Error(t, err)
}
