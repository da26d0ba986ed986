package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	bookingapp "tripsaga/application/booking"
	"tripsaga/application/ports"
	"tripsaga/domain/saga"
	"tripsaga/infrastructure/persistence/memory"
)

// fakeStarter records the start call and returns a canned execution
type fakeStarter struct {
	definitionID string
	input        map[string]interface{}
	execution    *saga.Execution
	err          error
}

func (s *fakeStarter) Start(_ context.Context, definitionID string, input map[string]interface{}) (*saga.Execution, error) {
	s.definitionID = definitionID
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return s.execution, nil
}

func testRouter(handler *BookingHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/v1/bookings", handler.StartBooking)
	r.Get("/api/v1/bookings/{executionID}", handler.GetBooking)
	return r
}

func runningExecution(t *testing.T) *saga.Execution {
	t.Helper()

	def, err := bookingapp.NewTravelSagaDefinition(0)
	require.NoError(t, err)
	return saga.NewExecution(def, map[string]interface{}{"trip_id": "trip-1"}, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func validBody(t *testing.T) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"trip_id":        "trip-1",
		"depart_city":    "Seattle",
		"arrive_city":    "Tokyo",
		"departure_date": "2025-07-01",
		"hotel_city":     "Tokyo",
		"check_in":       "2025-07-01",
		"check_out":      "2025-07-08",
		"amount_cents":   250000,
		"currency":       "USD",
	})
	require.NoError(t, err)
	return body
}

func TestBookingHandler_StartBooking_Accepted(t *testing.T) {
	starter := &fakeStarter{execution: runningExecution(t)}
	handler := NewBookingHandler(starter, memory.NewExecutionStore(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewReader(validBody(t)))
	rec := httptest.NewRecorder()
	testRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, bookingapp.TravelSagaID, starter.definitionID)
	assert.Equal(t, "trip-1", starter.input["trip_id"])

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			ExecutionID string `json:"execution_id"`
			Status      string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, starter.execution.ID, envelope.Data.ExecutionID)
	assert.Equal(t, string(saga.StatusRunning), envelope.Data.Status)
}

func TestBookingHandler_StartBooking_ValidationFailure(t *testing.T) {
	starter := &fakeStarter{execution: runningExecution(t)}
	handler := NewBookingHandler(starter, memory.NewExecutionStore(), zap.NewNop())

	body, err := json.Marshal(map[string]interface{}{
		"trip_id":  "trip-1",
		"currency": "US DOLLARS",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	testRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, starter.definitionID, "saga must not start on invalid input")
}

func TestBookingHandler_StartBooking_MalformedJSON(t *testing.T) {
	handler := NewBookingHandler(&fakeStarter{}, memory.NewExecutionStore(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	testRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingHandler_StartBooking_StoreUnavailable(t *testing.T) {
	starter := &fakeStarter{err: ports.ErrStoreUnavailable}
	handler := NewBookingHandler(starter, memory.NewExecutionStore(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewReader(validBody(t)))
	rec := httptest.NewRecorder()
	testRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBookingHandler_GetBooking_ReturnsExecution(t *testing.T) {
	store := memory.NewExecutionStore()
	execution := runningExecution(t)
	require.NoError(t, execution.RecordResult("ReserveHotel", map[string]interface{}{"hotel_reservation_id": "hotel-1"}, execution.StartedAt))
	require.NoError(t, store.Create(context.Background(), execution))

	handler := NewBookingHandler(&fakeStarter{}, store, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/"+execution.ID, nil)
	rec := httptest.NewRecorder()
	testRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data struct {
			ExecutionID      string `json:"execution_id"`
			Status           string `json:"status"`
			CurrentStepIndex int    `json:"current_step_index"`
			StepResults      []struct {
				StepName string `json:"step_name"`
			} `json:"step_results"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, execution.ID, envelope.Data.ExecutionID)
	assert.Equal(t, string(saga.StatusRunning), envelope.Data.Status)
	assert.Equal(t, 1, envelope.Data.CurrentStepIndex)
	require.Len(t, envelope.Data.StepResults, 1)
	assert.Equal(t, "ReserveHotel", envelope.Data.StepResults[0].StepName)
}

func TestBookingHandler_GetBooking_NotFound(t *testing.T) {
	handler := NewBookingHandler(&fakeStarter{}, memory.NewExecutionStore(), zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/missing", nil)
	rec := httptest.NewRecorder()
	testRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookingHandler_GetBooking_StoreFailure(t *testing.T) {
	handler := NewBookingHandler(&fakeStarter{}, failingStore{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/any", nil)
	rec := httptest.NewRecorder()
	testRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// failingStore simulates a store outage
type failingStore struct{}

func (failingStore) Create(context.Context, *saga.Execution) error { return ports.ErrStoreUnavailable }
func (failingStore) Update(context.Context, *saga.Execution) error { return ports.ErrStoreUnavailable }
func (failingStore) Get(context.Context, string) (*saga.Execution, error) {
	return nil, ports.ErrStoreUnavailable
}
func (failingStore) ListByStatus(context.Context, saga.Status) ([]*saga.Execution, error) {
	return nil, errors.New("store unavailable")
}
