// Package handlers implements the REST endpoints of the booking front door.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	bookingapp "tripsaga/application/booking"
	"tripsaga/application/ports"
	"tripsaga/domain/booking"
	"tripsaga/domain/saga"
	"tripsaga/pkg/common"
	apperrors "tripsaga/pkg/errors"
)

// maxBookingBodyBytes bounds the trigger request body
const maxBookingBodyBytes = 1 << 20

// SagaStarter is the slice of the executor the trigger endpoint needs
type SagaStarter interface {
	Start(ctx context.Context, definitionID string, input map[string]interface{}) (*saga.Execution, error)
}

// BookingHandler exposes the saga trigger and status endpoints
type BookingHandler struct {
	starter  SagaStarter
	store    ports.ExecutionStore
	validate *validator.Validate
	logger   *zap.Logger
}

// NewBookingHandler creates a BookingHandler
func NewBookingHandler(starter SagaStarter, store ports.ExecutionStore, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{
		starter:  starter,
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// startResponse is the trigger endpoint's payload
type startResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Deadline    string `json:"deadline"`
}

// stepResultResponse summarizes one completed step
type stepResultResponse struct {
	StepName    string                 `json:"step_name"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CompletedAt string                 `json:"completed_at"`
}

// statusResponse is the status endpoint's payload
type statusResponse struct {
	ExecutionID        string               `json:"execution_id"`
	DefinitionID       string               `json:"definition_id"`
	Status             string               `json:"status"`
	CurrentStepIndex   int                  `json:"current_step_index"`
	StepResults        []stepResultResponse `json:"step_results"`
	FailedStep         string               `json:"failed_step,omitempty"`
	FailureReason      string               `json:"failure_reason,omitempty"`
	ManualIntervention bool                 `json:"manual_intervention,omitempty"`
	StartedAt          string               `json:"started_at"`
	UpdatedAt          string               `json:"updated_at"`
}

// StartBooking accepts a trip request and starts the travel saga.
// The saga runs asynchronously; the response is its handle.
func (h *BookingHandler) StartBooking(w http.ResponseWriter, r *http.Request) {
	var trip booking.TripRequest
	if err := common.ParseJSONBody(r, &trip, maxBookingBodyBytes); err != nil {
		common.RespondAppError(w, apperrors.NewValidationError("invalid request body").WithCause(err))
		return
	}

	if err := h.validate.Struct(trip); err != nil {
		details := map[string]interface{}{}
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, fieldErr := range validationErrs {
				details[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		common.RespondAppError(w, apperrors.NewValidationError("invalid trip request").WithDetails(details))
		return
	}

	input, err := bookingapp.InputFromTrip(trip)
	if err != nil {
		common.RespondAppError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	execution, err := h.starter.Start(r.Context(), bookingapp.TravelSagaID, input)
	if err != nil {
		h.logger.Error("Failed to start booking saga",
			zap.String("tripID", trip.TripID),
			zap.Error(err),
		)
		if errors.Is(err, ports.ErrStoreUnavailable) {
			common.RespondAppError(w, apperrors.NewStoreUnavailableError(err))
			return
		}
		common.RespondAppError(w, apperrors.NewInternalError("failed to start booking"))
		return
	}

	h.logger.Info("Booking saga triggered",
		zap.String("executionID", execution.ID),
		zap.String("tripID", trip.TripID),
	)

	common.RespondJSON(w, http.StatusAccepted, startResponse{
		ExecutionID: execution.ID,
		Status:      string(execution.Status),
		Deadline:    execution.Deadline.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// GetBooking reports the current state of one execution
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	if executionID == "" {
		common.RespondAppError(w, apperrors.NewValidationError("executionID is required"))
		return
	}

	execution, err := h.store.Get(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, ports.ErrExecutionNotFound) {
			common.RespondAppError(w, apperrors.NewNotFoundError("execution"))
			return
		}
		h.logger.Error("Failed to load execution",
			zap.String("executionID", executionID),
			zap.Error(err),
		)
		common.RespondAppError(w, apperrors.NewStoreUnavailableError(err))
		return
	}

	results := make([]stepResultResponse, 0, len(execution.StepResults))
	for _, result := range execution.StepResults {
		results = append(results, stepResultResponse{
			StepName:    result.StepName,
			Payload:     result.Payload,
			CompletedAt: result.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	common.RespondJSON(w, http.StatusOK, statusResponse{
		ExecutionID:        execution.ID,
		DefinitionID:       execution.DefinitionID,
		Status:             string(execution.Status),
		CurrentStepIndex:   execution.CurrentStepIndex,
		StepResults:        results,
		FailedStep:         execution.FailedStep,
		FailureReason:      execution.FailureReason,
		ManualIntervention: execution.ManualIntervention,
		StartedAt:          execution.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:          execution.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}
