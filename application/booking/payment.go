package booking

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/booking"
	"tripsaga/domain/saga"
)

// TakePaymentHandler charges the trip. Its compensation is RefundPayment, an
// explicitly distinct operation, not an undo of the charge record.
type TakePaymentHandler struct {
	payments ports.PaymentRepository
	clock    Clock
	logger   *zap.Logger
}

// NewTakePaymentHandler creates the handler
func NewTakePaymentHandler(payments ports.PaymentRepository, clock Clock, logger *zap.Logger) *TakePaymentHandler {
	return &TakePaymentHandler{payments: payments, clock: clock, logger: logger}
}

// Handle records the charge. The payment identity is derived from the
// execution: a retry after an ambiguous failure finds the charge a prior
// attempt recorded and returns it, never charging the card twice.
func (h *TakePaymentHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}
	if trip.AmountCents <= 0 {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, errors.New("payment amount must be positive"))
	}

	paymentID := booking.PaymentID(req.ExecutionID)
	if existing, err := h.payments.Get(ctx, trip.TripID, paymentID); err == nil {
		return ports.StepResponse{Payload: map[string]interface{}{
			PayloadPaymentID: existing.ID,
			PayloadStatus:    string(existing.Status),
		}}, nil
	} else if !errors.Is(err, ports.ErrReservationNotFound) {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	payment := booking.NewPayment(paymentID, trip.TripID, trip.AmountCents, trip.Currency, h.clock())
	if err := h.payments.Save(ctx, payment); err != nil {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	h.logger.Info("Payment taken",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("paymentID", payment.ID),
		zap.Int64("amountCents", payment.AmountCents),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadPaymentID: payment.ID,
		PayloadStatus:    string(payment.Status),
	}}, nil
}

// RefundPaymentHandler is the compensation for TakePayment
type RefundPaymentHandler struct {
	payments ports.PaymentRepository
	clock    Clock
	logger   *zap.Logger
}

// NewRefundPaymentHandler creates the handler
func NewRefundPaymentHandler(payments ports.PaymentRepository, clock Clock, logger *zap.Logger) *RefundPaymentHandler {
	return &RefundPaymentHandler{payments: payments, clock: clock, logger: logger}
}

// Handle returns the money. A charge that was never recorded, or one already
// refunded, counts as success so retries converge.
func (h *RefundPaymentHandler) Handle(ctx context.Context, req ports.StepRequest) (ports.StepResponse, error) {
	trip, err := tripFromInput(req.Input)
	if err != nil {
		return ports.StepResponse{}, saga.NewBusinessError(req.StepName, err)
	}

	paymentID, err := priorPayloadString(req.PriorResults, StepTakePayment, PayloadPaymentID)
	if err != nil {
		return ports.StepResponse{Payload: map[string]interface{}{PayloadStatus: "nothing_to_refund"}}, nil
	}

	payment, err := h.payments.Get(ctx, trip.TripID, paymentID)
	if err != nil {
		if errors.Is(err, ports.ErrReservationNotFound) {
			return ports.StepResponse{Payload: map[string]interface{}{PayloadStatus: "nothing_to_refund"}}, nil
		}
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	payment.Refund(h.clock())
	if err := h.payments.Save(ctx, payment); err != nil {
		return ports.StepResponse{}, saga.NewTransientError(req.StepName, err)
	}

	h.logger.Info("Payment refunded",
		zap.String("executionID", req.ExecutionID),
		zap.String("tripID", trip.TripID),
		zap.String("paymentID", payment.ID),
		zap.Int64("amountCents", payment.AmountCents),
	)

	return ports.StepResponse{Payload: map[string]interface{}{
		PayloadPaymentID: payment.ID,
		PayloadStatus:    string(payment.Status),
	}}, nil
}
