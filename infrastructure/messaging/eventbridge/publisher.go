// Package eventbridge publishes saga lifecycle events to an EventBridge bus
// so downstream consumers (notifications, analytics) can react to booking
// outcomes without polling the table.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"tripsaga/application/ports"
)

// eventSource identifies this service on the bus
const eventSource = "tripsaga.engine"

// Publisher implements ports.EventPublisher on EventBridge
type Publisher struct {
	client  *eventbridge.Client
	busName string
	logger  *zap.Logger
}

// NewPublisher creates a Publisher
func NewPublisher(client *eventbridge.Client, busName string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		busName: busName,
		logger:  logger,
	}
}

// Publish sends one saga lifecycle event to the bus
func (p *Publisher) Publish(ctx context.Context, event ports.SagaEvent) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal saga event: %w", err)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(p.busName),
				Source:       aws.String(eventSource),
				DetailType:   aws.String(event.Type),
				Detail:       aws.String(string(detail)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish saga event: %w", err)
	}

	if result.FailedEntryCount > 0 {
		entry := result.Entries[0]
		return fmt.Errorf("event bus rejected saga event: %s (%s)",
			aws.ToString(entry.ErrorMessage), aws.ToString(entry.ErrorCode))
	}

	p.logger.Debug("Saga event published",
		zap.String("executionID", event.ExecutionID),
		zap.String("type", event.Type),
	)
	return nil
}
