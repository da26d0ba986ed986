package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"tripsaga/domain/saga"
	"tripsaga/infrastructure/config"
	"tripsaga/infrastructure/di"
)

// container holds the dependency injection container
var container *di.Container

// init runs during cold start
func init() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err = di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
}

// Handler sweeps executions a crashed or frozen driver left behind and
// resumes them from their last persisted step. The store's compare-and-set
// makes double resumes harmless: the loser gets a version conflict and
// stands down.
func Handler(ctx context.Context, event events.CloudWatchEvent) error {
	logger := container.Logger
	limit := container.Config.RecoverySweepLimit

	logger.Info("Recovery sweep started",
		zap.String("source", event.Source),
		zap.Time("scheduled", event.Time),
	)

	resumed := 0
	for _, status := range []saga.Status{saga.StatusRunning, saga.StatusCompensating} {
		executions, err := container.Store.ListByStatus(ctx, status)
		if err != nil {
			logger.Error("Recovery sweep failed to list executions",
				zap.String("status", string(status)),
				zap.Error(err),
			)
			return err
		}

		for _, execution := range executions {
			if resumed >= limit {
				logger.Warn("Recovery sweep limit reached, deferring remainder",
					zap.Int("limit", limit),
				)
				return nil
			}

			result, err := container.Executor.Resume(ctx, execution.ID)
			if err != nil {
				logger.Error("Failed to resume execution",
					zap.String("executionID", execution.ID),
					zap.Error(err),
				)
				continue
			}
			resumed++

			logger.Info("Execution resumed",
				zap.String("executionID", execution.ID),
				zap.String("status", string(result.Status)),
			)
		}
	}

	logger.Info("Recovery sweep finished", zap.Int("resumed", resumed))
	return nil
}

func main() {
	lambda.Start(Handler)
}
