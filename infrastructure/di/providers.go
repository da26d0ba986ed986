package di

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"tripsaga/application/booking"
	"tripsaga/application/engine"
	"tripsaga/application/ports"
	"tripsaga/infrastructure/config"
	"tripsaga/infrastructure/messaging/eventbridge"
	"tripsaga/infrastructure/persistence/dynamodb"
	"tripsaga/pkg/observability"
	"tripsaga/pkg/resilience"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    ports.ExecutionStore
	Registry *engine.HandlerRegistry
	Executor *engine.Executor
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideExecutionStore creates the durable execution store
func ProvideExecutionStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.ExecutionStore {
	return dynamodb.NewExecutionStore(
		client,
		cfg.DynamoDBTable,
		cfg.ExecutionIndex, // GSI1 for execution id lookups
		cfg.StatusIndex,    // GSI2 for recovery sweeps by status
		logger,
	)
}

// ProvideHotelRepository creates the hotel reservation repository
func ProvideHotelRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.HotelRepository {
	return dynamodb.NewHotelRepository(client, cfg.DynamoDBTable, logger)
}

// ProvideFlightRepository creates the flight reservation repository
func ProvideFlightRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.FlightRepository {
	return dynamodb.NewFlightRepository(client, cfg.DynamoDBTable, logger)
}

// ProvidePaymentRepository creates the payment repository
func ProvidePaymentRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.PaymentRepository {
	return dynamodb.NewPaymentRepository(client, cfg.DynamoDBTable, logger)
}

// ProvideEventPublisher creates the saga lifecycle event publisher. When
// events are disabled the executor runs without one.
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	if !cfg.EnableEvents {
		return nil
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideMetricsRecorder creates the CloudWatch metrics recorder
func ProvideMetricsRecorder(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) ports.MetricsRecorder {
	return observability.NewCloudWatchMetrics(client, cfg.EnableMetrics, logger)
}

// ProvideHandlerRegistry creates the step handler registry
func ProvideHandlerRegistry() *engine.HandlerRegistry {
	return engine.NewHandlerRegistry()
}

// ProvideRetryController creates the retry controller
func ProvideRetryController(logger *zap.Logger) *engine.RetryController {
	return engine.NewRetryController(logger)
}

// ProvideBookingHandlers builds the travel saga step handlers, each behind
// its own circuit breaker so a hard-down booking system trips fast.
func ProvideBookingHandlers(
	hotels ports.HotelRepository,
	flights ports.FlightRepository,
	payments ports.PaymentRepository,
	logger *zap.Logger,
) booking.Handlers {
	handlers := booking.NewHandlers(hotels, flights, payments, time.Now, logger)

	wrap := func(name string, h ports.StepHandler) ports.StepHandler {
		return resilience.WrapHandler(h, resilience.DefaultBreakerConfig(name), logger)
	}

	return booking.Handlers{
		ReserveHotel:  wrap("reserve-hotel", handlers.ReserveHotel),
		ConfirmHotel:  wrap("confirm-hotel", handlers.ConfirmHotel),
		CancelHotel:   wrap("cancel-hotel", handlers.CancelHotel),
		ReserveFlight: wrap("reserve-flight", handlers.ReserveFlight),
		ConfirmFlight: wrap("confirm-flight", handlers.ConfirmFlight),
		CancelFlight:  wrap("cancel-flight", handlers.CancelFlight),
		TakePayment:   wrap("take-payment", handlers.TakePayment),
		RefundPayment: wrap("refund-payment", handlers.RefundPayment),
	}
}

// ProvideExecutor creates the saga executor with the travel saga registered
// under the configured deadline.
func ProvideExecutor(
	store ports.ExecutionStore,
	registry *engine.HandlerRegistry,
	retry *engine.RetryController,
	publisher ports.EventPublisher,
	metrics ports.MetricsRecorder,
	handlers booking.Handlers,
	cfg *config.Config,
	logger *zap.Logger,
) (*engine.Executor, error) {
	executor := engine.NewExecutor(store, registry, retry, publisher, metrics, logger)
	if err := booking.Register(executor, registry, handlers, cfg.SagaDeadline); err != nil {
		return nil, err
	}
	return executor, nil
}
