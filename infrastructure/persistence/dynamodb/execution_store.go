// Package dynamodb persists saga executions and booking records in one
// DynamoDB table keyed by a composite (PK, SK) primary key, with GSIs for
// execution-id and status lookups.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"tripsaga/application/ports"
	"tripsaga/domain/saga"
)

// ExecutionStore implements ports.ExecutionStore on DynamoDB. Optimistic
// concurrency uses conditional writes on the Version attribute: the write
// succeeds only when the stored version is exactly one behind, so two
// drivers can never both advance the same execution.
type ExecutionStore struct {
	client      *dynamodb.Client
	tableName   string
	indexName   string // GSI1 - execution id lookups
	statusIndex string // GSI2 - status sweeps
	logger      *zap.Logger
}

// NewExecutionStore creates an ExecutionStore
func NewExecutionStore(client *dynamodb.Client, tableName, indexName, statusIndex string, logger *zap.Logger) *ExecutionStore {
	return &ExecutionStore{
		client:      client,
		tableName:   tableName,
		indexName:   indexName,
		statusIndex: statusIndex,
		logger:      logger,
	}
}

// stepResultItem is the persisted form of one step result
type stepResultItem struct {
	StepName    string                 `dynamodbav:"StepName"`
	Payload     map[string]interface{} `dynamodbav:"Payload"`
	CompletedAt string                 `dynamodbav:"CompletedAt"`
}

// executionItem is the DynamoDB item layout for an execution record
type executionItem struct {
	PK                 string                 `dynamodbav:"PK"` // SAGA#<definition_id>
	SK                 string                 `dynamodbav:"SK"` // EXECUTION#<execution_id>
	GSI1PK             string                 `dynamodbav:"GSI1PK"` // EXECUTION#<execution_id>
	GSI1SK             string                 `dynamodbav:"GSI1SK"` // METADATA
	GSI2PK             string                 `dynamodbav:"GSI2PK"` // STATUS#<status>
	GSI2SK             string                 `dynamodbav:"GSI2SK"` // UPDATED#<rfc3339>
	EntityType         string                 `dynamodbav:"EntityType"`
	ExecutionID        string                 `dynamodbav:"ExecutionID"`
	DefinitionID       string                 `dynamodbav:"DefinitionID"`
	Status             string                 `dynamodbav:"Status"`
	CurrentStepIndex   int                    `dynamodbav:"CurrentStepIndex"`
	StepResults        []stepResultItem       `dynamodbav:"StepResults"`
	Input              map[string]interface{} `dynamodbav:"Input"`
	FailedStep         string                 `dynamodbav:"FailedStep,omitempty"`
	FailureReason      string                 `dynamodbav:"FailureReason,omitempty"`
	ManualIntervention bool                   `dynamodbav:"ManualIntervention"`
	StartedAt          string                 `dynamodbav:"StartedAt"`
	Deadline           string                 `dynamodbav:"Deadline"`
	UpdatedAt          string                 `dynamodbav:"UpdatedAt"`
	Version            int                    `dynamodbav:"Version"`
}

// Create persists a brand-new execution record
func (s *ExecutionStore) Create(ctx context.Context, execution *saga.Execution) error {
	item, err := s.marshalExecution(execution)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ports.ErrExecutionExists
		}
		s.logError("create", execution.ID, err)
		return fmt.Errorf("failed to create execution: %w", err)
	}

	s.logger.Debug("Execution record created",
		zap.String("executionID", execution.ID),
		zap.String("definitionID", execution.DefinitionID),
	)
	return nil
}

// Update persists a mutated execution conditionally on the stored version
// being exactly execution.Version-1.
func (s *ExecutionStore) Update(ctx context.Context, execution *saga.Execution) error {
	item, err := s.marshalExecution(execution)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("Version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", execution.Version-1)},
		},
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			s.logger.Warn("Execution update lost the version race",
				zap.String("executionID", execution.ID),
				zap.Int("version", execution.Version),
			)
			return ports.ErrVersionConflict
		}
		s.logError("update", execution.ID, err)
		return fmt.Errorf("failed to update execution: %w", err)
	}

	return nil
}

// Get loads an execution by id through the GSI1 index
func (s *ExecutionStore) Get(ctx context.Context, executionID string) (*saga.Execution, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(fmt.Sprintf("EXECUTION#%s", executionID))).
		And(expression.Key("GSI1SK").Equal(expression.Value("METADATA")))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build execution query: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(s.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		s.logError("get", executionID, err)
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	if len(result.Items) == 0 {
		return nil, ports.ErrExecutionNotFound
	}

	var item executionItem
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return unmarshalExecution(item)
}

// ListByStatus returns executions in the given status through the GSI2 index
func (s *ExecutionStore) ListByStatus(ctx context.Context, status saga.Status) ([]*saga.Execution, error) {
	keyCond := expression.Key("GSI2PK").Equal(expression.Value(fmt.Sprintf("STATUS#%s", status)))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build status query: %w", err)
	}

	executions := make([]*saga.Execution, 0)
	var startKey map[string]types.AttributeValue

	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			IndexName:                 aws.String(s.statusIndex),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			s.logError("listByStatus", string(status), err)
			return nil, fmt.Errorf("failed to query executions by status: %w", err)
		}

		for _, raw := range result.Items {
			var item executionItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				s.logger.Warn("Skipping unreadable execution item", zap.Error(err))
				continue
			}
			execution, err := unmarshalExecution(item)
			if err != nil {
				s.logger.Warn("Skipping malformed execution item",
					zap.String("executionID", item.ExecutionID),
					zap.Error(err),
				)
				continue
			}
			executions = append(executions, execution)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return executions, nil
}

// marshalExecution converts the domain record into a DynamoDB item
func (s *ExecutionStore) marshalExecution(execution *saga.Execution) (map[string]types.AttributeValue, error) {
	results := make([]stepResultItem, 0, len(execution.StepResults))
	for _, result := range execution.StepResults {
		results = append(results, stepResultItem{
			StepName:    result.StepName,
			Payload:     result.Payload,
			CompletedAt: result.CompletedAt.Format(time.RFC3339Nano),
		})
	}

	item := executionItem{
		PK:                 fmt.Sprintf("SAGA#%s", execution.DefinitionID),
		SK:                 fmt.Sprintf("EXECUTION#%s", execution.ID),
		GSI1PK:             fmt.Sprintf("EXECUTION#%s", execution.ID),
		GSI1SK:             "METADATA",
		GSI2PK:             fmt.Sprintf("STATUS#%s", execution.Status),
		GSI2SK:             fmt.Sprintf("UPDATED#%s", execution.UpdatedAt.Format(time.RFC3339Nano)),
		EntityType:         "SAGA_EXECUTION",
		ExecutionID:        execution.ID,
		DefinitionID:       execution.DefinitionID,
		Status:             string(execution.Status),
		CurrentStepIndex:   execution.CurrentStepIndex,
		StepResults:        results,
		Input:              execution.Input,
		FailedStep:         execution.FailedStep,
		FailureReason:      execution.FailureReason,
		ManualIntervention: execution.ManualIntervention,
		StartedAt:          execution.StartedAt.Format(time.RFC3339Nano),
		Deadline:           execution.Deadline.Format(time.RFC3339Nano),
		UpdatedAt:          execution.UpdatedAt.Format(time.RFC3339Nano),
		Version:            execution.Version,
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution: %w", err)
	}
	return av, nil
}

// unmarshalExecution reconstructs the domain record from a DynamoDB item
func unmarshalExecution(item executionItem) (*saga.Execution, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, item.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid StartedAt on execution %s: %w", item.ExecutionID, err)
	}
	deadline, err := time.Parse(time.RFC3339Nano, item.Deadline)
	if err != nil {
		return nil, fmt.Errorf("invalid Deadline on execution %s: %w", item.ExecutionID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid UpdatedAt on execution %s: %w", item.ExecutionID, err)
	}

	results := make([]saga.StepResult, 0, len(item.StepResults))
	for _, result := range item.StepResults {
		completedAt, err := time.Parse(time.RFC3339Nano, result.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid CompletedAt on execution %s step %s: %w", item.ExecutionID, result.StepName, err)
		}
		results = append(results, saga.StepResult{
			StepName:    result.StepName,
			Payload:     result.Payload,
			CompletedAt: completedAt,
		})
	}

	return &saga.Execution{
		ID:                 item.ExecutionID,
		DefinitionID:       item.DefinitionID,
		Status:             saga.Status(item.Status),
		CurrentStepIndex:   item.CurrentStepIndex,
		StepResults:        results,
		Input:              item.Input,
		FailedStep:         item.FailedStep,
		FailureReason:      item.FailureReason,
		ManualIntervention: item.ManualIntervention,
		StartedAt:          startedAt,
		Deadline:           deadline,
		UpdatedAt:          updatedAt,
		Version:            item.Version,
	}, nil
}

// logError logs a failed store call with the AWS error code when present
func (s *ExecutionStore) logError(operation, key string, err error) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("key", key),
		zap.Error(err),
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, zap.String("awsErrorCode", apiErr.ErrorCode()))
	}
	s.logger.Error("Execution store call failed", fields...)
}
