package db

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
)

// ReplicaStateRepository manages DynamoDB interactions for ObjectReplicaState.
type ReplicaStateRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewReplicaStateRepository initializes a new ReplicaStateRepository.
func NewReplicaStateRepository(client *dynamodb.Client, tableName string) ReplicaStateRepository {
	return ReplicaStateRepository{
		client:    client,
		tableName: tableName,
	}
}

// stateSortKey encodes object key and version into the table sort key.
func stateSortKey(objectKey, version string) string {
	if version == "" {
		version = "null"
	}
	return objectKey + "#" + version
}

// PutState stores object replica state (full replacement).
func (repo *ReplicaStateRepository) PutState(ctx context.Context, state domain.ObjectReplicaState) (domain.ObjectReplicaState, error) {
	item, err := attributevalue.MarshalMap(state)
	if err != nil {
		return domain.ObjectReplicaState{}, fmt.Errorf("failed to marshal replica state: %w", err)
	}
	item["sort_key"] = &types.AttributeValueMemberS{Value: stateSortKey(state.ObjectKey, state.Version)}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(repo.tableName),
		Item:      item,
	}

	if _, err := repo.client.PutItem(ctx, input); err != nil {
		return domain.ObjectReplicaState{}, fmt.Errorf("failed to store replica state: %w", err)
	}

	return state, nil
}

// GetState retrieves replica state for one object version.
func (repo *ReplicaStateRepository) GetState(ctx context.Context, bucketRef, objectKey, version string) (domain.ObjectReplicaState, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"bucket_ref": &types.AttributeValueMemberS{Value: bucketRef},
			"sort_key":   &types.AttributeValueMemberS{Value: stateSortKey(objectKey, version)},
		},
	}

	result, err := repo.client.GetItem(ctx, input)
	if err != nil {
		return domain.ObjectReplicaState{}, fmt.Errorf("failed to get replica state: %w", err)
	}

	if result.Item == nil {
		return domain.ObjectReplicaState{}, zserrors.ErrReplicaStateNotFound
	}

	var state domain.ObjectReplicaState
	if err := attributevalue.UnmarshalMap(result.Item, &state); err != nil {
		return domain.ObjectReplicaState{}, fmt.Errorf("failed to unmarshal replica state: %w", err)
	}

	return state, nil
}

// ListStatesByBucket retrieves all replica state rows for a bucket.
func (repo *ReplicaStateRepository) ListStatesByBucket(ctx context.Context, bucketRef string) ([]domain.ObjectReplicaState, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(repo.tableName),
		KeyConditionExpression: aws.String("bucket_ref = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: bucketRef},
		},
	}

	var states []domain.ObjectReplicaState
	for {
		result, err := repo.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query replica state by bucket: %w", err)
		}

		for _, item := range result.Items {
			var state domain.ObjectReplicaState
			if err := attributevalue.UnmarshalMap(item, &state); err != nil {
				return nil, fmt.Errorf("failed to unmarshal replica state: %w", err)
			}
			states = append(states, state)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return states, nil
}

// DeleteState removes a replica state row. Versioned objects are logically
// deleted (DeleteMarker on the state) instead.
func (repo *ReplicaStateRepository) DeleteState(ctx context.Context, bucketRef, objectKey, version string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"bucket_ref": &types.AttributeValueMemberS{Value: bucketRef},
			"sort_key":   &types.AttributeValueMemberS{Value: stateSortKey(objectKey, version)},
		},
	}

	if _, err := repo.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete replica state: %w", err)
	}
	return nil
}
