package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
)

// physicalKeyPrefix namespaces physical-name reservation items away from
// tenant partition keys inside the same table. Backend ids never collide
// with tenant ids because of the "phys#" prefix.
const physicalKeyPrefix = "phys#"

// MappingRepository manages DynamoDB interactions for BucketMapping rows and
// the physical-name reservations that back the namespace uniqueness check.
type MappingRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewMappingRepository initializes a new MappingRepository.
func NewMappingRepository(client *dynamodb.Client, tableName string) MappingRepository {
	return MappingRepository{
		client:    client,
		tableName: tableName,
	}
}

// PutMapping stores a bucket mapping (full replacement).
func (repo *MappingRepository) PutMapping(ctx context.Context, mapping domain.BucketMapping) (domain.BucketMapping, error) {
	mapping.UpdatedAt = time.Now().UTC()
	item, err := attributevalue.MarshalMap(mapping)
	if err != nil {
		return domain.BucketMapping{}, fmt.Errorf("failed to marshal mapping: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(repo.tableName),
		Item:      item,
	}

	if _, err := repo.client.PutItem(ctx, input); err != nil {
		return domain.BucketMapping{}, fmt.Errorf("failed to store mapping: %w", err)
	}

	return mapping, nil
}

// GetMapping retrieves a bucket mapping by tenant and logical name.
func (repo *MappingRepository) GetMapping(ctx context.Context, tenantID, logicalName string) (domain.BucketMapping, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"tenant_id":    &types.AttributeValueMemberS{Value: tenantID},
			"logical_name": &types.AttributeValueMemberS{Value: logicalName},
		},
	}

	result, err := repo.client.GetItem(ctx, input)
	if err != nil {
		return domain.BucketMapping{}, fmt.Errorf("failed to get mapping: %w", err)
	}

	if result.Item == nil {
		return domain.BucketMapping{}, zserrors.ErrMappingNotFound
	}

	var mapping domain.BucketMapping
	if err := attributevalue.UnmarshalMap(result.Item, &mapping); err != nil {
		return domain.BucketMapping{}, fmt.Errorf("failed to unmarshal mapping: %w", err)
	}

	return mapping, nil
}

// ListMappings scans all bucket mappings, skipping reservation items. Used
// by the periodic reconciliation sweep.
func (repo *MappingRepository) ListMappings(ctx context.Context) ([]domain.BucketMapping, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(repo.tableName),
		FilterExpression: aws.String("attribute_exists(#status)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
	}

	var mappings []domain.BucketMapping
	for {
		result, err := repo.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mappings: %w", err)
		}

		for _, item := range result.Items {
			var mapping domain.BucketMapping
			if err := attributevalue.UnmarshalMap(item, &mapping); err != nil {
				return nil, fmt.Errorf("failed to unmarshal mapping: %w", err)
			}
			mappings = append(mappings, mapping)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return mappings, nil
}

// ReservePhysicalName atomically claims a physical bucket name on a backend.
// A lost race returns false with no error; the caller retries with the next
// attempt counter.
func (repo *MappingRepository) ReservePhysicalName(ctx context.Context, backendID, physicalName string) (bool, error) {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(repo.tableName),
		Item: map[string]types.AttributeValue{
			"tenant_id":    &types.AttributeValueMemberS{Value: physicalKeyPrefix + backendID},
			"logical_name": &types.AttributeValueMemberS{Value: physicalName},
		},
		ConditionExpression: aws.String("attribute_not_exists(tenant_id)"),
	}

	if _, err := repo.client.PutItem(ctx, input); err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to reserve physical name: %w", err)
	}
	return true, nil
}

// PhysicalNameExists reports whether a physical name is already reserved on
// a backend. Satisfies namespace.UniquenessChecker.
func (repo *MappingRepository) PhysicalNameExists(ctx context.Context, backendID, physicalName string) (bool, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"tenant_id":    &types.AttributeValueMemberS{Value: physicalKeyPrefix + backendID},
			"logical_name": &types.AttributeValueMemberS{Value: physicalName},
		},
		ConsistentRead: aws.Bool(true),
	}

	result, err := repo.client.GetItem(ctx, input)
	if err != nil {
		return false, fmt.Errorf("failed to check physical name: %w", err)
	}
	return result.Item != nil, nil
}

// ReleasePhysicalName drops a reservation after its physical bucket has been
// cleaned up.
func (repo *MappingRepository) ReleasePhysicalName(ctx context.Context, backendID, physicalName string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"tenant_id":    &types.AttributeValueMemberS{Value: physicalKeyPrefix + backendID},
			"logical_name": &types.AttributeValueMemberS{Value: physicalName},
		},
	}

	if _, err := repo.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to release physical name: %w", err)
	}
	return nil
}
