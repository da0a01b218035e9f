package migrate

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	ObjectReplicaStateTableName = "object_replica_state"
	ObjectReplicaStateVersion   = "20250815000001_object_replica_state_table"
)

type CreateObjectReplicaStateTable struct{}

func (m *CreateObjectReplicaStateTable) Version() string {
	return ObjectReplicaStateVersion
}

func (m *CreateObjectReplicaStateTable) TableName() string {
	return ObjectReplicaStateTableName
}

func (m *CreateObjectReplicaStateTable) Up(ctx context.Context, client *dynamodb.Client) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("bucket_ref"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("sort_key"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("bucket_ref"),
				KeyType:       types.KeyTypeHash, // Partition Key
			},
			{
				AttributeName: aws.String("sort_key"),
				KeyType:       types.KeyTypeRange, // Sort Key: object_key#version
			},
		},
		TableName:   aws.String(ObjectReplicaStateTableName),
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{
				Key:   aws.String("Purpose"),
				Value: aws.String("ObjectReplicaPlacement"),
			},
		},
	}

	_, err := client.CreateTable(ctx, input)
	return err
}

func (m *CreateObjectReplicaStateTable) Down(ctx context.Context, client *dynamodb.Client) error {
	return deleteTable(ctx, client, ObjectReplicaStateTableName)
}
