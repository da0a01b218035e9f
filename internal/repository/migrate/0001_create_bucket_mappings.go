package migrate

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	BucketMappingsTableName = "bucket_mappings"
	BucketMappingsVersion   = "20250815000000_bucket_mappings_table"
)

// CreateBucketMappingsTable holds both the logical bucket mappings
// (tenant_id partition) and the physical-name reservation items
// ("phys#<backend>" partition) used for the namespace uniqueness check.
type CreateBucketMappingsTable struct{}

func (m *CreateBucketMappingsTable) Version() string {
	return BucketMappingsVersion
}

func (m *CreateBucketMappingsTable) TableName() string {
	return BucketMappingsTableName
}

func (m *CreateBucketMappingsTable) Up(ctx context.Context, client *dynamodb.Client) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("tenant_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("logical_name"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("tenant_id"),
				KeyType:       types.KeyTypeHash, // Partition Key
			},
			{
				AttributeName: aws.String("logical_name"),
				KeyType:       types.KeyTypeRange, // Sort Key
			},
		},
		TableName:   aws.String(BucketMappingsTableName),
		BillingMode: types.BillingModePayPerRequest, // On-demand billing for variable workloads
		Tags: []types.Tag{
			{
				Key:   aws.String("Purpose"),
				Value: aws.String("BucketPlacementMetadata"),
			},
		},
	}

	_, err := client.CreateTable(ctx, input)
	return err
}

func (m *CreateBucketMappingsTable) Down(ctx context.Context, client *dynamodb.Client) error {
	return deleteTable(ctx, client, BucketMappingsTableName)
}
