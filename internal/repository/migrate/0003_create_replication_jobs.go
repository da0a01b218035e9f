package migrate

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	ReplicationJobsTableName = "replication_jobs"
	ReplicationJobsVersion   = "20250815000002_replication_jobs_table"
)

// CreateReplicationJobsTable keys the queue by dedupe id so the table itself
// enforces at most one non-terminal job per (ref, target zone, job type).
// queue-index is sparse (only queued jobs carry queue_status) and sorted by
// the composite priority#scheduled_at key for priority-then-FIFO dequeue.
type CreateReplicationJobsTable struct{}

func (m *CreateReplicationJobsTable) Version() string {
	return ReplicationJobsVersion
}

func (m *CreateReplicationJobsTable) TableName() string {
	return ReplicationJobsTableName
}

func (m *CreateReplicationJobsTable) Up(ctx context.Context, client *dynamodb.Client) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("dedupe_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("queue_status"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("prio_sched"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("status"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("created_at"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("job_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("dedupe_id"),
				KeyType:       types.KeyTypeHash, // Partition Key
			},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("queue-index"),
				KeySchema: []types.KeySchemaElement{
					{
						AttributeName: aws.String("queue_status"),
						KeyType:       types.KeyTypeHash,
					},
					{
						AttributeName: aws.String("prio_sched"),
						KeyType:       types.KeyTypeRange,
					},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
			{
				IndexName: aws.String("status-index"),
				KeySchema: []types.KeySchemaElement{
					{
						AttributeName: aws.String("status"),
						KeyType:       types.KeyTypeHash,
					},
					{
						AttributeName: aws.String("created_at"),
						KeyType:       types.KeyTypeRange,
					},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
			{
				IndexName: aws.String("job-id-index"),
				KeySchema: []types.KeySchemaElement{
					{
						AttributeName: aws.String("job_id"),
						KeyType:       types.KeyTypeHash,
					},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		TableName:   aws.String(ReplicationJobsTableName),
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{
				Key:   aws.String("Purpose"),
				Value: aws.String("ReplicationJobQueue"),
			},
		},
	}

	_, err := client.CreateTable(ctx, input)
	return err
}

func (m *CreateReplicationJobsTable) Down(ctx context.Context, client *dynamodb.Client) error {
	return deleteTable(ctx, client, ReplicationJobsTableName)
}
