// Package migrate creates and drops the DynamoDB tables backing the engine.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// Migration is one table lifecycle step.
type Migration interface {
	Version() string
	TableName() string
	Up(ctx context.Context, client *dynamodb.Client) error
	Down(ctx context.Context, client *dynamodb.Client) error
}

// migrations in apply order.
func migrations() []Migration {
	return []Migration{
		&CreateBucketMappingsTable{},
		&CreateObjectReplicaStateTable{},
		&CreateReplicationJobsTable{},
	}
}

// Up applies all migrations. Existing tables are skipped.
func Up(ctx context.Context, client *dynamodb.Client) error {
	for _, m := range migrations() {
		log.Infof("Applying migration %s", m.Version())
		if err := m.Up(ctx, client); err != nil {
			var exists *types.ResourceInUseException
			if errors.As(err, &exists) {
				log.Infof("Table %s already exists, skipping", m.TableName())
				continue
			}
			return fmt.Errorf("migration %s failed: %w", m.Version(), err)
		}
	}
	return nil
}

// Down rolls back all migrations in reverse order.
func Down(ctx context.Context, client *dynamodb.Client) error {
	ms := migrations()
	for i := len(ms) - 1; i >= 0; i-- {
		log.Infof("Rolling back migration %s", ms[i].Version())
		if err := ms[i].Down(ctx, client); err != nil {
			var missing *types.ResourceNotFoundException
			if errors.As(err, &missing) {
				continue
			}
			return fmt.Errorf("rollback of %s failed: %w", ms[i].Version(), err)
		}
	}
	return nil
}

func deleteTable(ctx context.Context, client *dynamodb.Client, name string) error {
	_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(name),
	})
	return err
}
