package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
)

// Index names on the replication_jobs table.
const (
	QueueIndexName  = "queue-index"
	StatusIndexName = "status-index"
	JobIDIndexName  = "job-id-index"
)

// JobRepository manages the durable replication job queue. The table's
// partition key is the dedupe id, which is what enforces "at most one
// non-terminal job per (ref, target zone, job type)".
type JobRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewJobRepository initializes a new JobRepository.
func NewJobRepository(client *dynamodb.Client, tableName string) JobRepository {
	return JobRepository{
		client:    client,
		tableName: tableName,
	}
}

// prioSched composes the queue index sort key: lowest priority value first,
// then oldest schedule first within a priority band.
func prioSched(priority int, scheduledAt time.Time) string {
	return fmt.Sprintf("%02d#%s", priority, scheduledAt.UTC().Format("2006-01-02T15:04:05.000000000Z"))
}

// marshalJob adds the computed index attributes next to the marshalled row.
func marshalJob(job domain.ReplicationJob) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	item["scheduled_at_unix"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(job.ScheduledAt.Unix(), 10)}
	if job.Status == domain.JobQueued {
		// queue_status is sparse: only queued jobs appear in the dequeue index.
		item["queue_status"] = &types.AttributeValueMemberS{Value: string(domain.JobQueued)}
		item["prio_sched"] = &types.AttributeValueMemberS{Value: prioSched(job.Priority, job.ScheduledAt)}
	}
	return item, nil
}

// Enqueue inserts a job, guarded by the dedupe constraint: the put succeeds
// only when no row exists for the dedupe id or the existing row is terminal.
// A conflict means another coordinator already owns this unit of work and is
// reported as ErrDuplicateJob for the caller to ignore.
func (repo *JobRepository) Enqueue(ctx context.Context, job domain.ReplicationJob) error {
	item, err := marshalJob(job)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(repo.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(dedupe_id) OR #s IN (:completed, :failed, :cancelled)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: string(domain.JobCompleted)},
			":failed":    &types.AttributeValueMemberS{Value: string(domain.JobFailed)},
			":cancelled": &types.AttributeValueMemberS{Value: string(domain.JobCancelled)},
		},
	}

	if _, err := repo.client.PutItem(ctx, input); err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return zserrors.ErrDuplicateJob
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Get retrieves a job by its dedupe id.
func (repo *JobRepository) Get(ctx context.Context, dedupeID string) (domain.ReplicationJob, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"dedupe_id": &types.AttributeValueMemberS{Value: dedupeID},
		},
	}

	result, err := repo.client.GetItem(ctx, input)
	if err != nil {
		return domain.ReplicationJob{}, fmt.Errorf("failed to get job: %w", err)
	}
	if result.Item == nil {
		return domain.ReplicationJob{}, zserrors.ErrJobNotFound
	}

	var job domain.ReplicationJob
	if err := attributevalue.UnmarshalMap(result.Item, &job); err != nil {
		return domain.ReplicationJob{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, nil
}

// GetByJobID retrieves a job by its external job id.
func (repo *JobRepository) GetByJobID(ctx context.Context, jobID string) (domain.ReplicationJob, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(repo.tableName),
		IndexName:              aws.String(JobIDIndexName),
		KeyConditionExpression: aws.String("job_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: jobID},
		},
		Limit: aws.Int32(1),
	}

	result, err := repo.client.Query(ctx, input)
	if err != nil {
		return domain.ReplicationJob{}, fmt.Errorf("failed to query job by id: %w", err)
	}
	if len(result.Items) == 0 {
		return domain.ReplicationJob{}, zserrors.ErrJobNotFound
	}

	var job domain.ReplicationJob
	if err := attributevalue.UnmarshalMap(result.Items[0], &job); err != nil {
		return domain.ReplicationJob{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, nil
}

// dequeueScanFactor widens the per-page query window. DynamoDB applies Limit
// before the filter expression, so a window full of backing-off jobs would
// otherwise return an empty batch while runnable jobs sit behind them.
const dequeueScanFactor = 4

type queryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DequeueBatch returns up to limit runnable queued jobs, lowest priority
// value first, FIFO within a priority band. Jobs scheduled in the future
// (backoff) are filtered out; the query pages past them until the batch
// fills or the queue index is exhausted.
func (repo *JobRepository) DequeueBatch(ctx context.Context, limit int, now time.Time) ([]domain.ReplicationJob, error) {
	return dequeuePages(ctx, repo.client, repo.tableName, limit, now)
}

func dequeuePages(ctx context.Context, client queryAPI, tableName string, limit int, now time.Time) ([]domain.ReplicationJob, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(tableName),
		IndexName:              aws.String(QueueIndexName),
		KeyConditionExpression: aws.String("queue_status = :queued"),
		FilterExpression:       aws.String("scheduled_at_unix <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":queued": &types.AttributeValueMemberS{Value: string(domain.JobQueued)},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit * dequeueScanFactor)),
	}

	jobs := make([]domain.ReplicationJob, 0, limit)
	for {
		result, err := client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query job queue: %w", err)
		}

		for _, item := range result.Items {
			var job domain.ReplicationJob
			if err := attributevalue.UnmarshalMap(item, &job); err != nil {
				return nil, fmt.Errorf("failed to unmarshal job: %w", err)
			}
			jobs = append(jobs, job)
			if len(jobs) == limit {
				return jobs, nil
			}
		}

		if len(result.LastEvaluatedKey) == 0 {
			return jobs, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// Claim atomically transitions a job queued -> running so concurrent workers
// never double-process it. A lost race returns false with no error.
func (repo *JobRepository) Claim(ctx context.Context, dedupeID string, now time.Time) (bool, error) {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"dedupe_id": &types.AttributeValueMemberS{Value: dedupeID},
		},
		UpdateExpression:    aws.String("SET #s = :running REMOVE queue_status, prio_sched"),
		ConditionExpression: aws.String("#s = :queued AND scheduled_at_unix <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":running": &types.AttributeValueMemberS{Value: string(domain.JobRunning)},
			":queued":  &types.AttributeValueMemberS{Value: string(domain.JobQueued)},
			":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}

	if _, err := repo.client.UpdateItem(ctx, input); err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return true, nil
}

// Complete marks a running job completed.
func (repo *JobRepository) Complete(ctx context.Context, dedupeID string, now time.Time) error {
	return repo.finish(ctx, dedupeID, domain.JobCompleted, "", now)
}

// Fail marks a running job failed with the error message operators will see.
// Failed jobs are never silently dropped; they stay visible until overwritten
// by a newer job for the same dedupe key.
func (repo *JobRepository) Fail(ctx context.Context, dedupeID, message string, now time.Time) error {
	return repo.finish(ctx, dedupeID, domain.JobFailed, message, now)
}

func (repo *JobRepository) finish(ctx context.Context, dedupeID string, status domain.JobStatus, message string, now time.Time) error {
	expr := "SET #s = :status, completed_at = :now"
	values := map[string]types.AttributeValue{
		":status":  &types.AttributeValueMemberS{Value: string(status)},
		":running": &types.AttributeValueMemberS{Value: string(domain.JobRunning)},
		":now":     &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
	}
	if message != "" {
		expr += ", error_message = :msg"
		values[":msg"] = &types.AttributeValueMemberS{Value: message}
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"dedupe_id": &types.AttributeValueMemberS{Value: dedupeID},
		},
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("#s = :running"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	}

	if _, err := repo.client.UpdateItem(ctx, input); err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return zserrors.ErrJobNotClaimable
		}
		return fmt.Errorf("failed to transition job to %s: %w", status, err)
	}
	return nil
}

// Requeue puts a failed-but-retryable job back on the queue with its bumped
// retry count and backoff schedule. Only the claiming worker calls this, so
// the guard is running status.
func (repo *JobRepository) Requeue(ctx context.Context, job domain.ReplicationJob) error {
	job.Status = domain.JobQueued
	item, err := marshalJob(job)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName:                 aws.String(repo.tableName),
		Item:                      item,
		ConditionExpression:       aws.String("#s = :running"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":running": &types.AttributeValueMemberS{Value: string(domain.JobRunning)}},
	}

	if _, err := repo.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

// Cancel transitions a queued job to cancelled. Running jobs cannot be
// cancelled mid-flight; cancellation is advisory for not-yet-started work.
func (repo *JobRepository) Cancel(ctx context.Context, jobID string) error {
	job, err := repo.GetByJobID(ctx, jobID)
	if err != nil {
		return err
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(repo.tableName),
		Key: map[string]types.AttributeValue{
			"dedupe_id": &types.AttributeValueMemberS{Value: job.DedupeID},
		},
		UpdateExpression:    aws.String("SET #s = :cancelled REMOVE queue_status, prio_sched"),
		ConditionExpression: aws.String("#s = :queued"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cancelled": &types.AttributeValueMemberS{Value: string(domain.JobCancelled)},
			":queued":    &types.AttributeValueMemberS{Value: string(domain.JobQueued)},
		},
	}

	if _, err := repo.client.UpdateItem(ctx, input); err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return zserrors.ErrJobNotClaimable
		}
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return nil
}

// ListByStatus retrieves jobs in a given status, newest first.
func (repo *JobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ReplicationJob, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(repo.tableName),
		IndexName:              aws.String(StatusIndexName),
		KeyConditionExpression: aws.String("#s = :status"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	result, err := repo.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	jobs := make([]domain.ReplicationJob, 0, len(result.Items))
	for _, item := range result.Items {
		var job domain.ReplicationJob
		if err := attributevalue.UnmarshalMap(item, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PurgeTerminal deletes completed and cancelled jobs older than before.
// Failed jobs are kept: they carry the alert signal operators act on.
func (repo *JobRepository) PurgeTerminal(ctx context.Context, before time.Time) error {
	for _, status := range []domain.JobStatus{domain.JobCompleted, domain.JobCancelled} {
		jobs, err := repo.ListByStatus(ctx, status, 1000)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.CreatedAt.After(before) {
				continue
			}
			input := &dynamodb.DeleteItemInput{
				TableName: aws.String(repo.tableName),
				Key: map[string]types.AttributeValue{
					"dedupe_id": &types.AttributeValueMemberS{Value: job.DedupeID},
				},
			}
			if _, err := repo.client.DeleteItem(ctx, input); err != nil {
				log.Warnf("Failed to purge job %s: %v", job.JobID, err)
			}
		}
	}
	return nil
}
