package domain

import (
	"fmt"
	"time"
)

// JobType enumerates the units of convergence work.
type JobType string

const (
	JobAddReplica          JobType = "ADD_REPLICA"
	JobRemoveReplica       JobType = "REMOVE_REPLICA"
	JobDeleteBucketReplica JobType = "DELETE_BUCKET_REPLICA"
	JobCleanupEmptyBucket  JobType = "CLEANUP_EMPTY_BUCKET"
	JobVerify              JobType = "VERIFY"
)

// JobStatus enumerates lifecycle states persisted in the job table.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Priority bounds: 1 is most urgent, 10 least.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
)

// ReplicationJob - a unit of convergence work. Object-scoped jobs carry
// ObjectKey; bucket-scoped jobs (DELETE_BUCKET_REPLICA, CLEANUP_EMPTY_BUCKET)
// leave it empty. DedupeID enforces at most one non-terminal job per
// (ref, target zone, job type).
type ReplicationJob struct {
	DedupeID     string    `json:"dedupe_id" dynamodbav:"dedupe_id"` // Partition Key
	JobID        string    `json:"job_id" dynamodbav:"job_id"`
	JobType      JobType   `json:"job_type" dynamodbav:"job_type"`
	BucketRef    string    `json:"bucket_ref" dynamodbav:"bucket_ref"`
	ObjectKey    string    `json:"object_key,omitempty" dynamodbav:"object_key,omitempty"`
	Version      string    `json:"version,omitempty" dynamodbav:"version,omitempty"`
	SourceZone   string    `json:"source_zone,omitempty" dynamodbav:"source_zone,omitempty"`
	TargetZone   string    `json:"target_zone" dynamodbav:"target_zone"`
	Priority     int       `json:"priority" dynamodbav:"priority"`
	Status       JobStatus `json:"status" dynamodbav:"status"`
	RetryCount   int       `json:"retry_count" dynamodbav:"retry_count"`
	MaxRetries   int       `json:"max_retries" dynamodbav:"max_retries"`
	ScheduledAt  time.Time `json:"scheduled_at" dynamodbav:"scheduled_at"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
}

// Ref returns the scope the dedupe key is built from: the object reference
// for object jobs, the bucket reference for bucket jobs.
func (j *ReplicationJob) Ref() string {
	if j.ObjectKey != "" {
		return j.BucketRef + "#" + j.ObjectKey
	}
	return j.BucketRef
}

// ComputeDedupeID derives the uniqueness key for the job.
func (j *ReplicationJob) ComputeDedupeID() string {
	return fmt.Sprintf("%s#%s#%s", j.Ref(), j.TargetZone, j.JobType)
}

// Terminal reports whether the job can no longer transition.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}
