// Package reconcile computes the convergence work between desired and actual
// replica placement.
//
// The engine is pure: given identical current state, policy and desired
// count it emits the identical job set, so periodic re-reconciliation never
// piles up duplicate work. The job table's dedupe constraint is the final
// idempotency backstop for jobs already in flight.
package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zonesync/zonesync/internal/domain"
)

const (
	// DefaultBulkDeleteThreshold is the object count above which per-zone
	// removals collapse into one DELETE_BUCKET_REPLICA job. Per-object
	// deletion calls do not amortize under high object counts; bulk deletion
	// does, but is wasteful for a handful of objects.
	DefaultBulkDeleteThreshold = 10

	// DefaultMaxRetries bounds transient-failure retries per job.
	DefaultMaxRetries = 3

	// basePriority is the priority of an ADD_REPLICA with a deficit of one;
	// each additional missing replica raises urgency by one step.
	basePriority = 5

	removePriority  = 8
	cleanupPriority = 9
	verifyPriority  = domain.PriorityLowest
)

// Engine diffs desired against actual placement and emits replication jobs.
type Engine struct {
	bulkDeleteThreshold int
	maxRetries          int
	now                 func() time.Time
	newJobID            func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithBulkDeleteThreshold overrides the bulk deletion cutover point.
func WithBulkDeleteThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bulkDeleteThreshold = n
		}
	}
}

// WithMaxRetries overrides the per-job retry budget.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithClock overrides the scheduling clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		bulkDeleteThreshold: DefaultBulkDeleteThreshold,
		maxRetries:          DefaultMaxRetries,
		now:                 time.Now,
		newJobID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReconcileObject computes the jobs converging one object onto the policy.
// The object's primary zone is never removed, even when the policy no longer
// lists it first: re-primarying is an explicit migration, not convergence.
func (e *Engine) ReconcileObject(state *domain.ObjectReplicaState, policy domain.LocationPolicy, desiredCount int) []domain.ReplicationJob {
	desired := policy.DesiredZones(desiredCount)
	desiredSet := toSet(desired)

	var jobs []domain.ReplicationJob

	// Missing replicas, in candidate-zone priority order.
	for _, zone := range desired {
		if state.HasZone(zone) {
			continue
		}
		jobs = append(jobs, e.newJob(domain.ReplicationJob{
			JobType:    domain.JobAddReplica,
			BucketRef:  state.BucketRef,
			ObjectKey:  state.ObjectKey,
			Version:    state.Version,
			SourceZone: state.PrimaryZoneCode,
			TargetZone: zone,
			Priority:   addPriority(desiredCount, state.CurrentReplicaCount),
		}))
	}

	// Excess replicas, primary excluded.
	for _, zone := range state.Zones() {
		if zone == state.PrimaryZoneCode || desiredSet[zone] {
			continue
		}
		jobs = append(jobs, e.newJob(domain.ReplicationJob{
			JobType:    domain.JobRemoveReplica,
			BucketRef:  state.BucketRef,
			ObjectKey:  state.ObjectKey,
			Version:    state.Version,
			TargetZone: zone,
			Priority:   removePriority,
		}))
	}

	return jobs
}

// ReconcileBucket computes the jobs converging every object of a bucket onto
// the policy. When more than the bulk threshold of objects must leave one
// zone, the per-object removals for that zone collapse into a single
// DELETE_BUCKET_REPLICA job. A zone that is any object's primary never
// collapses: bulk deletion wipes the whole physical bucket, so removals there
// stay per-object and the primary copies survive. A zone whose managed object
// count drops to zero additionally gets a CLEANUP_EMPTY_BUCKET job so the
// now-unused physical bucket is removed and its mapping entry retired.
func (e *Engine) ReconcileBucket(bucketRef string, states []*domain.ObjectReplicaState, policy domain.LocationPolicy, desiredCount int) []domain.ReplicationJob {
	var jobs []domain.ReplicationJob

	zoneObjects := make(map[string]int)    // current managed objects per zone
	zoneRemovals := make(map[string]int)   // objects leaving per zone
	zonePrimaries := make(map[string]bool) // zones hosting at least one primary copy
	var removalOrder []string              // deterministic emission order
	perObjectRemovals := make(map[string][]domain.ReplicationJob)

	for _, state := range states {
		zonePrimaries[state.PrimaryZoneCode] = true
		for _, zone := range state.Zones() {
			zoneObjects[zone]++
		}

		for _, job := range e.ReconcileObject(state, policy, desiredCount) {
			if job.JobType != domain.JobRemoveReplica {
				jobs = append(jobs, job)
				continue
			}
			if zoneRemovals[job.TargetZone] == 0 {
				removalOrder = append(removalOrder, job.TargetZone)
			}
			zoneRemovals[job.TargetZone]++
			perObjectRemovals[job.TargetZone] = append(perObjectRemovals[job.TargetZone], job)
		}
	}

	for _, zone := range removalOrder {
		if zoneRemovals[zone] > e.bulkDeleteThreshold && !zonePrimaries[zone] {
			jobs = append(jobs, e.newJob(domain.ReplicationJob{
				JobType:    domain.JobDeleteBucketReplica,
				BucketRef:  bucketRef,
				TargetZone: zone,
				Priority:   removePriority,
			}))
		} else {
			jobs = append(jobs, perObjectRemovals[zone]...)
		}

		if zoneRemovals[zone] >= zoneObjects[zone] {
			jobs = append(jobs, e.newJob(domain.ReplicationJob{
				JobType:    domain.JobCleanupEmptyBucket,
				BucketRef:  bucketRef,
				TargetZone: zone,
				Priority:   cleanupPriority,
			}))
		}
	}

	return jobs
}

// VerifyJob emits a drift-detection job for one object/zone pair. Verify
// never mutates placement; it re-checks checksum and existence.
func (e *Engine) VerifyJob(state *domain.ObjectReplicaState, zone string) domain.ReplicationJob {
	return e.newJob(domain.ReplicationJob{
		JobType:    domain.JobVerify,
		BucketRef:  state.BucketRef,
		ObjectKey:  state.ObjectKey,
		Version:    state.Version,
		SourceZone: state.PrimaryZoneCode,
		TargetZone: zone,
		Priority:   verifyPriority,
	})
}

// DeleteBucketReplicaJob emits a bulk removal of every managed object a zone
// holds for a bucket, used for explicit bucket teardown.
func (e *Engine) DeleteBucketReplicaJob(bucketRef, zone string) domain.ReplicationJob {
	return e.newJob(domain.ReplicationJob{
		JobType:    domain.JobDeleteBucketReplica,
		BucketRef:  bucketRef,
		TargetZone: zone,
		Priority:   removePriority,
	})
}

// CleanupJob emits a CLEANUP_EMPTY_BUCKET job for a zone already drained of
// managed objects, used by the periodic sweep for zones emptied out-of-band.
func (e *Engine) CleanupJob(bucketRef, zone string) domain.ReplicationJob {
	return e.newJob(domain.ReplicationJob{
		JobType:    domain.JobCleanupEmptyBucket,
		BucketRef:  bucketRef,
		TargetZone: zone,
		Priority:   cleanupPriority,
	})
}

// ManualJob builds an administratively requested job.
func (e *Engine) ManualJob(jobType domain.JobType, bucketRef, objectKey, version, sourceZone, targetZone string, priority int) domain.ReplicationJob {
	return e.newJob(domain.ReplicationJob{
		JobType:    jobType,
		BucketRef:  bucketRef,
		ObjectKey:  objectKey,
		Version:    version,
		SourceZone: sourceZone,
		TargetZone: targetZone,
		Priority:   priority,
	})
}

func (e *Engine) newJob(job domain.ReplicationJob) domain.ReplicationJob {
	now := e.now()
	job.JobID = e.newJobID()
	job.Status = domain.JobQueued
	job.MaxRetries = e.maxRetries
	job.ScheduledAt = now
	job.CreatedAt = now
	job.DedupeID = job.ComputeDedupeID()
	return job
}

// addPriority scales urgency by how far behind policy the object is: each
// missing replica lowers the numeric priority (raises urgency) by one step.
func addPriority(desiredCount, currentCount int) int {
	deficit := desiredCount - currentCount
	if deficit < 1 {
		deficit = 1
	}
	p := basePriority - (deficit - 1)
	if p < domain.PriorityHighest {
		p = domain.PriorityHighest
	}
	if p > domain.PriorityLowest {
		p = domain.PriorityLowest
	}
	return p
}

func toSet(zones []string) map[string]bool {
	set := make(map[string]bool, len(zones))
	for _, z := range zones {
		set[z] = true
	}
	return set
}

// String renders a job compactly for logs.
func String(job domain.ReplicationJob) string {
	return fmt.Sprintf("%s %s -> %s (%s, prio %d)", job.JobType, job.SourceZone, job.TargetZone, job.Ref(), job.Priority)
}
