package service

import (
	"context"
	"fmt"

	"github.com/zonesync/zonesync/internal/domain"
)

// Evaluation is the result of a dry-run resolution: the policy and physical
// names the engine would use, with nothing persisted.
type Evaluation struct {
	Policy        domain.LocationPolicy `json:"policy"`
	PhysicalNames map[string]string     `json:"physical_names"` // zone code -> physical name
}

// Evaluate resolves the location policy and the physical names for every
// candidate zone without persisting anything. Calling layers use this for
// pre-flight validation.
func (s *PlacementService) Evaluate(ctx context.Context, tenantID, regionID, logicalName, locationConstraint string, replicaCount int) (Evaluation, error) {
	policy, err := s.resolver.Resolve(locationConstraint, replicaCount)
	if err != nil {
		return Evaluation{}, err
	}

	names := make(map[string]string, len(policy.CandidateZones))
	for _, zone := range policy.CandidateZones {
		backendID, err := s.backends.BackendIDForZone(zone.Code)
		if err != nil {
			return Evaluation{}, err
		}
		name, err := s.hasher.Resolve(tenantID, regionID, logicalName, backendID, 0)
		if err != nil {
			return Evaluation{}, err
		}
		names[zone.Code] = name
	}

	return Evaluation{Policy: policy, PhysicalNames: names}, nil
}

// GetMapping returns the current bucket mapping for a tenant/logical pair.
func (s *PlacementService) GetMapping(ctx context.Context, tenantID, logicalName string) (domain.BucketMapping, error) {
	return s.mappings.GetMapping(ctx, tenantID, logicalName)
}

// GetReplicaState returns the replica state of one object version.
func (s *PlacementService) GetReplicaState(ctx context.Context, tenantID, logicalName, objectKey, version string) (domain.ObjectReplicaState, error) {
	return s.states.GetState(ctx, tenantID+"#"+logicalName, objectKey, version)
}

// ListJobs returns jobs in a given status, newest first.
func (s *PlacementService) ListJobs(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ReplicationJob, error) {
	return s.jobs.ListByStatus(ctx, status, limit)
}

// CancelJob cancels a queued job. Running jobs cannot be cancelled.
func (s *PlacementService) CancelJob(ctx context.Context, jobID string) error {
	return s.jobs.Cancel(ctx, jobID)
}

// EnqueueManualJob is the administrative override: enqueue a convergence job
// directly, bypassing reconciliation.
func (s *PlacementService) EnqueueManualJob(ctx context.Context, jobType domain.JobType, tenantID, logicalName, objectKey, version, sourceZone, targetZone string, priority int) (domain.ReplicationJob, error) {
	switch jobType {
	case domain.JobAddReplica, domain.JobRemoveReplica, domain.JobDeleteBucketReplica:
	default:
		return domain.ReplicationJob{}, fmt.Errorf("job type %s cannot be enqueued manually", jobType)
	}
	if priority < domain.PriorityHighest || priority > domain.PriorityLowest {
		priority = domain.PriorityLowest
	}

	mapping, err := s.mappings.GetMapping(ctx, tenantID, logicalName)
	if err != nil {
		return domain.ReplicationJob{}, err
	}

	job := s.engine.ManualJob(jobType, mapping.Ref(), objectKey, version, sourceZone, targetZone, priority)
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return domain.ReplicationJob{}, err
	}
	return job, nil
}
