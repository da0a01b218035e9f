// Package service provides the core business logic of the placement and
// replication engine: bucket creation, tag-driven policy changes, drift
// reconciliation, and the administrative surface.
//
// Everything here stays synchronous and validation-only; the asynchronous
// convergence happens in the worker pool. A tagging call that requests more
// replicas returns as soon as the jobs are enqueued — convergence is
// independently observable through sync_status and the job queue.
package service

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
	"github.com/zonesync/zonesync/internal/namespace"
	"github.com/zonesync/zonesync/internal/placement"
	"github.com/zonesync/zonesync/internal/reconcile"
	"github.com/zonesync/zonesync/internal/repository/objectstore"
)

// nameRaceRetries bounds re-resolution after a lost reservation race.
const nameRaceRetries = 3

type MappingRepository interface {
	PutMapping(ctx context.Context, mapping domain.BucketMapping) (domain.BucketMapping, error)
	GetMapping(ctx context.Context, tenantID, logicalName string) (domain.BucketMapping, error)
	ListMappings(ctx context.Context) ([]domain.BucketMapping, error)
	ReservePhysicalName(ctx context.Context, backendID, physicalName string) (bool, error)
	PhysicalNameExists(ctx context.Context, backendID, physicalName string) (bool, error)
}

type ReplicaStateRepository interface {
	PutState(ctx context.Context, state domain.ObjectReplicaState) (domain.ObjectReplicaState, error)
	GetState(ctx context.Context, bucketRef, objectKey, version string) (domain.ObjectReplicaState, error)
	ListStatesByBucket(ctx context.Context, bucketRef string) ([]domain.ObjectReplicaState, error)
}

type JobRepository interface {
	Enqueue(ctx context.Context, job domain.ReplicationJob) error
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ReplicationJob, error)
	GetByJobID(ctx context.Context, jobID string) (domain.ReplicationJob, error)
	Cancel(ctx context.Context, jobID string) error
	PurgeTerminal(ctx context.Context, before time.Time) error
}

// ZoneBackends resolves which backend hosts a zone. The placement registry
// provides the production implementation.
type ZoneBackends interface {
	BackendIDForZone(zoneCode string) (string, error)
	BackendForZone(zoneCode string) (objectstore.Backend, error)
}

// PlacementService orchestrates the placement and replication engine.
type PlacementService struct {
	mappings MappingRepository
	states   ReplicaStateRepository
	jobs     JobRepository
	hasher   *namespace.Hasher
	resolver *placement.PolicyResolver
	engine   *reconcile.Engine
	backends ZoneBackends

	jobRetention time.Duration
}

// NewPlacementService creates a new PlacementService instance
func NewPlacementService(
	mappings MappingRepository,
	states ReplicaStateRepository,
	jobs JobRepository,
	hasher *namespace.Hasher,
	resolver *placement.PolicyResolver,
	engine *reconcile.Engine,
	backends ZoneBackends,
	jobRetention time.Duration,
) *PlacementService {
	return &PlacementService{
		mappings:     mappings,
		states:       states,
		jobs:         jobs,
		hasher:       hasher,
		resolver:     resolver,
		engine:       engine,
		backends:     backends,
		jobRetention: jobRetention,
	}
}

// CreateBucket resolves the location policy, derives a unique physical name
// for the primary zone's backend, creates the tagged physical bucket, and
// persists the mapping. Further backend entries are added lazily as
// replication expands to new zones.
func (s *PlacementService) CreateBucket(ctx context.Context, tenantID, regionID, logicalName, locationConstraint string) (domain.BucketMapping, error) {
	if existing, err := s.mappings.GetMapping(ctx, tenantID, logicalName); err == nil {
		if existing.Status == domain.MappingActive {
			return existing, nil
		}
		return domain.BucketMapping{}, zserrors.ErrMappingRetiring
	} else if !errors.Is(err, zserrors.ErrMappingNotFound) {
		return domain.BucketMapping{}, err
	}

	policy, err := s.resolver.Resolve(locationConstraint, 1)
	if err != nil {
		return domain.BucketMapping{}, err
	}

	primaryZone := policy.PrimaryZone.Code
	backend, err := s.backends.BackendForZone(primaryZone)
	if err != nil {
		return domain.BucketMapping{}, err
	}
	backendID := backend.ID()

	physicalName, err := s.acquirePhysicalName(ctx, tenantID, regionID, logicalName, backendID)
	if err != nil {
		return domain.BucketMapping{}, err
	}

	repo := backend.Repository(physicalName)
	if err := repo.CreateBucket(ctx, placement.ManagementTags(tenantID)); err != nil {
		return domain.BucketMapping{}, err
	}

	now := time.Now().UTC()
	mapping := domain.BucketMapping{
		TenantID:            tenantID,
		LogicalName:         logicalName,
		RegionID:            regionID,
		LocationConstraint:  locationConstraint,
		DefaultReplicaCount: 1,
		BackendMapping: map[string]domain.BackendEntry{
			backendID: {PhysicalName: physicalName, ZoneCode: primaryZone},
		},
		Status:    domain.MappingActive,
		CreatedAt: now,
	}

	mapping, err = s.mappings.PutMapping(ctx, mapping)
	if err != nil {
		return domain.BucketMapping{}, err
	}

	log.Infof("Created bucket mapping %s/%s -> %s on %s", tenantID, logicalName, physicalName, backendID)
	return mapping, nil
}

// acquirePhysicalName finds a naming-rule compliant, unreserved name and
// atomically reserves it. Losing the reservation race is benign: another
// creation claimed the name between check and reserve, so resolution is
// retried and the collision counter advances past the winner.
func (s *PlacementService) acquirePhysicalName(ctx context.Context, tenantID, regionID, logicalName, backendID string) (string, error) {
	for i := 0; i < nameRaceRetries; i++ {
		name, err := s.hasher.ResolveUnique(ctx, s.mappings, tenantID, regionID, logicalName, backendID)
		if err != nil {
			return "", err
		}
		ok, err := s.mappings.ReservePhysicalName(ctx, backendID, name)
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
		log.Debugf("lost reservation race for %s on %s, retrying", name, backendID)
	}
	return "", zserrors.ErrNamespaceExhausted
}

// DeleteBucket retires the mapping and enqueues teardown jobs for every
// backend entry. The mapping row is kept (retiring, then deleted) rather
// than hard-deleted while cleanup jobs are pending.
func (s *PlacementService) DeleteBucket(ctx context.Context, tenantID, logicalName string) error {
	mapping, err := s.mappings.GetMapping(ctx, tenantID, logicalName)
	if err != nil {
		return err
	}

	mapping.Status = domain.MappingRetiring
	if _, err := s.mappings.PutMapping(ctx, mapping); err != nil {
		return err
	}

	ref := mapping.Ref()
	for _, entry := range mapping.BackendMapping {
		if entry.Retired {
			continue
		}
		s.enqueue(ctx, s.engine.DeleteBucketReplicaJob(ref, entry.ZoneCode))
		s.enqueue(ctx, s.engine.CleanupJob(ref, entry.ZoneCode))
	}
	return nil
}

// RecordObjectWrite registers the first successful write of an object to its
// primary zone and immediately reconciles it against the bucket policy, so a
// bucket defaulting to more than one replica starts catching up at once.
func (s *PlacementService) RecordObjectWrite(ctx context.Context, tenantID, logicalName, objectKey, version, etag string, size int64) (domain.ObjectReplicaState, error) {
	mapping, err := s.mappings.GetMapping(ctx, tenantID, logicalName)
	if err != nil {
		return domain.ObjectReplicaState{}, err
	}

	policy, err := s.resolver.Resolve(mapping.LocationConstraint, mapping.DefaultReplicaCount)
	if err != nil {
		return domain.ObjectReplicaState{}, err
	}

	state := domain.ObjectReplicaState{
		BucketRef:            mapping.Ref(),
		ObjectKey:            objectKey,
		Version:              version,
		PrimaryZoneCode:      policy.PrimaryZone.Code,
		ReplicaZones:         []string{},
		RequiredReplicaCount: placement.ClampReplicaCount(mapping.DefaultReplicaCount, policy),
		CurrentReplicaCount:  1,
		ETag:                 etag,
		Size:                 size,
	}
	state.RecomputeSyncStatus()

	state, err = s.states.PutState(ctx, state)
	if err != nil {
		return domain.ObjectReplicaState{}, err
	}

	for _, job := range s.engine.ReconcileObject(&state, policy, state.RequiredReplicaCount) {
		s.enqueue(ctx, job)
	}
	return state, nil
}

// ApplyObjectTags handles an object tagging event. Tag validation and policy
// resolution are synchronous; convergence to the requested replica count is
// asynchronous and observable via sync_status.
func (s *PlacementService) ApplyObjectTags(ctx context.Context, tenantID, logicalName, objectKey, version string, tags map[string]string) error {
	if err := placement.ValidateTagSet(tags); err != nil {
		return err
	}

	count, present, err := placement.ExtractReplicaCount(tags)
	if err != nil {
		return err
	}

	mapping, err := s.mappings.GetMapping(ctx, tenantID, logicalName)
	if err != nil {
		return err
	}

	desired := mapping.DefaultReplicaCount
	if present {
		desired = count
	}

	// Resolving with the requested count rejects counts beyond the
	// candidate zones instead of silently truncating.
	policy, err := s.resolver.Resolve(mapping.LocationConstraint, desired)
	if err != nil {
		return err
	}

	state, err := s.states.GetState(ctx, mapping.Ref(), objectKey, version)
	if err != nil {
		return err
	}

	state.RequiredReplicaCount = desired
	state.RecomputeSyncStatus()
	if _, err := s.states.PutState(ctx, state); err != nil {
		return err
	}

	for _, job := range s.engine.ReconcileObject(&state, policy, desired) {
		s.enqueue(ctx, job)
	}
	return nil
}

// ApplyBucketTags handles a bucket tagging event: the extracted replica
// count becomes the bucket default and every object is reconciled onto it.
func (s *PlacementService) ApplyBucketTags(ctx context.Context, tenantID, logicalName string, tags map[string]string) error {
	if err := placement.ValidateTagSet(tags); err != nil {
		return err
	}

	count, present, err := placement.ExtractReplicaCount(tags)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	mapping, err := s.mappings.GetMapping(ctx, tenantID, logicalName)
	if err != nil {
		return err
	}

	policy, err := s.resolver.Resolve(mapping.LocationConstraint, count)
	if err != nil {
		return err
	}

	mapping.DefaultReplicaCount = count
	if _, err := s.mappings.PutMapping(ctx, mapping); err != nil {
		return err
	}

	return s.reconcileBucket(ctx, mapping, policy, count)
}

// ReconcileBucketNow re-runs convergence for one bucket, healing drift.
func (s *PlacementService) ReconcileBucketNow(ctx context.Context, tenantID, logicalName string) error {
	mapping, err := s.mappings.GetMapping(ctx, tenantID, logicalName)
	if err != nil {
		return err
	}

	policy, err := s.resolver.Resolve(mapping.LocationConstraint, mapping.DefaultReplicaCount)
	if err != nil {
		return err
	}

	return s.reconcileBucket(ctx, mapping, policy, 0)
}

func (s *PlacementService) reconcileBucket(ctx context.Context, mapping domain.BucketMapping, policy domain.LocationPolicy, overrideCount int) error {
	stateRows, err := s.states.ListStatesByBucket(ctx, mapping.Ref())
	if err != nil {
		return err
	}

	states := make([]*domain.ObjectReplicaState, 0, len(stateRows))
	for i := range stateRows {
		state := &stateRows[i]
		if overrideCount > 0 && state.RequiredReplicaCount != overrideCount {
			state.RequiredReplicaCount = overrideCount
			state.RecomputeSyncStatus()
			if _, err := s.states.PutState(ctx, *state); err != nil {
				return err
			}
		}
		states = append(states, state)
	}

	desired := overrideCount
	if desired == 0 {
		desired = mapping.DefaultReplicaCount
	}

	for _, job := range s.engine.ReconcileBucket(mapping.Ref(), states, policy, desired) {
		s.enqueue(ctx, job)
	}
	return nil
}

// ReconcileAll is the periodic drift sweep: every active bucket is
// re-reconciled, converged objects get VERIFY jobs, and old terminal jobs
// are purged. Idempotent by construction — a sweep over a converged system
// enqueues nothing but verifies.
func (s *PlacementService) ReconcileAll(ctx context.Context) error {
	mappings, err := s.mappings.ListMappings(ctx)
	if err != nil {
		return err
	}

	for _, mapping := range mappings {
		if mapping.Status != domain.MappingActive {
			continue
		}

		policy, err := s.resolver.Resolve(mapping.LocationConstraint, mapping.DefaultReplicaCount)
		if err != nil {
			log.Warnf("Skipping bucket %s with unresolvable constraint: %v", mapping.Ref(), err)
			continue
		}

		if err := s.reconcileBucket(ctx, mapping, policy, 0); err != nil {
			log.Warnf("Reconciliation of %s failed: %v", mapping.Ref(), err)
			continue
		}

		states, err := s.states.ListStatesByBucket(ctx, mapping.Ref())
		if err != nil {
			continue
		}
		for i := range states {
			if states[i].SyncStatus != domain.SyncComplete {
				continue
			}
			for _, zone := range states[i].Zones() {
				s.enqueue(ctx, s.engine.VerifyJob(&states[i], zone))
			}
		}
	}

	if s.jobRetention > 0 {
		if err := s.jobs.PurgeTerminal(ctx, time.Now().Add(-s.jobRetention)); err != nil {
			log.Warnf("Terminal job purge failed: %v", err)
		}
	}
	return nil
}

// enqueue inserts a job, treating a dedupe conflict as benign: another
// coordinator or an in-flight job already owns that unit of work.
func (s *PlacementService) enqueue(ctx context.Context, job domain.ReplicationJob) {
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		if errors.Is(err, zserrors.ErrDuplicateJob) {
			log.Debugf("Skipping duplicate job %s", job.DedupeID)
			return
		}
		log.Errorf("Failed to enqueue job %s: %v", job.DedupeID, err)
	}
}
