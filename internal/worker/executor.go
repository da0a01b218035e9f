// Package worker executes replication jobs against backend storage.
//
// A fixed pool of workers pulls from the durable queue, claims jobs through
// the store's compare-and-swap primitive, and converges placement one job at
// a time. Workers share no mutable state beyond the metadata store's atomic
// operations and the read-mostly zone registry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
	"github.com/zonesync/zonesync/internal/namespace"
	"github.com/zonesync/zonesync/internal/placement"
	"github.com/zonesync/zonesync/internal/repository/objectstore"
)

type MappingStore interface {
	GetMapping(ctx context.Context, tenantID, logicalName string) (domain.BucketMapping, error)
	PutMapping(ctx context.Context, mapping domain.BucketMapping) (domain.BucketMapping, error)
	ReservePhysicalName(ctx context.Context, backendID, physicalName string) (bool, error)
	PhysicalNameExists(ctx context.Context, backendID, physicalName string) (bool, error)
	ReleasePhysicalName(ctx context.Context, backendID, physicalName string) error
}

type StateStore interface {
	GetState(ctx context.Context, bucketRef, objectKey, version string) (domain.ObjectReplicaState, error)
	PutState(ctx context.Context, state domain.ObjectReplicaState) (domain.ObjectReplicaState, error)
	ListStatesByBucket(ctx context.Context, bucketRef string) ([]domain.ObjectReplicaState, error)
}

// BackendRegistry resolves zones to backends. placement.ZoneRegistry is the
// production implementation.
type BackendRegistry interface {
	BackendForZone(zoneCode string) (objectstore.Backend, error)
}

// Executor runs one replication job to completion.
type Executor struct {
	mappings MappingStore
	states   StateStore
	registry BackendRegistry
	hasher   *namespace.Hasher
	timeout  time.Duration
	now      func() time.Time
}

// NewExecutor creates an Executor. timeout bounds every backend interaction;
// a timed-out call surfaces as a recoverable failure, not a crash.
func NewExecutor(mappings MappingStore, states StateStore, registry BackendRegistry, hasher *namespace.Hasher, timeout time.Duration) *Executor {
	return &Executor{
		mappings: mappings,
		states:   states,
		registry: registry,
		hasher:   hasher,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Execute dispatches one claimed job. A nil return means converged; a
// permanent error (zserrors.IsPermanent) must not be retried; any other
// error is recoverable.
func (x *Executor) Execute(ctx context.Context, job domain.ReplicationJob) error {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	switch job.JobType {
	case domain.JobAddReplica:
		return x.addReplica(ctx, job)
	case domain.JobRemoveReplica:
		return x.removeReplica(ctx, job)
	case domain.JobDeleteBucketReplica:
		return x.deleteBucketReplica(ctx, job)
	case domain.JobCleanupEmptyBucket:
		return x.cleanupEmptyBucket(ctx, job)
	case domain.JobVerify:
		return x.verify(ctx, job)
	default:
		return zserrors.Permanent(fmt.Errorf("unknown job type %s", job.JobType))
	}
}

func splitRef(ref string) (tenantID, logicalName string, err error) {
	parts := strings.SplitN(ref, "#", 2)
	if len(parts) != 2 {
		return "", "", zserrors.Permanent(fmt.Errorf("malformed bucket ref %q", ref))
	}
	return parts[0], parts[1], nil
}

func (x *Executor) mapping(ctx context.Context, ref string) (domain.BucketMapping, error) {
	tenantID, logicalName, err := splitRef(ref)
	if err != nil {
		return domain.BucketMapping{}, err
	}
	mapping, err := x.mappings.GetMapping(ctx, tenantID, logicalName)
	if errors.Is(err, zserrors.ErrMappingNotFound) {
		return domain.BucketMapping{}, zserrors.Permanent(err)
	}
	return mapping, err
}

// repositoryFor returns the repository bound to an existing backend entry
// for a zone. A missing entry is permanent: the placement the job refers to
// no longer exists.
func (x *Executor) repositoryFor(mapping domain.BucketMapping, zone string) (objectstore.ObjectRepository, string, error) {
	backend, err := x.registry.BackendForZone(zone)
	if err != nil {
		return nil, "", zserrors.Permanent(err)
	}
	entry, ok := mapping.BackendMapping[backend.ID()]
	if !ok || entry.Retired {
		return nil, "", zserrors.Permanent(fmt.Errorf("bucket %s has no active placement on backend %s", mapping.Ref(), backend.ID()))
	}
	return backend.Repository(entry.PhysicalName), backend.ID(), nil
}

// ensureTargetBucket returns a repository for the target zone, lazily
// hashing, reserving and creating the physical bucket the first time
// replication expands onto that backend.
func (x *Executor) ensureTargetBucket(ctx context.Context, mapping *domain.BucketMapping, zone string) (objectstore.ObjectRepository, error) {
	backend, err := x.registry.BackendForZone(zone)
	if err != nil {
		return nil, zserrors.Permanent(err)
	}

	if entry, ok := mapping.BackendMapping[backend.ID()]; ok && !entry.Retired {
		return backend.Repository(entry.PhysicalName), nil
	}

	name, err := x.hasher.ResolveUnique(ctx, x.mappings, mapping.TenantID, mapping.RegionID, mapping.LogicalName, backend.ID())
	if err != nil {
		return nil, err
	}
	if ok, err := x.mappings.ReservePhysicalName(ctx, backend.ID(), name); err != nil {
		return nil, err
	} else if !ok {
		// Lost the reservation race; the next attempt resolves past the winner.
		return nil, fmt.Errorf("physical name %s was reserved concurrently", name)
	}

	repo := backend.Repository(name)
	if err := repo.CreateBucket(ctx, placement.ManagementTags(mapping.TenantID)); err != nil {
		return nil, err
	}

	if mapping.BackendMapping == nil {
		mapping.BackendMapping = make(map[string]domain.BackendEntry)
	}
	mapping.BackendMapping[backend.ID()] = domain.BackendEntry{
		PhysicalName: name,
		ZoneCode:     zone,
	}
	if _, err := x.mappings.PutMapping(ctx, *mapping); err != nil {
		return nil, err
	}

	log.Infof("Expanded bucket %s onto backend %s as %s", mapping.Ref(), backend.ID(), name)
	return repo, nil
}

// addReplica copies an object from its primary zone to the target zone,
// verifying integrity against the primary copy, then records the new
// replica. Re-running against an already converged object is a no-op.
func (x *Executor) addReplica(ctx context.Context, job domain.ReplicationJob) error {
	mapping, err := x.mapping(ctx, job.BucketRef)
	if err != nil {
		return err
	}

	state, err := x.states.GetState(ctx, job.BucketRef, job.ObjectKey, job.Version)
	if errors.Is(err, zserrors.ErrReplicaStateNotFound) {
		return zserrors.Permanent(err)
	}
	if err != nil {
		return err
	}
	if state.HasZone(job.TargetZone) {
		return nil
	}

	srcRepo, _, err := x.repositoryFor(mapping, job.SourceZone)
	if err != nil {
		return err
	}

	srcInfo, err := srcRepo.Head(ctx, job.ObjectKey)
	if err != nil {
		return classify(err)
	}
	if state.ETag != "" && srcInfo.ETag != "" && srcInfo.ETag != state.ETag {
		return fmt.Errorf("primary copy of %s drifted: etag %s, recorded %s", job.ObjectKey, srcInfo.ETag, state.ETag)
	}

	dstRepo, err := x.ensureTargetBucket(ctx, &mapping, job.TargetZone)
	if err != nil {
		return err
	}

	body, err := srcRepo.Download(ctx, job.ObjectKey, true)
	if err != nil {
		return classify(err)
	}
	defer body.Close()

	counter := &countingReader{r: body}
	if _, err := dstRepo.Upload(ctx, job.ObjectKey, counter, true); err != nil {
		return classify(err)
	}
	if counter.n != srcInfo.Size {
		return fmt.Errorf("integrity check failed for %s: copied %d bytes, primary holds %d", job.ObjectKey, counter.n, srcInfo.Size)
	}

	dstInfo, err := dstRepo.Head(ctx, job.ObjectKey)
	if err != nil {
		return classify(err)
	}
	if dstInfo.Size != srcInfo.Size {
		return fmt.Errorf("integrity check failed for %s: replica holds %d bytes, primary %d", job.ObjectKey, dstInfo.Size, srcInfo.Size)
	}

	state.ReplicaZones = append(state.ReplicaZones, job.TargetZone)
	state.CurrentReplicaCount++
	state.LastSyncAttempt = x.now().UTC()
	state.SyncErrorMessage = ""
	state.RecomputeSyncStatus()
	_, err = x.states.PutState(ctx, state)
	return err
}

// removeReplica deletes one replica copy. The primary zone is protected:
// a removal targeting it is an invariant violation, never executed.
func (x *Executor) removeReplica(ctx context.Context, job domain.ReplicationJob) error {
	mapping, err := x.mapping(ctx, job.BucketRef)
	if err != nil {
		return err
	}

	state, err := x.states.GetState(ctx, job.BucketRef, job.ObjectKey, job.Version)
	if errors.Is(err, zserrors.ErrReplicaStateNotFound) {
		return zserrors.Permanent(err)
	}
	if err != nil {
		return err
	}
	if job.TargetZone == state.PrimaryZoneCode {
		return zserrors.Permanent(fmt.Errorf("refusing to remove primary zone %s of %s", job.TargetZone, job.Ref()))
	}
	if !state.HasZone(job.TargetZone) {
		return nil
	}

	repo, _, err := x.repositoryFor(mapping, job.TargetZone)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, job.ObjectKey); err != nil && !isNotFound(err) {
		return classify(err)
	}

	dropZone(&state, job.TargetZone)
	state.LastSyncAttempt = x.now().UTC()
	state.RecomputeSyncStatus()
	_, err = x.states.PutState(ctx, state)
	return err
}

// deleteBucketReplica bulk-removes every managed object a zone holds for a
// bucket, then updates each object's replica state.
func (x *Executor) deleteBucketReplica(ctx context.Context, job domain.ReplicationJob) error {
	mapping, err := x.mapping(ctx, job.BucketRef)
	if err != nil {
		return err
	}

	repo, _, err := x.repositoryFor(mapping, job.TargetZone)
	if err != nil {
		return err
	}
	if err := repo.DeletePrefix(ctx, ""); err != nil {
		return classify(err)
	}

	states, err := x.states.ListStatesByBucket(ctx, job.BucketRef)
	if err != nil {
		return err
	}
	for _, state := range states {
		if !state.HasZone(job.TargetZone) || state.PrimaryZoneCode == job.TargetZone {
			continue
		}
		dropZone(&state, job.TargetZone)
		state.LastSyncAttempt = x.now().UTC()
		state.RecomputeSyncStatus()
		if _, err := x.states.PutState(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

// cleanupEmptyBucket deletes the drained physical bucket, retires its
// mapping entry and releases the physical name reservation.
func (x *Executor) cleanupEmptyBucket(ctx context.Context, job domain.ReplicationJob) error {
	mapping, err := x.mapping(ctx, job.BucketRef)
	if err != nil {
		return err
	}

	backend, err := x.registry.BackendForZone(job.TargetZone)
	if err != nil {
		return zserrors.Permanent(err)
	}
	entry, ok := mapping.BackendMapping[backend.ID()]
	if !ok {
		return nil
	}
	if !entry.Retired {
		repo := backend.Repository(entry.PhysicalName)
		if err := repo.DeleteBucket(ctx); err != nil && !isNotFound(err) {
			return classify(err)
		}
		if err := x.mappings.ReleasePhysicalName(ctx, backend.ID(), entry.PhysicalName); err != nil {
			return err
		}
	}

	entry.Retired = true
	mapping.BackendMapping[backend.ID()] = entry

	if mapping.Status == domain.MappingRetiring && allRetired(mapping) {
		mapping.Status = domain.MappingDeleted
	}
	_, err = x.mappings.PutMapping(ctx, mapping)
	return err
}

// verify re-checks existence and checksum of one replica without moving any
// data. Detected drift is recorded on the replica state so the next
// reconciliation heals it.
func (x *Executor) verify(ctx context.Context, job domain.ReplicationJob) error {
	mapping, err := x.mapping(ctx, job.BucketRef)
	if err != nil {
		return err
	}

	state, err := x.states.GetState(ctx, job.BucketRef, job.ObjectKey, job.Version)
	if err != nil {
		return err
	}
	if !state.HasZone(job.TargetZone) {
		return nil
	}

	repo, _, err := x.repositoryFor(mapping, job.TargetZone)
	if err != nil {
		return err
	}

	info, err := repo.Head(ctx, job.ObjectKey)
	switch {
	case err == nil && (state.Size == 0 || info.Size == state.Size):
		return nil
	case err != nil && !isNotFound(err):
		return classify(err)
	}

	// Replica missing or wrong size: record the drift.
	if job.TargetZone == state.PrimaryZoneCode {
		state.SyncStatus = domain.SyncFailed
		state.SyncErrorMessage = fmt.Sprintf("primary copy missing or corrupt in zone %s", job.TargetZone)
	} else {
		dropZone(&state, job.TargetZone)
		state.RecomputeSyncStatus()
		state.SyncErrorMessage = fmt.Sprintf("replica drift detected in zone %s", job.TargetZone)
	}
	state.LastSyncAttempt = x.now().UTC()
	log.Warnf("Verification found drift for %s in zone %s", job.Ref(), job.TargetZone)
	_, err = x.states.PutState(ctx, state)
	return err
}

// RecordFailure surfaces a permanently failed object job on its replica
// state so operators see the failed status and message.
func (x *Executor) RecordFailure(ctx context.Context, job domain.ReplicationJob, message string) {
	if job.ObjectKey == "" {
		return
	}
	state, err := x.states.GetState(ctx, job.BucketRef, job.ObjectKey, job.Version)
	if err != nil {
		return
	}
	state.SyncStatus = domain.SyncFailed
	state.SyncErrorMessage = message
	state.LastSyncAttempt = x.now().UTC()
	if _, err := x.states.PutState(ctx, state); err != nil {
		log.Warnf("Failed to record failure on %s: %v", job.Ref(), err)
	}
}

func dropZone(state *domain.ObjectReplicaState, zone string) {
	zones := state.ReplicaZones[:0]
	for _, z := range state.ReplicaZones {
		if z != zone {
			zones = append(zones, z)
		}
	}
	state.ReplicaZones = zones
	if state.CurrentReplicaCount > 1 {
		state.CurrentReplicaCount--
	}
}

func allRetired(mapping domain.BucketMapping) bool {
	for _, entry := range mapping.BackendMapping {
		if !entry.Retired {
			return false
		}
	}
	return true
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// permanentAPICodes are backend error codes that will not resolve on retry.
var permanentAPICodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"NoSuchBucket":          true,
	"NoSuchKey":             true,
	"AccountProblem":        true,
	"AllAccessDisabled":     true,
}

// classify separates permanent backend failures from recoverable ones.
// Anything unrecognized stays recoverable and goes down the retry path.
func classify(err error) error {
	if err == nil || zserrors.IsPermanent(err) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && permanentAPICodes[apiErr.ErrorCode()] {
		return zserrors.Permanent(err)
	}
	if errors.Is(err, storage.ErrBucketNotExist) || errors.Is(err, storage.ErrObjectNotExist) {
		return zserrors.Permanent(err)
	}
	return err
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
	}
	return errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist)
}
