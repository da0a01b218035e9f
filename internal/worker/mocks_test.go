package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
	"github.com/zonesync/zonesync/internal/repository/objectstore"
)

func notFoundErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "not found"}
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// memMappingStore is an in-memory MappingStore.
type memMappingStore struct {
	mappings     map[string]domain.BucketMapping
	reservations map[string]bool
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{
		mappings:     make(map[string]domain.BucketMapping),
		reservations: make(map[string]bool),
	}
}

func (m *memMappingStore) GetMapping(ctx context.Context, tenantID, logicalName string) (domain.BucketMapping, error) {
	mapping, ok := m.mappings[tenantID+"#"+logicalName]
	if !ok {
		return domain.BucketMapping{}, zserrors.ErrMappingNotFound
	}
	return mapping, nil
}

func (m *memMappingStore) PutMapping(ctx context.Context, mapping domain.BucketMapping) (domain.BucketMapping, error) {
	m.mappings[mapping.Ref()] = mapping
	return mapping, nil
}

func (m *memMappingStore) ReservePhysicalName(ctx context.Context, backendID, physicalName string) (bool, error) {
	key := backendID + "/" + physicalName
	if m.reservations[key] {
		return false, nil
	}
	m.reservations[key] = true
	return true, nil
}

func (m *memMappingStore) PhysicalNameExists(ctx context.Context, backendID, physicalName string) (bool, error) {
	return m.reservations[backendID+"/"+physicalName], nil
}

func (m *memMappingStore) ReleasePhysicalName(ctx context.Context, backendID, physicalName string) error {
	delete(m.reservations, backendID+"/"+physicalName)
	return nil
}

// memStateStore is an in-memory StateStore.
type memStateStore struct {
	states map[string]domain.ObjectReplicaState
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]domain.ObjectReplicaState)}
}

func stateKey(bucketRef, objectKey, version string) string {
	return bucketRef + "#" + objectKey + "#" + version
}

func (m *memStateStore) GetState(ctx context.Context, bucketRef, objectKey, version string) (domain.ObjectReplicaState, error) {
	state, ok := m.states[stateKey(bucketRef, objectKey, version)]
	if !ok {
		return domain.ObjectReplicaState{}, zserrors.ErrReplicaStateNotFound
	}
	return state, nil
}

func (m *memStateStore) PutState(ctx context.Context, state domain.ObjectReplicaState) (domain.ObjectReplicaState, error) {
	m.states[stateKey(state.BucketRef, state.ObjectKey, state.Version)] = state
	return state, nil
}

func (m *memStateStore) ListStatesByBucket(ctx context.Context, bucketRef string) ([]domain.ObjectReplicaState, error) {
	keys := make([]string, 0)
	for k, s := range m.states {
		if s.BucketRef == bucketRef {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]domain.ObjectReplicaState, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.states[k])
	}
	return out, nil
}

// memBackend is an in-memory objectstore.Backend. The func fields inject
// failures into the repositories it hands out.
type memBackend struct {
	id      string
	buckets map[string]map[string][]byte
	tags    map[string]map[string]string

	uploadFunc   func(bucket, key string) error
	downloadFunc func(bucket, key string) error
	headFunc     func(bucket, key string) error
	deleteFunc   func(bucket, key string) error
}

func newMemBackend(id string) *memBackend {
	return &memBackend{
		id:      id,
		buckets: make(map[string]map[string][]byte),
		tags:    make(map[string]map[string]string),
	}
}

func (b *memBackend) ID() string { return b.id }

func (b *memBackend) Repository(bucketName string) objectstore.ObjectRepository {
	return &memObjectRepo{backend: b, bucket: bucketName}
}

func (b *memBackend) createBucket(name string) {
	if _, ok := b.buckets[name]; !ok {
		b.buckets[name] = make(map[string][]byte)
	}
}

func (b *memBackend) put(bucket, key string, data []byte) {
	b.createBucket(bucket)
	b.buckets[bucket][key] = data
}

type memObjectRepo struct {
	backend *memBackend
	bucket  string
}

func (r *memObjectRepo) Upload(ctx context.Context, key string, reader io.Reader, quiet bool) (string, error) {
	if r.backend.uploadFunc != nil {
		if err := r.backend.uploadFunc(r.bucket, key); err != nil {
			return "", err
		}
	}
	objects, ok := r.backend.buckets[r.bucket]
	if !ok {
		return "", notFoundErr("NoSuchBucket")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	objects[key] = data
	return etagOf(data), nil
}

func (r *memObjectRepo) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	if r.backend.downloadFunc != nil {
		if err := r.backend.downloadFunc(r.bucket, key); err != nil {
			return nil, err
		}
	}
	data, err := r.lookup(key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *memObjectRepo) Delete(ctx context.Context, key string) error {
	if r.backend.deleteFunc != nil {
		if err := r.backend.deleteFunc(r.bucket, key); err != nil {
			return err
		}
	}
	objects, ok := r.backend.buckets[r.bucket]
	if !ok {
		return notFoundErr("NoSuchBucket")
	}
	delete(objects, key)
	return nil
}

func (r *memObjectRepo) DeletePrefix(ctx context.Context, prefix string) error {
	objects, ok := r.backend.buckets[r.bucket]
	if !ok {
		return notFoundErr("NoSuchBucket")
	}
	for key := range objects {
		if strings.HasPrefix(key, prefix) {
			delete(objects, key)
		}
	}
	return nil
}

func (r *memObjectRepo) Head(ctx context.Context, key string) (objectstore.ObjectInfo, error) {
	if r.backend.headFunc != nil {
		if err := r.backend.headFunc(r.bucket, key); err != nil {
			return objectstore.ObjectInfo{}, err
		}
	}
	data, err := r.lookup(key)
	if err != nil {
		return objectstore.ObjectInfo{}, err
	}
	return objectstore.ObjectInfo{ETag: etagOf(data), Size: int64(len(data))}, nil
}

func (r *memObjectRepo) CreateBucket(ctx context.Context, tags map[string]string) error {
	r.backend.createBucket(r.bucket)
	r.backend.tags[r.bucket] = tags
	return nil
}

func (r *memObjectRepo) DeleteBucket(ctx context.Context) error {
	if _, ok := r.backend.buckets[r.bucket]; !ok {
		return notFoundErr("NoSuchBucket")
	}
	delete(r.backend.buckets, r.bucket)
	return nil
}

func (r *memObjectRepo) GetBucketName() string { return r.bucket }

func (r *memObjectRepo) GetStorageType() string { return "mem" }

func (r *memObjectRepo) lookup(key string) ([]byte, error) {
	objects, ok := r.backend.buckets[r.bucket]
	if !ok {
		return nil, notFoundErr("NoSuchBucket")
	}
	data, ok := objects[key]
	if !ok {
		return nil, notFoundErr("NoSuchKey")
	}
	return data, nil
}

// memRegistry is a BackendRegistry over a fixed zone -> backend table.
type memRegistry struct {
	zones map[string]objectstore.Backend
}

func (r *memRegistry) BackendForZone(zoneCode string) (objectstore.Backend, error) {
	backend, ok := r.zones[zoneCode]
	if !ok {
		return nil, fmt.Errorf("no backend registered for zone: %s", zoneCode)
	}
	return backend, nil
}

// memQueue is an in-memory Queue keyed by dedupe id.
type memQueue struct {
	jobs map[string]domain.ReplicationJob
}

func newMemQueue() *memQueue {
	return &memQueue{jobs: make(map[string]domain.ReplicationJob)}
}

func (q *memQueue) add(job domain.ReplicationJob) {
	q.jobs[job.DedupeID] = job
}

func (q *memQueue) DequeueBatch(ctx context.Context, limit int, now time.Time) ([]domain.ReplicationJob, error) {
	var out []domain.ReplicationJob
	for _, job := range q.jobs {
		if job.Status == domain.JobQueued && !job.ScheduledAt.After(now) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memQueue) Claim(ctx context.Context, dedupeID string, now time.Time) (bool, error) {
	job, ok := q.jobs[dedupeID]
	if !ok || job.Status != domain.JobQueued || job.ScheduledAt.After(now) {
		return false, nil
	}
	job.Status = domain.JobRunning
	q.jobs[dedupeID] = job
	return true, nil
}

func (q *memQueue) Complete(ctx context.Context, dedupeID string, now time.Time) error {
	job, ok := q.jobs[dedupeID]
	if !ok || job.Status != domain.JobRunning {
		return zserrors.ErrJobNotClaimable
	}
	job.Status = domain.JobCompleted
	job.CompletedAt = now
	q.jobs[dedupeID] = job
	return nil
}

func (q *memQueue) Fail(ctx context.Context, dedupeID, message string, now time.Time) error {
	job, ok := q.jobs[dedupeID]
	if !ok || job.Status != domain.JobRunning {
		return zserrors.ErrJobNotClaimable
	}
	job.Status = domain.JobFailed
	job.ErrorMessage = message
	job.CompletedAt = now
	q.jobs[dedupeID] = job
	return nil
}

func (q *memQueue) Requeue(ctx context.Context, job domain.ReplicationJob) error {
	current, ok := q.jobs[job.DedupeID]
	if !ok || current.Status != domain.JobRunning {
		return zserrors.ErrJobNotClaimable
	}
	job.Status = domain.JobQueued
	q.jobs[job.DedupeID] = job
	return nil
}

// fakeClock advances only when told to, so backoff windows are test-driven.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
