package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
	"github.com/zonesync/zonesync/internal/repository/objectstore"
)

// mockMappingRepo is an in-memory MappingRepository. reserveFunc, when set,
// intercepts reservations to simulate races.
type mockMappingRepo struct {
	mappings     map[string]domain.BucketMapping
	reservations map[string]bool
	reserveFunc  func(backendID, name string) (bool, error)
}

func newMockMappingRepo() *mockMappingRepo {
	return &mockMappingRepo{
		mappings:     make(map[string]domain.BucketMapping),
		reservations: make(map[string]bool),
	}
}

func (m *mockMappingRepo) PutMapping(ctx context.Context, mapping domain.BucketMapping) (domain.BucketMapping, error) {
	mapping.UpdatedAt = time.Now().UTC()
	m.mappings[mapping.Ref()] = mapping
	return mapping, nil
}

func (m *mockMappingRepo) GetMapping(ctx context.Context, tenantID, logicalName string) (domain.BucketMapping, error) {
	mapping, ok := m.mappings[tenantID+"#"+logicalName]
	if !ok {
		return domain.BucketMapping{}, zserrors.ErrMappingNotFound
	}
	return mapping, nil
}

func (m *mockMappingRepo) ListMappings(ctx context.Context) ([]domain.BucketMapping, error) {
	refs := make([]string, 0, len(m.mappings))
	for ref := range m.mappings {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	out := make([]domain.BucketMapping, 0, len(refs))
	for _, ref := range refs {
		out = append(out, m.mappings[ref])
	}
	return out, nil
}

func (m *mockMappingRepo) ReservePhysicalName(ctx context.Context, backendID, physicalName string) (bool, error) {
	if m.reserveFunc != nil {
		return m.reserveFunc(backendID, physicalName)
	}
	key := backendID + "/" + physicalName
	if m.reservations[key] {
		return false, nil
	}
	m.reservations[key] = true
	return true, nil
}

func (m *mockMappingRepo) PhysicalNameExists(ctx context.Context, backendID, physicalName string) (bool, error) {
	return m.reservations[backendID+"/"+physicalName], nil
}

// mockStateRepo is an in-memory ReplicaStateRepository.
type mockStateRepo struct {
	states map[string]domain.ObjectReplicaState
}

func newMockStateRepo() *mockStateRepo {
	return &mockStateRepo{states: make(map[string]domain.ObjectReplicaState)}
}

func stateKey(bucketRef, objectKey, version string) string {
	return bucketRef + "#" + objectKey + "#" + version
}

func (m *mockStateRepo) PutState(ctx context.Context, state domain.ObjectReplicaState) (domain.ObjectReplicaState, error) {
	m.states[stateKey(state.BucketRef, state.ObjectKey, state.Version)] = state
	return state, nil
}

func (m *mockStateRepo) GetState(ctx context.Context, bucketRef, objectKey, version string) (domain.ObjectReplicaState, error) {
	state, ok := m.states[stateKey(bucketRef, objectKey, version)]
	if !ok {
		return domain.ObjectReplicaState{}, zserrors.ErrReplicaStateNotFound
	}
	return state, nil
}

func (m *mockStateRepo) ListStatesByBucket(ctx context.Context, bucketRef string) ([]domain.ObjectReplicaState, error) {
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

// mockJobRepo is an in-memory JobRepository with the dedupe semantics of the
// production table: one non-terminal job per dedupe id.
type mockJobRepo struct {
	jobs        map[string]domain.ReplicationJob
	purgeCalls  []time.Time
	enqueueErrs int
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[string]domain.ReplicationJob)}
}

func (m *mockJobRepo) Enqueue(ctx context.Context, job domain.ReplicationJob) error {
	if existing, ok := m.jobs[job.DedupeID]; ok && !existing.Status.Terminal() {
		m.enqueueErrs++
		return zserrors.ErrDuplicateJob
	}
	m.jobs[job.DedupeID] = job
	return nil
}

func (m *mockJobRepo) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ReplicationJob, error) {
	var out []domain.ReplicationJob
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockJobRepo) GetByJobID(ctx context.Context, jobID string) (domain.ReplicationJob, error) {
	for _, job := range m.jobs {
		if job.JobID == jobID {
			return job, nil
		}
	}
	return domain.ReplicationJob{}, zserrors.ErrJobNotFound
}

func (m *mockJobRepo) Cancel(ctx context.Context, jobID string) error {
	for dedupeID, job := range m.jobs {
		if job.JobID != jobID {
			continue
		}
		if job.Status != domain.JobQueued {
			return zserrors.ErrJobNotClaimable
		}
		job.Status = domain.JobCancelled
		m.jobs[dedupeID] = job
		return nil
	}
	return zserrors.ErrJobNotFound
}

func (m *mockJobRepo) PurgeTerminal(ctx context.Context, before time.Time) error {
	m.purgeCalls = append(m.purgeCalls, before)
	return nil
}

func (m *mockJobRepo) byType(jobType domain.JobType) []domain.ReplicationJob {
	var out []domain.ReplicationJob
	for _, job := range m.jobs {
		if job.JobType == jobType {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DedupeID < out[j].DedupeID })
	return out
}

// mockBackends maps zone codes to backend ids and hands out fake backends
// that record bucket creation.
type mockBackends struct {
	zones map[string]string
	fakes map[string]*fakeBackend
}

func (m *mockBackends) BackendIDForZone(zoneCode string) (string, error) {
	id, ok := m.zones[zoneCode]
	if !ok {
		return "", fmt.Errorf("no backend registered for zone: %s", zoneCode)
	}
	return id, nil
}

func (m *mockBackends) BackendForZone(zoneCode string) (objectstore.Backend, error) {
	id, err := m.BackendIDForZone(zoneCode)
	if err != nil {
		return nil, err
	}
	if m.fakes == nil {
		m.fakes = make(map[string]*fakeBackend)
	}
	backend, ok := m.fakes[id]
	if !ok {
		backend = &fakeBackend{id: id, created: make(map[string]map[string]string)}
		m.fakes[id] = backend
	}
	return backend, nil
}

// fakeBackend records the physical buckets created through it, keyed by
// bucket name with the tags they were created with.
type fakeBackend struct {
	id      string
	created map[string]map[string]string
}

func (b *fakeBackend) ID() string { return b.id }

func (b *fakeBackend) Repository(bucketName string) objectstore.ObjectRepository {
	return &fakeRepository{backend: b, bucket: bucketName}
}

type fakeRepository struct {
	backend *fakeBackend
	bucket  string
}

func (r *fakeRepository) Upload(ctx context.Context, key string, reader io.Reader, quiet bool) (string, error) {
	return r.bucket + "/" + key, nil
}

func (r *fakeRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (r *fakeRepository) Delete(ctx context.Context, key string) error { return nil }

func (r *fakeRepository) DeletePrefix(ctx context.Context, prefix string) error { return nil }

func (r *fakeRepository) Head(ctx context.Context, key string) (objectstore.ObjectInfo, error) {
	return objectstore.ObjectInfo{}, nil
}

func (r *fakeRepository) CreateBucket(ctx context.Context, tags map[string]string) error {
	r.backend.created[r.bucket] = tags
	return nil
}

func (r *fakeRepository) DeleteBucket(ctx context.Context) error {
	delete(r.backend.created, r.bucket)
	return nil
}

func (r *fakeRepository) GetBucketName() string { return r.bucket }

func (r *fakeRepository) GetStorageType() string { return "fake" }
