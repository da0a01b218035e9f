package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/zonesync/zonesync/internal/domain"
)

var testPolicy = domain.LocationPolicy{
	PrimaryZone: domain.Zone{Code: "fi-hel-1", Region: "fi", Country: "FI"},
	CandidateZones: []domain.Zone{
		{Code: "fi-hel-1", Region: "fi", Country: "FI"},
		{Code: "de-fra-1", Region: "de", Country: "DE"},
		{Code: "fr-par-1", Region: "fr", Country: "FR"},
	},
	CrossBorderAllowed: true,
}

// newTestEngine pins the clock and job id generation so job sets compare
// deterministically across runs.
func newTestEngine(opts ...Option) *Engine {
	var seq int
	e := NewEngine(append(opts, WithClock(func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}))...)
	e.newJobID = func() string {
		seq++
		return fmt.Sprintf("job-%04d", seq)
	}
	return e
}

func objectState(key string, replicas ...string) *domain.ObjectReplicaState {
	return &domain.ObjectReplicaState{
		BucketRef:           "tenant-a#photos",
		ObjectKey:           key,
		PrimaryZoneCode:     "fi-hel-1",
		ReplicaZones:        replicas,
		CurrentReplicaCount: 1 + len(replicas),
	}
}

func jobSummaries(jobs []domain.ReplicationJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = fmt.Sprintf("%s:%s:%d", j.JobType, j.TargetZone, j.Priority)
	}
	return out
}

func equalSummaries(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestReconcileObject(t *testing.T) {
	tests := []struct {
		name         string
		state        *domain.ObjectReplicaState
		desiredCount int
		want         []string // JobType:TargetZone:Priority
	}{
		{
			name:         "satisfied placement emits nothing",
			state:        objectState("a.jpg", "de-fra-1"),
			desiredCount: 2,
			want:         nil,
		},
		{
			name:         "single deficit at base priority",
			state:        objectState("a.jpg"),
			desiredCount: 2,
			want:         []string{"ADD_REPLICA:de-fra-1:5"},
		},
		{
			name:         "larger deficit raises urgency per missing replica",
			state:        objectState("a.jpg"),
			desiredCount: 3,
			want:         []string{"ADD_REPLICA:de-fra-1:4", "ADD_REPLICA:fr-par-1:4"},
		},
		{
			name:         "excess replica removed",
			state:        objectState("a.jpg", "de-fra-1", "fr-par-1"),
			desiredCount: 2,
			want:         []string{"REMOVE_REPLICA:fr-par-1:8"},
		},
		{
			name:         "replica outside policy swapped for candidate",
			state:        objectState("a.jpg", "sg-sin-1"),
			desiredCount: 2,
			want:         []string{"ADD_REPLICA:de-fra-1:5", "REMOVE_REPLICA:sg-sin-1:8"},
		},
		{
			name: "primary never removed even when off-policy",
			state: &domain.ObjectReplicaState{
				BucketRef:           "tenant-a#photos",
				ObjectKey:           "a.jpg",
				PrimaryZoneCode:     "us-east-1",
				ReplicaZones:        []string{"fi-hel-1"},
				CurrentReplicaCount: 2,
			},
			desiredCount: 1,
			want:         nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine()
			jobs := engine.ReconcileObject(tt.state, testPolicy, tt.desiredCount)
			if got := jobSummaries(jobs); !equalSummaries(got, tt.want) {
				t.Errorf("ReconcileObject() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconcileObject_JobFields(t *testing.T) {
	engine := newTestEngine()
	state := objectState("a.jpg")
	state.Version = "v1"

	jobs := engine.ReconcileObject(state, testPolicy, 2)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	job := jobs[0]
	if job.Status != domain.JobQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
	if job.SourceZone != "fi-hel-1" {
		t.Errorf("source zone = %s, want primary fi-hel-1", job.SourceZone)
	}
	if job.MaxRetries != DefaultMaxRetries {
		t.Errorf("max retries = %d, want %d", job.MaxRetries, DefaultMaxRetries)
	}
	if job.JobID == "" || job.DedupeID == "" {
		t.Error("job id and dedupe id must be set")
	}
	wantDedupe := "tenant-a#photos#a.jpg#de-fra-1#ADD_REPLICA"
	if job.DedupeID != wantDedupe {
		t.Errorf("dedupe id = %s, want %s", job.DedupeID, wantDedupe)
	}
	if job.ScheduledAt.IsZero() || job.CreatedAt.IsZero() {
		t.Error("scheduling timestamps must be set")
	}
}

func TestReconcileObject_Deterministic(t *testing.T) {
	state := objectState("a.jpg", "sg-sin-1")

	first := jobSummaries(newTestEngine().ReconcileObject(state, testPolicy, 3))
	for i := 0; i < 50; i++ {
		again := jobSummaries(newTestEngine().ReconcileObject(state, testPolicy, 3))
		if !equalSummaries(again, first) {
			t.Fatalf("run %d produced %v, first run produced %v", i, again, first)
		}
	}
}

func TestReconcileObject_FixedPoint(t *testing.T) {
	engine := newTestEngine()
	state := objectState("a.jpg")

	jobs := engine.ReconcileObject(state, testPolicy, 3)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	// Apply the jobs to the state as the worker would.
	for _, job := range jobs {
		state.ReplicaZones = append(state.ReplicaZones, job.TargetZone)
		state.CurrentReplicaCount++
	}

	if again := engine.ReconcileObject(state, testPolicy, 3); len(again) != 0 {
		t.Errorf("converged state still produced %d jobs: %v", len(again), jobSummaries(again))
	}
}

func TestReconcileBucket_BulkThreshold(t *testing.T) {
	tests := []struct {
		name        string
		objects     int
		wantRemoves []string
	}{
		{
			name:    "above threshold collapses into bulk delete",
			objects: 11,
			wantRemoves: []string{
				"DELETE_BUCKET_REPLICA:de-fra-1:8",
				"CLEANUP_EMPTY_BUCKET:de-fra-1:9",
			},
		},
		{
			name:    "at threshold stays per-object",
			objects: 10,
			wantRemoves: []string{
				"REMOVE_REPLICA:de-fra-1:8", "REMOVE_REPLICA:de-fra-1:8",
				"REMOVE_REPLICA:de-fra-1:8", "REMOVE_REPLICA:de-fra-1:8",
				"REMOVE_REPLICA:de-fra-1:8", "REMOVE_REPLICA:de-fra-1:8",
				"REMOVE_REPLICA:de-fra-1:8", "REMOVE_REPLICA:de-fra-1:8",
				"REMOVE_REPLICA:de-fra-1:8", "REMOVE_REPLICA:de-fra-1:8",
				"CLEANUP_EMPTY_BUCKET:de-fra-1:9",
			},
		},
		{
			name:    "three objects stay per-object",
			objects: 3,
			wantRemoves: []string{
				"REMOVE_REPLICA:de-fra-1:8", "REMOVE_REPLICA:de-fra-1:8",
				"REMOVE_REPLICA:de-fra-1:8",
				"CLEANUP_EMPTY_BUCKET:de-fra-1:9",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine()

			states := make([]*domain.ObjectReplicaState, tt.objects)
			for i := range states {
				states[i] = objectState(fmt.Sprintf("obj-%03d.jpg", i), "de-fra-1")
			}

			// Policy shrinks to the primary zone only, so every replica in
			// de-fra-1 must leave.
			jobs := engine.ReconcileBucket("tenant-a#photos", states, testPolicy, 1)
			if got := jobSummaries(jobs); !equalSummaries(got, tt.wantRemoves) {
				t.Errorf("ReconcileBucket() = %v, want %v", got, tt.wantRemoves)
			}
		})
	}
}

func TestReconcileBucket_CustomThreshold(t *testing.T) {
	engine := newTestEngine(WithBulkDeleteThreshold(2))

	states := []*domain.ObjectReplicaState{
		objectState("a.jpg", "de-fra-1"),
		objectState("b.jpg", "de-fra-1"),
		objectState("c.jpg", "de-fra-1"),
	}

	jobs := engine.ReconcileBucket("tenant-a#photos", states, testPolicy, 1)
	want := []string{
		"DELETE_BUCKET_REPLICA:de-fra-1:8",
		"CLEANUP_EMPTY_BUCKET:de-fra-1:9",
	}
	if got := jobSummaries(jobs); !equalSummaries(got, want) {
		t.Errorf("ReconcileBucket() = %v, want %v", got, want)
	}
}

func TestReconcileBucket_BulkSkippedWhenZoneHostsAPrimary(t *testing.T) {
	engine := newTestEngine()

	// Eleven objects must drop their de-fra-1 replicas, which alone would
	// cross the bulk threshold. legacy.jpg was written under an older catalog
	// default and has its primary copy in de-fra-1, so a bulk delete of that
	// zone would destroy it.
	states := make([]*domain.ObjectReplicaState, 0, 12)
	for i := 0; i < 11; i++ {
		states = append(states, objectState(fmt.Sprintf("obj-%03d.jpg", i), "de-fra-1"))
	}
	states = append(states, &domain.ObjectReplicaState{
		BucketRef:           "tenant-a#photos",
		ObjectKey:           "legacy.jpg",
		PrimaryZoneCode:     "de-fra-1",
		CurrentReplicaCount: 1,
	})

	jobs := engine.ReconcileBucket("tenant-a#photos", states, testPolicy, 1)

	for _, job := range jobs {
		if job.JobType == domain.JobDeleteBucketReplica {
			t.Fatalf("bulk delete emitted for %s, which hosts legacy.jpg's primary copy", job.TargetZone)
		}
		if job.JobType == domain.JobCleanupEmptyBucket {
			t.Fatalf("cleanup emitted for %s while it still hosts a primary copy", job.TargetZone)
		}
	}

	removes := 0
	for _, job := range jobs {
		if job.JobType == domain.JobRemoveReplica {
			if job.TargetZone != "de-fra-1" {
				t.Errorf("removal targets %s, want de-fra-1", job.TargetZone)
			}
			if job.ObjectKey == "legacy.jpg" {
				t.Error("removal emitted for legacy.jpg's primary copy")
			}
			removes++
		}
	}
	if removes != 11 {
		t.Errorf("per-object removals = %d, want 11", removes)
	}
}

func TestReconcileBucket_NoCleanupWhileZoneStillHosts(t *testing.T) {
	engine := newTestEngine()

	// b.jpg keeps its de-fra-1 replica under the policy, so the zone is not
	// drained and no cleanup job may be emitted.
	states := []*domain.ObjectReplicaState{
		objectState("a.jpg", "de-fra-1", "fr-par-1"),
		objectState("b.jpg", "de-fra-1"),
	}

	jobs := engine.ReconcileBucket("tenant-a#photos", states, testPolicy, 2)
	want := []string{"REMOVE_REPLICA:fr-par-1:8", "CLEANUP_EMPTY_BUCKET:fr-par-1:9"}
	if got := jobSummaries(jobs); !equalSummaries(got, want) {
		t.Errorf("ReconcileBucket() = %v, want %v", got, want)
	}
}

func TestReconcileBucket_MixedAddAndRemove(t *testing.T) {
	engine := newTestEngine()

	states := []*domain.ObjectReplicaState{
		objectState("a.jpg"),             // needs de-fra-1
		objectState("b.jpg", "sg-sin-1"), // needs de-fra-1, loses sg-sin-1
	}

	jobs := engine.ReconcileBucket("tenant-a#photos", states, testPolicy, 2)
	want := []string{
		"ADD_REPLICA:de-fra-1:5",
		"ADD_REPLICA:de-fra-1:5",
		"REMOVE_REPLICA:sg-sin-1:8",
		"CLEANUP_EMPTY_BUCKET:sg-sin-1:9",
	}
	if got := jobSummaries(jobs); !equalSummaries(got, want) {
		t.Errorf("ReconcileBucket() = %v, want %v", got, want)
	}
}

func TestVerifyJob(t *testing.T) {
	engine := newTestEngine()
	state := objectState("a.jpg", "de-fra-1")

	job := engine.VerifyJob(state, "de-fra-1")
	if job.JobType != domain.JobVerify {
		t.Errorf("job type = %s, want VERIFY", job.JobType)
	}
	if job.Priority != domain.PriorityLowest {
		t.Errorf("priority = %d, verify must be lowest urgency %d", job.Priority, domain.PriorityLowest)
	}
	if job.TargetZone != "de-fra-1" || job.SourceZone != "fi-hel-1" {
		t.Errorf("zones = %s -> %s, want fi-hel-1 -> de-fra-1", job.SourceZone, job.TargetZone)
	}
}

func TestManualJob_DedupeMatchesEngineJobs(t *testing.T) {
	engine := newTestEngine()

	manual := engine.ManualJob(domain.JobAddReplica, "tenant-a#photos", "a.jpg", "", "fi-hel-1", "de-fra-1", 3)
	generated := engine.ReconcileObject(objectState("a.jpg"), testPolicy, 2)

	if len(generated) != 1 {
		t.Fatalf("expected 1 generated job, got %d", len(generated))
	}
	if manual.DedupeID != generated[0].DedupeID {
		t.Errorf("manual dedupe %s != generated dedupe %s; manual jobs must collide with engine jobs",
			manual.DedupeID, generated[0].DedupeID)
	}
	if manual.Priority != 3 {
		t.Errorf("priority = %d, want caller-supplied 3", manual.Priority)
	}
}

func TestAddPriority(t *testing.T) {
	tests := []struct {
		desired int
		current int
		want    int
	}{
		{2, 1, 5},  // deficit 1
		{3, 1, 4},  // deficit 2
		{5, 1, 2},  // deficit 4
		{10, 1, 1}, // clamped at highest
		{1, 3, 5},  // surplus clamps deficit to 1
	}
	for _, tt := range tests {
		if got := addPriority(tt.desired, tt.current); got != tt.want {
			t.Errorf("addPriority(%d, %d) = %d, want %d", tt.desired, tt.current, got, tt.want)
		}
	}
}
