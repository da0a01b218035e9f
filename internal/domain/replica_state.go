package domain

import "time"

// SyncStatus describes how far an object's actual placement is from policy.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSyncing  SyncStatus = "syncing"
	SyncComplete SyncStatus = "complete"
	SyncFailed   SyncStatus = "failed"
	SyncPartial  SyncStatus = "partial"
)

// ObjectReplicaState - one row per (tenant, bucket, object key, version).
// The primary zone is never listed in ReplicaZones.
type ObjectReplicaState struct {
	BucketRef            string     `json:"bucket_ref" dynamodbav:"bucket_ref"` // Partition Key: tenant#logical
	ObjectKey            string     `json:"object_key" dynamodbav:"object_key"` // Sort Key: key#version
	Version              string     `json:"version,omitempty" dynamodbav:"version,omitempty"`
	PrimaryZoneCode      string     `json:"primary_zone_code" dynamodbav:"primary_zone_code"`
	ReplicaZones         []string   `json:"replica_zones" dynamodbav:"replica_zones"`
	RequiredReplicaCount int        `json:"required_replica_count" dynamodbav:"required_replica_count"`
	CurrentReplicaCount  int        `json:"current_replica_count" dynamodbav:"current_replica_count"`
	SyncStatus           SyncStatus `json:"sync_status" dynamodbav:"sync_status"`
	ETag                 string     `json:"etag,omitempty" dynamodbav:"etag,omitempty"`
	Size                 int64      `json:"size,omitempty" dynamodbav:"size,omitempty"`
	DeleteMarker         bool       `json:"delete_marker,omitempty" dynamodbav:"delete_marker,omitempty"`
	LastSyncAttempt      time.Time  `json:"last_sync_attempt,omitempty" dynamodbav:"last_sync_attempt,omitempty"`
	SyncErrorMessage     string     `json:"sync_error_message,omitempty" dynamodbav:"sync_error_message,omitempty"`
}

// Zones returns the full set of zones holding a copy, primary first.
func (s *ObjectReplicaState) Zones() []string {
	zones := make([]string, 0, 1+len(s.ReplicaZones))
	zones = append(zones, s.PrimaryZoneCode)
	zones = append(zones, s.ReplicaZones...)
	return zones
}

// HasZone reports whether zone already holds a copy of the object.
func (s *ObjectReplicaState) HasZone(zone string) bool {
	if zone == s.PrimaryZoneCode {
		return true
	}
	for _, z := range s.ReplicaZones {
		if z == zone {
			return true
		}
	}
	return false
}

// RecomputeSyncStatus derives SyncStatus from the replica counts.
func (s *ObjectReplicaState) RecomputeSyncStatus() {
	switch {
	case s.CurrentReplicaCount >= s.RequiredReplicaCount:
		s.SyncStatus = SyncComplete
	case s.CurrentReplicaCount > 1:
		s.SyncStatus = SyncPartial
	default:
		s.SyncStatus = SyncPending
	}
}
