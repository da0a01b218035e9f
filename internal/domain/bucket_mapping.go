package domain

import "time"

// MappingStatus tracks the lifecycle of a logical bucket mapping.
type MappingStatus string

const (
	MappingActive   MappingStatus = "active"
	MappingRetiring MappingStatus = "retiring"
	MappingDeleted  MappingStatus = "deleted"
)

// BackendEntry records one physical bucket placement on a backend.
type BackendEntry struct {
	PhysicalName string `json:"physical_name" dynamodbav:"physical_name"`
	ZoneCode     string `json:"zone_code" dynamodbav:"zone_code"`
	Retired      bool   `json:"retired,omitempty" dynamodbav:"retired,omitempty"`
}

// BucketMapping - representation of one logical bucket for one tenant.
// (tenant_id, logical_name) is the primary key; physical names inside
// BackendMapping are globally unique per backend across all tenants.
type BucketMapping struct {
	TenantID    string `json:"tenant_id" dynamodbav:"tenant_id"`       // Partition Key
	LogicalName string `json:"logical_name" dynamodbav:"logical_name"` // Sort Key
	RegionID    string `json:"region_id" dynamodbav:"region_id"`
	// LocationConstraint is kept verbatim so the LocationPolicy can be
	// recomputed from it and the catalog at any time.
	LocationConstraint  string                  `json:"location_constraint" dynamodbav:"location_constraint"`
	DefaultReplicaCount int                     `json:"default_replica_count" dynamodbav:"default_replica_count"`
	BackendMapping      map[string]BackendEntry `json:"backend_mapping" dynamodbav:"backend_mapping"` // backend_id -> entry
	Status              MappingStatus           `json:"status" dynamodbav:"status"`
	CreatedAt           time.Time               `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at" dynamodbav:"updated_at"`
}

// Ref returns the canonical bucket reference used to key replica state and jobs.
func (m *BucketMapping) Ref() string {
	return m.TenantID + "#" + m.LogicalName
}
