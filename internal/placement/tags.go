package placement

import (
	"fmt"
	"strconv"
	"strings"

	zserrors "github.com/zonesync/zonesync/internal/errors"
	"github.com/zonesync/zonesync/internal/namespace"
)

// Management tags applied to every physical bucket the engine creates, so
// operators can discover managed buckets through provider tagging APIs.
const (
	ManagedTagKey = "zonesync-managed"
	ManagedTagVal = "true"
	TenantTagKey  = "zonesync-tenant"
)

// ManagementTags returns the tag set for a tenant's physical buckets.
func ManagementTags(tenantID string) map[string]string {
	return map[string]string{
		ManagedTagKey: ManagedTagVal,
		TenantTagKey:  namespace.SanitizeLabel(tenantID),
	}
}

// Tag set limits, matching what S3 enforces on object tag sets.
const (
	MaxTagsPerSet = 10
	MaxTagKeyLen  = 128
	MaxTagValLen  = 256
)

// replicaTagKeys are the recognized replica-count tag synonyms in priority
// order. The first present key wins so a tag set carrying several synonyms is
// never ambiguous.
var replicaTagKeys = []string{
	"replica-count",
	"replica_count",
	"replication-count",
	"replicas",
	"x-replica-count",
}

// ValidateTagSet enforces the size limits on a tag set before any tag-driven
// resolution runs.
func ValidateTagSet(tags map[string]string) error {
	if len(tags) > MaxTagsPerSet {
		return fmt.Errorf("tag set has %d tags, maximum is %d", len(tags), MaxTagsPerSet)
	}
	for k, v := range tags {
		if k == "" {
			return zserrors.TagValidationError(k, "key must not be empty")
		}
		if len(k) > MaxTagKeyLen {
			return zserrors.TagValidationError(k, fmt.Sprintf("key exceeds %d characters", MaxTagKeyLen))
		}
		if len(v) > MaxTagValLen {
			return zserrors.TagValidationError(k, fmt.Sprintf("value exceeds %d characters", MaxTagValLen))
		}
	}
	return nil
}

// ExtractReplicaCount pulls a desired replica count from a tag set. Keys are
// matched case-insensitively. The boolean reports whether any recognized tag
// was present; absence is "no override", not an error. A present tag with a
// non-numeric or non-positive value is a validation error.
func ExtractReplicaCount(tags map[string]string) (int, bool, error) {
	lowered := make(map[string]string, len(tags))
	for k, v := range tags {
		lowered[strings.ToLower(k)] = v
	}

	for _, key := range replicaTagKeys {
		value, ok := lowered[key]
		if !ok {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || count < 1 {
			return 0, true, fmt.Errorf("%w: %s=%q", zserrors.ErrInvalidReplicaTag, key, value)
		}
		return count, true, nil
	}

	return 0, false, nil
}
