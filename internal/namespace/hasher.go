// Package namespace resolves the collision-prone logical bucket namespace
// into unique, naming-rule compliant physical bucket names.
//
// Every tenant may reuse any logical bucket name, but backends require
// globally unique bucket names. The hasher derives a deterministic name from
// the identity tuple (tenant, region, logical name, backend, attempt) so that
// retries and audits always reproduce the same result, and bumps the attempt
// counter when a name collides with an existing reservation.
package namespace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	log "github.com/sirupsen/logrus"

	zserrors "github.com/zonesync/zonesync/internal/errors"
)

const (
	// hashPrefixLength is the number of hex digits taken from the digest.
	// 64 bits keeps collisions negligible at realistic bucket counts while
	// leaving room for the namespace prefix and backend suffix.
	hashPrefixLength = 16

	delimiter = ":"

	// DefaultMaxAttempts bounds collision retries before giving up.
	DefaultMaxAttempts = 8
)

// UniquenessChecker answers whether a physical name is already reserved on a
// backend. The metadata store provides the production implementation.
type UniquenessChecker interface {
	PhysicalNameExists(ctx context.Context, backendID, physicalName string) (bool, error)
}

// Hasher composes physical bucket names as "<prefix>-<hash>-<backend suffix>".
type Hasher struct {
	prefix      string
	maxAttempts int
}

// NewHasher creates a Hasher with the given namespace prefix. The prefix is
// sanitized so operator configuration cannot produce illegal names.
func NewHasher(prefix string) *Hasher {
	p := SanitizeLabel(prefix)
	if p == "" {
		p = "zs"
	}
	return &Hasher{
		prefix:      p,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Resolve deterministically derives the physical name for one attempt.
// It is pure: identical inputs always produce identical output.
func (h *Hasher) Resolve(tenantID, regionID, logicalName, backendID string, attempt int) (string, error) {
	identity := tenantID + delimiter + regionID + delimiter + logicalName + delimiter + backendID + delimiter + fmt.Sprintf("%d", attempt)
	digest := sha256.Sum256([]byte(identity))
	hashPrefix := hex.EncodeToString(digest[:])[:hashPrefixLength]

	suffix := SanitizeLabel(backendID)
	name := h.prefix + "-" + hashPrefix
	if suffix != "" {
		name += "-" + suffix
	}

	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}

	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ResolveUnique finds the first attempt whose name passes the naming rules
// and is not already reserved on the backend. Exhausting all attempts is a
// fatal ErrNamespaceExhausted, never a silent retry-forever.
func (h *Hasher) ResolveUnique(ctx context.Context, checker UniquenessChecker, tenantID, regionID, logicalName, backendID string) (string, error) {
	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		name, err := h.Resolve(tenantID, regionID, logicalName, backendID, attempt)
		if err != nil {
			log.Debugf("attempt %d produced invalid name for %s/%s: %v", attempt, tenantID, logicalName, err)
			continue
		}

		exists, err := checker.PhysicalNameExists(ctx, backendID, name)
		if err != nil {
			return "", fmt.Errorf("uniqueness check failed for %q: %w", name, err)
		}
		if !exists {
			return name, nil
		}
		log.Debugf("physical name %s already reserved on %s, retrying with attempt %d", name, backendID, attempt+1)
	}

	return "", fmt.Errorf("%w: %s/%s on backend %s after %d attempts",
		zserrors.ErrNamespaceExhausted, tenantID, logicalName, backendID, h.maxAttempts)
}
