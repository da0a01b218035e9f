package placement

import (
	"fmt"
	"strings"

	"github.com/zonesync/zonesync/internal/domain"
	zserrors "github.com/zonesync/zonesync/internal/errors"
)

// PolicyResolver parses LocationConstraint strings against the zone catalog.
type PolicyResolver struct {
	catalog *Catalog
}

// NewPolicyResolver creates a resolver over the given catalog.
func NewPolicyResolver(catalog *Catalog) *PolicyResolver {
	return &PolicyResolver{catalog: catalog}
}

// Resolve parses a comma-separated, ordered location constraint into a
// LocationPolicy. Each token is a region code (resolving to that region's
// default zone) or an explicit zone code; the first token is the primary.
// Tokens are deduplicated preserving order.
//
// requestedReplicaCount below 1 is lifted to 1; a count above the number of
// candidate zones is an error rather than a silent truncation, because
// truncating would quietly violate the caller's stated durability
// expectation.
func (r *PolicyResolver) Resolve(constraint string, requestedReplicaCount int) (domain.LocationPolicy, error) {
	tokens := splitConstraint(constraint)
	if len(tokens) == 0 {
		return domain.LocationPolicy{}, zserrors.ErrEmptyConstraint
	}

	seen := make(map[string]bool)
	candidates := make([]domain.Zone, 0, len(tokens))
	countries := make(map[string]bool)

	for _, token := range tokens {
		zone, ok := r.catalog.Lookup(token)
		if !ok {
			return domain.LocationPolicy{}, zserrors.UnknownLocationError(token)
		}
		if seen[zone.Code] {
			continue
		}
		seen[zone.Code] = true
		candidates = append(candidates, zone)
		countries[zone.Country] = true
	}

	if requestedReplicaCount < 1 {
		requestedReplicaCount = 1
	}
	if requestedReplicaCount > len(candidates) {
		return domain.LocationPolicy{}, fmt.Errorf("%w: requested %d, only %d candidate zones",
			zserrors.ErrReplicaCountExceedsLocations, requestedReplicaCount, len(candidates))
	}

	return domain.LocationPolicy{
		PrimaryZone:        candidates[0],
		CandidateZones:     candidates,
		CrossBorderAllowed: len(countries) > 1,
	}, nil
}

// ClampReplicaCount bounds a desired count into [1, len(candidate zones)].
// Used for counts the engine derives itself (never for caller requests,
// which must error instead).
func ClampReplicaCount(count int, policy domain.LocationPolicy) int {
	if count < 1 {
		return 1
	}
	if max := len(policy.CandidateZones); count > max {
		return max
	}
	return count
}

func splitConstraint(constraint string) []string {
	parts := strings.Split(constraint, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
