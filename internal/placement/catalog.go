// Package placement turns declared location policy into concrete zone
// placement decisions.
//
// It owns the region/zone catalog, the LocationConstraint grammar, the
// replica-count tag extraction, and the registry that maps zone codes onto
// backend storage repositories.
package placement

import (
	"sort"

	"github.com/zonesync/zonesync/internal/domain"
)

// builtinZones is the static catalog of known zones. Config may merge
// additional zones over these.
var builtinZones = []domain.Zone{
	{Code: "fi-hel-1", Region: "fi", Country: "FI", Default: true},
	{Code: "fi-hel-2", Region: "fi", Country: "FI"},
	{Code: "de-fra-1", Region: "de", Country: "DE", Default: true},
	{Code: "de-ber-1", Region: "de", Country: "DE"},
	{Code: "fr-par-1", Region: "fr", Country: "FR", Default: true},
	{Code: "nl-ams-1", Region: "nl", Country: "NL", Default: true},
	{Code: "se-sto-1", Region: "se", Country: "SE", Default: true},
	{Code: "us-east-1", Region: "us-east", Country: "US", Default: true},
	{Code: "us-west-1", Region: "us-west", Country: "US", Default: true},
	{Code: "sg-sin-1", Region: "sg", Country: "SG", Default: true},
}

// Catalog resolves region and zone codes to zones. Read-only after
// construction, safe for concurrent use.
type Catalog struct {
	zones          map[string]domain.Zone
	regionDefaults map[string]domain.Zone
}

// NewCatalog builds the catalog from the built-in zones plus any extras.
// An extra zone with an existing code replaces the built-in definition.
func NewCatalog(extra ...domain.Zone) *Catalog {
	c := &Catalog{
		zones:          make(map[string]domain.Zone),
		regionDefaults: make(map[string]domain.Zone),
	}
	for _, z := range builtinZones {
		c.add(z)
	}
	for _, z := range extra {
		c.add(z)
	}
	return c
}

func (c *Catalog) add(z domain.Zone) {
	c.zones[z.Code] = z
	if z.Default {
		c.regionDefaults[z.Region] = z
	}
}

// Lookup resolves a constraint token, which may be a region code (resolving
// to the region's default zone) or an explicit zone code.
func (c *Catalog) Lookup(token string) (domain.Zone, bool) {
	if z, ok := c.zones[token]; ok {
		return z, true
	}
	if z, ok := c.regionDefaults[token]; ok {
		return z, true
	}
	return domain.Zone{}, false
}

// Zone resolves an exact zone code only.
func (c *Catalog) Zone(code string) (domain.Zone, bool) {
	z, ok := c.zones[code]
	return z, ok
}

// ZoneCodes returns all known zone codes, sorted.
func (c *Catalog) ZoneCodes() []string {
	codes := make([]string, 0, len(c.zones))
	for code := range c.zones {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
