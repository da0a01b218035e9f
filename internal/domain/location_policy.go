package domain

// Zone is an addressable (provider, region) pair capable of hosting a
// physical bucket.
type Zone struct {
	Code    string `json:"code"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Default bool   `json:"default,omitempty"` // default zone for its region
}

// LocationPolicy is derived from a location constraint string and the zone
// catalog; it is recomputed on demand, never persisted verbatim.
type LocationPolicy struct {
	PrimaryZone        Zone
	CandidateZones     []Zone // ordered, primary first
	CrossBorderAllowed bool
}

// ZoneCodes returns the candidate zone codes in priority order.
func (p *LocationPolicy) ZoneCodes() []string {
	codes := make([]string, len(p.CandidateZones))
	for i, z := range p.CandidateZones {
		codes[i] = z.Code
	}
	return codes
}

// DesiredZones returns the first count candidate zone codes.
func (p *LocationPolicy) DesiredZones(count int) []string {
	if count > len(p.CandidateZones) {
		count = len(p.CandidateZones)
	}
	return p.ZoneCodes()[:count]
}
