package namespace

import (
	"fmt"
	"net"
	"strings"
)

// Physical bucket naming rules, the intersection of what S3 and GCS accept:
// 3-63 chars of lowercase alphanumerics, hyphens and periods, no leading or
// trailing hyphen/period, no consecutive periods, not an IP literal, and none
// of the provider-reserved prefixes or suffixes.

const (
	minNameLength = 3
	maxNameLength = 63
)

var reservedPrefixes = []string{"xn--", "sthree-", "amzn-s3-demo-", "goog"}

var reservedSuffixes = []string{"-s3alias", "--ol-s3", "--x-s3", "--table-s3"}

// ValidateName reports why name is not a legal physical bucket name, or nil.
func ValidateName(name string) error {
	if len(name) < minNameLength || len(name) > maxNameLength {
		return fmt.Errorf("name %q must be between %d and %d characters", name, minNameLength, maxNameLength)
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '.' {
			continue
		}
		return fmt.Errorf("name %q contains illegal character %q", name, c)
	}

	if name[0] == '-' || name[0] == '.' {
		return fmt.Errorf("name %q must not start with a hyphen or period", name)
	}
	if name[len(name)-1] == '-' || name[len(name)-1] == '.' {
		return fmt.Errorf("name %q must not end with a hyphen or period", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("name %q must not contain consecutive periods", name)
	}
	if net.ParseIP(name) != nil {
		return fmt.Errorf("name %q must not be an IP address literal", name)
	}

	for _, p := range reservedPrefixes {
		if strings.HasPrefix(name, p) {
			return fmt.Errorf("name %q uses reserved prefix %q", name, p)
		}
	}
	for _, s := range reservedSuffixes {
		if strings.HasSuffix(name, s) {
			return fmt.Errorf("name %q uses reserved suffix %q", name, s)
		}
	}

	return nil
}

// SanitizeLabel lowers a free-form identifier into a naming-rule safe label
// usable as a name component. Characters outside [a-z0-9] become hyphens;
// runs of hyphens collapse.
func SanitizeLabel(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
