package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented               = errors.New("this function is not yet implemented")
	ErrNamespaceExhausted           = errors.New("exhausted attempts to generate a unique physical bucket name")
	ErrReplicaCountExceedsLocations = errors.New("requested replica count exceeds available candidate zones")
	ErrInvalidReplicaTag            = errors.New("replica count tag value is not a valid positive integer")
	ErrDuplicateJob                 = errors.New("a non-terminal job already exists for this target")
	ErrJobNotClaimable              = errors.New("job is not in a claimable state")
	ErrMappingNotFound              = errors.New("bucket mapping not found")
	ErrMappingRetiring              = errors.New("bucket mapping is retiring or deleted")
	ErrReplicaStateNotFound         = errors.New("object replica state not found")
	ErrJobNotFound                  = errors.New("replication job not found")
	ErrEmptyConstraint              = errors.New("location constraint must name at least one region or zone")

	// ErrPermanent marks backend failures that must not be retried
	// (auth denied, a resource genuinely absent that must pre-exist).
	ErrPermanent = errors.New("permanent backend error")
)

// UnknownLocationError reports an unrecognized region or zone token in a
// location constraint.
func UnknownLocationError(token string) error {
	return fmt.Errorf("unknown region or zone %q in location constraint", token)
}

// TagValidationError reports a tag set that violates the size limits.
func TagValidationError(key, reason string) error {
	return fmt.Errorf("invalid tag %q: %s", key, reason)
}

func ConfigNotSetError(config string) error {
	return fmt.Errorf("The %s environment variable must be set", config)
}

// Permanent wraps err so the worker retry path treats it as non-recoverable.
func Permanent(err error) error {
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// IsPermanent reports whether err is marked non-recoverable.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
