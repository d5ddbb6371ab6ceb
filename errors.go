package ldb

import "errors"

// Sentinel errors returned across the public package boundary, following
// the teacher's convention of package-level errors.New values compared with
// errors.Is rather than typed error structs. engine.go's translateErr wraps
// the internal packages' own sentinels into these at every exported entry
// point, so callers never need to import internal/arena or
// internal/manifest just to compare errors.
//
// internal/manifest's ErrPartialRecord/ErrCRCMismatch/ErrDecodeError have no
// counterpart here: by design (section 7's error policy) those never leave
// replay — a torn or corrupt tail stops replay at the last good offset and
// is not reported as an open failure — so there is nothing for a public
// sentinel to translate.
var (
	// ErrCapacityExhausted is returned when an arena has no room left for an
	// allocation of the requested size. The memtable layer should rotate to
	// a fresh MemTable when it sees this.
	ErrCapacityExhausted = errors.New("ldb: arena capacity exhausted")

	// ErrBadMagic is returned when a MANIFEST file does not begin with the
	// expected magic bytes.
	ErrBadMagic = errors.New("ldb: bad manifest magic")

	// ErrBadVersion is returned when a MANIFEST file's version field does
	// not match the version this build understands.
	ErrBadVersion = errors.New("ldb: bad manifest version")

	// ErrInvariantViolation is returned when a change set would violate the
	// manifest's bookkeeping invariants (duplicate create, delete of an
	// absent or misplaced table).
	ErrInvariantViolation = errors.New("ldb: manifest invariant violation")
)
