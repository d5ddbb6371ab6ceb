package manifest

import "errors"

// Error kinds named in the error-handling design: BadMagic/BadVersion are
// fatal open failures; PartialRecord/CRCMismatch/DecodeError stop replay at
// the last good offset without failing the open; InvariantViolation means
// the manifest is logically corrupt even though its bytes decoded cleanly.
var (
	ErrBadMagic           = errors.New("manifest: bad magic")
	ErrBadVersion         = errors.New("manifest: unsupported version")
	ErrPartialRecord      = errors.New("manifest: partial record")
	ErrCRCMismatch        = errors.New("manifest: crc mismatch")
	ErrDecodeError        = errors.New("manifest: decode error")
	ErrInvariantViolation = errors.New("manifest: invariant violation")
)
