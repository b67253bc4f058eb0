package romset

import (
	"errors"

	torzip "github.com/meigma/romset/core"
)

// Errors re-exported from core.
var (
	// ErrMalformed is matched by every container validation failure.
	ErrMalformed = torzip.ErrMalformed

	// ErrChecksum is returned when member content does not match its CRC32.
	ErrChecksum = torzip.ErrChecksum

	// ErrSizeOverflow is returned when a set does not fit the canonical encoding.
	ErrSizeOverflow = torzip.ErrSizeOverflow

	// ErrNotCanonical is returned when appending to a container that is not canonical.
	ErrNotCanonical = torzip.ErrNotCanonical
)

var (
	// ErrFingerprintMismatch is returned when a source yields content whose
	// size or CRC32 differs from the rom it was resolved for.
	ErrFingerprintMismatch = errors.New("romset: source content does not match rom fingerprint")

	// ErrInvalidSetName is returned when a set name cannot be used as a file name
	// inside the destination directory.
	ErrInvalidSetName = errors.New("romset: invalid set name")

	// ErrInvalidManifest is returned when a binary manifest cannot be decoded.
	ErrInvalidManifest = errors.New("romset: invalid manifest")
)
