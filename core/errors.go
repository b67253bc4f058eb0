package torzip

import (
	"errors"
	"fmt"
)

// Sentinel errors for container operations.
var (
	// ErrMalformed is matched by every validation failure.
	ErrMalformed = errors.New("torzip: malformed container")

	// ErrChecksum is returned when member content does not match its CRC32.
	ErrChecksum = errors.New("torzip: crc32 mismatch")

	// ErrSizeOverflow is returned when a size or count does not fit the
	// canonical encoding.
	ErrSizeOverflow = errors.New("torzip: size overflow")

	// ErrUnsupportedMethod is returned when a member uses a compression
	// method other than store or deflate.
	ErrUnsupportedMethod = errors.New("torzip: unsupported compression method")

	// ErrNotCanonical is returned when an existing container lacks the
	// canonical end record required for in-place append.
	ErrNotCanonical = errors.New("torzip: container is not canonical")

	// ErrNotFound is returned when a named member does not exist.
	ErrNotFound = errors.New("torzip: member not found")
)

// MalformedError describes why a byte stream was rejected as a container.
type MalformedError struct {
	// Reason is a human-readable description of the failed check.
	Reason string

	// Offset is the byte offset of the record that failed.
	Offset int64
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("torzip: malformed container at offset %d: %s", e.Offset, e.Reason)
}

// Is reports whether target is ErrMalformed.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func malformed(offset int64, format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...), Offset: offset}
}
