package torzip

import (
	"context"
	"fmt"
	"io"

	"github.com/meigma/romset/core/internal/file"
)

// Fingerprint identifies content by CRC32 and length. Collisions are a known
// and accepted risk.
type Fingerprint struct {
	CRC32 uint32
	Size  uint64
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%08x:%d", f.CRC32, f.Size)
}

// FingerprintReader computes the fingerprint of everything r yields.
func FingerprintReader(ctx context.Context, r io.Reader) (Fingerprint, error) {
	cr := file.NewCRCReader(r)
	n, err := file.CopyWithContext(ctx, io.Discard, cr, make([]byte, 256<<10))
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{CRC32: cr.Sum32(), Size: n}, nil
}
