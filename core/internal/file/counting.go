// Package file holds the byte-stream plumbing shared by the container reader
// and writer: counting wrappers, CRC accumulation, and NUL padding sources.
package file

import (
	"errors"
	"hash"
	"hash/crc32"
	"io"
)

// ErrOverflow indicates a counter exceeded its maximum value.
var ErrOverflow = errors.New("counter overflow")

// CountingReader wraps a reader and counts bytes read.
type CountingReader struct {
	R io.Reader
	N uint64
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.R.Read(p)
	if n > 0 {
		//nolint:gosec // n is guaranteed non-negative by io.Reader contract
		if cr.N > ^uint64(0)-uint64(n) {
			return n, ErrOverflow
		}
		cr.N += uint64(n) //nolint:gosec // overflow checked above
	}
	return n, err
}

// CountingWriter wraps a writer and counts bytes written.
type CountingWriter struct {
	W io.Writer
	N uint64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	if n > 0 {
		//nolint:gosec // n is guaranteed non-negative by io.Writer contract
		if cw.N > ^uint64(0)-uint64(n) {
			return n, ErrOverflow
		}
		cw.N += uint64(n) //nolint:gosec // overflow checked above
	}
	return n, err
}

// CRCReader accumulates an IEEE CRC32 over every byte read through it.
type CRCReader struct {
	r io.Reader
	h hash.Hash32
}

// NewCRCReader wraps r.
func NewCRCReader(r io.Reader) *CRCReader {
	return &CRCReader{r: r, h: crc32.NewIEEE()}
}

// Read implements io.Reader.
func (c *CRCReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		_, _ = c.h.Write(p[:n])
	}
	return n, err
}

// Sum32 returns the CRC32 of the bytes read so far.
func (c *CRCReader) Sum32() uint32 {
	return c.h.Sum32()
}

// Zeros returns a reader yielding exactly n NUL bytes.
func Zeros(n uint64) io.Reader {
	return &zeroReader{left: n}
}

type zeroReader struct {
	left uint64
}

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.left == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > z.left {
		p = p[:z.left]
	}
	clear(p)
	z.left -= uint64(len(p))
	return len(p), nil
}
