// Package testutil provides in-memory stand-ins for files used by the
// container tests.
package testutil

import (
	"errors"
	"io"
	"sync"
)

// Buffer is an in-memory file supporting read, write, seek, ReadAt and
// Truncate. Writes past the end zero-fill the gap.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	pos  int64
}

// NewBuffer returns a Buffer holding a copy of data, positioned at zero.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: append([]byte(nil), data...)}
}

// Bytes returns the buffer contents. The slice aliases internal storage.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// ReadAt implements io.ReaderAt.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if off < 0 {
		return 0, errors.New("testutil: negative offset")
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = b.pos + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return b.pos, errors.New("testutil: invalid whence")
	}
	if next < 0 {
		return b.pos, errors.New("testutil: negative position")
	}
	b.pos = next
	return next, nil
}

// Truncate changes the buffer length.
func (b *Buffer) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size < 0 {
		return errors.New("testutil: negative size")
	}
	if size <= int64(len(b.data)) {
		b.data = b.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// SeqWriteSeeker wraps a Buffer and hides ReadAt and Truncate so callers see
// only io.WriteSeeker.
type SeqWriteSeeker struct {
	B *Buffer
}

// Write implements io.Writer.
func (s SeqWriteSeeker) Write(p []byte) (int, error) { return s.B.Write(p) }

// Seek implements io.Seeker.
func (s SeqWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	return s.B.Seek(offset, whence)
}

// ErrInjected is returned by FailingReader.
var ErrInjected = errors.New("testutil: injected failure")

// FailingReader yields N bytes of 'x' and then ErrInjected.
type FailingReader struct {
	N int
}

// Read implements io.Reader.
func (f *FailingReader) Read(p []byte) (int, error) {
	if f.N <= 0 {
		return 0, ErrInjected
	}
	n := min(len(p), f.N)
	for i := range n {
		p[i] = 'x'
	}
	f.N -= n
	return n, nil
}

// Close implements io.Closer.
func (f *FailingReader) Close() error { return nil }
