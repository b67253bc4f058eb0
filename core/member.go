package torzip

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/romset/core/internal/file"
	"github.com/meigma/romset/core/internal/sizing"
)

// Compression methods understood by the reader. The writer only emits
// MethodDeflate.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
)

const (
	memberBufSize   = 64 << 10
	discardChunkLen = 1 << 20
)

// MemberInfo locates a member's payload inside its container.
type MemberInfo struct {
	Name           string
	Method         uint16
	DataOffset     int64
	CompressedSize uint64
	Size           uint64
	CRC32          uint32
}

// MemberReader gives a compressed member logical seek and tell on top of a
// forward-only decompressor.
//
// The reader captures a checkpoint at construction: the start of the
// compressed data, the initial running CRC, and the compressed and
// uncompressed lengths. Forward seeks decode and discard. Backward seeks
// outside the current buffer restore the checkpoint, reinitialize the
// decompressor, and decode forward from zero. No random access into the
// compressed stream is assumed.
//
// MemberReader is not safe for concurrent use, including ReadAt.
type MemberReader struct {
	src        io.ReaderAt
	info       MemberInfo
	compressed int64

	raw      *io.SectionReader
	inflater io.ReadCloser
	dec      io.Reader

	crc  uint32
	left uint64
	buf  []byte
	off  int

	scratch []byte
}

// NewMemberReader returns a MemberReader over the member described by info.
// The running CRC is checked against info.CRC32 when the last byte is decoded.
func NewMemberReader(src io.ReaderAt, info MemberInfo) (*MemberReader, error) {
	if info.Method != MethodStore && info.Method != MethodDeflate {
		return nil, fmt.Errorf("%w: %d (%s)", ErrUnsupportedMethod, info.Method, info.Name)
	}
	compressed, err := sizing.ToInt64(info.CompressedSize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	if _, err := sizing.ToInt64(info.Size, ErrSizeOverflow); err != nil {
		return nil, err
	}
	m := &MemberReader{
		src:        src,
		info:       info,
		compressed: compressed,
		buf:        make([]byte, 0, memberBufSize),
	}
	m.reset()
	return m, nil
}

// reset restores the checkpoint captured at construction.
func (m *MemberReader) reset() {
	m.raw = io.NewSectionReader(m.src, m.info.DataOffset, m.compressed)
	if m.info.Method == MethodDeflate {
		if m.inflater == nil {
			m.inflater = flate.NewReader(m.raw)
		} else if rs, ok := m.inflater.(flate.Resetter); ok {
			_ = rs.Reset(m.raw, nil) //nolint:errcheck // Reset only fails for preset dictionaries
		}
		m.dec = m.inflater
	} else {
		m.dec = m.raw
	}
	m.crc = 0
	m.left = m.info.Size
	m.buf = m.buf[:0]
	m.off = 0
}

// fill decodes the next chunk into the internal buffer.
func (m *MemberReader) fill() error {
	if m.left == 0 {
		return io.EOF
	}
	n := cap(m.buf)
	if uint64(n) > m.left {
		n = int(m.left) //nolint:gosec // bounded by cap(m.buf)
	}
	m.buf = m.buf[:n]
	got, err := io.ReadFull(m.dec, m.buf)
	m.buf = m.buf[:got]
	m.off = 0
	m.crc = crc32.Update(m.crc, crc32.IEEETable, m.buf)
	m.left -= uint64(got) //nolint:gosec // io.ReadFull never returns a negative count
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("member %s: %w", m.info.Name, io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("member %s: %w", m.info.Name, err)
	}
	if m.left == 0 && m.crc != m.info.CRC32 {
		return fmt.Errorf("member %s: %w: got %08x, want %08x", m.info.Name, ErrChecksum, m.crc, m.info.CRC32)
	}
	return nil
}

// Read implements io.Reader.
func (m *MemberReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if m.off >= len(m.buf) {
		if err := m.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, m.buf[m.off:])
	m.off += n
	return n, nil
}

// Tell returns the current logical offset in the uncompressed stream.
func (m *MemberReader) Tell() int64 {
	//nolint:gosec // sizes were checked against MaxInt64 at construction
	return int64(m.info.Size-m.left) - int64(len(m.buf)) + int64(m.off)
}

// Seek implements io.Seeker. Offsets past the end are clamped to the member
// size.
func (m *MemberReader) Seek(offset int64, whence int) (int64, error) {
	cur := m.Tell()
	size := int64(m.info.Size) //nolint:gosec // checked at construction
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = cur + offset
	case io.SeekEnd:
		target = size + offset
	default:
		return cur, fmt.Errorf("member %s: invalid whence %d", m.info.Name, whence)
	}
	if target < 0 {
		return cur, fmt.Errorf("member %s: negative position %d", m.info.Name, target)
	}
	if target > size {
		target = size
	}

	delta := target - cur
	if pos := int64(m.off) + delta; pos >= 0 && pos <= int64(len(m.buf)) {
		m.off = int(pos)
		return target, nil
	}
	if delta < 0 {
		m.reset()
		delta = target
	}
	if m.scratch == nil {
		m.scratch = make([]byte, discardChunkLen)
	}
	if err := file.Discard(m, uint64(delta), m.scratch); err != nil {
		return m.Tell(), err
	}
	return m.Tell(), nil
}

// ReadAt implements io.ReaderAt by seeking and reading. It moves the
// reader's position.
func (m *MemberReader) ReadAt(p []byte, off int64) (int, error) {
	if _, err := m.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(m, p)
	if errors.Is(err, io.ErrUnexpectedEOF) && off+int64(n) >= m.Size() {
		err = io.EOF
	}
	return n, err
}

// Size returns the uncompressed member size.
func (m *MemberReader) Size() int64 {
	return int64(m.info.Size) //nolint:gosec // checked at construction
}

// Info returns the member description the reader was built from.
func (m *MemberReader) Info() MemberInfo {
	return m.info
}

// Close releases the decompressor.
func (m *MemberReader) Close() error {
	if m.inflater != nil {
		return m.inflater.Close()
	}
	return nil
}
