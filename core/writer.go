package torzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/romset/core/internal/file"
	"github.com/meigma/romset/core/internal/record"
	"github.com/meigma/romset/core/internal/sizing"
)

// Canonical field values shared by every record the writer emits.
const (
	canonicalVersion uint16 = 20
	canonicalFlags   uint16 = 2
	canonicalTime    uint16 = 0xBC00
	canonicalDate    uint16 = 0x2198

	// CommentPrefix starts the identity comment of a canonical container.
	CommentPrefix = "TORRENTZIPPED-"

	// CommentLen is the exact length of the identity comment.
	CommentLen = 22

	// compressionLevel is the single deflate configuration used for output.
	compressionLevel = flate.BestCompression

	copyChunkLen = 4 << 20
	tailLen      = record.EndLen + CommentLen
	maxEntries   = 0xFFFF
)

// ErrDuplicateName is returned when two members would share a name.
var ErrDuplicateName = errors.New("torzip: duplicate member name")

// Source is one member to be written. When Open is nil the member is
// written as Size NUL bytes; otherwise the content is read from Open until
// EOF and Size is ignored.
type Source struct {
	Name string
	Size uint64
	Open func() (io.ReadCloser, error)
}

// Writer produces canonical containers. A Writer reuses its deflate encoder
// and copy buffer across members and is not safe for concurrent use.
//
// Output is byte-identical for identical inputs across runs of the same
// compressor build. The level 9 encoder of klauspost/compress does not emit
// the same deflate stream as zlib at level 9, so containers are not
// byte-identical to those written by zlib-based tools that use the same
// identity comment, although both pass Validate and CheckIdentity.
type Writer struct {
	logger *slog.Logger
	fw     *flate.Writer
	buf    []byte
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the logger for write operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter creates a Writer with the given options.
func NewWriter(opts ...WriterOption) *Writer {
	w := &Writer{}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Writer) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.logger
}

func (w *Writer) init() error {
	if w.fw == nil {
		fw, err := flate.NewWriter(io.Discard, compressionLevel)
		if err != nil {
			return fmt.Errorf("create deflate encoder: %w", err)
		}
		w.fw = fw
		w.buf = make([]byte, copyChunkLen)
	}
	return nil
}

// Write writes a fresh canonical container holding members, in order, to
// dst starting at offset zero. It returns the entries as written.
//
// Each member is preceded by a placeholder local record. Once the payload
// has been streamed through the deflate encoder the placeholder is
// rewritten in place with the final sizes and CRC32, so dst must support
// seeking back over bytes already written.
func (w *Writer) Write(ctx context.Context, dst io.WriteSeeker, members []Source) ([]Entry, error) {
	if err := w.init(); err != nil {
		return nil, err
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	s := &session{w: w, dst: dst, names: make(map[string]struct{})}
	return s.run(ctx, members)
}

// Append adds members to the end of the existing canonical container in f.
// The catalog directory is recovered from the trailing end record, new
// members overwrite the old directory, and a new directory and end record
// are written after them. An empty f is treated as a fresh container.
func (w *Writer) Append(ctx context.Context, f io.ReadWriteSeeker, members []Source) ([]Entry, error) {
	if err := w.init(); err != nil {
		return nil, err
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return w.Write(ctx, f, members)
	}

	end, dir, err := readCanonicalTail(readerAtFor(f), size)
	if err != nil {
		return nil, err
	}
	s := &session{w: w, dst: f, names: make(map[string]struct{})}
	if err := s.restore(dir); err != nil {
		return nil, err
	}
	if s.count != int(end.EntriesTotal) {
		return nil, fmt.Errorf("%w: directory holds %d records, end record declares %d", ErrNotCanonical, s.count, end.EntriesTotal)
	}
	s.offset = uint64(end.DirectoryOffset)
	if _, err := f.Seek(int64(end.DirectoryOffset), io.SeekStart); err != nil {
		return nil, err
	}
	w.log().Debug("appending to canonical container", "existing", s.count, "new", len(members))
	return s.run(ctx, members)
}

// CheckIdentity verifies that the size-byte container in r ends with a
// canonical end record whose identity comment matches the CRC32 of its
// catalog directory.
func CheckIdentity(r io.ReaderAt, size int64) error {
	_, _, err := readCanonicalTail(r, size)
	return err
}

// IdentityComment returns the identity comment for a catalog directory.
func IdentityComment(dir []byte) string {
	return fmt.Sprintf("%s%08X", CommentPrefix, crc32.ChecksumIEEE(dir))
}

// session tracks one pass of writing members plus the trailing directory.
type session struct {
	w       *Writer
	dst     io.WriteSeeker
	offset  uint64
	dir     []byte
	count   int
	names   map[string]struct{}
	entries []Entry
}

func (s *session) run(ctx context.Context, members []Source) ([]Entry, error) {
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.member(ctx, m); err != nil {
			return nil, fmt.Errorf("write %s: %w", m.Name, err)
		}
	}
	if err := s.finish(); err != nil {
		return nil, err
	}
	return s.entries, nil
}

// restore loads the records of an existing catalog directory.
func (s *session) restore(dir []byte) error {
	r := bytes.NewReader(dir)
	var sig [4]byte
	for r.Len() > 0 {
		if _, err := io.ReadFull(r, sig[:]); err != nil {
			return fmt.Errorf("%w: truncated catalog directory", ErrNotCanonical)
		}
		if binary.LittleEndian.Uint32(sig[:]) != record.SigDirectory {
			return fmt.Errorf("%w: unexpected record in catalog directory", ErrNotCanonical)
		}
		d, err := record.ReadDirectory(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotCanonical, err)
		}
		if d.CommentLen != 0 || len(d.Extra) != 0 {
			return fmt.Errorf("%w: directory record %q carries extra data", ErrNotCanonical, d.Name)
		}
		name := string(d.Name)
		s.names[name] = struct{}{}
		s.entries = append(s.entries, Entry{
			Name:           name,
			CompressedSize: d.CompressedSize,
			Size:           d.Size,
			CRC32:          d.CRC32,
			HeaderOffset:   d.HeaderOffset,
		})
		s.count++
	}
	s.dir = append(s.dir[:0], dir...)
	return nil
}

func (s *session) member(ctx context.Context, m Source) error {
	if m.Name == "" {
		return errors.New("empty member name")
	}
	if len(m.Name) > 0xFFFF {
		return ErrSizeOverflow
	}
	if _, dup := s.names[m.Name]; dup {
		return ErrDuplicateName
	}
	s.names[m.Name] = struct{}{}

	headerPos := s.offset
	local := record.Local{
		VersionNeeded: canonicalVersion,
		Flags:         canonicalFlags,
		Method:        MethodDeflate,
		ModTime:       canonicalTime,
		ModDate:       canonicalDate,
		Name:          []byte(m.Name),
	}
	header := local.Append(nil)
	if _, err := s.dst.Write(header); err != nil {
		return err
	}

	src, closeSrc, err := openSource(m)
	if err != nil {
		return err
	}
	cr := file.NewCRCReader(src)
	counted := &file.CountingReader{R: cr}
	out := &file.CountingWriter{W: s.dst}
	s.w.fw.Reset(out)
	if _, err := file.CopyWithContext(ctx, s.w.fw, counted, s.w.buf); err != nil {
		closeSrc()
		return err
	}
	closeSrc()
	if err := s.w.fw.Close(); err != nil {
		return fmt.Errorf("close deflate encoder: %w", err)
	}

	next, ok := sizing.AddUint64(headerPos+uint64(len(header)), out.N)
	if !ok || !sizing.Fits32(counted.N, out.N, headerPos) {
		return ErrSizeOverflow
	}
	local.CRC32 = cr.Sum32()
	local.Size = counted.N
	local.CompressedSize = out.N

	// Patch the placeholder now that sizes and CRC are known.
	if _, err := s.dst.Seek(int64(headerPos), io.SeekStart); err != nil { //nolint:gosec // fits 32 bits
		return err
	}
	if _, err := s.dst.Write(local.Append(header[:0])); err != nil {
		return err
	}
	if _, err := s.dst.Seek(int64(next), io.SeekStart); err != nil { //nolint:gosec // fits 32 bits
		return err
	}

	s.dir = record.Directory{
		VersionNeeded:  canonicalVersion,
		Flags:          canonicalFlags,
		Method:         MethodDeflate,
		ModTime:        canonicalTime,
		ModDate:        canonicalDate,
		CRC32:          local.CRC32,
		CompressedSize: local.CompressedSize,
		Size:           local.Size,
		HeaderOffset:   headerPos,
		Name:           local.Name,
	}.Append(s.dir)
	s.count++
	s.offset = next
	s.entries = append(s.entries, Entry{
		Name:           m.Name,
		CompressedSize: local.CompressedSize,
		Size:           local.Size,
		CRC32:          local.CRC32,
		HeaderOffset:   headerPos,
	})
	s.w.log().Debug("member written", "member", m.Name, "size", local.Size, "compressed", local.CompressedSize)
	return nil
}

func (s *session) finish() error {
	if s.count > maxEntries {
		return fmt.Errorf("%w: %d entries", ErrSizeOverflow, s.count)
	}
	dirSize := uint64(len(s.dir))
	if !sizing.Fits32(s.offset, dirSize) {
		return ErrSizeOverflow
	}
	end := record.End{
		EntriesThisDisk: uint16(s.count), //nolint:gosec // checked against maxEntries
		EntriesTotal:    uint16(s.count), //nolint:gosec // checked against maxEntries
		DirectorySize:   uint32(dirSize),  //nolint:gosec // checked by Fits32
		DirectoryOffset: uint32(s.offset), //nolint:gosec // checked by Fits32
		Comment:         []byte(IdentityComment(s.dir)),
	}
	if _, err := s.dst.Write(s.dir); err != nil {
		return err
	}
	if _, err := s.dst.Write(end.Append(nil)); err != nil {
		return err
	}
	// An append can leave stale bytes past the new end only if the file was
	// not canonical to begin with; truncate so the end record is last.
	if t, ok := s.dst.(interface{ Truncate(int64) error }); ok {
		total := int64(s.offset + dirSize + tailLen) //nolint:gosec // checked by Fits32
		if err := t.Truncate(total); err != nil {
			return err
		}
	}
	return nil
}

func openSource(m Source) (io.Reader, func(), error) {
	if m.Open == nil {
		return file.Zeros(m.Size), func() {}, nil
	}
	rc, err := m.Open()
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { _ = rc.Close() }, nil
}

// readCanonicalTail reads and checks the trailing end record of a canonical
// container and returns it with the catalog directory bytes.
func readCanonicalTail(r io.ReaderAt, size int64) (record.End, []byte, error) {
	if size < tailLen {
		return record.End{}, nil, fmt.Errorf("%w: %d bytes is too short", ErrNotCanonical, size)
	}
	tail := make([]byte, tailLen)
	if _, err := r.ReadAt(tail, size-tailLen); err != nil && !errors.Is(err, io.EOF) {
		return record.End{}, nil, err
	}
	if binary.LittleEndian.Uint32(tail) != record.SigEnd {
		return record.End{}, nil, fmt.Errorf("%w: no end record with identity comment", ErrNotCanonical)
	}
	end := record.DecodeEnd(tail[4:record.EndLen])
	if n := binary.LittleEndian.Uint16(tail[record.EndLen-2:]); n != CommentLen {
		return record.End{}, nil, fmt.Errorf("%w: comment length %d", ErrNotCanonical, n)
	}
	end.Comment = tail[record.EndLen:]
	if !bytes.HasPrefix(end.Comment, []byte(CommentPrefix)) {
		return record.End{}, nil, fmt.Errorf("%w: missing identity comment", ErrNotCanonical)
	}
	if int64(end.DirectoryOffset)+int64(end.DirectorySize)+tailLen != size {
		return record.End{}, nil, fmt.Errorf("%w: catalog directory does not end at the end record", ErrNotCanonical)
	}
	dir := make([]byte, end.DirectorySize)
	if _, err := r.ReadAt(dir, int64(end.DirectoryOffset)); err != nil && !errors.Is(err, io.EOF) {
		return record.End{}, nil, err
	}
	if want := IdentityComment(dir); want != string(end.Comment) {
		return record.End{}, nil, fmt.Errorf("%w: identity comment %q, want %q", ErrNotCanonical, end.Comment, want)
	}
	return end, dir, nil
}

// readerAtFor adapts a seeker to io.ReaderAt when it does not already
// implement it. The adapter moves the seek position.
func readerAtFor(rs io.ReadSeeker) io.ReaderAt {
	if ra, ok := rs.(io.ReaderAt); ok {
		return ra
	}
	return seekReaderAt{rs}
}

type seekReaderAt struct {
	rs io.ReadSeeker
}

func (s seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.rs, p)
}
