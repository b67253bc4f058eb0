package torzip

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/meigma/romset/core/internal/record"
)

// Entry is a member confirmed by cross-validating its local record against
// its catalog-directory record.
type Entry struct {
	Name           string
	CompressedSize uint64
	Size           uint64
	CRC32          uint32
	HeaderOffset   uint64
}

// Fingerprint returns the entry's content fingerprint.
func (e Entry) Fingerprint() Fingerprint {
	return Fingerprint{CRC32: e.CRC32, Size: e.Size}
}

// Validate reports whether r holds a well-formed, single-volume,
// non-streaming container. It returns nil on success and a *MalformedError
// otherwise. Reading starts at offset zero regardless of r's position.
func Validate(r io.ReadSeeker) error {
	_, err := Inspect(r)
	return err
}

// IsValid is a convenience wrapper that discards the failure reason.
func IsValid(r io.ReadSeeker) bool {
	return Validate(r) == nil
}

// Inspect validates r like Validate and returns the confirmed entries in
// catalog-directory order.
func Inspect(r io.ReadSeeker) ([]Entry, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	v := &validator{
		r:       &offsetReader{r: r},
		pending: make(map[string]pendingEntry),
	}
	return v.run()
}

type pendingEntry struct {
	size           uint64
	compressedSize uint64
	crc32          uint32
	headerOffset   int64
}

// validator is the record state machine. Local records populate pending;
// catalog-directory records move entries from pending to confirmed; the end
// record is the only accepting state.
type validator struct {
	r         *offsetReader
	pending   map[string]pendingEntry
	confirmed []Entry

	dirStart int64
	dirEnd   int64
	inDir    bool

	zip64 *record.Zip64End
}

func (v *validator) run() ([]Entry, error) {
	var sig [4]byte
	for {
		pos := v.r.off
		if _, err := io.ReadFull(v.r, sig[:]); err != nil {
			return nil, malformed(pos, "unexpected end of data reading record signature")
		}
		var err error
		switch binary.LittleEndian.Uint32(sig[:]) {
		case record.SigLocal:
			err = v.local(pos)
		case record.SigDirectory:
			err = v.directory(pos)
		case record.SigEnd:
			return v.end(pos)
		case record.SigZip64End:
			err = v.zip64End(pos)
		case record.SigZip64Locator:
			err = v.skip(pos, record.Zip64LocatorLen-4, "zip64 end locator")
		default:
			return nil, malformed(pos, "invalid record signature %x", sig)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (v *validator) local(pos int64) error {
	if v.inDir {
		return malformed(pos, "local file record found after catalog directory")
	}
	l, err := record.ReadLocal(v.r)
	if err != nil {
		return malformed(pos, "truncated local file record: %v", err)
	}
	switch {
	case l.Flags&record.FlagDataDescriptor != 0:
		return malformed(pos, "data descriptor (streaming) records are not supported")
	case l.Flags&record.FlagEncrypted != 0 && l.Flags&record.FlagStrongEncryption != 0:
		return malformed(pos, "strong encryption is not supported")
	case l.Flags&record.FlagMaskedHeader != 0:
		return malformed(pos, "encryption masking is not supported")
	case len(l.Name) == 0:
		return malformed(pos, "local file record has no name")
	}
	name := string(l.Name)
	if _, dup := v.pending[name]; dup {
		return malformed(pos, "duplicate file name %q", name)
	}
	if err := record.ResolveZip64(l.Extra, &l.Size, &l.CompressedSize, nil); err != nil {
		return malformed(pos, "local file record %q: %v", name, err)
	}
	v.pending[name] = pendingEntry{
		size:           l.Size,
		compressedSize: l.CompressedSize,
		crc32:          l.CRC32,
		headerOffset:   pos,
	}
	return v.advance(pos, l.CompressedSize)
}

func (v *validator) directory(pos int64) error {
	if !v.inDir {
		v.inDir = true
		v.dirStart = pos
	}
	d, err := record.ReadDirectory(v.r)
	if err != nil {
		return malformed(pos, "truncated catalog directory record: %v", err)
	}
	name := string(d.Name)
	p, ok := v.pending[name]
	if !ok {
		return malformed(pos, "catalog directory name %q has no local file record", name)
	}
	if err := record.ResolveZip64(d.Extra, &d.Size, &d.CompressedSize, &d.HeaderOffset); err != nil {
		return malformed(pos, "catalog directory record %q: %v", name, err)
	}
	switch {
	case p.size != d.Size:
		return malformed(pos, "file %q size %d does not match %d", name, p.size, d.Size)
	case p.compressedSize != d.CompressedSize:
		return malformed(pos, "file %q compressed size %d does not match %d", name, p.compressedSize, d.CompressedSize)
	case p.crc32 != d.CRC32:
		return malformed(pos, "file %q crc32 %08x does not match %08x", name, p.crc32, d.CRC32)
	}
	delete(v.pending, name)
	v.confirmed = append(v.confirmed, Entry{
		Name:           name,
		CompressedSize: d.CompressedSize,
		Size:           d.Size,
		CRC32:          d.CRC32,
		HeaderOffset:   uint64(p.headerOffset), //nolint:gosec // offsets are non-negative
	})
	if err := v.advance(pos, uint64(d.CommentLen)); err != nil {
		return err
	}
	v.dirEnd = v.r.off
	return nil
}

func (v *validator) end(pos int64) ([]Entry, error) {
	if len(v.pending) != 0 {
		return nil, malformed(pos, "%d local file records have no catalog directory entry", len(v.pending))
	}
	var b [record.EndLen - 4]byte
	if _, err := io.ReadFull(v.r, b[:]); err != nil {
		return nil, malformed(pos, "truncated end record: %v", err)
	}
	e := record.DecodeEnd(b[:])
	count := uint64(e.EntriesTotal)
	size := uint64(e.DirectorySize)
	if v.zip64 != nil {
		if e.EntriesTotal == record.Sentinel16 {
			count = v.zip64.EntriesTotal
		}
		if e.DirectorySize == record.Sentinel32 {
			size = v.zip64.DirectorySize
		}
	}
	if got := uint64(len(v.confirmed)); got != count {
		return nil, malformed(pos, "file count %d does not match end record %d", got, count)
	}
	if got := uint64(v.dirEnd - v.dirStart); got != size { //nolint:gosec // dirEnd >= dirStart
		return nil, malformed(pos, "catalog directory length %d does not match end record %d", got, size)
	}
	return v.confirmed, nil
}

func (v *validator) zip64End(pos int64) error {
	z, err := record.ReadZip64End(v.r)
	if err != nil {
		return malformed(pos, "truncated zip64 end record: %v", err)
	}
	v.zip64 = &z
	return nil
}

func (v *validator) skip(pos int64, n uint64, what string) error {
	if err := v.r.skip(n); err != nil {
		return malformed(pos, "truncated %s: %v", what, err)
	}
	return nil
}

func (v *validator) advance(pos int64, n uint64) error {
	if err := v.r.skip(n); err != nil {
		return malformed(pos, "cannot advance %d bytes: %v", n, err)
	}
	return nil
}

// offsetReader tracks the absolute offset of an io.ReadSeeker so record
// positions are known without issuing Seek calls for every read.
type offsetReader struct {
	r   io.ReadSeeker
	off int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.r.Read(p)
	o.off += int64(n)
	return n, err
}

func (o *offsetReader) skip(n uint64) error {
	if n == 0 {
		return nil
	}
	if n > 1<<62 {
		return errSkipTooLarge
	}
	off, err := o.r.Seek(int64(n), io.SeekCurrent)
	if err != nil {
		return err
	}
	o.off = off
	return nil
}

var errSkipTooLarge = errors.New("skip exceeds addressable range")
