// Package record implements the fixed-layout records of the container wire
// format. All integers are little-endian and every field is decoded at its
// exact on-disk width.
package record

import (
	"encoding/binary"
	"errors"
	"io"
)

// Record signatures.
const (
	SigLocal        uint32 = 0x04034b50
	SigDirectory    uint32 = 0x02014b50
	SigEnd          uint32 = 0x06054b50
	SigZip64End     uint32 = 0x06064b50
	SigZip64Locator uint32 = 0x07064b50
)

// Encoded lengths of the fixed portion of each record, signature included.
const (
	LocalLen        = 30
	DirectoryLen    = 46
	EndLen          = 22
	Zip64LocatorLen = 20
	zip64EndMinLen  = 56
)

// General purpose flag bits.
const (
	FlagEncrypted        uint16 = 1 << 0
	FlagDataDescriptor   uint16 = 1 << 3
	FlagStrongEncryption uint16 = 1 << 6
	FlagMaskedHeader     uint16 = 1 << 13
)

// Sentinel32 marks a 32-bit size or offset field whose real value lives in
// the ZIP64 extended information extra field.
const Sentinel32 = 0xFFFFFFFF

// Sentinel16 marks a 16-bit count field whose real value lives in the ZIP64
// end record.
const Sentinel16 = 0xFFFF

const zip64ExtraID uint16 = 0x0001

// ErrZip64ExtraMissing is returned when a sentinel size has no matching
// ZIP64 extended information field.
var ErrZip64ExtraMissing = errors.New("zip64 extended data not found")

// Local is a local file record. The signature is not part of the struct.
type Local struct {
	VersionNeeded  uint16
	Flags          uint16
	Method         uint16
	ModTime        uint16
	ModDate        uint16
	CRC32          uint32
	CompressedSize uint64
	Size           uint64
	Name           []byte
	Extra          []byte
}

// Directory is a catalog-directory (central directory) record.
type Directory struct {
	VersionMadeBy  uint16
	VersionNeeded  uint16
	Flags          uint16
	Method         uint16
	ModTime        uint16
	ModDate        uint16
	CRC32          uint32
	CompressedSize uint64
	Size           uint64
	DiskStart      uint16
	InternalAttr   uint16
	ExternalAttr   uint32
	HeaderOffset   uint64
	Name           []byte
	Extra          []byte
	CommentLen     uint16
}

// End is the end-of-catalog-directory record.
type End struct {
	Disk            uint16
	DirectoryDisk   uint16
	EntriesThisDisk uint16
	EntriesTotal    uint16
	DirectorySize   uint32
	DirectoryOffset uint32
	Comment         []byte
}

// Zip64End holds the fields of a ZIP64 end record needed to replace sentinel
// values in the legacy end record.
type Zip64End struct {
	// RecordSize is the declared size of the remaining record, which is the
	// number of bytes following the 8-byte size field.
	RecordSize      uint64
	EntriesTotal    uint64
	DirectorySize   uint64
	DirectoryOffset uint64
}

// ReadLocal reads a local record whose signature has already been consumed.
// Sizes are the raw 32-bit values; see ResolveZip64.
func ReadLocal(r io.Reader) (Local, error) {
	var b [LocalLen - 4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Local{}, err
	}
	l := Local{
		VersionNeeded:  binary.LittleEndian.Uint16(b[0:]),
		Flags:          binary.LittleEndian.Uint16(b[2:]),
		Method:         binary.LittleEndian.Uint16(b[4:]),
		ModTime:        binary.LittleEndian.Uint16(b[6:]),
		ModDate:        binary.LittleEndian.Uint16(b[8:]),
		CRC32:          binary.LittleEndian.Uint32(b[10:]),
		CompressedSize: uint64(binary.LittleEndian.Uint32(b[14:])),
		Size:           uint64(binary.LittleEndian.Uint32(b[18:])),
	}
	nameLen := binary.LittleEndian.Uint16(b[22:])
	extraLen := binary.LittleEndian.Uint16(b[24:])
	var err error
	if l.Name, err = readN(r, int(nameLen)); err != nil {
		return Local{}, err
	}
	if l.Extra, err = readN(r, int(extraLen)); err != nil {
		return Local{}, err
	}
	return l, nil
}

// ReadDirectory reads a catalog-directory record whose signature has already
// been consumed. The record comment is left unread; callers skip CommentLen
// bytes to reach the next record.
func ReadDirectory(r io.Reader) (Directory, error) {
	var b [DirectoryLen - 4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Directory{}, err
	}
	d := Directory{
		VersionMadeBy:  binary.LittleEndian.Uint16(b[0:]),
		VersionNeeded:  binary.LittleEndian.Uint16(b[2:]),
		Flags:          binary.LittleEndian.Uint16(b[4:]),
		Method:         binary.LittleEndian.Uint16(b[6:]),
		ModTime:        binary.LittleEndian.Uint16(b[8:]),
		ModDate:        binary.LittleEndian.Uint16(b[10:]),
		CRC32:          binary.LittleEndian.Uint32(b[12:]),
		CompressedSize: uint64(binary.LittleEndian.Uint32(b[16:])),
		Size:           uint64(binary.LittleEndian.Uint32(b[20:])),
		CommentLen:     binary.LittleEndian.Uint16(b[28:]),
		DiskStart:      binary.LittleEndian.Uint16(b[30:]),
		InternalAttr:   binary.LittleEndian.Uint16(b[32:]),
		ExternalAttr:   binary.LittleEndian.Uint32(b[34:]),
		HeaderOffset:   uint64(binary.LittleEndian.Uint32(b[38:])),
	}
	nameLen := binary.LittleEndian.Uint16(b[24:])
	extraLen := binary.LittleEndian.Uint16(b[26:])
	var err error
	if d.Name, err = readN(r, int(nameLen)); err != nil {
		return Directory{}, err
	}
	if d.Extra, err = readN(r, int(extraLen)); err != nil {
		return Directory{}, err
	}
	return d, nil
}

// ReadEnd reads an end record whose signature has already been consumed,
// including its comment.
func ReadEnd(r io.Reader) (End, error) {
	var b [EndLen - 4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return End{}, err
	}
	e := DecodeEnd(b[:])
	commentLen := binary.LittleEndian.Uint16(b[16:])
	var err error
	if e.Comment, err = readN(r, int(commentLen)); err != nil {
		return End{}, err
	}
	return e, nil
}

// DecodeEnd decodes the 18 fixed bytes that follow an end record signature.
// The comment is not decoded.
func DecodeEnd(b []byte) End {
	return End{
		Disk:            binary.LittleEndian.Uint16(b[0:]),
		DirectoryDisk:   binary.LittleEndian.Uint16(b[2:]),
		EntriesThisDisk: binary.LittleEndian.Uint16(b[4:]),
		EntriesTotal:    binary.LittleEndian.Uint16(b[6:]),
		DirectorySize:   binary.LittleEndian.Uint32(b[8:]),
		DirectoryOffset: binary.LittleEndian.Uint32(b[12:]),
	}
}

// ReadZip64End reads a ZIP64 end record whose signature has already been
// consumed. It reads exactly RecordSize bytes after the size field.
func ReadZip64End(r io.Reader) (Zip64End, error) {
	var sz [8]byte
	if _, err := io.ReadFull(r, sz[:]); err != nil {
		return Zip64End{}, err
	}
	z := Zip64End{RecordSize: binary.LittleEndian.Uint64(sz[:])}
	if z.RecordSize < zip64EndMinLen-12 {
		// Too short to hold the counts; consume what is declared.
		_, err := io.CopyN(io.Discard, r, int64(z.RecordSize))
		return z, err
	}
	var b [zip64EndMinLen - 12]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Zip64End{}, err
	}
	z.EntriesTotal = binary.LittleEndian.Uint64(b[20:])
	z.DirectorySize = binary.LittleEndian.Uint64(b[28:])
	z.DirectoryOffset = binary.LittleEndian.Uint64(b[36:])
	if rest := z.RecordSize - uint64(len(b)); rest > 0 {
		if rest > 1<<62 {
			return Zip64End{}, io.ErrUnexpectedEOF
		}
		if _, err := io.CopyN(io.Discard, r, int64(rest)); err != nil {
			return Zip64End{}, err
		}
	}
	return z, nil
}

// ResolveZip64 replaces sentinel sizes with the 64-bit values carried in the
// extended information extra field. The field holds, in order, only those
// values whose legacy field is the sentinel. offset may be nil for local
// records, which carry no header offset.
func ResolveZip64(extra []byte, size, compressedSize, offset *uint64) error {
	if *size != Sentinel32 && *compressedSize != Sentinel32 && (offset == nil || *offset != Sentinel32) {
		return nil
	}
	for i := 0; ; {
		if len(extra) < i+4 {
			return ErrZip64ExtraMissing
		}
		id := binary.LittleEndian.Uint16(extra[i:])
		n := int(binary.LittleEndian.Uint16(extra[i+2:]))
		body := extra[i+4:]
		if n < len(body) {
			body = body[:n]
		}
		if id == zip64ExtraID {
			return applyZip64(body, size, compressedSize, offset)
		}
		i += n + 4
	}
}

func applyZip64(body []byte, size, compressedSize, offset *uint64) error {
	next := func(dst *uint64) error {
		if len(body) < 8 {
			return ErrZip64ExtraMissing
		}
		*dst = binary.LittleEndian.Uint64(body)
		body = body[8:]
		return nil
	}
	if *size == Sentinel32 {
		if err := next(size); err != nil {
			return err
		}
	}
	if *compressedSize == Sentinel32 {
		if err := next(compressedSize); err != nil {
			return err
		}
	}
	if offset != nil && *offset == Sentinel32 {
		if err := next(offset); err != nil {
			return err
		}
	}
	return nil
}

// Append encodes l, signature included, and appends it to b. Sizes must
// already fit in 32 bits.
func (l Local) Append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, SigLocal)
	b = binary.LittleEndian.AppendUint16(b, l.VersionNeeded)
	b = binary.LittleEndian.AppendUint16(b, l.Flags)
	b = binary.LittleEndian.AppendUint16(b, l.Method)
	b = binary.LittleEndian.AppendUint16(b, l.ModTime)
	b = binary.LittleEndian.AppendUint16(b, l.ModDate)
	b = binary.LittleEndian.AppendUint32(b, l.CRC32)
	b = binary.LittleEndian.AppendUint32(b, uint32(l.CompressedSize)) //nolint:gosec // caller checks width
	b = binary.LittleEndian.AppendUint32(b, uint32(l.Size))           //nolint:gosec // caller checks width
	b = binary.LittleEndian.AppendUint16(b, uint16(len(l.Name)))      //nolint:gosec // caller checks width
	b = binary.LittleEndian.AppendUint16(b, uint16(len(l.Extra)))     //nolint:gosec // caller checks width
	b = append(b, l.Name...)
	return append(b, l.Extra...)
}

// Append encodes d, signature included, and appends it to b. The record is
// written without a comment.
func (d Directory) Append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, SigDirectory)
	b = binary.LittleEndian.AppendUint16(b, d.VersionMadeBy)
	b = binary.LittleEndian.AppendUint16(b, d.VersionNeeded)
	b = binary.LittleEndian.AppendUint16(b, d.Flags)
	b = binary.LittleEndian.AppendUint16(b, d.Method)
	b = binary.LittleEndian.AppendUint16(b, d.ModTime)
	b = binary.LittleEndian.AppendUint16(b, d.ModDate)
	b = binary.LittleEndian.AppendUint32(b, d.CRC32)
	b = binary.LittleEndian.AppendUint32(b, uint32(d.CompressedSize)) //nolint:gosec // caller checks width
	b = binary.LittleEndian.AppendUint32(b, uint32(d.Size))           //nolint:gosec // caller checks width
	b = binary.LittleEndian.AppendUint16(b, uint16(len(d.Name)))      //nolint:gosec // caller checks width
	b = binary.LittleEndian.AppendUint16(b, uint16(len(d.Extra)))     //nolint:gosec // caller checks width
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint16(b, d.DiskStart)
	b = binary.LittleEndian.AppendUint16(b, d.InternalAttr)
	b = binary.LittleEndian.AppendUint32(b, d.ExternalAttr)
	b = binary.LittleEndian.AppendUint32(b, uint32(d.HeaderOffset)) //nolint:gosec // caller checks width
	b = append(b, d.Name...)
	return append(b, d.Extra...)
}

// Append encodes e, signature and comment included, and appends it to b.
func (e End) Append(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, SigEnd)
	b = binary.LittleEndian.AppendUint16(b, e.Disk)
	b = binary.LittleEndian.AppendUint16(b, e.DirectoryDisk)
	b = binary.LittleEndian.AppendUint16(b, e.EntriesThisDisk)
	b = binary.LittleEndian.AppendUint16(b, e.EntriesTotal)
	b = binary.LittleEndian.AppendUint32(b, e.DirectorySize)
	b = binary.LittleEndian.AppendUint32(b, e.DirectoryOffset)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(e.Comment))) //nolint:gosec // comment is fixed width
	return append(b, e.Comment...)
}

func readN(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
