package torzip

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Member describes an entry as reported by the permissive reader. Unlike
// Entry, a Member carries no guarantee that its local record agrees with
// the catalog directory.
type Member struct {
	Name           string
	Method         uint16
	CRC32          uint32
	Size           uint64
	CompressedSize uint64
}

// IsDir reports whether the member names a directory.
func (m Member) IsDir() bool {
	return strings.HasSuffix(m.Name, "/")
}

// Fingerprint returns the member's declared content fingerprint.
func (m Member) Fingerprint() Fingerprint {
	return Fingerprint{CRC32: m.CRC32, Size: m.Size}
}

// Archive is a permissive, read-only view of a container. It tolerates
// layouts the strict validator rejects and is used to enumerate and open
// members of archives that are already known to be usable.
type Archive struct {
	zr     *zip.Reader
	src    io.ReaderAt
	byName map[string]*zip.File
	closer io.Closer
}

// OpenArchive opens the container at path. The caller must Close it.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path) //nolint:gosec // caller-provided path is intentional
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := NewArchive(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// NewArchive reads the catalog directory of the size-byte container in src.
func NewArchive(src io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return nil, err
	}
	a := &Archive{
		zr:     zr,
		src:    src,
		byName: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		if _, dup := a.byName[f.Name]; !dup {
			a.byName[f.Name] = f
		}
	}
	return a, nil
}

// Members returns the archive's members in catalog-directory order.
func (a *Archive) Members() []Member {
	out := make([]Member, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		out = append(out, memberOf(f))
	}
	return out
}

// Open returns a forward-only reader over the named member's content. The
// CRC32 is verified when the reader reaches EOF.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	f, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f.Open()
}

// OpenSeekable returns a MemberReader over the named member.
func (a *Archive) OpenSeekable(name string) (*MemberReader, error) {
	f, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	off, err := f.DataOffset()
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", name, err)
	}
	m := memberOf(f)
	return NewMemberReader(a.src, MemberInfo{
		Name:           m.Name,
		Method:         m.Method,
		DataOffset:     off,
		CompressedSize: m.CompressedSize,
		Size:           m.Size,
		CRC32:          m.CRC32,
	})
}

// Close releases the underlying file when the archive was opened by path.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func memberOf(f *zip.File) Member {
	return Member{
		Name:           f.Name,
		Method:         f.Method,
		CRC32:          f.CRC32,
		Size:           f.UncompressedSize64,
		CompressedSize: f.CompressedSize64,
	}
}
