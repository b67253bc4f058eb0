package romset

import (
	"errors"
	"io"
	"os"

	torzip "github.com/meigma/romset/core"
)

// Location identifies where content can be read. When Base is empty,
// Member is the path of a plain file; otherwise Member names an entry inside
// the container at Base.
type Location struct {
	Base   string
	Member string
}

// Plain reports whether the location is a plain file.
func (l Location) Plain() bool {
	return l.Base == ""
}

func (l Location) String() string {
	if l.Plain() {
		return l.Member
	}
	return l.Base + ":" + l.Member
}

// Open returns a reader over the location's content. For container members
// the CRC32 is checked by the reader when it reaches EOF.
func (l Location) Open() (io.ReadCloser, error) {
	if l.Plain() {
		return os.Open(l.Member)
	}
	a, err := torzip.OpenArchive(l.Base)
	if err != nil {
		return nil, err
	}
	rc, err := a.Open(l.Member)
	if err != nil {
		a.Close()
		return nil, err
	}
	return &memberReadCloser{ReadCloser: rc, archive: a}, nil
}

type memberReadCloser struct {
	io.ReadCloser
	archive *torzip.Archive
}

func (m *memberReadCloser) Close() error {
	return errors.Join(m.ReadCloser.Close(), m.archive.Close())
}
