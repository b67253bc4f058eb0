package romset

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	torzip "github.com/meigma/romset/core"
)

// ContainerExt is the file extension of set containers.
const ContainerExt = ".zip"

// WriteStatus reports what WriteSet did for a set.
type WriteStatus uint8

const (
	// StatusWritten means a new container was written.
	StatusWritten WriteStatus = iota

	// StatusUnchanged means the destination already matched the set.
	StatusUnchanged

	// StatusEmpty means the set had no roms and nothing was written.
	StatusEmpty

	// StatusFailed means the set could not be written.
	StatusFailed
)

func (s WriteStatus) String() string {
	switch s {
	case StatusWritten:
		return "written"
	case StatusUnchanged:
		return "unchanged"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type writeConfig struct {
	logger *slog.Logger
	writer *torzip.Writer
}

// WriteOption configures WriteSet.
type WriteOption func(*writeConfig)

// WriteWithLogger sets the logger for set writing.
// If not set, logging is disabled.
func WriteWithLogger(logger *slog.Logger) WriteOption {
	return func(c *writeConfig) {
		c.logger = logger
	}
}

// ContainerPath returns the destination path of a set's container.
func ContainerPath(dest, setName string) (string, error) {
	name := setName + ContainerExt
	if setName == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSetName, setName)
	}
	return filepath.Join(dest, name), nil
}

// WriteSet writes set's canonical container under dest.
//
// If the destination already holds a canonical container whose entries
// match the set exactly (name, CRC32, size and order), nothing is written.
// Unresolved roms match a member of NUL padding.
// Otherwise an existing file is moved aside and scanned: unresolved roms
// whose fingerprint matches one of its members are read from it. The new
// container is written to a temporary file and renamed into place; the old
// file is removed only after that succeeds and is restored if writing fails.
// Failures while inspecting the existing file are ignored.
func WriteSet(ctx context.Context, dest string, set WantedSet, opts ...WriteOption) (WriteStatus, error) {
	cfg := &writeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.writer == nil {
		cfg.writer = torzip.NewWriter(torzip.WithLogger(cfg.logger))
	}
	sw := &setWriter{dest: dest, set: set, logger: cfg.logger.With("set", set.Name), w: cfg.writer}
	return sw.run(ctx)
}

type setWriter struct {
	dest   string
	set    WantedSet
	logger *slog.Logger
	w      *torzip.Writer
}

func (sw *setWriter) run(ctx context.Context) (WriteStatus, error) {
	if len(sw.set.Roms) == 0 {
		sw.logger.Debug("set has no roms, skipping")
		return StatusEmpty, nil
	}
	path, err := ContainerPath(sw.dest, sw.set.Name)
	if err != nil {
		return StatusFailed, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return StatusFailed, err
	}

	roms := append([]WantedRom(nil), sw.set.Roms...)
	var salvage *salvaged
	if _, err := os.Lstat(path); err == nil {
		if matchesExisting(path, roms) {
			sw.logger.Debug("container already matches set", "path", path)
			return StatusUnchanged, nil
		}
		salvage, err = sw.moveAside(path, roms)
		if err != nil {
			return StatusFailed, err
		}
	}

	if err := sw.writeContainer(ctx, path, roms); err != nil {
		if salvage != nil {
			salvage.restore(path, sw.logger)
		}
		return StatusFailed, err
	}
	if salvage != nil {
		salvage.discard(sw.logger)
	}
	sw.logger.Debug("container written", "path", path, "count", len(roms))
	return StatusWritten, nil
}

// matchesExisting reports whether path is a canonical container whose
// entries equal roms in order.
func matchesExisting(path string, roms []WantedRom) bool {
	f, err := os.Open(path) //nolint:gosec // path is derived from the destination directory
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false
	}
	if torzip.CheckIdentity(f, info.Size()) != nil {
		return false
	}
	a, err := torzip.NewArchive(f, info.Size())
	if err != nil {
		return false
	}
	members := a.Members()
	if len(members) != len(roms) {
		return false
	}
	for i, m := range members {
		r := roms[i]
		if m.Name != r.Name || m.Size != r.Size {
			return false
		}
		// Unresolved roms were written as padding.
		if m.CRC32 != r.CRC32 && (r.Resolved || m.CRC32 != zeroCRC(r.Size)) {
			return false
		}
	}
	return true
}

// zeroCRC returns the CRC32 of size NUL bytes.
func zeroCRC(size uint64) uint32 {
	var zeros [32 << 10]byte
	var crc uint32
	for size > 0 {
		n := min(size, uint64(len(zeros)))
		crc = crc32.Update(crc, crc32.IEEETable, zeros[:n])
		size -= n
	}
	return crc
}

type salvaged struct {
	dir  string
	path string
}

// moveAside renames the existing container into a private directory beside
// it and rebinds roms to its members where possible. Roms whose source was
// the container itself follow it to the new path.
func (sw *setWriter) moveAside(path string, roms []WantedRom) (*salvaged, error) {
	dir, err := os.MkdirTemp(filepath.Dir(path), ".salvage-")
	if err != nil {
		return nil, err
	}
	s := &salvaged{dir: dir, path: filepath.Join(dir, filepath.Base(path))}
	if err := os.Rename(path, s.path); err != nil {
		_ = os.Remove(dir)
		return nil, err
	}
	for i := range roms {
		if roms[i].Resolved && roms[i].Source.Base == path {
			roms[i].Source.Base = s.path
		}
	}

	a, err := torzip.OpenArchive(s.path)
	if err != nil {
		sw.logger.Debug("existing file is not a usable container", "path", path, "error", err)
		return s, nil
	}
	defer a.Close()
	found := make(map[torzip.Fingerprint]string)
	for _, m := range a.Members() {
		if _, ok := found[m.Fingerprint()]; !ok && !m.IsDir() {
			found[m.Fingerprint()] = m.Name
		}
	}
	for i := range roms {
		if roms[i].Resolved {
			continue
		}
		if name, ok := found[roms[i].Fingerprint()]; ok {
			roms[i].Source = Location{Base: s.path, Member: name}
			roms[i].Resolved = true
			sw.logger.Info("salvaged rom from existing container", "rom", roms[i].Name, "member", name)
		}
	}
	return s, nil
}

func (s *salvaged) restore(path string, logger *slog.Logger) {
	if err := os.Rename(s.path, path); err != nil {
		logger.Error("could not restore previous container", "path", path, "saved", s.path, "error", err)
		return
	}
	_ = os.Remove(s.dir)
}

func (s *salvaged) discard(logger *slog.Logger) {
	if err := os.RemoveAll(s.dir); err != nil {
		logger.Warn("could not remove previous container", "path", s.path, "error", err)
	}
}

func (sw *setWriter) writeContainer(ctx context.Context, path string, roms []WantedRom) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".romset-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	sources := make([]torzip.Source, len(roms))
	for i, r := range roms {
		sources[i] = sourceFor(r)
	}
	if _, err := sw.w.Write(ctx, tmp, sources); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// sourceFor maps a rom to a writer source. Unresolved roms become NUL
// padding of the declared size; resolved ones are checked against the
// declared fingerprint as they are read.
func sourceFor(r WantedRom) torzip.Source {
	src := torzip.Source{Name: r.Name, Size: r.Size}
	if !r.Resolved {
		return src
	}
	src.Open = func() (io.ReadCloser, error) {
		rc, err := r.Source.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", r.Source, err)
		}
		return &verifyingReader{rc: rc, h: crc32.NewIEEE(), want: r.Fingerprint(), loc: r.Source}, nil
	}
	return src
}

// verifyingReader fails the read at EOF if the content's fingerprint
// differs from want.
type verifyingReader struct {
	rc   io.ReadCloser
	h    hash.Hash32
	n    uint64
	want torzip.Fingerprint
	loc  Location
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	if n > 0 {
		_, _ = v.h.Write(p[:n])
		v.n += uint64(n) //nolint:gosec // n is non-negative
	}
	if errors.Is(err, io.EOF) {
		got := torzip.Fingerprint{CRC32: v.h.Sum32(), Size: v.n}
		if got != v.want {
			return n, fmt.Errorf("%w: %s has %s, want %s", ErrFingerprintMismatch, v.loc, got, v.want)
		}
	}
	return n, err
}

func (v *verifyingReader) Close() error {
	return v.rc.Close()
}
