// Package disk persists a cache.Store to a single file.
//
// The file starts with a magic line and a digest line, followed by the
// zstd-compressed, deterministically CBOR-encoded entry map. The digest
// covers the compressed payload; any mismatch or decode failure makes the
// file unusable and Load falls back to an empty store.
package disk

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/romset/cache"
)

const (
	magic          = "RSC1"
	defaultDirPerm = 0o700
	maxPayload     = 1 << 30
)

// ErrCorrupt is returned by Decode when the file is not a valid cache file.
var ErrCorrupt = errors.New("cache file is corrupt")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("disk: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxMapPairs: 1 << 24, MaxArrayElements: 1 << 24}.DecMode()
	if err != nil {
		panic("disk: CBOR decoder initialization failed: " + err.Error())
	}
}

// Option configures Load and Save.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	dirPerm os.FileMode
}

// WithLogger sets the logger used to report unusable cache files.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithDirPerm sets the permissions used when creating the cache directory.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *config) {
		c.dirPerm = mode
	}
}

func newConfig(opts []Option) *config {
	c := &config{dirPerm: defaultDirPerm}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Load reads the store at path. A missing, unreadable or corrupt file is
// never an error: it is logged and an empty store is returned.
func Load(path string, opts ...Option) *cache.Store {
	cfg := newConfig(opts)
	f, err := os.Open(path) //nolint:gosec // caller-provided path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.logger.Debug("no cache file, starting empty", "path", path)
		} else {
			cfg.logger.Warn("cache file unreadable, starting empty", "path", path, "error", err)
		}
		return cache.New()
	}
	defer f.Close()

	entries, err := Decode(f)
	if err != nil {
		cfg.logger.Warn("cache file unusable, starting empty", "path", path, "error", err)
		return cache.New()
	}
	cfg.logger.Debug("cache loaded", "path", path, "count", len(entries))
	return cache.FromEntries(entries)
}

// Save writes the store to path if it is dirty, replacing any existing
// file atomically, and marks the store clean.
func Save(path string, s *cache.Store, opts ...Option) error {
	if !s.Dirty() {
		return nil
	}
	cfg := newConfig(opts)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, cfg.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := Encode(tmp, s.Entries()); err != nil {
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
	s.MarkClean()
	cfg.logger.Debug("cache saved", "path", path, "count", s.Len())
	return nil
}

// Encode writes entries in the cache file format.
func Encode(w io.Writer, entries map[string]cache.Entry) error {
	raw, err := encMode.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode cache entries: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	payload := enc.EncodeAll(raw, nil)
	if err := enc.Close(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n%s\n", magic, digest.FromBytes(payload))
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads entries written by Encode.
func Decode(r io.Reader) (map[string]cache.Entry, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil || strings.TrimSuffix(line, "\n") != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	line, err = br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: missing digest", ErrCorrupt)
	}
	want, err := digest.Parse(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	payload, err := io.ReadAll(io.LimitReader(br, maxPayload+1))
	if err != nil {
		return nil, err
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: payload too large", ErrCorrupt)
	}
	verifier := want.Verifier()
	_, _ = verifier.Write(payload)
	if !verifier.Verified() {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxPayload))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var entries map[string]cache.Entry
	if err := decMode.NewDecoder(bytes.NewReader(raw)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entries == nil {
		entries = make(map[string]cache.Entry)
	}
	return entries, nil
}
