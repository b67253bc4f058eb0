package romset

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/meigma/romset/cache"
	torzip "github.com/meigma/romset/core"
)

// SourceIndex maps content fingerprints to the first location found to
// provide them. It is built once and then only read, so it may be shared by
// concurrent writers without locking.
type SourceIndex struct {
	locations map[torzip.Fingerprint]Location
	files     int
}

// NewSourceIndex returns an empty index.
func NewSourceIndex() *SourceIndex {
	return &SourceIndex{locations: make(map[torzip.Fingerprint]Location)}
}

// Add records loc for fp unless fp is already indexed. It reports whether
// loc was recorded. Add must not be called once the index is shared.
func (x *SourceIndex) Add(fp torzip.Fingerprint, loc Location) bool {
	if _, ok := x.locations[fp]; ok {
		return false
	}
	x.locations[fp] = loc
	return true
}

// Lookup returns the location for fp.
func (x *SourceIndex) Lookup(fp torzip.Fingerprint) (Location, bool) {
	loc, ok := x.locations[fp]
	return loc, ok
}

// Len returns the number of distinct fingerprints.
func (x *SourceIndex) Len() int {
	return len(x.locations)
}

// Files returns the number of source files scanned to build the index.
func (x *SourceIndex) Files() int {
	return x.files
}

type indexConfig struct {
	store    *cache.Store
	logger   *slog.Logger
	progress ProgressFunc
}

// IndexOption configures BuildIndex.
type IndexOption func(*indexConfig)

// IndexWithCache sets the store used to skip re-reading unchanged files.
// The store is updated in place; persisting it is the caller's job.
func IndexWithCache(store *cache.Store) IndexOption {
	return func(c *indexConfig) {
		c.store = store
	}
}

// IndexWithLogger sets the logger for indexing.
// If not set, logging is disabled.
func IndexWithLogger(logger *slog.Logger) IndexOption {
	return func(c *indexConfig) {
		c.logger = logger
	}
}

// IndexWithProgress sets a callback to receive one event per source file.
func IndexWithProgress(fn ProgressFunc) IndexOption {
	return func(c *indexConfig) {
		c.progress = fn
	}
}

type sourceFile struct {
	path    string
	size    int64
	modTime time.Time
}

// BuildIndex expands candidates into a flat list of files and fingerprints
// each one. Files that open as containers contribute one location per
// member, using the member's declared size and CRC32; any other file is read
// in full and contributes itself. Unreadable candidates are logged and
// skipped. The first location seen for a fingerprint wins.
func BuildIndex(ctx context.Context, candidates []string, opts ...IndexOption) (*SourceIndex, error) {
	cfg := &indexConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.store == nil {
		cfg.store = cache.New()
	}

	files := listFiles(candidates, cfg.logger)
	idx := NewSourceIndex()
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cfg.progress.report(ProgressEvent{Stage: StageIndexing, Path: f.path, Done: i + 1, Total: len(files)})

		roms, ok := cfg.store.Lookup(f.path, f.size, f.modTime)
		if !ok {
			var err error
			roms, err = scanFile(ctx, f.path)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				cfg.logger.Warn("skipping unreadable source", "path", f.path, "error", err)
				continue
			}
			cfg.store.Put(f.path, f.size, f.modTime, roms)
		}
		for _, r := range roms {
			idx.Add(torzip.Fingerprint{CRC32: r.CRC32, Size: r.Size}, Location{Base: r.Owner, Member: r.Member})
		}
		idx.files++
	}
	cfg.logger.Debug("source index built", "count", idx.Len(), "files", idx.files)
	return idx, nil
}

// scanFile fingerprints one file, first as a container and otherwise as a
// plain file.
func scanFile(ctx context.Context, path string) ([]cache.Rom, error) {
	if a, err := torzip.OpenArchive(path); err == nil {
		defer a.Close()
		members := a.Members()
		roms := make([]cache.Rom, 0, len(members))
		for _, m := range members {
			if m.IsDir() {
				continue
			}
			roms = append(roms, cache.Rom{CRC32: m.CRC32, Size: m.Size, Owner: path, Member: m.Name})
		}
		return roms, nil
	}

	f, err := os.Open(path) //nolint:gosec // caller-provided path is intentional
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fp, err := torzip.FingerprintReader(ctx, f)
	if err != nil {
		return nil, err
	}
	return []cache.Rom{{CRC32: fp.CRC32, Size: fp.Size, Member: path}}, nil
}

// listFiles expands candidates depth-first in lexical order. Symlinks to
// files are followed; entries that cannot be stat'ed are skipped.
func listFiles(candidates []string, logger *slog.Logger) []sourceFile {
	var out []sourceFile
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			logger.Warn("skipping source", "path", c, "error", err)
			continue
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() {
				out = append(out, sourceFile{path: filepath.Clean(c), size: info.Size(), modTime: info.ModTime()})
			}
			continue
		}
		entries, err := os.ReadDir(c)
		if err != nil {
			logger.Warn("skipping source directory", "path", c, "error", err)
			continue
		}
		children := make([]string, 0, len(entries))
		for _, e := range entries {
			children = append(children, filepath.Join(c, e.Name()))
		}
		slices.Sort(children)
		out = append(out, listFiles(children, logger)...)
	}
	return out
}
