package romset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	torzip "github.com/meigma/romset/core"
)

// SetResult is the outcome of building one set.
type SetResult struct {
	Set        string
	Status     WriteStatus
	Roms       int
	Unresolved int
	Err        error
}

// Report collects per-set results in input order.
type Report struct {
	Results []SetResult
}

// Failures returns the results of sets that could not be written.
func (r *Report) Failures() []SetResult {
	var out []SetResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Count returns the number of sets with the given status.
func (r *Report) Count(status WriteStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

type buildConfig struct {
	workers  int
	logger   *slog.Logger
	progress ProgressFunc
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// BuildWithWorkers sets the number of sets written concurrently.
// Values <= 0 use runtime.NumCPU().
func BuildWithWorkers(n int) BuildOption {
	return func(c *buildConfig) {
		c.workers = n
	}
}

// BuildWithLogger sets the logger for the build.
// If not set, logging is disabled.
func BuildWithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) {
		c.logger = logger
	}
}

// BuildWithProgress sets a callback to receive one event per finished set.
func BuildWithProgress(fn ProgressFunc) BuildOption {
	return func(c *buildConfig) {
		c.progress = fn
	}
}

// Build writes every set under dest, creating dest if needed. Sets are
// written concurrently; a failure in one set is logged and recorded in the
// report without affecting the others. The returned error is non-nil only
// when dest cannot be created.
//
// Roms read from another set's container under dest are read from a
// snapshot of that container taken before any set is written, so rewriting
// one set never removes content a sibling still needs. Snapshots are
// removed when the build finishes.
func Build(ctx context.Context, dest string, sets []WantedSet, opts ...BuildOption) (*Report, error) {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	workers := cfg.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", dest, err)
	}
	sets, cleanup := preserveShared(dest, sets, cfg.logger)
	defer cleanup()

	writers := sync.Pool{New: func() any {
		return torzip.NewWriter(torzip.WithLogger(cfg.logger))
	}}

	report := &Report{Results: make([]SetResult, len(sets))}
	var done atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)
	for i, set := range sets {
		g.Go(func() error {
			w := writers.Get().(*torzip.Writer) //nolint:errcheck // pool only holds writers
			defer writers.Put(w)

			status, err := WriteSet(ctx, dest, set, WriteWithLogger(cfg.logger), withWriter(w))
			report.Results[i] = SetResult{
				Set:        set.Name,
				Status:     status,
				Roms:       len(set.Roms),
				Unresolved: set.Unresolved(),
				Err:        err,
			}
			if err != nil {
				cfg.logger.Error("set build failed", "set", set.Name, "error", err)
			}
			cfg.progress.report(ProgressEvent{
				Stage: StageWriting,
				Path:  set.Name,
				Done:  int(done.Add(1)),
				Total: len(sets),
			})
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors; failures live in the report

	cfg.logger.Info("build finished",
		"written", report.Count(StatusWritten),
		"unchanged", report.Count(StatusUnchanged),
		"empty", report.Count(StatusEmpty),
		"failed", report.Count(StatusFailed))
	return report, nil
}

// withWriter makes WriteSet reuse w instead of allocating a writer.
func withWriter(w *torzip.Writer) WriteOption {
	return func(c *writeConfig) {
		c.writer = w
	}
}

// preserveShared rebinds roms whose source is another set's container under
// dest to a snapshot of that container. sets is not modified; the returned
// function removes the snapshots. Containers that cannot be snapshotted are
// left in place and logged.
func preserveShared(dest string, sets []WantedSet, logger *slog.Logger) ([]WantedSet, func()) {
	owners := make(map[string]int, len(sets))
	for i, set := range sets {
		path, err := ContainerPath(dest, set.Name)
		if err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			owners[abs] = i
		}
	}

	var stash string
	snapshots := make(map[string]string)
	snapshot := func(path string, owner int) (string, bool) {
		if snap, ok := snapshots[path]; ok {
			return snap, snap != ""
		}
		if stash == "" {
			dir, err := os.MkdirTemp(dest, ".shared-")
			if err != nil {
				logger.Warn("could not create snapshot directory", "path", dest, "error", err)
				return "", false
			}
			stash = dir
		}
		snap := filepath.Join(stash, strconv.Itoa(owner)+ContainerExt)
		if err := linkOrCopy(path, snap); err != nil {
			logger.Warn("could not snapshot shared container", "path", path, "error", err)
			snap = ""
		}
		snapshots[path] = snap
		return snap, snap != ""
	}

	out := slices.Clone(sets)
	for i := range out {
		cloned := false
		for j, r := range out[i].Roms {
			if !r.Resolved {
				continue
			}
			file := r.Source.Base
			if r.Source.Plain() {
				file = r.Source.Member
			}
			abs, err := filepath.Abs(file)
			if err != nil {
				continue
			}
			owner, ok := owners[abs]
			if !ok || owner == i {
				continue
			}
			snap, ok := snapshot(abs, owner)
			if !ok {
				continue
			}
			if !cloned {
				out[i].Roms = slices.Clone(out[i].Roms)
				cloned = true
			}
			if r.Source.Plain() {
				out[i].Roms[j].Source.Member = snap
			} else {
				out[i].Roms[j].Source.Base = snap
			}
			logger.Debug("rom reads from snapshot of shared container",
				"set", out[i].Name, "rom", r.Name, "path", abs)
		}
	}

	return out, func() {
		if stash == "" {
			return
		}
		if err := os.RemoveAll(stash); err != nil {
			logger.Warn("could not remove snapshot directory", "path", stash, "error", err)
		}
	}
}

// linkOrCopy makes dst a hard link to src, copying when linking fails.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src) //nolint:gosec // src is a container under the destination directory
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // dst is inside a private temp directory
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		return errors.Join(err, out.Close(), os.Remove(dst))
	}
	return out.Close()
}
