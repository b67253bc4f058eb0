package romset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	torzip "github.com/meigma/romset/core"
)

// NodeKind distinguishes manifest nodes.
type NodeKind uint8

const (
	// KindDir is a filesystem directory.
	KindDir NodeKind = iota

	// KindFile is a plain file or a container member that is not itself a
	// valid container.
	KindFile

	// KindContainer is a valid container, on disk or nested in another one.
	KindContainer
)

func (k NodeKind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindContainer:
		return "container"
	default:
		return "unknown"
	}
}

// ManifestNode is one node of a manifest tree. Fingerprint is set for
// files only; CompressedSize is set for files that are container members,
// as reported by Member.
type ManifestNode struct {
	Kind           NodeKind
	Name           string
	Fingerprint    torzip.Fingerprint
	CompressedSize uint64
	Member         bool
	Children       []*ManifestNode
}

type manifestConfig struct {
	logger   *slog.Logger
	progress ProgressFunc
}

// ManifestOption configures BuildManifest.
type ManifestOption func(*manifestConfig)

// ManifestWithLogger sets the logger for manifest generation.
// If not set, logging is disabled.
func ManifestWithLogger(logger *slog.Logger) ManifestOption {
	return func(c *manifestConfig) {
		c.logger = logger
	}
}

// ManifestWithProgress sets a callback to receive one event per path
// visited.
func ManifestWithProgress(fn ProgressFunc) ManifestOption {
	return func(c *manifestConfig) {
		c.progress = fn
	}
}

// BuildManifest walks the directory root and returns a Dir node describing
// it. Directory children are sorted by name. A file that validates as a
// container becomes a Container node whose children follow the container's
// directory order; each member is itself validated through a seekable
// reader and recursed into when valid. Any other file is fingerprinted by
// reading it in full. Directory members of containers are omitted.
func BuildManifest(ctx context.Context, root string, opts ...ManifestOption) (*ManifestNode, error) {
	cfg := &manifestConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("manifest source %s is not a directory", root)
	}
	mb := &manifestBuilder{cfg: cfg}
	node := &ManifestNode{Kind: KindDir, Name: filepath.Base(root)}
	if err := mb.dir(ctx, node, root); err != nil {
		return nil, err
	}
	return node, nil
}

type manifestBuilder struct {
	cfg   *manifestConfig
	count int
}

func (mb *manifestBuilder) dir(ctx context.Context, parent *ManifestNode, path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(path, name)
		mb.count++
		mb.cfg.progress.report(ProgressEvent{Stage: StageManifest, Path: p, Done: mb.count})

		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			child := &ManifestNode{Kind: KindDir, Name: name}
			if err := mb.dir(ctx, child, p); err != nil {
				return err
			}
			parent.Children = append(parent.Children, child)
		case info.Mode().IsRegular():
			child, err := mb.file(ctx, name, p)
			if err != nil {
				return err
			}
			parent.Children = append(parent.Children, child)
		}
	}
	return nil
}

func (mb *manifestBuilder) file(ctx context.Context, name, path string) (*ManifestNode, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from walking the caller's root
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if torzip.IsValid(f) {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		a, err := torzip.NewArchive(f, info.Size())
		if err == nil {
			node := &ManifestNode{Kind: KindContainer, Name: name}
			if err := mb.container(ctx, node, a); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return node, nil
		}
		mb.cfg.logger.Debug("valid container rejected by reader", "path", path, "error", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	fp, err := torzip.FingerprintReader(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ManifestNode{Kind: KindFile, Name: name, Fingerprint: fp}, nil
}

func (mb *manifestBuilder) container(ctx context.Context, parent *ManifestNode, a *torzip.Archive) error {
	for _, m := range a.Members() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.IsDir() {
			continue
		}
		if nested, ok := mb.nested(ctx, a, m); ok {
			parent.Children = append(parent.Children, nested)
			continue
		}
		parent.Children = append(parent.Children, &ManifestNode{
			Kind:           KindFile,
			Name:           m.Name,
			Fingerprint:    m.Fingerprint(),
			CompressedSize: m.CompressedSize,
			Member:         true,
		})
	}
	return nil
}

// nested validates member m through a seekable reader and, when valid,
// returns its Container node.
func (mb *manifestBuilder) nested(ctx context.Context, a *torzip.Archive, m torzip.Member) (*ManifestNode, bool) {
	mr, err := a.OpenSeekable(m.Name)
	if err != nil {
		mb.cfg.logger.Debug("member not seekable", "member", m.Name, "error", err)
		return nil, false
	}
	defer mr.Close()
	if err := torzip.Validate(mr); err != nil {
		return nil, false
	}
	inner, err := torzip.NewArchive(mr, mr.Size())
	if err != nil {
		return nil, false
	}
	node := &ManifestNode{Kind: KindContainer, Name: m.Name}
	if err := mb.container(ctx, node, inner); err != nil {
		mb.cfg.logger.Debug("nested container unreadable", "member", m.Name, "error", err)
		return nil, false
	}
	return node, true
}
