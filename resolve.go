package romset

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/meigma/romset/catalog"
	torzip "github.com/meigma/romset/core"
)

// WantedRom is a rom the catalog wants in a set, after name normalization.
type WantedRom struct {
	// Name is the member name inside the set's container.
	Name string

	Size  uint64
	CRC32 uint32

	// Clone is the name of the clone set this rom was merged from. It is
	// empty for the parent's own roms and for roms already renamed to carry
	// their clone's name.
	Clone string

	// Source is where the content can be read. It is meaningful only when
	// Resolved is true.
	Source   Location
	Resolved bool
}

// Fingerprint returns the rom's declared fingerprint.
func (r WantedRom) Fingerprint() torzip.Fingerprint {
	return torzip.Fingerprint{CRC32: r.CRC32, Size: r.Size}
}

// WantedSet is one output container: a set name and its roms, ordered
// case-insensitively by name. Names are unique within a set.
type WantedSet struct {
	Name string
	Roms []WantedRom
}

// Unresolved returns the number of roms with no source.
func (s WantedSet) Unresolved() int {
	n := 0
	for _, r := range s.Roms {
		if !r.Resolved {
			n++
		}
	}
	return n
}

type resolveConfig struct {
	logger *slog.Logger
}

// ResolveOption configures Resolve.
type ResolveOption func(*resolveConfig)

// ResolveWithLogger sets the logger used for duplicate and rename
// diagnostics. If not set, logging is disabled.
func ResolveWithLogger(logger *slog.Logger) ResolveOption {
	return func(c *resolveConfig) {
		c.logger = logger
	}
}

// Resolve turns a catalog into per-set want-lists using merged-set policy: a
// set that is a clone of another contributes its roms to the parent's list.
//
// Roms flagged nodump are skipped. Within a set, an incoming rom whose name
// matches an existing one case-insensitively is dropped when the content
// also matches. When only the name matches, an existing rom inherited from a
// clone is renamed to "<clone>/<name>", and the incoming rom is renamed to
// "<own set>/<name>" once. Every rom is then looked up in idx by
// fingerprint.
//
// Sets are returned in order of first appearance. A rom with an unparseable
// size or crc makes the catalog unusable and is reported as an error.
func Resolve(df *catalog.Datafile, idx *SourceIndex, opts ...ResolveOption) ([]WantedSet, error) {
	cfg := &resolveConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if idx == nil {
		idx = NewSourceIndex()
	}

	var order []string
	sets := make(map[string]*mergedSet)
	for _, s := range df.Sets {
		ownName := strings.TrimSpace(s.Name)
		target, clone := ownName, ""
		if s.CloneOf != "" {
			target, clone = strings.TrimSpace(s.CloneOf), ownName
		}
		ms, ok := sets[target]
		if !ok {
			ms = &mergedSet{roms: make(map[string]*WantedRom)}
			sets[target] = ms
			order = append(order, target)
		}
		for _, r := range s.Roms {
			if r.NoDump() {
				continue
			}
			rom, err := parseRom(r)
			if err != nil {
				return nil, fmt.Errorf("set %s: %w", ownName, err)
			}
			rom.Clone = clone
			ms.add(rom, ownName, target, idx, cfg.logger)
		}
	}

	out := make([]WantedSet, 0, len(order))
	for _, name := range order {
		out = append(out, WantedSet{Name: name, Roms: sets[name].sorted()})
	}
	return out, nil
}

func parseRom(r catalog.Rom) (WantedRom, error) {
	name := catalog.NormalizeName(r.Name)
	if name == "" {
		return WantedRom{}, fmt.Errorf("%w: empty name %q", catalog.ErrBadRom, r.Name)
	}
	size, err := catalog.ParseSize(r.Size)
	if err != nil {
		return WantedRom{}, fmt.Errorf("rom %s: %w", name, err)
	}
	crc, err := catalog.ParseCRC(r.CRC)
	if err != nil {
		return WantedRom{}, fmt.Errorf("rom %s: %w", name, err)
	}
	return WantedRom{Name: name, Size: size, CRC32: crc}, nil
}

// mergedSet accumulates the roms of a parent and its clones by name.
type mergedSet struct {
	roms map[string]*WantedRom
}

// add applies the duplicate and rename policy to an incoming rom from the
// set named owner, which merges into target.
func (m *mergedSet) add(rom WantedRom, owner, target string, idx *SourceIndex, logger *slog.Logger) {
	dupFound, nameFixed := false, false
	for _, dupName := range m.sameName(rom.Name) {
		existing, ok := m.roms[dupName]
		if !ok {
			continue
		}
		if existing.Size == rom.Size && existing.CRC32 == rom.CRC32 {
			logger.Debug("skipping duplicate rom",
				"set", owner, "rom", rom.Name, "fingerprint", rom.Fingerprint().String(), "duplicate", dupName)
			dupFound = true
			continue
		}
		if existing.Clone != "" {
			renamed := existing.Clone + "/" + dupName
			logger.Info("renaming rom", "set", target, "rom", dupName, "to", renamed)
			delete(m.roms, dupName)
			existing.Name = renamed
			existing.Clone = ""
			m.roms[renamed] = existing
		}
		if !nameFixed {
			renamed := owner + "/" + rom.Name
			logger.Info("saving rom under set name", "set", target, "rom", rom.Name, "owner", owner, "to", renamed)
			rom.Name = renamed
			nameFixed = true
		}
	}
	if dupFound && !nameFixed {
		return
	}
	if loc, ok := idx.Lookup(rom.Fingerprint()); ok {
		rom.Source = loc
		rom.Resolved = true
	}
	m.roms[rom.Name] = &rom
}

// sameName returns the existing names equal to name ignoring case, sorted.
func (m *mergedSet) sameName(name string) []string {
	var out []string
	for k := range m.roms {
		if strings.EqualFold(k, name) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func (m *mergedSet) sorted() []WantedRom {
	out := make([]WantedRom, 0, len(m.roms))
	for _, r := range m.roms {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b WantedRom) int {
		if c := cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
