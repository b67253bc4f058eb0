package romset

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/romset/catalog"
	torzip "github.com/meigma/romset/core"
	"github.com/meigma/romset/internal/testutil"
)

// pipeline runs index, resolve and build for a datfile over sources.
func pipeline(t *testing.T, dat string, sources []string, dest string, opts ...BuildOption) *Report {
	t.Helper()
	ctx := context.Background()
	df, err := catalog.Parse(strings.NewReader(dat))
	require.NoError(t, err)
	idx, err := BuildIndex(ctx, sources)
	require.NoError(t, err)
	sets, err := Resolve(df, idx)
	require.NoError(t, err)
	report, err := Build(ctx, dest, sets, opts...)
	require.NoError(t, err)
	return report
}

func TestBuildEndToEnd(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out")
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	testutil.WriteFile(t, filepath.Join(src, "loose", "whatever.dat"), payload)

	dat := testutil.Datfile(testutil.Set{Name: "game", Roms: []testutil.Rom{
		testutil.RomFor("A.bin", payload),
		{Name: "pad.bin", Size: "10", CRC: fmt.Sprintf("%08x", crc32.ChecksumIEEE(make([]byte, 10)))},
	}})

	report := pipeline(t, dat, []string{src}, dest)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, StatusWritten, res.Status)
	assert.Equal(t, 2, res.Roms)
	assert.Equal(t, 1, res.Unresolved)

	path := filepath.Join(dest, "game.zip")
	requireCanonical(t, path)
	members := readMembers(t, path)
	assert.Equal(t, payload, members["A.bin"])
	assert.Equal(t, make([]byte, 10), members["pad.bin"])

	// The identity comment covers the directory bytes the end record points at.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	end := len(raw) - 44
	require.Equal(t, uint32(0x06054b50), binary.LittleEndian.Uint32(raw[end:]))
	dirSize := binary.LittleEndian.Uint32(raw[end+12:])
	dirOff := binary.LittleEndian.Uint32(raw[end+16:])
	dir := raw[dirOff : dirOff+dirSize]
	assert.Equal(t, fmt.Sprintf("TORRENTZIPPED-%08X", crc32.ChecksumIEEE(dir)), string(raw[len(raw)-22:]))

	a, err := torzip.OpenArchive(path)
	require.NoError(t, err)
	defer a.Close()
	for _, m := range a.Members() {
		if m.Name == "pad.bin" {
			assert.Equal(t, crc32.ChecksumIEEE(make([]byte, 10)), m.CRC32)
		}
	}

	// A second run leaves the output untouched.
	report = pipeline(t, dat, []string{src}, dest)
	assert.Equal(t, StatusUnchanged, report.Results[0].Status)
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestBuildIsReproducible(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	files := []testutil.File{
		{Name: "b.rom", Data: []byte("bbbbbbbb")},
		{Name: "a.rom", Data: []byte("aaaa")},
	}
	testutil.WritePlainZip(t, filepath.Join(src, "input.zip"), files...)
	dat := testutil.Datfile(testutil.Set{Name: "game", Roms: []testutil.Rom{
		testutil.RomFor("b.rom", files[0].Data),
		testutil.RomFor("a.rom", files[1].Data),
	}})

	first := filepath.Join(t.TempDir(), "one")
	second := filepath.Join(t.TempDir(), "two")
	pipeline(t, dat, []string{src}, first)
	pipeline(t, dat, []string{src}, second)

	one, err := os.ReadFile(filepath.Join(first, "game.zip"))
	require.NoError(t, err)
	two, err := os.ReadFile(filepath.Join(second, "game.zip"))
	require.NoError(t, err)
	assert.Equal(t, one, two)
}

func TestBuildIsolatesFailures(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dest := t.TempDir()
	good := []byte("good")
	stale := filepath.Join(src, "stale.bin")
	testutil.WriteFile(t, stale, []byte("new content"))

	sets := []WantedSet{
		{Name: "ok1", Roms: []WantedRom{{Name: "a", Size: 3}}},
		{Name: "bad", Roms: []WantedRom{{
			Name: "x", Size: 11, CRC32: 1, Resolved: true, Source: Location{Member: stale},
		}}},
		{Name: "empty"},
		{Name: "ok2", Roms: []WantedRom{wantedRom(t, "g", good)}},
	}

	var mu sync.Mutex
	var events []ProgressEvent
	report, err := Build(context.Background(), dest, sets,
		BuildWithWorkers(2),
		BuildWithProgress(func(e ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		}))
	require.NoError(t, err)

	require.Len(t, report.Results, 4)
	assert.Equal(t, StatusWritten, report.Results[0].Status)
	assert.Equal(t, StatusFailed, report.Results[1].Status)
	require.ErrorIs(t, report.Results[1].Err, ErrFingerprintMismatch)
	assert.Equal(t, StatusEmpty, report.Results[2].Status)
	assert.Equal(t, StatusWritten, report.Results[3].Status)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].Set)
	assert.Equal(t, 2, report.Count(StatusWritten))

	assert.ElementsMatch(t, []string{"ok1.zip", "ok2.zip"}, dirNames(t, dest))
	assert.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, StageWriting, e.Stage)
		assert.Equal(t, 4, e.Total)
	}
}

func TestBuildDestinationError(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	testutil.WriteFile(t, blocker, []byte("x"))

	_, err := Build(context.Background(), filepath.Join(blocker, "out"), nil)
	require.Error(t, err)
}

func TestBuildMergedClones(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	parentRom := []byte("parent rom")
	cloneRom := []byte("clone rom!")
	testutil.WriteFile(t, filepath.Join(src, "p.bin"), parentRom)
	testutil.WriteFile(t, filepath.Join(src, "c.bin"), cloneRom)

	dat := testutil.Datfile(
		testutil.Set{Name: "parent", Roms: []testutil.Rom{testutil.RomFor("prog.bin", parentRom)}},
		testutil.Set{Name: "clone", CloneOf: "parent", Roms: []testutil.Rom{
			testutil.RomFor("prog.bin", cloneRom),
			testutil.RomFor("PROG.BIN", parentRom),
		}},
	)
	dest := t.TempDir()
	report := pipeline(t, dat, []string{src}, dest)
	require.Len(t, report.Results, 1)
	require.NoError(t, report.Results[0].Err)

	members := readMembers(t, filepath.Join(dest, "parent.zip"))
	assert.Equal(t, map[string][]byte{
		"prog.bin":       parentRom,
		"clone/prog.bin": cloneRom,
	}, members)
	assert.Equal(t, []string{"parent.zip"}, dirNames(t, dest))
}

func TestBuildKeepsContentSharedWithRewrittenSet(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	moved := []byte("moves to set a")
	kept := []byte("stays in set b")
	testutil.WriteCanonical(t, filepath.Join(dest, "b.zip"),
		testutil.File{Name: "x.bin", Data: moved},
		testutil.File{Name: "y.bin", Data: kept},
	)

	dat := testutil.Datfile(
		testutil.Set{Name: "b", Roms: []testutil.Rom{testutil.RomFor("y.bin", kept)}},
		testutil.Set{Name: "a", Roms: []testutil.Rom{testutil.RomFor("x.bin", moved)}},
	)
	report := pipeline(t, dat, []string{dest}, dest, BuildWithWorkers(1))
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		require.NoError(t, res.Err, res.Set)
		assert.Equal(t, StatusWritten, res.Status, res.Set)
		assert.Zero(t, res.Unresolved, res.Set)
	}

	assert.Equal(t, map[string][]byte{"y.bin": kept}, readMembers(t, filepath.Join(dest, "b.zip")))
	assert.Equal(t, map[string][]byte{"x.bin": moved}, readMembers(t, filepath.Join(dest, "a.zip")))
	requireCanonical(t, filepath.Join(dest, "a.zip"))
	assert.ElementsMatch(t, []string{"a.zip", "b.zip"}, dirNames(t, dest))
}

func TestPreserveSharedLeavesInputUntouched(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	data := []byte("shared")
	own := filepath.Join(dest, "own.zip")
	other := filepath.Join(dest, "other.zip")
	testutil.WriteCanonical(t, own, testutil.File{Name: "s.bin", Data: data})
	testutil.WriteCanonical(t, other, testutil.File{Name: "s.bin", Data: data})

	rom := wantedRom(t, "s.bin", data)
	rom.Resolved = true
	fromOther, fromOwn := rom, rom
	fromOther.Source = Location{Base: other, Member: "s.bin"}
	fromOwn.Source = Location{Base: own, Member: "s.bin"}
	sets := []WantedSet{
		{Name: "own", Roms: []WantedRom{fromOther, fromOwn}},
		{Name: "other", Roms: []WantedRom{fromOther}},
	}

	out, cleanup := preserveShared(dest, sets, slog.New(slog.DiscardHandler))
	require.Len(t, out, 2)
	assert.Equal(t, other, sets[0].Roms[0].Source.Base)

	snap := out[0].Roms[0].Source.Base
	assert.NotEqual(t, other, snap)
	assert.Equal(t, own, out[0].Roms[1].Source.Base)
	assert.Equal(t, other, out[1].Roms[0].Source.Base)

	require.NoError(t, os.Remove(other))
	rc, err := out[0].Roms[0].Source.Open()
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	cleanup()
	assert.NoFileExists(t, snap)
	assert.Equal(t, []string{"own.zip"}, dirNames(t, dest))
}
