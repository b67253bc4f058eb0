package romset

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/romset/internal/testutil"
)

func manifestFixture(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "collection")
	inner := testutil.Canonical(t, testutil.File{Name: "x.bin", Data: []byte("nested payload")})
	testutil.WriteCanonical(t, filepath.Join(root, "set.zip"),
		testutil.File{Name: "a.bin", Data: bytes.Repeat([]byte("a"), 4096)},
		testutil.File{Name: "nested.zip", Data: inner},
		testutil.File{Name: "z.bin", Data: []byte("not a container")})
	testutil.WritePlainZip(t, filepath.Join(root, "plain.zip"), testutil.File{Name: "p", Data: []byte("p")})
	testutil.WriteFile(t, filepath.Join(root, "plain.bin"), []byte("plain"))
	testutil.WriteFile(t, filepath.Join(root, "sub", "deep.txt"), []byte("deep"))
	return root
}

func TestBuildManifest(t *testing.T) {
	t.Parallel()

	root := manifestFixture(t)
	var paths []string
	node, err := BuildManifest(context.Background(), root,
		ManifestWithProgress(func(e ProgressEvent) { paths = append(paths, e.Path) }))
	require.NoError(t, err)

	assert.Equal(t, KindDir, node.Kind)
	assert.Equal(t, "collection", node.Name)
	require.Len(t, node.Children, 4)

	names := make([]string, len(node.Children))
	for i, c := range node.Children {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"plain.bin", "plain.zip", "set.zip", "sub"}, names)

	plainBin := node.Children[0]
	assert.Equal(t, KindFile, plainBin.Kind)
	assert.Equal(t, fingerprintOf(t, []byte("plain")), plainBin.Fingerprint)
	assert.False(t, plainBin.Member)

	// A readable but non-canonical archive is just a file.
	assert.Equal(t, KindFile, node.Children[1].Kind)

	set := node.Children[2]
	require.Equal(t, KindContainer, set.Kind)
	require.Len(t, set.Children, 3)

	a := set.Children[0]
	assert.Equal(t, "a.bin", a.Name)
	assert.Equal(t, KindFile, a.Kind)
	assert.True(t, a.Member)
	assert.Equal(t, uint64(4096), a.Fingerprint.Size)
	assert.Positive(t, a.CompressedSize)
	assert.Less(t, a.CompressedSize, uint64(4096))

	nested := set.Children[1]
	assert.Equal(t, "nested.zip", nested.Name)
	require.Equal(t, KindContainer, nested.Kind)
	require.Len(t, nested.Children, 1)
	assert.Equal(t, "x.bin", nested.Children[0].Name)
	assert.Equal(t, fingerprintOf(t, []byte("nested payload")), nested.Children[0].Fingerprint)

	assert.Equal(t, KindFile, set.Children[2].Kind)

	sub := node.Children[3]
	assert.Equal(t, KindDir, sub.Kind)
	require.Len(t, sub.Children, 1)
	assert.Equal(t, "deep.txt", sub.Children[0].Name)

	assert.Len(t, paths, 5)
}

func TestBuildManifestErrors(t *testing.T) {
	t.Parallel()

	_, err := BuildManifest(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	testutil.WriteFile(t, file, []byte("x"))
	_, err = BuildManifest(context.Background(), file)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BuildManifest(ctx, manifestFixture(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestManifestXMLRoundTrip(t *testing.T) {
	t.Parallel()

	node, err := BuildManifest(context.Background(), manifestFixture(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, MarshalManifestXML(&buf, node))
	doc := buf.String()
	assert.True(t, strings.HasPrefix(doc, "<?xml"))
	assert.Contains(t, doc, `<romset name="collection">`)
	assert.Contains(t, doc, `<zip name="set.zip">`)
	assert.Contains(t, doc, `<dir name="sub">`)
	assert.Contains(t, doc, `compress_size="`)

	parsed, err := ParseManifestXML(&buf)
	require.NoError(t, err)
	assert.Equal(t, node, parsed)
}

func TestManifestXMLFormat(t *testing.T) {
	t.Parallel()

	node := &ManifestNode{Kind: KindDir, Name: "root", Children: []*ManifestNode{
		{Kind: KindFile, Name: "f.bin", Fingerprint: fingerprintOf(t, []byte("abc"))},
	}}
	var buf bytes.Buffer
	require.NoError(t, MarshalManifestXML(&buf, node))
	assert.Contains(t, buf.String(), `<file name="f.bin" crc32="352441c2" file_size="3"></file>`)
	assert.NotContains(t, buf.String(), "compress_size")
}

func TestParseManifestXMLErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"wrong root", `<datafile name="x"></datafile>`},
		{"unknown element", `<romset name="x"><blob name="y"/></romset>`},
		{"bad crc", `<romset name="x"><file name="f" crc32="zz" file_size="1"/></romset>`},
		{"bad size", `<romset name="x"><file name="f" crc32="00000000" file_size="-1"/></romset>`},
		{"not xml", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseManifestXML(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestManifestFlatBuffersRoundTrip(t *testing.T) {
	t.Parallel()

	node, err := BuildManifest(context.Background(), manifestFixture(t))
	require.NoError(t, err)

	buf := MarshalManifest(node)
	assert.Equal(t, ManifestIdentifier, string(buf[4:8]))

	decoded, err := UnmarshalManifest(buf)
	require.NoError(t, err)
	assert.Equal(t, node, decoded)
}

func TestUnmarshalManifestErrors(t *testing.T) {
	t.Parallel()

	valid := MarshalManifest(&ManifestNode{Kind: KindDir, Name: "root", Children: []*ManifestNode{
		{Kind: KindFile, Name: "a"},
	}})

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"wrong identifier", append([]byte{0, 0, 0, 0}, []byte("NOPE....")...)},
		{"truncated", valid[:12]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := UnmarshalManifest(tt.buf)
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestNodeKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "dir", KindDir.String())
	assert.Equal(t, "file", KindFile.String())
	assert.Equal(t, "container", KindContainer.String())
	assert.Equal(t, "unknown", NodeKind(9).String())
}
