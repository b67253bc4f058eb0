package torzip

import (
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveMembers(t *testing.T) {
	t.Parallel()

	data, entries := writeContainer(t, sampleMembers()...)
	a, err := NewArchive(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	members := a.Members()
	require.Len(t, members, len(entries))
	for i, m := range members {
		assert.Equal(t, entries[i].Name, m.Name)
		assert.Equal(t, entries[i].Fingerprint(), m.Fingerprint())
		assert.Equal(t, MethodDeflate, m.Method)
		assert.False(t, m.IsDir())
	}
}

func TestArchiveOpen(t *testing.T) {
	t.Parallel()

	payload := patternPayload(100_000)
	data, _ := writeContainer(t, bytesSource("dir/data.bin", payload))
	a, err := NewArchive(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	rc, err := a.Open("dir/data.bin")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, got)

	mr, err := a.OpenSeekable("dir/data.bin")
	require.NoError(t, err)
	defer mr.Close()
	_, err = mr.Seek(90_000, io.SeekStart)
	require.NoError(t, err)
	tail, err := io.ReadAll(mr)
	require.NoError(t, err)
	assert.Equal(t, payload[90_000:], tail)

	_, err = a.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = a.OpenSeekable("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveReadsStreamingLayout(t *testing.T) {
	t.Parallel()

	// Data descriptors are rejected by Validate but readable here.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("streamed.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	assert.False(t, IsValid(bytes.NewReader(buf.Bytes())))

	a, err := NewArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	members := a.Members()
	require.Len(t, members, 1)
	assert.Equal(t, crc32.ChecksumIEEE([]byte("streamed")), members[0].CRC32)
}

func TestOpenArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "set.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = NewWriter().Write(context.Background(), f, sampleMembers())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	a, err := OpenArchive(path)
	require.NoError(t, err)
	assert.Len(t, a.Members(), 3)
	require.NoError(t, a.Close())

	_, err = OpenArchive(filepath.Join(t.TempDir(), "absent.zip"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(t.TempDir(), "garbage.zip")
	require.NoError(t, os.WriteFile(garbage, []byte("not a container"), 0o600))
	_, err = OpenArchive(garbage)
	assert.Error(t, err)
}
