package torzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/romset/core/internal/record"
	"github.com/meigma/romset/core/testutil"
)

func bytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Size: uint64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func writeContainer(t *testing.T, members ...Source) ([]byte, []Entry) {
	t.Helper()
	buf := testutil.NewBuffer(nil)
	entries, err := NewWriter().Write(context.Background(), buf, members)
	require.NoError(t, err)
	return buf.Bytes(), entries
}

func sampleMembers() []Source {
	return []Source{
		bytesSource("alpha.bin", bytes.Repeat([]byte("alpha"), 1000)),
		bytesSource("beta/gamma.rom", []byte("gamma")),
		bytesSource("empty.bin", nil),
	}
}

func TestWriterDeterministic(t *testing.T) {
	t.Parallel()

	first, _ := writeContainer(t, sampleMembers()...)
	second, _ := writeContainer(t, sampleMembers()...)
	assert.Equal(t, first, second)

	// A reused Writer yields the same bytes as a fresh one.
	w := NewWriter()
	for range 2 {
		buf := testutil.NewBuffer(nil)
		_, err := w.Write(context.Background(), buf, sampleMembers())
		require.NoError(t, err)
		assert.Equal(t, first, buf.Bytes())
	}
}

func TestWriterCanonicalFields(t *testing.T) {
	t.Parallel()

	data, entries := writeContainer(t, sampleMembers()...)
	require.Len(t, entries, 3)

	for _, e := range entries {
		off := e.HeaderOffset
		assert.Equal(t, record.SigLocal, binary.LittleEndian.Uint32(data[off:]))
		assert.Equal(t, uint16(20), binary.LittleEndian.Uint16(data[off+4:]), e.Name)
		assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[off+6:]), e.Name)
		assert.Equal(t, uint16(8), binary.LittleEndian.Uint16(data[off+8:]), e.Name)
		assert.Equal(t, uint16(0xBC00), binary.LittleEndian.Uint16(data[off+10:]), e.Name)
		assert.Equal(t, uint16(0x2198), binary.LittleEndian.Uint16(data[off+12:]), e.Name)
		assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[off+28:]), e.Name)
	}

	endOff := len(data) - record.EndLen - CommentLen
	require.Equal(t, record.SigEnd, binary.LittleEndian.Uint32(data[endOff:]))
	end := record.DecodeEnd(data[endOff+4:])
	assert.Equal(t, uint16(3), end.EntriesThisDisk)
	assert.Equal(t, uint16(3), end.EntriesTotal)
	assert.Equal(t, uint16(CommentLen), binary.LittleEndian.Uint16(data[endOff+20:]))

	dir := data[end.DirectoryOffset : end.DirectoryOffset+end.DirectorySize]
	want := fmt.Sprintf("TORRENTZIPPED-%08X", crc32.ChecksumIEEE(dir))
	assert.Equal(t, want, string(data[endOff+record.EndLen:]))
	assert.Len(t, want, CommentLen)
}

func TestWriterOutputValidates(t *testing.T) {
	t.Parallel()

	data, written := writeContainer(t, sampleMembers()...)
	got, err := Inspect(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, written, got)
	assert.NoError(t, CheckIdentity(bytes.NewReader(data), int64(len(data))))
}

func TestWriterZeroPadding(t *testing.T) {
	t.Parallel()

	data, entries := writeContainer(t, Source{Name: "pad.bin", Size: 10})
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(10), entries[0].Size)
	assert.Equal(t, crc32.ChecksumIEEE(make([]byte, 10)), entries[0].CRC32)

	a, err := NewArchive(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	rc, err := a.Open("pad.bin")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), content)
}

func TestWriterEmpty(t *testing.T) {
	t.Parallel()

	data, entries := writeContainer(t)
	assert.Empty(t, entries)
	assert.Len(t, data, record.EndLen+CommentLen)
	assert.True(t, IsValid(bytes.NewReader(data)))
	assert.True(t, strings.HasSuffix(string(data), fmt.Sprintf("TORRENTZIPPED-%08X", crc32.ChecksumIEEE(nil))))
}

func TestWriterErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		members []Source
		wantErr error
	}{
		{
			name:    "duplicate name",
			members: []Source{bytesSource("a", []byte("1")), bytesSource("a", []byte("2"))},
			wantErr: ErrDuplicateName,
		},
		{
			name: "source failure",
			members: []Source{{
				Name: "broken",
				Open: func() (io.ReadCloser, error) { return &testutil.FailingReader{N: 100}, nil },
			}},
			wantErr: testutil.ErrInjected,
		},
		{
			name: "open failure",
			members: []Source{{
				Name: "missing",
				Open: func() (io.ReadCloser, error) { return nil, testutil.ErrInjected },
			}},
			wantErr: testutil.ErrInjected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWriter().Write(context.Background(), testutil.NewBuffer(nil), tt.members)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := NewWriter().Write(context.Background(), testutil.NewBuffer(nil), []Source{{Name: ""}})
	assert.Error(t, err)
}

func TestWriterCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWriter().Write(ctx, testutil.NewBuffer(nil), sampleMembers())
	require.ErrorIs(t, err, context.Canceled)
}

func TestWriterPlainWriteSeeker(t *testing.T) {
	t.Parallel()

	buf := testutil.NewBuffer(nil)
	_, err := NewWriter().Write(context.Background(), testutil.SeqWriteSeeker{B: buf}, sampleMembers())
	require.NoError(t, err)

	want, _ := writeContainer(t, sampleMembers()...)
	assert.Equal(t, want, buf.Bytes())
}

func TestWriterContentReadable(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("0123456789"), 5000)
	data, _ := writeContainer(t, bytesSource("digits.txt", payload))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "TORRENTZIPPED-", zr.Comment[:len(CommentPrefix)])
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAppendMatchesFreshWrite(t *testing.T) {
	t.Parallel()

	all := sampleMembers()
	want, _ := writeContainer(t, all...)

	initial, _ := writeContainer(t, all[0])
	buf := testutil.NewBuffer(initial)
	entries, err := NewWriter().Append(context.Background(), buf, all[1:])
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, want, buf.Bytes())
	assert.True(t, IsValid(bytes.NewReader(buf.Bytes())))
}

func TestAppendEmptyFile(t *testing.T) {
	t.Parallel()

	buf := testutil.NewBuffer(nil)
	_, err := NewWriter().Append(context.Background(), buf, sampleMembers())
	require.NoError(t, err)

	want, _ := writeContainer(t, sampleMembers()...)
	assert.Equal(t, want, buf.Bytes())
}

func TestAppendRejects(t *testing.T) {
	t.Parallel()

	var plain bytes.Buffer
	zw := zip.NewWriter(&plain)
	fw, err := zw.Create("a.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	canonical, _ := writeContainer(t, sampleMembers()...)
	tampered := append([]byte(nil), canonical...)
	tampered[len(tampered)-1] ^= 0x01

	tests := []struct {
		name    string
		data    []byte
		members []Source
		wantErr error
	}{
		{"not canonical", plain.Bytes(), sampleMembers(), ErrNotCanonical},
		{"short", []byte("PK"), sampleMembers(), ErrNotCanonical},
		{"identity mismatch", tampered, sampleMembers(), ErrNotCanonical},
		{"duplicate name", canonical, sampleMembers()[:1], ErrDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWriter().Append(context.Background(), testutil.NewBuffer(tt.data), tt.members)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIdentityComment(t *testing.T) {
	t.Parallel()

	got := IdentityComment([]byte("directory"))
	assert.Equal(t, fmt.Sprintf("TORRENTZIPPED-%08X", crc32.ChecksumIEEE([]byte("directory"))), got)
	assert.Len(t, got, CommentLen)
}
