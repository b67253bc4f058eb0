package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDat = `<?xml version="1.0"?>
<!DOCTYPE datafile PUBLIC "-//Logiqx//DTD ROM Management Datafile//EN" "http://www.logiqx.com/Dats/datafile.dtd">
<datafile>
	<header>
		<name>Sample</name>
		<description>Sample catalog</description>
		<version>1.0</version>
	</header>
	<game name="parent">
		<description>Parent set</description>
		<rom name="a.bin" size="4" crc="aabbccdd"/>
		<rom name="b.bin" size="0x10" crc="0X00000001"/>
	</game>
	<machine name=" clone " cloneof="parent">
		<rom name="sub\c.bin" size="1f" crc="12345678"/>
		<rom name="bad.bin" size="8" crc="0" status="nodump"/>
		<sample name="ignored"/>
	</machine>
	<resource name="ignored"/>
</datafile>
`

func TestParse(t *testing.T) {
	t.Parallel()

	df, err := Parse(strings.NewReader(sampleDat))
	require.NoError(t, err)

	assert.Equal(t, "Sample", df.Header.Name)
	assert.Equal(t, "1.0", df.Header.Version)
	require.Len(t, df.Sets, 2)

	parent := df.Sets[0]
	assert.Equal(t, "parent", parent.Name)
	assert.Empty(t, parent.CloneOf)
	assert.Equal(t, "Parent set", parent.Description)
	require.Len(t, parent.Roms, 2)
	assert.Equal(t, Rom{Name: "a.bin", Size: "4", CRC: "aabbccdd"}, parent.Roms[0])

	clone := df.Sets[1]
	assert.Equal(t, " clone ", clone.Name)
	assert.Equal(t, "parent", clone.CloneOf)
	require.Len(t, clone.Roms, 2)
	assert.True(t, clone.Roms[1].NoDump())
	assert.False(t, clone.Roms[0].NoDump())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"wrong root", `<mame><machine name="x"/></mame>`, ErrNotDatafile},
		{"empty", ``, nil},
		{"unterminated", `<datafile><game name="x">`, nil},
		{"not xml", `this is not xml <<<`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sample.dat")
	require.NoError(t, os.WriteFile(path, []byte(sampleDat), 0o600))
	df, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, df.Sets, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.dat"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"a.bin", "a.bin"},
		{`dir\file.bin`, "dir/file.bin"},
		{` dir \ file.bin `, "dir/file.bin"},
		{"readme.", "readme"},
		{"readme...", "readme"},
		{"a/b/c", "a/b/c"},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeName(tt.input))
		})
	}
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    uint64
		wantErr bool
	}{
		{"4", 4, false},
		{"1024", 1024, false},
		{"1f", 31, false},
		{"0x10", 16, false},
		{"ff", 255, false},
		{"", 0, true},
		{"zz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadRom)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCRC(t *testing.T) {
	t.Parallel()

	got, err := ParseCRC("aabbccdd")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAABBCCDD), got)

	got, err = ParseCRC("0XDEADBEEF")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), got)

	_, err = ParseCRC("123456789")
	assert.ErrorIs(t, err, ErrBadRom)
	_, err = ParseCRC("")
	assert.ErrorIs(t, err, ErrBadRom)
}
