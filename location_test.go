package romset

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/romset/internal/testutil"
)

func TestLocationOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.bin")
	archive := filepath.Join(dir, "set.zip")
	testutil.WriteFile(t, plain, []byte("plain"))
	testutil.WriteCanonical(t, archive, testutil.File{Name: "m.bin", Data: []byte("member")})

	tests := []struct {
		name    string
		loc     Location
		want    string
		str     string
		wantErr bool
	}{
		{name: "plain", loc: Location{Member: plain}, want: "plain", str: plain},
		{name: "member", loc: Location{Base: archive, Member: "m.bin"}, want: "member", str: archive + ":m.bin"},
		{name: "missing member", loc: Location{Base: archive, Member: "nope"}, wantErr: true},
		{name: "missing file", loc: Location{Member: filepath.Join(dir, "nope")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rc, err := tt.loc.Open()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, tt.want, string(data))
			assert.Equal(t, tt.str, tt.loc.String())
		})
	}
}

func TestProgressFuncNil(t *testing.T) {
	t.Parallel()

	var fn ProgressFunc
	assert.NotPanics(t, func() { fn.report(ProgressEvent{Stage: StageIndexing}) })
	assert.Equal(t, "indexing", StageIndexing.String())
	assert.Equal(t, "writing", StageWriting.String())
	assert.Equal(t, "manifest", StageManifest.String())
}
