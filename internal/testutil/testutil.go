// Package testutil provides filesystem fixtures for romset tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	torzip "github.com/meigma/romset/core"
	memfile "github.com/meigma/romset/core/testutil"
)

// File is a named payload used to build fixtures.
type File struct {
	Name string
	Data []byte
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(tb testing.TB, path string, data []byte) {
	tb.Helper()
	require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(tb, os.WriteFile(path, data, 0o600))
}

// Canonical returns the canonical container holding files in order.
func Canonical(tb testing.TB, files ...File) []byte {
	tb.Helper()
	buf := memfile.NewBuffer(nil)
	sources := make([]torzip.Source, len(files))
	for i, f := range files {
		data := f.Data
		sources[i] = torzip.Source{
			Name: f.Name,
			Size: uint64(len(data)),
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		}
	}
	_, err := torzip.NewWriter().Write(context.Background(), buf, sources)
	require.NoError(tb, err)
	return buf.Bytes()
}

// WriteCanonical writes the canonical container holding files to path.
func WriteCanonical(tb testing.TB, path string, files ...File) {
	tb.Helper()
	WriteFile(tb, path, Canonical(tb, files...))
}

// PlainZip returns an ordinary zip archive holding files in order. It is
// readable but never canonical: entries carry real timestamps and a
// streaming data descriptor.
func PlainZip(tb testing.TB, files ...File) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		require.NoError(tb, err)
		_, err = w.Write(f.Data)
		require.NoError(tb, err)
	}
	require.NoError(tb, zw.Close())
	return buf.Bytes()
}

// WritePlainZip writes an ordinary zip archive holding files to path.
func WritePlainZip(tb testing.TB, path string, files ...File) {
	tb.Helper()
	WriteFile(tb, path, PlainZip(tb, files...))
}

// Rom describes one rom element of a datfile fixture. Size and CRC are
// written verbatim; Status is omitted when empty.
type Rom struct {
	Name   string
	Size   string
	CRC    string
	Status string
}

// Set describes one game element of a datfile fixture.
type Set struct {
	Name    string
	CloneOf string
	Roms    []Rom
}

// RomFor returns a rom element describing data.
func RomFor(name string, data []byte) Rom {
	fp, err := torzip.FingerprintReader(context.Background(), bytes.NewReader(data))
	if err != nil {
		panic(err)
	}
	return Rom{Name: name, Size: fmt.Sprint(fp.Size), CRC: fmt.Sprintf("%08x", fp.CRC32)}
}

// Datfile renders sets as a datfile document.
func Datfile(sets ...Set) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` + "\n<datafile>\n")
	b.WriteString("  <header><name>fixture</name><description>fixture</description></header>\n")
	for _, s := range sets {
		b.WriteString("  <game")
		writeAttr(&b, "name", s.Name)
		if s.CloneOf != "" {
			writeAttr(&b, "cloneof", s.CloneOf)
		}
		b.WriteString(">\n")
		for _, r := range s.Roms {
			b.WriteString("    <rom")
			writeAttr(&b, "name", r.Name)
			writeAttr(&b, "size", r.Size)
			writeAttr(&b, "crc", r.CRC)
			if r.Status != "" {
				writeAttr(&b, "status", r.Status)
			}
			b.WriteString("/>\n")
		}
		b.WriteString("  </game>\n")
	}
	b.WriteString("</datafile>\n")
	return b.String()
}

func writeAttr(b *strings.Builder, key, value string) {
	b.WriteString(" " + key + `="`)
	_ = xml.EscapeText(b, []byte(value))
	b.WriteString(`"`)
}
