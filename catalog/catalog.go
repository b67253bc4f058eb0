// Package catalog reads datfiles: XML trees of sets ("machine" or "game"
// elements) each listing the roms that belong in one output container.
//
// Parsing preserves document order, which the resolver relies on for
// deterministic clone merging and duplicate handling.
package catalog

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// StatusNoDump marks a rom with no verifiable dump.
const StatusNoDump = "nodump"

var (
	// ErrNotDatafile is returned when the document root is not <datafile>.
	ErrNotDatafile = errors.New("catalog: root element is not datafile")

	// ErrBadRom is returned when a rom's size or crc cannot be parsed.
	ErrBadRom = errors.New("catalog: invalid rom record")
)

// Datafile is a parsed catalog.
type Datafile struct {
	Header Header
	Sets   []Set
}

// Header carries the optional descriptive header of a datfile.
type Header struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Version     string `xml:"version"`
}

// Set is one machine or game record.
type Set struct {
	Name        string `xml:"name,attr"`
	CloneOf     string `xml:"cloneof,attr"`
	Description string `xml:"description"`
	Roms        []Rom  `xml:"rom"`
}

// Rom is a rom record with its attributes exactly as written in the datfile.
type Rom struct {
	Name   string `xml:"name,attr"`
	Size   string `xml:"size,attr"`
	CRC    string `xml:"crc,attr"`
	Status string `xml:"status,attr"`
}

// NoDump reports whether the rom has no verifiable dump.
func (r Rom) NoDump() bool {
	return r.Status == StatusNoDump
}

// Load parses the datfile at path.
func Load(path string) (*Datafile, error) {
	f, err := os.Open(path) //nolint:gosec // caller-provided path is intentional
	if err != nil {
		return nil, err
	}
	defer f.Close()
	df, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return df, nil
}

// Parse reads a datfile from r. Sets are returned in document order;
// elements other than header, machine and game are ignored.
func Parse(r io.Reader) (*Datafile, error) {
	dec := xml.NewDecoder(r)
	// Datfiles commonly declare no encoding or a latin-1 one; names are
	// passed through byte for byte.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	root, err := rootElement(dec)
	if err != nil {
		return nil, err
	}
	if root.Name.Local != "datafile" {
		return nil, fmt.Errorf("%w: <%s>", ErrNotDatafile, root.Name.Local)
	}

	df := &Datafile{}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog: unterminated datafile element")
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "header":
				if err := dec.DecodeElement(&df.Header, &t); err != nil {
					return nil, err
				}
			case "machine", "game":
				var s Set
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				df.Sets = append(df.Sets, s)
			default:
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			return df, nil
		}
	}
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, fmt.Errorf("catalog: empty document")
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// NormalizeName converts a datfile rom name to the member name used in the
// output container. Backslashes become slashes, every path segment is
// trimmed of surrounding whitespace, and trailing dots are removed.
func NormalizeName(name string) string {
	segments := strings.Split(strings.ReplaceAll(name, `\`, "/"), "/")
	for i, s := range segments {
		segments[i] = strings.TrimSpace(s)
	}
	return strings.TrimRight(strings.Join(segments, "/"), ".")
}

// ParseSize parses a rom size. Sizes are decimal, but some datfiles write
// them in hexadecimal; that form is tried when decimal parsing fails.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	n, err := strconv.ParseUint(trimHexPrefix(s), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q", ErrBadRom, s)
	}
	return n, nil
}

// ParseCRC parses a hexadecimal CRC32.
func ParseCRC(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseUint(trimHexPrefix(s), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: crc %q", ErrBadRom, s)
	}
	return uint32(n), nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
