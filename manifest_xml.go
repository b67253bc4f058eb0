package romset

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	torzip "github.com/meigma/romset/core"
)

// Element names of the XML manifest.
const (
	xmlRoot      = "romset"
	xmlDir       = "dir"
	xmlContainer = "zip"
	xmlFile      = "file"
)

type xmlNode struct {
	XMLName      xml.Name
	Name         string    `xml:"name,attr"`
	CRC32        string    `xml:"crc32,attr,omitempty"`
	FileSize     string    `xml:"file_size,attr,omitempty"`
	CompressSize string    `xml:"compress_size,attr,omitempty"`
	Children     []xmlNode `xml:",any"`
}

// MarshalManifestXML writes root as an indented XML document. The root
// element is named romset; directories, containers and files become dir,
// zip and file elements. Files carry crc32 as eight lowercase hex digits
// and file_size in bytes; container members also carry compress_size.
func MarshalManifestXML(w io.Writer, root *ManifestNode) error {
	doc := toXML(root)
	doc.XMLName.Local = xmlRoot

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func toXML(n *ManifestNode) xmlNode {
	out := xmlNode{Name: n.Name}
	switch n.Kind {
	case KindDir:
		out.XMLName.Local = xmlDir
	case KindContainer:
		out.XMLName.Local = xmlContainer
	case KindFile:
		out.XMLName.Local = xmlFile
		out.CRC32 = fmt.Sprintf("%08x", n.Fingerprint.CRC32)
		out.FileSize = strconv.FormatUint(n.Fingerprint.Size, 10)
		if n.Member {
			out.CompressSize = strconv.FormatUint(n.CompressedSize, 10)
		}
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, toXML(c))
	}
	return out
}

// ParseManifestXML reads a document written by MarshalManifestXML. The
// returned root is a directory node.
func ParseManifestXML(r io.Reader) (*ManifestNode, error) {
	var doc xmlNode
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if doc.XMLName.Local != xmlRoot {
		return nil, fmt.Errorf("%w: root element %q", ErrInvalidManifest, doc.XMLName.Local)
	}
	doc.XMLName.Local = xmlDir
	return fromXML(doc)
}

func fromXML(x xmlNode) (*ManifestNode, error) {
	out := &ManifestNode{Name: x.Name}
	switch x.XMLName.Local {
	case xmlDir:
		out.Kind = KindDir
	case xmlContainer:
		out.Kind = KindContainer
	case xmlFile:
		out.Kind = KindFile
		crc, err := strconv.ParseUint(x.CRC32, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: file %q crc32: %w", ErrInvalidManifest, x.Name, err)
		}
		size, err := strconv.ParseUint(x.FileSize, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: file %q file_size: %w", ErrInvalidManifest, x.Name, err)
		}
		out.Fingerprint = torzip.Fingerprint{CRC32: uint32(crc), Size: size} //nolint:gosec // parsed with bitSize 32
		if x.CompressSize != "" {
			cs, err := strconv.ParseUint(x.CompressSize, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: file %q compress_size: %w", ErrInvalidManifest, x.Name, err)
			}
			out.CompressedSize = cs
			out.Member = true
		}
		if len(x.Children) > 0 {
			return nil, fmt.Errorf("%w: file %q has children", ErrInvalidManifest, x.Name)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown element %q", ErrInvalidManifest, x.XMLName.Local)
	}
	for _, c := range x.Children {
		child, err := fromXML(c)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}
