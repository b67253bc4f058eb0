package romset

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	torzip "github.com/meigma/romset/core"
	"github.com/meigma/romset/internal/fb"
)

// ManifestIdentifier is the FlatBuffers file identifier of binary manifests.
const ManifestIdentifier = "RSMF"

// MarshalManifest serializes a manifest tree to FlatBuffers format.
func MarshalManifest(root *ManifestNode) []byte {
	builder := flatbuffers.NewBuilder(1024)
	off := buildNode(builder, root)
	builder.FinishWithFileIdentifier(off, []byte(ManifestIdentifier))
	return builder.FinishedBytes()
}

func buildNode(builder *flatbuffers.Builder, n *ManifestNode) flatbuffers.UOffsetT {
	// Children and strings must be complete before the table is started.
	childOffsets := make([]flatbuffers.UOffsetT, len(n.Children))
	for i := len(n.Children) - 1; i >= 0; i-- {
		childOffsets[i] = buildNode(builder, n.Children[i])
	}
	var childrenOffset flatbuffers.UOffsetT
	if len(childOffsets) > 0 {
		fb.NodeStartChildrenVector(builder, len(childOffsets))
		for i := len(childOffsets) - 1; i >= 0; i-- {
			builder.PrependUOffsetT(childOffsets[i])
		}
		childrenOffset = builder.EndVector(len(childOffsets))
	}
	nameOffset := builder.CreateString(n.Name)

	fb.NodeStart(builder)
	fb.NodeAddKind(builder, fb.NodeKind(n.Kind))
	fb.NodeAddName(builder, nameOffset)
	if n.Kind == KindFile {
		fb.NodeAddCrc32(builder, n.Fingerprint.CRC32)
		fb.NodeAddSize(builder, n.Fingerprint.Size)
		fb.NodeAddCompressedSize(builder, n.CompressedSize)
		fb.NodeAddMember(builder, n.Member)
	}
	if childrenOffset != 0 {
		fb.NodeAddChildren(builder, childrenOffset)
	}
	return fb.NodeEnd(builder)
}

// UnmarshalManifest decodes a tree produced by MarshalManifest. The buffer
// is not retained.
func UnmarshalManifest(buf []byte) (root *ManifestNode, err error) {
	if len(buf) < 8 || string(buf[4:8]) != ManifestIdentifier {
		return nil, fmt.Errorf("%w: missing %s identifier", ErrInvalidManifest, ManifestIdentifier)
	}
	// Accessors panic on out-of-range offsets.
	defer func() {
		if r := recover(); r != nil {
			root, err = nil, fmt.Errorf("%w: %v", ErrInvalidManifest, r)
		}
	}()
	return readNode(fb.GetRootAsNode(buf, 0))
}

func readNode(n *fb.Node) (*ManifestNode, error) {
	out := &ManifestNode{Name: string(n.Name())}
	switch n.Kind() {
	case fb.NodeKindDir:
		out.Kind = KindDir
	case fb.NodeKindContainer:
		out.Kind = KindContainer
	case fb.NodeKindFile:
		out.Kind = KindFile
		out.Fingerprint = torzip.Fingerprint{CRC32: n.Crc32(), Size: n.Size()}
		out.CompressedSize = n.CompressedSize()
		out.Member = n.Member()
	default:
		return nil, fmt.Errorf("%w: unknown node kind %s", ErrInvalidManifest, n.Kind())
	}

	if count := n.ChildrenLength(); count > 0 {
		if out.Kind == KindFile {
			return nil, fmt.Errorf("%w: file %q has children", ErrInvalidManifest, out.Name)
		}
		out.Children = make([]*ManifestNode, 0, count)
		var child fb.Node
		for i := range count {
			if !n.Children(&child, i) {
				break
			}
			c, err := readNode(&child)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, c)
		}
	}
	return out, nil
}
