package node

import (
	"encoding/binary"
	"fmt"

	"indextree/pkg/kv"
)

// leafKindTag and indexKindTag are the on-wire kind_tag values distinguishing
// leaf and index node encodings.
const (
	leafKindTag  byte = 0x01
	indexKindTag byte = 0x02
)

// LeafCodec encodes and decodes a Leaf to the fixed-size wire format of
// the leaf wire format:
//
//	u8   kind_tag (= LeafKind UID)
//	u16  n            // number of entries
//	K[n] keys
//	V[n] values
//
// Total size = 3 + n*(sizeof(K)+sizeof(V)), little-endian.
type LeafCodec[K any, V any] struct {
	Cmp      kv.Comparator[K]
	KeyCodec kv.FixedCodec[K]
	ValCodec kv.FixedCodec[V]
}

// EncodedSize returns the byte size of a leaf with n entries.
func (c LeafCodec[K, V]) EncodedSize(n int) int {
	return 3 + n*(c.KeyCodec.Size()+c.ValCodec.Size())
}

// Encode serializes leaf into dst, which must be at least
// EncodedSize(leaf.Len()) bytes.
func (c LeafCodec[K, V]) Encode(leaf *Leaf[K, V], dst []byte) {
	n := leaf.Len()
	dst[0] = leafKindTag
	binary.LittleEndian.PutUint16(dst[1:3], uint16(n))
	off := 3
	ks, vs := c.KeyCodec.Size(), c.ValCodec.Size()
	for i := 0; i < n; i++ {
		c.KeyCodec.Encode(leaf.keys[i], dst[off:off+ks])
		off += ks
	}
	for i := 0; i < n; i++ {
		c.ValCodec.Encode(leaf.values[i], dst[off:off+vs])
		off += vs
	}
}

// Decode parses a leaf previously written by Encode.
func (c LeafCodec[K, V]) Decode(src []byte) (*Leaf[K, V], error) {
	if len(src) < 3 {
		return nil, fmt.Errorf("node: leaf buffer too short: %d bytes", len(src))
	}
	if src[0] != leafKindTag {
		return nil, fmt.Errorf("node: expected leaf kind_tag 0x%02x, got 0x%02x", leafKindTag, src[0])
	}
	n := int(binary.LittleEndian.Uint16(src[1:3]))
	ks, vs := c.KeyCodec.Size(), c.ValCodec.Size()
	want := c.EncodedSize(n)
	if len(src) < want {
		return nil, fmt.Errorf("node: leaf buffer truncated: have %d want %d", len(src), want)
	}
	keys := make([]K, n)
	values := make([]V, n)
	off := 3
	for i := 0; i < n; i++ {
		keys[i] = c.KeyCodec.Decode(src[off : off+ks])
		off += ks
	}
	for i := 0; i < n; i++ {
		values[i] = c.ValCodec.Decode(src[off : off+vs])
		off += vs
	}
	return NewLeafFrom(c.Cmp, keys, values), nil
}
