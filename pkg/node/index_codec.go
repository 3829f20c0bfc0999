package node

import (
	"encoding/binary"
	"fmt"
	"time"

	"indextree/pkg/kv"
	"indextree/pkg/nid"
)

// IndexCodec encodes and decodes an Index node to the fixed-size wire
// wire format:
//
//	u8      kind_tag (= IndexKind UID)
//	u16     n            // number of pivots
//	K[n]    pivots
//	NID[n+1] children
type IndexCodec[K any] struct {
	Cmp       kv.Comparator[K]
	KeyCodec  kv.FixedCodec[K]
	HotWindow time.Duration
	HotLimit  int
}

// EncodedSize returns the byte size of an index node with n pivots.
func (c IndexCodec[K]) EncodedSize(n int) int {
	return 3 + n*c.KeyCodec.Size() + (n+1)*nid.EncodedSize
}

// Encode serializes idx into dst, which must be at least
// EncodedSize(idx.Len()) bytes. Encoding does not force materialization or
// participate in the hot-access heuristic — flush is out-of-band I/O, not a
// traversal read.
func (c IndexCodec[K]) Encode(idx *Index[K], dst []byte) {
	n := idx.Len()
	dst[0] = indexKindTag
	binary.LittleEndian.PutUint16(dst[1:3], uint16(n))
	off := 3
	ks := c.KeyCodec.Size()
	for i := 0; i < n; i++ {
		c.KeyCodec.Encode(idx.pivotAt(i), dst[off:off+ks])
		off += ks
	}
	nc := nid.Codec{}
	for i := 0; i <= n; i++ {
		nc.Encode(idx.childAt(i), dst[off:off+nid.EncodedSize])
		off += nid.EncodedSize
	}
}

// DecodeRaw returns a raw (unmaterialized) view over src, as a cache would
// hand back on fetching a page it has not yet touched for mutation.
func (c IndexCodec[K]) DecodeRaw(src []byte) (*Index[K], error) {
	if len(src) < 3 {
		return nil, fmt.Errorf("node: index buffer too short: %d bytes", len(src))
	}
	if src[0] != indexKindTag {
		return nil, fmt.Errorf("node: expected index kind_tag 0x%02x, got 0x%02x", indexKindTag, src[0])
	}
	n := int(binary.LittleEndian.Uint16(src[1:3]))
	want := c.EncodedSize(n)
	if len(src) < want {
		return nil, fmt.Errorf("node: index buffer truncated: have %d want %d", len(src), want)
	}
	hw, hl := c.HotWindow, c.HotLimit
	if hw == 0 {
		hw = DefaultHotWindow
	}
	if hl == 0 {
		hl = DefaultHotLimit
	}
	return NewIndexFromRaw(c.Cmp, c.KeyCodec, src[:want], hw, hl), nil
}
