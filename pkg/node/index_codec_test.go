package node

import (
	"testing"

	"indextree/pkg/nid"
)

func TestIndexCodecRoundTrip(t *testing.T) {
	codec := IndexCodec[int]{Cmp: intIndexCmp(), KeyCodec: intCodec{}}
	src := NewIndex(intIndexCmp(), intCodec{},
		[]int{10, 20, 30},
		[]nid.NID{n(0), n(1), n(2), n(3)})

	buf := make([]byte, codec.EncodedSize(src.Len()))
	codec.Encode(src, buf)

	decoded, err := codec.DecodeRaw(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Len() != src.Len() {
		t.Fatalf("length mismatch: got %d want %d", decoded.Len(), src.Len())
	}
	for i := 0; i < src.Len(); i++ {
		if decoded.PivotAt(i) != src.PivotAt(i) {
			t.Fatalf("pivot %d mismatch", i)
		}
	}
	for i := 0; i <= src.Len(); i++ {
		if decoded.ChildAt(i) != src.ChildAt(i) {
			t.Fatalf("child %d mismatch", i)
		}
	}
}

func TestIndexCodecRejectsWrongTag(t *testing.T) {
	codec := IndexCodec[int]{Cmp: intIndexCmp(), KeyCodec: intCodec{}}
	buf := make([]byte, 3)
	buf[0] = leafKindTag
	if _, err := codec.DecodeRaw(buf); err == nil {
		t.Fatal("expected error for wrong kind tag")
	}
}
