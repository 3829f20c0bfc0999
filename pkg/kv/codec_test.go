package kv

import (
	"bytes"
	"testing"
)

func TestOrderedComparator(t *testing.T) {
	cmp := Ordered[int]()
	if cmp(1, 2) >= 0 {
		t.Fatal("1 should compare less than 2")
	}
	if cmp(2, 1) <= 0 {
		t.Fatal("2 should compare greater than 1")
	}
	if cmp(1, 1) != 0 {
		t.Fatal("equal ints should compare equal")
	}
}

func TestBytesComparator(t *testing.T) {
	cmp := Bytes()
	if cmp([]byte("a"), []byte("b")) >= 0 {
		t.Fatal("a should sort before b")
	}
}

func TestUint64CodecRoundTrip(t *testing.T) {
	c := Uint64Codec{}
	buf := make([]byte, c.Size())
	c.Encode(42, buf)
	if got := c.Decode(buf); got != 42 {
		t.Fatalf("round trip: got %d want 42", got)
	}
}

func TestFixedBytesCodecRejectsWrongWidth(t *testing.T) {
	c := FixedBytesCodec{Width: 4}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for mismatched width")
		}
	}()
	c.Encode([]byte{1, 2, 3}, make([]byte, 4))
}

func TestBytesCodecRoundTrip(t *testing.T) {
	c := BytesCodec{}
	values := [][]byte{nil, {}, []byte("hello"), bytes.Repeat([]byte{0xAB}, 300)}
	for _, v := range values {
		enc := c.Encode(v)
		got, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got, v) {
			t.Fatalf("round trip mismatch: got %v want %v", got, v)
		}
	}
}

func TestBytesCodecDecodeTruncated(t *testing.T) {
	c := BytesCodec{}
	enc := c.Encode([]byte("hello world"))
	_, err := c.Decode(enc[:2])
	if err == nil {
		t.Fatal("expected error decoding truncated buffer")
	}
}

func TestStringCodecRoundTrip(t *testing.T) {
	c := StringCodec{}
	enc := c.Encode("hello")
	got, err := c.Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q want hello", got)
	}
}
