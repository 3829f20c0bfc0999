package kv

import (
	"encoding/binary"
	"fmt"

	"indextree/internal/encoding"
)

// FixedCodec encodes values of a fixed, known size — the POD case: fixed-size,
// trivially copyable for on-disk encoding. Size must return the same constant for every value;
// the leaf/index wire formats rely on it to lay out
// arrays of encoded values without embedding per-value lengths.
type FixedCodec[T any] interface {
	Size() int
	Encode(v T, dst []byte)
	Decode(src []byte) T
}

// VariableCodec is the host's escape hatch for records whose size isn't
// known in advance — delegated to the host, per the Non-goal excluding
// ("variable-length records beyond what the host's serializer provides").
// The tree treats the encoded bytes as an opaque blob. The leaf and index
// wire formats accept only FixedCodecs and never length-prefix values, so
// no node codec takes a VariableCodec.
type VariableCodec[T any] interface {
	Encode(v T) []byte
	Decode(src []byte) (T, error)
}

// Uint64Codec is a FixedCodec for uint64 keys/values, little-endian to
// match the node wire layouts.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }
func (Uint64Codec) Encode(v uint64, dst []byte) {
	binary.LittleEndian.PutUint64(dst, v)
}
func (Uint64Codec) Decode(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// Uint32Codec is a FixedCodec for uint32 keys/values.
type Uint32Codec struct{}

func (Uint32Codec) Size() int { return 4 }
func (Uint32Codec) Encode(v uint32, dst []byte) {
	binary.LittleEndian.PutUint32(dst, v)
}
func (Uint32Codec) Decode(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// FixedBytesCodec is a FixedCodec for []byte values whose length is fixed
// for the lifetime of a given tree (e.g. a 16-byte UUID column).
type FixedBytesCodec struct {
	Width int
}

func (c FixedBytesCodec) Size() int { return c.Width }
func (c FixedBytesCodec) Encode(v []byte, dst []byte) {
	if len(v) != c.Width {
		panic(fmt.Sprintf("kv: FixedBytesCodec width mismatch: got %d want %d", len(v), c.Width))
	}
	copy(dst, v)
}
func (c FixedBytesCodec) Decode(src []byte) []byte {
	out := make([]byte, c.Width)
	copy(out, src[:c.Width])
	return out
}

// BytesCodec is a VariableCodec for arbitrary []byte values, length-prefixed
// with the SQLite-style varint ported from tur/internal/encoding.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) []byte {
	buf := make([]byte, encoding.VarintLen(uint64(len(v)))+len(v))
	n := encoding.PutVarint(buf, uint64(len(v)))
	copy(buf[n:], v)
	return buf
}

func (BytesCodec) Decode(src []byte) ([]byte, error) {
	n, sz := encoding.GetVarint(src)
	if sz+int(n) > len(src) {
		return nil, fmt.Errorf("kv: BytesCodec: truncated value, want %d bytes after %d-byte header, have %d", n, sz, len(src)-sz)
	}
	out := make([]byte, n)
	copy(out, src[sz:sz+int(n)])
	return out, nil
}

// StringCodec is a VariableCodec for string values, reusing BytesCodec's
// length-prefix framing.
type StringCodec struct{}

func (StringCodec) Encode(v string) []byte {
	return BytesCodec{}.Encode([]byte(v))
}

func (StringCodec) Decode(src []byte) (string, error) {
	b, err := BytesCodec{}.Decode(src)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
