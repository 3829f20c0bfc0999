package nid

import "encoding/binary"

// EncodedSize is the on-wire size of a NID: media(1) + kind(1) + pad(2) +
// offset(8) + size(4) + slot(4) + generation(4) = 24 bytes, little-endian.
// Index nodes store an array of these for the child list.
const EncodedSize = 24

// Codec is a kv.FixedCodec[NID] without importing pkg/kv, to keep this leaf
// package dependency-free; pkg/node adapts it where a FixedCodec is
// required.
type Codec struct{}

func (Codec) Size() int { return EncodedSize }

func (Codec) Encode(n NID, dst []byte) {
	dst[0] = byte(n.Media)
	dst[1] = byte(n.Kind)
	dst[2] = 0
	dst[3] = 0
	binary.LittleEndian.PutUint64(dst[4:12], n.Offset)
	binary.LittleEndian.PutUint32(dst[12:16], n.Size)
	binary.LittleEndian.PutUint32(dst[16:20], n.Slot)
	binary.LittleEndian.PutUint32(dst[20:24], n.Generation)
}

func (Codec) Decode(src []byte) NID {
	return NID{
		Media:      MediaType(src[0]),
		Kind:       Kind(src[1]),
		Offset:     binary.LittleEndian.Uint64(src[4:12]),
		Size:       binary.LittleEndian.Uint32(src[12:16]),
		Slot:       binary.LittleEndian.Uint32(src[16:20]),
		Generation: binary.LittleEndian.Uint32(src[20:24]),
	}
}
