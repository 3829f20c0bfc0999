// Package kv defines the key/value contracts the tree is generic over: a
// total-order comparator for K, and a codec capability V supplies when it
// needs to cross the wire (leaf serialization, flush). Neither K nor V is
// interpreted by the tree itself — ordering and encoding are entirely the
// host's concern entirely.
package kv

import "bytes"

// Comparator orders two keys, returning <0, 0, or >0 as a,b compare, in the
// same convention as bytes.Compare and cmp.Compare.
type Comparator[K any] func(a, b K) int

// Ordered builds a Comparator for any type with the built-in ordering
// operators, covering the common case of integer and string keys without
// requiring the host to hand-write a comparator.
func Ordered[K int | int8 | int16 | int32 | int64 |
	uint | uint8 | uint16 | uint32 | uint64 |
	float32 | float64 | string]() Comparator[K] {
	return func(a, b K) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
}

// Bytes orders []byte keys lexicographically using bytes.Compare.
func Bytes() Comparator[[]byte] {
	return bytes.Compare
}
