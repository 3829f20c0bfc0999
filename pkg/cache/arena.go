package cache

import "indextree/pkg/nid"

// volatileArena hands out Volatile NID addresses: a reused slot index paired
// with a generation counter that only ever increases for that slot. A NID
// captured before a slot was recycled carries the old generation and so
// compares unequal to the live NID at that slot, even though the slot
// number is the same.
type volatileArena struct {
	generations []uint32
	free        []uint32
}

// allocate reserves a slot, preferring a freed one, and returns it with a
// fresh nonzero generation.
func (a *volatileArena) allocate(kind nid.Kind) nid.NID {
	if n := len(a.free); n > 0 {
		slot := a.free[n-1]
		a.free = a.free[:n-1]
		a.generations[slot]++
		return nid.NewVolatile(kind, slot, a.generations[slot])
	}
	slot := uint32(len(a.generations))
	a.generations = append(a.generations, 1)
	return nid.NewVolatile(kind, slot, 1)
}

// release returns a slot to the free list. The generation is left as-is so
// the next allocate() at this slot bumps it further, keeping any stale NID
// still referencing the old generation permanently distinct.
func (a *volatileArena) release(slot uint32) {
	a.free = append(a.free, slot)
}
