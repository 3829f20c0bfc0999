package node

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"indextree/pkg/kv"
	"indextree/pkg/nid"
)

// DefaultHotWindow and DefaultHotLimit are the materialization heuristic's
// design-default constants.
const (
	DefaultHotWindow = 100 * time.Microsecond
	DefaultHotLimit  = 10
)

// Index is an index node: a sorted array of pivot keys and
// one more child NID than pivots. It carries a dual representation:
//
//   - Raw: a read-only view over an encoded buffer (as handed back by a
//     cache fetch of a page that hasn't been touched yet), decoding pivots
//     and children on demand without copying.
//   - Materialized: owned slices, required before any mutation.
//
// A node starts Raw only when constructed via NewIndexFromRaw; every other
// constructor starts Materialized. The transition Raw -> Materialized is
// one-way for the node's lifetime.
type Index[K any] struct {
	cmp      kv.Comparator[K]
	keyCodec kv.FixedCodec[K]

	materialized bool
	pivots       []K
	children     []nid.NID

	raw []byte

	hotWindow  time.Duration
	hotLimit   int
	lastAccess time.Time
	accessHits int
}

// NewIndex returns a materialized index node. children must have exactly
// one more element than pivots.
func NewIndex[K any](cmp kv.Comparator[K], keyCodec kv.FixedCodec[K], pivots []K, children []nid.NID) *Index[K] {
	if len(children) != len(pivots)+1 {
		panic(fmt.Sprintf("node: index children.len (%d) must equal pivots.len+1 (%d)", len(children), len(pivots)+1))
	}
	return &Index[K]{
		cmp: cmp, keyCodec: keyCodec,
		materialized: true,
		pivots:       pivots,
		children:     children,
		hotWindow:    DefaultHotWindow,
		hotLimit:     DefaultHotLimit,
	}
}

// NewIndexFromRaw returns an index node backed by an encoded buffer, read
// without copying until a read burst or a mutation triggers materialization.
func NewIndexFromRaw[K any](cmp kv.Comparator[K], keyCodec kv.FixedCodec[K], raw []byte, hotWindow time.Duration, hotLimit int) *Index[K] {
	return &Index[K]{
		cmp: cmp, keyCodec: keyCodec,
		raw:       raw,
		hotWindow: hotWindow,
		hotLimit:  hotLimit,
	}
}

// IsMaterialized reports whether this node has transitioned off the raw view.
func (idx *Index[K]) IsMaterialized() bool { return idx.materialized }

// Len returns the pivot count.
func (idx *Index[K]) Len() int {
	if idx.materialized {
		return len(idx.pivots)
	}
	return idx.rawPivotCount()
}

func (idx *Index[K]) rawPivotCount() int {
	return int(binary.LittleEndian.Uint16(idx.raw[1:3]))
}

func (idx *Index[K]) pivotAt(i int) K {
	if idx.materialized {
		return idx.pivots[i]
	}
	sz := idx.keyCodec.Size()
	off := 3 + i*sz
	return idx.keyCodec.Decode(idx.raw[off : off+sz])
}

func (idx *Index[K]) childAt(i int) nid.NID {
	if idx.materialized {
		return idx.children[i]
	}
	n := idx.rawPivotCount()
	off := 3 + n*idx.keyCodec.Size() + i*nid.EncodedSize
	return nid.Codec{}.Decode(idx.raw[off : off+nid.EncodedSize])
}

// recordAccess implements the materialization heuristic: reads
// arriving faster than hotWindow apart accumulate a counter; reaching
// hotLimit materializes the node. A gap of hotWindow or more resets the
// counter, so only a sustained burst of traversal triggers the copy.
func (idx *Index[K]) recordAccess() {
	if idx.materialized {
		return
	}
	now := time.Now()
	if !idx.lastAccess.IsZero() && now.Sub(idx.lastAccess) < idx.hotWindow {
		idx.accessHits++
		if idx.accessHits >= idx.hotLimit {
			idx.materialize()
		}
	} else {
		idx.accessHits = 0
	}
	idx.lastAccess = now
}

// Materialize forces the one-way transition to the owned representation.
// Every mutating method calls this unconditionally before touching state.
func (idx *Index[K]) Materialize() { idx.materialize() }

func (idx *Index[K]) materialize() {
	if idx.materialized {
		return
	}
	n := idx.rawPivotCount()
	pivots := make([]K, n)
	children := make([]nid.NID, n+1)
	for i := 0; i < n; i++ {
		pivots[i] = idx.pivotAt(i)
	}
	for i := 0; i <= n; i++ {
		children[i] = idx.childAt(i)
	}
	idx.pivots = pivots
	idx.children = children
	idx.materialized = true
	idx.raw = nil
}

// ChildIndexFor computes child_index_for(k): upper_bound —
// the index of the first pivot strictly greater than k, or Len() if none.
func (idx *Index[K]) ChildIndexFor(k K) int {
	idx.recordAccess()
	n := idx.Len()
	return sort.Search(n, func(i int) bool {
		return idx.cmp(idx.pivotAt(i), k) > 0
	})
}

// ChildFor returns children[child_index_for(k)].
func (idx *Index[K]) ChildFor(k K) nid.NID {
	return idx.childAt(idx.ChildIndexFor(k))
}

// ChildAt exposes child i (0-indexed) for traversal that already knows the
// index (e.g. cursor-free first/last descent, or test assertions).
func (idx *Index[K]) ChildAt(i int) nid.NID {
	idx.recordAccess()
	return idx.childAt(i)
}

// PivotAt exposes pivot i for testing and debug printing.
func (idx *Index[K]) PivotAt(i int) K {
	idx.recordAccess()
	return idx.pivotAt(i)
}

// RequiresSplit uses the same threshold as leaves, measured on pivots.len.
func (idx *Index[K]) RequiresSplit(degree int) bool {
	return idx.Len() > degree
}

// RequiresMerge reports whether the node has fallen to or below the merge threshold.
func (idx *Index[K]) RequiresMerge(degree int) bool {
	return idx.Len() <= ceilDiv(degree, 2)
}

// Insert locates
// i = lower_bound(pivots, pivot_k), inserts the pivot at i and the child at
// i+1. newChild must be the RIGHT sibling produced by splitting children[i].
func (idx *Index[K]) Insert(pivotK K, newChild nid.NID) {
	idx.materialize()
	i := sort.Search(len(idx.pivots), func(i int) bool {
		return idx.cmp(idx.pivots[i], pivotK) >= 0
	})
	idx.pivots = insertAt(idx.pivots, i, pivotK)
	idx.children = insertAt(idx.children, i+1, newChild)
}

// Split: m = pivots.len/2; the new
// sibling takes pivots[m+1:] and children[m+1:]; self truncates to pivots
// [0,m) and children [0,m+1). pivots[m] is returned to promote to the
// parent — it is kept in neither child.
func (idx *Index[K]) Split() (right *Index[K], pivotUp K) {
	idx.materialize()
	m := len(idx.pivots) / 2
	pivotUp = idx.pivots[m]
	rightPivots := append([]K(nil), idx.pivots[m+1:]...)
	rightChildren := append([]nid.NID(nil), idx.children[m+1:]...)
	idx.pivots = idx.pivots[:m]
	idx.children = idx.children[:m+1]
	right = NewIndex(idx.cmp, idx.keyCodec, rightPivots, rightChildren)
	right.hotWindow, right.hotLimit = idx.hotWindow, idx.hotLimit
	return right, pivotUp
}

// UpdateChildNID locates the slot
// via upper_bound(pivots, firstKeyOfChild) — the same rule used to descend
// to that child in the first place — asserts it currently holds oldNID, and
// rewrites it to newNID. Used after a cache-driven NID rewrite.
func (idx *Index[K]) UpdateChildNID(firstKeyOfChild K, oldNID, newNID nid.NID) error {
	idx.materialize()
	i := sort.Search(len(idx.pivots), func(i int) bool {
		return idx.cmp(idx.pivots[i], firstKeyOfChild) > 0
	})
	if idx.children[i] != oldNID {
		return fmt.Errorf("node: update_child_nid: slot %d holds %s, expected %s", i, idx.children[i], oldNID)
	}
	idx.children[i] = newNID
	return nil
}

// ReplaceChildAt rewrites the child at a known slot index without an
// upper_bound lookup — used by the engine when it already holds the exact
// descent index (e.g. right after a child's own split, where the index was
// captured during descent rather than recomputed from a key).
func (idx *Index[K]) ReplaceChildAt(i int, newNID nid.NID) {
	idx.materialize()
	idx.children[i] = newNID
}

// ReplacePivotAt rewrites pivot i, used after a redistribute borrow moves
// the separator between a rebalanced child and its sibling.
func (idx *Index[K]) ReplacePivotAt(i int, k K) {
	idx.materialize()
	idx.pivots[i] = k
}

// BorrowFromLeft is the index-node half of the rebalance redistribute case:
// left's last child moves to the front of idx; the
// parent's separator (parentPivot) is pulled down as idx's new first pivot;
// left's last pivot is promoted to become the new parent separator.
func (idx *Index[K]) BorrowFromLeft(left *Index[K], parentPivot K) (newParentPivot K) {
	idx.materialize()
	left.materialize()
	n := len(left.pivots)
	movedChild := left.children[n]
	movedPivot := left.pivots[n-1]
	left.children = left.children[:n]
	left.pivots = left.pivots[:n-1]

	idx.pivots = insertAt(idx.pivots, 0, parentPivot)
	idx.children = insertAt(idx.children, 0, movedChild)
	return movedPivot
}

// BorrowFromRight is the mirror of BorrowFromLeft: right's first child
// moves to the back of idx; parentPivot becomes idx's new last pivot;
// right's first pivot is promoted to become the new parent separator.
func (idx *Index[K]) BorrowFromRight(right *Index[K], parentPivot K) (newParentPivot K) {
	idx.materialize()
	right.materialize()
	movedChild := right.children[0]
	movedPivot := right.pivots[0]
	right.children = deleteAt(right.children, 0)
	right.pivots = deleteAt(right.pivots, 0)

	idx.pivots = append(idx.pivots, parentPivot)
	idx.children = append(idx.children, movedChild)
	return movedPivot
}

// MergeRight is the index-node half of the rebalance merge case: idx
// absorbs parentPivot (the separator that used to stand
// between idx and right) followed by right's entire contents. The caller
// hands right's former NID to Cache.Remove after this call.
func (idx *Index[K]) MergeRight(right *Index[K], parentPivot K) {
	idx.materialize()
	right.materialize()
	idx.pivots = append(idx.pivots, parentPivot)
	idx.pivots = append(idx.pivots, right.pivots...)
	idx.children = append(idx.children, right.children...)
}

// RemoveChildAt drops child i and the pivot immediately to its left
// (pivots[i-1]), used after child i has been folded into its left sibling
// during a merge. The caller is responsible for handing child i's former
// NID to Cache.Remove.
func (idx *Index[K]) RemoveChildAt(i int) {
	idx.materialize()
	idx.pivots = deleteAt(idx.pivots, i-1)
	idx.children = deleteAt(idx.children, i)
}

// SoleChild returns the single remaining child when Len()==0, used by the
// engine's root-collapse step.
func (idx *Index[K]) SoleChild() nid.NID {
	if idx.Len() != 0 {
		panic("node: SoleChild called on index node with pivots")
	}
	return idx.childAt(0)
}

func (idx *Index[K]) String() string {
	return fmt.Sprintf("index[n=%d materialized=%v]", idx.Len(), idx.materialized)
}
