// Package tree implements the engine: the root pointer, the insert/search/
// remove descent, lock coupling down the access path, and the bubble-up of
// splits (insert) and merges/redistributions (remove). It is generic over
// the cache contract in pkg/cache and the node model in pkg/node, and holds
// no knowledge of how either persists a node.
package tree

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"indextree/pkg/cache"
	"indextree/pkg/kv"
	"indextree/pkg/logging"
	"indextree/pkg/nid"
	"indextree/pkg/node"
)

// ErrKeyNotFound is returned by Get and Remove when the key is absent.
var ErrKeyNotFound = errors.New("tree: key not found")

// ErrInsertRejected is returned by Insert when the leaf refuses the insert.
// Insert always passes node.Overwrite, under which the leaf accepts every
// key, so Insert does not return it in practice.
var ErrInsertRejected = errors.New("tree: key already exists")

// InvariantError reports a structural invariant violated during a tree
// operation: a null handle from the cache, a child slot not holding the NID
// it should, or post-split bookkeeping missing a node it must insert. These
// indicate cache corruption or a logic error, never a recoverable condition
// for the caller to retry around — but Insert/Get/Remove still return it as
// an ordinary error rather than letting a bare panic cross the library
// boundary, so a host holding other locks on the tree's behalf gets a
// chance to unwind them.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("tree: structural invariant violated during %s: %s", e.Op, e.Msg)
}

// invariantViolation logs and panics with *InvariantError. Recovered only
// at the public API boundary (see recoverInvariant).
func invariantViolation(log logr.Logger, op, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	err := &InvariantError{Op: op, Msg: msg}
	log.Error(err, "structural invariant violated")
	panic(err)
}

// recoverInvariant converts a panicking *InvariantError raised anywhere
// below it on the call stack into a returned error, leaving any other
// panic to propagate. Deferred by every public mutating/reading method.
func recoverInvariant(errp *error) {
	if r := recover(); r != nil {
		ie, ok := r.(*InvariantError)
		if !ok {
			panic(r)
		}
		*errp = ie
	}
}

// Config holds the tunables a host sets once at Init/Open time.
type Config struct {
	// Degree bounds node fan-out; Len() > Degree triggers a split and
	// Len() <= ceil(Degree/2) triggers a merge/redistribution. Must be >= 3.
	Degree int
	Logger logr.Logger
}

// Tree is the engine built on the cache contract: a configured degree, a
// root NID, and a reference to the cache. t.mu serializes every operation,
// including Get — a pure search can still trigger a cache-driven NID
// rewrite of a parent's child slot or the root, so lookups take the same
// lock a mutator does rather than a separate read lock.
type Tree[K any, V any] struct {
	mu     sync.Mutex
	degree int
	root   nid.NID
	cache  *cache.Cache[K, V]
	cmp    kv.Comparator[K]
	log    logr.Logger
}

// New returns a Tree with no root. Call Init before using it, or use Open
// to attach to a previously flushed root NID.
func New[K any, V any](cmp kv.Comparator[K], c *cache.Cache[K, V], cfg Config) *Tree[K, V] {
	if cfg.Degree < 3 {
		panic("tree: degree must be >= 3")
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	t := &Tree[K, V]{degree: cfg.Degree, cache: c, cmp: cmp, log: log}
	c.SetFlushCoordinator(t)
	return t
}

// Init creates the initial empty leaf root.
func (t *Tree[K, V]) Init() {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.cache.CreateLeaf(nil, nil)
	t.root = n
}

// Open reopens a tree whose root was previously flushed to the given NID.
func Open[K any, V any](cmp kv.Comparator[K], c *cache.Cache[K, V], cfg Config, root nid.NID) *Tree[K, V] {
	t := New(cmp, c, cfg)
	t.root = root
	return t
}

// RootNID reports the tree's current root NID, for a host that wants to
// persist it alongside a flush.
func (t *Tree[K, V]) RootNID() nid.NID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// PrepareFlush implements cache.FlushCoordinator: if the root itself was
// rewritten by this flush, follow it. This is the one reference to a node
// living outside the node graph, so no in-batch child-rewrite pass reaches
// it on its own.
func (t *Tree[K, V]) PrepareFlush(rewrites map[nid.NID]nid.NID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if newRoot, ok := rewrites[t.root]; ok {
		t.root = newRoot
	}
}

// Flush persists every dirty node via the cache.
func (t *Tree[K, V]) Flush() error {
	return t.cache.Flush()
}

// Print writes a debug dump of the tree shape to w: one line per node
// visited in a pre-order walk, indented by depth. Not a stable interface —
// for interactive inspection only (see cmd/indextree's ".print" command).
func (t *Tree[K, V]) Print(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.printNode(w, t.root, 0)
}

func (t *Tree[K, V]) printNode(w io.Writer, n nid.NID, depth int) error {
	h, resolved, err := t.cache.Fetch(n)
	if err != nil {
		return err
	}
	h.Lock()
	defer h.Unlock()
	indent := strings.Repeat("  ", depth)
	if h.Kind() == nid.LeafKind {
		fmt.Fprintf(w, "%s%s @ %s\n", indent, h.Leaf(), resolved)
		return nil
	}
	idx := h.Index()
	fmt.Fprintf(w, "%s%s @ %s\n", indent, idx, resolved)
	for i := 0; i <= idx.Len(); i++ {
		if err := t.printNode(w, idx.ChildAt(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// CacheState reports cache residency for observability: the number of
// nodes currently held in memory, and the number of blocks occupied on
// the backing store (0 for a store-less, purely in-memory tree).
func (t *Tree[K, V]) CacheState() (resident, mapped int) {
	return t.cache.ResidentCount(), t.cache.MappedCount()
}

// step is one entry of the captured descent path: the node's current NID,
// its locked handle, and the slot it occupies among its parent's children
// (-1 for the root, which has no parent slot).
type step[K any, V any] struct {
	nid         nid.NID
	handle      *cache.Handle[K, V]
	childOfPrev int
}

// descend walks from the root to the leaf containing k, locking each node
// as it is visited (lock coupling) and patching a parent's child slot — or
// the tree's root — whenever a fetch hands back a NID other than the one
// requested. The caller must unlock every handle in the returned path.
func (t *Tree[K, V]) descend(k K) ([]step[K, V], error) {
	var path []step[K, V]

	cur := t.root
	parentSlot := -1
	for {
		h, resolved, err := t.cache.Fetch(cur)
		if err != nil {
			return path, err
		}
		h.Lock()
		if resolved != cur {
			if parentSlot == -1 {
				t.root = resolved
			} else {
				parent := path[len(path)-1].handle.Index()
				parent.ReplaceChildAt(parentSlot, resolved)
				path[len(path)-1].handle.MarkDirty()
			}
		}
		path = append(path, step[K, V]{nid: resolved, handle: h, childOfPrev: parentSlot})

		if h.Kind() == nid.LeafKind {
			return path, nil
		}
		idx := h.Index()
		parentSlot = idx.ChildIndexFor(k)
		cur = idx.ChildAt(parentSlot)
	}
}

// unlockPath releases every handle captured during a descent. A step whose
// handle was already released and reclaimed (rebalance nils it out after a
// merge or root collapse consumes that node) is skipped.
func unlockPath[K any, V any](path []step[K, V]) {
	for _, s := range path {
		if s.handle == nil {
			continue
		}
		s.handle.Unlock()
	}
}

// Get descends to the leaf that would hold k and looks it up there. A
// structural invariant violated anywhere in the descent is returned as an
// *InvariantError rather than left to panic across the call.
func (t *Tree[K, V]) Get(k K) (v V, err error) {
	defer recoverInvariant(&err)
	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.descend(k)
	defer unlockPath(path)
	if err != nil {
		var zero V
		return zero, err
	}
	leaf := path[len(path)-1].handle.Leaf()
	v, ok := leaf.Get(k)
	if !ok {
		var zero V
		return zero, ErrKeyNotFound
	}
	return v, nil
}

// Insert descends to the target leaf, applies the upsert, and — if the
// leaf overflowed — splits it and bubbles the promoted pivot up through
// the captured path, splitting ancestors in turn and growing a new root
// if the split reaches the top. A structural invariant violated anywhere
// in the descent or bubble-up is returned as an *InvariantError rather
// than left to panic across the call.
func (t *Tree[K, V]) Insert(k K, v V) (err error) {
	defer recoverInvariant(&err)
	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.descend(k)
	defer unlockPath(path)
	if err != nil {
		return err
	}

	leafStep := path[len(path)-1]
	leaf := leafStep.handle.Leaf()
	if !leaf.Insert(k, v, node.Overwrite) {
		return ErrInsertRejected
	}
	leafStep.handle.MarkDirty()

	if !leaf.RequiresSplit(t.degree) {
		return nil
	}
	right, pivot := leaf.Split()
	rightNID, _ := t.cache.CreateLeaf(right.Keys(), right.Values())
	t.bubbleSplit(path, pivot, rightNID)
	return nil
}

// bubbleSplit inserts (pivot, rightNID) into the parent of the node that
// just split, splitting that parent in turn if it overflows, and so on up
// the path. If the split reaches the root, a new root is created above it.
func (t *Tree[K, V]) bubbleSplit(path []step[K, V], pivot K, rightNID nid.NID) {
	for i := len(path) - 1; i > 0; i-- {
		parentStep := path[i-1]
		parent := parentStep.handle.Index()
		parent.Insert(pivot, rightNID)
		parentStep.handle.MarkDirty()

		if !parent.RequiresSplit(t.degree) {
			return
		}
		right, newPivot := parent.Split()
		rightPivots, rightChildren := indexContents(right)
		newRightNID, _ := t.cache.CreateIndex(rightPivots, rightChildren)
		pivot, rightNID = newPivot, newRightNID
	}

	newRootNID, _ := t.cache.CreateIndex([]K{pivot}, []nid.NID{path[0].nid, rightNID})
	t.root = newRootNID
}

// indexContents extracts idx's full pivot and child arrays, used after
// Split to re-register the new sibling with the cache under a fresh NID.
func indexContents[K any](idx *node.Index[K]) ([]K, []nid.NID) {
	n := idx.Len()
	pivots := make([]K, n)
	children := make([]nid.NID, n+1)
	for i := 0; i < n; i++ {
		pivots[i] = idx.PivotAt(i)
	}
	for i := 0; i <= n; i++ {
		children[i] = idx.ChildAt(i)
	}
	return pivots, children
}

// Remove descends to the target leaf and deletes k there, then rebalances
// every ancestor left at or below the minimum occupancy by borrowing
// from a sibling or merging with one, cascading upward and collapsing the
// root if it is left with a single child. A structural invariant violated
// anywhere in the descent or rebalance is returned as an *InvariantError
// rather than left to panic across the call.
func (t *Tree[K, V]) Remove(k K) (err error) {
	defer recoverInvariant(&err)
	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.descend(k)
	defer unlockPath(path)
	if err != nil {
		return err
	}

	leafStep := path[len(path)-1]
	leaf := leafStep.handle.Leaf()
	if !leaf.Remove(k) {
		return ErrKeyNotFound
	}
	leafStep.handle.MarkDirty()

	t.rebalance(path)
	return nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func underflowing[K any, V any](h *cache.Handle[K, V], degree int) bool {
	if h.Kind() == nid.LeafKind {
		return h.Leaf().RequiresMerge(degree)
	}
	return h.Index().RequiresMerge(degree)
}

// hasSpare reports whether h can lend one entry to a sibling without
// itself dropping below the minimum occupancy.
func hasSpare[K any, V any](h *cache.Handle[K, V], degree int) bool {
	min := ceilDiv(degree, 2)
	if h.Kind() == nid.LeafKind {
		return h.Leaf().Len() > min
	}
	return h.Index().Len() > min
}

// rebalance walks the path from the leaf upward, fixing any node left
// at or below the minimum occupancy. It fetches and locks whichever
// sibling it needs on demand — siblings are never part of the descent
// path itself.
func (t *Tree[K, V]) rebalance(path []step[K, V]) {
	for i := len(path) - 1; i > 0; i-- {
		childStep := path[i]
		if !underflowing(childStep.handle, t.degree) {
			return
		}
		parentStep := path[i-1]
		parent := parentStep.handle.Index()
		slot := childStep.childOfPrev

		if slot > 0 {
			leftNID := parent.ChildAt(slot - 1)
			left, resolved, err := t.cache.Fetch(leftNID)
			if err != nil {
				invariantViolation(t.log, "remove", "left sibling fetch failed at slot %d: %v", slot-1, err)
			}
			left.Lock()
			if resolved != leftNID {
				parent.ReplaceChildAt(slot-1, resolved)
				parentStep.handle.MarkDirty()
			}
			if hasSpare(left, t.degree) {
				t.borrowFromLeft(childStep.handle, left, parent, slot)
				left.Unlock()
				return
			}
			t.mergeIntoLeft(left, childStep.handle, parent, slot)
			left.Unlock()
			// childStep's node was folded into left and no longer exists;
			// release its handle before reclaiming its NID, or Remove finds
			// it still locked (by this same path) and no-ops with ErrInUse.
			childStep.handle.Unlock()
			path[i].handle = nil
			if err := t.cache.Remove(childStep.nid); err != nil {
				invariantViolation(t.log, "remove", "cache remove failed for merged node %s: %v", childStep.nid, err)
			}
			continue
		}

		rightNID := parent.ChildAt(slot + 1)
		right, resolved, err := t.cache.Fetch(rightNID)
		if err != nil {
			invariantViolation(t.log, "remove", "right sibling fetch failed at slot %d: %v", slot+1, err)
		}
		right.Lock()
		if resolved != rightNID {
			parent.ReplaceChildAt(slot+1, resolved)
			parentStep.handle.MarkDirty()
		}
		if hasSpare(right, t.degree) {
			t.borrowFromRight(childStep.handle, right, parent, slot)
			right.Unlock()
			return
		}
		rightStepNID := resolved
		t.mergeIntoLeft(childStep.handle, right, parent, slot+1)
		right.Unlock()
		t.cache.Remove(rightStepNID)
	}

	t.collapseRoot(path)
}

// borrowFromLeft moves left's last entry into child, updating the
// separator pivot at parent slot-1.
func (t *Tree[K, V]) borrowFromLeft(child, left *cache.Handle[K, V], parent *node.Index[K], slot int) {
	if child.Kind() == nid.LeafKind {
		newPivot := child.Leaf().TakeFromLeft(left.Leaf())
		parent.ReplacePivotAt(slot-1, newPivot)
	} else {
		newPivot := child.Index().BorrowFromLeft(left.Index(), parent.PivotAt(slot-1))
		parent.ReplacePivotAt(slot-1, newPivot)
	}
	child.MarkDirty()
	left.MarkDirty()
}

// borrowFromRight moves right's first entry into child, updating the
// separator pivot at parent slot.
func (t *Tree[K, V]) borrowFromRight(child, right *cache.Handle[K, V], parent *node.Index[K], slot int) {
	if child.Kind() == nid.LeafKind {
		newPivot := child.Leaf().TakeFromRight(right.Leaf())
		parent.ReplacePivotAt(slot, newPivot)
	} else {
		newPivot := child.Index().BorrowFromRight(right.Index(), parent.PivotAt(slot))
		parent.ReplacePivotAt(slot, newPivot)
	}
	child.MarkDirty()
	right.MarkDirty()
}

// mergeIntoLeft folds right's contents into left and drops the pivot and
// child slot in parent that used to separate them. left keeps its NID;
// the caller hands right's former NID to Cache.Remove once unlocked.
func (t *Tree[K, V]) mergeIntoLeft(left, right *cache.Handle[K, V], parent *node.Index[K], rightSlot int) {
	if left.Kind() == nid.LeafKind {
		left.Leaf().Merge(right.Leaf())
	} else {
		left.Index().MergeRight(right.Index(), parent.PivotAt(rightSlot-1))
	}
	parent.RemoveChildAt(rightSlot)
	left.MarkDirty()
}

// collapseRoot drops an index root left with zero pivots (one child) down
// to that child, freeing the old root's NID.
func (t *Tree[K, V]) collapseRoot(path []step[K, V]) {
	rootStep := path[0]
	if rootStep.handle.Kind() != nid.IndexKind {
		return
	}
	idx := rootStep.handle.Index()
	if idx.Len() != 0 {
		return
	}
	t.root = idx.SoleChild()
	// The old root is being discarded; release its handle before reclaiming
	// its NID, same reasoning as the merge case above.
	rootStep.handle.Unlock()
	path[0].handle = nil
	if err := t.cache.Remove(rootStep.nid); err != nil {
		invariantViolation(t.log, "remove", "cache remove failed for collapsed root %s: %v", rootStep.nid, err)
	}
}
