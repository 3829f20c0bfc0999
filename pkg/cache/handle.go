package cache

import (
	"sync"

	"indextree/pkg/nid"
	"indextree/pkg/node"
)

// Handle is the in-memory handle a cache hands back on create/fetch: an
// exclusive per-node lock, a dirty flag, and the node payload itself, which
// is exactly one of a leaf or an index node depending on the owning NID's
// Kind. Every descent — including a pure search — locks the handle before
// touching the payload, since a fetch may need to rewrite a parent's child
// slot after a cache-driven NID change.
type Handle[K any, V any] struct {
	mu sync.Mutex

	kind  nid.Kind
	leaf  *node.Leaf[K, V]
	index *node.Index[K]

	dirty bool
}

func newLeafHandle[K any, V any](leaf *node.Leaf[K, V]) *Handle[K, V] {
	return &Handle[K, V]{kind: nid.LeafKind, leaf: leaf}
}

func newIndexHandle[K any, V any](idx *node.Index[K]) *Handle[K, V] {
	return &Handle[K, V]{kind: nid.IndexKind, index: idx}
}

// Lock and Unlock implement the per-node exclusive lock.
func (h *Handle[K, V]) Lock()   { h.mu.Lock() }
func (h *Handle[K, V]) Unlock() { h.mu.Unlock() }

// TryLock attempts the lock without blocking, used by eviction to skip
// handles currently held by a descender instead of stalling behind them.
func (h *Handle[K, V]) TryLock() bool { return h.mu.TryLock() }

// Kind reports whether this handle wraps a leaf or an index node.
func (h *Handle[K, V]) Kind() nid.Kind { return h.kind }

// Leaf returns the leaf payload, or nil if this handle wraps an index node.
func (h *Handle[K, V]) Leaf() *node.Leaf[K, V] { return h.leaf }

// Index returns the index payload, or nil if this handle wraps a leaf node.
func (h *Handle[K, V]) Index() *node.Index[K] { return h.index }

// MarkDirty flags the node for the next flush. Callers hold the handle lock
// already, since any mutation that dirties a node also requires it.
func (h *Handle[K, V]) MarkDirty() { h.dirty = true }

// IsDirty reports whether the node has unflushed changes.
func (h *Handle[K, V]) IsDirty() bool { return h.dirty }

func (h *Handle[K, V]) clearDirty() { h.dirty = false }
