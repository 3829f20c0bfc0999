// Package cache implements the node-level cache the tree engine is built
// against: fetch by NID (possibly handing back a new one), create, remove,
// reorder, and flush. The reference implementation here keeps nodes
// resident in memory with an LRU/budget-driven eviction policy and, when
// wired to a pkg/pager store, serializes evicted or flushed nodes to file
// media, minting a File NID from the block's offset and the node's encoded
// size. A cache built without a store behaves as a pure in-memory index;
// residency then has no upper bound eviction can enforce.
package cache

import (
	"container/list"
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"indextree/pkg/budget"
	"indextree/pkg/kv"
	"indextree/pkg/logging"
	"indextree/pkg/nid"
	"indextree/pkg/node"
	"indextree/pkg/pager"
)

var (
	ErrNotFound = errors.New("cache: node not found")
	ErrInUse    = errors.New("cache: node handle is currently held")
)

// FlushCoordinator lets the tree react to the old->new NID rewrite map a
// flush produces. The cache itself patches every index node within the
// flushed batch, but the tree's root NID lives outside the node graph, so
// the tree needs its own callback to notice when the root was among the
// rewritten nodes.
type FlushCoordinator interface {
	PrepareFlush(rewrites map[nid.NID]nid.NID)
}

type residentEntry[K any, V any] struct {
	handle *Handle[K, V]
	elem   *list.Element
}

// Options configures a Cache. Store and Budget are both optional; a Cache
// with neither is a plain in-memory node table with no eviction.
type Options struct {
	Store     *pager.BlockStore
	Budget    *budget.MemoryBudget
	Capacity  int    // resident node count above which eviction is attempted (default 1000)
	Component string // budget component name (default "node_cache")
	Logger    logr.Logger
}

// Cache is the reference fetch/create/remove/reorder/flush implementation.
type Cache[K any, V any] struct {
	mu sync.Mutex

	cmp        kv.Comparator[K]
	leafCodec  node.LeafCodec[K, V]
	indexCodec node.IndexCodec[K]

	store     *pager.BlockStore
	mb        *budget.MemoryBudget
	component string
	capacity  int
	log       logr.Logger

	resident  map[nid.NID]*residentEntry[K, V]
	lru       *list.List
	redirects map[nid.NID]nid.NID
	arena     volatileArena

	coordinator FlushCoordinator
}

// New returns a Cache ready to create and fetch nodes.
func New[K any, V any](cmp kv.Comparator[K], leafCodec node.LeafCodec[K, V], indexCodec node.IndexCodec[K], opts Options) *Cache[K, V] {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = 1000
	}
	component := opts.Component
	if component == "" {
		component = "node_cache"
	}
	if opts.Budget != nil {
		opts.Budget.RegisterComponent(component)
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Cache[K, V]{
		cmp:        cmp,
		leafCodec:  leafCodec,
		indexCodec: indexCodec,
		store:      opts.Store,
		mb:         opts.Budget,
		component:  component,
		capacity:   capacity,
		resident:   make(map[nid.NID]*residentEntry[K, V]),
		lru:        list.New(),
		redirects:  make(map[nid.NID]nid.NID),
		log:        log,
	}
}

// SetFlushCoordinator registers the tree's rewrite callback.
func (c *Cache[K, V]) SetFlushCoordinator(fc FlushCoordinator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coordinator = fc
}

// ResidentCount reports the number of nodes currently held in memory.
func (c *Cache[K, V]) ResidentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resident)
}

// MappedCount reports the number of blocks allocated on the backing store,
// or 0 if this cache has no store wired in.
func (c *Cache[K, V]) MappedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return 0
	}
	return int(c.store.BlockCount() - c.store.FreeBlockCount())
}

func (c *Cache[K, V]) resolveLocked(n nid.NID) nid.NID {
	for {
		next, ok := c.redirects[n]
		if !ok {
			return n
		}
		n = next
	}
}

// Fetch implements the cache contract's fetch(nid): resolve any stale
// redirect left by a prior eviction or flush, return the resident handle if
// present, or load it from file media. The returned NID is the node's
// current, possibly rewritten, identity.
func (c *Cache[K, V]) Fetch(n nid.NID) (*Handle[K, V], nid.NID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resolved := c.resolveLocked(n)
	if e, ok := c.resident[resolved]; ok {
		c.lru.MoveToFront(e.elem)
		c.recordAccessLocked(resolved)
		return e.handle, resolved, nil
	}
	if resolved.Media != nid.File || c.store == nil {
		return nil, nid.NID{}, ErrNotFound
	}

	block, err := c.store.GetAt(resolved.Offset, resolved.Size)
	if err != nil {
		return nil, nid.NID{}, err
	}
	handle, err := c.decodeLocked(resolved.Kind, block.Data()[:resolved.Size])
	c.store.Release(block)
	if err != nil {
		return nil, nid.NID{}, err
	}
	c.insertResidentLocked(resolved, handle)
	c.evictIfNeededLocked()
	return handle, resolved, nil
}

func (c *Cache[K, V]) decodeLocked(kind nid.Kind, data []byte) (*Handle[K, V], error) {
	if kind == nid.LeafKind {
		leaf, err := c.leafCodec.Decode(data)
		if err != nil {
			return nil, err
		}
		return newLeafHandle(leaf), nil
	}
	idx, err := c.indexCodec.DecodeRaw(data)
	if err != nil {
		return nil, err
	}
	return newIndexHandle[K, V](idx), nil
}

// CreateLeaf implements create(LeafKind, keys, values): a fresh Volatile
// NID and a materialized, dirty leaf handle.
func (c *Cache[K, V]) CreateLeaf(keys []K, values []V) (nid.NID, *Handle[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.arena.allocate(nid.LeafKind)
	h := newLeafHandle(node.NewLeafFrom(c.cmp, keys, values))
	h.dirty = true
	c.insertResidentLocked(n, h)
	c.evictIfNeededLocked()
	return n, h
}

// CreateIndex implements create(IndexKind, pivots, children).
func (c *Cache[K, V]) CreateIndex(pivots []K, children []nid.NID) (nid.NID, *Handle[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.arena.allocate(nid.IndexKind)
	h := newIndexHandle[K, V](node.NewIndex(c.cmp, c.indexCodec.KeyCodec, pivots, children))
	h.dirty = true
	c.insertResidentLocked(n, h)
	c.evictIfNeededLocked()
	return n, h
}

func (c *Cache[K, V]) insertResidentLocked(n nid.NID, h *Handle[K, V]) {
	elem := c.lru.PushFront(n)
	c.resident[n] = &residentEntry[K, V]{handle: h, elem: elem}
	if c.mb != nil {
		c.mb.TrackWithPriority(c.component, n.String(), c.estimatedSizeLocked(h), budget.PriorityWarm)
	}
}

func (c *Cache[K, V]) removeResidentLocked(n nid.NID) {
	e, ok := c.resident[n]
	if !ok {
		return
	}
	c.lru.Remove(e.elem)
	delete(c.resident, n)
	if c.mb != nil {
		c.mb.ReleaseItem(c.component, n.String())
	}
}

func (c *Cache[K, V]) recordAccessLocked(n nid.NID) {
	if c.mb != nil {
		c.mb.RecordAccess(c.component, n.String())
	}
}

func (c *Cache[K, V]) estimatedSizeLocked(h *Handle[K, V]) int64 {
	if h.kind == nid.LeafKind {
		return int64(c.leafCodec.EncodedSize(h.leaf.Len()))
	}
	return int64(c.indexCodec.EncodedSize(h.index.Len()))
}

// Remove implements remove(nid): release the node and reclaim its backing
// storage slot. Returns ErrInUse if another goroutine currently holds the
// handle's lock — the caller must guarantee it holds no other handle to it,
// but TryLock still catches a racing descender.
func (c *Cache[K, V]) Remove(n nid.NID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	resolved := c.resolveLocked(n)
	if e, ok := c.resident[resolved]; ok {
		if !e.handle.TryLock() {
			return ErrInUse
		}
		e.handle.Unlock()
		c.removeResidentLocked(resolved)
	}
	if err := c.freeStorageLocked(resolved); err != nil {
		return err
	}
	delete(c.redirects, n)
	return nil
}

func (c *Cache[K, V]) freeStorageLocked(n nid.NID) error {
	switch n.Media {
	case nid.Volatile:
		c.arena.release(n.Slot)
	case nid.File:
		if c.store != nil {
			return c.store.FreeAt(n.Offset)
		}
	}
	return nil
}

// Reorder implements reorder(access_list, touched_flag=true): move each
// named NID to the front of the LRU list, in the order given, and record an
// access against the shared memory budget so a sustained hint eventually
// promotes the node's eviction priority.
func (c *Cache[K, V]) Reorder(accessList []nid.NID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range accessList {
		resolved := c.resolveLocked(n)
		if e, ok := c.resident[resolved]; ok {
			c.lru.MoveToFront(e.elem)
			c.recordAccessLocked(resolved)
		}
	}
}

func (c *Cache[K, V]) shouldEvictLocked() bool {
	if c.store == nil {
		return false
	}
	if c.capacity > 0 && len(c.resident) > c.capacity {
		return true
	}
	return c.mb != nil && c.mb.IsExceeded()
}

func (c *Cache[K, V]) evictIfNeededLocked() {
	for c.shouldEvictLocked() {
		if !c.evictOneLocked() {
			return
		}
	}
}

// evictOneLocked scans from the least-recently-used end, skipping any
// handle currently held elsewhere (TryLock fails), and persists the first
// evictable candidate to file media.
func (c *Cache[K, V]) evictOneLocked() bool {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		n := elem.Value.(nid.NID)
		e, ok := c.resident[n]
		if !ok {
			continue
		}
		if !e.handle.TryLock() {
			continue
		}
		newNID, err := c.evictHandleLocked(n, e.handle)
		e.handle.Unlock()
		if err != nil {
			continue
		}
		c.removeResidentLocked(n)
		if newNID != n {
			c.redirects[n] = newNID
		}
		c.log.V(logging.Debug).Info("evicted node", "nid", n.String(), "newNID", newNID.String())
		return true
	}
	return false
}

// evictHandleLocked persists a node being dropped from residency. A clean
// File-resident node needs no write; everything else (Volatile, or a dirty
// File-resident node) is (re)written via persistNodeLocked.
func (c *Cache[K, V]) evictHandleLocked(n nid.NID, h *Handle[K, V]) (nid.NID, error) {
	if n.Media == nid.File && !h.dirty {
		return n, nil
	}
	newNID, err := c.persistNodeLocked(n, h)
	if err != nil {
		return nid.NID{}, err
	}
	h.clearDirty()
	if n.Media == nid.Volatile {
		c.arena.release(n.Slot)
	}
	return newNID, nil
}

// persistNodeLocked writes h's current encoded form to file media. If
// current is already a File NID of the same encoded size, it overwrites
// the same block in place; otherwise (Volatile, or a size change) it
// allocates a fresh block and returns a new File NID.
func (c *Cache[K, V]) persistNodeLocked(current nid.NID, h *Handle[K, V]) (nid.NID, error) {
	encoded := c.encodeLocked(h)

	if current.Media == nid.File {
		if int(current.Size) == len(encoded) {
			block, err := c.store.GetAt(current.Offset, current.Size)
			if err != nil {
				return nid.NID{}, err
			}
			copy(block.Data(), encoded)
			block.SetDirty(true)
			c.store.Release(block)
			return current, nil
		}
		if err := c.store.FreeAt(current.Offset); err != nil {
			return nid.NID{}, err
		}
	}

	block, err := c.store.Allocate()
	if err != nil {
		return nid.NID{}, err
	}
	if len(encoded) > len(block.Data()) {
		c.store.Release(block)
		return nid.NID{}, pager.ErrBlockTooLarge
	}
	copy(block.Data(), encoded)
	block.SetDirty(true)
	newNID := nid.NewFile(current.Kind, c.store.BlockOffset(block.BlockNo()), uint32(len(encoded)))
	c.store.Release(block)
	return newNID, nil
}

func (c *Cache[K, V]) encodeLocked(h *Handle[K, V]) []byte {
	if h.kind == nid.LeafKind {
		buf := make([]byte, c.leafCodec.EncodedSize(h.leaf.Len()))
		c.leafCodec.Encode(h.leaf, buf)
		return buf
	}
	buf := make([]byte, c.indexCodec.EncodedSize(h.index.Len()))
	c.indexCodec.Encode(h.index, buf)
	return buf
}

type flushItem[K any, V any] struct {
	old    nid.NID
	cur    nid.NID
	handle *Handle[K, V]
}

// Flush implements flush(): batch every dirty resident node, persist it,
// then walk the batch's index nodes rewriting any child reference to a node
// that was itself just given a new NID in this same batch (the "NID
// propagation during flush" rule), before finally calling back into the
// tree's FlushCoordinator so it can fix up a rewritten root.
func (c *Cache[K, V]) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}

	var batch []*flushItem[K, V]
	for n, e := range c.resident {
		if !e.handle.TryLock() {
			continue
		}
		if !e.handle.dirty {
			e.handle.Unlock()
			continue
		}
		batch = append(batch, &flushItem[K, V]{old: n, cur: n, handle: e.handle})
	}
	if len(batch) == 0 {
		return nil
	}
	c.log.V(logging.Debug).Info("flushing dirty nodes", "count", len(batch))
	unlockAll := func() {
		for _, it := range batch {
			it.handle.Unlock()
		}
	}

	rewrites := make(map[nid.NID]nid.NID, len(batch))
	for _, it := range batch {
		newNID, err := c.persistNodeLocked(it.cur, it.handle)
		if err != nil {
			unlockAll()
			return err
		}
		it.cur = newNID
		if newNID != it.old {
			rewrites[it.old] = newNID
		}
	}

	for _, it := range batch {
		if it.handle.kind != nid.IndexKind {
			continue
		}
		if !rewriteChildren(it.handle.index, rewrites) {
			continue
		}
		newNID, err := c.persistNodeLocked(it.cur, it.handle)
		if err != nil {
			unlockAll()
			return err
		}
		it.cur = newNID
		if newNID != it.old {
			rewrites[it.old] = newNID
		}
	}

	if c.coordinator != nil {
		c.coordinator.PrepareFlush(rewrites)
	}

	for _, it := range batch {
		if it.cur != it.old {
			if e, ok := c.resident[it.old]; ok {
				delete(c.resident, it.old)
				e.elem.Value = it.cur
				c.resident[it.cur] = e
				if c.mb != nil {
					c.mb.ReleaseItem(c.component, it.old.String())
					c.mb.TrackWithPriority(c.component, it.cur.String(), c.estimatedSizeLocked(it.handle), budget.PriorityWarm)
				}
			}
			c.redirects[it.old] = it.cur
		}
		it.handle.clearDirty()
		it.handle.Unlock()
	}
	return c.store.Sync()
}

// rewriteChildren patches every child slot of idx that names a node given a
// new NID in this flush batch. Safe to call without forcing materialization
// side effects: a dirty index node is already materialized by the mutation
// that dirtied it, so ChildAt's access-tracking is a no-op here.
func rewriteChildren[K any](idx *node.Index[K], rewrites map[nid.NID]nid.NID) bool {
	changed := false
	n := idx.Len()
	for i := 0; i <= n; i++ {
		child := idx.ChildAt(i)
		if newNID, ok := rewrites[child]; ok {
			idx.ReplaceChildAt(i, newNID)
			changed = true
		}
	}
	return changed
}
