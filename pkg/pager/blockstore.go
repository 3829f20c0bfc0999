// Package pager is the reference File-media backend: an mmap-backed store
// of fixed-size blocks with freelist reuse. corruption.go adds CRC32
// page-checksum and torn-write helpers; BlockStore itself does not write or
// verify checksums. A cache
// asks it to Allocate a block, encodes a node into the returned bytes, and
// mints a File NID from the block's byte offset and the node's encoded
// size. There is no write-ahead log and no crash recovery here; a host that
// needs durability across a crash layers that on top.
package pager

import (
	"container/list"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"indextree/pkg/budget"
)

const (
	headerSize      = 100
	magicString     = "indextree block store 1\x00"
	defaultPageSize = 4096
)

var (
	ErrInvalidHeader = errors.New("pager: invalid store header")
	ErrBlockNotFound = errors.New("pager: block not found")
	ErrBlockTooLarge = errors.New("pager: encoded node does not fit in one block")
)

// Options configures a BlockStore.
type Options struct {
	PageSize  int  // block size in bytes (default 4096)
	CacheSize int  // maximum resident blocks; memory-budget pressure can evict below it (default 1000)
	ReadOnly  bool
}

type cacheEntry struct {
	block   *Block
	element *list.Element
}

// BlockStore manages fixed-size blocks of a backing Storage, with an LRU
// resident set and a freelist for reclaiming freed blocks.
type BlockStore struct {
	mu         sync.RWMutex
	storage    Storage
	path       string
	pageSize   int
	blockCount uint32

	resident  map[uint32]*cacheEntry
	lru       *list.List
	cacheSize int

	freelist *Freelist

	memoryBudget *budget.MemoryBudget
}

// Open opens or creates a block store backed by the file at path. Pass
// path == ":memory:" for a MemoryStorage-backed store.
func Open(path string, opts Options) (*BlockStore, error) {
	return OpenWithBudget(path, opts, nil)
}

// OpenWithBudget is Open with an optional shared memory budget, letting a
// cache enforce a combined byte ceiling across resident blocks and other
// tracked components.
func OpenWithBudget(path string, opts Options, budget *budget.MemoryBudget) (*BlockStore, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	cacheSize := opts.CacheSize
	if cacheSize == 0 {
		cacheSize = 1000
	}

	var storage Storage
	var err error
	if path == ":memory:" {
		storage, err = NewMemoryStorage(int64(pageSize))
	} else {
		storage, err = OpenMmapFile(path, int64(pageSize))
	}
	if err != nil {
		return nil, err
	}

	bs := &BlockStore{
		storage:      storage,
		path:         path,
		pageSize:     pageSize,
		resident:     make(map[uint32]*cacheEntry),
		lru:          list.New(),
		cacheSize:    cacheSize,
		freelist:     NewFreelist(pageSize),
		memoryBudget: budget,
	}
	if budget != nil {
		budget.RegisterComponent("block_store")
	}

	header := storage.Slice(0, headerSize)
	if string(header[:len(magicString)]) == magicString {
		bs.pageSize = int(binary.LittleEndian.Uint32(header[32:36]))
		bs.blockCount = binary.LittleEndian.Uint32(header[36:40])
		bs.loadFreelist(GetFreelistHead(header), GetFreePageCount(header))
	} else {
		bs.blockCount = 1 // block 0 holds the header
		bs.writeHeader()
	}

	return bs, nil
}

func (bs *BlockStore) writeHeader() {
	header := bs.storage.Slice(0, headerSize)
	copy(header, magicString)
	binary.LittleEndian.PutUint32(header[32:36], uint32(bs.pageSize))
	binary.LittleEndian.PutUint32(header[36:40], bs.blockCount)
	if bs.freelist != nil {
		PutFreelistHead(header, bs.freelist.HeadPage())
		PutFreePageCount(header, bs.freelist.FreeCount())
	}
}

func (bs *BlockStore) PageSize() int { return bs.pageSize }

func (bs *BlockStore) BlockCount() uint32 {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.blockCount
}

// Allocate reserves a block, preferring freelist reuse over growing the
// store, and returns it pinned and zeroed.
func (bs *BlockStore) Allocate() (*Block, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.freelist != nil && bs.freelist.FreeCount() > 0 {
		if blockNo, ok := bs.allocateFromFreelistLocked(); ok {
			return bs.getLocked(blockNo, true)
		}
	}

	blockNo := bs.blockCount
	bs.blockCount++

	required := int64(bs.blockCount) * int64(bs.pageSize)
	if required > bs.storage.Size() {
		newSize := bs.storage.Size() + bs.storage.Size()/10
		if newSize < required {
			newSize = required
		}
		if err := bs.storage.Grow(newSize); err != nil {
			return nil, err
		}
		bs.invalidateResidentLocked()
	}
	bs.writeHeader()

	offset := int(blockNo) * bs.pageSize
	data := bs.storage.Slice(offset, bs.pageSize)
	for i := range data {
		data[i] = 0
	}
	block := NewBlockWithData(blockNo, data)
	block.Pin()

	bs.insertResidentLocked(block)
	bs.evictIfNeededLocked()

	return block, nil
}

// Get returns the block at blockNo, loading it from the backing store if
// not already resident.
func (bs *BlockStore) Get(blockNo uint32) (*Block, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.getLocked(blockNo, false)
}

func (bs *BlockStore) getLocked(blockNo uint32, clear bool) (*Block, error) {
	if entry, ok := bs.resident[blockNo]; ok {
		entry.block.Pin()
		bs.lru.MoveToFront(entry.element)
		bs.recordAccessLocked(blockNo)
		return entry.block, nil
	}
	if blockNo >= bs.blockCount {
		return nil, ErrBlockNotFound
	}
	offset := int(blockNo) * bs.pageSize
	data := bs.storage.Slice(offset, bs.pageSize)
	if data == nil {
		return nil, ErrBlockNotFound
	}
	if clear {
		for i := range data {
			data[i] = 0
		}
	}
	block := NewBlockWithData(blockNo, data)
	block.Pin()
	bs.insertResidentLocked(block)
	bs.evictIfNeededLocked()
	return block, nil
}

func (bs *BlockStore) insertResidentLocked(block *Block) {
	elem := bs.lru.PushFront(block.BlockNo())
	bs.resident[block.BlockNo()] = &cacheEntry{block: block, element: elem}
	if bs.memoryBudget != nil {
		bs.memoryBudget.TrackWithPriority("block_store", fmt.Sprintf("block_%d", block.BlockNo()), int64(bs.pageSize), budget.PriorityWarm)
	}
}

func (bs *BlockStore) invalidateResidentLocked() {
	if bs.memoryBudget != nil {
		for blockNo := range bs.resident {
			bs.memoryBudget.ReleaseItem("block_store", fmt.Sprintf("block_%d", blockNo))
		}
	}
	bs.lru = list.New()
	bs.resident = make(map[uint32]*cacheEntry)
}

func (bs *BlockStore) evictIfNeededLocked() {
	for bs.lru.Len() > bs.cacheSize || bs.shouldEvictForMemoryLocked() {
		elem := bs.lru.Back()
		if elem == nil {
			break
		}
		blockNo := elem.Value.(uint32)
		entry := bs.resident[blockNo]
		if entry == nil {
			bs.lru.Remove(elem)
			continue
		}
		if entry.block.IsPinned() {
			bs.lru.MoveToFront(elem)
			break
		}
		if bs.memoryBudget != nil {
			bs.memoryBudget.ReleaseItem("block_store", fmt.Sprintf("block_%d", blockNo))
		}
		bs.lru.Remove(elem)
		delete(bs.resident, blockNo)
	}
}

func (bs *BlockStore) shouldEvictForMemoryLocked() bool {
	return bs.memoryBudget != nil && bs.memoryBudget.IsExceeded()
}

func (bs *BlockStore) recordAccessLocked(blockNo uint32) {
	if bs.memoryBudget != nil {
		bs.memoryBudget.RecordAccess("block_store", fmt.Sprintf("block_%d", blockNo))
	}
}

// Release unpins a block obtained from Allocate or Get.
func (bs *BlockStore) Release(block *Block) {
	block.Unpin()
}

// Free returns a block to the freelist. The header block (0) can never be
// freed.
func (bs *BlockStore) Free(blockNo uint32) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if blockNo == 0 {
		return errors.New("pager: cannot free block 0 (header)")
	}
	if blockNo >= bs.blockCount {
		return ErrBlockNotFound
	}
	if entry, ok := bs.resident[blockNo]; ok {
		bs.lru.Remove(entry.element)
		delete(bs.resident, blockNo)
	}
	bs.addToFreelistLocked(blockNo)
	bs.writeHeader()
	return nil
}

func (bs *BlockStore) allocateFromFreelistLocked() (uint32, bool) {
	if len(bs.freelist.trunks) == 0 {
		return 0, false
	}
	trunk := bs.freelist.trunks[0]
	currentHead := bs.freelist.headPage

	if leaf, ok := trunk.PopLeaf(); ok {
		bs.freelist.freeCount--
		offset := int(currentHead) * bs.pageSize
		trunk.Encode(bs.storage.Slice(offset, bs.pageSize))
		bs.writeHeader()
		return leaf, true
	}

	nextTrunk := trunk.NextTrunk
	bs.freelist.freeCount--
	if nextTrunk != 0 && len(bs.freelist.trunks) > 1 {
		bs.freelist.trunks = bs.freelist.trunks[1:]
		bs.freelist.headPage = nextTrunk
	} else if nextTrunk != 0 {
		offset := int(nextTrunk) * bs.pageSize
		loaded := DecodeFreelistTrunkPage(bs.storage.Slice(offset, bs.pageSize))
		bs.freelist.trunks = []*FreelistTrunkPage{loaded}
		bs.freelist.headPage = nextTrunk
	} else {
		bs.freelist.trunks = nil
		bs.freelist.headPage = 0
	}
	bs.writeHeader()
	return currentHead, true
}

func (bs *BlockStore) addToFreelistLocked(blockNo uint32) {
	currentHead := bs.freelist.HeadPage()

	if currentHead == 0 {
		trunk := &FreelistTrunkPage{LeafPages: []uint32{}}
		offset := int(blockNo) * bs.pageSize
		trunk.Encode(bs.storage.Slice(offset, bs.pageSize))
		bs.freelist.trunks = []*FreelistTrunkPage{trunk}
		bs.freelist.headPage = blockNo
		bs.freelist.freeCount = 1
		return
	}

	if len(bs.freelist.trunks) > 0 {
		trunk := bs.freelist.trunks[0]
		if !trunk.IsFull(bs.pageSize) {
			trunk.AddLeaf(blockNo)
			bs.freelist.freeCount++
			offset := int(currentHead) * bs.pageSize
			trunk.Encode(bs.storage.Slice(offset, bs.pageSize))
			return
		}

		newTrunk := &FreelistTrunkPage{NextTrunk: currentHead, LeafPages: []uint32{}}
		offset := int(blockNo) * bs.pageSize
		newTrunk.Encode(bs.storage.Slice(offset, bs.pageSize))
		bs.freelist.trunks = append([]*FreelistTrunkPage{newTrunk}, bs.freelist.trunks...)
		bs.freelist.headPage = blockNo
		bs.freelist.freeCount++
	}
}

func (bs *BlockStore) loadFreelist(headPage, freeCount uint32) {
	if headPage == 0 || freeCount == 0 {
		return
	}
	bs.freelist.trunks = nil
	bs.freelist.headPage = headPage
	bs.freelist.freeCount = freeCount

	current := headPage
	for current != 0 {
		offset := int(current) * bs.pageSize
		data := bs.storage.Slice(offset, bs.pageSize)
		if data == nil {
			break
		}
		trunk := DecodeFreelistTrunkPage(data)
		bs.freelist.trunks = append(bs.freelist.trunks, trunk)
		current = trunk.NextTrunk
	}
}

// FreeBlockCount reports the number of blocks awaiting reuse.
func (bs *BlockStore) FreeBlockCount() uint32 {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.freelist == nil {
		return 0
	}
	return bs.freelist.FreeCount()
}

// MemoryBudget returns the shared budget this store tracks against, or nil.
func (bs *BlockStore) MemoryBudget() *budget.MemoryBudget {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.memoryBudget
}

// BlockOffset returns the byte offset a given block number starts at,
// suitable for minting a File NID's Offset field.
func (bs *BlockStore) BlockOffset(blockNo uint32) uint64 {
	return uint64(blockNo) * uint64(bs.pageSize)
}

// GetAt retrieves the block containing the given byte offset, as recorded
// in a File NID. size is the caller's expected encoded length; GetAt
// returns ErrBlockTooLarge if it exceeds one block. The offset is not
// checked for block alignment: it is rounded down to its block number.
func (bs *BlockStore) GetAt(offset uint64, size uint32) (*Block, error) {
	bs.mu.RLock()
	pageSize := bs.pageSize
	bs.mu.RUnlock()
	if int(size) > pageSize {
		return nil, ErrBlockTooLarge
	}
	blockNo := uint32(offset / uint64(pageSize))
	return bs.Get(blockNo)
}

// FreeAt frees the block containing the given byte offset.
func (bs *BlockStore) FreeAt(offset uint64) error {
	bs.mu.RLock()
	pageSize := bs.pageSize
	bs.mu.RUnlock()
	blockNo := uint32(offset / uint64(pageSize))
	return bs.Free(blockNo)
}

func (bs *BlockStore) Sync() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.writeHeader()
	return bs.storage.Sync()
}

func (bs *BlockStore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.writeHeader()
	if err := bs.storage.Sync(); err != nil {
		bs.storage.Close()
		return err
	}
	return bs.storage.Close()
}
