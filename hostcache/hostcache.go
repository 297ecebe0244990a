// Package hostcache defines the collaborator boundaries the tick
// controllers depend on — the host page buffer and the host metadata
// cache — plus in-memory implementations suitable for embedding and
// for tests. Production hosts are expected to supply their own
// implementations backed by their real page buffer and metadata
// cache; these are the reference adapters.
package hostcache

import (
	"container/list"
	"sync"
)

// UpdateResult reports how the page buffer's tick list compares to the
// Index after a merge, per the host page buffer collaborator
// interface.
type UpdateResult struct {
	Added          []uint32
	Modified       []uint32
	NotInTickList  []uint32
	NotInTLFlushed []uint32
}

// PageBuffer is the host page buffer collaborator: the structure that
// tracks which large-file pages were dirtied during the current tick
// and holds live page images until the tick controller commits them.
type PageBuffer interface {
	// SetTick records that end-of-tick processing for tickNum has begun.
	SetTick(tickNum uint64)
	// UpdateIndex reports which pages changed since SetTick.
	UpdateIndex() UpdateResult
	// ReleaseTickList clears the current tick's dirty-page bookkeeping.
	ReleaseTickList()
	// ReleaseDelayedWrites releases delayed-write blocks whose delay has expired.
	ReleaseDelayedWrites(currentTick uint64)
	// DelayedWriteListLen reports how many pages are still delay-blocked.
	DelayedWriteListLen() int
	// RemoveEntry drops any cached image for pageAddr, used when the
	// reader-side diff evicts a page.
	RemoveEntry(pageAddr uint32)
}

// MetadataCache is the host metadata cache collaborator: higher-level
// cached objects whose backing bytes live inside pages the Index
// tracks.
type MetadataCache interface {
	// Flush pushes all dirty cached entries to the page buffer.
	Flush() error
	// Iterate calls fn for every cached entry.
	Iterate(fn func(key any))
	// EvictOrRefreshAllEntriesInPage evicts or re-reads every cache
	// entry whose backing bytes live in page, as of newTick.
	EvictOrRefreshAllEntriesInPage(page uint32, newTick uint64)
	// CacheIsClean reports whether no entry is dirty.
	CacheIsClean() bool
}

// DelayGate is consulted by Dirty before accepting an overwrite of a
// page whose previous image has already been published, per the
// delayed-write decision in §4.4. *tick.WriterController satisfies
// this without hostcache importing tick, which already imports
// hostcache.
type DelayGate interface {
	DelayWriteUntil(page uint32) uint64
}

// MemPageBuffer is a simple in-memory PageBuffer suitable for an
// embedded writer or for tests: dirtied pages are tracked in a
// container/list-backed tick list, mirroring the teacher's LRU
// evict-list idiom.
type MemPageBuffer struct {
	mu           sync.Mutex
	tickList     *list.List
	tickListSet  map[uint32]*list.Element
	delayBlocked map[uint32]uint64 // page -> tick at which the block clears
	pending      map[uint32][]byte // writes deferred by the delay gate
	images       map[uint32][]byte
	published    map[uint32]bool // pages with at least one committed image
	currentTick  uint64
	gate         DelayGate
}

// NewMemPageBuffer returns an in-memory PageBuffer.
func NewMemPageBuffer() *MemPageBuffer {
	return &MemPageBuffer{
		tickList:     list.New(),
		tickListSet:  make(map[uint32]*list.Element),
		delayBlocked: make(map[uint32]uint64),
		pending:      make(map[uint32][]byte),
		images:       make(map[uint32][]byte),
		published:    make(map[uint32]bool),
	}
}

// SetDelayGate attaches the collaborator Dirty consults before
// accepting an overwrite of an already-published page. Passing nil
// disables the check; Dirty then always accepts immediately.
func (b *MemPageBuffer) SetDelayGate(gate DelayGate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = gate
}

// Dirty marks page as modified this tick with the given image bytes,
// the embedding host's equivalent of a client write landing in the
// page buffer. If page already has a published image and the delay
// gate reports a future tick, the write is held in the deferred-write
// list instead of landing in the tick list immediately; it is
// promoted once ReleaseDelayedWrites reaches the gate's tick.
func (b *MemPageBuffer) Dirty(page uint32, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gate != nil && b.published[page] {
		if until := b.gate.DelayWriteUntil(page); until > b.currentTick {
			b.delayBlocked[page] = until
			b.pending[page] = data
			return
		}
	}

	b.images[page] = data
	if _, ok := b.tickListSet[page]; ok {
		return
	}
	el := b.tickList.PushBack(page)
	b.tickListSet[page] = el
}

// Image returns the live bytes for page, if dirtied this tick.
func (b *MemPageBuffer) Image(page uint32) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.images[page]
	return data, ok
}

// MarkPublished records that page now has a committed image on disk,
// so a future Dirty of the same page is subject to the delay gate.
// Called by the tick controller after a successful commit.
func (b *MemPageBuffer) MarkPublished(page uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[page] = true
}

// SetTick records that end-of-tick processing for tickNum has begun,
// the reference point Dirty compares a delay gate's returned tick
// against.
func (b *MemPageBuffer) SetTick(tickNum uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentTick = tickNum
}

func (b *MemPageBuffer) UpdateIndex() UpdateResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res UpdateResult
	for el := b.tickList.Front(); el != nil; el = el.Next() {
		res.Modified = append(res.Modified, el.Value.(uint32))
	}
	return res
}

func (b *MemPageBuffer) ReleaseTickList() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tickList.Init()
	b.tickListSet = make(map[uint32]*list.Element)
	b.images = make(map[uint32][]byte)
}

// ReleaseDelayedWrites clears delayed-write blocks whose gate tick has
// arrived and promotes any write that was held for that page into the
// tick list, so it is merged into the Index on the next EndOfTick.
func (b *MemPageBuffer) ReleaseDelayedWrites(currentTick uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for page, until := range b.delayBlocked {
		if currentTick < until {
			continue
		}
		delete(b.delayBlocked, page)

		data, ok := b.pending[page]
		if !ok {
			continue
		}
		delete(b.pending, page)
		b.images[page] = data
		if _, exists := b.tickListSet[page]; !exists {
			el := b.tickList.PushBack(page)
			b.tickListSet[page] = el
		}
	}
}

func (b *MemPageBuffer) DelayedWriteListLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.delayBlocked)
}

func (b *MemPageBuffer) RemoveEntry(pageAddr uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.images, pageAddr)
	if el, ok := b.tickListSet[pageAddr]; ok {
		b.tickList.Remove(el)
		delete(b.tickListSet, pageAddr)
	}
}

// BlockUntil records that pageAddr may not be overwritten again until
// tick. Dirty records the same kind of block itself when the delay
// gate defers a write; BlockUntil sets one directly.
func (b *MemPageBuffer) BlockUntil(pageAddr uint32, tick uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delayBlocked[pageAddr] = tick
}

// MemMetadataCache is a simple in-memory MetadataCache for an embedded
// reader or for tests.
type MemMetadataCache struct {
	mu      sync.Mutex
	entries map[any]uint32 // key -> containing page
	evicted []uint32
	clean   bool
}

// NewMemMetadataCache returns an in-memory MetadataCache, initially clean.
func NewMemMetadataCache() *MemMetadataCache {
	return &MemMetadataCache{entries: make(map[any]uint32), clean: true}
}

// Put registers a cached entry backed by bytes in page.
func (c *MemMetadataCache) Put(key any, page uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = page
}

func (c *MemMetadataCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clean = true
	return nil
}

func (c *MemMetadataCache) Iterate(fn func(key any)) {
	c.mu.Lock()
	keys := make([]any, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		fn(k)
	}
}

func (c *MemMetadataCache) EvictOrRefreshAllEntriesInPage(page uint32, newTick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, p := range c.entries {
		if p == page {
			delete(c.entries, k)
			c.evicted = append(c.evicted, page)
		}
	}
}

func (c *MemMetadataCache) CacheIsClean() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clean
}

// Evicted returns the pages evicted so far, for tests.
func (c *MemMetadataCache) Evicted() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, len(c.evicted))
	copy(out, c.evicted)
	return out
}
