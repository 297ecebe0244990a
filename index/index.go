// Package index maintains the sorted, fixed-capacity set of page
// descriptors a tick controller publishes to (writer) or observes
// from (reader) the metadata file.
package index

import (
	"sort"

	"github.com/tickfile/vfdswmr/internal/errcat"
)

// Entry describes one modified source page and its current image
// location in the metadata file, plus writer-side bookkeeping that
// never reaches the wire (see codec.Entry for the on-disk subset).
type Entry struct {
	HdF5PageOffset   uint32
	MDFilePageOffset uint32
	Length           uint32
	Checksum         uint32

	// EntryPtr is a non-owning handle into the host page buffer's live
	// image. Nil once the entry has been published to the metadata file.
	EntryPtr any

	TickOfLastChange uint64
	TickOfLastFlush  uint64
	Clean            bool
	MovedToFile      bool

	// DelayedFlush is the earliest tick at which this page may be
	// overwritten again; 0 means no delay is in force.
	DelayedFlush uint64
}

// Index is the sorted, fixed-capacity array of Entry values, keyed by
// HdF5PageOffset. Capacity is fixed at construction and never grows;
// exceeding it is a fatal error per the data-model invariants.
type Index struct {
	entries  []Entry
	capacity int
}

// New creates an empty Index with the given fixed capacity.
func New(capacity int) *Index {
	return &Index{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Capacity returns the fixed entry capacity.
func (ix *Index) Capacity() int {
	return ix.capacity
}

// Len returns the number of entries currently held.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// search returns the index at which page would sit if present, and
// whether it is actually present there.
func (ix *Index) search(page uint32) (int, bool) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return ix.entries[i].HdF5PageOffset >= page
	})
	if i < len(ix.entries) && ix.entries[i].HdF5PageOffset == page {
		return i, true
	}
	return i, false
}

// Lookup returns the entry for page, if present.
func (ix *Index) Lookup(page uint32) (Entry, bool) {
	i, ok := ix.search(page)
	if !ok {
		return Entry{}, false
	}
	return ix.entries[i], true
}

// InsertOrUpdate inserts a new entry for page or, if one already
// exists, updates its transient writer-side fields in place. Capacity
// overflow on insert of a genuinely new page returns
// *errcat.CapacityError.
func (ix *Index) InsertOrUpdate(page uint32, entryPtr any, length uint32, tick uint64) error {
	i, ok := ix.search(page)
	if ok {
		ix.entries[i].EntryPtr = entryPtr
		ix.entries[i].Length = length
		ix.entries[i].TickOfLastChange = tick
		ix.entries[i].Clean = false
		return nil
	}

	if len(ix.entries) >= ix.capacity {
		return errcat.NewCapacity(ix.capacity, len(ix.entries))
	}

	e := Entry{
		HdF5PageOffset:   page,
		EntryPtr:         entryPtr,
		Length:           length,
		TickOfLastChange: tick,
	}
	ix.entries = append(ix.entries, Entry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = e
	return nil
}

// Set replaces the entry at the given page's slot outright, used by
// the tick controller once a page has been committed and its
// MDFilePageOffset/Checksum are known. The page must already be
// present (i.e. follow a prior InsertOrUpdate this tick).
func (ix *Index) Set(e Entry) {
	i, ok := ix.search(e.HdF5PageOffset)
	if !ok {
		panic("index: Set called for page not present")
	}
	ix.entries[i] = e
}

// SortByOffset restores strictly ascending HdF5PageOffset order. The
// structure is maintained sorted by construction, but bulk mutation
// during tick commit (entries mutated via ForEachMutable) can require an
// explicit re-sort before publication.
func (ix *Index) SortByOffset() {
	sort.Slice(ix.entries, func(i, j int) bool {
		return ix.entries[i].HdF5PageOffset < ix.entries[j].HdF5PageOffset
	})
}

// IterSorted calls fn for each entry in ascending HdF5PageOffset
// order, stopping early if fn returns false.
func (ix *Index) IterSorted(fn func(Entry) bool) {
	for _, e := range ix.entries {
		if !fn(e) {
			return
		}
	}
}

// ForEachMutable calls fn with a pointer to each entry, in ascending
// order, allowing the tick controller to commit modified entries
// in place during the commit pass (§4.4 step 5).
func (ix *Index) ForEachMutable(fn func(*Entry)) {
	for i := range ix.entries {
		fn(&ix.entries[i])
	}
}

// Snapshot returns a defensive copy of the entries, in sorted order,
// for use by the reader-side double buffer and the dump-index
// diagnostic.
func (ix *Index) Snapshot() []Entry {
	out := make([]Entry, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// IsSorted reports whether entries are in strictly increasing
// HdF5PageOffset order, with no duplicates. Used by tests asserting
// the sortedness invariant.
func (ix *Index) IsSorted() bool {
	for i := 1; i < len(ix.entries); i++ {
		if ix.entries[i-1].HdF5PageOffset >= ix.entries[i].HdF5PageOffset {
			return false
		}
	}
	return true
}
