// Package ledger implements the delayed-write FIFO: previous images of
// reused metadata-file pages, retained until max_lag ticks have
// elapsed so that a lagging reader can never observe a dangling
// region.
package ledger

import (
	"container/list"
	"sync"
)

// DelayedEntry records one previous image of a metadata-file page
// that has been superseded but must still be held for any reader that
// may reference it.
type DelayedEntry struct {
	HdF5PageOffset   uint32
	MDFilePageOffset uint32
	Length           uint32
	TickNum          uint64
}

// FreeSpaceManager releases a metadata-file region once the ledger has
// confirmed no reader can still reference it.
type FreeSpaceManager interface {
	Free(addr uint32, size uint32)
}

// Ledger is a thread-safe FIFO of DelayedEntry, newest at the head,
// oldest at the tail, backed by container/list in the same idiom the
// host page buffer's LRU uses for its evict list.
type Ledger struct {
	mu   sync.Mutex
	list *list.List
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{list: list.New()}
}

// Push inserts e at the head (newest). Callers must push entries in
// non-decreasing TickNum order; the resulting tick-monotonicity
// invariant (head→tail non-increasing) is what makes Prune's
// early-stop correct.
func (l *Ledger) Push(e DelayedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list.PushFront(e)
}

// Len returns the number of entries currently held, O(1).
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// Prune removes tail entries with TickNum <= currentTick-maxLag,
// calling fsm.Free for each released region, and stops at the first
// entry too young to release. Returns the number of entries pruned.
func (l *Ledger) Prune(currentTick uint64, maxLag uint32, fsm FreeSpaceManager) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var threshold uint64
	if currentTick > uint64(maxLag) {
		threshold = currentTick - uint64(maxLag)
	}

	pruned := 0
	for {
		tail := l.list.Back()
		if tail == nil {
			break
		}
		e := tail.Value.(DelayedEntry)
		if e.TickNum > threshold {
			break
		}
		l.list.Remove(tail)
		if fsm != nil {
			fsm.Free(e.MDFilePageOffset, e.Length)
		}
		pruned++
	}
	return pruned
}

// Entries returns a snapshot of the ledger, head (newest) to tail
// (oldest), for tests and diagnostics.
func (l *Ledger) Entries() []DelayedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]DelayedEntry, 0, l.list.Len())
	for e := l.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(DelayedEntry))
	}
	return out
}
