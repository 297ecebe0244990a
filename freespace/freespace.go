// Package freespace implements the metadata-file free-space manager:
// allocation and release of page runs within the metadata file's own
// small page grid. It has no relationship to the large file's
// allocator, which remains out of scope per the engine's non-goals.
package freespace

import (
	"sync"

	"github.com/tickfile/vfdswmr/internal/errcat"
)

// Manager allocates and frees page runs within the reserved metadata
// file, leaving the first reservedPages pages permanently reserved for
// the Header/Index region.
type Manager struct {
	mu       sync.Mutex
	pageSize uint32
	used     []bool // used[i] true if page i is allocated
	reserved uint32 // pages [0, reserved) are never allocated to entries
}

// New creates a Manager over a metadata file of totalPages pages of
// pageSize bytes each, with the first reservedPages reserved for the
// Header and Index records.
func New(totalPages uint32, reservedPages uint32, pageSize uint32) *Manager {
	m := &Manager{
		pageSize: pageSize,
		used:     make([]bool, totalPages),
		reserved: reservedPages,
	}
	for i := uint32(0); i < reservedPages && i < totalPages; i++ {
		m.used[i] = true
	}
	return m
}

// Alloc finds the first contiguous run of free pages covering size
// bytes and marks it used, returning the starting page offset.
// Allocation failure (no run large enough remains) is a fatal error.
func (m *Manager) Alloc(size uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	numPages := (size + m.pageSize - 1) / m.pageSize
	if numPages == 0 {
		numPages = 1
	}

	run := uint32(0)
	start := uint32(0)
	for i := uint32(0); i < uint32(len(m.used)); i++ {
		if m.used[i] {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == numPages {
			for p := start; p < start+numPages; p++ {
				m.used[p] = true
			}
			return start, nil
		}
	}

	return 0, errcat.NewFatal("alloc", errcat.NewCapacity(len(m.used), len(m.used)-m.freeCountLocked()))
}

// Free releases the numPages-page run starting at addr (addr and size
// are in the same units as the caller passed to Alloc: size is bytes,
// addr is a page offset).
func (m *Manager) Free(addr uint32, size uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	numPages := (size + m.pageSize - 1) / m.pageSize
	if numPages == 0 {
		numPages = 1
	}
	for p := addr; p < addr+numPages && int(p) < len(m.used); p++ {
		m.used[p] = false
	}
}

// Close releases all bookkeeping. The caller is responsible for
// unlinking the underlying metadata file; Close here is a no-op aside
// from making the Manager unusable, matching the close/unlink
// collaborator boundary described for the free-space manager.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = nil
}

func (m *Manager) freeCountLocked() int {
	n := 0
	for _, u := range m.used {
		if !u {
			n++
		}
	}
	return n
}

// FreePages returns the number of currently unallocated pages, for
// diagnostics and tests.
func (m *Manager) FreePages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeCountLocked()
}
