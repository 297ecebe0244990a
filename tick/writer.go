// Package tick implements the per-file tick controllers: the writer
// variant that advances the tick counter and republishes the
// metadata file, and the reader variant that diffs successive
// published indexes and invalidates stale host-cache pages.
package tick

import (
	"fmt"
	"io"
	"time"

	"github.com/tickfile/vfdswmr/clock"
	"github.com/tickfile/vfdswmr/codec"
	"github.com/tickfile/vfdswmr/hostcache"
	"github.com/tickfile/vfdswmr/index"
	"github.com/tickfile/vfdswmr/internal/errcat"
	"github.com/tickfile/vfdswmr/internal/logging"
	"github.com/tickfile/vfdswmr/ledger"
	"github.com/tickfile/vfdswmr/mdfile"
	"github.com/tickfile/vfdswmr/scheduler"
)

// imageSource is implemented by page buffers that can hand back the
// live bytes for a dirtied page; hostcache.MemPageBuffer satisfies it.
type imageSource interface {
	Image(page uint32) ([]byte, bool)
}

// publishRecorder is implemented by page buffers that track which
// pages already have a committed image, so a later Dirty of the same
// page is subject to the delay gate; hostcache.MemPageBuffer satisfies it.
type publishRecorder interface {
	MarkPublished(page uint32)
}

// delayGateSetter is implemented by page buffers that accept a
// hostcache.DelayGate; hostcache.MemPageBuffer satisfies it.
type delayGateSetter interface {
	SetDelayGate(hostcache.DelayGate)
}

// Observer receives tick lifecycle events as they happen; *monitor.Hub
// satisfies this without tick importing monitor directly. Commit
// carries the encoded Index bytes published this tick so an observer
// that needs a content digest (e.g. an audit trail) can compute one
// without tick importing that collaborator either.
type Observer interface {
	Commit(fileID string, tickNum uint64, numEntries int, bytesWritten int64, indexBytes []byte)
	TornRead(fileID string, tickNum uint64, reason string)
	LedgerPrune(fileID string, tickNum uint64, pruned int)
}

// FreeSpaceManager is the metadata-file free-space manager
// collaborator the writer allocates fresh page regions from.
type FreeSpaceManager interface {
	Alloc(size uint32) (uint32, error)
	Free(addr uint32, size uint32)
}

// WriterController drives end-of-tick on the writer side: §4.4's
// nine-step sequence.
type WriterController struct {
	fileID    string
	mdFile    *mdfile.File
	idx       *index.Index
	ledger    *ledger.Ledger
	fsm       FreeSpaceManager
	pageBuf   hostcache.PageBuffer
	metaCache hostcache.MetadataCache
	clock     clock.Clock

	pageSize uint32
	maxLag   uint32
	tickLen  time.Duration

	tickNum  uint64
	observer Observer
}

// NewWriterController constructs a WriterController. idx must already
// be sized to the file's fixed capacity; tickNum starts at 1 per the
// data model's initial-tick convention.
func NewWriterController(
	fileID string,
	mdFile *mdfile.File,
	idx *index.Index,
	lg *ledger.Ledger,
	fsm FreeSpaceManager,
	pageBuf hostcache.PageBuffer,
	metaCache hostcache.MetadataCache,
	clk clock.Clock,
	pageSize uint32,
	maxLag uint32,
	tickLen time.Duration,
) *WriterController {
	w := &WriterController{
		fileID:    fileID,
		mdFile:    mdFile,
		idx:       idx,
		ledger:    lg,
		fsm:       fsm,
		pageBuf:   pageBuf,
		metaCache: metaCache,
		clock:     clk,
		pageSize:  pageSize,
		maxLag:    maxLag,
		tickLen:   tickLen,
		tickNum:   1,
	}
	if dg, ok := pageBuf.(delayGateSetter); ok {
		dg.SetDelayGate(w)
	}
	return w
}

// Role identifies this controller to the scheduler as the writer.
func (w *WriterController) Role() scheduler.Role { return scheduler.RoleWriter }

// SetObserver attaches an observer that is notified of commits and
// ledger prunes on every subsequent EndOfTick. Passing nil detaches it.
func (w *WriterController) SetObserver(obs Observer) { w.observer = obs }

// FileID returns the correlation ID used in logs and monitor events.
func (w *WriterController) FileID() string { return w.fileID }

// TickNum returns the controller's current tick number.
func (w *WriterController) TickNum() uint64 { return w.tickNum }

// EndOfTick runs one writer end-of-tick cycle per §4.4 and returns the
// next deadline at which it should run again.
func (w *WriterController) EndOfTick(now time.Time) (time.Time, error) {
	// Step 1: flush client state into the host page cache. Raw-data
	// flush policy is an external concern and is intentionally not
	// implemented here.
	w.pageBuf.SetTick(w.tickNum)

	// Step 2: flush host metadata cache to the page buffer.
	if w.metaCache != nil {
		if err := w.metaCache.Flush(); err != nil {
			return time.Time{}, errcat.NewIO("flush_metadata_cache", w.fileID, err)
		}
	}

	// Step 3: lazy-init the Index on the first tick. The Index is
	// already allocated at construction time in this port, so there is
	// nothing further to do here; the step exists for parity with the
	// original sequence.

	// Step 4: merge the tick list into the Index.
	upd := w.pageBuf.UpdateIndex()
	for _, page := range append(append([]uint32{}, upd.Added...), upd.Modified...) {
		if err := w.idx.InsertOrUpdate(page, pendingMarker{}, w.pageSize, w.tickNum); err != nil {
			return time.Time{}, err
		}
	}

	// Step 5: commit modified entries to the metadata file.
	var commitErr error
	numCommitted := 0
	var bytesWritten int64
	w.idx.ForEachMutable(func(e *index.Entry) {
		if commitErr != nil || e.EntryPtr == nil {
			return
		}

		wasPublished := e.MDFilePageOffset != 0
		if wasPublished {
			w.ledger.Push(ledger.DelayedEntry{
				HdF5PageOffset:   e.HdF5PageOffset,
				MDFilePageOffset: e.MDFilePageOffset,
				Length:           e.Length,
				TickNum:          w.tickNum,
			})
		}

		addr, err := w.fsm.Alloc(e.Length)
		if err != nil {
			commitErr = err
			return
		}

		data, ok := w.imageFor(e.HdF5PageOffset)
		if !ok {
			data = make([]byte, e.Length)
		}
		checksum := codec.ChecksumImage(data)

		if err := w.mdFile.WritePage(addr, w.pageSize, data); err != nil {
			commitErr = err
			return
		}

		e.MDFilePageOffset = addr
		e.Checksum = checksum
		e.EntryPtr = nil
		e.Clean = true
		e.TickOfLastFlush = w.tickNum
		if wasPublished {
			// This page has been overwritten before; hold off the next
			// overwrite for max_lag ticks so a lagging reader cannot be
			// shown a page whose content has already moved twice within
			// its own lag window.
			e.DelayedFlush = w.tickNum + uint64(w.maxLag)
		}

		numCommitted++
		bytesWritten += int64(len(data))

		if pr, ok := w.pageBuf.(publishRecorder); ok {
			pr.MarkPublished(e.HdF5PageOffset)
		}
	})
	if commitErr != nil {
		return time.Time{}, commitErr
	}
	w.idx.SortByOffset()
	if !w.idx.IsSorted() {
		return time.Time{}, errcat.NewLogic("index_sortedness", "index not sorted after commit pass")
	}

	// Step 6: encode-and-write Index, then Header.
	entries := make([]codec.Entry, 0, w.idx.Len())
	w.idx.IterSorted(func(e index.Entry) bool {
		entries = append(entries, codec.Entry{
			HdF5PageOffset:   e.HdF5PageOffset,
			MDFilePageOffset: e.MDFilePageOffset,
			Length:           e.Length,
			Checksum:         e.Checksum,
		})
		return true
	})

	indexBytes := codec.EncodeIndex(w.tickNum, entries)
	header := codec.Header{
		PageSize:    w.pageSize,
		TickNum:     w.tickNum,
		IndexOffset: codec.HeaderSize,
		IndexLength: uint64(len(indexBytes)),
	}
	if err := w.mdFile.WriteIndexThenHeader(header, indexBytes); err != nil {
		return time.Time{}, err
	}

	logging.TickCommitted(w.fileID, w.tickNum, numCommitted, bytesWritten)
	if w.observer != nil {
		w.observer.Commit(w.fileID, w.tickNum, numCommitted, bytesWritten, indexBytes)
	}

	// Step 7: release the page buffer's tick list and expired delayed writes.
	w.pageBuf.ReleaseTickList()
	w.pageBuf.ReleaseDelayedWrites(w.tickNum)

	// Step 8: prune the ledger.
	pruned := w.ledger.Prune(w.tickNum, w.maxLag, w.fsm)
	if pruned > 0 {
		logging.LedgerPruned(w.fileID, w.tickNum, pruned, w.ledger.Len())
		if w.observer != nil {
			w.observer.LedgerPrune(w.fileID, w.tickNum, pruned)
		}
	}

	// Step 9: advance tick_num, recompute end_of_tick.
	w.tickNum++
	next := now.Add(w.tickLen)
	return next, nil
}

func (w *WriterController) imageFor(page uint32) ([]byte, bool) {
	src, ok := w.pageBuf.(imageSource)
	if !ok {
		return nil, false
	}
	return src.Image(page)
}

// pendingMarker is the EntryPtr sentinel used for entries merged into
// the Index this tick but not yet published: a non-nil, zero-size
// handle distinct from any real image reference.
type pendingMarker struct{}

// DelayWriteUntil implements the delayed-write decision described in
// §4.4: before the page buffer may overwrite an existing page, it
// asks the controller for the earliest tick at which that is allowed.
// A return of 0 means "write allowed immediately" rather than tick 0;
// EffectiveDelay maps that sentinel back onto current_tick for bound
// checking.
func (w *WriterController) DelayWriteUntil(page uint32) uint64 {
	e, ok := w.idx.Lookup(page)
	if !ok {
		return w.tickNum + uint64(w.maxLag)
	}
	if e.DelayedFlush >= w.tickNum {
		return e.DelayedFlush
	}
	return 0
}

// EffectiveDelay maps DelayWriteUntil's 0 sentinel onto current_tick
// and validates the result lies in [current_tick, current_tick+max_lag],
// returning *errcat.LogicError if not.
func (w *WriterController) EffectiveDelay(page uint32) (uint64, error) {
	delay := w.DelayWriteUntil(page)
	effective := delay
	if effective == 0 {
		effective = w.tickNum
	}
	if effective < w.tickNum || effective > w.tickNum+uint64(w.maxLag) {
		return 0, errcat.NewLogic("delayed_write_bound",
			fmt.Sprintf("delay_write_until(%d)=%d outside [%d, %d]", page, effective, w.tickNum, w.tickNum+uint64(w.maxLag)))
	}
	return effective, nil
}

// PrepForFlushOrClose implements the flush-or-close prep routine: it
// forces one end-of-tick to clear the current tick list, then
// repeatedly sleeps tick_len and runs end-of-tick until the page
// buffer's delayed-write list drains.
func (w *WriterController) PrepForFlushOrClose() error {
	if _, err := w.EndOfTick(w.clock.Now()); err != nil {
		return err
	}
	for w.pageBuf.DelayedWriteListLen() > 0 {
		w.clock.Sleep(w.tickLen)
		if _, err := w.EndOfTick(w.clock.Now()); err != nil {
			return err
		}
	}
	return nil
}

// DumpIndex writes a diagnostic listing of the Index's current
// entries to out, one per line, ported from the original
// writer__dump_index diagnostic.
func (w *WriterController) DumpIndex(out io.Writer) error {
	var err error
	w.idx.IterSorted(func(e index.Entry) bool {
		_, werr := fmt.Fprintf(out, "hdf5=%d md=%d length=%d chksum=%08x delayed_flush=%d\n",
			e.HdF5PageOffset, e.MDFilePageOffset, e.Length, e.Checksum, e.DelayedFlush)
		if werr != nil {
			err = werr
			return false
		}
		return true
	})
	return err
}
