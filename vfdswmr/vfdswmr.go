// Package vfdswmr is the top-level facade that wires together the
// wire codec, metadata file, sorted index, delayed-write ledger,
// free-space manager, host-cache collaborators, and tick controllers
// into a single open/close handle, the way the host application's
// core/capsule package composes its own lower-level primitives behind
// one entry point.
package vfdswmr

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickfile/vfdswmr/audit"
	"github.com/tickfile/vfdswmr/clock"
	"github.com/tickfile/vfdswmr/freespace"
	"github.com/tickfile/vfdswmr/hostcache"
	"github.com/tickfile/vfdswmr/index"
	"github.com/tickfile/vfdswmr/internal/logging"
	"github.com/tickfile/vfdswmr/ledger"
	"github.com/tickfile/vfdswmr/mdfile"
	"github.com/tickfile/vfdswmr/monitor"
	"github.com/tickfile/vfdswmr/scheduler"
	"github.com/tickfile/vfdswmr/tick"
)

// auditObserver adapts an audit.Store to tick.Observer, recording
// every writer commit to durable history. Torn reads and ledger
// prunes are not audited; the history table tracks published ticks
// only.
type auditObserver struct {
	store *audit.Store
}

func (a auditObserver) Commit(fileID string, tickNum uint64, numEntries int, bytesWritten int64, indexBytes []byte) {
	if err := a.store.RecordCommit(fileID, tickNum, numEntries, bytesWritten, audit.Digest(indexBytes)); err != nil {
		logging.Error("failed to record tick commit to audit history", "file_id", fileID, "tick_num", tickNum, "error", err)
	}
}

func (auditObserver) TornRead(fileID string, tickNum uint64, reason string) {}

func (auditObserver) LedgerPrune(fileID string, tickNum uint64, pruned int) {}

// multiObserver fans a tick.Observer event out to every sub-observer,
// so a single writer handle can notify both the monitor hub and the
// audit store from the same commit.
type multiObserver []tick.Observer

func (m multiObserver) Commit(fileID string, tickNum uint64, numEntries int, bytesWritten int64, indexBytes []byte) {
	for _, o := range m {
		o.Commit(fileID, tickNum, numEntries, bytesWritten, indexBytes)
	}
}

func (m multiObserver) TornRead(fileID string, tickNum uint64, reason string) {
	for _, o := range m {
		o.TornRead(fileID, tickNum, reason)
	}
}

func (m multiObserver) LedgerPrune(fileID string, tickNum uint64, pruned int) {
	for _, o := range m {
		o.LedgerPrune(fileID, tickNum, pruned)
	}
}

// Config describes how to open a metadata file for coordinated
// single-writer/multiple-reader access.
type Config struct {
	// MDFilePath is the path to the metadata file on disk.
	MDFilePath string
	// PageSize is the fixed page size, in bytes, for both the HDF5
	// file and the metadata file.
	PageSize uint32
	// MDPagesReserved is how many leading pages of the metadata file
	// are reserved for the Header/Index region (at least 1).
	MDPagesReserved uint32
	// IndexCapacity is the fixed maximum number of Index entries.
	IndexCapacity int
	// MaxLag bounds how long a delayed write may be deferred and how
	// long the ledger retains a pre-overwrite page location.
	MaxLag uint32
	// TickLen is the wall-clock duration of one tick.
	TickLen time.Duration
	// Queue is the scheduler queue new handles register with. Defaults
	// to scheduler.Default if nil.
	Queue *scheduler.Queue
	// Monitor, if set, receives commit, torn-read, and ledger-prune
	// events for the opened handle.
	Monitor *monitor.Hub
	// Audit, if set, records every writer commit to a durable history.
	Audit *audit.Store
}

func (c Config) withDefaults() Config {
	if c.Queue == nil {
		c.Queue = scheduler.Default
	}
	if c.MDPagesReserved == 0 {
		c.MDPagesReserved = 1
	}
	if c.IndexCapacity == 0 {
		c.IndexCapacity = 1024
	}
	if c.MaxLag == 0 {
		c.MaxLag = 3
	}
	if c.TickLen == 0 {
		c.TickLen = time.Second
	}
	return c
}

// Handle is one open writer or reader coordination session on a
// metadata file.
type Handle struct {
	id     string
	cfg    Config
	mdFile *mdfile.File

	writer        *tick.WriterController
	writerPageBuf *hostcache.MemPageBuffer
	reader        *tick.ReaderController
}

// ID returns the handle's correlation ID, a fresh UUID minted at open time.
func (h *Handle) ID() string { return h.id }

// PageBuffer exposes the writer's in-memory host page buffer, for
// embedding hosts that dirty pages directly through this facade
// rather than supplying their own. Returns nil for a reader handle.
func (h *Handle) PageBuffer() *hostcache.MemPageBuffer { return h.writerPageBuf }

// OpenWriter opens path as the single writer of a metadata file,
// creating it if absent, and registers the resulting controller with
// cfg.Queue.
func OpenWriter(cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()

	mf, err := mdfile.Create(cfg.MDFilePath, cfg.PageSize, cfg.MDPagesReserved)
	if err != nil {
		return nil, fmt.Errorf("vfdswmr: open writer: %w", err)
	}

	id := uuid.NewString()
	idx := index.New(cfg.IndexCapacity)
	lg := ledger.New()
	fsm := freespace.New(totalPages(cfg), cfg.MDPagesReserved, cfg.PageSize)
	pageBuf := hostcache.NewMemPageBuffer()
	metaCache := hostcache.NewMemMetadataCache()

	ctrl := tick.NewWriterController(id, mf, idx, lg, fsm, pageBuf, metaCache,
		clock.New(), cfg.PageSize, cfg.MaxLag, cfg.TickLen)
	if obs := buildObserver(cfg); obs != nil {
		ctrl.SetObserver(obs)
	}

	h := &Handle{id: id, cfg: cfg, mdFile: mf, writer: ctrl, writerPageBuf: pageBuf}
	cfg.Queue.Insert(ctrl, time.Now().Add(cfg.TickLen))
	return h, nil
}

// OpenReader opens path as a read-only observer of a metadata file
// already being maintained by a writer, and registers the resulting
// controller with cfg.Queue.
func OpenReader(cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()

	mf, err := mdfile.Open(cfg.MDFilePath, cfg.PageSize, cfg.MDPagesReserved)
	if err != nil {
		return nil, fmt.Errorf("vfdswmr: open reader: %w", err)
	}

	id := uuid.NewString()
	pageBuf := hostcache.NewMemPageBuffer()
	metaCache := hostcache.NewMemMetadataCache()

	ctrl := tick.NewReaderController(id, mf, pageBuf, metaCache, cfg.TickLen, 3)
	if cfg.Monitor != nil {
		ctrl.SetObserver(cfg.Monitor)
	}

	h := &Handle{id: id, cfg: cfg, mdFile: mf, reader: ctrl}
	cfg.Queue.Insert(ctrl, time.Now().Add(cfg.TickLen))
	return h, nil
}

// Close unregisters the handle's controller from the scheduler queue
// and closes the underlying metadata file. For a writer handle this
// first drains the delayed-write ledger via PrepForFlushOrClose, then
// unlinks the metadata file per §3's "destroyed at close" lifetime —
// unlink failure is best-effort and is logged rather than returned.
func (h *Handle) Close() error {
	if h.writer != nil {
		h.cfg.Queue.Remove(h.writer)
		if err := h.writer.PrepForFlushOrClose(); err != nil {
			h.mdFile.Close()
			return fmt.Errorf("vfdswmr: close writer: %w", err)
		}
	}
	if h.reader != nil {
		h.cfg.Queue.Remove(h.reader)
	}

	closeErr := h.mdFile.Close()

	if h.writer != nil {
		if err := h.mdFile.Unlink(); err != nil {
			logging.Error("failed to unlink metadata file at close", "file_id", h.id, "path", h.mdFile.Path(), "error", err)
		}
	}

	return closeErr
}

// Writer returns the handle's writer controller, or nil for a reader handle.
func (h *Handle) Writer() *tick.WriterController { return h.writer }

// Reader returns the handle's reader controller, or nil for a writer handle.
func (h *Handle) Reader() *tick.ReaderController { return h.reader }

// totalPages sizes the metadata file's free-space manager: the
// reserved Header/Index region plus room for up to IndexCapacity
// distinct page entries.
func totalPages(cfg Config) uint32 {
	return uint32(cfg.IndexCapacity) + cfg.MDPagesReserved
}

// buildObserver assembles the writer-side observer from whichever of
// cfg.Monitor and cfg.Audit are set, fanning out to both when present.
// Returns nil if neither is configured.
func buildObserver(cfg Config) tick.Observer {
	var obs multiObserver
	if cfg.Monitor != nil {
		obs = append(obs, cfg.Monitor)
	}
	if cfg.Audit != nil {
		obs = append(obs, auditObserver{store: cfg.Audit})
	}
	if len(obs) == 0 {
		return nil
	}
	return obs
}
