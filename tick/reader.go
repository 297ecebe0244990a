package tick

import (
	"time"

	"github.com/tickfile/vfdswmr/codec"
	"github.com/tickfile/vfdswmr/hostcache"
	"github.com/tickfile/vfdswmr/index"
	"github.com/tickfile/vfdswmr/internal/logging"
	"github.com/tickfile/vfdswmr/mdfile"
	"github.com/tickfile/vfdswmr/scheduler"
)

// DiffResult reports the outcome of a reader end-of-tick's two-pass
// diff against the prior Index snapshot, per §4.5.
type DiffResult struct {
	Added   []uint32
	Changed []uint32
	Removed []uint32
}

// ReaderController drives end-of-tick on the reader side: §4.5's
// probe/fetch/two-pass-diff/advance sequence.
type ReaderController struct {
	fileID  string
	mdFile  *mdfile.File
	buf     *index.DoubleBuffer
	pageBuf hostcache.PageBuffer
	meta    hostcache.MetadataCache

	tickLen     time.Duration
	maxAttempts int

	tickNum  uint64
	lastDiff DiffResult
	observer Observer
}

// NewReaderController constructs a ReaderController.
func NewReaderController(
	fileID string,
	mdFile *mdfile.File,
	pageBuf hostcache.PageBuffer,
	meta hostcache.MetadataCache,
	tickLen time.Duration,
	maxAttempts int,
) *ReaderController {
	return &ReaderController{
		fileID:      fileID,
		mdFile:      mdFile,
		buf:         index.NewDoubleBuffer(),
		pageBuf:     pageBuf,
		meta:        meta,
		tickLen:     tickLen,
		maxAttempts: maxAttempts,
	}
}

// Role identifies this controller to the scheduler as a reader.
func (r *ReaderController) Role() scheduler.Role { return scheduler.RoleReader }

// FileID returns the correlation ID used in logs and monitor events.
func (r *ReaderController) FileID() string { return r.fileID }

// TickNum returns the last tick_num this reader has observed.
func (r *ReaderController) TickNum() uint64 { return r.tickNum }

// LastDiff returns the diff computed by the most recent EndOfTick call.
func (r *ReaderController) LastDiff() DiffResult { return r.lastDiff }

// SetObserver attaches an observer notified of torn reads on every
// subsequent EndOfTick. Passing nil detaches it.
func (r *ReaderController) SetObserver(obs Observer) { r.observer = obs }

// EndOfTick runs one reader end-of-tick cycle per §4.5.
func (r *ReaderController) EndOfTick(now time.Time) (time.Time, error) {
	// Step 1: probe Header.
	h, err := r.mdFile.ReadHeader()
	if err != nil {
		return time.Time{}, err
	}
	if h.TickNum == r.tickNum {
		return now.Add(r.tickLen), nil
	}

	// Step 2: fetch new Index, validated against a Header re-read.
	h2, entries, err := r.mdFile.ReadIndexFollowedByHeader(r.maxAttempts)
	if err != nil {
		logging.TornRead(r.fileID, r.maxAttempts, r.maxAttempts, err.Error())
		if r.observer != nil {
			r.observer.TornRead(r.fileID, r.tickNum, err.Error())
		}
		return time.Time{}, err
	}

	old := r.buf.Current
	r.buf.Swap(entries)

	// Step 3: two-pass diff against old.
	diff := diffEntries(old, entries)
	r.lastDiff = diff

	affected := make([]uint32, 0, len(diff.Changed)+len(diff.Removed))
	affected = append(affected, diff.Changed...)
	affected = append(affected, diff.Removed...)

	for _, page := range affected {
		r.pageBuf.RemoveEntry(page)
	}
	for _, page := range affected {
		r.meta.EvictOrRefreshAllEntriesInPage(page, h2.TickNum)
	}

	// Step 4: advance tick_num, recompute deadline.
	r.tickNum = h2.TickNum
	return now.Add(r.tickLen), nil
}

// diffEntries marches two pointers over the sorted old and current
// entry lists, classifying each source page as added, changed, or
// removed. Both inputs must already be sorted by HdF5PageOffset.
func diffEntries(old, cur []codec.Entry) DiffResult {
	var res DiffResult
	i, j := 0, 0
	for i < len(old) && j < len(cur) {
		switch {
		case old[i].HdF5PageOffset < cur[j].HdF5PageOffset:
			res.Removed = append(res.Removed, old[i].HdF5PageOffset)
			i++
		case old[i].HdF5PageOffset > cur[j].HdF5PageOffset:
			res.Added = append(res.Added, cur[j].HdF5PageOffset)
			j++
		default:
			if old[i].MDFilePageOffset != cur[j].MDFilePageOffset {
				res.Changed = append(res.Changed, old[i].HdF5PageOffset)
			}
			i++
			j++
		}
	}
	for ; i < len(old); i++ {
		res.Removed = append(res.Removed, old[i].HdF5PageOffset)
	}
	for ; j < len(cur); j++ {
		res.Added = append(res.Added, cur[j].HdF5PageOffset)
	}
	return res
}
