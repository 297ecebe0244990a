package tick

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tickfile/vfdswmr/clock"
	"github.com/tickfile/vfdswmr/codec"
	"github.com/tickfile/vfdswmr/freespace"
	"github.com/tickfile/vfdswmr/hostcache"
	"github.com/tickfile/vfdswmr/index"
	"github.com/tickfile/vfdswmr/ledger"
	"github.com/tickfile/vfdswmr/mdfile"
)

func TestDiffEntriesClassifiesAddedChangedRemoved(t *testing.T) {
	old := []codec.Entry{
		{HdF5PageOffset: 1, MDFilePageOffset: 10},
		{HdF5PageOffset: 5, MDFilePageOffset: 20},
		{HdF5PageOffset: 9, MDFilePageOffset: 30},
	}
	cur := []codec.Entry{
		{HdF5PageOffset: 1, MDFilePageOffset: 10}, // unchanged
		{HdF5PageOffset: 5, MDFilePageOffset: 99}, // changed
		{HdF5PageOffset: 7, MDFilePageOffset: 40}, // added
	}

	res := diffEntries(old, cur)

	if len(res.Added) != 1 || res.Added[0] != 7 {
		t.Errorf("Added = %v, want [7]", res.Added)
	}
	if len(res.Changed) != 1 || res.Changed[0] != 5 {
		t.Errorf("Changed = %v, want [5]", res.Changed)
	}
	if len(res.Removed) != 1 || res.Removed[0] != 9 {
		t.Errorf("Removed = %v, want [9]", res.Removed)
	}
}

// TestReaderFirstTickObservesAdded exercises scenario S3: against an
// empty old Index, the reader's first tick reports the writer's
// single entry as added, invalidating nothing.
func TestReaderFirstTickObservesAdded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "md.file")

	writerMD, err := mdfile.Create(path, scenarioPageSize, scenarioMDPages)
	if err != nil {
		t.Fatalf("mdfile.Create: %v", err)
	}
	pageBuf := hostcache.NewMemPageBuffer()
	wctrl := NewWriterController("file-1", writerMD,
		index.New(16), ledger.New(), freespace.New(scenarioMDPages, 1, scenarioPageSize),
		pageBuf, hostcache.NewMemMetadataCache(),
		clock.NewFake(time.Now()), scenarioPageSize, scenarioMaxLag, scenarioTickLen)

	pageBuf.Dirty(5, make([]byte, scenarioPageSize))
	if _, err := wctrl.EndOfTick(time.Now()); err != nil {
		t.Fatalf("writer EndOfTick: %v", err)
	}
	writerMD.Close()

	readerMD, err := mdfile.Open(path, scenarioPageSize, scenarioMDPages)
	if err != nil {
		t.Fatalf("mdfile.Open: %v", err)
	}
	defer readerMD.Close()

	rctrl := NewReaderController("file-1-reader", readerMD,
		hostcache.NewMemPageBuffer(), hostcache.NewMemMetadataCache(), scenarioTickLen, 3)

	if _, err := rctrl.EndOfTick(time.Now()); err != nil {
		t.Fatalf("reader EndOfTick: %v", err)
	}

	diff := rctrl.LastDiff()
	if len(diff.Added) != 1 || diff.Added[0] != 5 {
		t.Errorf("Added = %v, want [5]", diff.Added)
	}
	if len(diff.Changed) != 0 || len(diff.Removed) != 0 {
		t.Errorf("expected no changed/removed on first observation, got changed=%v removed=%v", diff.Changed, diff.Removed)
	}
	if rctrl.TickNum() != 1 {
		t.Errorf("TickNum = %d, want 1", rctrl.TickNum())
	}
}

// TestReaderConvergesAfterKTicks exercises testable property 7: after
// k writer commits, the reader's observed Index equals the writer's
// once k reader ticks have been driven.
func TestReaderConvergesAfterKTicks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "md.file")

	writerMD, err := mdfile.Create(path, scenarioPageSize, scenarioMDPages)
	if err != nil {
		t.Fatalf("mdfile.Create: %v", err)
	}
	pageBuf := hostcache.NewMemPageBuffer()
	wctrl := NewWriterController("file-1", writerMD,
		index.New(16), ledger.New(), freespace.New(scenarioMDPages, 1, scenarioPageSize),
		pageBuf, hostcache.NewMemMetadataCache(),
		clock.NewFake(time.Now()), scenarioPageSize, scenarioMaxLag, scenarioTickLen)

	readerMD, err := mdfile.Open(path, scenarioPageSize, scenarioMDPages)
	if err != nil {
		t.Fatalf("mdfile.Open: %v", err)
	}
	defer readerMD.Close()
	rctrl := NewReaderController("file-1-reader", readerMD,
		hostcache.NewMemPageBuffer(), hostcache.NewMemMetadataCache(), scenarioTickLen, 3)

	const k = 3
	for i := 0; i < k; i++ {
		pageBuf.Dirty(uint32(i+1), make([]byte, scenarioPageSize))
		if _, err := wctrl.EndOfTick(time.Now()); err != nil {
			t.Fatalf("writer tick %d: %v", i, err)
		}
	}

	for i := 0; i < k; i++ {
		if _, err := rctrl.EndOfTick(time.Now()); err != nil {
			t.Fatalf("reader tick %d: %v", i, err)
		}
	}

	if rctrl.TickNum() != wctrl.TickNum()-1 {
		t.Errorf("reader TickNum = %d, want %d (writer's last published tick)", rctrl.TickNum(), wctrl.TickNum()-1)
	}
	if len(rctrl.buf.Current) != k {
		t.Errorf("reader observed %d entries, want %d", len(rctrl.buf.Current), k)
	}
}

func TestReaderSkipsWhenTickUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "md.file")
	writerMD, err := mdfile.Create(path, scenarioPageSize, scenarioMDPages)
	if err != nil {
		t.Fatalf("mdfile.Create: %v", err)
	}
	wctrl := NewWriterController("file-1", writerMD,
		index.New(16), ledger.New(), freespace.New(scenarioMDPages, 1, scenarioPageSize),
		hostcache.NewMemPageBuffer(), hostcache.NewMemMetadataCache(),
		clock.NewFake(time.Now()), scenarioPageSize, scenarioMaxLag, scenarioTickLen)
	if _, err := wctrl.EndOfTick(time.Now()); err != nil {
		t.Fatalf("writer EndOfTick: %v", err)
	}
	writerMD.Close()

	readerMD, err := mdfile.Open(path, scenarioPageSize, scenarioMDPages)
	if err != nil {
		t.Fatalf("mdfile.Open: %v", err)
	}
	defer readerMD.Close()

	rctrl := NewReaderController("file-1-reader", readerMD,
		hostcache.NewMemPageBuffer(), hostcache.NewMemMetadataCache(), scenarioTickLen, 3)

	if _, err := rctrl.EndOfTick(time.Now()); err != nil {
		t.Fatalf("first reader EndOfTick: %v", err)
	}
	firstTick := rctrl.TickNum()

	// No writer activity since; header.tick_num is unchanged.
	if _, err := rctrl.EndOfTick(time.Now()); err != nil {
		t.Fatalf("second reader EndOfTick: %v", err)
	}
	if rctrl.TickNum() != firstTick {
		t.Errorf("TickNum changed from %d to %d with no writer activity", firstTick, rctrl.TickNum())
	}
}
