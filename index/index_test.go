package index

import (
	"errors"
	"testing"

	"github.com/tickfile/vfdswmr/codec"
	"github.com/tickfile/vfdswmr/internal/errcat"
)

func TestInsertOrUpdateMaintainsSortOrder(t *testing.T) {
	ix := New(8)

	pages := []uint32{5, 1, 9, 3, 7}
	for _, p := range pages {
		if err := ix.InsertOrUpdate(p, nil, 4096, 1); err != nil {
			t.Fatalf("InsertOrUpdate(%d): %v", p, err)
		}
	}

	if !ix.IsSorted() {
		t.Fatal("expected index to be sorted after inserts")
	}
	if ix.Len() != len(pages) {
		t.Fatalf("Len() = %d, want %d", ix.Len(), len(pages))
	}
}

func TestInsertOrUpdateUpdatesExisting(t *testing.T) {
	ix := New(4)
	if err := ix.InsertOrUpdate(5, "img1", 100, 1); err != nil {
		t.Fatal(err)
	}
	if err := ix.InsertOrUpdate(5, "img2", 200, 2); err != nil {
		t.Fatal(err)
	}

	if ix.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", ix.Len())
	}

	e, ok := ix.Lookup(5)
	if !ok {
		t.Fatal("expected page 5 to be present")
	}
	if e.Length != 200 || e.EntryPtr != "img2" || e.TickOfLastChange != 2 {
		t.Errorf("entry not updated in place: %+v", e)
	}
}

func TestInsertOrUpdateCapacityOverflow(t *testing.T) {
	ix := New(2)
	if err := ix.InsertOrUpdate(1, nil, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := ix.InsertOrUpdate(2, nil, 0, 1); err != nil {
		t.Fatal(err)
	}

	err := ix.InsertOrUpdate(3, nil, 0, 1)
	if !errors.Is(err, errcat.ErrCapacityExceeded) {
		t.Fatalf("InsertOrUpdate() error = %v, want ErrCapacityExceeded", err)
	}
}

func TestLookupMissing(t *testing.T) {
	ix := New(4)
	_, ok := ix.Lookup(42)
	if ok {
		t.Error("expected Lookup of missing page to report not-found")
	}
}

func TestSortByOffsetAfterMutation(t *testing.T) {
	ix := New(4)
	for _, p := range []uint32{2, 4} {
		if err := ix.InsertOrUpdate(p, nil, 0, 1); err != nil {
			t.Fatal(err)
		}
	}

	ix.ForEachMutable(func(e *Entry) {
		e.MDFilePageOffset = 99
	})
	ix.SortByOffset()

	if !ix.IsSorted() {
		t.Fatal("expected sorted order after SortByOffset")
	}
}

func TestIterSortedOrderAndEarlyStop(t *testing.T) {
	ix := New(8)
	for _, p := range []uint32{3, 1, 2} {
		if err := ix.InsertOrUpdate(p, nil, 0, 1); err != nil {
			t.Fatal(err)
		}
	}

	var seen []uint32
	ix.IterSorted(func(e Entry) bool {
		seen = append(seen, e.HdF5PageOffset)
		return true
	})
	want := []uint32{1, 2, 3}
	for i, p := range want {
		if seen[i] != p {
			t.Errorf("seen[%d] = %d, want %d", i, seen[i], p)
		}
	}

	var count int
	ix.IterSorted(func(e Entry) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("expected early stop after 2 entries, got %d", count)
	}
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	ix := New(4)
	if err := ix.InsertOrUpdate(1, nil, 0, 1); err != nil {
		t.Fatal(err)
	}

	snap := ix.Snapshot()
	snap[0].Length = 12345

	e, _ := ix.Lookup(1)
	if e.Length == 12345 {
		t.Error("Snapshot should not alias internal storage")
	}
}

func TestDoubleBufferSwap(t *testing.T) {
	db := NewDoubleBuffer()
	first := []codec.Entry{{HdF5PageOffset: 1}}
	db.Swap(first)
	if len(db.Old) != 0 || len(db.Current) != 1 {
		t.Fatalf("after first swap: old=%v current=%v", db.Old, db.Current)
	}

	second := []codec.Entry{{HdF5PageOffset: 2}}
	db.Swap(second)
	if len(db.Old) != 1 || db.Old[0].HdF5PageOffset != 1 {
		t.Fatalf("expected Old to hold previous Current, got %v", db.Old)
	}
	if len(db.Current) != 1 || db.Current[0].HdF5PageOffset != 2 {
		t.Fatalf("expected Current to hold new snapshot, got %v", db.Current)
	}
}
