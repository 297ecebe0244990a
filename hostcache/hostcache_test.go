package hostcache

import "testing"

func TestMemPageBufferDirtyAndUpdateIndex(t *testing.T) {
	b := NewMemPageBuffer()
	b.Dirty(5, []byte{0xAB})
	b.Dirty(7, []byte{0xCD})

	res := b.UpdateIndex()
	if len(res.Modified) != 2 {
		t.Fatalf("Modified = %v, want 2 entries", res.Modified)
	}
}

func TestMemPageBufferReleaseTickList(t *testing.T) {
	b := NewMemPageBuffer()
	b.Dirty(1, []byte{1})
	b.ReleaseTickList()

	res := b.UpdateIndex()
	if len(res.Modified) != 0 {
		t.Errorf("Modified after release = %v, want empty", res.Modified)
	}
	if _, ok := b.Image(1); ok {
		t.Error("expected image to be cleared after ReleaseTickList")
	}
}

func TestMemPageBufferDelayedWrites(t *testing.T) {
	b := NewMemPageBuffer()
	b.BlockUntil(5, 10)

	if b.DelayedWriteListLen() != 1 {
		t.Fatalf("DelayedWriteListLen() = %d, want 1", b.DelayedWriteListLen())
	}

	b.ReleaseDelayedWrites(9)
	if b.DelayedWriteListLen() != 1 {
		t.Errorf("expected block to survive before its tick, got len %d", b.DelayedWriteListLen())
	}

	b.ReleaseDelayedWrites(10)
	if b.DelayedWriteListLen() != 0 {
		t.Errorf("expected block to clear at its tick, got len %d", b.DelayedWriteListLen())
	}
}

type fakeDelayGate struct {
	until uint64
}

func (g fakeDelayGate) DelayWriteUntil(page uint32) uint64 { return g.until }

func TestMemPageBufferDirtyConsultsDelayGateOnlyAfterPublish(t *testing.T) {
	b := NewMemPageBuffer()
	b.SetDelayGate(fakeDelayGate{until: 10})
	b.SetTick(1)

	// Page 5 has never been published: the gate's "not in index" branch
	// would otherwise defer it, but Dirty must bypass the gate entirely
	// for a page it has never seen before.
	b.Dirty(5, []byte{0xAB})
	if b.DelayedWriteListLen() != 0 {
		t.Fatalf("first-ever Dirty should never be deferred, got DelayedWriteListLen() = %d", b.DelayedWriteListLen())
	}

	// Publish page 5 the way the writer's end-of-tick does: mark it
	// published, then release the tick list (which drops the 0xAB image).
	b.MarkPublished(5)
	b.ReleaseTickList()
	b.Dirty(5, []byte{0xCD})
	if b.DelayedWriteListLen() != 1 {
		t.Fatalf("overwrite of a published page should be deferred, got DelayedWriteListLen() = %d", b.DelayedWriteListLen())
	}
	if _, ok := b.Image(5); ok {
		t.Error("deferred write should not yet be visible as the page's live image")
	}

	b.ReleaseDelayedWrites(10)
	if b.DelayedWriteListLen() != 0 {
		t.Errorf("expected deferred write to clear at its gate tick, got len %d", b.DelayedWriteListLen())
	}
	data, ok := b.Image(5)
	if !ok || data[0] != 0xCD {
		t.Errorf("expected deferred write promoted into the live image, got %v, ok=%v", data, ok)
	}
}

func TestMemPageBufferRemoveEntry(t *testing.T) {
	b := NewMemPageBuffer()
	b.Dirty(3, []byte{9})
	b.RemoveEntry(3)

	if _, ok := b.Image(3); ok {
		t.Error("expected image removed")
	}
	res := b.UpdateIndex()
	for _, p := range res.Modified {
		if p == 3 {
			t.Error("expected page 3 removed from tick list")
		}
	}
}

func TestMemMetadataCacheEvictOrRefresh(t *testing.T) {
	c := NewMemMetadataCache()
	c.Put("obj-a", 5)
	c.Put("obj-b", 5)
	c.Put("obj-c", 9)

	c.EvictOrRefreshAllEntriesInPage(5, 2)

	evicted := c.Evicted()
	if len(evicted) != 2 {
		t.Fatalf("Evicted() = %v, want 2 entries", evicted)
	}

	var remaining int
	c.Iterate(func(key any) { remaining++ })
	if remaining != 1 {
		t.Errorf("remaining entries = %d, want 1", remaining)
	}
}

func TestMemMetadataCacheCleanFlag(t *testing.T) {
	c := NewMemMetadataCache()
	if !c.CacheIsClean() {
		t.Error("expected fresh cache to be clean")
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !c.CacheIsClean() {
		t.Error("expected cache clean after Flush")
	}
}
