package index

import "github.com/tickfile/vfdswmr/codec"

// DoubleBuffer holds the reader's current and previous Index
// snapshots so that the end-of-tick diff (§4.5) runs against the
// prior tick without copying the live structure. It holds the wire
// form (codec.Entry), not the writer-side Entry in this package,
// since a reader never carries the writer's transient bookkeeping
// fields.
type DoubleBuffer struct {
	Current []codec.Entry
	Old     []codec.Entry
}

// NewDoubleBuffer returns an empty DoubleBuffer.
func NewDoubleBuffer() *DoubleBuffer {
	return &DoubleBuffer{}
}

// Swap moves Current into Old and installs next as the new Current.
func (db *DoubleBuffer) Swap(next []codec.Entry) {
	db.Old = db.Current
	db.Current = next
}
