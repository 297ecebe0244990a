// Package codec implements the bit-exact, little-endian encoding and
// decoding of the metadata file's Header and Index records.
//
// Layout (see the external-interfaces section of the design this
// package implements):
//
//	offset 0           HEADER (HeaderSize bytes)
//	                      "VHDR"      4 bytes magic
//	                      page_size   u32
//	                      tick_num    u64
//	                      index_off   u64   (always HeaderSize in this cut)
//	                      index_len   u64   (= EncodedIndexSize(N))
//	                      reserved    12 bytes, zero
//	                      checksum    u32   (CRC-32 over all preceding header bytes)
//	offset index_off    INDEX (variable)
//	                      "VIDX"      4 bytes magic
//	                      tick_num    u64   (must equal header.tick_num)
//	                      num_entries u32   (= N)
//	                      entries[N]  each: hdf5_page u32, md_page u32, length u32, chksum u32
//	                      checksum    u32   (CRC-32 over all preceding index bytes)
package codec

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/tickfile/vfdswmr/internal/errcat"
)

// HeaderMagic and IndexMagic identify the two metadata-file records.
var (
	HeaderMagic = [4]byte{'V', 'H', 'D', 'R'}
	IndexMagic  = [4]byte{'V', 'I', 'D', 'X'}
)

// HeaderSize is the fixed on-disk size of the Header record.
const HeaderSize = 48

// entrySize is the on-disk size of one Index entry.
const entrySize = 16

// indexFixedSize is the size of the Index record's magic, tick_num,
// num_entries and trailing checksum fields, excluding the entries themselves.
const indexFixedSize = 4 + 8 + 4 + 4

const (
	offMagic    = 0
	offPageSize = 4
	offTickNum  = 8
	offIndexOff = 16
	offIndexLen = 24
	offReserved = 32
	offChecksum = 44
	reservedLen = 12
)

// Header is the decoded form of the metadata file's Header record.
type Header struct {
	PageSize    uint32
	TickNum     uint64
	IndexOffset uint64
	IndexLength uint64
}

// Entry is one decoded Index entry: a source page mapped to its
// current image location in the metadata file.
type Entry struct {
	HdF5PageOffset   uint32
	MDFilePageOffset uint32
	Length           uint32
	Checksum         uint32
}

// EncodedIndexSize returns the on-disk size of an Index record holding
// n entries.
func EncodedIndexSize(n int) uint64 {
	return uint64(indexFixedSize + n*entrySize)
}

// EncodeHeader serializes a Header, computing its trailing checksum.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[offMagic:], HeaderMagic[:])
	binary.LittleEndian.PutUint32(buf[offPageSize:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[offTickNum:], h.TickNum)
	binary.LittleEndian.PutUint64(buf[offIndexOff:], h.IndexOffset)
	binary.LittleEndian.PutUint64(buf[offIndexLen:], h.IndexLength)
	// buf[offReserved:offReserved+reservedLen] left zero.
	checksum := crc32.ChecksumIEEE(buf[:offChecksum])
	binary.LittleEndian.PutUint32(buf[offChecksum:], checksum)
	return buf
}

// DecodeHeader parses a Header record, verifying magic and checksum.
// A mismatch is reported as an *errcat.TornReadError with an attempt
// count of 1; callers performing bounded retries should construct
// their own attempt/maxAttempts accounting around this call.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errcat.NewTornRead(1, 1, "header short read")
	}
	if string(buf[offMagic:offMagic+4]) != string(HeaderMagic[:]) {
		return Header{}, errcat.NewTornRead(1, 1, "header magic mismatch")
	}

	want := binary.LittleEndian.Uint32(buf[offChecksum:])
	got := crc32.ChecksumIEEE(buf[:offChecksum])
	if want != got {
		return Header{}, errcat.NewTornRead(1, 1, "header checksum mismatch")
	}

	return Header{
		PageSize:    binary.LittleEndian.Uint32(buf[offPageSize:]),
		TickNum:     binary.LittleEndian.Uint64(buf[offTickNum:]),
		IndexOffset: binary.LittleEndian.Uint64(buf[offIndexOff:]),
		IndexLength: binary.LittleEndian.Uint64(buf[offIndexLen:]),
	}, nil
}

// EncodeIndex serializes an Index record for the given tick and
// entries. Entries must already be sorted by HdF5PageOffset; the
// codec does not sort, it only encodes.
func EncodeIndex(tick uint64, entries []Entry) []byte {
	n := len(entries)
	size := EncodedIndexSize(n)
	buf := make([]byte, size)

	copy(buf[0:4], IndexMagic[:])
	binary.LittleEndian.PutUint64(buf[4:12], tick)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(n))

	off := 16
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[off:], e.HdF5PageOffset)
		binary.LittleEndian.PutUint32(buf[off+4:], e.MDFilePageOffset)
		binary.LittleEndian.PutUint32(buf[off+8:], e.Length)
		binary.LittleEndian.PutUint32(buf[off+12:], e.Checksum)
		off += entrySize
	}

	checksumOff := off
	checksum := crc32.ChecksumIEEE(buf[:checksumOff])
	binary.LittleEndian.PutUint32(buf[checksumOff:], checksum)
	return buf
}

// DecodeIndex parses an Index record, verifying magic, checksum, and
// that its tick_num matches expectedTick (the Header's tick_num from
// the surrounding read). Any disagreement is a torn read.
func DecodeIndex(buf []byte, expectedTick uint64) (uint64, []Entry, error) {
	if len(buf) < indexFixedSize {
		return 0, nil, errcat.NewTornRead(1, 1, "index short read")
	}
	if string(buf[0:4]) != string(IndexMagic[:]) {
		return 0, nil, errcat.NewTornRead(1, 1, "index magic mismatch")
	}

	tick := binary.LittleEndian.Uint64(buf[4:12])
	numEntries := binary.LittleEndian.Uint32(buf[12:16])

	want := EncodedIndexSize(int(numEntries))
	if uint64(len(buf)) < want {
		return 0, nil, errcat.NewTornRead(1, 1, "index length mismatch")
	}

	checksumOff := int(want) - 4
	gotChecksum := binary.LittleEndian.Uint32(buf[checksumOff:])
	wantChecksum := crc32.ChecksumIEEE(buf[:checksumOff])
	if gotChecksum != wantChecksum {
		return 0, nil, errcat.NewTornRead(1, 1, "index checksum mismatch")
	}

	if tick != expectedTick {
		return 0, nil, errcat.NewTornRead(1, 1, "index tick_num disagrees with header")
	}

	entries := make([]Entry, numEntries)
	off := 16
	for i := range entries {
		entries[i] = Entry{
			HdF5PageOffset:   binary.LittleEndian.Uint32(buf[off:]),
			MDFilePageOffset: binary.LittleEndian.Uint32(buf[off+4:]),
			Length:           binary.LittleEndian.Uint32(buf[off+8:]),
			Checksum:         binary.LittleEndian.Uint32(buf[off+12:]),
		}
		off += entrySize
	}

	return tick, entries, nil
}

// ChecksumImage computes the 32-bit checksum used for a published page
// image's chksum field, independent of the record checksums above.
func ChecksumImage(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
