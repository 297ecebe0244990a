// Package mdfile implements the scoped file handle over the metadata
// file: exactly two live regions, a Header at offset 0 and an Index
// at a fixed offset past it, rewritten in place every tick.
package mdfile

import (
	"io"
	"os"
	"sync"

	"github.com/tickfile/vfdswmr/codec"
	"github.com/tickfile/vfdswmr/internal/errcat"
)

// File is a scoped handle over the on-disk metadata file.
type File struct {
	mu              sync.Mutex
	f               *os.File
	path            string
	pageSize        uint32
	mdPagesReserved uint32
}

// Create truncates (creating if necessary) the metadata file at path
// to exactly mdPagesReserved*pageSize bytes, as required for the
// writer's initial open.
func Create(path string, pageSize uint32, mdPagesReserved uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errcat.NewFatal("create", errcat.NewIO("open", path, err))
	}

	size := int64(pageSize) * int64(mdPagesReserved)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errcat.NewFatal("truncate", errcat.NewIO("truncate", path, err))
	}

	return &File{f: f, path: path, pageSize: pageSize, mdPagesReserved: mdPagesReserved}, nil
}

// Open opens an existing metadata file read-only, for reader handles.
func Open(path string, pageSize uint32, mdPagesReserved uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errcat.NewFatal("open", errcat.NewIO("open", path, err))
	}
	return &File{f: f, path: path, pageSize: pageSize, mdPagesReserved: mdPagesReserved}, nil
}

// Path returns the filesystem path of the metadata file.
func (mf *File) Path() string {
	return mf.path
}

// WriteIndexThenHeader performs the publication order mandated by the
// writer's commit protocol: the Index bytes are written at
// header.IndexOffset first, then the Header bytes at offset 0. A
// short write on either is fatal to the file handle.
func (mf *File) WriteIndexThenHeader(header codec.Header, indexBytes []byte) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	if err := mf.writeAtFull(int64(header.IndexOffset), indexBytes); err != nil {
		return errcat.NewFatal("write_index", err)
	}

	headerBytes := codec.EncodeHeader(header)
	if _, err := codec.DecodeHeader(headerBytes); err != nil {
		return errcat.NewFatal("verify_header_before_write", err)
	}

	if err := mf.writeAtFull(0, headerBytes); err != nil {
		return errcat.NewFatal("write_header", err)
	}

	return nil
}

// WritePage writes data at the given metadata-file page offset,
// measured in pages of pageSize bytes, used by the writer's commit
// pass to publish a page image to its newly allocated region.
func (mf *File) WritePage(pageOffset uint32, pageSize uint32, data []byte) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return mf.writeAtFull(int64(pageOffset)*int64(pageSize), data)
}

func (mf *File) writeAtFull(offset int64, data []byte) error {
	n, err := mf.f.WriteAt(data, offset)
	if err != nil {
		return errcat.NewIO("write", mf.path, err)
	}
	if n != len(data) {
		return errcat.NewIO("write", mf.path, io.ErrShortWrite)
	}
	return nil
}

// ReadHeader reads and decodes the Header at offset 0.
func (mf *File) ReadHeader() (codec.Header, error) {
	buf := make([]byte, codec.HeaderSize)
	if _, err := mf.f.ReadAt(buf, 0); err != nil {
		return codec.Header{}, errcat.NewIO("read_header", mf.path, err)
	}
	return codec.DecodeHeader(buf)
}

// ReadIndexFollowedByHeader implements the reader's Header→Index→Header
// protocol: read the Header, read the Index it describes, then
// re-read the Header and require the two tick_num observations to
// agree. A disagreement, or any checksum mismatch along the way, is a
// torn read; the caller retries up to maxAttempts times.
func (mf *File) ReadIndexFollowedByHeader(maxAttempts int) (codec.Header, []codec.Entry, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		h1, err := mf.ReadHeader()
		if err != nil {
			lastErr = errcat.NewTornRead(attempt, maxAttempts, "header read failed: "+err.Error())
			continue
		}

		indexBuf := make([]byte, h1.IndexLength)
		if _, err := mf.f.ReadAt(indexBuf, int64(h1.IndexOffset)); err != nil {
			lastErr = errcat.NewTornRead(attempt, maxAttempts, "index read failed: "+err.Error())
			continue
		}

		_, entries, err := codec.DecodeIndex(indexBuf, h1.TickNum)
		if err != nil {
			lastErr = errcat.NewTornRead(attempt, maxAttempts, "index decode failed")
			continue
		}

		h2, err := mf.ReadHeader()
		if err != nil {
			lastErr = errcat.NewTornRead(attempt, maxAttempts, "header re-read failed")
			continue
		}
		if h2.TickNum != h1.TickNum {
			lastErr = errcat.NewTornRead(attempt, maxAttempts, "tick_num disagreement across index read")
			continue
		}

		return h1, entries, nil
	}

	return codec.Header{}, nil, lastErr
}

// Close closes the underlying file descriptor without unlinking.
func (mf *File) Close() error {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	if err := mf.f.Close(); err != nil {
		return errcat.NewIO("close", mf.path, err)
	}
	return nil
}

// Unlink removes the metadata file from the filesystem. Failure here
// is best-effort per the close-time error policy: it is reported but
// must not be treated as fatal by the caller.
func (mf *File) Unlink() error {
	if err := os.Remove(mf.path); err != nil {
		return errcat.NewBestEffort("unlink_md_file", err)
	}
	return nil
}
