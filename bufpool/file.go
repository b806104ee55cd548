// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bufpool

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/errors"
)

// The page file is a sequence of fixed-size slots. Slot i holds page i
// followed by an 8 byte little-endian xxhash64 of the page contents. Page 0 is
// the file header:
//
//	+-------------+-----------+-----------+------------+----------+----------------+
//	| magic (8)   | version   | page size | page count | free len | free page set  |
//	|             | (uint32)  | (uint32)  | (uint32)   | (uint32) | (roaring)      |
//	+-------------+-----------+-----------+------------+----------+----------------+
//
// The page count includes the header page. The free page set holds the ids
// that were released and may be handed out again.
const (
	fileMagic         = "colbmpf\x00"
	formatVersion     = 1
	headerFixedSize   = 24
	checksumSize      = 8
	headerVersionOff  = 8
	headerPageSizeOff = 12
	headerCountOff    = 16
	headerFreeLenOff  = 20
)

// pageFile reads and writes checksummed pages and tracks page allocation. It
// is not safe for concurrent use; the Pool serializes access.
type pageFile struct {
	name     string
	f        vfs.File
	pageSize int
	// count is the number of page ids ever handed out, including the header.
	count   int32
	free    *roaring.Bitmap
	scratch []byte
}

func validatePageSize(n int) error {
	if n < MinPageSize || n > MaxPageSize || n&(n-1) != 0 {
		return errors.Newf("bufpool: invalid page size %d", errors.Safe(n))
	}
	return nil
}

func newPageFile(name string, f vfs.File, pageSize int) *pageFile {
	return &pageFile{
		name:     name,
		f:        f,
		pageSize: pageSize,
		free:     roaring.New(),
		scratch:  make([]byte, pageSize+checksumSize),
	}
}

func createPageFile(fs vfs.FS, name string, pageSize int) (*pageFile, error) {
	if err := validatePageSize(pageSize); err != nil {
		return nil, err
	}
	f, err := fs.Create(name)
	if err != nil {
		return nil, errors.Wrapf(err, "bufpool: creating %s", name)
	}
	pf := newPageFile(name, f, pageSize)
	pf.count = 1
	if err := pf.writeHeader(); err != nil {
		return nil, errors.CombineErrors(err, f.Close())
	}
	if err := pf.sync(); err != nil {
		return nil, errors.CombineErrors(err, f.Close())
	}
	return pf, nil
}

func openPageFile(fs vfs.FS, name string) (*pageFile, error) {
	f, err := fs.OpenReadWrite(name)
	if err != nil {
		return nil, errors.Wrapf(err, "bufpool: opening %s", name)
	}
	pf, err := readPageFileHeader(name, f)
	if err != nil {
		return nil, errors.CombineErrors(err, f.Close())
	}
	return pf, nil
}

func readPageFileHeader(name string, f vfs.File) (*pageFile, error) {
	var fixed [headerFixedSize]byte
	if _, err := f.ReadAt(fixed[:], 0); err != nil {
		if err == io.EOF {
			return nil, base.CorruptionErrorf("bufpool: %s: truncated header", name)
		}
		return nil, errors.Wrapf(err, "bufpool: reading header of %s", name)
	}
	if string(fixed[:len(fileMagic)]) != fileMagic {
		return nil, base.CorruptionErrorf("bufpool: %s: bad magic %x", name, fixed[:len(fileMagic)])
	}
	if v := binary.LittleEndian.Uint32(fixed[headerVersionOff:]); v != formatVersion {
		return nil, errors.Newf("bufpool: %s: unsupported format version %d", name, errors.Safe(v))
	}
	pageSize := int(binary.LittleEndian.Uint32(fixed[headerPageSizeOff:]))
	if err := validatePageSize(pageSize); err != nil {
		return nil, base.MarkCorruptionError(errors.Wrapf(err, "bufpool: %s", name))
	}

	pf := newPageFile(name, f, pageSize)
	buf := make([]byte, pageSize)
	if err := pf.readPage(0, buf); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(buf[headerCountOff:])
	freeLen := int(binary.LittleEndian.Uint32(buf[headerFreeLenOff:]))
	if count < 1 || count > math.MaxInt32 || freeLen > pageSize-headerFixedSize {
		return nil, base.CorruptionErrorf("bufpool: %s: bad header (count=%d, free set=%d bytes)",
			name, count, freeLen)
	}
	pf.count = int32(count)
	if err := pf.free.UnmarshalBinary(buf[headerFixedSize : headerFixedSize+freeLen]); err != nil {
		return nil, base.MarkCorruptionError(errors.Wrapf(err, "bufpool: %s: decoding free page set", name))
	}
	if pf.free.Contains(0) || (!pf.free.IsEmpty() && pf.free.Maximum() >= count) {
		return nil, base.CorruptionErrorf("bufpool: %s: free page set out of range", name)
	}
	return pf, nil
}

func (pf *pageFile) slotOffset(id base.PageID) int64 {
	return int64(id) * int64(pf.pageSize+checksumSize)
}

// readPage reads page id into buf and verifies its checksum.
func (pf *pageFile) readPage(id base.PageID, buf []byte) error {
	slot := pf.scratch
	n, err := pf.f.ReadAt(slot, pf.slotOffset(id))
	if n < len(slot) {
		if err == nil || err == io.EOF {
			return base.CorruptionErrorf("bufpool: %s: page %s is truncated (%d bytes)", pf.name, id, n)
		}
		return errors.Wrapf(err, "bufpool: reading page %s", id)
	}
	want := binary.LittleEndian.Uint64(slot[pf.pageSize:])
	if got := xxhash.Sum64(slot[:pf.pageSize]); got != want {
		return base.CorruptionErrorf("bufpool: %s: page %s checksum mismatch: %016x != %016x",
			pf.name, id, got, want)
	}
	copy(buf, slot[:pf.pageSize])
	return nil
}

func (pf *pageFile) writePage(id base.PageID, buf []byte) error {
	slot := pf.scratch
	copy(slot, buf[:pf.pageSize])
	binary.LittleEndian.PutUint64(slot[pf.pageSize:], xxhash.Sum64(slot[:pf.pageSize]))
	if _, err := pf.f.WriteAt(slot, pf.slotOffset(id)); err != nil {
		return errors.Wrapf(err, "bufpool: writing page %s", id)
	}
	return nil
}

func (pf *pageFile) writeHeader() error {
	pf.free.RunOptimize()
	free, err := pf.free.ToBytes()
	if err != nil {
		return errors.Wrap(err, "bufpool: encoding free page set")
	}
	if len(free) > pf.pageSize-headerFixedSize {
		return errors.Newf("bufpool: free page set does not fit the header (%d bytes)", errors.Safe(len(free)))
	}
	buf := make([]byte, pf.pageSize)
	copy(buf, fileMagic)
	binary.LittleEndian.PutUint32(buf[headerVersionOff:], formatVersion)
	binary.LittleEndian.PutUint32(buf[headerPageSizeOff:], uint32(pf.pageSize))
	binary.LittleEndian.PutUint32(buf[headerCountOff:], uint32(pf.count))
	binary.LittleEndian.PutUint32(buf[headerFreeLenOff:], uint32(len(free)))
	copy(buf[headerFixedSize:], free)
	return pf.writePage(0, buf)
}

// allocated returns true if id has been handed out and not released.
func (pf *pageFile) allocated(id base.PageID) bool {
	return id > 0 && id < base.PageID(pf.count) && !pf.free.Contains(uint32(id))
}

// allocate returns the lowest released id, or extends the file.
func (pf *pageFile) allocate() (base.PageID, error) {
	if !pf.free.IsEmpty() {
		id := pf.free.Minimum()
		pf.free.Remove(id)
		return base.PageID(id), nil
	}
	if pf.count == math.MaxInt32 {
		return base.InvalidPageID, errors.New("bufpool: page file is full")
	}
	id := base.PageID(pf.count)
	pf.count++
	return id, nil
}

func (pf *pageFile) release(id base.PageID) {
	pf.free.Add(uint32(id))
}

// liveCount returns the number of allocated pages, excluding the header.
func (pf *pageFile) liveCount() int {
	return int(pf.count) - 1 - int(pf.free.GetCardinality())
}

func (pf *pageFile) sync() error {
	return errors.Wrapf(pf.f.Sync(), "bufpool: syncing %s", pf.name)
}

func (pf *pageFile) close() error {
	return errors.Wrapf(pf.f.Close(), "bufpool: closing %s", pf.name)
}
