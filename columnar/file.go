// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package columnar implements a multi-column table stored one heap file per
// column.
//
// Inserting a tuple appends one record to each column's heap. A tuple's
// position is its insertion ordinal; because deleted records keep their slot,
// the record for a position is always the position'th slot of the column's
// heap, counted across its pages.
package columnar

import (
	"encoding/binary"

	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/internal/codec"
	"github.com/cockroachdb/errors"
)

// PageStore is the page allocator and buffer pool the file lives in.
type PageStore interface {
	Pin(id base.PageID) ([]byte, error)
	Unpin(id base.PageID, dirty bool) error
	NewPage() (base.PageID, []byte, error)
	FreePage(id base.PageID) error
}

// Catalog records the header page of each file by name.
type Catalog interface {
	Lookup(name string) (base.PageID, bool)
	Add(name string, head base.PageID) error
	Remove(name string) error
}

// The header page records the shape of the file:
//
//	magic (uint32) | column count (uint16) | reserved (uint16) | tuple count (int32)
//	per column: kind (int16) | reserved (int16) | head page (int32) | tail page (int32)
const (
	headerMagic      = 0x636f6c66
	headerColumnsOff = 4
	headerTuplesOff  = 8
	headerFixedSize  = 12
	headerColumnSize = 12
	columnKindOff    = 0
	columnHeadOff    = 4
	columnTailOff    = 8
)

// ErrClosed is returned when using a closed file.
var ErrClosed = errors.New("columnar: closed")

// ErrInvalidColumn is returned for a column number outside the file.
var ErrInvalidColumn = errors.New("columnar: invalid column")

type column struct {
	kind base.ValueKind
	head base.PageID
	tail base.PageID
}

// File is an open columnar file.
type File struct {
	name    string
	store   PageStore
	catalog Catalog
	header  base.PageID
	columns []column
	// maxRecord is the largest record that fits an empty heap page.
	maxRecord int
	tuples    int
	closed    bool
}

// Create creates a columnar file with one column per kind and registers it
// in the catalog under name.
func Create(name string, kinds []base.ValueKind, store PageStore, cat Catalog) (*File, error) {
	if len(kinds) == 0 {
		return nil, errors.New("columnar: no columns")
	}
	for i, k := range kinds {
		if !k.Valid() {
			return nil, errors.Wrapf(base.ErrInvalidValueKind, "columnar: column %d", errors.Safe(i))
		}
	}
	if _, ok := cat.Lookup(name); ok {
		return nil, errors.Newf("columnar: %q already exists", name)
	}
	id, buf, err := store.NewPage()
	if err != nil {
		return nil, base.MarkStorageFailure(err)
	}
	if headerFixedSize+len(kinds)*headerColumnSize > len(buf) {
		return nil, errors.CombineErrors(
			errors.Newf("columnar: %d columns do not fit a header page", errors.Safe(len(kinds))),
			freeUnpinned(store, id))
	}
	f := &File{
		name:      name,
		store:     store,
		catalog:   cat,
		header:    id,
		columns:   make([]column, len(kinds)),
		maxRecord: len(buf) - heapHeaderSize - heapSlotSize,
	}
	for i, k := range kinds {
		f.columns[i] = column{kind: k, head: base.InvalidPageID, tail: base.InvalidPageID}
	}
	f.encodeHeader(buf)
	if err := store.Unpin(id, true); err != nil {
		return nil, base.MarkStorageFailure(err)
	}
	if err := cat.Add(name, id); err != nil {
		return nil, errors.CombineErrors(base.MarkStorageFailure(err), store.FreePage(id))
	}
	return f, nil
}

func freeUnpinned(store PageStore, id base.PageID) error {
	if err := store.Unpin(id, false); err != nil {
		return err
	}
	return store.FreePage(id)
}

// Open opens the columnar file registered under name.
func Open(name string, store PageStore, cat Catalog) (*File, error) {
	id, ok := cat.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(base.ErrNotFound, "columnar: opening %q", name)
	}
	f := &File{name: name, store: store, catalog: cat, header: id}
	buf, err := store.Pin(id)
	if err != nil {
		return nil, base.MarkStorageFailure(err)
	}
	f.maxRecord = len(buf) - heapHeaderSize - heapSlotSize
	err = f.decodeHeader(buf)
	return f, errors.CombineErrors(err, base.MarkStorageFailure(store.Unpin(id, false)))
}

func (f *File) encodeHeader(buf []byte) {
	binary.LittleEndian.PutUint32(buf, headerMagic)
	binary.LittleEndian.PutUint16(buf[headerColumnsOff:], uint16(len(f.columns)))
	binary.LittleEndian.PutUint32(buf[headerTuplesOff:], uint32(f.tuples))
	for i, c := range f.columns {
		b := buf[headerFixedSize+i*headerColumnSize:]
		binary.LittleEndian.PutUint16(b[columnKindOff:], uint16(c.kind))
		binary.LittleEndian.PutUint32(b[columnHeadOff:], uint32(c.head))
		binary.LittleEndian.PutUint32(b[columnTailOff:], uint32(c.tail))
	}
}

func (f *File) decodeHeader(buf []byte) error {
	if binary.LittleEndian.Uint32(buf) != headerMagic {
		return base.CorruptionErrorf("columnar: %q: bad header page %s", f.name, f.header)
	}
	n := int(binary.LittleEndian.Uint16(buf[headerColumnsOff:]))
	if n == 0 || headerFixedSize+n*headerColumnSize > len(buf) {
		return base.CorruptionErrorf("columnar: %q: bad column count %d", f.name, n)
	}
	f.tuples = int(int32(binary.LittleEndian.Uint32(buf[headerTuplesOff:])))
	f.columns = make([]column, n)
	for i := range f.columns {
		b := buf[headerFixedSize+i*headerColumnSize:]
		c := column{
			kind: base.ValueKind(int16(binary.LittleEndian.Uint16(b[columnKindOff:]))),
			head: base.PageID(int32(binary.LittleEndian.Uint32(b[columnHeadOff:]))),
			tail: base.PageID(int32(binary.LittleEndian.Uint32(b[columnTailOff:]))),
		}
		if !c.kind.Valid() {
			return base.CorruptionErrorf("columnar: %q: column %d has kind %s", f.name, i, c.kind)
		}
		f.columns[i] = c
	}
	return nil
}

func (f *File) writeHeader() error {
	buf, err := f.store.Pin(f.header)
	if err != nil {
		return base.MarkStorageFailure(err)
	}
	f.encodeHeader(buf)
	return base.MarkStorageFailure(f.store.Unpin(f.header, true))
}

// Name returns the name the file is registered under.
func (f *File) Name() string {
	return f.name
}

// NumColumns returns the number of columns.
func (f *File) NumColumns() int {
	return len(f.columns)
}

// TupleCount returns the number of positions handed out, including those of
// deleted tuples.
func (f *File) TupleCount() int {
	return f.tuples
}

func (f *File) checkColumn(column int) error {
	if f.closed {
		return ErrClosed
	}
	if column < 0 || column >= len(f.columns) {
		return errors.Wrapf(ErrInvalidColumn, "columnar: column %d of %d", errors.Safe(column), errors.Safe(len(f.columns)))
	}
	return nil
}

// ColumnKind returns the kind of the values stored in column.
func (f *File) ColumnKind(column int) (base.ValueKind, error) {
	if err := f.checkColumn(column); err != nil {
		return 0, err
	}
	return f.columns[column].kind, nil
}

// withHeapPage pins id, validates it and runs fn on it.
func (f *File) withHeapPage(id base.PageID, fn func(p heapPage) (dirty bool, err error)) error {
	buf, err := f.store.Pin(id)
	if err != nil {
		return base.MarkStorageFailure(err)
	}
	p := heapPage(buf)
	dirty := false
	err = p.validate(id)
	if err == nil {
		dirty, err = fn(p)
	}
	return errors.CombineErrors(err, base.MarkStorageFailure(f.store.Unpin(id, dirty)))
}

// Insert appends a tuple and returns its position.
func (f *File) Insert(tuple []base.Value) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if len(tuple) != len(f.columns) {
		return 0, errors.Newf("columnar: tuple has %d values, want %d",
			errors.Safe(len(tuple)), errors.Safe(len(f.columns)))
	}
	recs := make([][]byte, len(tuple))
	for i, v := range tuple {
		if v.Kind() != f.columns[i].kind {
			return 0, errors.Wrapf(base.ErrInvalidValueKind, "columnar: column %d holds %s values, not %s",
				errors.Safe(i), f.columns[i].kind, v.Kind())
		}
		recs[i] = codec.Encode(v)
		if len(recs[i]) > f.maxRecord {
			return 0, errors.Newf("columnar: value of %d bytes exceeds the %d byte record limit",
				errors.Safe(len(recs[i])), errors.Safe(f.maxRecord))
		}
	}
	for i, rec := range recs {
		if err := f.appendRecord(i, rec); err != nil {
			return 0, errors.CombineErrors(err, f.undoAppend(i))
		}
	}
	pos := f.tuples
	f.tuples++
	return pos, f.writeHeader()
}

func (f *File) appendRecord(column int, rec []byte) error {
	c := &f.columns[column]
	if c.tail != base.InvalidPageID {
		appended := false
		err := f.withHeapPage(c.tail, func(p heapPage) (bool, error) {
			_, appended = p.append(rec)
			return appended, nil
		})
		if err != nil || appended {
			return err
		}
	}
	id, buf, err := f.store.NewPage()
	if err != nil {
		return base.MarkStorageFailure(err)
	}
	p := initHeapPage(buf, id)
	if _, ok := p.append(rec); !ok {
		return errors.CombineErrors(
			errors.Newf("columnar: record of %d bytes does not fit a page", errors.Safe(len(rec))),
			base.MarkStorageFailure(freeUnpinned(f.store, id)))
	}
	if err := f.store.Unpin(id, true); err != nil {
		return base.MarkStorageFailure(err)
	}
	if c.tail == base.InvalidPageID {
		c.head = id
	} else if err := f.withHeapPage(c.tail, func(p heapPage) (bool, error) {
		p.setNext(id)
		return true, nil
	}); err != nil {
		return err
	}
	c.tail = id
	return nil
}

// undoAppend removes the records a failed Insert appended to the columns
// before column n, so that every column again holds f.tuples records.
func (f *File) undoAppend(n int) error {
	for i := 0; i < n; i++ {
		if err := f.withHeapPage(f.columns[i].tail, func(p heapPage) (bool, error) {
			p.pop()
			return true, nil
		}); err != nil {
			return err
		}
	}
	return f.writeHeader()
}

// LocationAt returns the location of the record at position in column. It
// returns false if the position was never handed out or its tuple was
// deleted.
func (f *File) LocationAt(column, position int) (base.Location, bool, error) {
	if err := f.checkColumn(column); err != nil {
		return base.InvalidLocation, false, err
	}
	if position < 0 || position >= f.tuples {
		return base.InvalidLocation, false, nil
	}
	remaining := position
	for id := f.columns[column].head; id != base.InvalidPageID; {
		var loc base.Location
		var found, live bool
		next := base.InvalidPageID
		err := f.withHeapPage(id, func(p heapPage) (bool, error) {
			if n := p.slotCount(); remaining >= n {
				remaining -= n
				next = p.next()
				return false, nil
			}
			found = true
			_, live = p.record(remaining)
			loc = base.MakeLocation(id, int32(remaining))
			return false, nil
		})
		if err != nil {
			return base.InvalidLocation, false, err
		}
		if found {
			if !live {
				return base.InvalidLocation, false, nil
			}
			return loc, true, nil
		}
		id = next
	}
	return base.InvalidLocation, false, base.CorruptionErrorf(
		"columnar: %q: column %d ends before position %d", f.name, column, position)
}

// ValueAt returns the value stored at loc in column.
func (f *File) ValueAt(column int, loc base.Location) (base.Value, error) {
	if err := f.checkColumn(column); err != nil {
		return base.Value{}, err
	}
	var v base.Value
	err := f.withHeapPage(loc.Page, func(p heapPage) (bool, error) {
		if loc.Slot < 0 || int(loc.Slot) >= p.slotCount() {
			return false, errors.Wrapf(base.ErrNotFound, "columnar: no record at %s", loc)
		}
		rec, ok := p.record(int(loc.Slot))
		if !ok {
			return false, errors.Wrapf(base.ErrNotFound, "columnar: record at %s is deleted", loc)
		}
		var err error
		v, err = codec.Decode(f.columns[column].kind, rec)
		return false, err
	})
	return v, err
}

// ScanColumn calls fn for every live record of column in physical order.
// Iteration stops at the first error returned by fn.
func (f *File) ScanColumn(column int, fn func(v base.Value, loc base.Location) error) error {
	if err := f.checkColumn(column); err != nil {
		return err
	}
	kind := f.columns[column].kind
	for id := f.columns[column].head; id != base.InvalidPageID; {
		// Records are decoded before calling fn so that the page is not
		// pinned while fn runs.
		type rec struct {
			v   base.Value
			loc base.Location
		}
		var recs []rec
		next := base.InvalidPageID
		err := f.withHeapPage(id, func(p heapPage) (bool, error) {
			for i := 0; i < p.slotCount(); i++ {
				b, ok := p.record(i)
				if !ok {
					continue
				}
				v, err := codec.Decode(kind, b)
				if err != nil {
					return false, err
				}
				recs = append(recs, rec{v: v, loc: base.MakeLocation(id, int32(i))})
			}
			next = p.next()
			return false, nil
		})
		if err != nil {
			return err
		}
		for _, r := range recs {
			if err := fn(r.v, r.loc); err != nil {
				return err
			}
		}
		id = next
	}
	return nil
}

// Tuple returns the values of the tuple at position, or false if there is
// none.
func (f *File) Tuple(position int) ([]base.Value, bool, error) {
	tuple := make([]base.Value, len(f.columns))
	for i := range f.columns {
		loc, ok, err := f.LocationAt(i, position)
		if err != nil || !ok {
			return nil, false, err
		}
		if tuple[i], err = f.ValueAt(i, loc); err != nil {
			return nil, false, err
		}
	}
	return tuple, true, nil
}

// Delete removes the tuple at position from every column. It returns false
// if there was no such tuple.
func (f *File) Delete(position int) (bool, error) {
	if f.closed {
		return false, ErrClosed
	}
	locs := make([]base.Location, len(f.columns))
	for i := range f.columns {
		loc, ok, err := f.LocationAt(i, position)
		if err != nil || !ok {
			return false, err
		}
		locs[i] = loc
	}
	for _, loc := range locs {
		if err := f.withHeapPage(loc.Page, func(p heapPage) (bool, error) {
			return p.remove(int(loc.Slot)), nil
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Close closes the file. The pages stay in the store.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	return nil
}

// Destroy frees every page of the file and removes it from the catalog.
func (f *File) Destroy() error {
	if f.closed {
		return ErrClosed
	}
	for i := range f.columns {
		for id := f.columns[i].head; id != base.InvalidPageID; {
			next := base.InvalidPageID
			if err := f.withHeapPage(id, func(p heapPage) (bool, error) {
				next = p.next()
				return false, nil
			}); err != nil {
				return err
			}
			if err := f.store.FreePage(id); err != nil {
				return base.MarkStorageFailure(err)
			}
			id = next
		}
	}
	if err := f.store.FreePage(f.header); err != nil {
		return base.MarkStorageFailure(err)
	}
	f.closed = true
	return base.MarkStorageFailure(f.catalog.Remove(f.name))
}
