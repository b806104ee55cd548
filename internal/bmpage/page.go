// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bmpage implements the bitmap page: a fixed-size buffer holding a
// directory of pointer entries that grows from the front of the page and the
// variable-length value codes those entries reference, packed at the back of
// the page.
//
//	+----------------------------------------------------------+
//	| metadata (20 bytes)                                      |
//	+----------------------------------------------------------+
//	| entry 0 | entry 1 | ... | entry n-1 |  --> grows up       |
//	+----------------------------------------------------------+
//	|                  free region                             |
//	+--------------------------------- frontier ---------------+
//	|  grows down <--  | code n-1 | ... | code 1 | code 0       |
//	+----------------------------------------------------------+
//
// The metadata holds, in order: the entry count (int16, including
// tombstones), the value kind (int16), the frontier (int16, offset of the
// lowest code byte in use), the free byte count (int16), and the previous,
// next and own page ids (int32 each). Each pointer entry is four int16
// fields: code offset, code length, and the page and slot of the mapped
// location. All integers are little-endian.
//
// An entry is never removed from the directory. Deleting a mapping sets all
// four fields of its entry to -1 (a tombstone) which a later insert reuses,
// and compacts the code region so that live codes always occupy exactly
// [frontier, capacity).
package bmpage

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/internal/codec"
	"github.com/cockroachdb/colbitmap/internal/invariants"
	"github.com/cockroachdb/errors"
)

// Metadata field offsets.
const (
	offEntryCount = 0
	offKind       = offEntryCount + 2
	offFrontier   = offKind + 2
	offFreeSpace  = offFrontier + 2
	offPrevPage   = offFreeSpace + 2
	offNextPage   = offPrevPage + 4
	offPageID     = offNextPage + 4

	// MetadataSize is the size of the fixed page header.
	MetadataSize = offPageID + 4
)

// Pointer entry field offsets, relative to the start of the entry.
const (
	entryCodeOffset = 0
	entryCodeLength = entryCodeOffset + 2
	entryPage       = entryCodeLength + 2
	entrySlot       = entryPage + 2

	// EntrySize is the size of a pointer entry.
	EntrySize = entrySlot + 2
)

const (
	// MinPageSize is the smallest page able to hold one integer mapping.
	MinPageSize = MetadataSize + EntrySize + codec.IntLen
	// MaxPageSize is the largest page whose offsets fit the int16 fields.
	MaxPageSize = math.MaxInt16
)

const invalid int16 = -1

// Entry is the decoded form of a pointer entry.
type Entry struct {
	CodeOffset int16
	CodeLength int16
	Page       int16
	Slot       int16
}

var tombstone = Entry{CodeOffset: invalid, CodeLength: invalid, Page: invalid, Slot: invalid}

// Live returns true if the entry maps a location, i.e. it is not a tombstone.
func (e Entry) Live() bool {
	return e.Page != invalid && e.Slot != invalid
}

// Location returns the location mapped by the entry.
func (e Entry) Location() base.Location {
	if !e.Live() {
		return base.InvalidLocation
	}
	return base.MakeLocation(base.PageID(e.Page), int32(e.Slot))
}

func (e Entry) matches(loc base.Location) bool {
	return e.Live() && int32(e.Page) == int32(loc.Page) && int32(e.Slot) == loc.Slot
}

// Page is a view over the buffer of a pinned bitmap page. Methods mutate the
// underlying buffer in place; the caller is responsible for unpinning the
// page as dirty after a mutation.
type Page struct {
	data []byte
}

// Wrap returns a Page view over an existing, initialized page buffer.
func Wrap(data []byte) Page {
	return Page{data: data}
}

// Init formats data as an empty bitmap page with the given id and returns a
// view over it. The value kind defaults to integer.
func Init(data []byte, id base.PageID) Page {
	if len(data) < MinPageSize || len(data) > MaxPageSize {
		panic(errors.AssertionFailedf("bmpage: invalid page size %d", len(data)))
	}
	clear(data)
	p := Page{data: data}
	p.setInt16(offEntryCount, 0)
	p.SetKind(base.ValueKindInteger)
	p.setInt16(offFrontier, int16(len(data)))
	p.setInt16(offFreeSpace, int16(len(data)-MetadataSize))
	p.SetPrevPage(base.InvalidPageID)
	p.SetNextPage(base.InvalidPageID)
	p.setInt32(offPageID, int32(id))
	return p
}

func (p Page) int16At(off int) int16 {
	return int16(binary.LittleEndian.Uint16(p.data[off:]))
}

func (p Page) setInt16(off int, v int16) {
	binary.LittleEndian.PutUint16(p.data[off:], uint16(v))
}

func (p Page) int32At(off int) int32 {
	return int32(binary.LittleEndian.Uint32(p.data[off:]))
}

func (p Page) setInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(p.data[off:], uint32(v))
}

// Data returns the underlying page buffer.
func (p Page) Data() []byte { return p.data }

// Capacity returns the size of the page buffer.
func (p Page) Capacity() int { return len(p.data) }

// ID returns the page's own id.
func (p Page) ID() base.PageID { return base.PageID(p.int32At(offPageID)) }

// EntryCount returns the number of allocated pointer entries, including
// tombstones.
func (p Page) EntryCount() int { return int(p.int16At(offEntryCount)) }

// Kind returns the kind of the values mapped by the page.
func (p Page) Kind() base.ValueKind { return base.ValueKind(p.int16At(offKind)) }

// SetKind sets the kind of the values mapped by the page.
func (p Page) SetKind(k base.ValueKind) { p.setInt16(offKind, int16(k)) }

// Frontier returns the offset of the lowest code byte in use. It equals the
// capacity when the page holds no codes.
func (p Page) Frontier() int { return int(p.int16At(offFrontier)) }

// FreeSpace returns the number of unused bytes in the page.
func (p Page) FreeSpace() int { return int(p.int16At(offFreeSpace)) }

// PrevPage returns the id of the previous page in the chain.
func (p Page) PrevPage() base.PageID { return base.PageID(p.int32At(offPrevPage)) }

// SetPrevPage sets the id of the previous page in the chain.
func (p Page) SetPrevPage(id base.PageID) { p.setInt32(offPrevPage, int32(id)) }

// NextPage returns the id of the next page in the chain.
func (p Page) NextPage() base.PageID { return base.PageID(p.int32At(offNextPage)) }

// SetNextPage sets the id of the next page in the chain.
func (p Page) SetNextPage(id base.PageID) { p.setInt32(offNextPage, int32(id)) }

func entryPos(i int) int { return MetadataSize + i*EntrySize }

// Entry returns the raw fields of the i'th pointer entry.
func (p Page) Entry(i int) Entry {
	pos := entryPos(i)
	return Entry{
		CodeOffset: p.int16At(pos + entryCodeOffset),
		CodeLength: p.int16At(pos + entryCodeLength),
		Page:       p.int16At(pos + entryPage),
		Slot:       p.int16At(pos + entrySlot),
	}
}

func (p Page) setEntry(i int, e Entry) {
	pos := entryPos(i)
	p.setInt16(pos+entryCodeOffset, e.CodeOffset)
	p.setInt16(pos+entryCodeLength, e.CodeLength)
	p.setInt16(pos+entryPage, e.Page)
	p.setInt16(pos+entrySlot, e.Slot)
}

// Code returns the code of the i'th entry. The returned slice aliases the
// page buffer. It returns nil for a tombstone.
func (p Page) Code(i int) []byte {
	e := p.Entry(i)
	if !e.Live() {
		return nil
	}
	return p.data[e.CodeOffset : int(e.CodeOffset)+int(e.CodeLength) : int(e.CodeOffset)+int(e.CodeLength)]
}

// Location returns the location mapped by the i'th entry.
func (p Page) Location(i int) base.Location {
	return p.Entry(i).Location()
}

// Value decodes the code of the i'th entry.
func (p Page) Value(i int) (base.Value, error) {
	return codec.Decode(p.Kind(), p.Code(i))
}

// LiveCount returns the number of live entries.
func (p Page) LiveCount() int {
	n := 0
	for i, count := 0, p.EntryCount(); i < count; i++ {
		if p.Entry(i).Live() {
			n++
		}
	}
	return n
}

// FindByLocation returns the index of the live entry mapping loc.
func (p Page) FindByLocation(loc base.Location) (int, bool) {
	if !loc.Valid() {
		return -1, false
	}
	for i, n := 0, p.EntryCount(); i < n; i++ {
		if p.Entry(i).matches(loc) {
			return i, true
		}
	}
	return -1, false
}

// MaxCodeLen returns the length of the longest code an empty page of the
// given capacity can hold.
func MaxCodeLen(capacity int) int {
	return capacity - MetadataSize - EntrySize
}

// HasSpaceFor returns true if the page has room for v's code plus a pointer
// entry.
func (p Page) HasSpaceFor(v base.Value) bool {
	return codec.EncodedLen(v)+EntrySize <= p.FreeSpace()
}

// Insert stores a mapping from v to loc and returns the index of the entry
// used. The first tombstoned entry is reused if there is one; otherwise a new
// entry is appended to the directory. Insert does not check whether loc is
// already mapped.
func (p Page) Insert(v base.Value, loc base.Location) (int, error) {
	if v.Kind() != p.Kind() {
		return -1, errors.Wrapf(base.ErrInvalidValueKind,
			"inserting %s value into %s page %s", v.Kind(), p.Kind(), p.ID())
	}
	if !loc.Encodable() {
		return -1, errors.Wrapf(base.ErrInvalidLocation, "location %s", loc)
	}
	if !p.HasSpaceFor(v) {
		return -1, errors.Wrapf(base.ErrInsufficientSpace,
			"page %s has %d free bytes", p.ID(), errors.Safe(p.FreeSpace()))
	}
	codeLen := codec.EncodedLen(v)

	idx, n := -1, p.EntryCount()
	for i := 0; i < n; i++ {
		if !p.Entry(i).Live() {
			idx = i
			break
		}
	}
	consumed := codeLen
	if idx < 0 {
		idx = n
		p.setInt16(offEntryCount, int16(n+1))
		consumed += EntrySize
	}

	frontier := p.Frontier() - codeLen
	copy(p.data[frontier:], codec.Encode(v))
	p.setInt16(offFrontier, int16(frontier))
	p.setEntry(idx, Entry{
		CodeOffset: int16(frontier),
		CodeLength: int16(codeLen),
		Page:       int16(loc.Page),
		Slot:       int16(loc.Slot),
	})
	p.setInt16(offFreeSpace, int16(p.FreeSpace()-consumed))

	if invariants.Enabled {
		p.mustCheckInvariants()
	}
	return idx, nil
}

// Delete removes the mapping for loc, returning false if the page does not
// map loc.
//
// The codes stored below the deleted code (between the frontier and the
// deleted code's offset) are shifted up by the deleted code's length to close
// the gap, the frontier advances by the same amount, and the offsets of the
// entries whose codes moved are adjusted. The deleted entry becomes a
// tombstone.
func (p Page) Delete(loc base.Location) bool {
	idx, ok := p.FindByLocation(loc)
	if !ok {
		return false
	}
	e := p.Entry(idx)
	start, size := int(e.CodeOffset), int(e.CodeLength)
	frontier := p.Frontier()

	copy(p.data[frontier+size:start+size], p.data[frontier:start])
	clear(p.data[frontier : frontier+size])
	p.setInt16(offFrontier, int16(frontier+size))

	if size > 0 {
		for i, n := 0, p.EntryCount(); i < n; i++ {
			if i == idx {
				continue
			}
			o := p.Entry(i)
			if !o.Live() {
				continue
			}
			// An empty code stored after the deleted code shares its offset and
			// must follow the frontier.
			if int(o.CodeOffset) < start || (int(o.CodeOffset) == start && o.CodeLength == 0) {
				o.CodeOffset += int16(size)
				p.setEntry(i, o)
			}
		}
	}

	p.setEntry(idx, tombstone)
	p.setInt16(offFreeSpace, int16(p.FreeSpace()+size))

	if invariants.Enabled {
		p.mustCheckInvariants()
	}
	return true
}

// MatchValue returns the indexes of the live entries whose code equals the
// code of v.
func (p Page) MatchValue(v base.Value) []int {
	if v.Kind() != p.Kind() {
		return nil
	}
	want := codec.Encode(v)
	var matches []int
	for i, n := 0, p.EntryCount(); i < n; i++ {
		if !p.Entry(i).Live() {
			continue
		}
		if string(p.Code(i)) == string(want) {
			matches = append(matches, i)
		}
	}
	return matches
}

// IsEmpty returns true if every allocated entry is a tombstone.
func (p Page) IsEmpty() bool {
	for i, n := 0, p.EntryCount(); i < n; i++ {
		if p.Entry(i).Live() {
			return false
		}
	}
	return true
}

// Validate performs a structural check of the page, returning a corruption
// error if the page does not look like an initialized bitmap page with the
// given id.
func (p Page) Validate(id base.PageID) error {
	if len(p.data) < MinPageSize || len(p.data) > MaxPageSize {
		return base.CorruptionErrorf("bmpage: page %s has invalid size %d", id, errors.Safe(len(p.data)))
	}
	if got := p.ID(); got != id {
		return base.CorruptionErrorf("bmpage: page %s records id %s", id, got)
	}
	if k := p.Kind(); !k.Valid() {
		return base.CorruptionErrorf("bmpage: page %s has invalid kind %s", id, k)
	}
	n := p.EntryCount()
	dirEnd := entryPos(n)
	frontier := p.Frontier()
	if n < 0 || dirEnd > frontier || frontier > len(p.data) {
		return base.CorruptionErrorf("bmpage: page %s: %d entries, frontier %d",
			id, errors.Safe(n), errors.Safe(frontier))
	}
	if free := p.FreeSpace(); free < 0 || free > frontier-dirEnd {
		return base.CorruptionErrorf("bmpage: page %s: free space %d exceeds gap %d",
			id, errors.Safe(free), errors.Safe(frontier-dirEnd))
	}
	for i := 0; i < n; i++ {
		e := p.Entry(i)
		if !e.Live() {
			continue
		}
		if e.CodeLength < 0 || int(e.CodeOffset) < frontier ||
			int(e.CodeOffset)+int(e.CodeLength) > len(p.data) {
			return base.CorruptionErrorf("bmpage: page %s: entry %d has code [%d,+%d)",
				id, errors.Safe(i), errors.Safe(e.CodeOffset), errors.Safe(e.CodeLength))
		}
		if p.Kind() == base.ValueKindInteger && e.CodeLength != codec.IntLen {
			return base.CorruptionErrorf("bmpage: page %s: entry %d has integer code of length %d",
				id, errors.Safe(i), errors.Safe(e.CodeLength))
		}
	}
	return nil
}

// CheckInvariants verifies the space accounting and packing invariants of the
// page: live codes exactly tile [frontier, capacity) and the free space
// equals the capacity minus the metadata, the directory and the live codes.
func (p Page) CheckInvariants() error {
	if err := p.Validate(p.ID()); err != nil {
		return err
	}
	n := p.EntryCount()
	used := make([]bool, len(p.data))
	codeBytes := 0
	for i := 0; i < n; i++ {
		e := p.Entry(i)
		if !e.Live() {
			if e != tombstone {
				return errors.AssertionFailedf("bmpage: entry %d is a partial tombstone: %+v", i, e)
			}
			continue
		}
		for j := int(e.CodeOffset); j < int(e.CodeOffset)+int(e.CodeLength); j++ {
			if used[j] {
				return errors.AssertionFailedf("bmpage: entry %d overlaps another code at %d", i, j)
			}
			used[j] = true
		}
		codeBytes += int(e.CodeLength)
	}
	if frontier := p.Frontier(); codeBytes != len(p.data)-frontier {
		return errors.AssertionFailedf("bmpage: %d code bytes but frontier %d of %d",
			codeBytes, frontier, len(p.data))
	}
	if want := len(p.data) - MetadataSize - n*EntrySize - codeBytes; p.FreeSpace() != want {
		return errors.AssertionFailedf("bmpage: free space %d, expected %d", p.FreeSpace(), want)
	}
	return nil
}

func (p Page) mustCheckInvariants() {
	if err := p.CheckInvariants(); err != nil {
		panic(err)
	}
}

// Describe writes a human-readable description of the page to w.
func (p Page) Describe(w io.Writer) {
	fmt.Fprintf(w, "page %s: kind=%s entries=%d live=%d frontier=%d free=%d prev=%s next=%s\n",
		p.ID(), p.Kind(), p.EntryCount(), p.LiveCount(), p.Frontier(), p.FreeSpace(),
		p.PrevPage(), p.NextPage())
	for i, n := 0, p.EntryCount(); i < n; i++ {
		e := p.Entry(i)
		if !e.Live() {
			fmt.Fprintf(w, "  %d: tombstone\n", i)
			continue
		}
		v, err := p.Value(i)
		if err != nil {
			fmt.Fprintf(w, "  %d: %s off=%d len=%d err=%v\n", i, e.Location(), e.CodeOffset, e.CodeLength, err)
			continue
		}
		fmt.Fprintf(w, "  %d: %s off=%d len=%d value=%s\n", i, e.Location(), e.CodeOffset, e.CodeLength, v)
	}
}
