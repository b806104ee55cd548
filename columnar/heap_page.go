// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package columnar

import (
	"encoding/binary"

	"github.com/cockroachdb/colbitmap/internal/base"
)

// A heap page is a slotted page holding the records of one column:
//
//	+------------+----------+-----------+---------+------------------+-----+---------+
//	| slot count | frontier | next page | page id | slots (4 bytes)  | ... | records |
//	| (uint16)   | (uint16) | (int32)   | (int32) | offset | length  |     |         |
//	+------------+----------+-----------+---------+------------------+-----+---------+
//
// Records grow down from the end of the page; slots grow up after the
// header. A deleted record keeps its slot with a length of deletedLength so
// that slot numbers, and therefore positions, never change.
const (
	heapSlotCountOff = 0
	heapFrontierOff  = 2
	heapNextOff      = 4
	heapIDOff        = 8
	heapHeaderSize   = 12
	heapSlotSize     = 4

	deletedLength = 0xffff
)

type heapPage []byte

func initHeapPage(buf []byte, id base.PageID) heapPage {
	clear(buf)
	p := heapPage(buf)
	p.setFrontier(len(buf))
	p.setNext(base.InvalidPageID)
	binary.LittleEndian.PutUint32(p[heapIDOff:], uint32(id))
	return p
}

func (p heapPage) slotCount() int {
	return int(binary.LittleEndian.Uint16(p[heapSlotCountOff:]))
}

func (p heapPage) frontier() int {
	return int(binary.LittleEndian.Uint16(p[heapFrontierOff:]))
}

func (p heapPage) setFrontier(v int) {
	binary.LittleEndian.PutUint16(p[heapFrontierOff:], uint16(v))
}

func (p heapPage) next() base.PageID {
	return base.PageID(int32(binary.LittleEndian.Uint32(p[heapNextOff:])))
}

func (p heapPage) setNext(id base.PageID) {
	binary.LittleEndian.PutUint32(p[heapNextOff:], uint32(id))
}

func (p heapPage) id() base.PageID {
	return base.PageID(int32(binary.LittleEndian.Uint32(p[heapIDOff:])))
}

func (p heapPage) slot(i int) (offset, length int) {
	s := p[heapHeaderSize+i*heapSlotSize:]
	return int(binary.LittleEndian.Uint16(s)), int(binary.LittleEndian.Uint16(s[2:]))
}

func (p heapPage) freeSpace() int {
	return p.frontier() - heapHeaderSize - p.slotCount()*heapSlotSize
}

// append adds a record and returns its slot, or false if the page is full.
func (p heapPage) append(rec []byte) (int, bool) {
	if len(rec)+heapSlotSize > p.freeSpace() {
		return 0, false
	}
	n := p.slotCount()
	off := p.frontier() - len(rec)
	copy(p[off:], rec)
	p.setFrontier(off)
	s := p[heapHeaderSize+n*heapSlotSize:]
	binary.LittleEndian.PutUint16(s, uint16(off))
	binary.LittleEndian.PutUint16(s[2:], uint16(len(rec)))
	binary.LittleEndian.PutUint16(p[heapSlotCountOff:], uint16(n+1))
	return n, true
}

// pop removes the record in the last slot, which must be live.
func (p heapPage) pop() {
	n := p.slotCount() - 1
	off, length := p.slot(n)
	clear(p[off : off+length])
	p.setFrontier(off + length)
	clear(p[heapHeaderSize+n*heapSlotSize : heapHeaderSize+(n+1)*heapSlotSize])
	binary.LittleEndian.PutUint16(p[heapSlotCountOff:], uint16(n))
}

// record returns the bytes of the record in slot i, or false if the slot was
// deleted.
func (p heapPage) record(i int) ([]byte, bool) {
	off, length := p.slot(i)
	if length == deletedLength {
		return nil, false
	}
	return p[off : off+length], true
}

// remove marks slot i deleted. The record bytes are left in place.
func (p heapPage) remove(i int) bool {
	s := p[heapHeaderSize+i*heapSlotSize:]
	if binary.LittleEndian.Uint16(s[2:]) == deletedLength {
		return false
	}
	binary.LittleEndian.PutUint16(s[2:], deletedLength)
	return true
}

func (p heapPage) validate(id base.PageID) error {
	n := p.slotCount()
	if p.id() != id {
		return base.CorruptionErrorf("columnar: page %s claims to be page %s", id, p.id())
	}
	if f := p.frontier(); f > len(p) || heapHeaderSize+n*heapSlotSize > f {
		return base.CorruptionErrorf("columnar: page %s: %d slots overlap frontier %d", id, n, f)
	}
	for i := 0; i < n; i++ {
		off, length := p.slot(i)
		if length != deletedLength && (off < p.frontier() || off+length > len(p)) {
			return base.CorruptionErrorf("columnar: page %s: slot %d [%d,%d) out of range", id, i, off, off+length)
		}
	}
	return nil
}
