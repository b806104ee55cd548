// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"github.com/cockroachdb/colbitmap/internal/bmpage"
	"github.com/cockroachdb/colbitmap/internal/codec"
	"github.com/cockroachdb/errors"
)

// ScanOptions hold the optional bounds of a range scan. A nil bound leaves
// that end of the range open.
//
// A code is compared with a bound over the length of the shorter of the two,
// so a string bound acts as a prefix bound: with LowerBound "B" and
// UpperBound "D" the scan returns every string whose first byte lies in
// [B, D], including "Dallas".
//
// The comparison is lexicographic over that length. Bytes are not checked
// one by one against the bound byte at the same position: that would reject
// -3 (code 7f ff ff fd) under an upper bound of 100 (code 80 00 00 64).
type ScanOptions struct {
	LowerBound *Value
	UpperBound *Value
}

// Entry is a mapping returned by a scan.
type Entry struct {
	Value    Value
	Location Location
}

// Scan iterates over the mappings of an index whose values lie within the
// scan's bounds, in chain order: page by page, and by entry index within a
// page. It is not a sorted iteration. No page is pinned between calls.
type Scan struct {
	idx          *Index
	lower, upper []byte

	// page and slot are the position of the next entry to examine.
	page PageID
	slot int
	done bool

	cur    Location
	hasCur bool
	closed bool
}

// NewScan returns a scan over the mappings within the bounds of o. A nil o
// scans every mapping.
func (i *Index) NewScan(o *ScanOptions) (*Scan, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	s := &Scan{idx: i, page: i.chain.head}
	if o != nil {
		var err error
		if s.lower, err = i.boundCode(o.LowerBound); err != nil {
			return nil, err
		}
		if s.upper, err = i.boundCode(o.UpperBound); err != nil {
			return nil, err
		}
	}
	s.done = s.page == InvalidPageID
	return s, nil
}

func (i *Index) boundCode(b *Value) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	if err := i.chain.checkValue(*b); err != nil {
		return nil, err
	}
	return codec.Encode(*b), nil
}

func (s *Scan) inBounds(code []byte) bool {
	if s.lower != nil && codec.Compare(code, s.lower) < 0 {
		return false
	}
	if s.upper != nil && codec.Compare(code, s.upper) > 0 {
		return false
	}
	return true
}

// Next returns the next mapping within the bounds. It returns false once the
// scan is exhausted.
func (s *Scan) Next() (Entry, bool, error) {
	if s.closed {
		return Entry{}, false, ErrClosed
	}
	if err := s.idx.checkOpen(); err != nil {
		return Entry{}, false, err
	}
	for !s.done {
		var e Entry
		found := false
		next := InvalidPageID
		err := s.idx.chain.withPage(s.page, func(p bmpage.Page) (bool, error) {
			for n := p.EntryCount(); s.slot < n; s.slot++ {
				if !p.Entry(s.slot).Live() || !s.inBounds(p.Code(s.slot)) {
					continue
				}
				v, err := p.Value(s.slot)
				if err != nil {
					return false, err
				}
				e = Entry{Value: v, Location: p.Location(s.slot)}
				found = true
				s.slot++
				return false, nil
			}
			next = p.NextPage()
			return false, nil
		})
		if err != nil {
			return Entry{}, false, err
		}
		if found {
			s.cur, s.hasCur = e.Location, true
			return e, true, nil
		}
		s.page, s.slot = next, 0
		s.done = next == InvalidPageID
	}
	s.hasCur = false
	return Entry{}, false, nil
}

// DeleteCurrent removes the mapping last returned by Next. It returns
// ErrNoCurrentRecord if Next has not returned a mapping since the scan was
// opened or since the last DeleteCurrent.
func (s *Scan) DeleteCurrent() error {
	if s.closed {
		return ErrClosed
	}
	if !s.hasCur {
		return ErrNoCurrentRecord
	}
	if err := s.idx.checkOpen(); err != nil {
		return err
	}
	deleted, err := s.idx.chain.delete(s.cur)
	if err != nil {
		return err
	}
	s.hasCur = false
	if !deleted {
		return errors.Wrapf(ErrNotFound, "colbitmap: index %s: deleting %s", s.idx.name, s.cur)
	}
	return nil
}

// Close closes the scan.
func (s *Scan) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}
