// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/internal/bmpage"
	"github.com/cockroachdb/colbitmap/internal/codec"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// InsertOutcome describes the result of inserting a mapping.
type InsertOutcome int8

const (
	// InsertOutcomeInserted means the mapping was stored.
	InsertOutcomeInserted InsertOutcome = iota
	// InsertOutcomeDuplicate means the location was already mapped and the
	// index was left unchanged.
	InsertOutcomeDuplicate
)

func (o InsertOutcome) String() string {
	switch o {
	case InsertOutcomeInserted:
		return "inserted"
	case InsertOutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// SafeFormat implements redact.SafeFormatter.
func (o InsertOutcome) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(o.String()))
}

// chain is the doubly linked list of bitmap pages of one index, starting at
// the head page. Every method pins the pages it visits one at a time and
// unpins them before returning.
type chain struct {
	name   string
	store  PageStore
	head   PageID
	kind   ValueKind
	events *EventListener
}

// withPage pins page id, validates it and calls fn. The page is unpinned as
// dirty if fn says so. An unpin failure is combined with fn's error.
func (c *chain) withPage(id PageID, fn func(p bmpage.Page) (dirty bool, err error)) error {
	buf, err := c.store.Pin(id)
	if err != nil {
		return errors.Wrapf(base.MarkStorageFailure(err), "colbitmap: index %s: pinning page %s", c.name, id)
	}
	p := bmpage.Wrap(buf)
	dirty := false
	if err = p.Validate(id); err == nil {
		if k := p.Kind(); k != c.kind {
			err = base.CorruptionErrorf("colbitmap: index %s: page %s holds %s values, want %s", c.name, id, k, c.kind)
		} else {
			dirty, err = fn(p)
		}
	}
	if uerr := c.store.Unpin(id, dirty); uerr != nil {
		uerr = errors.Wrapf(base.MarkStorageFailure(uerr), "colbitmap: index %s: unpinning page %s", c.name, id)
		err = errors.CombineErrors(err, uerr)
	}
	return err
}

// walk calls fn for each page of the chain in order until fn returns
// stop=true or an error.
func (c *chain) walk(fn func(id PageID, p bmpage.Page) (dirty, stop bool, err error)) error {
	for id := c.head; id != InvalidPageID; {
		next := InvalidPageID
		stop := false
		err := c.withPage(id, func(p bmpage.Page) (bool, error) {
			var dirty bool
			var err error
			dirty, stop, err = fn(id, p)
			next = p.NextPage()
			return dirty, err
		})
		if err != nil || stop {
			return err
		}
		id = next
	}
	return nil
}

func (c *chain) checkValue(v Value) error {
	if v.Kind() != c.kind {
		return errors.Wrapf(ErrInvalidValueKind, "colbitmap: index %s holds %s values, not %s", c.name, c.kind, v.Kind())
	}
	return nil
}

// insert maps v to loc. The whole chain is searched for loc first: a location
// already mapped on any page is reported as InsertOutcomeDuplicate. The
// mapping goes into the first page with room for it, or into a new page
// appended to the chain.
func (c *chain) insert(v Value, loc Location) (InsertOutcome, error) {
	if err := c.checkValue(v); err != nil {
		return 0, err
	}
	if !loc.Encodable() {
		return 0, errors.Wrapf(ErrInvalidLocation, "colbitmap: index %s: location %s", c.name, loc)
	}
	target, tail := InvalidPageID, InvalidPageID
	duplicate := false
	capacity := 0
	err := c.walk(func(id PageID, p bmpage.Page) (bool, bool, error) {
		capacity = p.Capacity()
		if _, ok := p.FindByLocation(loc); ok {
			duplicate = true
			return false, true, nil
		}
		if target == InvalidPageID && p.HasSpaceFor(v) {
			target = id
		}
		tail = id
		return false, false, nil
	})
	if err != nil {
		return 0, err
	}
	if duplicate {
		return InsertOutcomeDuplicate, nil
	}
	if target == InvalidPageID {
		if n := codec.EncodedLen(v); n > bmpage.MaxCodeLen(capacity) {
			return 0, errors.Wrapf(ErrInsufficientSpace,
				"colbitmap: index %s: %d byte code does not fit an empty page", c.name, errors.Safe(n))
		}
		if target, err = c.grow(tail); err != nil {
			return 0, err
		}
	}
	err = c.withPage(target, func(p bmpage.Page) (bool, error) {
		_, err := p.Insert(v, loc)
		return err == nil, err
	})
	if err != nil {
		return 0, err
	}
	return InsertOutcomeInserted, nil
}

// grow appends an empty page after tail and returns its id.
func (c *chain) grow(tail PageID) (PageID, error) {
	id, buf, err := c.store.NewPage()
	if err != nil {
		err = errors.Mark(base.MarkStorageFailure(err), ErrInsufficientSpace)
		return InvalidPageID, errors.Wrapf(err, "colbitmap: index %s: extending page chain", c.name)
	}
	if err := checkPageSize(len(buf)); err != nil {
		return InvalidPageID, errors.CombineErrors(err, freePinned(c.store, id))
	}
	p := bmpage.Init(buf, id)
	p.SetKind(c.kind)
	p.SetPrevPage(tail)
	if err := c.store.Unpin(id, true); err != nil {
		return InvalidPageID, base.MarkStorageFailure(err)
	}
	if tail != InvalidPageID {
		if err := c.withPage(tail, func(p bmpage.Page) (bool, error) {
			p.SetNextPage(id)
			return true, nil
		}); err != nil {
			return InvalidPageID, err
		}
	}
	c.events.PageAllocated(PageAllocateInfo{Index: c.name, Page: id, Prev: tail})
	return id, nil
}

func checkPageSize(n int) error {
	if n < bmpage.MinPageSize || n > bmpage.MaxPageSize {
		return errors.Newf("colbitmap: unsupported page size %d", errors.Safe(n))
	}
	return nil
}

// freePinned unpins and frees a page that was just allocated.
func freePinned(store PageStore, id PageID) error {
	if err := store.Unpin(id, false); err != nil {
		return base.MarkStorageFailure(err)
	}
	return base.MarkStorageFailure(store.FreePage(id))
}

// delete removes the mapping for loc from the first page holding it.
func (c *chain) delete(loc Location) (bool, error) {
	deleted := false
	err := c.walk(func(_ PageID, p bmpage.Page) (bool, bool, error) {
		deleted = p.Delete(loc)
		return deleted, deleted, nil
	})
	return deleted, err
}

// lookup returns the locations mapped to v, in chain order.
func (c *chain) lookup(v Value) ([]Location, error) {
	if err := c.checkValue(v); err != nil {
		return nil, err
	}
	var locs []Location
	err := c.walk(func(_ PageID, p bmpage.Page) (bool, bool, error) {
		for _, i := range p.MatchValue(v) {
			locs = append(locs, p.Location(i))
		}
		return false, false, nil
	})
	return locs, err
}

// pages returns the ids of the pages of the chain in order.
func (c *chain) pages() ([]PageID, error) {
	var ids []PageID
	err := c.walk(func(id PageID, _ bmpage.Page) (bool, bool, error) {
		ids = append(ids, id)
		return false, false, nil
	})
	return ids, err
}

// Stats describes the space usage of an index.
type Stats struct {
	// Pages is the number of pages in the chain.
	Pages int
	// Entries is the number of live mappings.
	Entries int
	// Tombstones is the number of pointer entries awaiting reuse.
	Tombstones int
	// FreeBytes is the free space summed over all pages.
	FreeBytes int
	// CodeBytes is the space taken by value codes.
	CodeBytes int
}

func (s Stats) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s Stats) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("pages=%d entries=%d tombstones=%d free=%d code=%d",
		redact.Safe(s.Pages), redact.Safe(s.Entries), redact.Safe(s.Tombstones),
		redact.Safe(s.FreeBytes), redact.Safe(s.CodeBytes))
}

func (c *chain) stats() (Stats, error) {
	var s Stats
	err := c.walk(func(_ PageID, p bmpage.Page) (bool, bool, error) {
		s.Pages++
		live := p.LiveCount()
		s.Entries += live
		s.Tombstones += p.EntryCount() - live
		s.FreeBytes += p.FreeSpace()
		s.CodeBytes += p.Capacity() - p.Frontier()
		return false, false, nil
	})
	return s, err
}
