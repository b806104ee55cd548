// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package colbitmap implements a disk-backed bitmap index over one column of
// a column store.
//
// An index maps each value of the column to the locations of the records
// holding it. The mappings are kept in a chain of fixed-size bitmap pages
// linked from a head page whose id is recorded in a catalog under the index's
// name. Pages are read and written through a PageStore, which is typically a
// *bufpool.Pool:
//
//	pool, _ := bufpool.Create(vfs.Default, "pages", nil)
//	cat, _ := catalog.Open(vfs.Default, "catalog")
//	idx, _ := colbitmap.Create("orders.amount", src, 0, colbitmap.ValueKindInteger,
//		&colbitmap.Options{Store: pool, Catalog: cat})
//	s, _ := idx.NewScan(&colbitmap.ScanOptions{LowerBound: &lo, UpperBound: &hi})
//
// Index and Scan are not safe for concurrent use.
package colbitmap

import (
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/internal/bmpage"
	"github.com/cockroachdb/colbitmap/internal/invariants"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
)

type indexState int8

const (
	indexOpen indexState = iota
	indexClosed
	indexDestroyed
)

// Index is an open bitmap index. The head page stays pinned while the index
// is open.
type Index struct {
	name  string
	opts  *Options
	chain chain
	state indexState

	// src and column identify the indexed column. src is nil if the index
	// was opened without a source.
	src    ColumnSource
	column int

	closeChecker invariants.CloseChecker
}

// Open opens the index registered under name in opts.Catalog.
func Open(name string, opts *Options) (*Index, error) {
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	head, ok := opts.Catalog.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "colbitmap: opening index %s", name)
	}
	buf, err := opts.Store.Pin(head)
	if err != nil {
		return nil, errors.Wrapf(base.MarkStorageFailure(err), "colbitmap: opening index %s", name)
	}
	p := bmpage.Wrap(buf)
	if err := p.Validate(head); err != nil {
		return nil, errors.CombineErrors(err, base.MarkStorageFailure(opts.Store.Unpin(head, false)))
	}
	return &Index{
		name: name,
		opts: opts,
		chain: chain{
			name:   name,
			store:  opts.Store,
			head:   head,
			kind:   p.Kind(),
			events: opts.EventListener,
		},
		column: -1,
	}, nil
}

// Create creates an index named name over column of src and bulk loads it
// with every record of the column. If an index of that name already exists,
// it is opened instead and src is attached to it.
func Create(
	name string, src ColumnSource, column int, kind ValueKind, opts *Options,
) (*Index, error) {
	opts = opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, errors.Wrapf(ErrInvalidValueKind, "colbitmap: creating index %s", name)
	}
	if src != nil {
		if err := checkSource(src, column, kind); err != nil {
			return nil, err
		}
	}
	if _, ok := opts.Catalog.Lookup(name); ok {
		idx, err := Open(name, opts)
		if err != nil {
			return nil, err
		}
		if idx.Kind() != kind {
			err := errors.Wrapf(ErrInvalidValueKind, "colbitmap: index %s holds %s values, not %s", name, idx.Kind(), kind)
			return nil, errors.CombineErrors(err, idx.Close())
		}
		if src != nil {
			idx.src, idx.column = src, column
		}
		return idx, nil
	}

	head, buf, err := opts.Store.NewPage()
	if err != nil {
		return nil, errors.Wrapf(base.MarkStorageFailure(err), "colbitmap: creating index %s", name)
	}
	if err := checkPageSize(len(buf)); err != nil {
		return nil, errors.CombineErrors(err, freePinned(opts.Store, head))
	}
	p := bmpage.Init(buf, head)
	p.SetKind(kind)
	if err := opts.Catalog.Add(name, head); err != nil {
		err = errors.Wrapf(base.MarkStorageFailure(err), "colbitmap: creating index %s", name)
		return nil, errors.CombineErrors(err, freePinned(opts.Store, head))
	}
	idx := &Index{
		name: name,
		opts: opts,
		chain: chain{
			name:   name,
			store:  opts.Store,
			head:   head,
			kind:   kind,
			events: opts.EventListener,
		},
		src:    src,
		column: column,
	}
	// The pin taken by NewPage becomes the index's head pin. A separate
	// pin/unpin pair records the write.
	if err := idx.markHeadDirty(); err != nil {
		return nil, errors.CombineErrors(err, idx.Destroy())
	}
	opts.EventListener.IndexCreated(IndexCreateInfo{Name: name, Head: head, Kind: kind, Column: column})

	if src != nil {
		if err := idx.bulkLoad(); err != nil {
			return nil, errors.CombineErrors(err, idx.Destroy())
		}
	}
	return idx, nil
}

func (i *Index) markHeadDirty() error {
	if _, err := i.opts.Store.Pin(i.chain.head); err != nil {
		return base.MarkStorageFailure(err)
	}
	return base.MarkStorageFailure(i.opts.Store.Unpin(i.chain.head, true))
}

func checkSource(src ColumnSource, column int, kind ValueKind) error {
	k, err := src.ColumnKind(column)
	if err != nil {
		return errors.Wrapf(err, "colbitmap: source column %d", errors.Safe(column))
	}
	if k != kind {
		return errors.Wrapf(ErrInvalidValueKind, "colbitmap: source column %d holds %s values, not %s",
			errors.Safe(column), k, kind)
	}
	return nil
}

// bulkLoad scans the source column in physical order and maps every record.
func (i *Index) bulkLoad() error {
	start := crtime.NowMono()
	info := BulkLoadInfo{Index: i.name}
	info.Err = i.src.ScanColumn(i.column, func(v Value, loc Location) error {
		info.Records++
		outcome, err := i.chain.insert(v, loc)
		if outcome == InsertOutcomeDuplicate {
			info.Duplicates++
		}
		return err
	})
	info.Duration = start.Elapsed()
	i.opts.EventListener.BulkLoadEnd(info)
	return info.Err
}

// Name returns the catalog name of the index.
func (i *Index) Name() string {
	return i.name
}

// Kind returns the kind of the indexed values.
func (i *Index) Kind() ValueKind {
	return i.chain.kind
}

// Head returns the head page of the index.
func (i *Index) Head() PageID {
	return i.chain.head
}

// SetSource attaches the column store used by InsertOne and DeleteOne.
func (i *Index) SetSource(src ColumnSource, column int) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := checkSource(src, column, i.chain.kind); err != nil {
		return err
	}
	i.src, i.column = src, column
	return nil
}

func (i *Index) checkOpen() error {
	switch i.state {
	case indexClosed:
		return ErrClosed
	case indexDestroyed:
		return errors.Wrapf(ErrClosed, "colbitmap: index %s was destroyed", i.name)
	}
	i.closeChecker.AssertNotClosed()
	return nil
}

// InsertOne maps the record at position in the source column. It returns
// false if the source has no record at position or if the record's location
// was already mapped.
func (i *Index) InsertOne(position int) (bool, error) {
	loc, ok, err := i.sourceLocation(position)
	if err != nil || !ok {
		return false, err
	}
	v, err := i.src.ValueAt(i.column, loc)
	if err != nil {
		return false, errors.Wrapf(err, "colbitmap: index %s: reading %s", i.name, loc)
	}
	outcome, err := i.chain.insert(v, loc)
	return outcome == InsertOutcomeInserted && err == nil, err
}

// DeleteOne removes the mapping of the record at position in the source
// column. It returns false if the source has no record at position or if
// its location was not mapped.
func (i *Index) DeleteOne(position int) (bool, error) {
	loc, ok, err := i.sourceLocation(position)
	if err != nil || !ok {
		return false, err
	}
	return i.chain.delete(loc)
}

func (i *Index) sourceLocation(position int) (Location, bool, error) {
	if err := i.checkOpen(); err != nil {
		return InvalidLocation, false, err
	}
	if i.src == nil {
		return InvalidLocation, false, errors.Wrapf(ErrNoSource, "colbitmap: index %s", i.name)
	}
	loc, ok, err := i.src.LocationAt(i.column, position)
	if err != nil {
		return InvalidLocation, false, errors.Wrapf(err, "colbitmap: index %s: position %d", i.name, errors.Safe(position))
	}
	return loc, ok, nil
}

// Insert maps v to loc.
func (i *Index) Insert(v Value, loc Location) (InsertOutcome, error) {
	if err := i.checkOpen(); err != nil {
		return 0, err
	}
	return i.chain.insert(v, loc)
}

// Delete removes the mapping for loc, returning false if loc was not mapped.
func (i *Index) Delete(loc Location) (bool, error) {
	if err := i.checkOpen(); err != nil {
		return false, err
	}
	return i.chain.delete(loc)
}

// Lookup returns the locations mapped to v.
func (i *Index) Lookup(v Value) ([]Location, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	return i.chain.lookup(v)
}

// Stats returns the space usage of the index.
func (i *Index) Stats() (Stats, error) {
	if err := i.checkOpen(); err != nil {
		return Stats{}, err
	}
	return i.chain.stats()
}

// Close releases the head page. The index remains in the catalog.
func (i *Index) Close() error {
	switch i.state {
	case indexClosed:
		return ErrClosed
	case indexDestroyed:
		// Destroy already released everything.
		i.state = indexClosed
		return nil
	}
	i.closeChecker.Close()
	i.state = indexClosed
	return base.MarkStorageFailure(i.opts.Store.Unpin(i.chain.head, false))
}

// Destroy frees every page of the index and removes it from the catalog. The
// index must not be used afterwards except to Close it. A second Destroy
// returns ErrAlreadyDestroyed.
func (i *Index) Destroy() error {
	switch i.state {
	case indexDestroyed:
		return errors.Wrapf(ErrAlreadyDestroyed, "colbitmap: index %s", i.name)
	case indexClosed:
		return ErrClosed
	}
	ids, err := i.chain.pages()
	if err != nil {
		return err
	}
	if err := i.opts.Store.Unpin(i.chain.head, false); err != nil {
		return base.MarkStorageFailure(err)
	}
	i.closeChecker.Close()
	i.state = indexDestroyed

	info := IndexDestroyInfo{Name: i.name}
	for _, id := range ids {
		if err := i.opts.Store.FreePage(id); err != nil {
			info.Err = errors.CombineErrors(info.Err, base.MarkStorageFailure(err))
			continue
		}
		info.Pages++
	}
	if err := i.opts.Catalog.Remove(i.name); err != nil {
		info.Err = errors.CombineErrors(info.Err, base.MarkStorageFailure(err))
	}
	i.opts.EventListener.IndexDestroyed(info)
	return info.Err
}
