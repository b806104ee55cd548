// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/errors"
)

// PageStore is the page allocator and buffer pool that index pages live in.
// A *bufpool.Pool is a PageStore.
type PageStore interface {
	// Pin pins a page and returns its buffer, which remains valid until the
	// matching Unpin.
	Pin(id PageID) ([]byte, error)
	// Unpin releases a pin. If dirty is true the page was modified.
	Unpin(id PageID, dirty bool) error
	// NewPage allocates a page and returns it pinned and zeroed.
	NewPage() (PageID, []byte, error)
	// FreePage releases an unpinned page.
	FreePage(id PageID) error
}

// Catalog maps index names to head pages. A *catalog.Catalog is a Catalog.
type Catalog interface {
	Lookup(name string) (PageID, bool)
	Add(name string, head PageID) error
	Remove(name string) error
}

// ColumnSource is the column store an index is built from. Columns are
// numbered from 0. A *columnar.File is a ColumnSource.
type ColumnSource interface {
	// ColumnKind returns the kind of the values in column.
	ColumnKind(column int) (ValueKind, error)
	// LocationAt returns the location of the record at position in column,
	// or false if there is no such record.
	LocationAt(column, position int) (Location, bool, error)
	// ValueAt returns the value of the record at loc in column.
	ValueAt(column int, loc Location) (Value, error)
	// ScanColumn calls fn for every record of column in physical order.
	ScanColumn(column int, fn func(v Value, loc Location) error) error
}

// Logger defines an interface for writing log messages.
type Logger = base.Logger

// DefaultLogger logs to the Go stdlib logs.
var DefaultLogger = base.DefaultLogger

// Options holds the collaborators and parameters of an index. Store and
// Catalog are required.
type Options struct {
	// Store holds the index pages.
	Store PageStore

	// Catalog records the head page of every index by name.
	Catalog Catalog

	// Logger used to write log messages.
	//
	// The default logger uses the Go standard library log package.
	Logger Logger

	// EventListener provides hooks to listening to significant index events
	// such as index creation and destruction.
	EventListener *EventListener
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
	}
	o.EventListener.EnsureDefaults(o.Logger)
	return o
}

// AddEventListener adds the provided event listener to the Options, in
// addition to any existing event listener.
func (o *Options) AddEventListener(l EventListener) {
	if o.EventListener != nil {
		l = TeeEventListener(l, *o.EventListener)
	}
	o.EventListener = &l
}

// Validate verifies that the options are usable.
func (o *Options) Validate() error {
	if o.Store == nil {
		return errors.New("colbitmap: Options.Store is required")
	}
	if o.Catalog == nil {
		return errors.New("colbitmap: Options.Catalog is required")
	}
	return nil
}
