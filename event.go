// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"time"

	"github.com/cockroachdb/redact"
)

// IndexCreateInfo contains the info for an index creation event.
type IndexCreateInfo struct {
	// Name is the catalog name of the index.
	Name string
	// Head is the head page of the index's page chain.
	Head PageID
	// Kind is the kind of the indexed values.
	Kind ValueKind
	// Column is the source column the index is built from.
	Column int
}

func (i IndexCreateInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i IndexCreateInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("index %s created: head page %s, %s values of column %d",
		i.Name, i.Head, i.Kind, redact.Safe(i.Column))
}

// IndexDestroyInfo contains the info for an index destruction event.
type IndexDestroyInfo struct {
	Name string
	// Pages is the number of pages freed.
	Pages int
	Err   error
}

func (i IndexDestroyInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i IndexDestroyInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("index %s destroy error: %s", i.Name, i.Err)
		return
	}
	w.Printf("index %s destroyed: freed %d pages", i.Name, redact.Safe(i.Pages))
}

// PageAllocateInfo contains the info for a page being appended to an
// index's page chain.
type PageAllocateInfo struct {
	Index string
	Page  PageID
	// Prev is the former tail of the chain.
	Prev PageID
}

func (i PageAllocateInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i PageAllocateInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("index %s: page %s appended after page %s", i.Index, i.Page, i.Prev)
}

// BulkLoadInfo contains the info for the end of the bulk load that populates
// a new index from its source column.
type BulkLoadInfo struct {
	Index string
	// Records is the number of source records scanned.
	Records int
	// Duplicates is the number of records whose location was already mapped.
	Duplicates int
	Duration   time.Duration
	Err        error
}

func (i BulkLoadInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i BulkLoadInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("index %s bulk load error: %s", i.Index, i.Err)
		return
	}
	w.Printf("index %s bulk loaded: %d records", i.Index, redact.Safe(i.Records))
	if i.Duplicates > 0 {
		w.Printf(" (%d duplicates)", redact.Safe(i.Duplicates))
	}
}

// EventListener contains a set of functions that will be invoked when
// various significant index events occur. Note that the functions should not
// run for an excessive amount of time as they are invoked synchronously by
// the index operation that triggered them.
type EventListener struct {
	// IndexCreated is invoked after a new index has been registered in the
	// catalog, before it is bulk loaded.
	IndexCreated func(IndexCreateInfo)

	// IndexDestroyed is invoked after an index has been destroyed.
	IndexDestroyed func(IndexDestroyInfo)

	// PageAllocated is invoked after a page has been appended to an index's
	// page chain.
	PageAllocated func(PageAllocateInfo)

	// BulkLoadEnd is invoked after the bulk load of a new index completes.
	BulkLoadEnd func(BulkLoadInfo)
}

// EnsureDefaults ensures that unspecified callbacks are set to no-op
// functions.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.IndexCreated == nil {
		l.IndexCreated = func(info IndexCreateInfo) {}
	}
	if l.IndexDestroyed == nil {
		l.IndexDestroyed = func(info IndexDestroyInfo) {}
	}
	if l.PageAllocated == nil {
		l.PageAllocated = func(info PageAllocateInfo) {}
	}
	if l.BulkLoadEnd == nil {
		l.BulkLoadEnd = func(info BulkLoadInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger
	}
	return EventListener{
		IndexCreated: func(info IndexCreateInfo) {
			logger.Infof("%s", info)
		},
		IndexDestroyed: func(info IndexDestroyInfo) {
			if info.Err != nil {
				logger.Errorf("%s", info)
				return
			}
			logger.Infof("%s", info)
		},
		PageAllocated: func(info PageAllocateInfo) {
			logger.Infof("%s", info)
		},
		BulkLoadEnd: func(info BulkLoadInfo) {
			if info.Err != nil {
				logger.Errorf("%s", info)
				return
			}
			logger.Infof("%s", info)
		},
	}
}

// TeeEventListener wraps two EventListeners, forwarding all events to both.
func TeeEventListener(a, b EventListener) EventListener {
	a.EnsureDefaults(nil)
	b.EnsureDefaults(nil)
	return EventListener{
		IndexCreated: func(info IndexCreateInfo) {
			a.IndexCreated(info)
			b.IndexCreated(info)
		},
		IndexDestroyed: func(info IndexDestroyInfo) {
			a.IndexDestroyed(info)
			b.IndexDestroyed(info)
		},
		PageAllocated: func(info PageAllocateInfo) {
			a.PageAllocated(info)
			b.PageAllocated(info)
		},
		BulkLoadEnd: func(info BulkLoadInfo) {
			a.BulkLoadEnd(info)
			b.BulkLoadEnd(info)
		},
	}
}
