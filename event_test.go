// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"testing"

	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/stretchr/testify/require"
)

func TestEventInfoFormat(t *testing.T) {
	create := IndexCreateInfo{Name: "ages", Head: 4, Kind: ValueKindInteger, Column: 2}
	require.Equal(t, "index ages created: head page 4, integer values of column 2", create.String())
	require.Equal(t, redact.RedactableString("index ‹ages› created: head page 4, integer values of column 2"),
		redact.Sprint(create))

	require.Equal(t, "index ages: page 9 appended after page 4",
		PageAllocateInfo{Index: "ages", Page: 9, Prev: 4}.String())
	require.Equal(t, "index ages destroyed: freed 3 pages",
		IndexDestroyInfo{Name: "ages", Pages: 3}.String())
	require.Equal(t, "index ages bulk loaded: 10 records (2 duplicates)",
		BulkLoadInfo{Index: "ages", Records: 10, Duplicates: 2}.String())
	require.Equal(t, "index ages bulk load error: boom",
		BulkLoadInfo{Index: "ages", Err: errors.New("boom")}.String())
}

func TestTeeEventListener(t *testing.T) {
	var a, b base.InMemLogger
	el := TeeEventListener(MakeLoggingEventListener(&a), MakeLoggingEventListener(&b))
	el.IndexCreated(IndexCreateInfo{Name: "x", Head: 1, Kind: ValueKindString})
	el.PageAllocated(PageAllocateInfo{Index: "x", Page: 2, Prev: 1})
	el.BulkLoadEnd(BulkLoadInfo{Index: "x", Records: 3})
	el.IndexDestroyed(IndexDestroyInfo{Name: "x", Pages: 2})

	const expected = `index x created: head page 1, string values of column 0
index x: page 2 appended after page 1
index x bulk loaded: 3 records
index x destroyed: freed 2 pages
`
	require.Equal(t, expected, a.String())
	require.Equal(t, expected, b.String())

	// Unset callbacks are no-ops.
	var empty EventListener
	empty.EnsureDefaults(nil)
	empty.IndexCreated(IndexCreateInfo{})
	el = TeeEventListener(empty, EventListener{})
	el.BulkLoadEnd(BulkLoadInfo{})
}
