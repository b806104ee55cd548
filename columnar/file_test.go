// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package columnar

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/colbitmap/bufpool"
	"github.com/cockroachdb/colbitmap/catalog"
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	fs    *vfs.MemFS
	pool  *bufpool.Pool
	cat   *catalog.Catalog
	pages int
}

func newTestEnv(t *testing.T) *testEnv {
	fs := vfs.NewMem()
	pool, err := bufpool.Create(fs, "pages", &bufpool.Options{PageSize: 512, Frames: 8})
	require.NoError(t, err)
	cat, err := catalog.Open(fs, "")
	require.NoError(t, err)
	return &testEnv{fs: fs, pool: pool, cat: cat}
}

func (e *testEnv) reopen(t *testing.T) {
	require.NoError(t, e.pool.Close())
	var err error
	e.pool, err = bufpool.Open(e.fs, "pages", nil)
	require.NoError(t, err)
	e.cat, err = catalog.Open(e.fs, "")
	require.NoError(t, err)
}

func testTuple(i int) []base.Value {
	return []base.Value{base.IntValue(int32(i * 10)), base.StringValue(fmt.Sprintf("city-%d", i%7))}
}

func TestFile(t *testing.T) {
	env := newTestEnv(t)
	kinds := []base.ValueKind{base.ValueKindInteger, base.ValueKindString}
	f, err := Create("orders", kinds, env.pool, env.cat)
	require.NoError(t, err)

	_, err = Create("orders", kinds, env.pool, env.cat)
	require.Error(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		pos, err := f.Insert(testTuple(i))
		require.NoError(t, err)
		require.Equal(t, i, pos)
	}
	require.Equal(t, 0, env.pool.Metrics().PinnedFrames)

	check := func(f *File) {
		require.Equal(t, n, f.TupleCount())
		require.Equal(t, 2, f.NumColumns())
		for i := 0; i < n; i++ {
			tuple, ok, err := f.Tuple(i)
			require.NoError(t, err)
			if i%3 == 0 {
				require.False(t, ok, "position %d", i)
				continue
			}
			require.True(t, ok, "position %d", i)
			require.Equal(t, testTuple(i), tuple)
		}
	}

	for i := 0; i < n; i += 3 {
		ok, err := f.Delete(i)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := f.Delete(0)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = f.Delete(n)
	require.NoError(t, err)
	require.False(t, ok)
	check(f)
	require.NoError(t, f.Close())

	env.reopen(t)
	f, err = Open("orders", env.pool, env.cat)
	require.NoError(t, err)
	check(f)

	kind, err := f.ColumnKind(1)
	require.NoError(t, err)
	require.Equal(t, base.ValueKindString, kind)
	_, err = f.ColumnKind(2)
	require.True(t, errors.Is(err, ErrInvalidColumn))

	// A scan visits the live records in position order.
	var got []int32
	var prev base.Location
	require.NoError(t, f.ScanColumn(0, func(v base.Value, loc base.Location) error {
		if len(got) > 0 {
			require.True(t, loc.Page > prev.Page || (loc.Page == prev.Page && loc.Slot > prev.Slot))
		}
		prev = loc
		got = append(got, v.Int())
		return nil
	}))
	var want []int32
	for i := 0; i < n; i++ {
		if i%3 != 0 {
			want = append(want, int32(i*10))
		}
	}
	require.Equal(t, want, got)

	// Errors returned by the callback stop the scan.
	stop := errors.New("stop")
	calls := 0
	require.Equal(t, stop, f.ScanColumn(1, func(base.Value, base.Location) error {
		calls++
		return stop
	}))
	require.Equal(t, 1, calls)
	require.Equal(t, 0, env.pool.Metrics().PinnedFrames)

	loc, ok, err := f.LocationAt(0, 1)
	require.NoError(t, err)
	require.True(t, ok)
	v, err := f.ValueAt(0, loc)
	require.NoError(t, err)
	require.Equal(t, base.IntValue(10), v)
	deleted := base.MakeLocation(loc.Page, 0)
	_, err = f.ValueAt(0, deleted)
	require.True(t, errors.Is(err, base.ErrNotFound))

	pages := env.pool.Metrics().Pages
	require.Greater(t, pages, 3)
	require.NoError(t, f.Destroy())
	require.Equal(t, 0, env.pool.Metrics().Pages)
	_, ok = env.cat.Lookup("orders")
	require.False(t, ok)
	_, err = f.Insert(testTuple(0))
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, env.pool.Close())
}

func TestFileInsertErrors(t *testing.T) {
	env := newTestEnv(t)
	defer func() { require.NoError(t, env.pool.Close()) }()
	_, err := Create("empty", nil, env.pool, env.cat)
	require.Error(t, err)
	_, err = Create("bad", []base.ValueKind{7}, env.pool, env.cat)
	require.True(t, errors.Is(err, base.ErrInvalidValueKind))

	f, err := Create("t", []base.ValueKind{base.ValueKindString}, env.pool, env.cat)
	require.NoError(t, err)
	_, err = f.Insert([]base.Value{base.IntValue(1)})
	require.True(t, errors.Is(err, base.ErrInvalidValueKind))
	_, err = f.Insert(nil)
	require.Error(t, err)

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.Insert([]base.Value{base.StringValue(string(long))})
	require.Error(t, err)
	require.Equal(t, 0, f.TupleCount())
	require.Equal(t, 0, env.pool.Metrics().PinnedFrames)

	_, err = Open("missing", env.pool, env.cat)
	require.True(t, errors.Is(err, base.ErrNotFound))
}

// newPageFailStore fails NewPage once its budget of new pages is spent.
type newPageFailStore struct {
	*bufpool.Pool
	budget int
}

var errNoNewPage = errors.New("no new page")

func (s *newPageFailStore) NewPage() (base.PageID, []byte, error) {
	if s.budget == 0 {
		return base.InvalidPageID, nil, errNoNewPage
	}
	if s.budget > 0 {
		s.budget--
	}
	return s.Pool.NewPage()
}

func TestFileInsertPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	store := &newPageFailStore{Pool: env.pool, budget: -1}
	kinds := []base.ValueKind{base.ValueKindInteger, base.ValueKindString}
	f, err := Create("partial", kinds, store, env.cat)
	require.NoError(t, err)

	// The first column gets its page; the second cannot.
	store.budget = 1
	_, err = f.Insert(testTuple(1))
	require.ErrorIs(t, err, errNoNewPage)
	require.Equal(t, 0, f.TupleCount())
	require.Equal(t, 0, env.pool.Metrics().PinnedFrames)

	store.budget = -1
	pos, err := f.Insert(testTuple(2))
	require.NoError(t, err)
	require.Equal(t, 0, pos)
	tuple, ok, err := f.Tuple(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testTuple(2), tuple)
	for c := range kinds {
		loc, ok, err := f.LocationAt(c, 0)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int32(0), loc.Slot)
	}

	require.NoError(t, f.Close())
	env.reopen(t)
	f, err = Open("partial", env.pool, env.cat)
	require.NoError(t, err)
	tuple, ok, err = f.Tuple(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testTuple(2), tuple)
	require.NoError(t, f.Close())
	require.NoError(t, env.pool.Close())
}

func TestHeapPage(t *testing.T) {
	buf := make([]byte, 64)
	p := initHeapPage(buf, 5)
	require.NoError(t, p.validate(5))
	require.Error(t, p.validate(6))
	require.Equal(t, 64-heapHeaderSize, p.freeSpace())

	for i := 0; ; i++ {
		slot, ok := p.append([]byte{byte(i), byte(i)})
		if !ok {
			break
		}
		require.Equal(t, i, slot)
	}
	// Each record takes 2 bytes plus a 4 byte slot.
	require.Equal(t, (64-heapHeaderSize)/6, p.slotCount())
	require.True(t, p.remove(2))
	require.False(t, p.remove(2))
	_, ok := p.record(2)
	require.False(t, ok)
	rec, ok := p.record(3)
	require.True(t, ok)
	require.Equal(t, []byte{3, 3}, rec)
	require.NoError(t, p.validate(5))

	n, free := p.slotCount(), p.freeSpace()
	p.pop()
	require.Equal(t, n-1, p.slotCount())
	require.Equal(t, free+6, p.freeSpace())
	require.NoError(t, p.validate(5))
	slot, ok := p.append([]byte{9, 9})
	require.True(t, ok)
	require.Equal(t, n-1, slot)
}
