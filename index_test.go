// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/colbitmap/bufpool"
	"github.com/cockroachdb/colbitmap/catalog"
	"github.com/cockroachdb/colbitmap/columnar"
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

func parseLocation(t testing.TB, s string) Location {
	parts := strings.Split(s, ",")
	require.Len(t, parts, 2, "malformed location %q", s)
	page, err := strconv.Atoi(parts[0])
	require.NoError(t, err)
	slot, err := strconv.Atoi(parts[1])
	require.NoError(t, err)
	return MakeLocation(PageID(page), int32(slot))
}

func parseValue(t testing.TB, kind ValueKind, s string) Value {
	if kind == ValueKindString && strings.HasPrefix(s, `"`) {
		var err error
		s, err = strconv.Unquote(s)
		require.NoError(t, err)
	}
	v, err := base.ParseValue(kind, s)
	require.NoError(t, err)
	return v
}

// testStore is a page store and catalog over an in-memory file system.
type testStore struct {
	fs   *vfs.MemFS
	pool *bufpool.Pool
	cat  *catalog.Catalog
}

func newTestStore(t testing.TB, pageSize int) *testStore {
	s := &testStore{fs: vfs.NewMem()}
	var err error
	s.pool, err = bufpool.Create(s.fs, "pages", &bufpool.Options{PageSize: pageSize, Frames: 16})
	require.NoError(t, err)
	s.cat, err = catalog.Open(s.fs, "db")
	require.NoError(t, err)
	return s
}

func (s *testStore) reopen(t testing.TB) {
	require.NoError(t, s.pool.Close())
	var err error
	s.pool, err = bufpool.Open(s.fs, "pages", &bufpool.Options{Frames: 16})
	require.NoError(t, err)
	s.cat, err = catalog.Open(s.fs, "db")
	require.NoError(t, err)
}

func (s *testStore) options() *Options {
	return &Options{Store: s.pool, Catalog: s.cat, Logger: base.NoopLogger{}}
}

func TestIndex(t *testing.T) {
	defer leaktest.AfterTest(t)()

	var store *testStore
	var logger *base.InMemLogger
	indexes := make(map[string]*Index)
	options := func() *Options {
		opts := store.options()
		el := MakeLoggingEventListener(logger)
		opts.EventListener = &el
		return opts
	}

	datadriven.RunTest(t, "testdata/index", func(t *testing.T, td *datadriven.TestData) string {
		result := func(err error) string {
			if err != nil {
				return fmt.Sprintf("err: %s", err)
			}
			return "ok"
		}
		var idx *Index
		if td.HasArg("name") {
			var name string
			td.ScanArgs(t, "name", &name)
			idx = indexes[name]
		}

		switch td.Cmd {
		case "init":
			store = newTestStore(t, 512)
			logger = &base.InMemLogger{}
			indexes = make(map[string]*Index)
			return ""

		case "create":
			var name, kindStr string
			td.ScanArgs(t, "name", &name)
			td.ScanArgs(t, "kind", &kindStr)
			kind, ok := base.ParseValueKind(kindStr)
			require.True(t, ok)
			idx, err := Create(name, nil, 0, kind, options())
			if err != nil {
				return result(err)
			}
			indexes[name] = idx
			return "ok"

		case "open":
			var name string
			td.ScanArgs(t, "name", &name)
			idx, err := Open(name, options())
			if err != nil {
				return result(err)
			}
			indexes[name] = idx
			return "ok"

		case "close":
			return result(idx.Close())

		case "destroy":
			return result(idx.Destroy())

		case "reopen-store":
			for name, idx := range indexes {
				// Destroyed and closed indexes report ErrClosed.
				_ = idx.Close()
				delete(indexes, name)
			}
			store.reopen(t)
			return ""

		case "events":
			s := logger.String()
			logger.Reset()
			return s

		case "insert":
			var buf strings.Builder
			for _, line := range crstrings.Lines(td.Input) {
				locStr, valStr, _ := strings.Cut(line, " ")
				outcome, err := idx.Insert(parseValue(t, idx.Kind(), valStr), parseLocation(t, locStr))
				if err != nil {
					fmt.Fprintf(&buf, "err: %s\n", err)
					continue
				}
				fmt.Fprintf(&buf, "%s\n", outcome)
			}
			return buf.String()

		case "fill":
			var page, count int
			td.ScanArgs(t, "page", &page)
			td.ScanArgs(t, "count", &count)
			for i := 0; i < count; i++ {
				outcome, err := idx.Insert(IntValue(int32(i)), MakeLocation(PageID(page), int32(i)))
				require.NoError(t, err)
				require.Equal(t, InsertOutcomeInserted, outcome)
			}
			return ""

		case "delete":
			var buf strings.Builder
			for _, line := range crstrings.Lines(td.Input) {
				ok, err := idx.Delete(parseLocation(t, line))
				if err != nil {
					fmt.Fprintf(&buf, "err: %s\n", err)
					continue
				}
				fmt.Fprintf(&buf, "%t\n", ok)
			}
			return buf.String()

		case "lookup":
			var valStr string
			td.ScanArgs(t, "value", &valStr)
			locs, err := idx.Lookup(parseValue(t, idx.Kind(), valStr))
			if err != nil {
				return result(err)
			}
			var buf strings.Builder
			for _, loc := range locs {
				fmt.Fprintf(&buf, "%s\n", loc)
			}
			return buf.String()

		case "scan":
			var o ScanOptions
			if td.HasArg("lower") {
				var s string
				td.ScanArgs(t, "lower", &s)
				v := parseValue(t, idx.Kind(), s)
				o.LowerBound = &v
			}
			if td.HasArg("upper") {
				var s string
				td.ScanArgs(t, "upper", &s)
				v := parseValue(t, idx.Kind(), s)
				o.UpperBound = &v
			}
			s, err := idx.NewScan(&o)
			if err != nil {
				return result(err)
			}
			var buf strings.Builder
			for {
				e, ok, err := s.Next()
				if err != nil {
					fmt.Fprintf(&buf, "err: %s\n", err)
					break
				}
				if !ok {
					break
				}
				fmt.Fprintf(&buf, "%s %s\n", e.Value, e.Location)
			}
			require.NoError(t, s.Close())
			return buf.String()

		case "describe":
			var buf strings.Builder
			if err := idx.Describe(&buf); err != nil {
				return result(err)
			}
			return buf.String()

		case "pages":
			var buf strings.Builder
			err := idx.VisitPages(func(p PageInfo) error {
				live := 0
				for _, e := range p.Entries {
					if e.Live {
						live++
					}
				}
				fmt.Fprintf(&buf, "page %s: prev=%s next=%s entries=%d live=%d free=%d\n",
					p.ID, p.Prev, p.Next, len(p.Entries), live, p.FreeSpace)
				return nil
			})
			if err != nil {
				return result(err)
			}
			return buf.String()

		case "stats":
			s, err := idx.Stats()
			if err != nil {
				return result(err)
			}
			return s.String()

		case "store":
			m := store.pool.Metrics()
			return fmt.Sprintf("pages=%d free=%d pinned=%d", m.Pages, m.FreePages, m.PinnedFrames)

		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func TestIndexColumnSource(t *testing.T) {
	defer leaktest.AfterTest(t)()

	store := newTestStore(t, 512)
	f, err := columnar.Create("people", []ValueKind{ValueKindInteger, ValueKindString}, store.pool, store.cat)
	require.NoError(t, err)
	for _, tuple := range [][]Value{
		{IntValue(5), StringValue("ada")},
		{IntValue(-3), StringValue("bob")},
		{IntValue(5), StringValue("cy")},
		{IntValue(100), StringValue("dee")},
	} {
		_, err := f.Insert(tuple)
		require.NoError(t, err)
	}

	var created []IndexCreateInfo
	var loads []BulkLoadInfo
	opts := store.options()
	opts.AddEventListener(EventListener{
		IndexCreated: func(info IndexCreateInfo) { created = append(created, info) },
		BulkLoadEnd:  func(info BulkLoadInfo) { loads = append(loads, info) },
	})

	_, err = Create("people_age", f, 0, ValueKindString, opts)
	require.True(t, errors.Is(err, ErrInvalidValueKind), "%+v", err)
	_, err = Create("people_age", f, 7, ValueKindInteger, opts)
	require.Error(t, err)

	idx, err := Create("people_age", f, 0, ValueKindInteger, opts)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, 0, created[0].Column)
	require.Len(t, loads, 1)
	require.NoError(t, loads[0].Err)
	require.Equal(t, 4, loads[0].Records)
	require.Equal(t, 0, loads[0].Duplicates)

	locs := make([]Location, 4)
	for i := range locs {
		var ok bool
		locs[i], ok, err = f.LocationAt(0, i)
		require.NoError(t, err)
		require.True(t, ok)
	}
	scanAll := func() []Entry {
		lower, upper := IntValue(-3), IntValue(100)
		s, err := idx.NewScan(&ScanOptions{LowerBound: &lower, UpperBound: &upper})
		require.NoError(t, err)
		defer func() { require.NoError(t, s.Close()) }()
		var entries []Entry
		for {
			e, ok, err := s.Next()
			require.NoError(t, err)
			if !ok {
				return entries
			}
			entries = append(entries, e)
		}
	}
	expected := []Entry{
		{Value: IntValue(5), Location: locs[0]},
		{Value: IntValue(-3), Location: locs[1]},
		{Value: IntValue(5), Location: locs[2]},
		{Value: IntValue(100), Location: locs[3]},
	}
	if diff := pretty.Diff(expected, scanAll()); diff != nil {
		t.Fatalf("unexpected scan:\n%s", strings.Join(diff, "\n"))
	}

	ok, err := idx.DeleteOne(1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = idx.DeleteOne(1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, scanAll(), 3)

	ok, err = idx.InsertOne(1)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = idx.InsertOne(1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, scanAll(), 4)

	// Positions past the end of the column are ignored.
	ok, err = idx.DeleteOne(99)
	require.NoError(t, err)
	require.False(t, ok)

	// A tuple deleted from the column store no longer has a position.
	deleted, err := f.Delete(2)
	require.NoError(t, err)
	require.True(t, deleted)
	ok, err = idx.DeleteOne(2)
	require.NoError(t, err)
	require.False(t, ok)

	// Creating an existing index opens it without bulk loading it again.
	again, err := Create("people_age", f, 0, ValueKindInteger, opts)
	require.NoError(t, err)
	require.Len(t, loads, 1)
	require.Equal(t, idx.Head(), again.Head())
	require.NoError(t, again.Close())

	// An index opened from the catalog has no source until one is attached.
	reopened, err := Open("people_age", opts)
	require.NoError(t, err)
	_, err = reopened.DeleteOne(0)
	require.True(t, errors.Is(err, ErrNoSource), "%+v", err)
	require.Error(t, reopened.SetSource(f, 1))
	require.NoError(t, reopened.SetSource(f, 0))
	ok, err = reopened.DeleteOne(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, reopened.Close())

	require.NoError(t, idx.Close())
	require.NoError(t, f.Close())
	require.Equal(t, 0, store.pool.Metrics().PinnedFrames)
	require.NoError(t, store.pool.Close())
}

func TestIndexLifecycle(t *testing.T) {
	defer leaktest.AfterTest(t)()

	store := newTestStore(t, 512)
	opts := store.options()
	idx, err := Create("ages", nil, 0, ValueKindInteger, opts)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := idx.Insert(IntValue(int32(i%10)), MakeLocation(1, int32(i)))
		require.NoError(t, err)
	}
	s, err := idx.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, s.Pages)
	require.Equal(t, 1, store.pool.Metrics().PinnedFrames)

	_, err = idx.Insert(StringValue("x"), MakeLocation(1, 500))
	require.True(t, errors.Is(err, ErrInvalidValueKind), "%+v", err)
	_, err = idx.Lookup(StringValue("x"))
	require.True(t, errors.Is(err, ErrInvalidValueKind), "%+v", err)
	_, err = idx.Insert(IntValue(1), InvalidLocation)
	require.True(t, errors.Is(err, ErrInvalidLocation), "%+v", err)

	require.NoError(t, idx.Destroy())
	require.True(t, errors.Is(idx.Destroy(), ErrAlreadyDestroyed))
	_, err = idx.Lookup(IntValue(1))
	require.True(t, errors.Is(err, ErrClosed), "%+v", err)
	_, err = idx.NewScan(nil)
	require.True(t, errors.Is(err, ErrClosed), "%+v", err)
	require.NoError(t, idx.Close())
	require.True(t, errors.Is(idx.Close(), ErrClosed))

	m := store.pool.Metrics()
	require.Equal(t, 0, m.Pages)
	require.Equal(t, 3, m.FreePages)
	require.Equal(t, 0, m.PinnedFrames)
	_, ok := store.cat.Lookup("ages")
	require.False(t, ok)

	_, err = Open("ages", opts)
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)
	require.NoError(t, store.pool.Close())
}

func TestIndexOversizedValue(t *testing.T) {
	defer leaktest.AfterTest(t)()

	store := newTestStore(t, 512)
	idx, err := Create("names", nil, 0, ValueKindString, store.options())
	require.NoError(t, err)

	// An empty 512 byte page holds codes of at most 512-20-8 bytes.
	for i := 0; i < 3; i++ {
		_, err := idx.Insert(StringValue(strings.Repeat("x", 485)), MakeLocation(1, int32(i)))
		require.True(t, errors.Is(err, ErrInsufficientSpace), "%+v", err)
	}
	s, err := idx.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, s.Pages)
	require.Equal(t, 0, s.Entries)

	for i := 0; i < 2; i++ {
		out, err := idx.Insert(StringValue(strings.Repeat("y", 484)), MakeLocation(2, int32(i)))
		require.NoError(t, err)
		require.Equal(t, InsertOutcomeInserted, out)
	}
	s, err = idx.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, s.Pages)
	require.Equal(t, 2, s.Entries)
	require.Equal(t, 0, s.FreeBytes)

	require.NoError(t, idx.Close())
	require.Equal(t, 0, store.pool.Metrics().PinnedFrames)
	require.NoError(t, store.pool.Close())
}

func TestOptionsValidate(t *testing.T) {
	_, err := Create("x", nil, 0, ValueKindInteger, nil)
	require.Error(t, err)
	_, err = Open("x", &Options{Store: newTestStore(t, 512).pool})
	require.Error(t, err)

	opts := (*Options)(nil).EnsureDefaults()
	require.NotNil(t, opts.Logger)
	require.NotNil(t, opts.EventListener.IndexCreated)
}

func TestIndexStorageFailure(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fs := vfs.NewErrorFS(vfs.NewMem(), vfs.ErrorFSRead|vfs.ErrorFSWrite)
	cat, err := catalog.Open(fs, "db")
	require.NoError(t, err)
	// Two frames: one holds the pinned head page and the other cycles through
	// the rest of the chain.
	pool, err := bufpool.Create(fs, "pages", &bufpool.Options{PageSize: 512, Frames: 2})
	require.NoError(t, err)
	opts := &Options{Store: pool, Catalog: cat, Logger: base.NoopLogger{}}

	idx, err := Create("x", nil, 0, ValueKindInteger, opts)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := idx.Insert(IntValue(int32(i)), MakeLocation(1, int32(i)))
		require.NoError(t, err)
	}

	// Page 3 is dirty in the second frame. Visiting page 2 writes it back.
	fs.FailAfter(0)
	_, err = idx.Lookup(IntValue(5))
	require.True(t, errors.Is(err, ErrStorageFailure), "%+v", err)
	require.True(t, errors.Is(err, vfs.ErrInjected), "%+v", err)

	_, err = Create("y", nil, 0, ValueKindInteger, opts)
	require.True(t, errors.Is(err, ErrStorageFailure), "%+v", err)
	_, ok := cat.Lookup("y")
	require.False(t, ok)

	fs.Disarm()
	locs, err := idx.Lookup(IntValue(5))
	require.NoError(t, err)
	require.Equal(t, []Location{MakeLocation(1, 5)}, locs)
	stats, err := idx.Stats()
	require.NoError(t, err)
	require.Equal(t, 100, stats.Entries)

	require.NoError(t, idx.Close())
	require.NoError(t, pool.Close())
}
