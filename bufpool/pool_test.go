// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bufpool

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func formatMetrics(m Metrics) string {
	return fmt.Sprintf("hits=%d misses=%d reads=%d writes=%d evictions=%d pinned=%d pages=%d free=%d",
		m.Hits, m.Misses, m.Reads, m.Writes, m.Evictions, m.PinnedFrames, m.Pages, m.FreePages)
}

func TestPool(t *testing.T) {
	fs := vfs.NewMem()
	var p *Pool
	var opts *Options
	defer func() {
		if p != nil {
			require.NoError(t, p.Close())
		}
	}()

	datadriven.RunTest(t, "testdata/pool", func(t *testing.T, td *datadriven.TestData) string {
		result := func(err error) string {
			if err != nil {
				return fmt.Sprintf("err: %s", err)
			}
			return "ok"
		}
		var id int
		if td.HasArg("id") {
			td.ScanArgs(t, "id", &id)
		}
		switch td.Cmd {
		case "create":
			opts = &Options{Logger: base.NoopLogger{}}
			td.ScanArgs(t, "frames", &opts.Frames)
			td.MaybeScanArgs(t, "page-size", &opts.PageSize)
			var err error
			p, err = Create(fs, "pages", opts)
			return result(err)

		case "reopen":
			if err := p.Close(); err != nil {
				return result(err)
			}
			var err error
			p, err = Open(fs, "pages", opts)
			return result(err)

		case "new":
			id, _, err := p.NewPage()
			if err != nil {
				return result(err)
			}
			return id.String()

		case "pin":
			_, err := p.Pin(base.PageID(id))
			return result(err)

		case "unpin":
			return result(p.Unpin(base.PageID(id), td.HasArg("dirty")))

		case "free":
			return result(p.FreePage(base.PageID(id)))

		case "write":
			var data string
			td.ScanArgs(t, "data", &data)
			buf, err := p.Pin(base.PageID(id))
			if err != nil {
				return result(err)
			}
			copy(buf, data)
			return result(p.Unpin(base.PageID(id), true))

		case "read":
			var n int
			td.ScanArgs(t, "len", &n)
			buf, err := p.Pin(base.PageID(id))
			if err != nil {
				return result(err)
			}
			s := fmt.Sprintf("%q", buf[:n])
			if err := p.Unpin(base.PageID(id), false); err != nil {
				return result(err)
			}
			return s

		case "metrics":
			return formatMetrics(p.Metrics())

		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func TestPoolOptions(t *testing.T) {
	o := (*Options)(nil).EnsureDefaults()
	require.Equal(t, DefaultPageSize, o.PageSize)
	require.Equal(t, DefaultFrames, o.Frames)
	require.NotNil(t, o.Logger)

	fs := vfs.NewMem()
	for _, size := range []int{0x100, 1000, 32 << 10} {
		_, err := Create(fs, "pages", &Options{PageSize: size})
		require.Error(t, err, "page size %d", size)
	}

	// The page size recorded in the file wins.
	p, err := Create(fs, "pages", &Options{PageSize: 1024})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	p, err = Open(fs, "pages", &Options{PageSize: 8192})
	require.NoError(t, err)
	require.Equal(t, 1024, p.PageSize())
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Close(), ErrClosed)
	_, err = p.Pin(1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestPoolPinResident(t *testing.T) {
	p, err := Create(vfs.NewMem(), "pages", &Options{PageSize: 512, Frames: 4})
	require.NoError(t, err)
	id, _, err := p.NewPage()
	require.NoError(t, err)
	require.Equal(t, 1, p.Metrics().PinnedFrames)
	require.NoError(t, p.Unpin(id, true))
	require.Equal(t, 0, p.Metrics().PinnedFrames)

	for i := 0; i < 3; i++ {
		_, err := p.Pin(id)
		require.NoError(t, err)
		require.Equal(t, 1, p.Metrics().PinnedFrames)
		require.NoError(t, p.Unpin(id, false))
		require.Equal(t, 0, p.Metrics().PinnedFrames)
	}

	// A second pin of the same frame does not count it twice.
	for i := 0; i < 2; i++ {
		_, err := p.Pin(id)
		require.NoError(t, err)
		require.Equal(t, 1, p.Metrics().PinnedFrames)
	}
	require.NoError(t, p.Unpin(id, false))
	require.Equal(t, 1, p.Metrics().PinnedFrames)
	require.NoError(t, p.Unpin(id, false))
	require.Equal(t, 0, p.Metrics().PinnedFrames)
	require.Equal(t, int64(5), p.Metrics().Hits)
	require.NoError(t, p.Close())
}

func TestPoolOpenMissing(t *testing.T) {
	_, err := Open(vfs.NewMem(), "missing", nil)
	require.True(t, oserror.IsNotExist(err))
}

func flipByte(t *testing.T, fs vfs.FS, name string, off int64) {
	f, err := fs.OpenReadWrite(name)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	var b [1]byte
	_, err = f.ReadAt(b[:], off)
	require.NoError(t, err)
	b[0] ^= 0xff
	_, err = f.WriteAt(b[:], off)
	require.NoError(t, err)
}

func TestPoolCorruption(t *testing.T) {
	const pageSize = 512
	fs := vfs.NewMem()
	p, err := Create(fs, "pages", &Options{PageSize: pageSize, Frames: 4})
	require.NoError(t, err)
	id, buf, err := p.NewPage()
	require.NoError(t, err)
	require.Equal(t, base.PageID(1), id)
	copy(buf, "payload")
	require.NoError(t, p.Unpin(id, true))
	require.NoError(t, p.Close())

	t.Run("page", func(t *testing.T) {
		flipByte(t, fs, "pages", int64(pageSize+checksumSize)+3)
		defer flipByte(t, fs, "pages", int64(pageSize+checksumSize)+3)
		p, err := Open(fs, "pages", nil)
		require.NoError(t, err)
		defer func() { require.NoError(t, p.Close()) }()
		_, err = p.Pin(id)
		require.True(t, errors.Is(err, base.ErrCorruption), "%+v", err)
		require.Equal(t, 0, p.Metrics().PinnedFrames)
	})

	t.Run("header-checksum", func(t *testing.T) {
		flipByte(t, fs, "pages", headerFixedSize+1)
		defer flipByte(t, fs, "pages", headerFixedSize+1)
		_, err := Open(fs, "pages", nil)
		require.True(t, errors.Is(err, base.ErrCorruption), "%+v", err)
	})

	t.Run("magic", func(t *testing.T) {
		flipByte(t, fs, "pages", 0)
		defer flipByte(t, fs, "pages", 0)
		_, err := Open(fs, "pages", nil)
		require.True(t, errors.Is(err, base.ErrCorruption), "%+v", err)
	})

	t.Run("truncated", func(t *testing.T) {
		f, err := fs.Create("short")
		require.NoError(t, err)
		_, err = f.WriteAt([]byte(fileMagic), 0)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		_, err = Open(fs, "short", nil)
		require.True(t, errors.Is(err, base.ErrCorruption), "%+v", err)
	})

	// The restored file is intact.
	p, err = Open(fs, "pages", nil)
	require.NoError(t, err)
	buf, err = p.Pin(id)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:7]))
	require.NoError(t, p.Unpin(id, false))
	require.NoError(t, p.Close())
}

func TestPoolLatency(t *testing.T) {
	newHistogram := func(name string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Buckets: prometheus.ExponentialBucketsRange(float64(time.Microsecond), float64(time.Second), 10),
		})
	}
	opts := &Options{
		PageSize:     512,
		Frames:       1,
		ReadLatency:  newHistogram("read_latency"),
		WriteLatency: newHistogram("write_latency"),
	}
	p, err := Create(vfs.NewMem(), "pages", opts)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		id, _, err := p.NewPage()
		require.NoError(t, err)
		require.NoError(t, p.Unpin(id, true))
	}
	// With a single frame, pinning page 1 evicts page 3.
	_, err = p.Pin(1)
	require.NoError(t, err)
	require.NoError(t, p.Unpin(1, false))

	sampleCount := func(h prometheus.Histogram) uint64 {
		m := &dto.Metric{}
		require.NoError(t, h.Write(m))
		return m.GetHistogram().GetSampleCount()
	}
	require.Equal(t, uint64(1), sampleCount(opts.ReadLatency))
	require.Equal(t, uint64(3), sampleCount(opts.WriteLatency))
	require.NoError(t, p.Close())
}

// TestPoolRandomized runs random operations against a pool with few frames
// and checks page contents against a model.
func TestPoolRandomized(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	const pageSize = 512
	fs := vfs.NewMem()
	opts := &Options{PageSize: pageSize, Frames: 4, Logger: base.NoopLogger{}}
	p, err := Create(fs, "pages", opts)
	require.NoError(t, err)

	model := make(map[base.PageID][]byte)
	ids := func() []base.PageID {
		var res []base.PageID
		for id := range model {
			res = append(res, id)
		}
		return res
	}
	for i := 0; i < 2000; i++ {
		switch n := rng.Intn(10); {
		case n < 2 || len(model) == 0:
			id, buf, err := p.NewPage()
			require.NoError(t, err)
			_, ok := model[id]
			require.False(t, ok, "page %s handed out twice", id)
			require.Equal(t, make([]byte, pageSize), buf)
			data := make([]byte, pageSize)
			rng.Read(data)
			copy(buf, data)
			model[id] = data
			require.NoError(t, p.Unpin(id, true))

		case n < 3:
			all := ids()
			id := all[rng.Intn(len(all))]
			require.NoError(t, p.FreePage(id))
			delete(model, id)

		case n < 5:
			all := ids()
			id := all[rng.Intn(len(all))]
			buf, err := p.Pin(id)
			require.NoError(t, err)
			off := rng.Intn(pageSize)
			buf[off]++
			model[id][off]++
			require.NoError(t, p.Unpin(id, true))

		case n < 6:
			require.NoError(t, p.Close())
			p, err = Open(fs, "pages", opts)
			require.NoError(t, err)

		default:
			all := ids()
			id := all[rng.Intn(len(all))]
			buf, err := p.Pin(id)
			require.NoError(t, err)
			if !bytes.Equal(model[id], buf) {
				t.Fatalf("page %s contents differ", id)
			}
			require.NoError(t, p.Unpin(id, false))
		}
		m := p.Metrics()
		require.Equal(t, 0, m.PinnedFrames)
		require.Equal(t, len(model), m.Pages)
	}
	require.NoError(t, p.Close())
}
