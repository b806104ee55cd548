// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/colbitmap"
	"github.com/cockroachdb/colbitmap/bufpool"
	"github.com/cockroachdb/colbitmap/catalog"
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/tool"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/tokenbucket"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

var benchConfig struct {
	ops      int
	kind     string
	values   int
	pageSize int
	frames   int
	rate     float64
	plot     bool
}

var benchCmd = &cobra.Command{
	Use:   "bench <dir>",
	Short: "run a random index workload",
	Long: `
Run a workload of random inserts, deletes and lookups against the store in
<dir>, creating it if needed. Each worker owns one index; all indexes share
the store's buffer pool.
`,
	Args: cobra.ExactArgs(1),
	RunE: runBench,
}

const (
	opInsert = "insert"
	opDelete = "delete"
	opLookup = "lookup"
)

type benchWorker struct {
	idx     *colbitmap.Index
	rng     *rand.Rand
	limiter *tokenbucket.TokenBucket
	hists   map[string]*namedHistogram
	// mappings is shared by all workers.
	mappings *atomic.Int64
}

func openBenchStore(fs vfs.FS, dir string) (*bufpool.Pool, *catalog.Catalog, error) {
	if wipe {
		fmt.Printf("wiping %s\n", dir)
		if err := os.RemoveAll(dir); err != nil {
			return nil, nil, err
		}
	}
	cat, err := catalog.Open(fs, dir)
	if err != nil {
		return nil, nil, err
	}
	name := fs.PathJoin(dir, tool.PagesFilename)
	opts := &bufpool.Options{PageSize: benchConfig.pageSize, Frames: benchConfig.frames}
	pool, err := bufpool.Open(fs, name, opts)
	if oserror.IsNotExist(err) {
		pool, err = bufpool.Create(fs, name, opts)
	}
	if err != nil {
		return nil, nil, err
	}
	return pool, cat, nil
}

func runBench(cmd *cobra.Command, args []string) error {
	kind, ok := base.ParseValueKind(benchConfig.kind)
	if !ok {
		return errors.Newf("unknown value kind %s", benchConfig.kind)
	}
	if concurrency < 1 || benchConfig.values < 1 {
		return errors.New("concurrency and values must be positive")
	}
	dir := args[0]
	pool, cat, err := openBenchStore(vfs.Default, dir)
	if err != nil {
		return err
	}
	fmt.Printf("dir %s\nconcurrency %d\n", dir, concurrency)

	opts := &colbitmap.Options{Store: pool, Catalog: cat, Logger: base.NoopLogger{}}
	if verbose {
		opts.Logger = colbitmap.DefaultLogger
		el := colbitmap.MakeLoggingEventListener(opts.Logger)
		opts.EventListener = &el
	}

	reg := newHistogramRegistry()
	var mappings atomic.Int64
	workers := make([]*benchWorker, concurrency)
	for i := range workers {
		idx, err := colbitmap.Create(fmt.Sprintf("bench.%d", i), nil, 0, kind, opts)
		if err != nil {
			return errors.CombineErrors(err, pool.Close())
		}
		stats, err := idx.Stats()
		if err != nil {
			return errors.CombineErrors(err, pool.Close())
		}
		mappings.Add(int64(stats.Entries))
		w := &benchWorker{
			idx:      idx,
			rng:      rand.New(rand.NewSource(uint64(time.Now().UnixNano()) + uint64(i))),
			mappings: &mappings,
			hists: map[string]*namedHistogram{
				opInsert: reg.Register(opInsert),
				opDelete: reg.Register(opDelete),
				opLookup: reg.Register(opLookup),
			},
		}
		if benchConfig.rate > 0 {
			w.limiter = &tokenbucket.TokenBucket{}
			w.limiter.Init(tokenbucket.TokensPerSecond(benchConfig.rate), tokenbucket.Tokens(benchConfig.rate))
		}
		workers[i] = w
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.run(ctx, kind) })
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()
	var samples []float64
loop:
	for i := 0; ; i++ {
		select {
		case <-ticker.C:
			benchTick(reg, time.Since(start), i)
			samples = append(samples, float64(mappings.Load()))
		case err = <-done:
			break loop
		}
	}
	benchDone(reg, time.Since(start))
	if benchConfig.plot && len(samples) > 1 {
		fmt.Println(asciigraph.Plot(samples, asciigraph.Height(10), asciigraph.Caption("mappings")))
	}
	fmt.Printf("%s", pool.Metrics())

	for _, w := range workers {
		err = errors.CombineErrors(err, w.idx.Close())
	}
	return errors.CombineErrors(err, pool.Close())
}

func (w *benchWorker) randValue(kind colbitmap.ValueKind) colbitmap.Value {
	n := w.rng.Intn(benchConfig.values)
	if kind == colbitmap.ValueKindInteger {
		return colbitmap.IntValue(int32(n))
	}
	return colbitmap.StringValue("v" + strconv.Itoa(n))
}

func (w *benchWorker) randLocation() colbitmap.Location {
	return colbitmap.MakeLocation(colbitmap.PageID(w.rng.Intn(1<<15)), int32(w.rng.Intn(1<<8)))
}

func (w *benchWorker) wait(ctx context.Context) error {
	if w.limiter == nil {
		return nil
	}
	for {
		ok, d := w.limiter.TryToFulfill(1)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (w *benchWorker) run(ctx context.Context, kind colbitmap.ValueKind) error {
	for i := 0; i < benchConfig.ops; i++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.wait(ctx); err != nil {
			return nil
		}
		start := time.Now()
		switch p := w.rng.Intn(10); {
		case p < 6:
			outcome, err := w.idx.Insert(w.randValue(kind), w.randLocation())
			if err != nil {
				return err
			}
			if outcome == colbitmap.InsertOutcomeInserted {
				w.mappings.Add(1)
			}
			w.hists[opInsert].Record(time.Since(start))
		case p < 8:
			deleted, err := w.idx.Delete(w.randLocation())
			if err != nil {
				return err
			}
			if deleted {
				w.mappings.Add(-1)
			}
			w.hists[opDelete].Record(time.Since(start))
		default:
			if _, err := w.idx.Lookup(w.randValue(kind)); err != nil {
				return err
			}
			w.hists[opLookup].Record(time.Since(start))
		}
	}
	return nil
}

func benchTick(reg *histogramRegistry, elapsed time.Duration, i int) {
	if i%20 == 0 {
		fmt.Println("____optype__elapsed____ops/sec__p50(ms)__p95(ms)__p99(ms)_pMax(ms)")
	}
	reg.Tick(func(tick histogramTick) {
		h := tick.Hist
		fmt.Printf("%10s %8s %10.1f %8.1f %8.1f %8.1f %8.1f\n",
			tick.Name,
			time.Duration(elapsed.Seconds()+0.5)*time.Second,
			float64(h.TotalCount())/tick.Elapsed.Seconds(),
			time.Duration(h.ValueAtQuantile(50)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(95)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(99)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(100)).Seconds()*1000,
		)
	})
}

func benchDone(reg *histogramRegistry, elapsed time.Duration) {
	fmt.Println("\n____optype__elapsed_____ops(total)___ops/sec(cum)__avg(ms)__p50(ms)__p95(ms)__p99(ms)_pMax(ms)")
	reg.Tick(func(tick histogramTick) {
		h := tick.Cumulative
		fmt.Printf("%10s %7.1fs %14d %14.1f %8.1f %8.1f %8.1f %8.1f %8.1f\n",
			tick.Name, elapsed.Seconds(), h.TotalCount(),
			float64(h.TotalCount())/elapsed.Seconds(),
			time.Duration(h.Mean()).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(50)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(95)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(99)).Seconds()*1000,
			time.Duration(h.ValueAtQuantile(100)).Seconds()*1000)
	})
	fmt.Println()
}
