// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bufpool implements a buffer pool over a file of fixed-size,
// checksummed pages.
//
// A page is accessed by pinning it, which loads it into one of a fixed number
// of in-memory frames and returns the frame's buffer. The buffer stays valid
// until the page is unpinned; unpinning with dirty=true schedules the page to
// be written back when its frame is reused or when the pool is flushed.
// Unpinned frames are replaced using the CLOCK algorithm.
package bufpool

import (
	"sync"

	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
)

// ErrBufferExhausted is returned when a page must be loaded but every frame
// holds a pinned page.
var ErrBufferExhausted = errors.New("bufpool: all frames are pinned")

// ErrPageNotPinned is returned when unpinning a page that is not pinned.
var ErrPageNotPinned = errors.New("bufpool: page not pinned")

// ErrPagePinned is returned when freeing a page that is still pinned.
var ErrPagePinned = errors.New("bufpool: page is pinned")

// ErrClosed is returned when using a closed pool.
var ErrClosed = errors.New("bufpool: closed")

type frame struct {
	id   base.PageID
	buf  []byte
	pins int32
	// dirty is set when the buffer differs from the page in the file.
	dirty bool
	// referenced is set when the frame is pinned and cleared by the clock
	// hand as it sweeps past.
	referenced bool
}

// Pool is a buffer pool. It is safe for concurrent use, but it does not
// coordinate access to the contents of a pinned page.
type Pool struct {
	opts Options

	mu struct {
		sync.Mutex
		file   *pageFile
		frames []frame
		// table maps a resident page to the index of its frame.
		table       swiss.Map[base.PageID, int]
		hand        int
		headerDirty bool
		closed      bool
		metrics     Metrics
	}
}

// Create creates a new page file named name, truncating any existing file,
// and returns a pool over it.
func Create(fs vfs.FS, name string, opts *Options) (*Pool, error) {
	opts = opts.EnsureDefaults()
	pf, err := createPageFile(fs, name, opts.PageSize)
	if err != nil {
		return nil, err
	}
	return newPool(pf, opts), nil
}

// Open opens an existing page file. The page size recorded in the file
// overrides opts.PageSize.
func Open(fs vfs.FS, name string, opts *Options) (*Pool, error) {
	opts = opts.EnsureDefaults()
	pf, err := openPageFile(fs, name)
	if err != nil {
		return nil, err
	}
	return newPool(pf, opts), nil
}

func newPool(pf *pageFile, opts *Options) *Pool {
	p := &Pool{opts: *opts}
	p.opts.PageSize = pf.pageSize
	p.mu.file = pf
	p.mu.frames = make([]frame, opts.Frames)
	bufs := make([]byte, opts.Frames*pf.pageSize)
	for i := range p.mu.frames {
		p.mu.frames[i] = frame{
			id:  base.InvalidPageID,
			buf: bufs[i*pf.pageSize : (i+1)*pf.pageSize : (i+1)*pf.pageSize],
		}
	}
	p.mu.table.Init(opts.Frames)
	return p
}

// PageSize returns the size of every page in the pool.
func (p *Pool) PageSize() int {
	return p.opts.PageSize
}

// Pin pins page id in a frame and returns the frame's buffer. Every
// successful Pin must be paired with an Unpin.
func (p *Pool) Pin(id base.PageID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return nil, ErrClosed
	}
	if !p.mu.file.allocated(id) {
		return nil, errors.Wrapf(base.ErrNotFound, "bufpool: page %s is not allocated", id)
	}
	if i, ok := p.mu.table.Get(id); ok {
		f := &p.mu.frames[i]
		if f.pins == 0 {
			p.mu.metrics.PinnedFrames++
		}
		f.pins++
		f.referenced = true
		p.mu.metrics.Hits++
		return f.buf, nil
	}
	p.mu.metrics.Misses++
	i, err := p.victimLocked()
	if err != nil {
		return nil, err
	}
	f := &p.mu.frames[i]
	start := crtime.NowMono()
	if err := p.mu.file.readPage(id, f.buf); err != nil {
		return nil, err
	}
	if p.opts.ReadLatency != nil {
		p.opts.ReadLatency.Observe(float64(start.Elapsed()))
	}
	p.mu.metrics.Reads++
	p.installLocked(i, id)
	return f.buf, nil
}

// Unpin releases one pin on page id. If dirty is true, the page will be
// written back before its frame is reused.
func (p *Pool) Unpin(id base.PageID, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return ErrClosed
	}
	i, ok := p.mu.table.Get(id)
	if !ok || p.mu.frames[i].pins == 0 {
		return errors.Wrapf(ErrPageNotPinned, "bufpool: unpinning page %s", id)
	}
	f := &p.mu.frames[i]
	f.pins--
	if dirty {
		f.dirty = true
	}
	if f.pins == 0 {
		p.mu.metrics.PinnedFrames--
	}
	return nil
}

// NewPage allocates a page, pins it and returns its id and zeroed buffer.
// Released page ids are reused, lowest first.
func (p *Pool) NewPage() (base.PageID, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return base.InvalidPageID, nil, ErrClosed
	}
	i, err := p.victimLocked()
	if err != nil {
		return base.InvalidPageID, nil, err
	}
	id, err := p.mu.file.allocate()
	if err != nil {
		return base.InvalidPageID, nil, err
	}
	p.mu.headerDirty = true
	f := &p.mu.frames[i]
	clear(f.buf)
	p.installLocked(i, id)
	// The page has never been written in its current incarnation.
	f.dirty = true
	return id, f.buf, nil
}

// FreePage releases page id so that a later NewPage may reuse it. The page
// must not be pinned.
func (p *Pool) FreePage(id base.PageID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return ErrClosed
	}
	if !p.mu.file.allocated(id) {
		return errors.Wrapf(base.ErrNotFound, "bufpool: freeing page %s", id)
	}
	if i, ok := p.mu.table.Get(id); ok {
		f := &p.mu.frames[i]
		if f.pins > 0 {
			return errors.Wrapf(ErrPagePinned, "bufpool: freeing page %s (%d pins)", id, errors.Safe(f.pins))
		}
		p.mu.table.Delete(id)
		f.id = base.InvalidPageID
		f.dirty = false
		f.referenced = false
	}
	p.mu.file.release(id)
	p.mu.headerDirty = true
	return nil
}

// victimLocked returns the index of a frame that may be reused, writing back
// its page if dirty. The frame is removed from the table.
func (p *Pool) victimLocked() (int, error) {
	frames := p.mu.frames
	// Two sweeps suffice: the first clears every reference bit.
	for n := 0; n < 2*len(frames); n++ {
		i := p.mu.hand
		p.mu.hand = (p.mu.hand + 1) % len(frames)
		f := &frames[i]
		if f.id == base.InvalidPageID {
			return i, nil
		}
		if f.pins > 0 {
			continue
		}
		if f.referenced {
			f.referenced = false
			continue
		}
		if f.dirty {
			if err := p.writeBackLocked(f); err != nil {
				return 0, err
			}
		}
		p.mu.table.Delete(f.id)
		f.id = base.InvalidPageID
		p.mu.metrics.Evictions++
		return i, nil
	}
	return 0, errors.Wrapf(ErrBufferExhausted, "bufpool: %d frames", errors.Safe(len(frames)))
}

func (p *Pool) installLocked(i int, id base.PageID) {
	f := &p.mu.frames[i]
	f.id = id
	f.pins = 1
	f.dirty = false
	f.referenced = true
	p.mu.table.Put(id, i)
	p.mu.metrics.PinnedFrames++
}

func (p *Pool) writeBackLocked(f *frame) error {
	start := crtime.NowMono()
	if err := p.mu.file.writePage(f.id, f.buf); err != nil {
		return err
	}
	if p.opts.WriteLatency != nil {
		p.opts.WriteLatency.Observe(float64(start.Elapsed()))
	}
	p.mu.metrics.Writes++
	f.dirty = false
	return nil
}

// Flush writes every dirty page and the file header, and syncs the file.
func (p *Pool) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return ErrClosed
	}
	return p.flushLocked()
}

func (p *Pool) flushLocked() error {
	for i := range p.mu.frames {
		f := &p.mu.frames[i]
		if f.id != base.InvalidPageID && f.dirty {
			if err := p.writeBackLocked(f); err != nil {
				return err
			}
		}
	}
	if p.mu.headerDirty {
		if err := p.mu.file.writeHeader(); err != nil {
			return err
		}
		p.mu.headerDirty = false
	}
	return p.mu.file.sync()
}

// Close flushes the pool and closes the file. Pages that are still pinned are
// flushed as well and reported to the logger.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mu.closed {
		return ErrClosed
	}
	p.mu.closed = true
	if n := p.mu.metrics.PinnedFrames; n > 0 {
		p.opts.Logger.Errorf("bufpool: closing %s with %d pinned pages", p.mu.file.name, n)
	}
	err := p.flushLocked()
	return errors.CombineErrors(err, p.mu.file.close())
}

// Metrics returns the current metrics.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.mu.metrics
	m.Pages = p.mu.file.liveCount()
	m.FreePages = int(p.mu.file.free.GetCardinality())
	m.Size = int64(m.Pages) * int64(p.opts.PageSize)
	return m
}
