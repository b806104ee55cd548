// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bufpool

import (
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// MinPageSize is the smallest supported page size.
	MinPageSize = 512
	// MaxPageSize is the largest supported page size. Pages hold int16
	// offsets, so larger pages could not be addressed.
	MaxPageSize = 16 << 10
	// DefaultPageSize is the page size used when Options.PageSize is zero.
	DefaultPageSize = 4 << 10
	// DefaultFrames is the number of frames used when Options.Frames is zero.
	DefaultFrames = 64
)

// Options holds the parameters for creating or opening a Pool.
type Options struct {
	// PageSize is the size of every page in the file. It must be a power of
	// two in [MinPageSize, MaxPageSize]. It is only consulted when creating a
	// file; an existing file records its own page size.
	PageSize int

	// Frames is the number of in-memory page frames. A page must occupy a
	// frame while it is pinned, so Frames bounds the number of pages that can
	// be pinned at once.
	Frames int

	// Logger is used to report problems discovered while closing the pool.
	Logger base.Logger

	// ReadLatency, if set, observes the latency in nanoseconds of every page
	// read from the file.
	ReadLatency prometheus.Histogram

	// WriteLatency, if set, observes the latency in nanoseconds of every page
	// written back to the file.
	WriteLatency prometheus.Histogram
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Frames <= 0 {
		o.Frames = DefaultFrames
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	return o
}
