// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bufpool

import (
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
)

// Metrics holds metrics for the pool.
type Metrics struct {
	// The number of Pin calls served from a frame.
	Hits int64
	// The number of Pin calls that had to read the page.
	Misses int64
	// The number of pages read from and written to the file.
	Reads  int64
	Writes int64
	// The number of frames whose page was replaced.
	Evictions int64
	// The number of frames currently holding a pinned page.
	PinnedFrames int
	// The number of allocated pages and of released page ids available for
	// reuse.
	Pages     int
	FreePages int
	// The size of the allocated pages in bytes.
	Size int64
}

// String pretty-prints the metrics.
func (m Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("pages: %s (%s, %s free)\n",
		crhumanize.Count(m.Pages, crhumanize.Compact),
		crhumanize.Bytes(m.Size, crhumanize.Compact, crhumanize.OmitI),
		crhumanize.Count(m.FreePages, crhumanize.Compact))
	w.Printf("pinned: %d\n", redact.Safe(m.PinnedFrames))
	w.Printf("hits: %s  misses: %s\n",
		crhumanize.Count(m.Hits, crhumanize.Compact),
		crhumanize.Count(m.Misses, crhumanize.Compact))
	w.Printf("reads: %s  writes: %s  evictions: %s\n",
		crhumanize.Count(m.Reads, crhumanize.Compact),
		crhumanize.Count(m.Writes, crhumanize.Compact),
		crhumanize.Count(m.Evictions, crhumanize.Compact))
}
