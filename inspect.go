// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colbitmap

import (
	"io"

	"github.com/cockroachdb/colbitmap/internal/bmpage"
)

// PageInfo describes one page of an index.
type PageInfo struct {
	ID        PageID
	Prev      PageID
	Next      PageID
	Frontier  int
	FreeSpace int
	Entries   []EntryInfo
}

// EntryInfo describes one pointer entry of a page. Value and Location are
// only set for live entries.
type EntryInfo struct {
	Index      int
	Live       bool
	CodeOffset int
	CodeLength int
	Location   Location
	Value      Value
}

// VisitPages calls fn with a description of every page of the index, in
// chain order.
func (i *Index) VisitPages(fn func(PageInfo) error) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	return i.chain.walk(func(id PageID, p bmpage.Page) (bool, bool, error) {
		info := PageInfo{
			ID:        id,
			Prev:      p.PrevPage(),
			Next:      p.NextPage(),
			Frontier:  p.Frontier(),
			FreeSpace: p.FreeSpace(),
			Entries:   make([]EntryInfo, p.EntryCount()),
		}
		for j := range info.Entries {
			e := p.Entry(j)
			ei := EntryInfo{Index: j, Live: e.Live(), CodeOffset: int(e.CodeOffset), CodeLength: int(e.CodeLength)}
			if ei.Live {
				v, err := p.Value(j)
				if err != nil {
					return false, true, err
				}
				ei.Location, ei.Value = e.Location(), v
			}
			info.Entries[j] = ei
		}
		return false, false, fn(info)
	})
}

// Describe writes a dump of every page of the index to w.
func (i *Index) Describe(w io.Writer) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	return i.chain.walk(func(_ PageID, p bmpage.Page) (bool, bool, error) {
		p.Describe(w)
		return false, false, nil
	})
}
