// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/colbitmap"
	"github.com/cockroachdb/colbitmap/bufpool"
	"github.com/cockroachdb/colbitmap/catalog"
	"github.com/cockroachdb/colbitmap/internal/base"
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
)

var stdout = io.Writer(os.Stdout)
var stderr = io.Writer(os.Stderr)
var osExit = os.Exit

// PagesFilename is the name of the page file within a store directory. The
// catalog lives next to it.
const PagesFilename = "PAGES"

// store is an open store directory: its page pool and its catalog.
type store struct {
	pool *bufpool.Pool
	cat  *catalog.Catalog
}

func openStore(fs vfs.FS, dir string) (*store, error) {
	pool, err := bufpool.Open(fs, fs.PathJoin(dir, PagesFilename), nil)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(fs, dir)
	if err != nil {
		return nil, errors.CombineErrors(err, pool.Close())
	}
	return &store{pool: pool, cat: cat}, nil
}

func (s *store) options() *colbitmap.Options {
	return &colbitmap.Options{
		Store:   s.pool,
		Catalog: s.cat,
		Logger:  base.NoopLogger{},
	}
}

// openIndex opens the named index of the store in dir and calls fn with it.
func openIndex(fs vfs.FS, dir, name string, fn func(idx *colbitmap.Index) error) error {
	s, err := openStore(fs, dir)
	if err != nil {
		return err
	}
	idx, err := colbitmap.Open(name, s.options())
	if err != nil {
		return errors.CombineErrors(err, s.pool.Close())
	}
	err = fn(idx)
	err = errors.CombineErrors(err, idx.Close())
	return errors.CombineErrors(err, s.pool.Close())
}

// bound is a scan bound given on the command line. A "hex:" prefix gives the
// bytes of a string bound in hexadecimal.
type bound struct {
	set bool
	s   string
}

func (b *bound) String() string {
	return b.s
}

func (b *bound) Type() string {
	return "value"
}

func (b *bound) Set(v string) error {
	if strings.HasPrefix(v, "hex:") {
		d, err := hex.DecodeString(strings.TrimPrefix(v, "hex:"))
		if err != nil {
			return err
		}
		v = string(d)
	}
	b.set, b.s = true, v
	return nil
}

// value parses the bound as a value of the given kind. It returns nil if the
// bound was not set.
func (b *bound) value(kind colbitmap.ValueKind) (*colbitmap.Value, error) {
	if !b.set {
		return nil, nil
	}
	v, err := base.ParseValue(kind, b.s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s bound %s", kind, b.s)
	}
	return &v, nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader(header)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetAutoWrapText(false)
	tbl.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tbl.SetAlignment(tablewriter.ALIGN_LEFT)
	return tbl
}

func fail(err error) {
	fmt.Fprintf(stderr, "%s\n", err)
	osExit(1)
}
