// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package tool implements the introspection commands of the colbitmap
// command line tool.
package tool

import (
	"github.com/cockroachdb/colbitmap/vfs"
	"github.com/spf13/cobra"
)

// T is the container for all of the introspection tools.
type T struct {
	Commands []*cobra.Command
	catalog  *catalogT
	index    *indexT
	store    *storeT
	opts     options
}

type options struct {
	fs vfs.FS
}

// An Option configures a tool.
type Option func(*options)

// FS sets the filesystem the tool reads stores from. The default is the OS
// filesystem.
func FS(fs vfs.FS) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// New creates a new introspection tool.
func New(opts ...Option) *T {
	t := &T{opts: options{fs: vfs.Default}}
	for _, opt := range opts {
		opt(&t.opts)
	}

	t.catalog = newCatalog(&t.opts)
	t.index = newIndex(&t.opts)
	t.store = newStore(&t.opts)
	t.Commands = []*cobra.Command{
		t.catalog.Root,
		t.index.Root,
		t.store.Root,
	}
	return t
}
