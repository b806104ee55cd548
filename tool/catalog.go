// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"github.com/spf13/cobra"
)

// catalogT implements catalog-level tools.
type catalogT struct {
	Root *cobra.Command
	List *cobra.Command

	opts *options
}

func newCatalog(opts *options) *catalogT {
	c := &catalogT{opts: opts}
	c.Root = &cobra.Command{
		Use:   "catalog",
		Short: "catalog introspection tools",
	}
	c.List = &cobra.Command{
		Use:   "list <dir>",
		Short: "list the catalog entries",
		Long: `
Print the name and head page of every entry of the catalog of the store in
<dir>. Entries name both indexes and column files.
`,
		Args: cobra.ExactArgs(1),
		Run:  c.runList,
	}
	c.Root.AddCommand(c.List)
	return c
}

func (c *catalogT) runList(cmd *cobra.Command, args []string) {
	s, err := openStore(c.opts.fs, args[0])
	if err != nil {
		fail(err)
		return
	}
	defer func() {
		if err := s.pool.Close(); err != nil {
			fail(err)
		}
	}()

	tbl := newTable(stdout, "NAME", "HEAD")
	for _, name := range s.cat.Names() {
		head, _ := s.cat.Lookup(name)
		tbl.Append([]string{name, head.String()})
	}
	tbl.Render()
}
