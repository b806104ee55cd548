// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"

	"github.com/spf13/cobra"
)

// storeT implements store-level tools.
type storeT struct {
	Root    *cobra.Command
	Metrics *cobra.Command

	opts *options
}

func newStore(opts *options) *storeT {
	s := &storeT{opts: opts}
	s.Root = &cobra.Command{
		Use:   "store",
		Short: "store introspection tools",
	}
	s.Metrics = &cobra.Command{
		Use:   "metrics <dir>",
		Short: "print page file metrics",
		Long: `
Print the page counts of the page file of the store in <dir>.
`,
		Args: cobra.ExactArgs(1),
		Run:  s.runMetrics,
	}
	s.Root.AddCommand(s.Metrics)
	return s
}

func (s *storeT) runMetrics(cmd *cobra.Command, args []string) {
	st, err := openStore(s.opts.fs, args[0])
	if err != nil {
		fail(err)
		return
	}
	fmt.Fprintf(stdout, "%s", st.pool.Metrics())
	if err := st.pool.Close(); err != nil {
		fail(err)
	}
}
