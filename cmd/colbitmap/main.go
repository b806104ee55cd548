// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/cockroachdb/colbitmap/tool"
	"github.com/spf13/cobra"
)

var (
	concurrency int
	verbose     bool
	wipe        bool
)

var rootCmd = &cobra.Command{
	Use:   "colbitmap [command] (flags)",
	Short: "colbitmap benchmarking/introspection tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(tool.New().Commands...)

	benchCmd.Flags().IntVarP(
		&concurrency, "concurrency", "c", 4, "number of concurrent workers, each with its own index")
	benchCmd.Flags().BoolVarP(
		&verbose, "verbose", "v", false, "enable verbose event logging")
	benchCmd.Flags().BoolVarP(
		&wipe, "wipe", "w", false, "wipe the store before starting")
	benchCmd.Flags().IntVarP(
		&benchConfig.ops, "num-ops", "n", 100000, "number of operations per worker")
	benchCmd.Flags().StringVar(
		&benchConfig.kind, "kind", "integer", "kind of the indexed values (integer or string)")
	benchCmd.Flags().IntVar(
		&benchConfig.values, "values", 1000, "number of distinct values")
	benchCmd.Flags().IntVar(
		&benchConfig.pageSize, "page-size", 4<<10, "page size of a new store")
	benchCmd.Flags().IntVar(
		&benchConfig.frames, "frames", 64, "number of buffer pool frames")
	benchCmd.Flags().Float64Var(
		&benchConfig.rate, "rate", 0, "maximum operations per second per worker (0 means unlimited)")
	benchCmd.Flags().BoolVar(
		&benchConfig.plot, "plot", false, "plot the number of mappings over time when done")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
