// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/colbitmap"
	"github.com/spf13/cobra"
)

// indexT implements index-level tools.
type indexT struct {
	Root  *cobra.Command
	Dump  *cobra.Command
	Scan  *cobra.Command
	Stats *cobra.Command

	opts *options

	// Flags.
	entries bool
	lower   bound
	upper   bound
}

func newIndex(opts *options) *indexT {
	i := &indexT{opts: opts}
	i.Root = &cobra.Command{
		Use:   "index",
		Short: "index introspection tools",
	}
	i.Dump = &cobra.Command{
		Use:   "dump <dir> <name>",
		Short: "print the pages of an index",
		Long: `
Print the page chain of the named index of the store in <dir>, one row per
page. With --entries, print the pointer entries of every page instead.
`,
		Args: cobra.ExactArgs(2),
		Run:  i.runDump,
	}
	i.Scan = &cobra.Command{
		Use:   "scan <dir> <name>",
		Short: "print the mappings of an index",
		Long: `
Print the mappings of the named index whose values lie within the optional
bounds, in chain order. A string bound constrains a prefix of the values.
`,
		Args: cobra.ExactArgs(2),
		Run:  i.runScan,
	}
	i.Stats = &cobra.Command{
		Use:   "stats <dir> <name>",
		Short: "print the space usage of an index",
		Args:  cobra.ExactArgs(2),
		Run:   i.runStats,
	}

	i.Dump.Flags().BoolVar(
		&i.entries, "entries", false, "print the pointer entries of every page")
	i.Scan.Flags().Var(
		&i.lower, "lower", "inclusive lower bound (hex:<bytes> for a string in hex)")
	i.Scan.Flags().Var(
		&i.upper, "upper", "inclusive upper bound (hex:<bytes> for a string in hex)")

	i.Root.AddCommand(i.Dump, i.Scan, i.Stats)
	return i
}

func (i *indexT) runDump(cmd *cobra.Command, args []string) {
	err := openIndex(i.opts.fs, args[0], args[1], func(idx *colbitmap.Index) error {
		if i.entries {
			tbl := newTable(stdout, "PAGE", "ENTRY", "LOCATION", "VALUE")
			err := idx.VisitPages(func(p colbitmap.PageInfo) error {
				for _, e := range p.Entries {
					if !e.Live {
						tbl.Append([]string{p.ID.String(), strconv.Itoa(e.Index), "tombstone", ""})
						continue
					}
					tbl.Append([]string{p.ID.String(), strconv.Itoa(e.Index), e.Location.String(), e.Value.String()})
				}
				return nil
			})
			if err != nil {
				return err
			}
			tbl.Render()
			return nil
		}

		tbl := newTable(stdout, "PAGE", "PREV", "NEXT", "ENTRIES", "LIVE", "FREE")
		err := idx.VisitPages(func(p colbitmap.PageInfo) error {
			live := 0
			for _, e := range p.Entries {
				if e.Live {
					live++
				}
			}
			tbl.Append([]string{
				p.ID.String(),
				p.Prev.String(),
				p.Next.String(),
				strconv.Itoa(len(p.Entries)),
				strconv.Itoa(live),
				strconv.Itoa(p.FreeSpace),
			})
			return nil
		})
		if err != nil {
			return err
		}
		tbl.Render()
		return nil
	})
	if err != nil {
		fail(err)
	}
}

func (i *indexT) runScan(cmd *cobra.Command, args []string) {
	err := openIndex(i.opts.fs, args[0], args[1], func(idx *colbitmap.Index) error {
		var o colbitmap.ScanOptions
		var err error
		if o.LowerBound, err = i.lower.value(idx.Kind()); err != nil {
			return err
		}
		if o.UpperBound, err = i.upper.value(idx.Kind()); err != nil {
			return err
		}
		s, err := idx.NewScan(&o)
		if err != nil {
			return err
		}
		defer s.Close()
		for {
			e, ok, err := s.Next()
			if err != nil || !ok {
				return err
			}
			fmt.Fprintf(stdout, "%s %s\n", e.Value, e.Location)
		}
	})
	if err != nil {
		fail(err)
	}
}

func (i *indexT) runStats(cmd *cobra.Command, args []string) {
	err := openIndex(i.opts.fs, args[0], args[1], func(idx *colbitmap.Index) error {
		stats, err := idx.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\n", stats)
		return nil
	})
	if err != nil {
		fail(err)
	}
}
