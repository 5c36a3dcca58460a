// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"github.com/aclements/go-moremath/stats"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/intuitivelabs/mallocs/arena"
	"github.com/intuitivelabs/mallocs/flmalloc"
	"github.com/intuitivelabs/mallocs/trace"
)

var (
	replayMmap    bool
	replayCheck   bool
	replayDebug   bool
	replayMaxHeap uint64
)

func init() {
	cmd := newReplayCmd()
	cmd.Flags().BoolVar(&replayMmap, "mmap", false, "Back the heap with an anonymous mmap")
	cmd.Flags().BoolVar(&replayCheck, "check", false, "Check the whole heap after every operation")
	cmd.Flags().BoolVar(&replayDebug, "debug", false, "Check block tags on every allocator call")
	cmd.Flags().Uint64Var(&replayMaxHeap, "max-heap", arena.MaxHeap, "Arena size in bytes")
	rootCmd.AddCommand(cmd)
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <trace>...",
		Short: "Replay trace files and report utilization",
		Long: `The replay command runs each trace on a fresh heap. Every allocation
is checked for alignment, for lying inside the heap and for not overlapping
a live block; payloads must survive reallocation. The heap is checked for
consistency at the end of each trace (after every operation with --check).

Example:
  mmtrace replay traces/*.rep
  mmtrace replay --check --mmap short1.rep --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReplay,
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	setLogLevel()

	results := make([]*trace.Result, 0, len(args))
	failed := 0
	for _, path := range args {
		res, err := replayFile(path)
		if err != nil {
			failed++
			printError(cmd, "%s: %v\n", path, err)
			continue
		}
		results = append(results, res)
	}

	if jsonOut {
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		printResults(cmd, results)
	}
	if failed > 0 {
		return errors.Errorf("%d of %d traces failed", failed, len(args))
	}
	return nil
}

func replayFile(path string) (res *trace.Result, err error) {
	tr, err := trace.ParseFile(path)
	if err != nil {
		return nil, err
	}
	a, release, err := newArena()
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			res, err = nil, errors.Wrap(rerr, "releasing arena")
		}
	}()

	opts := flmalloc.MMDefaultOptions
	if replayDebug {
		opts |= flmalloc.MMDebug
	}
	mm, err := flmalloc.New(a, opts)
	if err != nil {
		return nil, err
	}
	return trace.Replay(mm, tr, trace.Options{
		CheckEvery: replayCheck,
		Verbose:    verbose,
	})
}

// newArena returns the arena for one trace and the function releasing it.
var newArena = func() (arena.Arena, func() error, error) {
	if !replayMmap {
		return arena.NewMem(replayMaxHeap), func() error { return nil }, nil
	}
	m, err := arena.NewMmap(replayMaxHeap)
	if err != nil {
		return nil, nil, err
	}
	return m, m.Close, nil
}

func printResults(cmd *cobra.Command, results []*trace.Result) {
	if len(results) == 0 {
		return
	}
	printInfo(cmd, "%-32s %8s %10s %10s %6s %6s %10s\n",
		"trace", "ops", "peak", "heap", "util", "free", "free avg")
	util := make([]float64, 0, len(results))
	for _, r := range results {
		printInfo(cmd, "%-32s %8d %10d %10d %5.1f%% %6d %10.0f\n",
			r.Name, r.Ops, r.PeakPayload, r.HeapSize, 100*r.Utilization,
			r.FreeBlocks, r.FreeMean)
		util = append(util, r.Utilization)
	}
	printInfo(cmd, "\n%d traces, mean utilization %.1f%%\n",
		len(results), 100*stats.Mean(util))
}
