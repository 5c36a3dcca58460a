// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/intuitivelabs/slog"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/intuitivelabs/mallocs/flmalloc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// global flags
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "mmtrace",
	Short: "Replay allocation traces against the flmalloc heap",
	Long: `mmtrace runs malloc/realloc/free trace files on a flmalloc heap,
checks every returned block and reports the heap utilization.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable allocator debug logging and heap dumps")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setLogLevel switches the allocator log to debug in verbose mode, else
// only errors and bugs are logged.
func setLogLevel() {
	if verbose {
		flmalloc.Log = slog.New(slog.LDBG, slog.LbackTraceS|slog.LlocInfoS,
			slog.LStdErr)
		return
	}
	flmalloc.Log = slog.New(slog.LERR, slog.LbackTraceS|slog.LlocInfoS,
		slog.LStdErr)
}

func printInfo(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func printError(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: "+format, args...)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
