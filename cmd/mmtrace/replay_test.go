// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/arena"
	"github.com/intuitivelabs/mallocs/trace"
)

const okTrace = `4096
2
4
1
a 0 100
a 1 2000
r 0 500
f 1
`

// writeTrace stores a trace in the test temp dir and returns its path.
func writeTrace(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// runCmd executes mmtrace with args, returning stdout and stderr.
func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	verbose, jsonOut = false, false
	replayMmap, replayCheck, replayDebug = false, false, false
	replayMaxHeap = arena.MaxHeap

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestReplayText(t *testing.T) {
	path := writeTrace(t, "ok.rep", okTrace)
	out, _, err := runCmd(t, "replay", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "mean utilization")
}

func TestReplayFlags(t *testing.T) {
	path := writeTrace(t, "ok.rep", okTrace)
	_, _, err := runCmd(t, "replay", "--check", "--debug", "--mmap",
		"--max-heap", "1048576", path)
	require.NoError(t, err)
}

func TestReplayJSON(t *testing.T) {
	a := writeTrace(t, "a.rep", okTrace)
	b := writeTrace(t, "b.rep", okTrace)
	out, _, err := runCmd(t, "replay", "--json", a, b)
	require.NoError(t, err)

	var results []trace.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].Name)
	assert.Equal(t, 4, results[0].Ops)
	assert.Equal(t, uint64(2500), results[0].PeakPayload)
	assert.Greater(t, results[1].Utilization, 0.0)
}

func TestReplayFailures(t *testing.T) {
	good := writeTrace(t, "good.rep", okTrace)
	bad := writeTrace(t, "bad.rep", "100\n1\n1\n1\nf 0\n")
	missing := filepath.Join(t.TempDir(), "missing.rep")

	out, errOut, err := runCmd(t, "replay", good, bad, missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 traces failed")
	assert.Contains(t, errOut, bad)
	assert.Contains(t, errOut, missing)
	assert.Contains(t, out, good)
}

func TestReplayArenaTooSmall(t *testing.T) {
	path := writeTrace(t, "ok.rep", okTrace)
	_, errOut, err := runCmd(t, "replay", "--max-heap", "4096", path)
	require.Error(t, err)
	assert.Contains(t, errOut, "out of memory")
}

func TestReplayNoArgs(t *testing.T) {
	_, _, err := runCmd(t, "replay")
	assert.Error(t, err)
}

func TestReplayReleaseError(t *testing.T) {
	orig := newArena
	defer func() { newArena = orig }()
	newArena = func() (arena.Arena, func() error, error) {
		return arena.NewMem(0), func() error { return errors.New("munmap failed") }, nil
	}

	path := writeTrace(t, "ok.rep", okTrace)
	_, errOut, err := runCmd(t, "replay", path)
	require.Error(t, err)
	assert.Contains(t, errOut, "releasing arena: munmap failed")
}
