// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/arena"
)

// newTestMM returns an initialised heap backed by a max bytes arena.
func newTestMM(t testing.TB, max uint64, options Options) *MM {
	t.Helper()
	m, err := New(arena.NewMem(max), options)
	require.NoError(t, err)
	return m
}

// requireConsistent fails the test if CheckHeap reports anything.
func requireConsistent(t testing.TB, m *MM) {
	t.Helper()
	errs := m.CheckHeap(false)
	require.Empty(t, errs, "heap check failed: %v", errs)
}

// freeList returns the free list from head to tail, checking the back
// links on the way.
func freeList(t testing.TB, m *MM) []uint64 {
	t.Helper()
	var l []uint64
	prev := nilBlock
	for b := m.freeRoot; b != nilBlock; b = m.nextFree(b) {
		require.Equal(t, prev, m.prevFree(b), "back link of %#x", b)
		require.LessOrEqual(t, len(l), int(m.freeNo), "free list cycle")
		l = append(l, b)
		prev = b
	}
	require.Equal(t, int(m.freeNo), len(l), "free list counter")
	return l
}

type span struct {
	p    Ptr
	size uint64
}

// blocks returns all the heap blocks, split into allocated and free.
func blocks(m *MM) (allocated, free []span) {
	m.Walk(func(p Ptr, size uint64, a bool) bool {
		if a {
			allocated = append(allocated, span{p, size})
		} else {
			free = append(free, span{p, size})
		}
		return true
	})
	return allocated, free
}

// requireNoOverlap checks that the live payload ranges do not intersect.
func requireNoOverlap(t testing.TB, m *MM, live map[Ptr]uint64) {
	t.Helper()
	ps := make([]Ptr, 0, len(live))
	for p := range live {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	for i := 1; i < len(ps); i++ {
		end := uint64(ps[i-1]) + m.UsableSize(ps[i-1])
		require.LessOrEqual(t, end, uint64(ps[i]),
			"payloads %#x and %#x overlap", ps[i-1], ps[i])
	}
}

func fill(b []byte, seed byte) {
	for i := range b {
		b[i] = seed + byte(i*7)
	}
}

func requireFilled(t testing.TB, b []byte, seed byte) {
	t.Helper()
	for i := range b {
		require.Equal(t, seed+byte(i*7), b[i], "byte %d", i)
	}
}
