// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pick returns a live payload chosen by rng, independent of the map
// iteration order.
func pick(rng *rand.Rand, live map[Ptr]uint64) Ptr {
	ps := make([]Ptr, 0, len(live))
	for p := range live {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps[rng.Intn(len(ps))]
}

func TestPickIgnoresMapOrder(t *testing.T) {
	a := make(map[Ptr]uint64)
	b := make(map[Ptr]uint64)
	for i := 1; i <= 50; i++ {
		a[Ptr(i*16)] = uint64(i)
		b[Ptr((51-i)*16)] = uint64(51 - i)
	}
	ra := rand.New(rand.NewSource(3))
	rb := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		require.Equal(t, pick(ra, a), pick(rb, b), "pick %d", i)
	}
}

// Random malloc/free/realloc with a fixed seed, checking after every step
// that the heap is consistent, payloads are aligned, do not overlap and
// keep their contents.
func TestRandomOpsKeepInvariants(t *testing.T) {
	for _, opts := range []Options{MMDefaultOptions, MMDebug | MMChecks} {
		m := newTestMM(t, 1<<25, opts)
		rng := rand.New(rand.NewSource(42))
		live := make(map[Ptr]uint64) // payload -> requested size
		seeds := make(map[Ptr]byte)

		steps := 1500
		if testing.Short() {
			steps = 300
		}
		for i := 0; i < steps; i++ {
			switch op := rng.Intn(10); {
			case op < 5 || len(live) == 0:
				n := uint64(1 + rng.Intn(2000))
				if rng.Intn(20) == 0 {
					n = uint64(ChunkSize + rng.Intn(ChunkSize))
				}
				p := m.Malloc(n)
				require.NotEqual(t, NullPtr, p, "step %d: malloc(%d)", i, n)
				require.Zero(t, uint64(p)%RoundTo, "step %d", i)
				require.NotContains(t, live, p, "step %d", i)
				live[p] = n
				seeds[p] = byte(i)
				fill(m.Payload(p)[:n], byte(i))
			case op < 8:
				p := pick(rng, live)
				requireFilled(t, m.Payload(p)[:live[p]], seeds[p])
				m.Free(p)
				delete(live, p)
				delete(seeds, p)
			default:
				p := pick(rng, live)
				n := live[p]
				nn := uint64(1 + rng.Intn(4000))
				q := m.Realloc(p, nn)
				keep := n
				if nn < keep {
					keep = nn
				}
				requireFilled(t, m.Payload(q)[:keep], seeds[p])
				seed := seeds[p]
				delete(live, p)
				delete(seeds, p)
				live[q] = nn
				seeds[q] = seed
				fill(m.Payload(q)[:nn], seed)
			}
			requireConsistent(t, m)
			requireNoOverlap(t, m, live)
		}

		var used, freeSum uint64
		allocated, free := blocks(m)
		for _, s := range allocated {
			used += s.size - Overhead
		}
		for _, s := range free {
			freeSum += s.size
		}
		assert.Len(t, allocated, len(live))
		assert.Equal(t, used, m.MUsage().Used)
		assert.Equal(t, freeSum, m.Available())
		assert.Equal(t, len(free), m.FreeBlocks())

		for p := range live {
			m.Free(p)
		}
		requireConsistent(t, m)
		assert.Equal(t, 1, m.FreeBlocks(), "everything coalesced back")
		assert.Equal(t, m.HeapSize()-16, m.Available())
	}
}
