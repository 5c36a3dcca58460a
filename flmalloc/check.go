// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

// CheckHeap walks the heap from the prologue to the epilogue and the free
// list, and returns all the consistency violations found (nil for a
// consistent heap). Each violation is also logged. It never panics on a
// corrupted heap.
// With verbose set every block is dumped in the log (debug level).
//
// Checked: sentinels, matching header and footer, block size and payload
// alignment, no two adjacent free blocks, and that the free list holds
// exactly the free blocks.
func (m *MM) CheckHeap(verbose bool) []error {
	var errs []error
	report := func(b uint64, f string, a ...interface{}) {
		e := &CheckError{Block: b, Msg: fmt.Sprintf(f, a...)}
		if ERRon() {
			ERR("%s\n", e)
		}
		errs = append(errs, e)
	}
	if m.mem == nil {
		report(0, "heap not initialised")
		return errs
	}
	end := uint64(len(m.mem))
	if verbose {
		Log.LLog(slog.LDBG, 0, "fl_check ", "heap (%#x - %#x):\n",
			m.base, end)
	}

	if m.get(m.base) != pack(HeaderSize, true) {
		report(m.base, "bad prologue header %#x", m.get(m.base))
	}
	if m.epilogue+HeaderSize != end {
		report(m.epilogue, "epilogue is not the last heap word (heap end %#x)",
			end)
		return errs
	}

	freeBlocks := uint64(0)
	prevFree := false
	b := m.base + HeaderSize
	for b < m.epilogue {
		h := m.get(b)
		size := tagSize(h)
		if size == 0 {
			report(b, "zero size block before the epilogue")
			return errs
		}
		if b+size > m.epilogue {
			report(b, "size %d runs past the epilogue %#x", size, m.epilogue)
			return errs
		}
		if verbose {
			m.printBlock(b)
		}
		if size%RoundTo != 0 {
			report(b, "size %d not a multiple of %d", size, RoundTo)
		}
		if size < MinBlockSize {
			report(b, "size %d smaller than the minimum %d", size, MinBlockSize)
		}
		if p := payload(b); uint64(p)%RoundTo != 0 {
			report(b, "payload %#x not aligned", p)
		}
		if f := m.get(b + size - FooterSize); f != h {
			report(b, "header %#x does not match footer %#x", h, f)
		}
		if !tagAlloc(h) {
			freeBlocks++
			if prevFree {
				report(b, "adjacent free blocks not coalesced")
			}
		}
		prevFree = !tagAlloc(h)
		b += size
	}
	if verbose {
		m.printBlock(b)
	}
	if b != m.epilogue {
		report(b, "blocks end at %#x, epilogue at %#x", b, m.epilogue)
	}
	if m.get(m.epilogue) != pack(0, true) {
		report(m.epilogue, "bad epilogue header %#x", m.get(m.epilogue))
	}

	n := uint64(0)
	prev := nilBlock
	for f := m.freeRoot; f != nilBlock; f = m.nextFree(f) {
		if n >= freeBlocks {
			report(f, "free list longer than the %d free blocks (cycle?)",
				freeBlocks)
			break
		}
		if f < m.base+HeaderSize || f+MinBlockSize > m.epilogue ||
			f%RoundTo != HeaderSize {
			report(f, "free list link outside the heap")
			break
		}
		if m.isAlloc(f) {
			report(f, "allocated block on the free list")
		}
		if m.prevFree(f) != prev {
			report(f, "free list back link %#x, expected %#x",
				m.prevFree(f), prev)
		}
		prev = f
		n++
	}
	if n != freeBlocks {
		report(m.freeRoot, "free list holds %d blocks, heap has %d free blocks",
			n, freeBlocks)
	}
	if n != m.freeNo {
		report(m.freeRoot, "free list holds %d blocks, counter says %d",
			n, m.freeNo)
	}
	return errs
}
