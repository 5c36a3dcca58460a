// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

// coalesce joins the free block b (not on the free list yet) with its free
// neighbours and links the result at the free list head.
// It returns the resulting block, which starts at the lowest address of
// the joined blocks.
//
// The prologue and epilogue are always allocated, so the previous footer
// and the next header can be read without range checks.
func (m *MM) coalesce(b uint64) uint64 {
	size := m.blockSize(b)
	prevAlloc := tagAlloc(m.get(b - FooterSize))
	next := b + size
	nextAlloc := m.isAlloc(next)

	switch {
	case prevAlloc && nextAlloc:
		// nothing to join
	case prevAlloc && !nextAlloc:
		m.unlink(next)
		size += m.blockSize(next)
	case !prevAlloc && nextAlloc:
		prev := m.prevBlock(b)
		m.unlink(prev)
		size += m.blockSize(prev)
		b = prev
	default:
		// unlink one at a time: correct even when prev and next are
		// neighbours on the free list
		prev := m.prevBlock(b)
		m.unlink(prev)
		m.unlink(next)
		size += m.blockSize(prev) + m.blockSize(next)
		b = prev
	}
	m.setTags(b, size, false)
	m.insertHead(b)
	return b
}
