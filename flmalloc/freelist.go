// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

// insertHead links a free block at the head of the free list.
// b must not be on the list already.
func (m *MM) insertHead(b uint64) {
	m.setPrevFree(b, nilBlock)
	m.setNextFree(b, m.freeRoot)
	if m.freeRoot != nilBlock {
		m.setPrevFree(m.freeRoot, b)
	}
	m.freeRoot = b
	m.freeNo++
}

// unlink removes a block from the free list and clears its links.
// It works for head, tail, middle and single element lists.
func (m *MM) unlink(b uint64) {
	prev := m.prevFree(b)
	next := m.nextFree(b)
	if prev != nilBlock {
		m.setNextFree(prev, next)
	} else {
		m.freeRoot = next
	}
	if next != nilBlock {
		m.setPrevFree(next, prev)
	}
	m.setNextFree(b, nilBlock)
	m.setPrevFree(b, nilBlock)
	m.freeNo--
}

// replace puts the free block b in the list slot held by old, so the list
// order does not change. old links are cleared.
func (m *MM) replace(old, b uint64) {
	prev := m.prevFree(old)
	next := m.nextFree(old)
	m.setPrevFree(b, prev)
	m.setNextFree(b, next)
	if prev != nilBlock {
		m.setNextFree(prev, b)
	} else {
		m.freeRoot = b
	}
	if next != nilBlock {
		m.setPrevFree(next, b)
	}
	m.setNextFree(old, nilBlock)
	m.setPrevFree(old, nilBlock)
}

// findFit returns the first free block of at least size bytes, walking the
// free list from its head.
// If no block is found it returns (nilBlock, false).
func (m *MM) findFit(size uint64) (uint64, bool) {
	for b := m.freeRoot; b != nilBlock; b = m.nextFree(b) {
		if m.blockSize(b) >= size {
			return b, true
		}
	}
	return nilBlock, false
}
