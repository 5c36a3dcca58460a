// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package flmalloc provides a first-fit, explicit free list malloc with
// boundary tags and immediate coalescing.
//
// The heap is a single contiguous region obtained from an arena.Arena and
// grown at its end. It starts with an allocated 8 byte prologue and ends
// with an allocated zero size epilogue. Every block carries an 8 byte
// header and an 8 byte footer holding size|allocated. Free blocks are kept
// on a doubly linked LIFO list threaded through their payload.
//
// An MM is not safe for concurrent use, callers must serialize access.
package flmalloc

import (
	"github.com/pkg/errors"

	"github.com/intuitivelabs/mallocs/arena"
)

const NAME = "flmalloc"

// size we round to, must be 2^n and a multiple of WordSize
const (
	RoundTo     = 16
	RoundToMask = ^(uint64(RoundTo) - 1)
)

// ChunkSize is the initial heap size and the minimum heap extension.
const ChunkSize = 1 << 16

// Ptr is a payload address, as a byte offset from the start of the arena.
type Ptr uint64

// NullPtr is returned when an allocation fails.
const NullPtr Ptr = 0

// MUsed contains the flmalloc memory usage statistics.
type MUsed struct {
	Used        uint64 // total payload capacity allocated
	RealUsed    uint64 // real size = Used + malloc overhead
	MaxRealUsed uint64
}

// Options encodes various configuration flags for MM
type Options uint32

const (
	MMDebug          Options = 1 << iota // check blocks tags on each op
	MMChecks                             // check pointers passed to Free/Realloc
	MMDumpStatsShort                     // dump status in log, short version
	MMDefaultOptions = MMChecks
)

// MM is one heap managed by flmalloc.
// It holds the heap bounds, the free list root and the usage statistics.
type MM struct {
	options Options
	arena   arena.Arena
	mem     []byte // arena.Bytes(), refreshed after each Sbrk

	base     uint64 // prologue offset
	epilogue uint64 // epilogue header offset
	size     uint64 // total heap size

	freeRoot uint64 // free list head
	freeNo   uint64 // free list length

	used MUsed // statistics
}

// Debug returns true if block tag checking is turned on.
func (m *MM) Debug() bool { return m.options&MMDebug != 0 }

// BChecks returns true if pointer checks are turned on.
func (m *MM) BChecks() bool { return m.options&MMChecks != 0 }

// New returns a new, initialised MM using the arena a.
func New(a arena.Arena, options Options) (*MM, error) {
	m := &MM{}
	if err := m.Init(a, options); err != nil {
		return nil, err
	}
	return m, nil
}

// Init initialises the heap: it requests ChunkSize bytes from the arena and
// lays out the prologue, one free block covering the rest of the chunk and
// the epilogue.
// It fails with ErrArenaExhausted if the arena cannot supply the chunk.
func (m *MM) Init(a arena.Arena, options Options) error {
	*m = MM{} // zero, in case of re-init
	if a == nil {
		return errors.Wrap(ErrInvalidRequest, "nil arena")
	}
	start, err := a.Sbrk(ChunkSize)
	if err != nil {
		return errors.Wrapf(ErrArenaExhausted, "initial chunk: %v", err)
	}
	if start%RoundTo != 0 {
		return errors.Wrapf(ErrInvalidRequest,
			"arena break %#x not aligned to %d", start, RoundTo)
	}
	m.arena = a
	m.mem = a.Bytes()
	m.options = options
	m.base = start
	m.size = ChunkSize
	m.addOverhead(HeaderSize + HeaderSize) // prologue + epilogue

	m.put(m.base, pack(HeaderSize, true))
	b := m.base + HeaderSize
	m.setTags(b, ChunkSize-HeaderSize-HeaderSize, false)
	m.epilogue = m.nextBlock(b)
	m.put(m.epilogue, pack(0, true))

	m.insertHead(b)
	return nil
}

// addUsed increases the "used" stats with the given block size.
func (m *MM) addUsed(size uint64) {
	m.used.Used += size - Overhead
	m.used.RealUsed += size
	if m.used.MaxRealUsed < m.used.RealUsed {
		m.used.MaxRealUsed = m.used.RealUsed
	}
}

// subUsed subtracts a block size from the "used" stats.
func (m *MM) subUsed(size uint64) {
	m.used.Used -= size - Overhead
	m.used.RealUsed -= size
}

// addOverhead adds heap bookkeeping overhead (the sentinels).
func (m *MM) addOverhead(o uint64) {
	m.used.RealUsed += o
	if m.used.MaxRealUsed < m.used.RealUsed {
		m.used.MaxRealUsed = m.used.RealUsed
	}
}

// MUsage returns current memory usage values.
func (m *MM) MUsage() MUsed {
	return m.used
}

// HeapSize returns the number of bytes obtained from the arena so far.
func (m *MM) HeapSize() uint64 {
	return m.size
}

// Available returns how many bytes are free (sum of all free block sizes,
// overhead included).
func (m *MM) Available() uint64 {
	return m.size - m.used.RealUsed
}

// FreeBlocks returns the number of blocks on the free list.
func (m *MM) FreeBlocks() int {
	return int(m.freeNo)
}

// Owns returns whether or not p is a possible payload address inside the
// heap. Behaviour is undefined if p was Free()d.
func (m *MM) Owns(p Ptr) bool {
	return m.mem != nil && uint64(p) >= m.base+HeaderSize+HeaderSize &&
		uint64(p) < m.epilogue
}

// UsableSize returns the payload capacity of the block owning p.
func (m *MM) UsableSize(p Ptr) uint64 {
	return m.blockSize(blockOf(p)) - Overhead
}

// Payload returns the payload bytes of the allocated address p.
// The slice is only valid until p is freed or reallocated.
func (m *MM) Payload(p Ptr) []byte {
	n := uint64(p) + m.UsableSize(p)
	return m.mem[p:n:n]
}

// Walk calls fn for every block between the prologue and the epilogue, in
// address order, until fn returns false.
func (m *MM) Walk(fn func(p Ptr, size uint64, allocated bool) bool) {
	if m.mem == nil {
		return
	}
	for b := m.base + HeaderSize; b < m.epilogue; b = m.nextBlock(b) {
		size := m.blockSize(b)
		if size == 0 || !fn(payload(b), size, m.isAlloc(b)) {
			return
		}
	}
}

// extend grows the heap by words words (rounded up to keep the alignment,
// at least MinBlockSize bytes). The old epilogue becomes the header of a
// new free block covering the new region, followed by a new epilogue. The new block is coalesced with
// a free predecessor.
// It returns the resulting free block, or false if the arena is exhausted.
func (m *MM) extend(words uint64) (uint64, bool) {
	if words == 0 {
		return nilBlock, false
	}
	size := roundUp(words * WordSize)
	if size < MinBlockSize {
		size = MinBlockSize
	}
	brk, err := m.arena.Sbrk(size)
	if err != nil {
		if WARNon() {
			WARN("heap extension by %d bytes failed: %v\n", size, err)
		}
		return nilBlock, false
	}
	if brk != m.epilogue+HeaderSize {
		BUG("arena returned non contiguous region %#x (heap end %#x)\n",
			brk, m.epilogue+HeaderSize)
		return nilBlock, false
	}
	m.mem = m.arena.Bytes()
	m.size += size

	b := m.epilogue
	m.setTags(b, size, false)
	m.epilogue = m.nextBlock(b)
	m.put(m.epilogue, pack(0, true))
	return m.coalesce(b), true
}

// place marks asize bytes at the start of the free block b as allocated.
// If the rest is big enough to be a block it becomes a free block taking
// b's place on the free list, otherwise the whole block is used and
// removed from the free list.
func (m *MM) place(b, asize uint64) {
	bsize := m.blockSize(b)
	rest := bsize - asize
	if rest >= MinBlockSize {
		n := b + asize
		m.setTags(b, asize, true)
		m.setTags(n, rest, false)
		m.replace(b, n)
		return
	}
	// a split would leave a splinter, keep it in the allocated block
	m.unlink(b)
	m.setTags(b, bsize, true)
}

// Malloc allocates size bytes of memory and returns the payload address.
// On failure (size 0, size overflow or out of memory) it returns NullPtr.
func (m *MM) Malloc(size uint64) Ptr {
	if size == 0 || m.mem == nil {
		return NullPtr
	}
	asize, ok := adjustSize(size)
	if !ok {
		if DBGon() {
			DBG("malloc(%d): %v\n", size, ErrInvalidRequest)
		}
		return NullPtr
	}
	b, found := m.findFit(asize)
	if !found {
		ext := asize
		if ext < ChunkSize {
			ext = ChunkSize
		}
		if b, found = m.extend(ext / WordSize); !found {
			if DBGon() {
				DBG("malloc(%d): %v\n", size, ErrArenaExhausted)
			}
			return NullPtr
		}
	}
	if m.Debug() {
		m.debug(b)
	}
	m.place(b, asize)
	m.addUsed(m.blockSize(b))
	return payload(b)
}

// checkPtr panics if p is not an allocated payload address.
func (m *MM) checkPtr(p Ptr, op string) {
	if !m.Owns(p) {
		PANIC("BUG: %s called with pointer %#x out of heap"+
			"(useable range %#x-%#x)\n",
			op, p, m.base+HeaderSize+HeaderSize, m.epilogue)
	}
	if uint64(p)%RoundTo != 0 {
		PANIC("BUG: %s called with misaligned pointer %#x\n", op, p)
	}
	if !m.isAlloc(blockOf(p)) {
		PANIC("BUG: %s: attempt to free already freed pointer %#x\n", op, p)
	}
}

// Free releases the memory associated with p (p must have been previously
// allocated with Malloc or Realloc).
func (m *MM) Free(p Ptr) {
	if p == NullPtr {
		WARN("free(0) called\n")
		return
	}
	if m.BChecks() {
		m.checkPtr(p, "Free")
	}
	b := blockOf(p)
	if m.Debug() {
		m.debug(b)
	}
	size := m.blockSize(b)
	m.subUsed(size)
	m.setTags(b, size, false)
	m.coalesce(b)
}

// Realloc allocates a new block of size bytes, copies the old contents
// (up to the smaller of the two sizes) into it and frees p. The block is
// never resized in place.
// A NullPtr p makes it a Malloc.
// If the new block cannot be allocated (size 0 included) it panics: the
// caller cannot continue without the memory.
func (m *MM) Realloc(p Ptr, size uint64) Ptr {
	if p == NullPtr {
		return m.Malloc(size)
	}
	if m.BChecks() {
		m.checkPtr(p, "Realloc")
	}
	n := m.Malloc(size)
	if n == NullPtr {
		m.dumpStatus()
		PANIC("realloc(%#x, %d): %v\n", p, size, ErrArenaExhausted)
	}
	cp := m.UsableSize(p)
	if size < cp {
		cp = size
	}
	copy(m.mem[uint64(n):uint64(n)+cp], m.mem[uint64(p):uint64(p)+cp])
	m.Free(p)
	return n
}
