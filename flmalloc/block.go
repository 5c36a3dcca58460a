// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"encoding/binary"
)

// block layout constants
const (
	WordSize     = 8
	HeaderSize   = WordSize
	FooterSize   = WordSize
	Overhead     = HeaderSize + FooterSize
	MinBlockSize = Overhead + 2*WordSize // header + footer + next + prev
)

// allocBit marks an allocated block in both header and footer.
const allocBit = uint64(1)

// nilBlock terminates the free list (offset 0 is the prologue, never free).
const nilBlock = uint64(0)

// Blocks are addressed by the heap offset of their header. All the
// accessors below go through m.mem, an out of range offset panics with the
// usual slice bounds error instead of touching foreign memory.

// pack builds a boundary tag from a block size and its allocated flag.
func pack(size uint64, alloc bool) uint64 {
	if alloc {
		return size | allocBit
	}
	return size
}

// tagSize returns the block size stored in a tag.
func tagSize(tag uint64) uint64 { return tag &^ allocBit }

// tagAlloc returns true if the tag belongs to an allocated block.
func tagAlloc(tag uint64) bool { return tag&allocBit != 0 }

func (m *MM) get(off uint64) uint64 {
	return binary.LittleEndian.Uint64(m.mem[off : off+WordSize])
}

func (m *MM) put(off, v uint64) {
	binary.LittleEndian.PutUint64(m.mem[off:off+WordSize], v)
}

func (m *MM) blockSize(b uint64) uint64 { return tagSize(m.get(b)) }
func (m *MM) isAlloc(b uint64) bool     { return tagAlloc(m.get(b)) }

// footer returns the offset of the block footer.
func (m *MM) footer(b uint64) uint64 {
	return b + m.blockSize(b) - FooterSize
}

// setTags writes the same size and allocated flag in the block header and
// footer.
func (m *MM) setTags(b, size uint64, alloc bool) {
	t := pack(size, alloc)
	m.put(b, t)
	m.put(b+size-FooterSize, t)
}

// nextBlock returns the block following b (the epilogue for the last one).
func (m *MM) nextBlock(b uint64) uint64 {
	return b + m.blockSize(b)
}

// prevBlock returns the block preceding b, found through its footer.
func (m *MM) prevBlock(b uint64) uint64 {
	return b - tagSize(m.get(b-FooterSize))
}

// free list links, stored in the first two payload words of a free block
func (m *MM) nextFree(b uint64) uint64       { return m.get(b + HeaderSize) }
func (m *MM) prevFree(b uint64) uint64       { return m.get(b + HeaderSize + WordSize) }
func (m *MM) setNextFree(b uint64, n uint64) { m.put(b+HeaderSize, n) }
func (m *MM) setPrevFree(b uint64, p uint64) { m.put(b+HeaderSize+WordSize, p) }

// payload returns the caller visible address of a block.
func payload(b uint64) Ptr { return Ptr(b + HeaderSize) }

// blockOf returns the block owning the payload p.
func blockOf(p Ptr) uint64 { return uint64(p) - HeaderSize }

// roundUp rounds up a size to the next RoundTo multiple.
func roundUp(s uint64) uint64 {
	return (s + (RoundTo - 1)) & RoundToMask
}

// adjustSize returns the block size needed for a request of size payload
// bytes, or false if computing it would overflow.
func adjustSize(size uint64) (uint64, bool) {
	if size > ^uint64(0)-(Overhead+RoundTo-1) {
		return 0, false
	}
	asize := roundUp(size + Overhead)
	if asize < MinBlockSize {
		asize = MinBlockSize
	}
	return asize, true
}
