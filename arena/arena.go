// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package arena provides the memory a flmalloc heap grows into.
//
// An arena reserves its whole region up front and hands it out sbrk(2)
// style: each Sbrk call returns the start of a new region contiguous with
// the previous ones. Arenas never shrink.
package arena

import (
	"github.com/pkg/errors"
)

// MaxHeap is the default arena reservation (20 MiB).
const MaxHeap = 20 << 20

// ErrNoMemory is returned when the reservation is exhausted.
var ErrNoMemory = errors.New("arena: out of memory")

// Arena is the growth primitive used by flmalloc.
type Arena interface {
	// Sbrk extends the break by incr bytes and returns the offset of
	// the new region (the old break).
	Sbrk(incr uint64) (uint64, error)
	// Bytes returns the memory handed out so far, [0, break).
	Bytes() []byte
}

// Mem is an arena backed by a Go byte slice.
type Mem struct {
	buf []byte
	brk uint64
}

// NewMem returns an arena reserving max bytes (MaxHeap if max is 0).
func NewMem(max uint64) *Mem {
	if max == 0 {
		max = MaxHeap
	}
	return &Mem{buf: make([]byte, max)}
}

// Sbrk extends the break by incr bytes.
func (a *Mem) Sbrk(incr uint64) (uint64, error) {
	if incr > uint64(len(a.buf))-a.brk {
		return 0, errors.Wrapf(ErrNoMemory, "sbrk(%d): break %d, limit %d",
			incr, a.brk, len(a.buf))
	}
	old := a.brk
	a.brk += incr
	return old, nil
}

// Bytes returns the memory between the arena start and the break.
func (a *Mem) Bytes() []byte {
	return a.buf[:a.brk:a.brk]
}

// Brk returns the current break.
func (a *Mem) Brk() uint64 { return a.brk }

// Max returns the reservation size.
func (a *Mem) Max() uint64 { return uint64(len(a.buf)) }

// Reset rewinds the break to the arena start. The memory is not cleared.
func (a *Mem) Reset() { a.brk = 0 }
