// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux || darwin

package arena

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mmap is an arena backed by an anonymous private mapping. Pages are
// committed by the kernel on first touch, so large reservations are cheap.
type Mmap struct {
	Mem
}

// NewMmap maps max bytes (MaxHeap if max is 0).
func NewMmap(max uint64) (*Mmap, error) {
	if max == 0 {
		max = MaxHeap
	}
	if max > uint64(^uint(0)>>1) {
		return nil, errors.Errorf("arena: reservation too large (%d bytes)", max)
	}
	data, err := unix.Mmap(-1, 0, int(max), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: mmap %d bytes", max)
	}
	return &Mmap{Mem: Mem{buf: data}}, nil
}

// Close unmaps the arena. Any further Sbrk fails and previously returned
// slices must not be used.
func (a *Mmap) Close() error {
	if a.buf == nil {
		return nil
	}
	err := unix.Munmap(a.buf)
	a.buf = nil
	a.brk = 0
	if errors.Is(err, unix.EINVAL) {
		// treat double unmap as a no-op
		return nil
	}
	return err
}
