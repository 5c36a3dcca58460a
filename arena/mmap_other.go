// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !linux && !darwin

package arena

// Mmap falls back to a Go slice reservation where anonymous mappings are
// not wired up.
type Mmap struct {
	Mem
}

// NewMmap reserves max bytes (MaxHeap if max is 0).
func NewMmap(max uint64) (*Mmap, error) {
	return &Mmap{Mem: *NewMem(max)}, nil
}

// Close releases the reservation.
func (a *Mmap) Close() error {
	a.buf = nil
	a.brk = 0
	return nil
}
