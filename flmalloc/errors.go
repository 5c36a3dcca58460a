// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrArenaExhausted indicates the arena could not grow the heap.
	ErrArenaExhausted = errors.New("flmalloc: arena exhausted")

	// ErrInvalidRequest indicates a request that cannot be served
	// (size overflow, bad arena).
	ErrInvalidRequest = errors.New("flmalloc: invalid request")

	// ErrConsistency is matched by every CheckHeap violation.
	ErrConsistency = errors.New("flmalloc: heap consistency violation")
)

// CheckError is a heap consistency violation found by CheckHeap.
type CheckError struct {
	Block uint64 // offset of the offending block header
	Msg   string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("flmalloc: block %#x: %s", e.Block, e.Msg)
}

// Is makes errors.Is(err, ErrConsistency) true for all CheckErrors.
func (e *CheckError) Is(target error) bool {
	return target == ErrConsistency
}
