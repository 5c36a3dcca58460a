// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package arena

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSbrk(t *testing.T) {
	a := NewMem(100)
	assert.Equal(t, uint64(100), a.Max())
	assert.Empty(t, a.Bytes())

	off, err := a.Sbrk(40)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
	off, err = a.Sbrk(60)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), off, "regions are contiguous")
	assert.Len(t, a.Bytes(), 100)
	assert.Equal(t, uint64(100), a.Brk())

	_, err = a.Sbrk(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMemory))
	assert.Equal(t, uint64(100), a.Brk(), "failed sbrk leaves the break alone")
}

func TestMemBytesShareMemory(t *testing.T) {
	a := NewMem(0)
	assert.Equal(t, uint64(MaxHeap), a.Max())
	_, err := a.Sbrk(16)
	require.NoError(t, err)
	a.Bytes()[3] = 0x42
	_, err = a.Sbrk(16)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), a.Bytes()[3])
	assert.Equal(t, 32, cap(a.Bytes()))
}

func TestMemReset(t *testing.T) {
	a := NewMem(64)
	_, err := a.Sbrk(64)
	require.NoError(t, err)
	a.Reset()
	assert.Equal(t, uint64(0), a.Brk())
	off, err := a.Sbrk(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
}

func TestMmap(t *testing.T) {
	a, err := NewMmap(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), a.Max())

	off, err := a.Sbrk(1 << 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), off)
	b := a.Bytes()
	for i := range b {
		b[i] = byte(i)
	}
	off, err = a.Sbrk(1 << 19)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<16), off)
	assert.Equal(t, byte(7), a.Bytes()[7])

	_, err = a.Sbrk(1 << 20)
	assert.True(t, errors.Is(err, ErrNoMemory))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "double close")
	_, err = a.Sbrk(1)
	assert.Error(t, err)
}

var _ Arena = (*Mem)(nil)
var _ Arena = (*Mmap)(nil)
