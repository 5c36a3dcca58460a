// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

// debug is a helper function that does sanity checks on a block
// (used when MMDebug is set).
// On failure it panics (corrupted).
func (m *MM) debug(b uint64) {
	if b < m.base+HeaderSize || b >= m.epilogue {
		m.dumpStatus()
		PANIC("BUG: block %#x outside the heap (%#x - %#x)\n",
			b, m.base, m.epilogue)
	}
	h := m.get(b)
	size := tagSize(h)
	if size < MinBlockSize || size%RoundTo != 0 || b+size > m.epilogue {
		m.dumpStatus()
		PANIC("BUG: block %#x (address %#x) header overwritten (%#x)!\n",
			b, payload(b), h)
	}
	if f := m.get(b + size - FooterSize); f != h {
		m.dumpStatus()
		PANIC("BUG: block %#x (address %#x) "+
			"footer overwritten (%#x != %#x)!\n",
			b, payload(b), f, h)
	}
	if pf := m.get(b - FooterSize); b != m.base+HeaderSize &&
		m.get(b-tagSize(pf)) != pf {
		m.dumpStatus()
		PANIC("BUG: block %#x (address %#x) "+
			"previous block end overwritten (%#x)!\n",
			b, payload(b), pf)
	}
}
