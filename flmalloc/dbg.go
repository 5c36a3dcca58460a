// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"github.com/intuitivelabs/slog"
)

// dumpStatus will write current status information in the log
func (m *MM) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "fl_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", m)
	if m == nil || m.mem == nil {
		return
	}
	Log.LLog(lev, 0, prefix, "heap size= %d\n", m.size)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		m.used.Used, m.used.RealUsed, m.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		m.used.MaxRealUsed)
	if m.options&MMDumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all alloc'ed blocks:\n")
	i := 0
	m.Walk(func(p Ptr, size uint64, allocated bool) bool {
		if allocated {
			Log.LLog(lev, 0, prefix,
				"   %3d.    address=%#x block=%#x size=%d\n",
				i, p, blockOf(p), size)
		}
		i++
		return true
	})
	Log.LLog(lev, 0, prefix, "dumping free list:\n")
	j := uint64(0)
	for b := m.freeRoot; b != nilBlock && j <= m.freeNo; b = m.nextFree(b) {
		Log.LLog(lev, 0, prefix, "   %3d.    block=%#x size=%d\n",
			j, b, m.blockSize(b))
		j++
	}
	if j != m.freeNo {
		BUG("fl_status: different free block count: %d != %d\n",
			j, m.freeNo)
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}

// printBlock logs a block header and footer (CheckHeap verbose mode).
func (m *MM) printBlock(b uint64) {
	const lev = slog.LDBG
	const prefix = "fl_check "

	h := m.get(b)
	if tagSize(h) == 0 {
		Log.LLog(lev, 0, prefix, "%#x: EOL\n", b)
		return
	}
	f := m.get(b + tagSize(h) - FooterSize)
	Log.LLog(lev, 0, prefix, "%#x: header: [%d:%c] footer: [%d:%c]\n",
		b, tagSize(h), allocChar(h), tagSize(f), allocChar(f))
}

func allocChar(tag uint64) byte {
	if tagAlloc(tag) {
		return 'a'
	}
	return 'f'
}
