// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package trace

import (
	"github.com/aclements/go-moremath/stats"
	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/intuitivelabs/mallocs/flmalloc"
)

// ErrReplay is matched by every replay check failure.
var ErrReplay = errors.New("trace: replay check failed")

// Options controls the checks done by Replay.
type Options struct {
	CheckEvery bool // run CheckHeap after every operation
	Verbose    bool // dump the heap blocks in the final CheckHeap
}

// Result summarises a replay.
type Result struct {
	Name        string  `json:"name"`
	Ops         int     `json:"ops"`
	PeakPayload uint64  `json:"peak_payload"`
	HeapSize    uint64  `json:"heap_size"`
	Utilization float64 `json:"utilization"`
	FreeBlocks  int     `json:"free_blocks"`
	FreeMean    float64 `json:"free_mean"`
	FreeStdDev  float64 `json:"free_stddev"`
	FreeMax     float64 `json:"free_max"`
}

// span is a live payload range [lo, hi).
type span struct {
	lo, hi uint64
	id     int
}

func spanLess(a, b span) bool { return a.lo < b.lo }

type entry struct {
	p    flmalloc.Ptr
	size uint64
}

type replayer struct {
	mm     *flmalloc.MM
	live   map[int]entry
	ranges *btree.BTreeG[span]

	payload uint64 // live requested bytes
	peak    uint64
}

// Replay runs the trace operations on mm. Every allocation is checked for
// alignment, for lying inside the heap and for not overlapping any live
// block; payloads are filled with an id dependent pattern that must
// survive until the block is freed or reallocated. The heap must pass
// CheckHeap at the end.
func Replay(mm *flmalloc.MM, tr *Trace, opts Options) (res *Result, err error) {
	r := &replayer{
		mm:     mm,
		live:   make(map[int]entry),
		ranges: btree.NewG[span](8, spanLess),
	}
	i := 0
	defer func() {
		// Realloc panics when the fresh allocation fails
		if v := recover(); v != nil {
			res = nil
			err = errors.Wrapf(ErrReplay, "op %d: %v", i, v)
		}
	}()
	for ; i < len(tr.Ops); i++ {
		op := tr.Ops[i]
		if err := r.do(op); err != nil {
			return nil, errors.Wrapf(err, "op %d (%c %d)", i, op.Kind, op.ID)
		}
		if opts.CheckEvery {
			if errs := mm.CheckHeap(false); len(errs) > 0 {
				return nil, errors.Wrapf(errs[0], "op %d: %d heap violations",
					i, len(errs))
			}
		}
	}
	if errs := mm.CheckHeap(opts.Verbose); len(errs) > 0 {
		return nil, errors.Wrapf(errs[0], "final check: %d heap violations",
			len(errs))
	}
	return r.result(tr), nil
}

func (r *replayer) do(op Op) error {
	switch op.Kind {
	case OpAlloc:
		if _, ok := r.live[op.ID]; ok {
			return errors.Wrap(ErrReplay, "id already allocated")
		}
		return r.add(op.ID, op.Size, r.mm.Malloc(op.Size))
	case OpFree:
		if _, ok := r.live[op.ID]; !ok {
			return errors.Wrap(ErrReplay, "free of an id not allocated")
		}
		e, err := r.remove(op.ID)
		if err != nil {
			return err
		}
		r.mm.Free(e.p)
		return nil
	case OpRealloc:
		old := entry{p: flmalloc.NullPtr}
		if _, ok := r.live[op.ID]; ok {
			var err error
			if old, err = r.remove(op.ID); err != nil {
				return err
			}
		}
		p := r.mm.Realloc(old.p, op.Size)
		keep := old.size
		if op.Size < keep {
			keep = op.Size
		}
		if p != flmalloc.NullPtr {
			if err := checkPattern(r.mm.Payload(p)[:keep], op.ID); err != nil {
				return errors.Wrap(err, "realloc did not preserve the payload")
			}
		}
		return r.add(op.ID, op.Size, p)
	}
	return errors.Wrapf(ErrSyntax, "bad operation %q", op.Kind)
}

func (r *replayer) add(id int, size uint64, p flmalloc.Ptr) error {
	if p == flmalloc.NullPtr {
		if size == 0 {
			return nil
		}
		return errors.Wrapf(ErrReplay, "allocation of %d bytes failed", size)
	}
	if uint64(p)%flmalloc.RoundTo != 0 {
		return errors.Wrapf(ErrReplay, "payload %#x not aligned", p)
	}
	if !r.mm.Owns(p) || r.mm.UsableSize(p) < size {
		return errors.Wrapf(ErrReplay, "payload %#x (%d bytes) not inside the heap",
			p, size)
	}
	s := span{lo: uint64(p), hi: uint64(p) + size, id: id}
	var err error
	r.ranges.DescendLessOrEqual(s, func(o span) bool {
		if o.hi > s.lo {
			err = overlap(s, o)
		}
		return false
	})
	r.ranges.AscendGreaterOrEqual(s, func(o span) bool {
		if o.lo < s.hi {
			err = overlap(s, o)
		}
		return false
	})
	if err != nil {
		return err
	}
	r.ranges.ReplaceOrInsert(s)
	r.live[id] = entry{p: p, size: size}
	fillPattern(r.mm.Payload(p)[:size], id)

	r.payload += size
	if r.payload > r.peak {
		r.peak = r.payload
	}
	return nil
}

// remove drops id from the live set after checking its payload.
func (r *replayer) remove(id int) (entry, error) {
	e := r.live[id]
	if err := checkPattern(r.mm.Payload(e.p)[:e.size], id); err != nil {
		return e, err
	}
	r.ranges.Delete(span{lo: uint64(e.p)})
	delete(r.live, id)
	r.payload -= e.size
	return e, nil
}

func (r *replayer) result(tr *Trace) *Result {
	res := &Result{
		Name:        tr.Name,
		Ops:         len(tr.Ops),
		PeakPayload: r.peak,
		HeapSize:    r.mm.HeapSize(),
	}
	if res.HeapSize > 0 {
		res.Utilization = float64(r.peak) / float64(res.HeapSize)
	}
	var sizes []float64
	r.mm.Walk(func(p flmalloc.Ptr, size uint64, allocated bool) bool {
		if !allocated {
			sizes = append(sizes, float64(size))
		}
		return true
	})
	res.FreeBlocks = len(sizes)
	if len(sizes) > 0 {
		s := stats.Sample{Xs: sizes}
		res.FreeMean = s.Mean()
		_, res.FreeMax = s.Bounds()
		if len(sizes) > 1 {
			res.FreeStdDev = s.StdDev()
		}
	}
	return res
}

func overlap(s, o span) error {
	return errors.Wrapf(ErrReplay, "id %d [%#x, %#x) overlaps id %d [%#x, %#x)",
		s.id, s.lo, s.hi, o.id, o.lo, o.hi)
}

func patternByte(id, i int) byte {
	return byte(id*131) ^ byte(i*7)
}

func fillPattern(b []byte, id int) {
	for i := range b {
		b[i] = patternByte(id, i)
	}
}

func checkPattern(b []byte, id int) error {
	for i := range b {
		if b[i] != patternByte(id, i) {
			return errors.Wrapf(ErrReplay, "id %d payload byte %d overwritten",
				id, i)
		}
	}
	return nil
}
