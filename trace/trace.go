// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package trace reads allocation trace files and replays them against a
// flmalloc heap, checking the results.
//
// A trace starts with four numbers (suggested heap size, number of ids,
// number of operations, weight) followed by one operation per line:
//
//	a <id> <size>	allocate size bytes for id
//	r <id> <size>	reallocate id to size bytes
//	f <id>		free id
package trace

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// OpKind is the type of a trace operation.
type OpKind byte

const (
	OpAlloc   OpKind = 'a'
	OpRealloc OpKind = 'r'
	OpFree    OpKind = 'f'
)

// Op is one trace operation.
type Op struct {
	Kind OpKind
	ID   int
	Size uint64 // unused for OpFree
}

// Trace is a parsed trace file.
type Trace struct {
	Name          string
	SuggestedHeap uint64
	NumIDs        int
	NumOps        int
	Weight        int
	Ops           []Op
}

// ErrSyntax is returned for malformed trace files.
var ErrSyntax = errors.New("trace: syntax error")

// ParseFile reads the trace file at path.
func ParseFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tr, err := Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	tr.Name = path
	return tr, nil
}

// Parse reads a trace. Blank lines and lines starting with '#' are
// ignored.
func Parse(r io.Reader) (*Trace, error) {
	tr := &Trace{}
	sc := bufio.NewScanner(r)
	line := 0
	var header []int64
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || s[0] == '#' {
			continue
		}
		if len(header) < 4 {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil || v < 0 {
				return nil, errors.Wrapf(ErrSyntax,
					"line %d: bad header value %q", line, s)
			}
			header = append(header, v)
			continue
		}
		op, err := parseOp(s)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if op.ID >= int(header[1]) {
			return nil, errors.Wrapf(ErrSyntax,
				"line %d: id %d out of range (%d ids)", line, op.ID, header[1])
		}
		tr.Ops = append(tr.Ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(header) < 4 {
		return nil, errors.Wrap(ErrSyntax, "truncated header")
	}
	tr.SuggestedHeap = uint64(header[0])
	tr.NumIDs = int(header[1])
	tr.NumOps = int(header[2])
	tr.Weight = int(header[3])
	if len(tr.Ops) != tr.NumOps {
		return nil, errors.Wrapf(ErrSyntax, "header says %d ops, found %d",
			tr.NumOps, len(tr.Ops))
	}
	return tr, nil
}

func parseOp(s string) (Op, error) {
	fields := strings.Fields(s)
	var op Op
	if len(fields[0]) != 1 {
		return op, errors.Wrapf(ErrSyntax, "bad operation %q", fields[0])
	}
	op.Kind = OpKind(fields[0][0])
	want := 3
	switch op.Kind {
	case OpAlloc, OpRealloc:
	case OpFree:
		want = 2
	default:
		return op, errors.Wrapf(ErrSyntax, "bad operation %q", fields[0])
	}
	if len(fields) != want {
		return op, errors.Wrapf(ErrSyntax, "%q: expected %d fields", s, want)
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil || id < 0 {
		return op, errors.Wrapf(ErrSyntax, "bad id %q", fields[1])
	}
	op.ID = id
	if want == 3 {
		if op.Size, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
			return op, errors.Wrapf(ErrSyntax, "bad size %q", fields[2])
		}
	}
	return op, nil
}
