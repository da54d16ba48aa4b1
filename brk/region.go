// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package brk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Region is a simulated program break over a fixed memory reservation
// living outside the Go heap (see NewRegion).
// The break starts at Base() and can grow up to Limit() bytes.
// A Region is not safe for concurrent use.
type Region struct {
	mem  []byte  // whole reservation, including the skew
	skew uintptr // offset of the initial break inside mem
	off  uintptr // current break offset inside mem
}

func newRegion(mem []byte, skew uintptr) *Region {
	return &Region{mem: mem, skew: skew, off: skew}
}

// Base returns the initial break address.
func (r *Region) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.mem))) + r.skew
}

// Limit returns the maximum number of bytes the break can grow.
func (r *Region) Limit() uintptr {
	return uintptr(len(r.mem)) - r.skew
}

// Used returns how many bytes were handed out so far.
func (r *Region) Used() uintptr {
	return r.off - r.skew
}

// Break returns the current break address.
func (r *Region) Break() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.mem))) + r.off
}

// Sbrk extends the break by incr bytes, see Extender.
func (r *Region) Sbrk(incr uintptr) (unsafe.Pointer, error) {
	if r.mem == nil {
		return nil, errors.Wrap(ErrNoMem, "brk: region released")
	}
	if left := uintptr(len(r.mem)) - r.off; incr > left {
		return nil, errors.Wrapf(ErrNoMem,
			"brk: sbrk(%d) exceeds region limit (%d bytes left)", incr, left)
	}
	old := unsafe.Add(unsafe.Pointer(unsafe.SliceData(r.mem)), r.off)
	r.off += incr
	return old, nil
}

// Release gives the reservation back to the system. Any pointer
// obtained from the region becomes invalid.
func (r *Region) Release() error {
	if r.mem == nil {
		return nil
	}
	err := release(r.mem)
	r.mem = nil
	r.off, r.skew = 0, 0
	return err
}

// NewRegion reserves limit+skew bytes and returns a Region whose break
// starts skew bytes into the reservation (a non-zero skew yields a
// misaligned initial break).
func NewRegion(limit, skew uintptr) (*Region, error) {
	if limit == 0 {
		return nil, errors.Newf("brk: invalid region limit %d", limit)
	}
	mem, err := reserve(limit + skew)
	if err != nil {
		return nil, errors.Wrapf(err, "brk: cannot reserve %d bytes", limit+skew)
	}
	return newRegion(mem, skew), nil
}
