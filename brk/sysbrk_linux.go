// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux

package brk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// SysBrk is the real process program break, moved with brk(2).
// The Go runtime does not use the break, but a C allocator linked in
// through cgo does: never mix SysBrk with cgo code calling malloc.
type SysBrk struct{}

func sysBrk(addr uintptr) uintptr {
	r, _, _ := unix.RawSyscall(unix.SYS_BRK, addr, 0, 0)
	return r
}

// Break returns the current program break.
func (SysBrk) Break() uintptr {
	return sysBrk(0)
}

// Sbrk extends the program break by incr bytes, see Extender.
func (s SysBrk) Sbrk(incr uintptr) (unsafe.Pointer, error) {
	old := s.Break()
	if incr == 0 {
		return unsafe.Pointer(old), nil
	}
	want := old + incr
	if want < old {
		return nil, errors.Wrapf(ErrNoMem, "brk: sbrk(%d) overflows", incr)
	}
	// on failure the kernel returns the unchanged break
	if got := sysBrk(want); got < want {
		return nil, errors.Wrapf(ErrNoMem, "brk: brk(%#x) refused", want)
	}
	return unsafe.Pointer(old), nil
}
