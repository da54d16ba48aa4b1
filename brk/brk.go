// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package brk provides program break style memory extenders.
//
// An Extender hands out memory the way sbrk(2) does: every successful
// extension returns a span contiguous with all the previously granted
// ones and the memory is never given back.
package brk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

const NAME = "brk"

// ErrNoMem is returned (wrapped) when the break cannot be extended.
var ErrNoMem = errors.New("brk: out of memory")

// Extender is the program break primitive.
type Extender interface {
	// Break returns the current break address.
	Break() uintptr
	// Sbrk moves the break incr bytes up and returns the old break,
	// which is the start of the newly granted span.
	// On failure it returns nil and an error wrapping ErrNoMem and the
	// break is left unchanged.
	Sbrk(incr uintptr) (unsafe.Pointer, error)
}
