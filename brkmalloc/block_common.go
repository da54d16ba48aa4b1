// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package brkmalloc

import (
	"unsafe"
)

const headerSize = unsafe.Sizeof(blockHeader{})

// HeaderSize is the per block bookkeeping overhead.
const HeaderSize = uint64(headerSize)

// payloads are aligned only if the header size is a RoundTo multiple
var _ = [1]struct{}{}[headerSize%RoundTo]

// header returns the block header address.
func (b *blockHeader) header() uintptr {
	return uintptr(unsafe.Pointer(b))
}

// addr returns the usable (payload) address for a block.
func (b *blockHeader) addr() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(b), headerSize)
}

// end returns the address right after the block payload.
func (b *blockHeader) end() uintptr {
	return b.header() + headerSize + uintptr(b.capacity)
}

// nextBlock returns the next block in the directory or nil.
func (b *blockHeader) nextBlock() *blockHeader {
	if b.next == 0 {
		return nil
	}
	return (*blockHeader)(unsafe.Pointer(b.next))
}

// setNext links n after b (n can be nil).
func (b *blockHeader) setNext(n *blockHeader) {
	b.next = uintptr(unsafe.Pointer(n))
}

// headerOf returns the header of the block whose payload starts at p.
// p must have been returned by the same allocator, it is not checked.
func headerOf(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Add(p, -int(headerSize)))
}

// headerAt overlays a block header at address a.
func headerAt(a unsafe.Pointer) *blockHeader {
	return (*blockHeader)(a)
}

// Bytes returns a byte slice view of n bytes starting at p.
func Bytes(p unsafe.Pointer, n uint64) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}
