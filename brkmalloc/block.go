// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package brkmalloc

// block header, stored in the managed region right before the payload
type blockHeader struct {
	capacity uint64  // usable payload size, always a RoundTo multiple
	next     uintptr // address of the next header (higher address), 0 at tail
	free     bool
}

// BlockInfo describes one directory entry (see Walk).
type BlockInfo struct {
	Header   uintptr // header address
	Addr     uintptr // payload address
	Capacity uint64  // usable payload bytes
	Next     uintptr // next header address or 0
	Free     bool
}

func (b *blockHeader) info() BlockInfo {
	return BlockInfo{
		Header:   b.header(),
		Addr:     uintptr(b.addr()),
		Capacity: b.capacity,
		Next:     b.next,
		Free:     b.free,
	}
}

// debug is a helper function that does sanity checks on a block
// header. On failure it panics (corrupted).
func (b *blockHeader) debug(bm *BrkMalloc) {
	if b.capacity&^RoundToMask != 0 {
		bm.DumpDirectory()
		PANIC("BUG: block %#x (address %p) has unaligned capacity %d\n",
			b.header(), b.addr(), b.capacity)
	}
	if b.next != 0 && b.next != b.end() {
		bm.DumpDirectory()
		PANIC("BUG: block %#x (address %p, capacity %d) next header %#x"+
			" does not follow it (expected %#x)\n",
			b.header(), b.addr(), b.capacity, b.next, b.end())
	}
}
