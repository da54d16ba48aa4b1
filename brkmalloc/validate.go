// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package brkmalloc

import (
	"github.com/cockroachdb/errors"
)

// Walk calls fn for each block in address order, until fn returns
// false.
func (bm *BrkMalloc) Walk(fn func(BlockInfo) bool) {
	for b := bm.first; b != nil; b = b.nextBlock() {
		if !fn(b.info()) {
			return
		}
	}
}

// Validate checks the block directory consistency: blocks sorted by
// address and covering the whole region with no gaps, aligned
// capacities, the last block ending at the region top and the usage
// stats matching the directory.
func (bm *BrkMalloc) Validate() error {
	if bm.first == nil {
		if bm.used.Size != 0 || bm.used.RealUsed != 0 {
			return errors.Newf("empty directory, but stats report size %d,"+
				" used+overhead %d", bm.used.Size, bm.used.RealUsed)
		}
		return nil
	}
	if bm.first.header()%RoundTo != 0 {
		return errors.Newf("first header %#x is not aligned", bm.first.header())
	}
	var size, used, headers uint64
	// bounds the walk in case of a corrupted (looping) list
	maxBlocks := bm.used.Size/uint64(headerSize) + 1
	var last *blockHeader
	for b := bm.first; b != nil; b = b.nextBlock() {
		if headers >= maxBlocks {
			return errors.Newf("more then %d blocks in a %d bytes region,"+
				" the directory is corrupted", maxBlocks, bm.used.Size)
		}
		if b.capacity&^RoundToMask != 0 {
			return errors.Newf("block %d at %#x has unaligned capacity %d",
				headers, b.header(), b.capacity)
		}
		if b.next != 0 && b.next != b.end() {
			return errors.Newf("block %d at %#x (capacity %d) is followed by"+
				" %#x, expected %#x", headers, b.header(), b.capacity,
				b.next, b.end())
		}
		size += uint64(headerSize) + b.capacity
		if !b.free {
			used += b.capacity
		}
		headers++
		last = b
	}
	if top := bm.ext.Break(); last.end() != top {
		return errors.Newf("last block at %#x ends at %#x, but the region"+
			" top is %#x", last.header(), last.end(), top)
	}
	if size != bm.used.Size {
		return errors.Newf("blocks cover %d bytes, but the stats report %d",
			size, bm.used.Size)
	}
	if used != bm.used.Used {
		return errors.Newf("used blocks sum to %d bytes, but the stats"+
			" report %d", used, bm.used.Used)
	}
	if realUsed := used + headers*uint64(headerSize); realUsed != bm.used.RealUsed {
		return errors.Newf("used+overhead is %d (%d headers), but the stats"+
			" report %d", realUsed, headers, bm.used.RealUsed)
	}
	return nil
}
