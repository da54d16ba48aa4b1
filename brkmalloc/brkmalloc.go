// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package brkmalloc provides a simple first-fit malloc library working
// on top of a program break (sbrk(2) like) memory extender.
//
// All the bookkeeping lives inside the managed memory: each block is
// preceded by a small header and the headers form a singly linked list
// (the block directory) sorted by address. Free blocks are found with
// a first-fit search which also lazily joins adjacent free blocks and
// big blocks are split on allocation. The managed region only grows.
package brkmalloc

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/intuitivelabs/mallocs/brk"
)

const NAME = "brkmalloc"

// size we round to, must be 2^n. Every returned pointer and every block
// capacity is a multiple of it.
const (
	RoundTo     = 8
	RoundToMask = ^(uint64(RoundTo) - 1)
)

var (
	// ErrInvalidArg is returned for zero size requests.
	ErrInvalidArg = errors.New("brkmalloc: invalid argument")
	// ErrNoMem is returned when the region could not be extended.
	ErrNoMem = errors.New("brkmalloc: out of memory")
)

// MUsed contains the brkmalloc memory usage statistics.
type MUsed struct {
	Size        uint64 // total managed size (headers + payloads)
	Used        uint64 // total size allocated
	RealUsed    uint64 // real size = Used + malloc overhead
	MaxRealUsed uint64
	Extends     uint64 // successful region extensions
}

// Options encodes various configuration flags for BrkMalloc.
type Options uint32

const (
	BMDebug          Options = 1 << iota
	BMShrinkSplit            // split the free rest when Realloc shrinks
	BMValidate               // validate the directory after each op (expensive)
	BMDumpStatsShort         // dump status in log, short version
	BMDefaultOptions = BMShrinkSplit
)

// BrkMalloc is the allocator state: the block directory and the memory
// extender the managed region is grown with.
// The ...Unsafe methods are not safe for concurrent use, the other
// ones serialize on a single lock.
type BrkMalloc struct {
	options Options
	used    MUsed // statistics

	first *blockHeader // directory root, nil until the first alloc
	ext   brk.Extender

	bigLock sync.Mutex
}

// Debug returns true if malloc debugging is turned on.
func (bm *BrkMalloc) Debug() bool { return bm.options&BMDebug != 0 }

// ShrinkSplit returns true if shrinking reallocs free the unused rest.
func (bm *BrkMalloc) ShrinkSplit() bool { return bm.options&BMShrinkSplit != 0 }

// Validating returns true if the directory is checked after each op.
func (bm *BrkMalloc) Validating() bool { return bm.options&BMValidate != 0 }

func (bm *BrkMalloc) lock() {
	bm.bigLock.Lock()
}
func (bm *BrkMalloc) unlock() {
	bm.bigLock.Unlock()
}

// addUsed increases the "used" stats with the given size.
func (bm *BrkMalloc) addUsed(size uint64) {
	bm.used.Used += size
	bm.used.RealUsed += size
	if bm.used.MaxRealUsed < bm.used.RealUsed {
		bm.used.MaxRealUsed = bm.used.RealUsed
	}
}

// subUsed subtracts size from the "used" stats.
func (bm *BrkMalloc) subUsed(size uint64) {
	bm.used.Used -= size
	bm.used.RealUsed -= size
}

// addOverhead adds a block header overhead to the internal
// bookkeeping stats.
func (bm *BrkMalloc) addOverhead(hOverhead uintptr) {
	bm.used.RealUsed += uint64(hOverhead)
	if bm.used.MaxRealUsed < bm.used.RealUsed {
		bm.used.MaxRealUsed = bm.used.RealUsed
	}
}

// subOverhead subtracts a block header overhead from the internal
// bookkeeping stats.
func (bm *BrkMalloc) subOverhead(hOverhead uintptr) {
	bm.used.RealUsed -= uint64(hOverhead)
}

// MUsage returns current memory usage values.
func (bm *BrkMalloc) MUsage() MUsed {
	return bm.used
}

// Available returns how many bytes of the already managed region are
// free (block payloads only). More memory can still be obtained by
// extending the region.
func (bm *BrkMalloc) Available() uint64 {
	return bm.used.Size - bm.used.RealUsed
}

// Top returns the current top of the managed region (the break).
func (bm *BrkMalloc) Top() uintptr {
	return bm.ext.Break()
}

// Owns returns whether or not p points inside the managed region.
func (bm *BrkMalloc) Owns(p unsafe.Pointer) bool {
	if bm.first == nil {
		return false
	}
	return uintptr(p) >= uintptr(bm.first.addr()) && uintptr(p) < bm.ext.Break()
}

// Capacity returns the usable size of the block p points to, which can
// be bigger then the requested size.
// p must have been returned by this allocator and not freed.
func (bm *BrkMalloc) Capacity(p unsafe.Pointer) uint64 {
	if p == nil {
		return 0
	}
	return headerOf(p).capacity
}

// Init initialises a brkmalloc allocator that will grow its region
// using ext.
// It returns true on success and false otherwise.
func (bm *BrkMalloc) Init(ext brk.Extender, options Options) bool {
	*bm = BrkMalloc{} // zero, in case of re-init
	if ext == nil {
		return false
	}
	bm.ext = ext
	bm.options = options
	return true
}

// New returns a new initialised allocator or nil on error.
func New(ext brk.Extender, options Options) *BrkMalloc {
	bm := &BrkMalloc{}
	if !bm.Init(ext, options) {
		return nil
	}
	return bm
}

// roundUp rounds up a size to the next RoundTo multiple.
func roundUp(s uint64) uint64 {
	return (s + (RoundTo - 1)) & RoundToMask
}

// extendRegion grows the managed region by size bytes and returns the
// start of the new space. size must be a multiple of RoundTo.
// If the current break is not aligned, it is first moved to the next
// RoundTo multiple (this can happen only once, all the following
// extensions are by aligned amounts).
func (bm *BrkMalloc) extendRegion(size uint64) (unsafe.Pointer, error) {
	if uint64(uintptr(size)) != size {
		return nil, errors.Wrapf(ErrNoMem, "extend region by %d", size)
	}
	cur := bm.ext.Break()
	if pad := uintptr(roundUp(uint64(cur))) - cur; pad != 0 {
		if _, err := bm.ext.Sbrk(pad); err != nil {
			return nil, errors.Mark(
				errors.Wrapf(err, "align break %#x", cur), ErrNoMem)
		}
		if bm.Debug() {
			DBG("break %#x aligned (+%d)\n", cur, pad)
		}
	}
	p, err := bm.ext.Sbrk(uintptr(size))
	if err != nil {
		return nil, errors.Mark(
			errors.Wrapf(err, "extend region by %d", size), ErrNoMem)
	}
	bm.used.Extends++
	return p, nil
}

// newBlock extends the region with a used block of the given capacity.
// size must be already rounded.
func (bm *BrkMalloc) newBlock(size uint64) (*blockHeader, error) {
	if size > ^uint64(0)-uint64(headerSize) {
		return nil, errors.Wrapf(ErrNoMem, "block size %d", size)
	}
	p, err := bm.extendRegion(size + uint64(headerSize))
	if err != nil {
		return nil, err
	}
	b := headerAt(p)
	b.capacity = size
	b.next = 0
	b.free = false
	bm.used.Size += size + uint64(headerSize)
	bm.addOverhead(headerSize)
	bm.addUsed(size)
	return b, nil
}

// tailOf returns the last block in the directory (linear walk).
func (bm *BrkMalloc) tailOf() *blockHeader {
	b := bm.first
	if b == nil {
		return nil
	}
	for n := b.nextBlock(); n != nil; n = b.nextBlock() {
		b = n
	}
	return b
}

// joinNext merges the block following b into b. Both must be free.
func (bm *BrkMalloc) joinNext(b *blockHeader) {
	n := b.nextBlock()
	if bm.Debug() {
		n.debug(bm)
		DBG("join %#x (%d) + %#x (%d)\n",
			b.header(), b.capacity, n.header(), n.capacity)
	}
	b.capacity += n.capacity + uint64(headerSize)
	b.next = n.next
	bm.subOverhead(headerSize)
}

// findFree returns the first free block (in address order) with a
// capacity of at least size, or nil if there is none.
// A free block too small for the request is joined with its following
// block if that one is free too, after which the search is resumed
// from the joined block (every block before it was already rejected
// and none of them changed).
func (bm *BrkMalloc) findFree(size uint64) *blockHeader {
	b := bm.first
	for b != nil {
		if bm.Debug() {
			b.debug(bm)
		}
		if b.free {
			if b.capacity >= size {
				return b
			}
			if n := b.nextBlock(); n != nil && n.free {
				bm.joinNext(b)
				continue // retry the bigger block
			}
		}
		b = b.nextBlock()
	}
	return nil
}

// splitBlock splits b into a block of exactly size bytes and a free
// rest block inserted after it.
// size must be a multiple of RoundTo. Nothing is done if the rest
// would not have room for a header and a non-empty payload.
// It returns true on success and false if the block could not be
// split. The caller is responsible for the b "used" stats.
func (bm *BrkMalloc) splitBlock(b *blockHeader, size uint64) bool {
	if b.capacity <= size || b.capacity-size <= uint64(headerSize) {
		return false
	}
	rest := headerAt(unsafe.Add(b.addr(), size))
	rest.capacity = b.capacity - size - uint64(headerSize)
	rest.free = true
	rest.next = b.next
	b.capacity = size
	b.setNext(rest)
	bm.addOverhead(headerSize)
	return true
}

// malloc is the error returning version of MallocUnsafe.
func (bm *BrkMalloc) malloc(size uint64) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, ErrInvalidArg
	}
	if size > RoundToMask {
		return nil, errors.Wrapf(ErrNoMem, "size %d", size)
	}
	size = roundUp(size) // size must be a multiple of RoundTo
	if bm.first != nil {
		if b := bm.findFree(size); b != nil {
			b.free = false
			bm.splitBlock(b, size)
			bm.addUsed(b.capacity)
			return b.addr(), nil
		}
	}
	// empty directory or too fragmented => grow
	b, err := bm.newBlock(size)
	if err != nil {
		return nil, err
	}
	// the new block is at the top of the region, so it is also the
	// last one in address order
	if t := bm.tailOf(); t != nil {
		t.setNext(b)
	} else {
		bm.first = b
	}
	return b.addr(), nil
}

// free is the implementation of FreeUnsafe.
func (bm *BrkMalloc) free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	b := headerOf(p)
	if bm.Debug() {
		b.debug(bm)
	}
	// adjacent free blocks are joined lazily, by findFree
	b.free = true
	bm.subUsed(b.capacity)
}

// realloc is the error returning version of ReallocUnsafe.
// On error p is left untouched.
func (bm *BrkMalloc) realloc(p unsafe.Pointer, size uint64) (unsafe.Pointer, error) {
	if p == nil {
		return bm.malloc(size)
	}
	if size == 0 {
		return nil, ErrInvalidArg
	}
	if size > RoundToMask {
		return nil, errors.Wrapf(ErrNoMem, "size %d", size)
	}
	size = roundUp(size)
	b := headerOf(p)
	if bm.Debug() {
		b.debug(bm)
	}
	if b.capacity > size {
		// shrink
		origSize := b.capacity
		if bm.ShrinkSplit() && bm.splitBlock(b, size) {
			bm.subUsed(origSize - b.capacity)
		}
	} else if b.capacity < size {
		// grow: always a new block
		np, err := bm.malloc(size)
		if err != nil {
			return nil, err
		}
		copy(Bytes(np, b.capacity), Bytes(p, b.capacity))
		b.free = true
		bm.subUsed(b.capacity)
		p = np
	} // else roundUp(size) == b.capacity => do nothing
	return p, nil
}

// calloc is the error returning version of CallocUnsafe.
func (bm *BrkMalloc) calloc(n, size uint64) (unsafe.Pointer, error) {
	total := n * size // not checked for overflow
	p, err := bm.malloc(total)
	if err != nil {
		return nil, err
	}
	clear(Bytes(p, total))
	return p, nil
}

// failed logs a failed operation.
func (bm *BrkMalloc) failed(op string, err error) {
	if errors.Is(err, ErrInvalidArg) {
		if bm.Debug() {
			DBG("%s: %v\n", op, err)
		}
		return
	}
	if ERRon() {
		ERR("%s: %v\n", op, err)
	}
}

// check validates the directory if BMValidate is set.
func (bm *BrkMalloc) check(op string) {
	if !bm.Validating() {
		return
	}
	if err := bm.Validate(); err != nil {
		BUG("after %s: %v\n", op, err)
	}
}

// MallocUnsafe is the unsafe (not locking) Malloc version.
// For more details see Malloc.
func (bm *BrkMalloc) MallocUnsafe(size uint64) unsafe.Pointer {
	p, err := bm.malloc(size)
	if err != nil {
		bm.failed("malloc", errors.Wrapf(err, "malloc(%d)", size))
		return nil
	}
	if bm.Debug() {
		DBG("malloc(%d) = %p\n", size, p)
	}
	bm.check("malloc")
	return p
}

// FreeUnsafe releases the memory associated with p
// (p must have been previously allocated with MallocUnsafe).
// This is the unsafe non-locking version (see also Free).
func (bm *BrkMalloc) FreeUnsafe(p unsafe.Pointer) {
	if p == nil {
		if bm.Debug() {
			DBG("free(0) called\n")
		}
		return
	}
	bm.free(p)
	if bm.Debug() {
		DBG("free(%p)\n", p)
	}
	bm.check("free")
}

// ReallocUnsafe tries to grow or shrink a previously malloc allocated
// pointer to a new size.
// This is the unsafe non-locking version. For more details see Realloc.
func (bm *BrkMalloc) ReallocUnsafe(p unsafe.Pointer, size uint64) unsafe.Pointer {
	np, err := bm.realloc(p, size)
	if err != nil {
		bm.failed("realloc", errors.Wrapf(err, "realloc(%p, %d)", p, size))
		return nil
	}
	if bm.Debug() {
		DBG("realloc(%p, %d) = %p\n", p, size, np)
	}
	bm.check("realloc")
	return np
}

// CallocUnsafe allocates n*size zeroed bytes.
// This is the unsafe non-locking version. For more details see Calloc.
func (bm *BrkMalloc) CallocUnsafe(n, size uint64) unsafe.Pointer {
	p, err := bm.calloc(n, size)
	if err != nil {
		bm.failed("calloc", errors.Wrapf(err, "calloc(%d, %d)", n, size))
		return nil
	}
	if bm.Debug() {
		DBG("calloc(%d, %d) = %p\n", n, size, p)
	}
	bm.check("calloc")
	return p
}

// Malloc allocates size bytes of memory and returns a pointer to it.
// The returned pointer is always a multiple of RoundTo and it can be
// used up to Capacity(p) bytes.
// On failure (size 0 or out of memory) it return nil.
func (bm *BrkMalloc) Malloc(size uint64) unsafe.Pointer {
	bm.lock()
	p := bm.MallocUnsafe(size)
	bm.unlock()
	return p
}

// Free releases the memory associated with p (p must have been previously
// allocated with Malloc). Free(nil) does nothing.
// Freeing the same pointer twice or a foreign pointer is not detected
// and corrupts the allocator.
func (bm *BrkMalloc) Free(p unsafe.Pointer) {
	bm.lock()
	bm.FreeUnsafe(p)
	bm.unlock()
}

// Realloc tries to grow or shrink a previously Malloc allocated pointer to
// a new size.
// It returns either the old value, when the size change was possible in-place,
// or a new value. In the new value case, the old contents is always
// copied in the new location and the old pointer is Free()d.
// Realloc(nil, size) is Malloc(size). A zero size is an error.
// On error it will return nil, but it will _not_ free the original
// pointer p.
func (bm *BrkMalloc) Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	bm.lock()
	res := bm.ReallocUnsafe(p, size)
	bm.unlock()
	return res
}

// Calloc allocates memory for n elements of size bytes each and zeroes
// it. n*size is not checked for overflow.
// On failure it returns nil.
func (bm *BrkMalloc) Calloc(n, size uint64) unsafe.Pointer {
	bm.lock()
	p := bm.CallocUnsafe(n, size)
	bm.unlock()
	return p
}
