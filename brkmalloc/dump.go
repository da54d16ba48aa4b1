// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package brkmalloc

import (
	"fmt"
	"io"

	"github.com/intuitivelabs/slog"
)

// dump writes the allocator status and (unless short) the whole block
// directory using out.
func (bm *BrkMalloc) dump(out func(f string, a ...interface{}), short bool) {
	out("(%p):\n", bm)
	if bm == nil {
		return
	}
	out("heap size= %d, top= %#x, extends= %d\n",
		bm.used.Size, bm.ext.Break(), bm.used.Extends)
	out("used= %d, used+overhead=%d, free=%d\n",
		bm.used.Used, bm.used.RealUsed, bm.Available())
	out("max used (+overhead)= %d\n", bm.used.MaxRealUsed)
	if short {
		return
	}
	out("dumping all blocks:\n")
	i := 0
	for b := bm.first; b != nil; b = b.nextBlock() {
		out("   %3d. header=%#x capacity=%d next=%#x free=%t address=%p\n",
			i, b.header(), b.capacity, b.next, b.free, b.addr())
		i++
	}
	out("-----------------------------\n")
}

// DumpDirectory will write the current status and every block header
// in the log (at debug level).
func (bm *BrkMalloc) DumpDirectory() {
	const lev = slog.LDBG
	const prefix = "bm_status "

	if !Log.L(lev) {
		return
	}
	bm.dump(func(f string, a ...interface{}) {
		Log.LLog(lev, 0, prefix, f, a...)
	}, bm != nil && bm.options&BMDumpStatsShort != 0)
}

// Fdump writes the current status and every block header to w.
// It returns the first write error.
func (bm *BrkMalloc) Fdump(w io.Writer) error {
	var err error
	bm.dump(func(f string, a ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, f, a...)
		}
	}, false)
	return err
}
