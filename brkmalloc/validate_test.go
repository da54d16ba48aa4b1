// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package brkmalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDetectsCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(bm *BrkMalloc, b *blockHeader)
		msg     string
	}{
		{
			name:    "unaligned capacity",
			corrupt: func(bm *BrkMalloc, b *blockHeader) { b.capacity += 3 },
			msg:     "unaligned capacity",
		},
		{
			name:    "overrun next header",
			corrupt: func(bm *BrkMalloc, b *blockHeader) { b.capacity += RoundTo },
			msg:     "is followed by",
		},
		{
			name:    "used stats",
			corrupt: func(bm *BrkMalloc, b *blockHeader) { b.free = true },
			msg:     "used blocks sum",
		},
		{
			name: "truncated directory",
			corrupt: func(bm *BrkMalloc, b *blockHeader) {
				b.nextBlock().next = 0
			},
			msg: "region top",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bm, _ := newTestMalloc(t, 4096, BMDefaultOptions)
			p := bm.Malloc(32)
			require.NotNil(t, bm.Malloc(32))
			require.NotNil(t, bm.Malloc(32))
			require.NoError(t, bm.Validate())

			tc.corrupt(bm, headerOf(p))
			err := bm.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestValidateStatsMismatch(t *testing.T) {
	bm, _ := newTestMalloc(t, 4096, BMDefaultOptions)
	require.NotNil(t, bm.Malloc(32))
	bm.used.Size += RoundTo
	err := bm.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocks cover")
}

func TestWalkStops(t *testing.T) {
	bm, _ := newTestMalloc(t, 4096, BMDefaultOptions)
	for i := 0; i < 5; i++ {
		require.NotNil(t, bm.Malloc(8))
	}
	n := 0
	bm.Walk(func(BlockInfo) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)

	prev := BlockInfo{}
	bm.Walk(func(b BlockInfo) bool {
		if prev.Header != 0 {
			assert.Equal(t, prev.Next, b.Header)
			assert.Greater(t, b.Header, prev.Header, "address order")
		}
		assert.Equal(t, b.Header+uintptr(HeaderSize), b.Addr)
		prev = b
		return true
	})
	assert.Zero(t, prev.Next)
}
