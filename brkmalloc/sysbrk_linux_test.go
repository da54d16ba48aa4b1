// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux

package brkmalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/brk"
)

func TestSysBrkAllocator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping program break test in short mode")
	}
	bm := New(brk.SysBrk{}, BMDefaultOptions)
	require.NotNil(t, bm)

	p := bm.Malloc(100)
	require.NotNil(t, p)
	assert.Zero(t, uintptr(p)%RoundTo)
	fill(p, 100, 0x42)
	q := bm.Realloc(p, 300)
	require.NotNil(t, q)
	requireFilled(t, q, 100, 0x42)
	bm.Free(q)

	r := bm.Calloc(10, 10)
	require.NotNil(t, r)
	requireFilled(t, r, 100, 0)
	bm.Free(r)
	assert.True(t, bm.Owns(r))
	assert.Zero(t, bm.MUsage().Used)
}
