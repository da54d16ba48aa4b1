// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux

package brk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSysBrk(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping program break test in short mode")
	}
	var s SysBrk
	old := s.Break()
	require.NotZero(t, old)

	p, err := s.Sbrk(0)
	require.NoError(t, err)
	assert.Equal(t, old, uintptr(p))

	p, err = s.Sbrk(64)
	require.NoError(t, err)
	assert.Equal(t, old, uintptr(p))
	assert.GreaterOrEqual(t, s.Break(), old+64)
}
