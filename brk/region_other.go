// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !unix

package brk

// reserve falls back to a Go byte slice that is never resized or
// reallocated, so addresses inside it stay stable.
func reserve(size uintptr) ([]byte, error) {
	return make([]byte, size), nil
}

func release(mem []byte) error {
	return nil
}
