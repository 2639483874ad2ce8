// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package unsafestring views string contents as bytes without copying, so
// lookup keys can be hashed the same way as bytes stored in an arena.
package unsafestring

import "unsafe"

// ToBytes returns a byte slice referring to the contents of the input string.
// SAFETY: the returned byte slice must never be written to, only read.
func ToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
