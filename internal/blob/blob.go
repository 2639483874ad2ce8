// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package blob stores immutable UTF-8 strings in an arena.
package blob

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/glimpse/internal/arena"
	"github.com/bpowers/glimpse/internal/unsafestring"
)

// Blob is a handle to the bytes of a string.  The empty string is stored as
// a null handle and takes no space.
type Blob struct {
	H arena.Handle[byte]
}

// New copies s into the arena.
func New(a *arena.Arena, s string) (Blob, error) {
	if s == "" {
		return Blob{H: arena.Null[byte]()}, nil
	}
	o, err := arena.Alloc(a, unsafestring.ToBytes(s))
	if err != nil {
		return Blob{}, fmt.Errorf("arena.Alloc(%d bytes): %w", len(s), err)
	}
	return Blob{H: o.Storable()}, nil
}

// Load copies the string out of the arena.  Bytes that aren't valid UTF-8
// mean the handle doesn't point at a blob.
func (b Blob) Load(a *arena.Arena) string {
	if !b.H.Valid() {
		return ""
	}
	bb := arena.Borrow(a, b.H)
	s := string(bb.Items)
	bb.Release()
	if !utf8.ValidString(s) {
		panic(fmt.Errorf("invariant broken: blob %s is not valid UTF-8", b.H))
	}
	return s
}

// Len returns the length of the string in bytes.
func (b Blob) Len() int {
	if !b.H.Valid() {
		return 0
	}
	return int(b.H.Len)
}

// Free releases the blob's bytes.  Freeing the empty blob is a no-op.
func (b Blob) Free(a *arena.Arena) {
	if !b.H.Valid() {
		return
	}
	o := b.H.Own()
	arena.Free(a, &o)
}

func (b Blob) withBytes(a *arena.Arena, f func([]byte)) {
	if !b.H.Valid() {
		f(nil)
		return
	}
	bb := arena.Borrow(a, b.H)
	defer bb.Release()
	f(bb.Items)
}

// HashWith hashes the blob's bytes.
func (b Blob) HashWith(a *arena.Arena) uint64 {
	var h uint64
	b.withBytes(a, func(buf []byte) {
		h = farm.Hash64(buf)
	})
	return h
}

// EqualTo compares the contents of two blobs.
func (b Blob) EqualTo(a *arena.Arena, other Blob) bool {
	if b.H == other.H {
		return true
	}
	if b.Len() != other.Len() {
		return false
	}
	eq := false
	b.withBytes(a, func(x []byte) {
		other.withBytes(a, func(y []byte) {
			eq = bytes.Equal(x, y)
		})
	})
	return eq
}

// String is a Go string used to look up Blob keys without copying it into
// the arena first.  It hashes identically to a Blob with the same contents.
type String string

// HashWith hashes the string's bytes.
func (s String) HashWith(*arena.Arena) uint64 {
	return farm.Hash64(unsafestring.ToBytes(string(s)))
}

// EqualTo compares s to the contents of a stored blob.
func (s String) EqualTo(a *arena.Arena, other Blob) bool {
	if len(s) != other.Len() {
		return false
	}
	eq := false
	other.withBytes(a, func(buf []byte) {
		eq = string(buf) == string(s)
	})
	return eq
}
