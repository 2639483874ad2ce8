// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package arena

import (
	"fmt"
	"unsafe"
)

// Borrowed is a view of a handle's elements directly in the mapping.  Items
// is only valid until Release; the arena refuses to resize while any view
// is outstanding.
type Borrowed[T any] struct {
	Items []T

	a        *Arena
	released bool
}

// Release ends the borrow.  Releasing twice is a no-op.
func (b *Borrowed[T]) Release() {
	if b.released {
		return
	}
	b.released = true
	b.Items = nil
	b.a.borrows--
}

// Borrow returns a read view of h's elements.  Writing through Items of a
// read-only arena faults; use BorrowMut to write.
func Borrow[T any](a *Arena, h Handle[T]) *Borrowed[T] {
	items := view(a, h)
	a.borrows++
	return &Borrowed[T]{Items: items, a: a}
}

// BorrowMut is Borrow for writers.  It panics with ErrReadOnly on a
// read-only arena.
func BorrowMut[T any](a *Arena, h Handle[T]) *Borrowed[T] {
	if a.readOnly {
		panic(ErrReadOnly)
	}
	return Borrow(a, h)
}

// Get returns a copy of element i of h.
func Get[T any](a *Arena, h Handle[T], i ElementCount) T {
	b := Borrow(a, h)
	defer b.Release()
	return b.Items[i]
}

// Set overwrites element i of h.
func Set[T any](a *Arena, h Handle[T], i ElementCount, v T) {
	b := BorrowMut(a, h)
	defer b.Release()
	b.Items[i] = v
}

// Load copies all of h's elements out of the arena.
func Load[T any](a *Arena, h Handle[T]) []T {
	b := Borrow(a, h)
	defer b.Release()
	out := make([]T, len(b.Items))
	copy(out, b.Items)
	return out
}

// view reinterprets the bytes behind h as []T after checking that h could
// only have come from this arena.
func view[T any](a *Arena, h Handle[T]) []T {
	if a.data == nil {
		panic(ErrClosed)
	}
	if !h.Valid() {
		panic(fmt.Errorf("invariant broken: borrow of %s", h))
	}
	l := layoutOf[T]()
	if need := ByteLength(l.size).Times(h.Len); need > h.Chunk.Length {
		panic(fmt.Errorf("invariant broken: %d elements of size %d overflow %s", h.Len, l.size, h.Chunk))
	}
	if h.Chunk.End() > a.meta.MaxAllocated || ByteLength(h.Chunk.End()) > a.capacity {
		panic(fmt.Errorf("invariant broken: %s beyond allocated region (%d)", h.Chunk, a.meta.MaxAllocated))
	}
	if uint64(h.Chunk.Start)%l.align != 0 {
		panic(fmt.Errorf("invariant broken: %s misaligned for alignment %d", h.Chunk, l.align))
	}
	if h.Len == 0 {
		return []T{}
	}
	// the mapping is page aligned, so the offset check above is enough
	p := unsafe.Pointer(&a.data[h.Chunk.Start])
	return unsafe.Slice((*T)(p), int(h.Len))
}
