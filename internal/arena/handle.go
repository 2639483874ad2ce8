// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package arena

import "fmt"

// Handle refers to Len contiguous values of type T inside an arena.  It is
// plain data: it can be copied freely and embedded in other arena-resident
// types.  T only tags the handle; it is never stored.
//
// The zero Handle is not null.  Use Null to get an empty handle.
type Handle[T any] struct {
	IsNull bool
	Chunk  Chunk
	Len    ElementCount
}

// Null returns a handle that refers to nothing.
func Null[T any]() Handle[T] {
	return Handle[T]{IsNull: true}
}

// Valid reports whether h refers to live arena memory.
func (h Handle[T]) Valid() bool {
	return !h.IsNull && h.Chunk.Allocated
}

// Own turns a stored handle back into one that can be freed.  Only one
// Owned should exist for any allocation.
func (h Handle[T]) Own() Owned[T] {
	return Owned[T]{h: h}
}

func (h Handle[T]) String() string {
	if h.IsNull {
		return "handle(null)"
	}
	return fmt.Sprintf("handle(%s len=%d)", h.Chunk, h.Len)
}

// Owned is the result of an allocation.  It is the only form accepted by
// Free; converting it to a Handle with Storable gives up nothing, but keeps
// the distinction between the place responsible for an allocation and the
// places that merely point at it.
type Owned[T any] struct {
	h Handle[T]
}

// Storable returns the copyable form of o.
func (o Owned[T]) Storable() Handle[T] {
	return o.h
}

// Len returns the number of elements in the allocation.
func (o Owned[T]) Len() ElementCount {
	return o.h.Len
}

// Alloc copies values into a new allocation.  Allocating zero elements is a
// programming error.
func Alloc[T any](a *Arena, values []T) (Owned[T], error) {
	if len(values) == 0 {
		panic("invariant broken: zero-element allocation")
	}
	l := layoutOf[T]()
	n := ElementCount(len(values))
	chunk, err := a.Allocate(ByteLength(l.size).Times(n), l.align)
	if err != nil {
		return Owned[T]{}, fmt.Errorf("a.Allocate(%d x %d): %w", n, l.size, err)
	}
	h := Handle[T]{
		Chunk: chunk,
		Len:   n,
	}
	b := BorrowMut(a, h)
	copy(b.Items, values)
	b.Release()
	return Owned[T]{h: h}, nil
}

// Free releases the allocation behind o and nulls it.
func Free[T any](a *Arena, o *Owned[T]) {
	if !o.h.Valid() {
		panic("invariant broken: free of null or already-freed handle")
	}
	a.Free(o.h.Chunk)
	o.h.Chunk.Allocated = false
	o.h.IsNull = true
}

// SetRoot records h under name in the sidecar metadata and saves it.
// Setting an existing name replaces it in place.
func SetRoot[T any](a *Arena, name string, h Handle[T]) error {
	chunk := h.Chunk
	if h.IsNull {
		chunk = Chunk{}
	}
	return a.setRoot(Root{
		Name:  name,
		Chunk: chunk,
		Len:   h.Len,
	})
}

// LoadRoot returns the handle saved under name.
func LoadRoot[T any](a *Arena, name string) (Handle[T], bool) {
	r, ok := a.meta.root(name)
	if !ok {
		return Handle[T]{}, false
	}
	return Handle[T]{
		IsNull: !r.Chunk.Allocated,
		Chunk:  r.Chunk,
		Len:    r.Len,
	}, true
}
