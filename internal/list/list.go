// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package list implements a singly linked list stored in an arena.
//
// A List is a handle to a one-element head slot holding the handle of the
// first node, so the list value itself never changes after New and can be
// embedded in other arena-resident structures.  Pushes prepend.
package list

import (
	"fmt"

	"github.com/bpowers/glimpse/internal/arena"
)

type node[T any] struct {
	Next  arena.Handle[node[T]]
	Value T
}

// List is a linked list of T.  T must be storable in an arena.
type List[T any] struct {
	Head arena.Handle[arena.Handle[node[T]]]
}

// New allocates an empty list.
func New[T any](a *arena.Arena) (List[T], error) {
	head, err := arena.Alloc(a, []arena.Handle[node[T]]{arena.Null[node[T]]()})
	if err != nil {
		return List[T]{}, fmt.Errorf("arena.Alloc(head): %w", err)
	}
	return List[T]{Head: head.Storable()}, nil
}

// Push prepends v.
func (l List[T]) Push(a *arena.Arena, v T) error {
	first := arena.Get(a, l.Head, 0)
	n, err := arena.Alloc(a, []node[T]{{Next: first, Value: v}})
	if err != nil {
		return fmt.Errorf("arena.Alloc(node): %w", err)
	}
	arena.Set(a, l.Head, 0, n.Storable())
	return nil
}

// Remove unlinks and frees the first element for which pred returns true,
// reporting whether one was found.  pred must not allocate.
func (l List[T]) Remove(a *arena.Arena, pred func(*arena.Arena, T) bool) bool {
	var prev arena.Handle[node[T]]
	hasPrev := false
	for cur := arena.Get(a, l.Head, 0); cur.Valid(); {
		n := arena.Get(a, cur, 0)
		if pred(a, n.Value) {
			if hasPrev {
				p := arena.Get(a, prev, 0)
				p.Next = n.Next
				arena.Set(a, prev, 0, p)
			} else {
				arena.Set(a, l.Head, 0, n.Next)
			}
			owned := cur.Own()
			arena.Free(a, &owned)
			return true
		}
		prev, hasPrev = cur, true
		cur = n.Next
	}
	return false
}

// IsEmpty reports whether the list has no elements.
func (l List[T]) IsEmpty(a *arena.Arena) bool {
	return !arena.Get(a, l.Head, 0).Valid()
}

// Len walks the list and returns the number of elements.
func (l List[T]) Len(a *arena.Arena) int {
	it := l.Iter(a)
	defer it.Close()
	n := 0
	for _, ok := it.Next(); ok; _, ok = it.Next() {
		n++
	}
	return n
}

// Collect copies the list's elements out, most recently pushed first.
func (l List[T]) Collect(a *arena.Arena) []T {
	it := l.Iter(a)
	defer it.Close()
	var out []T
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		out = append(out, v)
	}
	return out
}

// Iter returns an iterator starting at the most recently pushed element.
// The arena can't grow until the iterator is closed.
func (l List[T]) Iter(a *arena.Arena) *Iter[T] {
	hold := arena.Borrow(a, l.Head)
	return &Iter[T]{
		a:    a,
		hold: hold,
		cur:  hold.Items[0],
	}
}

// Iter walks a List.
type Iter[T any] struct {
	a    *arena.Arena
	hold *arena.Borrowed[arena.Handle[node[T]]]
	cur  arena.Handle[node[T]]
}

// Next returns the next element, or false once the list is exhausted.
func (it *Iter[T]) Next() (T, bool) {
	if !it.cur.Valid() {
		var zero T
		return zero, false
	}
	n := arena.Get(it.a, it.cur, 0)
	it.cur = n.Next
	return n.Value, true
}

// Close releases the iterator's hold on the arena.
func (it *Iter[T]) Close() {
	it.cur = arena.Null[node[T]]()
	it.hold.Release()
}
