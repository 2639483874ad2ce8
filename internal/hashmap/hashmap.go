// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hashmap implements a separately chained hash map stored in an
// arena.  The number of buckets is fixed when the map is created; the map
// never rehashes.
package hashmap

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/glimpse/internal/arena"
	"github.com/bpowers/glimpse/internal/list"
)

// Hasher is implemented by values that can be hashed, possibly by reading
// their contents out of an arena.
type Hasher interface {
	HashWith(a *arena.Arena) uint64
}

// Lookup is implemented by values that can find a stored key of type K.
// A lookup value must hash identically to the keys it matches.
type Lookup[K any] interface {
	Hasher
	EqualTo(a *arena.Arena, k K) bool
}

// Key is implemented by types usable as stored keys.  Keys must also be
// storable in an arena.
type Key[K any] interface {
	Lookup[K]
}

// Pair is a key and its value.
type Pair[K, V any] struct {
	Key   K
	Value V
}

type header[K, V any] struct {
	Buckets             arena.Handle[list.List[Pair[K, V]]]
	BucketCount         uint64
	Length              uint64
	LastBucketWrittenTo uint64
}

// Map is a handle to a hash map from K to V.
type Map[K Key[K], V any] struct {
	H arena.Handle[header[K, V]]
}

// New allocates a map with a fixed number of buckets.
func New[K Key[K], V any](a *arena.Arena, buckets uint64) (Map[K, V], error) {
	if buckets == 0 {
		panic("invariant broken: hash map with zero buckets")
	}
	lists := make([]list.List[Pair[K, V]], buckets)
	for i := range lists {
		l, err := list.New[Pair[K, V]](a)
		if err != nil {
			return Map[K, V]{}, fmt.Errorf("list.New(bucket %d): %w", i, err)
		}
		lists[i] = l
	}
	b, err := arena.Alloc(a, lists)
	if err != nil {
		return Map[K, V]{}, fmt.Errorf("arena.Alloc(buckets): %w", err)
	}
	h, err := arena.Alloc(a, []header[K, V]{{
		Buckets:     b.Storable(),
		BucketCount: buckets,
	}})
	if err != nil {
		return Map[K, V]{}, fmt.Errorf("arena.Alloc(header): %w", err)
	}
	return Map[K, V]{H: h.Storable()}, nil
}

func (m Map[K, V]) bucketFor(a *arena.Arena, l Hasher) (list.List[Pair[K, V]], uint64) {
	hdr := arena.Get(a, m.H, 0)
	idx := l.HashWith(a) % hdr.BucketCount
	return arena.Get(a, hdr.Buckets, arena.ElementCount(idx)), idx
}

// LoadRoot returns the map saved under name by SetRoot.
func LoadRoot[K Key[K], V any](a *arena.Arena, name string) (Map[K, V], bool) {
	h, ok := arena.LoadRoot[header[K, V]](a, name)
	return Map[K, V]{H: h}, ok
}

// SetRoot records m in a's metadata under name.
func (m Map[K, V]) SetRoot(a *arena.Arena, name string) error {
	return arena.SetRoot(a, name, m.H)
}

// Insert maps k to v, replacing any existing entry for an equal key.
func (m Map[K, V]) Insert(a *arena.Arena, k K, v V) error {
	bucket, idx := m.bucketFor(a, k)
	replaced := bucket.Remove(a, func(a *arena.Arena, p Pair[K, V]) bool {
		return k.EqualTo(a, p.Key)
	})
	if err := bucket.Push(a, Pair[K, V]{Key: k, Value: v}); err != nil {
		return err
	}

	hdr := arena.Get(a, m.H, 0)
	if !replaced {
		hdr.Length++
	}
	hdr.LastBucketWrittenTo = idx
	arena.Set(a, m.H, 0, hdr)
	return nil
}

// Get returns the value stored for k.
func (m Map[K, V]) Get(a *arena.Arena, k K) (V, bool) {
	return Find(a, m, k)
}

// Find looks up a stored key using a value of a different type, such as a
// Go string standing in for a key stored in the arena.
func Find[K Key[K], V any, L Lookup[K]](a *arena.Arena, m Map[K, V], l L) (V, bool) {
	bucket, _ := m.bucketFor(a, l)
	it := bucket.Iter(a)
	defer it.Close()
	for p, ok := it.Next(); ok; p, ok = it.Next() {
		if l.EqualTo(a, p.Key) {
			return p.Value, true
		}
	}
	var zero V
	return zero, false
}

// Remove deletes the entry for k, reporting whether there was one.
func (m Map[K, V]) Remove(a *arena.Arena, k K) bool {
	bucket, _ := m.bucketFor(a, k)
	removed := bucket.Remove(a, func(a *arena.Arena, p Pair[K, V]) bool {
		return k.EqualTo(a, p.Key)
	})
	if removed {
		hdr := arena.Get(a, m.H, 0)
		hdr.Length--
		arena.Set(a, m.H, 0, hdr)
	}
	return removed
}

// Len returns the number of distinct keys in the map.
func (m Map[K, V]) Len(a *arena.Arena) int {
	return int(arena.Get(a, m.H, 0).Length)
}

// BucketCount returns the fixed number of buckets.
func (m Map[K, V]) BucketCount(a *arena.Arena) uint64 {
	return arena.Get(a, m.H, 0).BucketCount
}

// LastBucketWrittenTo returns the index of the bucket touched by the most
// recent Insert.
func (m Map[K, V]) LastBucketWrittenTo(a *arena.Arena) uint64 {
	return arena.Get(a, m.H, 0).LastBucketWrittenTo
}

// Flatten returns every entry, bucket by bucket.
func (m Map[K, V]) Flatten(a *arena.Arena) []Pair[K, V] {
	hdr := arena.Get(a, m.H, 0)
	out := make([]Pair[K, V], 0, hdr.Length)
	for _, bucket := range arena.Load(a, hdr.Buckets) {
		out = append(out, bucket.Collect(a)...)
	}
	return out
}

// Char is a single character key.
type Char rune

func (c Char) HashWith(*arena.Arena) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(c))
	return farm.Hash64(buf[:])
}

func (c Char) EqualTo(_ *arena.Arena, other Char) bool {
	return c == other
}

// Uint64 is an integer key.
type Uint64 uint64

func (u Uint64) HashWith(*arena.Arena) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(u))
	return farm.Hash64(buf[:])
}

func (u Uint64) EqualTo(_ *arena.Arena, other Uint64) bool {
	return u == other
}
