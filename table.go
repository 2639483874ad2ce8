// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package glimpse

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bpowers/glimpse/internal/arena"
	"github.com/bpowers/glimpse/internal/blob"
	"github.com/bpowers/glimpse/internal/hashmap"
	"github.com/bpowers/glimpse/internal/list"
)

const (
	mapRoot        = "map"
	corpusSizeRoot = "corpus_size"
)

// Types usable as Table keys and values.
type (
	Arena          = arena.Arena
	Blob           = blob.Blob
	String         = blob.String
	Uint64         = hashmap.Uint64
	Char           = hashmap.Char
	List[T any]    = list.List[T]
	Key[K any]     = hashmap.Key[K]
	Lookup[K any]  = hashmap.Lookup[K]
	Pair[K, V any] = hashmap.Pair[K, V]
)

var errPartialTable = errors.New("table has a map root but no corpus size root, or the reverse")

// Table is a persistent hash map from K to V, plus a document counter for
// callers doing TF-IDF style scoring.  It is safe for concurrent use.
type Table[K Key[K], V any] struct {
	mu     sync.Mutex
	a      *arena.Arena
	m      hashmap.Map[K, V]
	corpus arena.Handle[uint64]
	path   string
	locks  *LockManager
	logger *slog.Logger
}

// OpenTable opens the table at path, creating it with the given number of
// buckets if it doesn't exist.  The bucket count of an existing table
// can't change.
func OpenTable[K Key[K], V any](path string, buckets uint64, opts ...Option) (*Table[K, V], error) {
	options := newOptions(opts)

	if options.locks != nil {
		if err := options.locks.Acquire(path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	t, err := openTable[K, V](path, buckets, options)
	if err != nil {
		if options.locks != nil {
			err = errors.Join(err, options.locks.Release(path))
		}
		return nil, err
	}
	return t, nil
}

func openTable[K Key[K], V any](path string, buckets uint64, options options) (*Table[K, V], error) {
	a, err := arena.Open(path, arena.WithLogger(options.logger))
	if err != nil {
		return nil, fmt.Errorf("arena.Open: %w", err)
	}
	t := &Table[K, V]{
		a:      a,
		path:   path,
		locks:  options.locks,
		logger: options.logger,
	}

	m, haveMap := hashmap.LoadRoot[K, V](a, mapRoot)
	ch, haveCorpus := arena.LoadRoot[uint64](a, corpusSizeRoot)
	switch {
	case haveMap && haveCorpus:
		t.m = m
		t.corpus = ch
	case !haveMap && !haveCorpus:
		if err := t.create(buckets); err != nil {
			return nil, errors.Join(err, a.Close())
		}
		options.logger.Info("created table", "path", path, "buckets", buckets)
	default:
		return nil, errors.Join(fmt.Errorf("%s: %w", path, errPartialTable), a.Close())
	}
	return t, nil
}

func (t *Table[K, V]) create(buckets uint64) error {
	m, err := hashmap.New[K, V](t.a, buckets)
	if err != nil {
		return fmt.Errorf("hashmap.New: %w", err)
	}
	corpus, err := arena.Alloc(t.a, []uint64{0})
	if err != nil {
		return fmt.Errorf("arena.Alloc(corpus size): %w", err)
	}
	if err := m.SetRoot(t.a, mapRoot); err != nil {
		return err
	}
	if err := arena.SetRoot(t.a, corpusSizeRoot, corpus.Storable()); err != nil {
		return err
	}
	t.m = m
	t.corpus = corpus.Storable()
	return nil
}

// Insert maps k to v, replacing any previous value.
func (t *Table[K, V]) Insert(k K, v V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return ErrClosed
	}
	return t.m.Insert(t.a, k, v)
}

// Get returns the value stored for k.
func (t *Table[K, V]) Get(k K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		var zero V
		return zero, false
	}
	return t.m.Get(t.a, k)
}

// Update replaces the value for k with the result of f, which is passed
// the current value and whether there was one.
func (t *Table[K, V]) Update(k K, f func(V, bool) V) (V, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero V
	if t.a == nil {
		return zero, ErrClosed
	}
	old, ok := t.m.Get(t.a, k)
	v := f(old, ok)
	if err := t.m.Insert(t.a, k, v); err != nil {
		return zero, err
	}
	return v, nil
}

// Remove deletes k, reporting whether it was present.
func (t *Table[K, V]) Remove(k K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return false
	}
	return t.m.Remove(t.a, k)
}

// Find looks up a stored key with a value of another type, such as a
// String standing in for a Blob key.
func Find[K Key[K], V any, L Lookup[K]](t *Table[K, V], l L) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		var zero V
		return zero, false
	}
	return hashmap.Find(t.a, t.m, l)
}

// Len returns the number of keys in the table.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return 0
	}
	return t.m.Len(t.a)
}

// Pairs returns every entry in the table.
func (t *Table[K, V]) Pairs() []Pair[K, V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return nil
	}
	return t.m.Flatten(t.a)
}

// CorpusSize returns the document counter.
func (t *Table[K, V]) CorpusSize() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return 0
	}
	return arena.Get(t.a, t.corpus, 0)
}

// IncrementCorpusSize adds one to the document counter and returns the new
// count.
func (t *Table[K, V]) IncrementCorpusSize() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return 0, ErrClosed
	}
	n := arena.Get(t.a, t.corpus, 0) + 1
	arena.Set(t.a, t.corpus, 0, n)
	return n, nil
}

// AllocString copies s into the table's arena, for use as a key or value.
func (t *Table[K, V]) AllocString(s string) (Blob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return Blob{}, ErrClosed
	}
	return blob.New(t.a, s)
}

// LoadString copies a string allocated with AllocString out of the arena.
func (t *Table[K, V]) LoadString(b Blob) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return ""
	}
	return b.Load(t.a)
}

// NewList allocates an empty list in t's arena.
func NewList[T any, K Key[K], V any](t *Table[K, V]) (List[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return List[T]{}, ErrClosed
	}
	return list.New[T](t.a)
}

// PushToList prepends v to l.
func PushToList[T any, K Key[K], V any](t *Table[K, V], l List[T], v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return ErrClosed
	}
	return l.Push(t.a, v)
}

// RemoveFromList removes the first element of l matching pred.  pred may
// read blobs but not allocate.
func RemoveFromList[T any, K Key[K], V any](t *Table[K, V], l List[T], pred func(*Arena, T) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return false
	}
	return l.Remove(t.a, pred)
}

// GetList copies l's elements out, most recently pushed first.
func GetList[T any, K Key[K], V any](t *Table[K, V], l List[T]) []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return nil
	}
	return l.Collect(t.a)
}

// SaveMeta persists the table's metadata.
func (t *Table[K, V]) SaveMeta() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return ErrClosed
	}
	return t.a.SaveMeta()
}

// Size returns the size of the backing file in bytes.
func (t *Table[K, V]) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return 0
	}
	return int64(t.a.Capacity())
}

// Close flushes and closes the table, releasing its lock if it took one.
// Closing twice is a no-op.
func (t *Table[K, V]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.a == nil {
		return nil
	}
	err := t.a.Close()
	t.a = nil
	if t.locks != nil {
		err = errors.Join(err, t.locks.Release(t.path))
		t.locks = nil
	}
	return err
}
