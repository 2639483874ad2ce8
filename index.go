// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package glimpse is a small persistent search store for a desktop
// launcher.  An Index maps string keys to payloads in a trie kept in a
// memory-mapped file, and answers typo-tolerant queries ranked by
// similarity to the query.  A Table is a persistent hash map for
// auxiliary data, such as the learned Biases used to rank results.
package glimpse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/bpowers/glimpse/internal/arena"
	"github.com/bpowers/glimpse/internal/similarity"
	"github.com/bpowers/glimpse/internal/trie"
)

const (
	// MinQueryLen is the shortest query, in bytes, Index.Get answers.
	MinQueryLen = 3
	// RelevanceThreshold is the score a candidate must beat to be returned.
	RelevanceThreshold = 0.7

	trieRoot = "trie"
)

// AccessFlags says how a store is opened.
type AccessFlags int

const (
	Read AccessFlags = 1 << iota
	Write
)

var ErrClosed = errors.New("store is closed")

// IdentityHash maps a (lowercased) candidate to the id its bias is stored
// under.
type IdentityHash func(item string) uint64

// Result is a payload and how well it matched the query.
type Result struct {
	Payload string
	Score   float32
}

// Index is a string search index.  It is safe for concurrent use.
type Index struct {
	mu         sync.Mutex
	a          *arena.Arena
	trie       trie.Trie
	path       string
	locks      *LockManager
	locked     bool
	logger     *slog.Logger
	maxResults int
	biases     BiasSource
}

// Open opens the index at path, creating it if it doesn't exist and flags
// include Write.  Opening a store another process holds a fresh lock on
// returns ErrLocked.  Write opens take the lock themselves and hold it
// until Close.
func Open(path string, flags AccessFlags, opts ...Option) (*Index, error) {
	options := newOptions(opts)
	locks := options.locks
	if locks == nil {
		locks = NewLockManager(options.logger)
	}

	write := flags&Write != 0
	if write {
		if err := locks.Acquire(path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else if locks.IsLocked(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	idx, err := openIndex(path, write, options)
	if err != nil {
		if write {
			err = errors.Join(err, locks.Release(path))
		}
		return nil, err
	}
	idx.locks = locks
	idx.locked = write
	return idx, nil
}

func openIndex(path string, write bool, options options) (*Index, error) {
	aopts := []arena.Option{arena.WithLogger(options.logger)}
	if !write {
		aopts = append(aopts, arena.WithReadOnly())
	}
	a, err := arena.Open(path, aopts...)
	if err != nil {
		return nil, fmt.Errorf("arena.Open: %w", err)
	}
	tr, err := trie.Open(a, trieRoot)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("trie.Open: %w", err), a.Close())
	}
	return &Index{
		a:          a,
		trie:       tr,
		path:       path,
		logger:     options.logger,
		maxResults: options.maxResults,
		biases:     options.biases,
	}, nil
}

// Path returns the path of the index's data file.
func (idx *Index) Path() string {
	return idx.path
}

// Insert adds payload under key.  An empty payload stores the key itself.
// Inserting the same key again adds another payload rather than replacing
// the first.
func (idx *Index) Insert(key, payload string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.insert(key, payload)
}

func (idx *Index) insert(key, payload string) error {
	if idx.a == nil {
		return ErrClosed
	}
	if payload == "" {
		payload = key
	}
	if err := idx.trie.Insert(idx.a, key, payload); err != nil {
		return fmt.Errorf("trie.Insert(%q): %w", key, err)
	}
	return nil
}

// InsertIfNew inserts payload under key only if key has no payloads yet,
// reporting whether it did.
func (idx *Index) InsertIfNew(key, payload string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.a == nil {
		return false, ErrClosed
	}
	if idx.trie.Contains(idx.a, key) {
		return false, nil
	}
	return true, idx.insert(key, payload)
}

// InsertName inserts payload under a file or directory name and under each
// of the name's inner keywords, so "my_holiday_photos.tar" is also found
// by "photos".
func (idx *Index) InsertName(name, payload string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.insert(name, payload); err != nil {
		return err
	}
	if payload == "" {
		payload = name
	}
	for _, kw := range innerKeywords(name) {
		if err := idx.insert(kw, payload); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the payloads stored under exactly key.
func (idx *Index) Lookup(key string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.a == nil {
		return nil
	}
	return idx.trie.Get(idx.a, key)
}

// Get returns up to the configured maximum of results for query, best
// first.  identity, if not nil, names each candidate for bias lookups.
func (idx *Index) Get(query string, identity IdentityHash) []Result {
	return idx.GetN(query, identity, idx.maxResults)
}

// GetN is Get with an explicit result limit.
func (idx *Index) GetN(query string, identity IdentityHash, limit int) []Result {
	if len(query) < MinQueryLen || limit <= 0 {
		return nil
	}

	idx.mu.Lock()
	if idx.a == nil {
		idx.mu.Unlock()
		return nil
	}
	// fuzzy matches include some that score below the threshold, so the
	// search never gets less room than its default
	candidates := idx.trie.FuzzyGetN(idx.a, query, max(limit, trie.MaxFuzzyResults))
	idx.mu.Unlock()

	var bias similarity.Bias
	if idx.biases != nil && identity != nil {
		bias = func(item string) float32 {
			return idx.biases.Bias(identity(item))
		}
	}

	seen := make(stringSet, len(candidates))
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if seen.Contains(c) {
			continue
		}
		seen.Add(c)
		score := similarity.Score(query, c, bias)
		if score <= RelevanceThreshold {
			continue
		}
		results = append(results, Result{Payload: c, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Import inserts one entry per line of r.  Lines have the form
// "key:payload"; a line without a colon is a key that is its own payload.
// Blank lines are skipped.  It returns the number of entries inserted.
func (idx *Index) Import(r io.Reader) (int, error) {
	s := bufio.NewScanner(bufio.NewReaderSize(r, 16*1024))
	n := 0
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		key, payload, ok := split2(line, ':')
		if !ok {
			key, payload = line, nil
		}
		if err := idx.Insert(string(key), string(payload)); err != nil {
			return n, err
		}
		n++
	}
	if err := s.Err(); err != nil {
		return n, fmt.Errorf("reading import: %w", err)
	}
	idx.logger.Debug("imported entries", "path", idx.path, "count", n)
	return n, nil
}

// SaveMeta persists the index's metadata.
func (idx *Index) SaveMeta() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.a == nil {
		return ErrClosed
	}
	return idx.a.SaveMeta()
}

// Flush writes all changes to disk.
func (idx *Index) Flush() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.a == nil {
		return ErrClosed
	}
	return idx.a.Flush()
}

// Size returns the size of the backing file in bytes, for enforcing a
// storage quota.
func (idx *Index) Size() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.a == nil {
		return 0
	}
	return int64(idx.a.Capacity())
}

// Close flushes and closes the index and releases its lock.  Closing twice
// is a no-op.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.a == nil {
		return nil
	}
	err := idx.a.Close()
	idx.a = nil
	if idx.locked {
		err = errors.Join(err, idx.locks.Release(idx.path))
		idx.locked = false
	}
	return err
}

// Reset deletes the store at path and its metadata.  It refuses to delete
// a store someone holds a fresh lock on.
func Reset(path string) error {
	locks := NewLockManager(nil)
	if locks.IsLocked(path) {
		return fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return arena.Reset(path)
}
