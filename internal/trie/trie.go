// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package trie implements a character trie stored in an arena, with exact
// and bounded fuzzy lookup.  Keys are lowercased on the way in and out.
// Each node keeps a list of payload strings, so inserting the same key
// twice keeps both payloads.
package trie

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bpowers/glimpse/internal/arena"
	"github.com/bpowers/glimpse/internal/blob"
	"github.com/bpowers/glimpse/internal/hashmap"
	"github.com/bpowers/glimpse/internal/list"
)

const (
	// FewChildren is the child count below which a fuzzy search that finds
	// no child for the current character tries every child instead.
	FewChildren = 4
	// CompletionFanout is the most children a node may have for prefix
	// completion to descend into them.
	CompletionFanout = 32
	// MaxFuzzyResults bounds the number of payloads FuzzyGet returns.
	MaxFuzzyResults = 20

	childBuckets = 1
)

type node struct {
	PointsTo list.List[blob.Blob]
	Children hashmap.Map[hashmap.Char, arena.Handle[node]]
}

// Trie is a handle to the root node.
type Trie struct {
	Root arena.Handle[node]
}

// Open returns the trie whose root was saved under name, creating and
// saving a new one if there isn't one.
func Open(a *arena.Arena, name string) (Trie, error) {
	if root, ok := arena.LoadRoot[node](a, name); ok {
		return Trie{Root: root}, nil
	}
	t, err := New(a)
	if err != nil {
		return Trie{}, err
	}
	if err := arena.SetRoot(a, name, t.Root); err != nil {
		return Trie{}, fmt.Errorf("arena.SetRoot(%s): %w", name, err)
	}
	return t, nil
}

// New allocates an empty trie.
func New(a *arena.Arena) (Trie, error) {
	root, err := newNode(a)
	if err != nil {
		return Trie{}, err
	}
	return Trie{Root: root}, nil
}

func newNode(a *arena.Arena) (arena.Handle[node], error) {
	pointsTo, err := list.New[blob.Blob](a)
	if err != nil {
		return arena.Handle[node]{}, err
	}
	children, err := hashmap.New[hashmap.Char, arena.Handle[node]](a, childBuckets)
	if err != nil {
		return arena.Handle[node]{}, err
	}
	o, err := arena.Alloc(a, []node{{PointsTo: pointsTo, Children: children}})
	if err != nil {
		return arena.Handle[node]{}, fmt.Errorf("arena.Alloc(node): %w", err)
	}
	return o.Storable(), nil
}

// Insert adds payload to the list of payloads for word.
func (t Trie) Insert(a *arena.Arena, word, payload string) error {
	word = strings.ToLower(word)

	cur := t.Root
	for _, c := range word {
		n := arena.Get(a, cur, 0)
		child, ok := n.Children.Get(a, hashmap.Char(c))
		if !ok {
			var err error
			if child, err = newNode(a); err != nil {
				return err
			}
			if err := n.Children.Insert(a, hashmap.Char(c), child); err != nil {
				return fmt.Errorf("children.Insert(%q): %w", c, err)
			}
		}
		cur = child
	}

	b, err := blob.New(a, payload)
	if err != nil {
		return err
	}
	return arena.Get(a, cur, 0).PointsTo.Push(a, b)
}

func (t Trie) find(a *arena.Arena, word string) (arena.Handle[node], bool) {
	cur := t.Root
	for _, c := range word {
		child, ok := arena.Get(a, cur, 0).Children.Get(a, hashmap.Char(c))
		if !ok {
			return arena.Handle[node]{}, false
		}
		cur = child
	}
	return cur, true
}

// Get returns the payloads stored for exactly word, most recent first.
// Payloads stored under longer keys sharing word as a prefix are not
// included.
func (t Trie) Get(a *arena.Arena, word string) []string {
	n, ok := t.find(a, strings.ToLower(word))
	if !ok {
		return nil
	}
	var matches []string
	for _, b := range arena.Get(a, n, 0).PointsTo.Collect(a) {
		matches = append(matches, b.Load(a))
	}
	return matches
}

// Contains reports whether any payload is stored for exactly word.
func (t Trie) Contains(a *arena.Arena, word string) bool {
	n, ok := t.find(a, strings.ToLower(word))
	if !ok {
		return false
	}
	return !arena.Get(a, n, 0).PointsTo.IsEmpty(a)
}

// ContainsPayload reports whether payload is stored for exactly word.
func (t Trie) ContainsPayload(a *arena.Arena, word, payload string) bool {
	n, ok := t.find(a, strings.ToLower(word))
	if !ok {
		return false
	}
	it := arena.Get(a, n, 0).PointsTo.Iter(a)
	defer it.Close()
	for b, ok := it.Next(); ok; b, ok = it.Next() {
		if blob.String(payload).EqualTo(a, b) {
			return true
		}
	}
	return false
}

// FuzzyGet returns up to MaxFuzzyResults payloads for keys near word.
func (t Trie) FuzzyGet(a *arena.Arena, word string) []string {
	return t.FuzzyGetN(a, word, MaxFuzzyResults)
}

type step struct {
	n        arena.Handle[node]
	rest     string
	complete bool
}

// FuzzyGetN returns up to limit payloads for keys near word.
//
// Walking down the trie one character at a time, a character with a
// matching child follows it.  A character without one tries two
// corrections: the character is a typo for one of the node's children (only
// if there are fewer than FewChildren of them), and the character is
// extra and can be skipped.  Once the query is used up, every payload in
// the subtree is a match.
func (t Trie) FuzzyGetN(a *arena.Arena, word string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	var matches []string
	work := []step{{n: t.Root, rest: strings.ToLower(word)}}
	for len(work) > 0 && len(matches) < limit {
		s := work[len(work)-1]
		work = work[:len(work)-1]
		n := arena.Get(a, s.n, 0)

		if s.complete || s.rest == "" {
			matches = appendPayloads(a, matches, n.PointsTo, limit)
			if n.Children.Len(a) > CompletionFanout {
				continue
			}
			children := n.Children.Flatten(a)
			for i := len(children) - 1; i >= 0; i-- {
				work = append(work, step{n: children[i].Value, complete: true})
			}
			continue
		}

		c, size := utf8.DecodeRuneInString(s.rest)
		rest := s.rest[size:]
		if child, ok := n.Children.Get(a, hashmap.Char(c)); ok {
			work = append(work, step{n: child, rest: rest})
			continue
		}
		// pushed in reverse: children are tried before skipping
		if rest != "" {
			work = append(work, step{n: s.n, rest: rest})
		}
		if n.Children.Len(a) < FewChildren {
			children := n.Children.Flatten(a)
			for i := len(children) - 1; i >= 0; i-- {
				work = append(work, step{n: children[i].Value, rest: rest})
			}
		}
	}
	return matches
}

func appendPayloads(a *arena.Arena, matches []string, l list.List[blob.Blob], limit int) []string {
	it := l.Iter(a)
	defer it.Close()
	for b, ok := it.Next(); ok && len(matches) < limit; b, ok = it.Next() {
		matches = append(matches, b.Load(a))
	}
	return matches
}
