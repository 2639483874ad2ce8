// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package trie

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/glimpse/internal/arena"
)

func openTestTrie(t *testing.T) (*arena.Arena, Trie) {
	t.Helper()
	a, err := arena.Open(filepath.Join(t.TempDir(), "trie.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
	})
	tr, err := New(a)
	require.NoError(t, err)
	return a, tr
}

func TestExact(t *testing.T) {
	a, tr := openTestTrie(t)

	require.NoError(t, tr.Insert(a, "hello", "world"))
	require.NoError(t, tr.Insert(a, "help", "asdhjkl"))

	require.Equal(t, []string{"world"}, tr.Get(a, "hello"))
	require.Equal(t, []string{"asdhjkl"}, tr.Get(a, "help"))
	require.Empty(t, tr.Get(a, "hel"))
	require.Empty(t, tr.Get(a, "helpful"))
	require.Empty(t, tr.Get(a, "x"))

	require.True(t, tr.Contains(a, "HELLO"))
	require.False(t, tr.Contains(a, "hel"))
	require.True(t, tr.ContainsPayload(a, "help", "asdhjkl"))
	require.False(t, tr.ContainsPayload(a, "help", "world"))
}

func TestLowercaseAndMultiValue(t *testing.T) {
	a, tr := openTestTrie(t)

	require.NoError(t, tr.Insert(a, "Firefox", "/usr/bin/firefox"))
	require.NoError(t, tr.Insert(a, "FIREFOX", "/opt/firefox/firefox"))
	require.NoError(t, tr.Insert(a, "Ωmega", "greek"))

	require.Equal(t, []string{"/opt/firefox/firefox", "/usr/bin/firefox"}, tr.Get(a, "firefox"))
	require.Equal(t, []string{"greek"}, tr.Get(a, "ωMEGA"))
}

func TestFuzzy(t *testing.T) {
	a, tr := openTestTrie(t)

	require.NoError(t, tr.Insert(a, "hello", "H"))
	require.NoError(t, tr.Insert(a, "help", "P"))

	// prefix completion
	assert.ElementsMatch(t, []string{"H", "P"}, tr.FuzzyGet(a, "hel"))
	// substituted character
	require.NotEmpty(t, tr.FuzzyGet(a, "hallo"))
	assert.Equal(t, "H", tr.FuzzyGet(a, "hallo")[0])
	// extra character
	assert.Contains(t, tr.FuzzyGet(a, "hexlp"), "P")
	// missing character
	assert.Contains(t, tr.FuzzyGet(a, "hllo"), "H")
}

func TestFuzzyManyChildrenDoesNotBranch(t *testing.T) {
	a, tr := openTestTrie(t)

	for _, c := range "abcdef" {
		require.NoError(t, tr.Insert(a, "q"+string(c)+"z", string(c)))
	}
	// the node after "q" has too many children to guess which was meant
	require.Empty(t, tr.FuzzyGet(a, "qxz"))

	a2, tr2 := openTestTrie(t)
	for _, c := range "ab" {
		require.NoError(t, tr2.Insert(a2, "q"+string(c)+"z", string(c)))
	}
	matches := tr2.FuzzyGet(a2, "qxz")
	require.Contains(t, matches, "a")
	require.Contains(t, matches, "b")
}

func TestFuzzyBound(t *testing.T) {
	a, tr := openTestTrie(t)

	for i := 0; i < 200; i++ {
		require.NoError(t, tr.Insert(a, fmt.Sprintf("ab%d", i), fmt.Sprintf("payload-%d", i)))
	}
	for i := 0; i < 30; i++ {
		require.NoError(t, tr.Insert(a, "abc", fmt.Sprintf("dup-%d", i)))
	}

	for _, q := range []string{"a", "ab", "abc", "axb", "b", "ab1"} {
		require.LessOrEqual(t, len(tr.FuzzyGet(a, q)), MaxFuzzyResults, q)
	}
	require.Len(t, tr.FuzzyGet(a, "abc"), MaxFuzzyResults)
	require.Len(t, tr.FuzzyGetN(a, "ab", 5), 5)
	require.Empty(t, tr.FuzzyGetN(a, "ab", 0))
}

func TestOpenRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trie.db")
	a, err := arena.Open(path)
	require.NoError(t, err)

	tr, err := Open(a, "trie")
	require.NoError(t, err)
	require.NoError(t, tr.Insert(a, "persist", "yes"))
	require.Equal(t, 1, a.RootCount())
	require.NoError(t, a.Close())

	for i := 0; i < 3; i++ {
		a, err = arena.Open(path)
		require.NoError(t, err)
		tr, err = Open(a, "trie")
		require.NoError(t, err)
		require.Equal(t, 1, a.RootCount())
		require.Equal(t, []string{"yes"}, tr.Get(a, "persist"))
		require.NoError(t, a.Close())
	}
}
