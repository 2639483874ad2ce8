// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package glimpse

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgryski/go-farm"
	"github.com/otiai10/copy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/glimpse/internal/arena"
)

func identity(item string) uint64 {
	return farm.Hash64([]byte(item))
}

func openTestIndex(t *testing.T, opts ...Option) (*Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "files.db")
	idx, err := Open(path, Read|Write, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = idx.Close()
	})
	return idx, path
}

func payloads(results []Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Payload)
	}
	return out
}

func TestIndexGet(t *testing.T) {
	idx, _ := openTestIndex(t)

	for _, key := range []string{"fire", "firefox", "fir", "xfire"} {
		require.NoError(t, idx.Insert(key, ""))
	}

	results := idx.Get("fire", identity)
	require.NotEmpty(t, results)
	require.Equal(t, "fire", results[0].Payload)
	require.Contains(t, payloads(results), "firefox")
	for i, r := range results {
		require.Greater(t, r.Score, float32(RelevanceThreshold))
		if i > 0 {
			require.LessOrEqual(t, r.Score, results[i-1].Score)
		}
	}

	require.Nil(t, idx.Get("fi", identity))
	require.Nil(t, idx.Get("", identity))
	require.Empty(t, idx.Get("zzzz", identity))
}

func TestIndexDedupesAndLimits(t *testing.T) {
	idx, _ := openTestIndex(t, WithMaxResults(3))

	require.NoError(t, idx.Insert("hello", "hello world"))
	require.NoError(t, idx.Insert("help", "hello world"))
	for _, s := range []string{"helium", "helix", "helmet", "helsinki"} {
		require.NoError(t, idx.Insert(s, ""))
	}

	results := idx.GetN("hel", identity, 100)
	seen := make(map[string]bool)
	for _, r := range results {
		require.False(t, seen[r.Payload], "duplicate %s", r.Payload)
		seen[r.Payload] = true
	}
	require.True(t, seen["hello world"])

	require.Len(t, idx.Get("hel", identity), 3)
	require.Nil(t, idx.GetN("hel", identity, 0))
}

func TestIndexBiases(t *testing.T) {
	dir := t.TempDir()
	biases, err := OpenBiases(filepath.Join(dir, "biases.db"))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, biases.Close())
	}()

	idx, err := Open(filepath.Join(dir, "files.db"), Read|Write, WithBiases(biases))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, idx.Close())
	}()

	require.NoError(t, idx.Insert("firewood", ""))
	require.NoError(t, idx.Insert("firewall", ""))

	before := idx.Get("firew", identity)
	require.Len(t, before, 2)
	require.Equal(t, before[0].Score, before[1].Score)

	loser := before[1].Payload
	_, err = biases.Increment(identity(loser), 0.5)
	require.NoError(t, err)

	after := idx.Get("firew", identity)
	require.Len(t, after, 2)
	require.Equal(t, loser, after[0].Payload)
	require.Greater(t, after[0].Score, after[1].Score)

	// without an identity function biases can't be looked up
	require.Equal(t, before[0].Payload, idx.Get("firew", nil)[0].Payload)
}

func TestIndexInsertIfNew(t *testing.T) {
	idx, _ := openTestIndex(t)

	inserted, err := idx.InsertIfNew("terminal", "/usr/bin/terminal")
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = idx.InsertIfNew("Terminal", "/usr/bin/terminal")
	require.NoError(t, err)
	require.False(t, inserted)

	require.Equal(t, []string{"/usr/bin/terminal"}, idx.Lookup("terminal"))

	// plain Insert accumulates
	require.NoError(t, idx.Insert("terminal", "/usr/bin/xterm"))
	require.Equal(t, []string{"/usr/bin/xterm", "/usr/bin/terminal"}, idx.Lookup("terminal"))
}

func TestIndexInsertName(t *testing.T) {
	idx, _ := openTestIndex(t)

	require.NoError(t, idx.InsertName("my_holiday_photos.tar", "/home/user/my_holiday_photos.tar"))
	require.Equal(t, []string{"/home/user/my_holiday_photos.tar"}, idx.Lookup("photos"))
	require.Equal(t, []string{"/home/user/my_holiday_photos.tar"}, idx.Lookup("holiday"))
	require.Equal(t, []string{"/home/user/my_holiday_photos.tar"}, idx.Lookup("my_holiday_photos.tar"))
}

func TestIndexImport(t *testing.T) {
	idx, _ := openTestIndex(t)

	f, err := os.Open("testdata/small.txt")
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()

	n, err := idx.Import(f)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	require.Equal(t, []string{"/usr/bin/firefox"}, idx.Lookup("firefox"))
	require.Equal(t, []string{"nautilus"}, idx.Lookup("nautilus"))
	require.Equal(t, []string{"/home/user/greek.txt"}, idx.Lookup("καλημέρα"))

	n, err = idx.Import(strings.NewReader("a:b:c\n\nkey\n"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"b:c"}, idx.Lookup("a"))
}

func TestIndexReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.db")

	for i := 0; i < 3; i++ {
		idx, err := Open(path, Read|Write)
		require.NoError(t, err)
		require.Equal(t, 1, idx.a.RootCount())
		require.Len(t, idx.Lookup("persist"), i)
		require.NoError(t, idx.Insert("persist", ""))
		require.NoError(t, idx.SaveMeta())
		require.Equal(t, int64(arena.InitialCapacity), idx.Size())
		require.NoError(t, idx.Close())
		require.NoError(t, idx.Close())
	}
}

func TestIndexCopyReadOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store", "files.db")
	idx, err := Open(path, Write)
	require.NoError(t, err)
	require.NoError(t, idx.Insert("inkscape", "/usr/bin/inkscape"))
	require.NoError(t, idx.Close())

	clone := filepath.Join(dir, "clone")
	require.NoError(t, copy.Copy(filepath.Dir(path), clone))

	ro, err := Open(filepath.Join(clone, "files.db"), Read)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, ro.Close())
	}()

	require.Equal(t, []string{"/usr/bin/inkscape"}, ro.Lookup("inkscape"))
	results := ro.Get("inkscpe", identity)
	require.NotEmpty(t, results)
	assert.Equal(t, "/usr/bin/inkscape", results[0].Payload)

	require.ErrorIs(t, ro.Insert("gimp", "/usr/bin/gimp"), arena.ErrReadOnly)
}

func TestIndexLocked(t *testing.T) {
	idx, path := openTestIndex(t)

	_, err := Open(path, Read|Write)
	require.ErrorIs(t, err, ErrLocked)
	_, err = Open(path, Read)
	require.ErrorIs(t, err, ErrLocked)
	require.ErrorIs(t, Reset(path), ErrLocked)

	require.NoError(t, idx.Close())
	require.ErrorIs(t, idx.Insert("late", ""), ErrClosed)

	ro, err := Open(path, Read)
	require.NoError(t, err)
	require.NoError(t, ro.Close())
}

func TestIndexReset(t *testing.T) {
	idx, path := openTestIndex(t)
	require.NoError(t, idx.Insert("gone", ""))
	require.NoError(t, idx.Close())

	require.NoError(t, Reset(path))
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(arena.MetaPath(path))
	require.ErrorIs(t, err, os.ErrNotExist)

	idx, err = Open(path, Read|Write)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, idx.Close())
	}()
	require.Empty(t, idx.Lookup("gone"))
}

func TestIndexSurvivesUncleanExit(t *testing.T) {
	idx, path := openTestIndex(t)
	for _, key := range []string{"hello", "help", "helium"} {
		require.NoError(t, idx.Insert(key, "/bin/"+key))
	}

	// what a killed process leaves behind: the mapping's pages, and the
	// sidecar as of the last save
	crashed := filepath.Join(t.TempDir(), "files.db")
	require.NoError(t, copy.Copy(path, crashed))
	require.NoError(t, copy.Copy(arena.MetaPath(path), arena.MetaPath(crashed)))

	again, err := Open(crashed, Read|Write)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, again.Close())
	}()

	require.Equal(t, []string{"/bin/help"}, again.Lookup("help"))
	require.NoError(t, again.Insert("helmet", "/bin/helmet"))
	require.Equal(t, []string{"/bin/helmet"}, again.Lookup("helmet"))
	require.Equal(t, []string{"/bin/helium"}, again.Lookup("helium"))
	require.Contains(t, payloads(again.Get("hel", identity)), "/bin/hello")
}

func TestIndexMaxResultsAboveFuzzyDefault(t *testing.T) {
	idx, _ := openTestIndex(t, WithMaxResults(30))
	for i := 0; i < 30; i++ {
		require.NoError(t, idx.Insert(fmt.Sprintf("report%02d", i), ""))
	}

	require.Len(t, idx.Get("report", identity), 30)
	require.Len(t, idx.GetN("report", identity, 25), 25)
	require.Len(t, idx.GetN("report", identity, 5), 5)
}
