// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package glimpse

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/otiai10/copy"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/glimpse/internal/arena"
)

func TestSplit2(t *testing.T) {
	sep := byte(',')
	for _, testcase := range []string{
		"",
		"a,b",
		",a,b,",
		"a,b,",
	} {
		input := []byte(testcase)
		expected := bytes.SplitN(input, []byte{sep}, 2)
		var actualL, actualR []byte
		var ok bool
		allocs := testing.AllocsPerRun(1, func() {
			actualL, actualR, ok = split2(input, sep)
		})
		require.Zero(t, allocs)
		require.True(t, len(expected) <= 2)
		if len(expected) < 2 {
			require.False(t, ok)
		} else {
			expectedL := expected[0]
			expectedR := expected[1]
			require.Equal(t, expectedL, actualL)
			require.Equal(t, expectedR, actualR)
		}
	}
}

func TestInnerKeywords(t *testing.T) {
	for name, expected := range map[string][]string{
		"my_holiday_photos.tar": {"holiday", "photos"},
		"Quarterly Report 2024": {"report", "2024"},
		"some-file-x.txt":       {"file"},
		"archive.v2.tar":        {"v2"},
		"plain":                 nil,
		"a_b_c&d":               nil,
	} {
		require.Equal(t, expected, innerKeywords(name), name)
	}
}

type posting struct {
	Doc    Blob
	Weight float32
}

func TestTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tf_idf.db")
	table, err := OpenTable[Blob, List[posting]](path, 64)
	require.NoError(t, err)

	require.Zero(t, table.CorpusSize())
	for i := 1; i <= 3; i++ {
		n, err := table.IncrementCorpusSize()
		require.NoError(t, err)
		require.Equal(t, uint64(i), n)
	}
	require.Equal(t, uint64(3), table.CorpusSize())

	for _, term := range []string{"alpha", "beta", "gamma"} {
		k, err := table.AllocString(term)
		require.NoError(t, err)
		l, err := NewList[posting](table)
		require.NoError(t, err)
		for d := 0; d < 3; d++ {
			doc, err := table.AllocString(fmt.Sprintf("/docs/%s-%d.txt", term, d))
			require.NoError(t, err)
			require.NoError(t, PushToList(table, l, posting{Doc: doc, Weight: float32(d)}))
		}
		require.NoError(t, table.Insert(k, l))
	}
	require.Equal(t, 3, table.Len())
	require.Len(t, table.Pairs(), 3)

	l, ok := Find(table, String("beta"))
	require.True(t, ok)
	postings := GetList(table, l)
	require.Len(t, postings, 3)
	require.Equal(t, "/docs/beta-2.txt", table.LoadString(postings[0].Doc))

	removed := RemoveFromList(table, l, func(a *Arena, p posting) bool {
		return String("/docs/beta-1.txt").EqualTo(a, p.Doc)
	})
	require.True(t, removed)
	require.Len(t, GetList(table, l), 2)

	_, ok = Find(table, String("delta"))
	require.False(t, ok)

	size := table.Size()
	require.NoError(t, table.SaveMeta())
	require.NoError(t, table.Close())

	table, err = OpenTable[Blob, List[posting]](path, 64)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, table.Close())
	}()
	require.Equal(t, size, table.Size())
	require.Equal(t, uint64(3), table.CorpusSize())
	require.Equal(t, 3, table.Len())
	require.Equal(t, 2, table.a.RootCount())

	l, ok = Find(table, String("beta"))
	require.True(t, ok)
	var docs []string
	for _, p := range GetList(table, l) {
		docs = append(docs, table.LoadString(p.Doc))
	}
	require.Equal(t, []string{"/docs/beta-2.txt", "/docs/beta-0.txt"}, docs)
}

func TestTableUpdateRemove(t *testing.T) {
	table, err := OpenTable[Uint64, int64](filepath.Join(t.TempDir(), "counts.db"), 8)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, table.Close())
	}()

	for i := 0; i < 5; i++ {
		_, err := table.Update(7, func(v int64, ok bool) int64 {
			require.Equal(t, i > 0, ok)
			return v + 10
		})
		require.NoError(t, err)
	}
	v, ok := table.Get(7)
	require.True(t, ok)
	require.Equal(t, int64(50), v)

	require.True(t, table.Remove(7))
	require.False(t, table.Remove(7))
	require.Zero(t, table.Len())
}

func TestTableLocking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.db")
	locks := NewLockManager(nil)

	table, err := OpenTable[Uint64, uint64](path, 8, WithLockManager(locks))
	require.NoError(t, err)

	_, err = OpenTable[Uint64, uint64](path, 8, WithLockManager(NewLockManager(nil)))
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, table.Close())
	require.False(t, locks.IsLocked(path))
}

func TestTableAfterClose(t *testing.T) {
	table, err := OpenTable[Uint64, int64](filepath.Join(t.TempDir(), "closed.db"), 8)
	require.NoError(t, err)
	require.NoError(t, table.Insert(1, 1))
	l, err := NewList[uint32](table)
	require.NoError(t, err)
	require.NoError(t, table.Close())
	require.NoError(t, table.Close())

	require.ErrorIs(t, table.Insert(2, 2), ErrClosed)
	_, ok := table.Get(1)
	require.False(t, ok)
	_, err = table.Update(1, func(v int64, _ bool) int64 { return v + 1 })
	require.ErrorIs(t, err, ErrClosed)
	require.False(t, table.Remove(1))
	require.Zero(t, table.Len())
	require.Nil(t, table.Pairs())
	require.Zero(t, table.CorpusSize())
	_, err = table.IncrementCorpusSize()
	require.ErrorIs(t, err, ErrClosed)
	_, err = table.AllocString("x")
	require.ErrorIs(t, err, ErrClosed)
	_, err = NewList[uint32](table)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, PushToList(table, l, 3), ErrClosed)
	require.Nil(t, GetList(table, l))
	require.ErrorIs(t, table.SaveMeta(), ErrClosed)
	require.Zero(t, table.Size())
}

func TestTableSurvivesUncleanExit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.db")
	table, err := OpenTable[Uint64, int64](path, 4)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, table.Close())
	}()
	for i := Uint64(0); i < 50; i++ {
		require.NoError(t, table.Insert(i, int64(i)*2))
	}
	_, err = table.IncrementCorpusSize()
	require.NoError(t, err)

	crashed := filepath.Join(t.TempDir(), "counts.db")
	require.NoError(t, copy.Copy(path, crashed))
	require.NoError(t, copy.Copy(arena.MetaPath(path), arena.MetaPath(crashed)))

	again, err := OpenTable[Uint64, int64](crashed, 4)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, again.Close())
	}()
	require.Equal(t, 50, again.Len())
	require.Equal(t, uint64(1), again.CorpusSize())
	v, ok := again.Get(49)
	require.True(t, ok)
	require.Equal(t, int64(98), v)

	require.NoError(t, again.Insert(50, 100))
	require.Equal(t, 51, again.Len())
	v, ok = again.Get(0)
	require.True(t, ok)
	require.Zero(t, v)
}
