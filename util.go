// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package glimpse

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode"
)

// special case of SplitN that doesn't require allocation
func split2(s []byte, sep byte) (l []byte, r []byte, ok bool) {
	m := bytes.IndexByte(s, sep)
	if m < 0 {
		return nil, nil, false
	}

	l = s[:m]
	r = s[m+1:]
	ok = true
	return
}

type stringSet map[string]struct{}

func (set stringSet) Contains(s string) bool {
	_, ok := set[s]
	return ok
}

func (set stringSet) Add(s string) {
	set[s] = struct{}{}
}

// innerKeywords returns the lowercased words after the first one in a file
// name, so "my_holiday_photos.tar" can be found by "holiday" or "photos".
// Names are split on the first of '_', ' ', '-' or '.' they contain, and
// only alphanumeric words longer than one character are kept.
func innerKeywords(name string) []string {
	name = strings.TrimSuffix(name, filepath.Ext(name))

	var sep string
	for _, candidate := range []string{"_", " ", "-", "."} {
		if strings.Contains(name, candidate) {
			sep = candidate
			break
		}
	}
	if sep == "" {
		return nil
	}

	var keywords []string
	for _, word := range strings.Split(name, sep)[1:] {
		if len(word) < 2 || strings.IndexFunc(word, isNotAlnum) >= 0 {
			continue
		}
		keywords = append(keywords, strings.ToLower(word))
	}
	return keywords
}

func isNotAlnum(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
