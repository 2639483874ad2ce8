// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package similarity scores how well a candidate string matches a typed
// query.
package similarity

import (
	"strings"
	"unicode/utf8"
)

const (
	ExactBonus    = 8.0
	PrefixBonus   = 4.0
	ContainsBonus = 3.5
)

// Bias returns an extra score for a candidate, given its lowercased text.
// A nil Bias adds nothing.
type Bias func(item string) float32

// Score rates item against needle.  Both are lowercased first.  The base
// score is the fraction of the needle loosely matched in item, nudged up
// for shorter items, plus a bonus for an exact, prefix or substring match
// and whatever bias returns.  Candidates matching fewer than two
// characters of a multi-character needle score zero.
func Score(needle, item string, bias Bias) float32 {
	needle = strings.ToLower(needle)
	item = strings.ToLower(item)

	needleLen := utf8.RuneCountInString(needle)
	itemLen := utf8.RuneCountInString(item)
	matched := MatchedLoose(needle, item)
	if matched == 0 || (needleLen > 1 && matched < 2) {
		return 0
	}

	m := float32(matched)
	s := (m + m/float32(itemLen)) / float32(needleLen)

	switch {
	case item == needle:
		s += ExactBonus
	case strings.HasPrefix(item, needle):
		s += PrefixBonus
	case strings.Contains(item, needle):
		s += ContainsBonus
	}

	if bias != nil {
		s += bias(item)
	}
	return s
}

// MatchedLoose walks item left to right and counts how many characters of
// needle it finds in order, skipping item characters that don't match the
// next needle character.
func MatchedLoose(needle, item string) int {
	want := []rune(needle)
	matched := 0
	for _, c := range item {
		if matched >= len(want) {
			break
		}
		if want[matched] == c {
			matched++
		}
	}
	return matched
}
