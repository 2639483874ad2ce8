// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command gen-testdata writes "key:payload" lines suitable for
// `glimpse import`: made-up file names mapped to paths.
package main

import (
	"bufio"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

const hmacKey = "d259c7f656caf7f1"

var (
	syllables  = []string{"fi", "re", "fox", "ter", "mi", "nal", "gim", "pa", "ka", "lo", "su", "ne", "dro", "vi", "qu"}
	separators = []string{"_", "-", " ", ""}
	extensions = []string{".txt", ".pdf", ".png", ".desktop", ".tar.gz", ""}
)

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := crand.Read(seedBytes[:]); err != nil {
			panic(err)
		}
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

func word(rng *rand.Rand) string {
	var sb strings.Builder
	for n := 1 + rng.Intn(3); n > 0; n-- {
		sb.WriteString(syllables[rng.Intn(len(syllables))])
	}
	return sb.String()
}

func name(rng *rand.Rand) string {
	sep := separators[rng.Intn(len(separators))]
	words := make([]string, 1+rng.Intn(3))
	for i := range words {
		words[i] = word(rng)
	}
	return strings.Join(words, sep) + extensions[rng.Intn(len(extensions))]
}

func main() {
	n := flag.Int("n", 100000, "number of lines to generate")
	seed := flag.Int64("seed", 0, "random seed (0 picks one)")
	flag.Parse()

	rng := newRand(*seed)
	h := hmac.New(sha256.New, []byte(hmacKey))
	w := bufio.NewWriter(os.Stdout)

	for i := 0; i < *n; i++ {
		key := name(rng)
		h.Reset()
		h.Write([]byte(key))
		dir := hex.EncodeToString(h.Sum(nil))[:8]

		if _, err := fmt.Fprintf(w, "%s:/home/user/%s/%s\n", key, dir, key); err != nil {
			panic(err)
		}
	}
	if err := w.Flush(); err != nil {
		panic(err)
	}
}
