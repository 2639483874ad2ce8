// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package arena

import "fmt"

// Address is a byte offset from the start of the arena.
type Address uint64

// ByteLength is a length in bytes.
type ByteLength uint64

// ElementCount is a number of elements of some arena-resident type.
type ElementCount uint64

// Offset returns the address n bytes past a.
func (a Address) Offset(n ByteLength) Address {
	return a + Address(n)
}

// AlignUp returns the first address >= a that is a multiple of align.
func (a Address) AlignUp(align uint64) Address {
	if align == 0 {
		panic("invariant broken: zero alignment")
	}
	rem := uint64(a) % align
	if rem == 0 {
		return a
	}
	return a + Address(align-rem)
}

// Times returns the byte length of n elements of size l.
func (l ByteLength) Times(n ElementCount) ByteLength {
	return l * ByteLength(n)
}

// Chunk describes a single allocation.  Freed chunks keep their range but
// have Allocated cleared; the space is never handed out again.
type Chunk struct {
	Start     Address
	Length    ByteLength
	Allocated bool
}

// End returns the first address past the chunk.
func (c Chunk) End() Address {
	return c.Start.Offset(c.Length)
}

// Overlaps reports whether the two chunks share any byte.
func (c Chunk) Overlaps(other Chunk) bool {
	if c.Length == 0 || other.Length == 0 {
		return false
	}
	return c.Start < other.End() && other.Start < c.End()
}

func (c Chunk) String() string {
	return fmt.Sprintf("chunk[%d:%d allocated=%t]", c.Start, c.End(), c.Allocated)
}
