// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package glimpse

import "fmt"

const (
	// MaxBias caps how far repeated selection can lift an item.
	MaxBias = 2.5

	biasBuckets = 512
)

// BiasSource supplies learned score adjustments, keyed by an item's
// identity hash.
type BiasSource interface {
	Bias(id uint64) float32
}

// Biases is a persistent BiasSource.  Each time a user picks a result the
// caller increments its bias, so it ranks higher next time.
type Biases struct {
	t *Table[Uint64, float32]
}

var _ BiasSource = (*Biases)(nil)

// OpenBiases opens or creates the bias table at path.
func OpenBiases(path string, opts ...Option) (*Biases, error) {
	t, err := OpenTable[Uint64, float32](path, biasBuckets, opts...)
	if err != nil {
		return nil, fmt.Errorf("OpenTable(%s): %w", path, err)
	}
	return &Biases{t: t}, nil
}

// Bias returns the bias for id, or 0 if it has none.
func (b *Biases) Bias(id uint64) float32 {
	v, _ := b.t.Get(Uint64(id))
	return v
}

// Increment adds amount to id's bias, capped at MaxBias, and returns the
// new value.
func (b *Biases) Increment(id uint64, amount float32) (float32, error) {
	return b.t.Update(Uint64(id), func(current float32, _ bool) float32 {
		return min(current+amount, MaxBias)
	})
}

// Len returns the number of items with a bias.
func (b *Biases) Len() int {
	return b.t.Len()
}

// Close flushes and closes the underlying table.
func (b *Biases) Close() error {
	return b.t.Close()
}
