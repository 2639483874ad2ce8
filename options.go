// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package glimpse

import (
	"io"
	"log/slog"
)

// DefaultMaxResults is the number of results Index.Get returns unless
// WithMaxResults says otherwise.
const DefaultMaxResults = 20

// Option configures an Index or Table.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	maxResults int
	biases     BiasSource
	locks      *LockManager
}

func newOptions(opts []Option) options {
	var o options
	o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	o.maxResults = DefaultMaxResults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets an optional logger for store lifecycle events.
// If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithMaxResults sets how many results Index.Get returns.
func WithMaxResults(n int) Option {
	return func(opts *options) {
		opts.maxResults = n
	}
}

// WithBiases supplies per-item score adjustments to Index.Get.
func WithBiases(b BiasSource) Option {
	return func(opts *options) {
		opts.biases = b
	}
}

// WithLockManager shares a lock manager between stores, so one ReleaseAll
// can drop every lock on shutdown.  An Index without one gets its own.
func WithLockManager(m *LockManager) Option {
	return func(opts *options) {
		opts.locks = m
	}
}
