// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
	"gopkg.in/yaml.v3"

	"github.com/bpowers/glimpse"
)

type config struct {
	// Dir holds one <name>.db file per store.
	Dir string `yaml:"dir"`

	MaxResults  int           `yaml:"max_results"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	ImportJobs  int           `yaml:"import_jobs"`
	BiasStep    float32       `yaml:"bias_step"`

	// IdentityHash names the hash biases are keyed by: xxhash or murmur3.
	// Changing it orphans existing biases.
	IdentityHash string `yaml:"identity_hash"`
	// Salt keeps ids from different launchers sharing a bias table apart.
	Salt string `yaml:"salt"`
}

func defaultConfig() config {
	dir := ".glimpse"
	if cache, err := os.UserCacheDir(); err == nil {
		dir = filepath.Join(cache, "glimpse")
	}
	return config{
		Dir:          dir,
		MaxResults:   glimpse.DefaultMaxResults,
		LockTimeout:  time.Minute,
		IdentityHash: "xxhash",
		ImportJobs:   4,
		BiasStep:     0.5,
	}
}

// loadConfig overlays the YAML file at path on the defaults.  A missing
// file is not an error.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return cfg, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("yaml.Unmarshal(%s): %w", path, err)
	}
	if _, err := cfg.identity(); err != nil {
		return cfg, err
	}
	if cfg.MaxResults <= 0 {
		return cfg, fmt.Errorf("%s: max_results must be positive, got %d", path, cfg.MaxResults)
	}
	if cfg.ImportJobs <= 0 {
		cfg.ImportJobs = 1
	}
	return cfg, nil
}

func (c config) storePath(name string) string {
	return filepath.Join(c.Dir, name+".db")
}

func (c config) identity() (glimpse.IdentityHash, error) {
	salt := c.Salt
	switch c.IdentityHash {
	case "", "xxhash":
		return func(item string) uint64 {
			return xxhash.Sum64([]byte(salt + item))
		}, nil
	case "murmur3":
		return func(item string) uint64 {
			return murmur3.Sum64([]byte(salt + item))
		}, nil
	default:
		return nil, fmt.Errorf("unknown identity_hash %q", c.IdentityHash)
	}
}
