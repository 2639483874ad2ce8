// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package arena implements a bump-allocated heap on top of a single
// memory-mapped file, with a small sidecar metadata file recording the
// allocation cursor and a list of named root handles.
//
// An arena file looks like:
//
//	┌───────────────────┐  offset 0
//	│ magic | cursor    │  16-byte data header
//	├───────────────────┤
//	│ allocations,      │
//	│ bump-allocated in │
//	│ call order        │
//	├───────────────────┤  Metadata.MaxAllocated
//	│ zero-filled slack │
//	└───────────────────┘  Capacity()
//
// The only way back into the allocations after a restart is through the
// roots saved in the sidecar (see [MetaPath]).  The header's cursor copy is
// written on every allocation, before the caller can link the new chunk
// into anything, so a process that dies between sidecar saves leaves a
// cursor that Open can recover.  Freed chunks are never reused.
//
// An Arena is not safe for concurrent use; callers that share one across
// goroutines must serialize access themselves.
package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	// InitialCapacity is the size of a freshly created data file.
	InitialCapacity ByteLength = 2 * 1024 * 1024

	// the file grows in sections, with some slack on top of what was asked
	// for so a run of small allocations doesn't remap on every call.
	sectionSize    = 1024
	resizeSlack    = 2048
	growthHeadroom = 1024 * 1024

	dataMagic      = 0x316573706d696c67 // "glimpse1" read little-endian
	dataHeaderSize = 16
)

var (
	ErrReadOnly = errors.New("arena: opened read-only")
	ErrClosed   = errors.New("arena: closed")
)

// Option configures an Arena.
type Option func(*options)

type options struct {
	logger          *slog.Logger
	readOnly        bool
	initialCapacity ByteLength
}

// WithLogger sets an optional logger for resize and lifecycle events.
// If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithReadOnly maps the data file read-only.  Allocations fail with
// ErrReadOnly and the sidecar is never rewritten.
func WithReadOnly() Option {
	return func(opts *options) {
		opts.readOnly = true
	}
}

// WithInitialCapacity overrides the size of a newly created data file.
func WithInitialCapacity(n ByteLength) Option {
	return func(opts *options) {
		opts.initialCapacity = n
	}
}

// Arena owns the mapping of a data file and its metadata.
type Arena struct {
	path     string
	f        *os.File
	data     []byte
	capacity ByteLength
	meta     *Metadata
	logger   *slog.Logger
	readOnly bool

	// borrows counts views into data that are still live; a resize with
	// any outstanding would leave them pointing at an unmapped region.
	borrows int
	// freed is the number of bytes handed back with Free this session.
	freed ByteLength
}

// Open maps the data file at path, creating it zero-filled if it doesn't
// exist, and loads (or creates) its sidecar metadata.
func Open(path string, opts ...Option) (*Arena, error) {
	var options options
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	options.initialCapacity = InitialCapacity
	for _, opt := range opts {
		opt(&options)
	}

	if filepath.Ext(path) == MetaExt {
		return nil, fmt.Errorf("arena path %q uses the reserved metadata extension", path)
	}
	if options.initialCapacity < dataHeaderSize {
		return nil, fmt.Errorf("arena: initial capacity %d smaller than the %d byte header", options.initialCapacity, dataHeaderSize)
	}

	created, err := createIfMissing(path, options.initialCapacity, options.readOnly)
	if err != nil {
		return nil, err
	}

	flag := os.O_RDWR
	if options.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}

	a := &Arena{
		path:     path,
		f:        f,
		logger:   options.logger,
		readOnly: options.readOnly,
	}
	if err := a.mmap(); err != nil {
		_ = f.Close()
		return nil, err
	}

	metaPath := MetaPath(path)
	if _, err := os.Stat(metaPath); err == nil {
		if a.meta, err = loadMetadata(metaPath); err != nil {
			_ = a.unmap()
			_ = f.Close()
			return nil, err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		a.meta = newMetadata(metaPath)
		if !a.readOnly {
			if err := a.meta.save(); err != nil {
				_ = a.unmap()
				_ = f.Close()
				return nil, fmt.Errorf("meta.save: %w", err)
			}
		}
	} else {
		_ = a.unmap()
		_ = f.Close()
		return nil, fmt.Errorf("os.Stat(%s): %w", metaPath, err)
	}

	if err := a.recoverCursor(); err != nil {
		_ = a.unmap()
		_ = f.Close()
		return nil, err
	}

	if ByteLength(a.meta.MaxAllocated) > a.capacity {
		_ = a.unmap()
		_ = f.Close()
		return nil, fmt.Errorf("metadata %s: max allocated %d beyond data file capacity %d: store corrupted", metaPath, a.meta.MaxAllocated, a.capacity)
	}

	a.logger.Debug("arena opened",
		"path", path,
		"created", created,
		"capacity", uint64(a.capacity),
		"maxAllocated", uint64(a.meta.MaxAllocated),
		"roots", len(a.meta.Roots))

	return a, nil
}

func createIfMissing(path string, capacity ByteLength, readOnly bool) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("os.Stat(%s): %w", path, err)
	}
	if readOnly {
		return false, fmt.Errorf("arena %s does not exist: %w", path, os.ErrNotExist)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("os.MkdirAll(%s): %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return false, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	// ftruncate extends with zeroes
	if err := f.Truncate(int64(capacity)); err != nil {
		return false, errors.Join(fmt.Errorf("f.Truncate: %w", err), f.Close())
	}
	if err := f.Sync(); err != nil {
		return false, errors.Join(fmt.Errorf("f.Sync: %w", err), f.Close())
	}
	return true, f.Close()
}

func (a *Arena) mmap() error {
	stat, err := a.f.Stat()
	if err != nil {
		return fmt.Errorf("f.Stat: %w", err)
	}
	size := stat.Size()
	if size < dataHeaderSize {
		return fmt.Errorf("data file %s is truncated (%d bytes)", a.path, size)
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	if a.readOnly {
		prot = unix.PROT_READ
	}
	data, err := unix.Mmap(int(a.f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("unix.Mmap(%s, %d): %w", a.path, size, err)
	}
	// access to arena structures is pointer chasing, not scanning
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return fmt.Errorf("madvise: %w", err)
	}

	a.data = data
	a.capacity = ByteLength(size)
	return nil
}

// recoverCursor reconciles the sidecar's cursor with the copy in the data
// header, which is ahead of it if the last session ended without saving
// metadata.  A fresh file gets its header here.
func (a *Arena) recoverCursor() error {
	magic := binary.LittleEndian.Uint64(a.data[0:8])
	switch {
	case magic == dataMagic:
		cursor := Address(binary.LittleEndian.Uint64(a.data[8:16]))
		if cursor > a.meta.MaxAllocated {
			a.logger.Warn("recovered allocation cursor from data file",
				"path", a.path,
				"sidecar", uint64(a.meta.MaxAllocated),
				"recovered", uint64(cursor))
			a.meta.MaxAllocated = cursor
		}
	case magic == 0 && a.meta.MaxAllocated == 0:
		a.meta.MaxAllocated = dataHeaderSize
		if !a.readOnly {
			binary.LittleEndian.PutUint64(a.data[0:8], dataMagic)
			a.storeCursor()
		}
	default:
		return fmt.Errorf("data file %s: bad header magic (%x) -- not a glimpse arena or corrupted", a.path, magic)
	}
	if a.meta.MaxAllocated < dataHeaderSize {
		return fmt.Errorf("metadata for %s: max allocated %d inside the data header: store corrupted", a.path, a.meta.MaxAllocated)
	}
	return nil
}

func (a *Arena) storeCursor() {
	binary.LittleEndian.PutUint64(a.data[8:16], uint64(a.meta.MaxAllocated))
}

func (a *Arena) unmap() error {
	if a.data == nil {
		return nil
	}
	data := a.data
	a.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("unix.Munmap: %w", err)
	}
	return nil
}

// Path returns the path of the data file.
func (a *Arena) Path() string {
	return a.path
}

// Capacity returns the current size of the data file in bytes.
func (a *Arena) Capacity() ByteLength {
	return a.capacity
}

// MaxAllocated returns the allocation cursor: every byte below it has been
// handed out.
func (a *Arena) MaxAllocated() Address {
	return a.meta.MaxAllocated
}

// FreedBytes returns the number of bytes freed since the arena was opened.
// Freed space is never reused.
func (a *Arena) FreedBytes() ByteLength {
	return a.freed
}

// ReadOnly reports whether the arena was opened with WithReadOnly.
func (a *Arena) ReadOnly() bool {
	return a.readOnly
}

// Allocate reserves length bytes aligned to align, growing the data file if
// needed.
func (a *Arena) Allocate(length ByteLength, align uint64) (Chunk, error) {
	if a.data == nil {
		return Chunk{}, ErrClosed
	}
	if a.readOnly {
		return Chunk{}, ErrReadOnly
	}

	start := a.meta.MaxAllocated.AlignUp(align)
	end := start.Offset(length)
	if ByteLength(end) > a.capacity {
		if err := a.resize(ByteLength(end) + growthHeadroom); err != nil {
			return Chunk{}, err
		}
	}
	if ByteLength(end) > a.capacity {
		panic(fmt.Errorf("invariant broken: chunk end %d beyond capacity %d after resize", end, a.capacity))
	}
	a.meta.MaxAllocated = end
	a.storeCursor()

	return Chunk{
		Start:     start,
		Length:    length,
		Allocated: true,
	}, nil
}

// Free marks chunk as no longer in use.  The space is not reclaimed.
func (a *Arena) Free(chunk Chunk) {
	if !chunk.Allocated {
		panic(fmt.Errorf("invariant broken: free of unallocated %s", chunk))
	}
	if chunk.End() > a.meta.MaxAllocated {
		panic(fmt.Errorf("invariant broken: free of %s beyond max allocated %d", chunk, a.meta.MaxAllocated))
	}
	a.freed += chunk.Length
}

// resize grows the data file to at least want bytes and remaps it.  Every
// slice previously taken from the mapping is invalid afterwards, so it is a
// programming error to get here with a borrow outstanding.
func (a *Arena) resize(want ByteLength) error {
	if a.borrows > 0 {
		panic(fmt.Errorf("invariant broken: resize with %d outstanding borrows", a.borrows))
	}

	newCapacity := (want/sectionSize+1)*sectionSize + resizeSlack

	if err := a.meta.save(); err != nil {
		return fmt.Errorf("meta.save: %w", err)
	}
	if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("unix.Msync: %w", err)
	}
	if err := a.unmap(); err != nil {
		return a.fail(err)
	}
	if err := a.f.Truncate(int64(newCapacity)); err != nil {
		return a.fail(fmt.Errorf("f.Truncate(%d): %w", newCapacity, err))
	}
	oldCapacity := a.capacity
	if err := a.mmap(); err != nil {
		return a.fail(err)
	}

	a.logger.Info("arena resized",
		"path", a.path,
		"from", uint64(oldCapacity),
		"to", uint64(a.capacity),
		"mib", uint64(a.capacity)/(1024*1024))
	return nil
}

// fail closes the backing file after a failed remap: there is no mapping to
// keep using.
func (a *Arena) fail(err error) error {
	a.data = nil
	return errors.Join(err, a.f.Close())
}

// Flush writes dirty pages of the mapping back to the data file and saves
// the sidecar metadata.
func (a *Arena) Flush() error {
	if a.data == nil {
		return ErrClosed
	}
	if a.readOnly {
		return nil
	}
	if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("unix.Msync: %w", err)
	}
	if err := a.meta.save(); err != nil {
		return fmt.Errorf("meta.save: %w", err)
	}
	return nil
}

// SaveMeta persists the sidecar metadata without syncing the mapping.
func (a *Arena) SaveMeta() error {
	if a.readOnly {
		return nil
	}
	return a.meta.save()
}

// Close flushes and unmaps the arena.  Closing twice is a no-op.
func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}
	if a.borrows > 0 {
		panic(fmt.Errorf("invariant broken: close with %d outstanding borrows", a.borrows))
	}
	flushErr := a.Flush()
	unmapErr := a.unmap()
	closeErr := a.f.Close()
	return errors.Join(flushErr, unmapErr, closeErr)
}

// Roots returns a copy of the named roots, in the order they were first set.
func (a *Arena) Roots() []Root {
	roots := make([]Root, len(a.meta.Roots))
	copy(roots, a.meta.Roots)
	return roots
}

// RootCount returns the number of named roots.
func (a *Arena) RootCount() int {
	return len(a.meta.Roots)
}

func (a *Arena) setRoot(r Root) error {
	if a.readOnly {
		return ErrReadOnly
	}
	a.meta.setRoot(r)
	if err := a.meta.save(); err != nil {
		return fmt.Errorf("meta.save: %w", err)
	}
	return nil
}

// Reset deletes the data file at path and its sidecar.  Missing files are
// not an error.
func Reset(path string) error {
	var errs []error
	for _, p := range []string{path, MetaPath(path)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("os.Remove(%s): %w", p, err))
		}
	}
	return errors.Join(errs...)
}
