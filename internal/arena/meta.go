// Copyright 2024 The glimpse Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package arena

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgryski/go-farm"
	"github.com/fxamacker/cbor/v2"
)

const (
	metaMagic         = 0xC0FFEE1D
	metaFormatVersion = 1
	metaHeaderSize    = 32

	// MetaExt is the extension that replaces the data file's extension to
	// form the path of its sidecar metadata file.
	MetaExt = ".dbmeta1"
)

var errBadMetaHeader = errors.New("bad metadata header")

// Root is a named handle recorded in the sidecar so a top-level structure
// can be found again after the store is reopened.
type Root struct {
	Name  string       `cbor:"name"`
	Chunk Chunk        `cbor:"chunk"`
	Len   ElementCount `cbor:"len"`
}

// Metadata is the sidecar record: the next free offset and the ordered list
// of named roots.
type Metadata struct {
	Path         string  `cbor:"path"`
	MaxAllocated Address `cbor:"max_allocated"`
	Roots        []Root  `cbor:"roots"`
}

// MetaPath returns the sidecar path for the data file at path.
func MetaPath(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + MetaExt
}

// metaBody is the CBOR form of Metadata.  It has no methods, so the
// encoder doesn't call back into MarshalBinary.
type metaBody Metadata

func newMetadata(path string) *Metadata {
	return &Metadata{Path: path}
}

// MarshalBinary encodes the metadata behind a fixed 32-byte header:
//
//	 0    4    8        16       24       32
//	+----+----+--------+--------+--------+
//	|mgc |ver | bodyLen| farm64 | unused |
//	+----+----+--------+--------+--------+
//	| CBOR body ...                      |
//	+------------------------------------+
func (m *Metadata) MarshalBinary() ([]byte, error) {
	body, err := cbor.Marshal((*metaBody)(m))
	if err != nil {
		return nil, fmt.Errorf("cbor.Marshal: %w", err)
	}
	buf := make([]byte, metaHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], metaMagic)
	binary.LittleEndian.PutUint32(buf[4:8], metaFormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(body)))
	binary.LittleEndian.PutUint64(buf[16:24], farm.Hash64(body))
	copy(buf[metaHeaderSize:], body)
	return buf, nil
}

// UnmarshalBinary decodes metadata written by MarshalBinary, verifying the
// magic number, format version and checksum.
func (m *Metadata) UnmarshalBinary(b []byte) error {
	if len(b) < metaHeaderSize {
		return fmt.Errorf("%w: %d bytes < %d", errBadMetaHeader, len(b), metaHeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != metaMagic {
		return fmt.Errorf("%w: bad magic number (%x) -- not a glimpse metadata file or corrupted", errBadMetaHeader, magic)
	}
	if version := binary.LittleEndian.Uint32(b[4:8]); version != metaFormatVersion {
		return fmt.Errorf("%w: this version of glimpse can only read v%d metadata; found v%d", errBadMetaHeader, metaFormatVersion, version)
	}
	bodyLen := binary.LittleEndian.Uint64(b[8:16])
	if uint64(len(b)-metaHeaderSize) != bodyLen {
		return fmt.Errorf("%w: body length %d, expected %d", errBadMetaHeader, len(b)-metaHeaderSize, bodyLen)
	}
	body := b[metaHeaderSize:]
	if expected, actual := binary.LittleEndian.Uint64(b[16:24]), farm.Hash64(body); expected != actual {
		return fmt.Errorf("%w: checksum failed (%d != %d): metadata corrupted", errBadMetaHeader, expected, actual)
	}
	var decoded metaBody
	if err := cbor.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("cbor.Unmarshal: %w", err)
	}
	*m = Metadata(decoded)
	return nil
}

func loadMetadata(path string) (*Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}
	m := new(Metadata)
	if err := m.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("metadata %s: %w", path, err)
	}
	// the store may have been copied or moved; the path we loaded from wins
	m.Path = path
	return m, nil
}

// save writes the metadata to a temporary file next to m.Path and renames
// it into place, so a crash mid-write leaves the previous record intact.
func (m *Metadata) save() error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(m.Path), "glimpse-meta.*.tmp")
	if err != nil {
		return fmt.Errorf("os.CreateTemp: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		return errors.Join(fmt.Errorf("f.Write: %w", err), f.Close(), os.Remove(f.Name()))
	}
	if err := f.Sync(); err != nil {
		return errors.Join(fmt.Errorf("f.Sync: %w", err), f.Close(), os.Remove(f.Name()))
	}
	if err := f.Close(); err != nil {
		return errors.Join(fmt.Errorf("f.Close: %w", err), os.Remove(f.Name()))
	}
	if err := os.Rename(f.Name(), m.Path); err != nil {
		return errors.Join(fmt.Errorf("os.Rename: %w", err), os.Remove(f.Name()))
	}
	return nil
}

func (m *Metadata) root(name string) (Root, bool) {
	for _, r := range m.Roots {
		if r.Name == name {
			return r, true
		}
	}
	return Root{}, false
}

func (m *Metadata) setRoot(r Root) {
	for i := range m.Roots {
		if m.Roots[i].Name == r.Name {
			m.Roots[i] = r
			return
		}
	}
	m.Roots = append(m.Roots, r)
}
