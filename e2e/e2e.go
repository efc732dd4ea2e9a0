// Copyright 2024 The octfile Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package e2e reads Heidelberg .e2e files. The container is not a flat
// table: directory blocks form a linked list threaded backwards through
// the file, each block holding fixed-size entries that address data
// chunks. Every chunk repeats a compound key (patient, study, series,
// slice) whose meaning depends on the chunk type; one file routinely
// holds several volumes from several visits.
//
// The layout is reverse engineered; unknown header words are skipped, and
// chunks of unknown type are kept in the directory as opaque entries.
package e2e

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/internal/directory"
	"github.com/retinalab/octfile/oct"
)

const (
	headerMagic    = "CMDb"
	directoryMagic = "MDbMDir"
	chunkMagic     = "MDbData"

	fileHeaderSize  = 36
	dirBlockSize    = 52
	dirEntrySize    = 44
	chunkHeaderSize = 60
)

// Chunk types with known extraction logic.
const (
	typePatient    uint32 = 9
	typeLaterality uint32 = 11
	typeBScanMeta  uint32 = 10004
	typeContour    uint32 = 10019
	typeImage      uint32 = 0x40000000
)

// Reader decodes one .e2e file. One Reader per file; Readers share
// nothing, so callers may decode many files in parallel.
type Reader struct {
	c       *cursor.Cursor
	entries []directory.Entry

	// chainWarnings are traversal-level problems (broken pointer chains,
	// skipped entries); attached to every entity the file yields.
	chainWarnings []oct.Warning
}

// Open reads an .e2e file from disk.
func Open(path string) (*Reader, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	return NewReader(buf)
}

// NewReader decodes an .e2e file already held in memory. The directory
// chain is walked once, eagerly, so structural failures (bad magic, no
// usable directory) surface here rather than on the read calls.
func NewReader(buf []byte) (*Reader, error) {
	c := cursor.New(buf)

	magic, err := c.FixedString(12, nil)
	if err != nil || magic != headerMagic {
		return nil, fmt.Errorf("no %q signature: %w", headerMagic, oct.ErrUnrecognizedFormat)
	}
	if err := c.Skip(24); err != nil { // version + reserved words
		return nil, fmt.Errorf("truncated file header: %w", oct.ErrUnrecognizedFormat)
	}

	root, err := readDirBlockHeader(c)
	if err != nil {
		return nil, fmt.Errorf("root directory: %v: %w", err, oct.ErrUnrecognizedFormat)
	}

	r := &Reader{c: c}
	r.traverseChain(root.current)
	if len(r.entries) == 0 {
		if len(r.chainWarnings) > 0 {
			return nil, fmt.Errorf("no usable directory entries: %w", oct.ErrMalformedChunkChain)
		}
		return nil, fmt.Errorf("empty chunk directory: %w", oct.ErrUnrecognizedFormat)
	}
	return r, nil
}

// dirBlockHeader is the fixed head of every directory block, including
// the root block that immediately follows the file header.
type dirBlockHeader struct {
	numEntries uint32
	current    uint32
	prev       uint32
}

func readDirBlockHeader(c *cursor.Cursor) (dirBlockHeader, error) {
	var h dirBlockHeader
	magic, err := c.FixedString(12, nil)
	if err != nil {
		return h, err
	}
	if magic != directoryMagic {
		return h, fmt.Errorf("directory magic %q, want %q", magic, directoryMagic)
	}
	if err := c.Skip(24); err != nil { // version + reserved words
		return h, err
	}
	if h.numEntries, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if h.current, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if h.prev, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if err := c.Skip(4); err != nil {
		return h, err
	}
	return h, nil
}

// traverseChain follows the directory block chain starting at the root's
// current pointer. Each block points to its predecessor; a null pointer
// ends the chain. A visited-offset set bounds the walk so a corrupted or
// cyclic pointer chain terminates instead of looping: the cycle is
// reported and the entries gathered so far are kept.
func (r *Reader) traverseChain(head uint32) {
	visited := make(map[uint32]bool)
	for pos := head; pos != 0; {
		if visited[pos] {
			r.chainWarnings = append(r.chainWarnings, oct.Warnf(int64(pos),
				"directory block chain revisits offset %d: %v", pos, oct.ErrMalformedChunkChain))
			return
		}
		visited[pos] = true

		if err := r.c.SeekTo(int64(pos)); err != nil {
			r.chainWarnings = append(r.chainWarnings, oct.Warnf(int64(pos),
				"directory block pointer outside buffer: %v", oct.ErrMalformedChunkChain))
			return
		}
		block, err := readDirBlockHeader(r.c)
		if err != nil {
			r.chainWarnings = append(r.chainWarnings, oct.Warnf(int64(pos),
				"directory block: %v", err))
			return
		}

		r.collectEntries(block)
		pos = block.prev
	}
}

// collectEntries reads the fixed-size entries following a block header.
// Entries that do not address a real chunk (null start, or a range past
// the end of the buffer) are skipped; a bad entry never aborts the block.
func (r *Reader) collectEntries(block dirBlockHeader) {
	for i := uint32(0); i < block.numEntries; i++ {
		at := r.c.Tell()
		entry, err := readDirEntry(r.c)
		if err != nil {
			r.chainWarnings = append(r.chainWarnings, oct.Warnf(at,
				"directory entry %d: %v", i, err))
			return // entries are contiguous; a short read means the rest are gone
		}
		if entry.Offset == 0 || entry.Length == 0 {
			continue // unfilled directory slot
		}
		if entry.Offset > uint64(r.c.Len()) || entry.Length > uint64(r.c.Len())-entry.Offset {
			r.chainWarnings = append(r.chainWarnings, oct.Warnf(at,
				"chunk range [%d, +%d) exceeds %d-byte buffer", entry.Offset, entry.Length, r.c.Len()))
			continue
		}
		entry.Index = len(r.entries)
		r.entries = append(r.entries, entry)
	}
}

// readDirEntry decodes one 44-byte sub-directory entry. The entry names
// the chunk's file position and payload size and repeats the compound key
// the chunk header carries.
func readDirEntry(c *cursor.Cursor) (directory.Entry, error) {
	pos, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return directory.Entry{}, err
	}
	start, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return directory.Entry{}, err
	}
	size, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return directory.Entry{}, err
	}
	if err := c.Skip(4); err != nil {
		return directory.Entry{}, err
	}
	var key directory.Key
	if key.Patient, err = c.Uint32(binary.LittleEndian); err != nil {
		return directory.Entry{}, err
	}
	if key.Study, err = c.Uint32(binary.LittleEndian); err != nil {
		return directory.Entry{}, err
	}
	if key.Series, err = c.Uint32(binary.LittleEndian); err != nil {
		return directory.Entry{}, err
	}
	if key.Slice, err = c.Int32(binary.LittleEndian); err != nil {
		return directory.Entry{}, err
	}
	if err := c.Skip(4); err != nil { // two reserved u16 words
		return directory.Entry{}, err
	}
	typ, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return directory.Entry{}, err
	}
	if err := c.Skip(4); err != nil {
		return directory.Entry{}, err
	}

	if start <= pos {
		// An entry whose start does not point past its own directory slot
		// is an unfilled placeholder.
		return directory.Entry{}, nil
	}
	return directory.Entry{
		Tag:    typ,
		Offset: uint64(start),
		Length: uint64(size) + chunkHeaderSize,
		Key:    key,
	}, nil
}
