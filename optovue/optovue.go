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

// Package optovue reads Optovue .OCT files. The layout mirrors the
// Bioptigen container, with 8-bit samples and the frame count last in
// the header.
package optovue

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/internal/directory"
	"github.com/retinalab/octfile/internal/pixel"
	"github.com/retinalab/octfile/oct"
)

const (
	magic = "POCT"

	frameRecordSize = 20 // index u32 + offset u64 + length u64
	frameTag        = 1
)

// Reader decodes one Optovue .OCT file.
type Reader struct {
	c          *cursor.Cursor
	table      *directory.Table
	width      int
	height     int
	laterality oct.Laterality

	dirWarnings []oct.Warning
}

// Open reads a .OCT file from disk.
func Open(path string) (*Reader, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	return NewReader(buf)
}

// NewReader decodes a .OCT file already held in memory.
func NewReader(buf []byte) (*Reader, error) {
	c := cursor.New(buf)

	sig, err := c.FixedString(4, nil)
	if err != nil || sig != magic {
		return nil, fmt.Errorf("no %q signature: %w", magic, oct.ErrUnrecognizedFormat)
	}
	if err := c.Skip(2); err != nil { // version
		return nil, fmt.Errorf("truncated header: %w", oct.ErrUnrecognizedFormat)
	}
	width, err1 := c.Uint32(binary.LittleEndian)
	height, err2 := c.Uint32(binary.LittleEndian)
	frames, err3 := c.Uint32(binary.LittleEndian)
	lat, err4 := c.Uint8()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, fmt.Errorf("truncated header: %w", oct.ErrUnrecognizedFormat)
	}
	if err := c.Skip(1); err != nil { // reserved
		return nil, fmt.Errorf("truncated header: %w", oct.ErrUnrecognizedFormat)
	}
	if frames == 0 || width == 0 || height == 0 {
		return nil, fmt.Errorf("empty cube geometry %dx%dx%d: %w",
			width, height, frames, oct.ErrUnrecognizedFormat)
	}

	table, warnings := directory.Walk(c, int(frames), frameRecordSize, readFrameRecord)
	if table.Len() == 0 {
		return nil, fmt.Errorf("empty frame directory: %w", oct.ErrUnrecognizedFormat)
	}

	r := &Reader{
		c: c, table: table,
		width: int(width), height: int(height),
		dirWarnings: warnings,
	}
	switch lat {
	case 'L':
		r.laterality = oct.LateralityLeft
	case 'R':
		r.laterality = oct.LateralityRight
	}
	return r, nil
}

func readFrameRecord(c *cursor.Cursor) (directory.Entry, error) {
	index, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return directory.Entry{}, err
	}
	offset, err := c.Uint64(binary.LittleEndian)
	if err != nil {
		return directory.Entry{}, err
	}
	length, err := c.Uint64(binary.LittleEndian)
	if err != nil {
		return directory.Entry{}, err
	}
	return directory.Entry{
		Tag:    frameTag,
		Offset: offset,
		Length: length,
		Key:    directory.Key{Slice: int32(index)},
	}, nil
}

// ReadOCTVolumes decodes the frame records into the file's single cube.
// A frame that fails to decode becomes a missing slice plus a warning.
func (r *Reader) ReadOCTVolumes() ([]*oct.Volume, error) {
	warnings := append([]oct.Warning{}, r.dirWarnings...)

	var slices []oct.IndexedSlice
	for _, entry := range r.table.Entries(frameTag) {
		payload, err := r.c.View(entry.Offset, entry.Length)
		var s *oct.Slice
		if err == nil {
			s, err = pixel.Gray8(payload, r.width, r.height)
		}
		if err != nil {
			warnings = append(warnings, oct.Warnf(int64(entry.Offset),
				"frame %d: %v", entry.Key.Slice, err))
			s = pixel.MissingSlice(r.width, r.height, 8)
		}
		slices = append(slices, oct.IndexedSlice{Index: int(entry.Key.Slice), Slice: s})
	}

	volume, err := oct.NewVolume("cube", slices)
	if err != nil {
		return nil, err
	}
	volume.Laterality = r.laterality
	volume.Warnings = warnings
	return []*oct.Volume{volume}, nil
}

// ReadFundusImages returns nothing: the format records no fundus data.
func (r *Reader) ReadFundusImages() ([]*oct.FundusImage, error) {
	return nil, nil
}
