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

// Package topcon reads Topcon .fda and .fds files. Both share one
// container: a fixed ASCII magic naming the vendor format, two version
// words, and a counted directory of tag/offset/length records addressing
// the chunks. Chunk tags repeat (one record per B-scan, one per fundus
// channel); unknown tags are retained as opaque directory entries.
package topcon

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/internal/directory"
	"github.com/retinalab/octfile/oct"
)

// containerMagic opens every Topcon file; the subtype word after it
// names the flavor.
const (
	containerMagic = "FOCT"
	subtypeFDA     = "FDA "
	subtypeFDS     = "FDS "

	headerSize     = 20 // magic + subtype + 2 version words + entry count
	dirRecordSize  = 20 // tag u32 + offset u64 + length u64
)

// Directory record tags with known extraction logic. Anything else stays
// in the directory as an opaque entry.
const (
	TagFileInfo      uint32 = 0x0001
	TagHardwareInfo  uint32 = 0x0002
	TagPatientInfo   uint32 = 0x0003
	TagCaptureInfo   uint32 = 0x0004
	TagOCTSlice      uint32 = 0x0010
	TagFundusChannel uint32 = 0x0011
	TagContour       uint32 = 0x0012
)

// Reader decodes one Topcon file. A Reader owns its buffer for the
// duration of the reads and holds no state across files; decode one file
// per Reader and use separate Readers for parallel decodes.
type Reader struct {
	c       *cursor.Cursor
	table   *directory.Table
	subtype string

	// dirWarnings are directory-level problems (skipped records); they are
	// attached to every entity the reader produces.
	dirWarnings []oct.Warning
}

// OpenFDA reads an .fda file from disk.
func OpenFDA(path string) (*Reader, error) {
	return open(path, subtypeFDA)
}

// OpenFDS reads an .fds file from disk.
func OpenFDS(path string) (*Reader, error) {
	return open(path, subtypeFDS)
}

func open(path, subtype string) (*Reader, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	return newReader(buf, subtype)
}

// NewFDAReader decodes an .fda file already held in memory.
func NewFDAReader(buf []byte) (*Reader, error) {
	return newReader(buf, subtypeFDA)
}

// NewFDSReader decodes an .fds file already held in memory.
func NewFDSReader(buf []byte) (*Reader, error) {
	return newReader(buf, subtypeFDS)
}

func newReader(buf []byte, subtype string) (*Reader, error) {
	c := cursor.New(buf)

	magic, err := c.FixedString(4, nil)
	if err != nil || magic != containerMagic {
		return nil, fmt.Errorf("no %q signature: %w", containerMagic, oct.ErrUnrecognizedFormat)
	}
	sub, err := c.Bytes(4)
	if err != nil || string(sub) != subtype {
		return nil, fmt.Errorf("subtype %q, want %q: %w", sub, subtype, oct.ErrUnrecognizedFormat)
	}
	// Major and minor versions; layout is identical across known versions.
	if err := c.Skip(8); err != nil {
		return nil, fmt.Errorf("truncated header: %w", oct.ErrUnrecognizedFormat)
	}
	count, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("truncated header: %w", oct.ErrUnrecognizedFormat)
	}

	table, warnings := directory.Walk(c, int(count), dirRecordSize, readDirRecord)
	if table.Len() == 0 {
		return nil, fmt.Errorf("empty chunk directory: %w", oct.ErrUnrecognizedFormat)
	}

	return &Reader{c: c, table: table, subtype: subtype, dirWarnings: warnings}, nil
}

func readDirRecord(c *cursor.Cursor) (directory.Entry, error) {
	tag, err := c.Uint32(binary.LittleEndian)
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
	return directory.Entry{Tag: tag, Offset: offset, Length: length}, nil
}
