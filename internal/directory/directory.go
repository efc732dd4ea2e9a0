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

// Package directory resolves tag/offset/length record directories to byte
// ranges without interpreting payloads. It is the engine behind the
// flat-table containers (Topcon FDA/FDS, Bioptigen, Optovue); the
// Heidelberg chunk chain is a variant built on the same Entry shape in
// package e2e.
package directory

import (
	"sort"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/oct"
)

// Key is the compound record key carried by chain-style containers:
// patient, study, and series identifiers plus a slice id whose meaning is
// record-type dependent. Flat-table containers leave it zero.
type Key struct {
	Patient uint32
	Study   uint32
	Series  uint32
	Slice   int32
}

// Entry locates one record in the file. Entries are immutable once
// produced; Index preserves arrival order during directory enumeration,
// which matters for formats whose slice order is not explicit.
type Entry struct {
	Tag    uint32
	Offset uint64
	Length uint64
	Key    Key
	Index  int
}

// Table maps record tags to their entries in arrival order. Unknown tags
// are retained as opaque entries rather than dropped, so later extraction
// logic can target them without re-parsing the file.
type Table struct {
	byTag map[uint32][]Entry
	count int
}

// Entries returns the entries recorded for tag, in arrival order.
func (t *Table) Entries(tag uint32) []Entry { return t.byTag[tag] }

// Tags returns every tag present, sorted.
func (t *Table) Tags() []uint32 {
	tags := make([]uint32, 0, len(t.byTag))
	for tag := range t.byTag {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Len returns the total number of entries.
func (t *Table) Len() int { return t.count }

// RecordFunc decodes one fixed-size directory record at the cursor's
// current position into an Entry. The walker owns record framing; the
// func only interprets fields.
type RecordFunc func(c *cursor.Cursor) (Entry, error)

// Walk reads count fixed-size directory records of recordSize bytes from
// the cursor's current position. Records whose byte range falls outside
// the buffer are skipped and reported as warnings, not fatal: a single
// corrupt record must not abort extraction of the rest of the file. A
// truncated directory (the records themselves run off the buffer) ends
// the walk with a warning and returns the entries gathered so far.
func Walk(c *cursor.Cursor, count int, recordSize int64, record RecordFunc) (*Table, []oct.Warning) {
	t := &Table{byTag: map[uint32][]Entry{}}
	var warnings []oct.Warning

	for i := 0; i < count; i++ {
		recordStart := c.Tell()
		if c.Remaining() < recordSize {
			warnings = append(warnings, oct.Warnf(recordStart,
				"directory truncated: %d of %d records read", i, count))
			break
		}

		entry, err := record(c)
		if err != nil {
			warnings = append(warnings, oct.Warnf(recordStart,
				"directory record %d: %v", i, err))
			if err := c.SeekTo(recordStart + recordSize); err != nil {
				break
			}
			continue
		}
		// Re-frame regardless of how many bytes the RecordFunc consumed.
		if err := c.SeekTo(recordStart + recordSize); err != nil {
			warnings = append(warnings, oct.Warnf(recordStart, "directory truncated after record %d", i))
			break
		}

		if entry.Offset > uint64(c.Len()) || entry.Length > uint64(c.Len())-entry.Offset {
			warnings = append(warnings, oct.Warnf(recordStart,
				"directory record %d (tag %#x): range [%d, +%d) exceeds %d-byte buffer",
				i, entry.Tag, entry.Offset, entry.Length, c.Len()))
			continue
		}

		entry.Index = t.count
		t.byTag[entry.Tag] = append(t.byTag[entry.Tag], entry)
		t.count++
	}

	return t, warnings
}
