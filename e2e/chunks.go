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

package e2e

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/internal/directory"
	"github.com/retinalab/octfile/oct"
)

// chunkHeader is the 60-byte head of every data chunk. It repeats the
// compound key from the directory entry; the header's own copy is the
// authoritative one for grouping.
type chunkHeader struct {
	size uint32
	key  directory.Key
	ind  uint16
	typ  uint32
}

func readChunkHeader(c *cursor.Cursor) (chunkHeader, error) {
	var h chunkHeader
	magic, err := c.FixedString(12, nil)
	if err != nil {
		return h, err
	}
	if magic != chunkMagic {
		return h, fmt.Errorf("chunk magic %q, want %q", magic, chunkMagic)
	}
	if err := c.Skip(8); err != nil { // two reserved words
		return h, err
	}
	if _, err := c.Uint32(binary.LittleEndian); err != nil { // chunk's own position
		return h, err
	}
	if h.size, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if err := c.Skip(4); err != nil {
		return h, err
	}
	if h.key.Patient, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if h.key.Study, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if h.key.Series, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if h.key.Slice, err = c.Int32(binary.LittleEndian); err != nil {
		return h, err
	}
	if h.ind, err = c.Uint16(binary.LittleEndian); err != nil {
		return h, err
	}
	if err := c.Skip(2); err != nil {
		return h, err
	}
	if h.typ, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if err := c.Skip(4); err != nil {
		return h, err
	}
	return h, nil
}

// volumeKey groups chunks belonging to one acquisition: metadata,
// contours, and slices may not be assumed shared across sibling volumes
// in the same file.
func volumeKey(k directory.Key) string {
	return fmt.Sprintf("%d_%d_%d", k.Patient, k.Study, k.Series)
}

// sliceIndex converts the on-disk slice id to a zero-based slice index.
// Slice ids are stored doubled; non-slice chunks carry a negative id,
// which maps to "no index" so assembly falls back to arrival order.
func sliceIndex(k directory.Key) int {
	if k.Slice <= 0 {
		return -1
	}
	return int(k.Slice)/2 - 1
}

// Patient names are single-byte text.
var textEncoding = charmap.Windows1252

// decodePatient reads the 127-byte patient identity block: given name,
// surname, birthdate, sex, and patient id. The birthdate is stored as a
// scaled Julian day number.
func decodePatient(c *cursor.Cursor) (*oct.Patient, error) {
	p := &oct.Patient{}
	var err error
	if p.GivenName, err = c.FixedString(31, textEncoding); err != nil {
		return nil, fmt.Errorf("given name: %v: %w", err, oct.ErrMetadataField)
	}
	if p.Surname, err = c.FixedString(66, textEncoding); err != nil {
		return nil, fmt.Errorf("surname: %v: %w", err, oct.ErrMetadataField)
	}
	rawDate, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return p, fmt.Errorf("birthdate: %v: %w", err, oct.ErrMetadataField)
	}
	sex, err := c.Uint8()
	if err != nil {
		return p, fmt.Errorf("sex: %v: %w", err, oct.ErrMetadataField)
	}
	switch sex {
	case 'M', 'F':
		p.Sex = string(rune(sex))
	}
	if p.ID, err = c.FixedString(25, textEncoding); err != nil {
		return p, fmt.Errorf("patient id: %v: %w", err, oct.ErrMetadataField)
	}

	// The stored value is 64 * (JDN + 14558805).
	if rawDate != 0 {
		jdn := int64(rawDate)/64 - 14558805
		if t, ok := fromJulianDay(jdn); ok {
			p.BirthDate = t
		} else {
			return p, fmt.Errorf("birthdate day number %d: %w", jdn, oct.ErrMetadataField)
		}
	}
	return p, nil
}

// fromJulianDay converts a Julian day number to a calendar date
// (Fliegel-Van Flandern).
func fromJulianDay(jdn int64) (time.Time, bool) {
	if jdn < 2262000 || jdn > 2500000 { // roughly years 1481..2132
		return time.Time{}, false
	}
	l := jdn + 68569
	n := 4 * l / 146097
	l = l - (146097*n+3)/4
	i := 4000 * (l + 1) / 1461001
	l = l - 1461*i/4 + 31
	j := 80 * l / 2447
	d := l - 2447*j/80
	l = j / 11
	m := j + 2 - 12*l
	y := 100*(n-49) + i + l
	return time.Date(int(y), time.Month(m), int(d), 0, 0, 0, 0, time.UTC), true
}

// decodeLaterality reads the 20-byte laterality block; the eye marker is
// a single ASCII byte at offset 14.
func decodeLaterality(c *cursor.Cursor) (oct.Laterality, error) {
	if err := c.Skip(14); err != nil {
		return oct.LateralityUnknown, fmt.Errorf("laterality block: %v: %w", err, oct.ErrMetadataField)
	}
	marker, err := c.Uint8()
	if err != nil {
		return oct.LateralityUnknown, fmt.Errorf("laterality block: %v: %w", err, oct.ErrMetadataField)
	}
	switch marker {
	case 'R':
		return oct.LateralityRight, nil
	case 'L':
		return oct.LateralityLeft, nil
	}
	return oct.LateralityUnknown, fmt.Errorf("laterality marker %#x: %w", marker, oct.ErrMetadataField)
}

// acquisitionEpoch is the zero point of the B-scan metadata timestamp,
// counted in 100 ns ticks.
var acquisitionEpoch = time.Date(1600, time.December, 31, 23, 59, 0, 0, time.UTC)

// decodeAcquisitionTime pulls the timestamp out of the 104-byte B-scan
// metadata block. The other fields (scan geometry, averaging, quality)
// are positioned before it.
func decodeAcquisitionTime(c *cursor.Cursor) (time.Time, error) {
	if err := c.Skip(88); err != nil {
		return time.Time{}, fmt.Errorf("bscan metadata: %v: %w", err, oct.ErrMetadataField)
	}
	ticks, err := c.Uint64(binary.LittleEndian)
	if err != nil {
		return time.Time{}, fmt.Errorf("bscan metadata: %v: %w", err, oct.ErrMetadataField)
	}
	if ticks == 0 || ticks > uint64(math.MaxInt64/100) {
		return time.Time{}, fmt.Errorf("acquisition tick count %d: %w", ticks, oct.ErrMetadataField)
	}
	return acquisitionEpoch.Add(time.Duration(ticks) * 100 * time.Nanosecond), nil
}

// decodeContour reads a contour chunk: a 16-byte head naming the layer id
// and column count, then one float32 depth per column. Columns the device
// left unset (zero or float32 max) become NaN.
func decodeContour(c *cursor.Cursor, key directory.Key) (oct.Contour, error) {
	if err := c.Skip(4); err != nil {
		return oct.Contour{}, err
	}
	id, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return oct.Contour{}, err
	}
	if err := c.Skip(4); err != nil {
		return oct.Contour{}, err
	}
	width, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return oct.Contour{}, err
	}
	if width == 0 {
		return oct.Contour{}, fmt.Errorf("contour with zero columns: %w", oct.ErrMetadataField)
	}
	if int64(width)*4 > c.Remaining() {
		return oct.Contour{}, fmt.Errorf("contour of %d columns exceeds chunk: %w", width, oct.ErrOutOfBounds)
	}

	depths := make([]float32, width)
	for i := range depths {
		v, err := c.Float32(binary.LittleEndian)
		if err != nil {
			return oct.Contour{}, err
		}
		if v < 1e-9 || v == math.MaxFloat32 {
			v = float32(math.NaN())
		}
		depths[i] = v
	}
	return oct.Contour{
		Name:       fmt.Sprintf("contour%d", id),
		SliceIndex: sliceIndex(key),
		Depths:     depths,
	}, nil
}

// imageHeader is the 20-byte head of an image chunk.
type imageHeader struct {
	width  uint32
	height uint32
}

func readImageHeader(c *cursor.Cursor) (imageHeader, error) {
	var h imageHeader
	if err := c.Skip(12); err != nil { // stored size, sample type, reserved
		return h, err
	}
	var err error
	if h.width, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	if h.height, err = c.Uint32(binary.LittleEndian); err != nil {
		return h, err
	}
	return h, nil
}
