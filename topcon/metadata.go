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

package topcon

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/internal/directory"
	"github.com/retinalab/octfile/oct"
)

// Text fields in Topcon chunks are fixed-width Windows-1252.
var textEncoding = charmap.Windows1252

// fileMetadata is everything the metadata chunks yield for one file.
// Every field is best-effort: a malformed chunk downgrades its fields to
// absent and adds a warning.
type fileMetadata struct {
	patient    *oct.Patient
	device     *oct.Device
	laterality oct.Laterality
	acquired   time.Time
	warnings   []oct.Warning
}

// metadataDecoders maps chunk tags to their decoding step. Chunks absent
// from this table are either pixel/contour chunks handled elsewhere or
// opaque unknowns deliberately left untouched.
var metadataDecoders = map[uint32]func(*cursor.Cursor, *fileMetadata) error{
	TagPatientInfo:  decodePatientInfo,
	TagCaptureInfo:  decodeCaptureInfo,
	TagHardwareInfo: decodeHardwareInfo,
}

func (r *Reader) extractMetadata() fileMetadata {
	var meta fileMetadata
	for tag, decode := range metadataDecoders {
		entries := r.table.Entries(tag)
		if len(entries) == 0 {
			continue
		}
		entry := entries[0]
		chunk, err := r.c.Slice(entry.Offset, entry.Length)
		if err != nil {
			meta.warnings = append(meta.warnings, oct.Warnf(int64(entry.Offset),
				"metadata chunk %#x: %v", tag, err))
			continue
		}
		if err := decode(chunk, &meta); err != nil {
			meta.warnings = append(meta.warnings, oct.Warnf(int64(entry.Offset),
				"metadata chunk %#x: %v", tag, err))
		}
	}
	return meta
}

// decodePatientInfo reads the patient identity chunk: two 32-byte name
// fields, a sex byte, a 16-byte patient id, and a calendar birthdate.
func decodePatientInfo(c *cursor.Cursor, meta *fileMetadata) error {
	p := &oct.Patient{}

	var err error
	if p.GivenName, err = c.FixedString(32, textEncoding); err != nil {
		return fmt.Errorf("given name: %v: %w", err, oct.ErrMetadataField)
	}
	if p.Surname, err = c.FixedString(32, textEncoding); err != nil {
		return fmt.Errorf("surname: %v: %w", err, oct.ErrMetadataField)
	}
	sex, err := c.Uint8()
	if err != nil {
		return fmt.Errorf("sex: %v: %w", err, oct.ErrMetadataField)
	}
	switch sex {
	case 'M', 'F':
		p.Sex = string(rune(sex))
	}
	if p.ID, err = c.FixedString(16, textEncoding); err != nil {
		return fmt.Errorf("patient id: %v: %w", err, oct.ErrMetadataField)
	}

	year, err1 := c.Uint16(binary.LittleEndian)
	month, err2 := c.Uint8()
	day, err3 := c.Uint8()
	if err1 != nil || err2 != nil || err3 != nil {
		meta.patient = p
		return fmt.Errorf("birthdate truncated: %w", oct.ErrMetadataField)
	}
	if date, ok := calendarDate(int(year), int(month), int(day)); ok {
		p.BirthDate = date
	} else if year != 0 || month != 0 || day != 0 {
		meta.patient = p
		return fmt.Errorf("birthdate %04d-%02d-%02d: %w", year, month, day, oct.ErrMetadataField)
	}

	meta.patient = p
	return nil
}

// decodeCaptureInfo reads the capture chunk: laterality and the
// acquisition timestamp.
func decodeCaptureInfo(c *cursor.Cursor, meta *fileMetadata) error {
	lat, err := c.Uint8()
	if err != nil {
		return fmt.Errorf("laterality: %v: %w", err, oct.ErrMetadataField)
	}
	switch lat {
	case 'L':
		meta.laterality = oct.LateralityLeft
	case 'R':
		meta.laterality = oct.LateralityRight
	}
	if err := c.Skip(1); err != nil {
		return fmt.Errorf("capture info truncated: %w", oct.ErrMetadataField)
	}

	year, err1 := c.Uint16(binary.LittleEndian)
	month, err2 := c.Uint8()
	day, err3 := c.Uint8()
	hour, err4 := c.Uint8()
	minute, err5 := c.Uint8()
	sec, err6 := c.Uint8()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return fmt.Errorf("acquisition time truncated: %w", oct.ErrMetadataField)
	}
	date, ok := calendarDate(int(year), int(month), int(day))
	if !ok || int(hour) > 23 || int(minute) > 59 || int(sec) > 60 {
		return fmt.Errorf("acquisition time %04d-%02d-%02d %02d:%02d:%02d: %w",
			year, month, day, hour, minute, sec, oct.ErrMetadataField)
	}
	meta.acquired = date.Add(time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute + time.Duration(sec)*time.Second)
	return nil
}

// decodeHardwareInfo reads the device chunk: manufacturer, model, serial
// number, software version.
func decodeHardwareInfo(c *cursor.Cursor, meta *fileMetadata) error {
	d := &oct.Device{}
	var err error
	if d.Manufacturer, err = c.FixedString(32, textEncoding); err != nil {
		return fmt.Errorf("manufacturer: %v: %w", err, oct.ErrMetadataField)
	}
	if d.Model, err = c.FixedString(32, textEncoding); err != nil {
		return fmt.Errorf("model: %v: %w", err, oct.ErrMetadataField)
	}
	if d.SerialNumber, err = c.FixedString(16, textEncoding); err != nil {
		meta.device = d
		return fmt.Errorf("serial number: %v: %w", err, oct.ErrMetadataField)
	}
	if d.SoftwareVersion, err = c.FixedString(16, textEncoding); err != nil {
		meta.device = d
		return fmt.Errorf("software version: %v: %w", err, oct.ErrMetadataField)
	}
	meta.device = d
	return nil
}

// calendarDate validates a y/m/d triple. All-zero means absent.
func calendarDate(year, month, day int) (time.Time, bool) {
	if year == 0 && month == 0 && day == 0 {
		return time.Time{}, false
	}
	if year < 1850 || year > 2200 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflow like Feb 30.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// contoursFor decodes every contour chunk. Contour chunks are keyed to a
// slice index; the caller attaches them to the volume they segment.
func (r *Reader) contoursFor(entries []directory.Entry) ([]oct.Contour, []oct.Warning) {
	var contours []oct.Contour
	var warnings []oct.Warning
	for _, entry := range entries {
		chunk, err := r.c.Slice(entry.Offset, entry.Length)
		if err != nil {
			warnings = append(warnings, oct.Warnf(int64(entry.Offset), "contour chunk: %v", err))
			continue
		}
		contour, err := decodeContour(chunk)
		if err != nil {
			warnings = append(warnings, oct.Warnf(int64(entry.Offset), "contour chunk: %v", err))
			continue
		}
		contours = append(contours, contour)
	}
	return contours, warnings
}

// decodeContour reads one boundary: slice index, layer name, and one
// float32 depth per pixel column.
func decodeContour(c *cursor.Cursor) (oct.Contour, error) {
	sliceIndex, err := c.Uint16(binary.LittleEndian)
	if err != nil {
		return oct.Contour{}, err
	}
	nameLen, err := c.Uint8()
	if err != nil {
		return oct.Contour{}, err
	}
	name, err := c.FixedString(int64(nameLen), textEncoding)
	if err != nil {
		return oct.Contour{}, err
	}
	count, err := c.Uint32(binary.LittleEndian)
	if err != nil {
		return oct.Contour{}, err
	}
	if int64(count)*4 > c.Remaining() {
		return oct.Contour{}, fmt.Errorf("contour of %d columns exceeds chunk: %w", count, oct.ErrOutOfBounds)
	}
	depths := make([]float32, count)
	for i := range depths {
		if depths[i], err = c.Float32(binary.LittleEndian); err != nil {
			return oct.Contour{}, err
		}
	}
	return oct.Contour{Name: name, SliceIndex: int(sliceIndex), Depths: depths}, nil
}
