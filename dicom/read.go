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

package dicom

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/retinalab/octfile/internal/pixel"
	"github.com/retinalab/octfile/oct"
)

// geometry is the pixel module of the file, with the standard's defaults
// applied (one sample per pixel, one frame).
type geometry struct {
	rows, cols int
	bits       int
	samples    int
	frames     int
	planar     bool
}

func (r *Reader) geometry() (geometry, error) {
	g := geometry{samples: 1, frames: 1}
	var err error
	if g.rows, err = r.ushort(tagRows); err != nil {
		return g, fmt.Errorf("rows: %w", err)
	}
	if g.cols, err = r.ushort(tagColumns); err != nil {
		return g, fmt.Errorf("columns: %w", err)
	}
	if g.bits, err = r.ushort(tagBitsAllocated); err != nil {
		return g, fmt.Errorf("bits allocated: %w", err)
	}
	if attr, ok := r.attrs[tagSamplesPerPixel]; ok {
		if g.samples, err = r.ushortOf(attr); err != nil {
			return g, fmt.Errorf("samples per pixel: %w", err)
		}
	}
	if s, ok := r.str(tagNumberOfFrames); ok { // IS: integer in string form
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 1 {
			return g, fmt.Errorf("number of frames %q: %w", s, oct.ErrMetadataField)
		}
		g.frames = n
	}
	if attr, ok := r.attrs[tagPlanarConfiguration]; ok {
		planar, err := r.ushortOf(attr)
		if err != nil {
			return g, fmt.Errorf("planar configuration: %w", err)
		}
		g.planar = planar == 1
	}
	if g.rows <= 0 || g.cols <= 0 {
		return g, fmt.Errorf("empty geometry %dx%d: %w", g.cols, g.rows, oct.ErrMetadataField)
	}
	return g, nil
}

// isFundus classifies the file. Three samples per pixel is a color fundus
// photograph; a single-frame single-sample image is a fundus capture when
// the modality says ophthalmic photography, otherwise a one-slice volume.
func (r *Reader) isFundus(g geometry) bool {
	if g.samples == 3 {
		return true
	}
	if g.samples == 1 && g.frames == 1 {
		modality, _ := r.str(tagModality)
		return modality == "OP" || modality == "OT"
	}
	return false
}

// ReadOCTVolumes decodes the frame stack into a single volume. Frames
// missing from a truncated pixel data element become missing slices.
func (r *Reader) ReadOCTVolumes() ([]*oct.Volume, error) {
	g, err := r.geometry()
	if err != nil {
		return nil, err
	}
	if r.isFundus(g) {
		return nil, nil
	}
	if g.bits != 8 && g.bits != 16 {
		return nil, fmt.Errorf("%d bits allocated: %w", g.bits, oct.ErrPixelDecode)
	}
	data, ok := r.attrs[tagPixelData]
	if !ok {
		return nil, fmt.Errorf("no native pixel data: %w", oct.ErrPixelDecode)
	}

	warnings := append([]oct.Warning{}, r.warnings...)
	frameSize := g.cols * g.rows * g.bits / 8
	var slices []oct.IndexedSlice
	for i := 0; i < g.frames; i++ {
		var s *oct.Slice
		if (i+1)*frameSize <= len(data.value) {
			payload := data.value[i*frameSize : (i+1)*frameSize]
			var err error
			if g.bits == 8 {
				s, err = pixel.Gray8(payload, g.cols, g.rows)
			} else {
				s, err = pixel.Gray16(payload, g.cols, g.rows, r.syntax.order)
			}
			if err != nil {
				warnings = append(warnings, oct.Warnf(data.offset, "frame %d: %v", i, err))
				s = pixel.MissingSlice(g.cols, g.rows, g.bits)
			}
		} else {
			warnings = append(warnings, oct.Warnf(data.offset,
				"frame %d beyond %d-byte pixel data", i, len(data.value)))
			s = pixel.MissingSlice(g.cols, g.rows, g.bits)
		}
		slices = append(slices, oct.IndexedSlice{Index: i, Slice: s})
	}

	volume, err := oct.NewVolume(r.id("oct"), slices)
	if err != nil {
		return nil, err
	}
	volume.Laterality = r.laterality()
	volume.AcquisitionTime = r.acquisitionTime(&warnings)
	volume.Patient = r.patient(&warnings)
	volume.Device = r.device()
	volume.Warnings = warnings
	return []*oct.Volume{volume}, nil
}

// ReadFundusImages decodes the fundus photograph, re-interleaving planar
// color data so Pixels is always sample-interleaved.
func (r *Reader) ReadFundusImages() ([]*oct.FundusImage, error) {
	g, err := r.geometry()
	if err != nil {
		return nil, err
	}
	if !r.isFundus(g) {
		return nil, nil
	}
	if g.bits != 8 {
		return nil, fmt.Errorf("%d-bit fundus samples: %w", g.bits, oct.ErrPixelDecode)
	}
	data, ok := r.attrs[tagPixelData]
	if !ok {
		return nil, fmt.Errorf("no native pixel data: %w", oct.ErrPixelDecode)
	}
	want := g.cols * g.rows * g.samples
	if len(data.value) < want {
		return nil, fmt.Errorf("pixel data is %d bytes, want %d: %w",
			len(data.value), want, oct.ErrPixelDecode)
	}

	pixels := make([]byte, want)
	if g.planar && g.samples > 1 {
		planeSize := g.cols * g.rows
		for s := 0; s < g.samples; s++ {
			plane := data.value[s*planeSize : (s+1)*planeSize]
			for i, v := range plane {
				pixels[i*g.samples+s] = v
			}
		}
	} else {
		copy(pixels, data.value[:want])
	}

	warnings := append([]oct.Warning{}, r.warnings...)
	img := &oct.FundusImage{
		ID:         r.id("fundus"),
		Width:      g.cols,
		Height:     g.rows,
		Channels:   g.samples,
		Pixels:     pixels,
		Laterality: r.laterality(),
	}
	img.AcquisitionTime = r.acquisitionTime(&warnings)
	img.Patient = r.patient(&warnings)
	img.Warnings = warnings
	return []*oct.FundusImage{img}, nil
}

// id returns the SOP instance UID when the file has one, else a fallback.
func (r *Reader) id(fallback string) string {
	if uid, ok := r.str(tagSOPInstanceUID); ok && uid != "" {
		return uid
	}
	return fallback
}

// patient builds the patient identity from the name, id, sex, and
// birthdate tags. Person names store "surname^given".
func (r *Reader) patient(warnings *[]oct.Warning) *oct.Patient {
	p := &oct.Patient{}
	if name, ok := r.str(tagPatientName); ok {
		parts := strings.SplitN(name, "^", 3)
		p.Surname = parts[0]
		if len(parts) > 1 {
			p.GivenName = parts[1]
		}
	}
	p.ID, _ = r.str(tagPatientID)
	if sex, ok := r.str(tagPatientSex); ok && (sex == "M" || sex == "F") {
		p.Sex = sex
	}
	if raw, ok := r.str(tagPatientBirthDate); ok && raw != "" {
		t, err := time.Parse("20060102", raw)
		if err != nil {
			*warnings = append(*warnings, oct.Warnf(r.attrs[tagPatientBirthDate].offset,
				"birthdate %q: %v", raw, oct.ErrMetadataField))
		} else {
			p.BirthDate = t
		}
	}
	if (oct.Patient{}) == *p {
		return nil
	}
	return p
}

func (r *Reader) device() *oct.Device {
	d := &oct.Device{}
	d.Manufacturer, _ = r.str(tagManufacturer)
	d.Model, _ = r.str(tagManufacturerModel)
	d.SerialNumber, _ = r.str(tagDeviceSerialNumber)
	d.SoftwareVersion, _ = r.str(tagSoftwareVersions)
	if (oct.Device{}) == *d {
		return nil
	}
	return d
}

// laterality prefers the image-level tag over the series-level one.
func (r *Reader) laterality() oct.Laterality {
	for _, tag := range []uint32{tagImageLaterality, tagLaterality} {
		switch v, _ := r.str(tag); v {
		case "L":
			return oct.LateralityLeft
		case "R":
			return oct.LateralityRight
		}
	}
	return oct.LateralityUnknown
}

// acquisitionTime reads the combined datetime tag, falling back to the
// separate date and time pair. Fractional seconds are dropped.
func (r *Reader) acquisitionTime(warnings *[]oct.Warning) time.Time {
	if raw, ok := r.str(tagAcquisitionDateTime); ok && raw != "" {
		t, err := parseDateTime(raw)
		if err != nil {
			*warnings = append(*warnings, oct.Warnf(r.attrs[tagAcquisitionDateTime].offset,
				"acquisition datetime %q: %v", raw, oct.ErrMetadataField))
			return time.Time{}
		}
		return t
	}
	date, ok := r.str(tagAcquisitionDate)
	if !ok || date == "" {
		return time.Time{}
	}
	if tm, ok := r.str(tagAcquisitionTime); ok && len(tm) >= 6 {
		date += tm[:6]
	} else {
		date += "000000"
	}
	t, err := parseDateTime(date)
	if err != nil {
		*warnings = append(*warnings, oct.Warnf(r.attrs[tagAcquisitionDate].offset,
			"acquisition date %q: %v", date, oct.ErrMetadataField))
		return time.Time{}
	}
	return t
}

func parseDateTime(raw string) (time.Time, error) {
	if i := strings.IndexAny(raw, ".+-"); i >= 0 { // fraction or zone suffix
		raw = raw[:i]
	}
	switch {
	case len(raw) >= 14:
		return time.Parse("20060102150405", raw[:14])
	case len(raw) >= 8:
		return time.Parse("20060102", raw[:8])
	}
	return time.Time{}, fmt.Errorf("datetime %q too short", raw)
}

// str returns a wanted tag's value decoded with the file's character
// repertoire and trimmed of padding.
func (r *Reader) str(tag uint32) (string, bool) {
	attr, ok := r.attrs[tag]
	if !ok {
		return "", false
	}
	decoded, err := r.enc.NewDecoder().Bytes(attr.value)
	if err != nil {
		return trimValue(attr.value), true
	}
	return trimValue(decoded), true
}

// ushort reads a required 16-bit binary attribute.
func (r *Reader) ushort(tag uint32) (int, error) {
	attr, ok := r.attrs[tag]
	if !ok {
		return 0, fmt.Errorf("tag (%04X,%04X) absent: %w", tag>>16, tag&0xFFFF, oct.ErrMetadataField)
	}
	return r.ushortOf(attr)
}

func (r *Reader) ushortOf(attr attribute) (int, error) {
	if len(attr.value) < 2 {
		return 0, fmt.Errorf("%d-byte value: %w", len(attr.value), oct.ErrMetadataField)
	}
	return int(r.syntax.order.Uint16(attr.value)), nil
}
