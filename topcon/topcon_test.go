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
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/retinalab/octfile/oct"
)

// fileBuilder assembles a synthetic Topcon container: header, directory,
// then the chunk payloads in the order they were added.
type fileBuilder struct {
	subtype string
	tags    []uint32
	chunks  [][]byte
}

func (b *fileBuilder) add(tag uint32, chunk []byte) {
	b.tags = append(b.tags, tag)
	b.chunks = append(b.chunks, chunk)
}

func (b *fileBuilder) build() []byte {
	var buf []byte
	buf = append(buf, containerMagic...)
	buf = append(buf, b.subtype...)
	buf = append(buf, make([]byte, 8)...) // version words
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.chunks)))

	offset := uint64(headerSize + dirRecordSize*len(b.chunks))
	for i, chunk := range b.chunks {
		buf = binary.LittleEndian.AppendUint32(buf, b.tags[i])
		buf = binary.LittleEndian.AppendUint64(buf, offset)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(chunk)))
		offset += uint64(len(chunk))
	}
	for _, chunk := range b.chunks {
		buf = append(buf, chunk...)
	}
	return buf
}

func octSliceChunk(index, width, height, bitDepth int, codec byte, payload []byte) []byte {
	var chunk []byte
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(index))
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(width))
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(height))
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(bitDepth))
	chunk = append(chunk, codec, 0)
	return append(chunk, payload...)
}

func fundusChannelChunk(channel, channels, width, height int, codec byte, payload []byte) []byte {
	var chunk []byte
	chunk = append(chunk, byte(channel), byte(channels))
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(width))
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(height))
	chunk = append(chunk, codec, 0)
	return append(chunk, payload...)
}

func fixedField(s string, n int) []byte {
	field := make([]byte, n)
	copy(field, s)
	return field
}

func patientChunk(given, surname string, sex byte, id string, year int, month, day byte) []byte {
	var chunk []byte
	chunk = append(chunk, fixedField(given, 32)...)
	chunk = append(chunk, fixedField(surname, 32)...)
	chunk = append(chunk, sex)
	chunk = append(chunk, fixedField(id, 16)...)
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(year))
	return append(chunk, month, day)
}

func captureChunk(lat byte, year int, month, day, hour, minute, sec byte) []byte {
	chunk := []byte{lat, 0}
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(year))
	return append(chunk, month, day, hour, minute, sec)
}

func hardwareChunk(manufacturer, model, serial, software string) []byte {
	var chunk []byte
	chunk = append(chunk, fixedField(manufacturer, 32)...)
	chunk = append(chunk, fixedField(model, 32)...)
	chunk = append(chunk, fixedField(serial, 16)...)
	return append(chunk, fixedField(software, 16)...)
}

func contourChunk(sliceIndex int, name string, depths []float32) []byte {
	var chunk []byte
	chunk = binary.LittleEndian.AppendUint16(chunk, uint16(sliceIndex))
	chunk = append(chunk, byte(len(name)))
	chunk = append(chunk, name...)
	chunk = binary.LittleEndian.AppendUint32(chunk, uint32(len(depths)))
	for _, d := range depths {
		chunk = binary.LittleEndian.AppendUint32(chunk, math.Float32bits(d))
	}
	return chunk
}

func TestReadFDA(t *testing.T) {
	b := &fileBuilder{subtype: subtypeFDA}

	// Five B-scans added in reverse index order; each plane is filled with
	// its own index so assembly order is observable.
	for i := 4; i >= 0; i-- {
		plane := bytes.Repeat([]byte{byte(i)}, 4)
		b.add(TagOCTSlice, octSliceChunk(i, 2, 2, 8, 0, plane))
	}
	// Three fundus channel planes forming one RGB photograph.
	for ch := 0; ch < 3; ch++ {
		plane := bytes.Repeat([]byte{byte(10 + ch)}, 4)
		b.add(TagFundusChannel, fundusChannelChunk(ch, 3, 2, 2, 0, plane))
	}
	b.add(TagPatientInfo, patientChunk("Ada", "Lovelace", 'F', "P-1", 1990, 12, 24))
	b.add(TagCaptureInfo, captureChunk('R', 2024, 6, 1, 14, 30, 5))
	b.add(TagHardwareInfo, hardwareChunk("Topcon", "3D OCT-2000", "SN42", "9.12"))

	r, err := NewFDAReader(b.build())
	if err != nil {
		t.Fatalf("NewFDAReader => %v", err)
	}

	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	if len(volumes) != 1 {
		t.Fatalf("got %d volumes, want 1", len(volumes))
	}
	v := volumes[0]
	if len(v.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", v.Warnings)
	}
	if len(v.Slices) != 5 {
		t.Fatalf("got %d slices, want 5", len(v.Slices))
	}
	for i, s := range v.Slices {
		if s.Pixels[0] != byte(i) {
			t.Errorf("slice %d holds plane %d; not reassembled in index order", i, s.Pixels[0])
		}
	}
	if v.Laterality != oct.LateralityRight {
		t.Errorf("Laterality = %q, want R", v.Laterality)
	}
	wantTime := time.Date(2024, 6, 1, 14, 30, 5, 0, time.UTC)
	if !v.AcquisitionTime.Equal(wantTime) {
		t.Errorf("AcquisitionTime = %v, want %v", v.AcquisitionTime, wantTime)
	}
	if v.Patient == nil || v.Patient.GivenName != "Ada" || v.Patient.Surname != "Lovelace" ||
		v.Patient.Sex != "F" || v.Patient.ID != "P-1" {
		t.Errorf("Patient = %+v", v.Patient)
	}
	wantBirth := time.Date(1990, 12, 24, 0, 0, 0, 0, time.UTC)
	if v.Patient != nil && !v.Patient.BirthDate.Equal(wantBirth) {
		t.Errorf("BirthDate = %v, want %v", v.Patient.BirthDate, wantBirth)
	}
	if v.Device == nil || v.Device.Model != "3D OCT-2000" || v.Device.SerialNumber != "SN42" {
		t.Errorf("Device = %+v", v.Device)
	}

	images, err := r.ReadFundusImages()
	if err != nil {
		t.Fatalf("ReadFundusImages => %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("got %d fundus images, want 1", len(images))
	}
	img := images[0]
	if img.Width != 2 || img.Height != 2 || img.Channels != 3 {
		t.Fatalf("fundus geometry %dx%dx%d, want 2x2x3", img.Width, img.Height, img.Channels)
	}
	// Channel planes were constant 10, 11, 12; the interleaved buffer must
	// repeat that triplet.
	if !bytes.Equal(img.Pixels[:3], []byte{10, 11, 12}) {
		t.Errorf("interleaved pixels start %v, want [10 11 12]", img.Pixels[:3])
	}
	if img.Laterality != oct.LateralityRight || img.Patient == nil {
		t.Errorf("fundus metadata: laterality %q, patient %+v", img.Laterality, img.Patient)
	}
}

func TestCorruptSliceChunkIsContained(t *testing.T) {
	b := &fileBuilder{subtype: subtypeFDA}
	for i := 0; i < 5; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 4)
		codec := byte(0)
		if i == 2 {
			// A zlib tag over garbage bytes: the chunk header parses but the
			// payload cannot.
			codec, payload = 1, []byte{0xDE, 0xAD}
		}
		b.add(TagOCTSlice, octSliceChunk(i, 2, 2, 8, codec, payload))
	}

	r, err := NewFDAReader(b.build())
	if err != nil {
		t.Fatalf("NewFDAReader => %v", err)
	}
	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	v := volumes[0]
	if len(v.Slices) != 5 {
		t.Fatalf("got %d slices, want 5", len(v.Slices))
	}
	if !v.Slices[2].Missing {
		t.Errorf("corrupt slice not marked missing")
	}
	for i, s := range v.Slices {
		if i != 2 && s.Missing {
			t.Errorf("healthy slice %d marked missing", i)
		}
	}
	if len(v.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", v.Warnings)
	}
}

func TestZlibCompressedSlice(t *testing.T) {
	plane := bytes.Repeat([]byte{0x5A}, 4)
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(plane); err != nil {
		t.Fatalf("compressing: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zlib writer: %v", err)
	}

	b := &fileBuilder{subtype: subtypeFDA}
	b.add(TagOCTSlice, octSliceChunk(0, 2, 2, 8, 1, compressed.Bytes()))

	r, err := NewFDAReader(b.build())
	if err != nil {
		t.Fatalf("NewFDAReader => %v", err)
	}
	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	if got := volumes[0].Slices[0].Pixels; !bytes.Equal(got, plane) {
		t.Errorf("decompressed plane = %v, want %v", got, plane)
	}
}

func TestContoursAttached(t *testing.T) {
	b := &fileBuilder{subtype: subtypeFDS}
	b.add(TagOCTSlice, octSliceChunk(0, 2, 2, 8, 0, make([]byte, 4)))
	b.add(TagContour, contourChunk(0, "ILM", []float32{1.5, 2.5}))

	r, err := NewFDSReader(b.build())
	if err != nil {
		t.Fatalf("NewFDSReader => %v", err)
	}
	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	contours := volumes[0].Contours
	if len(contours) != 1 || contours[0].Name != "ILM" || contours[0].SliceIndex != 0 {
		t.Fatalf("Contours = %+v", contours)
	}
	if len(contours[0].Depths) != 2 || contours[0].Depths[0] != 1.5 {
		t.Errorf("Depths = %v, want [1.5 2.5]", contours[0].Depths)
	}
}

func TestFundusGeometryMismatchIsFatal(t *testing.T) {
	b := &fileBuilder{subtype: subtypeFDA}
	b.add(TagFundusChannel, fundusChannelChunk(0, 2, 2, 2, 0, make([]byte, 4)))
	b.add(TagFundusChannel, fundusChannelChunk(1, 2, 4, 4, 0, make([]byte, 16)))

	r, err := NewFDAReader(b.build())
	if err != nil {
		t.Fatalf("NewFDAReader => %v", err)
	}
	if _, err := r.ReadFundusImages(); !errors.Is(err, oct.ErrInconsistentGeometry) {
		t.Fatalf("ReadFundusImages => %v, want ErrInconsistentGeometry", err)
	}
}

func TestFDSHasNoFundus(t *testing.T) {
	b := &fileBuilder{subtype: subtypeFDS}
	b.add(TagOCTSlice, octSliceChunk(0, 2, 2, 8, 0, make([]byte, 4)))

	r, err := NewFDSReader(b.build())
	if err != nil {
		t.Fatalf("NewFDSReader => %v", err)
	}
	images, err := r.ReadFundusImages()
	if err != nil || images != nil {
		t.Fatalf("ReadFundusImages => %v, %v, want nil, nil", images, err)
	}
}

func TestUnrecognizedContainers(t *testing.T) {
	valid := &fileBuilder{subtype: subtypeFDS}
	valid.add(TagOCTSlice, octSliceChunk(0, 2, 2, 8, 0, make([]byte, 4)))

	tests := []struct {
		name string
		buf  []byte
		open func([]byte) (*Reader, error)
	}{
		{"wrong magic", append([]byte("NOPE"), valid.build()[4:]...), NewFDSReader},
		{"subtype mismatch", valid.build(), NewFDAReader},
		{"truncated header", []byte("FOCT"), NewFDSReader},
		{"empty file", nil, NewFDSReader},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.open(tc.buf); !errors.Is(err, oct.ErrUnrecognizedFormat) {
				t.Fatalf("got %v, want ErrUnrecognizedFormat", err)
			}
		})
	}
}

func TestEmptyDirectory(t *testing.T) {
	var buf []byte
	buf = append(buf, containerMagic...)
	buf = append(buf, subtypeFDA...)
	buf = append(buf, make([]byte, 8)...)
	buf = binary.LittleEndian.AppendUint32(buf, 0)

	if _, err := NewFDAReader(buf); !errors.Is(err, oct.ErrUnrecognizedFormat) {
		t.Fatalf("NewFDAReader => %v, want ErrUnrecognizedFormat", err)
	}
}
