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

package bioptigen

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/retinalab/octfile/oct"
)

// buildFile lays out a synthetic .oct: header, frame directory, then the
// frames in the order given. A frame index of -1 leaves a gap by pointing
// the record past the buffer.
func buildFile(width, height int, laterality byte, frames [][]byte, indices []int) []byte {
	var buf []byte
	buf = append(buf, magic...)
	buf = append(buf, 0, 1) // version
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(frames)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(width))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(height))
	buf = binary.LittleEndian.AppendUint16(buf, 16)
	buf = append(buf, laterality, 0)

	offset := uint64(len(buf) + frameRecordSize*len(frames))
	for i, frame := range frames {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(indices[i]))
		buf = binary.LittleEndian.AppendUint64(buf, offset)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(frame)))
		offset += uint64(len(frame))
	}
	for _, frame := range frames {
		buf = append(buf, frame...)
	}
	return buf
}

func gray16Frame(width, height int, fill uint16) []byte {
	frame := make([]byte, 0, width*height*2)
	for i := 0; i < width*height; i++ {
		frame = binary.LittleEndian.AppendUint16(frame, fill)
	}
	return frame
}

func TestReadCube(t *testing.T) {
	frames := [][]byte{
		gray16Frame(2, 2, 0x0202),
		gray16Frame(2, 2, 0x0000),
		gray16Frame(2, 2, 0x0101),
	}
	// Frames stored out of order; indices restore depth order.
	buf := buildFile(2, 2, 'R', frames, []int{2, 0, 1})

	r, err := NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader => %v", err)
	}
	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	if len(volumes) != 1 {
		t.Fatalf("got %d volumes, want 1", len(volumes))
	}
	v := volumes[0]
	if v.Laterality != oct.LateralityRight {
		t.Errorf("Laterality = %q, want R", v.Laterality)
	}
	if len(v.Slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(v.Slices))
	}
	for i, want := range []uint32{0x0000, 0x0101, 0x0202} {
		if got := v.Slices[i].Sample(0, 0); got != want {
			t.Errorf("slice %d Sample(0, 0) = %#x, want %#x", i, got, want)
		}
	}
	if images, err := r.ReadFundusImages(); err != nil || images != nil {
		t.Errorf("ReadFundusImages => %v, %v, want nil, nil", images, err)
	}
}

func TestShortFrameBecomesMissingSlice(t *testing.T) {
	frames := [][]byte{
		gray16Frame(2, 2, 1),
		gray16Frame(2, 2, 2)[:5], // truncated payload
		gray16Frame(2, 2, 3),
	}
	buf := buildFile(2, 2, 0, frames, []int{0, 1, 2})

	r, err := NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader => %v", err)
	}
	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	v := volumes[0]
	if len(v.Slices) != 3 || !v.Slices[1].Missing {
		t.Fatalf("slices = %d, middle missing = %v", len(v.Slices), v.Slices[1].Missing)
	}
	if len(v.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", v.Warnings)
	}
}

func TestDirectoryRecordOutOfRange(t *testing.T) {
	frames := [][]byte{gray16Frame(2, 2, 1), gray16Frame(2, 2, 2)}
	buf := buildFile(2, 2, 0, frames, []int{0, 1})
	// Rewrite the second record's offset to point far past the buffer; the
	// walker must skip it and keep the first frame.
	recordAt := headerSize() + frameRecordSize
	binary.LittleEndian.PutUint64(buf[recordAt+4:], 1<<40)

	r, err := NewReader(buf)
	if err != nil {
		t.Fatalf("NewReader => %v", err)
	}
	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	v := volumes[0]
	if len(v.Slices) != 1 {
		t.Fatalf("got %d slices, want 1", len(v.Slices))
	}
	if len(v.Warnings) != 1 {
		t.Fatalf("warnings = %v, want the skipped record reported", v.Warnings)
	}
}

// headerSize mirrors the fixed header: magic + version + frames + width +
// height + depth + laterality + reserved.
func headerSize() int { return 4 + 2 + 4 + 4 + 4 + 2 + 1 + 1 }

func TestUnrecognized(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"wrong magic", []byte("XOCTxxxxxxxxxxxxxxxxxxxxxxxx")},
		{"truncated header", []byte("BOCT\x00\x01")},
		{"zero frames", buildFile(2, 2, 0, nil, nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewReader(tc.buf); !errors.Is(err, oct.ErrUnrecognizedFormat) {
				t.Fatalf("NewReader => %v, want ErrUnrecognizedFormat", err)
			}
		})
	}
}

func TestWrongBitDepthRejected(t *testing.T) {
	buf := buildFile(2, 2, 0, [][]byte{gray16Frame(2, 2, 1)}, []int{0})
	binary.LittleEndian.PutUint16(buf[18:], 8) // depth field

	if _, err := NewReader(buf); !errors.Is(err, oct.ErrUnrecognizedFormat) {
		t.Fatalf("NewReader => %v, want ErrUnrecognizedFormat", err)
	}
}
