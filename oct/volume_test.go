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

package oct

import (
	"errors"
	"testing"
)

func plane(w, h, depth int, fill byte) *Slice {
	pixels := make([]byte, w*h*depth/8)
	for i := range pixels {
		pixels[i] = fill
	}
	return &Slice{Width: w, Height: h, BitDepth: depth, Pixels: pixels}
}

func TestNewVolumeOrdersByIndex(t *testing.T) {
	a, b, c := plane(2, 2, 8, 1), plane(2, 2, 8, 2), plane(2, 2, 8, 3)
	v, err := NewVolume("v", []IndexedSlice{
		{Index: 2, Slice: c},
		{Index: 0, Slice: a},
		{Index: 1, Slice: b},
	})
	if err != nil {
		t.Fatalf("NewVolume => %v", err)
	}
	if v.Slices[0] != a || v.Slices[1] != b || v.Slices[2] != c {
		t.Errorf("slices not ordered by index: %v", v.Slices)
	}
}

func TestNewVolumeArrivalOrderFallback(t *testing.T) {
	// Negative indices mean the file carried none; such slices keep their
	// arrival position among the indexed ones.
	a, b, c := plane(2, 2, 8, 1), plane(2, 2, 8, 2), plane(2, 2, 8, 3)
	v, err := NewVolume("v", []IndexedSlice{
		{Index: -1, Slice: a},
		{Index: -1, Slice: b},
		{Index: -1, Slice: c},
	})
	if err != nil {
		t.Fatalf("NewVolume => %v", err)
	}
	if v.Slices[0] != a || v.Slices[1] != b || v.Slices[2] != c {
		t.Errorf("arrival order not preserved: %v", v.Slices)
	}
}

func TestNewVolumeGeometryMismatch(t *testing.T) {
	tests := []struct {
		name  string
		other *Slice
	}{
		{"width", plane(3, 2, 8, 0)},
		{"height", plane(2, 3, 8, 0)},
		{"bit depth", plane(2, 2, 16, 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewVolume("v", []IndexedSlice{
				{Index: 0, Slice: plane(2, 2, 8, 0)},
				{Index: 1, Slice: tc.other},
			})
			if !errors.Is(err, ErrInconsistentGeometry) {
				t.Fatalf("NewVolume => %v, want ErrInconsistentGeometry", err)
			}
		})
	}
}

func TestNewVolumeMissingSlicesExemptFromGeometry(t *testing.T) {
	// A missing slice's placeholder geometry must not be held against the
	// decodable ones.
	missing := &Slice{Width: 9, Height: 9, BitDepth: 8, Missing: true}
	v, err := NewVolume("v", []IndexedSlice{
		{Index: 0, Slice: plane(2, 2, 8, 0)},
		{Index: 1, Slice: missing},
		{Index: 2, Slice: plane(2, 2, 8, 0)},
	})
	if err != nil {
		t.Fatalf("NewVolume => %v", err)
	}
	if len(v.Slices) != 3 || !v.Slices[1].Missing {
		t.Errorf("missing slice not kept in position: %v", v.Slices)
	}
}

func TestNewVolumeEmpty(t *testing.T) {
	if _, err := NewVolume("v", nil); !errors.Is(err, ErrEmptyVolume) {
		t.Errorf("NewVolume(nil) => %v, want ErrEmptyVolume", err)
	}
	onlyMissing := []IndexedSlice{
		{Index: 0, Slice: &Slice{Width: 2, Height: 2, BitDepth: 8, Missing: true}},
	}
	if _, err := NewVolume("v", onlyMissing); !errors.Is(err, ErrEmptyVolume) {
		t.Errorf("NewVolume(all missing) => %v, want ErrEmptyVolume", err)
	}
}

func TestSliceSample(t *testing.T) {
	s := &Slice{Width: 2, Height: 1, BitDepth: 16, Pixels: []byte{0x01, 0x02, 0xFF, 0xFF}}
	tests := []struct {
		name string
		x, y int
		want uint32
	}{
		{"first", 0, 0, 0x0201},
		{"saturated", 1, 0, 0xFFFF},
		{"x out of range", 2, 0, 0},
		{"y out of range", 0, 1, 0},
		{"negative", -1, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Sample(tc.x, tc.y); got != tc.want {
				t.Errorf("Sample(%d, %d) = %#x, want %#x", tc.x, tc.y, got, tc.want)
			}
		})
	}
}

func TestWarnf(t *testing.T) {
	w := Warnf(42, "chunk %d unreadable", 7)
	if w.Offset != 42 || w.Message != "chunk 7 unreadable" {
		t.Errorf("Warnf => %+v", w)
	}
}
