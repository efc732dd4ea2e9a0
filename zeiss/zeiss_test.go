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

package zeiss

import (
	"bytes"
	"errors"
	"testing"

	"github.com/retinalab/octfile/oct"
)

func TestReadCube(t *testing.T) {
	cfg := Config{Width: 2, Height: 3, Slices: 2, Laterality: oct.LateralityLeft}
	buf := make([]byte, 12)
	for i := range buf {
		buf[i] = byte(i)
	}

	r, err := NewReader(buf, cfg)
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
	if len(v.Slices) != 2 {
		t.Fatalf("got %d slices, want 2", len(v.Slices))
	}
	if v.Laterality != oct.LateralityLeft {
		t.Errorf("Laterality = %q, want L", v.Laterality)
	}
	if !bytes.Equal(v.Slices[0].Pixels, buf[:6]) || !bytes.Equal(v.Slices[1].Pixels, buf[6:]) {
		t.Errorf("slices not cut in depth order: %v / %v", v.Slices[0].Pixels, v.Slices[1].Pixels)
	}
	if images, err := r.ReadFundusImages(); err != nil || images != nil {
		t.Errorf("ReadFundusImages => %v, %v, want nil, nil", images, err)
	}
}

func TestGeometryMismatchRejected(t *testing.T) {
	cfg := Config{Width: 2, Height: 2, Slices: 2}
	if _, err := NewReader(make([]byte, 9), cfg); !errors.Is(err, oct.ErrUnrecognizedFormat) {
		t.Fatalf("NewReader => %v, want ErrUnrecognizedFormat", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero width", Config{Height: 2, Slices: 2}},
		{"negative height", Config{Width: 2, Height: -1, Slices: 2}},
		{"zero slices", Config{Width: 2, Height: 2}},
		{"bad laterality", Config{Width: 2, Height: 2, Slices: 2, Laterality: "X"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewReader(nil, tc.cfg); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestDeinterlaceAppliedOnce(t *testing.T) {
	// One slice, 1x4: stored top field (output rows 0, 2) then bottom
	// field (rows 1, 3).
	cfg := Config{Width: 1, Height: 4, Slices: 1, Deinterlace: true}
	r, err := NewReader([]byte{0, 2, 1, 3}, cfg)
	if err != nil {
		t.Fatalf("NewReader => %v", err)
	}
	volumes, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("ReadOCTVolumes => %v", err)
	}
	if got := volumes[0].Slices[0].Pixels; !bytes.Equal(got, []byte{0, 1, 2, 3}) {
		t.Errorf("deinterlaced plane = %v, want [0 1 2 3]", got)
	}

	// Decoding the same reader again must not reorder a second time.
	again, err := r.ReadOCTVolumes()
	if err != nil {
		t.Fatalf("second ReadOCTVolumes => %v", err)
	}
	if got := again[0].Slices[0].Pixels; !bytes.Equal(got, []byte{0, 1, 2, 3}) {
		t.Errorf("second decode = %v; the transform leaked into reader state", got)
	}
}

func TestParseProfiles(t *testing.T) {
	data := []byte(`
macular-512:
  width: 512
  height: 1024
  slices: 128
  deinterlace: true
optic-disc-200:
  width: 200
  height: 1024
  slices: 200
`)
	profiles, err := ParseProfiles(data)
	if err != nil {
		t.Fatalf("ParseProfiles => %v", err)
	}
	cfg, err := profiles.Lookup("macular-512")
	if err != nil {
		t.Fatalf("Lookup => %v", err)
	}
	want := Config{Width: 512, Height: 1024, Slices: 128, Deinterlace: true}
	if cfg != want {
		t.Errorf("profile = %+v, want %+v", cfg, want)
	}
	if _, err := profiles.Lookup("missing"); err == nil {
		t.Error("Lookup of unknown profile succeeded")
	}
}

func TestParseProfilesRejectsBadGeometry(t *testing.T) {
	data := []byte(`
broken:
  width: 0
  height: 1024
  slices: 128
`)
	if _, err := ParseProfiles(data); err == nil {
		t.Fatal("profile with zero width accepted")
	}
}

func TestParseProfilesRejectsBadYAML(t *testing.T) {
	if _, err := ParseProfiles([]byte("\t:::not yaml")); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}
