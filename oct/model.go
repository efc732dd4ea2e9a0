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

// Package oct defines the data model shared by every format reader in the
// octfile module: OCT volumes, fundus images, the metadata attached to
// them, and the error and warning kinds readers report.
//
// All entities are produced by a single decode pass over one file buffer
// and are not mutated afterwards. A file may yield zero, one, or several
// volumes and fundus images; the two are siblings, not nested. Non-fatal
// decode problems are attached to the produced entity as Warnings rather
// than logged or swallowed.
package oct

import "time"

// Laterality identifies which eye a scan or image belongs to.
type Laterality string

// Laterality values. The empty string means the file did not record one.
const (
	LateralityUnknown Laterality = ""
	LateralityLeft    Laterality = "L"
	LateralityRight   Laterality = "R"
)

// Slice is a single 2D pixel plane (B-scan) within a volume. Pixels holds
// Width*Height samples packed little-endian at BitDepth bits per sample.
//
// Missing marks a slice whose pixel data failed to decode. The slice keeps
// its position and geometry so the volume stays index-addressable, but
// Pixels is empty. Consumers iterating slices must tolerate missing ones.
type Slice struct {
	Width    int
	Height   int
	BitDepth int
	Pixels   []byte
	Missing  bool
}

// Sample returns the sample at column x, row y. Missing slices and
// out-of-range coordinates return 0.
func (s *Slice) Sample(x, y int) uint32 {
	if s.Missing || x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return 0
	}
	switch s.BitDepth {
	case 8:
		return uint32(s.Pixels[y*s.Width+x])
	case 16:
		i := (y*s.Width + x) * 2
		return uint32(s.Pixels[i]) | uint32(s.Pixels[i+1])<<8
	case 32:
		i := (y*s.Width + x) * 4
		return uint32(s.Pixels[i]) | uint32(s.Pixels[i+1])<<8 |
			uint32(s.Pixels[i+2])<<16 | uint32(s.Pixels[i+3])<<24
	}
	return 0
}

// Patient holds the identity fields a file may record. Every field is
// optional; zero values mean the file did not carry the field, which is a
// common, valid state rather than an error.
type Patient struct {
	GivenName string
	Surname   string
	Sex       string
	ID        string

	// BirthDate is zero when absent. Only the date part is meaningful.
	BirthDate time.Time
}

// Device describes the acquiring scanner, when the file records it.
type Device struct {
	Manufacturer    string
	Model           string
	SerialNumber    string
	SoftwareVersion string
}

// Contour is a named layer-segmentation boundary for one slice: one depth
// coordinate per pixel column. Depths has the owning slice's width;
// positions the device did not segment are NaN.
type Contour struct {
	Name       string
	SliceIndex int
	Depths     []float32
}

// Volume is an ordered sequence of slices plus the metadata extracted for
// it. Construct volumes through NewVolume, which establishes the slice
// order and the geometry invariant: all slices share width, height, and
// bit depth.
type Volume struct {
	// ID distinguishes sibling volumes within one file. Its shape is
	// format-specific (for E2E it is the patient_study_series key).
	ID string

	Slices []*Slice

	Laterality      Laterality
	AcquisitionTime time.Time
	Patient         *Patient
	Device          *Device
	Contours        []Contour

	// Warnings collects the non-fatal problems encountered while this
	// volume was decoded.
	Warnings []Warning
}

// FundusImage is a single en-face photograph of the retina. Pixels holds
// Width*Height*Channels 8-bit samples, channel-interleaved.
type FundusImage struct {
	ID       string
	Width    int
	Height   int
	Channels int
	Pixels   []byte

	Laterality      Laterality
	AcquisitionTime time.Time
	Patient         *Patient

	Warnings []Warning
}

// Reader is the surface every format package implements. Either method
// may return zero, one, or several results; multi-volume files exist.
type Reader interface {
	ReadOCTVolumes() ([]*Volume, error)
	ReadFundusImages() ([]*FundusImage, error)
}
