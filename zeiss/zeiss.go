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

// Package zeiss reads Zeiss Cirrus .img files. The format is a raw,
// dimension-less stream of 8-bit samples: it carries no header, no
// magic, and no geometry, so the caller must supply width, height, slice
// count, and whether the capture was recorded interlaced. Scan profiles
// for common cube presets can be loaded from a YAML file.
package zeiss

import (
	"fmt"
	"os"

	"github.com/retinalab/octfile/internal/pixel"
	"github.com/retinalab/octfile/oct"
)

// Config is the externally supplied geometry for one .img file. The
// format gives no reliable signal for any of these, so none of them are
// ever guessed.
type Config struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Slices int `yaml:"slices"`

	// Deinterlace declares that the capture was recorded with interleaved
	// fields and must be reordered into progressive planes. It is a
	// one-shot transform of the stored data, not a reversible detection:
	// enabling it on an already progressive capture scrambles rows.
	Deinterlace bool `yaml:"deinterlace"`

	// Laterality, when the caller knows it from surrounding context
	// (filenames, worklists). Optional.
	Laterality oct.Laterality `yaml:"laterality"`
}

func (cfg Config) validate() error {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Slices <= 0 {
		return fmt.Errorf("scan geometry %dx%dx%d must be positive",
			cfg.Width, cfg.Height, cfg.Slices)
	}
	switch cfg.Laterality {
	case oct.LateralityUnknown, oct.LateralityLeft, oct.LateralityRight:
	default:
		return fmt.Errorf("laterality %q", cfg.Laterality)
	}
	return nil
}

// Reader decodes one .img cube.
type Reader struct {
	buf []byte
	cfg Config
}

// Open reads an .img file from disk with the given geometry.
func Open(path string, cfg Config) (*Reader, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	return NewReader(buf, cfg)
}

// NewReader wraps an in-memory .img cube. The only structural check the
// format admits is that the buffer length equals width*height*slices; a
// mismatch means the geometry does not describe this file.
func NewReader(buf []byte, cfg Config) (*Reader, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("scan config: %v", err)
	}
	want := cfg.Width * cfg.Height * cfg.Slices
	if len(buf) != want {
		return nil, fmt.Errorf("%d-byte buffer does not hold a %dx%dx%d cube (%d bytes): %w",
			len(buf), cfg.Width, cfg.Height, cfg.Slices, want, oct.ErrUnrecognizedFormat)
	}
	return &Reader{buf: buf, cfg: cfg}, nil
}

// ReadOCTVolumes cuts the stream into slices, de-interlacing each plane
// when the config says the capture was interlaced. Slices arrive in
// depth order; the stream carries no indices.
func (r *Reader) ReadOCTVolumes() ([]*oct.Volume, error) {
	planeSize := r.cfg.Width * r.cfg.Height
	slices := make([]oct.IndexedSlice, 0, r.cfg.Slices)
	var warnings []oct.Warning

	for i := 0; i < r.cfg.Slices; i++ {
		plane := r.buf[i*planeSize : (i+1)*planeSize]
		if r.cfg.Deinterlace {
			reordered, err := pixel.Deinterlace(plane, r.cfg.Width, r.cfg.Height, 1)
			if err != nil {
				warnings = append(warnings, oct.Warnf(int64(i*planeSize), "slice %d: %v", i, err))
				slices = append(slices, oct.IndexedSlice{
					Index: i, Slice: pixel.MissingSlice(r.cfg.Width, r.cfg.Height, 8),
				})
				continue
			}
			plane = reordered
		}
		s, err := pixel.Gray8(plane, r.cfg.Width, r.cfg.Height)
		if err != nil {
			warnings = append(warnings, oct.Warnf(int64(i*planeSize), "slice %d: %v", i, err))
			s = pixel.MissingSlice(r.cfg.Width, r.cfg.Height, 8)
		}
		slices = append(slices, oct.IndexedSlice{Index: i, Slice: s})
	}

	volume, err := oct.NewVolume("cube", slices)
	if err != nil {
		return nil, err
	}
	volume.Laterality = r.cfg.Laterality
	volume.Warnings = warnings
	return []*oct.Volume{volume}, nil
}

// ReadFundusImages returns nothing: a raw cube carries no fundus data.
func (r *Reader) ReadFundusImages() ([]*oct.FundusImage, error) {
	return nil, nil
}
