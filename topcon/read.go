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
	"errors"
	"fmt"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/internal/directory"
	"github.com/retinalab/octfile/internal/pixel"
	"github.com/retinalab/octfile/oct"
)

// ReadOCTVolumes decodes the B-scan chunks into a volume. Topcon files
// hold at most one volume; a file without B-scan chunks yields an empty
// result, not an error. A corrupt B-scan chunk becomes a missing slice
// plus a warning; the remaining slices still decode.
func (r *Reader) ReadOCTVolumes() ([]*oct.Volume, error) {
	entries := r.table.Entries(TagOCTSlice)
	if len(entries) == 0 {
		return nil, nil
	}

	meta := r.extractMetadata()
	warnings := append([]oct.Warning{}, r.dirWarnings...)
	warnings = append(warnings, meta.warnings...)

	var slices []oct.IndexedSlice
	for _, entry := range entries {
		index, s, err := r.decodeOCTSlice(entry)
		if err != nil {
			warnings = append(warnings, oct.Warnf(int64(entry.Offset),
				"oct slice chunk %d: %v", entry.Index, err))
			if s == nil {
				continue
			}
		}
		slices = append(slices, oct.IndexedSlice{Index: index, Slice: s})
	}

	contours, contourWarnings := r.contoursFor(r.table.Entries(TagContour))
	warnings = append(warnings, contourWarnings...)

	volume, err := oct.NewVolume("oct", slices)
	if err != nil {
		return nil, err
	}
	volume.Laterality = meta.laterality
	volume.AcquisitionTime = meta.acquired
	volume.Patient = meta.patient
	volume.Device = meta.device
	volume.Contours = contours
	volume.Warnings = warnings
	return []*oct.Volume{volume}, nil
}

// decodeOCTSlice reads one B-scan chunk: a 10-byte record header naming
// the slice index, geometry, and payload codec, then the pixel payload.
// When the header is readable but the payload is not, the returned slice
// is a placeholder marked missing so the volume keeps its position.
func (r *Reader) decodeOCTSlice(entry directory.Entry) (int, *oct.Slice, error) {
	chunk, err := r.c.Slice(entry.Offset, entry.Length)
	if err != nil {
		return 0, nil, err
	}

	index, err := chunk.Uint16(binary.LittleEndian)
	if err != nil {
		return 0, nil, err
	}
	width, err1 := chunk.Uint16(binary.LittleEndian)
	height, err2 := chunk.Uint16(binary.LittleEndian)
	bitDepth, err3 := chunk.Uint16(binary.LittleEndian)
	codec, err4 := chunk.Uint8()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return int(index), nil, fmt.Errorf("record header truncated: %w", oct.ErrPixelDecode)
	}
	if err := chunk.Skip(1); err != nil { // reserved
		return int(index), nil, fmt.Errorf("record header truncated: %w", oct.ErrPixelDecode)
	}
	if bitDepth != 8 && bitDepth != 16 {
		return int(index), nil, fmt.Errorf("bit depth %d: %w", bitDepth, oct.ErrPixelDecode)
	}

	w, h := int(width), int(height)
	missing := pixel.MissingSlice(w, h, int(bitDepth))

	payload, err := chunk.Bytes(chunk.Remaining())
	if err != nil {
		return int(index), missing, err
	}
	plane, err := pixel.Decompress(payload, pixel.Codec(codec), w*h*int(bitDepth)/8)
	if err != nil {
		return int(index), missing, err
	}

	var s *oct.Slice
	if bitDepth == 8 {
		s, err = pixel.Gray8(plane, w, h)
	} else {
		s, err = pixel.Gray16(plane, w, h, binary.LittleEndian)
	}
	if err != nil {
		return int(index), missing, err
	}
	return int(index), s, nil
}

// ReadFundusImages decodes the fundus channel chunks into one photograph.
// A color capture stores one plane per channel (three chunks sharing
// geometry); a grayscale capture stores a single chunk. The .fds flavor
// records no fundus data at all, so it yields an empty, non-error result.
func (r *Reader) ReadFundusImages() ([]*oct.FundusImage, error) {
	if r.subtype == subtypeFDS {
		return nil, nil
	}
	entries := r.table.Entries(TagFundusChannel)
	if len(entries) == 0 {
		return nil, nil
	}

	meta := r.extractMetadata()
	warnings := append([]oct.Warning{}, r.dirWarnings...)
	warnings = append(warnings, meta.warnings...)

	img := &oct.FundusImage{ID: "fundus"}
	for _, entry := range entries {
		if err := r.mergeFundusChannel(img, entry); err != nil {
			if errors.Is(err, oct.ErrInconsistentGeometry) {
				return nil, err
			}
			warnings = append(warnings, oct.Warnf(int64(entry.Offset),
				"fundus channel chunk: %v", err))
		}
	}
	if img.Pixels == nil {
		return nil, fmt.Errorf("no decodable fundus channel: %w", oct.ErrPixelDecode)
	}

	img.Laterality = meta.laterality
	img.AcquisitionTime = meta.acquired
	img.Patient = meta.patient
	img.Warnings = warnings
	return []*oct.FundusImage{img}, nil
}

// mergeFundusChannel decodes one channel plane and scatters it into the
// image's interleaved pixel buffer. The first decodable channel fixes the
// image geometry; later chunks must agree with it.
func (r *Reader) mergeFundusChannel(img *oct.FundusImage, entry directory.Entry) error {
	chunk, err := r.c.Slice(entry.Offset, entry.Length)
	if err != nil {
		return err
	}

	channel, err := chunk.Uint8()
	if err != nil {
		return err
	}
	channels, err := chunk.Uint8()
	if err != nil {
		return err
	}
	width, err1 := readU16(chunk)
	height, err2 := readU16(chunk)
	codec, err3 := chunk.Uint8()
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("record header truncated: %w", oct.ErrPixelDecode)
	}
	if err := chunk.Skip(1); err != nil { // reserved
		return fmt.Errorf("record header truncated: %w", oct.ErrPixelDecode)
	}
	if channels == 0 || channel >= channels {
		return fmt.Errorf("channel %d of %d: %w", channel, channels, oct.ErrPixelDecode)
	}

	if img.Pixels == nil {
		img.Width, img.Height, img.Channels = width, height, int(channels)
		img.Pixels = make([]byte, width*height*int(channels))
	} else if img.Width != width || img.Height != height || img.Channels != int(channels) {
		return fmt.Errorf("channel %d is %dx%dx%d, image is %dx%dx%d: %w",
			channel, width, height, channels,
			img.Width, img.Height, img.Channels, oct.ErrInconsistentGeometry)
	}

	payload, err := chunk.Bytes(chunk.Remaining())
	if err != nil {
		return err
	}
	plane, err := pixel.Decompress(payload, pixel.Codec(codec), width*height)
	if err != nil {
		return err
	}
	for i, v := range plane {
		img.Pixels[i*int(channels)+int(channel)] = v
	}
	return nil
}

func readU16(c *cursor.Cursor) (int, error) {
	v, err := c.Uint16(binary.LittleEndian)
	return int(v), err
}
