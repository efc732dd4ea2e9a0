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

// Package pixel reconstructs 2D pixel planes from raw record payloads:
// per-record compression, bit-depth handling, byte-order normalization,
// and de-interlacing. Decoders take borrowed views of the file buffer and
// only copy when materializing the final plane.
package pixel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"

	"github.com/retinalab/octfile/oct"
)

// Codec identifies the compression applied to a pixel record payload.
// Tags are stored in record headers (1 byte each) and are container
// format constants.
type Codec uint8

const (
	CodecRaw  Codec = 0
	CodecZlib Codec = 1
	CodecLZ4  Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecZlib:
		return "zlib"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Decompress decodes a record payload to exactly uncompressedSize bytes.
// A size mismatch is an error, not a truncation: the caller relies on the
// plane geometry it read from the record header.
func Decompress(payload []byte, codec Codec, uncompressedSize int) ([]byte, error) {
	switch codec {
	case CodecRaw:
		if len(payload) != uncompressedSize {
			return nil, fmt.Errorf("raw payload is %d bytes, want %d: %w",
				len(payload), uncompressedSize, oct.ErrPixelDecode)
		}
		return payload, nil

	case CodecZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("opening zlib payload: %v: %w", err, oct.ErrPixelDecode)
		}
		defer zr.Close()
		out := make([]byte, uncompressedSize)
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, fmt.Errorf("inflating payload: %v: %w", err, oct.ErrPixelDecode)
		}
		// The stream must end exactly at the stated size.
		if n, _ := zr.Read(make([]byte, 1)); n != 0 {
			return nil, fmt.Errorf("zlib payload longer than stated %d bytes: %w",
				uncompressedSize, oct.ErrPixelDecode)
		}
		return out, nil

	case CodecLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 block decode: %v: %w", err, oct.ErrPixelDecode)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("lz4 payload is %d bytes, want %d: %w",
				n, uncompressedSize, oct.ErrPixelDecode)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("codec %v: %w", codec, oct.ErrPixelDecode)
	}
}

// Gray8 reinterprets a payload as a width x height plane of 8-bit samples.
func Gray8(payload []byte, width, height int) (*oct.Slice, error) {
	if err := checkPlane(payload, width, height, 1); err != nil {
		return nil, err
	}
	pixels := make([]byte, len(payload))
	copy(pixels, payload)
	return &oct.Slice{Width: width, Height: height, BitDepth: 8, Pixels: pixels}, nil
}

// Gray16 reinterprets a payload as a width x height plane of 16-bit
// samples in the stated byte order, normalized to little-endian storage.
func Gray16(payload []byte, width, height int, order binary.ByteOrder) (*oct.Slice, error) {
	if err := checkPlane(payload, width, height, 2); err != nil {
		return nil, err
	}
	pixels := make([]byte, len(payload))
	for i := 0; i < len(payload); i += 2 {
		binary.LittleEndian.PutUint16(pixels[i:], order.Uint16(payload[i:]))
	}
	return &oct.Slice{Width: width, Height: height, BitDepth: 16, Pixels: pixels}, nil
}

// MissingSlice returns the placeholder recorded for a slice whose payload
// failed to decode. It carries the geometry from the record header so the
// owning volume stays index-addressable.
func MissingSlice(width, height, bitDepth int) *oct.Slice {
	return &oct.Slice{Width: width, Height: height, BitDepth: bitDepth, Missing: true}
}

// Deinterlace reorders an interlaced plane into a progressive one. The
// stored plane holds the top field (even output rows) followed by the
// bottom field (odd output rows); bytesPerPixel covers multi-byte sample
// widths.
//
// This is a one-shot transform tied to how the capture was recorded, not
// a reversible detection: applying it to an already progressive plane
// scrambles rows, so the toggle must come from the caller, never from a
// heuristic. The format itself gives no reliable signal.
func Deinterlace(plane []byte, width, height, bytesPerPixel int) ([]byte, error) {
	if err := checkPlane(plane, width, height, bytesPerPixel); err != nil {
		return nil, err
	}
	stride := width * bytesPerPixel
	topRows := (height + 1) / 2
	out := make([]byte, len(plane))
	for row := 0; row < height; row++ {
		var src int
		if row%2 == 0 {
			src = row / 2
		} else {
			src = topRows + row/2
		}
		copy(out[row*stride:(row+1)*stride], plane[src*stride:(src+1)*stride])
	}
	return out, nil
}

func checkPlane(payload []byte, width, height, bytesPerPixel int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("plane geometry %dx%d: %w", width, height, oct.ErrPixelDecode)
	}
	want := width * height * bytesPerPixel
	if len(payload) != want {
		return fmt.Errorf("plane payload is %d bytes, want %dx%dx%d = %d: %w",
			len(payload), width, height, bytesPerPixel, want, oct.ErrPixelDecode)
	}
	return nil
}
