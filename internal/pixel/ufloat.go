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

package pixel

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/retinalab/octfile/oct"
)

// Heidelberg OCT samples use a bespoke unsigned 16-bit float: no sign, a
// 6-bit exponent in the high bits, and a 10-bit mantissa stored with its
// bits reversed. The exact bit-level semantics are a reverse-engineered
// contract; values here reproduce the reference extraction.

// UFloat16 converts one raw sample to its floating point value.
func UFloat16(v uint16) float64 {
	mantissa := bitReverse10(v & 0x3ff)
	exponent := int(v>>10) - 63
	return (1 + float64(mantissa)/1024) * math.Pow(2, float64(exponent))
}

func bitReverse10(v uint16) uint16 {
	var out uint16
	for i := 0; i < 10; i++ {
		out <<= 1
		out |= (v >> i) & 1
	}
	return out
}

var (
	ufloatLUTOnce sync.Once
	ufloatLUT     [1 << 16]float64
)

func lookupUFloat16(v uint16) float64 {
	ufloatLUTOnce.Do(func() {
		for i := range ufloatLUT {
			ufloatLUT[i] = UFloat16(uint16(i))
		}
	})
	return ufloatLUT[v]
}

// UFloat16Plane decodes a width x height plane of little-endian ufloat16
// samples into an 8-bit slice, applying the reference gamma correction
// (256 * v^(1/2.4), clamped to the byte range).
func UFloat16Plane(payload []byte, width, height int) (*oct.Slice, error) {
	if err := checkPlane(payload, width, height, 2); err != nil {
		return nil, err
	}
	pixels := make([]byte, width*height)
	for i := range pixels {
		raw := binary.LittleEndian.Uint16(payload[i*2:])
		v := 256 * math.Pow(lookupUFloat16(raw), 1/2.4)
		switch {
		case v < 0:
			pixels[i] = 0
		case v > 255:
			pixels[i] = 255
		default:
			pixels[i] = byte(v)
		}
	}
	return &oct.Slice{Width: width, Height: height, BitDepth: 8, Pixels: pixels}, nil
}
