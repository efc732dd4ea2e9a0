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
	"fmt"
	"sort"
)

// IndexedSlice pairs a decoded slice with the slice index the device
// recorded for it. A negative Index means the file carried no index; such
// slices keep their arrival order during assembly.
type IndexedSlice struct {
	Index int
	Slice *Slice
}

// NewVolume assembles slices into a Volume. Slices are ordered by their
// device-recorded index, falling back to arrival order for slices without
// one; decode order is never assumed to equal depth order.
//
// The result upholds the volume invariant: at least one non-missing slice,
// and identical width/height/bit-depth across all non-missing slices. A
// dimension mismatch returns ErrInconsistentGeometry naming the offending
// slice rather than silently cropping; no slices at all returns
// ErrEmptyVolume.
func NewVolume(id string, slices []IndexedSlice) (*Volume, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("volume %q: %w", id, ErrEmptyVolume)
	}

	ordered := make([]IndexedSlice, len(slices))
	copy(ordered, slices)
	for i := range ordered {
		if ordered[i].Index < 0 {
			ordered[i].Index = i
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	var ref *Slice
	decodable := 0
	for _, is := range ordered {
		s := is.Slice
		if s.Missing {
			continue
		}
		decodable++
		if ref == nil {
			ref = s
			continue
		}
		if s.Width != ref.Width || s.Height != ref.Height || s.BitDepth != ref.BitDepth {
			return nil, fmt.Errorf(
				"volume %q: slice %d is %dx%d@%d, want %dx%d@%d: %w",
				id, is.Index, s.Width, s.Height, s.BitDepth,
				ref.Width, ref.Height, ref.BitDepth, ErrInconsistentGeometry)
		}
	}
	if decodable == 0 {
		return nil, fmt.Errorf("volume %q: %w", id, ErrEmptyVolume)
	}

	v := &Volume{ID: id, Slices: make([]*Slice, len(ordered))}
	for i, is := range ordered {
		v.Slices[i] = is.Slice
	}
	return v, nil
}
