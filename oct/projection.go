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

	"gonum.org/v1/gonum/mat"
)

// MeanProjection collapses a volume to a single en-face plane by averaging
// each slice column over depth. The result has one row per slice and one
// column per pixel column; missing slices contribute zero rows. Defined
// only for volumes, whose construction already guarantees uniform slice
// geometry.
func MeanProjection(v *Volume) (*mat.Dense, error) {
	return project(v, func(sum float64, n int) float64 {
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	}, func(acc, sample float64) float64 { return acc + sample })
}

// MaxProjection collapses a volume to a single en-face plane keeping the
// brightest sample of each column.
func MaxProjection(v *Volume) (*mat.Dense, error) {
	return project(v, func(acc float64, n int) float64 {
		return acc
	}, func(acc, sample float64) float64 {
		if sample > acc {
			return sample
		}
		return acc
	})
}

func project(v *Volume, finish func(float64, int) float64, fold func(float64, float64) float64) (*mat.Dense, error) {
	if v == nil || len(v.Slices) == 0 {
		return nil, ErrEmptyVolume
	}
	width := 0
	for _, s := range v.Slices {
		if !s.Missing {
			width = s.Width
			break
		}
	}
	if width == 0 {
		return nil, fmt.Errorf("projecting volume %q: %w", v.ID, ErrEmptyVolume)
	}

	plane := mat.NewDense(len(v.Slices), width, nil)
	for row, s := range v.Slices {
		if s.Missing {
			continue
		}
		for x := 0; x < s.Width; x++ {
			acc := 0.0
			for y := 0; y < s.Height; y++ {
				acc = fold(acc, float64(s.Sample(x, y)))
			}
			plane.Set(row, x, finish(acc, s.Height))
		}
	}
	return plane, nil
}
