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

import "errors"

// Error kinds reported by the format readers. Readers wrap these with
// fmt.Errorf and %w, adding the offending offset or tag; match with
// errors.Is.
var (
	// ErrUnrecognizedFormat means the buffer does not begin with the
	// magic/header the reader expects. Fatal: the file cannot be opened.
	ErrUnrecognizedFormat = errors.New("unrecognized format")

	// ErrOutOfBounds means a read would exceed the buffer extent. Fatal to
	// the record being read; readers catch it at the record boundary so
	// sibling records still decode.
	ErrOutOfBounds = errors.New("read out of bounds")

	// ErrMalformedChunkChain means a chunk pointer chain contains a cycle,
	// a self-reference, or an out-of-bounds pointer. Traversal stops;
	// partial results are kept.
	ErrMalformedChunkChain = errors.New("malformed chunk chain")

	// ErrPixelDecode means one slice's pixel payload failed to decode.
	// The slice is marked missing and volume assembly continues.
	ErrPixelDecode = errors.New("pixel decode failure")

	// ErrInconsistentGeometry means the slices of one volume disagree on
	// width, height, or bit depth. Fatal for that volume only.
	ErrInconsistentGeometry = errors.New("inconsistent volume geometry")

	// ErrEmptyVolume means a volume ended up with no decodable slices.
	ErrEmptyVolume = errors.New("volume has no slices")

	// ErrMetadataField means a single metadata field was malformed. The
	// field is downgraded to absent; the error only ever appears inside a
	// warning, never as a read failure.
	ErrMetadataField = errors.New("malformed metadata field")
)
