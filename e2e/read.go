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

package e2e

import (
	"sort"
	"time"

	"github.com/retinalab/octfile/internal/directory"
	"github.com/retinalab/octfile/internal/pixel"
	"github.com/retinalab/octfile/oct"
)

// fileState accumulates what one pass over the chunks yields. Metadata is
// scoped by volume key throughout: a file holding left/right pairs from
// different visits must not share laterality, patients, or timestamps
// across them. Warnings follow the same rule: a chunk failure lands on
// the entity owning the chunk's key, while traversal-level problems
// (chain damage, unreadable chunk headers) are shared by every entity.
type fileState struct {
	patients    map[uint32]*oct.Patient
	laterality  map[string]oct.Laterality
	acquired    map[string]time.Time
	slices      map[string][]oct.IndexedSlice
	fundus      map[string]*fundusPlane
	contours    map[string][]oct.Contour
	keyPatient  map[string]uint32
	keyOrder    []string
	warnings    []oct.Warning
	keyWarnings map[string][]oct.Warning
}

type fundusPlane struct {
	width, height int
	pixels        []byte
	offset        int64
}

func newFileState() *fileState {
	return &fileState{
		patients:    map[uint32]*oct.Patient{},
		laterality:  map[string]oct.Laterality{},
		acquired:    map[string]time.Time{},
		slices:      map[string][]oct.IndexedSlice{},
		fundus:      map[string]*fundusPlane{},
		contours:    map[string][]oct.Contour{},
		keyPatient:  map[string]uint32{},
		keyWarnings: map[string][]oct.Warning{},
	}
}

func (st *fileState) noteKey(key string, patient uint32) {
	if _, seen := st.keyPatient[key]; !seen {
		st.keyPatient[key] = patient
		st.keyOrder = append(st.keyOrder, key)
	}
}

func (st *fileState) warnf(offset int64, format string, args ...interface{}) {
	st.warnings = append(st.warnings, oct.Warnf(offset, format, args...))
}

func (st *fileState) warnKeyf(key string, offset int64, format string, args ...interface{}) {
	st.keyWarnings[key] = append(st.keyWarnings[key], oct.Warnf(offset, format, args...))
}

// entityWarnings combines the shared warnings with those scoped to key.
func (st *fileState) entityWarnings(key string) []oct.Warning {
	return append(append([]oct.Warning{}, st.warnings...), st.keyWarnings[key]...)
}

// collect walks every directory entry once, dispatching known chunk types
// into the state. Failures are contained at the chunk boundary: a chunk
// that cannot be read produces a warning (and, for image chunks, a
// missing slice) while its siblings decode normally.
func (r *Reader) collect() *fileState {
	st := newFileState()
	st.warnings = append(st.warnings, r.chainWarnings...)

	for _, entry := range r.entries {
		chunk, err := r.c.Slice(entry.Offset, entry.Length)
		if err != nil {
			st.warnf(int64(entry.Offset), "chunk %d: %v", entry.Index, err)
			continue
		}
		header, err := readChunkHeader(chunk)
		if err != nil {
			st.warnf(int64(entry.Offset), "chunk %d: %v", entry.Index, err)
			continue
		}

		key := volumeKey(header.key)
		switch header.typ {
		case typePatient:
			p, err := decodePatient(chunk)
			if err != nil {
				st.warnf(int64(entry.Offset), "patient chunk: %v", err)
			}
			if p != nil {
				st.patients[header.key.Patient] = p
			}

		case typeLaterality:
			lat, err := decodeLaterality(chunk)
			if err != nil {
				st.warnKeyf(key, int64(entry.Offset), "laterality chunk: %v", err)
				break
			}
			st.laterality[key] = lat

		case typeBScanMeta:
			at, err := decodeAcquisitionTime(chunk)
			if err != nil {
				st.warnKeyf(key, int64(entry.Offset), "bscan metadata chunk: %v", err)
				break
			}
			if _, seen := st.acquired[key]; !seen {
				st.acquired[key] = at
			}

		case typeContour:
			contour, err := decodeContour(chunk, header.key)
			if err != nil {
				st.warnKeyf(key, int64(entry.Offset), "contour chunk: %v", err)
				break
			}
			st.contours[key] = append(st.contours[key], contour)

		case typeImage:
			r.collectImage(st, entry, header, key)

		default:
			// Unknown chunk type: deliberately left opaque.
		}
	}

	// Contours whose key matches no assembled volume segment nothing;
	// discard them rather than guessing an owner.
	for key := range st.contours {
		if _, ok := st.slices[key]; !ok {
			st.warnf(-1, "discarding %d contour(s) for unknown volume %s", len(st.contours[key]), key)
			delete(st.contours, key)
		}
	}
	return st
}

// collectImage decodes one image chunk. ind distinguishes the plane kind:
// 0 is an 8-bit fundus plane, 1 an OCT B-scan of bespoke float16 samples.
// Plane rows follow the reference extraction: an OCT chunk's stated width
// is its row count.
func (r *Reader) collectImage(st *fileState, entry directory.Entry, header chunkHeader, key string) {
	chunk, err := r.c.Slice(entry.Offset+chunkHeaderSize, entry.Length-chunkHeaderSize)
	if err != nil {
		st.warnKeyf(key, int64(entry.Offset), "image chunk: %v", err)
		return
	}
	img, err := readImageHeader(chunk)
	if err != nil {
		st.warnKeyf(key, int64(entry.Offset), "image chunk: %v", err)
		return
	}
	if img.width == 0 || img.height == 0 {
		st.warnKeyf(key, int64(entry.Offset), "image chunk with empty geometry %dx%d", img.width, img.height)
		return
	}

	switch header.ind {
	case 1: // OCT B-scan
		w, h := int(img.height), int(img.width)
		st.noteKey(key, header.key.Patient)
		payload, err := chunk.Bytes(chunk.Remaining())
		if err != nil {
			st.warnKeyf(key, int64(entry.Offset), "oct plane: %v", err)
			return
		}
		s, err := pixel.UFloat16Plane(payload, w, h)
		if err != nil {
			st.warnKeyf(key, int64(entry.Offset), "oct plane: %v", err)
			s = pixel.MissingSlice(w, h, 8)
		}
		st.slices[key] = append(st.slices[key], oct.IndexedSlice{
			Index: sliceIndex(header.key),
			Slice: s,
		})

	case 0: // fundus photograph
		w, h := int(img.width), int(img.height)
		payload, err := chunk.Bytes(chunk.Remaining())
		if err != nil {
			st.warnKeyf(key, int64(entry.Offset), "fundus plane: %v", err)
			return
		}
		if len(payload) < w*h {
			st.warnKeyf(key, int64(entry.Offset), "fundus plane is %d bytes, want %d", len(payload), w*h)
			return
		}
		pixels := make([]byte, w*h)
		copy(pixels, payload[:w*h])
		st.fundus[key] = &fundusPlane{width: w, height: h, pixels: pixels, offset: int64(entry.Offset)}
		st.noteKey(key, header.key.Patient)
	}
}

// ReadOCTVolumes assembles one volume per (patient, study, series) key.
// Slices are ordered by their decoded slice index, falling back to
// arrival order along the chunk chain. A volume whose slices disagree on
// geometry is dropped and reported; its siblings are still returned, and
// the error is only propagated when nothing survives.
func (r *Reader) ReadOCTVolumes() ([]*oct.Volume, error) {
	st := r.collect()

	var volumes []*oct.Volume
	var lastErr error
	for _, key := range sortedKeys(st.slices) {
		volume, err := oct.NewVolume(key, st.slices[key])
		if err != nil {
			st.warnf(-1, "volume %s not assembled: %v", key, err)
			lastErr = err
			continue
		}
		volume.Laterality = st.laterality[key]
		volume.AcquisitionTime = st.acquired[key]
		volume.Patient = st.patients[st.keyPatient[key]]
		volume.Contours = st.contours[key]
		volume.Warnings = st.entityWarnings(key)
		volumes = append(volumes, volume)
	}

	if len(volumes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return volumes, nil
}

// ReadFundusImages returns the fundus photographs in the file, one per
// key, with the metadata scoped to that key.
func (r *Reader) ReadFundusImages() ([]*oct.FundusImage, error) {
	st := r.collect()

	var images []*oct.FundusImage
	for _, key := range sortedKeys(st.fundus) {
		plane := st.fundus[key]
		images = append(images, &oct.FundusImage{
			ID:              key,
			Width:           plane.width,
			Height:          plane.height,
			Channels:        1,
			Pixels:          plane.pixels,
			Laterality:      st.laterality[key],
			AcquisitionTime: st.acquired[key],
			Patient:         st.patients[st.keyPatient[key]],
			Warnings:        st.entityWarnings(key),
		})
	}
	return images, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
