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

// Package dicom reads ophthalmic DICOM files: the 128-byte preamble and
// DICM signature, the file meta group, then one linear pass over the
// dataset collecting the closed set of tags the data model needs. It is
// an adapter, not a general parser: sequences are skipped whole, unknown
// tags are ignored, and encapsulated (compressed) pixel data is reported
// as a warning rather than decoded.
package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"
	"golang.org/x/text/encoding"

	"github.com/retinalab/octfile/internal/cursor"
	"github.com/retinalab/octfile/oct"
)

// Tags are packed as group<<16 | element.
const (
	tagTransferSyntaxUID = 0x00020010

	tagSpecificCharacterSet = 0x00080005
	tagSOPInstanceUID       = 0x00080018
	tagAcquisitionDate      = 0x00080022
	tagAcquisitionDateTime  = 0x0008002A
	tagAcquisitionTime      = 0x00080032
	tagModality             = 0x00080060
	tagManufacturer         = 0x00080070
	tagManufacturerModel    = 0x00081090

	tagPatientName      = 0x00100010
	tagPatientID        = 0x00100020
	tagPatientBirthDate = 0x00100030
	tagPatientSex       = 0x00100040

	tagDeviceSerialNumber = 0x00181000
	tagSoftwareVersions   = 0x00181020

	tagLaterality      = 0x00200060
	tagImageLaterality = 0x00200062

	tagSamplesPerPixel     = 0x00280002
	tagPlanarConfiguration = 0x00280006
	tagNumberOfFrames      = 0x00280008
	tagRows                = 0x00280010
	tagColumns             = 0x00280011
	tagBitsAllocated       = 0x00280100

	tagPixelData = 0x7FE00010

	tagItem          = 0xFFFEE000
	tagItemDelim     = 0xFFFEE00D
	tagSequenceDelim = 0xFFFEE0DD
)

// wantedTags is the closed set of dataset tags the adapter keeps. Every
// other element is skipped in place.
var wantedTags = map[uint32]bool{
	tagSpecificCharacterSet: true,
	tagSOPInstanceUID:       true,
	tagAcquisitionDate:      true,
	tagAcquisitionDateTime:  true,
	tagAcquisitionTime:      true,
	tagModality:             true,
	tagManufacturer:         true,
	tagManufacturerModel:    true,
	tagPatientName:          true,
	tagPatientID:            true,
	tagPatientBirthDate:     true,
	tagPatientSex:           true,
	tagDeviceSerialNumber:   true,
	tagSoftwareVersions:     true,
	tagLaterality:           true,
	tagImageLaterality:      true,
	tagSamplesPerPixel:      true,
	tagPlanarConfiguration:  true,
	tagNumberOfFrames:       true,
	tagRows:                 true,
	tagColumns:              true,
	tagBitsAllocated:        true,
	tagPixelData:            true,
}

type attribute struct {
	vr     string // empty under the implicit syntax
	value  []byte
	offset int64
}

// Reader holds the collected attributes of one DICOM file.
type Reader struct {
	attrs  map[uint32]attribute
	syntax transferSyntax
	enc    encoding.Encoding

	warnings []oct.Warning
}

// Open reads a DICOM file from disk.
func Open(path string) (*Reader, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}
	return NewReader(buf)
}

// NewReader parses a DICOM file already held in memory.
func NewReader(buf []byte) (*Reader, error) {
	c := cursor.New(buf)
	if err := c.SeekTo(128); err != nil {
		return nil, fmt.Errorf("no preamble: %w", oct.ErrUnrecognizedFormat)
	}
	sig, err := c.Bytes(4)
	if err != nil || string(sig) != "DICM" {
		return nil, fmt.Errorf("no DICM signature: %w", oct.ErrUnrecognizedFormat)
	}

	r := &Reader{attrs: map[uint32]attribute{}, enc: defaultCharacterRepertoire}

	uid, err := r.readMetaGroup(c)
	if err != nil {
		return nil, err
	}
	r.syntax = lookupTransferSyntax(uid)

	if r.syntax.deflated {
		rest, err := c.Bytes(c.Remaining())
		if err != nil {
			return nil, err
		}
		inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(rest)))
		if err != nil {
			return nil, fmt.Errorf("inflating dataset: %v: %w", err, oct.ErrUnrecognizedFormat)
		}
		c = cursor.New(inflated)
	}

	r.scanDataSet(c)

	if term, ok := r.attrs[tagSpecificCharacterSet]; ok {
		r.applyCharacterSet(term)
	}
	return r, nil
}

// readMetaGroup walks the group 0002 elements, which are always explicit
// VR little endian, and returns the transfer syntax UID (empty when the
// meta group omits it; the caller falls back to explicit little endian).
func (r *Reader) readMetaGroup(c *cursor.Cursor) (string, error) {
	var uid string
	for c.Remaining() >= 8 {
		pos := c.Tell()
		tag, err := readTag(c, explicitLittleEndian.order)
		if err != nil {
			return "", err
		}
		if tag>>16 != 0x0002 {
			if err := c.SeekTo(pos); err != nil {
				return "", err
			}
			break
		}
		_, length, err := readVRLength(c, explicitLittleEndian)
		if err != nil {
			return "", fmt.Errorf("meta element (%04X,%04X): %v", tag>>16, tag&0xFFFF, err)
		}
		if length == undefinedLength {
			return "", fmt.Errorf("meta element (%04X,%04X) with undefined length: %w",
				tag>>16, tag&0xFFFF, oct.ErrUnrecognizedFormat)
		}
		value, err := c.Bytes(int64(length))
		if err != nil {
			return "", fmt.Errorf("meta element (%04X,%04X): %v", tag>>16, tag&0xFFFF, err)
		}
		if tag == tagTransferSyntaxUID {
			uid = trimValue(value)
		}
	}
	return uid, nil
}

var explicitLittleEndian = lookupTransferSyntax(ExplicitVRLittleEndianUID)

// scanDataSet makes one pass over the main dataset. A malformed element
// ends the scan with a warning; everything collected before it stands.
func (r *Reader) scanDataSet(c *cursor.Cursor) {
	for c.Remaining() >= 8 {
		offset := c.Tell()
		tag, err := readTag(c, r.syntax.order)
		if err != nil {
			r.warnf(offset, "dataset element: %v", err)
			return
		}
		vr, length, err := readVRLength(c, r.syntax)
		if err != nil {
			r.warnf(offset, "element (%04X,%04X): %v", tag>>16, tag&0xFFFF, err)
			return
		}

		switch {
		case length == undefinedLength:
			if tag == tagPixelData {
				r.warnf(offset, "encapsulated pixel data skipped: %v", oct.ErrPixelDecode)
			}
			if err := skipUndefined(c, r.syntax); err != nil {
				r.warnf(offset, "element (%04X,%04X): %v", tag>>16, tag&0xFFFF, err)
				return
			}
		case vr == "SQ":
			if err := c.Skip(int64(length)); err != nil {
				r.warnf(offset, "sequence (%04X,%04X): %v", tag>>16, tag&0xFFFF, err)
				return
			}
		case wantedTags[tag]:
			value, err := c.Bytes(int64(length))
			if err != nil {
				r.warnf(offset, "element (%04X,%04X): %v", tag>>16, tag&0xFFFF, err)
				return
			}
			if _, seen := r.attrs[tag]; !seen {
				r.attrs[tag] = attribute{vr: vr, value: value, offset: offset}
			}
		default:
			if err := c.Skip(int64(length)); err != nil {
				r.warnf(offset, "element (%04X,%04X): %v", tag>>16, tag&0xFFFF, err)
				return
			}
		}
	}
}

func readTag(c *cursor.Cursor, order binary.ByteOrder) (uint32, error) {
	group, err := c.Uint16(order)
	if err != nil {
		return 0, err
	}
	element, err := c.Uint16(order)
	if err != nil {
		return 0, err
	}
	return uint32(group)<<16 | uint32(element), nil
}

// readVRLength reads the VR (when the syntax writes one) and value length
// of the element whose tag was just consumed.
func readVRLength(c *cursor.Cursor, s transferSyntax) (string, uint32, error) {
	if !s.explicitVR {
		length, err := c.Uint32(s.order)
		return "", length, err
	}
	vrb, err := c.Bytes(2)
	if err != nil {
		return "", 0, err
	}
	vr := string(vrb)
	if has32BitLength(vr) {
		if err := c.Skip(2); err != nil { // reserved
			return vr, 0, err
		}
		length, err := c.Uint32(s.order)
		return vr, length, err
	}
	length, err := c.Uint16(s.order)
	return vr, uint32(length), err
}

// skipUndefined consumes an undefined-length value (a sequence or
// encapsulated pixel data) up to and including its sequence delimiter.
// The value may hold only items and the delimiter; items carry no VR in
// any syntax, so this level is syntax-independent apart from byte order.
func skipUndefined(c *cursor.Cursor, s transferSyntax) error {
	for {
		tag, err := readTag(c, s.order)
		if err != nil {
			return err
		}
		if tag == tagSequenceDelim {
			return c.Skip(4) // delimiter length, always zero
		}
		if tag != tagItem {
			return fmt.Errorf("tag (%04X,%04X) where an item should start", tag>>16, tag&0xFFFF)
		}
		length, err := c.Uint32(s.order)
		if err != nil {
			return err
		}
		if length == undefinedLength {
			if err := skipItem(c, s); err != nil {
				return err
			}
		} else if err := c.Skip(int64(length)); err != nil {
			return err
		}
	}
}

// skipItem consumes the elements of an undefined-length item up to and
// including its item delimiter. Elements inside an item follow the
// dataset syntax, so nested undefined-length values recurse through
// skipUndefined.
func skipItem(c *cursor.Cursor, s transferSyntax) error {
	for {
		tag, err := readTag(c, s.order)
		if err != nil {
			return err
		}
		if tag == tagItemDelim {
			return c.Skip(4)
		}
		_, length, err := readVRLength(c, s)
		if err != nil {
			return err
		}
		if length == undefinedLength {
			if err := skipUndefined(c, s); err != nil {
				return err
			}
		} else if err := c.Skip(int64(length)); err != nil {
			return err
		}
	}
}

// applyCharacterSet switches the text decoder to the file's declared
// repertoire. Multi-valued sets pick the first non-empty term; an unknown
// term keeps the default with a warning rather than failing the file.
func (r *Reader) applyCharacterSet(attr attribute) {
	raw := trimValue(attr.value)
	term := raw
	for _, part := range strings.Split(raw, "\\") {
		if part = strings.TrimSpace(part); part != "" {
			term = part
			break
		}
	}
	if term == "" {
		return
	}
	enc, err := lookupEncoding(term)
	if err != nil {
		r.warnf(attr.offset, "character set: %v: %v", err, oct.ErrMetadataField)
		return
	}
	r.enc = enc
}

func (r *Reader) warnf(offset int64, format string, args ...interface{}) {
	r.warnings = append(r.warnings, oct.Warnf(offset, format, args...))
}

// trimValue strips the NUL and space padding DICOM string values carry.
func trimValue(b []byte) string {
	return strings.Trim(string(b), " \x00")
}
