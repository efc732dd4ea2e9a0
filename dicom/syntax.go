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

package dicom

import "encoding/binary"

// list of transfer syntaxes obtained from
// http://dicom.nema.org/medical/dicom/current/output/html/part06.html#chapter_A
const (
	// ImplicitVRLittleEndianUID is the Implicit VR Little Endian UID
	ImplicitVRLittleEndianUID = "1.2.840.10008.1.2"
	// ExplicitVRLittleEndianUID is the Explicit VR Little Endian UID
	ExplicitVRLittleEndianUID = "1.2.840.10008.1.2.1"
	// ExplicitVRBigEndianUID is the Explicit VR Big Endian UID
	ExplicitVRBigEndianUID = "1.2.840.10008.1.2.2"
	// DeflatedExplicitVRLittleEndianUID is the Deflated Explicit VR Little Endian UID
	DeflatedExplicitVRLittleEndianUID = "1.2.840.10008.1.2.1.99"
)

// transferSyntax captures how data elements after the meta group are laid
// out: whether VRs are written into the file, the byte order of numbers,
// and whether the main dataset is deflate-compressed.
type transferSyntax struct {
	explicitVR bool
	order      binary.ByteOrder
	deflated   bool
}

func lookupTransferSyntax(uid string) transferSyntax {
	switch uid {
	case ImplicitVRLittleEndianUID:
		return transferSyntax{false, binary.LittleEndian, false}
	case ExplicitVRBigEndianUID:
		return transferSyntax{true, binary.BigEndian, false}
	case DeflatedExplicitVRLittleEndianUID:
		return transferSyntax{true, binary.LittleEndian, true}
	}
	// Any other syntax is treated as explicit VR little endian per PS3.5
	// A.4; encapsulated pixel data under such syntaxes is detected by its
	// undefined length, not by the UID.
	return transferSyntax{true, binary.LittleEndian, false}
}

// undefinedLength marks a data element whose extent is closed by a
// delimiter item instead of a byte count.
const undefinedLength = 0xFFFFFFFF

// has32BitLength reports whether an explicit VR stores its value length
// in a 32-bit field after a 2-byte reserved gap.
// http://dicom.nema.org/medical/dicom/current/output/html/part05.html#sect_7.1.2
func has32BitLength(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OW", "SQ", "UC", "UR", "UT", "UN":
		return true
	default:
		return false
	}
}
