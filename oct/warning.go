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

import "fmt"

// Warning records a non-fatal problem encountered during a decode: a
// skipped record, a slice that failed to decode, a metadata field that was
// downgraded to absent. Warnings are values attached to the entity they
// concern, not log output.
type Warning struct {
	// Offset is the file offset of the record the warning concerns, or -1
	// when no single offset applies.
	Offset int64

	Message string
}

// Warnf builds a Warning the way fmt.Sprintf builds a string.
func Warnf(offset int64, format string, args ...interface{}) Warning {
	return Warning{Offset: offset, Message: fmt.Sprintf(format, args...)}
}

func (w Warning) String() string {
	if w.Offset < 0 {
		return w.Message
	}
	return fmt.Sprintf("offset %d: %s", w.Offset, w.Message)
}
