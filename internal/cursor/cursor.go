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

// Package cursor provides a positionable, bounds-checked reader over an
// in-memory byte buffer. Every read is validated against the buffer extent
// and fails with oct.ErrOutOfBounds instead of panicking; byte order is
// explicit per call because the supported file formats mix little- and
// big-endian fields within one file.
package cursor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/encoding"

	"github.com/retinalab/octfile/oct"
)

// Cursor reads typed primitives from a byte buffer, advancing an internal
// position. The buffer is never modified. Child cursors returned by Slice
// share the parent's buffer; no pixel payload is copied until a decoder
// materializes it.
type Cursor struct {
	buf []byte
	pos int64
}

// New returns a cursor positioned at the start of buf.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Len returns the buffer length.
func (c *Cursor) Len() int64 { return int64(len(c.buf)) }

// Tell returns the current position.
func (c *Cursor) Tell() int64 { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int64 { return int64(len(c.buf)) - c.pos }

// SeekTo moves the position to an absolute offset. Seeking to Len() is
// allowed; the next read fails.
func (c *Cursor) SeekTo(off int64) error {
	if off < 0 || off > int64(len(c.buf)) {
		return fmt.Errorf("seek to %d in %d-byte buffer: %w", off, len(c.buf), oct.ErrOutOfBounds)
	}
	c.pos = off
	return nil
}

// Skip advances the position by n bytes.
func (c *Cursor) Skip(n int64) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("skip %d bytes at offset %d of %d: %w", n, c.pos, len(c.buf), oct.ErrOutOfBounds)
	}
	c.pos += n
	return nil
}

// Bytes returns the next n bytes as a view into the underlying buffer,
// not a copy. Callers must not modify the result.
func (c *Cursor) Bytes(n int64) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("read %d bytes at offset %d of %d: %w", n, c.pos, len(c.buf), oct.ErrOutOfBounds)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// View returns length bytes at an absolute offset without moving the
// position. Offset arithmetic is overflow-safe: adversarial offset/length
// pairs (including values near the uint64 maximum) are rejected rather
// than wrapped.
func (c *Cursor) View(off, length uint64) ([]byte, error) {
	if off > uint64(len(c.buf)) || length > uint64(len(c.buf))-off {
		return nil, fmt.Errorf("view of %d bytes at offset %d of %d: %w", length, off, len(c.buf), oct.ErrOutOfBounds)
	}
	return c.buf[off : off+length], nil
}

// Slice returns a child cursor over length bytes at an absolute offset.
// The child shares the parent's buffer and has an independent position.
func (c *Cursor) Slice(off, length uint64) (*Cursor, error) {
	b, err := c.View(off, length)
	if err != nil {
		return nil, err
	}
	return &Cursor{buf: b}, nil
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a 16-bit unsigned integer in the given byte order.
func (c *Cursor) Uint16(order binary.ByteOrder) (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

// Uint32 reads a 32-bit unsigned integer in the given byte order.
func (c *Cursor) Uint32(order binary.ByteOrder) (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

// Uint64 reads a 64-bit unsigned integer in the given byte order.
func (c *Cursor) Uint64(order binary.ByteOrder) (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

// Int32 reads a 32-bit signed integer in the given byte order.
func (c *Cursor) Int32(order binary.ByteOrder) (int32, error) {
	v, err := c.Uint32(order)
	return int32(v), err
}

// Float32 reads an IEEE 754 single in the given byte order.
func (c *Cursor) Float32(order binary.ByteOrder) (float32, error) {
	v, err := c.Uint32(order)
	return math.Float32frombits(v), err
}

// Float64 reads an IEEE 754 double in the given byte order.
func (c *Cursor) Float64(order binary.ByteOrder) (float64, error) {
	v, err := c.Uint64(order)
	return math.Float64frombits(v), err
}

// FixedString reads an n-byte fixed-width string field. The field is cut
// at the first NUL, trimmed of padding, and decoded with enc; a nil enc
// means the bytes are already text (ASCII). A decode failure reports the
// raw bytes as oct.ErrMetadataField so callers can downgrade the field.
func (c *Cursor) FixedString(n int64, enc encoding.Encoding) (string, error) {
	b, err := c.Bytes(n)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if enc != nil {
		decoded, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return "", fmt.Errorf("decoding %d-byte string field: %w", n, oct.ErrMetadataField)
		}
		b = decoded
	}
	return strings.TrimRight(string(b), " "), nil
}
