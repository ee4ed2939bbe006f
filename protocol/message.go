// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Reader parses the fields of a single message body in the order the
// protocol defines them.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps a message body for field-by-field parsing.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// Uint16 reads a 16-bit unsigned integer in network byte order.
func (r *Reader) Uint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a 32-bit unsigned integer in network byte order.
func (r *Reader) Uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Int16 reads a 16-bit signed integer in network byte order.
func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

// Int32 reads a 32-bit signed integer in network byte order.
func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// CString reads a null-terminated string.
func (r *Reader) CString() (string, error) {
	start := r.pos
	for r.pos < len(r.buf) {
		if r.buf[r.pos] == 0 {
			s := string(r.buf[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", io.EOF
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, io.EOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Rest returns all unread bytes and advances the reader to the end.
func (r *Reader) Rest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// ByteString reads a length-prefixed value (4-byte length + data) as
// used for column values in DataRow. A length of -1 represents SQL
// NULL and is returned as a nil slice with ok=false.
func (r *Reader) ByteString() (data []byte, ok bool, err error) {
	length, err := r.Int32()
	if err != nil {
		return nil, false, err
	}
	if length == -1 {
		return nil, false, nil
	}
	if length < 0 {
		return nil, false, fmt.Errorf("protocol: invalid byte string length %d", length)
	}
	data, err = r.Bytes(int(length))
	return data, true, err
}

// Writer accumulates the fields of a message body in wire order.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty message body writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

// Bytes returns the accumulated body.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// Raw appends bytes verbatim.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Uint16 appends a 16-bit unsigned integer in network byte order.
func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Uint32 appends a 32-bit unsigned integer in network byte order.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int16 appends a 16-bit signed integer in network byte order.
func (w *Writer) Int16(v int16) { w.Uint16(uint16(v)) }

// Int32 appends a 32-bit signed integer in network byte order.
func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

// CString appends a null-terminated string.
func (w *Writer) CString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// ByteString appends a length-prefixed value; nil encodes SQL NULL (-1).
func (w *Writer) ByteString(b []byte) {
	if b == nil {
		w.Int32(-1)
		return
	}
	w.Int32(int32(len(b)))
	w.Raw(b)
}
