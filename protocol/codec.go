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

// Flusher is implemented by writers that buffer writes until explicitly
// told to push them to the wire (bytechannel.Channel satisfies this).
type Flusher interface {
	Flush() error
}

// NoFlushWriter is implemented by writers that can buffer a write
// without forcing a flush, so several messages can be pipelined before
// a single Flush call (used for Parse+Bind+Execute+Sync).
type NoFlushWriter interface {
	WriteNoFlush(p []byte) (int, error)
}

// Codec frames PostgreSQL wire protocol messages (1-byte type + 4-byte
// big-endian length + body) on top of any io.Reader/io.Writer pair. It
// has no notion of connection state; the Connection FSM is responsible
// for interpreting the message stream it produces.
type Codec struct {
	r io.Reader
	w io.Writer
}

// NewCodec builds a Codec over the given reader and writer. In
// practice both are the same *bytechannel.Channel, but the codec is
// deliberately decoupled from that type so it can be tested against
// plain in-memory buffers.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{r: r, w: w}
}

// ReadMessage reads one complete message: its type byte and body. The
// returned body excludes the type byte and the length field itself.
func (c *Codec) ReadMessage() (byte, []byte, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(c.r, typeBuf[:]); err != nil {
		return 0, nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 4 {
		return 0, nil, fmt.Errorf("protocol: invalid message length %d", length)
	}

	bodyLen := int(length - 4)
	if bodyLen == 0 {
		return typeBuf[0], nil, nil
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return 0, nil, err
	}
	return typeBuf[0], body, nil
}

// WriteMessage writes a complete message and flushes it to the wire.
func (c *Codec) WriteMessage(msgType byte, body []byte) error {
	if err := c.writeFrame(msgType, body, false); err != nil {
		return err
	}
	return c.Flush()
}

// WriteMessageNoFlush writes a complete message without flushing,
// allowing subsequent messages to be pipelined before one Flush.
func (c *Codec) WriteMessageNoFlush(msgType byte, body []byte) error {
	return c.writeFrame(msgType, body, true)
}

func (c *Codec) writeFrame(msgType byte, body []byte, noFlush bool) error {
	var hdr [5]byte
	hdr[0] = msgType
	binary.BigEndian.PutUint32(hdr[1:], uint32(4+len(body)))

	if noFlush {
		if nfw, ok := c.w.(NoFlushWriter); ok {
			if _, err := nfw.WriteNoFlush(hdr[:]); err != nil {
				return err
			}
			if len(body) > 0 {
				if _, err := nfw.WriteNoFlush(body); err != nil {
					return err
				}
			}
			return nil
		}
	}

	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := c.w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces any buffered writes out, if the underlying writer
// supports it.
func (c *Codec) Flush() error {
	if f, ok := c.w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// WriteRaw writes bytes that do not follow the type+length framing,
// used only for the SSLRequest/startup special-case packets which
// precede any type byte.
func (c *Codec) WriteRaw(p []byte) error {
	if _, err := c.w.Write(p); err != nil {
		return err
	}
	return c.Flush()
}

// ReadByte reads a single raw byte, used for the SSLRequest response
// ('S' or 'N') which is not itself framed as a message.
func (c *Codec) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
