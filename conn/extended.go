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

package conn

import (
	"context"
	"fmt"

	"github.com/multigres/pgwireclient/protocol"
)

// Statement is a parsed, server-side prepared statement. Name is
// whatever the caller passed to Prepare; the empty string prepares the
// protocol's "unnamed" statement, which a later Parse silently
// replaces (useful for one-shot parameterized queries that don't need
// to survive past their first use).
type Statement struct {
	conn      *Connection
	name      string
	paramOIDs []uint32
	columns   []ColumnMetadata
	closed    bool
}

// Name returns the statement name this Statement was prepared under.
func (s *Statement) Name() string { return s.name }

// ParamOIDs returns the parameter type OIDs the server inferred (or
// that the caller supplied to Prepare).
func (s *Statement) ParamOIDs() []uint32 { return s.paramOIDs }

// Columns returns the result column metadata, empty for statements
// that don't return rows (e.g. INSERT without RETURNING).
func (s *Statement) Columns() []ColumnMetadata { return s.columns }

// IsClosed reports whether this Statement has been closed, directly or
// as a side effect of a later Prepare on its Connection.
// Connection.Close and Connection.CloseAbruptly do not mark it closed.
func (s *Statement) IsClosed() bool { return s.closed }

// Close releases the server-side statement and, per spec.md §4.5, any
// Cursor it still owns. It is idempotent. For the unnamed statement,
// which the server recycles automatically, no Close message is sent.
func (s *Statement) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.conn.bufMu.Lock()
	defer s.conn.bufMu.Unlock()
	return s.closeLocked(ctx)
}

// closeLocked does the work of Close, assuming the caller already
// holds conn.bufMu (used both by the public Close and by the
// one-active-child rule's implicit predecessor close in Prepare).
func (s *Statement) closeLocked(ctx context.Context) error {
	if s.closed {
		return nil
	}
	if cur := s.conn.openCursor; cur != nil && cur.stmt == s {
		if err := cur.closeLocked(ctx); err != nil {
			return err
		}
	}
	s.closed = true
	if s.conn.openStmt == s {
		s.conn.openStmt = nil
	}
	if s.name == "" {
		return nil
	}
	return s.conn.closeTargetLocked(ctx, 'S', s.name)
}

// Prepare parses query into a server-side statement and describes its
// parameter and result shapes in a single round trip (Parse, Describe,
// Sync). Per spec.md §4.4's one-active-child rule, it first
// drains-and-closes any still-open Cursor and sends Close(statement)
// for any still-open Statement on this Connection.
func (c *Connection) Prepare(ctx context.Context, name, query string, paramOIDs []uint32) (*Statement, error) {
	if c.IsClosed() {
		return nil, ErrClosed
	}

	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	if err := c.closeOpenCursorLocked(ctx); err != nil {
		return nil, err
	}
	if err := c.closeOpenStatementLocked(ctx); err != nil {
		return nil, err
	}

	stmt := &Statement{conn: c, name: name}
	err := c.withDeadline(ctx, func() error {
		if err := c.writeParse(name, query, paramOIDs); err != nil {
			return err
		}
		if err := c.codec.WriteMessageNoFlush(protocol.MsgDescribe, describeBody('S', name)); err != nil {
			return fmt.Errorf("conn: sending Describe: %w", err)
		}
		if err := c.codec.WriteMessageNoFlush(protocol.MsgSync, nil); err != nil {
			return fmt.Errorf("conn: sending Sync: %w", err)
		}
		if err := c.codec.Flush(); err != nil {
			return err
		}
		return c.readPrepareResponses(stmt)
	})
	if err != nil {
		return nil, err
	}
	c.openStmt = stmt
	return stmt, nil
}

func (c *Connection) readPrepareResponses(stmt *Statement) error {
	sawParseComplete := false
	for {
		msgType, body, err := c.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: reading Prepare response: %w", err)
		}

		switch msgType {
		case protocol.MsgParseComplete:
			sawParseComplete = true

		case protocol.MsgParameterDescription:
			oids, err := parseParamOIDs(body)
			if err != nil {
				return err
			}
			stmt.paramOIDs = oids

		case protocol.MsgRowDescription:
			columns, err := parseColumns(body)
			if err != nil {
				return err
			}
			stmt.columns = columns

		case protocol.MsgNoData:
			stmt.columns = nil

		case protocol.MsgNoticeResponse:
			c.cfg.delegate().OnNotice(parseNotice(body))

		case protocol.MsgReadyForQuery:
			if !sawParseComplete {
				return fmt.Errorf("%w: ReadyForQuery before ParseComplete", ErrUnexpectedMessage)
			}
			c.setTxnStatus(protocol.TransactionStatus(body[0]))
			return nil

		case protocol.MsgErrorResponse:
			sqlErr := parseError(body)
			if drainErr := c.drainToReadyForQuery(); drainErr != nil {
				return drainErr
			}
			return sqlErr

		default:
			return fmt.Errorf("%w: 0x%02x during Prepare", ErrUnexpectedMessage, msgType)
		}
	}
}

func parseParamOIDs(body []byte) ([]uint32, error) {
	r := protocol.NewReader(body)
	count, err := r.Int16()
	if err != nil {
		return nil, fmt.Errorf("conn: reading ParameterDescription count: %w", err)
	}
	oids := make([]uint32, count)
	for i := range oids {
		if oids[i], err = r.Uint32(); err != nil {
			return nil, fmt.Errorf("conn: reading parameter OID: %w", err)
		}
	}
	return oids, nil
}

func describeBody(kind byte, name string) []byte {
	w := protocol.NewWriter()
	w.Byte(kind)
	w.CString(name)
	return w.Bytes()
}

func (c *Connection) writeParse(name, query string, paramOIDs []uint32) error {
	w := protocol.NewWriter()
	w.CString(name)
	w.CString(query)
	w.Int16(int16(len(paramOIDs)))
	for _, oid := range paramOIDs {
		w.Uint32(oid)
	}
	if err := c.codec.WriteMessageNoFlush(protocol.MsgParse, w.Bytes()); err != nil {
		return fmt.Errorf("conn: sending Parse: %w", err)
	}
	return nil
}

// closeTargetLocked sends Close(kind,name)+Sync for a statement or
// portal. The caller must already hold c.bufMu.
func (c *Connection) closeTargetLocked(ctx context.Context, kind byte, name string) error {
	return c.withDeadline(ctx, func() error {
		if err := c.codec.WriteMessageNoFlush(protocol.MsgClose, describeBody(kind, name)); err != nil {
			return fmt.Errorf("conn: sending Close: %w", err)
		}
		if err := c.codec.WriteMessageNoFlush(protocol.MsgSync, nil); err != nil {
			return fmt.Errorf("conn: sending Sync: %w", err)
		}
		if err := c.codec.Flush(); err != nil {
			return err
		}
		return c.readCloseResponses()
	})
}

func (c *Connection) readCloseResponses() error {
	for {
		msgType, body, err := c.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: reading Close response: %w", err)
		}
		switch msgType {
		case protocol.MsgCloseComplete:
		case protocol.MsgNoticeResponse:
			c.cfg.delegate().OnNotice(parseNotice(body))
		case protocol.MsgReadyForQuery:
			c.setTxnStatus(protocol.TransactionStatus(body[0]))
			return nil
		case protocol.MsgErrorResponse:
			sqlErr := parseError(body)
			if drainErr := c.drainToReadyForQuery(); drainErr != nil {
				return drainErr
			}
			return sqlErr
		default:
			return fmt.Errorf("%w: 0x%02x during Close", ErrUnexpectedMessage, msgType)
		}
	}
}
