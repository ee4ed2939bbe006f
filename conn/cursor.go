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

// DefaultBatchSize is the portal row limit Cursor uses when the caller
// passes batchSize <= 0 to Statement.Query. It bounds how many rows a
// single Execute fetches before the cursor asks the server to suspend
// the portal, trading round trips against memory held per batch.
const DefaultBatchSize = 256

// Cursor is a forward-only, pull-based iterator over the rows of a
// bound portal. At most one Cursor is open on a Connection at a time
// (spec.md §3, §4.4's one-active-child rule): opening a new one
// drains-and-closes whichever Cursor was previously open, rather than
// blocking forever behind it.
type Cursor struct {
	conn       *Connection
	stmt       *Statement
	portalName string
	batchSize  int32

	batch        []Row
	next         int
	portalDone   bool // server has reported CommandComplete for this portal
	commandTag   string
	rowsAffected uint64

	closed bool
}

// Columns returns the result column metadata for the bound statement.
func (cur *Cursor) Columns() []ColumnMetadata { return cur.stmt.columns }

// CommandTag returns the command tag from CommandComplete, valid once
// Next has returned ok == false with a nil error.
func (cur *Cursor) CommandTag() string { return cur.commandTag }

// RowsAffected returns the row count parsed from the command tag,
// valid once Next has returned ok == false with a nil error.
func (cur *Cursor) RowsAffected() uint64 { return cur.rowsAffected }

// IsClosed reports whether this Cursor has been closed, directly or as
// a side effect of a later Query/Prepare/SimpleQuery on its Connection
// implicitly draining and closing it first.
func (cur *Cursor) IsClosed() bool { return cur.closed }

// Next advances the cursor and returns the next row. ok is false once
// the portal is exhausted (not an error); callers should stop calling
// Next at that point. Next transparently issues further Execute+Sync
// round trips when the current batch runs out and the portal was
// merely suspended, not finished. Each round trip takes conn.bufMu only
// for its own duration, so a Cursor never blocks other operations on
// the Connection between calls to Next.
func (cur *Cursor) Next(ctx context.Context) (Row, bool, error) {
	if cur.closed {
		return Row{}, false, ErrCursorClosed
	}

	for cur.next >= len(cur.batch) {
		if cur.portalDone {
			cur.conn.bufMu.Lock()
			err := cur.closeLocked(ctx)
			cur.conn.bufMu.Unlock()
			if err != nil {
				return Row{}, false, err
			}
			return Row{}, false, nil
		}
		cur.conn.bufMu.Lock()
		err := cur.fetchBatchLocked(ctx)
		cur.conn.bufMu.Unlock()
		if err != nil {
			return Row{}, false, err
		}
	}

	row := cur.batch[cur.next]
	cur.next++
	return row, true, nil
}

// Close drains and releases the portal. It is safe to call on an
// already-exhausted or already-closed cursor.
func (cur *Cursor) Close(ctx context.Context) error {
	if cur.closed {
		return nil
	}
	cur.conn.bufMu.Lock()
	defer cur.conn.bufMu.Unlock()
	return cur.closeLocked(ctx)
}

// closeLocked does the work of Close, assuming the caller already
// holds conn.bufMu (used both by the public Close and by the
// one-active-child rule's implicit predecessor close in Statement.Query,
// Connection.Prepare, and Connection.SimpleQuery).
func (cur *Cursor) closeLocked(ctx context.Context) error {
	if cur.closed {
		return nil
	}
	var err error
	if !cur.portalDone {
		err = cur.conn.closeTargetLocked(ctx, 'P', cur.portalName)
	}
	cur.closed = true
	if cur.conn.openCursor == cur {
		cur.conn.openCursor = nil
	}
	return err
}

// fetchBatchLocked issues Execute(maxRows)+Sync against the
// already-bound portal and buffers whatever rows come back. The
// caller must already hold conn.bufMu.
func (cur *Cursor) fetchBatchLocked(ctx context.Context) error {
	return cur.conn.withDeadline(ctx, func() error {
		if err := cur.conn.writeExecute(cur.portalName, cur.batchSize); err != nil {
			return err
		}
		if err := cur.conn.codec.WriteMessageNoFlush(protocol.MsgSync, nil); err != nil {
			return fmt.Errorf("conn: sending Sync: %w", err)
		}
		if err := cur.conn.codec.Flush(); err != nil {
			return err
		}
		return cur.conn.readExecuteResponses(cur)
	})
}

// Query binds this statement's parameters to a new portal and fetches
// the first batch of rows. Per spec.md §4.4's one-active-child rule,
// it first drains-and-closes whichever Cursor was previously open on
// the Connection.
func (s *Statement) Query(ctx context.Context, params [][]byte, paramFormats, resultFormats []int16, batchSize int32) (*Cursor, error) {
	if s.conn.IsClosed() {
		return nil, ErrClosed
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	s.conn.bufMu.Lock()
	defer s.conn.bufMu.Unlock()

	if err := s.conn.closeOpenCursorLocked(ctx); err != nil {
		return nil, err
	}

	cur := &Cursor{conn: s.conn, stmt: s, portalName: "", batchSize: batchSize}
	err := s.conn.withDeadline(ctx, func() error {
		if err := s.conn.writeBind(cur.portalName, s.name, paramFormats, params, resultFormats); err != nil {
			return err
		}
		if err := s.conn.writeExecute(cur.portalName, batchSize); err != nil {
			return err
		}
		if err := s.conn.codec.WriteMessageNoFlush(protocol.MsgSync, nil); err != nil {
			return fmt.Errorf("conn: sending Sync: %w", err)
		}
		if err := s.conn.codec.Flush(); err != nil {
			return err
		}
		return s.conn.readBindAndExecuteResponses(cur)
	})
	if err != nil {
		return nil, err
	}
	s.conn.openCursor = cur
	return cur, nil
}

func (c *Connection) writeBind(portal, stmt string, paramFormats []int16, params [][]byte, resultFormats []int16) error {
	w := protocol.NewWriter()
	w.CString(portal)
	w.CString(stmt)

	w.Int16(int16(len(paramFormats)))
	for _, f := range paramFormats {
		w.Int16(f)
	}

	w.Int16(int16(len(params)))
	for _, p := range params {
		w.ByteString(p)
	}

	w.Int16(int16(len(resultFormats)))
	for _, f := range resultFormats {
		w.Int16(f)
	}

	if err := c.codec.WriteMessageNoFlush(protocol.MsgBind, w.Bytes()); err != nil {
		return fmt.Errorf("conn: sending Bind: %w", err)
	}
	return nil
}

func (c *Connection) writeExecute(portal string, maxRows int32) error {
	w := protocol.NewWriter()
	w.CString(portal)
	w.Int32(maxRows)
	if err := c.codec.WriteMessageNoFlush(protocol.MsgExecute, w.Bytes()); err != nil {
		return fmt.Errorf("conn: sending Execute: %w", err)
	}
	return nil
}

// readBindAndExecuteResponses processes the response to the initial
// Bind+Execute+Sync pipeline that opens a portal.
func (c *Connection) readBindAndExecuteResponses(cur *Cursor) error {
	for {
		msgType, body, err := c.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: reading Bind/Execute response: %w", err)
		}

		switch msgType {
		case protocol.MsgBindComplete:
			// nothing to record

		case protocol.MsgDataRow:
			row, err := parseRow(body)
			if err != nil {
				return err
			}
			cur.batch = append(cur.batch, row)

		case protocol.MsgPortalSuspended:
			// more rows remain; caller will Execute again

		case protocol.MsgCommandComplete:
			r := protocol.NewReader(body)
			tag, err := r.CString()
			if err != nil {
				return fmt.Errorf("conn: reading CommandComplete: %w", err)
			}
			cur.commandTag = tag
			cur.rowsAffected = parseRowsAffected(tag)
			cur.portalDone = true

		case protocol.MsgEmptyQueryResponse:
			cur.portalDone = true

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
			return fmt.Errorf("%w: 0x%02x during Bind/Execute", ErrUnexpectedMessage, msgType)
		}
	}
}

// readExecuteResponses processes the response to a follow-up
// Execute+Sync pipeline that resumes a previously suspended portal. It
// resets the cursor's batch before appending new rows.
func (c *Connection) readExecuteResponses(cur *Cursor) error {
	cur.batch = cur.batch[:0]
	cur.next = 0

	for {
		msgType, body, err := c.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: reading Execute response: %w", err)
		}

		switch msgType {
		case protocol.MsgDataRow:
			row, err := parseRow(body)
			if err != nil {
				return err
			}
			cur.batch = append(cur.batch, row)

		case protocol.MsgPortalSuspended:
			// more rows remain; caller will Execute again

		case protocol.MsgCommandComplete:
			r := protocol.NewReader(body)
			tag, err := r.CString()
			if err != nil {
				return fmt.Errorf("conn: reading CommandComplete: %w", err)
			}
			cur.commandTag = tag
			cur.rowsAffected = parseRowsAffected(tag)
			cur.portalDone = true

		case protocol.MsgEmptyQueryResponse:
			cur.portalDone = true

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
			return fmt.Errorf("%w: 0x%02x during Execute", ErrUnexpectedMessage, msgType)
		}
	}
}
