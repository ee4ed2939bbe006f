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

// SimpleQuery runs one or more semicolon-separated statements through
// the simple query protocol and returns one QueryResult per statement.
// It is meant for statements that don't need bind parameters: BEGIN,
// COMMIT, ROLLBACK, SET, DDL, and ad hoc queries whose result sets are
// small enough to materialize in full. For large result sets or
// parameterized queries, use Prepare and a Cursor instead. Per
// spec.md §4.4 ("Each closes any open cursor first"), it
// drains-and-closes any still-open Cursor before sending Query.
func (c *Connection) SimpleQuery(ctx context.Context, query string) ([]QueryResult, error) {
	if c.IsClosed() {
		return nil, ErrClosed
	}

	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	if err := c.closeOpenCursorLocked(ctx); err != nil {
		return nil, err
	}

	var results []QueryResult
	err := c.withDeadline(ctx, func() error {
		w := protocol.NewWriter()
		w.CString(query)
		if err := c.codec.WriteMessage(protocol.MsgQuery, w.Bytes()); err != nil {
			return fmt.Errorf("conn: sending Query: %w", err)
		}
		var err error
		results, err = c.readSimpleQueryResponses()
		return err
	})
	return results, err
}

func (c *Connection) readSimpleQueryResponses() ([]QueryResult, error) {
	var results []QueryResult
	var current QueryResult
	haveCurrent := false

	for {
		msgType, body, err := c.codec.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("conn: reading query response: %w", err)
		}

		switch msgType {
		case protocol.MsgRowDescription:
			columns, err := parseColumns(body)
			if err != nil {
				return nil, err
			}
			current = QueryResult{Columns: columns}
			haveCurrent = true

		case protocol.MsgDataRow:
			if !haveCurrent {
				current = QueryResult{}
				haveCurrent = true
			}
			row, err := parseRow(body)
			if err != nil {
				return nil, err
			}
			current.Rows = append(current.Rows, row)

		case protocol.MsgCommandComplete:
			r := protocol.NewReader(body)
			tag, err := r.CString()
			if err != nil {
				return nil, fmt.Errorf("conn: reading CommandComplete: %w", err)
			}
			if !haveCurrent {
				current = QueryResult{}
			}
			current.CommandTag = tag
			current.RowsAffected = parseRowsAffected(tag)
			results = append(results, current)
			current, haveCurrent = QueryResult{}, false

		case protocol.MsgEmptyQueryResponse:
			results = append(results, QueryResult{})
			current, haveCurrent = QueryResult{}, false

		case protocol.MsgParameterStatus:
			r := protocol.NewReader(body)
			name, _ := r.CString()
			value, _ := r.CString()
			c.setParameterStatus(name, value)

		case protocol.MsgNoticeResponse:
			c.cfg.delegate().OnNotice(parseNotice(body))

		case protocol.MsgReadyForQuery:
			if len(body) < 1 {
				return nil, fmt.Errorf("%w: empty ReadyForQuery body", ErrUnexpectedMessage)
			}
			c.setTxnStatus(protocol.TransactionStatus(body[0]))
			return results, nil

		case protocol.MsgErrorResponse:
			// A failed statement still ends with ReadyForQuery; drain
			// to it before returning so the connection stays usable.
			sqlErr := parseError(body)
			if drainErr := c.drainToReadyForQuery(); drainErr != nil {
				return nil, drainErr
			}
			return nil, sqlErr

		default:
			return nil, fmt.Errorf("%w: 0x%02x during simple query", ErrUnexpectedMessage, msgType)
		}
	}
}

// drainToReadyForQuery consumes messages until ReadyForQuery, used to
// resynchronize the connection after a mid-stream ErrorResponse.
func (c *Connection) drainToReadyForQuery() error {
	for {
		msgType, body, err := c.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: draining to ReadyForQuery: %w", err)
		}
		if msgType == protocol.MsgReadyForQuery {
			if len(body) < 1 {
				return fmt.Errorf("%w: empty ReadyForQuery body", ErrUnexpectedMessage)
			}
			c.setTxnStatus(protocol.TransactionStatus(body[0]))
			return nil
		}
	}
}
