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
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multigres/pgwireclient/bytechannel"
	"github.com/multigres/pgwireclient/protocol"
)

// Connection is a single, non-pooled PostgreSQL wire-protocol
// connection. A Connection is not safe for concurrent use by more than
// one goroutine at a time: like the wire protocol itself, it is a
// strict request/response channel, enforced here by bufMu rather than
// by an actor/event loop.
type Connection struct {
	cfg Config

	netConn net.Conn
	ch      *bytechannel.Channel
	codec   *protocol.Codec

	bufMu sync.Mutex // owns all request/response exchanges on ch/codec

	// openStmt and openCursor are the spec.md §3 "at most one open at a
	// time" statement/cursor handles. Both are only read and mutated
	// while bufMu is held: Prepare, Statement.Query, and SimpleQuery
	// each actively drain-and-close their predecessor before starting a
	// new exchange (spec.md §4.4's one-active-child rule), rather than
	// relying on bufMu contention to keep a stale handle from being used
	// concurrently.
	openStmt   *Statement
	openCursor *Cursor

	state     atomic.Int32
	processID uint32
	secretKey uint32

	paramMu sync.RWMutex
	params  map[string]string

	txnStatus protocol.TransactionStatus

	logger *slog.Logger
	closed atomic.Bool
}

// Connect dials the server, optionally upgrades to TLS, and completes
// the startup/authentication exchange. The returned Connection is in
// StateReady.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("conn: dial: %w", err)
	}

	c := &Connection{
		cfg:     cfg,
		netConn: netConn,
		params:  make(map[string]string),
		logger:  cfg.logger(),
	}
	c.ch = bytechannel.New(netConn, cfg.ByteChannel)
	c.codec = protocol.NewCodec(c.ch, c.ch)
	c.state.Store(int32(StateNegotiating))

	if cfg.TLSConfig != nil {
		c.state.Store(int32(StateEncrypting))
		if err := c.negotiateSSL(ctx); err != nil {
			c.ch.Close()
			return nil, err
		}
	}

	c.state.Store(int32(StateAuthenticating))
	if err := c.startup(ctx); err != nil {
		c.ch.Close()
		return nil, err
	}

	c.state.Store(int32(StateReady))
	return c, nil
}

// State returns the connection's current protocol state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// ProcessID returns the backend process ID reported in BackendKeyData,
// used to issue a CancelRequest on a separate connection.
func (c *Connection) ProcessID() uint32 { return c.processID }

// SecretKey returns the backend secret key reported in BackendKeyData.
func (c *Connection) SecretKey() uint32 { return c.secretKey }

// TxnStatus returns the transaction status from the most recent
// ReadyForQuery message.
func (c *Connection) TxnStatus() protocol.TransactionStatus {
	return c.txnStatus
}

// InTransaction reports whether the server considers this connection
// inside an open (possibly failed) transaction block.
func (c *Connection) InTransaction() bool {
	switch c.TxnStatus() {
	case protocol.TxnStatusInBlock, protocol.TxnStatusFailed:
		return true
	default:
		return false
	}
}

// setTxnStatus records the transaction status carried by a
// ReadyForQuery message and mirrors it onto the coarser State enum so
// State() reflects whether an explicit transaction block is open.
func (c *Connection) setTxnStatus(status protocol.TransactionStatus) {
	c.txnStatus = status
	switch status {
	case protocol.TxnStatusInBlock, protocol.TxnStatusFailed:
		c.state.Store(int32(StateInExplicitTxn))
	default:
		c.state.Store(int32(StateReady))
	}
}

// closeOpenCursorLocked drains-and-closes whichever Cursor is
// currently open on this Connection, if any (spec.md §4.4's
// one-active-child rule). The caller must already hold c.bufMu.
func (c *Connection) closeOpenCursorLocked(ctx context.Context) error {
	if c.openCursor == nil {
		return nil
	}
	return c.openCursor.closeLocked(ctx)
}

// closeOpenStatementLocked sends Close(statement) for whichever
// Statement is currently open on this Connection, if any, first
// draining-and-closing any Cursor it owns. The caller must already
// hold c.bufMu.
func (c *Connection) closeOpenStatementLocked(ctx context.Context) error {
	if c.openStmt == nil {
		return nil
	}
	return c.openStmt.closeLocked(ctx)
}

// ParameterStatus returns the last-known value of a runtime parameter
// the server reported (e.g. "server_version", "TimeZone").
func (c *Connection) ParameterStatus(name string) (string, bool) {
	c.paramMu.RLock()
	defer c.paramMu.RUnlock()
	v, ok := c.params[name]
	return v, ok
}

func (c *Connection) setParameterStatus(name, value string) {
	c.paramMu.Lock()
	c.params[name] = value
	c.paramMu.Unlock()
	c.cfg.delegate().OnParameterStatus(name, value)
}

// IsClosed reports whether Close or CloseAbruptly has been called on
// this connection. A protocol or transport error does not by itself
// mark the connection closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Close terminates the connection, sending a Terminate message on a
// best-effort basis before closing the socket. Safe to call more than
// once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.state.Store(int32(StateClosing))

	c.bufMu.Lock()
	_ = c.codec.WriteMessage(protocol.MsgTerminate, nil)
	c.bufMu.Unlock()

	err := c.ch.Close()
	c.state.Store(int32(StateClosed))
	return err
}

// CloseAbruptly closes the underlying channel without sending
// Terminate, for callers that already know the connection is wedged or
// the server is unreachable and don't want Close's best-effort write
// to block. Safe to call more than once.
func (c *Connection) CloseAbruptly() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.state.Store(int32(StateClosing))
	err := c.ch.Close()
	c.state.Store(int32(StateClosed))
	return err
}

// RemoteAddr returns the address of the server end of the connection.
func (c *Connection) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// LocalAddr returns the address of the client end of the connection.
func (c *Connection) LocalAddr() net.Addr { return c.netConn.LocalAddr() }

// withDeadline arranges for the in-flight request/response exchange to
// be aborted if ctx is done, by pushing ctx's deadline (if any) onto
// the channel and clearing it again once fn returns.
func (c *Connection) withDeadline(ctx context.Context, fn func() error) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.ch.SetDeadline(dl)
		defer c.ch.SetDeadline(time.Time{})
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.ch.SetDeadline(time.Unix(0, 1)) // force the in-flight I/O to unblock
		<-done                            // wait for fn to actually return before reusing bufMu
		return ctx.Err()
	}
}
