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

// Package fakepg is a minimal in-process PostgreSQL wire-protocol
// listener for tests. It speaks enough of the protocol (startup, trust/
// cleartext/MD5 authentication, the simple and extended query
// protocols) to exercise the Connection FSM without a live server. The
// API mirrors the shape of the pack's own fakepgserver: canned results
// keyed by query text, a query log, and a ClientConfig-style address
// accessor.
package fakepg

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/multigres/pgwireclient/auth"
	"github.com/multigres/pgwireclient/protocol"
)

// AuthMode selects which authentication method the server demands.
type AuthMode int

const (
	AuthTrust AuthMode = iota
	AuthCleartext
	AuthMD5
)

// Result is a canned response for one query.
type Result struct {
	Columns      []string
	Rows         [][]any
	CommandTag   string
	RowsAffected uint64
}

// Server is a fake PostgreSQL server for testing. All methods are
// thread-safe.
type Server struct {
	t        testing.TB
	listener net.Listener
	addr     string

	authMode AuthMode
	password string

	mu       sync.Mutex
	queries  map[string]*Result
	rejected map[string]error
	queryLog []string
}

// New starts a fake server that accepts any connection (trust auth).
func New(t testing.TB) *Server {
	return newServer(t, AuthTrust, "")
}

// NewWithPassword starts a fake server that demands the given
// authentication mode and password.
func NewWithPassword(t testing.TB, mode AuthMode, password string) *Server {
	return newServer(t, mode, password)
}

func newServer(t testing.TB, mode AuthMode, password string) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakepg: listen: %v", err)
	}
	s := &Server{
		t:        t,
		listener: ln,
		addr:     ln.Addr().String(),
		authMode: mode,
		password: password,
		queries:  make(map[string]*Result),
		rejected: make(map[string]error),
	}
	go s.serve()
	return s
}

func (s *Server) serve() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := s.handleConn(c); err != nil {
				s.t.Logf("fakepg: connection error: %v", err)
			}
		}()
	}
}

// Addr returns the "host:port" the server listens on.
func (s *Server) Addr() string { return s.addr }

// HostPort splits Addr into host and numeric port, for Config.Host/Port.
func (s *Server) HostPort() (string, int) {
	host, port, err := net.SplitHostPort(s.addr)
	if err != nil {
		s.t.Fatalf("fakepg: split addr: %v", err)
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	return host, p
}

// Close stops accepting connections.
func (s *Server) Close() { _ = s.listener.Close() }

// AddQuery registers a canned result for an exact (case-insensitive)
// query match.
func (s *Server) AddQuery(query string, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[strings.ToLower(query)] = result
}

// AddError registers a query that fails with the given error.
func (s *Server) AddError(query string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[strings.ToLower(query)] = err
}

// QueryLog returns every query the server has seen, in order.
func (s *Server) QueryLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queryLog...)
}

func (s *Server) logQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryLog = append(s.queryLog, q)
}

func (s *Server) lookup(query string) (*Result, error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(query)
	if err, ok := s.rejected[key]; ok {
		return nil, err, true
	}
	if res, ok := s.queries[key]; ok {
		return res, nil, true
	}
	return nil, nil, false
}

func (s *Server) handleConn(netConn net.Conn) error {
	defer netConn.Close()

	params, err := s.readStartupPacket(netConn)
	if err != nil {
		return err
	}

	_, err = s.negotiateAuth(netConn, params)
	if err != nil {
		s.writeError(netConn, err)
		return err
	}

	if err := s.finishStartup(netConn); err != nil {
		return err
	}

	return s.queryLoop(netConn)
}

// readStartupPacket reads the raw length-prefixed packet that precedes
// any type byte: either an SSLRequest/CancelRequest or the real
// StartupMessage. SSLRequest is answered with 'N' (no TLS) and the
// caller is expected to send the real StartupMessage next.
func (s *Server) readStartupPacket(netConn net.Conn) (map[string]string, error) {
	for {
		var lenBuf [4]byte
		if _, err := readFull(netConn, lenBuf[:]); err != nil {
			return nil, err
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, length-4)
		if _, err := readFull(netConn, body); err != nil {
			return nil, err
		}

		code := binary.BigEndian.Uint32(body[:4])
		switch int64(code) {
		case protocol.SSLRequestCode:
			if _, err := netConn.Write([]byte{'N'}); err != nil {
				return nil, err
			}
			continue
		case protocol.CancelRequestCode:
			return nil, fmt.Errorf("fakepg: cancel requests not supported")
		default:
			return parseStartupParams(body[4:]), nil
		}
	}
}

func parseStartupParams(body []byte) map[string]string {
	params := make(map[string]string)
	r := protocol.NewReader(body)
	for {
		k, err := r.CString()
		if err != nil || k == "" {
			return params
		}
		v, err := r.CString()
		if err != nil {
			return params
		}
		params[k] = v
	}
}

func readFull(netConn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := netConn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *Server) negotiateAuth(netConn net.Conn, params map[string]string) (string, error) {
	codec := protocol.NewCodec(netConn, netConn)
	user := params["user"]

	switch s.authMode {
	case AuthTrust:
		w := protocol.NewWriter()
		w.Int32(protocol.AuthOk)
		return user, codec.WriteMessage(protocol.MsgAuthenticationRequest, w.Bytes())

	case AuthCleartext:
		w := protocol.NewWriter()
		w.Int32(protocol.AuthCleartextPassword)
		if err := codec.WriteMessage(protocol.MsgAuthenticationRequest, w.Bytes()); err != nil {
			return "", err
		}
		msgType, body, err := codec.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType != protocol.MsgPasswordMsg {
			return "", fmt.Errorf("fakepg: expected PasswordMessage, got 0x%02x", msgType)
		}
		r := protocol.NewReader(body)
		got, _ := r.CString()
		if got != s.password {
			return "", fmt.Errorf("fakepg: password mismatch")
		}
		ok := protocol.NewWriter()
		ok.Int32(protocol.AuthOk)
		return user, codec.WriteMessage(protocol.MsgAuthenticationRequest, ok.Bytes())

	case AuthMD5:
		var salt [4]byte = [4]byte{1, 2, 3, 4}
		w := protocol.NewWriter()
		w.Int32(protocol.AuthMD5Password)
		w.Raw(salt[:])
		if err := codec.WriteMessage(protocol.MsgAuthenticationRequest, w.Bytes()); err != nil {
			return "", err
		}
		msgType, body, err := codec.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType != protocol.MsgPasswordMsg {
			return "", fmt.Errorf("fakepg: expected PasswordMessage, got 0x%02x", msgType)
		}
		r := protocol.NewReader(body)
		got, _ := r.CString()
		want := auth.MD5Password(user, s.password, salt)
		if got != want {
			return "", fmt.Errorf("fakepg: MD5 password mismatch")
		}
		ok := protocol.NewWriter()
		ok.Int32(protocol.AuthOk)
		return user, codec.WriteMessage(protocol.MsgAuthenticationRequest, ok.Bytes())

	default:
		return "", fmt.Errorf("fakepg: unsupported auth mode %d", s.authMode)
	}
}

func (s *Server) finishStartup(netConn net.Conn) error {
	codec := protocol.NewCodec(netConn, netConn)

	key := protocol.NewWriter()
	key.Uint32(12345)
	key.Uint32(67890)
	if err := codec.WriteMessage(protocol.MsgBackendKeyData, key.Bytes()); err != nil {
		return err
	}

	for _, kv := range [][2]string{
		{"server_version", "16.0 (fakepg)"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"TimeZone", "UTC"},
	} {
		w := protocol.NewWriter()
		w.CString(kv[0])
		w.CString(kv[1])
		if err := codec.WriteMessage(protocol.MsgParameterStatus, w.Bytes()); err != nil {
			return err
		}
	}

	return s.sendReadyForQuery(netConn, protocol.TxnStatusIdle)
}

func (s *Server) sendReadyForQuery(netConn net.Conn, status protocol.TransactionStatus) error {
	codec := protocol.NewCodec(netConn, netConn)
	return codec.WriteMessage(protocol.MsgReadyForQuery, []byte{byte(status)})
}

func (s *Server) writeError(netConn net.Conn, err error) {
	codec := protocol.NewCodec(netConn, netConn)
	w := protocol.NewWriter()
	w.Byte(protocol.FieldSeverity)
	w.CString("FATAL")
	w.Byte(0)
	w.Byte(protocol.FieldCode)
	w.CString("28000")
	w.Byte(0)
	w.Byte(protocol.FieldMessage)
	w.CString(err.Error())
	w.Byte(0)
	w.Byte(0)
	_ = codec.WriteMessage(protocol.MsgErrorResponse, w.Bytes())
}

func (s *Server) writeQueryError(netConn net.Conn, msg string) error {
	codec := protocol.NewCodec(netConn, netConn)
	w := protocol.NewWriter()
	w.Byte(protocol.FieldSeverity)
	w.CString("ERROR")
	w.Byte(0)
	w.Byte(protocol.FieldCode)
	w.CString("42601")
	w.Byte(0)
	w.Byte(protocol.FieldMessage)
	w.CString(msg)
	w.Byte(0)
	w.Byte(0)
	return codec.WriteMessage(protocol.MsgErrorResponse, w.Bytes())
}

// preparedStatement is what Parse stores for later Bind/Describe/Execute.
type preparedStatement struct {
	query     string
	paramOIDs []uint32
}

// portal is what Bind produces for later Describe/Execute.
type portal struct {
	stmt *preparedStatement
}

// connState tracks the per-connection transaction status and extended
// query protocol objects; each accepted connection gets its own,
// unlike the canned-query maps which are shared across the server.
type connState struct {
	txnStatus  protocol.TransactionStatus
	statements map[string]*preparedStatement
	portals    map[string]*portal
}

func newConnState() *connState {
	return &connState{
		txnStatus:  protocol.TxnStatusIdle,
		statements: make(map[string]*preparedStatement),
		portals:    make(map[string]*portal),
	}
}

func (s *Server) queryLoop(netConn net.Conn) error {
	codec := protocol.NewCodec(netConn, netConn)
	cs := newConnState()

	for {
		msgType, body, err := codec.ReadMessage()
		if err != nil {
			return err
		}

		switch msgType {
		case protocol.MsgQuery:
			r := protocol.NewReader(body)
			query, _ := r.CString()
			if err := s.handleSimpleQuery(netConn, cs, query); err != nil {
				return err
			}

		case protocol.MsgParse:
			r := protocol.NewReader(body)
			name, _ := r.CString()
			query, _ := r.CString()
			paramCount, _ := r.Int16()
			oids := make([]uint32, paramCount)
			for i := range oids {
				oids[i], _ = r.Uint32()
			}
			cs.statements[name] = &preparedStatement{query: query, paramOIDs: oids}
			if err := codec.WriteMessage(protocol.MsgParseComplete, nil); err != nil {
				return err
			}

		case protocol.MsgBind:
			r := protocol.NewReader(body)
			portalName, _ := r.CString()
			stmtName, _ := r.CString()
			stmt, ok := cs.statements[stmtName]
			if !ok {
				if err := s.writeQueryError(netConn, fmt.Sprintf("unknown statement %q", stmtName)); err != nil {
					return err
				}
				continue
			}
			cs.portals[portalName] = &portal{stmt: stmt}
			if err := codec.WriteMessage(protocol.MsgBindComplete, nil); err != nil {
				return err
			}

		case protocol.MsgDescribe:
			r := protocol.NewReader(body)
			kind, _ := r.Byte()
			name, _ := r.CString()
			var query string
			var paramOIDs []uint32
			switch kind {
			case 'S':
				if stmt, ok := cs.statements[name]; ok {
					query = stmt.query
					paramOIDs = stmt.paramOIDs
					if err := writeParameterDescription(codec, paramOIDs); err != nil {
						return err
					}
				}
			case 'P':
				if p, ok := cs.portals[name]; ok {
					query = p.stmt.query
				}
			}
			if err := s.writeDescribe(netConn, query); err != nil {
				return err
			}

		case protocol.MsgExecute:
			r := protocol.NewReader(body)
			portalName, _ := r.CString()
			p, ok := cs.portals[portalName]
			if !ok {
				if err := s.writeQueryError(netConn, fmt.Sprintf("unknown portal %q", portalName)); err != nil {
					return err
				}
				continue
			}
			if err := s.executeQuery(netConn, cs, p.stmt.query); err != nil {
				return err
			}

		case protocol.MsgClose:
			r := protocol.NewReader(body)
			kind, _ := r.Byte()
			name, _ := r.CString()
			switch kind {
			case 'S':
				delete(cs.statements, name)
			case 'P':
				delete(cs.portals, name)
			}
			if err := codec.WriteMessage(protocol.MsgCloseComplete, nil); err != nil {
				return err
			}

		case protocol.MsgSync:
			if err := s.sendReadyForQuery(netConn, cs.txnStatus); err != nil {
				return err
			}

		case protocol.MsgTerminate:
			return nil

		default:
			return fmt.Errorf("fakepg: unexpected message 0x%02x in query loop", msgType)
		}
	}
}

func (s *Server) handleSimpleQuery(netConn net.Conn, cs *connState, query string) error {
	s.logQuery(query)
	cs.applyTransactionKeyword(query)

	res, qerr, found := s.lookup(query)
	if qerr != nil {
		if err := s.writeQueryError(netConn, qerr.Error()); err != nil {
			return err
		}
		return s.sendReadyForQuery(netConn, cs.txnStatus)
	}
	if !found {
		res = &Result{CommandTag: commandTagFor(query, 0)}
	}

	codec := protocol.NewCodec(netConn, netConn)
	if len(res.Columns) > 0 {
		if err := writeRowDescription(codec, res.Columns); err != nil {
			return err
		}
		for _, row := range res.Rows {
			if err := writeDataRow(codec, row); err != nil {
				return err
			}
		}
	}
	tag := res.CommandTag
	if tag == "" {
		tag = commandTagFor(query, len(res.Rows))
	}
	w := protocol.NewWriter()
	w.CString(tag)
	if err := codec.WriteMessage(protocol.MsgCommandComplete, w.Bytes()); err != nil {
		return err
	}
	return s.sendReadyForQuery(netConn, cs.txnStatus)
}

func (s *Server) executeQuery(netConn net.Conn, cs *connState, query string) error {
	s.logQuery(query)
	cs.applyTransactionKeyword(query)

	codec := protocol.NewCodec(netConn, netConn)
	res, qerr, found := s.lookup(query)
	if qerr != nil {
		return s.writeQueryError(netConn, qerr.Error())
	}
	if !found {
		res = &Result{CommandTag: commandTagFor(query, 0)}
	}
	for _, row := range res.Rows {
		if err := writeDataRow(codec, row); err != nil {
			return err
		}
	}
	tag := res.CommandTag
	if tag == "" {
		tag = commandTagFor(query, len(res.Rows))
	}
	w := protocol.NewWriter()
	w.CString(tag)
	return codec.WriteMessage(protocol.MsgCommandComplete, w.Bytes())
}

func (s *Server) writeDescribe(netConn net.Conn, query string) error {
	codec := protocol.NewCodec(netConn, netConn)
	res, _, found := s.lookup(query)
	if !found || len(res.Columns) == 0 {
		return codec.WriteMessage(protocol.MsgNoData, nil)
	}
	return writeRowDescription(codec, res.Columns)
}

func writeParameterDescription(codec *protocol.Codec, paramOIDs []uint32) error {
	w := protocol.NewWriter()
	w.Int16(int16(len(paramOIDs)))
	for _, oid := range paramOIDs {
		w.Uint32(oid)
	}
	return codec.WriteMessage(protocol.MsgParameterDescription, w.Bytes())
}

func writeRowDescription(codec *protocol.Codec, columns []string) error {
	w := protocol.NewWriter()
	w.Int16(int16(len(columns)))
	for _, name := range columns {
		w.CString(name)
		w.Uint32(0)  // table OID
		w.Int16(0)   // column attr num
		w.Uint32(25) // TEXT OID
		w.Int16(-1)  // type size (variable)
		w.Int32(-1)  // type modifier
		w.Int16(protocol.FormatText)
	}
	return codec.WriteMessage(protocol.MsgRowDescription, w.Bytes())
}

func writeDataRow(codec *protocol.Codec, values []any) error {
	w := protocol.NewWriter()
	w.Int16(int16(len(values)))
	for _, v := range values {
		if v == nil {
			w.ByteString(nil)
			continue
		}
		w.ByteString([]byte(fmt.Sprintf("%v", v)))
	}
	return codec.WriteMessage(protocol.MsgDataRow, w.Bytes())
}

func commandTagFor(query string, rows int) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT":
		return fmt.Sprintf("SELECT %d", rows)
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", rows)
	case "UPDATE":
		return fmt.Sprintf("UPDATE %d", rows)
	case "DELETE":
		return fmt.Sprintf("DELETE %d", rows)
	default:
		return strings.ToUpper(fields[0])
	}
}

func (cs *connState) applyTransactionKeyword(query string) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "BEGIN", "START":
		cs.txnStatus = protocol.TxnStatusInBlock
	case "COMMIT", "ROLLBACK", "END":
		cs.txnStatus = protocol.TxnStatusIdle
	}
}
