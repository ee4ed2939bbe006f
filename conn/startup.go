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
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/multigres/pgwireclient/auth"
	"github.com/multigres/pgwireclient/bytechannel"
	"github.com/multigres/pgwireclient/protocol"
)

// negotiateSSL sends an SSLRequest ahead of the startup message and,
// if the server agrees, performs the TLS handshake and rewires the
// channel/codec on top of the encrypted connection.
func (c *Connection) negotiateSSL(ctx context.Context) error {
	var pkt [8]byte
	binary.BigEndian.PutUint32(pkt[0:4], 8)
	binary.BigEndian.PutUint32(pkt[4:8], protocol.SSLRequestCode)
	if err := c.codec.WriteRaw(pkt[:]); err != nil {
		return fmt.Errorf("conn: sending SSLRequest: %w", err)
	}

	resp, err := c.codec.ReadByte()
	if err != nil {
		return fmt.Errorf("conn: reading SSLRequest response: %w", err)
	}

	switch resp {
	case 'N':
		if c.cfg.RequireTLS {
			return ErrTLSRejected
		}
		return nil
	case 'S':
		tlsConn := tls.Client(c.netConn, c.cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("conn: TLS handshake: %w", err)
		}
		c.netConn = tlsConn
		c.ch = bytechannel.New(tlsConn, c.cfg.ByteChannel)
		c.codec = protocol.NewCodec(c.ch, c.ch)
		return nil
	default:
		return fmt.Errorf("conn: unexpected SSLRequest response byte %q", resp)
	}
}

// startup sends the StartupMessage and processes the server's
// responses until ReadyForQuery.
func (c *Connection) startup(ctx context.Context) error {
	return c.withDeadline(ctx, func() error {
		if err := c.sendStartupMessage(); err != nil {
			return err
		}
		return c.processStartupResponses(ctx)
	})
}

// startupParameters merges the required startup defaults (spec.md
// §4.4 "Startup": application_name, client_encoding=UTF8, DateStyle=ISO,
// MDY, TimeZone=GMT) with Config.Parameters, which may override any of
// them by key.
func (c *Connection) startupParameters() map[string]string {
	params := map[string]string{
		"application_name": c.cfg.ApplicationName,
		"client_encoding":  "UTF8",
		"DateStyle":        "ISO, MDY",
		"TimeZone":         "GMT",
	}
	for k, v := range c.cfg.Parameters {
		params[k] = v
	}
	return params
}

func (c *Connection) sendStartupMessage() error {
	body := protocol.NewWriter()
	body.Uint32(protocol.ProtocolVersionNumber)
	body.CString("user")
	body.CString(c.cfg.User)
	if c.cfg.Database != "" {
		body.CString("database")
		body.CString(c.cfg.Database)
	}
	for k, v := range c.startupParameters() {
		body.CString(k)
		body.CString(v)
	}
	body.Byte(0)

	payload := body.Bytes()
	full := make([]byte, 0, 4+len(payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(payload)))
	full = append(full, lenBuf[:]...)
	full = append(full, payload...)

	if len(full) > protocol.MaxStartupPacketLength {
		return fmt.Errorf("conn: startup packet of %d bytes exceeds maximum of %d", len(full), protocol.MaxStartupPacketLength)
	}
	return c.codec.WriteRaw(full)
}

func (c *Connection) processStartupResponses(ctx context.Context) error {
	for {
		msgType, body, err := c.codec.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: reading startup response: %w", err)
		}

		switch msgType {
		case protocol.MsgAuthenticationRequest:
			if err := c.handleAuthenticationRequest(ctx, body); err != nil {
				return err
			}

		case protocol.MsgBackendKeyData:
			r := protocol.NewReader(body)
			c.processID, _ = r.Uint32()
			c.secretKey, _ = r.Uint32()

		case protocol.MsgParameterStatus:
			r := protocol.NewReader(body)
			name, err := r.CString()
			if err != nil {
				return fmt.Errorf("conn: parsing ParameterStatus: %w", err)
			}
			value, err := r.CString()
			if err != nil {
				return fmt.Errorf("conn: parsing ParameterStatus: %w", err)
			}
			c.setParameterStatus(name, value)

		case protocol.MsgNoticeResponse:
			c.cfg.delegate().OnNotice(parseNotice(body))

		case protocol.MsgReadyForQuery:
			if len(body) < 1 {
				return fmt.Errorf("%w: empty ReadyForQuery body", ErrUnexpectedMessage)
			}
			c.setTxnStatus(protocol.TransactionStatus(body[0]))
			return nil

		case protocol.MsgErrorResponse:
			return parseError(body)

		default:
			return fmt.Errorf("%w: 0x%02x during startup", ErrUnexpectedMessage, msgType)
		}
	}
}

func (c *Connection) handleAuthenticationRequest(ctx context.Context, body []byte) error {
	r := protocol.NewReader(body)
	authType, err := r.Int32()
	if err != nil {
		return fmt.Errorf("conn: parsing AuthenticationRequest: %w", err)
	}

	switch authType {
	case protocol.AuthOk:
		return nil

	case protocol.AuthCleartextPassword:
		if c.cfg.Credential.Kind != CredentialCleartextPassword {
			return ErrCleartextPasswordCredentialRequired
		}
		return c.sendPasswordMessage(c.cfg.Credential.Password)

	case protocol.AuthMD5Password:
		if c.cfg.Credential.Kind != CredentialMD5Password {
			return ErrMD5PasswordCredentialRequired
		}
		saltBytes, err := r.Bytes(4)
		if err != nil {
			return fmt.Errorf("conn: reading MD5 salt: %w", err)
		}
		var salt [4]byte
		copy(salt[:], saltBytes)
		return c.sendPasswordMessage(auth.MD5Password(c.cfg.User, c.cfg.Credential.Password, salt))

	case protocol.AuthSASL:
		mechanisms, err := readSASLMechanisms(r)
		if err != nil {
			return err
		}
		if !containsMechanism(mechanisms, auth.ScramSHA256Mechanism) {
			return ErrSCRAMMechanismUnavailable
		}
		if c.cfg.Credential.Kind != CredentialSCRAMSHA256 {
			return ErrSCRAMSHA256CredentialRequired
		}
		return c.performSCRAMAuthentication()

	default:
		return fmt.Errorf("%w: code %d", ErrUnsupportedAuthMethod, authType)
	}
}

func readSASLMechanisms(r *protocol.Reader) ([]string, error) {
	var mechanisms []string
	for {
		name, err := r.CString()
		if err != nil {
			return nil, fmt.Errorf("conn: parsing SASL mechanism list: %w", err)
		}
		if name == "" {
			return mechanisms, nil
		}
		mechanisms = append(mechanisms, name)
	}
}

func containsMechanism(mechanisms []string, want string) bool {
	for _, m := range mechanisms {
		if strings.EqualFold(m, want) {
			return true
		}
	}
	return false
}

func (c *Connection) sendPasswordMessage(password string) error {
	w := protocol.NewWriter()
	w.CString(password)
	return c.codec.WriteMessage(protocol.MsgPasswordMsg, w.Bytes())
}

// performSCRAMAuthentication drives the four-message SCRAM-SHA-256
// exchange (client-first / server-first / client-final / server-final)
// on top of the AuthenticationRequest envelope, delegating all
// cryptographic work to the auth package.
func (c *Connection) performSCRAMAuthentication() error {
	client := auth.NewScramClient(c.cfg.User, c.cfg.Credential.Password)

	first, err := client.ClientFirstMessage()
	if err != nil {
		return err
	}
	if err := c.sendSASLInitialResponse(auth.ScramSHA256Mechanism, first); err != nil {
		return err
	}

	serverFirst, err := c.readSASLContinue(protocol.AuthSASLContinue)
	if err != nil {
		return err
	}
	if err := client.HandleServerFirst(serverFirst); err != nil {
		return err
	}

	final, err := client.ClientFinalMessage()
	if err != nil {
		return err
	}
	if err := c.codec.WriteMessage(protocol.MsgPasswordMsg, final); err != nil {
		return fmt.Errorf("conn: sending SCRAM client-final-message: %w", err)
	}

	serverFinal, err := c.readSASLContinue(protocol.AuthSASLFinal)
	if err != nil {
		return err
	}
	return client.HandleServerFinal(serverFinal)
}

func (c *Connection) sendSASLInitialResponse(mechanism string, initialResponse []byte) error {
	w := protocol.NewWriter()
	w.CString(mechanism)
	w.Int32(int32(len(initialResponse)))
	w.Raw(initialResponse)
	if err := c.codec.WriteMessage(protocol.MsgPasswordMsg, w.Bytes()); err != nil {
		return fmt.Errorf("conn: sending SASLInitialResponse: %w", err)
	}
	return nil
}

// readSASLContinue reads one AuthenticationRequest message and returns
// its payload, verifying it carries the expected sub-type.
func (c *Connection) readSASLContinue(want int32) ([]byte, error) {
	msgType, body, err := c.codec.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("conn: reading SASL response: %w", err)
	}
	if msgType == protocol.MsgErrorResponse {
		return nil, parseError(body)
	}
	if msgType != protocol.MsgAuthenticationRequest {
		return nil, fmt.Errorf("%w: expected AuthenticationRequest, got 0x%02x", ErrUnexpectedMessage, msgType)
	}

	r := protocol.NewReader(body)
	authType, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("conn: parsing AuthenticationRequest: %w", err)
	}
	if authType != want {
		return nil, fmt.Errorf("%w: expected SASL sub-type %d, got %d", ErrUnexpectedMessage, want, authType)
	}
	return r.Rest(), nil
}
