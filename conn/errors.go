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
	"errors"
	"fmt"
)

// SQLError is a server ErrorResponse translated into a Go error. Its
// field layout mirrors the wire message directly.
type SQLError struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
}

func (e *SQLError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (SQLSTATE %s)\nDETAIL: %s", e.Severity, e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Severity, e.Message, e.Code)
}

// IsSQLState reports whether the error carries the given SQLSTATE code.
func (e *SQLError) IsSQLState(code string) bool {
	return e.Code == code
}

// Sentinel errors for conditions that aren't server-reported SQL
// errors but are still classifiable failure kinds a caller may want to
// branch on with errors.Is.
var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("conn: connection is closed")

	// ErrUnsupportedAuthMethod is returned when the server requests an
	// authentication method this client doesn't implement (Kerberos,
	// GSSAPI, SSPI, crypt).
	ErrUnsupportedAuthMethod = errors.New("conn: unsupported authentication method")

	// ErrSCRAMMechanismUnavailable is returned when the server's SASL
	// mechanism list doesn't include SCRAM-SHA-256.
	ErrSCRAMMechanismUnavailable = errors.New("conn: server did not offer SCRAM-SHA-256")

	// ErrTLSRejected is returned when Config.RequireTLS is set and the
	// server responds "N" to our SSLRequest.
	ErrTLSRejected = errors.New("conn: server rejected TLS and RequireTLS is set")

	// ErrUnexpectedMessage is returned when a message arrives that the
	// current protocol phase doesn't know how to interpret.
	ErrUnexpectedMessage = errors.New("conn: unexpected message for current protocol phase")

	// ErrWrongState reports that the connection's state machine isn't
	// in Ready. No operation in this package returns it: Query,
	// Prepare, and SimpleQuery drain and close a still-open Cursor
	// instead of rejecting the call.
	ErrWrongState = errors.New("conn: connection is not in the ready state")

	// ErrCursorClosed is returned by Cursor.Next after the cursor has
	// been closed or fully drained.
	ErrCursorClosed = errors.New("conn: cursor is closed")

	// ErrCleartextPasswordCredentialRequired is returned when the
	// server requests cleartext password authentication but
	// Config.Credential isn't a CredentialCleartextPassword.
	ErrCleartextPasswordCredentialRequired = errors.New("conn: server requires cleartext password credential")

	// ErrMD5PasswordCredentialRequired is returned when the server
	// requests MD5 password authentication but Config.Credential
	// isn't a CredentialMD5Password.
	ErrMD5PasswordCredentialRequired = errors.New("conn: server requires MD5 password credential")

	// ErrSCRAMSHA256CredentialRequired is returned when the server
	// requests SASL/SCRAM-SHA-256 authentication but Config.Credential
	// isn't a CredentialSCRAMSHA256.
	ErrSCRAMSHA256CredentialRequired = errors.New("conn: server requires SCRAM-SHA-256 credential")

	// ErrNotInTransaction is returned by CommitTransaction or
	// RollbackTransaction when the connection's transaction status
	// (from the latest ReadyForQuery) is idle ('I').
	ErrNotInTransaction = errors.New("conn: not in a transaction")
)
