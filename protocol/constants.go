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

// Package protocol defines the PostgreSQL frontend/backend wire protocol
// version 3 message types, authentication codes, and framing constants.
package protocol

// Frontend (client-to-server) message type bytes.
const (
	MsgBind         = 'B'
	MsgClose        = 'C'
	MsgDescribe     = 'D'
	MsgExecute      = 'E'
	MsgFlush        = 'H'
	MsgParse        = 'P'
	MsgQuery        = 'Q'
	MsgSync         = 'S'
	MsgTerminate    = 'X'
	MsgPasswordMsg  = 'p' // also used for SASLInitialResponse/SASLResponse
)

// Backend (server-to-client) message type bytes.
const (
	MsgParseComplete         = '1'
	MsgBindComplete          = '2'
	MsgCloseComplete         = '3'
	MsgCommandComplete       = 'C'
	MsgDataRow               = 'D'
	MsgErrorResponse         = 'E'
	MsgEmptyQueryResponse    = 'I'
	MsgBackendKeyData        = 'K'
	MsgNoticeResponse        = 'N'
	MsgAuthenticationRequest = 'R'
	MsgParameterStatus       = 'S'
	MsgRowDescription        = 'T'
	MsgReadyForQuery         = 'Z'
	MsgNoData                = 'n'
	MsgPortalSuspended       = 's'
	MsgParameterDescription  = 't'
)

// Authentication request sub-codes carried in the body of an
// AuthenticationRequest message.
const (
	AuthOk                = 0
	AuthKerberosV4        = 1
	AuthKerberosV5        = 2
	AuthCleartextPassword = 3
	AuthCryptPassword     = 4
	AuthMD5Password       = 5
	AuthSCMCredential     = 6
	AuthGSS               = 7
	AuthGSSContinue       = 8
	AuthSSPI              = 9
	AuthSASL              = 10
	AuthSASLContinue      = 11
	AuthSASLFinal         = 12
)

// Field type bytes within ErrorResponse/NoticeResponse messages.
const (
	FieldSeverity  = 'S'
	FieldSeverityV = 'V'
	FieldCode      = 'C'
	FieldMessage   = 'M'
	FieldDetail    = 'D'
	FieldHint      = 'H'
)

// TransactionStatus is the single status byte carried in ReadyForQuery.
type TransactionStatus byte

const (
	TxnStatusIdle    TransactionStatus = 'I'
	TxnStatusInBlock TransactionStatus = 'T'
	TxnStatusFailed  TransactionStatus = 'E'
)

// Column/parameter format codes.
const (
	FormatText   = 0
	FormatBinary = 1
)

// Startup protocol version.
const (
	ProtocolVersionMajor  = 3
	ProtocolVersionMinor  = 0
	ProtocolVersionNumber = (ProtocolVersionMajor << 16) | ProtocolVersionMinor
)

// Special request codes sent in place of a protocol version at the start
// of the startup packet.
const (
	CancelRequestCode = (1234 << 16) | 5678
	SSLRequestCode    = (1234 << 16) | 5679
)

// Packet framing.
const (
	MaxStartupPacketLength = 10000
	PacketHeaderSize       = 4
)
