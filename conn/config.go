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

// Package conn implements a single PostgreSQL wire-protocol connection:
// startup negotiation, optional TLS upgrade, authentication (trust,
// cleartext, MD5, SCRAM-SHA-256), the simple and extended query
// protocols, and transaction-status tracking.
package conn

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/multigres/pgwireclient/bytechannel"
)

// CredentialKind identifies which authentication method a Credential
// is prepared to answer. A Connection doesn't choose the method; the
// server does, via the AuthenticationRequest it sends during startup.
// If the server demands a method the supplied Credential doesn't
// match, startup fails with the corresponding *CredentialRequired
// error rather than silently trying a different method.
type CredentialKind int

const (
	// CredentialTrust answers only AuthenticationOk; any other
	// request fails with the matching *CredentialRequired error.
	CredentialTrust CredentialKind = iota
	CredentialCleartextPassword
	CredentialMD5Password
	CredentialSCRAMSHA256
)

// Credential selects how the connection authenticates and carries the
// secret (if any) needed to do so.
type Credential struct {
	Kind CredentialKind

	// Password is required for CredentialCleartextPassword,
	// CredentialMD5Password, and CredentialSCRAMSHA256. Unused for
	// CredentialTrust.
	Password string
}

// TrustCredential returns a Credential for servers configured with
// trust or peer authentication, where the client sends no secret.
func TrustCredential() Credential { return Credential{Kind: CredentialTrust} }

// CleartextCredential returns a Credential for cleartext password
// authentication.
func CleartextCredential(password string) Credential {
	return Credential{Kind: CredentialCleartextPassword, Password: password}
}

// MD5Credential returns a Credential for MD5 password authentication.
func MD5Credential(password string) Credential {
	return Credential{Kind: CredentialMD5Password, Password: password}
}

// SCRAMCredential returns a Credential for SCRAM-SHA-256
// authentication.
func SCRAMCredential(password string) Credential {
	return Credential{Kind: CredentialSCRAMSHA256, Password: password}
}

// Delegate receives out-of-band server messages that arrive outside
// any specific request/response exchange.
type Delegate interface {
	// OnNotice is called for every NoticeResponse the server sends.
	OnNotice(notice Notice)
	// OnParameterStatus is called whenever the server reports a
	// runtime parameter (e.g. TimeZone, server_version) changing.
	OnParameterStatus(name, value string)
}

// NopDelegate implements Delegate by discarding every callback. It is
// the zero value used when Config.Delegate is nil.
type NopDelegate struct{}

func (NopDelegate) OnNotice(Notice)                  {}
func (NopDelegate) OnParameterStatus(string, string) {}

// Config configures a single Connect call.
type Config struct {
	Host     string
	Port     int
	User     string
	Database string

	Credential Credential

	// ApplicationName is reported to the server as the application_name
	// startup parameter, visible in pg_stat_activity.
	ApplicationName string

	// Parameters carries additional startup parameters beyond the
	// required user/database/application_name/client_encoding/DateStyle/
	// TimeZone set (spec.md §4.4 "Startup"). Any key here overrides the
	// built-in default for that key.
	Parameters map[string]string

	// TLSConfig, if non-nil, makes Connect send an SSLRequest before
	// the startup message and upgrade the connection on "S". If the
	// server responds "N" and RequireTLS is true, Connect fails;
	// otherwise it falls back to plaintext.
	TLSConfig  *tls.Config
	RequireTLS bool

	DialTimeout time.Duration

	// ByteChannel configures read-side backpressure watermarks for the
	// underlying duplex byte channel. Zero value uses the channel's
	// defaults.
	ByteChannel bytechannel.Config

	Delegate Delegate
	Logger   *slog.Logger
}

func (c *Config) delegate() Delegate {
	if c.Delegate == nil {
		return NopDelegate{}
	}
	return c.Delegate
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Notice is a NoticeResponse field set, structurally identical to the
// fields of a SQL error but delivered informationally.
type Notice struct {
	Severity string
	Code     string
	Message  string
	Detail   string
	Hint     string
}
