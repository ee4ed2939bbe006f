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

// Package auth implements the client side of PostgreSQL's hashed
// password authentication mechanisms: MD5 and SCRAM-SHA-256 (RFC
// 7677 over the SASL envelope RFC 5802 defines). Cleartext passwords
// need no derivation and are sent by the conn package. The SCRAM state
// machine here is deliberately independent of connection I/O: it only
// builds and parses message payloads, so the Connection FSM drives the
// wire exchange and this package can be tested against fixed protocol
// transcripts.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ScramSHA256Mechanism is the SASL mechanism name this package speaks.
const ScramSHA256Mechanism = "SCRAM-SHA-256"

const scramNonceLength = 24

// ScramClient drives one SCRAM-SHA-256 authentication exchange. It is
// single-use: create a new ScramClient per authentication attempt.
type ScramClient struct {
	username string
	password string
	nonce    func() (string, error)

	clientNonce            string
	clientFirstMessageBare string
	serverFirstMessage     string
	saltedPassword         []byte
}

// NewScramClient creates a SCRAM-SHA-256 client for the given
// credentials.
func NewScramClient(username, password string) *ScramClient {
	return &ScramClient{username: username, password: password, nonce: randomNonce}
}

func randomNonce() (string, error) {
	b := make([]byte, scramNonceLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating SCRAM nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ClientFirstMessage builds the client-first-message to send inside a
// SASLInitialResponse ("n,," + client-first-message-bare). It must be
// called exactly once, before HandleServerFirst.
func (s *ScramClient) ClientFirstMessage() ([]byte, error) {
	nonce, err := s.nonce()
	if err != nil {
		return nil, err
	}
	s.clientNonce = nonce

	escapedUsername := strings.ReplaceAll(s.username, "=", "=3D")
	escapedUsername = strings.ReplaceAll(escapedUsername, ",", "=2C")
	s.clientFirstMessageBare = fmt.Sprintf("n=%s,r=%s", escapedUsername, s.clientNonce)

	return []byte("n,," + s.clientFirstMessageBare), nil
}

// HandleServerFirst parses the server-first-message carried in an
// AuthenticationSASLContinue and validates the server's nonce
// continuation. Call ClientFinalMessage afterward to get the reply.
func (s *ScramClient) HandleServerFirst(serverFirstMessage []byte) error {
	s.serverFirstMessage = string(serverFirstMessage)

	serverNonce, _, _, err := parseServerFirst(s.serverFirstMessage)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(serverNonce, s.clientNonce) {
		return ErrNonceMismatch
	}
	return nil
}

func parseServerFirst(msg string) (nonce, salt string, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt = part[2:]
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", "", 0, fmt.Errorf("auth: invalid SCRAM iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == "" || iterations == 0 {
		return "", "", 0, fmt.Errorf("auth: malformed SCRAM server-first-message")
	}
	return nonce, salt, iterations, nil
}

// ClientFinalMessage derives the salted password and returns the
// client-final-message (including the proof) to send as a
// SASLResponse.
func (s *ScramClient) ClientFinalMessage() ([]byte, error) {
	serverNonce, saltB64, iterations, err := parseServerFirst(s.serverFirstMessage)
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("auth: decoding SCRAM salt: %w", err)
	}

	s.saltedPassword = pbkdf2.Key([]byte(s.password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSHA256(s.saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	clientFinalWithoutProof := fmt.Sprintf("c=biws,r=%s", serverNonce)
	authMessage := s.clientFirstMessageBare + "," + s.serverFirstMessage + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinalMessage := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(clientFinalMessage), nil
}

// HandleServerFinal verifies the server's signature carried in an
// AuthenticationSASLFinal message. Success means the server has proven
// knowledge of the password without ever having sent it.
func (s *ScramClient) HandleServerFinal(serverFinalMessage []byte) error {
	msg := string(serverFinalMessage)
	if !strings.HasPrefix(msg, "v=") {
		return fmt.Errorf("auth: malformed SCRAM server-final-message")
	}
	serverSignature, err := base64.StdEncoding.DecodeString(msg[2:])
	if err != nil {
		return fmt.Errorf("auth: decoding SCRAM server signature: %w", err)
	}

	serverNonce, _, _, err := parseServerFirst(s.serverFirstMessage)
	if err != nil {
		return err
	}
	clientFinalWithoutProof := fmt.Sprintf("c=biws,r=%s", serverNonce)
	authMessage := s.clientFirstMessageBare + "," + s.serverFirstMessage + "," + clientFinalWithoutProof

	serverKey := hmacSHA256(s.saltedPassword, []byte("Server Key"))
	expected := hmacSHA256(serverKey, []byte(authMessage))

	if !hmac.Equal(serverSignature, expected) {
		return ErrServerVerificationFailed
	}
	return nil
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}
