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

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScramClientRFC7677Vector replays the canonical SCRAM-SHA-256
// exchange (RFC 7677 §3, "user"/"pencil") with the client nonce fixed
// to the value from that exchange, and checks our client produces the
// exact wire bytes and accepts the exact server response the RFC
// documents.
func TestScramClientRFC7677Vector(t *testing.T) {
	const clientNonce = "rOprNGfwEbeRWgbNEkqO"
	const serverFirst = "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	const serverFinal = "v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4="

	client := NewScramClient("user", "pencil")
	client.nonce = func() (string, error) { return clientNonce, nil }

	first, err := client.ClientFirstMessage()
	require.NoError(t, err)
	assert.Equal(t, "n,,n=user,r=rOprNGfwEbeRWgbNEkqO", string(first))

	require.NoError(t, client.HandleServerFirst([]byte(serverFirst)))

	final, err := client.ClientFinalMessage()
	require.NoError(t, err)
	assert.Equal(t,
		"c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ=",
		string(final))

	require.NoError(t, client.HandleServerFinal([]byte(serverFinal)))
}

func TestScramClientRejectsNonceMismatch(t *testing.T) {
	client := NewScramClient("user", "pencil")
	client.nonce = func() (string, error) { return "clientnonce", nil }

	_, err := client.ClientFirstMessage()
	require.NoError(t, err)

	err = client.HandleServerFirst([]byte("r=totallydifferentnonce,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"))
	assert.ErrorIs(t, err, ErrNonceMismatch)
}

func TestScramClientRejectsBadServerSignature(t *testing.T) {
	const clientNonce = "rOprNGfwEbeRWgbNEkqO"
	const serverFirst = "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"

	client := NewScramClient("user", "pencil")
	client.nonce = func() (string, error) { return clientNonce, nil }

	_, err := client.ClientFirstMessage()
	require.NoError(t, err)
	require.NoError(t, client.HandleServerFirst([]byte(serverFirst)))
	_, err = client.ClientFinalMessage()
	require.NoError(t, err)

	err = client.HandleServerFinal([]byte("v=AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="))
	assert.ErrorIs(t, err, ErrServerVerificationFailed)
}

func TestScramClientRejectsMalformedServerFirst(t *testing.T) {
	client := NewScramClient("user", "pencil")
	client.nonce = func() (string, error) { return "nonce", nil }
	_, err := client.ClientFirstMessage()
	require.NoError(t, err)

	err = client.HandleServerFirst([]byte("garbage"))
	assert.Error(t, err)
}
