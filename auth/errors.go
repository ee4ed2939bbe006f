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

import "errors"

// ErrNonceMismatch is returned when the server's nonce continuation
// does not start with the client nonce we sent, meaning the server is
// not in possession of our client-first-message (protocol violation or
// an active attacker).
var ErrNonceMismatch = errors.New("auth: server SCRAM nonce does not extend client nonce")

// ErrServerVerificationFailed is returned when the server's final
// signature does not match what we computed, meaning the server could
// not prove it holds the stored key derived from the real password.
var ErrServerVerificationFailed = errors.New("auth: SCRAM server signature verification failed")
