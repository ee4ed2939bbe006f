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

// State is a connection's coarse position in the protocol state
// machine:
//
//	Created -> Negotiating -> [Encrypting] -> Authenticating -> Ready
//	Ready -> InExplicitTxn -> Ready (on COMMIT/ROLLBACK)
//	any -> Closing -> Closed
//
// Query execution (Parse/Bind/Execute/Sync) doesn't get its own states
// here: spec.md §4.4's one-active-child rule is enforced directly by
// Connection.openStmt/openCursor rather than by a finer-grained state
// machine, so State only tracks what's externally observable between
// exchanges.
type State int32

const (
	StateCreated State = iota
	StateNegotiating
	StateEncrypting
	StateAuthenticating
	StateReady
	StateInExplicitTxn
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateNegotiating:
		return "negotiating"
	case StateEncrypting:
		return "encrypting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateInExplicitTxn:
		return "in_explicit_txn"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
