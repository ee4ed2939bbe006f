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

// Package pool implements a FIFO-fair connection pool on top of
// conn.Connection: a bounded set of physical connections, a request
// queue that serves waiters in submission order once a connection
// frees up, per-request and per-allocation timeouts, and periodic
// metrics snapshots.
package pool

import "context"

// Connection is the narrow surface the pool needs from a pooled
// connection. *conn.Connection satisfies it; tests substitute a fake.
type Connection interface {
	// Close terminates the connection. Must be safe to call more than
	// once.
	Close() error

	// IsClosed reports whether the connection has been closed. For
	// *conn.Connection that means Close or CloseAbruptly was called; a
	// protocol or transport failure alone does not make it report true.
	IsClosed() bool

	// InTransaction reports whether the connection's last-observed
	// transaction status is anything other than idle. A connection
	// released to the pool with an open transaction is always closed
	// rather than returned to idle (spec §9 Open Questions: the
	// conservative choice).
	InTransaction() bool
}

// Factory creates a new physical connection, e.g. conn.Connect bound
// to a fixed host/config.
type Factory[C Connection] func(ctx context.Context) (C, error)
