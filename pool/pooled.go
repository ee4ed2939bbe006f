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

package pool

import (
	"container/list"
	"time"
)

// Pooled wraps a connection with the bookkeeping the pool needs to
// place it in the idle list or the allocated set. The zero value of
// the embedded metadata is only ever touched under Pool.mu.
type Pooled[C Connection] struct {
	// Conn is the underlying connection. Exported so callers can use
	// it directly after Acquire returns: pooled.Conn.SimpleQuery(...).
	Conn C

	id uint64

	// element is this connection's node in Pool.idle while idle, and
	// nil while allocated. The allocated set is keyed by id instead.
	element *list.Element

	lastReleasedAt time.Time
	allocatedAt    time.Time

	// timer is the allocatedConnectionTimeout timer, armed while
	// allocated and nil while idle.
	timer *time.Timer
}

// ID returns an opaque identifier for this pooled connection, stable
// for its lifetime in the pool, useful for correlating log lines.
func (p *Pooled[C]) ID() uint64 { return p.id }

// AllocatedAt returns the time this connection was last handed to a
// requestor. Zero if it has never been allocated.
func (p *Pooled[C]) AllocatedAt() time.Time { return p.allocatedAt }
