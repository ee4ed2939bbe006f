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

import "context"

// BeginTransaction issues BEGIN through the simple query protocol,
// which drains-and-closes any Cursor still open on this Connection
// first (spec.md §4.4, "Each closes any open cursor first").
func (c *Connection) BeginTransaction(ctx context.Context) error {
	_, err := c.SimpleQuery(ctx, "BEGIN")
	return err
}

// CommitTransaction issues COMMIT. It fails with ErrNotInTransaction
// if the connection's transaction status (from the latest
// ReadyForQuery) is idle.
func (c *Connection) CommitTransaction(ctx context.Context) error {
	if !c.InTransaction() {
		return ErrNotInTransaction
	}
	_, err := c.SimpleQuery(ctx, "COMMIT")
	return err
}

// RollbackTransaction issues ROLLBACK. It fails with
// ErrNotInTransaction if the connection's transaction status (from
// the latest ReadyForQuery) is idle.
func (c *Connection) RollbackTransaction(ctx context.Context) error {
	if !c.InTransaction() {
		return ErrNotInTransaction
	}
	_, err := c.SimpleQuery(ctx, "ROLLBACK")
	return err
}
