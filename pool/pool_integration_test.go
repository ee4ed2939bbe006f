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

package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multigres/pgwireclient/conn"
	"github.com/multigres/pgwireclient/internal/fakepg"
	"github.com/multigres/pgwireclient/pool"
)

// TestPoolAgainstRealConnection exercises pool.Pool with an actual
// *conn.Connection dialed against an in-process fake server, rather
// than the unit-test mock, to prove the duck-typed pool.Connection
// interface and the query/transaction path compose end to end.
func TestPoolAgainstRealConnection(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()
	srv.AddQuery("select 1", &fakepg.Result{
		Columns: []string{"?column?"},
		Rows:    [][]any{{"1"}},
	})

	host, port := srv.HostPort()
	factory := func(ctx context.Context) (*conn.Connection, error) {
		return conn.Connect(ctx, conn.Config{
			Host:        host,
			Port:        port,
			User:        "test",
			Database:    "testdb",
			Credential:  conn.TrustCredential(),
			DialTimeout: 2 * time.Second,
		})
	}

	p := pool.NewPool[*conn.Connection](factory, pool.Config{MaximumConnections: 2})
	defer p.Close(true)

	ctx := context.Background()
	err := p.WithConnection(ctx, func(c *conn.Connection) error {
		results, err := c.SimpleQuery(ctx, "select 1")
		if err != nil {
			return err
		}
		require.Len(t, results, 1)
		require.Len(t, results[0].Rows, 1)
		return nil
	})
	require.NoError(t, err)

	m := p.ComputeMetrics(false)
	require.EqualValues(t, 1, m.ConnectionsCreated)
	require.EqualValues(t, 1, m.SuccessfulRequests)
}

// TestPoolClosesConnectionLeftInTransaction proves the pool's
// InTransaction()-on-Release check forces a close of a real connection,
// not just the mock's inTxn flag.
func TestPoolClosesConnectionLeftInTransaction(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()

	host, port := srv.HostPort()
	factory := func(ctx context.Context) (*conn.Connection, error) {
		return conn.Connect(ctx, conn.Config{
			Host:        host,
			Port:        port,
			User:        "test",
			Database:    "testdb",
			Credential:  conn.TrustCredential(),
			DialTimeout: 2 * time.Second,
		})
	}
	p := pool.NewPool[*conn.Connection](factory, pool.Config{MaximumConnections: 1})
	defer p.Close(true)

	ctx := context.Background()
	pooled, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, pooled.Conn.BeginTransaction(ctx))
	p.Release(pooled)
	require.True(t, pooled.Conn.IsClosed())
}
