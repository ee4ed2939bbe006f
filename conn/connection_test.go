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

package conn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgwireclient/conn"
	"github.com/multigres/pgwireclient/internal/fakepg"
)

func dial(t *testing.T, srv *fakepg.Server, cred conn.Credential) (*conn.Connection, error) {
	t.Helper()
	host, port := srv.HostPort()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Connect(ctx, conn.Config{
		Host:        host,
		Port:        port,
		User:        "test",
		Database:    "testdb",
		Credential:  cred,
		DialTimeout: 2 * time.Second,
	})
}

func TestConnectTrustAuth(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()

	c, err := dial(t, srv, conn.TrustCredential())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, conn.StateReady, c.State())
	assert.EqualValues(t, 12345, c.ProcessID())
	v, ok := c.ParameterStatus("server_version")
	assert.True(t, ok)
	assert.Equal(t, "16.0 (fakepg)", v)
}

func TestConnectCleartextAuth(t *testing.T) {
	srv := fakepg.NewWithPassword(t, fakepg.AuthCleartext, "s3cret")
	defer srv.Close()

	c, err := dial(t, srv, conn.CleartextCredential("s3cret"))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, conn.StateReady, c.State())
}

func TestConnectCleartextAuthCredentialMismatch(t *testing.T) {
	srv := fakepg.NewWithPassword(t, fakepg.AuthCleartext, "s3cret")
	defer srv.Close()

	_, err := dial(t, srv, conn.TrustCredential())
	assert.ErrorIs(t, err, conn.ErrCleartextPasswordCredentialRequired)
}

func TestConnectMD5Auth(t *testing.T) {
	srv := fakepg.NewWithPassword(t, fakepg.AuthMD5, "hunter2")
	defer srv.Close()

	c, err := dial(t, srv, conn.MD5Credential("hunter2"))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, conn.StateReady, c.State())
}

func TestSimpleQuerySelect(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()

	srv.AddQuery("select * from widgets", &fakepg.Result{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{"1", "foo"}, {"2", nil}},
	})

	c, err := dial(t, srv, conn.TrustCredential())
	require.NoError(t, err)
	defer c.Close()

	results, err := c.SimpleQuery(context.Background(), "select * from widgets")
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.Len(t, res.Columns, 2)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "1", string(res.Rows[0].Values[0]))
	assert.Nil(t, res.Rows[1].Values[1])
}

func TestSimpleQueryError(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()
	srv.AddError("select bogus", assertError{"relation \"bogus\" does not exist"})

	c, err := dial(t, srv, conn.TrustCredential())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SimpleQuery(context.Background(), "select bogus")
	assert.Error(t, err)
}

func TestTransactionLifecycle(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()

	c, err := dial(t, srv, conn.TrustCredential())
	require.NoError(t, err)
	defer c.Close()

	require.False(t, c.InTransaction())
	require.NoError(t, c.BeginTransaction(context.Background()))
	assert.True(t, c.InTransaction())

	require.NoError(t, c.CommitTransaction(context.Background()))
	assert.False(t, c.InTransaction())

	assert.ErrorIs(t, c.CommitTransaction(context.Background()), conn.ErrNotInTransaction)
}

func TestExtendedQueryPrepareAndQuery(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()
	srv.AddQuery("select name from widgets where id = $1", &fakepg.Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"gizmo"}},
	})

	c, err := dial(t, srv, conn.TrustCredential())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	stmt, err := c.Prepare(ctx, "getname", "select name from widgets where id = $1", []uint32{23})
	require.NoError(t, err)
	defer stmt.Close(ctx)

	cursor, err := stmt.Query(ctx, [][]byte{[]byte("1")}, nil, nil, 0)
	require.NoError(t, err)
	defer cursor.Close(ctx)

	row, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gizmo", string(row.Values[0]))

	_, ok, err = cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrepareDrainsOpenCursorInsteadOfDeadlocking(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()
	srv.AddQuery("select name from widgets where id = $1", &fakepg.Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"gizmo"}},
	})
	srv.AddQuery("select 1", &fakepg.Result{
		Columns: []string{"one"},
		Rows:    [][]any{{"1"}},
	})

	c, err := dial(t, srv, conn.TrustCredential())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	stmt, err := c.Prepare(ctx, "getname", "select name from widgets where id = $1", []uint32{23})
	require.NoError(t, err)
	defer stmt.Close(ctx)

	cursor, err := stmt.Query(ctx, [][]byte{[]byte("1")}, nil, nil, 0)
	require.NoError(t, err)
	assert.False(t, cursor.IsClosed())

	// Preparing a second statement without first closing cursor or stmt
	// must drain-and-close them rather than deadlock on bufMu.
	done := make(chan struct{})
	go func() {
		defer close(done)
		stmt2, err := c.Prepare(ctx, "", "select 1", nil)
		require.NoError(t, err)
		defer stmt2.Close(ctx)

		cursor2, err := stmt2.Query(ctx, nil, nil, nil, 0)
		require.NoError(t, err)
		defer cursor2.Close(ctx)

		row, ok, err := cursor2.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "1", string(row.Values[0]))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Prepare deadlocked instead of draining the previously open cursor/statement")
	}

	assert.True(t, cursor.IsClosed())
	assert.True(t, stmt.IsClosed())
}

func TestSimpleQueryDrainsOpenCursor(t *testing.T) {
	srv := fakepg.New(t)
	defer srv.Close()
	srv.AddQuery("select name from widgets where id = $1", &fakepg.Result{
		Columns: []string{"name"},
		Rows:    [][]any{{"gizmo"}},
	})

	c, err := dial(t, srv, conn.TrustCredential())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	stmt, err := c.Prepare(ctx, "getname", "select name from widgets where id = $1", []uint32{23})
	require.NoError(t, err)
	defer stmt.Close(ctx)

	cursor, err := stmt.Query(ctx, [][]byte{[]byte("1")}, nil, nil, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.SimpleQuery(ctx, "BEGIN")
		require.NoError(t, err)
		require.NoError(t, c.CommitTransaction(ctx))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SimpleQuery deadlocked instead of draining the previously open cursor")
	}

	assert.True(t, cursor.IsClosed())
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
