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
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConnection is a minimal Connection for exercising pool behavior
// without a real wire connection.
type mockConnection struct {
	id     int64
	closed atomic.Bool
	inTxn  atomic.Bool
}

var mockConnSeq atomic.Int64

func newMockConnection() *mockConnection {
	return &mockConnection{id: mockConnSeq.Add(1)}
}

func (m *mockConnection) Close() error        { m.closed.Store(true); return nil }
func (m *mockConnection) IsClosed() bool      { return m.closed.Load() }
func (m *mockConnection) InTransaction() bool { return m.inTxn.Load() }

func newTestPool(t *testing.T, cfg Config) *Pool[*mockConnection] {
	t.Helper()
	p := NewPool[*mockConnection](func(ctx context.Context) (*mockConnection, error) {
		return newMockConnection(), nil
	}, cfg)
	t.Cleanup(func() { p.Close(true) })
	return p
}

func TestAcquireCreatesUpToCapacity(t *testing.T) {
	p := newTestPool(t, Config{MaximumConnections: 2})
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Conn.id, c2.Conn.id)

	m := p.ComputeMetrics(false)
	assert.EqualValues(t, 2, m.ConnectionsCreated)
	assert.EqualValues(t, 2, m.SuccessfulRequests)
}

func TestAcquireReleaseIsLRU(t *testing.T) {
	// Release c1..c5 in order, then acquiring 5 times should reuse
	// the most-recently-released connection first each time: c5, c4,
	// c3, c2, c1 (spec §4.6 "Allocation policy" note).
	p := newTestPool(t, Config{MaximumConnections: 5})
	ctx := context.Background()

	var conns []*Pooled[*mockConnection]
	for i := 0; i < 5; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	for _, c := range conns {
		p.Release(c)
	}

	var gotOrder []int64
	for i := 0; i < 5; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		gotOrder = append(gotOrder, c.Conn.id)
	}

	var wantOrder []int64
	for i := len(conns) - 1; i >= 0; i-- {
		wantOrder = append(wantOrder, conns[i].Conn.id)
	}
	assert.Equal(t, wantOrder, gotOrder)
}

func TestAcquireTooManyRequests(t *testing.T) {
	// MaximumPendingRequests: 0 would mean "use the default of 200", so
	// the queue is given one slot and filled before the rejected call.
	p := newTestPool(t, Config{MaximumConnections: 1, MaximumPendingRequests: 1})
	ctx := context.Background()

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	// Occupies the single pending slot until the pool closes at cleanup.
	go p.Acquire(ctx)
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.pending.Len() == 1
	}, time.Second, time.Millisecond)

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, ErrTooManyRequests)

	m := p.ComputeMetrics(false)
	assert.EqualValues(t, 1, m.UnsuccessfulRequestsTooBusy)
}

func TestAcquireFIFOOrder(t *testing.T) {
	// 5 connections all allocated; submit A then B; release one ->
	// A completes; release another -> B completes (spec §8 scenario 5).
	p := newTestPool(t, Config{MaximumConnections: 5, MaximumPendingRequests: 10})
	ctx := context.Background()

	var held []*Pooled[*mockConnection]
	for i := 0; i < 5; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, c)
	}

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := p.Acquire(ctx)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "A")
		mu.Unlock()
	}()
	time.Sleep(20 * time.Millisecond) // ensure A enqueues first

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := p.Acquire(ctx)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
	}()
	time.Sleep(20 * time.Millisecond)

	p.Release(held[0])
	time.Sleep(20 * time.Millisecond)
	p.Release(held[1])

	wg.Wait()
	assert.Equal(t, []string{"A", "B"}, order)
}

func TestAcquirePendingTimeout(t *testing.T) {
	p := newTestPool(t, Config{
		MaximumConnections:    1,
		PendingRequestTimeout: 30 * time.Millisecond,
	})
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	require.NoError(t, err)
	_ = held

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	m := p.ComputeMetrics(false)
	assert.EqualValues(t, 1, m.UnsuccessfulRequestsTimedOut)
}

func TestAcquireContextCancellation(t *testing.T) {
	p := newTestPool(t, Config{MaximumConnections: 1, PendingRequestTimeout: time.Minute})
	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_ = held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseWithOpenTransactionCloses(t *testing.T) {
	p := newTestPool(t, Config{MaximumConnections: 1})
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Conn.inTxn.Store(true)
	p.Release(c)

	assert.True(t, c.Conn.IsClosed())

	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c.Conn, c2.Conn)
}

func TestReleaseOfClosedConnectionCountsRequestorClose(t *testing.T) {
	p := newTestPool(t, Config{MaximumConnections: 1})
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	c.Conn.Close()
	p.Release(c)

	m := p.ComputeMetrics(false)
	assert.EqualValues(t, 1, m.AllocatedConnectionsClosedByRequestor)
}

func TestDoubleReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(t, Config{MaximumConnections: 1})
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(c)
	require.False(t, c.Conn.IsClosed())

	// Second release of the same *Pooled: it's no longer tracked as
	// allocated (it's idle now), so this closes it without double
	// counting any success/failure metric.
	p.Release(c)
	assert.True(t, c.Conn.IsClosed())
}

func TestAllocatedConnectionTimeout(t *testing.T) {
	p := newTestPool(t, Config{
		MaximumConnections:         1,
		AllocatedConnectionTimeout: 20 * time.Millisecond,
	})
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Conn.IsClosed()
	}, time.Second, 5*time.Millisecond)

	m := p.ComputeMetrics(false)
	assert.EqualValues(t, 1, m.AllocatedConnectionsTimedOut)

	// Release after the pool already force-closed it is a no-op aside
	// from the warning log; it must not panic or double count.
	p.Release(c)
}

func TestCloseGraceful(t *testing.T) {
	p := NewPool[*mockConnection](func(ctx context.Context) (*mockConnection, error) {
		return newMockConnection(), nil
	}, Config{MaximumConnections: 2})

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(c2)

	require.NoError(t, p.Close(false))

	// Idle connection closed immediately.
	assert.True(t, c2.Conn.IsClosed())
	// Allocated connection is untouched until release.
	assert.False(t, c1.Conn.IsClosed())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	p.Release(c1)
	assert.True(t, c1.Conn.IsClosed())
}

func TestCloseForce(t *testing.T) {
	p := NewPool[*mockConnection](func(ctx context.Context) (*mockConnection, error) {
		return newMockConnection(), nil
	}, Config{MaximumConnections: 2})

	ctx := context.Background()
	c1, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Close(true))
	assert.True(t, c1.Conn.IsClosed())
}

func TestWithConnectionReleasesOnError(t *testing.T) {
	p := newTestPool(t, Config{MaximumConnections: 1})
	sentinel := errors.New("boom")

	err := p.WithConnection(context.Background(), func(c *mockConnection) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	// The connection must have been released, not leaked.
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, c.Conn.IsClosed())
}

func TestComputeMetricsResetCarriesConnectionCount(t *testing.T) {
	p := newTestPool(t, Config{MaximumConnections: 5})
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	c2, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(c1)

	m := p.ComputeMetrics(true)
	assert.Equal(t, 2, m.ConnectionsAtEndOfPeriod)

	m2 := p.ComputeMetrics(false)
	assert.Equal(t, 2, m2.ConnectionsAtStartOfPeriod)
	assert.EqualValues(t, 0, m2.SuccessfulRequests) // reset zeroed deltas

	p.Release(c2)
}

func TestPoolRecoversCapacityAfterFactoryFailure(t *testing.T) {
	var calls atomic.Int64
	p := NewPool[*mockConnection](func(ctx context.Context) (*mockConnection, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("dial refused")
		}
		return newMockConnection(), nil
	}, Config{MaximumConnections: 1})
	defer p.Close(true)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)

	m := p.ComputeMetrics(false)
	assert.EqualValues(t, 1, m.UnsuccessfulRequestsError)

	// Capacity was returned on failure, so a subsequent Acquire isn't
	// stuck believing the pool is still full.
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
}
