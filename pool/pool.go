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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config configures a Pool. All durations are zero-valued by default,
// which setDefaults below interprets as "use the documented default"
// rather than "disabled" — MetricsLoggingInterval is the one
// exception, where a negative value disables periodic logging.
type Config struct {
	// Name identifies this pool in log lines. Optional.
	Name string

	// MaximumConnections is the hard cap on physical connections this
	// pool will ever hold, allocated plus idle. Default 10.
	MaximumConnections int

	// MaximumPendingRequests bounds how many Acquire callers may wait
	// in the FIFO queue at once. Default 200.
	MaximumPendingRequests int

	// PendingRequestTimeout is how long a request waits in the queue
	// before failing with ErrTimedOut. Default 10s.
	PendingRequestTimeout time.Duration

	// AllocatedConnectionTimeout is how long a connection may stay
	// allocated to a requestor before the pool force-closes it.
	// Default 30s.
	AllocatedConnectionTimeout time.Duration

	// MetricsLoggingInterval is how often the pool snapshots and logs
	// its metrics. Zero means the default of one hour; negative
	// disables periodic logging (ComputeMetrics remains available to
	// call directly).
	MetricsLoggingInterval time.Duration

	// DisableMetricsReset makes the periodic log cumulative instead of
	// windowed: by default (false), each log also resets the counters
	// for the next period, matching spec's MetricsResetWhenLogged=true
	// default. Inverted from that name so the Go zero value is the
	// spec's default.
	DisableMetricsReset bool

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaximumConnections <= 0 {
		c.MaximumConnections = 10
	}
	if c.MaximumPendingRequests <= 0 {
		c.MaximumPendingRequests = 200
	}
	if c.PendingRequestTimeout <= 0 {
		c.PendingRequestTimeout = 10 * time.Second
	}
	if c.AllocatedConnectionTimeout <= 0 {
		c.AllocatedConnectionTimeout = 30 * time.Second
	}
	if c.MetricsLoggingInterval == 0 {
		c.MetricsLoggingInterval = time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// pendingRequest is one Acquire call waiting in the FIFO queue.
type pendingRequest[C Connection] struct {
	ctx     context.Context
	element *list.Element // nil once removed from Pool.pending
	timer   *time.Timer
	result  chan acquireResult[C]
}

type acquireResult[C Connection] struct {
	pooled *Pooled[C]
	err    error
}

// Pool is a FIFO-fair connection pool. The zero value is not usable;
// construct with NewPool.
type Pool[C Connection] struct {
	cfg     Config
	factory Factory[C]
	logger  *slog.Logger

	mu sync.Mutex

	// idle holds *Pooled[C], most-recently-released at the back.
	// Acquire pops from the back so the most recently used connection
	// is reused first (spec §4.6, §GLOSSARY "LRU (here)").
	idle *list.List

	// pending holds *pendingRequest[C], oldest at the front.
	pending *list.List

	allocated map[uint64]*Pooled[C]

	// creating counts factory calls in flight, reserving capacity
	// against Config.MaximumConnections before the new connection
	// exists so concurrent Acquire calls can't overshoot it.
	creating int

	nextID uint64
	closed bool

	metrics      counters
	metricsTimer *time.Timer
}

// NewPool constructs a Pool backed by factory, which is called
// (without holding the pool's lock) whenever a new physical
// connection is needed.
func NewPool[C Connection](factory Factory[C], cfg Config) *Pool[C] {
	cfg.setDefaults()
	p := &Pool[C]{
		cfg:       cfg,
		factory:   factory,
		logger:    cfg.Logger,
		idle:      list.New(),
		pending:   list.New(),
		allocated: make(map[uint64]*Pooled[C]),
	}
	if cfg.MetricsLoggingInterval > 0 {
		p.metricsTimer = time.AfterFunc(cfg.MetricsLoggingInterval, p.logMetrics)
	}
	return p
}

// Acquire returns a connection, creating one if the pool is under
// capacity or waiting in FIFO order otherwise. It blocks until a
// connection is available, the pool's PendingRequestTimeout elapses,
// ctx is done, or the pool is closed.
func (p *Pool[C]) Acquire(ctx context.Context) (*Pooled[C], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if p.pending.Len() == 0 {
		if el := p.idle.Back(); el != nil {
			pooled := el.Value.(*Pooled[C])
			p.idle.Remove(el)
			pooled.element = nil
			p.allocateLocked(pooled)
			p.metrics.successfulRequests++
			p.mu.Unlock()
			return pooled, nil
		}

		if len(p.allocated)+p.pending.Len()+p.creating < p.cfg.MaximumConnections {
			p.creating++
			p.mu.Unlock()
			c, err := p.factory(ctx)
			res := p.completeCreate(c, err)
			return res.pooled, res.err
		}
	}

	if p.pending.Len() >= p.cfg.MaximumPendingRequests {
		p.metrics.unsuccessfulRequestsTooBusy++
		p.mu.Unlock()
		return nil, ErrTooManyRequests
	}

	req := &pendingRequest[C]{ctx: ctx, result: make(chan acquireResult[C], 1)}
	req.element = p.pending.PushBack(req)
	p.metrics.observePendingLocked(p.pending.Len())
	req.timer = time.AfterFunc(p.cfg.PendingRequestTimeout, func() { p.expirePending(req) })
	p.mu.Unlock()

	select {
	case res := <-req.result:
		return res.pooled, res.err
	case <-ctx.Done():
		p.cancelPending(req)
		// A connection may have been handed off concurrently, just
		// before cancelPending could pull req off the queue. Don't
		// let it leak: release it back to the pool.
		select {
		case res := <-req.result:
			if res.err == nil && res.pooled != nil {
				p.Release(res.pooled)
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// completeCreate folds the outcome of a factory call into pool state.
// It must be called with p.creating already incremented and the lock
// NOT held; it acquires the lock itself.
func (p *Pool[C]) completeCreate(c C, err error) acquireResult[C] {
	p.mu.Lock()
	p.creating--
	if err != nil {
		p.metrics.unsuccessfulRequestsError++
		p.mu.Unlock()
		return acquireResult[C]{err: fmt.Errorf("pool: create connection: %w", err)}
	}
	if p.closed {
		p.mu.Unlock()
		c.Close()
		return acquireResult[C]{err: ErrPoolClosed}
	}
	p.metrics.connectionsCreated++
	pooled := &Pooled[C]{Conn: c, id: p.nextID}
	p.nextID++
	p.allocateLocked(pooled)
	p.metrics.successfulRequests++
	p.mu.Unlock()
	return acquireResult[C]{pooled: pooled}
}

// allocateLocked marks pooled as allocated and arms its
// AllocatedConnectionTimeout. Caller holds p.mu.
func (p *Pool[C]) allocateLocked(pooled *Pooled[C]) {
	pooled.allocatedAt = time.Now()
	p.allocated[pooled.id] = pooled
	if p.cfg.AllocatedConnectionTimeout > 0 {
		pooled.timer = time.AfterFunc(p.cfg.AllocatedConnectionTimeout, func() { p.allocationTimedOut(pooled) })
	}
}

// allocationTimedOut force-closes a connection whose
// AllocatedConnectionTimeout fired before it was released.
func (p *Pool[C]) allocationTimedOut(pooled *Pooled[C]) {
	p.mu.Lock()
	if _, ok := p.allocated[pooled.id]; !ok {
		p.mu.Unlock() // already released or closed
		return
	}
	delete(p.allocated, pooled.id)
	p.metrics.allocatedConnectionsTimedOut++
	p.mu.Unlock()

	pooled.Conn.Close()
	p.logger.Warn("pool: allocated connection timed out, force-closing",
		"pool", p.cfg.Name, "connection_id", pooled.id)
}

// expirePending fires Config.PendingRequestTimeout after a request.
func (p *Pool[C]) expirePending(req *pendingRequest[C]) {
	p.mu.Lock()
	if req.element == nil {
		p.mu.Unlock() // already handed a connection or canceled
		return
	}
	p.pending.Remove(req.element)
	req.element = nil
	p.metrics.observePendingLocked(p.pending.Len())
	p.metrics.unsuccessfulRequestsTimedOut++
	p.mu.Unlock()
	req.result <- acquireResult[C]{err: ErrTimedOut}
}

// cancelPending removes req from the queue when the caller's ctx is
// done before a connection was handed to it.
func (p *Pool[C]) cancelPending(req *pendingRequest[C]) {
	p.mu.Lock()
	if req.element != nil {
		p.pending.Remove(req.element)
		req.element = nil
		p.metrics.observePendingLocked(p.pending.Len())
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	p.mu.Unlock()
}

// Release returns a connection to the pool. If the connection wasn't
// tracked as allocated by this pool (already released, timed out, or
// never acquired from it), Release logs a warning and closes it
// without touching any counter. A connection with an open transaction,
// or released after the pool has been closed, is always closed rather
// than returned to idle.
func (p *Pool[C]) Release(pooled *Pooled[C]) {
	p.mu.Lock()
	existing, ok := p.allocated[pooled.id]
	if !ok || existing != pooled {
		p.mu.Unlock()
		p.logger.Warn("pool: release of connection not tracked as allocated; closing",
			"pool", p.cfg.Name, "connection_id", pooled.id)
		pooled.Conn.Close()
		return
	}
	delete(p.allocated, pooled.id)
	if pooled.timer != nil {
		pooled.timer.Stop()
		pooled.timer = nil
	}

	if pooled.Conn.IsClosed() {
		p.metrics.allocatedConnectionsClosedByRequestor++
		p.wakeNextLocked()
		p.mu.Unlock()
		return
	}

	if pooled.Conn.InTransaction() {
		p.mu.Unlock()
		p.logger.Warn("pool: releasing connection with an open transaction; closing",
			"pool", p.cfg.Name, "connection_id", pooled.id)
		pooled.Conn.Close()
		p.mu.Lock()
		p.wakeNextLocked()
		p.mu.Unlock()
		return
	}

	if p.closed {
		p.mu.Unlock()
		pooled.Conn.Close()
		return
	}

	pooled.lastReleasedAt = time.Now()
	pooled.element = p.idle.PushBack(pooled)
	p.wakeNextLocked()
	p.mu.Unlock()
}

// wakeNextLocked hands the just-freed capacity to the head of the
// pending queue, either by reusing an idle connection or, if none is
// idle, by kicking off a new connection for it. Caller holds p.mu.
func (p *Pool[C]) wakeNextLocked() {
	if p.pending.Len() == 0 {
		return
	}
	el := p.pending.Front()
	req := el.Value.(*pendingRequest[C])

	if idleEl := p.idle.Back(); idleEl != nil {
		p.pending.Remove(el)
		req.element = nil
		p.metrics.observePendingLocked(p.pending.Len())
		if req.timer != nil {
			req.timer.Stop()
		}

		pooled := idleEl.Value.(*Pooled[C])
		p.idle.Remove(idleEl)
		pooled.element = nil
		p.allocateLocked(pooled)
		p.metrics.successfulRequests++
		req.result <- acquireResult[C]{pooled: pooled}
		return
	}

	if len(p.allocated)+p.pending.Len()+p.creating < p.cfg.MaximumConnections {
		p.pending.Remove(el)
		req.element = nil
		p.metrics.observePendingLocked(p.pending.Len())
		if req.timer != nil {
			req.timer.Stop()
		}
		p.creating++
		go func() {
			c, err := p.factory(req.ctx)
			req.result <- p.completeCreate(c, err)
		}()
	}
}

// WithConnection acquires a connection, invokes op, and releases the
// connection regardless of op's outcome, including a panic inside op.
func (p *Pool[C]) WithConnection(ctx context.Context, op func(c C) error) error {
	pooled, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(pooled)
	return op(pooled.Conn)
}

// Close shuts the pool down. Idle connections are always closed
// immediately and every pending request fails with ErrPoolClosed.
// With force=true, allocated connections are also closed immediately
// (their holders will observe IsClosed()==true on next use); with
// force=false they are left with their holder and closed when
// Release is eventually called. Close is idempotent.
func (p *Pool[C]) Close(force bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for el := p.pending.Front(); el != nil; {
		next := el.Next()
		req := el.Value.(*pendingRequest[C])
		p.pending.Remove(el)
		req.element = nil
		if req.timer != nil {
			req.timer.Stop()
		}
		req.result <- acquireResult[C]{err: ErrPoolClosed}
		el = next
	}

	var toClose []C
	for el := p.idle.Front(); el != nil; el = el.Next() {
		toClose = append(toClose, el.Value.(*Pooled[C]).Conn)
	}
	p.idle.Init()

	if force {
		for _, pooled := range p.allocated {
			if pooled.timer != nil {
				pooled.timer.Stop()
			}
			toClose = append(toClose, pooled.Conn)
		}
		p.allocated = make(map[uint64]*Pooled[C])
	}

	if p.metricsTimer != nil {
		p.metricsTimer.Stop()
	}
	p.mu.Unlock()

	for _, c := range toClose {
		c.Close()
	}
	return nil
}

// ComputeMetrics returns a snapshot of the pool's counters. If reset
// is true, the delta counters are zeroed and the next period's
// ConnectionsAtStartOfPeriod is set to this snapshot's
// ConnectionsAtEndOfPeriod.
func (p *Pool[C]) ComputeMetrics(reset bool) Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	end := len(p.allocated) + p.idle.Len()
	m := Metrics{
		SuccessfulRequests:                    p.metrics.successfulRequests,
		UnsuccessfulRequestsTooBusy:           p.metrics.unsuccessfulRequestsTooBusy,
		UnsuccessfulRequestsTimedOut:          p.metrics.unsuccessfulRequestsTimedOut,
		UnsuccessfulRequestsError:             p.metrics.unsuccessfulRequestsError,
		MinimumPendingRequests:                p.metrics.minimumPendingRequests,
		MaximumPendingRequests:                p.metrics.maximumPendingRequests,
		ConnectionsAtStartOfPeriod:            p.metrics.connectionsAtStartOfPeriod,
		ConnectionsAtEndOfPeriod:              end,
		ConnectionsCreated:                    p.metrics.connectionsCreated,
		AllocatedConnectionsClosedByRequestor: p.metrics.allocatedConnectionsClosedByRequestor,
		AllocatedConnectionsTimedOut:          p.metrics.allocatedConnectionsTimedOut,
	}
	if reset {
		n := p.pending.Len()
		p.metrics = counters{
			connectionsAtStartOfPeriod: end,
			minimumPendingRequests:     n,
			maximumPendingRequests:     n,
		}
	}
	return m
}

// logMetrics is the Config.MetricsLoggingInterval timer callback: it
// snapshots, logs, and reschedules itself unless the pool has closed.
func (p *Pool[C]) logMetrics() {
	m := p.ComputeMetrics(!p.cfg.DisableMetricsReset)
	p.logger.Info("pool metrics",
		"pool", p.cfg.Name,
		"successful_requests", m.SuccessfulRequests,
		"too_busy", m.UnsuccessfulRequestsTooBusy,
		"timed_out", m.UnsuccessfulRequestsTimedOut,
		"errors", m.UnsuccessfulRequestsError,
		"min_pending", m.MinimumPendingRequests,
		"max_pending", m.MaximumPendingRequests,
		"connections_start", m.ConnectionsAtStartOfPeriod,
		"connections_end", m.ConnectionsAtEndOfPeriod,
		"connections_created", m.ConnectionsCreated,
		"closed_by_requestor", m.AllocatedConnectionsClosedByRequestor,
		"allocated_timed_out", m.AllocatedConnectionsTimedOut,
	)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		p.metricsTimer.Reset(p.cfg.MetricsLoggingInterval)
	}
}
