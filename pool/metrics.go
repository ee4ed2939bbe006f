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

// Metrics is a snapshot of one pool's counters, taken by
// Pool.ComputeMetrics. All fields except ConnectionsAtStartOfPeriod,
// ConnectionsAtEndOfPeriod, and the pending-request watermarks are
// deltas since the period began (either pool creation or the last
// reset).
type Metrics struct {
	SuccessfulRequests           int64
	UnsuccessfulRequestsTooBusy  int64
	UnsuccessfulRequestsTimedOut int64
	UnsuccessfulRequestsError    int64

	// MinimumPendingRequests and MaximumPendingRequests are the
	// smallest and largest pending-queue length observed during the
	// period (not a "requests waited at least this long" measure).
	MinimumPendingRequests int
	MaximumPendingRequests int

	ConnectionsAtStartOfPeriod int
	ConnectionsAtEndOfPeriod   int
	ConnectionsCreated         int64

	AllocatedConnectionsClosedByRequestor int64
	AllocatedConnectionsTimedOut          int64
}

// counters holds the mutable, Pool.mu-guarded state ComputeMetrics
// reads and optionally resets. Kept separate from Metrics so a reset
// can't accidentally drop ConnectionsAtStartOfPeriod, which carries
// forward across periods.
type counters struct {
	successfulRequests           int64
	unsuccessfulRequestsTooBusy  int64
	unsuccessfulRequestsTimedOut int64
	unsuccessfulRequestsError    int64

	minimumPendingRequests int
	maximumPendingRequests int

	connectionsAtStartOfPeriod int
	connectionsCreated         int64

	allocatedConnectionsClosedByRequestor int64
	allocatedConnectionsTimedOut          int64
}

// observePendingLocked folds the current pending-queue length into
// the period's min/max watermarks. Called after every enqueue and
// dequeue while Pool.mu is held.
func (c *counters) observePendingLocked(n int) {
	if n < c.minimumPendingRequests {
		c.minimumPendingRequests = n
	}
	if n > c.maximumPendingRequests {
		c.maximumPendingRequests = n
	}
}
