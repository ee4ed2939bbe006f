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

import "errors"

var (
	// ErrPoolClosed is returned by Acquire/WithConnection once Close
	// has been called, and delivered to any request still pending at
	// close time.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrTooManyRequests is returned by Acquire when the pending
	// queue is already at Config.MaximumPendingRequests.
	ErrTooManyRequests = errors.New("pool: too many requests for connections")

	// ErrTimedOut is returned by Acquire when a request sat in the
	// pending queue for longer than Config.PendingRequestTimeout
	// without a connection becoming available.
	ErrTimedOut = errors.New("pool: timed out acquiring connection")
)
