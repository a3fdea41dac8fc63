// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wsched

// GroupScheduler dispatches tasks with no scan-tables annotation
// directly into a DynamicWorkQueue, keyed by query id, in arrival
// order. It does not group tasks by chunk: tasks for the same chunk
// from different queries land in different sessions, and nothing
// steers them onto the same worker goroutine
// (original_source/worker/include/lsst/qserv/worker/GroupScheduler.h).
type GroupScheduler struct {
	dwq *DynamicWorkQueue
}

// NewGroupScheduler wraps dwq for per-chunk-locality dispatch.
func NewGroupScheduler(dwq *DynamicWorkQueue) *GroupScheduler {
	return &GroupScheduler{dwq: dwq}
}

// Schedule queues r for t's query id.
func (g *GroupScheduler) Schedule(t Task, r Runnable) {
	g.dwq.Add(t.Session(), r)
}

// CancelSession cancels every not-yet-started Runnable queued for
// session.
func (g *GroupScheduler) CancelSession(session int64) {
	g.dwq.CancelQueued(session)
}
