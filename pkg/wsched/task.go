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

// Package wsched is the worker-side task scheduler: a DynamicWorkQueue
// thread pool fair-shared by session (query id), fed by a BlendScheduler
// that routes each incoming task to either a GroupScheduler (per-chunk
// locality) or a ScanScheduler (shared-scan affinity).
package wsched

// Task is the immutable description of one unit of worker-side work, per
// spec.md §3 "Task (worker side)".
type Task struct {
	QueryID     int64
	JobID       int64
	ChunkID     int
	Db          string
	Fragments   []string
	ResultTable string
	ScanTables  []string
}

// Session is the fair-share partitioning key: spec.md §9 unifies the
// source's separate SessionManager/queryId id spaces under queryId, so a
// Task's session is always its QueryID.
func (t Task) Session() int64 { return t.QueryID }

// Runnable is a unit of schedulable work, analogous to DynamicWorkQueue's
// Callable: Run executes it, Abort is invoked by DynamicWorkQueue when
// Run panics, and Cancel is invoked instead of Run when the work is
// discarded before ever starting.
type Runnable interface {
	Run()
	Abort()
	Cancel()
}
