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

package qdisp

import (
	"go.uber.org/atomic"

	"github.com/qservdb/qserv/pkg/resource"
)

// ResponseHandler is the narrow contract JobQuery needs from the
// czar-side result merger. The concrete implementation lives in
// pkg/rproc; qdisp only depends on this interface so the two packages
// don't import each other.
type ResponseHandler interface {
	FlushHTTP(fileURL string, expectedRows int64) (success bool, shouldCancel bool, resultRows int64, err error)
	FlushHTTPError(code int, msg string, status int)
	PrepScrubResults(jobID int64, attempt int) error
	ErrorFlush(msg string, code int)
	Cancel()
}

// Description is the immutable per-construction description of one
// chunk's dispatch work.
type Description struct {
	QueryID         int64
	JobID           int64
	Resource        resource.Unit
	Payload         []byte
	ChunkQuerySpec  string
	ChunkResultName string
	RespHandler     ResponseHandler

	// ScanTables is the planner's shared-scan annotation for this
	// chunk's query (qana.Plan.ScanTables), carried through to the
	// worker so its scheduler can route the resulting task onto the
	// ScanScheduler instead of the GroupScheduler.
	ScanTables []string
}

// Job owns a Description and a mutable Status; it holds a pointer back
// to its Executive, used only to report completion (MarkTerminal calls
// Executive.markCompleted). The Executive's jobs map is the owning side.
type Job struct {
	Desc   Description
	Status *Status

	attempt     atomic.Int32
	maxAttempts int32
	reported    atomic.Bool

	executive *Executive
}

// newJob constructs a Job owned by exec, with the configured retry
// budget.
func newJob(desc Description, exec *Executive, maxAttempts int32) *Job {
	return &Job{
		Desc:        desc,
		Status:      NewStatus(),
		maxAttempts: maxAttempts,
		executive:   exec,
	}
}

// Attempt returns the current 1-based attempt number.
func (j *Job) Attempt() int32 {
	return j.attempt.Load()
}

// nextAttempt increments and returns the new attempt number, or false if
// the retry budget is exhausted.
func (j *Job) nextAttempt() (int32, bool) {
	n := j.attempt.Add(1)
	if n > j.maxAttempts {
		return n, false
	}
	return n, true
}

// MarkTerminal reports this job's terminal outcome to its owning
// Executive exactly once: a job can reach a terminal state either by
// finishing its own drive loop or by being squashed concurrently, and
// only the first of those should decrement the executive's outstanding
// count.
func (j *Job) MarkTerminal(success bool) {
	if !j.reported.CompareAndSwap(false, true) {
		return
	}
	if j.executive != nil {
		j.executive.markCompleted(j.Desc.JobID, success)
	}
}
