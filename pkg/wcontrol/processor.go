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

package wcontrol

import (
	"context"
	"sync"

	"github.com/qservdb/qserv/pkg/stream"
	"github.com/qservdb/qserv/pkg/wbase"
	"github.com/qservdb/qserv/pkg/wsched"
)

// Scheduler is the subset of BlendScheduler a WorkerProcessor drives;
// narrowed to an interface so tests can substitute a recording fake.
type Scheduler interface {
	Schedule(t wsched.Task, r wsched.Runnable)
	CancelQuery(queryID int64)
}

type taskKey struct {
	queryID int64
	jobID   int64
}

// WorkerProcessor is the dispatcher invoking the scheduler and running
// tasks (spec.md §1 item 3, §4.3 "Worker processor"). It owns the
// registry of in-flight tasks so a cancel message naming (queryId,
// jobId) can reach a running task between fragments or row batches:
// Go's context cancellation is the idiomatic equivalent of the
// source's per-task `_interrupted` flag, since database/sql already
// checks ctx at every blocking point in the row-scanning loop.
type WorkerProcessor struct {
	scheduler Scheduler
	deps      wbase.TaskDeps
	runTask   func(context.Context, wbase.Task, wbase.TaskDeps) error

	mu      sync.Mutex
	running map[taskKey]context.CancelFunc

	// OnTaskDone, if set, is invoked once per submitted task after it
	// finishes running (or is aborted before it started). Intended for
	// a worker server to report completion/failure back to the czar.
	OnTaskDone func(t wbase.Task, err error)
}

// NewWorkerProcessor builds a processor dispatching through scheduler,
// running tasks with deps as the shared template (deps.Send is
// overridden per-task by Submit's send argument).
func NewWorkerProcessor(scheduler Scheduler, deps wbase.TaskDeps) *WorkerProcessor {
	return &WorkerProcessor{
		scheduler: scheduler,
		deps:      deps,
		runTask:   wbase.Run,
		running:   make(map[taskKey]context.CancelFunc),
	}
}

// Submit schedules t for execution. send is invoked once per batch t
// produces; ctx bounds the whole task (e.g. the worker's lifetime
// context), independent of any later Cancel call naming this task.
func (p *WorkerProcessor) Submit(ctx context.Context, t wbase.Task, send func(context.Context, *stream.StreamBuffer) error) {
	taskCtx, cancel := context.WithCancel(ctx)
	key := taskKey{queryID: t.QueryID, jobID: t.JobID}

	p.mu.Lock()
	p.running[key] = cancel
	p.mu.Unlock()

	deps := p.deps
	deps.Send = send

	r := &taskRunnable{proc: p, ctx: taskCtx, cancel: cancel, key: key, task: t, deps: deps}
	p.scheduler.Schedule(wsched.Task{
		QueryID:     t.QueryID,
		JobID:       t.JobID,
		ChunkID:     t.ChunkID,
		Db:          t.Db,
		Fragments:   t.Fragments,
		ResultTable: t.ResultTable,
		ScanTables:  t.ScanTables,
	}, r)
}

// Cancel requests the running or queued task identified by (queryID,
// jobID) stop at its next checkpoint. It reports whether such a task
// was known.
func (p *WorkerProcessor) Cancel(queryID, jobID int64) bool {
	key := taskKey{queryID: queryID, jobID: jobID}
	p.mu.Lock()
	cancel, ok := p.running[key]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelQuery cancels every task belonging to queryID: queued tasks
// are pulled from the scheduler before they start, and already-running
// tasks are asked to stop cooperatively via their context.
func (p *WorkerProcessor) CancelQuery(queryID int64) {
	p.scheduler.CancelQuery(queryID)

	p.mu.Lock()
	var cancels []context.CancelFunc
	for key, cancel := range p.running {
		if key.queryID == queryID {
			cancels = append(cancels, cancel)
		}
	}
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (p *WorkerProcessor) forget(key taskKey) {
	p.mu.Lock()
	delete(p.running, key)
	p.mu.Unlock()
}

// taskRunnable adapts a wbase.Task to wsched.Runnable.
type taskRunnable struct {
	proc   *WorkerProcessor
	ctx    context.Context
	cancel context.CancelFunc
	key    taskKey
	task   wbase.Task
	deps   wbase.TaskDeps
}

func (r *taskRunnable) Run() {
	err := r.proc.runTask(r.ctx, r.task, r.deps)
	r.cancel()
	r.proc.forget(r.key)
	if r.proc.OnTaskDone != nil {
		r.proc.OnTaskDone(r.task, err)
	}
}

// Abort is invoked by the work queue after Run panics; it releases the
// task's registration and reports context.Canceled to OnTaskDone.
func (r *taskRunnable) Abort() {
	r.cancel()
	r.proc.forget(r.key)
	if r.proc.OnTaskDone != nil {
		r.proc.OnTaskDone(r.task, context.Canceled)
	}
}

// Cancel matches wsched.Runnable's queued-cancellation hook; a queued
// task has nothing to scrub on the row-store yet, so it behaves like
// Abort.
func (r *taskRunnable) Cancel() {
	r.Abort()
}
