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
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// QueryState is the overall outcome of join(): every job reached a
// terminal state and the query as a whole is one of these three.
type QueryState int

const (
	StateSuccess QueryState = iota
	StateError
	StateCancel
)

// TransientError wraps a Messenger error that is safe to retry: a
// transport failure or a worker-busy response. Any other error from
// Messenger.Send is treated as a terminal logical error (bad SQL, schema
// mismatch) and is never retried, per spec.md §4.2.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ErrCancelled is returned by Add once the executive has been squashed.
var ErrCancelled = errors.New("qdisp: executive cancelled")

// Messenger delivers a job's serialized request to the worker named by
// its resource path and returns where the response can be collected.
// Cancel asks the worker to stop an in-flight job.
type Messenger interface {
	Send(ctx context.Context, workerID string, desc Description, attempt int32) (fileURL string, expectedRows int64, err error)
	Cancel(ctx context.Context, workerID string, queryID, jobID int64) error
}

// Config tunes one Executive's retry and batching behavior.
type Config struct {
	// MaxAttempts is the retry budget for transient transport errors.
	// Zero means the package default of 3.
	MaxAttempts int32
	// UberJobsPerWorker is carried here from the czar configuration, but
	// the Executive does not read it: every job is sent as its own wire
	// request, and jobs bound for the same worker are not batched.
	UberJobsPerWorker int
}

const defaultMaxAttempts int32 = 3

// Executive is the czar-side orchestrator of every job belonging to one
// user query. It exclusively owns its Job objects.
type Executive struct {
	queryID   int64
	messenger Messenger
	msgStore  *MessageStore
	cfg       Config
	logger    *zap.Logger

	mu          sync.Mutex
	jobs        map[int64]*Job
	outstanding int
	done        *sync.Cond

	cancelled  atomic.Bool
	firstError atomic.String
	anyError   atomic.Bool
}

// NewExecutive builds an Executive for one user query.
func NewExecutive(queryID int64, messenger Messenger, cfg Config) *Executive {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	e := &Executive{
		queryID:   queryID,
		messenger: messenger,
		msgStore:  NewMessageStore(),
		cfg:       cfg,
		logger:    log.L().With(zap.Int64("queryID", queryID)),
		jobs:      make(map[int64]*Job),
	}
	e.done = sync.NewCond(&e.mu)
	return e
}

// MessageStore returns the query's shared message log.
func (e *Executive) MessageStore() *MessageStore { return e.msgStore }

// Add enqueues one chunk job and submits it to the messenger. It fails
// with ErrCancelled if the executive has already been squashed.
func (e *Executive) Add(ctx context.Context, desc Description) (*Job, error) {
	if e.cancelled.Load() {
		return nil, ErrCancelled
	}

	job := newJob(desc, e, e.cfg.MaxAttempts)

	e.mu.Lock()
	if e.cancelled.Load() {
		e.mu.Unlock()
		return nil, ErrCancelled
	}
	e.jobs[desc.JobID] = job
	e.outstanding++
	e.mu.Unlock()

	go e.drive(ctx, job)
	return job, nil
}

// AddEmptyChunkSuccess records a chunk that the planner determined is
// empty: no Job is created for it, and it contributes zero rows to the
// result without ever touching the messenger, per spec.md §4.2.
func (e *Executive) AddEmptyChunkSuccess() {
	// Empty chunks are "instantly successful" and never change the
	// outstanding count since no Job was ever added for them.
}

// drive runs one job from REQUEST through a terminal state, retrying
// transient transport errors up to the configured budget.
func (e *Executive) drive(ctx context.Context, job *Job) {
	workerID := job.Desc.Resource.WorkerID()
	if workerID == "" {
		workerID = job.Desc.Resource.Db()
	}

	for {
		attempt, withinBudget := job.nextAttempt()
		if !withinBudget {
			e.terminalError(job, RequestError, "retry budget exhausted")
			return
		}

		if attempt > 1 {
			if err := job.Desc.RespHandler.PrepScrubResults(job.Desc.JobID, int(attempt)-1); err != nil {
				e.logger.Warn("scrub before retry failed", zap.Int64("jobID", job.Desc.JobID), zap.Error(err))
			}
		}

		_ = job.Status.UpdateInfo(Request, 0, "")
		failpoint.Inject("qdispSlowRequest", nil)

		fileURL, expectedRows, err := e.messenger.Send(ctx, workerID, job.Desc, attempt)
		if err != nil {
			var transient *TransientError
			if errors.As(err, &transient) {
				e.msgStore.AddMessage(job.Desc.Resource.Chunk(), "messenger", 0, err.Error(), SeverityWarn)
				continue
			}
			e.terminalError(job, RequestError, err.Error())
			return
		}

		_ = job.Status.UpdateInfo(ResponseReady, 0, "")
		_ = job.Status.UpdateInfo(ResponseData, 0, "")

		success, shouldCancel, _, ferr := job.Desc.RespHandler.FlushHTTP(fileURL, expectedRows)
		if ferr != nil || !success {
			msg := "merge failed"
			if ferr != nil {
				msg = ferr.Error()
			}
			e.terminalError(job, ResultError, msg)
			if shouldCancel {
				e.Squash(ctx)
			}
			return
		}

		_ = job.Status.UpdateInfo(ResponseDone, 0, "")
		_ = job.Status.UpdateInfo(MergeOK, 0, "")
		_ = job.Status.UpdateInfo(Complete, 0, "")
		job.MarkTerminal(true)
		return
	}
}

func (e *Executive) terminalError(job *Job, state State, desc string) {
	_ = job.Status.UpdateInfo(state, 1, desc)
	e.msgStore.AddMessage(job.Desc.Resource.Chunk(), "executive", 1, desc, SeverityError)
	e.anyError.Store(true)
	e.firstError.CompareAndSwap("", desc)
	job.MarkTerminal(false)
}

// markCompleted is invoked by a job, through Job.MarkTerminal, when it
// reaches a terminal state. It decrements the outstanding count
// and wakes any waiter in join() once it reaches zero.
func (e *Executive) markCompleted(jobID int64, success bool) {
	e.mu.Lock()
	e.outstanding--
	remaining := e.outstanding
	e.mu.Unlock()
	if remaining <= 0 {
		e.done.Broadcast()
	}
}

// Join blocks until every added job has reached a terminal state and
// returns the aggregate query outcome.
func (e *Executive) Join(ctx context.Context) QueryState {
	e.mu.Lock()
	for e.outstanding > 0 {
		e.done.Wait()
	}
	e.mu.Unlock()

	switch {
	case e.cancelled.Load():
		return StateCancel
	case e.anyError.Load():
		return StateError
	default:
		return StateSuccess
	}
}

// Squash requests cooperative cancellation of every outstanding job.
// Idempotent.
func (e *Executive) Squash(ctx context.Context) {
	if !e.cancelled.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	jobs := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	for _, j := range jobs {
		snap := j.Status.Get()
		if snap.State.IsTerminal() {
			continue
		}
		_ = j.Status.UpdateInfo(Cancel, 0, "squash")
		j.Desc.RespHandler.Cancel()
		workerID := j.Desc.Resource.WorkerID()
		if workerID == "" {
			workerID = j.Desc.Resource.Db()
		}
		if err := e.messenger.Cancel(ctx, workerID, e.queryID, j.Desc.JobID); err != nil {
			e.logger.Warn("cancel request failed", zap.Int64("jobID", j.Desc.JobID), zap.Error(err))
		}
		j.MarkTerminal(false)
	}
}

// FirstError returns the first terminal error message recorded for this
// query, if any.
func (e *Executive) FirstError() (string, bool) {
	s := e.firstError.Load()
	return s, s != ""
}
