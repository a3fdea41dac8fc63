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

// Package worker implements czarproto.WorkerServer: the gRPC frontend a
// czar dispatches chunk jobs to, translating each onto a
// wcontrol.WorkerProcessor task (spec.md §4 "Worker").
//
// Dispatch is a lightweight admission check — it never runs the task,
// since StreamRows already reports the true row count as it streams
// rather than trusting a separate count up front. StreamRows does the
// actual work: it builds a wbase.Task from the request, submits it to
// the processor, and relays each resulting batch to the client live as
// it is produced, so a worker never buffers a whole chunk's result in
// memory before sending it.
package worker

import (
	"context"
	"sync"

	"github.com/pingcap/errors"

	"github.com/qservdb/qserv/pkg/czarproto"
	"github.com/qservdb/qserv/pkg/stream"
	"github.com/qservdb/qserv/pkg/wbase"
	"github.com/qservdb/qserv/pkg/wcontrol"
)

// Processor is the subset of *wcontrol.WorkerProcessor Server drives;
// narrowed to an interface so tests can substitute a recording fake.
type Processor interface {
	Submit(ctx context.Context, t wbase.Task, send func(context.Context, *stream.StreamBuffer) error)
	Cancel(queryID, jobID int64) bool
	CancelQuery(queryID int64)
}

type taskKey struct {
	queryID int64
	jobID   int64
}

// Server implements czarproto.WorkerServer over a Processor. It owns
// the one OnTaskDone hook a WorkerProcessor supports, fanning each
// completion out to whichever StreamRows call is waiting on it by
// (queryId, jobId).
type Server struct {
	proc Processor

	mu      sync.Mutex
	waiters map[taskKey]chan error
}

// NewServer builds a Server driving proc. If proc is a
// *wcontrol.WorkerProcessor, NewServer installs itself as its
// OnTaskDone hook; callers supplying a different Processor (tests) must
// invoke Server.taskDone themselves.
func NewServer(proc Processor) *Server {
	s := &Server{proc: proc, waiters: make(map[taskKey]chan error)}
	if wp, ok := proc.(*wcontrol.WorkerProcessor); ok {
		wp.OnTaskDone = func(t wbase.Task, err error) {
			s.taskDone(taskKey{queryID: t.QueryID, jobID: t.JobID}, err)
		}
	}
	return s
}

func (s *Server) taskDone(key taskKey, err error) {
	s.mu.Lock()
	ch, ok := s.waiters[key]
	if ok {
		delete(s.waiters, key)
	}
	s.mu.Unlock()
	if ok {
		ch <- err
	}
}

func (s *Server) register(key taskKey) chan error {
	ch := make(chan error, 1)
	s.mu.Lock()
	s.waiters[key] = ch
	s.mu.Unlock()
	return ch
}

// Dispatch admits req: it validates the request carries at least one
// fragment and reports acceptance, without running anything. The real
// work, and its true row count, is reported by StreamRows.
func (s *Server) Dispatch(ctx context.Context, req *czarproto.Request) (*czarproto.Response, error) {
	if len(req.Fragments) == 0 {
		return &czarproto.Response{
			JobID:     req.JobID,
			Attempt:   req.Attempt,
			Status:    czarproto.StatusRejected,
			ErrorCode: 1,
			ErrorMsg:  "worker: request carries no fragments",
		}, nil
	}
	return &czarproto.Response{
		JobID:   req.JobID,
		Attempt: req.Attempt,
		Status:  czarproto.StatusAccepted,
	}, nil
}

// Cancel forwards to the processor, cancelling a single job when JobID
// is set or the whole query when it is zero.
func (s *Server) Cancel(ctx context.Context, req *czarproto.CancelRequest) (*czarproto.CancelResponse, error) {
	if req.JobID != 0 {
		accepted := s.proc.Cancel(req.QueryID, req.JobID)
		return &czarproto.CancelResponse{Accepted: accepted}, nil
	}
	s.proc.CancelQuery(req.QueryID)
	return &czarproto.CancelResponse{Accepted: true}, nil
}

// StreamRows runs req as a wbase.Task and relays each batch it
// produces to stream as a RowBatch, in order, as soon as it is
// produced. A final RowBatch with Final set ends the stream on
// success; a task error is returned as a stream error instead.
func (s *Server) StreamRows(req *czarproto.Request, srv czarproto.Worker_StreamRowsServer) error {
	ctx := srv.Context()
	key := taskKey{queryID: req.QueryID, jobID: req.JobID}
	done := s.register(key)

	task := wbase.Task{
		QueryID:     req.QueryID,
		JobID:       req.JobID,
		ChunkID:     int(req.ChunkID),
		Db:          req.Db,
		Fragments:   req.Fragments,
		ResultTable: req.ResultTable,
		ScanTables:  req.ScanTables,
	}

	s.proc.Submit(ctx, task, func(ctx context.Context, buf *stream.StreamBuffer) error {
		err := srv.Send(&czarproto.RowBatch{JobID: req.JobID, Data: buf.Data()})
		_ = buf.Recycle()
		return err
	})

	select {
	case err := <-done:
		if err != nil {
			return errors.Annotatef(err, "worker: task %d/%d failed", req.QueryID, req.JobID)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return srv.Send(&czarproto.RowBatch{JobID: req.JobID, Final: true})
}
