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

// Package czar wires the czar-side components together: it recognises
// the directive statements of spec.md §6 before ever reaching the
// planner, runs ordinary SELECTs through pkg/qana and pkg/qdisp, and
// tracks every in-flight and completed query so SHOW PROCESSLIST and an
// async SELECT * FROM QSERV_RESULT(...) can observe it later.
package czar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/qservdb/qserv/pkg/config"
	"github.com/qservdb/qserv/pkg/css"
	"github.com/qservdb/qserv/pkg/czarproto"
	"github.com/qservdb/qserv/pkg/qana"
	"github.com/qservdb/qserv/pkg/qdisp"
	"github.com/qservdb/qserv/pkg/query"
	"github.com/qservdb/qserv/pkg/resource"
	"github.com/qservdb/qserv/pkg/rproc"
)

// ProcessEntry is one SHOW PROCESSLIST row.
type ProcessEntry struct {
	QueryID int64
	SQL     string
	State   string
}

// Server is the czar's single entry point for SQL text: Submit
// classifies and runs one statement, returning a Result describing its
// outcome (synchronously for an ordinary SELECT, immediately with a
// query id for SUBMIT ASYNC).
type Server struct {
	cfg       *config.Czar
	messenger *czarproto.GrpcMessenger
	writer    *rproc.ResultWriter
	registry  *ChunkRegistry
	empty     *css.EmptyChunks
	assigner  *WorkerAssigner
	pipeline  *qana.Pipeline
	logger    *zap.Logger

	nextQueryID atomic.Int64

	mu      sync.Mutex
	queries map[int64]*queryState
}

// NewServer wires a Server from cfg and the caller-supplied metadata
// store kv, opening the result-table connection along the way.
// Callers own the returned Server's Close.
func NewServer(cfg *config.Czar, kv css.KvInterface) (*Server, error) {
	assigner, err := NewWorkerAssigner(cfg.Workers)
	if err != nil {
		return nil, err
	}

	writer, err := rproc.NewResultWriter(cfg.ResultDSN)
	if err != nil {
		return nil, errors.Annotate(err, "czar: result writer")
	}

	empty, err := css.New(css.Config{Dir: cfg.EmptyChunksDir})
	if err != nil {
		return nil, errors.Annotate(err, "czar: empty-chunk cache")
	}

	return &Server{
		cfg:       cfg,
		messenger: czarproto.NewGrpcMessenger(),
		writer:    writer,
		registry:  NewChunkRegistry(kv),
		empty:     empty,
		assigner:  assigner,
		pipeline:  qana.DefaultPipeline(),
		logger:    log.L(),
		queries:   make(map[int64]*queryState),
	}, nil
}

// Close releases the server's worker connections and result-table
// handle.
func (s *Server) Close() error {
	err1 := s.messenger.Close()
	err2 := s.writer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Result is Submit's outcome: either a synchronous query state
// (ordinary SELECT, directives), or a bare query id to poll later
// (SUBMIT ASYNC).
type Result struct {
	QueryID     int64
	ResultTable string
	State       qdisp.QueryState
	Async       bool
	Processes   []ProcessEntry
	Err         error
}

// Submit classifies sql and runs it: a directive is handled directly;
// anything else goes through planning and chunk dispatch.
func (s *Server) Submit(ctx context.Context, sql string) (Result, error) {
	directive, rest := Classify(sql)
	switch directive {
	case DirectiveAsyncResult:
		return s.awaitAsyncResult(ctx, rest)
	case DirectiveSubmitAsync:
		return s.submitQuery(ctx, rest, true)
	case DirectiveProcessList:
		return Result{Processes: s.processList()}, nil
	case DirectiveFlushEmptyChunks:
		s.empty.Invalidate(strings.TrimSpace(rest))
		return Result{}, nil
	case DirectiveKill, DirectiveCancel:
		return s.cancelQuery(rest)
	case DirectiveCountShortcut:
		if res, ok, err := s.countShortcut(ctx, rest); ok {
			return res, err
		}
		return s.submitQuery(ctx, rest, false)
	default:
		return s.submitQuery(ctx, rest, false)
	}
}

func (s *Server) cancelQuery(rest string) (Result, error) {
	id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimSpace(rest), ";"), 10, 64)
	if err != nil {
		return Result{}, errors.Annotatef(err, "czar: invalid query id %q", rest)
	}

	s.mu.Lock()
	qs, ok := s.queries[id]
	s.mu.Unlock()
	if !ok {
		return Result{}, errors.Errorf("czar: no such query %d", id)
	}
	qs.exec.Squash(context.Background())
	return Result{QueryID: id}, nil
}

func (s *Server) processList() []ProcessEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]ProcessEntry, 0, len(s.queries))
	for _, qs := range s.queries {
		state, _, done := qs.snapshot()
		label := "RUNNING"
		if done {
			switch state {
			case qdisp.StateSuccess:
				label = "DONE"
			case qdisp.StateError:
				label = "ERROR"
			case qdisp.StateCancel:
				label = "CANCELLED"
			}
		}
		entries = append(entries, ProcessEntry{QueryID: qs.id, SQL: qs.sql, State: label})
	}
	return entries
}

func (s *Server) awaitAsyncResult(ctx context.Context, rest string) (Result, error) {
	idStr := strings.TrimRight(strings.TrimSpace(rest), ");")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Result{}, errors.Annotatef(err, "czar: invalid QSERV_RESULT id %q", idStr)
	}

	s.mu.Lock()
	qs, ok := s.queries[id]
	s.mu.Unlock()
	if !ok {
		return Result{}, errors.Errorf("czar: no such query %d", id)
	}

	select {
	case <-qs.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	state, qerr, _ := qs.snapshot()
	return Result{QueryID: id, ResultTable: qs.resultTable, State: state, Err: qerr}, nil
}

func (s *Server) countShortcut(ctx context.Context, sql string) (Result, bool, error) {
	table := countShortcutTable(sql)
	if table == "" || !strings.Contains(table, ".") {
		return Result{}, false, nil
	}
	parts := strings.SplitN(table, ".", 2)
	db := parts[0]

	chunks, err := s.registry.Chunks(ctx, db)
	if err != nil {
		return Result{}, true, errors.Annotate(err, "czar: count shortcut")
	}
	return Result{ResultTable: fmt.Sprintf("%d", len(chunks))}, true, nil
}

func countShortcutTable(sql string) string {
	upper := strings.ToUpper(sql)
	idx := strings.Index(upper, "FROM")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(sql[idx+len("FROM"):])
	if end := strings.IndexAny(rest, " \t\n;"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// submitQuery plans sql, dispatches one job per non-empty chunk of its
// dominant database, and either blocks for the result (async=false) or
// returns the query id immediately, finishing the query in the
// background (async=true).
func (s *Server) submitQuery(ctx context.Context, sql string, async bool) (Result, error) {
	p := parser.New()
	stmtNode, err := p.ParseOneStmt(sql, "", "")
	if err != nil {
		return Result{}, errors.Annotate(err, "czar: parse statement")
	}
	sel, ok := stmtNode.(*ast.SelectStmt)
	if !ok {
		return Result{}, errors.New("czar: only SELECT statements are dispatchable")
	}

	plan, err := s.pipeline.Run(sql, sel)
	if err != nil {
		return Result{}, errors.Annotate(err, "czar: planning")
	}

	queryID := s.nextQueryID.Add(1)
	resultTable := fmt.Sprintf("result_%d", queryID)

	exec := qdisp.NewExecutive(queryID, s.messenger, qdisp.Config{
		MaxAttempts:       s.cfg.MaxAttempts,
		UberJobsPerWorker: s.cfg.UberJobsPerWorker,
	})

	qs := newQueryState(queryID, sql, resultTable, exec)
	s.mu.Lock()
	s.queries[queryID] = qs
	s.mu.Unlock()

	chunks, err := s.registry.Chunks(ctx, plan.DominantDb)
	if err != nil {
		return Result{}, errors.Annotate(err, "czar: chunk registry")
	}

	for _, chunk := range chunks {
		if s.empty.IsEmpty(plan.DominantDb, chunk) {
			exec.AddEmptyChunkSuccess()
			continue
		}
		if err := s.dispatchChunk(ctx, exec, plan, queryID, resultTable, chunk); err != nil {
			return Result{}, errors.Annotatef(err, "czar: dispatch chunk %d", chunk)
		}
	}

	run := func() {
		state := exec.Join(context.Background())
		qs.finish(state)
	}

	if async {
		go run()
		return Result{QueryID: queryID, ResultTable: resultTable, Async: true}, nil
	}

	run()
	state, qerr, _ := qs.snapshot()
	return Result{QueryID: queryID, ResultTable: resultTable, State: state, Err: qerr}, nil
}

func (s *Server) dispatchChunk(ctx context.Context, exec *qdisp.Executive, plan *qana.Plan, queryID int64, resultTable string, chunk int) error {
	spec := query.ChunkSpec{Chunk: chunk}
	chunkSQL, err := plan.Mapping.Apply(spec, plan.Parallel)
	if err != nil {
		return err
	}

	workerID := s.assigner.Next()
	jobID := int64(chunk)
	ru := resource.NewDbChunk(plan.DominantDb, chunk).WithWorkerID(workerID)

	handler := rproc.NewMergingHandler(s.writer, resultTable, queryID, jobID, chunk, s.messenger.Fetch, func() {
		exec.Squash(context.Background())
	})

	desc := qdisp.Description{
		QueryID:         queryID,
		JobID:           jobID,
		Resource:        ru,
		ChunkQuerySpec:  chunkSQL,
		ChunkResultName: resultTable,
		RespHandler:     handler,
		ScanTables:      plan.ScanTables,
	}

	_, err = exec.Add(ctx, desc)
	return err
}
