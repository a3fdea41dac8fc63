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

// Package rproc is the czar-side ResponseHandler: it pulls a worker's
// result payload, writes it into the query's result table, and tracks
// the first unrecoverable error for a job, per spec.md §4.6
// "ResponseHandler and merging". It implements the narrow interface
// pkg/qdisp.ResponseHandler declares, deliberately without importing
// pkg/qdisp, so the dependency runs one way only.
package rproc

import (
	"context"
	"database/sql/driver"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// RowFetcher pulls one job's result payload named by fileURL, returning
// its column names and rows. Production wiring reads an HTTP-delivered
// dump file or an in-memory buffer handed off by the transport; tests
// substitute an in-memory stand-in.
type RowFetcher func(ctx context.Context, fileURL string) (cols []string, rows [][]driver.Value, err error)

// resultWriter is the subset of *ResultWriter a MergingHandler drives,
// narrowed to an interface so tests can substitute a recording fake
// instead of a real database connection.
type resultWriter interface {
	WriteRows(ctx context.Context, table string, cols []string, rows [][]driver.Value, jobID int64, attempt int) (int64, error)
	ScrubJobAttempt(ctx context.Context, table string, jobID int64, attempt int) error
}

// MergingHandler is one job's ResponseHandler: constructed per
// (queryID, jobID) and discarded once the job reaches a terminal
// state. Grounded on original_source/src/qdisp/ResponseHandler.h's
// contract and original_source/include/lsst/qserv/master/TableMerger.h's
// merge-then-track-errors shape, generalized from TableMerger's single
// mutex-guarded C++ object into a handler per job rather than per query.
type MergingHandler struct {
	writer      resultWriter
	resultTable string
	queryID     int64
	jobID       int64
	chunkID     int
	fetch       RowFetcher

	// onUnrecoverable, if set, is invoked at most once when this job hits
	// an error that should squash the whole query — the Go rendition of
	// the weak back-reference to Executive/UberJob the original's
	// ResponseHandler::getUberJob() exposes, without importing qdisp.
	onUnrecoverable func()

	logger *zap.Logger

	mu         sync.Mutex
	attempt    int
	firstError string
	terminal   bool

	cancelled atomic.Bool
}

// NewMergingHandler builds a handler writing job jobID's (of query
// queryID, chunk chunkID) results into resultTable via writer, pulling
// payloads through fetch.
func NewMergingHandler(writer *ResultWriter, resultTable string, queryID, jobID int64, chunkID int, fetch RowFetcher, onUnrecoverable func()) *MergingHandler {
	return newMergingHandler(writer, resultTable, queryID, jobID, chunkID, fetch, onUnrecoverable)
}

func newMergingHandler(writer resultWriter, resultTable string, queryID, jobID int64, chunkID int, fetch RowFetcher, onUnrecoverable func()) *MergingHandler {
	return &MergingHandler{
		writer:          writer,
		resultTable:     resultTable,
		queryID:         queryID,
		jobID:           jobID,
		chunkID:         chunkID,
		fetch:           fetch,
		onUnrecoverable: onUnrecoverable,
		logger:          log.L().With(zap.Int64("queryID", queryID), zap.Int64("jobID", jobID)),
	}
}

// FlushHTTP pulls fileURL's rows, validates the row count, and merges
// them into the result table. Each call is one attempt; the attempt
// number is tracked internally (the interface carries none) so a later
// PrepScrubResults(jobID, attempt) can undo exactly this write.
func (h *MergingHandler) FlushHTTP(fileURL string, expectedRows int64) (success bool, shouldCancel bool, resultRows int64, err error) {
	if h.cancelled.Load() {
		return false, false, 0, errors.New("rproc: handler cancelled")
	}

	h.mu.Lock()
	h.attempt++
	attempt := h.attempt
	h.mu.Unlock()

	cols, rows, ferr := h.fetch(context.Background(), fileURL)
	if ferr != nil {
		return false, false, 0, errors.Annotate(ferr, "rproc: fetch result payload")
	}
	if int64(len(rows)) != expectedRows {
		return false, false, 0, errors.Errorf("rproc: row count mismatch for job %d: got %d want %d", h.jobID, len(rows), expectedRows)
	}

	n, werr := h.writer.WriteRows(context.Background(), h.resultTable, cols, rows, h.jobID, attempt)
	if werr != nil {
		h.markUnrecoverable(werr.Error())
		return false, true, 0, errors.Annotate(werr, "rproc: merge write")
	}
	return true, false, n, nil
}

// FlushHTTPError records an error reported for this job out of band
// (not as a FlushHTTP return value). The first call wins; later calls
// are demoted to informational log lines, matching "first error wins"
// from spec.md §4.6.
func (h *MergingHandler) FlushHTTPError(code int, msg string, status int) {
	h.mu.Lock()
	first := h.firstError == ""
	if first {
		h.firstError = msg
	}
	h.mu.Unlock()

	if first {
		h.logger.Warn("worker reported error", zap.Int("code", code), zap.String("msg", msg), zap.Int("status", status))
		return
	}
	h.logger.Info("demoted duplicate worker error", zap.String("msg", msg))
}

// PrepScrubResults deletes any rows this handler previously wrote for
// (jobID, attempt), preparing the result table for a fresh attempt.
func (h *MergingHandler) PrepScrubResults(jobID int64, attempt int) error {
	if jobID != h.jobID {
		return errors.Errorf("rproc: scrub for job %d requested on handler for job %d", jobID, h.jobID)
	}
	return h.writer.ScrubJobAttempt(context.Background(), h.resultTable, jobID, attempt)
}

// ErrorFlush signals an unrecoverable condition; no further calls into
// this handler are expected afterward.
func (h *MergingHandler) ErrorFlush(msg string, code int) {
	h.markUnrecoverable(msg)
}

// Cancel stops this handler from accepting further merges; in-flight
// calls are allowed to finish.
func (h *MergingHandler) Cancel() {
	h.cancelled.Store(true)
}

func (h *MergingHandler) markUnrecoverable(msg string) {
	h.mu.Lock()
	already := h.terminal
	h.terminal = true
	if h.firstError == "" {
		h.firstError = msg
	}
	h.mu.Unlock()

	if !already && h.onUnrecoverable != nil {
		h.onUnrecoverable()
	}
}

// FirstError returns the first error recorded against this job, if any.
func (h *MergingHandler) FirstError() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstError, h.firstError != ""
}
