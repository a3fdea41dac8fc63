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

package rproc

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeWriter records WriteRows/ScrubJobAttempt calls without touching a
// real database, standing in for ResultWriter.
type fakeWriter struct {
	mu       sync.Mutex
	written  [][]driver.Value
	scrubbed []scrubCall
	writeErr error
}

type scrubCall struct {
	jobID   int64
	attempt int
}

func (w *fakeWriter) WriteRows(ctx context.Context, table string, cols []string, rows [][]driver.Value, jobID int64, attempt int) (int64, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, rows...)
	return int64(len(rows)), nil
}

func (w *fakeWriter) ScrubJobAttempt(ctx context.Context, table string, jobID int64, attempt int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scrubbed = append(w.scrubbed, scrubCall{jobID, attempt})
	return nil
}

func fixedFetch(cols []string, rows [][]driver.Value, err error) RowFetcher {
	return func(ctx context.Context, fileURL string) ([]string, [][]driver.Value, error) {
		return cols, rows, err
	}
}

func newHandlerWithFakeWriter(fetch RowFetcher, onUnrecoverable func()) (*MergingHandler, *fakeWriter) {
	fw := &fakeWriter{}
	h := newMergingHandler(fw, "result_t", 1, 100, 3, fetch, onUnrecoverable)
	return h, fw
}

func TestMergingHandlerFlushHTTPSuccess(t *testing.T) {
	rows := [][]driver.Value{{int64(1)}, {int64(2)}}
	h, fw := newHandlerWithFakeWriter(fixedFetch([]string{"c"}, rows, nil), nil)

	success, shouldCancel, n, err := h.FlushHTTP("http://worker/result", 2)
	require.NoError(t, err)
	require.True(t, success)
	require.False(t, shouldCancel)
	require.Equal(t, int64(2), n)
	require.Len(t, fw.written, 2)
}

func TestMergingHandlerFlushHTTPRowCountMismatch(t *testing.T) {
	rows := [][]driver.Value{{int64(1)}}
	h, _ := newHandlerWithFakeWriter(fixedFetch([]string{"c"}, rows, nil), nil)

	success, shouldCancel, _, err := h.FlushHTTP("http://worker/result", 5)
	require.Error(t, err)
	require.False(t, success)
	require.False(t, shouldCancel)
}

func TestMergingHandlerWriteFailureRequestsCancelAndMarksUnrecoverable(t *testing.T) {
	called := false
	h, fw := newHandlerWithFakeWriter(fixedFetch([]string{"c"}, [][]driver.Value{{int64(1)}}, nil), func() { called = true })
	fw.writeErr = errors.New("boom")

	success, shouldCancel, _, err := h.FlushHTTP("http://worker/result", 1)
	require.Error(t, err)
	require.False(t, success)
	require.True(t, shouldCancel)
	require.True(t, called)
}

func TestMergingHandlerPrepScrubResultsRejectsWrongJob(t *testing.T) {
	h, _ := newHandlerWithFakeWriter(nil, nil)
	err := h.PrepScrubResults(999, 1)
	require.Error(t, err)
}

func TestMergingHandlerPrepScrubResultsDelegates(t *testing.T) {
	h, fw := newHandlerWithFakeWriter(nil, nil)
	require.NoError(t, h.PrepScrubResults(100, 1))
	require.Len(t, fw.scrubbed, 1)
	require.Equal(t, int64(100), fw.scrubbed[0].jobID)
}

func TestMergingHandlerFlushHTTPErrorFirstWins(t *testing.T) {
	h, _ := newHandlerWithFakeWriter(nil, nil)
	h.FlushHTTPError(1, "first", 500)
	h.FlushHTTPError(2, "second", 500)

	got, ok := h.FirstError()
	require.True(t, ok)
	require.Equal(t, "first", got)
}

func TestMergingHandlerCancelRejectsFurtherFlush(t *testing.T) {
	h, _ := newHandlerWithFakeWriter(fixedFetch(nil, nil, nil), nil)
	h.Cancel()

	_, _, _, err := h.FlushHTTP("http://worker/result", 0)
	require.Error(t, err)
}

func TestAvgExprFormatsSumOverCount(t *testing.T) {
	require.Equal(t, "(SUM(sum_x) / SUM(count_x))", AvgExpr("sum_x", "count_x"))
}
