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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qservdb/qserv/pkg/resource"
)

// fakeMessenger lets tests script per-(jobID, attempt) outcomes.
type fakeMessenger struct {
	mu        sync.Mutex
	behaviors map[int64]func(attempt int32) (string, int64, error)
	cancelled map[int64]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		behaviors: make(map[int64]func(int32) (string, int64, error)),
		cancelled: make(map[int64]bool),
	}
}

func (m *fakeMessenger) Send(ctx context.Context, workerID string, desc Description, attempt int32) (string, int64, error) {
	m.mu.Lock()
	b := m.behaviors[desc.JobID]
	m.mu.Unlock()
	if b == nil {
		return "file://ok", 1, nil
	}
	return b(attempt)
}

func (m *fakeMessenger) Cancel(ctx context.Context, workerID string, queryID, jobID int64) error {
	m.mu.Lock()
	m.cancelled[jobID] = true
	m.mu.Unlock()
	return nil
}

// fakeResponseHandler records scrub calls and returns scripted flush
// outcomes.
type fakeResponseHandler struct {
	mu          sync.Mutex
	scrubCalls  []int
	flushResult func() (bool, bool, int64, error)
	cancelled   bool
}

func (h *fakeResponseHandler) FlushHTTP(fileURL string, expectedRows int64) (bool, bool, int64, error) {
	if h.flushResult != nil {
		return h.flushResult()
	}
	return true, false, expectedRows, nil
}
func (h *fakeResponseHandler) FlushHTTPError(code int, msg string, status int) {}
func (h *fakeResponseHandler) PrepScrubResults(jobID int64, attempt int) error {
	h.mu.Lock()
	h.scrubCalls = append(h.scrubCalls, attempt)
	h.mu.Unlock()
	return nil
}
func (h *fakeResponseHandler) ErrorFlush(msg string, code int) {}
func (h *fakeResponseHandler) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

func TestExecutiveSuccessPath(t *testing.T) {
	msgr := newFakeMessenger()
	exec := NewExecutive(1, msgr, Config{})

	rh := &fakeResponseHandler{}
	_, err := exec.Add(context.Background(), Description{
		QueryID: 1, JobID: 10, Resource: resource.NewDbChunk("sky", 4), RespHandler: rh,
	})
	require.NoError(t, err)

	state := exec.Join(context.Background())
	require.Equal(t, StateSuccess, state)
}

func TestExecutiveRetryOnTransportError(t *testing.T) {
	msgr := newFakeMessenger()
	exec := NewExecutive(1, msgr, Config{MaxAttempts: 3})

	rh := &fakeResponseHandler{}
	jobID := int64(10)
	msgr.behaviors[jobID] = func(attempt int32) (string, int64, error) {
		if attempt < 3 {
			return "", 0, &TransientError{Err: fmt.Errorf("transport blip")}
		}
		return "file://attempt3", 42, nil
	}

	_, err := exec.Add(context.Background(), Description{
		QueryID: 1, JobID: jobID, Resource: resource.NewDbChunk("sky", 10), RespHandler: rh,
	})
	require.NoError(t, err)

	state := exec.Join(context.Background())
	require.Equal(t, StateSuccess, state)

	// prepScrubResults must have been called before attempt 2 and before
	// attempt 3, for attempts 1 and 2 respectively.
	rh.mu.Lock()
	defer rh.mu.Unlock()
	require.Equal(t, []int{1, 2}, rh.scrubCalls)
}

func TestExecutiveEmptyChunkSkip(t *testing.T) {
	// Planner dominant DB "sky"; empty-chunk file contains {3,5,7}; query
	// touches {3,4,5}. Only chunk 4 should ever become a Job.
	msgr := newFakeMessenger()
	exec := NewExecutive(1, msgr, Config{})

	touched := []int{3, 4, 5}
	empty := map[int]bool{3: true, 5: true, 7: true}

	var jobsCreated int
	for _, c := range touched {
		if empty[c] {
			exec.AddEmptyChunkSuccess()
			continue
		}
		jobsCreated++
		_, err := exec.Add(context.Background(), Description{
			QueryID: 1, JobID: int64(c), Resource: resource.NewDbChunk("sky", c),
			RespHandler: &fakeResponseHandler{},
		})
		require.NoError(t, err)
	}

	require.Equal(t, 1, jobsCreated)
	require.Equal(t, StateSuccess, exec.Join(context.Background()))
}

func TestExecutiveSquashCancelsOutstandingJobs(t *testing.T) {
	msgr := newFakeMessenger()
	exec := NewExecutive(1, msgr, Config{})

	// Block the messenger forever for every job so squash is the only
	// way any of them terminate.
	block := make(chan struct{})
	msgr.behaviors[1] = func(attempt int32) (string, int64, error) {
		<-block
		return "", 0, &TransientError{Err: fmt.Errorf("never")}
	}

	rh := &fakeResponseHandler{}
	_, err := exec.Add(context.Background(), Description{
		QueryID: 1, JobID: 1, Resource: resource.NewDbChunk("sky", 1), RespHandler: rh,
	})
	require.NoError(t, err)

	exec.Squash(context.Background())
	state := exec.Join(context.Background())
	require.Equal(t, StateCancel, state)

	rh.mu.Lock()
	require.True(t, rh.cancelled)
	rh.mu.Unlock()

	close(block)
}

func TestExecutiveAddFailsAfterSquash(t *testing.T) {
	msgr := newFakeMessenger()
	exec := NewExecutive(1, msgr, Config{})
	exec.Squash(context.Background())

	_, err := exec.Add(context.Background(), Description{
		QueryID: 1, JobID: 99, Resource: resource.NewDbChunk("sky", 1), RespHandler: &fakeResponseHandler{},
	})
	require.ErrorIs(t, err, ErrCancelled)
}
