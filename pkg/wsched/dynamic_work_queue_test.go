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

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingRunnable records how many times it ran and blocks on a
// barrier so tests can control interleaving.
type countingRunnable struct {
	onRun     func()
	cancelled atomic.Bool
	aborted   atomic.Bool
}

func (c *countingRunnable) Run() {
	if c.onRun != nil {
		c.onRun()
	}
}
func (c *countingRunnable) Abort()  { c.aborted.Store(true) }
func (c *countingRunnable) Cancel() { c.cancelled.Store(true) }

func TestDynamicWorkQueueRunsAllQueuedWork(t *testing.T) {
	q := NewDynamicWorkQueue(1, 1, 4, 1, 20*time.Millisecond)
	defer q.Close()

	var wg sync.WaitGroup
	var ran atomic.Int32
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		r := &countingRunnable{onRun: func() {
			ran.Add(1)
			wg.Done()
		}}
		q.Add(int64(i%3), r)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for queued work to run")
	}
	require.EqualValues(t, n, ran.Load())
}

func TestDynamicWorkQueueFairShareAcrossSessions(t *testing.T) {
	// Two sessions each submit 8 tasks that block until released, with
	// only 4 threads: both sessions should make progress roughly evenly
	// rather than one session starving the other.
	q := NewDynamicWorkQueue(1, 1, 4, 4, 50*time.Millisecond)
	defer q.Close()

	var mu sync.Mutex
	started := map[int64]int{}
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(16)
	for session := int64(0); session < 2; session++ {
		for i := 0; i < 8; i++ {
			s := session
			r := &countingRunnable{onRun: func() {
				mu.Lock()
				started[s]++
				mu.Unlock()
				<-release
				wg.Done()
			}}
			q.Add(s, r)
		}
	}

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	a, b := started[0], started[1]
	mu.Unlock()
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, 2, "fair-share dispatch should keep both sessions within two started tasks of each other, got %d vs %d", a, b)

	close(release)
	wg.Wait()
}

func TestDynamicWorkQueueCancelQueuedCancelsOnlyUnstarted(t *testing.T) {
	q := NewDynamicWorkQueue(1, 1, 1, 1, 50*time.Millisecond)
	defer q.Close()

	block := make(chan struct{})
	first := &countingRunnable{onRun: func() { <-block }}
	q.Add(7, first)

	time.Sleep(20 * time.Millisecond) // let first start and occupy the only thread

	second := &countingRunnable{}
	third := &countingRunnable{}
	q.Add(7, second)
	q.Add(7, third)

	q.CancelQueued(7)
	close(block)

	time.Sleep(20 * time.Millisecond)
	require.False(t, first.cancelled.Load())
	require.True(t, second.cancelled.Load())
	require.True(t, third.cancelled.Load())
}

func TestDynamicWorkQueueScavengesIdleThreadsAboveMinimum(t *testing.T) {
	q := NewDynamicWorkQueue(1, 1, 8, 1, 10*time.Millisecond)
	defer q.Close()

	var wg sync.WaitGroup
	wg.Add(8)
	for i := 0; i < 8; i++ {
		q.Add(int64(i), &countingRunnable{onRun: wg.Done})
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.numThreads <= 1
	}, time.Second, 10*time.Millisecond, "idle threads above minThreads should scavenge down")
}
