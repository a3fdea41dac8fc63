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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBlend(t *testing.T) (*BlendScheduler, *DynamicWorkQueue, *DynamicWorkQueue) {
	t.Helper()
	groupQ := NewDynamicWorkQueue(1, 1, 4, 1, 50*time.Millisecond)
	scanQ := NewDynamicWorkQueue(1, 1, 4, 1, 50*time.Millisecond)
	t.Cleanup(func() {
		groupQ.Close()
		scanQ.Close()
	})
	return NewBlendScheduler(NewGroupScheduler(groupQ), NewScanScheduler(scanQ)), groupQ, scanQ
}

func TestBlendSchedulerRoutesByScanTables(t *testing.T) {
	b, _, _ := newTestBlend(t)

	plain := Task{QueryID: 1, JobID: 1, ChunkID: 4}
	scanned := Task{QueryID: 2, JobID: 2, ChunkID: 4, ScanTables: []string{"Object"}}

	var wg sync.WaitGroup
	wg.Add(2)
	b.Schedule(plain, &countingRunnable{onRun: wg.Done})
	b.Schedule(scanned, &countingRunnable{onRun: wg.Done})
	wg.Wait()

	scan, ok := b.lookup(1)
	require.True(t, ok)
	require.False(t, scan)

	scan, ok = b.lookup(2)
	require.True(t, ok)
	require.True(t, scan)
}

func TestBlendSchedulerGroupsSameScanTablesTogether(t *testing.T) {
	b, _, scanQ := newTestBlend(t)

	a := Task{QueryID: 1, JobID: 1, ScanTables: []string{"Object", "Source"}}
	c := Task{QueryID: 2, JobID: 2, ScanTables: []string{"Source", "Object"}} // same set, different order

	var wg sync.WaitGroup
	wg.Add(2)
	b.Schedule(a, &countingRunnable{onRun: wg.Done})
	b.Schedule(c, &countingRunnable{onRun: wg.Done})
	wg.Wait()

	scan := b.scan
	require.Equal(t, scan.SessionForTask(a), scan.SessionForTask(c))
	_ = scanQ
}

func TestBlendSchedulerCancelQueryCancelsBothBranches(t *testing.T) {
	b, _, _ := newTestBlend(t)

	block := make(chan struct{})
	occupyScan := Task{QueryID: 1, JobID: 1, ScanTables: []string{"Object"}}
	occupyGroup := Task{QueryID: 1, JobID: 4}
	b.Schedule(occupyScan, &countingRunnable{onRun: func() { <-block }})
	b.Schedule(occupyGroup, &countingRunnable{onRun: func() { <-block }})
	time.Sleep(20 * time.Millisecond)

	queuedScan := &countingRunnable{}
	queuedGroup := &countingRunnable{}
	b.Schedule(Task{QueryID: 1, JobID: 2, ScanTables: []string{"Object"}}, queuedScan)
	b.Schedule(Task{QueryID: 1, JobID: 3}, queuedGroup)

	b.CancelQuery(1)
	close(block)

	time.Sleep(20 * time.Millisecond)
	require.True(t, queuedScan.cancelled.Load())
	require.True(t, queuedGroup.cancelled.Load())
}
