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

package wbase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSqlConnMgrRejectsBadConfig(t *testing.T) {
	_, err := NewSqlConnMgr(1, 1)
	require.Error(t, err)
	_, err = NewSqlConnMgr(10, 20)
	require.Error(t, err)
}

func TestSqlConnMgrNeverExceedsCaps(t *testing.T) {
	mgr, err := NewSqlConnMgr(6, 4)
	require.NoError(t, err)

	const scanTasks = 10
	const plainTasks = 10
	var maxTotal, maxScan atomic.Int32
	var wg sync.WaitGroup

	observe := func() {
		total := int32(mgr.GetTotalCount())
		scan := int32(mgr.GetSqlConnCount())
		for {
			cur := maxTotal.Load()
			if total <= cur || maxTotal.CompareAndSwap(cur, total) {
				break
			}
		}
		for {
			cur := maxScan.Load()
			if scan <= cur || maxScan.CompareAndSwap(cur, scan) {
				break
			}
		}
	}

	run := func(scanQuery bool) {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		lock, err := mgr.Take(ctx, scanQuery)
		require.NoError(t, err)
		observe()
		time.Sleep(5 * time.Millisecond)
		lock.Release()
	}

	wg.Add(scanTasks + plainTasks)
	for i := 0; i < scanTasks; i++ {
		go run(true)
	}
	for i := 0; i < plainTasks; i++ {
		go run(false)
	}
	wg.Wait()

	require.LessOrEqual(t, int(maxTotal.Load()), 6)
	require.LessOrEqual(t, int(maxScan.Load()), 4)
}

func TestSqlConnMgrReservesGapForInteractive(t *testing.T) {
	// maxTotal=5, maxScan=3: even if 3 scans hold their cap, 2 more
	// non-scan connections must still be admittable.
	mgr, err := NewSqlConnMgr(5, 3)
	require.NoError(t, err)

	ctx := context.Background()
	l1, err := mgr.Take(ctx, true)
	require.NoError(t, err)
	l2, err := mgr.Take(ctx, true)
	require.NoError(t, err)
	l3, err := mgr.Take(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 3, mgr.GetSqlConnCount())

	// a 4th scan should block.
	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = mgr.Take(blockedCtx, true)
	require.Error(t, err)

	// but non-scan tasks can still use the gap.
	l4, err := mgr.Take(ctx, false)
	require.NoError(t, err)
	l5, err := mgr.Take(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 5, mgr.GetTotalCount())

	l1.Release()
	l2.Release()
	l3.Release()
	l4.Release()
	l5.Release()
}
