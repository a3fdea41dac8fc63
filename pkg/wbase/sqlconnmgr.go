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

// Package wbase holds the worker-side admission gates and row-store
// connection pool a Task suspends on: SqlConnMgr caps concurrent MySQL
// connections, TransmitMgr caps concurrent outbound result transmits.
package wbase

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// SqlConnMgr limits the number of simultaneous row-store connections a
// worker's tasks may hold open, per original_source/core/modules/wcontrol/SqlConnMgr.h.
// Non-scan (interactive) tasks are always guaranteed access to the gap
// (maxSqlConnections - maxScanSqlConnections), even once shared-scan
// tasks have saturated their own sub-cap.
type SqlConnMgr struct {
	maxTotal int
	maxScan  int

	mu    sync.Mutex
	total int
	scan  int
	wake  chan struct{}

	metrics *sqlConnMetrics
}

// NewSqlConnMgr builds a SqlConnMgr. Both caps must exceed 1, and
// maxScanSqlConnections must not exceed maxSqlConnections.
func NewSqlConnMgr(maxSqlConnections, maxScanSqlConnections int) (*SqlConnMgr, error) {
	if maxSqlConnections <= 1 {
		return nil, errors.New("wbase: maxSqlConnections must be > 1")
	}
	if maxScanSqlConnections <= 1 {
		return nil, errors.New("wbase: maxScanSqlConnections must be > 1")
	}
	if maxScanSqlConnections > maxSqlConnections {
		return nil, errors.New("wbase: maxScanSqlConnections must not exceed maxSqlConnections")
	}
	return &SqlConnMgr{
		maxTotal: maxSqlConnections,
		maxScan:  maxScanSqlConnections,
		wake:     make(chan struct{}),
		metrics:  newSqlConnMetrics(),
	}, nil
}

// SqlConnLock is the RAII-style handle Take returns; Release must be
// called exactly once, typically via defer.
type SqlConnLock struct {
	mgr      *SqlConnMgr
	scan     bool
	released atomic.Bool
}

// Release returns the held connection slot to the pool. Safe to call
// more than once; only the first call has effect.
func (l *SqlConnLock) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.mgr.release(l.scan)
	}
}

// Take blocks until a connection slot is available for a task of the
// given scan-ness, or ctx is done.
func (m *SqlConnMgr) Take(ctx context.Context, scanQuery bool) (*SqlConnLock, error) {
	for {
		m.mu.Lock()
		if m.admitLocked(scanQuery) {
			m.total++
			if scanQuery {
				m.scan++
			}
			m.updateMetricsLocked()
			m.mu.Unlock()
			return &SqlConnLock{mgr: m, scan: scanQuery}, nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *SqlConnMgr) admitLocked(scanQuery bool) bool {
	if scanQuery {
		return m.scan < m.maxScan && m.total < m.maxTotal
	}
	return m.total < m.maxTotal
}

func (m *SqlConnMgr) release(scanQuery bool) {
	m.mu.Lock()
	m.total--
	if scanQuery {
		m.scan--
	}
	m.updateMetricsLocked()
	close(m.wake)
	m.wake = make(chan struct{})
	m.mu.Unlock()
}

func (m *SqlConnMgr) updateMetricsLocked() {
	m.metrics.total.Set(float64(m.total))
	m.metrics.scan.Set(float64(m.scan))
}

// GetTotalCount reports the current number of held connections of any
// kind.
func (m *SqlConnMgr) GetTotalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// GetSqlConnCount reports the current number of held scan connections.
func (m *SqlConnMgr) GetSqlConnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scan
}
