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

package wcontrol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qservdb/qserv/pkg/wsched"
)

func TestNewSchedulerRoutesByScanTables(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	sched := NewScheduler(cfg)
	require.NotNil(t, sched)

	var mu sync.Mutex
	ran := make(map[int64]bool)
	mark := func(jobID int64) *markRunnable {
		return &markRunnable{jobID: jobID, mu: &mu, ran: ran}
	}

	sched.Schedule(wsched.Task{QueryID: 1, JobID: 1}, mark(1))
	sched.Schedule(wsched.Task{QueryID: 2, JobID: 2, ScanTables: []string{"Object"}}, mark(2))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran[1] && ran[2]
	}, time.Second, time.Millisecond)
}

type markRunnable struct {
	jobID int64
	mu    *sync.Mutex
	ran   map[int64]bool
}

func (m *markRunnable) Run() {
	m.mu.Lock()
	m.ran[m.jobID] = true
	m.mu.Unlock()
}
func (m *markRunnable) Abort()  {}
func (m *markRunnable) Cancel() {}
