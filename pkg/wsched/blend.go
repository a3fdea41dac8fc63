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

import "sync"

// BlendScheduler switches between a GroupScheduler and a ScanScheduler
// based on whether an incoming task carries a scan-tables annotation,
// per spec.md §4.3 (original_source/worker/include/lsst/qserv/worker/BlendScheduler.h).
type BlendScheduler struct {
	group *GroupScheduler
	scan  *ScanScheduler

	mu          sync.Mutex
	routing     map[int64]bool           // jobID -> true if routed to scan
	scanSession map[int64]map[int64]bool // queryID -> set of scan-group sessions it has used
}

// NewBlendScheduler builds a BlendScheduler dispatching to group and
// scan.
func NewBlendScheduler(group *GroupScheduler, scan *ScanScheduler) *BlendScheduler {
	return &BlendScheduler{
		group:       group,
		scan:        scan,
		routing:     make(map[int64]bool),
		scanSession: make(map[int64]map[int64]bool),
	}
}

// Schedule routes t to the scan scheduler if it names scan tables, and
// to the group scheduler otherwise.
func (b *BlendScheduler) Schedule(t Task, r Runnable) {
	toScan := len(t.ScanTables) > 0

	b.mu.Lock()
	b.routing[t.JobID] = toScan
	if toScan {
		session := b.scan.SessionForTask(t)
		set, ok := b.scanSession[t.QueryID]
		if !ok {
			set = make(map[int64]bool)
			b.scanSession[t.QueryID] = set
		}
		set[session] = true
	}
	b.mu.Unlock()

	if toScan {
		b.scan.Schedule(t, r)
		return
	}
	b.group.Schedule(t, r)
}

// CancelQuery cancels every not-yet-started task queued for queryID
// across both underlying schedulers.
func (b *BlendScheduler) CancelQuery(queryID int64) {
	b.group.CancelSession(queryID)

	b.mu.Lock()
	sessions := b.scanSession[queryID]
	b.mu.Unlock()
	for session := range sessions {
		b.scan.CancelSessionByID(session)
	}
}

// lookup reports which underlying scheduler last routed jobID, for
// tests and diagnostics; it mirrors BlendScheduler::lookup in the
// original.
func (b *BlendScheduler) lookup(jobID int64) (scan bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	scan, ok = b.routing[jobID]
	return scan, ok
}
