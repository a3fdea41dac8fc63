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
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"
)

// scanGroupEntry orders scan groups by the sequence in which they were
// first seen, so the earliest-registered group sorts first in the
// table-ordering queue.
type scanGroupEntry struct {
	key string
	seq int64
}

func (e *scanGroupEntry) Less(than btree.Item) bool {
	return e.seq < than.(*scanGroupEntry).seq
}

// ScanScheduler dispatches tasks carrying a scan-tables annotation.
// Tasks are grouped by the union of their scan tables so every query
// touching the same large table shares one fair-share session in the
// underlying queue instead of each query fighting the others for
// threads individually (spec.md §4.3 shared-scan affinity). A btree
// orders the known scan groups by registration sequence, giving
// Ordered a front-of-queue view in O(log n) per insert rather than
// re-sorting a slice on every dispatch
// (original_source/worker/include/lsst/qserv/worker/ScanScheduler.h).
type ScanScheduler struct {
	dwq *DynamicWorkQueue

	mu     sync.Mutex
	groups map[string]int64 // scan-group key -> session id
	order  *btree.BTree
	seq    int64
}

// NewScanScheduler wraps dwq for shared-scan dispatch.
func NewScanScheduler(dwq *DynamicWorkQueue) *ScanScheduler {
	return &ScanScheduler{
		dwq:    dwq,
		groups: make(map[string]int64),
		order:  btree.New(8),
	}
}

// Schedule queues r under t's scan-group session, registering a new
// group if this is the first task seen for that set of scan tables.
func (s *ScanScheduler) Schedule(t Task, r Runnable) {
	s.dwq.Add(s.SessionForTask(t), r)
}

// SessionForTask returns the DynamicWorkQueue session id that t's scan
// tables resolve to, registering a new scan group on first use.
func (s *ScanScheduler) SessionForTask(t Task) int64 {
	return s.sessionFor(scanGroupKey(t.ScanTables))
}

// CancelSessionByID cancels every not-yet-started Runnable queued for
// the given scan-group session id.
func (s *ScanScheduler) CancelSessionByID(session int64) {
	s.dwq.CancelQueued(session)
}

func (s *ScanScheduler) sessionFor(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.groups[key]; ok {
		return session
	}
	s.seq++
	s.order.ReplaceOrInsert(&scanGroupEntry{key: key, seq: s.seq})
	session := scanSessionID(key)
	s.groups[key] = session
	return session
}

// Ordered returns every known scan-group key in table-ordering-queue
// order (earliest-registered first).
func (s *ScanScheduler) Ordered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.order.Len())
	s.order.Ascend(func(item btree.Item) bool {
		out = append(out, item.(*scanGroupEntry).key)
		return true
	})
	return out
}

// scanGroupKey canonicalizes a task's scan tables into a stable,
// order-independent group identity.
func scanGroupKey(tables []string) string {
	if len(tables) == 0 {
		return ""
	}
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// scanSessionID maps a scan-group key onto the DynamicWorkQueue's
// session id space via a stable hash, keeping every scan group disjoint
// from ordinary per-query sessions with overwhelming probability.
func scanSessionID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("scan:"))
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
