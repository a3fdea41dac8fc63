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

package czar

import (
	"sync"

	"github.com/qservdb/qserv/pkg/qdisp"
)

// queryState is the czar's bookkeeping record for one user query,
// spanning from Add through Join, kept around afterward so an async
// `SELECT * FROM QSERV_RESULT(...)` or `SHOW PROCESSLIST` can still see
// it (spec.md §6 External Interfaces).
type queryState struct {
	id          int64
	sql         string
	resultTable string
	exec        *qdisp.Executive

	done chan struct{}

	mu      sync.Mutex
	state   qdisp.QueryState
	err     error
	started bool
}

func newQueryState(id int64, sql string, resultTable string, exec *qdisp.Executive) *queryState {
	return &queryState{
		id:          id,
		sql:         sql,
		resultTable: resultTable,
		exec:        exec,
		done:        make(chan struct{}),
	}
}

// finish records the joined outcome and unblocks any QSERV_RESULT
// waiter. Safe to call exactly once; a second call is a no-op.
func (q *queryState) finish(state qdisp.QueryState) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.state = state
	if state == qdisp.StateError {
		if msg, ok := q.exec.FirstError(); ok {
			q.err = errString(msg)
		}
	}
	q.mu.Unlock()
	close(q.done)
}

// snapshot returns the current outcome; ok is false while the query is
// still running.
func (q *queryState) snapshot() (state qdisp.QueryState, err error, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state, q.err, q.started
}

type errString string

func (e errString) Error() string { return string(e) }
