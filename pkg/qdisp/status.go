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
	"sync"
	"time"

	"github.com/pingcap/errors"
)

// State is one point in the JobStatus state graph (spec.md §3).
type State int

const (
	Unknown State = iota
	Provision
	ProvisionNack
	Request
	RequestError
	ResponseReady
	ResponseError
	ResponseData
	ResponseDataNack
	ResponseDataError
	ResponseDataErrorOK
	ResponseDataErrorCorrupt
	ResponseDone
	ResultError
	MergeOK
	MergeError
	Cancel
	Complete
)

var stateNames = map[State]string{
	Unknown:                  "UNKNOWN",
	Provision:                "PROVISION",
	ProvisionNack:            "PROVISION_NACK",
	Request:                  "REQUEST",
	RequestError:             "REQUEST_ERROR",
	ResponseReady:            "RESPONSE_READY",
	ResponseError:            "RESPONSE_ERROR",
	ResponseData:             "RESPONSE_DATA",
	ResponseDataNack:         "RESPONSE_DATA_NACK",
	ResponseDataError:        "RESPONSE_DATA_ERROR",
	ResponseDataErrorOK:      "RESPONSE_DATA_ERROR_OK",
	ResponseDataErrorCorrupt: "RESPONSE_DATA_ERROR_CORRUPT",
	ResponseDone:             "RESPONSE_DONE",
	ResultError:              "RESULT_ERROR",
	MergeOK:                  "MERGE_OK",
	MergeError:               "MERGE_ERROR",
	Cancel:                   "CANCEL",
	Complete:                 "COMPLETE",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsTerminal reports whether s is one of the terminal states: COMPLETE,
// any *_ERROR state (RESPONSE_DATA_ERROR_CORRUPT included), or CANCEL.
func (s State) IsTerminal() bool {
	switch s {
	case Complete, Cancel, RequestError, ResponseError, ResponseDataError,
		ResponseDataErrorCorrupt, ResultError, MergeError:
		return true
	default:
		return false
	}
}

// edges is the permitted state graph. A job may always transition to
// CANCEL from any non-terminal state (cooperative cancellation cuts
// across every other edge), so CANCEL is checked separately in
// allowedTransition rather than being listed on every source state.
var edges = map[State][]State{
	Unknown:                  {Provision, Request},
	Provision:                {ProvisionNack, Request},
	Request:                  {RequestError, ResponseReady, ResponseError},
	ResponseReady:            {ResponseData, ResponseError},
	ResponseData:             {ResponseDataNack, ResponseDataError, ResponseDone},
	ResponseDataError:        {ResponseDataErrorOK, ResponseDataErrorCorrupt},
	ResponseDataErrorOK:      {ResponseData, ResponseDone},
	ResponseDone:             {MergeOK, MergeError, ResultError},
	MergeOK:                  {Complete},
}

func allowedTransition(from, to State) bool {
	if from == to {
		return true
	}
	if to == Cancel {
		return !from.IsTerminal()
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is the mutable (state, timestamp, code, description) triple for
// one JobQuery. A single mutex serialises reads and writes so readers
// always observe a consistent snapshot (spec.md §4.5).
type Status struct {
	mu    sync.RWMutex
	state State
	ts    time.Time
	code  int
	desc  string
	seq   int64
}

// NewStatus builds a Status in the UNKNOWN state.
func NewStatus() *Status {
	return &Status{state: Unknown, ts: time.Now()}
}

// Snapshot is a consistent read of a Status at one instant.
type Snapshot struct {
	State       State
	Timestamp   time.Time
	Code        int
	Description string
	Seq         int64
}

// Get returns a consistent snapshot of the current triple.
func (s *Status) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{State: s.state, Timestamp: s.ts, Code: s.code, Description: s.desc, Seq: s.seq}
}

// ErrInvalidTransition is returned by UpdateInfo when the requested edge
// is not permitted by the state graph, or the current state is already
// terminal.
var ErrInvalidTransition = errors.New("qdisp: invalid job status transition")

// UpdateInfo atomically replaces the state triple, enforcing that the
// transition follows a permitted edge and that no transition occurs once
// a job has reached a terminal state.
func (s *Status) UpdateInfo(state State, code int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return errors.Annotatef(ErrInvalidTransition, "job already terminal in state %s", s.state)
	}
	if !allowedTransition(s.state, state) {
		return errors.Annotatef(ErrInvalidTransition, "%s -> %s", s.state, state)
	}
	s.state = state
	s.ts = time.Now()
	s.code = code
	s.desc = description
	s.seq++
	return nil
}
