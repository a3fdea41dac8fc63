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

	"github.com/pingcap/errors"
)

// WorkerAssigner hands out worker gRPC addresses round-robin, absent a
// richer chunk-to-worker map from the metadata store (spec.md's
// Registry/metadata component only promises chunk *existence*, not a
// worker affinity — config.Czar.Workers is the one list every chunk
// round-robins over).
type WorkerAssigner struct {
	mu      sync.Mutex
	workers []string
	next    int
}

// NewWorkerAssigner builds an assigner cycling through workers in
// order. workers must be non-empty.
func NewWorkerAssigner(workers []string) (*WorkerAssigner, error) {
	if len(workers) == 0 {
		return nil, errors.New("czar: no workers configured")
	}
	cp := append([]string(nil), workers...)
	return &WorkerAssigner{workers: cp}, nil
}

// Next returns the next worker address in round-robin order.
func (a *WorkerAssigner) Next() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	w := a.workers[a.next%len(a.workers)]
	a.next++
	return w
}
