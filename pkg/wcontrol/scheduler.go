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

// Package wcontrol is the worker processor: it receives Tasks, hands
// them to a BlendScheduler-backed bounded thread pool, and tracks
// in-flight tasks so a (queryId, jobId) cancel message can reach a
// running task cooperatively, per spec.md §4.3 "Worker processor".
package wcontrol

import (
	"time"

	"github.com/qservdb/qserv/pkg/wsched"
)

// SchedulerConfig sizes the two DynamicWorkQueues a BlendScheduler
// dispatches across: one for per-chunk-locality tasks (group), one for
// shared-scan tasks (scan). Each pool is "sized dynamically between
// minThreads and maxThreads" independently, since a scan-heavy
// workload and an interactive-chunk workload have different steady-
// state concurrency needs.
type SchedulerConfig struct {
	GroupMinThreads      int
	GroupMaxThreads      int
	GroupInitThreads     int
	ScanMinThreads       int
	ScanMaxThreads       int
	ScanInitThreads      int
	MinThreadsPerSession int
	IdleTimeout          time.Duration
}

// DefaultSchedulerConfig returns the sizing the original's
// WorkerConfig.cnf defaults approximate: a handful of always-on
// threads, scaling up to a few dozen under load.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		GroupMinThreads:      1,
		GroupMaxThreads:      16,
		GroupInitThreads:     1,
		ScanMinThreads:       1,
		ScanMaxThreads:       8,
		ScanInitThreads:      1,
		MinThreadsPerSession: 1,
		IdleTimeout:          30 * time.Second,
	}
}

// NewScheduler builds the BlendScheduler a WorkerProcessor dispatches
// through, wiring up its two underlying DynamicWorkQueues per cfg.
func NewScheduler(cfg SchedulerConfig) *wsched.BlendScheduler {
	groupQueue := wsched.NewDynamicWorkQueue(
		cfg.GroupMinThreads, cfg.MinThreadsPerSession, cfg.GroupMaxThreads,
		cfg.GroupInitThreads, cfg.IdleTimeout)
	scanQueue := wsched.NewDynamicWorkQueue(
		cfg.ScanMinThreads, cfg.MinThreadsPerSession, cfg.ScanMaxThreads,
		cfg.ScanInitThreads, cfg.IdleTimeout)

	group := wsched.NewGroupScheduler(groupQueue)
	scan := wsched.NewScanScheduler(scanQueue)
	return wsched.NewBlendScheduler(group, scan)
}
