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
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// queueMetrics are the queue-depth and thread-count gauges named in
// spec.md §4.7's monitoring surface. Each DynamicWorkQueue gets its own
// instance, distinguished by a monotonically assigned queue label so
// multiple queues (worker processes embed one per BlendScheduler branch)
// don't collide on registration.
type queueMetrics struct {
	queued  prometheus.Gauge
	threads prometheus.Gauge
}

var queueInstanceSeq struct {
	mu  sync.Mutex
	n   int
}

func newQueueMetrics() *queueMetrics {
	queueInstanceSeq.mu.Lock()
	queueInstanceSeq.n++
	id := queueInstanceSeq.n
	queueInstanceSeq.mu.Unlock()

	labels := prometheus.Labels{"queue": strconv.Itoa(id)}
	m := &queueMetrics{
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "qserv",
			Subsystem:   "wsched",
			Name:        "queued_tasks",
			Help:        "number of tasks waiting for a worker goroutine in this DynamicWorkQueue.",
			ConstLabels: labels,
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "qserv",
			Subsystem:   "wsched",
			Name:        "worker_threads",
			Help:        "number of live worker goroutines in this DynamicWorkQueue.",
			ConstLabels: labels,
		}),
	}
	_ = prometheus.Register(m.queued)
	_ = prometheus.Register(m.threads)
	return m
}
