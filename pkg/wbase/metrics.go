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
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type sqlConnMetrics struct {
	total prometheus.Gauge
	scan  prometheus.Gauge
}

type transmitMetrics struct {
	total prometheus.Gauge
	gated prometheus.Gauge
}

var metricsInstanceSeq struct {
	mu sync.Mutex
	n  int
}

func nextInstanceLabel() string {
	metricsInstanceSeq.mu.Lock()
	metricsInstanceSeq.n++
	id := metricsInstanceSeq.n
	metricsInstanceSeq.mu.Unlock()
	return strconv.Itoa(id)
}

func newSqlConnMetrics() *sqlConnMetrics {
	labels := prometheus.Labels{"mgr": nextInstanceLabel()}
	m := &sqlConnMetrics{
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qserv", Subsystem: "wbase", Name: "sql_conn_total",
			Help: "number of row-store connections currently held across all tasks.", ConstLabels: labels,
		}),
		scan: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qserv", Subsystem: "wbase", Name: "sql_conn_scan",
			Help: "number of row-store connections currently held by shared-scan tasks.", ConstLabels: labels,
		}),
	}
	_ = prometheus.Register(m.total)
	_ = prometheus.Register(m.scan)
	return m
}

func newTransmitMetrics() *transmitMetrics {
	labels := prometheus.Labels{"mgr": nextInstanceLabel()}
	m := &transmitMetrics{
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qserv", Subsystem: "wbase", Name: "transmit_total",
			Help: "number of outbound transmits currently in flight, interactive or not.", ConstLabels: labels,
		}),
		gated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qserv", Subsystem: "wbase", Name: "transmit_gated",
			Help: "number of non-interactive outbound transmits currently in flight.", ConstLabels: labels,
		}),
	}
	_ = prometheus.Register(m.total)
	_ = prometheus.Register(m.gated)
	return m
}
