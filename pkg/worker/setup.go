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

package worker

import (
	"time"

	"github.com/pingcap/errors"
	"google.golang.org/grpc"

	"github.com/qservdb/qserv/pkg/config"
	"github.com/qservdb/qserv/pkg/czarproto"
	"github.com/qservdb/qserv/pkg/wbase"
	"github.com/qservdb/qserv/pkg/wcontrol"
)

const (
	defaultPoolCapacity    = 4
	defaultPoolMaxCapacity = 16
	defaultIdleTimeout     = 30 * time.Second
	defaultMaxSqlConns     = 8
	defaultMaxScanSqlConns = 4
	defaultMaxTransmits    = 16
)

// Built bundles the Server and the resources Bootstrap opened on its
// behalf, so cmd/qserv-worker can register Server with its own
// *grpc.Server and close everything down together on exit.
type Built struct {
	Server *Server
	Conns  *wbase.ConnPool
}

// Bootstrap wires a Server from cfg: a row-store ConnPool, the
// SqlConnMgr/TransmitMgr admission gates, a BlendScheduler sized per
// cfg, and the WorkerProcessor tying them together, using
// czarproto.EncodeRows as the row batch wire codec.
func Bootstrap(cfg *config.Worker) (*Built, error) {
	poolCap := cfg.PoolCapacity
	if poolCap <= 0 {
		poolCap = defaultPoolCapacity
	}
	poolMaxCap := cfg.PoolMaxCapacity
	if poolMaxCap <= 0 {
		poolMaxCap = defaultPoolMaxCapacity
	}
	idleTimeout := defaultIdleTimeout
	if cfg.PoolIdleTimeoutSeconds > 0 {
		idleTimeout = time.Duration(cfg.PoolIdleTimeoutSeconds) * time.Second
	}

	conns, err := wbase.NewConnPool(cfg.RowStoreDSN, poolCap, poolMaxCap, idleTimeout)
	if err != nil {
		return nil, errors.Annotate(err, "worker: row-store connection pool")
	}

	sqlConns, err := wbase.NewSqlConnMgr(defaultMaxSqlConns, defaultMaxScanSqlConns)
	if err != nil {
		return nil, errors.Annotate(err, "worker: SqlConnMgr")
	}

	transmits, err := wbase.NewTransmitMgr(defaultMaxTransmits)
	if err != nil {
		return nil, errors.Annotate(err, "worker: TransmitMgr")
	}

	schedCfg := wcontrol.DefaultSchedulerConfig()
	if cfg.GroupMinThreads > 0 {
		schedCfg.GroupMinThreads = cfg.GroupMinThreads
	}
	if cfg.GroupMaxThreads > 0 {
		schedCfg.GroupMaxThreads = cfg.GroupMaxThreads
	}
	if cfg.ScanMinThreads > 0 {
		schedCfg.ScanMinThreads = cfg.ScanMinThreads
	}
	if cfg.ScanMaxThreads > 0 {
		schedCfg.ScanMaxThreads = cfg.ScanMaxThreads
	}
	scheduler := wcontrol.NewScheduler(schedCfg)

	deps := wbase.TaskDeps{
		Conns:     conns,
		SqlConns:  sqlConns,
		Transmits: transmits,
		BatchRows: cfg.BatchRows,
		Encode:    czarproto.EncodeRows,
	}

	proc := wcontrol.NewWorkerProcessor(scheduler, deps)
	srv := NewServer(proc)
	return &Built{Server: srv, Conns: conns}, nil
}

// RegisterGRPC registers Server onto s, using the same gogo codec the
// GrpcMessenger client side is forced to; callers must build s with
// czarproto.ServerOption() among its grpc.ServerOptions.
func RegisterGRPC(s *grpc.Server, srv *Server) {
	czarproto.RegisterWorkerServer(s, srv)
}
