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

// Package config holds the TOML-loaded configuration structs for both
// the czar and worker binaries, following the one-struct-per-process
// config.toml convention this module's teacher ships.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Log is the shared logging section both process configs embed.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Czar is cmd/qserv-czar's configuration.
type Czar struct {
	Log Log `toml:"log"`

	// ListenAddr is the address the client-facing SQL proxy endpoint
	// binds, e.g. "0.0.0.0:4040".
	ListenAddr string `toml:"listen-addr"`

	// Workers lists the known worker gRPC addresses this czar may
	// dispatch to. Worker assignment (pkg/czar) round-robins over this
	// list absent a richer chunk-to-worker map.
	Workers []string `toml:"workers"`

	// ResultDSN is the MySQL DSN of the result-table database
	// pkg/rproc.ResultWriter writes into.
	ResultDSN string `toml:"result-dsn"`

	// MetaEndpoints are the etcd endpoints backing pkg/css's metadata
	// KV tree.
	MetaEndpoints []string `toml:"meta-endpoints"`

	// EmptyChunksDir holds one empty_<db>.txt file per database, per
	// pkg/css.EmptyChunks.
	EmptyChunksDir string `toml:"empty-chunks-dir"`

	// MaxAttempts is the per-job retry budget (pkg/qdisp.Config).
	MaxAttempts int32 `toml:"max-attempts"`

	// UberJobsPerWorker is passed to pkg/qdisp.Config, whose Executive
	// does not read it; each chunk job is sent as its own wire request.
	UberJobsPerWorker int `toml:"uber-jobs-per-worker"`
}

// Worker is cmd/qserv-worker's configuration.
type Worker struct {
	Log Log `toml:"log"`

	// ListenAddr is the gRPC service's bind address, e.g.
	// "0.0.0.0:6030".
	ListenAddr string `toml:"listen-addr"`

	// RowStoreDSN is the local row-store's MySQL DSN
	// (pkg/wbase.ConnPool).
	RowStoreDSN string `toml:"row-store-dsn"`

	// PoolCapacity/PoolMaxCapacity/PoolIdleTimeoutSeconds size the
	// connection pool beneath SqlConnMgr.
	PoolCapacity           int `toml:"pool-capacity"`
	PoolMaxCapacity        int `toml:"pool-max-capacity"`
	PoolIdleTimeoutSeconds int `toml:"pool-idle-timeout-seconds"`

	// GroupMinThreads/GroupMaxThreads/ScanMinThreads/ScanMaxThreads
	// override wcontrol.SchedulerConfig's defaults; zero means "use the
	// package default".
	GroupMinThreads int `toml:"group-min-threads"`
	GroupMaxThreads int `toml:"group-max-threads"`
	ScanMinThreads  int `toml:"scan-min-threads"`
	ScanMaxThreads  int `toml:"scan-max-threads"`

	// BatchRows caps how many scanned rows accumulate into one
	// StreamBuffer (wbase.TaskDeps.BatchRows); zero means the package
	// default.
	BatchRows int `toml:"batch-rows"`
}

// LoadCzar reads and parses a czar config.toml from path.
func LoadCzar(path string) (*Czar, error) {
	var c Czar
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, errors.Annotatef(err, "config: load czar config %q", path)
	}
	return &c, nil
}

// LoadWorker reads and parses a worker config.toml from path.
func LoadWorker(path string) (*Worker, error) {
	var w Worker
	if _, err := toml.DecodeFile(path, &w); err != nil {
		return nil, errors.Annotatef(err, "config: load worker config %q", path)
	}
	return &w, nil
}
