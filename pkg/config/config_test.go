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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCzarParsesWorkersAndResultDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "czar.toml")
	body := `
listen-addr = "0.0.0.0:4040"
workers = ["worker-1:6030", "worker-2:6030"]
result-dsn = "user:pass@tcp(127.0.0.1:3306)/qservResult"
max-attempts = 5

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadCzar(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:4040", cfg.ListenAddr)
	require.Equal(t, []string{"worker-1:6030", "worker-2:6030"}, cfg.Workers)
	require.Equal(t, int32(5), cfg.MaxAttempts)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadWorkerParsesPoolSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.toml")
	body := `
listen-addr = "0.0.0.0:6030"
row-store-dsn = "user:pass@tcp(127.0.0.1:3306)/qservWorker"
pool-capacity = 4
pool-max-capacity = 16
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadWorker(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.PoolCapacity)
	require.Equal(t, 16, cfg.PoolMaxCapacity)
}

func TestLoadCzarMissingFileErrors(t *testing.T) {
	_, err := LoadCzar(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
