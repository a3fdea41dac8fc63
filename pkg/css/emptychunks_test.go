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

package css

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeEmptyChunksFile(t *testing.T, dir, db string, chunks []int) {
	t.Helper()
	path := filepath.Join(dir, "empty_"+sanitizeDbName(db)+".txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, c := range chunks {
		_, err := f.WriteString(strconv.Itoa(c) + "\n")
		require.NoError(t, err)
	}
}

func TestEmptyChunksSkip(t *testing.T) {
	dir := t.TempDir()
	writeEmptyChunksFile(t, dir, "sky", []int{3, 5, 7})

	ec, err := New(Config{Dir: dir})
	require.NoError(t, err)

	require.True(t, ec.IsEmpty("sky", 3))
	require.True(t, ec.IsEmpty("sky", 5))
	require.True(t, ec.IsEmpty("sky", 7))
	require.False(t, ec.IsEmpty("sky", 4))

	// Deterministic: repeated calls agree.
	require.False(t, ec.IsEmpty("sky", 4))
	require.True(t, ec.IsEmpty("sky", 3))
}

func TestEmptyChunksUnknownDbFallsBackToEmptySet(t *testing.T) {
	dir := t.TempDir()
	ec, err := New(Config{Dir: dir})
	require.NoError(t, err)
	require.False(t, ec.IsEmpty("nosuchdb", 1))
}

func TestEmptyChunksInvalidateReloads(t *testing.T) {
	dir := t.TempDir()
	writeEmptyChunksFile(t, dir, "sky", []int{1})

	ec, err := New(Config{Dir: dir})
	require.NoError(t, err)
	require.True(t, ec.IsEmpty("sky", 1))
	require.False(t, ec.IsEmpty("sky", 2))

	writeEmptyChunksFile(t, dir, "sky", []int{2})
	ec.Invalidate("sky")
	require.False(t, ec.IsEmpty("sky", 1))
	require.True(t, ec.IsEmpty("sky", 2))
}

func TestEmptyChunksFallbackFile(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "fallback.txt")
	require.NoError(t, os.WriteFile(fallback, []byte("9\n10\n"), 0o644))

	ec, err := New(Config{Dir: dir, Fallback: fallback})
	require.NoError(t, err)
	require.True(t, ec.IsEmpty("unconfigured_db", 9))
	require.True(t, ec.IsEmpty("unconfigured_db", 10))
	require.False(t, ec.IsEmpty("unconfigured_db", 11))
}

func TestSanitizeDbName(t *testing.T) {
	require.Equal(t, "my_db_1", sanitizeDbName("my-db.1"))
}
