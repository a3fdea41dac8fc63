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

// Package css implements the czar's view of the persistent metadata store
// (CSS): the per-database empty-chunk cache and a slash-delimited KV tree
// client. Both the row-store DBMS and the backing etcd cluster are
// external collaborators; this package only specifies and implements the
// contract the core uses against them.
package css

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/pingcap/errors"
)

var unsafeDbChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// sanitizeDbName mirrors the original empty_<sanitized-db>.txt naming:
// anything outside [A-Za-z0-9_] is replaced with '_' so the file name is
// always a valid path component.
func sanitizeDbName(db string) string {
	return unsafeDbChars.ReplaceAllString(db, "_")
}

// EmptyChunks caches, per database, the set of chunk numbers known to
// contain no rows. The planner consults it to skip dispatching jobs for
// chunks that can never return data.
type EmptyChunks struct {
	dir      string
	fallback string

	mu   sync.RWMutex
	sets map[string]map[int]struct{}

	cache *ristretto.Cache
}

// Config configures where empty-chunk lists are read from.
type Config struct {
	// Dir holds one empty_<sanitized-db>.txt file per database.
	Dir string
	// Fallback is used for any database with no dedicated file in Dir.
	Fallback string
}

// New constructs an EmptyChunks cache. The ristretto cache backs
// isEmpty()'s hot path so repeated lookups for the same (db, chunk) pair
// during a single query's planning don't re-walk the in-memory set.
func New(cfg Config) (*EmptyChunks, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Annotate(err, "css: failed to build empty-chunk cache")
	}
	return &EmptyChunks{
		dir:      cfg.Dir,
		fallback: cfg.Fallback,
		sets:     make(map[string]map[int]struct{}),
		cache:    cache,
	}, nil
}

// IsEmpty reports whether chunk c of database db is known to be empty.
// Deterministic for a given contents of the backing file: calling it twice
// without an intervening Load/Invalidate returns the same answer.
func (e *EmptyChunks) IsEmpty(db string, c int) bool {
	key := cacheKey(db, c)
	if v, ok := e.cache.Get(key); ok {
		return v.(bool)
	}

	e.mu.RLock()
	set, ok := e.sets[db]
	e.mu.RUnlock()
	if !ok {
		var err error
		set, err = e.load(db)
		if err != nil {
			// Unreadable file: treat as "no known-empty chunks" rather
			// than failing planning outright.
			set = map[int]struct{}{}
		}
		e.mu.Lock()
		e.sets[db] = set
		e.mu.Unlock()
	}

	_, isEmpty := set[c]
	e.cache.Set(key, isEmpty, 1)
	return isEmpty
}

// Invalidate drops the cached set for db (or all databases, if db is
// empty) so the next IsEmpty call re-reads the backing file. Bound to the
// FLUSH QSERV_CHUNKS_CACHE [FOR db] directive.
func (e *EmptyChunks) Invalidate(db string) {
	e.mu.Lock()
	if db == "" {
		e.sets = make(map[string]map[int]struct{})
	} else {
		delete(e.sets, db)
	}
	e.mu.Unlock()
	e.cache.Clear()
}

func cacheKey(db string, c int) string {
	return fmt.Sprintf("%s/%d", db, c)
}

func (e *EmptyChunks) load(db string) (map[int]struct{}, error) {
	path := filepath.Join(e.dir, "empty_"+sanitizeDbName(db)+".txt")
	f, err := os.Open(path)
	if os.IsNotExist(err) && e.fallback != "" {
		f, err = os.Open(e.fallback)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()

	set := make(map[int]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(line, "%d", &n); err != nil {
			continue
		}
		set[n] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return set, nil
}
