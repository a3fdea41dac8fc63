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
	"context"
	"sort"
	"strconv"

	"github.com/pingcap/errors"

	"github.com/qservdb/qserv/pkg/css"
)

// ChunkRegistry reads the list of chunks the metadata store holds for a
// database. It lists chunk numbers beneath "/chunks/<db>/" in the
// metadata KV tree, each child key naming one chunk. It reads no worker
// assignment; WorkerAssigner picks the worker for each chunk.
type ChunkRegistry struct {
	kv css.KvInterface
}

// NewChunkRegistry builds a ChunkRegistry over kv.
func NewChunkRegistry(kv css.KvInterface) *ChunkRegistry {
	return &ChunkRegistry{kv: kv}
}

// Chunks returns every chunk number registered for db, sorted
// ascending.
func (r *ChunkRegistry) Chunks(ctx context.Context, db string) ([]int, error) {
	children, err := r.kv.GetChildren(ctx, "/chunks/"+db)
	if err != nil {
		if errors.Is(err, css.ErrNoSuchKey) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "czar: list chunks for db %q", db)
	}

	chunks := make([]int, 0, len(children))
	for _, c := range children {
		n, err := strconv.Atoi(c)
		if err != nil {
			continue
		}
		chunks = append(chunks, n)
	}
	sort.Ints(chunks)
	return chunks, nil
}
