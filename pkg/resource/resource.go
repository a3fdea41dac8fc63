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

// Package resource parses and formats the worker resource paths used to
// address chunk tables, per-chunk queries, pulled results, and
// worker-scoped directives on the wire.
package resource

import (
	"strconv"
	"strings"
)

// Kind is the tagged-union discriminant of a ResourceUnit.
type Kind int

const (
	// Garbage marks a path that failed to parse as any known unit.
	Garbage Kind = iota
	// DbChunk addresses a worker's new-style per-chunk query resource,
	// e.g. /chk/<db>/<chunk>.
	DbChunk
	// CQuery addresses the legacy per-chunk query resource, e.g. /q/<db>/<chunk>.
	CQuery
	// Result addresses a pullable result by content hash, e.g. /result/<hash>.
	Result
	// Worker addresses a worker-scoped directive, e.g. /worker/<id>.
	Worker
)

func (k Kind) String() string {
	switch k {
	case DbChunk:
		return "DBCHUNK"
	case CQuery:
		return "CQUERY"
	case Result:
		return "RESULT"
	case Worker:
		return "WORKER"
	default:
		return "GARBAGE"
	}
}

// Unit is a value type identifying one worker-addressable resource. It is
// immutable once constructed; callers that need a different resource build
// a new Unit rather than mutating this one.
type Unit struct {
	kind          Kind
	db            string
	chunk         int
	hashName      string
	workerID      string
	specifiers    []specifier
	rawForGarbage string
}

// specifier is one key-value pair from the optional path suffix, kept in
// the order it appeared on the wire so Path() round-trips exactly.
type specifier struct {
	key, val string
}

// NewDbChunk builds a DBCHUNK unit addressing the new-style per-chunk
// query resource for db/chunk.
func NewDbChunk(db string, chunk int) Unit {
	return Unit{kind: DbChunk, db: db, chunk: chunk}
}

// NewCQuery builds a CQUERY unit addressing the legacy per-chunk query
// resource for db/chunk.
func NewCQuery(db string, chunk int) Unit {
	return Unit{kind: CQuery, db: db, chunk: chunk}
}

// NewResult builds a RESULT unit addressing a pullable result by hash name.
func NewResult(hashName string) Unit {
	return Unit{kind: Result, hashName: hashName}
}

// NewWorker builds a WORKER unit addressing a worker-scoped directive.
func NewWorker(workerID string) Unit {
	return Unit{kind: Worker, workerID: workerID}
}

// garbage builds an ill-formed unit that preserves the original path for
// diagnostics; Path() on a Garbage unit returns the original input, not a
// round-tripped reconstruction.
func garbage(raw string) Unit {
	return Unit{kind: Garbage, rawForGarbage: raw}
}

// Parse parses a worker resource path into a Unit. Ill-formed paths, empty
// dbs, negative chunks, or trailing slashes yield a Garbage unit rather
// than an error: resource addressing failures are not exceptional at the
// wire layer, they are a routing outcome.
func Parse(path string) Unit {
	if path == "" || path == "/" {
		return garbage(path)
	}
	if strings.HasSuffix(path, "/") {
		return garbage(path)
	}
	if !strings.HasPrefix(path, "/") {
		return garbage(path)
	}

	body, specs := splitSpecifiers(path)
	parts := strings.Split(strings.TrimPrefix(body, "/"), "/")
	if len(parts) == 0 {
		return garbage(path)
	}

	switch parts[0] {
	case "chk":
		return parseDbChunkLike(path, parts, DbChunk, specs)
	case "q":
		return parseDbChunkLike(path, parts, CQuery, specs)
	case "result":
		if len(parts) != 2 || parts[1] == "" {
			return garbage(path)
		}
		u := NewResult(parts[1])
		u.specifiers = specs
		return u
	case "worker":
		if len(parts) != 2 || parts[1] == "" {
			return garbage(path)
		}
		u := NewWorker(parts[1])
		u.specifiers = specs
		return u
	default:
		return garbage(path)
	}
}

func parseDbChunkLike(path string, parts []string, kind Kind, specs []specifier) Unit {
	if len(parts) != 3 {
		return garbage(path)
	}
	db := parts[1]
	if db == "" {
		return garbage(path)
	}
	chunk, err := strconv.Atoi(parts[2])
	if err != nil || chunk < 0 {
		return garbage(path)
	}
	u := Unit{kind: kind, db: db, chunk: chunk, specifiers: specs}
	return u
}

// splitSpecifiers strips an optional "?key=val&key2=val2" specifier suffix
// from a path. Specifiers are parsed for completeness (original callers may
// inspect them) but never contribute to routing, per spec. Order is
// preserved so Path() can round-trip exactly.
func splitSpecifiers(path string) (string, []specifier) {
	idx := strings.IndexByte(path, '?')
	if idx < 0 {
		return path, nil
	}
	body, query := path[:idx], path[idx+1:]
	if query == "" {
		return body, nil
	}
	var specs []specifier
	for _, kv := range strings.Split(query, "&") {
		if kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			specs = append(specs, specifier{key: kv})
			continue
		}
		specs = append(specs, specifier{key: kv[:eq], val: kv[eq+1:]})
	}
	return body, specs
}

// Kind reports the tagged-union discriminant.
func (u Unit) Kind() Kind { return u.kind }

// Db reports the database name for DBCHUNK/CQUERY units; empty otherwise.
func (u Unit) Db() string { return u.db }

// Chunk reports the chunk number for DBCHUNK/CQUERY units; zero otherwise.
func (u Unit) Chunk() int { return u.chunk }

// HashName reports the result hash for RESULT units; empty otherwise.
func (u Unit) HashName() string { return u.hashName }

// WorkerID reports the assigned worker id: always for a WORKER unit,
// and for any other kind once WithWorkerID has attached a dispatch
// assignment to it; empty otherwise.
func (u Unit) WorkerID() string { return u.workerID }

// WithWorkerID returns a copy of u with the dispatch-assigned worker id
// set, regardless of kind. It never changes Path()'s rendering — Path
// only emits workerID for a WORKER unit — so the round-trip invariant
// Parse(u.Path()).Path() == u.Path() still holds on the result; this is
// purely a czar-side dispatch annotation carried alongside a DBCHUNK/
// CQUERY unit's own addressing fields.
func (u Unit) WithWorkerID(id string) Unit {
	u.workerID = id
	return u
}

// Specifiers returns the optional key-value specifiers parsed from the
// path, or nil if none were present. Never used for routing.
func (u Unit) Specifiers() map[string]string {
	if len(u.specifiers) == 0 {
		return nil
	}
	m := make(map[string]string, len(u.specifiers))
	for _, s := range u.specifiers {
		m[s.key] = s.val
	}
	return m
}

// Path reconstructs the canonical path for this unit. For a non-Garbage
// unit, Parse(u.Path()).Path() == u.Path() — the round-trip invariant
// required by spec.md §8.
func (u Unit) Path() string {
	var b strings.Builder
	switch u.kind {
	case DbChunk:
		b.WriteString("/chk/")
		b.WriteString(u.db)
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(u.chunk))
	case CQuery:
		b.WriteString("/q/")
		b.WriteString(u.db)
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(u.chunk))
	case Result:
		b.WriteString("/result/")
		b.WriteString(u.hashName)
	case Worker:
		b.WriteString("/worker/")
		b.WriteString(u.workerID)
	default:
		return u.rawForGarbage
	}
	writeSpecifiers(&b, u.specifiers)
	return b.String()
}

func writeSpecifiers(b *strings.Builder, specs []specifier) {
	if len(specs) == 0 {
		return
	}
	b.WriteByte('?')
	for i, s := range specs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(s.key)
		if s.val != "" {
			b.WriteByte('=')
			b.WriteString(s.val)
		}
	}
}
