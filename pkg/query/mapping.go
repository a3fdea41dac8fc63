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

// Package query holds the planner's intermediate representation of one
// chunk's worth of dispatch work (ChunkSpec), the per-chunk template it
// gets substituted into (QueryTemplate), and the placeholder-to-parameter
// table that connects the two (QueryMapping).
package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
)

// ParamKind identifies what a QueryMapping placeholder resolves to.
type ParamKind int

const (
	// Chunk placeholders (e.g. %CC%) resolve to the chunk number.
	Chunk ParamKind = iota
	// Subchunk placeholders (e.g. %S1%) resolve to one subchunk number.
	Subchunk
)

// ChunkSpec names a chunk and the ordered sequence of subchunks within it
// that a query touches. A chunk with no subchunks still dispatches once,
// with an empty SubChunks slice.
type ChunkSpec struct {
	Chunk     int
	SubChunks []int
}

// QueryTemplate is an ordered sequence of literal and placeholder tokens
// produced by rendering the rewritten SELECT. It is restartable:
// Mapping.Apply may be called on it any number of times against
// different ChunkSpecs.
type QueryTemplate struct {
	tokens []token
}

type token struct {
	literal     string
	placeholder string
	isPlaceholder bool
}

// NewTemplate parses a template string containing %PLACEHOLDER% markers
// into an ordered token sequence.
func NewTemplate(s string) QueryTemplate {
	var tokens []token
	rest := s
	for {
		start := strings.IndexByte(rest, '%')
		if start < 0 {
			tokens = append(tokens, token{literal: rest})
			break
		}
		end := strings.IndexByte(rest[start+1:], '%')
		if end < 0 {
			tokens = append(tokens, token{literal: rest})
			break
		}
		end += start + 1
		if start > 0 {
			tokens = append(tokens, token{literal: rest[:start]})
		}
		tokens = append(tokens, token{placeholder: rest[start : end+1], isPlaceholder: true})
		rest = rest[end+1:]
	}
	return QueryTemplate{tokens: tokens}
}

// String renders the template back to flat text, placeholders included.
// Used when a later plugin needs to append to or re-derive a template
// already produced by an earlier one.
func (t QueryTemplate) String() string {
	var b strings.Builder
	for _, tok := range t.tokens {
		if tok.isPlaceholder {
			b.WriteString(tok.placeholder)
		} else {
			b.WriteString(tok.literal)
		}
	}
	return b.String()
}

// Placeholders returns the distinct placeholder names referenced by the
// template, in first-occurrence order.
func (t QueryTemplate) Placeholders() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, tok := range t.tokens {
		if !tok.isPlaceholder {
			continue
		}
		if _, ok := seen[tok.placeholder]; ok {
			continue
		}
		seen[tok.placeholder] = struct{}{}
		names = append(names, tok.placeholder)
	}
	return names
}

// Mapping maps a string placeholder to a parameter kind, plus records
// which table names are subchunked (MarkSubchunked / IsSubchunked).
// Apply does not consult that set: what it substitutes follows only
// from each placeholder's bound kind.
type Mapping struct {
	entries         map[string]ParamKind
	subchunkedTable map[string]struct{}
}

// NewMapping builds an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{
		entries:         make(map[string]ParamKind),
		subchunkedTable: make(map[string]struct{}),
	}
}

// Bind records that placeholder resolves to values of kind k.
func (m *Mapping) Bind(placeholder string, k ParamKind) {
	m.entries[placeholder] = k
}

// MarkSubchunked records table as using subchunk-suffixed physical tables.
func (m *Mapping) MarkSubchunked(table string) {
	m.subchunkedTable[table] = struct{}{}
}

// IsSubchunked reports whether table was marked subchunked.
func (m *Mapping) IsSubchunked(table string) bool {
	_, ok := m.subchunkedTable[table]
	return ok
}

// Validate checks that every placeholder template references has a
// mapping entry, per the QueryMapping invariant in spec.md §3.
func (m *Mapping) Validate(t QueryTemplate) error {
	var missing []string
	for _, p := range t.Placeholders() {
		if _, ok := m.entries[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Errorf("query: unmapped placeholders %v", missing)
	}
	return nil
}

// Apply substitutes every placeholder in t using spec, producing concrete
// SQL for one chunk. Apply validates first so dispatch never sends
// malformed SQL to a worker.
func (m *Mapping) Apply(spec ChunkSpec, t QueryTemplate) (string, error) {
	if err := m.Validate(t); err != nil {
		return "", err
	}

	var b strings.Builder
	subIdx := 0
	for _, tok := range t.tokens {
		if !tok.isPlaceholder {
			b.WriteString(tok.literal)
			continue
		}
		kind := m.entries[tok.placeholder]
		switch kind {
		case Chunk:
			b.WriteString(strconv.Itoa(spec.Chunk))
		case Subchunk:
			if subIdx >= len(spec.SubChunks) {
				return "", errors.Errorf(
					"query: template references more subchunk placeholders than ChunkSpec %d has subchunks",
					spec.Chunk,
				)
			}
			b.WriteString(strconv.Itoa(spec.SubChunks[subIdx]))
			subIdx++
		}
	}
	return b.String(), nil
}
