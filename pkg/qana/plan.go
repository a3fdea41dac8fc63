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

// Package qana implements the query-analysis plugin pipeline: it takes the
// parse tree of a user SELECT (produced by the external parser,
// github.com/pingcap/tidb/pkg/parser) and derives a Plan carrying a
// per-chunk parallel query template, a czar-side merge query, and the
// QueryMapping the dispatcher needs to turn one ChunkSpec into concrete
// SQL. The name and plugin shape follow the original Qserv "qana"
// (query-analysis) module.
package qana

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/qservdb/qserv/pkg/query"
)

// PlanningError is returned when a plugin cannot produce a valid plan for
// a statement. It carries a structured reason so the czar can surface a
// single message to the user without dispatching any job (spec.md §4.1).
type PlanningError struct {
	Plugin string
	Reason string
}

func (e *PlanningError) Error() string {
	return "qana: " + e.Plugin + ": " + e.Reason
}

// Plan is the pipeline's output: the original statement plus the
// derived parallel template, merge SQL, dominant database, and mapping.
type Plan struct {
	OriginalSQL string

	// Parallel is the per-chunk query template. Restartable: Apply may be
	// called once per ChunkSpec against the same template.
	Parallel query.QueryTemplate

	// Merge is the czar-side SQL that combines partial results. Empty
	// unless HasMerge.
	Merge string

	// HasMerge is true when a dedicated merge step is required (any
	// aggregate rewrite, ORDER BY, or LIMIT was pulled up to the merge
	// statement).
	HasMerge bool

	DominantDb string
	Mapping    *query.Mapping

	// ScanTables is the set of tables the worker scheduler should treat
	// as shared-scan eligible (spec.md §4.3).
	ScanTables []string
}

// Context is the mutable, shared state plugins communicate through.
// Plugins never call each other directly; they only read and write ctx
// and the Plan.
type Context struct {
	Stmt *ast.SelectStmt

	DominantDb        string
	PartitionedTables []string
	MatchTables       []string

	Aggregates []aggRewrite

	OrderByClause string
	LimitClause   string

	ResultTable string
}

type aggRewrite struct {
	fn    string // lower-cased function name: count, sum, avg, min, max
	alias string
}

// Plugin is the capability set every pipeline stage implements. Plugins
// run in a fixed registration order; each sees the statement/plan built
// up by every plugin that ran before it.
type Plugin interface {
	Name() string
	Prepare(ctx *Context) error
	ApplyLogical(ctx *Context) error
	ApplyPhysical(plan *Plan, ctx *Context) error
}

// Pipeline is an ordered sequence of plugins.
type Pipeline struct {
	plugins []Plugin
}

// DefaultPipeline builds the pipeline with the five required stages in
// their documented dependency order: Table must run before MatchTable
// (which reads the Table plugin's partition annotations); Aggregate reads
// the original field list and PostProcessing the original ORDER BY /
// LIMIT; ScanTable runs last
// because it annotates the already-assembled Plan.
func DefaultPipeline() *Pipeline {
	return &Pipeline{plugins: []Plugin{
		&TablePlugin{},
		&MatchTablePlugin{},
		&AggregatePlugin{},
		&PostProcessingPlugin{},
		&ScanTablePlugin{},
	}}
}

// Run analyses stmt (the output of an external SQL parser) and produces a
// Plan. sql is the original statement text, used for the text-level
// template derivation described in spec.md's QueryTemplate model.
func (p *Pipeline) Run(sql string, stmt *ast.SelectStmt) (*Plan, error) {
	ctx := &Context{Stmt: stmt}

	for _, pl := range p.plugins {
		if err := pl.Prepare(ctx); err != nil {
			return nil, &PlanningError{Plugin: pl.Name(), Reason: err.Error()}
		}
	}
	for _, pl := range p.plugins {
		if err := pl.ApplyLogical(ctx); err != nil {
			return nil, &PlanningError{Plugin: pl.Name(), Reason: err.Error()}
		}
	}

	plan := &Plan{
		OriginalSQL: sql,
		Mapping:     query.NewMapping(),
	}
	for _, pl := range p.plugins {
		if err := pl.ApplyPhysical(plan, ctx); err != nil {
			return nil, &PlanningError{Plugin: pl.Name(), Reason: err.Error()}
		}
	}
	return plan, nil
}

// astVisitor adapts a pair of closures to the ast.Visitor interface so
// callers don't need to define a named type per traversal.
type astVisitor struct {
	enter func(ast.Node) (ast.Node, bool)
	leave func(ast.Node) (ast.Node, bool)
}

func (v *astVisitor) Enter(n ast.Node) (ast.Node, bool) {
	if v.enter != nil {
		return v.enter(n)
	}
	return n, false
}

func (v *astVisitor) Leave(n ast.Node) (ast.Node, bool) {
	if v.leave != nil {
		return v.leave(n)
	}
	return n, true
}

func walk(n ast.Node, enter func(ast.Node) (ast.Node, bool)) {
	if n == nil {
		return
	}
	n.Accept(&astVisitor{enter: enter})
}

var errNoFromClause = errors.New("qana: statement has no FROM clause")
