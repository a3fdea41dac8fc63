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

package qana

import (
	"regexp"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/qservdb/qserv/pkg/query"
)

// TablePlugin resolves the qualified table names in a statement's FROM
// list, determines the dominant database, and substitutes every
// partitioned table reference with a "%CC%"-suffixed template name (e.g.
// T becomes T_%CC%) for the parallel statement. Every other plugin that
// reads partition annotations must run after this one.
type TablePlugin struct{}

func (p *TablePlugin) Name() string { return "table" }

func (p *TablePlugin) Prepare(ctx *Context) error { return nil }

func (p *TablePlugin) ApplyLogical(ctx *Context) error {
	if ctx.Stmt.From == nil || ctx.Stmt.From.TableRefs == nil {
		return errNoFromClause
	}

	var tables []string
	var dominantDb string
	walk(ctx.Stmt.From.TableRefs, func(n ast.Node) (ast.Node, bool) {
		tn, ok := n.(*ast.TableName)
		if !ok {
			return n, false
		}
		name := tn.Name.O
		tables = append(tables, name)
		if dominantDb == "" && tn.Schema.O != "" {
			dominantDb = tn.Schema.O
		}
		return n, false
	})

	if len(tables) == 0 {
		return errNoFromClause
	}

	ctx.PartitionedTables = tables
	ctx.DominantDb = dominantDb
	return nil
}

// tableWordBoundary matches a bare identifier as a whole word, so that
// substituting table "T" never touches a column or table named "TX".
func tableWordBoundary(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
}

func (p *TablePlugin) ApplyPhysical(plan *Plan, ctx *Context) error {
	plan.DominantDb = ctx.DominantDb

	parallelText := plan.OriginalSQL
	if parallelText == "" {
		parallelText = ctx.Stmt.Text()
	}

	// Substitute each distinct partitioned table with its chunk-template
	// name, longest name first so "Object" is replaced before a shorter
	// overlapping prefix would be.
	seen := make(map[string]bool)
	ordered := make([]string, 0, len(ctx.PartitionedTables))
	for _, t := range ctx.PartitionedTables {
		if seen[t] {
			continue
		}
		seen[t] = true
		ordered = append(ordered, t)
	}
	sortByLengthDesc(ordered)

	for _, t := range ordered {
		parallelText = tableWordBoundary(t).ReplaceAllString(parallelText, t+"_%CC%")
	}

	plan.Parallel = query.NewTemplate(parallelText)
	plan.Mapping.Bind("%CC%", query.Chunk)
	return nil
}

func sortByLengthDesc(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && len(s[j-1]) < len(s[j]); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
