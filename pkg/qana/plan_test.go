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
	"testing"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/stretchr/testify/require"
)

func mustParseSelect(t *testing.T, sql string) *ast.SelectStmt {
	t.Helper()
	p := parser.New()
	stmtNode, err := p.ParseOneStmt(sql, "", "")
	require.NoError(t, err)
	sel, ok := stmtNode.(*ast.SelectStmt)
	require.True(t, ok, "expected a SELECT statement")
	return sel
}

func TestAggregateRewrite(t *testing.T) {
	sql := "SELECT AVG(x) FROM T"
	stmt := mustParseSelect(t, sql)

	plan, err := DefaultPipeline().Run(sql, stmt)
	require.NoError(t, err)

	require.True(t, plan.HasMerge)
	require.Contains(t, plan.Parallel.String(), "SUM(x) AS")
	require.Contains(t, plan.Parallel.String(), "COUNT(x) AS")
	require.Contains(t, plan.Merge, "SUM(")
	require.Contains(t, plan.Merge, "/SUM(")
}

func TestTablePluginSubstitutesChunkTemplate(t *testing.T) {
	sql := "SELECT * FROM T WHERE x > 1"
	stmt := mustParseSelect(t, sql)

	plan, err := DefaultPipeline().Run(sql, stmt)
	require.NoError(t, err)
	require.Contains(t, plan.Parallel.String(), "T_%CC%")
	require.NoError(t, plan.Mapping.Validate(plan.Parallel))
}

func TestPlanningErrorOnMissingFrom(t *testing.T) {
	// The Table plugin must reject a statement whose "FROM" list cannot
	// be resolved with an error (which Pipeline.Run wraps in a
	// PlanningError) rather than panicking or silently dispatching nothing.
	ctx := &Context{Stmt: &ast.SelectStmt{}}
	tp := &TablePlugin{}
	err := tp.ApplyLogical(ctx)
	require.Error(t, err)
}

func TestScanTablesAnnotated(t *testing.T) {
	sql := "SELECT * FROM T"
	stmt := mustParseSelect(t, sql)
	plan, err := DefaultPipeline().Run(sql, stmt)
	require.NoError(t, err)
	require.Contains(t, plan.ScanTables, "T")
}
