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
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/qservdb/qserv/pkg/query"
)

// AggregatePlugin recognises the five set functions named in spec.md
// §4.1 and splits each into a parallel expression (computed per chunk)
// and a merge expression (recombined on the czar). AVG is the only
// function that needs two parallel columns; the rest pass through with
// an aliased rename.
type AggregatePlugin struct{}

func (p *AggregatePlugin) Name() string { return "aggregate" }

func (p *AggregatePlugin) Prepare(ctx *Context) error { return nil }

func (p *AggregatePlugin) ApplyLogical(ctx *Context) error {
	if ctx.Stmt.Fields == nil {
		return nil
	}
	for i, field := range ctx.Stmt.Fields.Fields {
		agg, ok := field.Expr.(*ast.AggregateFuncExpr)
		if !ok {
			continue
		}
		fn := strings.ToLower(agg.F)
		switch fn {
		case "count", "avg", "sum", "min", "max":
		default:
			continue
		}
		alias := field.AsName.O
		if alias == "" {
			alias = fmt.Sprintf("agg_%d", i)
		}
		ctx.Aggregates = append(ctx.Aggregates, aggRewrite{fn: fn, alias: alias})
	}
	return nil
}

// ApplyPhysical rewrites the SELECT field list of the parallel template
// and builds the merge expression list. This works at the text level
// (matching spec.md's QueryTemplate model) rather than re-serializing a
// mutated AST: for each recognised aggregate call found during
// ApplyLogical, the literal "<FN>(<expr>)[ AS alias]" substring is
// replaced by its parallel rewrite, and the corresponding merge
// expression is appended to Plan.Merge's SELECT list.
func (p *AggregatePlugin) ApplyPhysical(plan *Plan, ctx *Context) error {
	if len(ctx.Aggregates) == 0 {
		return nil
	}

	text := plan.Parallel.String()
	var mergeFields []string

	for _, agg := range ctx.Aggregates {
		switch agg.fn {
		case "avg":
			pSum := agg.alias + "_p_sum"
			pCnt := agg.alias + "_p_cnt"
			text = rewriteAggCall(text, "AVG", agg.alias,
				fmt.Sprintf("SUM(%%ARG%%) AS %s, COUNT(%%ARG%%) AS %s", pSum, pCnt))
			mergeFields = append(mergeFields,
				fmt.Sprintf("SUM(%s)/SUM(%s) AS %s", pSum, pCnt, agg.alias))
		case "count":
			pCnt := agg.alias + "_p_cnt"
			text = rewriteAggCall(text, "COUNT", agg.alias,
				fmt.Sprintf("COUNT(%%ARG%%) AS %s", pCnt))
			mergeFields = append(mergeFields, fmt.Sprintf("SUM(%s) AS %s", pCnt, agg.alias))
		case "sum":
			pSum := agg.alias + "_p_sum"
			text = rewriteAggCall(text, "SUM", agg.alias,
				fmt.Sprintf("SUM(%%ARG%%) AS %s", pSum))
			mergeFields = append(mergeFields, fmt.Sprintf("SUM(%s) AS %s", pSum, agg.alias))
		case "min":
			pMin := agg.alias + "_p_min"
			text = rewriteAggCall(text, "MIN", agg.alias,
				fmt.Sprintf("MIN(%%ARG%%) AS %s", pMin))
			mergeFields = append(mergeFields, fmt.Sprintf("MIN(%s) AS %s", pMin, agg.alias))
		case "max":
			pMax := agg.alias + "_p_max"
			text = rewriteAggCall(text, "MAX", agg.alias,
				fmt.Sprintf("MAX(%%ARG%%) AS %s", pMax))
			mergeFields = append(mergeFields, fmt.Sprintf("MAX(%s) AS %s", pMax, agg.alias))
		}
	}

	plan.Parallel = query.NewTemplate(text)
	plan.Merge = "SELECT " + strings.Join(mergeFields, ", ") + " FROM %RESULT_TABLE%"
	plan.HasMerge = true
	return nil
}

// rewriteAggCall finds the first occurrence of "<fn>(<arg>)" in text
// (case-insensitively, optionally followed by "AS alias"), and replaces
// it with replacement, substituting %ARG% with the captured argument
// expression.
func rewriteAggCall(text, fn, alias, replacement string) string {
	upper := strings.ToUpper(text)
	fnUpper := strings.ToUpper(fn)
	start := strings.Index(upper, fnUpper+"(")
	if start < 0 {
		return text
	}
	openParen := start + len(fnUpper)
	depth := 0
	end := -1
	for i := openParen; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return text
	}
	arg := text[openParen+1 : end]

	// Swallow a trailing "AS alias" if present so we don't double it.
	rest := text[end+1:]
	trimmed := strings.TrimLeft(rest, " \t\n")
	if strings.HasPrefix(strings.ToUpper(trimmed), "AS ") {
		// length of the consumed "AS <alias>" fragment
		afterAs := trimmed[3:]
		aliasLen := 0
		for aliasLen < len(afterAs) && !isSqlBoundary(afterAs[aliasLen]) {
			aliasLen++
		}
		consumed := len(rest) - len(trimmed) + 3 + aliasLen
		rest = rest[consumed:]
	}

	repl := strings.ReplaceAll(replacement, "%ARG%", arg)
	return text[:start] + repl + rest
}

func isSqlBoundary(c byte) bool {
	return c == ' ' || c == ',' || c == '\t' || c == '\n' || c == ')'
}
