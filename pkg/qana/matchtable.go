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
	"strings"

	"github.com/qservdb/qserv/pkg/query"
)

// matchTableSuffix names the convention the original planner used to
// flag a partition-duplicated table: physical match tables carry this
// suffix in their logical name.
const matchTableSuffix = "Match"

// MatchTablePlugin appends a filter on match-table partitioning flags so
// that rows duplicated across chunk-partition boundaries are not returned
// twice. It must run after TablePlugin because it reads the partitioned
// table list TablePlugin recorded.
type MatchTablePlugin struct{}

func (p *MatchTablePlugin) Name() string { return "matchTable" }

func (p *MatchTablePlugin) Prepare(ctx *Context) error { return nil }

func (p *MatchTablePlugin) ApplyLogical(ctx *Context) error {
	for _, t := range ctx.PartitionedTables {
		if strings.HasSuffix(t, matchTableSuffix) {
			ctx.MatchTables = append(ctx.MatchTables, t)
		}
	}
	return nil
}

func (p *MatchTablePlugin) ApplyPhysical(plan *Plan, ctx *Context) error {
	if len(ctx.MatchTables) == 0 {
		return nil
	}

	var cond strings.Builder
	for i, t := range ctx.MatchTables {
		if i > 0 {
			cond.WriteString(" AND ")
		}
		cond.WriteString(t)
		cond.WriteString("_%CC%.partition = 1")
	}

	text := plan.Parallel.String()
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, " WHERE "):
		text += " AND " + cond.String()
	default:
		text += " WHERE " + cond.String()
	}

	plan.Parallel = query.NewTemplate(text)
	return nil
}
