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

// ScanTablePlugin annotates the plan with the set of tables the worker
// scheduler should treat as shared-scan eligible (spec.md §4.3): every
// partitioned table this statement touches is a shared-scan candidate,
// since a sequential pass over one of these large chunk tables can be
// shared by any other concurrent query that also scans it.
type ScanTablePlugin struct{}

func (p *ScanTablePlugin) Name() string { return "scanTable" }

func (p *ScanTablePlugin) Prepare(ctx *Context) error { return nil }

func (p *ScanTablePlugin) ApplyLogical(ctx *Context) error { return nil }

func (p *ScanTablePlugin) ApplyPhysical(plan *Plan, ctx *Context) error {
	plan.ScanTables = append([]string(nil), ctx.PartitionedTables...)
	return nil
}
