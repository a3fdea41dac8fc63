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

package rproc

import "fmt"

// AvgExpr returns the SQL expression that reconstructs AVG(expr) from
// the per-chunk partial sums/counts a worker produced, per spec.md
// §4.6: "AVG reconstruction uses SUM(sum_i) / SUM(count_i) with the
// row-store's native numeric type; no intermediate truncation is
// performed." sumCol and countCol name the two columns the aggregate
// plugin (pkg/qana) emitted in place of the original AVG aggregate.
func AvgExpr(sumCol, countCol string) string {
	return fmt.Sprintf("(SUM(%s) / SUM(%s))", sumCol, countCol)
}
