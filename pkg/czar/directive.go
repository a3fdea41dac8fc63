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
	"regexp"
	"strings"
)

// Directive names one of the prefix-recognised statement shapes the
// czar handles before ever reaching the planner (spec.md §6 "directive
// dispatch table"). DirectiveQuery means "run it through the normal
// planner/dispatch path".
type Directive int

const (
	DirectiveQuery Directive = iota
	DirectiveAsyncResult
	DirectiveSubmitAsync
	DirectiveProcessList
	DirectiveFlushEmptyChunks
	DirectiveKill
	DirectiveCancel
	DirectiveCountShortcut
)

var countShortcut = regexp.MustCompile(`(?is)^\s*SELECT\s+COUNT\(\s*\*\s*\)\s+FROM\s+\S+\s*$`)

// Classify inspects sql and reports which directive it matches (if
// any) along with the remainder of the statement past the recognised
// prefix. An unrecognised statement classifies as DirectiveQuery with
// rest equal to sql with leading and trailing whitespace trimmed.
func Classify(sql string) (d Directive, rest string) {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "SELECT * FROM QSERV_RESULT("):
		return DirectiveAsyncResult, trimmed[len("SELECT * FROM QSERV_RESULT("):]
	case strings.HasPrefix(upper, "SUBMIT ASYNC "):
		return DirectiveSubmitAsync, trimmed[len("SUBMIT ASYNC "):]
	case strings.HasPrefix(upper, "SHOW PROCESSLIST"):
		return DirectiveProcessList, ""
	case strings.HasPrefix(upper, "FLUSH QSERV_CHUNKS_CACHE"):
		return DirectiveFlushEmptyChunks, strings.TrimSpace(trimmed[len("FLUSH QSERV_CHUNKS_CACHE"):])
	case strings.HasPrefix(upper, "KILL "):
		return DirectiveKill, trimmed[len("KILL "):]
	case strings.HasPrefix(upper, "CANCEL "):
		return DirectiveCancel, trimmed[len("CANCEL "):]
	case countShortcut.MatchString(trimmed):
		return DirectiveCountShortcut, trimmed
	default:
		return DirectiveQuery, trimmed
	}
}
