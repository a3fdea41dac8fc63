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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qservdb/qserv/pkg/qdisp"
)

func TestQueryStateFinishIsIdempotent(t *testing.T) {
	qs := newQueryState(1, "SELECT 1", "result_1", qdisp.NewExecutive(1, nil, qdisp.Config{}))

	_, _, ok := qs.snapshot()
	require.False(t, ok)

	qs.finish(qdisp.StateSuccess)
	state, err, ok := qs.snapshot()
	require.True(t, ok)
	require.Equal(t, qdisp.StateSuccess, state)
	require.NoError(t, err)

	select {
	case <-qs.done:
	default:
		t.Fatal("done channel should be closed")
	}

	// A second finish must not panic (close of a closed channel) or
	// overwrite the recorded state.
	qs.finish(qdisp.StateError)
	state, _, _ = qs.snapshot()
	require.Equal(t, qdisp.StateSuccess, state)
}

func TestQueryStateFinishErrorWithoutFirstError(t *testing.T) {
	exec := qdisp.NewExecutive(2, nil, qdisp.Config{})
	qs := newQueryState(2, "SELECT 1", "result_2", exec)

	// No job was ever added, so the executive has no FirstError to report;
	// finish should still mark the query errored with a nil err.
	qs.finish(qdisp.StateError)
	state, err, ok := qs.snapshot()
	require.True(t, ok)
	require.Equal(t, qdisp.StateError, state)
	require.Nil(t, err)
}
