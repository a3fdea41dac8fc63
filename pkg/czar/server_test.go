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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qservdb/qserv/pkg/css"
	"github.com/qservdb/qserv/pkg/qdisp"
)

// newBareServer builds a Server with only the fields Submit's directive
// paths touch, skipping NewServer's network/db dialing so these tests
// never need a live etcd cluster or MySQL instance.
func newBareServer(t *testing.T) *Server {
	t.Helper()
	empty, err := css.New(css.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return &Server{
		empty:   empty,
		queries: make(map[int64]*queryState),
	}
}

func TestServerProcessListReportsRunningAndDone(t *testing.T) {
	s := newBareServer(t)

	running := newQueryState(1, "SELECT 1", "result_1", qdisp.NewExecutive(1, nil, qdisp.Config{}))
	done := newQueryState(2, "SELECT 2", "result_2", qdisp.NewExecutive(2, nil, qdisp.Config{}))
	done.finish(qdisp.StateSuccess)

	s.queries[1] = running
	s.queries[2] = done

	entries := s.processList()
	byID := make(map[int64]ProcessEntry, len(entries))
	for _, e := range entries {
		byID[e.QueryID] = e
	}
	require.Equal(t, "RUNNING", byID[1].State)
	require.Equal(t, "DONE", byID[2].State)
}

func TestServerSubmitProcessListDirective(t *testing.T) {
	s := newBareServer(t)
	qs := newQueryState(5, "SELECT 5", "result_5", qdisp.NewExecutive(5, nil, qdisp.Config{}))
	s.queries[5] = qs

	res, err := s.Submit(context.Background(), "SHOW PROCESSLIST")
	require.NoError(t, err)
	require.Len(t, res.Processes, 1)
	require.Equal(t, int64(5), res.Processes[0].QueryID)
}

func TestServerSubmitFlushEmptyChunksDirective(t *testing.T) {
	s := newBareServer(t)

	res, err := s.Submit(context.Background(), "FLUSH QSERV_CHUNKS_CACHE")
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
}

func TestServerSubmitCancelUnknownQueryErrors(t *testing.T) {
	s := newBareServer(t)

	_, err := s.Submit(context.Background(), "CANCEL 999")
	require.Error(t, err)
}

func TestServerSubmitCancelKnownQuerySquashes(t *testing.T) {
	s := newBareServer(t)
	qs := newQueryState(7, "SELECT 7", "result_7", qdisp.NewExecutive(7, nil, qdisp.Config{}))
	s.queries[7] = qs

	res, err := s.Submit(context.Background(), "CANCEL 7")
	require.NoError(t, err)
	require.Equal(t, int64(7), res.QueryID)
	require.Equal(t, qdisp.StateCancel, qs.exec.Join(context.Background()))
}

func TestServerSubmitAsyncResultWaitsForCompletion(t *testing.T) {
	s := newBareServer(t)
	qs := newQueryState(9, "SELECT 9", "result_9", qdisp.NewExecutive(9, nil, qdisp.Config{}))
	s.queries[9] = qs
	qs.finish(qdisp.StateSuccess)

	res, err := s.Submit(context.Background(), "SELECT * FROM QSERV_RESULT(9);")
	require.NoError(t, err)
	require.Equal(t, int64(9), res.QueryID)
	require.Equal(t, "result_9", res.ResultTable)
	require.Equal(t, qdisp.StateSuccess, res.State)
}

func TestServerSubmitAsyncResultUnknownQueryErrors(t *testing.T) {
	s := newBareServer(t)

	_, err := s.Submit(context.Background(), "SELECT * FROM QSERV_RESULT(123)")
	require.Error(t, err)
}
