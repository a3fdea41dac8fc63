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

package czarproto

import (
	"context"
	"database/sql/driver"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/qservdb/qserv/pkg/qdisp"
	"github.com/qservdb/qserv/pkg/resource"
)

const fakeWorkerTarget = "passthrough:///bufnet"

func TestDescToRequestMapsFields(t *testing.T) {
	desc := qdisp.Description{
		QueryID:         1,
		JobID:           2,
		Resource:        resource.NewDbChunk("LSST", 17),
		ChunkQuerySpec:  "SELECT * FROM Object_17",
		ChunkResultName: "result_2",
		Payload:         []byte("session-token"),
	}

	req := descToRequest(desc, 3)
	require.Equal(t, int64(1), req.QueryID)
	require.Equal(t, int64(2), req.JobID)
	require.Equal(t, int32(17), req.ChunkID)
	require.Equal(t, "LSST", req.Db)
	require.Equal(t, []string{"SELECT * FROM Object_17"}, req.Fragments)
	require.Equal(t, "result_2", req.ResultTable)
	require.Equal(t, []byte("session-token"), req.Session)
	require.Equal(t, int32(3), req.Attempt)
}

func startFakeWorkerMessenger(t *testing.T, srv *fakeWorkerServer) (*GrpcMessenger, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer(grpc.ForceServerCodec(gogoCodec{}))
	RegisterWorkerServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	m := NewGrpcMessenger(grpc.WithContextDialer(dialer))
	return m, func() { _ = m.Close(); gs.Stop() }
}

func TestGrpcMessengerSendStoresRowsAndFetchRemoves(t *testing.T) {
	batchData, err := EncodeRows([]string{"a"}, [][]driver.Value{{[]byte("1")}, {[]byte("2")}})
	require.NoError(t, err)

	srv := &fakeWorkerServer{
		dispatch: &Response{JobID: 2, Attempt: 1},
		batches: []*RowBatch{
			{JobID: 2, Data: batchData, Final: true},
		},
	}
	m, stop := startFakeWorkerMessenger(t, srv)
	defer stop()

	desc := qdisp.Description{
		QueryID:         9,
		JobID:           2,
		Resource:        resource.NewDbChunk("LSST", 1),
		ChunkQuerySpec:  "SELECT 1",
		ChunkResultName: "result_2",
	}

	fileURL, n, err := m.Send(context.Background(), fakeWorkerTarget, desc, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.NotEmpty(t, fileURL)

	cols, rows, err := m.Fetch(context.Background(), fileURL)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, cols)
	require.Len(t, rows, 2)

	_, _, err = m.Fetch(context.Background(), fileURL)
	require.Error(t, err, "Fetch should consume the stored batch exactly once")
}

func TestGrpcMessengerSendSurfacesWorkerError(t *testing.T) {
	srv := &fakeWorkerServer{dispatch: &Response{JobID: 2, ErrorCode: 17, ErrorMsg: "bad sql"}}
	m, stop := startFakeWorkerMessenger(t, srv)
	defer stop()

	desc := qdisp.Description{QueryID: 9, JobID: 2, Resource: resource.NewDbChunk("LSST", 1)}
	_, _, err := m.Send(context.Background(), fakeWorkerTarget, desc, 1)
	require.Error(t, err)
}

func TestGrpcMessengerCancelForwardsToWorker(t *testing.T) {
	srv := &fakeWorkerServer{}
	m, stop := startFakeWorkerMessenger(t, srv)
	defer stop()

	require.NoError(t, m.Cancel(context.Background(), fakeWorkerTarget, 9, 2))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.canceled, 1)
	require.Equal(t, int64(2), srv.canceled[0].JobID)
}
