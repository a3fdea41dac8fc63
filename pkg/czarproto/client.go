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

	"google.golang.org/grpc"
)

// WorkerClient is the czar-side stub for WorkerServiceDesc's three RPCs.
type WorkerClient interface {
	Dispatch(ctx context.Context, in *Request, opts ...grpc.CallOption) (*Response, error)
	Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error)
	StreamRows(ctx context.Context, in *Request, opts ...grpc.CallOption) (Worker_StreamRowsClient, error)
}

// Worker_StreamRowsClient is the client-side handle for a StreamRows
// call: repeated Recv until io.EOF.
type Worker_StreamRowsClient interface {
	Recv() (*RowBatch, error)
	grpc.ClientStream
}

type workerClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkerClient wraps cc (dialed with grpc.ForceCodec(gogoCodec{}) so
// the connection speaks this package's message types).
func NewWorkerClient(cc grpc.ClientConnInterface) WorkerClient {
	return &workerClient{cc: cc}
}

func (c *workerClient) Dispatch(ctx context.Context, in *Request, opts ...grpc.CallOption) (*Response, error) {
	out := new(Response)
	if err := c.cc.Invoke(ctx, "/czarproto.Worker/Dispatch", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	out := new(CancelResponse)
	if err := c.cc.Invoke(ctx, "/czarproto.Worker/Cancel", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *workerClient) StreamRows(ctx context.Context, in *Request, opts ...grpc.CallOption) (Worker_StreamRowsClient, error) {
	stream, err := c.cc.NewStream(ctx, &WorkerServiceDesc.Streams[0], "/czarproto.Worker/StreamRows", opts...)
	if err != nil {
		return nil, err
	}
	x := &workerStreamRowsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type workerStreamRowsClient struct {
	grpc.ClientStream
}

func (x *workerStreamRowsClient) Recv() (*RowBatch, error) {
	m := new(RowBatch)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
