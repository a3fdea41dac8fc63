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

// WorkerServer is the service a worker process implements: Dispatch and
// Cancel are the unary RPCs of spec.md §6's Request/CancelRequest
// exchange; StreamRows is the server-streaming RPC that carries the
// RowBatch sequence a Task produces (spec.md §4.4 step (e), §4.7).
// Hand-maintained in the shape protoc-gen-go-grpc would emit from a
// worker.proto this package has no .proto source for.
type WorkerServer interface {
	Dispatch(context.Context, *Request) (*Response, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	StreamRows(*Request, Worker_StreamRowsServer) error
}

// Worker_StreamRowsServer is the server-side handle for a StreamRows
// call: one Send per RowBatch, terminated by returning from the
// handler.
type Worker_StreamRowsServer interface {
	Send(*RowBatch) error
	grpc.ServerStream
}

type workerStreamRowsServer struct {
	grpc.ServerStream
}

func (x *workerStreamRowsServer) Send(m *RowBatch) error {
	return x.ServerStream.SendMsg(m)
}

func _Worker_Dispatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/czarproto.Worker/Dispatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).Dispatch(ctx, req.(*Request))
	}
	return interceptor(ctx, in, info, handler)
}

func _Worker_Cancel_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/czarproto.Worker/Cancel"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WorkerServer).Cancel(ctx, req.(*CancelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Worker_StreamRows_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(Request)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(WorkerServer).StreamRows(m, &workerStreamRowsServer{stream})
}

// WorkerServiceDesc is this package's hand-maintained equivalent of a
// protoc-gen-go-grpc _ServiceDesc, registered against a *grpc.Server via
// RegisterWorkerServer.
var WorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: "czarproto.Worker",
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: _Worker_Dispatch_Handler},
		{MethodName: "Cancel", Handler: _Worker_Cancel_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamRows", Handler: _Worker_StreamRows_Handler, ServerStreams: true},
	},
	Metadata: "czarproto/worker.proto",
}

// RegisterWorkerServer registers srv's Dispatch/Cancel/StreamRows
// methods against s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&WorkerServiceDesc, srv)
}
