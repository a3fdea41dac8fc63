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

// Package czarproto is the czar<->worker wire protocol: the Request,
// Response, Cancel and RowBatch messages of spec.md §6, and the gRPC
// transport that carries them (the "length-prefixed big-endian frame"
// of §6 is exactly grpc-go's own per-message framing — a 1-byte
// compression flag and a 4-byte big-endian length prefix ahead of the
// serialized payload — so a real grpc.Server/ClientConn is a faithful
// rendition of that framing, not a departure from it).
//
// Message structs are hand-maintained in the shape protoc-gen-gogo
// would produce (struct tags gogo/protobuf's reflection codec reads),
// without running protoc: the teacher generates Request/Response
// structs this same way from .proto files compiled elsewhere in its
// build, and this package follows that convention directly against the
// fixed messages spec.md names.
package czarproto

import "fmt"

// Request dispatches one chunk's task to a worker, per spec.md §6:
// "Request: {queryId, jobId, chunkId, db, fragments[...], resultTable,
// scanTables[], session}".
type Request struct {
	QueryID     int64    `protobuf:"varint,1,opt,name=query_id,json=queryId,proto3" json:"query_id,omitempty"`
	JobID       int64    `protobuf:"varint,2,opt,name=job_id,json=jobId,proto3" json:"job_id,omitempty"`
	ChunkID     int32    `protobuf:"varint,3,opt,name=chunk_id,json=chunkId,proto3" json:"chunk_id,omitempty"`
	Db          string   `protobuf:"bytes,4,opt,name=db,proto3" json:"db,omitempty"`
	Fragments   []string `protobuf:"bytes,5,rep,name=fragments,proto3" json:"fragments,omitempty"`
	ResultTable string   `protobuf:"bytes,6,opt,name=result_table,json=resultTable,proto3" json:"result_table,omitempty"`
	ScanTables  []string `protobuf:"bytes,7,rep,name=scan_tables,json=scanTables,proto3" json:"scan_tables,omitempty"`
	Session     []byte   `protobuf:"bytes,8,opt,name=session,proto3" json:"session,omitempty"`
	Attempt     int32    `protobuf:"varint,9,opt,name=attempt,proto3" json:"attempt,omitempty"`
}

func (m *Request) Reset()         { *m = Request{} }
func (m *Request) String() string { return fmt.Sprintf("%+v", *m) }
func (*Request) ProtoMessage()    {}

// Response is a worker's reply to a Request, per spec.md §6:
// "Response: {jobId, attempt, status, rowsSent, errorCode?, errorMsg?}
// followed by zero or more streamed row batches."
type Response struct {
	JobID     int64  `protobuf:"varint,1,opt,name=job_id,json=jobId,proto3" json:"job_id,omitempty"`
	Attempt   int32  `protobuf:"varint,2,opt,name=attempt,proto3" json:"attempt,omitempty"`
	Status    int32  `protobuf:"varint,3,opt,name=status,proto3" json:"status,omitempty"`
	RowsSent  int64  `protobuf:"varint,4,opt,name=rows_sent,json=rowsSent,proto3" json:"rows_sent,omitempty"`
	ErrorCode int32  `protobuf:"varint,5,opt,name=error_code,json=errorCode,proto3" json:"error_code,omitempty"`
	ErrorMsg  string `protobuf:"bytes,6,opt,name=error_msg,json=errorMsg,proto3" json:"error_msg,omitempty"`
}

func (m *Response) Reset()         { *m = Response{} }
func (m *Response) String() string { return fmt.Sprintf("%+v", *m) }
func (*Response) ProtoMessage()    {}

// Response.Status values. Accepted means the worker admitted the
// request and the caller should proceed to StreamRows; Rejected means
// it will not, and ErrorCode/ErrorMsg explain why.
const (
	StatusAccepted int32 = iota
	StatusRejected
)

// CancelRequest asks a worker to cancel every task keyed by
// (queryId, jobId); jobId 0 cancels the whole query (spec.md §4.3/§9
// squash/kill).
type CancelRequest struct {
	QueryID int64 `protobuf:"varint,1,opt,name=query_id,json=queryId,proto3" json:"query_id,omitempty"`
	JobID   int64 `protobuf:"varint,2,opt,name=job_id,json=jobId,proto3" json:"job_id,omitempty"`
}

func (m *CancelRequest) Reset()         { *m = CancelRequest{} }
func (m *CancelRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*CancelRequest) ProtoMessage()    {}

// CancelResponse acknowledges a CancelRequest.
type CancelResponse struct {
	Accepted bool `protobuf:"varint,1,opt,name=accepted,proto3" json:"accepted,omitempty"`
}

func (m *CancelResponse) Reset()         { *m = CancelResponse{} }
func (m *CancelResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (*CancelResponse) ProtoMessage()    {}

// RowBatch is one streamed chunk of a Task's serialized rows, carrying
// the StreamBuffer payload pkg/wbase.Task produces (spec.md §4.7).
type RowBatch struct {
	JobID int64  `protobuf:"varint,1,opt,name=job_id,json=jobId,proto3" json:"job_id,omitempty"`
	Data  []byte `protobuf:"bytes,2,opt,name=data,proto3" json:"data,omitempty"`
	Final bool   `protobuf:"varint,3,opt,name=final,proto3" json:"final,omitempty"`
}

func (m *RowBatch) Reset()         { *m = RowBatch{} }
func (m *RowBatch) String() string { return fmt.Sprintf("%+v", *m) }
func (*RowBatch) ProtoMessage()    {}
