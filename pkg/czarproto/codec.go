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
	"fmt"

	"github.com/gogo/protobuf/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc-go in place of its built-in "proto"
// codec, which marshals via google.golang.org/protobuf and rejects the
// gogo/protobuf message types this package hand-maintains.
const codecName = "gogoproto"

// gogoCodec adapts gogo/protobuf's Marshal/Unmarshal to grpc-go's
// encoding.Codec, so a *grpc.Server/ClientConn built with
// grpc.ForceCodec(gogoCodec{}) speaks the length-prefixed framing of
// spec.md §6 over the message types in messages.go.
type gogoCodec struct{}

func (gogoCodec) Name() string { return codecName }

func (gogoCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("czarproto: %T does not implement gogo proto.Message", v)
	}
	return proto.Marshal(m)
}

func (gogoCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("czarproto: %T does not implement gogo proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}

func init() {
	encoding.RegisterCodec(gogoCodec{})
}

// ServerOption returns the grpc.ServerOption pkg/worker registers its
// *grpc.Server with, so callers never need gogoCodec itself.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(gogoCodec{})
}

// DialOption returns the grpc.DialOption a czar-side caller dials a
// worker with, forcing the same gogo codec ServerOption installs
// server-side. NewGrpcMessenger applies this by default.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.ForceCodec(gogoCodec{}))
}
