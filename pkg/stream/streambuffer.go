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

// Package stream holds StreamBuffer, the single-use byte container
// handed from a worker task to the transport layer, per spec.md §4.7
// (grounded on the raw-buffer lifetime-across-an-async-callback shape
// in original_source/core/modules/replica_core/ProtocolBuffer.cc).
package stream

import (
	"sync"

	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var liveBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "qserv",
	Subsystem: "stream",
	Name:      "live_bytes",
	Help:      "total bytes held by StreamBuffers that have not yet been recycled.",
})

// ErrAlreadyRecycled is returned by Recycle on a second call.
var ErrAlreadyRecycled = errors.New("stream: buffer already recycled")

// StreamBuffer is a single-use byte container handed to the transport.
// The transport calls Recycle when it no longer needs the bytes; any
// goroutine blocked in Wait unblocks at that point. This is explicit
// backpressure: a task must call Wait before reusing the underlying
// memory for its next batch, bounding worker memory to
// (concurrent transmits) x (batch size).
type StreamBuffer struct {
	mu        sync.Mutex
	data      []byte
	recycled  bool
	done      chan struct{}
}

// NewStreamBuffer wraps data for a single transmit. data is not copied;
// the caller must not mutate it until Wait returns.
func NewStreamBuffer(data []byte) *StreamBuffer {
	liveBytes.Add(float64(len(data)))
	return &StreamBuffer{data: data, done: make(chan struct{})}
}

// Data returns the wrapped bytes. Valid only until Recycle is called.
func (b *StreamBuffer) Data() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len reports the current byte length; it reads 0 once Recycle has run.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Recycle releases the buffer: it notifies every current and future
// Wait caller and drops the reference to data so it can be garbage
// collected. Safe to call more than once; only the first call has
// effect, and a second call returns ErrAlreadyRecycled.
func (b *StreamBuffer) Recycle() error {
	b.mu.Lock()
	if b.recycled {
		b.mu.Unlock()
		return ErrAlreadyRecycled
	}
	b.recycled = true
	n := len(b.data)
	b.data = nil
	close(b.done)
	b.mu.Unlock()

	liveBytes.Sub(float64(n))
	return nil
}

// Wait blocks until Recycle has been called (original's
// waitForDoneWithThis()).
func (b *StreamBuffer) Wait() {
	<-b.done
}

// IsRecycled reports whether Recycle has already run.
func (b *StreamBuffer) IsRecycled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recycled
}
