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

package wbase

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/pingcap/errors"

	"github.com/qservdb/qserv/pkg/stream"
)

// Task is the immutable worker-side description of one chunk's work,
// per spec.md §3 "Task (worker side)": a sequence of SQL fragments to
// run against the row-store, tagged with the scan tables (if any) that
// route it through wsched's ScanScheduler rather than GroupScheduler.
type Task struct {
	QueryID     int64
	JobID       int64
	ChunkID     int
	Db          string
	Fragments   []string
	ResultTable string
	ScanTables  []string
}

const defaultBatchRows = 1000

// RowBatchEncoder serializes one batch of scanned rows into the bytes a
// StreamBuffer carries. The default encoder is a plain comma/newline
// text format; a wire codec (pkg/czarproto) supplies a tighter one.
type RowBatchEncoder func(cols []string, rows [][]driver.Value) ([]byte, error)

// TaskDeps are the shared, per-worker-process resources a Task borrows
// while running: the row-store connection pool, the two admission
// gates, and the transport send hook.
type TaskDeps struct {
	Conns       *ConnPool
	SqlConns    *SqlConnMgr
	Transmits   *TransmitMgr
	Interactive bool
	BatchRows   int
	Encode      RowBatchEncoder
	Send        func(ctx context.Context, buf *stream.StreamBuffer) error
}

func (d TaskDeps) batchRows() int {
	if d.BatchRows > 0 {
		return d.BatchRows
	}
	return defaultBatchRows
}

func (d TaskDeps) encode() RowBatchEncoder {
	if d.Encode != nil {
		return d.Encode
	}
	return defaultEncoder
}

// Run executes t's fragments in order against one borrowed row-store
// connection: (a) opens/reuses a connection through SqlConnMgr, (b) runs
// each fragment with multi-statement support implied by running them as
// separate statements in sequence on the same connection, (c) reads
// rows unbuffered, (d) serialises batches into a StreamBuffer, and
// (e) transmits each batch gated by TransmitMgr (spec.md §4.4).
func Run(ctx context.Context, t Task, deps TaskDeps) error {
	scanQuery := len(t.ScanTables) > 0

	sqlLock, err := deps.SqlConns.Take(ctx, scanQuery)
	if err != nil {
		return errors.Annotate(err, "wbase: SqlConnMgr admission")
	}
	defer sqlLock.Release()

	handle, err := deps.Conns.Get(ctx)
	if err != nil {
		return errors.Annotate(err, "wbase: connection pool")
	}
	defer handle.Release()

	conn := handle.Conn()
	for i, frag := range t.Fragments {
		if err := runFragment(ctx, conn, frag, t, deps); err != nil {
			return errors.Annotatef(err, "fragment %d/%d", i+1, len(t.Fragments))
		}
	}
	return nil
}

func runFragment(ctx context.Context, conn *sql.Conn, frag string, t Task, deps TaskDeps) error {
	rows, err := conn.QueryContext(ctx, frag)
	if err != nil {
		return errors.Trace(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Trace(err)
	}

	batchSize := deps.batchRows()
	batch := make([][]driver.Value, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		data, err := deps.encode()(cols, batch)
		if err != nil {
			return errors.Trace(err)
		}
		if err := sendBatch(ctx, data, t, deps); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	raw := make([]sql.RawBytes, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return errors.Trace(err)
		}
		row := make([]driver.Value, len(cols))
		for i, b := range raw {
			if b == nil {
				continue
			}
			row[i] = append([]byte(nil), b...)
		}
		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Trace(err)
	}
	return flush()
}

// sendBatch wraps data in a StreamBuffer, admits it through TransmitMgr,
// hands it to the transport, and blocks until the transport recycles it
// before returning — the explicit backpressure spec.md §4.7 describes.
func sendBatch(ctx context.Context, data []byte, t Task, deps TaskDeps) error {
	tLock, err := deps.Transmits.Take(ctx, deps.Interactive, t.QueryID)
	if err != nil {
		return errors.Annotate(err, "wbase: TransmitMgr admission")
	}
	defer tLock.Release()

	buf := stream.NewStreamBuffer(data)
	if err := deps.Send(ctx, buf); err != nil {
		_ = buf.Recycle()
		return errors.Trace(err)
	}
	buf.Wait()
	return nil
}

// defaultEncoder renders a batch as comma-separated text, one row per
// line, with NULL columns rendered empty. It exists so wbase is
// independently testable; a production wire codec belongs in
// pkg/czarproto.
func defaultEncoder(cols []string, rows [][]driver.Value) ([]byte, error) {
	var b strings.Builder
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			if v == nil {
				continue
			}
			switch val := v.(type) {
			case []byte:
				b.Write(val)
			default:
				fmt.Fprint(&b, val)
			}
		}
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}
