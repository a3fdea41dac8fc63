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

package rproc

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

// jobCol and attemptCol are the hidden bookkeeping columns every result
// table carries alongside its user-visible columns, letting
// ScrubJobAttempt undo exactly one job's one attempt. Grounded on
// TableMerger's practice of fixing up the physical table name/columns
// before INSERT (original_source/include/lsst/qserv/master/TableMerger.h
// `_fixupTargetName`/`_buildMergeSql`).
const (
	jobCol     = "_qs_job_id"
	attemptCol = "_qs_attempt"
)

// ResultWriter appends worker result rows into a czar-side result table
// over a plain *sql.DB, tagging every row with the job/attempt that
// produced it.
type ResultWriter struct {
	db *sql.DB
}

// NewResultWriter opens dsn with the MySQL driver for result-table
// writes.
func NewResultWriter(dsn string) (*ResultWriter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &ResultWriter{db: db}, nil
}

// WriteRows inserts rows (with columns cols) into table, tagging each
// with (jobID, attempt). It returns the number of rows written.
func (w *ResultWriter) WriteRows(ctx context.Context, table string, cols []string, rows [][]driver.Value, jobID int64, attempt int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	allCols := append(append([]string{}, cols...), jobCol, attemptCol)
	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?,", len(allCols)), ",") + ")"

	var b strings.Builder
	fmtInsertPrefix(&b, table, allCols)
	args := make([]any, 0, len(rows)*len(allCols))
	for i, row := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(placeholderRow)
		for _, v := range row {
			args = append(args, v)
		}
		args = append(args, jobID, int64(attempt))
	}

	res, err := w.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, errors.Trace(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return n, nil
}

// ScrubJobAttempt deletes every row previously written for (jobID,
// attempt), undoing exactly one FlushHTTP call before a retry.
func (w *ResultWriter) ScrubJobAttempt(ctx context.Context, table string, jobID int64, attempt int) error {
	query := "DELETE FROM " + table + " WHERE " + jobCol + " = ? AND " + attemptCol + " = ?"
	_, err := w.db.ExecContext(ctx, query, jobID, int64(attempt))
	return errors.Trace(err)
}

// Close closes the underlying database handle.
func (w *ResultWriter) Close() error {
	return w.db.Close()
}

func fmtInsertPrefix(b *strings.Builder, table string, cols []string) {
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
}
