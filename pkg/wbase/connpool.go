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
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ngaut/pools"
	"github.com/pingcap/errors"
)

// dbConnResource adapts a *sql.Conn to pools.Resource so it can live in
// a ngaut/pools.ResourcePool.
type dbConnResource struct {
	conn *sql.Conn
}

func (r *dbConnResource) Close() {
	_ = r.conn.Close()
}

// ConnPool is the bounded row-store connection pool a Task borrows
// from, grounded on original_source/core/modules/mysql/MySqlConnection.h's
// single-connection-per-task model generalized to a reusable pool.
type ConnPool struct {
	db   *sql.DB
	pool *pools.ResourcePool
}

// NewConnPool opens a *sql.DB for dsn and wraps a pool of up to maxCap
// *sql.Conn resources, evicting idle connections after idleTimeout.
func NewConnPool(dsn string, capacity, maxCap int, idleTimeout time.Duration) (*ConnPool, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	p := &ConnPool{db: db}
	p.pool = pools.NewResourcePool(func() (pools.Resource, error) {
		conn, err := db.Conn(context.Background())
		if err != nil {
			return nil, err
		}
		return &dbConnResource{conn: conn}, nil
	}, capacity, maxCap, idleTimeout)
	return p, nil
}

// ConnHandle is a borrowed connection; call Release exactly once to
// return it to the pool.
type ConnHandle struct {
	pool *ConnPool
	res  pools.Resource
}

// Conn returns the borrowed *sql.Conn.
func (h *ConnHandle) Conn() *sql.Conn {
	return h.res.(*dbConnResource).conn
}

// Release returns the connection to the pool.
func (h *ConnHandle) Release() {
	h.pool.pool.Put(h.res)
}

// Get borrows a connection, blocking until one is available or ctx is
// done.
func (p *ConnPool) Get(ctx context.Context) (*ConnHandle, error) {
	res, err := p.pool.Get(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &ConnHandle{pool: p, res: res}, nil
}

// Close drains and closes every pooled connection, then the underlying
// *sql.DB.
func (p *ConnPool) Close() {
	p.pool.Close()
	_ = p.db.Close()
}
