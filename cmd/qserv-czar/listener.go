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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/qservdb/qserv/pkg/czar"
)

// queryListener is the czar's side of the boundary spec.md §2 draws
// between the czar and the "front-of-house proxy" that actually speaks
// the client's SQL wire protocol: one newline-terminated SQL statement
// in, one newline-terminated JSON-encoded czar.Result out. A real MySQL-
// protocol proxy is an external collaborator this module never
// implements; this is the thin backend hook such a proxy would dial.
type queryListener struct {
	lis net.Listener
	srv *czar.Server
}

func newQueryListener(addr string, srv *czar.Server) (*queryListener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &queryListener{lis: lis, srv: srv}, nil
}

func (l *queryListener) Close() error {
	return l.lis.Close()
}

// Serve accepts connections until the listener is closed, handling each
// one on its own goroutine.
func (l *queryListener) Serve() error {
	for {
		conn, err := l.lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Trace(err)
		}
		go l.handle(conn)
	}
}

func (l *queryListener) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		sql := scanner.Text()
		if sql == "" {
			continue
		}

		res, err := l.srv.Submit(context.Background(), sql)
		resp := queryResponse{ResultTable: res.ResultTable, QueryID: res.QueryID, Async: res.Async}
		if err != nil {
			resp.Error = err.Error()
		} else if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		for _, p := range res.Processes {
			resp.Processes = append(resp.Processes, processEntry{QueryID: p.QueryID, SQL: p.SQL, State: p.State})
		}

		line, merr := json.Marshal(resp)
		if merr != nil {
			log.L().Error("qserv-czar: marshal response", zap.Error(merr))
			return
		}
		if _, werr := conn.Write(append(line, '\n')); werr != nil {
			return
		}
	}
}

type queryResponse struct {
	QueryID     int64          `json:"queryId"`
	ResultTable string         `json:"resultTable,omitempty"`
	Async       bool           `json:"async,omitempty"`
	Error       string         `json:"error,omitempty"`
	Processes   []processEntry `json:"processes,omitempty"`
}

type processEntry struct {
	QueryID int64  `json:"queryId"`
	SQL     string `json:"sql"`
	State   string `json:"state"`
}
