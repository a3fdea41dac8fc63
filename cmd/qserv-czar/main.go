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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/qservdb/qserv/pkg/config"
	"github.com/qservdb/qserv/pkg/css"
	"github.com/qservdb/qserv/pkg/czar"
	"github.com/qservdb/qserv/pkg/logutil"
)

const etcdDialTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.L().Fatal("qserv-czar exited with error", zap.Error(err))
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "qserv-czar",
		Short: "Runs the czar: plans and dispatches SQL queries across workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.toml", "path to the czar's config.toml")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.LoadCzar(configPath)
	if err != nil {
		return errors.Annotate(err, "qserv-czar: load config")
	}

	if err := logutil.Init(logutil.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}); err != nil {
		return errors.Annotate(err, "qserv-czar: init logger")
	}
	defer logutil.Sync()

	etcdCli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.MetaEndpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return errors.Annotate(err, "qserv-czar: connect to metadata store")
	}
	defer etcdCli.Close()

	srv, err := czar.NewServer(cfg, css.NewEtcdKv(etcdCli))
	if err != nil {
		return errors.Annotate(err, "qserv-czar: build server")
	}
	defer srv.Close()

	listener, err := newQueryListener(cfg.ListenAddr, srv)
	if err != nil {
		return errors.Annotatef(err, "qserv-czar: listen on %q", cfg.ListenAddr)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.L().Info("caught signal, shutting down", zap.String("signal", sig.String()))
		listener.Close()
	}()

	log.L().Info("qserv-czar listening", zap.String("addr", cfg.ListenAddr))
	return listener.Serve()
}
