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
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/qservdb/qserv/pkg/config"
	"github.com/qservdb/qserv/pkg/czarproto"
	"github.com/qservdb/qserv/pkg/logutil"
	"github.com/qservdb/qserv/pkg/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.L().Fatal("qserv-worker exited with error", zap.Error(err))
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "qserv-worker",
		Short: "Runs the chunk-scanning worker gRPC service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.toml", "path to the worker's config.toml")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.LoadWorker(configPath)
	if err != nil {
		return errors.Annotate(err, "qserv-worker: load config")
	}

	if err := logutil.Init(logutil.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}); err != nil {
		return errors.Annotate(err, "qserv-worker: init logger")
	}
	defer logutil.Sync()

	built, err := worker.Bootstrap(cfg)
	if err != nil {
		return errors.Annotate(err, "qserv-worker: bootstrap")
	}
	defer built.Conns.Close()

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Annotatef(err, "qserv-worker: listen on %q", cfg.ListenAddr)
	}

	gsrv := grpc.NewServer(czarproto.ServerOption())
	worker.RegisterGRPC(gsrv, built.Server)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		log.L().Info("caught signal, shutting down", zap.String("signal", sig.String()))
		gsrv.GracefulStop()
	}()

	log.L().Info("qserv-worker listening", zap.String("addr", cfg.ListenAddr))
	return gsrv.Serve(lis)
}
