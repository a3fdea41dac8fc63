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

// Package logutil initializes the process-wide zap logger backing
// github.com/pingcap/log, once, for both the czar and worker binaries.
// Every other package threads a *zap.Logger through its own
// constructor (log.L().With(...)) rather than calling the global
// logger directly; this package exists only for that one guarded
// process-wide init, per SPEC_FULL.md §9 "Global singleton state".
package logutil

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var initOnce sync.Once

// Config controls the process-wide logger's format and destination.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Empty means "info".
	Level string
	// Format is "json" or "console". Empty means "console".
	Format string
	// File, if set, writes logs there (with rotation) instead of stderr.
	File string
}

// Init installs cfg as the process-wide logger exactly once; later
// calls are no-ops, so cmd/qserv-czar and cmd/qserv-worker can both
// call it unconditionally during bootstrap without double-initializing
// a shared test binary.
func Init(cfg Config) error {
	var initErr error
	initOnce.Do(func() {
		logCfg := &log.Config{
			Level:  levelOrDefault(cfg.Level),
			Format: formatOrDefault(cfg.Format),
		}
		if cfg.File != "" {
			logCfg.File = log.FileLogConfig{Filename: cfg.File}
		}
		logger, props, err := log.InitLogger(logCfg)
		if err != nil {
			initErr = err
			return
		}
		log.ReplaceGlobals(logger, props)
	})
	return initErr
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

func formatOrDefault(format string) string {
	if format == "" {
		return "console"
	}
	return format
}

// Sync flushes any buffered log entries; call it once before process
// exit (deferred from main).
func Sync() {
	_ = log.L().Sync()
}

// With is a thin convenience wrapper so callers building a per-
// component logger don't need their own pingcap/log + zap imports just
// to call log.L().With(...).
func With(fields ...zap.Field) *zap.Logger {
	return log.L().With(fields...)
}

// ParseLevel validates a configured level string against zapcore's
// known levels, for config validation at startup rather than at first
// log call.
func ParseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(levelOrDefault(level))); err != nil {
		return 0, err
	}
	return l, nil
}
