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

package css

import (
	"context"
	"strings"

	"github.com/pingcap/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// MaxKeyLength is the metadata store's key-length limit per spec.md §6.
const MaxKeyLength = 255

// ErrKeyExists is returned by Create when the key already exists.
var ErrKeyExists = errors.New("css: key exists")

// ErrNoSuchKey is returned by Get/Delete/GetChildren when the key is absent.
var ErrNoSuchKey = errors.New("css: no such key")

// KvInterface is the slash-delimited key-value tree contract the core uses
// against the persistent metadata store. It is a thin, explicit interface
// so components depend on the contract, not on etcd directly.
type KvInterface interface {
	Create(ctx context.Context, key, value string) error
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	GetChildren(ctx context.Context, key string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// EtcdKv implements KvInterface on top of an etcd v3 client.
type EtcdKv struct {
	cli *clientv3.Client
}

// NewEtcdKv wraps an already-constructed etcd client.
func NewEtcdKv(cli *clientv3.Client) *EtcdKv {
	return &EtcdKv{cli: cli}
}

func validateKey(key string) error {
	if len(key) > MaxKeyLength {
		return errors.Errorf("css: key %q exceeds max length %d", key, MaxKeyLength)
	}
	if key == "" || !strings.HasPrefix(key, "/") {
		return errors.Errorf("css: key %q must be a non-empty slash-delimited path", key)
	}
	return nil
}

// Create inserts key=value, failing with ErrKeyExists if key is already
// present. Implemented with an etcd transaction so the check-and-set is
// atomic under concurrent czar processes sharing the same metadata store.
func (k *EtcdKv) Create(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	txn := k.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value))
	resp, err := txn.Commit()
	if err != nil {
		return errors.Annotatef(err, "css: create %q", key)
	}
	if !resp.Succeeded {
		return errors.Annotatef(ErrKeyExists, "css: create %q", key)
	}
	return nil
}

// Set writes key=value unconditionally, creating it if absent.
func (k *EtcdKv) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := k.cli.Put(ctx, key, value)
	if err != nil {
		return errors.Annotatef(err, "css: set %q", key)
	}
	return nil
}

// Get reads the value at key.
func (k *EtcdKv) Get(ctx context.Context, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	resp, err := k.cli.Get(ctx, key)
	if err != nil {
		return "", errors.Annotatef(err, "css: get %q", key)
	}
	if len(resp.Kvs) == 0 {
		return "", errors.Annotatef(ErrNoSuchKey, "css: get %q", key)
	}
	return string(resp.Kvs[0].Value), nil
}

// GetChildren lists the immediate child key segments under key.
func (k *EtcdKv) GetChildren(ctx context.Context, key string) ([]string, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(key, "/") + "/"
	resp, err := k.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Annotatef(err, "css: getChildren %q", key)
	}
	if len(resp.Kvs) == 0 {
		return nil, errors.Annotatef(ErrNoSuchKey, "css: getChildren %q", key)
	}

	seen := make(map[string]struct{})
	var children []string
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		if rest == "" {
			continue
		}
		child := rest
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			child = rest[:idx]
		}
		if _, dup := seen[child]; dup {
			continue
		}
		seen[child] = struct{}{}
		children = append(children, child)
	}
	return children, nil
}

// Delete removes key (and, transitively, anything stored under it as a
// prefix) from the tree.
func (k *EtcdKv) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	resp, err := k.cli.Delete(ctx, key, clientv3.WithPrefix())
	if err != nil {
		return errors.Annotatef(err, "css: delete %q", key)
	}
	if resp.Deleted == 0 {
		return errors.Annotatef(ErrNoSuchKey, "css: delete %q", key)
	}
	return nil
}
