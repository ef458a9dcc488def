// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package postgres is a sink.Backend storing CRDT state in a
// CockroachDB or PostgreSQL database reached through pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Querier is implemented by pgxpool.Pool, pgxpool.Conn, and pgx.Tx,
// giving call sites flexibility over whether they hold a pooled
// connection or an in-flight transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (*pgxpool.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// Pool wraps a pgxpool.Pool with the connection string it was built
// from, for diagnostics.
type Pool struct {
	*pgxpool.Pool
	ConnectionString string
}

// Connect opens a pool against connString.
func Connect(ctx context.Context, connString string) (*Pool, func(), error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, func() {}, errors.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, func() {}, errors.Wrap(err, "postgres: ping")
	}
	return &Pool{Pool: pool, ConnectionString: connString}, pool.Close, nil
}
