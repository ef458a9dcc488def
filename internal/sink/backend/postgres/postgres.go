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

package postgres

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline/sink"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var errNoRows = pgx.ErrNoRows

// schema is the DDL applied once at Backend construction, ported from
// the teacher's CreateSinkTable / CreateResolvedTable pattern: plain
// IF NOT EXISTS statements rather than a migration framework.
const schema = `
CREATE TABLE IF NOT EXISTS %[1]s.crdt_grow_only_set (key STRING, member STRING, PRIMARY KEY (key, member));
CREATE TABLE IF NOT EXISTS %[1]s.crdt_set (key STRING, member STRING, PRIMARY KEY (key, member));
CREATE TABLE IF NOT EXISTS %[1]s.crdt_two_phase_add (key STRING, member STRING, PRIMARY KEY (key, member));
CREATE TABLE IF NOT EXISTS %[1]s.crdt_two_phase_tombstone (key STRING, member STRING, PRIMARY KEY (key, member));
CREATE TABLE IF NOT EXISTS %[1]s.crdt_lww (key STRING PRIMARY KEY, value BYTES, ts INT8 NOT NULL);
CREATE TABLE IF NOT EXISTS %[1]s.crdt_any_write_wins (key STRING PRIMARY KEY, value BYTES);
CREATE TABLE IF NOT EXISTS %[1]s.crdt_sorted_set (key STRING, member STRING, score INT8 NOT NULL, PRIMARY KEY (key, member));
CREATE TABLE IF NOT EXISTS %[1]s.crdt_counter (key STRING PRIMARY KEY, value INT8 NOT NULL);
CREATE TABLE IF NOT EXISTS %[1]s.scrollsink_cursor (id STRING PRIMARY KEY, slot INT8 NOT NULL, hash BYTES NOT NULL);
`

// Config names the schema (database) holding scrollsink's tables and
// the id row of scrollsink_cursor to use, letting multiple pipeline
// instances share one database.
type Config struct {
	Schema   string
	CursorID string
}

// Backend is a sink.Backend persisting CRDT state to CockroachDB or
// PostgreSQL.
type Backend struct {
	pool *Pool
	cfg  Config
}

var _ sink.Backend = (*Backend)(nil)

// New applies schema (idempotently) and returns a Backend.
func New(ctx context.Context, pool *Pool, cfg Config) (*Backend, error) {
	if cfg.CursorID == "" {
		cfg.CursorID = "_cursor"
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schema, cfg.Schema)); err != nil {
		return nil, errors.Wrap(err, "postgres: create schema")
	}
	return &Backend{pool: pool, cfg: cfg}, nil
}

// table returns the fully-qualified name of a table in cfg.Schema.
func (b *Backend) table(name string) string {
	return fmt.Sprintf("%s.%s", b.cfg.Schema, name)
}

// encodeValue renders a model.Value to a tagged byte string so any of
// the four variants round-trips losslessly (spec §4.2).
func encodeValue(v model.Value) []byte {
	if s, ok := v.String(); ok {
		return append([]byte{'s'}, []byte(s)...)
	}
	if b, ok := v.Bytes(); ok {
		return append([]byte{'b'}, b...)
	}
	if i, ok := v.BigInt(); ok {
		return append([]byte{'i'}, []byte(i.String())...)
	}
	if j, ok := v.JSON(); ok {
		return append([]byte{'j'}, []byte(j)...)
	}
	return nil
}

func memberString(v model.Value) string {
	return hex.EncodeToString(encodeValue(v))
}

// ApplyBlock implements sink.Backend. Every command belonging to point,
// and the cursor write, land inside a single transaction: either all
// of it is visible or none of it is (spec §4.5).
func (b *Backend) ApplyBlock(ctx context.Context, point chain.Point, cmds []model.CRDTCommand) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx)

	for _, cmd := range cmds {
		if err := b.applyOne(ctx, tx, cmd); err != nil {
			return errors.Wrapf(err, "postgres: apply %s at key %q", cmd.Kind, cmd.Key)
		}
	}

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPSERT INTO %s (id, slot, hash) VALUES ($1, $2, $3)`, b.table("scrollsink_cursor")),
		b.cfg.CursorID, point.Slot, point.Hash[:],
	); err != nil {
		return errors.Wrap(err, "postgres: write cursor")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "postgres: commit")
	}
	log.WithField("point", point.String()).Debug("postgres: block applied")
	return nil
}

func (b *Backend) applyOne(ctx context.Context, tx Querier, cmd model.CRDTCommand) error {
	switch cmd.Kind {
	case model.KindBlockStarting, model.KindBlockFinished:
		return nil

	case model.KindGrowOnlySetAdd:
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`UPSERT INTO %s (key, member) VALUES ($1, $2)`, b.table("crdt_grow_only_set")),
			cmd.Key, memberString(cmd.Value))
		return err

	case model.KindSetAdd:
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`UPSERT INTO %s (key, member) VALUES ($1, $2)`, b.table("crdt_set")),
			cmd.Key, memberString(cmd.Value))
		return err

	case model.KindSetRemove:
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE key = $1 AND member = $2`, b.table("crdt_set")),
			cmd.Key, memberString(cmd.Value))
		return err

	case model.KindTwoPhaseSetAdd:
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`UPSERT INTO %s (key, member) VALUES ($1, $2)`, b.table("crdt_two_phase_add")),
			cmd.Key, memberString(cmd.Value))
		return err

	case model.KindTwoPhaseSetRemove:
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`UPSERT INTO %s (key, member) VALUES ($1, $2)`, b.table("crdt_two_phase_tombstone")),
			cmd.Key, memberString(cmd.Value))
		return err

	case model.KindLastWriteWins:
		// CockroachDB's UPSERT shorthand cannot be combined with an
		// explicit ON CONFLICT clause or a WHERE condition; the
		// conditional overwrite has to be spelled out as a real INSERT
		// .. ON CONFLICT .. DO UPDATE .. WHERE.
		_, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %[1]s (key, value, ts) VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value, ts = excluded.ts
			 WHERE excluded.ts >= %[1]s.ts`,
			b.table("crdt_lww")),
			cmd.Key, encodeValue(cmd.Value), cmd.Timestamp)
		return err

	case model.KindAnyWriteWins:
		_, err := tx.Exec(ctx,
			fmt.Sprintf(`UPSERT INTO %s (key, value) VALUES ($1, $2)`, b.table("crdt_any_write_wins")),
			cmd.Key, encodeValue(cmd.Value))
		return err

	case model.KindSortedSetAdd, model.KindSortedSetRemove:
		// As above: UPSERT and an explicit ON CONFLICT DO UPDATE are
		// mutually exclusive, so the increment has to go through a
		// plain INSERT .. ON CONFLICT.
		_, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %[1]s (key, member, score) VALUES ($1, $2, $3)
			 ON CONFLICT (key, member) DO UPDATE SET score = %[1]s.score + excluded.score`,
			b.table("crdt_sorted_set")),
			cmd.Key, cmd.Member, cmd.Delta)
		return err

	case model.KindPNCounter:
		_, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %[1]s (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = %[1]s.value + excluded.value`,
			b.table("crdt_counter")),
			cmd.Key, cmd.Delta)
		return err

	default:
		return errors.Errorf("unknown command kind %v", cmd.Kind)
	}
}

// LoadCursor returns the last persisted cursor for cfg.CursorID, or
// the zero Point if none has been written yet.
func (b *Backend) LoadCursor(ctx context.Context) (chain.Point, error) {
	row := b.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT slot, hash FROM %s WHERE id = $1`, b.table("scrollsink_cursor")),
		b.cfg.CursorID)
	var p chain.Point
	var hash []byte
	if err := row.Scan(&p.Slot, &hash); err != nil {
		if errors.Is(err, errNoRows) {
			return chain.Point{}, nil
		}
		return chain.Point{}, errors.Wrap(err, "postgres: load cursor")
	}
	copy(p.Hash[:], hash)
	return p, nil
}
