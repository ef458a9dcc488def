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

// Package source hosts the Source stage: it drives a ChainSyncClient
// from an intersection point and forwards each received block (spec
// §4.1). The intersection-resolution precedence it implements mirrors
// the Rust source's define_chainsync_start! macro: a persisted cursor
// always overrides configuration, which in turn overrides the
// configured fallback points.
package source

import (
	"context"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/cockroachdb/scrollsink/internal/util/notify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// CursorStore is implemented by a Sink backend capable of reporting the
// last block point it durably applied.
type CursorStore interface {
	LoadCursor(ctx context.Context) (chain.Point, error)
}

// IntersectConfig names the candidate chain positions to resume from,
// in the precedence order spec §6 defines: a persisted cursor wins
// over an explicit Point, which wins over Origin/Tip, and Fallbacks are
// tried in order only if the preceding choices are rejected by the
// remote node.
type IntersectConfig struct {
	// Origin requests the chain's genesis intersection.
	Origin bool
	// Tip requests the current tip as the intersection.
	Tip bool
	// Point, if non-zero, requests an intersection at this exact point.
	Point chain.Point
	// Fallbacks are additional candidate points tried, in order, if
	// the primary choice is no longer on the remote node's chain (for
	// example, after a deep rollback past Point).
	Fallbacks []chain.Point
}

// candidates returns the full ordered list of intersection points this
// config requests, cursor taking precedence when non-zero.
func (c IntersectConfig) candidates(cursor chain.Point) []chain.Point {
	var out []chain.Point
	if !cursor.IsZero() {
		out = append(out, cursor)
	}
	if !c.Point.IsZero() {
		out = append(out, c.Point)
	}
	out = append(out, c.Fallbacks...)
	return out
}

// ChainSyncClient is the external collaborator that actually speaks a
// chain-following protocol (e.g. Ouroboros chain-sync, a JSON-RPC
// polling client). Concrete clients are chain-specific and live outside
// this package.
type ChainSyncClient interface {
	// Intersect negotiates a starting position with the remote node.
	// When origin is true and points is empty, the client requests
	// genesis; when tip is true, it requests the current tip. points
	// are otherwise tried in order. The point actually agreed upon is
	// returned.
	Intersect(ctx context.Context, origin, tip bool, points []chain.Point) (chain.Point, error)
	// Next blocks until the next chain event is available: either a
	// new block to apply, or a rollback target to roll back to. Exactly
	// one of the two return values is non-nil/non-zero.
	Next(ctx context.Context) (block chain.Block, rollbackTo chain.Point, err error)
}

// Stage is the Source pipeline stage.
type Stage struct {
	client ChainSyncClient
	cfg    IntersectConfig
	cursor CursorStore
	out    *pipeline.Port[chain.Block]

	// Position, if set, is updated with the stage's current chain point
	// on every successful intersection and block delivery, so a health
	// or status endpoint can report liveness without reaching into the
	// pipeline's internals.
	Position *notify.Var[chain.Point]

	started bool
}

var _ pipeline.Stage = (*Stage)(nil)

// New returns a Source stage reading from client and forwarding blocks
// to out.
func New(client ChainSyncClient, cfg IntersectConfig, cursor CursorStore, out *pipeline.Port[chain.Block]) *Stage {
	return &Stage{client: client, cfg: cfg, cursor: cursor, out: out, Position: &notify.Var[chain.Point]{}}
}

func (s *Stage) Name() string { return "source" }

// Bootstrap negotiates the chain intersection. The persisted cursor, if
// any, always takes precedence over configuration (spec §6).
func (s *Stage) Bootstrap(ctx context.Context) error {
	cursor, err := s.cursor.LoadCursor(ctx)
	if err != nil {
		return errors.Wrap(err, "source: load cursor")
	}

	points := s.cfg.candidates(cursor)
	origin := s.cfg.Origin && cursor.IsZero() && s.cfg.Point.IsZero()
	tip := s.cfg.Tip && cursor.IsZero() && s.cfg.Point.IsZero()

	agreed, err := s.client.Intersect(ctx, origin, tip, points)
	if err != nil {
		return errors.Wrap(err, "source: intersect")
	}
	log.WithField("point", agreed.String()).Info("source: chain intersection established")
	s.started = true
	s.Position.Set(agreed)
	return nil
}

func (s *Stage) Teardown(context.Context) error { return nil }

// Work implements pipeline.Stage. A rollback reported by the client is
// forwarded downstream as a RollBack message, carried out-of-band from
// the Block stream (spec §3): Enrich, Reduce, and Sink each discard
// whatever they are holding for the retracted blocks and resume from
// the rollback point once it reaches them, rather than the stage
// itself restarting.
func (s *Stage) Work(ctx context.Context) error {
	block, rollbackTo, err := s.client.Next(ctx)
	if err != nil {
		return pipeline.WithKind(errors.Wrap(err, "source: next"), pipeline.ErrTransient)
	}

	if !rollbackTo.IsZero() {
		log.WithField("point", rollbackTo.String()).Warn("source: rollback requested")
		if err := s.out.SendRollBack(ctx, pipeline.RollBack{Point: rollbackTo}); err != nil {
			return err
		}
		s.Position.Set(rollbackTo)
		return nil
	}

	if err := s.out.Send(ctx, block); err != nil {
		return err
	}
	s.Position.Set(block.Point())
	return nil
}
