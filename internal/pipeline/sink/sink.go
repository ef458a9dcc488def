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

// Package sink hosts the Sink stage: it applies each block's CRDT
// commands to a storage Backend and persists the cursor, in that
// order, only then committing the input port (spec §4.5 "cursor-after-
// commit rule"). A RollBack received in place of a command discards
// whatever is buffered for the block in flight; the backend's cursor
// is rewritten naturally by the BlockFinished of the first block
// applied after the rollback (spec §8 S6).
package sink

import (
	"context"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/cockroachdb/scrollsink/internal/util/msort"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Backend applies a batch of CRDT commands belonging to a single block
// and records the new cursor. Implementations must treat a batch as one
// atomic unit: either all commands and the cursor write land, or none
// do (spec §4.5).
type Backend interface {
	// ApplyBlock applies cmds, all belonging to the block at point, and
	// persists point as the new cursor, atomically.
	ApplyBlock(ctx context.Context, point chain.Point, cmds []model.CRDTCommand) error
}

// Stage is the Sink pipeline stage.
type Stage struct {
	in      *pipeline.Port[model.CRDTCommand]
	backend Backend

	pending []model.CRDTCommand
}

var _ pipeline.Stage = (*Stage)(nil)

// New returns a Sink stage applying commands read from in to backend.
func New(in *pipeline.Port[model.CRDTCommand], backend Backend) *Stage {
	return &Stage{in: in, backend: backend}
}

func (s *Stage) Name() string { return "sink" }

func (s *Stage) Bootstrap(context.Context) error { return nil }

func (s *Stage) Teardown(context.Context) error { return nil }

// Work implements pipeline.Stage. It accumulates commands for one block
// and, on BlockFinished, flushes them to the backend before committing
// the input port. BlockStarting clears the buffer and is not passed to
// the backend, which receives only the point carried by BlockFinished.
// A RollBack
// drops whatever is buffered for the block that got retracted, exactly
// as a BlockStarting would: the next block's BlockFinished carries the
// pipeline forward from the rollback point without any separate cursor
// write here.
func (s *Stage) Work(ctx context.Context) error {
	cmd, rb, err := s.in.Recv(ctx)
	if err != nil {
		return err
	}

	if rb != nil {
		log.WithField("point", rb.Point.String()).Warn("sink: rollback received, discarding buffered block")
		s.pending = s.pending[:0]
		s.in.Commit()
		return nil
	}

	switch cmd.Kind {
	case model.KindBlockStarting:
		s.pending = s.pending[:0]
		s.in.Commit()
		return nil

	case model.KindBlockFinished:
		// Collapse redundant idempotent writes before handing the batch
		// to the backend: cheaper for the backend, and harmless since
		// msort.UniqueByKey only drops commands whose effect a kept
		// command already produces.
		s.pending = msort.UniqueByKey(s.pending)
		if err := s.backend.ApplyBlock(ctx, cmd.Point, s.pending); err != nil {
			log.WithField("point", cmd.Point.String()).WithError(err).Error("sink apply failed")
			return pipeline.WithKind(errors.Wrap(err, "sink: apply block"), pipeline.ErrTransient)
		}
		s.pending = s.pending[:0]
		// Per the cursor-after-commit rule, the input port commit
		// (which releases upstream's at-least-once redelivery window)
		// happens only once the backend has durably recorded both the
		// commands and the cursor.
		s.in.Commit()
		return nil

	default:
		s.pending = append(s.pending, cmd)
		s.in.Commit()
		return nil
	}
}
