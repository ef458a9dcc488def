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

// Package reduce hosts the Reduce stage: it invokes every configured
// Reducer against each block and forwards their emitted CRDT commands,
// framed by BlockStarting/BlockFinished (spec §4.3).
package reduce

import (
	"context"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Reducer is a stateful, configuration-only object invoked once per
// block. Implementations must be pure functions of (block, ctx) modulo
// their immutable configuration (spec §4.3).
type Reducer interface {
	Name() string
	ReduceBlock(ctx *model.BlockContext, block chain.Block, emit func(model.CRDTCommand)) error
}

// Input is what the Enrich stage hands to Reduce for one block.
type Input struct {
	Block chain.Block
	Ctx   *model.BlockContext
}

// Stage is the Reduce pipeline stage. It is deliberately sequential
// across reducers (spec §9 "Fan-out without concurrency") so that
// command order stays stable across replays.
type Stage struct {
	in       *pipeline.Port[Input]
	out      *pipeline.Port[model.CRDTCommand]
	reducers []Reducer
}

var _ pipeline.Stage = (*Stage)(nil)

// New returns a Reduce stage invoking reducers in registration order.
func New(in *pipeline.Port[Input], out *pipeline.Port[model.CRDTCommand], reducers []Reducer) *Stage {
	return &Stage{in: in, out: out, reducers: reducers}
}

func (s *Stage) Name() string { return "reduce" }

func (s *Stage) Bootstrap(context.Context) error { return nil }

func (s *Stage) Teardown(context.Context) error { return nil }

// Work implements pipeline.Stage. A RollBack received on in is passed
// straight through to out without invoking any reducer: reducers are
// stateless across blocks (spec §4.3), so there is nothing of theirs to
// unwind here. Sink is where a rollback actually takes effect.
func (s *Stage) Work(ctx context.Context) error {
	input, rb, err := s.in.Recv(ctx)
	if err != nil {
		return err
	}
	if rb != nil {
		if err := s.out.SendRollBack(ctx, *rb); err != nil {
			return pipeline.WithKind(err, pipeline.ErrTransient)
		}
		s.in.Commit()
		return nil
	}

	point := input.Block.Point()

	if err := s.out.Send(ctx, model.BlockStarting(point)); err != nil {
		return pipeline.WithKind(err, pipeline.ErrTransient)
	}

	for _, r := range s.reducers {
		emit := func(cmd model.CRDTCommand) {
			if sendErr := s.out.Send(ctx, cmd); sendErr != nil {
				err = sendErr
			}
		}
		if rerr := r.ReduceBlock(input.Ctx, input.Block, emit); rerr != nil {
			log.WithFields(log.Fields{"reducer": r.Name(), "point": point.String()}).
				WithError(rerr).Error("reducer failed")
			return pipeline.WithKind(errors.Wrapf(rerr, "reducer %s", r.Name()), pipeline.ErrDataIntegrity)
		}
		if err != nil {
			return pipeline.WithKind(err, pipeline.ErrTransient)
		}
	}

	if err := s.out.Send(ctx, model.BlockFinished(point)); err != nil {
		return pipeline.WithKind(err, pipeline.ErrTransient)
	}

	s.in.Commit()
	return nil
}
