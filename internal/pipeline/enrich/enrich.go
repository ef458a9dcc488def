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

// Package enrich hosts the Enrich stage: it resolves every input a
// block's transactions spend into the output that created it, building
// the model.BlockContext reducers consult (spec §4.2, §3 Ownership).
package enrich

import (
	"context"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce"
	"github.com/pkg/errors"
)

// Lookup is the external collaborator that resolves a prior output by
// reference: a UTXO set, an indexed node RPC, or a local cache fed by
// Produces() of blocks already seen.
type Lookup interface {
	ResolveOutput(ctx context.Context, ref chain.OutputRef) (chain.TxOutput, error)
}

// Stage is the Enrich pipeline stage.
type Stage struct {
	in     *pipeline.Port[chain.Block]
	out    *pipeline.Port[reduce.Input]
	lookup Lookup
}

var _ pipeline.Stage = (*Stage)(nil)

// New returns an Enrich stage resolving inputs via lookup.
func New(in *pipeline.Port[chain.Block], out *pipeline.Port[reduce.Input], lookup Lookup) *Stage {
	return &Stage{in: in, out: out, lookup: lookup}
}

func (s *Stage) Name() string { return "enrich" }

func (s *Stage) Bootstrap(context.Context) error { return nil }

func (s *Stage) Teardown(context.Context) error { return nil }

// Work implements pipeline.Stage. It resolves every TxInput of every Tx
// in the block; per spec §3, a partial resolution is a data-integrity
// failure, not a value to hand reducers, since reducers assume totality
// and a silent miss would corrupt their output. A RollBack received on
// in is forwarded to out untouched: Enrich holds no state of its own
// that a rollback needs to unwind.
func (s *Stage) Work(ctx context.Context) error {
	block, rb, err := s.in.Recv(ctx)
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

	bctx := model.NewBlockContext()
	for _, tx := range block.Txs() {
		for _, in := range tx.Consumes() {
			ref := in.OutputRef()
			out, err := s.lookup.ResolveOutput(ctx, ref)
			if err != nil {
				return pipeline.WithKind(
					errors.Wrapf(err, "enrich: resolve input %s", ref), pipeline.ErrDataIntegrity)
			}
			bctx.Put(ref, out)
		}
	}

	if err := s.out.Send(ctx, reduce.Input{Block: block, Ctx: bctx}); err != nil {
		return pipeline.WithKind(err, pipeline.ErrTransient)
	}
	s.in.Commit()
	return nil
}
