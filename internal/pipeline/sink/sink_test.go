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

package sink_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/cockroachdb/scrollsink/internal/pipeline/sink"
	memorybackend "github.com/cockroachdb/scrollsink/internal/sink/backend/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedBlock(t *testing.T, in *pipeline.Port[model.CRDTCommand], point chain.Point, cmds ...model.CRDTCommand) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, in.Send(ctx, model.BlockStarting(point)))
	for _, c := range cmds {
		require.NoError(t, in.Send(ctx, c))
	}
	require.NoError(t, in.Send(ctx, model.BlockFinished(point)))
}

func TestSinkAppliesBufferedCommandsOnBlockFinished(t *testing.T) {
	in := pipeline.NewPort[model.CRDTCommand](8)
	backend := memorybackend.New()
	stage := sink.New(in, backend)

	point := chain.Point{Slot: 1}
	feedBlock(t, in, point, model.PNCounter("supply.x", 5), model.PNCounter("supply.x", 3))

	ctx := context.Background()
	require.NoError(t, stage.Work(ctx)) // BlockStarting
	require.NoError(t, stage.Work(ctx)) // first command buffered
	require.NoError(t, stage.Work(ctx)) // second command buffered
	require.NoError(t, stage.Work(ctx)) // BlockFinished: flush

	assert.Equal(t, int64(8), backend.Counter("supply.x"))
	assert.Equal(t, point, backend.Cursor())
}

func TestSinkDeduplicatesIdempotentCommandsWithinABlock(t *testing.T) {
	in := pipeline.NewPort[model.CRDTCommand](8)
	backend := memorybackend.New()
	stage := sink.New(in, backend)

	point := chain.Point{Slot: 1}
	// AnyWriteWins is idempotent: two writes to the same key within one
	// block collapse to the last one before reaching the backend.
	feedBlock(t, in, point,
		model.AnyWriteWins("addr.tok", model.StringValue("first")),
		model.AnyWriteWins("addr.tok", model.StringValue("second")),
	)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, stage.Work(ctx))
	}

	v, ok := backend.AnyWriteWins("addr.tok")
	require.True(t, ok)
	s, _ := v.String()
	assert.Equal(t, "second", s)
}

func TestSinkCommitsPortOnlyAfterSuccessfulApply(t *testing.T) {
	in := pipeline.NewPort[model.CRDTCommand](8)
	backend := &failingBackend{}
	stage := sink.New(in, backend)

	point := chain.Point{Slot: 1}
	feedBlock(t, in, point, model.PNCounter("x", 1))

	ctx := context.Background()
	require.NoError(t, stage.Work(ctx)) // BlockStarting
	require.NoError(t, stage.Work(ctx)) // buffer command

	err := stage.Work(ctx) // BlockFinished: backend fails
	require.Error(t, err)
	assert.True(t, pipelineIsTransient(err))

	// The input port must still hold the uncommitted BlockFinished
	// message: Recv again returns the same message rather than the
	// next one, proving Commit was never called.
	msg, rb, err := in.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, model.KindBlockFinished, msg.Kind)
}

func TestSinkRollBackDiscardsBufferedBlockWithoutApplying(t *testing.T) {
	in := pipeline.NewPort[model.CRDTCommand](8)
	backend := memorybackend.New()
	stage := sink.New(in, backend)

	point := chain.Point{Slot: 1}
	ctx := context.Background()
	require.NoError(t, in.Send(ctx, model.BlockStarting(point)))
	require.NoError(t, in.Send(ctx, model.PNCounter("x", 1)))
	require.NoError(t, in.SendRollBack(ctx, pipeline.RollBack{Point: chain.Point{Slot: 0}}))

	require.NoError(t, stage.Work(ctx)) // BlockStarting
	require.NoError(t, stage.Work(ctx)) // buffer command
	require.NoError(t, stage.Work(ctx)) // RollBack: discard buffered command

	// Nothing was ever applied to the backend for the retracted block.
	assert.Equal(t, int64(0), backend.Counter("x"))
	assert.Equal(t, chain.Point{}, backend.Cursor())

	// A real block after the rollback still applies and writes the
	// cursor normally, with no trace of the discarded command.
	feedBlock(t, in, chain.Point{Slot: 2}, model.PNCounter("x", 7))
	for i := 0; i < 3; i++ {
		require.NoError(t, stage.Work(ctx))
	}
	assert.Equal(t, int64(7), backend.Counter("x"))
	assert.Equal(t, chain.Point{Slot: 2}, backend.Cursor())
}

type failingBackend struct{}

func (f *failingBackend) ApplyBlock(context.Context, chain.Point, []model.CRDTCommand) error {
	return assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "backend unavailable" }

func pipelineIsTransient(err error) bool {
	return pipeline.Classify(err) == pipeline.OrRetry
}
