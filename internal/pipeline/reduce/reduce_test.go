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

package reduce_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce"
	"github.com/cockroachdb/scrollsink/internal/sinktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constReducer struct {
	name string
	cmds []model.CRDTCommand
	err  error
}

func (r constReducer) Name() string { return r.name }

func (r constReducer) ReduceBlock(*model.BlockContext, chain.Block, func(model.CRDTCommand)) error {
	return r.err
}

type emittingReducer struct{ cmds []model.CRDTCommand }

func (emittingReducer) Name() string { return "emitting" }

func (r emittingReducer) ReduceBlock(_ *model.BlockContext, _ chain.Block, emit func(model.CRDTCommand)) error {
	for _, c := range r.cmds {
		emit(c)
	}
	return nil
}

func TestReduceFramesCommandsWithBlockStartingAndFinished(t *testing.T) {
	in := pipeline.NewPort[reduce.Input](1)
	out := pipeline.NewPort[model.CRDTCommand](8)

	r := emittingReducer{cmds: []model.CRDTCommand{model.PNCounter("k", 1)}}
	stage := reduce.New(in, out, []reduce.Reducer{r})

	point := chain.Point{Slot: 7}
	block := &sinktest.Block{At: point}
	ctx := context.Background()
	require.NoError(t, in.Send(ctx, reduce.Input{Block: block, Ctx: sinktest.BlockContext(nil)}))
	require.NoError(t, stage.Work(ctx))

	first, rb, err := out.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, model.KindBlockStarting, first.Kind)
	out.Commit()

	second, rb, err := out.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, model.KindPNCounter, second.Kind)
	out.Commit()

	third, rb, err := out.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, model.KindBlockFinished, third.Kind)
	assert.Equal(t, point, third.Point)
}

func TestReduceRunsReducersInRegistrationOrder(t *testing.T) {
	in := pipeline.NewPort[reduce.Input](1)
	out := pipeline.NewPort[model.CRDTCommand](8)

	first := emittingReducer{cmds: []model.CRDTCommand{model.PNCounter("first", 1)}}
	second := emittingReducer{cmds: []model.CRDTCommand{model.PNCounter("second", 1)}}
	stage := reduce.New(in, out, []reduce.Reducer{first, second})

	block := &sinktest.Block{At: chain.Point{Slot: 1}}
	ctx := context.Background()
	require.NoError(t, in.Send(ctx, reduce.Input{Block: block, Ctx: sinktest.BlockContext(nil)}))
	require.NoError(t, stage.Work(ctx))

	var keys []string
	for i := 0; i < 4; i++ {
		cmd, _, err := out.Recv(ctx)
		require.NoError(t, err)
		out.Commit()
		if cmd.Kind == model.KindPNCounter {
			keys = append(keys, cmd.Key)
		}
	}
	assert.Equal(t, []string{"first", "second"}, keys)
}

func TestReduceReducerFailureIsDataIntegrity(t *testing.T) {
	in := pipeline.NewPort[reduce.Input](1)
	out := pipeline.NewPort[model.CRDTCommand](8)

	failing := constReducer{name: "broken", err: assertError{}}
	stage := reduce.New(in, out, []reduce.Reducer{failing})

	block := &sinktest.Block{At: chain.Point{Slot: 1}}
	ctx := context.Background()
	require.NoError(t, in.Send(ctx, reduce.Input{Block: block, Ctx: sinktest.BlockContext(nil)}))

	err := stage.Work(ctx)
	require.Error(t, err)
	assert.Equal(t, pipeline.OrPanic, pipeline.Classify(err))
}

type assertError struct{}

func (assertError) Error() string { return "reducer exploded" }

func TestReduceForwardsRollBackWithoutInvokingReducers(t *testing.T) {
	in := pipeline.NewPort[reduce.Input](1)
	out := pipeline.NewPort[model.CRDTCommand](8)

	failing := constReducer{name: "broken", err: assertError{}}
	stage := reduce.New(in, out, []reduce.Reducer{failing})

	ctx := context.Background()
	require.NoError(t, in.SendRollBack(ctx, pipeline.RollBack{Point: chain.Point{Slot: 4}}))
	require.NoError(t, stage.Work(ctx))

	_, rb, err := out.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, chain.Point{Slot: 4}, rb.Point)
}
