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

package source_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/cockroachdb/scrollsink/internal/pipeline/source"
	"github.com/cockroachdb/scrollsink/internal/sinktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCursorStore struct{ point chain.Point }

func (f fakeCursorStore) LoadCursor(context.Context) (chain.Point, error) { return f.point, nil }

type fakeClient struct {
	gotOrigin bool
	gotTip    bool
	gotPoints []chain.Point
	agreed    chain.Point

	blocks     []chain.Block
	rollbackTo chain.Point
	nextCalls  int
}

func (f *fakeClient) Intersect(_ context.Context, origin, tip bool, points []chain.Point) (chain.Point, error) {
	f.gotOrigin, f.gotTip, f.gotPoints = origin, tip, points
	return f.agreed, nil
}

func (f *fakeClient) Next(context.Context) (chain.Block, chain.Point, error) {
	defer func() { f.nextCalls++ }()
	if f.nextCalls < len(f.blocks) {
		return f.blocks[f.nextCalls], chain.Point{}, nil
	}
	return nil, f.rollbackTo, nil
}

func TestBootstrapPrefersPersistedCursorOverConfig(t *testing.T) {
	client := &fakeClient{agreed: chain.Point{Slot: 50}}
	cursor := fakeCursorStore{point: chain.Point{Slot: 50}}
	cfg := source.IntersectConfig{Origin: true, Point: chain.Point{Slot: 10}}
	out := pipeline.NewPort[chain.Block](1)

	stage := source.New(client, cfg, cursor, out)
	require.NoError(t, stage.Bootstrap(context.Background()))

	assert.False(t, client.gotOrigin, "a persisted cursor must suppress Origin")
	require.Len(t, client.gotPoints, 2)
	assert.Equal(t, chain.Point{Slot: 50}, client.gotPoints[0], "cursor takes precedence")
	assert.Equal(t, chain.Point{Slot: 10}, client.gotPoints[1])

	point, _ := stage.Position.Get()
	assert.Equal(t, chain.Point{Slot: 50}, point)
}

func TestBootstrapRequestsOriginWhenNoCursorOrPoint(t *testing.T) {
	client := &fakeClient{}
	cursor := fakeCursorStore{}
	cfg := source.IntersectConfig{Origin: true}
	out := pipeline.NewPort[chain.Block](1)

	stage := source.New(client, cfg, cursor, out)
	require.NoError(t, stage.Bootstrap(context.Background()))
	assert.True(t, client.gotOrigin)
}

func TestWorkForwardsBlockAndUpdatesPosition(t *testing.T) {
	block := &sinktest.Block{At: chain.Point{Slot: 100}}
	client := &fakeClient{blocks: []chain.Block{block}}
	cursor := fakeCursorStore{}
	out := pipeline.NewPort[chain.Block](1)

	stage := source.New(client, source.IntersectConfig{}, cursor, out)
	require.NoError(t, stage.Work(context.Background()))

	got, rb, err := out.Recv(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, block, got)

	point, _ := stage.Position.Get()
	assert.Equal(t, chain.Point{Slot: 100}, point)
}

func TestWorkSendsRollBackOutOfBandAndUpdatesPosition(t *testing.T) {
	client := &fakeClient{rollbackTo: chain.Point{Slot: 5}}
	cursor := fakeCursorStore{}
	out := pipeline.NewPort[chain.Block](1)

	stage := source.New(client, source.IntersectConfig{}, cursor, out)
	require.NoError(t, stage.Work(context.Background()))

	_, rb, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, chain.Point{Slot: 5}, rb.Point)

	point, _ := stage.Position.Get()
	assert.Equal(t, chain.Point{Slot: 5}, point)
}
