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

package pipeline

import (
	"context"
	"testing"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortRecvIsIdempotentWithoutCommit(t *testing.T) {
	p := NewPort[int](1)
	ctx := context.Background()
	require.NoError(t, p.Send(ctx, 42))

	first, rb, err := p.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, 42, first)

	// A second Recv without an intervening Commit must replay the same
	// message, modeling redelivery after a crash mid-processing.
	second, rb, err := p.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, 42, second)

	p.Commit()
	assert.Equal(t, 0, p.Len())
}

func TestPortCommitWithoutRecvPanics(t *testing.T) {
	p := NewPort[int](1)
	assert.Panics(t, func() { p.Commit() })
}

func TestPortSendRespectsContextCancellation(t *testing.T) {
	p := NewPort[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Send(ctx, 1)
	require.Error(t, err)
}

func TestPortRecvReportsRollBackOutOfBandFromPayload(t *testing.T) {
	p := NewPort[int](2)
	ctx := context.Background()
	require.NoError(t, p.Send(ctx, 1))
	require.NoError(t, p.SendRollBack(ctx, RollBack{Point: chain.Point{Slot: 9}}))

	first, rb, err := p.Recv(ctx)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, 1, first)
	p.Commit()

	second, rb, err := p.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, chain.Point{Slot: 9}, rb.Point)
	assert.Equal(t, 0, second, "a RollBack envelope carries T's zero value")
	p.Commit()
}

func TestPortLenAndCap(t *testing.T) {
	p := NewPort[int](4)
	ctx := context.Background()
	require.NoError(t, p.Send(ctx, 1))
	require.NoError(t, p.Send(ctx, 2))
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, 4, p.Cap())
}
