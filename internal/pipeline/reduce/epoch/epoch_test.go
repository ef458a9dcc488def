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

package epoch_test

import (
	"testing"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce/epoch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsEmptyConfig(t *testing.T) {
	require.Error(t, epoch.Config(nil).Validate())
}

func TestValidateRejectsZeroEpochLength(t *testing.T) {
	cfg := epoch.Config{{StartSlot: 0, EpochLength: 0, FirstEpoch: 0}}
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := epoch.Config{
		{StartSlot: 0, EpochLength: 100, FirstEpoch: 0},
		{StartSlot: 1000, EpochLength: 50, FirstEpoch: 10},
	}
	require.NoError(t, cfg.Validate())
}

func TestAtUsesTheLastEraStartingAtOrBeforeThePoint(t *testing.T) {
	cfg := epoch.Config{
		{StartSlot: 0, EpochLength: 100, FirstEpoch: 0},
		{StartSlot: 1000, EpochLength: 50, FirstEpoch: 10},
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(2), cfg.At(chain.Point{Slot: 250}))
	assert.Equal(t, uint64(10), cfg.At(chain.Point{Slot: 1000}))
	assert.Equal(t, uint64(11), cfg.At(chain.Point{Slot: 1050}))
}
