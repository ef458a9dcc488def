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

package reducers

import (
	"encoding/hex"
	"testing"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/sinktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressByAssetRequiresPolicy(t *testing.T) {
	_, err := NewAddressByAsset(AddressByAssetConfig{})
	require.Error(t, err)
}

func TestAddressByAssetEmitsAnyWriteWins(t *testing.T) {
	var policyBytes [28]byte
	copy(policyBytes[:], []byte{0xaa, 0xbb, 0xcc})
	policy := hex.EncodeToString(policyBytes[:])

	r, err := NewAddressByAsset(AddressByAssetConfig{PolicyIDHex: policy, ConvertToAscii: true})
	require.NoError(t, err)

	out := &sinktest.Output{
		Addr: "addr1qtest",
		AssetBundl: []chain.Asset{
			{PolicyID: policyBytes, Name: []byte("token"), Quantity: 1},
		},
	}
	block := &sinktest.Block{
		At:  chain.Point{Slot: 10},
		All: []chain.Tx{&sinktest.Tx{Outputs: []chain.TxOutput{out}, Bytes: []byte{1}}},
	}

	cmds, err := sinktest.CollectCommands(sinktest.BlockContext(nil), block, r)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "address_by_asset.token", cmds[0].Key)
	s, ok := cmds[0].Value.String()
	require.True(t, ok)
	assert.Equal(t, "addr1qtest", s)
}

func TestAddressByAssetSkipsNonMatchingPolicy(t *testing.T) {
	r, err := NewAddressByAsset(AddressByAssetConfig{PolicyIDHex: "aabbcc"})
	require.NoError(t, err)

	var other [28]byte
	copy(other[:], []byte{0x01, 0x02, 0x03})

	out := &sinktest.Output{
		Addr:       "addr1qother",
		AssetBundl: []chain.Asset{{PolicyID: other, Name: []byte("x"), Quantity: 1}},
	}
	block := &sinktest.Block{
		At:  chain.Point{Slot: 1},
		All: []chain.Tx{&sinktest.Tx{Outputs: []chain.TxOutput{out}, Bytes: []byte{1}}},
	}

	cmds, err := sinktest.CollectCommands(sinktest.BlockContext(nil), block, r)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestAddressByAssetUnresolvableAddressFails(t *testing.T) {
	var policyBytes [28]byte
	copy(policyBytes[:], []byte{0xaa, 0xbb, 0xcc})

	r, err := NewAddressByAsset(AddressByAssetConfig{PolicyIDHex: hex.EncodeToString(policyBytes[:])})
	require.NoError(t, err)

	out := &sinktest.Output{
		AddrErr:    assert.AnError,
		AssetBundl: []chain.Asset{{PolicyID: policyBytes, Name: []byte("x"), Quantity: 1}},
	}
	block := &sinktest.Block{
		At:  chain.Point{Slot: 1},
		All: []chain.Tx{&sinktest.Tx{Outputs: []chain.TxOutput{out}, Bytes: []byte{1}}},
	}

	_, err = sinktest.CollectCommands(sinktest.BlockContext(nil), block, r)
	require.Error(t, err)
}
