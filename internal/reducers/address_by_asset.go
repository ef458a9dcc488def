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

// Package reducers contains the three reducers named in spec §4.3,
// ported from _examples/original_source/src/reducers/*.rs.
package reducers

import (
	"fmt"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce"
	"github.com/pkg/errors"
)

const addressByAssetDefaultPrefix = "address_by_asset"

// AddressByAssetConfig configures the address_by_asset reducer (spec
// §4.3.1), ported from address_by_asset.rs's Config struct.
type AddressByAssetConfig struct {
	PolicyIDHex    string
	KeyPrefix      string
	ConvertToAscii bool
	Filter         reduce.Predicate
}

// AddressByAsset projects asset -> owning address for every output
// whose assets match PolicyIDHex.
type AddressByAsset struct {
	cfg AddressByAssetConfig
}

var _ reduce.Reducer = (*AddressByAsset)(nil)

// NewAddressByAsset validates cfg and returns the reducer.
func NewAddressByAsset(cfg AddressByAssetConfig) (*AddressByAsset, error) {
	if cfg.PolicyIDHex == "" {
		return nil, errors.New("address_by_asset: policy_id_hex is required")
	}
	if cfg.Filter == nil {
		cfg.Filter = reduce.MatchAll{}
	}
	return &AddressByAsset{cfg: cfg}, nil
}

func (r *AddressByAsset) Name() string { return "address_by_asset" }

func (r *AddressByAsset) prefix() string {
	if r.cfg.KeyPrefix != "" {
		return r.cfg.KeyPrefix
	}
	return addressByAssetDefaultPrefix
}

// assetNameString implements the Rust to_string_output helper: when
// the asset's policy matches and ConvertToAscii is set and the name is
// valid ASCII, use the ASCII form; otherwise fall back to lowercase
// hex.
func (r *AddressByAsset) assetNameString(a chain.Asset) (string, bool) {
	if a.PolicyIDHex() != r.cfg.PolicyIDHex {
		return "", false
	}
	if r.cfg.ConvertToAscii {
		if s, ok := a.AsciiName(); ok {
			return s, true
		}
	}
	return a.NameHex(), true
}

// ReduceBlock implements reduce.Reducer.
func (r *AddressByAsset) ReduceBlock(ctx *model.BlockContext, block chain.Block, emit func(model.CRDTCommand)) error {
	for _, tx := range block.Txs() {
		if !r.cfg.Filter.Matches(tx, ctx) {
			continue
		}
		for _, txo := range tx.Produces() {
			var names []string
			for _, asset := range txo.Assets() {
				if name, ok := r.assetNameString(asset); ok {
					names = append(names, name)
				}
			}
			if len(names) == 0 {
				continue
			}

			address, err := txo.Address()
			if err != nil {
				return errors.Wrap(err, "address_by_asset: unresolvable output address")
			}

			for _, name := range names {
				key := fmt.Sprintf("%s.%s", r.prefix(), name)
				emit(model.AnyWriteWins(key, model.StringValue(address)))
			}
		}
	}
	return nil
}
