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
	"fmt"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce"
)

const supplyByAssetDefaultPrefix = "supply_by_asset"

// SupplyByAssetConfig configures the supply_by_asset reducer (spec
// §4.3.2), ported from supply_by_asset.rs's Config struct.
type SupplyByAssetConfig struct {
	// PolicyIDsHex, if non-empty, restricts accounting to these
	// policies. A nil/empty slice accepts every policy.
	PolicyIDsHex []string
	KeyPrefix    string
}

// SupplyByAsset projects asset -> total minted, including negative
// burns, as a signed PNCounter.
type SupplyByAsset struct {
	cfg      SupplyByAssetConfig
	accepted map[string]struct{} // nil means accept all
}

var _ reduce.Reducer = (*SupplyByAsset)(nil)

// NewSupplyByAsset returns the reducer.
func NewSupplyByAsset(cfg SupplyByAssetConfig) *SupplyByAsset {
	var accepted map[string]struct{}
	if len(cfg.PolicyIDsHex) > 0 {
		accepted = make(map[string]struct{}, len(cfg.PolicyIDsHex))
		for _, p := range cfg.PolicyIDsHex {
			accepted[p] = struct{}{}
		}
	}
	return &SupplyByAsset{cfg: cfg, accepted: accepted}
}

func (r *SupplyByAsset) Name() string { return "supply_by_asset" }

func (r *SupplyByAsset) prefix() string {
	if r.cfg.KeyPrefix != "" {
		return r.cfg.KeyPrefix
	}
	return supplyByAssetDefaultPrefix
}

func (r *SupplyByAsset) isPolicyAccepted(policyHex string) bool {
	if r.accepted == nil {
		return true
	}
	_, ok := r.accepted[policyHex]
	return ok
}

// ReduceBlock implements reduce.Reducer.
func (r *SupplyByAsset) ReduceBlock(_ *model.BlockContext, block chain.Block, emit func(model.CRDTCommand)) error {
	for _, tx := range block.Txs() {
		for _, mint := range tx.Mints() {
			// A Mint entry is scoped to one policy (chain.Mint docs);
			// its PolicyID is the authority for every Asset it bundles,
			// not whatever happens to be duplicated onto each Asset.
			policyHex := hex.EncodeToString(mint.PolicyID()[:])
			if !r.isPolicyAccepted(policyHex) {
				continue
			}
			for _, asset := range mint.Assets() {
				// Quantity is preserved verbatim, negative or
				// positive: the counter is signed (spec §4.3.2).
				key := fmt.Sprintf("%s.%s%s", r.prefix(), policyHex, asset.NameHex())
				emit(model.PNCounter(key, asset.Quantity))
			}
		}
	}
	return nil
}
