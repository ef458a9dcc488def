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
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce"
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce/epoch"
	"github.com/pkg/errors"
)

// Build constructs the reducer named by kind from its TOML params
// table. kind matches one of the three exemplar reducers' Name().
func Build(kind string, params map[string]any) (reduce.Reducer, error) {
	switch kind {
	case "address_by_asset":
		return NewAddressByAsset(AddressByAssetConfig{
			PolicyIDHex:    stringParam(params, "policy_id_hex"),
			KeyPrefix:      stringParam(params, "key_prefix"),
			ConvertToAscii: boolParam(params, "convert_to_ascii"),
		})

	case "supply_by_asset":
		return NewSupplyByAsset(SupplyByAssetConfig{
			PolicyIDsHex: stringSliceParam(params, "policy_ids_hex"),
			KeyPrefix:    stringParam(params, "key_prefix"),
		}), nil

	case "transaction_size_by_script":
		cfg := TransactionSizeByScriptConfig{
			KeyPrefix: stringParam(params, "key_prefix"),
		}
		if stringParam(params, "projection") == "total" {
			cfg.Projection = Total
		}
		if stringParam(params, "key_addr_type") == "hex" {
			cfg.KeyAddrType = Hex
		}
		if stringParam(params, "aggr_by") == "epoch" {
			cfg.AggrBy = AggrEpoch
			cfg.Eras = epoch.Config{{StartSlot: 0, EpochLength: uintParam(params, "epoch_length", 432000), FirstEpoch: 0}}
		}
		return NewTransactionSizeByScript(cfg)

	default:
		return nil, errors.Errorf("reducers: unknown kind %q", kind)
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func boolParam(params map[string]any, key string) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return false
}

func uintParam(params map[string]any, key string, def uint64) uint64 {
	switch v := params[key].(type) {
	case int64:
		return uint64(v)
	case int:
		return uint64(v)
	case float64:
		return uint64(v)
	default:
		return def
	}
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
