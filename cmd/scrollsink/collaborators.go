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

package main

import (
	"context"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/pkg/errors"
)

// pluggableChainSyncClient and pluggableLookup are the chain-specific
// collaborators named in spec §3 as external to the pipeline: a real
// deployment links in a concrete chain-sync client (e.g. an Ouroboros
// node-to-client miniprotocol implementation) and a concrete UTXO
// lookup (a local index, or the same node's query layer) for the chain
// scrollsink is indexing. Neither belongs in this module, which stays
// chain-agnostic; these placeholders report a configuration error so a
// misconfigured deployment fails fast at Bootstrap rather than hanging.

type pluggableChainSyncClient struct {
	endpoint string
}

func newPluggableChainSyncClient(endpoint string) *pluggableChainSyncClient {
	return &pluggableChainSyncClient{endpoint: endpoint}
}

func (c *pluggableChainSyncClient) Intersect(context.Context, bool, bool, []chain.Point) (chain.Point, error) {
	return chain.Point{}, pipeline.WithKind(
		errors.Errorf("no chain-sync client wired for endpoint %q", c.endpoint), pipeline.ErrConfig)
}

func (c *pluggableChainSyncClient) Next(context.Context) (chain.Block, chain.Point, error) {
	return nil, chain.Point{}, pipeline.WithKind(
		errors.Errorf("no chain-sync client wired for endpoint %q", c.endpoint), pipeline.ErrConfig)
}

type pluggableLookup struct {
	endpoint string
}

func newPluggableLookup(endpoint string) *pluggableLookup {
	return &pluggableLookup{endpoint: endpoint}
}

func (l *pluggableLookup) ResolveOutput(context.Context, chain.OutputRef) (chain.TxOutput, error) {
	return nil, pipeline.WithKind(
		errors.Errorf("no UTXO lookup wired for endpoint %q", l.endpoint), pipeline.ErrConfig)
}
