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

package reduce

import (
	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
)

// Predicate is a composable filter over (tx, ctx), generalizing the
// Rust source's crosscut::filters::Predicate (referenced by
// transaction_size_by_script.rs's filter_matches! macro) into a Go
// closed sum type (spec §4.3 "Filter predicate").
type Predicate interface {
	Matches(tx chain.Tx, ctx *model.BlockContext) bool
}

// MatchAll is a Predicate that accepts every transaction. It is the
// zero-value behavior when a reducer has no configured filter.
type MatchAll struct{}

func (MatchAll) Matches(chain.Tx, *model.BlockContext) bool { return true }

// MatchAnyAddress accepts a transaction if any of its produced outputs
// or resolved inputs are at one of the given addresses.
type MatchAnyAddress struct {
	Addresses map[string]struct{}
}

// NewMatchAnyAddress builds a MatchAnyAddress from a plain address
// list.
func NewMatchAnyAddress(addrs ...string) MatchAnyAddress {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return MatchAnyAddress{Addresses: set}
}

func (p MatchAnyAddress) Matches(tx chain.Tx, ctx *model.BlockContext) bool {
	for _, out := range tx.Produces() {
		addr, err := out.Address()
		if err != nil {
			continue
		}
		if _, ok := p.Addresses[addr]; ok {
			return true
		}
	}
	for _, in := range tx.Consumes() {
		out, ok := ctx.FindUTXO(in.OutputRef())
		if !ok {
			continue
		}
		addr, err := out.Address()
		if err != nil {
			continue
		}
		if _, ok := p.Addresses[addr]; ok {
			return true
		}
	}
	return false
}

// MatchPolicyID accepts a transaction if it mints, burns, or moves an
// asset under the given policy id.
type MatchPolicyID struct {
	PolicyIDHex string
}

func (p MatchPolicyID) Matches(tx chain.Tx, ctx *model.BlockContext) bool {
	for _, mint := range tx.Mints() {
		for _, asset := range mint.Assets() {
			if asset.PolicyIDHex() == p.PolicyIDHex {
				return true
			}
		}
	}
	for _, out := range tx.Produces() {
		for _, asset := range out.Assets() {
			if asset.PolicyIDHex() == p.PolicyIDHex {
				return true
			}
		}
	}
	return false
}

// And accepts a transaction if every child predicate does.
type And []Predicate

func (a And) Matches(tx chain.Tx, ctx *model.BlockContext) bool {
	for _, p := range a {
		if !p.Matches(tx, ctx) {
			return false
		}
	}
	return true
}

// Or accepts a transaction if any child predicate does.
type Or []Predicate

func (o Or) Matches(tx chain.Tx, ctx *model.BlockContext) bool {
	for _, p := range o {
		if p.Matches(tx, ctx) {
			return true
		}
	}
	return false
}

// Not inverts a child predicate.
type Not struct{ Predicate Predicate }

func (n Not) Matches(tx chain.Tx, ctx *model.BlockContext) bool {
	return !n.Predicate.Matches(tx, ctx)
}
