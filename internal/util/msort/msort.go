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

// Package msort contains utility functions for de-duplicating batches
// of CRDT commands that target the same key.
package msort

import "github.com/cockroachdb/scrollsink/internal/model"

// UniqueByKey removes redundant commands from the input slice,
// collapsing only commands whose Key genuinely names a single stored
// value. If two such commands share the same Key, the one that appears
// later in x is kept, mirroring the within-block ordering guarantee
// (spec §5) that later writes to a key supersede earlier ones; for
// LastWriteWins the one with the highest Timestamp is kept instead
// (the later one on a tie), since that is the write that would win.
//
// Kind.Idempotent() alone is not enough to decide this: GrowOnlySetAdd
// and TwoPhaseSetAdd/Remove are idempotent (replaying one twice is
// safe) but Key names a *set*, not a row, and Value carries the member
// being added — collapsing by Key alone would silently drop every
// member but the last one a block touched. Those kinds are instead
// deduplicated by (Key, Value), so identical re-adds of the same member
// still collapse but distinct members never do. Only AnyWriteWins and
// LastWriteWins are true single-valued rows, safe to collapse by Key
// alone. Commands whose Kind is not idempotent at all (PNCounter,
// SortedSetAdd/Remove, SetAdd/Remove) are never collapsed, since doing
// so would silently drop deltas; commands with an empty Key
// (BlockStarting/BlockFinished) are also left untouched.
//
// The modified slice is returned.
func UniqueByKey(x []model.CRDTCommand) []model.CRDTCommand {
	// For any given dedupe identity, we're going to track the index in
	// the slice that holds data for it.
	seenIdx := make(map[string]int, len(x))

	// We want to iterate backwards over the input slice, moving
	// elements to the rear when they are the later occurrence of a
	// collapsible identity.
	dest := len(x)
	for src := len(x) - 1; src >= 0; src-- {
		cmd := x[src]
		if cmd.Key == "" || !cmd.Kind.Idempotent() {
			dest--
			x[dest] = cmd
			continue
		}

		identity := cmd.Key
		if !singleValued(cmd.Kind) {
			identity = cmd.Key + "\x00" + valueIdentity(cmd.Value)
		}

		// Is there already an index in the slice for that identity?
		if idx, found := seenIdx[identity]; found {
			// A later occurrence already won; drop this one. For
			// LastWriteWins the higher Timestamp wins instead, with ties
			// going to the later write, as sequential application would.
			if cmd.Kind == model.KindLastWriteWins && cmd.Timestamp > x[idx].Timestamp {
				x[idx] = cmd
			}
			continue
		}
		dest--
		seenIdx[identity] = dest
		x[dest] = cmd
	}

	// Return the compacted view of the slice.
	return x[dest:]
}

// singleValued reports whether kind's Key names exactly one stored
// value, so collapsing two commands that share a Key can never lose
// information. Set-add/remove kinds fail this test: their Key names a
// set and their Value names a member, so two commands sharing a Key can
// still carry distinct, both-meaningful Values.
func singleValued(kind model.Kind) bool {
	switch kind {
	case model.KindAnyWriteWins, model.KindLastWriteWins:
		return true
	default:
		return false
	}
}

// valueIdentity renders v as a string distinguishing every Value
// variant and payload, for use as a dedupe key. It does not need to
// match any wire encoding; it only needs to compare equal for equal
// values.
func valueIdentity(v model.Value) string {
	if s, ok := v.String(); ok {
		return "s:" + s
	}
	if b, ok := v.Bytes(); ok {
		return "b:" + string(b)
	}
	if i, ok := v.BigInt(); ok {
		return "i:" + i.String()
	}
	if j, ok := v.JSON(); ok {
		return "j:" + string(j)
	}
	return ""
}
