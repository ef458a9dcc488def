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

// Package memory is an in-process sink.Backend used by tests, grounded
// on the teacher's sinktest fixtures: a realized, queryable store
// rather than a mock.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline/sink"
)

// sortedEntry is one member/score pair of a sorted set.
type sortedEntry struct {
	Member string
	Score  int64
}

// Backend is a sink.Backend that applies every CRDT command kind
// in-memory, with the exact convergence semantics spec §4.2 assigns
// each kind.
type Backend struct {
	mu sync.Mutex

	cursor chain.Point

	growOnly    map[string]map[string]struct{}
	sets        map[string]map[string]struct{}
	twoPhaseAdd map[string]map[string]struct{}
	twoPhaseTS  map[string]map[string]struct{}
	lww         map[string]lwwEntry
	anyWW       map[string]model.Value
	sortedSets  map[string]map[string]int64
	counters    map[string]int64

	// Applied records every committed block point, for test assertions
	// about exactly-once application.
	Applied []chain.Point
}

type lwwEntry struct {
	value model.Value
	ts    int64
}

var _ sink.Backend = (*Backend)(nil)

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		growOnly:    make(map[string]map[string]struct{}),
		sets:        make(map[string]map[string]struct{}),
		twoPhaseAdd: make(map[string]map[string]struct{}),
		twoPhaseTS:  make(map[string]map[string]struct{}),
		lww:         make(map[string]lwwEntry),
		anyWW:       make(map[string]model.Value),
		sortedSets:  make(map[string]map[string]int64),
		counters:    make(map[string]int64),
	}
}

func valueMemberKey(v model.Value) string {
	if s, ok := v.String(); ok {
		return s
	}
	if b, ok := v.Bytes(); ok {
		return string(b)
	}
	if i, ok := v.BigInt(); ok {
		return i.String()
	}
	if j, ok := v.JSON(); ok {
		return string(j)
	}
	return ""
}

// ApplyBlock implements sink.Backend.
func (b *Backend) ApplyBlock(_ context.Context, point chain.Point, cmds []model.CRDTCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, cmd := range cmds {
		switch cmd.Kind {
		case model.KindGrowOnlySetAdd:
			set, ok := b.growOnly[cmd.Key]
			if !ok {
				set = make(map[string]struct{})
				b.growOnly[cmd.Key] = set
			}
			set[valueMemberKey(cmd.Value)] = struct{}{}

		case model.KindSetAdd:
			set, ok := b.sets[cmd.Key]
			if !ok {
				set = make(map[string]struct{})
				b.sets[cmd.Key] = set
			}
			set[valueMemberKey(cmd.Value)] = struct{}{}

		case model.KindSetRemove:
			if set, ok := b.sets[cmd.Key]; ok {
				delete(set, valueMemberKey(cmd.Value))
			}

		case model.KindTwoPhaseSetAdd:
			set, ok := b.twoPhaseAdd[cmd.Key]
			if !ok {
				set = make(map[string]struct{})
				b.twoPhaseAdd[cmd.Key] = set
			}
			set[valueMemberKey(cmd.Value)] = struct{}{}

		case model.KindTwoPhaseSetRemove:
			set, ok := b.twoPhaseTS[cmd.Key]
			if !ok {
				set = make(map[string]struct{})
				b.twoPhaseTS[cmd.Key] = set
			}
			set[valueMemberKey(cmd.Value)] = struct{}{}

		case model.KindLastWriteWins:
			cur, ok := b.lww[cmd.Key]
			if !ok || cmd.Timestamp >= cur.ts {
				b.lww[cmd.Key] = lwwEntry{value: cmd.Value, ts: cmd.Timestamp}
			}

		case model.KindAnyWriteWins:
			b.anyWW[cmd.Key] = cmd.Value

		case model.KindSortedSetAdd, model.KindSortedSetRemove:
			set, ok := b.sortedSets[cmd.Key]
			if !ok {
				set = make(map[string]int64)
				b.sortedSets[cmd.Key] = set
			}
			set[cmd.Member] += cmd.Delta

		case model.KindPNCounter:
			b.counters[cmd.Key] += cmd.Delta
		}
	}

	b.cursor = point
	b.Applied = append(b.Applied, point)
	return nil
}

// Cursor returns the last successfully applied block point.
func (b *Backend) Cursor() chain.Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// LoadCursor implements source.CursorStore.
func (b *Backend) LoadCursor(context.Context) (chain.Point, error) {
	return b.Cursor(), nil
}

// GrowOnlySet returns the current members of the grow-only set at key.
func (b *Backend) GrowOnlySet(key string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedMembers(b.growOnly[key])
}

// Set returns the current members of the mutable set at key.
func (b *Backend) Set(key string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedMembers(b.sets[key])
}

// TwoPhaseSet returns the current members of the two-phase set at key:
// additions minus tombstones.
func (b *Backend) TwoPhaseSet(key string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.twoPhaseTS[key]
	var out []string
	for m := range b.twoPhaseAdd[key] {
		if _, tombstoned := ts[m]; tombstoned {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// LastWriteWins returns the current value at key and true if one has
// been written.
func (b *Backend) LastWriteWins(key string) (model.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lww[key]
	return e.value, ok
}

// AnyWriteWins returns the current value at key and true if one has
// been written.
func (b *Backend) AnyWriteWins(key string) (model.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.anyWW[key]
	return v, ok
}

// SortedSet returns the sorted set at key, ordered by descending score
// then member name, omitting zero-score members as Redis ZSETs do.
func (b *Backend) SortedSet(key string) []sortedEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sortedEntry
	for m, score := range b.sortedSets[key] {
		if score == 0 {
			continue
		}
		out = append(out, sortedEntry{Member: m, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// Counter returns the current value of the PNCounter at key.
func (b *Backend) Counter(key string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters[key]
}

func sortedMembers(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
