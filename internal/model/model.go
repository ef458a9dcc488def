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

// Package model contains the data types shared between the reduce and
// sink stages: the per-block UTXO lookup table and the closed CRDT
// command algebra every storage backend must implement identically.
package model

import (
	"encoding/json"
	"math/big"

	"github.com/cockroachdb/scrollsink/internal/chain"
)

// BlockContext is the spent-UTXO lookup table assembled by the Enrich
// stage for the block currently being reduced. It is dropped once the
// block has been processed.
type BlockContext struct {
	utxos map[chain.OutputRef]chain.TxOutput
}

// NewBlockContext returns an empty context ready to be populated by the
// Enrich stage.
func NewBlockContext() *BlockContext {
	return &BlockContext{utxos: make(map[chain.OutputRef]chain.TxOutput)}
}

// Put records the resolved output for ref.
func (c *BlockContext) Put(ref chain.OutputRef, out chain.TxOutput) {
	c.utxos[ref] = out
}

// FindUTXO returns the output referenced by ref, or false if it is not
// present. Per spec §3, Enrich guarantees this map is total for every
// input of the current block; reducers treat a miss as an internal
// bug, not recoverable input.
func (c *BlockContext) FindUTXO(ref chain.OutputRef) (chain.TxOutput, bool) {
	out, ok := c.utxos[ref]
	return out, ok
}

// Len reports how many resolved outputs the context holds.
func (c *BlockContext) Len() int { return len(c.utxos) }

// Value is the payload carried by a CRDTCommand. Exactly one field is
// set, matching spec §4.2's four value variants. Backends are
// guaranteed a lossless round trip of whichever variant a reducer
// chose.
type Value struct {
	str   *string
	big   *big.Int
	bytes []byte
	json  json.RawMessage
}

// StringValue wraps a UTF-8 string payload.
func StringValue(s string) Value { return Value{str: &s} }

// BigIntValue wraps a big-integer payload, string-encoded on the wire
// for portability.
func BigIntValue(i *big.Int) Value { return Value{big: i} }

// BytesValue wraps an opaque byte-string payload, hex-encoded on the
// wire.
func BytesValue(b []byte) Value { return Value{bytes: b} }

// JSONValue wraps a structured JSON payload.
func JSONValue(j json.RawMessage) Value { return Value{json: j} }

// String returns the value as a string and true if it holds the
// string variant.
func (v Value) String() (string, bool) {
	if v.str == nil {
		return "", false
	}
	return *v.str, true
}

// BigInt returns the value as a big.Int and true if it holds the
// big-integer variant.
func (v Value) BigInt() (*big.Int, bool) {
	if v.big == nil {
		return nil, false
	}
	return v.big, true
}

// Bytes returns the value as a byte slice and true if it holds the
// byte-string variant.
func (v Value) Bytes() ([]byte, bool) {
	if v.bytes == nil {
		return nil, false
	}
	return v.bytes, true
}

// JSON returns the value as raw JSON and true if it holds the JSON
// variant.
func (v Value) JSON() (json.RawMessage, bool) {
	if v.json == nil {
		return nil, false
	}
	return v.json, true
}

// Kind enumerates the closed set of CRDT command variants (spec §4.2).
type Kind int

const (
	KindBlockStarting Kind = iota
	KindBlockFinished
	KindGrowOnlySetAdd
	KindSetAdd
	KindSetRemove
	KindTwoPhaseSetAdd
	KindTwoPhaseSetRemove
	KindLastWriteWins
	KindAnyWriteWins
	KindSortedSetAdd
	KindSortedSetRemove
	KindPNCounter
)

// Idempotent reports whether replaying a command of this Kind twice is
// guaranteed to converge to the same backend state as applying it
// once. PNCounter, SortedSet* and SetAdd/SetRemove are not idempotent
// (spec §4.2 table); the cursor-after-commit rule (spec §4.5) is the
// sole defense against double applying them.
func (k Kind) Idempotent() bool {
	switch k {
	case KindSortedSetAdd, KindSortedSetRemove, KindPNCounter, KindSetAdd, KindSetRemove:
		return false
	default:
		return true
	}
}

func (k Kind) String() string {
	switch k {
	case KindBlockStarting:
		return "BlockStarting"
	case KindBlockFinished:
		return "BlockFinished"
	case KindGrowOnlySetAdd:
		return "GrowOnlySetAdd"
	case KindSetAdd:
		return "SetAdd"
	case KindSetRemove:
		return "SetRemove"
	case KindTwoPhaseSetAdd:
		return "TwoPhaseSetAdd"
	case KindTwoPhaseSetRemove:
		return "TwoPhaseSetRemove"
	case KindLastWriteWins:
		return "LastWriteWins"
	case KindAnyWriteWins:
		return "AnyWriteWins"
	case KindSortedSetAdd:
		return "SortedSetAdd"
	case KindSortedSetRemove:
		return "SortedSetRemove"
	case KindPNCounter:
		return "PNCounter"
	default:
		return "Unknown"
	}
}

// CRDTCommand is one state-mutation primitive, as emitted by a reducer
// and consumed by a sink Backend. The set of Kind values is closed: a
// Backend's Apply method is expected to exhaustively switch over Kind
// rather than grow an open interface hierarchy (spec §9).
type CRDTCommand struct {
	Kind  Kind
	Point chain.Point // set only for BlockStarting/BlockFinished
	Key   string
	Value Value
	// Member is the sorted-set member name; only set for
	// SortedSetAdd/SortedSetRemove.
	Member string
	// Delta is the signed increment applied by PNCounter and
	// SortedSetAdd/SortedSetRemove.
	Delta int64
	// Timestamp is the caller-supplied comparison value for
	// LastWriteWins: the write applies iff Timestamp >= the stored
	// timestamp.
	Timestamp int64
}

// BlockStarting marks the start of a block. Advisory: some backends
// no-op it (spec §9).
func BlockStarting(p chain.Point) CRDTCommand {
	return CRDTCommand{Kind: KindBlockStarting, Point: p}
}

// BlockFinished persists p as the new cursor.
func BlockFinished(p chain.Point) CRDTCommand {
	return CRDTCommand{Kind: KindBlockFinished, Point: p}
}

// GrowOnlySetAdd adds v to the set at key; no removals ever.
func GrowOnlySetAdd(key string, v Value) CRDTCommand {
	return CRDTCommand{Kind: KindGrowOnlySetAdd, Key: key, Value: v}
}

// SetAdd adds v to the mutable set at key.
func SetAdd(key string, v Value) CRDTCommand {
	return CRDTCommand{Kind: KindSetAdd, Key: key, Value: v}
}

// SetRemove removes v from the mutable set at key.
func SetRemove(key string, v Value) CRDTCommand {
	return CRDTCommand{Kind: KindSetRemove, Key: key, Value: v}
}

// TwoPhaseSetAdd adds v to the additions of the two-phase set at key.
func TwoPhaseSetAdd(key string, v Value) CRDTCommand {
	return CRDTCommand{Kind: KindTwoPhaseSetAdd, Key: key, Value: v}
}

// TwoPhaseSetRemove adds v to the tombstones of the two-phase set at
// key. The memory and postgres backends keep tombstones in a store
// separate from the additions, under the same key; they do not write
// them under key+".ts".
func TwoPhaseSetRemove(key string, v Value) CRDTCommand {
	return CRDTCommand{Kind: KindTwoPhaseSetRemove, Key: key, Value: v}
}

// LastWriteWins sets the value at key iff ts is greater than or equal
// to the stored timestamp.
func LastWriteWins(key string, v Value, ts int64) CRDTCommand {
	return CRDTCommand{Kind: KindLastWriteWins, Key: key, Value: v, Timestamp: ts}
}

// AnyWriteWins sets the value at key unconditionally.
func AnyWriteWins(key string, v Value) CRDTCommand {
	return CRDTCommand{Kind: KindAnyWriteWins, Key: key, Value: v}
}

// SortedSetAdd increments member's score in the sorted set at key by
// delta, which may be negative.
func SortedSetAdd(key, member string, delta int64) CRDTCommand {
	return CRDTCommand{Kind: KindSortedSetAdd, Key: key, Member: member, Delta: delta}
}

// SortedSetRemove increments member's score in the sorted set at key
// by delta (typically negative, to retract an earlier add).
func SortedSetRemove(key, member string, delta int64) CRDTCommand {
	return CRDTCommand{Kind: KindSortedSetRemove, Key: key, Member: member, Delta: delta}
}

// PNCounter increments the counter at key by delta. Not idempotent:
// at-most-once application per block depends on the cursor-after-commit
// rule (spec §4.5, §5).
func PNCounter(key string, delta int64) CRDTCommand {
	return CRDTCommand{Kind: KindPNCounter, Key: key, Delta: delta}
}
