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

// Package chain declares the read-only view of a UTXO-ledger block that
// the pipeline traverses. Concrete block decoding for a particular chain
// and era is an external collaborator; this package only states the
// accessor contract every reducer is written against.
package chain

import (
	"encoding/hex"
	"fmt"
)

// Point is a position on the chain.
type Point struct {
	Slot uint64
	Hash [32]byte
}

// String renders the point as "slot,hex-hash" (spec §6), for logs and
// error messages. The backends persist the cursor as a slot and a hash
// (a chain.Point), not as this string.
func (p Point) String() string {
	return fmt.Sprintf("%d,%s", p.Slot, hex.EncodeToString(p.Hash[:]))
}

// IsZero reports whether p is the zero point (never a valid chain
// position).
func (p Point) IsZero() bool {
	return p.Slot == 0 && p.Hash == [32]byte{}
}

// Compare orders two points by slot. Points at the same slot on
// different forks are considered equal for ordering purposes; callers
// that care about fork identity should compare Hash directly.
func Compare(a, b Point) int {
	switch {
	case a.Slot < b.Slot:
		return -1
	case a.Slot > b.Slot:
		return 1
	default:
		return 0
	}
}

// OutputRef identifies one UTXO: the hash of the transaction that
// produced it and the index of the output within that transaction.
type OutputRef struct {
	TxHash [32]byte
	Index  uint32
}

func (r OutputRef) String() string {
	return fmt.Sprintf("%s#%d", hex.EncodeToString(r.TxHash[:]), r.Index)
}

// Asset is one entry of a transaction output's multi-asset bundle, or
// one entry of a transaction's mint/burn set.
type Asset struct {
	PolicyID [28]byte
	Name     []byte
	Quantity int64
}

// PolicyIDHex returns the lowercase hex encoding of the policy id.
func (a Asset) PolicyIDHex() string {
	return hex.EncodeToString(a.PolicyID[:])
}

// NameHex returns the lowercase hex encoding of the asset name.
func (a Asset) NameHex() string {
	return hex.EncodeToString(a.Name)
}

// AsciiName returns the asset name as ASCII text and true, or ("",
// false) if the name bytes are not printable ASCII.
func (a Asset) AsciiName() (string, bool) {
	for _, b := range a.Name {
		if b < 0x20 || b > 0x7e {
			return "", false
		}
	}
	return string(a.Name), true
}

// TxOutput is a UTXO produced by a transaction.
type TxOutput interface {
	// Address returns the bech32/base58 textual address, or an error
	// if the address cannot be decoded (a data-integrity failure per
	// spec §7).
	Address() (string, error)
	// AddressHex returns the raw address bytes, hex encoded.
	AddressHex() string
	// HasScript reports whether the address carries a script
	// (payment) credential.
	HasScript() bool
	// Lovelace is the coin value carried by the output, in the
	// ledger's smallest unit.
	Lovelace() uint64
	// Assets returns the output's multi-asset bundle, if any.
	Assets() []Asset
}

// TxInput is one input consumed by a transaction: a reference to a
// prior UTXO, resolved by the Enrich stage.
type TxInput interface {
	OutputRef() OutputRef
}

// Mint is a single transaction's mint/burn entry for one policy.
type Mint interface {
	PolicyID() [28]byte
	Assets() []Asset
}

// Tx is one transaction within a Block.
type Tx interface {
	Hash() [32]byte
	// Consumes returns the inputs this transaction spends.
	Consumes() []TxInput
	// Produces returns the outputs this transaction creates, in order:
	// an output's slice index is its index within the transaction.
	Produces() []TxOutput
	// Mints returns the transaction's mint/burn entries.
	Mints() []Mint
	// Encode returns the transaction's canonical on-chain byte
	// encoding, used to measure transaction size.
	Encode() []byte
}

// Block is one chain block, any era. Blocks are borrowed read-only by
// the pipeline for the duration of processing; nothing retains a Block
// past that window (spec §3 Ownership).
type Block interface {
	Point() Point
	Txs() []Tx
}
