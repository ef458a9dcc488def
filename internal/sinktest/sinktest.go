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

// Package sinktest provides a complete set of in-memory test doubles
// for the chain package, so reducer and pipeline tests can build
// blocks without a real chain-sync client, plus the BlockContext and
// CollectCommands helpers. It has no Fixture type: tests use the
// doubles and helpers directly.
package sinktest

import (
	"fmt"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/pkg/errors"
)

// Output is a test double for chain.TxOutput.
type Output struct {
	Addr       string
	AddrHex    string
	Script     bool
	Lovelaces  uint64
	AssetBundl []chain.Asset
	AddrErr    error
}

var _ chain.TxOutput = (*Output)(nil)

func (o *Output) Address() (string, error) {
	if o.AddrErr != nil {
		return "", o.AddrErr
	}
	return o.Addr, nil
}
func (o *Output) AddressHex() string    { return o.AddrHex }
func (o *Output) HasScript() bool       { return o.Script }
func (o *Output) Lovelace() uint64      { return o.Lovelaces }
func (o *Output) Assets() []chain.Asset { return o.AssetBundl }

// Input is a test double for chain.TxInput.
type Input struct {
	Ref chain.OutputRef
}

var _ chain.TxInput = (*Input)(nil)

func (i *Input) OutputRef() chain.OutputRef { return i.Ref }

// MintEntry is a test double for chain.Mint.
type MintEntry struct {
	Policy     [28]byte
	AssetBundl []chain.Asset
}

var _ chain.Mint = (*MintEntry)(nil)

func (m *MintEntry) PolicyID() [28]byte   { return m.Policy }
func (m *MintEntry) Assets() []chain.Asset { return m.AssetBundl }

// Tx is a test double for chain.Tx.
type Tx struct {
	TxHash   [32]byte
	Inputs   []chain.TxInput
	Outputs  []chain.TxOutput
	MintList []chain.Mint
	Bytes    []byte
}

var _ chain.Tx = (*Tx)(nil)

func (t *Tx) Hash() [32]byte             { return t.TxHash }
func (t *Tx) Consumes() []chain.TxInput  { return t.Inputs }
func (t *Tx) Produces() []chain.TxOutput { return t.Outputs }
func (t *Tx) Mints() []chain.Mint        { return t.MintList }
func (t *Tx) Encode() []byte             { return t.Bytes }

// Block is a test double for chain.Block.
type Block struct {
	At  chain.Point
	All []chain.Tx
}

var _ chain.Block = (*Block)(nil)

func (b *Block) Point() chain.Point { return b.At }
func (b *Block) Txs() []chain.Tx    { return b.All }

// NewOutputRef builds a deterministic OutputRef for test fixtures,
// copying txHashSeed, space-padded to 32 bytes and cut off beyond that,
// into the ref's TxHash field: seeds that differ within their first 32
// bytes never collide.
func NewOutputRef(txHashSeed string, index uint32) chain.OutputRef {
	var h [32]byte
	copy(h[:], []byte(fmt.Sprintf("%-32s", txHashSeed))[:32])
	return chain.OutputRef{TxHash: h, Index: index}
}

// BlockContext builds a model.BlockContext from a set of (ref, output)
// pairs, the shape every reducer test needs to stand up Enrich's
// output.
func BlockContext(entries map[chain.OutputRef]chain.TxOutput) *model.BlockContext {
	ctx := model.NewBlockContext()
	for ref, out := range entries {
		ctx.Put(ref, out)
	}
	return ctx
}

// CollectCommands runs a reducer over a block and context and returns
// every command it emits, or the first error it returns.
func CollectCommands(ctx *model.BlockContext, block chain.Block, r interface {
	ReduceBlock(*model.BlockContext, chain.Block, func(model.CRDTCommand)) error
}) ([]model.CRDTCommand, error) {
	var cmds []model.CRDTCommand
	err := r.ReduceBlock(ctx, block, func(c model.CRDTCommand) { cmds = append(cmds, c) })
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return cmds, nil
}
