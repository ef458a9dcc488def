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

// Package epoch generalizes the Rust source's
// crosscut::epochs::block_epoch into a chain-agnostic era table, since
// scrollsink is not tied to one well-known chain's hard-coded epoch
// boundaries (spec §4.3 "Epoch aggregation").
package epoch

import (
	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/pkg/errors"
)

// Era describes one contiguous epoch-numbering regime: starting at
// StartSlot, epochs are EpochLength slots long, and the first epoch in
// this era is numbered FirstEpoch.
type Era struct {
	StartSlot   uint64
	EpochLength uint64
	FirstEpoch  uint64
}

// Config is an ordered list of Eras, earliest first, covering the
// chain's entire history. A chain that never changed its epoch length
// needs exactly one Era with StartSlot 0.
type Config []Era

// Validate reports whether cfg is usable: non-empty, with every Era
// carrying a positive EpochLength. Callers must run this at
// construction time rather than let a zero EpochLength reach At, where
// it would divide by zero.
func (cfg Config) Validate() error {
	if len(cfg) == 0 {
		return errors.New("epoch: empty era configuration")
	}
	for i, e := range cfg {
		if e.EpochLength == 0 {
			return errors.Errorf("epoch: era %d has a zero EpochLength", i)
		}
	}
	return nil
}

// At returns the epoch number containing p, using the last Era whose
// StartSlot is less than or equal to p.Slot. At panics if cfg was not
// checked with Validate first, since every block belongs to some epoch
// and a zero EpochLength would otherwise divide by zero.
func (cfg Config) At(p chain.Point) uint64 {
	if len(cfg) == 0 {
		panic("epoch: empty era configuration")
	}
	era := cfg[0]
	for _, e := range cfg {
		if e.StartSlot <= p.Slot {
			era = e
			continue
		}
		break
	}
	offset := p.Slot - era.StartSlot
	return era.FirstEpoch + offset/era.EpochLength
}
