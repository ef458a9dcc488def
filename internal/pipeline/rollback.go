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

package pipeline

import "github.com/cockroachdb/scrollsink/internal/chain"

// RollBack is the out-of-band pipeline message signaling that the
// chain has forked back to Point (spec §3): every message already sent
// for a block at or above Point must be discarded by whichever stage
// is holding it, rather than applied. It travels alongside, never
// inside, a Port's ordinary payload stream, mirroring the upstream
// chain-sync protocol's RollForward/RollBack split.
type RollBack struct {
	Point chain.Point
}
