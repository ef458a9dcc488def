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

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
)

// ErrChaos is the error injected by WithChaos.
var ErrChaos = errors.New("chaos")

// WithChaos returns a wrapper around delegate that injects an
// ErrTransient-classified error into Bootstrap and Work at the given
// probability, for exercising the supervisor's retry/restart paths in
// tests. delegate is returned unwrapped if prob <= 0.
func WithChaos(delegate Stage, prob float32) Stage {
	if prob <= 0 {
		return delegate
	}
	return &chaosStage{delegate: delegate, prob: prob}
}

type chaosStage struct {
	delegate Stage
	prob     float32
}

var _ Stage = (*chaosStage)(nil)

func (s *chaosStage) Name() string { return s.delegate.Name() }

func (s *chaosStage) Bootstrap(ctx context.Context) error {
	if rand.Float32() < s.prob {
		return doChaos("Bootstrap")
	}
	return s.delegate.Bootstrap(ctx)
}

func (s *chaosStage) Work(ctx context.Context) error {
	if rand.Float32() < s.prob {
		return doChaos("Work")
	}
	return s.delegate.Work(ctx)
}

func (s *chaosStage) Teardown(ctx context.Context) error {
	return s.delegate.Teardown(ctx)
}

// doChaos is a convenient place to set a breakpoint.
func doChaos(msg string) error {
	return WithKind(errors.WithMessage(ErrChaos, msg), ErrTransient)
}
