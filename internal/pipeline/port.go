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

	"github.com/pkg/errors"
)

// envelope is what actually travels through a Port's channel: either an
// ordinary payload, or a RollBack marker carried out-of-band from it.
// Exactly one of the two is meaningful on any given envelope.
type envelope[T any] struct {
	rollback *RollBack
	msg      T
}

// Port is a bounded, two-phase-acknowledged channel connecting two
// stages (spec §4.1). Recv pops and holds a message; Commit releases
// it. If a stage dies between Recv and Commit, the message is
// redelivered to whatever replaces it — the mechanism behind
// at-least-once delivery.
type Port[T any] struct {
	ch      chan envelope[T]
	pending []envelope[T]
}

// NewPort returns a Port with the given bound on in-flight messages.
func NewPort[T any](capacity int) *Port[T] {
	return &Port[T]{ch: make(chan envelope[T], capacity)}
}

// Send enqueues msg, blocking if the port is at capacity (back
// pressure, spec §5) or ctx is done.
func (p *Port[T]) Send(ctx context.Context, msg T) error {
	return p.enqueue(ctx, envelope[T]{msg: msg})
}

// SendRollBack enqueues a RollBack marker. Downstream, a Recv that
// returns it reports a non-nil RollBack and the zero value of T; the
// two never arrive together.
func (p *Port[T]) SendRollBack(ctx context.Context, rb RollBack) error {
	return p.enqueue(ctx, envelope[T]{rollback: &rb})
}

func (p *Port[T]) enqueue(ctx context.Context, e envelope[T]) error {
	select {
	case p.ch <- e:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Len reports the number of messages currently queued, for
// back-pressure-bound testing (spec §8 property 6).
func (p *Port[T]) Len() int { return len(p.ch) }

// Cap reports the port's configured bound.
func (p *Port[T]) Cap() int { return cap(p.ch) }

// Recv pops the next message and holds it uncommitted. Calling Recv
// again without an intervening Commit returns the same message
// (replay-on-crash semantics) rather than advancing the queue. If the
// popped message is a RollBack, rb is non-nil and msg holds T's zero
// value.
func (p *Port[T]) Recv(ctx context.Context) (msg T, rb *RollBack, err error) {
	if len(p.pending) > 0 {
		e := p.pending[0]
		return e.msg, e.rollback, nil
	}
	select {
	case e := <-p.ch:
		p.pending = append(p.pending, e)
		return e.msg, e.rollback, nil
	case <-ctx.Done():
		var zero T
		return zero, nil, errors.WithStack(ctx.Err())
	}
}

// Commit releases the message most recently returned by Recv. It is a
// programmer error to call Commit without a prior uncommitted Recv.
func (p *Port[T]) Commit() {
	if len(p.pending) == 0 {
		panic("pipeline: Commit called without a pending Recv")
	}
	p.pending = p.pending[1:]
}
