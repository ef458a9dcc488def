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

// Package pipeline hosts the stage runtime generalized from the
// teacher's logical.Loop: bootstrap/work/teardown lifecycle, bounded
// two-phase ports, supervised retry/restart/panic classification, and
// per-stage metrics (spec §4.1, §5, §7).
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Stage is one unit of work in the Source/Enrich/Reduce/Sink pipeline.
type Stage interface {
	// Name identifies the stage in logs and metrics.
	Name() string
	// Bootstrap establishes any resources (connections, runtimes) the
	// stage needs. Called once before the first Work, and again after
	// every OrRestart.
	Bootstrap(ctx context.Context) error
	// Work advances the stage by at most one message. A returned
	// error should be produced via WithKind so Classify can route it.
	Work(ctx context.Context) error
	// Teardown releases resources acquired in Bootstrap.
	Teardown(ctx context.Context) error
}

// BackoffPolicy configures retry delay growth, shared by the bootstrap
// and work retry policies named in spec §4.1.
type BackoffPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxBackoff     time.Duration
}

// DefaultBackoffPolicy mirrors common defaults used across the teacher
// stack's retrying pool/connection helpers (e.g. stdpool's startup
// poll loop): a handful of retries, starting small, capped low enough
// to keep a human-observable tick rate.
var DefaultBackoffPolicy = BackoffPolicy{
	MaxRetries:     8,
	InitialBackoff: 250 * time.Millisecond,
	BackoffFactor:  2.0,
	MaxBackoff:     30 * time.Second,
}

// delay returns the backoff duration to sleep before retry attempt n
// (0-indexed).
func (b BackoffPolicy) delay(n int) time.Duration {
	d := float64(b.InitialBackoff)
	for i := 0; i < n; i++ {
		d *= b.BackoffFactor
		if time.Duration(d) >= b.MaxBackoff {
			return b.MaxBackoff
		}
	}
	return time.Duration(d)
}

// Policy bundles every timing knob a Supervisor applies to one stage
// (spec §4.1 "Policy per stage").
type Policy struct {
	// TickTimeout bounds how long Work may idle before the supervisor
	// treats it as a stall event rather than an error.
	TickTimeout time.Duration
	// BootstrapRetry governs retries of Bootstrap.
	BootstrapRetry BackoffPolicy
	// WorkRetry governs OrRetry backoff for Work.
	WorkRetry BackoffPolicy
}

// DefaultPolicy is a reasonable policy for production stages.
var DefaultPolicy = Policy{
	TickTimeout:    30 * time.Second,
	BootstrapRetry: DefaultBackoffPolicy,
	WorkRetry:      DefaultBackoffPolicy,
}

// Supervisor runs a single Stage's lifecycle: bootstrap, then a Work
// loop, applying the stage's Policy and routing errors through
// Classify. One Supervisor corresponds to one goroutine (spec §5).
type Supervisor struct {
	Stage   Stage
	Policy  Policy
	Metrics *Metrics
}

// NewSupervisor returns a Supervisor for stage using policy, with a
// freshly scoped Metrics handle.
func NewSupervisor(stage Stage, policy Policy) *Supervisor {
	return &Supervisor{Stage: stage, Policy: policy, Metrics: NewMetrics(stage.Name())}
}

// Run drives the stage until ctx is done or an OrPanic-classified
// error occurs, in which case it returns that error. The caller (the
// pipeline's top-level Run) is expected to abort the whole pipeline
// when an error is returned, per spec §7.
func (s *Supervisor) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := log.WithFields(log.Fields{"stage": s.Stage.Name(), "run": runID})

	if err := s.bootstrap(ctx, logger); err != nil {
		return err
	}
	defer func() {
		if err := s.Stage.Teardown(ctx); err != nil {
			logger.WithError(err).Warn("error during stage teardown")
		}
	}()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		workCtx, cancel := context.WithTimeout(ctx, s.Policy.TickTimeout)
		start := time.Now()
		err := s.Stage.Work(workCtx)
		cancel()
		s.Metrics.ObserveWorkDuration(time.Since(start).Seconds())

		if err == nil {
			attempt = 0
			continue
		}
		if ctx.Err() != nil {
			// The error came from ctx itself being done.
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// Idle tick timeout is a supervisor event, not an error
			// (spec §5).
			logger.Trace("tick timeout, no work available")
			attempt = 0
			continue
		}

		action := Classify(err)
		s.Metrics.IncWorkError(action)

		switch action {
		case OrRetry:
			logger.WithError(err).WithField("attempt", attempt).Warn("transient error, retrying")
			if attempt >= s.Policy.WorkRetry.MaxRetries {
				logger.Error("exceeded work retry budget, escalating to restart")
				action = OrRestart
			} else {
				sleep(ctx, s.Policy.WorkRetry.delay(attempt))
				attempt++
				continue
			}
		}

		switch action {
		case OrRestart:
			logger.WithError(err).Error("restarting stage")
			s.Metrics.IncRestart()
			if err := s.Stage.Teardown(ctx); err != nil {
				logger.WithError(err).Warn("error tearing down stage before restart")
			}
			if err := s.bootstrap(ctx, logger); err != nil {
				return err
			}
			attempt = 0
			continue
		case OrPanic:
			logger.WithError(err).Error("unrecoverable pipeline error")
			return errors.WithStack(err)
		}
	}
}

func (s *Supervisor) bootstrap(ctx context.Context, logger *log.Entry) error {
	policy := s.Policy.BootstrapRetry
	for attempt := 0; ; attempt++ {
		err := s.Stage.Bootstrap(ctx)
		if err == nil {
			return nil
		}
		if Classify(err) != OrRetry || attempt >= policy.MaxRetries {
			logger.WithError(err).Error("bootstrap failed, giving up")
			return errors.WithStack(err)
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("bootstrap failed, retrying")
		sleep(ctx, policy.delay(attempt))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
