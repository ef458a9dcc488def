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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStage fails its first N Work calls with a transient error,
// then succeeds, counting Bootstrap calls so tests can assert a
// restart actually re-ran Bootstrap.
type countingStage struct {
	failures   int32
	bootstraps int32
	workCalls  int32
}

func (s *countingStage) Name() string { return "counting" }

func (s *countingStage) Bootstrap(context.Context) error {
	atomic.AddInt32(&s.bootstraps, 1)
	return nil
}

func (s *countingStage) Teardown(context.Context) error { return nil }

func (s *countingStage) Work(context.Context) error {
	calls := atomic.AddInt32(&s.workCalls, 1)
	if calls <= atomic.LoadInt32(&s.failures) {
		return WithKind(assertErr{}, ErrTransient)
	}
	return nil
}

type assertErr struct{}

func (assertErr) Error() string { return "injected transient failure" }

func TestSupervisorRetriesTransientErrorsThenSucceeds(t *testing.T) {
	stage := &countingStage{failures: 2}
	policy := Policy{
		TickTimeout:    time.Second,
		BootstrapRetry: BackoffPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond, BackoffFactor: 1, MaxBackoff: time.Millisecond},
		WorkRetry:      BackoffPolicy{MaxRetries: 5, InitialBackoff: time.Millisecond, BackoffFactor: 1, MaxBackoff: time.Millisecond},
	}
	sup := NewSupervisor(stage, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	go func() {
		for atomic.LoadInt32(&stage.workCalls) <= 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	defer cancel()

	_ = sup.Run(ctx)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&stage.workCalls), int32(3))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stage.bootstraps), "a transient error must never trigger a restart")
}

func TestSupervisorBootstrapFailureReturnsError(t *testing.T) {
	stage := &alwaysFailBootstrap{}
	policy := Policy{
		TickTimeout:    time.Second,
		BootstrapRetry: BackoffPolicy{MaxRetries: 1, InitialBackoff: time.Millisecond, BackoffFactor: 1, MaxBackoff: time.Millisecond},
		WorkRetry:      DefaultBackoffPolicy,
	}
	sup := NewSupervisor(stage, policy)
	err := sup.Run(context.Background())
	require.Error(t, err)
}

type alwaysFailBootstrap struct{}

func (alwaysFailBootstrap) Name() string { return "fail" }
func (alwaysFailBootstrap) Bootstrap(context.Context) error {
	return WithKind(assertErr{}, ErrConfig)
}
func (alwaysFailBootstrap) Work(context.Context) error     { return nil }
func (alwaysFailBootstrap) Teardown(context.Context) error { return nil }
