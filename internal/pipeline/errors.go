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

import "github.com/pkg/errors"

// Sentinel error kinds named in spec §7. A Stage wraps the error it
// returns from Work/Bootstrap with one of these via WithKind so that
// Classify can route it without the stage needing to know about
// ErrorAction itself.
var (
	// ErrTransient marks a transient I/O failure: a network blip, a
	// backend not yet ready. Retried with backoff.
	ErrTransient = errors.New("transient error")
	// ErrProtocol marks upstream chain-sync protocol misbehavior.
	// Terminates the stage; the supervisor restarts it with backoff.
	ErrProtocol = errors.New("protocol violation")
	// ErrDataIntegrity marks an unresolvable UTXO input, unparseable
	// address, or malformed cursor. Operator intervention is required.
	ErrDataIntegrity = errors.New("data integrity error")
	// ErrConfig marks a missing field, invalid hex, or invalid
	// predicate, detected before bootstrap completes.
	ErrConfig = errors.New("configuration error")
)

// WithKind wraps err so that errors.Is(result, kind) succeeds, while
// preserving err's message and attaching a stack via errors.WithStack.
func WithKind(err error, kind error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: errors.WithStack(err)}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Is(target error) bool {
	return target == e.kind
}

// ErrorAction is the supervisor's classification of a Stage error,
// the closed set of verbs named in spec §4.1/§7.
type ErrorAction int

const (
	// OrRetry re-enters Work after a backoff sleep.
	OrRetry ErrorAction = iota
	// OrRestart tears the stage down and re-runs Bootstrap.
	OrRestart
	// OrPanic aborts the whole pipeline.
	OrPanic
)

func (a ErrorAction) String() string {
	switch a {
	case OrRetry:
		return "or_retry"
	case OrRestart:
		return "or_restart"
	case OrPanic:
		return "or_panic"
	default:
		return "unknown"
	}
}

// Classify maps an error produced by a Stage to the action the
// supervisor should take, per the error-kind table in spec §7. An
// error not wrapped with WithKind is treated as a data-integrity
// failure: unclassified errors must not be silently retried forever.
func Classify(err error) ErrorAction {
	switch {
	case err == nil:
		return OrRetry
	case errors.Is(err, ErrTransient):
		return OrRetry
	case errors.Is(err, ErrProtocol):
		return OrRestart
	case errors.Is(err, ErrDataIntegrity), errors.Is(err, ErrConfig):
		return OrPanic
	default:
		return OrPanic
	}
}
