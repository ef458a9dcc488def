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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// stageLabels identifies the metric series for a single stage
// instance.
var stageLabels = []string{"stage"}

var (
	workDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrollsink_stage_work_duration_seconds",
		Help:    "the length of time a single Work() call took to complete",
		Buckets: prometheus.DefBuckets,
	}, stageLabels)

	workErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrollsink_stage_work_errors_total",
		Help: "the number of times Work() returned an error, labeled by the action taken",
	}, []string{"stage", "action"})

	restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrollsink_stage_restarts_total",
		Help: "the number of times a stage was torn down and re-bootstrapped",
	}, stageLabels)

	storageOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrollsink_sink_storage_ops_total",
		Help: "the number of CRDT commands applied to the storage backend",
	}, []string{"stage", "kind"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scrollsink_stage_queue_depth",
		Help: "the number of messages currently queued on a stage's input port",
	}, stageLabels)
)

// Metrics is the per-stage metrics handle a Supervisor keeps for the
// Stage it runs, matching the "metrics registry (counters and gauges)
// the host scrapes" requirement of spec §4.1.
type Metrics struct {
	stage string
}

// NewMetrics returns a Metrics handle scoped to the named stage.
func NewMetrics(stage string) *Metrics {
	return &Metrics{stage: stage}
}

// ObserveWorkDuration records how long one Work() call took.
func (m *Metrics) ObserveWorkDuration(seconds float64) {
	workDurations.WithLabelValues(m.stage).Observe(seconds)
}

// IncWorkError increments the error counter for the given action.
func (m *Metrics) IncWorkError(action ErrorAction) {
	workErrors.WithLabelValues(m.stage, action.String()).Inc()
}

// IncRestart increments the restart counter.
func (m *Metrics) IncRestart() {
	restarts.WithLabelValues(m.stage).Inc()
}

// IncStorageOp increments the storage_ops counter for the given
// command kind (spec §4.5 step 3).
func (m *Metrics) IncStorageOp(kind string) {
	storageOps.WithLabelValues(m.stage, kind).Inc()
}

// SetQueueDepth publishes the current depth of a stage's input port.
func (m *Metrics) SetQueueDepth(depth int) {
	queueDepth.WithLabelValues(m.stage).Set(float64(depth))
}
