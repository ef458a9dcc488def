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

// Command scrollsink runs the chain-following indexer pipeline: it
// parses flags and TOML configuration, builds the Source, Enrich,
// Reduce, and Sink stages, and supervises all four concurrently until
// one reports an unrecoverable error or the process is signaled to
// stop (spec §6).
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/scrollsink/internal/chain"
	"github.com/cockroachdb/scrollsink/internal/config"
	"github.com/cockroachdb/scrollsink/internal/model"
	"github.com/cockroachdb/scrollsink/internal/pipeline"
	"github.com/cockroachdb/scrollsink/internal/pipeline/enrich"
	"github.com/cockroachdb/scrollsink/internal/pipeline/reduce"
	"github.com/cockroachdb/scrollsink/internal/pipeline/sink"
	"github.com/cockroachdb/scrollsink/internal/pipeline/source"
	"github.com/cockroachdb/scrollsink/internal/reducers"
	memorybackend "github.com/cockroachdb/scrollsink/internal/sink/backend/memory"
	"github.com/cockroachdb/scrollsink/internal/sink/backend/postgres"
	"github.com/cockroachdb/scrollsink/internal/util/notify"
	"github.com/cockroachdb/scrollsink/internal/util/stopper"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// metricsShutdownGrace bounds how long the metrics/status server is
// given to drain in-flight requests once the process starts shutting
// down.
const metricsShutdownGrace = 5 * time.Second

// portCapacity bounds in-flight messages on every inter-stage port
// (spec §5 back pressure).
const portCapacity = 64

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("scrollsink exited with error")
	}
}

func run() error {
	cfg := &config.Config{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Load(); err != nil {
		return err
	}
	if err := cfg.Preflight(); err != nil {
		return pipeline.WithKind(err, pipeline.ErrConfig)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	position := &notify.Var[chain.Point]{}

	httpStop := stopper.WithContext(ctx)
	if cfg.BindAddr != "" {
		serveMetrics(httpStop, cfg.BindAddr, position)
	}
	defer func() {
		for _, err := range httpStop.Stop(metricsShutdownGrace) {
			log.WithError(err).Warn("metrics server shutdown error")
		}
	}()

	backend, cleanup, err := buildBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer cleanup()

	reducerImpls, err := buildReducers(cfg.Reducers)
	if err != nil {
		return err
	}

	client := newPluggableChainSyncClient(cfg.Source.Endpoint)
	lookup := newPluggableLookup(cfg.Enrich.Endpoint)

	return runPipeline(ctx, cfg, client, lookup, backend, reducerImpls, position)
}

// serveMetrics starts a Prometheus /metrics endpoint and a /status
// endpoint reporting the source stage's current chain position, both
// torn down cooperatively through stop rather than an abrupt context
// cancellation (spec §5).
func serveMetrics(stop *stopper.Context, bindAddr string, position *notify.Var[chain.Point]) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		point, _ := position.Get()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Slot uint64 `json:"slot"`
			Hash string `json:"hash"`
		}{Slot: point.Slot, Hash: hex.EncodeToString(point.Hash[:])})
	})
	srv := &http.Server{Addr: bindAddr, Handler: mux}

	stop.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	stop.Go(func() error {
		<-stop.Stopping()
		return srv.Close()
	})
}

func runPipeline(
	ctx context.Context,
	cfg *config.Config,
	client source.ChainSyncClient,
	lookup enrich.Lookup,
	backend sink.Backend,
	reducerImpls []reduce.Reducer,
	position *notify.Var[chain.Point],
) error {
	cs, ok := backend.(source.CursorStore)
	if !ok {
		return errors.New("storage backend does not implement cursor loading")
	}

	intersect := source.IntersectConfig{
		Origin: cfg.Intersect.Origin,
		Tip:    cfg.Intersect.Tip,
	}
	if cfg.Intersect.Slot != 0 {
		intersect.Point = chain.Point{Slot: cfg.Intersect.Slot}
		hash, err := hex.DecodeString(cfg.Intersect.Hash)
		if err != nil || len(hash) != len(intersect.Point.Hash) {
			return pipeline.WithKind(
				errors.Errorf("config: intersect.hash %q is not a 32-byte hex block hash", cfg.Intersect.Hash), pipeline.ErrConfig)
		}
		copy(intersect.Point.Hash[:], hash)
	}

	blockPort := pipeline.NewPort[chain.Block](portCapacity)
	reduceInPort := pipeline.NewPort[reduce.Input](portCapacity)
	commandPort := pipeline.NewPort[model.CRDTCommand](portCapacity)

	sourceStage := source.New(client, intersect, cs, blockPort)
	sourceStage.Position = position
	enrichStage := enrich.New(blockPort, reduceInPort, lookup)
	reduceStage := reduce.New(reduceInPort, commandPort, reducerImpls)
	sinkStage := sink.New(commandPort, backend)

	group, gctx := errgroup.WithContext(ctx)
	for _, stage := range []pipeline.Stage{sourceStage, enrichStage, reduceStage, sinkStage} {
		stage := stage
		group.Go(func() error {
			return pipeline.NewSupervisor(stage, pipeline.DefaultPolicy).Run(gctx)
		})
	}
	return group.Wait()
}

func buildBackend(ctx context.Context, cfg config.StorageConfig) (sink.Backend, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memorybackend.New(), func() {}, nil
	case "postgres":
		pool, cleanup, err := postgres.Connect(ctx, cfg.ConnectionString)
		if err != nil {
			return nil, func() {}, err
		}
		backend, err := postgres.New(ctx, pool, postgres.Config{Schema: cfg.Schema, CursorID: cfg.CursorID})
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		return backend, cleanup, nil
	default:
		return nil, func() {}, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func buildReducers(cfgs []config.ReducerConfig) ([]reduce.Reducer, error) {
	out := make([]reduce.Reducer, 0, len(cfgs))
	for _, rc := range cfgs {
		r, err := reducers.Build(rc.Kind, rc.Params)
		if err != nil {
			return nil, errors.Wrapf(pipeline.WithKind(err, pipeline.ErrConfig), "reducer %q", rc.Kind)
		}
		out = append(out, r)
	}
	return out, nil
}
