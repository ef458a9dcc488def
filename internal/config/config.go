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

// Package config is scrollsink's configuration surface: structural
// pipeline configuration lives in a TOML file, while the handful of
// per-run operational knobs are pflag overrides, following the
// teacher's server.Config split between Bind and Preflight.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// IntersectConfig mirrors pipeline/source.IntersectConfig's TOML shape.
type IntersectConfig struct {
	Origin    bool     `toml:"origin"`
	Tip       bool     `toml:"tip"`
	Slot      uint64   `toml:"slot"`
	Hash      string   `toml:"hash"`
	Fallbacks []string `toml:"fallbacks"`
}

// SourceConfig names the chain-sync endpoint to connect to. The
// concrete meaning of Endpoint is defined by whichever ChainSyncClient
// implementation is wired at startup.
type SourceConfig struct {
	Endpoint string `toml:"endpoint"`
}

// EnrichConfig names the lookup endpoint used to resolve spent
// outputs.
type EnrichConfig struct {
	Endpoint string `toml:"endpoint"`
}

// ReducerConfig is one configured reducer instance. Kind selects which
// reducer implementation Params is unmarshaled into; see
// reducers.Build (internal/reducers) for the supported Kind values.
type ReducerConfig struct {
	Kind   string         `toml:"kind"`
	Params map[string]any `toml:"params"`
}

// StorageConfig configures the Sink backend.
type StorageConfig struct {
	Driver           string `toml:"driver"` // "memory" or "postgres"
	ConnectionString string `toml:"connection_string"`
	Schema           string `toml:"schema"`
	CursorID         string `toml:"cursor_id"`
}

// Config is the full TOML-loaded structural configuration (spec §6).
type Config struct {
	Intersect IntersectConfig `toml:"intersect"`
	Source    SourceConfig    `toml:"source"`
	Enrich    EnrichConfig    `toml:"enrich"`
	Reducers  []ReducerConfig `toml:"reducers"`
	Storage   StorageConfig   `toml:"storage"`

	// BindAddr, if non-empty, exposes a Prometheus /metrics endpoint.
	BindAddr string `toml:"-"`
	// ConfigFile is the path Bind loaded, or will load, Config from.
	ConfigFile string `toml:"-"`
}

// Bind registers the operational pflag overrides. Structural pipeline
// shape (intersect/source/enrich/reducers/storage) is TOML-only; flags
// only ever cover what it makes sense to flip per invocation.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.ConfigFile, "config", "scrollsink.toml", "path to the TOML configuration file")
	flags.StringVar(&c.BindAddr, "bindAddr", ":9090", "address to serve Prometheus metrics on")
	flags.StringVar(&c.Storage.ConnectionString, "storageConn", "", "override storage.connection_string")
}

// Load reads and parses ConfigFile into c, then re-applies any flags
// already bound (so flag overrides win over file contents), matching
// the teacher's layered precedence: file provides defaults, flags
// override.
func (c *Config) Load() error {
	if c.ConfigFile == "" {
		return errors.New("config: no config file specified")
	}
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return errors.Wrapf(err, "config: read %s", c.ConfigFile)
	}

	loaded := Config{}
	if _, err := toml.Decode(string(data), &loaded); err != nil {
		return errors.Wrapf(err, "config: parse %s", c.ConfigFile)
	}

	storageConn := c.Storage.ConnectionString
	bindAddr := c.BindAddr
	configFile := c.ConfigFile
	*c = loaded
	c.ConfigFile = configFile
	if storageConn != "" {
		c.Storage.ConnectionString = storageConn
	}
	if bindAddr != "" {
		c.BindAddr = bindAddr
	}
	return nil
}

// Preflight validates c, following the teacher's Preflight pattern of
// one aggregate validation pass after flags and file are both applied.
func (c *Config) Preflight() error {
	if !c.Intersect.Origin && !c.Intersect.Tip && c.Intersect.Slot == 0 && len(c.Intersect.Fallbacks) == 0 {
		return errors.New("config: intersect requires origin, tip, slot, or fallbacks")
	}
	if c.Source.Endpoint == "" {
		return errors.New("config: source.endpoint unset")
	}
	if c.Enrich.Endpoint == "" {
		return errors.New("config: enrich.endpoint unset")
	}
	if len(c.Reducers) == 0 {
		return errors.New("config: at least one reducer must be configured")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.ConnectionString == "" {
			return errors.New("config: storage.connection_string required for postgres driver")
		}
		if c.Storage.Schema == "" {
			return errors.New("config: storage.schema required for postgres driver")
		}
	default:
		return errors.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}
