// Copyright 2025 go-highway Authors
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

package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/pipeline"
)

// Environment variables read on top of the configuration file.
const (
	envDebug    = "EINSUMOPT_DEBUG"
	envLogLevel = "EINSUMOPT_LOG_LEVEL"
)

// Config is the command-line configuration. It is read from YAML, then
// overridden by the environment, then by flags.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Workers sizes the pool that runs parallel loops in check mode; zero
	// means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// Seed fills the inputs of check mode.
	Seed uint64 `yaml:"seed"`

	// Tolerance is the largest absolute difference check mode accepts.
	Tolerance float64 `yaml:"tolerance"`

	// Sizes overrides the default problem sizes, per kernel.
	Sizes map[string]map[string]int64 `yaml:"sizes"`

	Pipeline pipeline.Config `yaml:"pipeline"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:  zerolog.LevelInfoValue,
		Seed:      1,
		Tolerance: 1e-9,
		Pipeline:  pipeline.DefaultConfig(),
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// applyEnv overrides the log level from the environment. EINSUMOPT_DEBUG
// wins over EINSUMOPT_LOG_LEVEL.
func (c *Config) applyEnv() {
	if env.Has(envLogLevel) {
		c.LogLevel = env.Str(envLogLevel)
	}
	if env.Bool(envDebug) {
		c.LogLevel = zerolog.LevelDebugValue
	}
}

func (c *Config) validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return errors.Wrapf(err, "log_level %q", c.LogLevel)
	}
	switch c.Pipeline.BLASImpl {
	case ir.ImplCBLAS, ir.ImplCUBLAS:
	default:
		return errors.Errorf("unknown blas_impl %q (want %s or %s)", c.Pipeline.BLASImpl, ir.ImplCBLAS, ir.ImplCUBLAS)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Tolerance < 0 {
		return errors.Errorf("tolerance must not be negative, got %g", c.Tolerance)
	}
	return nil
}

// sizes returns the problem sizes of a kernel: its defaults with the
// configured overrides applied.
func (c *Config) sizes(kernel string, defaults map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range c.Sizes[kernel] {
		out[k] = v
	}
	return out
}
