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

// Command einsumopt rewrites loop-nest kernels into dense linear-algebra
// library calls and checks the result against the original.
//
// Usage:
//
//	einsumopt list
//	einsumopt optimize gemm --session gemm.json
//	einsumopt check --consume all
//	einsumopt replay gemm.json
//
// Settings are read from a YAML file (--config), then from EINSUMOPT_DEBUG
// and EINSUMOPT_LOG_LEVEL, then from flags.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ajroetker/einsumopt/ir"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfg    Config
	logger zerolog.Logger
	out    io.Writer
	errOut io.Writer

	configPath string
	flags      struct {
		logLevel   string
		consume    bool
		noValidate bool
		blas       string
		workers    int
		seed       uint64
		tolerance  float64
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "einsumopt",
		Short:         "Lower loop-nest kernels to BLAS calls",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.BoolVar(&a.flags.consume, "consume", false, "fold induction-linked symbols into loop variables")
	pf.BoolVar(&a.flags.noValidate, "no-validate", false, "skip program validation after each rewrite")
	pf.StringVar(&a.flags.blas, "blas", "", "BLAS implementation tag (cblas, cublas)")
	pf.IntVar(&a.flags.workers, "workers", 0, "workers for parallel loops in check mode (0 = GOMAXPROCS)")
	pf.Uint64Var(&a.flags.seed, "seed", 1, "seed for check mode inputs")
	pf.Float64Var(&a.flags.tolerance, "tolerance", 1e-9, "largest accepted difference in check mode")

	root.AddCommand(a.listCmd(), a.optimizeCmd(), a.checkCmd(), a.replayCmd())
	return root
}

// setup resolves the configuration: file, then environment, then flags that
// were set explicitly.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	cfg.applyEnv()

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("consume") {
		cfg.Pipeline.ConsumeAssignments = a.flags.consume
	}
	if flags.Changed("no-validate") {
		cfg.Pipeline.Validate = !a.flags.noValidate
	}
	if flags.Changed("blas") {
		cfg.Pipeline.BLASImpl = ir.BLASImpl(a.flags.blas)
	}
	if flags.Changed("workers") {
		cfg.Workers = a.flags.workers
	}
	if flags.Changed("seed") {
		cfg.Seed = a.flags.seed
	}
	if flags.Changed("tolerance") {
		cfg.Tolerance = a.flags.tolerance
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	level, _ := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	a.cfg = cfg
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: a.errOut, NoColor: true}).
		Level(level).With().Timestamp().Logger()
	return nil
}
