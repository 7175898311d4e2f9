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
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ajroetker/einsumopt/interp"
	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/kernels"
	"github.com/ajroetker/einsumopt/pipeline"
	"github.com/ajroetker/einsumopt/transform"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in kernels",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, name := range kernels.Names() {
				k, err := kernels.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", k.Name, k.Description, formatSizes(a.cfg.sizes(name, k.Sizes)))
			}
			return w.Flush()
		},
	}
}

func formatSizes(sizes map[string]int64) string {
	keys := lo.Keys(sizes)
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, sizes[k])
	}
	return strings.Join(parts, " ")
}

func (a *app) optimizeCmd() *cobra.Command {
	var (
		withIDs     bool
		sessionPath string
	)
	cmd := &cobra.Command{
		Use:   "optimize <kernel>",
		Short: "Run the pipeline on a kernel and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			k, err := kernels.Get(args[0])
			if err != nil {
				return err
			}
			p, err := k.Build()
			if err != nil {
				return err
			}
			pl := a.pipeline()
			if _, err := pl.Run(p); err != nil {
				return errors.Wrapf(err, "optimize %s", k.Name)
			}
			if sessionPath != "" {
				if err := writeSessionFile(sessionPath, pl.Session(k.Name)); err != nil {
					return err
				}
				a.logger.Info().Str("path", sessionPath).Int("records", pl.Applied()).Msg("session written")
			}
			return a.dump(p, withIDs)
		},
	}
	cmd.Flags().BoolVar(&withIDs, "ids", false, "print element ids")
	cmd.Flags().StringVar(&sessionPath, "session", "", "write the applied rewrites to this file")
	return cmd
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [kernel...]",
		Short: "Interpret kernels before and after optimization and compare their outputs",
		RunE: func(_ *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = kernels.Names()
			}
			pool := interp.NewPool(a.cfg.Workers)
			defer pool.Close()

			var failed []string
			for _, name := range names {
				diff, err := a.check(name, pool)
				if err != nil {
					return errors.Wrapf(err, "check %s", name)
				}
				status := "ok"
				if diff > a.cfg.Tolerance {
					status = "FAIL"
					failed = append(failed, name)
				}
				fmt.Fprintf(a.out, "%-10s %s max|diff|=%.3g\n", name, status, diff)
			}
			if len(failed) > 0 {
				return errors.Errorf("%d kernel(s) exceed tolerance %g: %s",
					len(failed), a.cfg.Tolerance, strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

// check returns the largest difference between the live-out containers of
// a kernel and of its optimized form.
func (a *app) check(name string, pool *interp.Pool) (float64, error) {
	k, err := kernels.Get(name)
	if err != nil {
		return 0, err
	}
	original, err := k.Build()
	if err != nil {
		return 0, err
	}
	optimized, err := k.Build()
	if err != nil {
		return 0, err
	}
	if _, err := a.pipeline().Run(optimized); err != nil {
		return 0, err
	}

	inputs, err := interp.Allocate(original, a.cfg.sizes(name, k.Sizes), a.cfg.Seed)
	if err != nil {
		return 0, err
	}
	want := inputs.Clone()
	if err := interp.Run(original, want); err != nil {
		return 0, err
	}
	got := inputs.Clone()
	if err := interp.Run(optimized, got, interp.WithPool(pool)); err != nil {
		return 0, err
	}
	diff, err := interp.Compare(want, got, k.LiveOut)
	if err != nil {
		return 0, err
	}
	a.logger.Debug().Str("kernel", name).Float64("diff", diff).Msg("checked")
	return diff, nil
}

func (a *app) replayCmd() *cobra.Command {
	var withIDs bool
	cmd := &cobra.Command{
		Use:   "replay <session.json>",
		Short: "Re-apply a recorded session to a fresh copy of its kernel",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.WithStack(err)
			}
			defer f.Close()
			s, err := pipeline.ReadSession(f)
			if err != nil {
				return err
			}
			k, err := kernels.Get(s.Program)
			if err != nil {
				return err
			}
			p, err := k.Build()
			if err != nil {
				return err
			}
			ctx := transform.NewContext(p)
			ctx.Logger = a.logger
			if err := pipeline.Replay(ctx, s); err != nil {
				return errors.Wrapf(err, "replay %s", args[0])
			}
			return a.dump(p, withIDs)
		},
	}
	cmd.Flags().BoolVar(&withIDs, "ids", false, "print element ids")
	return cmd
}

func (a *app) pipeline() *pipeline.Pipeline {
	return pipeline.New(pipeline.WithConfig(a.cfg.Pipeline), pipeline.WithLogger(a.logger))
}

func (a *app) dump(p *ir.Program, withIDs bool) error {
	var opts []ir.DumpOption
	if withIDs {
		opts = append(opts, ir.WithIDs())
	}
	_, err := fmt.Fprint(a.out, ir.Dump(p, opts...))
	return errors.WithStack(err)
}

func writeSessionFile(path string, s *pipeline.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := pipeline.WriteSession(f, s); err != nil {
		f.Close()
		return err
	}
	return errors.WithStack(f.Close())
}
