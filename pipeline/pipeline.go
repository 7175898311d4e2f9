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

// Package pipeline drives the rewrites of package transform over a program
// in a fixed stage order until every stage reaches its fixed point.
//
// The stages are:
//
//  1. LoopNormalize on every loop, innermost first, then (opt-in)
//     LoopConsumeAssignments until none is legal;
//  2. LoopDistribute or MyLoopDistribute on the innermost legal loop,
//     restarting after each success;
//  3. BlockFusion once per sequence, innermost first;
//  4. EinsumLift over the einsum loop nests;
//  5. EinsumExpand over the (loop, einsum) pairs;
//  6. Einsum2BLAS over the einsum nodes.
//
// Every applied rewrite is recorded so that a Session can be replayed on a
// fresh copy of the input program.
package pipeline

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/match"
	"github.com/ajroetker/einsumopt/transform"
)

// Config selects the optional parts of the pipeline.
type Config struct {
	// ConsumeAssignments enables folding induction-linked symbols into the
	// loop induction variable after normalization.
	ConsumeAssignments bool `yaml:"consume_assignments" json:"consume_assignments"`

	// Validate re-checks the program invariants after every rewrite.
	Validate bool `yaml:"validate" json:"validate"`

	// BLASImpl tags the lowered library calls.
	BLASImpl ir.BLASImpl `yaml:"blas_impl" json:"blas_impl"`
}

// DefaultConfig validates after every rewrite and lowers to CBLAS.
func DefaultConfig() Config {
	return Config{Validate: true, BLASImpl: ir.ImplCBLAS}
}

// maxApplications bounds a single stage. Every rewrite shrinks the program,
// so hitting it means a rewrite re-enables itself.
const maxApplications = 100_000

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(pl *Pipeline) {
		pl.logger = logger
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(pl *Pipeline) {
		pl.config = cfg
	}
}

// Pipeline is the rewrite orchestrator. A Pipeline may be reused; each Run
// starts a new record list.
type Pipeline struct {
	config  Config
	logger  zerolog.Logger
	records []transform.Record
}

// New creates a pipeline.
func New(opts ...Option) *Pipeline {
	pl := &Pipeline{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(pl)
	}
	if pl.config.BLASImpl == "" {
		pl.config.BLASImpl = ir.ImplCBLAS
	}
	return pl
}

// Config returns the configuration in effect.
func (pl *Pipeline) Config() Config { return pl.config }

// Applied returns the number of rewrites applied by the last Run.
func (pl *Pipeline) Applied() int { return len(pl.records) }

// Records returns the rewrites applied by the last Run, in order.
func (pl *Pipeline) Records() []transform.Record {
	return append([]transform.Record(nil), pl.records...)
}

// Run optimizes p in place. It returns true unless a fatal error occurs:
// a StructuralError, LookupError or InvariantViolation.
func (pl *Pipeline) Run(p *ir.Program) (bool, error) {
	ctx := transform.NewContext(p)
	ctx.BLASImpl = pl.config.BLASImpl
	return pl.RunContext(ctx)
}

// RunContext is Run on an existing rewrite context.
func (pl *Pipeline) RunContext(ctx *transform.Context) (bool, error) {
	pl.records = nil
	stages := []struct {
		name    string
		enabled bool
		run     func(*transform.Context) error
	}{
		{"normalize", true, pl.normalize},
		{"consume", pl.config.ConsumeAssignments, pl.consume},
		{"distribute", true, pl.distribute},
		{"fusion", true, pl.fuse},
		{"lift", true, pl.lift},
		{"expand", true, pl.expand},
		{"blas", true, pl.lower},
	}
	base := ctx.Logger
	defer func() { ctx.Logger = base }()
	for _, st := range stages {
		if !st.enabled {
			continue
		}
		ctx.Logger = pl.logger.With().Str("stage", st.name).Logger()
		before := len(pl.records)
		if err := st.run(ctx); err != nil {
			return false, errors.WithMessagef(err, "stage %s", st.name)
		}
		ctx.Logger.Info().Int("applied", len(pl.records)-before).Msg("stage done")
	}
	return true, nil
}

// apply performs a rewrite already known to be legal, records it and
// re-validates the program.
func (pl *Pipeline) apply(ctx *transform.Context, t transform.Transformation) error {
	if err := transform.Apply(ctx, t); err != nil {
		if errors.Is(err, transform.ErrNotApplicable) {
			return ir.Invariant("%s reported legal but did not apply: %s", t.Name(), t.Record())
		}
		return err
	}
	pl.records = append(pl.records, t.Record())
	if pl.config.Validate {
		if err := ir.Validate(ctx.Program()); err != nil {
			return errors.WithMessagef(err, "after %s", t.Record())
		}
	}
	return nil
}

// fixpoint repeatedly applies the first legal candidate until none is left.
// Candidates are re-derived after every success.
func (pl *Pipeline) fixpoint(ctx *transform.Context, candidates func() ([]transform.Transformation, error)) error {
	for n := 0; ; n++ {
		if n == maxApplications {
			return ir.Invariant("no fixed point after %d rewrites", n)
		}
		ts, err := candidates()
		if err != nil {
			return err
		}
		applied := false
		for _, t := range ts {
			if !t.CanBeApplied(ctx) {
				continue
			}
			if err := pl.apply(ctx, t); err != nil {
				return err
			}
			applied = true
			break
		}
		if !applied {
			return nil
		}
	}
}

// once applies every legal candidate of a single snapshot in order.
func (pl *Pipeline) once(ctx *transform.Context, ts []transform.Transformation) error {
	for _, t := range ts {
		if !t.CanBeApplied(ctx) {
			continue
		}
		if err := pl.apply(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (pl *Pipeline) normalize(ctx *transform.Context) error {
	loops, err := ctx.Analyses.Loops()
	if err != nil {
		return err
	}
	ts := make([]transform.Transformation, len(loops))
	for i, id := range loops {
		ts[i] = &transform.LoopNormalize{Loop: id}
	}
	return pl.once(ctx, ts)
}

func (pl *Pipeline) consume(ctx *transform.Context) error {
	return pl.fixpoint(ctx, func() ([]transform.Transformation, error) {
		loops, err := ctx.Analyses.Loops()
		if err != nil {
			return nil, err
		}
		ts := make([]transform.Transformation, len(loops))
		for i, id := range loops {
			ts[i] = &transform.LoopConsumeAssignments{Loop: id}
		}
		return ts, nil
	})
}

func (pl *Pipeline) distribute(ctx *transform.Context) error {
	return pl.fixpoint(ctx, func() ([]transform.Transformation, error) {
		loops, err := ctx.Analyses.Loops()
		if err != nil {
			return nil, err
		}
		ts := make([]transform.Transformation, 0, 2*len(loops))
		for _, id := range loops {
			ts = append(ts, &transform.LoopDistribute{Loop: id}, &transform.MyLoopDistribute{Loop: id})
		}
		return ts, nil
	})
}

// fuse is the block fusion driver: one BlockFusion per sequence, every
// sequence after all the sequences nested in it.
func (pl *Pipeline) fuse(ctx *transform.Context) error {
	seqs, err := match.PostOrderSequences(ctx.Program(), ctx.Program().Root())
	if err != nil {
		return err
	}
	ts := make([]transform.Transformation, len(seqs))
	for i, id := range seqs {
		ts[i] = &transform.BlockFusion{Sequence: id}
	}
	return pl.once(ctx, ts)
}

func (pl *Pipeline) lift(ctx *transform.Context) error {
	return pl.fixpoint(ctx, func() ([]transform.Transformation, error) {
		nests, err := match.EinsumLoops(ctx.Program(), ctx.Program().Root())
		if err != nil {
			return nil, err
		}
		ts := make([]transform.Transformation, len(nests))
		for i, n := range nests {
			ts[i] = &transform.EinsumLift{Loops: n.Loops, Block: n.Block}
		}
		return ts, nil
	})
}

func (pl *Pipeline) expand(ctx *transform.Context) error {
	return pl.fixpoint(ctx, func() ([]transform.Transformation, error) {
		pairs, err := match.EinsumNodeLoops(ctx.Program(), ctx.Program().Root())
		if err != nil {
			return nil, err
		}
		ts := make([]transform.Transformation, len(pairs))
		for i, nl := range pairs {
			ts[i] = &transform.EinsumExpand{Loop: nl.Loop, Block: nl.Block, Node: nl.Node}
		}
		return ts, nil
	})
}

func (pl *Pipeline) lower(ctx *transform.Context) error {
	return pl.fixpoint(ctx, func() ([]transform.Transformation, error) {
		nodes, err := match.EinsumNodes(ctx.Program(), ctx.Program().Root())
		if err != nil {
			return nil, err
		}
		ts := make([]transform.Transformation, len(nodes))
		for i, n := range nodes {
			ts[i] = &transform.Einsum2BLAS{Block: n.Block, Node: n.Node, Impl: ctx.BLASImpl}
		}
		return ts, nil
	})
}
