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

// Package interp executes programs on concrete data. It is the reference
// semantics used to check that an optimized program computes the same
// results as its input.
package interp

import (
	"maps"

	"github.com/pkg/errors"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// maxIterations bounds the trip count of a parallel loop, whose iterations
// are enumerated up front.
const maxIterations = 1 << 24

// Option configures Run.
type Option func(*runner)

// WithPool runs the iterations of Map loops on pool. Without a pool every
// loop runs sequentially.
func WithPool(pool *Pool) Option {
	return func(r *runner) { r.pool = pool }
}

type runner struct {
	p      *ir.Program
	mem    *Memory
	shapes map[string][]int
	pool   *Pool
}

// signal is how control leaves a node.
type signal int

const (
	next signal = iota
	breakLoop
	continueLoop
	returnProgram
)

// Run executes p on mem. Arrays are updated in place; the final values of
// integer symbols are written back to mem.Symbols.
func Run(p *ir.Program, mem *Memory, opts ...Option) error {
	r := &runner{p: p, mem: mem, shapes: map[string][]int{}}
	for _, opt := range opts {
		opt(r)
	}
	for _, name := range p.Containers() {
		typ, _ := p.Container(name)
		if typ.Kind != ir.Array {
			continue
		}
		dims, err := shape(typ, mem.Symbols)
		if err != nil {
			return errors.WithMessagef(err, "container %s", name)
		}
		r.shapes[name] = dims
	}

	env := maps.Clone(mem.Symbols)
	if env == nil {
		env = symbolic.Env{}
	}
	if _, err := r.exec(p.Root(), env); err != nil {
		return errors.WithMessagef(err, "run %s", p.Name)
	}
	mem.Symbols = env
	return nil
}

func (r *runner) exec(id ir.ID, env symbolic.Env) (signal, error) {
	n, err := r.p.Node(id)
	if err != nil {
		return next, err
	}
	switch v := n.(type) {
	case *ir.Sequence:
		for _, e := range v.Entries {
			if err := assign(e.Assign, env); err != nil {
				return next, err
			}
			sig, err := r.exec(e.Node, env)
			if err != nil || sig != next {
				return sig, err
			}
		}
		return next, nil

	case *ir.Loop:
		return r.loop(v, env)

	case *ir.IfElse:
		for _, br := range v.Branches {
			ok, err := symbolic.Holds(br.Cond, env)
			if err != nil {
				return next, errors.WithMessagef(err, "branch of %s", id)
			}
			if ok {
				return r.exec(br.Body, env)
			}
		}
		return next, nil

	case *ir.While:
		for {
			ok, err := symbolic.Holds(v.Cond, env)
			if err != nil {
				return next, errors.WithMessagef(err, "while %s", id)
			}
			if !ok {
				return next, nil
			}
			sig, err := r.exec(v.Body, env)
			if err != nil {
				return next, err
			}
			switch sig {
			case breakLoop:
				return next, nil
			case returnProgram:
				return sig, nil
			}
		}

	case *ir.Block:
		return next, errors.WithMessagef(r.block(v.Graph, env), "block %s", id)
	case *ir.Break:
		return breakLoop, nil
	case *ir.Continue:
		return continueLoop, nil
	case *ir.Return:
		return returnProgram, nil
	default:
		return next, ir.Structural(id, "unsupported node %T", n)
	}
}

// assign evaluates every right-hand side before binding any of them.
func assign(a *ir.Assignments, env symbolic.Env) error {
	if a.Len() == 0 {
		return nil
	}
	vals := make(map[symbolic.Symbol]int64, a.Len())
	var err error
	a.Scan(func(s symbolic.Symbol, e symbolic.Expr) bool {
		vals[s], err = symbolic.Eval(e, env)
		return err == nil
	})
	if err != nil {
		return err
	}
	maps.Copy(env, vals)
	return nil
}

func (r *runner) loop(l *ir.Loop, env symbolic.Env) (signal, error) {
	init, err := symbolic.Eval(l.Init, env)
	if err != nil {
		return next, errors.WithMessagef(err, "loop %s", l.ID())
	}
	env[l.Indvar] = init
	if l.Schedule == ir.Map && r.pool != nil {
		return r.parallel(l, env)
	}
	for {
		ok, err := symbolic.Holds(l.Cond, env)
		if err != nil {
			return next, errors.WithMessagef(err, "loop %s", l.ID())
		}
		if !ok {
			return next, nil
		}
		sig, err := r.exec(l.Body, env)
		if err != nil {
			return next, err
		}
		switch sig {
		case breakLoop:
			return next, nil
		case returnProgram:
			return sig, nil
		}
		if env[l.Indvar], err = symbolic.Eval(l.Update, env); err != nil {
			return next, errors.WithMessagef(err, "loop %s", l.ID())
		}
	}
}

// parallel runs the iterations of a Map loop on the pool, each on its own
// copy of the symbols. Nested loops run sequentially.
func (r *runner) parallel(l *ir.Loop, env symbolic.Env) (signal, error) {
	var iters []int64
	for {
		ok, err := symbolic.Holds(l.Cond, env)
		if err != nil {
			return next, errors.WithMessagef(err, "loop %s", l.ID())
		}
		if !ok {
			break
		}
		if len(iters) == maxIterations {
			return next, errors.Errorf("parallel loop %s exceeds %d iterations", l.ID(), maxIterations)
		}
		iters = append(iters, env[l.Indvar])
		if env[l.Indvar], err = symbolic.Eval(l.Update, env); err != nil {
			return next, errors.WithMessagef(err, "loop %s", l.ID())
		}
	}

	inner := *r
	inner.pool = nil
	err := r.pool.ParallelFor(len(iters), func(start, end int) error {
		local := maps.Clone(env)
		for _, it := range iters[start:end] {
			local[l.Indvar] = it
			sig, err := inner.exec(l.Body, local)
			if err != nil {
				return err
			}
			if sig == breakLoop || sig == returnProgram {
				return errors.Errorf("control flow leaves parallel loop %s", l.ID())
			}
		}
		return nil
	})
	return next, err
}
