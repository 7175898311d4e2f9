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

// Package kernels provides small PolyBench-style programs used to exercise
// the pipeline and the interpreter.
package kernels

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// Kernel is a named program constructor with default problem sizes.
type Kernel struct {
	Name        string
	Description string

	// Sizes binds the integer arguments for interpretation.
	Sizes map[string]int64

	// LiveOut lists the containers whose final contents define the result.
	LiveOut []string

	build func(k *kb)
}

// Build constructs a fresh copy of the kernel's program. Building twice
// yields programs with identical element IDs.
func (k *Kernel) Build() (*ir.Program, error) {
	b := &kb{b: ir.NewBuilder(k.Name)}
	k.build(b)
	if b.err != nil {
		return nil, errors.WithMessagef(b.err, "kernel %s", k.Name)
	}
	return b.b.Program(), nil
}

var registry = map[string]*Kernel{}

func register(k *Kernel) { registry[k.Name] = k }

// Get returns the kernel called name.
func Get(name string) (*Kernel, error) {
	k, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown kernel %q (known: %v)", name, Names())
	}
	return k, nil
}

// Names lists the registered kernels in alphabetical order.
func Names() []string {
	names := lo.Keys(registry)
	slices.Sort(names)
	return names
}

// kb wraps a builder and keeps the first error, so kernel definitions read
// as straight-line code.
type kb struct {
	b   *ir.Builder
	err error
}

func (k *kb) root() ir.ID { return k.b.Program().Root() }

func (k *kb) arg(name string, t ir.Type) {
	if k.err == nil {
		k.err = k.b.AddArgument(name, t)
	}
}

func (k *kb) ints(names ...string) {
	for _, n := range names {
		k.arg(n, ir.ScalarOf(ir.Int64))
	}
}

func (k *kb) scalars(names ...string) {
	for _, n := range names {
		k.arg(n, ir.ScalarOf(ir.Float64))
	}
}

func (k *kb) local(name string, t ir.Type) {
	if k.err == nil {
		k.err = k.b.AddContainer(name, t)
	}
}

// loop appends "for indvar = init; indvar < bound; indvar++" and returns its
// body.
func (k *kb) loop(parent ir.ID, indvar, init, bound string, assign *ir.Assignments) ir.ID {
	l := k.loopNode(parent, indvar, init, bound, assign)
	if l == nil {
		return ir.ID{}
	}
	return l.Body
}

func (k *kb) loopNode(parent ir.ID, indvar, init, bound string, assign *ir.Assignments) *ir.Loop {
	if k.err != nil {
		return nil
	}
	var err error
	var exprs [3]symbolic.Expr
	for i, src := range []string{init, indvar + " < " + bound, indvar + " + 1"} {
		if exprs[i], err = symbolic.Parse(src); err != nil {
			k.err = err
			return nil
		}
	}
	l, err := k.b.AddFor(parent, symbolic.Symbol(indvar), exprs[0], exprs[1], exprs[2], assign)
	if err != nil {
		k.err = err
		return nil
	}
	return l
}

// block appends a block and returns its graph.
func (k *kb) block(parent ir.ID, assign *ir.Assignments) *ir.Graph {
	if k.err != nil {
		return ir.NewGraph()
	}
	blk, err := k.b.AddBlock(parent, assign)
	if err != nil {
		k.err = err
		return ir.NewGraph()
	}
	return blk.Graph
}

// fma appends a block computing out = Π factors + out.
func (k *kb) fma(parent ir.ID, out ir.Ref, factors ...ir.Ref) {
	k.block(parent, nil).AddStatement(ir.OpFMA, out, append(factors, out)...)
}

// zero appends a block computing out = 0.
func (k *kb) zero(parent ir.ID, out ir.Ref) {
	k.block(parent, nil).AddConstStatement(out, 0)
}

// scale appends a block computing out = out * factor.
func (k *kb) scale(parent ir.ID, out, factor ir.Ref) {
	k.block(parent, nil).AddStatement(ir.OpMul, out, out, factor)
}
