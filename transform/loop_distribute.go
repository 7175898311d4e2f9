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

package transform

import (
	"slices"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// LoopDistribute splits the first entry of a loop body off into its own loop.
//
// The split is legal when every pair of accesses that may conflict across the
// two parts touches identical subsets, and some dimension of that subset is
// ±indvar plus a loop-invariant offset: then distinct iterations touch
// distinct elements and running all of the first part before the rest keeps
// every dependence.
type LoopDistribute struct {
	Loop ir.ID
}

func (t *LoopDistribute) Name() string { return NameLoopDistribute }

func (t *LoopDistribute) Record() Record {
	return Record{Type: t.Name(), Loop: idRef(t.Loop)}
}

func (t *LoopDistribute) CanBeApplied(ctx *Context) bool {
	p := ctx.Program()
	loop, body, ok := loopAndBody(p, t.Loop)
	if !ok || len(body.Entries) < 2 {
		return false
	}
	if _, ok := locate(ctx, t.Loop); !ok {
		return false
	}
	if !plainSubtree(p, loop.Body) {
		return false
	}

	r0, w0, err := accesses(p, body.Entries[0].Node)
	if err != nil {
		return false
	}
	var rRest, wRest []access
	for _, e := range body.Entries[1:] {
		r, w, err := accesses(p, e.Node)
		if err != nil {
			return false
		}
		rRest = append(rRest, r...)
		wRest = append(wRest, w...)
	}
	if len(r0)+len(w0) == 0 || len(rRest)+len(wRest) == 0 {
		return false
	}

	users, err := ctx.Analyses.Users()
	if err != nil {
		return false
	}
	written, err := users.Written(t.Loop)
	if err != nil {
		return false
	}
	d := distribution{indvar: loop.Indvar, written: written, loops: innerIndvars(p, loop)}
	return d.independent(w0, rRest) && d.independent(w0, wRest) && d.independent(r0, wRest)
}

func (t *LoopDistribute) Apply(ctx *Context) error {
	if !t.CanBeApplied(ctx) {
		return ErrNotApplicable
	}
	return distribute(ctx, t.Loop)
}

// distribution checks access pairs of a loop being split.
type distribution struct {
	indvar  symbolic.Symbol
	written []string
	// loops are the induction variables of the loop and every loop nested in
	// it; they are iteration-local.
	loops []symbolic.Symbol
}

func (d distribution) independent(as, bs []access) bool {
	for _, a := range as {
		for _, b := range bs {
			if a.Data != b.Data {
				continue
			}
			if !a.Subset.Equal(b.Subset) || !d.stable(a) || !d.stable(b) || !d.injective(a) {
				return false
			}
		}
	}
	return true
}

// stable reports whether the subset only mentions symbols that keep their
// value across the loop, besides induction variables.
func (d distribution) stable(a access) bool {
	for _, s := range a.Subset.Symbols() {
		if slices.Contains(d.loops, s) || slices.Contains(a.local, s) {
			continue
		}
		if slices.Contains(d.written, string(s)) {
			return false
		}
	}
	return true
}

// injective reports whether some dimension is ±indvar + rest with rest free
// of every symbol that varies inside the loop.
func (d distribution) injective(a access) bool {
	for _, dim := range a.Subset {
		coeff, rest, ok := symbolic.Linear(dim, d.indvar)
		if !ok {
			continue
		}
		if c, ok := symbolic.AsInt(coeff); !ok || (c != 1 && c != -1) {
			continue
		}
		varies := false
		for _, s := range symbolic.Symbols(rest) {
			if slices.Contains(d.written, string(s)) || slices.Contains(a.local, s) {
				varies = true
			}
		}
		if !varies {
			return true
		}
	}
	return false
}

// innerIndvars returns the induction variables of loop and of every loop
// nested in it.
func innerIndvars(p *ir.Program, loop *ir.Loop) []symbolic.Symbol {
	out := []symbolic.Symbol{loop.Indvar}
	stack := []ir.ID{loop.Body}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := p.Node(id)
		if err != nil {
			continue
		}
		if l, ok := n.(*ir.Loop); ok {
			out = append(out, l.Indvar)
		}
		children, _ := ir.Children(n)
		stack = append(stack, children...)
	}
	return out
}
