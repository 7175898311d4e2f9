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

// MyLoopDistribute splits a loop whose body is exactly two blocks into two
// loops. Unlike LoopDistribute it accepts a second block that reads, at
// earlier iterations, values the first block wrote: B[i-1] after B[i] was
// written is fine once all of the first loop has run.
//
// The split is rejected when, for a container X written by block 1 and read
// from a source of block 2:
//   - either subset does not mention the induction variable,
//   - the read may reach an element written at a later iteration,
//   - or block 2 indexes some other container with X.
//
// It is also rejected when either block computes nothing, when block 2
// writes a container block 1 touches, or when block 2 mentions a symbol
// assigned on entry to block 1.
type MyLoopDistribute struct {
	Loop ir.ID
}

func (t *MyLoopDistribute) Name() string { return NameMyLoopDistribute }

func (t *MyLoopDistribute) Record() Record {
	return Record{Type: t.Name(), Loop: idRef(t.Loop)}
}

func (t *MyLoopDistribute) CanBeApplied(ctx *Context) bool {
	p := ctx.Program()
	loop, body, ok := loopAndBody(p, t.Loop)
	if !ok || len(body.Entries) != 2 || body.Entries[1].Assign.Len() > 0 {
		return false
	}
	if _, ok := locate(ctx, t.Loop); !ok {
		return false
	}
	b1, err := ir.Get[*ir.Block](p, body.Entries[0].Node)
	if err != nil {
		return false
	}
	b2, err := ir.Get[*ir.Block](p, body.Entries[1].Node)
	if err != nil {
		return false
	}
	g1, g2 := b1.Graph, b2.Graph
	if !computes(g1) || !computes(g2) {
		return false
	}

	touched := map[string]bool{}
	for _, a := range slices.Concat(g1.Reads(), g1.Writes()) {
		touched[a.Data] = true
	}
	for _, a := range g2.Writes() {
		if touched[a.Data] {
			return false
		}
	}

	reads := g2.SourceReads()
	for _, w := range g1.Writes() {
		for _, r := range reads {
			if r.Data != w.Data {
				if r.Subset.Uses(symbolic.Symbol(w.Data)) {
					return false
				}
				continue
			}
			if !w.Subset.Uses(loop.Indvar) || !r.Subset.Uses(loop.Indvar) {
				return false
			}
			if len(w.Subset) != len(r.Subset) {
				return false
			}
			if !readsBehind(loop, w.Subset, r.Subset) {
				return false
			}
		}
	}

	for _, s := range body.Entries[0].Assign.Symbols() {
		if g2.Uses(s) {
			return false
		}
	}
	return true
}

func (t *MyLoopDistribute) Apply(ctx *Context) error {
	if !t.CanBeApplied(ctx) {
		return ErrNotApplicable
	}
	return distribute(ctx, t.Loop)
}

// readsBehind reports whether every element of r that w also touches was
// written at the same or an earlier iteration. Each dimension must differ by
// a constant d; where the write is c*indvar + rest the element was written
// d/c iterations away, which must not be ahead in the loop's direction.
func readsBehind(loop *ir.Loop, w, r symbolic.Subset) bool {
	dir := int64(0)
	if step, ok := loop.Step(); ok {
		if v, ok := symbolic.AsInt(step); ok {
			dir = v
		}
	}
	for k := range w {
		d, ok := symbolic.AsInt(symbolic.Sub(r[k], w[k]))
		if !ok {
			return false
		}
		if d == 0 || !symbolic.Uses(w[k], loop.Indvar) {
			continue
		}
		coeff, _, ok := symbolic.Linear(w[k], loop.Indvar)
		if !ok {
			return false
		}
		c, ok := symbolic.AsInt(coeff)
		if !ok || c == 0 || dir == 0 || d*c*dir > 0 {
			return false
		}
	}
	return true
}

// computes reports whether g holds anything besides access nodes.
func computes(g *ir.Graph) bool {
	for _, n := range g.Nodes() {
		if _, ok := n.(*ir.AccessNode); !ok {
			return true
		}
	}
	return false
}
