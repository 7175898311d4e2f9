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
	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/match"
	"github.com/ajroetker/einsumopt/symbolic"
)

// position locates a node that is an entry of a Sequence.
type position struct {
	seqID ir.ID
	seq   *ir.Sequence
	index int
}

func (pos position) entry() ir.Entry { return pos.seq.Entries[pos.index] }

// locate returns the Sequence entry holding id.
func locate(ctx *Context, id ir.ID) (position, bool) {
	scope, err := ctx.Analyses.Scope()
	if err != nil {
		return position{}, false
	}
	parent, ok := scope.Parent(id)
	if !ok {
		return position{}, false
	}
	seq, err := ir.Get[*ir.Sequence](ctx.Program(), parent.Parent)
	if err != nil || parent.Index >= len(seq.Entries) {
		return position{}, false
	}
	return position{seqID: parent.Parent, seq: seq, index: parent.Index}, true
}

// loopAndBody resolves a loop and its body.
func loopAndBody(p *ir.Program, id ir.ID) (*ir.Loop, *ir.Sequence, bool) {
	loop, err := ir.Get[*ir.Loop](p, id)
	if err != nil {
		return nil, nil, false
	}
	body, err := ir.Get[*ir.Sequence](p, loop.Body)
	if err != nil {
		return nil, nil, false
	}
	return loop, body, true
}

// access is one container touch found under some control node. Local holds
// symbols bound inside the touching node, i.e. einsum map variables.
type access struct {
	ir.Access
	local []symbolic.Symbol
}

// accesses collects the container reads and writes of every block in the
// subtree rooted at id.
func accesses(p *ir.Program, id ir.ID) (reads, writes []access, err error) {
	err = match.Walk(p, id, func(n ir.Node) (bool, error) {
		blk, ok := n.(*ir.Block)
		if !ok {
			return true, nil
		}
		g := blk.Graph
		for _, m := range g.Memlets() {
			var local []symbolic.Symbol
			for _, end := range []int64{m.Src, m.Dst} {
				if e, ok := g.Node(end).(*ir.EinsumNode); ok {
					for _, mp := range e.Maps {
						local = append(local, mp.Indvar)
					}
				}
			}
			if a, ok := g.Node(m.Src).(*ir.AccessNode); ok {
				reads = append(reads, access{Access: ir.Access{Data: a.Data, Subset: m.Subset}, local: local})
			}
			if a, ok := g.Node(m.Dst).(*ir.AccessNode); ok {
				writes = append(writes, access{Access: ir.Access{Data: a.Data, Subset: m.Subset}, local: local})
			}
		}
		return false, nil
	})
	return reads, writes, err
}

// plainSubtree reports whether the subtree rooted at id has no break,
// continue or return and no non-empty assignment map.
func plainSubtree(p *ir.Program, id ir.ID) bool {
	plain := true
	err := match.Walk(p, id, func(n ir.Node) (bool, error) {
		switch v := n.(type) {
		case *ir.Break, *ir.Continue, *ir.Return:
			plain = false
		case *ir.Sequence:
			for _, e := range v.Entries {
				if e.Assign.Len() > 0 {
					plain = false
				}
			}
		}
		return plain, nil
	})
	return err == nil && plain
}

// distribute splits the first entry of the loop's body off into a new loop
// placed in front of it. The new loop iterates over a fresh induction
// variable with the same header and takes over the loop's entry assignments.
func distribute(ctx *Context, loopID ir.ID) error {
	p := ctx.Program()
	b := ctx.Builder
	loop, body, ok := loopAndBody(p, loopID)
	if !ok {
		return ErrNotApplicable
	}
	pos, ok := locate(ctx, loopID)
	if !ok {
		return ErrNotApplicable
	}

	name := symbolic.Symbol(p.FindNewName(string(loop.Indvar)))
	first := body.Entries[0]
	split, err := b.AddForBefore(pos.seqID, loopID, name,
		symbolic.Subs(loop.Init, loop.Indvar, name),
		symbolic.Subs(loop.Cond, loop.Indvar, name),
		symbolic.Subs(loop.Update, loop.Indvar, name),
		pos.entry().Assign.Clone())
	if err != nil {
		return err
	}
	split.Schedule = loop.Schedule
	if _, err := b.CopyInto(split.Body, first.Node, first.Assign.Clone()); err != nil {
		return err
	}
	if err := b.Subs(split.Body, loop.Indvar, name); err != nil {
		return err
	}
	if err := b.RemoveChild(loop.Body, 0); err != nil {
		return err
	}
	// The split loop now runs the entry assignments.
	idx, err := b.IndexOf(pos.seqID, loopID)
	if err != nil {
		return err
	}
	pos.seq.Entries[idx].Assign = ir.NewAssignments()
	ctx.Analyses.Invalidate()
	return nil
}
