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

// EinsumExpand absorbs a normalized loop whose whole body is a block holding
// one einsum: the loop becomes the einsum's outermost map.
type EinsumExpand struct {
	Loop  ir.ID
	Block ir.ID
	Node  int64
}

func (t *EinsumExpand) Name() string { return NameEinsumExpand }

func (t *EinsumExpand) Record() Record {
	node := t.Node
	return Record{Type: t.Name(), Loop: idRef(t.Loop), Block: idRef(t.Block), DataflowNode: &node}
}

func (t *EinsumExpand) CanBeApplied(ctx *Context) bool {
	_, _, ok := t.plan(ctx)
	return ok
}

func (t *EinsumExpand) plan(ctx *Context) (*ir.Loop, *ir.Block, bool) {
	p := ctx.Program()
	loop, body, ok := loopAndBody(p, t.Loop)
	if !ok || !loop.IsNormalized() {
		return nil, nil, false
	}
	if len(body.Entries) != 1 || body.Entries[0].Node != t.Block || body.Entries[0].Assign.Len() > 0 {
		return nil, nil, false
	}
	if _, ok := locate(ctx, t.Loop); !ok {
		return nil, nil, false
	}
	blk, err := ir.Get[*ir.Block](p, t.Block)
	if err != nil {
		return nil, nil, false
	}
	e, ok := soleEinsum(blk.Graph, t.Node)
	if !ok || e.Binds(loop.Indvar) {
		return nil, nil, false
	}
	bound, _ := loop.Bound()
	for _, m := range e.Maps {
		if symbolic.Uses(loop.Init, m.Indvar) || symbolic.Uses(bound, m.Indvar) {
			return nil, nil, false
		}
	}
	return loop, blk, true
}

// soleEinsum returns einsum node id when it is the only computation of g.
func soleEinsum(g *ir.Graph, id int64) (*ir.EinsumNode, bool) {
	e, ok := g.Node(id).(*ir.EinsumNode)
	if !ok {
		return nil, false
	}
	for _, n := range g.Nodes() {
		if _, isAccess := n.(*ir.AccessNode); !isAccess && n.ID() != id {
			return nil, false
		}
	}
	return e, true
}

func (t *EinsumExpand) Apply(ctx *Context) error {
	loop, blk, ok := t.plan(ctx)
	if !ok {
		return ErrNotApplicable
	}
	pos, _ := locate(ctx, t.Loop)
	bound, _ := loop.Bound()

	g := blk.Graph.Clone()
	e := g.Node(t.Node).(*ir.EinsumNode)
	e.Maps = slices.Insert(e.Maps, 0, ir.EinsumMap{Indvar: loop.Indvar, Init: loop.Init, Bound: bound})
	if _, err := ctx.Builder.ReplaceWithBlock(pos.seqID, pos.index, g); err != nil {
		return err
	}
	ctx.Analyses.Invalidate()
	return nil
}
