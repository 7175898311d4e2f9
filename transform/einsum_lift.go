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

// EinsumLift replaces a perfect loop nest around an accumulating block by a
// single einsum. The block must hold one tasklet computing
// out = fma(f_0, ..., f_n, out) or out = out + f, with out read and written at
// the same element. Each loop of the chain becomes a map of the einsum, the
// outermost first. An empty chain lifts the bare block.
type EinsumLift struct {
	Loops []ir.ID
	Block ir.ID
}

func (t *EinsumLift) Name() string { return NameEinsumLift }

func (t *EinsumLift) Record() Record {
	return Record{Type: t.Name(), Loops: slices.Clone(t.Loops), Block: idRef(t.Block)}
}

// reduction is the accumulation found in a block.
type reduction struct {
	out     ir.Ref
	factors []ir.Ref
}

func (t *EinsumLift) CanBeApplied(ctx *Context) bool {
	_, _, ok := t.plan(ctx)
	return ok
}

// plan checks the chain and returns the maps and the block's reduction.
func (t *EinsumLift) plan(ctx *Context) ([]ir.EinsumMap, reduction, bool) {
	p := ctx.Program()
	blk, err := ir.Get[*ir.Block](p, t.Block)
	if err != nil {
		return nil, reduction{}, false
	}
	red, ok := findReduction(blk.Graph)
	if !ok {
		return nil, reduction{}, false
	}

	outer := t.Block
	if len(t.Loops) > 0 {
		outer = t.Loops[0]
	}
	if _, ok := locate(ctx, outer); !ok {
		return nil, reduction{}, false
	}

	maps := make([]ir.EinsumMap, 0, len(t.Loops))
	var indvars []symbolic.Symbol
	for k, id := range t.Loops {
		loop, body, ok := loopAndBody(p, id)
		if !ok || !loop.IsNormalized() || len(body.Entries) != 1 || body.Entries[0].Assign.Len() > 0 {
			return nil, reduction{}, false
		}
		next := t.Block
		if k+1 < len(t.Loops) {
			next = t.Loops[k+1]
		}
		if body.Entries[0].Node != next || slices.Contains(indvars, loop.Indvar) {
			return nil, reduction{}, false
		}
		bound, _ := loop.Bound()
		// Headers may depend on outer maps only.
		for _, s := range slices.Concat(symbolic.Symbols(loop.Init), symbolic.Symbols(bound)) {
			if s == loop.Indvar || s == symbolic.Symbol(red.out.Data) {
				return nil, reduction{}, false
			}
		}
		indvars = append(indvars, loop.Indvar)
		maps = append(maps, ir.EinsumMap{Indvar: loop.Indvar, Init: loop.Init, Bound: bound})
	}
	for i, m := range maps {
		for _, later := range indvars[i:] {
			if symbolic.Uses(m.Init, later) || symbolic.Uses(m.Bound, later) {
				return nil, reduction{}, false
			}
		}
	}
	return maps, red, true
}

// findReduction matches a block holding a single accumulating tasklet.
func findReduction(g *ir.Graph) (reduction, bool) {
	var tasklet *ir.Tasklet
	for _, n := range g.Nodes() {
		switch v := n.(type) {
		case *ir.AccessNode:
		case *ir.Tasklet:
			if tasklet != nil {
				return reduction{}, false
			}
			tasklet = v
		default:
			return reduction{}, false
		}
	}
	if tasklet == nil {
		return reduction{}, false
	}
	outs := g.OutEdges(tasklet)
	if len(outs) != 1 || outs[0].SrcConn != tasklet.Output {
		return reduction{}, false
	}
	out := ir.Ref{Data: g.Container(outs[0]), Subset: outs[0].Subset}

	ins := make([]ir.Ref, len(tasklet.Inputs))
	for _, m := range g.InEdges(tasklet) {
		k := slices.Index(tasklet.Inputs, m.DstConn)
		a, ok := g.Node(m.Src).(*ir.AccessNode)
		if k < 0 || !ok {
			return reduction{}, false
		}
		ins[k] = ir.Ref{Data: a.Data, Subset: m.Subset}
	}
	for _, in := range ins {
		if in.Data == "" {
			return reduction{}, false
		}
	}

	isAcc := func(r ir.Ref) bool { return r.Data == out.Data && r.Subset.Equal(out.Subset) }
	var red reduction
	switch tasklet.Op {
	case ir.OpFMA:
		if len(ins) < 2 || !isAcc(ins[len(ins)-1]) {
			return reduction{}, false
		}
		red = reduction{out: out, factors: ins[:len(ins)-1]}
	case ir.OpAdd:
		switch {
		case isAcc(ins[0]):
			red = reduction{out: out, factors: ins[1:]}
		case isAcc(ins[1]):
			red = reduction{out: out, factors: ins[:1]}
		default:
			return reduction{}, false
		}
	default:
		return reduction{}, false
	}
	for _, f := range red.factors {
		if f.Data == out.Data {
			return reduction{}, false
		}
	}
	return red, true
}

func (t *EinsumLift) Apply(ctx *Context) error {
	maps, red, ok := t.plan(ctx)
	if !ok {
		return ErrNotApplicable
	}
	outer := t.Block
	if len(t.Loops) > 0 {
		outer = t.Loops[0]
	}
	pos, _ := locate(ctx, outer)

	g := ir.NewGraph()
	g.AddEinsumStatement(maps, red.out, red.factors...)
	if _, err := ctx.Builder.ReplaceWithBlock(pos.seqID, pos.index, g); err != nil {
		return err
	}
	ctx.Analyses.Invalidate()
	return nil
}
