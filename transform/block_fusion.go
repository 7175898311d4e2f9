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
)

// BlockFusion merges adjacent blocks of a sequence into one dataflow graph.
// A pair is merged when both blocks hold only tasklets and access nodes, the
// second entry has no assignments, and the second block writes nothing the
// first one touches. Reads in the second block of values written by the first
// are rewired to the first block's access node so the data dependence becomes
// an edge.
type BlockFusion struct {
	Sequence ir.ID
}

func (t *BlockFusion) Name() string { return NameBlockFusion }

func (t *BlockFusion) Record() Record {
	return Record{Type: t.Name(), Sequence: idRef(t.Sequence)}
}

func (t *BlockFusion) CanBeApplied(ctx *Context) bool {
	p := ctx.Program()
	seq, err := ir.Get[*ir.Sequence](p, t.Sequence)
	if err != nil {
		return false
	}
	for i := 0; i+1 < len(seq.Entries); i++ {
		if _, _, ok := fusablePair(p, seq, i); ok {
			return true
		}
	}
	return false
}

func (t *BlockFusion) Apply(ctx *Context) error {
	p := ctx.Program()
	seq, err := ir.Get[*ir.Sequence](p, t.Sequence)
	if err != nil {
		return err
	}
	merged := 0
	for i := 0; i+1 < len(seq.Entries); {
		b1, b2, ok := fusablePair(p, seq, i)
		if !ok {
			i++
			continue
		}
		fuse(b1.Graph, b2.Graph)
		if err := ctx.Builder.RemoveChild(t.Sequence, i+1); err != nil {
			return err
		}
		merged++
	}
	if merged == 0 {
		return ErrNotApplicable
	}
	ctx.Analyses.Invalidate()
	return nil
}

// fusablePair reports whether entries i and i+1 of seq can be merged.
func fusablePair(p *ir.Program, seq *ir.Sequence, i int) (*ir.Block, *ir.Block, bool) {
	if seq.Entries[i+1].Assign.Len() > 0 {
		return nil, nil, false
	}
	b1, err := ir.Get[*ir.Block](p, seq.Entries[i].Node)
	if err != nil || !taskletsOnly(b1.Graph) {
		return nil, nil, false
	}
	b2, err := ir.Get[*ir.Block](p, seq.Entries[i+1].Node)
	if err != nil || !taskletsOnly(b2.Graph) {
		return nil, nil, false
	}

	touched := map[string]bool{}
	for _, a := range b1.Graph.Reads() {
		touched[a.Data] = true
	}
	written := map[string]bool{}
	for _, a := range b1.Graph.Writes() {
		touched[a.Data] = true
		written[a.Data] = true
	}
	for _, a := range b2.Graph.Writes() {
		if touched[a.Data] {
			return nil, nil, false
		}
	}
	// Every value flowing from b1 to b2 must leave b1 through a single
	// access node.
	for _, a := range b2.Graph.Reads() {
		if written[a.Data] && len(accessesTo(b1.Graph, a.Data)) != 1 {
			return nil, nil, false
		}
	}
	return b1, b2, true
}

func taskletsOnly(g *ir.Graph) bool {
	for _, n := range g.Nodes() {
		switch n.(type) {
		case *ir.AccessNode, *ir.Tasklet:
		default:
			return false
		}
	}
	return true
}

func accessesTo(g *ir.Graph, data string) []*ir.AccessNode {
	var out []*ir.AccessNode
	for _, a := range g.AccessNodes() {
		if a.Data == data {
			out = append(out, a)
		}
	}
	return out
}

// fuse imports g2 into g1, connecting g2's reads of containers written in g1
// to the writing access node.
func fuse(g1, g2 *ir.Graph) {
	targets := map[string]*ir.AccessNode{}
	for _, a := range g1.Writes() {
		targets[a.Data] = accessesTo(g1, a.Data)[0]
	}
	mapping := g1.Import(g2)
	for _, n := range g2.Nodes() {
		a, ok := n.(*ir.AccessNode)
		if !ok {
			continue
		}
		if to, ok := targets[a.Data]; ok {
			g1.Reconnect(mapping[a.ID()], to)
		}
	}
}
