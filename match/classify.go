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

package match

import (
	"github.com/pkg/errors"

	"github.com/ajroetker/einsumopt/ir"
)

// Nest is a chain of perfectly nested loops, outermost first, whose innermost
// body is the single block Block. Loops is empty for a bare block.
type Nest struct {
	Loops []ir.ID
	Block ir.ID
}

// NodeLoop is an einsum node held by a block that is a direct child of Loop.
type NodeLoop struct {
	Loop  ir.ID
	Block ir.ID
	Node  int64
}

// NodeRef is an einsum node and the block holding it.
type NodeRef struct {
	Block ir.ID
	Node  int64
}

// EinsumLoops returns the candidate loop nests of the subtree rooted at root.
//
// From every loop reached by the walk, the chain is extended greedily while
// the current body has exactly one entry: a loop extends it, a block ends it
// and is recorded, anything else ends it unrecorded. Inner loops are reached
// by the walk on their own and yield their own (shorter) chains, but a
// prefix of a chain is never recorded. Every block reached is recorded with
// an empty chain.
func EinsumLoops(p *ir.Program, root ir.ID) ([]Nest, error) {
	var out []Nest
	err := Walk(p, root, func(n ir.Node) (bool, error) {
		switch v := n.(type) {
		case *ir.Loop:
			nest, ok, err := chainFrom(p, v)
			if err != nil {
				return false, err
			}
			if ok {
				out = append(out, nest)
			}
		case *ir.Block:
			out = append(out, Nest{Block: v.ID()})
		}
		return true, nil
	})
	return out, err
}

func chainFrom(p *ir.Program, loop *ir.Loop) (Nest, bool, error) {
	chain := []ir.ID{loop.ID()}
	cur := loop
	for {
		body, err := resolve[*ir.Sequence](p, cur.Body)
		if err != nil {
			return Nest{}, false, err
		}
		if len(body.Entries) != 1 {
			return Nest{}, false, nil
		}
		n, err := resolve[ir.Node](p, body.Entries[0].Node)
		if err != nil {
			return Nest{}, false, err
		}
		switch v := n.(type) {
		case *ir.Loop:
			chain = append(chain, v.ID())
			cur = v
		case *ir.Block:
			return Nest{Loops: chain, Block: v.ID()}, true, nil
		default:
			return Nest{}, false, nil
		}
	}
}

// EinsumNodeLoops returns, for every loop of the subtree, the einsum nodes of
// the blocks that are direct children of its body.
func EinsumNodeLoops(p *ir.Program, root ir.ID) ([]NodeLoop, error) {
	var out []NodeLoop
	err := Walk(p, root, func(n ir.Node) (bool, error) {
		loop, ok := n.(*ir.Loop)
		if !ok {
			return true, nil
		}
		body, err := resolve[*ir.Sequence](p, loop.Body)
		if err != nil {
			return false, err
		}
		for _, e := range body.Entries {
			child, err := resolve[ir.Node](p, e.Node)
			if err != nil {
				return false, err
			}
			blk, ok := child.(*ir.Block)
			if !ok {
				continue
			}
			for _, en := range blk.Graph.Einsums() {
				out = append(out, NodeLoop{Loop: loop.ID(), Block: blk.ID(), Node: en.ID()})
			}
		}
		return true, nil
	})
	return out, err
}

// EinsumNodes returns every einsum node of the subtree.
func EinsumNodes(p *ir.Program, root ir.ID) ([]NodeRef, error) {
	var out []NodeRef
	err := Walk(p, root, func(n ir.Node) (bool, error) {
		if blk, ok := n.(*ir.Block); ok {
			for _, en := range blk.Graph.Einsums() {
				out = append(out, NodeRef{Block: blk.ID(), Node: en.ID()})
			}
		}
		return true, nil
	})
	return out, err
}

// resolve looks id up, reporting a dangling reference as a StructuralError.
func resolve[T ir.Node](p *ir.Program, id ir.ID) (T, error) {
	v, err := ir.Get[T](p, id)
	var le *ir.LookupError
	if errors.As(err, &le) {
		return v, ir.Structural(id, "dangling child reference")
	}
	return v, err
}
