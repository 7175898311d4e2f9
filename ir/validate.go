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

package ir

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/ajroetker/einsumopt/symbolic"
)

// Validate checks the structural invariants of p and returns an
// InvariantViolation describing the first one that fails:
//   - every reachable ID resolves and is reached exactly once;
//   - loop and branch bodies are Sequences;
//   - loop headers are well-typed (arithmetic init/update, boolean condition)
//     and induction variables are int64 scalars;
//   - assignment targets are declared int64 scalars;
//   - dataflow graphs are acyclic, reference declared containers with
//     matching ranks, and wire every tasklet and einsum input.
func Validate(p *Program) error {
	seen := bitset.New(uint(p.MaxIndex()))
	stack := []ID{p.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := p.Node(id)
		if err != nil {
			return Invariant("dangling reference %s", id)
		}
		if seen.Test(uint(id.Index)) {
			return Invariant("node %s is reachable twice", id)
		}
		seen.Set(uint(id.Index))
		if err := validateNode(p, n); err != nil {
			return err
		}
		children, err := Children(n)
		if err != nil {
			return err
		}
		stack = append(stack, children...)
	}
	return nil
}

func validateNode(p *Program, n Node) error {
	switch v := n.(type) {
	case *Sequence:
		for i, e := range v.Entries {
			if e.Node.IsZero() {
				return Invariant("sequence %s entry %d has no node", v.ID(), i)
			}
			var bad symbolic.Symbol
			e.Assign.Scan(func(s symbolic.Symbol, rhs symbolic.Expr) bool {
				if !isIntScalar(p, s) || !symbolic.IsArithmetic(rhs) {
					bad = s
					return false
				}
				return true
			})
			if bad != "" {
				return Invariant("sequence %s entry %d: bad assignment to %s", v.ID(), i, bad)
			}
		}
	case *Loop:
		if !isIntScalar(p, v.Indvar) {
			return Invariant("loop %s: induction variable %s is not an int64 scalar", v.ID(), v.Indvar)
		}
		if !symbolic.IsArithmetic(v.Init) || !symbolic.IsArithmetic(v.Update) || !symbolic.IsCondition(v.Cond) {
			return Invariant("loop %s: ill-typed header %s; %s; %s", v.ID(), v.Init, v.Cond, v.Update)
		}
		if err := expectSequence(p, v.Body); err != nil {
			return err
		}
	case *IfElse:
		for _, br := range v.Branches {
			if !symbolic.IsCondition(br.Cond) {
				return Invariant("ifelse %s: ill-typed condition %s", v.ID(), br.Cond)
			}
			if err := expectSequence(p, br.Body); err != nil {
				return err
			}
		}
	case *While:
		if !symbolic.IsCondition(v.Cond) {
			return Invariant("while %s: ill-typed condition %s", v.ID(), v.Cond)
		}
		return expectSequence(p, v.Body)
	case *Block:
		if v.Graph == nil {
			return Invariant("block %s has no graph", v.ID())
		}
		return validateGraph(p, v)
	}
	return nil
}

func expectSequence(p *Program, id ID) error {
	n, err := p.Node(id)
	if err != nil {
		return Invariant("dangling body %s", id)
	}
	if _, ok := n.(*Sequence); !ok {
		return Invariant("body %s is a %s, not a Sequence", id, n.Kind())
	}
	return nil
}

func isIntScalar(p *Program, s symbolic.Symbol) bool {
	t, ok := p.Container(string(s))
	return ok && t.Kind == Scalar && t.Elem == Int64
}

func validateGraph(p *Program, blk *Block) error {
	g := blk.Graph
	if _, err := g.TopoOrder(); err != nil {
		return Invariant("block %s: %v", blk.ID(), err)
	}
	for _, m := range g.memlets {
		src, dst := g.Node(m.Src), g.Node(m.Dst)
		if src == nil || dst == nil {
			return Invariant("block %s: memlet %d->%d has a missing end", blk.ID(), m.Src, m.Dst)
		}
		data := g.Container(m)
		if data == "" {
			return Invariant("block %s: memlet %d->%d touches no container", blk.ID(), m.Src, m.Dst)
		}
		t, ok := p.Container(data)
		if !ok {
			return Invariant("block %s: undeclared container %q", blk.ID(), data)
		}
		if len(m.Subset) != 0 && len(m.Subset) != len(t.Shape) {
			return Invariant("block %s: %s%s has rank %d, want %d", blk.ID(), data, m.Subset, len(m.Subset), len(t.Shape))
		}
		for _, d := range m.Subset {
			if !symbolic.IsArithmetic(d) {
				return Invariant("block %s: ill-typed index %s on %s", blk.ID(), d, data)
			}
		}
	}
	for _, n := range g.Nodes() {
		switch v := n.(type) {
		case *AccessNode:
			if _, ok := p.Container(v.Data); !ok {
				return Invariant("block %s: undeclared container %q", blk.ID(), v.Data)
			}
		case *Tasklet:
			if a := v.Op.Arity(); a >= 0 && a != len(v.Inputs) {
				return Invariant("block %s: %s tasklet has %d inputs", blk.ID(), v.Op, len(v.Inputs))
			}
			if v.Op == OpFMA && len(v.Inputs) < 2 {
				return Invariant("block %s: fma tasklet has %d inputs", blk.ID(), len(v.Inputs))
			}
			for _, conn := range v.Inputs {
				if countIn(g, v, conn) != 1 {
					return Invariant("block %s: tasklet input %s is not wired exactly once", blk.ID(), conn)
				}
			}
		case *EinsumNode:
			for k := range v.InIndices {
				if countIn(g, v, EinsumIn(k)) != 1 {
					return Invariant("block %s: einsum input %d is not wired exactly once", blk.ID(), k)
				}
			}
			out, _ := g.EinsumOperands(v)
			if out == "" {
				return Invariant("block %s: einsum has no output", blk.ID())
			}
		}
	}
	return nil
}

func countIn(g *Graph, n DataNode, conn string) int {
	count := 0
	for _, m := range g.InEdges(n) {
		if m.DstConn == conn {
			count++
		}
	}
	return count
}
