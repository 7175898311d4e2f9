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

// Package ir provides the structured program tree the rewrite pipeline works
// on: nested sequences of loops, branches and basic blocks, where every block
// holds a small dataflow graph of container accesses and computations.
//
// Control nodes live in a generation-checked arena and are addressed by ID.
// All mutation goes through a Builder; analyses and transformations only read
// the Program directly.
package ir

import (
	"fmt"

	"github.com/ajroetker/einsumopt/symbolic"
)

// Kind categorizes control nodes.
type Kind int

const (
	KindSequence Kind = iota
	KindLoop
	KindIfElse
	KindWhile
	KindBlock
	KindBreak
	KindContinue
	KindReturn
)

// String returns a human-readable name for the Kind.
func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "Sequence"
	case KindLoop:
		return "Loop"
	case KindIfElse:
		return "IfElse"
	case KindWhile:
		return "While"
	case KindBlock:
		return "Block"
	case KindBreak:
		return "Break"
	case KindContinue:
		return "Continue"
	case KindReturn:
		return "Return"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is a control node. The set of implementations is closed; code that
// dispatches on it uses a type switch whose default case is a
// StructuralError.
type Node interface {
	ID() ID
	Kind() Kind
	isNode()
}

type base struct {
	id ID
}

func (b *base) ID() ID      { return b.id }
func (b *base) isNode()     {}
func (b *base) setID(id ID) { b.id = id }

// Entry pairs a child node with the assignments evaluated immediately before
// it runs.
type Entry struct {
	Node   ID
	Assign *Assignments
}

// Sequence runs its entries in order.
type Sequence struct {
	base
	Entries []Entry
}

// Schedule says how the iterations of a Loop may be ordered.
type Schedule int

const (
	// Sequential iterations run in order.
	Sequential Schedule = iota
	// Map iterations are independent and may run in parallel.
	Map
)

func (s Schedule) String() string {
	if s == Map {
		return "map"
	}
	return "for"
}

// Loop is indvar = Init; while Cond { Body; indvar = Update }.
type Loop struct {
	base
	Indvar   symbolic.Symbol
	Init     symbolic.Expr
	Cond     symbolic.Expr
	Update   symbolic.Expr
	Body     ID
	Schedule Schedule
}

// Step returns Update - Indvar when it does not depend on the induction
// variable.
func (l *Loop) Step() (symbolic.Expr, bool) {
	step := symbolic.Sub(l.Update, l.Indvar)
	if symbolic.Uses(step, l.Indvar) {
		return nil, false
	}
	return step, true
}

// Bound returns B for a canonical condition "indvar < B".
func (l *Loop) Bound() (symbolic.Expr, bool) {
	rel, ok := l.Cond.(*symbolic.Rel)
	if !ok || rel.Op != symbolic.OpLt {
		return nil, false
	}
	if s, ok := rel.Lhs.(symbolic.Symbol); !ok || s != l.Indvar {
		return nil, false
	}
	if symbolic.Uses(rel.Rhs, l.Indvar) {
		return nil, false
	}
	return rel.Rhs, true
}

// IsNormalized reports whether the loop has the form
// "for indvar = init; indvar < bound; indvar = indvar + 1".
func (l *Loop) IsNormalized() bool {
	if _, ok := l.Bound(); !ok {
		return false
	}
	step, ok := l.Step()
	if !ok {
		return false
	}
	v, ok := symbolic.AsInt(step)
	return ok && v == 1
}

// Branch is one arm of an IfElse.
type Branch struct {
	Cond symbolic.Expr
	Body ID
}

// IfElse runs the body of the first branch whose condition holds.
type IfElse struct {
	base
	Branches []Branch
}

// While runs Body while Cond holds.
type While struct {
	base
	Cond symbolic.Expr
	Body ID
}

// Block is a basic block: a dataflow graph with no control children.
type Block struct {
	base
	Graph *Graph
}

// Break leaves the innermost loop.
type Break struct{ base }

// Continue starts the next iteration of the innermost loop.
type Continue struct{ base }

// Return leaves the program.
type Return struct{ base }

func (*Sequence) Kind() Kind { return KindSequence }
func (*Loop) Kind() Kind     { return KindLoop }
func (*IfElse) Kind() Kind   { return KindIfElse }
func (*While) Kind() Kind    { return KindWhile }
func (*Block) Kind() Kind    { return KindBlock }
func (*Break) Kind() Kind    { return KindBreak }
func (*Continue) Kind() Kind { return KindContinue }
func (*Return) Kind() Kind   { return KindReturn }

// Children returns the control nodes directly nested in n, in program order.
func Children(n Node) ([]ID, error) {
	switch v := n.(type) {
	case *Sequence:
		out := make([]ID, len(v.Entries))
		for i, e := range v.Entries {
			out[i] = e.Node
		}
		return out, nil
	case *Loop:
		return []ID{v.Body}, nil
	case *IfElse:
		out := make([]ID, len(v.Branches))
		for i, b := range v.Branches {
			out[i] = b.Body
		}
		return out, nil
	case *While:
		return []ID{v.Body}, nil
	case *Block, *Break, *Continue, *Return:
		return nil, nil
	default:
		return nil, Structural(n.ID(), "unsupported node %T", n)
	}
}
