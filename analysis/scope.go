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

package analysis

import (
	"github.com/ajroetker/einsumopt/ir"
)

// Position locates a node under its parent: the entry index in a Sequence,
// the branch index in an IfElse, 0 for loop and while bodies.
type Position struct {
	Parent ir.ID
	Index  int
}

// Scope maps every reachable node to its parent.
type Scope struct {
	p       *ir.Program
	parents map[ir.ID]Position
}

func buildScope(p *ir.Program) (*Scope, error) {
	s := &Scope{p: p, parents: map[ir.ID]Position{}}
	stack := []ir.ID{p.Root()}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := p.Node(id)
		if err != nil {
			return nil, err
		}
		children, err := ir.Children(n)
		if err != nil {
			return nil, err
		}
		for i, c := range children {
			s.parents[c] = Position{Parent: id, Index: i}
		}
		stack = append(stack, children...)
	}
	return s, nil
}

// Parent returns the position of id under its parent. The root has none.
func (s *Scope) Parent(id ir.ID) (Position, bool) {
	pos, ok := s.parents[id]
	return pos, ok
}

// Enclosing returns the nearest Sequence holding id as an entry, possibly
// through a chain of non-Sequence ancestors, and the index of that entry.
func (s *Scope) Enclosing(id ir.ID) (seq ir.ID, index int, ok bool) {
	cur := id
	for {
		pos, ok := s.parents[cur]
		if !ok {
			return ir.ID{}, 0, false
		}
		n, err := s.p.Node(pos.Parent)
		if err != nil {
			return ir.ID{}, 0, false
		}
		if _, isSeq := n.(*ir.Sequence); isSeq {
			return pos.Parent, pos.Index, true
		}
		cur = pos.Parent
	}
}

// Entry returns the entry of the Sequence that directly holds id.
func (s *Scope) Entry(id ir.ID) (ir.Entry, bool) {
	pos, ok := s.parents[id]
	if !ok {
		return ir.Entry{}, false
	}
	seq, err := ir.Get[*ir.Sequence](s.p, pos.Parent)
	if err != nil || pos.Index >= len(seq.Entries) {
		return ir.Entry{}, false
	}
	return seq.Entries[pos.Index], true
}
