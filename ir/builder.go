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
	"slices"

	"github.com/pkg/errors"

	"github.com/ajroetker/einsumopt/symbolic"
)

// Builder is the single mutator of a Program.
type Builder struct {
	p *Program
}

// NewBuilder starts an empty program with a root Sequence.
func NewBuilder(name string) *Builder {
	p := &Program{Name: name, containers: map[string]Type{}}
	p.root = p.alloc(&Sequence{})
	return &Builder{p: p}
}

// Edit returns a builder that mutates p in place.
func Edit(p *Program) *Builder { return &Builder{p: p} }

// Program returns the program under construction.
func (b *Builder) Program() *Program { return b.p }

// AddContainer declares a container.
func (b *Builder) AddContainer(name string, t Type) error {
	return b.p.addContainer(name, t)
}

// AddArgument declares a container that is passed in by the caller.
func (b *Builder) AddArgument(name string, t Type) error {
	if err := b.p.addContainer(name, t); err != nil {
		return err
	}
	b.p.Arguments = append(b.p.Arguments, name)
	return nil
}

func (b *Builder) declareSymbol(s symbolic.Symbol) error {
	t, ok := b.p.containers[string(s)]
	if !ok {
		return b.p.addContainer(string(s), ScalarOf(Int64))
	}
	if t.Kind != Scalar || t.Elem != Int64 {
		return errors.Errorf("induction variable %s is declared as %s", s, t)
	}
	return nil
}

// IndexOf returns the position of child in the Sequence parent.
func (b *Builder) IndexOf(parent, child ID) (int, error) {
	seq, err := Get[*Sequence](b.p, parent)
	if err != nil {
		return 0, err
	}
	for i, e := range seq.Entries {
		if e.Node == child {
			return i, nil
		}
	}
	return 0, Structural(parent, "node %s is not a child", child)
}

// insert allocates n and places it in parent before the entry holding
// before, or at the end when before is zero.
func (b *Builder) insert(parent, before ID, n interface {
	Node
	setID(ID)
}, assign *Assignments) (ID, error) {
	seq, err := Get[*Sequence](b.p, parent)
	if err != nil {
		return ID{}, err
	}
	pos := len(seq.Entries)
	if !before.IsZero() {
		if pos, err = b.IndexOf(parent, before); err != nil {
			return ID{}, err
		}
	}
	if assign == nil {
		assign = NewAssignments()
	}
	id := b.p.alloc(n)
	seq.Entries = slices.Insert(seq.Entries, pos, Entry{Node: id, Assign: assign})
	return id, nil
}

// AddBlock appends an empty block to parent.
func (b *Builder) AddBlock(parent ID, assign *Assignments) (*Block, error) {
	blk := &Block{Graph: NewGraph()}
	if _, err := b.insert(parent, ID{}, blk, assign); err != nil {
		return nil, err
	}
	return blk, nil
}

// AddSequence appends a nested sequence to parent.
func (b *Builder) AddSequence(parent ID, assign *Assignments) (*Sequence, error) {
	seq := &Sequence{}
	if _, err := b.insert(parent, ID{}, seq, assign); err != nil {
		return nil, err
	}
	return seq, nil
}

// AddFor appends a sequential loop with an empty body to parent. The
// induction variable is declared as an int64 scalar if needed.
func (b *Builder) AddFor(parent ID, indvar symbolic.Symbol, init, cond, update symbolic.Expr, assign *Assignments) (*Loop, error) {
	return b.addLoop(parent, ID{}, indvar, init, cond, update, assign)
}

// AddForBefore is AddFor placing the loop in front of the entry holding
// before.
func (b *Builder) AddForBefore(parent, before ID, indvar symbolic.Symbol, init, cond, update symbolic.Expr, assign *Assignments) (*Loop, error) {
	return b.addLoop(parent, before, indvar, init, cond, update, assign)
}

func (b *Builder) addLoop(parent, before ID, indvar symbolic.Symbol, init, cond, update symbolic.Expr, assign *Assignments) (*Loop, error) {
	if err := b.declareSymbol(indvar); err != nil {
		return nil, err
	}
	loop := &Loop{Indvar: indvar, Init: init, Cond: cond, Update: update}
	if _, err := b.insert(parent, before, loop, assign); err != nil {
		return nil, err
	}
	loop.Body = b.p.alloc(&Sequence{})
	return loop, nil
}

// AddIfElse appends a branch-less IfElse to parent.
func (b *Builder) AddIfElse(parent ID, assign *Assignments) (*IfElse, error) {
	ie := &IfElse{}
	if _, err := b.insert(parent, ID{}, ie, assign); err != nil {
		return nil, err
	}
	return ie, nil
}

// AddBranch appends a branch to an IfElse and returns its body.
func (b *Builder) AddBranch(ifelse ID, cond symbolic.Expr) (*Sequence, error) {
	ie, err := Get[*IfElse](b.p, ifelse)
	if err != nil {
		return nil, err
	}
	body := &Sequence{}
	ie.Branches = append(ie.Branches, Branch{Cond: cond, Body: b.p.alloc(body)})
	return body, nil
}

// AddWhile appends a while loop with an empty body to parent.
func (b *Builder) AddWhile(parent ID, cond symbolic.Expr, assign *Assignments) (*While, error) {
	w := &While{Cond: cond}
	if _, err := b.insert(parent, ID{}, w, assign); err != nil {
		return nil, err
	}
	w.Body = b.p.alloc(&Sequence{})
	return w, nil
}

// AddBreak appends a Break to parent.
func (b *Builder) AddBreak(parent ID, assign *Assignments) (ID, error) {
	return b.insert(parent, ID{}, &Break{}, assign)
}

// AddContinue appends a Continue to parent.
func (b *Builder) AddContinue(parent ID, assign *Assignments) (ID, error) {
	return b.insert(parent, ID{}, &Continue{}, assign)
}

// AddReturn appends a Return to parent.
func (b *Builder) AddReturn(parent ID, assign *Assignments) (ID, error) {
	return b.insert(parent, ID{}, &Return{}, assign)
}

// RemoveChild deletes entry index of parent, freeing the whole subtree.
// IDs into the subtree become stale.
func (b *Builder) RemoveChild(parent ID, index int) error {
	seq, err := Get[*Sequence](b.p, parent)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(seq.Entries) {
		return Structural(parent, "entry %d out of range", index)
	}
	child := seq.Entries[index].Node
	seq.Entries = slices.Delete(seq.Entries, index, index+1)
	return b.release(child)
}

// ReplaceWithBlock frees the subtree at entry index of parent and puts a
// new block holding g in its place. The entry's assignments are kept.
func (b *Builder) ReplaceWithBlock(parent ID, index int, g *Graph) (*Block, error) {
	seq, err := Get[*Sequence](b.p, parent)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(seq.Entries) {
		return nil, Structural(parent, "entry %d out of range", index)
	}
	old := seq.Entries[index].Node
	if err := b.release(old); err != nil {
		return nil, err
	}
	blk := &Block{Graph: g}
	seq.Entries[index].Node = b.p.alloc(blk)
	return blk, nil
}

func (b *Builder) release(id ID) error {
	stack := []ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := b.p.Node(cur)
		if err != nil {
			return err
		}
		children, err := Children(n)
		if err != nil {
			return err
		}
		stack = append(stack, children...)
		b.p.nodes.release(cur)
	}
	return nil
}

// CopyInto appends a deep copy of the subtree rooted at src to parent and
// returns the copy's ID.
func (b *Builder) CopyInto(parent, src ID, assign *Assignments) (ID, error) {
	if _, err := Get[*Sequence](b.p, parent); err != nil {
		return ID{}, err
	}
	n, err := b.p.Node(src)
	if err != nil {
		return ID{}, err
	}
	c, err := b.copyTree(n)
	if err != nil {
		return ID{}, err
	}
	seq, _ := Get[*Sequence](b.p, parent)
	if assign == nil {
		assign = NewAssignments()
	}
	seq.Entries = append(seq.Entries, Entry{Node: c, Assign: assign})
	return c, nil
}

func (b *Builder) copyTree(n Node) (ID, error) {
	c := cloneNode(n).(interface {
		Node
		setID(ID)
	})
	id := b.p.alloc(c)
	var err error
	switch v := c.(type) {
	case *Sequence:
		for i := range v.Entries {
			if v.Entries[i].Node, err = b.copyChild(v.Entries[i].Node); err != nil {
				return ID{}, err
			}
		}
	case *Loop:
		v.Body, err = b.copyChild(v.Body)
	case *IfElse:
		for i := range v.Branches {
			if v.Branches[i].Body, err = b.copyChild(v.Branches[i].Body); err != nil {
				return ID{}, err
			}
		}
	case *While:
		v.Body, err = b.copyChild(v.Body)
	}
	return id, err
}

func (b *Builder) copyChild(id ID) (ID, error) {
	n, err := b.p.Node(id)
	if err != nil {
		return ID{}, err
	}
	return b.copyTree(n)
}

// Subs substitutes old by repl throughout the subtree rooted at id: loop
// headers, branch conditions, assignment right-hand sides and dataflow
// subsets. When repl is a symbol, induction variables and assignment targets
// named old are renamed as well.
func (b *Builder) Subs(id ID, old symbolic.Symbol, repl symbolic.Expr) error {
	n, err := b.p.Node(id)
	if err != nil {
		return err
	}
	rename, isSym := repl.(symbolic.Symbol)
	switch v := n.(type) {
	case *Sequence:
		for _, e := range v.Entries {
			e.Assign.Subs(old, repl)
			if isSym {
				if rhs, ok := e.Assign.Get(old); ok {
					e.Assign.Delete(old)
					e.Assign.Set(rename, rhs)
				}
			}
			if err := b.Subs(e.Node, old, repl); err != nil {
				return err
			}
		}
	case *Loop:
		if isSym && v.Indvar == old {
			v.Indvar = rename
		}
		v.Init = symbolic.Subs(v.Init, old, repl)
		v.Cond = symbolic.Subs(v.Cond, old, repl)
		v.Update = symbolic.Subs(v.Update, old, repl)
		return b.Subs(v.Body, old, repl)
	case *IfElse:
		for i := range v.Branches {
			v.Branches[i].Cond = symbolic.Subs(v.Branches[i].Cond, old, repl)
			if err := b.Subs(v.Branches[i].Body, old, repl); err != nil {
				return err
			}
		}
	case *While:
		v.Cond = symbolic.Subs(v.Cond, old, repl)
		return b.Subs(v.Body, old, repl)
	case *Block:
		v.Graph.Subs(old, repl)
	case *Break, *Continue, *Return:
	default:
		return Structural(id, "unsupported node %T", n)
	}
	return nil
}
