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
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/ajroetker/einsumopt/symbolic"
)

// TypeKind distinguishes scalars from arrays.
type TypeKind int

const (
	Scalar TypeKind = iota
	Array
)

// ElemType is the element type of a container.
type ElemType int

const (
	Float64 ElemType = iota
	Int64
)

func (e ElemType) String() string {
	if e == Int64 {
		return "int64"
	}
	return "float64"
}

// Type describes a container. Shape is empty for scalars.
type Type struct {
	Kind  TypeKind
	Elem  ElemType
	Shape []symbolic.Expr
}

// ScalarOf returns a scalar type.
func ScalarOf(elem ElemType) Type { return Type{Kind: Scalar, Elem: elem} }

// ArrayOf returns a row-major float64 array type with the given shape, each
// dimension written as an expression source.
func ArrayOf(shape ...string) Type {
	t := Type{Kind: Array, Elem: Float64}
	for _, s := range shape {
		t.Shape = append(t.Shape, symbolic.MustParse(s))
	}
	return t
}

func (t Type) String() string {
	if t.Kind == Scalar {
		return t.Elem.String()
	}
	return fmt.Sprintf("%s%s", t.Elem, symbolic.Subset(t.Shape))
}

// Program is a structured program: containers plus a tree of control nodes
// rooted at a Sequence.
type Program struct {
	Name      string
	Arguments []string

	containers map[string]Type
	order      []string
	nodes      arena
	root       ID
}

// Root returns the ID of the root Sequence.
func (p *Program) Root() ID { return p.root }

// Node resolves id. A stale or unknown id yields a LookupError.
func (p *Program) Node(id ID) (Node, error) {
	return p.nodes.get(id)
}

// Get resolves id and checks its kind. A live node of another kind yields a
// StructuralError.
func Get[T Node](p *Program, id ID) (T, error) {
	var zero T
	n, err := p.Node(id)
	if err != nil {
		return zero, err
	}
	v, ok := n.(T)
	if !ok {
		return zero, Structural(id, "expected %T, found %s", zero, n.Kind())
	}
	return v, nil
}

// Container returns the type of the named container.
func (p *Program) Container(name string) (Type, bool) {
	t, ok := p.containers[name]
	return t, ok
}

// Containers returns the container names in declaration order.
func (p *Program) Containers() []string { return slices.Clone(p.order) }

// FindNewName returns prefix_N for the smallest N >= 1 not yet declared.
func (p *Program) FindNewName(prefix string) string {
	for n := 1; ; n++ {
		name := fmt.Sprintf("%s_%d", prefix, n)
		if _, ok := p.containers[name]; !ok {
			return name
		}
	}
}

func (p *Program) addContainer(name string, t Type) error {
	if _, ok := p.containers[name]; ok {
		return errors.Errorf("container %q already declared", name)
	}
	p.containers[name] = t
	p.order = append(p.order, name)
	return nil
}

func (p *Program) alloc(n interface {
	Node
	setID(ID)
}) ID {
	id := p.nodes.alloc()
	n.setID(id)
	p.nodes.set(id, n)
	return id
}

// NodeCount returns the number of live control nodes.
func (p *Program) NodeCount() int {
	count := 0
	for _, s := range p.nodes.slots {
		if s.node != nil {
			count++
		}
	}
	return count
}

// MaxIndex bounds every ID.Index of the program.
func (p *Program) MaxIndex() int { return p.nodes.size() }

// Clone returns a deep copy of p in which every node keeps its ID and every
// freed slot keeps its generation.
func (p *Program) Clone() *Program {
	out := &Program{
		Name:       p.Name,
		Arguments:  slices.Clone(p.Arguments),
		containers: make(map[string]Type, len(p.containers)),
		order:      slices.Clone(p.order),
		root:       p.root,
	}
	for k, v := range p.containers {
		v.Shape = slices.Clone(v.Shape)
		out.containers[k] = v
	}
	out.nodes.free = slices.Clone(p.nodes.free)
	out.nodes.slots = make([]slot, len(p.nodes.slots))
	for i, s := range p.nodes.slots {
		out.nodes.slots[i] = slot{gen: s.gen, node: cloneNode(s.node)}
	}
	return out
}

// cloneNode copies a single node. Child IDs are kept as is.
func cloneNode(n Node) Node {
	switch v := n.(type) {
	case nil:
		return nil
	case *Sequence:
		c := *v
		c.Entries = make([]Entry, len(v.Entries))
		for i, e := range v.Entries {
			c.Entries[i] = Entry{Node: e.Node, Assign: e.Assign.Clone()}
		}
		return &c
	case *Loop:
		c := *v
		return &c
	case *IfElse:
		c := *v
		c.Branches = slices.Clone(v.Branches)
		return &c
	case *While:
		c := *v
		return &c
	case *Block:
		c := *v
		c.Graph = v.Graph.Clone()
		return &c
	case *Break:
		c := *v
		return &c
	case *Continue:
		c := *v
		return &c
	case *Return:
		c := *v
		return &c
	default:
		panic(fmt.Sprintf("ir: unknown node %T", n))
	}
}
