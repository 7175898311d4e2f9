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
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/ajroetker/einsumopt/symbolic"
)

// DataNode is a node of a block's dataflow graph.
type DataNode interface {
	graph.Node
	isDataNode()
}

type dataBase struct {
	id int64
}

func (d *dataBase) ID() int64     { return d.id }
func (d *dataBase) isDataNode()   {}
func (d *dataBase) setID(v int64) { d.id = v }

// AccessNode reads or writes the container named Data.
type AccessNode struct {
	dataBase
	Data string
}

// TaskletOp is the scalar operation a Tasklet performs.
type TaskletOp int

const (
	OpAssign TaskletOp = iota // out = in0
	OpConst                   // out = Value
	OpAdd                     // out = in0 + in1
	OpSub                     // out = in0 - in1
	OpMul                     // out = in0 * in1
	OpDiv                     // out = in0 / in1
	OpNeg                     // out = -in0
	OpFMA                     // out = in0 * ... * in(n-2) + in(n-1)
)

func (op TaskletOp) String() string {
	switch op {
	case OpAssign:
		return "assign"
	case OpConst:
		return "const"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpNeg:
		return "neg"
	case OpFMA:
		return "fma"
	default:
		return fmt.Sprintf("TaskletOp(%d)", int(op))
	}
}

// Arity returns the number of inputs op takes, or -1 for variadic FMA.
func (op TaskletOp) Arity() int {
	switch op {
	case OpConst:
		return 0
	case OpAssign, OpNeg:
		return 1
	case OpAdd, OpSub, OpMul, OpDiv:
		return 2
	default:
		return -1
	}
}

// Tasklet computes one scalar from its input connectors.
type Tasklet struct {
	dataBase
	Op     TaskletOp
	Inputs []string
	Output string
	Value  float64
}

// EinsumMap is one summation or output dimension of an EinsumNode.
type EinsumMap struct {
	Indvar symbolic.Symbol
	Init   symbolic.Expr
	Bound  symbolic.Expr
}

// EinsumNode computes out[OutIndices] += Π in_k[InIndices[k]] for every point
// of Maps, outermost map first. Input k arrives on connector EinsumIn(k); the
// output is read and written on EinsumOut.
type EinsumNode struct {
	dataBase
	Maps       []EinsumMap
	OutIndices symbolic.Subset
	InIndices  []symbolic.Subset
}

// EinsumOut is the connector of an einsum's accumulator.
const EinsumOut = "_out"

// EinsumIn returns the connector of the k-th einsum input.
func EinsumIn(k int) string { return fmt.Sprintf("_in%d", k) }

// Binds reports whether s is one of the einsum's map variables.
func (e *EinsumNode) Binds(s symbolic.Symbol) bool {
	for _, m := range e.Maps {
		if m.Indvar == s {
			return true
		}
	}
	return false
}

// LibraryNode is an opaque, possibly side-effecting operation. Lowered BLAS
// calls carry their description in BLAS.
type LibraryNode struct {
	dataBase
	Code        string
	SideEffects bool
	BLAS        *BLASCall
}

// Memlet moves data along an edge. Subset addresses the container of the
// access node at either end; an empty subset on a library memlet means the
// whole container.
type Memlet struct {
	Src     int64
	SrcConn string
	Dst     int64
	DstConn string
	Subset  symbolic.Subset
}

// Access is one container touch extracted from a graph.
type Access struct {
	Data   string
	Subset symbolic.Subset
}

// Graph is the dataflow graph of a block. Topology lives in a gonum directed
// graph; memlets are kept separately in insertion order so that parallel
// edges between the same pair of nodes are allowed.
type Graph struct {
	g       *simple.DirectedGraph
	memlets []*Memlet
	nextID  int64
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{g: simple.NewDirectedGraph()}
}

func (g *Graph) add(n interface {
	DataNode
	setID(int64)
}) {
	n.setID(g.nextID)
	g.nextID++
	g.g.AddNode(n)
}

// AddAccess adds an access to container data.
func (g *Graph) AddAccess(data string) *AccessNode {
	n := &AccessNode{Data: data}
	g.add(n)
	return n
}

// AddTasklet adds a tasklet with the given connectors.
func (g *Graph) AddTasklet(op TaskletOp, inputs []string, output string) *Tasklet {
	n := &Tasklet{Op: op, Inputs: slices.Clone(inputs), Output: output}
	g.add(n)
	return n
}

// AddEinsum adds an einsum node. Memlets must be added separately.
func (g *Graph) AddEinsum(maps []EinsumMap, out symbolic.Subset, ins []symbolic.Subset) *EinsumNode {
	n := &EinsumNode{Maps: slices.Clone(maps), OutIndices: out.Clone()}
	for _, in := range ins {
		n.InIndices = append(n.InIndices, in.Clone())
	}
	g.add(n)
	return n
}

// AddLibrary adds a library node.
func (g *Graph) AddLibrary(code string, call *BLASCall) *LibraryNode {
	n := &LibraryNode{Code: code, SideEffects: true, BLAS: call}
	g.add(n)
	return n
}

// AddMemlet connects src to dst.
func (g *Graph) AddMemlet(src DataNode, srcConn string, dst DataNode, dstConn string, subset symbolic.Subset) *Memlet {
	m := &Memlet{Src: src.ID(), SrcConn: srcConn, Dst: dst.ID(), DstConn: dstConn, Subset: subset.Clone()}
	g.memlets = append(g.memlets, m)
	if !g.g.HasEdgeFromTo(m.Src, m.Dst) {
		g.g.SetEdge(g.g.NewEdge(src, dst))
	}
	return m
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id int64) DataNode {
	n := g.g.Node(id)
	if n == nil {
		return nil
	}
	return n.(DataNode)
}

// Nodes returns all nodes in id order.
func (g *Graph) Nodes() []DataNode {
	ns := graph.NodesOf(g.g.Nodes())
	out := make([]DataNode, len(ns))
	for i, n := range ns {
		out[i] = n.(DataNode)
	}
	slices.SortFunc(out, compareID[DataNode])
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return g.g.Nodes().Len() }

// Memlets returns all memlets in insertion order.
func (g *Graph) Memlets() []*Memlet { return slices.Clone(g.memlets) }

// InEdges returns the memlets ending at n.
func (g *Graph) InEdges(n DataNode) []*Memlet {
	var out []*Memlet
	for _, m := range g.memlets {
		if m.Dst == n.ID() {
			out = append(out, m)
		}
	}
	return out
}

// OutEdges returns the memlets leaving n.
func (g *Graph) OutEdges(n DataNode) []*Memlet {
	var out []*Memlet
	for _, m := range g.memlets {
		if m.Src == n.ID() {
			out = append(out, m)
		}
	}
	return out
}

// Sources returns the nodes without incoming edges.
func (g *Graph) Sources() []DataNode {
	return slices.DeleteFunc(g.Nodes(), func(n DataNode) bool {
		return g.g.To(n.ID()).Len() > 0
	})
}

// Sinks returns the nodes without outgoing edges.
func (g *Graph) Sinks() []DataNode {
	return slices.DeleteFunc(g.Nodes(), func(n DataNode) bool {
		return g.g.From(n.ID()).Len() > 0
	})
}

// AccessNodes returns the access nodes in id order.
func (g *Graph) AccessNodes() []*AccessNode {
	var out []*AccessNode
	for _, n := range g.Nodes() {
		if a, ok := n.(*AccessNode); ok {
			out = append(out, a)
		}
	}
	return out
}

// Container returns the container touched by m: the data of whichever end
// is an access node.
func (g *Graph) Container(m *Memlet) string {
	if a, ok := g.Node(m.Src).(*AccessNode); ok {
		return a.Data
	}
	if a, ok := g.Node(m.Dst).(*AccessNode); ok {
		return a.Data
	}
	return ""
}

// Reads returns every memlet leaving an access node.
func (g *Graph) Reads() []Access {
	var out []Access
	for _, m := range g.memlets {
		if a, ok := g.Node(m.Src).(*AccessNode); ok {
			out = append(out, Access{Data: a.Data, Subset: m.Subset})
		}
	}
	return out
}

// Writes returns every memlet entering an access node.
func (g *Graph) Writes() []Access {
	var out []Access
	for _, m := range g.memlets {
		if a, ok := g.Node(m.Dst).(*AccessNode); ok {
			out = append(out, Access{Data: a.Data, Subset: m.Subset})
		}
	}
	return out
}

// SourceReads returns the reads performed through source access nodes.
func (g *Graph) SourceReads() []Access {
	var out []Access
	for _, n := range g.Sources() {
		a, ok := n.(*AccessNode)
		if !ok {
			continue
		}
		for _, m := range g.OutEdges(a) {
			out = append(out, Access{Data: a.Data, Subset: m.Subset})
		}
	}
	return out
}

// SinkWrites returns the writes performed through sink access nodes.
func (g *Graph) SinkWrites() []Access {
	var out []Access
	for _, n := range g.Sinks() {
		a, ok := n.(*AccessNode)
		if !ok {
			continue
		}
		for _, m := range g.InEdges(a) {
			out = append(out, Access{Data: a.Data, Subset: m.Subset})
		}
	}
	return out
}

// RemoveMemlet deletes m.
func (g *Graph) RemoveMemlet(m *Memlet) {
	g.memlets = slices.DeleteFunc(g.memlets, func(x *Memlet) bool { return x == m })
	for _, x := range g.memlets {
		if x.Src == m.Src && x.Dst == m.Dst {
			return
		}
	}
	g.g.RemoveEdge(m.Src, m.Dst)
}

// RemoveNode deletes n and its memlets.
func (g *Graph) RemoveNode(n DataNode) {
	id := n.ID()
	g.memlets = slices.DeleteFunc(g.memlets, func(m *Memlet) bool { return m.Src == id || m.Dst == id })
	g.g.RemoveNode(id)
}

// Reconnect moves every memlet of from onto to.
func (g *Graph) Reconnect(from, to DataNode) {
	for _, m := range g.memlets {
		if m.Src == from.ID() {
			m.Src = to.ID()
		}
		if m.Dst == from.ID() {
			m.Dst = to.ID()
		}
	}
	g.g.RemoveNode(from.ID())
	for _, m := range g.memlets {
		if m.Src != m.Dst && !g.g.HasEdgeFromTo(m.Src, m.Dst) {
			g.g.SetEdge(g.g.NewEdge(g.Node(m.Src), g.Node(m.Dst)))
		}
	}
}

// TopoOrder returns the nodes in a deterministic topological order.
func (g *Graph) TopoOrder() ([]DataNode, error) {
	sorted, err := topo.SortStabilized(g.g, func(ns []graph.Node) {
		slices.SortFunc(ns, compareID[graph.Node])
	})
	if err != nil {
		return nil, errors.Wrap(err, "dataflow graph is cyclic")
	}
	out := make([]DataNode, len(sorted))
	for i, n := range sorted {
		out[i] = n.(DataNode)
	}
	return out, nil
}

// Clone returns a deep copy that preserves node ids.
func (g *Graph) Clone() *Graph {
	out := NewGraph()
	for _, n := range g.Nodes() {
		c := cloneDataNode(n)
		out.g.AddNode(c)
	}
	for _, m := range g.memlets {
		out.AddMemlet(out.Node(m.Src), m.SrcConn, out.Node(m.Dst), m.DstConn, m.Subset)
	}
	out.nextID = g.nextID
	return out
}

// Import copies every node and memlet of o into g under fresh ids and returns
// the mapping from o's ids to the copies.
func (g *Graph) Import(o *Graph) map[int64]DataNode {
	mapping := make(map[int64]DataNode, o.Len())
	for _, n := range o.Nodes() {
		c := cloneDataNode(n)
		g.add(c)
		mapping[n.ID()] = c
	}
	for _, m := range o.memlets {
		g.AddMemlet(mapping[m.Src], m.SrcConn, mapping[m.Dst], m.DstConn, m.Subset)
	}
	return mapping
}

// Subs substitutes old by repl in every index expression of the graph.
// Einsums that bind old as a map variable are left untouched.
func (g *Graph) Subs(old symbolic.Symbol, repl symbolic.Expr) {
	bound := map[int64]bool{}
	for _, n := range g.Nodes() {
		switch v := n.(type) {
		case *EinsumNode:
			if v.Binds(old) {
				bound[v.ID()] = true
				continue
			}
			for i := range v.Maps {
				v.Maps[i].Init = symbolic.Subs(v.Maps[i].Init, old, repl)
				v.Maps[i].Bound = symbolic.Subs(v.Maps[i].Bound, old, repl)
			}
			v.OutIndices = v.OutIndices.Subs(old, repl)
			for i := range v.InIndices {
				v.InIndices[i] = v.InIndices[i].Subs(old, repl)
			}
		case *LibraryNode:
			if v.BLAS != nil {
				v.BLAS.M = symbolic.Subs(v.BLAS.M, old, repl)
				v.BLAS.N = symbolic.Subs(v.BLAS.N, old, repl)
				v.BLAS.K = symbolic.Subs(v.BLAS.K, old, repl)
			}
		}
	}
	for _, m := range g.memlets {
		if bound[m.Src] || bound[m.Dst] {
			continue
		}
		m.Subset = m.Subset.Subs(old, repl)
	}
}

// Uses reports whether any index expression of the graph mentions s.
func (g *Graph) Uses(s symbolic.Symbol) bool {
	for _, sym := range g.Symbols() {
		if sym == s {
			return true
		}
	}
	return false
}

// Symbols returns the free symbols of the graph's index expressions, sorted.
func (g *Graph) Symbols() []symbolic.Symbol {
	seen := map[symbolic.Symbol]bool{}
	add := func(e symbolic.Expr, bound func(symbolic.Symbol) bool) {
		if e == nil {
			return
		}
		for _, s := range symbolic.Symbols(e) {
			if !bound(s) {
				seen[s] = true
			}
		}
	}
	free := func(symbolic.Symbol) bool { return false }
	binders := map[int64]*EinsumNode{}
	for _, n := range g.Nodes() {
		switch v := n.(type) {
		case *EinsumNode:
			binders[v.ID()] = v
			for _, m := range v.Maps {
				add(m.Init, v.Binds)
				add(m.Bound, v.Binds)
			}
		case *LibraryNode:
			if v.BLAS != nil {
				add(v.BLAS.M, free)
				add(v.BLAS.N, free)
				add(v.BLAS.K, free)
			}
		}
	}
	for _, m := range g.memlets {
		isBound := free
		if e, ok := binders[m.Src]; ok {
			isBound = e.Binds
		} else if e, ok := binders[m.Dst]; ok {
			isBound = e.Binds
		}
		for _, d := range m.Subset {
			add(d, isBound)
		}
	}
	out := make([]symbolic.Symbol, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Einsums returns the einsum nodes in id order.
func (g *Graph) Einsums() []*EinsumNode {
	var out []*EinsumNode
	for _, n := range g.Nodes() {
		if e, ok := n.(*EinsumNode); ok {
			out = append(out, e)
		}
	}
	return out
}

// EinsumOperands returns the containers feeding einsum e, indexed like
// e.InIndices, and the container it accumulates into.
func (g *Graph) EinsumOperands(e *EinsumNode) (out string, ins []string) {
	ins = make([]string, len(e.InIndices))
	for _, m := range g.InEdges(e) {
		for k := range ins {
			if m.DstConn == EinsumIn(k) {
				ins[k] = g.Container(m)
			}
		}
	}
	for _, m := range g.OutEdges(e) {
		if m.SrcConn == EinsumOut {
			out = g.Container(m)
		}
	}
	return out, ins
}

func cloneDataNode(n DataNode) interface {
	DataNode
	setID(int64)
} {
	switch v := n.(type) {
	case *AccessNode:
		c := *v
		return &c
	case *Tasklet:
		c := *v
		c.Inputs = slices.Clone(v.Inputs)
		return &c
	case *EinsumNode:
		c := *v
		c.Maps = slices.Clone(v.Maps)
		c.OutIndices = v.OutIndices.Clone()
		c.InIndices = make([]symbolic.Subset, len(v.InIndices))
		for i, in := range v.InIndices {
			c.InIndices[i] = in.Clone()
		}
		return &c
	case *LibraryNode:
		c := *v
		c.BLAS = v.BLAS.Clone()
		return &c
	default:
		panic(fmt.Sprintf("ir: unknown dataflow node %T", n))
	}
}

func compareID[T graph.Node](a, b T) int {
	switch {
	case a.ID() < b.ID():
		return -1
	case a.ID() > b.ID():
		return 1
	default:
		return 0
	}
}
