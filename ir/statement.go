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

	"github.com/ajroetker/einsumopt/symbolic"
)

// Ref names one element of a container.
type Ref struct {
	Data   string
	Subset symbolic.Subset
}

// At builds a Ref, parsing each index from Go expression syntax.
func At(data string, indices ...string) Ref {
	return Ref{Data: data, Subset: symbolic.Indices(indices...)}
}

func (r Ref) String() string { return r.Data + subsetSuffix(r.Subset) }

// AddStatement adds out = op(ins...) with a fresh access node per operand.
// Inputs use connectors _in0, _in1, ...; the output uses _out.
func (g *Graph) AddStatement(op TaskletOp, out Ref, ins ...Ref) *Tasklet {
	conns := make([]string, len(ins))
	for i := range ins {
		conns[i] = fmt.Sprintf("_in%d", i)
	}
	t := g.AddTasklet(op, conns, "_out")
	for i, in := range ins {
		g.AddMemlet(g.AddAccess(in.Data), "", t, conns[i], in.Subset)
	}
	g.AddMemlet(t, "_out", g.AddAccess(out.Data), "", out.Subset)
	return t
}

// AddConstStatement adds out = v.
func (g *Graph) AddConstStatement(out Ref, v float64) *Tasklet {
	t := g.AddStatement(OpConst, out)
	t.Value = v
	return t
}

// AddEinsumStatement adds out[...] += Π ins[...] over maps, wiring one
// access node per input, one for reading the accumulator and one for
// writing it.
func (g *Graph) AddEinsumStatement(maps []EinsumMap, out Ref, ins ...Ref) *EinsumNode {
	subsets := make([]symbolic.Subset, len(ins))
	for i, in := range ins {
		subsets[i] = in.Subset
	}
	e := g.AddEinsum(maps, out.Subset, subsets)
	for k, in := range ins {
		g.AddMemlet(g.AddAccess(in.Data), "", e, EinsumIn(k), in.Subset)
	}
	g.AddMemlet(g.AddAccess(out.Data), "", e, EinsumOut, out.Subset)
	g.AddMemlet(e, EinsumOut, g.AddAccess(out.Data), "", out.Subset)
	return e
}

// AddBLASStatement adds a library node performing call, wired to whole
// containers.
func (g *Graph) AddBLASStatement(call *BLASCall) *LibraryNode {
	n := g.AddLibrary(string(call.Impl)+"."+string(call.Routine), call)
	if call.Alpha != "" {
		g.AddMemlet(g.AddAccess(call.Alpha), "", n, ConnAlpha, nil)
	}
	g.AddMemlet(g.AddAccess(call.A), "", n, ConnA, nil)
	if call.B != "" {
		g.AddMemlet(g.AddAccess(call.B), "", n, ConnB, nil)
	}
	g.AddMemlet(g.AddAccess(call.C), "", n, ConnC, nil)
	g.AddMemlet(n, ConnC, g.AddAccess(call.C), "", nil)
	return n
}
