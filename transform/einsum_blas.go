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

	"gonum.org/v1/gonum/blas"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// Einsum2BLAS lowers an einsum over a rectangular index space to a BLAS call
// when its shape matches gemm, gemv, ger, dot or axpy. At most one scalar
// factor is allowed; it becomes alpha.
type Einsum2BLAS struct {
	Block ir.ID
	Node  int64
	Impl  ir.BLASImpl
}

func (t *Einsum2BLAS) Name() string { return NameEinsum2BLAS }

func (t *Einsum2BLAS) Record() Record {
	node := t.Node
	return Record{Type: t.Name(), Block: idRef(t.Block), DataflowNode: &node}
}

func (t *Einsum2BLAS) CanBeApplied(ctx *Context) bool {
	_, _, ok := t.plan(ctx)
	return ok
}

// operand is a non-scalar einsum input.
type operand struct {
	data    string
	indices []symbolic.Symbol
}

func (o operand) has(s symbolic.Symbol) bool { return slices.Contains(o.indices, s) }

func (t *Einsum2BLAS) plan(ctx *Context) (*ir.Block, *ir.BLASCall, bool) {
	p := ctx.Program()
	blk, err := ir.Get[*ir.Block](p, t.Block)
	if err != nil {
		return nil, nil, false
	}
	e, ok := soleEinsum(blk.Graph, t.Node)
	if !ok {
		return nil, nil, false
	}

	bounds := map[symbolic.Symbol]symbolic.Expr{}
	for _, m := range e.Maps {
		if _, dup := bounds[m.Indvar]; dup {
			return nil, nil, false
		}
		if v, ok := symbolic.AsInt(m.Init); !ok || v != 0 {
			return nil, nil, false
		}
		bounds[m.Indvar] = m.Bound
	}
	for _, m := range e.Maps {
		for s := range bounds {
			if symbolic.Uses(m.Bound, s) {
				return nil, nil, false
			}
		}
	}
	indices := func(sub symbolic.Subset) ([]symbolic.Symbol, bool) {
		out := make([]symbolic.Symbol, len(sub))
		for i, d := range sub {
			s, ok := symbolic.AsSymbol(d)
			if !ok || !e.Binds(s) || slices.Contains(out[:i], s) {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}

	outData, inData := blk.Graph.EinsumOperands(e)
	if outData == "" || slices.Contains(inData, outData) {
		return nil, nil, false
	}
	out, ok := indices(e.OutIndices)
	if !ok {
		return nil, nil, false
	}
	var alpha string
	var tensors []operand
	for k, sub := range e.InIndices {
		if inData[k] == "" {
			return nil, nil, false
		}
		if len(sub) == 0 {
			typ, ok := p.Container(inData[k])
			if alpha != "" || !ok || typ.Kind != ir.Scalar || typ.Elem != ir.Float64 {
				return nil, nil, false
			}
			alpha = inData[k]
			continue
		}
		idx, ok := indices(sub)
		if !ok {
			return nil, nil, false
		}
		tensors = append(tensors, operand{data: inData[k], indices: idx})
	}

	call := &ir.BLASCall{Alpha: alpha, C: outData, Impl: t.Impl, TransA: blas.NoTrans, TransB: blas.NoTrans}
	if call.Impl == "" {
		call.Impl = ir.ImplCBLAS
	}
	if !matchRoutine(call, len(e.Maps), out, tensors, bounds) {
		return nil, nil, false
	}
	return blk, call, true
}

// matchRoutine fills call with the routine matching the einsum's shape.
func matchRoutine(call *ir.BLASCall, maps int, out []symbolic.Symbol, in []operand, bounds map[symbolic.Symbol]symbolic.Expr) bool {
	rank := func(r ...int) bool {
		if len(in) != len(r) {
			return false
		}
		for i := range r {
			if len(in[i].indices) != r[i] {
				return false
			}
		}
		return true
	}
	// reduced returns the single map variable not in out.
	reduced := func() (symbolic.Symbol, bool) {
		var red []symbolic.Symbol
		for s := range bounds {
			if !slices.Contains(out, s) {
				red = append(red, s)
			}
		}
		if len(red) != 1 {
			return "", false
		}
		return red[0], true
	}

	switch {
	case maps == 3 && len(out) == 2 && rank(2, 2):
		i, j := out[0], out[1]
		k, ok := reduced()
		if !ok {
			return false
		}
		a, b := in[0], in[1]
		if !a.has(i) {
			a, b = b, a
		}
		if !a.has(i) || !a.has(k) || !b.has(k) || !b.has(j) {
			return false
		}
		call.Routine = ir.Gemm
		call.A, call.B = a.data, b.data
		if a.indices[0] != i {
			call.TransA = blas.Trans
		}
		if b.indices[0] != k {
			call.TransB = blas.Trans
		}
		call.M, call.N, call.K = bounds[i], bounds[j], bounds[k]
		return true

	case maps == 2 && len(out) == 1 && (rank(2, 1) || rank(1, 2)):
		o := out[0]
		r, ok := reduced()
		if !ok {
			return false
		}
		mat, vec := in[0], in[1]
		if len(mat.indices) != 2 {
			mat, vec = vec, mat
		}
		if vec.indices[0] != r || !mat.has(o) || !mat.has(r) {
			return false
		}
		call.Routine = ir.Gemv
		call.A, call.B = mat.data, vec.data
		if mat.indices[0] == o {
			call.M, call.N = bounds[o], bounds[r]
		} else {
			call.TransA = blas.Trans
			call.M, call.N = bounds[r], bounds[o]
		}
		return true

	case maps == 2 && len(out) == 2 && rank(1, 1):
		i, j := out[0], out[1]
		x, y := in[0], in[1]
		if x.indices[0] != i {
			x, y = y, x
		}
		if x.indices[0] != i || y.indices[0] != j {
			return false
		}
		call.Routine = ir.Ger
		call.A, call.B = x.data, y.data
		call.M, call.N = bounds[i], bounds[j]
		return true

	case maps == 1 && len(out) == 0 && rank(1, 1):
		k := in[0].indices[0]
		if in[1].indices[0] != k {
			return false
		}
		call.Routine = ir.Dot
		call.A, call.B = in[0].data, in[1].data
		call.N = bounds[k]
		return true

	case maps == 1 && len(out) == 1 && rank(1):
		if in[0].indices[0] != out[0] {
			return false
		}
		call.Routine = ir.Axpy
		call.A = in[0].data
		call.N = bounds[out[0]]
		return true
	}
	return false
}

func (t *Einsum2BLAS) Apply(ctx *Context) error {
	blk, call, ok := t.plan(ctx)
	if !ok {
		return ErrNotApplicable
	}
	g := blk.Graph
	for _, n := range g.Nodes() {
		g.RemoveNode(n)
	}
	g.AddBLASStatement(call)
	ctx.Analyses.Invalidate()
	return nil
}
