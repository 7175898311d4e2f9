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

package interp

import (
	"maps"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// block runs the nodes of g in topological order. Access nodes stand for
// memory, so every tasklet reads and writes the containers directly.
func (r *runner) block(g *ir.Graph, env symbolic.Env) error {
	order, err := g.TopoOrder()
	if err != nil {
		return err
	}
	values := map[int64]float64{}
	for _, n := range order {
		switch v := n.(type) {
		case *ir.AccessNode:
		case *ir.Tasklet:
			if err := r.tasklet(g, v, env, values); err != nil {
				return err
			}
		case *ir.EinsumNode:
			if err := r.einsum(g, v, env); err != nil {
				return err
			}
		case *ir.LibraryNode:
			if v.BLAS == nil {
				return errors.Errorf("library node %q cannot be interpreted", v.Code)
			}
			if err := r.blas(v.BLAS, env); err != nil {
				return errors.WithMessagef(err, "%s", v.BLAS)
			}
		default:
			return errors.Errorf("unsupported dataflow node %T", n)
		}
	}
	return nil
}

func (r *runner) tasklet(g *ir.Graph, t *ir.Tasklet, env symbolic.Env, values map[int64]float64) error {
	in := make([]float64, len(t.Inputs))
	for i, conn := range t.Inputs {
		found := false
		for _, m := range g.InEdges(t) {
			if m.DstConn != conn {
				continue
			}
			found = true
			if a, ok := g.Node(m.Src).(*ir.AccessNode); ok {
				x, err := r.load(a.Data, m.Subset, env)
				if err != nil {
					return err
				}
				in[i] = x
			} else {
				in[i] = values[m.Src]
			}
		}
		if !found {
			return errors.Errorf("tasklet %d: connector %s is not connected", t.ID(), conn)
		}
	}

	var out float64
	switch t.Op {
	case ir.OpAssign:
		out = in[0]
	case ir.OpConst:
		out = t.Value
	case ir.OpAdd:
		out = in[0] + in[1]
	case ir.OpSub:
		out = in[0] - in[1]
	case ir.OpMul:
		out = in[0] * in[1]
	case ir.OpDiv:
		out = in[0] / in[1]
	case ir.OpNeg:
		out = -in[0]
	case ir.OpFMA:
		if len(in) < 2 {
			return errors.Errorf("tasklet %d: fma needs at least two inputs", t.ID())
		}
		out = 1
		for _, x := range in[:len(in)-1] {
			out *= x
		}
		out += in[len(in)-1]
	default:
		return errors.Errorf("tasklet %d: unknown operation %s", t.ID(), t.Op)
	}

	values[t.ID()] = out
	for _, m := range g.OutEdges(t) {
		if a, ok := g.Node(m.Dst).(*ir.AccessNode); ok {
			if err := r.store(a.Data, m.Subset, env, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// einsum accumulates the product of the inputs into the output at every
// point of the map ranges.
func (r *runner) einsum(g *ir.Graph, e *ir.EinsumNode, env symbolic.Env) error {
	out, ins := g.EinsumOperands(e)
	if out == "" {
		return errors.Errorf("einsum %d has no output", e.ID())
	}
	local := maps.Clone(env)
	var visit func(d int) error
	visit = func(d int) error {
		if d == len(e.Maps) {
			prod := 1.0
			for k, name := range ins {
				x, err := r.load(name, e.InIndices[k], local)
				if err != nil {
					return err
				}
				prod *= x
			}
			acc, err := r.load(out, e.OutIndices, local)
			if err != nil {
				return err
			}
			return r.store(out, e.OutIndices, local, acc+prod)
		}
		m := e.Maps[d]
		lo, err := symbolic.Eval(m.Init, local)
		if err != nil {
			return err
		}
		hi, err := symbolic.Eval(m.Bound, local)
		if err != nil {
			return err
		}
		for x := lo; x < hi; x++ {
			local[m.Indvar] = x
			if err := visit(d + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(0)
}

// offset returns the row-major position of the element sub addresses.
func (r *runner) offset(name string, sub symbolic.Subset, env symbolic.Env) (int, error) {
	typ, ok := r.p.Container(name)
	if !ok {
		return 0, errors.Errorf("container %s is not declared", name)
	}
	if typ.Kind == ir.Scalar {
		if len(sub) != 0 {
			return 0, errors.Errorf("scalar %s indexed by %s", name, sub)
		}
		return 0, nil
	}
	dims := r.shapes[name]
	if len(sub) != len(dims) {
		return 0, errors.Errorf("%s has rank %d, indexed by %s", name, len(dims), sub)
	}
	off := 0
	for i, e := range sub {
		v, err := symbolic.Eval(e, env)
		if err != nil {
			return 0, errors.WithMessagef(err, "index %s%s", name, sub)
		}
		if v < 0 || int(v) >= dims[i] {
			return 0, errors.Errorf("index %d of %s%s out of bounds [0, %d)", v, name, sub, dims[i])
		}
		off = off*dims[i] + int(v)
	}
	return off, nil
}

func (r *runner) load(name string, sub symbolic.Subset, env symbolic.Env) (float64, error) {
	if typ, ok := r.p.Container(name); ok && typ.Kind == ir.Scalar && typ.Elem == ir.Int64 {
		v, ok := env[symbolic.Symbol(name)]
		if !ok {
			return 0, errors.Errorf("symbol %s read before it is set", name)
		}
		return float64(v), nil
	}
	data, ok := r.mem.Arrays[name]
	if !ok {
		return 0, errors.Errorf("container %s has no storage", name)
	}
	off, err := r.offset(name, sub, env)
	if err != nil {
		return 0, err
	}
	if off >= len(data) {
		return 0, errors.Errorf("container %s holds %d elements, accessed at %d", name, len(data), off)
	}
	return data[off], nil
}

func (r *runner) store(name string, sub symbolic.Subset, env symbolic.Env, v float64) error {
	data, ok := r.mem.Arrays[name]
	if !ok {
		return errors.Errorf("container %s has no storage", name)
	}
	off, err := r.offset(name, sub, env)
	if err != nil {
		return err
	}
	if off >= len(data) {
		return errors.Errorf("container %s holds %d elements, accessed at %d", name, len(data), off)
	}
	data[off] = v
	return nil
}

// blas runs a lowered call through gonum. Matrices take their leading
// dimension from the declared shape; the call always accumulates (beta = 1).
func (r *runner) blas(c *ir.BLASCall, env symbolic.Env) error {
	alpha := 1.0
	if c.Alpha != "" {
		a, err := r.load(c.Alpha, nil, env)
		if err != nil {
			return err
		}
		alpha = a
	}
	dim := func(e symbolic.Expr) (int, error) {
		if e == nil {
			return 0, nil
		}
		v, err := symbolic.Eval(e, env)
		if v < 0 && err == nil {
			err = errors.Errorf("negative extent %s = %d", e, v)
		}
		return int(v), err
	}
	m, err := dim(c.M)
	if err != nil {
		return err
	}
	n, err := dim(c.N)
	if err != nil {
		return err
	}
	k, err := dim(c.K)
	if err != nil {
		return err
	}

	switch c.Routine {
	case ir.Gemm:
		if m == 0 || n == 0 || k == 0 {
			return nil
		}
		ar, ac := m, k
		if c.TransA != blas.NoTrans {
			ar, ac = k, m
		}
		br, bc := k, n
		if c.TransB != blas.NoTrans {
			br, bc = n, k
		}
		a, err := r.general(c.A, ar, ac)
		if err != nil {
			return err
		}
		b, err := r.general(c.B, br, bc)
		if err != nil {
			return err
		}
		out, err := r.general(c.C, m, n)
		if err != nil {
			return err
		}
		blas64.Gemm(c.TransA, c.TransB, alpha, a, b, 1, out)

	case ir.Gemv:
		if m == 0 || n == 0 {
			return nil
		}
		xn, yn := n, m
		if c.TransA != blas.NoTrans {
			xn, yn = m, n
		}
		a, err := r.general(c.A, m, n)
		if err != nil {
			return err
		}
		x, err := r.vector(c.B, xn)
		if err != nil {
			return err
		}
		y, err := r.vector(c.C, yn)
		if err != nil {
			return err
		}
		blas64.Gemv(c.TransA, alpha, a, x, 1, y)

	case ir.Ger:
		if m == 0 || n == 0 {
			return nil
		}
		x, err := r.vector(c.A, m)
		if err != nil {
			return err
		}
		y, err := r.vector(c.B, n)
		if err != nil {
			return err
		}
		a, err := r.general(c.C, m, n)
		if err != nil {
			return err
		}
		blas64.Ger(alpha, x, y, a)

	case ir.Dot:
		if n == 0 {
			return nil
		}
		x, err := r.vector(c.A, n)
		if err != nil {
			return err
		}
		y, err := r.vector(c.B, n)
		if err != nil {
			return err
		}
		acc, err := r.load(c.C, nil, env)
		if err != nil {
			return err
		}
		return r.store(c.C, nil, env, acc+alpha*blas64.Dot(x, y))

	case ir.Axpy:
		if n == 0 {
			return nil
		}
		x, err := r.vector(c.A, n)
		if err != nil {
			return err
		}
		y, err := r.vector(c.C, n)
		if err != nil {
			return err
		}
		blas64.Axpy(alpha, x, y)

	default:
		return errors.Errorf("unknown routine %q", c.Routine)
	}
	return nil
}

// general views the leading rows×cols block of a rank-2 container.
func (r *runner) general(name string, rows, cols int) (blas64.General, error) {
	data, ok := r.mem.Arrays[name]
	dims := r.shapes[name]
	if !ok || len(dims) != 2 {
		return blas64.General{}, errors.Errorf("%s is not a matrix", name)
	}
	stride := dims[1]
	if rows > dims[0] || cols > stride {
		return blas64.General{}, errors.Errorf("%s is %dx%d, need %dx%d", name, dims[0], dims[1], rows, cols)
	}
	return blas64.General{Rows: rows, Cols: cols, Stride: stride, Data: data}, nil
}

// vector views the first n elements of a rank-1 container.
func (r *runner) vector(name string, n int) (blas64.Vector, error) {
	data, ok := r.mem.Arrays[name]
	dims := r.shapes[name]
	if !ok || len(dims) != 1 {
		return blas64.Vector{}, errors.Errorf("%s is not a vector", name)
	}
	if n > dims[0] {
		return blas64.Vector{}, errors.Errorf("%s has %d elements, need %d", name, dims[0], n)
	}
	return blas64.Vector{N: n, Inc: 1, Data: data[:n]}, nil
}
