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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/match"
	"github.com/ajroetker/einsumopt/symbolic"
)

func scalarProgram(t *testing.T, names ...string) *ir.Builder {
	t.Helper()
	b := ir.NewBuilder("fuse")
	for _, n := range names {
		require.NoError(t, b.AddArgument(n, ir.ScalarOf(ir.Float64)))
	}
	return b
}

func addBlock(t *testing.T, b *ir.Builder, parent ir.ID, assign *ir.Assignments) *ir.Graph {
	t.Helper()
	blk, err := b.AddBlock(parent, assign)
	require.NoError(t, err)
	return blk.Graph
}

func TestBlockFusion(t *testing.T) {
	b := scalarProgram(t, "a", "b", "c", "t", "u")
	root := b.Program().Root()
	addBlock(t, b, root, nil).AddStatement(ir.OpMul, ir.At("t"), ir.At("a"), ir.At("b"))
	addBlock(t, b, root, nil).AddStatement(ir.OpAdd, ir.At("c"), ir.At("t"), ir.At("a"))
	addBlock(t, b, root, nil).AddStatement(ir.OpNeg, ir.At("u"), ir.At("c"))

	ctx := NewContext(b.Program())
	tr := &BlockFusion{Sequence: root}
	require.True(t, tr.CanBeApplied(ctx))
	require.NoError(t, Apply(ctx, tr))
	requireDump(t, `program fuse(a, b, c, t, u)
block
  t = mul(a, b)
  c = add(t, a)
  u = neg(c)
`, ctx.Program())
	assert.False(t, tr.CanBeApplied(ctx))

	seq, err := ir.Get[*ir.Sequence](ctx.Program(), root)
	require.NoError(t, err)
	require.Len(t, seq.Entries, 1)
	blk, err := ir.Get[*ir.Block](ctx.Program(), seq.Entries[0].Node)
	require.NoError(t, err)
	// t and c each flow through a single access node.
	assert.Len(t, accessesTo(blk.Graph, "t"), 1)
	assert.Len(t, accessesTo(blk.Graph, "c"), 1)
}

func TestBlockFusionIllegal(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func(t *testing.T, b *ir.Builder, root ir.ID)
	}{
		{"anti dependence", func(t *testing.T, b *ir.Builder, root ir.ID) {
			addBlock(t, b, root, nil).AddStatement(ir.OpMul, ir.At("t"), ir.At("a"), ir.At("b"))
			addBlock(t, b, root, nil).AddStatement(ir.OpAssign, ir.At("a"), ir.At("c"))
		}},
		{"output dependence", func(t *testing.T, b *ir.Builder, root ir.ID) {
			addBlock(t, b, root, nil).AddStatement(ir.OpMul, ir.At("t"), ir.At("a"), ir.At("b"))
			addBlock(t, b, root, nil).AddStatement(ir.OpAssign, ir.At("t"), ir.At("c"))
		}},
		{"assignments between", func(t *testing.T, b *ir.Builder, root ir.ID) {
			require.NoError(t, b.AddContainer("n", ir.ScalarOf(ir.Int64)))
			addBlock(t, b, root, nil).AddStatement(ir.OpMul, ir.At("t"), ir.At("a"), ir.At("b"))
			addBlock(t, b, root, ir.Assign(map[string]string{"n": "1"})).AddStatement(ir.OpAssign, ir.At("c"), ir.At("t"))
		}},
		{"ambiguous producer", func(t *testing.T, b *ir.Builder, root ir.ID) {
			g := addBlock(t, b, root, nil)
			g.AddStatement(ir.OpMul, ir.At("t"), ir.At("a"), ir.At("b"))
			g.AddStatement(ir.OpAdd, ir.At("t"), ir.At("a"), ir.At("b"))
			addBlock(t, b, root, nil).AddStatement(ir.OpAssign, ir.At("c"), ir.At("t"))
		}},
		{"einsum", func(t *testing.T, b *ir.Builder, root ir.ID) {
			addBlock(t, b, root, nil).AddStatement(ir.OpMul, ir.At("t"), ir.At("a"), ir.At("b"))
			addBlock(t, b, root, nil).AddEinsumStatement(nil, ir.At("c"), ir.At("t"))
		}},
		{"not adjacent", func(t *testing.T, b *ir.Builder, root ir.ID) {
			addBlock(t, b, root, nil).AddStatement(ir.OpMul, ir.At("t"), ir.At("a"), ir.At("b"))
			_, err := b.AddBreak(root, nil)
			require.NoError(t, err)
			addBlock(t, b, root, nil).AddStatement(ir.OpAssign, ir.At("c"), ir.At("t"))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := scalarProgram(t, "a", "b", "c", "t")
			tc.build(t, b, b.Program().Root())
			ctx := NewContext(b.Program())
			assert.False(t, (&BlockFusion{Sequence: b.Program().Root()}).CanBeApplied(ctx))
		})
	}
}

func TestEinsumLift(t *testing.T) {
	ctx := buildKernel(t, "dot")
	nests, err := match.EinsumLoops(ctx.Program(), ctx.Program().Root())
	require.NoError(t, err)
	require.Len(t, nests, 2)
	require.Len(t, nests[0].Loops, 1)

	tr := &EinsumLift{Loops: nests[0].Loops, Block: nests[0].Block}
	require.True(t, tr.CanBeApplied(ctx))
	require.NoError(t, Apply(ctx, tr))
	requireDump(t, `program dot(N, x, y, s)
var i int64
block
  einsum(i: 0..N) s += x[i] * y[i]
`, ctx.Program())
	assert.False(t, tr.CanBeApplied(ctx))
}

// nest builds for i < N { for j < bound { A[i, j] = op(...) } }.
func nest(t *testing.T, bound, step string, stmt func(g *ir.Graph)) (*Context, []ir.ID, ir.ID) {
	t.Helper()
	b := ir.NewBuilder("nest")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	require.NoError(t, b.AddArgument("alpha", ir.ScalarOf(ir.Float64)))
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, b.AddArgument(name, ir.ArrayOf("N", "N")))
	}
	i := addLoop(t, b, b.Program().Root(), "i", "0", "i < N", "i + 1")
	j := addLoop(t, b, i.Body, "j", "0", "j < "+bound, "j + "+step)
	blk, err := b.AddBlock(j.Body, nil)
	require.NoError(t, err)
	stmt(blk.Graph)
	return NewContext(b.Program()), []ir.ID{i.ID(), j.ID()}, blk.ID()
}

func TestEinsumLiftShapes(t *testing.T) {
	fma := func(g *ir.Graph) {
		g.AddStatement(ir.OpFMA, ir.At("C", "i", "j"), ir.At("alpha"), ir.At("A", "i", "j"), ir.At("C", "i", "j"))
	}
	for _, tc := range []struct {
		name        string
		bound, step string
		stmt        func(g *ir.Graph)
		want        string
	}{
		{name: "fma", bound: "N", step: "1", stmt: fma,
			want: "einsum(i: 0..N, j: 0..N) C[i, j] += alpha * A[i, j]"},
		{name: "add accumulator first", bound: "N", step: "1", stmt: func(g *ir.Graph) {
			g.AddStatement(ir.OpAdd, ir.At("C", "i", "j"), ir.At("C", "i", "j"), ir.At("B", "j", "i"))
		}, want: "einsum(i: 0..N, j: 0..N) C[i, j] += B[j, i]"},
		{name: "add accumulator second", bound: "N", step: "1", stmt: func(g *ir.Graph) {
			g.AddStatement(ir.OpAdd, ir.At("C", "i", "j"), ir.At("B", "i", "j"), ir.At("C", "i", "j"))
		}, want: "einsum(i: 0..N, j: 0..N) C[i, j] += B[i, j]"},
		{name: "triangular", bound: "i", step: "1", stmt: fma,
			want: "einsum(i: 0..N, j: 0..i) C[i, j] += alpha * A[i, j]"},
		{name: "step two", bound: "N", step: "2", stmt: fma},
		{name: "not accumulating", bound: "N", step: "1", stmt: func(g *ir.Graph) {
			g.AddStatement(ir.OpFMA, ir.At("C", "i", "j"), ir.At("alpha"), ir.At("A", "i", "j"), ir.At("B", "i", "j"))
		}},
		{name: "accumulator at other element", bound: "N", step: "1", stmt: func(g *ir.Graph) {
			g.AddStatement(ir.OpFMA, ir.At("C", "i", "j"), ir.At("alpha"), ir.At("A", "i", "j"), ir.At("C", "j", "i"))
		}},
		{name: "output among factors", bound: "N", step: "1", stmt: func(g *ir.Graph) {
			g.AddStatement(ir.OpFMA, ir.At("C", "i", "j"), ir.At("C", "0", "0"), ir.At("A", "i", "j"), ir.At("C", "i", "j"))
		}},
		{name: "multiply", bound: "N", step: "1", stmt: func(g *ir.Graph) {
			g.AddStatement(ir.OpMul, ir.At("C", "i", "j"), ir.At("C", "i", "j"), ir.At("alpha"))
		}},
		{name: "two tasklets", bound: "N", step: "1", stmt: func(g *ir.Graph) {
			fma(g)
			fma(g)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, chain, block := nest(t, tc.bound, tc.step, tc.stmt)
			tr := &EinsumLift{Loops: chain, Block: block}
			if tc.want == "" {
				assert.False(t, tr.CanBeApplied(ctx))
				return
			}
			require.NoError(t, tr.Apply(ctx))
			root, err := ir.Get[*ir.Sequence](ctx.Program(), ctx.Program().Root())
			require.NoError(t, err)
			require.Len(t, root.Entries, 1)
			blk, err := ir.Get[*ir.Block](ctx.Program(), root.Entries[0].Node)
			require.NoError(t, err)
			einsums := blk.Graph.Einsums()
			require.Len(t, einsums, 1)
			assert.Equal(t, []string{tc.want}, ir.FormatDataNode(blk.Graph, einsums[0]))
			require.NoError(t, ir.Validate(ctx.Program()))
		})
	}

	t.Run("chain out of order", func(t *testing.T) {
		ctx, chain, block := nest(t, "N", "1", fma)
		assert.False(t, (&EinsumLift{Loops: []ir.ID{chain[1], chain[0]}, Block: block}).CanBeApplied(ctx))
		assert.False(t, (&EinsumLift{Loops: chain[:1], Block: block}).CanBeApplied(ctx))
		assert.True(t, (&EinsumLift{Loops: chain[1:], Block: block}).CanBeApplied(ctx))
		assert.True(t, (&EinsumLift{Block: block}).CanBeApplied(ctx))
	})
}

func TestEinsumExpand(t *testing.T) {
	ctx, chain, block := nest(t, "N", "1", func(g *ir.Graph) {
		g.AddStatement(ir.OpFMA, ir.At("C", "i", "j"), ir.At("A", "i", "j"), ir.At("B", "j", "i"), ir.At("C", "i", "j"))
	})
	require.NoError(t, Apply(ctx, &EinsumLift{Loops: chain[1:], Block: block}))

	pairs, err := match.EinsumNodeLoops(ctx.Program(), ctx.Program().Root())
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, chain[0], pairs[0].Loop)

	tr := &EinsumExpand{Loop: pairs[0].Loop, Block: pairs[0].Block, Node: pairs[0].Node}
	require.True(t, tr.CanBeApplied(ctx))
	require.NoError(t, Apply(ctx, tr))
	requireDump(t, `program nest(N, alpha, A, B, C)
var i int64
var j int64
block
  einsum(i: 0..N, j: 0..N) C[i, j] += A[i, j] * B[j, i]
`, ctx.Program())
	assert.False(t, tr.CanBeApplied(ctx))
}

func TestEinsumExpandIllegal(t *testing.T) {
	lifted := func(t *testing.T, step string) (*Context, match.NodeLoop) {
		ctx, _, _ := nest(t, "N", "1", func(g *ir.Graph) {
			g.AddStatement(ir.OpFMA, ir.At("C", "i", "j"), ir.At("A", "i", "j"), ir.At("C", "i", "j"))
		})
		nests, err := match.EinsumLoops(ctx.Program(), ctx.Program().Root())
		require.NoError(t, err)
		// Lift the innermost loop only.
		inner := nests[1]
		require.Len(t, inner.Loops, 1)
		require.NoError(t, Apply(ctx, &EinsumLift{Loops: inner.Loops, Block: inner.Block}))
		pairs, err := match.EinsumNodeLoops(ctx.Program(), ctx.Program().Root())
		require.NoError(t, err)
		require.Len(t, pairs, 1)
		loop, err := ir.Get[*ir.Loop](ctx.Program(), pairs[0].Loop)
		require.NoError(t, err)
		loop.Update = symbolic.MustParse("i + " + step)
		return ctx, pairs[0]
	}

	t.Run("strided loop", func(t *testing.T) {
		ctx, pair := lifted(t, "2")
		assert.False(t, (&EinsumExpand{Loop: pair.Loop, Block: pair.Block, Node: pair.Node}).CanBeApplied(ctx))
	})
	t.Run("wrong node", func(t *testing.T) {
		ctx, pair := lifted(t, "1")
		assert.False(t, (&EinsumExpand{Loop: pair.Loop, Block: pair.Block, Node: pair.Node + 1}).CanBeApplied(ctx))
	})
	t.Run("indvar already mapped", func(t *testing.T) {
		ctx, pair := lifted(t, "1")
		loop, err := ir.Get[*ir.Loop](ctx.Program(), pair.Loop)
		require.NoError(t, err)
		require.NoError(t, ctx.Builder.Subs(loop.ID(), "i", symbolic.Symbol("j")))
		assert.False(t, (&EinsumExpand{Loop: pair.Loop, Block: pair.Block, Node: pair.Node}).CanBeApplied(ctx))
	})
	t.Run("body has more", func(t *testing.T) {
		ctx, pair := lifted(t, "1")
		loop, err := ir.Get[*ir.Loop](ctx.Program(), pair.Loop)
		require.NoError(t, err)
		_, err = ctx.Builder.AddBlock(loop.Body, nil)
		require.NoError(t, err)
		ctx.Analyses.Invalidate()
		assert.False(t, (&EinsumExpand{Loop: pair.Loop, Block: pair.Block, Node: pair.Node}).CanBeApplied(ctx))
	})
}

// blasProgram declares the containers used by the lowering cases.
func blasProgram(t *testing.T) *ir.Builder {
	t.Helper()
	b := ir.NewBuilder("blas")
	for _, n := range []string{"M", "N", "K"} {
		require.NoError(t, b.AddArgument(n, ir.ScalarOf(ir.Int64)))
	}
	for _, n := range []string{"alpha", "beta", "s"} {
		require.NoError(t, b.AddArgument(n, ir.ScalarOf(ir.Float64)))
	}
	for _, n := range []string{"A", "B", "P"} {
		require.NoError(t, b.AddArgument(n, ir.ArrayOf("K", "K")))
	}
	for _, n := range []string{"x", "y"} {
		require.NoError(t, b.AddArgument(n, ir.ArrayOf("K")))
	}
	return b
}

func maps(specs ...string) []ir.EinsumMap {
	var out []ir.EinsumMap
	for i := 0; i+2 < len(specs); i += 3 {
		out = append(out, ir.EinsumMap{
			Indvar: symbolic.Symbol(specs[i]),
			Init:   symbolic.MustParse(specs[i+1]),
			Bound:  symbolic.MustParse(specs[i+2]),
		})
	}
	return out
}

func TestEinsum2BLAS(t *testing.T) {
	rect3 := maps("i", "0", "M", "k", "0", "K", "j", "0", "N")
	rect2 := maps("i", "0", "M", "j", "0", "N")
	rect1 := maps("i", "0", "N")
	for _, tc := range []struct {
		name string
		maps []ir.EinsumMap
		out  ir.Ref
		ins  []ir.Ref
		want string
	}{
		{"gemm", rect3, ir.At("P", "i", "j"), []ir.Ref{ir.At("alpha"), ir.At("A", "i", "k"), ir.At("B", "k", "j")},
			"cblas.gemm(NoTrans, NoTrans, M=M, N=N, K=K, alpha=alpha, A=A, B=B, C=P)"},
		{"gemm transposed", rect3, ir.At("P", "i", "j"), []ir.Ref{ir.At("B", "j", "k"), ir.At("A", "k", "i")},
			"cblas.gemm(Trans, Trans, M=M, N=N, K=K, alpha=1, A=A, B=B, C=P)"},
		{"gemv", rect2, ir.At("y", "i"), []ir.Ref{ir.At("A", "i", "j"), ir.At("x", "j")},
			"cblas.gemv(NoTrans, M=M, N=N, alpha=1, A=A, B=x, C=y)"},
		{"gemv transposed", rect2, ir.At("y", "j"), []ir.Ref{ir.At("x", "i"), ir.At("A", "i", "j"), ir.At("beta")},
			"cblas.gemv(Trans, M=M, N=N, alpha=beta, A=A, B=x, C=y)"},
		{"ger", rect2, ir.At("P", "i", "j"), []ir.Ref{ir.At("alpha"), ir.At("y", "j"), ir.At("x", "i")},
			"cblas.ger(M=M, N=N, alpha=alpha, A=x, B=y, C=P)"},
		{"dot", rect1, ir.At("s"), []ir.Ref{ir.At("x", "i"), ir.At("y", "i")},
			"cblas.dot(N=N, alpha=1, A=x, B=y, C=s)"},
		{"axpy", rect1, ir.At("y", "i"), []ir.Ref{ir.At("alpha"), ir.At("x", "i")},
			"cblas.axpy(N=N, alpha=alpha, A=x, C=y)"},

		{"offset init", maps("i", "1", "N"), ir.At("y", "i"), []ir.Ref{ir.At("x", "i")}, ""},
		{"triangular", maps("i", "0", "M", "j", "0", "i"), ir.At("y", "i"), []ir.Ref{ir.At("A", "i", "j"), ir.At("x", "j")}, ""},
		{"shifted index", rect1, ir.At("y", "i"), []ir.Ref{ir.At("x", "i + 1")}, ""},
		{"two scalars", rect1, ir.At("y", "i"), []ir.Ref{ir.At("alpha"), ir.At("beta"), ir.At("x", "i")}, ""},
		{"diagonal", rect2, ir.At("y", "i"), []ir.Ref{ir.At("A", "i", "i"), ir.At("x", "j")}, ""},
		{"accumulates into input", rect1, ir.At("y", "i"), []ir.Ref{ir.At("y", "i")}, ""},
		{"three tensors", rect3, ir.At("P", "i", "j"), []ir.Ref{ir.At("A", "i", "k"), ir.At("B", "k", "j"), ir.At("x", "k")}, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := blasProgram(t)
			blk, err := b.AddBlock(b.Program().Root(), nil)
			require.NoError(t, err)
			e := blk.Graph.AddEinsumStatement(tc.maps, tc.out, tc.ins...)
			ctx := NewContext(b.Program())
			tr := &Einsum2BLAS{Block: blk.ID(), Node: e.ID(), Impl: ir.ImplCBLAS}
			if tc.want == "" {
				assert.False(t, tr.CanBeApplied(ctx))
				return
			}
			require.NoError(t, Apply(ctx, tr))
			var calls []string
			for _, n := range blk.Graph.Nodes() {
				if lib, ok := n.(*ir.LibraryNode); ok {
					calls = append(calls, lib.BLAS.String())
				}
			}
			assert.Equal(t, []string{tc.want}, calls)
			assert.Empty(t, blk.Graph.Einsums())
			assert.False(t, tr.CanBeApplied(ctx))
			require.NoError(t, ir.Validate(ctx.Program()))
		})
	}
}

func TestEinsum2BLASImpl(t *testing.T) {
	ctx := buildKernel(t, "axpy")
	nests, err := match.EinsumLoops(ctx.Program(), ctx.Program().Root())
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, &EinsumLift{Loops: nests[0].Loops, Block: nests[0].Block}))
	refs, err := match.EinsumNodes(ctx.Program(), ctx.Program().Root())
	require.NoError(t, err)
	require.Len(t, refs, 1)

	ctx.BLASImpl = ir.ImplCUBLAS
	tr, err := Decode(ctx, (&Einsum2BLAS{Block: refs[0].Block, Node: refs[0].Node}).Record())
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, tr))
	requireDump(t, `program axpy(N, alpha, x, y)
var i int64
block
  cublas.axpy(N=N, alpha=alpha, A=x, C=y)
`, ctx.Program())
}
