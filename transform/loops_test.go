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

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

func TestLoopNormalize(t *testing.T) {
	for _, tc := range []struct {
		cond, want string
	}{
		{"i <= N - 1", "i < N"},
		{"i + 1 < N", "i < N - 1"},
		{"i - M <= 2*N", "i < M + 2*N + 1"},
		{"N > i", ""},
		{"2*i < N", ""},
		{"i*i < N", ""},
		{"i != N", ""},
	} {
		t.Run(tc.cond, func(t *testing.T) {
			b := ir.NewBuilder("normalize")
			loop := addLoop(t, b, b.Program().Root(), "i", "0", tc.cond, "i + 1")
			ctx := NewContext(b.Program())
			tr := &LoopNormalize{Loop: loop.ID()}
			if tc.want == "" {
				assert.False(t, tr.CanBeApplied(ctx))
				assert.True(t, errors.Is(tr.Apply(ctx), ErrNotApplicable))
				return
			}
			require.True(t, tr.CanBeApplied(ctx))
			require.NoError(t, tr.Apply(ctx))
			assert.Equal(t, tc.want, loop.Cond.String())
			assert.True(t, loop.IsNormalized())
			assert.False(t, tr.CanBeApplied(ctx))
		})
	}
}

// splitProgram builds
//
//	for i = 0; i < N; i++ { A[write] = B[i]; C[i] = A[read] }
func splitProgram(t *testing.T, write, read string) (*Context, *ir.Loop) {
	t.Helper()
	b := ir.NewBuilder("split")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, b.AddArgument(name, ir.ArrayOf("N")))
	}
	loop := addLoop(t, b, b.Program().Root(), "i", "0", "i < N", "i + 1")
	blk, err := b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("A", write), ir.At("B", "i"))
	blk, err = b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("C", "i"), ir.At("A", read))
	return NewContext(b.Program()), loop
}

func TestLoopDistributeSoundness(t *testing.T) {
	for _, tc := range []struct {
		name        string
		write, read string
		legal       bool
	}{
		{"same element", "i", "i", true},
		{"reversed", "N - i - 1", "N - i - 1", true},
		{"constant element", "0", "0", false},
		{"earlier element", "i", "i - 1", false},
		{"later element", "i + 1", "i", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, loop := splitProgram(t, tc.write, tc.read)
			tr := &LoopDistribute{Loop: loop.ID()}
			assert.Equal(t, tc.legal, tr.CanBeApplied(ctx))
			// Repeated checks agree.
			assert.Equal(t, tc.legal, tr.CanBeApplied(ctx))
		})
	}

	ctx, loop := splitProgram(t, "i", "i")
	tr := &LoopDistribute{Loop: loop.ID()}
	require.NoError(t, Apply(ctx, tr))
	requireDump(t, `program split(N, A, B, C)
var i int64
var i_1 int64
for i_1 = 0; i_1 < N; i_1 = i_1 + 1
  block
    A[i_1] = assign(B[i_1])
for i = 0; i < N; i = i + 1
  block
    C[i] = assign(A[i])
`, ctx.Program())
	assert.False(t, tr.CanBeApplied(ctx))
}

func TestLoopDistributeScalarAccumulator(t *testing.T) {
	// s is written in the first part and read in the second: every iteration
	// touches the same element.
	b := ir.NewBuilder("acc")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	require.NoError(t, b.AddArgument("s", ir.ScalarOf(ir.Float64)))
	require.NoError(t, b.AddArgument("x", ir.ArrayOf("N")))
	loop := addLoop(t, b, b.Program().Root(), "i", "0", "i < N", "i + 1")
	blk, err := b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAdd, ir.At("s"), ir.At("s"), ir.At("x", "i"))
	blk, err = b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("x", "i"), ir.At("s"))

	ctx := NewContext(b.Program())
	assert.False(t, (&LoopDistribute{Loop: loop.ID()}).CanBeApplied(ctx))
}

// twoBlocks builds
//
//	for i = 1; i < N; i++ { let assign; B[write] = A[i]; out = assign(read) }
func twoBlocks(t *testing.T, write, read, out ir.Ref, assign *ir.Assignments) (*Context, *ir.Loop) {
	t.Helper()
	b := ir.NewBuilder("two")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	for _, name := range []string{"A", "B", "C", "D"} {
		require.NoError(t, b.AddArgument(name, ir.ArrayOf("N")))
	}
	require.NoError(t, b.AddContainer("k", ir.ScalarOf(ir.Int64)))
	loop := addLoop(t, b, b.Program().Root(), "i", "1", "i < N", "i + 1")
	blk, err := b.AddBlock(loop.Body, assign)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, write, ir.At("A", "i"))
	blk, err = b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	if out.Data != "" {
		blk.Graph.AddStatement(ir.OpAssign, out, read)
	}
	return NewContext(b.Program()), loop
}

func TestMyLoopDistributeRules(t *testing.T) {
	out := ir.At("C", "i")
	for _, tc := range []struct {
		name        string
		write, read ir.Ref
		out         ir.Ref
		assign      map[string]string
		legal       bool
	}{
		{name: "same element", write: ir.At("B", "i"), read: ir.At("B", "i"), out: out, legal: true},
		{name: "backward read", write: ir.At("B", "i"), read: ir.At("B", "i - 1"), out: out, legal: true},
		{name: "unrelated read", write: ir.At("B", "i"), read: ir.At("D", "0"), out: out, legal: true},
		{name: "write misses indvar", write: ir.At("B", "0"), read: ir.At("B", "i"), out: out},
		{name: "read misses indvar", write: ir.At("B", "i"), read: ir.At("B", "0"), out: out},
		{name: "forward read", write: ir.At("B", "i"), read: ir.At("B", "i + 1"), out: out},
		{name: "reversed read", write: ir.At("B", "i"), read: ir.At("B", "N - 1 - i"), out: out},
		{name: "strided read", write: ir.At("B", "i"), read: ir.At("B", "2*i"), out: out},
		{name: "descending write read behind", write: ir.At("B", "N - i"), read: ir.At("B", "N - i + 1"), out: out, legal: true},
		{name: "descending write read ahead", write: ir.At("B", "N - i"), read: ir.At("B", "N - i - 1"), out: out},
		{name: "indirect index", write: ir.At("B", "i"), read: ir.At("D", "B"), out: out},
		{name: "writes what block 1 reads", write: ir.At("B", "i"), read: ir.At("D", "i"), out: ir.At("A", "i")},
		{name: "assigned symbol used", write: ir.At("B", "i"), read: ir.At("D", "k"), out: out, assign: map[string]string{"k": "i"}},
		{name: "empty second block", write: ir.At("B", "i")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var assign *ir.Assignments
			if tc.assign != nil {
				assign = ir.Assign(tc.assign)
			}
			ctx, loop := twoBlocks(t, tc.write, tc.read, tc.out, assign)
			tr := &MyLoopDistribute{Loop: loop.ID()}
			assert.Equal(t, tc.legal, tr.CanBeApplied(ctx))
			if tc.legal {
				require.NoError(t, tr.Apply(ctx))
				assert.False(t, tr.CanBeApplied(ctx))
			}
		})
	}
}

func TestMyLoopDistributeShift(t *testing.T) {
	ctx := buildKernel(t, "shift")
	loop := loops(t, ctx)[0]
	assert.False(t, (&LoopDistribute{Loop: loop}).CanBeApplied(ctx))

	tr := &MyLoopDistribute{Loop: loop}
	require.True(t, tr.CanBeApplied(ctx))
	require.NoError(t, tr.Apply(ctx))
	requireDump(t, `program shift(N, A, B, C)
var i int64
var i_1 int64
for i_1 = 1; i_1 < N; i_1 = i_1 + 1
  block
    B[i_1] = mul(A[i_1], A[i_1])
for i = 1; i < N; i = i + 1
  block
    C[i] = add(B[i - 1], A[i])
`, ctx.Program())
	assert.False(t, tr.CanBeApplied(ctx))
}

func TestMyLoopDistributeMovesEntryAssignments(t *testing.T) {
	ctx, loop := twoBlocks(t, ir.At("B", "k"), ir.At("D", "i"), ir.At("C", "i"), ir.Assign(map[string]string{"k": "i - 1"}))
	tr := &MyLoopDistribute{Loop: loop.ID()}
	require.True(t, tr.CanBeApplied(ctx))
	require.NoError(t, tr.Apply(ctx))
	requireDump(t, `program two(N, A, B, C, D)
var k int64
var i int64
var i_1 int64
for i_1 = 1; i_1 < N; i_1 = i_1 + 1
  let k = i_1 - 1
  block
    B[k] = assign(A[i_1])
for i = 1; i < N; i = i + 1
  block
    C[i] = assign(D[i])
`, ctx.Program())
}

func TestLoopConsumeAssignments(t *testing.T) {
	ctx := buildKernel(t, "stride")
	loop := loops(t, ctx)[0]
	tr := &LoopConsumeAssignments{Loop: loop}
	require.True(t, tr.CanBeApplied(ctx))
	require.NoError(t, Apply(ctx, tr))
	requireDump(t, `program stride(N, A, B)
var idx int64
var i int64
for i = 0; i < N; i = i + 1
  block
    B[i + 5] = assign(A[i])
  block
`, ctx.Program())

	users, err := ctx.Analyses.Users()
	require.NoError(t, err)
	assert.Empty(t, users.All("idx"))
	assert.False(t, tr.CanBeApplied(ctx))
}

// consumeProgram builds
//
//	let idx = base
//	for i = 2; i < N; i = i + step {
//	  B[idx] = A[i]
//	  let idx = idx + bump
//	  C[idx] = A[i]
//	  D[idx] = A[i]
//	}
func consumeProgram(t *testing.T, base, step, bump string) (*ir.Builder, *ir.Loop) {
	t.Helper()
	b := ir.NewBuilder("consume")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	require.NoError(t, b.AddArgument("M", ir.ScalarOf(ir.Int64)))
	for _, name := range []string{"A", "B", "C", "D"} {
		require.NoError(t, b.AddArgument(name, ir.ArrayOf("4*N + M")))
	}
	require.NoError(t, b.AddContainer("idx", ir.ScalarOf(ir.Int64)))
	loop, err := b.AddFor(b.Program().Root(), "i", symbolic.Int(2), symbolic.MustParse("i < N"),
		symbolic.MustParse("i + "+step), ir.Assign(map[string]string{"idx": base}))
	require.NoError(t, err)
	blk, err := b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("B", "idx"), ir.At("A", "i"))
	blk, err = b.AddBlock(loop.Body, ir.Assign(map[string]string{"idx": "idx + " + bump}))
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("C", "idx"), ir.At("A", "i"))
	blk, err = b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("D", "idx"), ir.At("A", "i"))
	return b, loop
}

func TestLoopConsumeAssignmentsPositions(t *testing.T) {
	b, loop := consumeProgram(t, "M", "2", "2")
	ctx := NewContext(b.Program())
	tr := &LoopConsumeAssignments{Loop: loop.ID()}
	require.NoError(t, tr.Apply(ctx))
	requireDump(t, `program consume(N, M, A, B, C, D)
var idx int64
var i int64
for i = 2; i < N; i = i + 2
  block
    B[M + i - 2] = assign(A[i])
  block
    C[M + i] = assign(A[i])
  block
    D[M + i] = assign(A[i])
`, ctx.Program())
}

func TestLoopConsumeAssignmentsIllegal(t *testing.T) {
	t.Run("bump differs from step", func(t *testing.T) {
		b, loop := consumeProgram(t, "0", "1", "2")
		assert.False(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
	t.Run("read after the loop", func(t *testing.T) {
		b, loop := consumeProgram(t, "0", "1", "1")
		blk, err := b.AddBlock(b.Program().Root(), nil)
		require.NoError(t, err)
		blk.Graph.AddStatement(ir.OpAssign, ir.At("B", "idx"), ir.At("A", "0"))
		assert.False(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
	t.Run("no base", func(t *testing.T) {
		b, loop := consumeProgram(t, "0", "1", "1")
		root, err := ir.Get[*ir.Sequence](b.Program(), b.Program().Root())
		require.NoError(t, err)
		root.Entries[0].Assign.Delete("idx")
		assert.False(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
	t.Run("base depends on loop", func(t *testing.T) {
		b, loop := consumeProgram(t, "N", "1", "1")
		blk, err := b.AddBlock(loop.Body, nil)
		require.NoError(t, err)
		// A write of N inside the loop makes the base loop-variant.
		blk.Graph.AddStatement(ir.OpAssign, ir.At("N"), ir.At("A", "0"))
		assert.False(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
	t.Run("base symbol reassigned before the loop", func(t *testing.T) {
		b, loop := baseInFrontProgram(t, func(b *ir.Builder) {
			_, err := b.AddBlock(b.Program().Root(), ir.Assign(map[string]string{"M": "7"}))
			require.NoError(t, err)
		})
		assert.False(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
	t.Run("base symbol reassigned with the loop", func(t *testing.T) {
		b, loop := baseInFrontProgram(t, nil)
		root, err := ir.Get[*ir.Sequence](b.Program(), b.Program().Root())
		require.NoError(t, err)
		root.Entries[len(root.Entries)-1].Assign.Set("M", symbolic.Int(7))
		assert.False(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
	t.Run("counter written before the loop", func(t *testing.T) {
		b, loop := baseInFrontProgram(t, func(b *ir.Builder) {
			blk, err := b.AddBlock(b.Program().Root(), nil)
			require.NoError(t, err)
			blk.Graph.AddStatement(ir.OpAssign, ir.At("idx"), ir.At("A", "0"))
		})
		assert.False(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
	t.Run("unrelated write before the loop", func(t *testing.T) {
		b, loop := baseInFrontProgram(t, func(b *ir.Builder) {
			_, err := b.AddBlock(b.Program().Root(), ir.Assign(map[string]string{"N": "N + 1"}))
			require.NoError(t, err)
		})
		assert.True(t, (&LoopConsumeAssignments{Loop: loop.ID()}).CanBeApplied(NewContext(b.Program())))
	})
}

// baseInFrontProgram builds
//
//	let idx = M
//	<between>
//	for i = 0; i < N; i = i + 1 {
//	  B[idx] = A[i]
//	  let idx = idx + 1
//	}
func baseInFrontProgram(t *testing.T, between func(*ir.Builder)) (*ir.Builder, *ir.Loop) {
	t.Helper()
	b := ir.NewBuilder("consume")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	require.NoError(t, b.AddArgument("M", ir.ScalarOf(ir.Int64)))
	for _, name := range []string{"A", "B"} {
		require.NoError(t, b.AddArgument(name, ir.ArrayOf("4*N + M")))
	}
	require.NoError(t, b.AddContainer("idx", ir.ScalarOf(ir.Int64)))
	_, err := b.AddBlock(b.Program().Root(), ir.Assign(map[string]string{"idx": "M"}))
	require.NoError(t, err)
	if between != nil {
		between(b)
	}
	loop, err := b.AddFor(b.Program().Root(), "i", symbolic.Int(0), symbolic.MustParse("i < N"),
		symbolic.MustParse("i + 1"), nil)
	require.NoError(t, err)
	blk, err := b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("B", "idx"), ir.At("A", "i"))
	_, err = b.AddBlock(loop.Body, ir.Assign(map[string]string{"idx": "idx + 1"}))
	require.NoError(t, err)
	return b, loop
}

func TestLegalityMonotonicity(t *testing.T) {
	ctx := buildKernel(t, "shift")
	shift := loops(t, ctx)[0]
	illegal := &LoopDistribute{Loop: shift}
	require.False(t, illegal.CanBeApplied(ctx))

	// Rewriting an unrelated loop leaves the verdict unchanged.
	b := ctx.Builder
	other := addLoop(t, b, ctx.Program().Root(), "j", "0", "j <= N - 1", "j + 1")
	ctx.Analyses.Invalidate()
	require.NoError(t, Apply(ctx, &LoopNormalize{Loop: other.ID()}))
	assert.False(t, illegal.CanBeApplied(ctx))
	assert.False(t, illegal.CanBeApplied(ctx))
}
