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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

func forLoop(t *testing.T, b *ir.Builder, parent ir.ID, indvar, bound string, assign *ir.Assignments) *ir.Loop {
	t.Helper()
	l, err := b.AddFor(parent, symbolic.Symbol(indvar), symbolic.Int(0),
		symbolic.MustParse(indvar+" < "+bound), symbolic.MustParse(indvar+" + 1"), assign)
	require.NoError(t, err)
	return l
}

// strided builds
//
//	let idx = 5
//	for i < N { B[idx] = A[i]; let idx = idx + 1; block }
func strided(t *testing.T) (*ir.Builder, *ir.Loop, *ir.Block) {
	b := ir.NewBuilder("strided")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	require.NoError(t, b.AddArgument("A", ir.ArrayOf("N")))
	require.NoError(t, b.AddArgument("B", ir.ArrayOf("N + 5")))
	require.NoError(t, b.AddContainer("idx", ir.ScalarOf(ir.Int64)))
	loop := forLoop(t, b, b.Program().Root(), "i", "N", ir.Assign(map[string]string{"idx": "5"}))
	blk, err := b.AddBlock(loop.Body, nil)
	require.NoError(t, err)
	blk.Graph.AddStatement(ir.OpAssign, ir.At("B", "idx"), ir.At("A", "i"))
	_, err = b.AddBlock(loop.Body, ir.Assign(map[string]string{"idx": "idx + 1"}))
	require.NoError(t, err)
	return b, loop, blk
}

func TestLoopsPostOrder(t *testing.T) {
	b := ir.NewBuilder("nest")
	require.NoError(t, b.AddArgument("N", ir.ScalarOf(ir.Int64)))
	outer := forLoop(t, b, b.Program().Root(), "i", "N", nil)
	j := forLoop(t, b, outer.Body, "j", "N", nil)
	k := forLoop(t, b, outer.Body, "k", "N", nil)
	inner := forLoop(t, b, k.Body, "l", "N", nil)
	last := forLoop(t, b, b.Program().Root(), "m", "N", nil)

	m := NewManager(b.Program())
	loops, err := m.Loops()
	require.NoError(t, err)
	assert.Equal(t, []ir.ID{j.ID(), inner.ID(), k.ID(), outer.ID(), last.ID()}, loops)
}

func TestScope(t *testing.T) {
	b, loop, blk := strided(t)
	m := NewManager(b.Program())
	s, err := m.Scope()
	require.NoError(t, err)

	seq, idx, ok := s.Enclosing(blk.ID())
	require.True(t, ok)
	assert.Equal(t, loop.Body, seq)
	assert.Equal(t, 0, idx)

	seq, idx, ok = s.Enclosing(loop.Body)
	require.True(t, ok)
	assert.Equal(t, b.Program().Root(), seq)
	assert.Equal(t, 0, idx)

	entry, ok := s.Entry(loop.ID())
	require.True(t, ok)
	rhs, ok := entry.Assign.Get("idx")
	require.True(t, ok)
	assert.Equal(t, "5", rhs.String())

	_, _, ok = s.Enclosing(b.Program().Root())
	assert.False(t, ok)
}

func TestUsersRegions(t *testing.T) {
	b, loop, _ := strided(t)
	m := NewManager(b.Program())
	u, err := m.Users()
	require.NoError(t, err)

	writes, err := u.Writes("idx", loop.ID())
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, loop.Body, writes[0].Element)
	assert.Equal(t, 1, writes[0].Entry)

	reads, err := u.Reads("idx", loop.ID())
	require.NoError(t, err)
	assert.Len(t, reads, 2, "the B subset and the increment")

	outside, err := u.ReadsOutside("idx", loop.ID())
	require.NoError(t, err)
	assert.Empty(t, outside)

	all := u.All("idx")
	assert.Len(t, all, 4)

	written, err := u.Written(loop.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "i", "idx"}, written)
}

func TestInvalidate(t *testing.T) {
	b, loop, _ := strided(t)
	m := NewManager(b.Program())
	loops, err := m.Loops()
	require.NoError(t, err)
	require.Len(t, loops, 1)

	forLoop(t, b, loop.Body, "j", "N", nil)
	loops, err = m.Loops()
	require.NoError(t, err)
	assert.Len(t, loops, 1, "cached until invalidated")

	m.Invalidate()
	loops, err = m.Loops()
	require.NoError(t, err)
	assert.Len(t, loops, 2)
}
