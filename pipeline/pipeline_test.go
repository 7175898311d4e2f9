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

package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/ajroetker/einsumopt/interp"
	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/kernels"
	"github.com/ajroetker/einsumopt/transform"
)

func build(t *testing.T, name string) (*kernels.Kernel, *ir.Program) {
	t.Helper()
	k, err := kernels.Get(name)
	require.NoError(t, err)
	p, err := k.Build()
	require.NoError(t, err)
	return k, p
}

func optimize(t *testing.T, name string, opts ...Option) (*ir.Program, *Pipeline) {
	t.Helper()
	_, p := build(t, name)
	pl := New(opts...)
	ok, err := pl.Run(p)
	require.NoError(t, err)
	require.True(t, ok)
	return p, pl
}

// libraryCalls returns the lowered calls of p in program order.
func libraryCalls(p *ir.Program) []string {
	var calls []string
	for _, line := range strings.Split(ir.Dump(p), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, string(ir.ImplCBLAS)+".") || strings.HasPrefix(line, string(ir.ImplCUBLAS)+".") {
			calls = append(calls, line)
		}
	}
	return calls
}

func recordTypes(pl *Pipeline) []string {
	var out []string
	for _, r := range pl.Records() {
		out = append(out, r.Type)
	}
	return out
}

func TestKernelCalls(t *testing.T) {
	ar, err := txtar.ParseFile("testdata/calls.txtar")
	require.NoError(t, err)
	require.Len(t, ar.Files, len(kernels.Names()), "every kernel needs a section")
	for _, f := range ar.Files {
		t.Run(f.Name, func(t *testing.T) {
			p, pl := optimize(t, f.Name)
			var want []string
			if data := strings.TrimSpace(string(f.Data)); data != "" {
				want = strings.Split(data, "\n")
			}
			if diff := cmp.Diff(want, libraryCalls(p)); diff != "" {
				t.Errorf("library calls (-want +got):\n%s\nprogram:\n%s", diff, ir.Dump(p))
			}
			assert.NotContains(t, ir.Dump(p), "einsum(", "einsum left after lowering")
			assert.Equal(t, len(pl.Records()), pl.Applied())
		})
	}
}

func TestIdempotence(t *testing.T) {
	for _, name := range kernels.Names() {
		t.Run(name, func(t *testing.T) {
			p, _ := optimize(t, name)
			before := ir.Dump(p, ir.WithIDs())

			again := New()
			ok, err := again.Run(p)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Zero(t, again.Applied(), "second run applied %v", recordTypes(again))
			assert.Equal(t, before, ir.Dump(p, ir.WithIDs()))
		})
	}
}

func TestStageOrder(t *testing.T) {
	_, pl := optimize(t, "gemm")
	assert.Equal(t, []string{
		transform.NameLoopDistribute,
		transform.NameEinsumLift,
		transform.NameEinsum2BLAS,
	}, recordTypes(pl))

	_, pl = optimize(t, "shift")
	assert.Equal(t, []string{transform.NameMyLoopDistribute}, recordTypes(pl))
}

func TestConsumeAssignments(t *testing.T) {
	_, pl := optimize(t, "stride")
	assert.Zero(t, pl.Applied(), "consume is off by default")

	cfg := DefaultConfig()
	cfg.ConsumeAssignments = true
	p, pl := optimize(t, "stride", WithConfig(cfg))
	assert.Equal(t, []string{transform.NameLoopConsumeAssignments, transform.NameBlockFusion}, recordTypes(pl))
	assert.Contains(t, ir.Dump(p), "B[i + 5] = assign(A[i])")
	assert.NotContains(t, ir.Dump(p), "let idx")
}

func TestBLASImpl(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BLASImpl = ir.ImplCUBLAS
	p, _ := optimize(t, "dot", WithConfig(cfg))
	assert.Equal(t, []string{"cublas.dot(N=N, alpha=1, A=x, B=y, C=s)"}, libraryCalls(p))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	optimize(t, "dot", WithLogger(logger))
	out := buf.String()
	assert.Contains(t, out, `"stage":"lift"`)
	assert.Contains(t, out, `"transformation":"EinsumLift"`)
	assert.Contains(t, out, `"transformation":"Einsum2BLAS"`)
	assert.Contains(t, out, "stage done")

	buf.Reset()
	optimize(t, "dot", WithLogger(logger.Level(zerolog.InfoLevel)))
	assert.NotContains(t, buf.String(), `"transformation"`)
}

func TestReplay(t *testing.T) {
	for _, name := range kernels.Names() {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConsumeAssignments = true
			p, pl := optimize(t, name, WithConfig(cfg))
			session := pl.Session(name)

			var buf bytes.Buffer
			require.NoError(t, WriteSession(&buf, session))
			decoded, err := ReadSession(&buf)
			require.NoError(t, err)
			assert.Equal(t, session.ID, decoded.ID)
			if diff := cmp.Diff(session.Records, decoded.Records); diff != "" {
				t.Fatalf("records changed by encoding (-want +got):\n%s", diff)
			}

			_, fresh := build(t, name)
			require.NoError(t, Replay(transform.NewContext(fresh), decoded))
			if diff := cmp.Diff(ir.Dump(p, ir.WithIDs()), ir.Dump(fresh, ir.WithIDs())); diff != "" {
				t.Errorf("replay diverged (-run +replay):\n%s", diff)
			}
		})
	}
}

func TestReplayStale(t *testing.T) {
	p, pl := optimize(t, "dot")
	session := pl.Session("dot")
	require.NotEmpty(t, session.Records)

	err := Replay(transform.NewContext(p), session)
	var le *ir.LookupError
	require.True(t, errors.As(err, &le), "replaying on the optimized program: %v", err)
	assert.True(t, ir.IsFatal(err))
}

func TestReplayIllegal(t *testing.T) {
	_, p := build(t, "dot")
	seq, err := ir.Get[*ir.Sequence](p, p.Root())
	require.NoError(t, err)
	loop := seq.Entries[0].Node

	session := &Session{Program: "dot", Records: []transform.Record{
		(&transform.LoopNormalize{Loop: loop}).Record(),
	}}
	err = Replay(transform.NewContext(p), session)
	var iv *ir.InvariantViolation
	require.True(t, errors.As(err, &iv), "normalizing a normalized loop: %v", err)

	session.Program = "gemm"
	assert.ErrorContains(t, Replay(transform.NewContext(p), session), `recorded on "gemm"`)
}

func TestInterpreterAgrees(t *testing.T) {
	pool := interp.NewPool(4)
	defer pool.Close()

	cfg := DefaultConfig()
	cfg.ConsumeAssignments = true
	for _, name := range kernels.Names() {
		t.Run(name, func(t *testing.T) {
			k, orig := build(t, name)
			mem, err := interp.Allocate(orig, k.Sizes, 7)
			require.NoError(t, err)

			want := mem.Clone()
			require.NoError(t, interp.Run(orig, want))

			opt, _ := optimize(t, name, WithConfig(cfg))
			got := mem.Clone()
			require.NoError(t, interp.Run(opt, got, interp.WithPool(pool)))

			diff, err := interp.Compare(want, got, k.LiveOut)
			require.NoError(t, err)
			assert.LessOrEqual(t, diff, 1e-9, "optimized %s disagrees with the original", name)
		})
	}
}
