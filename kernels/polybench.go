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

package kernels

import (
	"github.com/ajroetker/einsumopt/ir"
)

func init() {
	register(&Kernel{
		Name:        "gemm",
		Description: "C = alpha*A*B + beta*C",
		Sizes:       map[string]int64{"NI": 12, "NJ": 10, "NK": 14},
		LiveOut:     []string{"C"},
		build: func(k *kb) {
			k.ints("NI", "NJ", "NK")
			k.scalars("alpha", "beta")
			k.arg("C", ir.ArrayOf("NI", "NJ"))
			k.arg("A", ir.ArrayOf("NI", "NK"))
			k.arg("B", ir.ArrayOf("NK", "NJ"))
			i := k.loop(k.root(), "i", "0", "NI", nil)
			k.scale(k.loop(i, "j", "0", "NJ", nil), ir.At("C", "i", "j"), ir.At("beta"))
			kk := k.loop(i, "k", "0", "NK", nil)
			k.fma(k.loop(kk, "j", "0", "NJ", nil), ir.At("C", "i", "j"), ir.At("alpha"), ir.At("A", "i", "k"), ir.At("B", "k", "j"))
		},
	})

	register(&Kernel{
		Name:        "atax",
		Description: "y = A^T (A x)",
		Sizes:       map[string]int64{"M": 11, "N": 13},
		LiveOut:     []string{"y", "tmp"},
		build: func(k *kb) {
			k.ints("M", "N")
			k.arg("A", ir.ArrayOf("M", "N"))
			k.arg("x", ir.ArrayOf("N"))
			k.arg("y", ir.ArrayOf("N"))
			k.local("tmp", ir.ArrayOf("M"))
			k.zero(k.loop(k.root(), "i", "0", "N", nil), ir.At("y", "i"))
			i := k.loop(k.root(), "i", "0", "M", nil)
			k.zero(i, ir.At("tmp", "i"))
			k.fma(k.loop(i, "j", "0", "N", nil), ir.At("tmp", "i"), ir.At("A", "i", "j"), ir.At("x", "j"))
			k.fma(k.loop(i, "j", "0", "N", nil), ir.At("y", "j"), ir.At("A", "i", "j"), ir.At("tmp", "i"))
		},
	})

	register(&Kernel{
		Name:        "bicg",
		Description: "s = A^T r, q = A p",
		Sizes:       map[string]int64{"M": 9, "N": 15},
		LiveOut:     []string{"s", "q"},
		build: func(k *kb) {
			k.ints("M", "N")
			k.arg("A", ir.ArrayOf("N", "M"))
			k.arg("s", ir.ArrayOf("M"))
			k.arg("q", ir.ArrayOf("N"))
			k.arg("p", ir.ArrayOf("M"))
			k.arg("r", ir.ArrayOf("N"))
			k.zero(k.loop(k.root(), "i", "0", "M", nil), ir.At("s", "i"))
			i := k.loop(k.root(), "i", "0", "N", nil)
			k.zero(i, ir.At("q", "i"))
			j := k.loop(i, "j", "0", "M", nil)
			k.fma(j, ir.At("s", "j"), ir.At("r", "i"), ir.At("A", "i", "j"))
			k.fma(j, ir.At("q", "i"), ir.At("A", "i", "j"), ir.At("p", "j"))
		},
	})

	register(&Kernel{
		Name:        "mvt",
		Description: "x1 += A y1, x2 += A^T y2",
		Sizes:       map[string]int64{"N": 16},
		LiveOut:     []string{"x1", "x2"},
		build: func(k *kb) {
			k.ints("N")
			k.arg("A", ir.ArrayOf("N", "N"))
			for _, v := range []string{"x1", "x2", "y1", "y2"} {
				k.arg(v, ir.ArrayOf("N"))
			}
			i := k.loop(k.root(), "i", "0", "N", nil)
			k.fma(k.loop(i, "j", "0", "N", nil), ir.At("x1", "i"), ir.At("A", "i", "j"), ir.At("y1", "j"))
			i = k.loop(k.root(), "i", "0", "N", nil)
			k.fma(k.loop(i, "j", "0", "N", nil), ir.At("x2", "i"), ir.At("A", "j", "i"), ir.At("y2", "j"))
		},
	})

	register(&Kernel{
		Name:        "gesummv",
		Description: "y = alpha*A*x + beta*B*x",
		Sizes:       map[string]int64{"N": 14},
		LiveOut:     []string{"y", "tmp"},
		build: func(k *kb) {
			k.ints("N")
			k.scalars("alpha", "beta")
			k.arg("A", ir.ArrayOf("N", "N"))
			k.arg("B", ir.ArrayOf("N", "N"))
			k.arg("x", ir.ArrayOf("N"))
			k.arg("y", ir.ArrayOf("N"))
			k.local("tmp", ir.ArrayOf("N"))
			i := k.loop(k.root(), "i", "0", "N", nil)
			k.zero(i, ir.At("tmp", "i"))
			k.zero(i, ir.At("y", "i"))
			k.fma(k.loop(i, "j", "0", "N", nil), ir.At("tmp", "i"), ir.At("A", "i", "j"), ir.At("x", "j"))
			k.fma(k.loop(i, "j", "0", "N", nil), ir.At("y", "i"), ir.At("B", "i", "j"), ir.At("x", "j"))
			k.scale(i, ir.At("y", "i"), ir.At("beta"))
			k.fma(i, ir.At("y", "i"), ir.At("alpha"), ir.At("tmp", "i"))
		},
	})

	register(&Kernel{
		Name:        "dot",
		Description: "s += x . y",
		Sizes:       map[string]int64{"N": 32},
		LiveOut:     []string{"s"},
		build: func(k *kb) {
			k.ints("N")
			k.arg("x", ir.ArrayOf("N"))
			k.arg("y", ir.ArrayOf("N"))
			k.scalars("s")
			k.fma(k.loop(k.root(), "i", "0", "N", nil), ir.At("s"), ir.At("x", "i"), ir.At("y", "i"))
		},
	})

	register(&Kernel{
		Name:        "axpy",
		Description: "y += alpha*x",
		Sizes:       map[string]int64{"N": 32},
		LiveOut:     []string{"y"},
		build: func(k *kb) {
			k.ints("N")
			k.scalars("alpha")
			k.arg("x", ir.ArrayOf("N"))
			k.arg("y", ir.ArrayOf("N"))
			k.fma(k.loop(k.root(), "i", "0", "N", nil), ir.At("y", "i"), ir.At("alpha"), ir.At("x", "i"))
		},
	})

	register(&Kernel{
		Name:        "ger",
		Description: "A += alpha * x y^T, rows in parallel",
		Sizes:       map[string]int64{"M": 10, "N": 12},
		LiveOut:     []string{"A"},
		build: func(k *kb) {
			k.ints("M", "N")
			k.scalars("alpha")
			k.arg("A", ir.ArrayOf("M", "N"))
			k.arg("x", ir.ArrayOf("M"))
			k.arg("y", ir.ArrayOf("N"))
			rows := k.loopNode(k.root(), "i", "0", "M", nil)
			if rows == nil {
				return
			}
			rows.Schedule = ir.Map
			k.fma(k.loop(rows.Body, "j", "0", "N", nil), ir.At("A", "i", "j"), ir.At("alpha"), ir.At("x", "i"), ir.At("y", "j"))
		},
	})

	register(&Kernel{
		Name:        "shift",
		Description: "B[i] = A[i]*A[i]; C[i] = B[i-1] + A[i]",
		Sizes:       map[string]int64{"N": 20},
		LiveOut:     []string{"B", "C"},
		build: func(k *kb) {
			k.ints("N")
			k.arg("A", ir.ArrayOf("N"))
			k.arg("B", ir.ArrayOf("N"))
			k.arg("C", ir.ArrayOf("N"))
			i := k.loop(k.root(), "i", "1", "N", nil)
			k.block(i, nil).AddStatement(ir.OpMul, ir.At("B", "i"), ir.At("A", "i"), ir.At("A", "i"))
			k.block(i, nil).AddStatement(ir.OpAdd, ir.At("C", "i"), ir.At("B", "i - 1"), ir.At("A", "i"))
		},
	})

	register(&Kernel{
		Name:        "stride",
		Description: "B[idx] = A[i] with idx advancing alongside i",
		Sizes:       map[string]int64{"N": 16},
		LiveOut:     []string{"B"},
		build: func(k *kb) {
			k.ints("N")
			k.arg("A", ir.ArrayOf("N"))
			k.arg("B", ir.ArrayOf("N + 5"))
			k.local("idx", ir.ScalarOf(ir.Int64))
			i := k.loop(k.root(), "i", "0", "N", ir.Assign(map[string]string{"idx": "5"}))
			k.block(i, nil).AddStatement(ir.OpAssign, ir.At("B", "idx"), ir.At("A", "i"))
			k.block(i, ir.Assign(map[string]string{"idx": "idx + 1"}))
		},
	})
}
