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
	"strings"

	"gonum.org/v1/gonum/blas"

	"github.com/ajroetker/einsumopt/symbolic"
)

// Routine names a dense linear-algebra routine.
type Routine string

const (
	// Gemm is C[M,N] += alpha * op(A) * op(B), with op(A) M×K.
	Gemm Routine = "gemm"
	// Gemv is C += alpha * op(A) * B, where A is stored M×N.
	Gemv Routine = "gemv"
	// Ger is C[M,N] += alpha * A ⊗ B.
	Ger Routine = "ger"
	// Dot is C += alpha * A · B over N elements.
	Dot Routine = "dot"
	// Axpy is C[N] += alpha * A.
	Axpy Routine = "axpy"
)

// BLASImpl selects the library a call is lowered to.
type BLASImpl string

const (
	ImplCBLAS  BLASImpl = "cblas"
	ImplCUBLAS BLASImpl = "cublas"
)

// Library node connectors.
const (
	ConnA     = "_A"
	ConnB     = "_B"
	ConnC     = "_C"
	ConnAlpha = "_alpha"
)

// BLASCall describes a lowered library call. Containers are row-major with
// leading dimensions taken from their declared shapes. Alpha names a scalar
// container; empty means 1. The call always accumulates into C (beta = 1).
type BLASCall struct {
	Routine Routine
	TransA  blas.Transpose
	TransB  blas.Transpose
	M, N, K symbolic.Expr
	Alpha   string
	A, B, C string
	Impl    BLASImpl
}

// Clone returns a copy of c. Cloning nil yields nil.
func (c *BLASCall) Clone() *BLASCall {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

func (c *BLASCall) String() string {
	var args []string
	switch c.Routine {
	case Gemm:
		args = append(args, transName(c.TransA), transName(c.TransB), "M="+c.M.String(), "N="+c.N.String(), "K="+c.K.String())
	case Gemv:
		args = append(args, transName(c.TransA), "M="+c.M.String(), "N="+c.N.String())
	case Ger:
		args = append(args, "M="+c.M.String(), "N="+c.N.String())
	case Dot, Axpy:
		args = append(args, "N="+c.N.String())
	}
	alpha := c.Alpha
	if alpha == "" {
		alpha = "1"
	}
	args = append(args, "alpha="+alpha, "A="+c.A)
	if c.B != "" {
		args = append(args, "B="+c.B)
	}
	args = append(args, "C="+c.C)
	return fmt.Sprintf("%s.%s(%s)", c.Impl, c.Routine, strings.Join(args, ", "))
}

func transName(t blas.Transpose) string {
	switch t {
	case blas.Trans:
		return "Trans"
	case blas.ConjTrans:
		return "ConjTrans"
	default:
		return "NoTrans"
	}
}
