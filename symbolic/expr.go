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

// Package symbolic implements the integer expression engine used for loop
// bounds, loop updates, assignment maps and access subsets.
//
// Arithmetic expressions are kept in a canonical polynomial form: every
// constructor (Add, Sub, Mul, Neg) expands its operands and returns a sum of
// sorted monomials with folded constants. Two arithmetic expressions are Equal
// exactly when their normal forms match, so "i + 5" and "5 + i" compare equal
// while "i + 5" and "i + 6" do not.
//
// Conditions (Rel, And, Bool) share the Expr interface so that loop conditions
// can be substituted and printed with the same machinery.
package symbolic

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a symbolic expression. The set of implementations is closed.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Int is an integer constant.
type Int int64

// Symbol is a named integer variable (loop induction variables, sizes,
// scalar accumulators).
type Symbol string

// Bool is a boolean constant, used for degenerate conditions.
type Bool bool

// AddExpr is an n-ary sum. Constructed through Add it is canonical.
type AddExpr struct {
	Terms []Expr
}

// MulExpr is an n-ary product. Constructed through Mul it is canonical: an
// optional leading Int coefficient followed by sorted symbols.
type MulExpr struct {
	Factors []Expr
}

// RelOp is a relational operator.
type RelOp int

const (
	// OpLt is "<".
	OpLt RelOp = iota
	// OpLe is "<=".
	OpLe
	// OpEq is "==".
	OpEq
	// OpNe is "!=".
	OpNe
)

// String returns the Go spelling of the operator.
func (op RelOp) String() string {
	switch op {
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	default:
		return fmt.Sprintf("RelOp(%d)", int(op))
	}
}

// Rel is a binary relation between two arithmetic expressions.
type Rel struct {
	Op       RelOp
	Lhs, Rhs Expr
}

// AndExpr is a conjunction of conditions.
type AndExpr struct {
	Conds []Expr
}

func (Int) isExpr()      {}
func (Symbol) isExpr()   {}
func (Bool) isExpr()     {}
func (*AddExpr) isExpr() {}
func (*MulExpr) isExpr() {}
func (*Rel) isExpr()     {}
func (*AndExpr) isExpr() {}

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

func (s Symbol) String() string { return string(s) }

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

func (a *AddExpr) String() string {
	var sb strings.Builder
	for i, t := range a.Terms {
		if i == 0 {
			sb.WriteString(t.String())
			continue
		}
		if neg, ok := negated(t); ok {
			sb.WriteString(" - ")
			sb.WriteString(neg.String())
			continue
		}
		sb.WriteString(" + ")
		sb.WriteString(t.String())
	}
	return sb.String()
}

func (m *MulExpr) String() string {
	parts := make([]string, 0, len(m.Factors))
	for i, f := range m.Factors {
		if c, ok := f.(Int); ok && i == 0 && c == -1 && len(m.Factors) > 1 {
			parts = append(parts, "-")
			continue
		}
		s := f.String()
		if _, ok := f.(*AddExpr); ok {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	out := strings.Join(parts, "*")
	return strings.Replace(out, "-*", "-", 1)
}

func (r *Rel) String() string {
	return r.Lhs.String() + " " + r.Op.String() + " " + r.Rhs.String()
}

func (a *AndExpr) String() string {
	parts := make([]string, len(a.Conds))
	for i, c := range a.Conds {
		parts[i] = c.String()
	}
	return strings.Join(parts, " && ")
}

// negated returns -t when t prints with a leading minus sign.
func negated(t Expr) (Expr, bool) {
	switch v := t.(type) {
	case Int:
		if v < 0 {
			return -v, true
		}
	case *MulExpr:
		if len(v.Factors) > 1 {
			if c, ok := v.Factors[0].(Int); ok && c < 0 {
				return Mul(append([]Expr{-c}, v.Factors[1:]...)...), true
			}
		}
	}
	return nil, false
}

// IsArithmetic reports whether e is an integer-valued expression (as opposed
// to a condition).
func IsArithmetic(e Expr) bool {
	switch v := e.(type) {
	case Int, Symbol:
		return true
	case *AddExpr:
		for _, t := range v.Terms {
			if !IsArithmetic(t) {
				return false
			}
		}
		return true
	case *MulExpr:
		for _, f := range v.Factors {
			if !IsArithmetic(f) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsCondition reports whether e is a well-typed boolean expression.
func IsCondition(e Expr) bool {
	switch v := e.(type) {
	case Bool:
		return true
	case *Rel:
		return IsArithmetic(v.Lhs) && IsArithmetic(v.Rhs)
	case *AndExpr:
		for _, c := range v.Conds {
			if !IsCondition(c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
