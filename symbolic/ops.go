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

package symbolic

import (
	"slices"
)

// Add returns the canonical sum of its operands.
func Add(terms ...Expr) Expr {
	out := make(poly)
	for _, t := range terms {
		tp, ok := toPoly(t)
		if !ok {
			return &AddExpr{Terms: slices.Clone(terms)}
		}
		out = out.plus(tp)
	}
	return out.expr()
}

// Sub returns the canonical form of a - b.
func Sub(a, b Expr) Expr {
	return Add(a, Neg(b))
}

// Neg returns the canonical form of -a.
func Neg(a Expr) Expr {
	p, ok := toPoly(a)
	if !ok {
		return &MulExpr{Factors: []Expr{Int(-1), a}}
	}
	return p.scale(-1).expr()
}

// Mul returns the canonical product of its operands.
func Mul(factors ...Expr) Expr {
	out := poly{"": 1}
	for _, f := range factors {
		fp, ok := toPoly(f)
		if !ok {
			return &MulExpr{Factors: slices.Clone(factors)}
		}
		out = out.times(fp)
	}
	return out.expr()
}

// Lt returns a < b.
func Lt(a, b Expr) Expr { return &Rel{Op: OpLt, Lhs: Simplify(a), Rhs: Simplify(b)} }

// Le returns a <= b.
func Le(a, b Expr) Expr { return &Rel{Op: OpLe, Lhs: Simplify(a), Rhs: Simplify(b)} }

// Gt returns a > b, spelled b < a.
func Gt(a, b Expr) Expr { return Lt(b, a) }

// Ge returns a >= b, spelled b <= a.
func Ge(a, b Expr) Expr { return Le(b, a) }

// Eq returns a == b.
func Eq(a, b Expr) Expr { return &Rel{Op: OpEq, Lhs: Simplify(a), Rhs: Simplify(b)} }

// Ne returns a != b.
func Ne(a, b Expr) Expr { return &Rel{Op: OpNe, Lhs: Simplify(a), Rhs: Simplify(b)} }

// And returns the conjunction of conds. Nested conjunctions are flattened and
// constant true operands dropped.
func And(conds ...Expr) Expr {
	var flat []Expr
	for _, c := range conds {
		switch v := c.(type) {
		case *AndExpr:
			flat = append(flat, v.Conds...)
		case Bool:
			if !v {
				return Bool(false)
			}
		default:
			flat = append(flat, c)
		}
	}
	switch len(flat) {
	case 0:
		return Bool(true)
	case 1:
		return flat[0]
	default:
		return &AndExpr{Conds: flat}
	}
}

// Simplify returns the canonical form of e.
func Simplify(e Expr) Expr {
	switch v := e.(type) {
	case *Rel:
		return &Rel{Op: v.Op, Lhs: Simplify(v.Lhs), Rhs: Simplify(v.Rhs)}
	case *AndExpr:
		conds := make([]Expr, len(v.Conds))
		for i, c := range v.Conds {
			conds[i] = Simplify(c)
		}
		return And(conds...)
	case Bool:
		return v
	}
	if p, ok := toPoly(e); ok {
		return p.expr()
	}
	return e
}

// Equal reports whether a and b are symbolically equal.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	pa, okA := toPoly(a)
	pb, okB := toPoly(b)
	if okA && okB {
		return pa.equal(pb)
	}
	if okA != okB {
		return false
	}
	switch va := a.(type) {
	case Bool:
		vb, ok := b.(Bool)
		return ok && va == vb
	case *Rel:
		vb, ok := b.(*Rel)
		return ok && va.Op == vb.Op && Equal(va.Lhs, vb.Lhs) && Equal(va.Rhs, vb.Rhs)
	case *AndExpr:
		vb, ok := b.(*AndExpr)
		if !ok || len(va.Conds) != len(vb.Conds) {
			return false
		}
		for i := range va.Conds {
			if !Equal(va.Conds[i], vb.Conds[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Uses reports whether symbol s occurs in e.
func Uses(e Expr, s Symbol) bool {
	found := false
	visit(e, func(x Expr) {
		if sym, ok := x.(Symbol); ok && sym == s {
			found = true
		}
	})
	return found
}

// Symbols returns the distinct symbols occurring in e, sorted by name.
func Symbols(e Expr) []Symbol {
	var out []Symbol
	visit(e, func(x Expr) {
		if sym, ok := x.(Symbol); ok && !slices.Contains(out, sym) {
			out = append(out, sym)
		}
	})
	slices.Sort(out)
	return out
}

func visit(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch v := e.(type) {
	case *AddExpr:
		for _, t := range v.Terms {
			visit(t, fn)
		}
	case *MulExpr:
		for _, f := range v.Factors {
			visit(f, fn)
		}
	case *Rel:
		visit(v.Lhs, fn)
		visit(v.Rhs, fn)
	case *AndExpr:
		for _, c := range v.Conds {
			visit(c, fn)
		}
	}
}

// Subs replaces every occurrence of old in e by repl and re-canonicalises.
func Subs(e Expr, old Symbol, repl Expr) Expr {
	if e == nil || !Uses(e, old) {
		return e
	}
	return Simplify(replace(e, old, repl))
}

func replace(e Expr, old Symbol, repl Expr) Expr {
	switch v := e.(type) {
	case Symbol:
		if v == old {
			return repl
		}
		return v
	case *AddExpr:
		terms := make([]Expr, len(v.Terms))
		for i, t := range v.Terms {
			terms[i] = replace(t, old, repl)
		}
		return &AddExpr{Terms: terms}
	case *MulExpr:
		factors := make([]Expr, len(v.Factors))
		for i, f := range v.Factors {
			factors[i] = replace(f, old, repl)
		}
		return &MulExpr{Factors: factors}
	case *Rel:
		return &Rel{Op: v.Op, Lhs: replace(v.Lhs, old, repl), Rhs: replace(v.Rhs, old, repl)}
	case *AndExpr:
		conds := make([]Expr, len(v.Conds))
		for i, c := range v.Conds {
			conds[i] = replace(c, old, repl)
		}
		return &AndExpr{Conds: conds}
	default:
		return e
	}
}

// Linear splits e into coeff*s + rest, where neither coeff nor rest mention s.
// It fails when e is not arithmetic or s occurs with degree greater than one.
func Linear(e Expr, s Symbol) (coeff, rest Expr, ok bool) {
	p, ok := toPoly(e)
	if !ok {
		return nil, nil, false
	}
	cp, rp := make(poly), make(poly)
	for m, c := range p {
		names := m.names()
		n := 0
		var others []string
		for _, name := range names {
			if name == string(s) {
				n++
			} else {
				others = append(others, name)
			}
		}
		switch n {
		case 0:
			rp.add(m, c)
		case 1:
			cp.add(makeMonomial(others), c)
		default:
			return nil, nil, false
		}
	}
	return cp.expr(), rp.expr(), true
}

// AsInt returns the value of e when it is a constant.
func AsInt(e Expr) (int64, bool) {
	p, ok := toPoly(e)
	if !ok {
		return 0, false
	}
	switch len(p) {
	case 0:
		return 0, true
	case 1:
		c, ok := p[""]
		return c, ok
	default:
		return 0, false
	}
}

// AsSymbol returns the symbol e canonicalises to, if any.
func AsSymbol(e Expr) (Symbol, bool) {
	s, ok := Simplify(e).(Symbol)
	return s, ok
}
