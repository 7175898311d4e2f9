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
	"strings"
)

// monomial is a product of symbols, stored as their sorted names joined by
// "*". The empty monomial is the constant term.
type monomial string

func (m monomial) names() []string {
	if m == "" {
		return nil
	}
	return strings.Split(string(m), "*")
}

func makeMonomial(names []string) monomial {
	slices.Sort(names)
	return monomial(strings.Join(names, "*"))
}

func (m monomial) times(o monomial) monomial {
	if m == "" {
		return o
	}
	if o == "" {
		return m
	}
	return makeMonomial(append(m.names(), o.names()...))
}

// poly is the normal form of an arithmetic expression: monomial -> coefficient.
// Zero coefficients are never stored.
type poly map[monomial]int64

func (p poly) add(m monomial, c int64) {
	if c == 0 {
		return
	}
	if v := p[m] + c; v != 0 {
		p[m] = v
	} else {
		delete(p, m)
	}
}

func (p poly) plus(o poly) poly {
	out := make(poly, len(p)+len(o))
	for m, c := range p {
		out.add(m, c)
	}
	for m, c := range o {
		out.add(m, c)
	}
	return out
}

func (p poly) times(o poly) poly {
	out := make(poly)
	for m1, c1 := range p {
		for m2, c2 := range o {
			out.add(m1.times(m2), c1*c2)
		}
	}
	return out
}

func (p poly) scale(c int64) poly {
	out := make(poly, len(p))
	for m, v := range p {
		out.add(m, v*c)
	}
	return out
}

func (p poly) equal(o poly) bool {
	if len(p) != len(o) {
		return false
	}
	for m, c := range p {
		if o[m] != c {
			return false
		}
	}
	return true
}

// toPoly expands an arithmetic expression. It fails on conditions.
func toPoly(e Expr) (poly, bool) {
	switch v := e.(type) {
	case Int:
		p := make(poly, 1)
		p.add("", int64(v))
		return p, true
	case Symbol:
		return poly{monomial(v): 1}, true
	case *AddExpr:
		out := make(poly)
		for _, t := range v.Terms {
			tp, ok := toPoly(t)
			if !ok {
				return nil, false
			}
			out = out.plus(tp)
		}
		return out, true
	case *MulExpr:
		out := poly{"": 1}
		for _, f := range v.Factors {
			fp, ok := toPoly(f)
			if !ok {
				return nil, false
			}
			out = out.times(fp)
		}
		return out, true
	default:
		return nil, false
	}
}

// expr rebuilds the canonical expression: monomials sorted by name with the
// constant term last.
func (p poly) expr() Expr {
	if len(p) == 0 {
		return Int(0)
	}
	keys := make([]monomial, 0, len(p))
	for m := range p {
		keys = append(keys, m)
	}
	slices.SortFunc(keys, func(a, b monomial) int {
		switch {
		case a == b:
			return 0
		case a == "":
			return 1
		case b == "":
			return -1
		default:
			return strings.Compare(string(a), string(b))
		}
	})
	terms := make([]Expr, 0, len(keys))
	for _, m := range keys {
		terms = append(terms, term(m, p[m]))
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return &AddExpr{Terms: terms}
}

func term(m monomial, c int64) Expr {
	names := m.names()
	if len(names) == 0 {
		return Int(c)
	}
	if len(names) == 1 && c == 1 {
		return Symbol(names[0])
	}
	factors := make([]Expr, 0, len(names)+1)
	if c != 1 {
		factors = append(factors, Int(c))
	}
	for _, n := range names {
		factors = append(factors, Symbol(n))
	}
	return &MulExpr{Factors: factors}
}
