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
	"strings"

	"github.com/tidwall/btree"

	"github.com/ajroetker/einsumopt/symbolic"
)

// Assignments binds symbols to expressions. All right-hand sides are
// evaluated against the state before any binding takes effect. Iteration is
// ordered by symbol name. A nil *Assignments is empty.
type Assignments struct {
	m btree.Map[symbolic.Symbol, symbolic.Expr]
}

// NewAssignments returns an empty map.
func NewAssignments() *Assignments { return &Assignments{} }

// Assign parses a symbol-to-source map, e.g. {"idx": "idx + 1"}. It panics on
// malformed expressions and is intended for program literals.
func Assign(src map[string]string) *Assignments {
	a := NewAssignments()
	for k, v := range src {
		a.Set(symbolic.Symbol(k), symbolic.MustParse(v))
	}
	return a
}

// Set binds s to e.
func (a *Assignments) Set(s symbolic.Symbol, e symbolic.Expr) {
	a.m.Set(s, e)
}

// Get returns the expression bound to s.
func (a *Assignments) Get(s symbolic.Symbol) (symbolic.Expr, bool) {
	if a == nil {
		return nil, false
	}
	return a.m.Get(s)
}

// Delete unbinds s and reports whether it was bound.
func (a *Assignments) Delete(s symbolic.Symbol) bool {
	if a == nil {
		return false
	}
	_, ok := a.m.Delete(s)
	return ok
}

func (a *Assignments) Len() int {
	if a == nil {
		return 0
	}
	return a.m.Len()
}

// Scan calls fn for every binding in symbol order until fn returns false.
func (a *Assignments) Scan(fn func(s symbolic.Symbol, e symbolic.Expr) bool) {
	if a == nil {
		return
	}
	a.m.Scan(fn)
}

// Symbols returns the bound symbols in order.
func (a *Assignments) Symbols() []symbolic.Symbol {
	if a == nil {
		return nil
	}
	return a.m.Keys()
}

// Clone returns an independent copy. Cloning nil yields an empty map.
func (a *Assignments) Clone() *Assignments {
	out := NewAssignments()
	a.Scan(func(s symbolic.Symbol, e symbolic.Expr) bool {
		out.Set(s, e)
		return true
	})
	return out
}

// Subs substitutes old by repl in every right-hand side.
func (a *Assignments) Subs(old symbolic.Symbol, repl symbolic.Expr) {
	if a == nil {
		return
	}
	for _, s := range a.m.Keys() {
		e, _ := a.m.Get(s)
		a.m.Set(s, symbolic.Subs(e, old, repl))
	}
}

// Uses reports whether any right-hand side mentions s.
func (a *Assignments) Uses(s symbolic.Symbol) bool {
	found := false
	a.Scan(func(_ symbolic.Symbol, e symbolic.Expr) bool {
		found = symbolic.Uses(e, s)
		return !found
	})
	return found
}

func (a *Assignments) String() string {
	var parts []string
	a.Scan(func(s symbolic.Symbol, e symbolic.Expr) bool {
		parts = append(parts, string(s)+" = "+e.String())
		return true
	})
	return "{" + strings.Join(parts, ", ") + "}"
}
