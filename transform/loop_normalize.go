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
	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// LoopNormalize rewrites a loop condition into the canonical "indvar < bound"
// form. Conditions a < b and a <= b whose difference is linear in the
// induction variable with coefficient one are accepted.
type LoopNormalize struct {
	Loop ir.ID
}

func (t *LoopNormalize) Name() string { return NameLoopNormalize }

func (t *LoopNormalize) Record() Record {
	return Record{Type: t.Name(), Loop: idRef(t.Loop)}
}

func (t *LoopNormalize) CanBeApplied(ctx *Context) bool {
	loop, err := ir.Get[*ir.Loop](ctx.Program(), t.Loop)
	if err != nil {
		return false
	}
	_, ok := canonicalCond(loop)
	return ok
}

func (t *LoopNormalize) Apply(ctx *Context) error {
	loop, err := ir.Get[*ir.Loop](ctx.Program(), t.Loop)
	if err != nil {
		return err
	}
	cond, ok := canonicalCond(loop)
	if !ok {
		return ErrNotApplicable
	}
	loop.Cond = cond
	ctx.Analyses.Invalidate()
	return nil
}

// canonicalCond returns the canonical form of the loop condition, failing
// when it already is canonical or cannot be brought into that form.
func canonicalCond(loop *ir.Loop) (symbolic.Expr, bool) {
	if _, ok := loop.Bound(); ok {
		return nil, false
	}
	rel, ok := loop.Cond.(*symbolic.Rel)
	if !ok || (rel.Op != symbolic.OpLt && rel.Op != symbolic.OpLe) {
		return nil, false
	}
	coeff, rest, ok := symbolic.Linear(symbolic.Sub(rel.Lhs, rel.Rhs), loop.Indvar)
	if !ok {
		return nil, false
	}
	if c, ok := symbolic.AsInt(coeff); !ok || c != 1 {
		return nil, false
	}
	bound := symbolic.Neg(rest)
	if rel.Op == symbolic.OpLe {
		bound = symbolic.Add(bound, symbolic.Int(1))
	}
	return symbolic.Lt(loop.Indvar, bound), true
}
