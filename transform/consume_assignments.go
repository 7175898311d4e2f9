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
	"slices"

	"github.com/ajroetker/einsumopt/analysis"
	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// LoopConsumeAssignments folds secondary induction variables into the loop's
// own. A symbol s that starts at base before the loop and is bumped by the
// loop step exactly once per iteration always equals indvar + base - init
// before its bump, so its assignments can be removed and its uses replaced by
// that expression.
type LoopConsumeAssignments struct {
	Loop ir.ID
}

func (t *LoopConsumeAssignments) Name() string { return NameLoopConsumeAssignments }

func (t *LoopConsumeAssignments) Record() Record {
	return Record{Type: t.Name(), Loop: idRef(t.Loop)}
}

// consumable is an accepted secondary induction variable.
type consumable struct {
	sym symbolic.Symbol
	// entry is the body entry whose assignments bump sym.
	entry int
	// baseEntry is the entry of the enclosing sequence that assigns base.
	baseEntry int
	base      symbolic.Expr
}

func (t *LoopConsumeAssignments) CanBeApplied(ctx *Context) bool {
	found, err := t.candidates(ctx)
	return err == nil && len(found) > 0
}

func (t *LoopConsumeAssignments) candidates(ctx *Context) ([]consumable, error) {
	p := ctx.Program()
	loop, body, ok := loopAndBody(p, t.Loop)
	if !ok {
		return nil, nil
	}
	step, ok := loop.Step()
	if !ok {
		return nil, nil
	}
	if v, ok := symbolic.AsInt(step); ok && v == 0 {
		return nil, nil
	}
	pos, ok := locate(ctx, t.Loop)
	if !ok {
		return nil, nil
	}
	users, err := ctx.Analyses.Users()
	if err != nil {
		return nil, err
	}
	written, err := users.Written(t.Loop)
	if err != nil {
		return nil, err
	}

	var out []consumable
	for k, e := range body.Entries {
		e.Assign.Scan(func(s symbolic.Symbol, rhs symbolic.Expr) bool {
			if s == loop.Indvar || !symbolic.Equal(symbolic.Sub(rhs, s), step) {
				return true
			}
			if c, ok := t.accept(users, pos, loop, body.ID(), k, s, step, written); ok {
				out = append(out, c)
			}
			return true
		})
	}
	return out, nil
}

func (t *LoopConsumeAssignments) accept(users *analysis.Users, pos position, loop *ir.Loop, bodyID ir.ID, k int, s symbolic.Symbol, step symbolic.Expr, written []string) (consumable, bool) {
	// The bump is the only write inside the loop.
	inside, err := users.Writes(string(s), t.Loop)
	if err != nil || len(inside) != 1 || inside[0].Element != bodyID || inside[0].Entry != k {
		return consumable{}, false
	}
	if outside, err := users.ReadsOutside(string(s), t.Loop); err != nil || len(outside) > 0 {
		return consumable{}, false
	}
	if symbolic.Uses(loop.Init, s) || symbolic.Uses(loop.Update, s) {
		return consumable{}, false
	}

	// The base is the closest assignment in front of the loop.
	c := consumable{sym: s, entry: k, baseEntry: -1}
	for j := pos.index; j >= 0; j-- {
		if rhs, ok := pos.seq.Entries[j].Assign.Get(s); ok {
			c.base, c.baseEntry = rhs, j
			break
		}
	}
	if c.baseEntry < 0 {
		return consumable{}, false
	}
	// Nothing between the base assignment and the loop may write s, nor any
	// symbol the base reads.
	if writtenBetween(users, pos, string(s), c.baseEntry+1, c.baseEntry) {
		return consumable{}, false
	}
	for _, d := range symbolic.Symbols(c.base) {
		from := c.baseEntry
		if d == s {
			from++
		}
		if writtenBetween(users, pos, string(d), from, c.baseEntry) {
			return consumable{}, false
		}
	}

	var deps []symbolic.Symbol
	deps = append(deps, symbolic.Symbols(c.base)...)
	deps = append(deps, symbolic.Symbols(loop.Init)...)
	deps = append(deps, symbolic.Symbols(step)...)
	for _, d := range deps {
		if slices.Contains(written, string(d)) {
			return consumable{}, false
		}
	}
	return c, true
}

// writtenBetween reports whether name is written before the loop at pos
// starts: by the assignments of entries assignFrom..pos.index of the
// enclosing sequence, or inside the nodes of entries nodeFrom..pos.index-1.
func writtenBetween(users *analysis.Users, pos position, name string, assignFrom, nodeFrom int) bool {
	for _, w := range users.All(name) {
		if w.Kind != analysis.Write {
			continue
		}
		if w.Element == pos.seqID {
			if w.Entry >= assignFrom && w.Entry <= pos.index {
				return true
			}
			continue
		}
		for j := nodeFrom; j < pos.index; j++ {
			region, err := users.Region(pos.seq.Entries[j].Node)
			if err != nil || region.Test(uint(w.Element.Index)) {
				return true
			}
		}
	}
	return false
}

func (t *LoopConsumeAssignments) Apply(ctx *Context) error {
	found, err := t.candidates(ctx)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return ErrNotApplicable
	}
	p := ctx.Program()
	loop, body, _ := loopAndBody(p, t.Loop)
	pos, _ := locate(ctx, t.Loop)
	step, _ := loop.Step()

	for _, c := range found {
		pos.seq.Entries[c.baseEntry].Assign.Delete(c.sym)
		body.Entries[c.entry].Assign.Delete(c.sym)

		before := symbolic.Sub(symbolic.Add(loop.Indvar, c.base), loop.Init)
		after := symbolic.Add(before, step)
		for j, e := range body.Entries {
			// Assignments of an entry run together, before its node.
			if j <= c.entry {
				e.Assign.Subs(c.sym, before)
			} else {
				e.Assign.Subs(c.sym, after)
			}
			repl := after
			if j < c.entry {
				repl = before
			}
			if err := ctx.Builder.Subs(e.Node, c.sym, repl); err != nil {
				return err
			}
		}
		loop.Cond = symbolic.Subs(loop.Cond, c.sym, before)
	}
	ctx.Analyses.Invalidate()
	return nil
}
