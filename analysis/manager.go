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

// Package analysis derives read-only facts about a program tree: parent
// links, loop enumeration and def/use chains. Results are computed lazily
// and cached by a Manager until the next Invalidate; there is no incremental
// update.
package analysis

import (
	"github.com/ajroetker/einsumopt/ir"
)

// Manager caches analyses of one program.
type Manager struct {
	p     *ir.Program
	scope *Scope
	loops []ir.ID
	users *Users

	loopsValid bool
}

// NewManager returns a manager over p with an empty cache.
func NewManager(p *ir.Program) *Manager {
	return &Manager{p: p}
}

// Program returns the analysed program.
func (m *Manager) Program() *ir.Program { return m.p }

// Invalidate drops every cached analysis. Call it after any mutation.
func (m *Manager) Invalidate() {
	m.scope = nil
	m.loops = nil
	m.loopsValid = false
	m.users = nil
}

// Scope returns the parent-link analysis.
func (m *Manager) Scope() (*Scope, error) {
	if m.scope == nil {
		s, err := buildScope(m.p)
		if err != nil {
			return nil, err
		}
		m.scope = s
	}
	return m.scope, nil
}

// Loops returns every loop of the program in post-order: a loop is listed
// after all loops nested in it, siblings in program order.
func (m *Manager) Loops() ([]ir.ID, error) {
	if !m.loopsValid {
		loops, err := collectLoops(m.p)
		if err != nil {
			return nil, err
		}
		m.loops, m.loopsValid = loops, true
	}
	return m.loops, nil
}

// Users returns the def/use analysis.
func (m *Manager) Users() (*Users, error) {
	if m.users == nil {
		u, err := buildUsers(m.p)
		if err != nil {
			return nil, err
		}
		m.users = u
	}
	return m.users, nil
}
