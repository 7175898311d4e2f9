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

package analysis

import (
	"fmt"
	"slices"

	"github.com/bits-and-blooms/bitset"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// UseKind distinguishes definitions from uses.
type UseKind int

const (
	Read UseKind = iota
	Write
)

func (k UseKind) String() string {
	if k == Write {
		return "write"
	}
	return "read"
}

// User is one read or write of a symbol or container.
type User struct {
	Kind UseKind
	Name string
	// Element is the control node the access belongs to. Assignments belong
	// to the Sequence holding them, loop headers to the Loop.
	Element ir.ID
	// Entry is the entry index for assignment users, -1 otherwise.
	Entry int
}

func (u User) String() string {
	if u.Entry >= 0 {
		return fmt.Sprintf("%s %s @%s[%d]", u.Kind, u.Name, u.Element, u.Entry)
	}
	return fmt.Sprintf("%s %s @%s", u.Kind, u.Name, u.Element)
}

// Users is the def/use analysis of a program.
type Users struct {
	p       *ir.Program
	users   []User
	byName  map[string][]int
	regions map[ir.ID]*bitset.BitSet
}

func buildUsers(p *ir.Program) (*Users, error) {
	u := &Users{p: p, byName: map[string][]int{}, regions: map[ir.ID]*bitset.BitSet{}}
	stack := []ir.ID{p.Root()}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := p.Node(id)
		if err != nil {
			return nil, err
		}
		u.collect(n)
		children, err := ir.Children(n)
		if err != nil {
			return nil, err
		}
		stack = append(stack, children...)
	}
	return u, nil
}

func (u *Users) add(kind UseKind, name string, element ir.ID, entry int) {
	u.byName[name] = append(u.byName[name], len(u.users))
	u.users = append(u.users, User{Kind: kind, Name: name, Element: element, Entry: entry})
}

func (u *Users) addReads(e symbolic.Expr, element ir.ID, entry int) {
	if e == nil {
		return
	}
	for _, s := range symbolic.Symbols(e) {
		u.add(Read, string(s), element, entry)
	}
}

func (u *Users) collect(n ir.Node) {
	id := n.ID()
	switch v := n.(type) {
	case *ir.Sequence:
		for k, e := range v.Entries {
			e.Assign.Scan(func(s symbolic.Symbol, rhs symbolic.Expr) bool {
				u.add(Write, string(s), id, k)
				u.addReads(rhs, id, k)
				return true
			})
		}
	case *ir.Loop:
		u.add(Write, string(v.Indvar), id, -1)
		u.addReads(v.Init, id, -1)
		u.addReads(v.Cond, id, -1)
		u.addReads(v.Update, id, -1)
	case *ir.IfElse:
		for _, br := range v.Branches {
			u.addReads(br.Cond, id, -1)
		}
	case *ir.While:
		u.addReads(v.Cond, id, -1)
	case *ir.Block:
		for _, a := range v.Graph.Reads() {
			u.add(Read, a.Data, id, -1)
		}
		for _, a := range v.Graph.Writes() {
			u.add(Write, a.Data, id, -1)
		}
		for _, s := range v.Graph.Symbols() {
			u.add(Read, string(s), id, -1)
		}
	}
}

// All returns every user of name.
func (u *Users) All(name string) []User {
	out := make([]User, 0, len(u.byName[name]))
	for _, i := range u.byName[name] {
		out = append(out, u.users[i])
	}
	return out
}

// Region returns the arena indices of the subtree rooted at id.
func (u *Users) Region(id ir.ID) (*bitset.BitSet, error) {
	if r, ok := u.regions[id]; ok {
		return r, nil
	}
	r := bitset.New(uint(u.p.MaxIndex()))
	stack := []ir.ID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := u.p.Node(cur)
		if err != nil {
			return nil, err
		}
		r.Set(uint(cur.Index))
		children, err := ir.Children(n)
		if err != nil {
			return nil, err
		}
		stack = append(stack, children...)
	}
	u.regions[id] = r
	return r, nil
}

func (u *Users) filter(name string, kind UseKind, region ir.ID, inside bool) ([]User, error) {
	r, err := u.Region(region)
	if err != nil {
		return nil, err
	}
	var out []User
	for _, i := range u.byName[name] {
		usr := u.users[i]
		if usr.Kind == kind && r.Test(uint(usr.Element.Index)) == inside {
			out = append(out, usr)
		}
	}
	return out, nil
}

// Reads returns the reads of name inside region.
func (u *Users) Reads(name string, region ir.ID) ([]User, error) {
	return u.filter(name, Read, region, true)
}

// Writes returns the writes of name inside region.
func (u *Users) Writes(name string, region ir.ID) ([]User, error) {
	return u.filter(name, Write, region, true)
}

// ReadsOutside returns the reads of name outside region.
func (u *Users) ReadsOutside(name string, region ir.ID) ([]User, error) {
	return u.filter(name, Read, region, false)
}

// Written returns the sorted names written inside region.
func (u *Users) Written(region ir.ID) ([]string, error) {
	r, err := u.Region(region)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, usr := range u.users {
		if usr.Kind == Write && r.Test(uint(usr.Element.Index)) && !slices.Contains(out, usr.Name) {
			out = append(out, usr.Name)
		}
	}
	slices.Sort(out)
	return out, nil
}
