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

// Package match finds rewrite candidates in a program tree. Every query is
// read-only and visits each node at most once, using an explicit worklist
// rather than recursion so deeply generated kernels cannot exhaust the stack.
package match

import (
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"

	"github.com/ajroetker/einsumopt/ir"
)

// VisitFunc is called for every node popped from the worklist. Returning
// descend=false keeps the node's children out of the worklist.
type VisitFunc func(n ir.Node) (descend bool, err error)

// Walk visits the subtree rooted at root breadth-first. A child ID that does
// not resolve, or a node kind outside the closed set, is a StructuralError.
func Walk(p *ir.Program, root ir.ID, visit VisitFunc) error {
	seen := bitset.New(uint(p.MaxIndex()))
	queue := []ir.ID{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen.Test(uint(id.Index)) {
			continue
		}
		seen.Set(uint(id.Index))

		n, err := p.Node(id)
		if err != nil {
			var le *ir.LookupError
			if errors.As(err, &le) {
				return ir.Structural(id, "dangling child reference")
			}
			return err
		}
		descend, err := visit(n)
		if err != nil {
			return err
		}
		if !descend {
			continue
		}
		children, err := ir.Children(n)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}
	return nil
}

// PostOrderSequences lists the Sequences of the subtree rooted at root so
// that every Sequence comes after all Sequences nested in it.
func PostOrderSequences(p *ir.Program, root ir.ID) ([]ir.ID, error) {
	var order []ir.ID
	err := Walk(p, root, func(n ir.Node) (bool, error) {
		if _, ok := n.(*ir.Sequence); ok {
			order = append(order, n.ID())
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	// Breadth-first order lists every parent before its descendants; the
	// reverse therefore lists descendants first.
	slices.Reverse(order)
	return order, nil
}
