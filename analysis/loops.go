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
	"slices"

	"github.com/ajroetker/einsumopt/ir"
)

func collectLoops(p *ir.Program) ([]ir.ID, error) {
	type frame struct {
		id       ir.ID
		expanded bool
	}
	var loops []ir.ID
	stack := []frame{{id: p.Root()}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := p.Node(top.id)
		if err != nil {
			return nil, err
		}
		if top.expanded {
			if _, ok := n.(*ir.Loop); ok {
				loops = append(loops, top.id)
			}
			continue
		}
		children, err := ir.Children(n)
		if err != nil {
			return nil, err
		}
		stack = append(stack, frame{id: top.id, expanded: true})
		for _, c := range slices.Backward(children) {
			stack = append(stack, frame{id: c})
		}
	}
	return loops, nil
}
