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

package interp

import (
	"maps"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/symbolic"
)

// Memory is the state a program runs on. Float containers live in Arrays,
// row-major, with scalars stored as one-element arrays. Integer scalars,
// including problem sizes and induction variables, live in Symbols.
type Memory struct {
	Arrays  map[string][]float64
	Symbols symbolic.Env
}

// NewMemory returns empty memory.
func NewMemory() *Memory {
	return &Memory{Arrays: map[string][]float64{}, Symbols: symbolic.Env{}}
}

// Clone returns a deep copy of m.
func (m *Memory) Clone() *Memory {
	out := &Memory{
		Arrays:  make(map[string][]float64, len(m.Arrays)),
		Symbols: maps.Clone(m.Symbols),
	}
	for k, v := range m.Arrays {
		out.Arrays[k] = slices.Clone(v)
	}
	return out
}

// Allocate binds sizes and fills every float container of p with
// pseudo-random values in [-1, 1). The same seed always yields the same
// contents.
func Allocate(p *ir.Program, sizes map[string]int64, seed uint64) (*Memory, error) {
	mem := NewMemory()
	for name, v := range sizes {
		typ, ok := p.Container(name)
		if !ok {
			return nil, errors.Errorf("size %s is not declared by %s", name, p.Name)
		}
		if typ.Kind != ir.Scalar || typ.Elem != ir.Int64 {
			return nil, errors.Errorf("size %s is declared as %s", name, typ)
		}
		mem.Symbols[symbolic.Symbol(name)] = v
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for _, name := range p.Containers() {
		typ, _ := p.Container(name)
		if typ.Kind == ir.Scalar && typ.Elem == ir.Int64 {
			continue
		}
		n, err := elements(typ, mem.Symbols)
		if err != nil {
			return nil, errors.WithMessagef(err, "container %s", name)
		}
		data := make([]float64, n)
		for i := range data {
			data[i] = 2*rng.Float64() - 1
		}
		mem.Arrays[name] = data
	}
	return mem, nil
}

// elements returns the number of elements of a float container.
func elements(typ ir.Type, env symbolic.Env) (int, error) {
	dims, err := shape(typ, env)
	if err != nil {
		return 0, err
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n, nil
}

func shape(typ ir.Type, env symbolic.Env) ([]int, error) {
	dims := make([]int, len(typ.Shape))
	for i, e := range typ.Shape {
		v, err := symbolic.Eval(e, env)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, errors.Errorf("negative extent %s = %d", e, v)
		}
		dims[i] = int(v)
	}
	return dims, nil
}

// Compare returns the largest absolute element difference between a and b
// over the named containers, or over every array of a when names is empty.
func Compare(a, b *Memory, names []string) (float64, error) {
	if len(names) == 0 {
		names = lo.Keys(a.Arrays)
		slices.Sort(names)
	}
	var worst float64
	for _, name := range names {
		x, ok := a.Arrays[name]
		if !ok {
			return 0, errors.Errorf("container %s missing from the first memory", name)
		}
		y, ok := b.Arrays[name]
		if !ok {
			return 0, errors.Errorf("container %s missing from the second memory", name)
		}
		if len(x) != len(y) {
			return 0, errors.Errorf("container %s has %d and %d elements", name, len(x), len(y))
		}
		for i := range x {
			d := math.Abs(x[i] - y[i])
			if math.IsNaN(d) {
				return math.Inf(1), nil
			}
			worst = max(worst, d)
		}
	}
	return worst, nil
}
