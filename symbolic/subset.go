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

import "strings"

// Subset is the ordered list of index expressions, one per dimension, that
// identifies the element touched by a single access. An empty subset
// addresses a scalar (or, on library memlets, the whole container).
type Subset []Expr

// Uses reports whether any dimension mentions s.
func (s Subset) Uses(sym Symbol) bool {
	for _, e := range s {
		if Uses(e, sym) {
			return true
		}
	}
	return false
}

// Equal reports whether both subsets have the same rank and are dimension-wise
// symbolically equal.
func (s Subset) Equal(o Subset) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !Equal(s[i], o[i]) {
			return false
		}
	}
	return true
}

// Subs substitutes old by repl in every dimension.
func (s Subset) Subs(old Symbol, repl Expr) Subset {
	if s == nil {
		return nil
	}
	out := make(Subset, len(s))
	for i, e := range s {
		out[i] = Subs(e, old, repl)
	}
	return out
}

// Symbols returns the distinct symbols of all dimensions.
func (s Subset) Symbols() []Symbol {
	var out []Symbol
	seen := map[Symbol]bool{}
	for _, e := range s {
		for _, sym := range Symbols(e) {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}

// Clone returns a copy that can be modified independently.
func (s Subset) Clone() Subset {
	if s == nil {
		return nil
	}
	out := make(Subset, len(s))
	copy(out, s)
	return out
}

func (s Subset) String() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Indices builds a subset from symbol names, a shorthand for kernels and tests.
func Indices(names ...string) Subset {
	out := make(Subset, len(names))
	for i, n := range names {
		out[i] = MustParse(n)
	}
	return out
}
