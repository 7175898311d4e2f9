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

import "github.com/pkg/errors"

// Env binds symbols to concrete values.
type Env map[Symbol]int64

// Eval evaluates e under env. Conditions evaluate to 1 (true) or 0 (false).
func Eval(e Expr, env Env) (int64, error) {
	switch v := e.(type) {
	case Int:
		return int64(v), nil
	case Bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case Symbol:
		val, ok := env[v]
		if !ok {
			return 0, errors.Errorf("unbound symbol %s", v)
		}
		return val, nil
	case *AddExpr:
		var sum int64
		for _, t := range v.Terms {
			x, err := Eval(t, env)
			if err != nil {
				return 0, err
			}
			sum += x
		}
		return sum, nil
	case *MulExpr:
		prod := int64(1)
		for _, f := range v.Factors {
			x, err := Eval(f, env)
			if err != nil {
				return 0, err
			}
			prod *= x
		}
		return prod, nil
	case *Rel:
		l, err := Eval(v.Lhs, env)
		if err != nil {
			return 0, err
		}
		r, err := Eval(v.Rhs, env)
		if err != nil {
			return 0, err
		}
		var holds bool
		switch v.Op {
		case OpLt:
			holds = l < r
		case OpLe:
			holds = l <= r
		case OpEq:
			holds = l == r
		case OpNe:
			holds = l != r
		default:
			return 0, errors.Errorf("unknown relation %v", v.Op)
		}
		if holds {
			return 1, nil
		}
		return 0, nil
	case *AndExpr:
		for _, c := range v.Conds {
			x, err := Eval(c, env)
			if err != nil {
				return 0, err
			}
			if x == 0 {
				return 0, nil
			}
		}
		return 1, nil
	}
	return 0, errors.Errorf("cannot evaluate %T", e)
}

// Holds evaluates a condition.
func Holds(cond Expr, env Env) (bool, error) {
	v, err := Eval(cond, env)
	return v != 0, err
}
