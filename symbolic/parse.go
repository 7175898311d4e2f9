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

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/pkg/errors"
)

// Parse reads an expression written in Go syntax, e.g. "i + 1", "2*N - 1",
// "i < N && j <= M". Only integer literals, identifiers, + - * and the
// comparison operators are accepted.
func Parse(src string) (Expr, error) {
	node, err := parser.ParseExpr(src)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", src)
	}
	e, err := fromAST(node)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", src)
	}
	return Simplify(e), nil
}

// MustParse is like Parse but panics on malformed input. It is meant for
// program literals in kernels and tests.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func fromAST(node ast.Expr) (Expr, error) {
	switch n := node.(type) {
	case *ast.ParenExpr:
		return fromAST(n.X)

	case *ast.BasicLit:
		if n.Kind != token.INT {
			return nil, errors.Errorf("unsupported literal %s", n.Value)
		}
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return Int(v), nil

	case *ast.Ident:
		switch n.Name {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Symbol(n.Name), nil

	case *ast.UnaryExpr:
		x, err := fromAST(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.SUB:
			return Neg(x), nil
		case token.ADD:
			return x, nil
		}
		return nil, errors.Errorf("unsupported unary operator %s", n.Op)

	case *ast.BinaryExpr:
		x, err := fromAST(n.X)
		if err != nil {
			return nil, err
		}
		y, err := fromAST(n.Y)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD:
			return Add(x, y), nil
		case token.SUB:
			return Sub(x, y), nil
		case token.MUL:
			return Mul(x, y), nil
		case token.LSS:
			return Lt(x, y), nil
		case token.LEQ:
			return Le(x, y), nil
		case token.GTR:
			return Gt(x, y), nil
		case token.GEQ:
			return Ge(x, y), nil
		case token.EQL:
			return Eq(x, y), nil
		case token.NEQ:
			return Ne(x, y), nil
		case token.LAND:
			return And(x, y), nil
		}
		return nil, errors.Errorf("unsupported binary operator %s", n.Op)
	}
	return nil, errors.Errorf("unsupported expression %T", node)
}
