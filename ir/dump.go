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

package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajroetker/einsumopt/symbolic"
)

// DumpOption configures Dump.
type DumpOption func(*dumper)

// WithIDs annotates every control node with its ID.
func WithIDs() DumpOption {
	return func(d *dumper) { d.ids = true }
}

type dumper struct {
	p   *Program
	sb  strings.Builder
	ids bool
}

// Dump renders p as indented text. The output is deterministic and is used
// both for debugging and for comparing programs in tests.
func Dump(p *Program, opts ...DumpOption) string {
	d := &dumper{p: p}
	for _, opt := range opts {
		opt(d)
	}
	fmt.Fprintf(&d.sb, "program %s(%s)\n", p.Name, strings.Join(p.Arguments, ", "))
	for _, name := range p.order {
		if !isArgument(p, name) {
			fmt.Fprintf(&d.sb, "var %s %s\n", name, p.containers[name])
		}
	}
	d.node(p.root, 0)
	return d.sb.String()
}

func isArgument(p *Program, name string) bool {
	for _, a := range p.Arguments {
		if a == name {
			return true
		}
	}
	return false
}

func (d *dumper) line(depth int, id ID, format string, args ...any) {
	d.sb.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(&d.sb, format, args...)
	if d.ids {
		d.sb.WriteString("  #" + id.String())
	}
	d.sb.WriteByte('\n')
}

func (d *dumper) node(id ID, depth int) {
	n, err := d.p.Node(id)
	if err != nil {
		d.line(depth, id, "<%v>", err)
		return
	}
	switch v := n.(type) {
	case *Sequence:
		if id != d.p.root {
			d.line(depth, id, "seq")
			depth++
		}
		for _, e := range v.Entries {
			if e.Assign.Len() > 0 {
				d.line(depth, id, "let %s", strings.Trim(e.Assign.String(), "{}"))
			}
			d.node(e.Node, depth)
		}
	case *Loop:
		d.line(depth, id, "%s %s = %s; %s; %s = %s", v.Schedule, v.Indvar, v.Init, v.Cond, v.Indvar, v.Update)
		d.body(v.Body, depth+1)
	case *IfElse:
		for i, br := range v.Branches {
			kw := "if"
			if i > 0 {
				kw = "elif"
			}
			d.line(depth, id, "%s %s", kw, br.Cond)
			d.body(br.Body, depth+1)
		}
	case *While:
		d.line(depth, id, "while %s", v.Cond)
		d.body(v.Body, depth+1)
	case *Block:
		d.line(depth, id, "block")
		d.graph(v.Graph, depth+1)
	case *Break:
		d.line(depth, id, "break")
	case *Continue:
		d.line(depth, id, "continue")
	case *Return:
		d.line(depth, id, "return")
	default:
		d.line(depth, id, "<unknown %T>", n)
	}
}

// body prints the entries of a loop or branch body without a "seq" header.
func (d *dumper) body(id ID, depth int) {
	seq, err := Get[*Sequence](d.p, id)
	if err != nil {
		d.line(depth, id, "<%v>", err)
		return
	}
	for _, e := range seq.Entries {
		if e.Assign.Len() > 0 {
			d.line(depth, id, "let %s", strings.Trim(e.Assign.String(), "{}"))
		}
		d.node(e.Node, depth)
	}
}

func (d *dumper) graph(g *Graph, depth int) {
	order, err := g.TopoOrder()
	if err != nil {
		d.sb.WriteString(strings.Repeat("  ", depth) + "<" + err.Error() + ">\n")
		return
	}
	indent := strings.Repeat("  ", depth)
	for _, n := range order {
		for _, s := range FormatDataNode(g, n) {
			d.sb.WriteString(indent + s + "\n")
		}
	}
}

// FormatDataNode renders the statements a dataflow node performs, one per
// output memlet. Access nodes render as nothing.
func FormatDataNode(g *Graph, n DataNode) []string {
	switch v := n.(type) {
	case *Tasklet:
		args := make([]string, 0, len(v.Inputs))
		for _, conn := range v.Inputs {
			args = append(args, formatInput(g, v, conn))
		}
		if v.Op == OpConst {
			args = append(args, strconv.FormatFloat(v.Value, 'g', -1, 64))
		}
		var out []string
		for _, m := range g.OutEdges(v) {
			out = append(out, fmt.Sprintf("%s = %s(%s)", formatAccess(g.Container(m), m), v.Op, strings.Join(args, ", ")))
		}
		return out
	case *EinsumNode:
		maps := make([]string, len(v.Maps))
		for i, m := range v.Maps {
			maps[i] = fmt.Sprintf("%s: %s..%s", m.Indvar, m.Init, m.Bound)
		}
		outName, ins := g.EinsumOperands(v)
		factors := make([]string, len(ins))
		for k, name := range ins {
			factors[k] = name + subsetSuffix(v.InIndices[k])
		}
		return []string{fmt.Sprintf("einsum(%s) %s%s += %s",
			strings.Join(maps, ", "), outName, subsetSuffix(v.OutIndices), strings.Join(factors, " * "))}
	case *LibraryNode:
		if v.BLAS != nil {
			return []string{v.BLAS.String()}
		}
		return []string{"library " + strconv.Quote(v.Code)}
	default:
		return nil
	}
}

func formatInput(g *Graph, t *Tasklet, conn string) string {
	for _, m := range g.InEdges(t) {
		if m.DstConn == conn {
			return formatAccess(g.Container(m), m)
		}
	}
	return "?" + conn
}

func formatAccess(data string, m *Memlet) string {
	return data + subsetSuffix(m.Subset)
}

func subsetSuffix(s symbolic.Subset) string {
	str := s.String()
	if str == "[]" {
		return ""
	}
	return str
}
