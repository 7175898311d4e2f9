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

// Package transform holds the rewrites applied by the optimization pipeline.
//
// Every rewrite is a small value naming the elements it targets. CanBeApplied
// is a pure legality test; Apply mutates the program through the context's
// builder, invalidates the analyses and returns ErrNotApplicable when the
// rewrite is not legal. Record serializes the rewrite so that a session can be
// replayed on a fresh copy of the input program.
package transform

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ajroetker/einsumopt/analysis"
	"github.com/ajroetker/einsumopt/ir"
)

// ErrNotApplicable is returned by Apply when the rewrite's legality test fails.
var ErrNotApplicable = errors.New("transformation not applicable")

// Context is what a rewrite sees of the program: the builder to mutate it,
// the cached analyses and a logger.
type Context struct {
	Builder  *ir.Builder
	Analyses *analysis.Manager
	Logger   zerolog.Logger

	// BLASImpl is the implementation tag given to lowered BLAS calls.
	BLASImpl ir.BLASImpl
}

// NewContext returns a context editing p in place.
func NewContext(p *ir.Program) *Context {
	return &Context{
		Builder:  ir.Edit(p),
		Analyses: analysis.NewManager(p),
		Logger:   zerolog.Nop(),
		BLASImpl: ir.ImplCBLAS,
	}
}

// Program returns the program being rewritten.
func (c *Context) Program() *ir.Program { return c.Builder.Program() }

// Transformation is a single rewrite of the program.
type Transformation interface {
	// Name is the record type tag, e.g. "LoopDistribute".
	Name() string

	// CanBeApplied reports whether Apply would succeed. It never mutates the
	// program.
	CanBeApplied(ctx *Context) bool

	// Apply performs the rewrite.
	Apply(ctx *Context) error

	// Record describes the rewrite for replay.
	Record() Record
}

// Type tags of the records.
const (
	NameLoopNormalize          = "LoopNormalize"
	NameLoopDistribute         = "LoopDistribute"
	NameMyLoopDistribute       = "MyLoopDistribute"
	NameLoopConsumeAssignments = "LoopConsumeAssignments"
	NameBlockFusion            = "BlockFusion"
	NameEinsumLift             = "EinsumLift"
	NameEinsumExpand           = "EinsumExpand"
	NameEinsum2BLAS            = "Einsum2BLAS"
)

// Record is the serialized form of an applied rewrite.
type Record struct {
	Type         string  `json:"transformation_type"`
	Loop         *ir.ID  `json:"loop_element_id,omitempty"`
	Loops        []ir.ID `json:"loop_element_ids,omitempty"`
	Block        *ir.ID  `json:"block_element_id,omitempty"`
	DataflowNode *int64  `json:"dataflow_node_id,omitempty"`
	Sequence     *ir.ID  `json:"sequence_element_id,omitempty"`
}

func (r Record) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return r.Type
	}
	return string(b)
}

// Decode rebuilds the rewrite described by rec. Every referenced element must
// exist in ctx's program with the expected kind; a stale reference yields an
// ir.LookupError.
func Decode(ctx *Context, rec Record) (Transformation, error) {
	p := ctx.Program()
	loop := func() (ir.ID, error) {
		if rec.Loop == nil {
			return ir.ID{}, errors.Errorf("%s record without loop_element_id", rec.Type)
		}
		_, err := ir.Get[*ir.Loop](p, *rec.Loop)
		return *rec.Loop, err
	}
	block := func() (ir.ID, error) {
		if rec.Block == nil {
			return ir.ID{}, errors.Errorf("%s record without block_element_id", rec.Type)
		}
		_, err := ir.Get[*ir.Block](p, *rec.Block)
		return *rec.Block, err
	}
	node := func() (int64, error) {
		if rec.DataflowNode == nil {
			return 0, errors.Errorf("%s record without dataflow_node_id", rec.Type)
		}
		return *rec.DataflowNode, nil
	}

	switch rec.Type {
	case NameLoopNormalize, NameLoopDistribute, NameMyLoopDistribute, NameLoopConsumeAssignments:
		id, err := loop()
		if err != nil {
			return nil, err
		}
		switch rec.Type {
		case NameLoopNormalize:
			return &LoopNormalize{Loop: id}, nil
		case NameLoopDistribute:
			return &LoopDistribute{Loop: id}, nil
		case NameMyLoopDistribute:
			return &MyLoopDistribute{Loop: id}, nil
		default:
			return &LoopConsumeAssignments{Loop: id}, nil
		}

	case NameBlockFusion:
		if rec.Sequence == nil {
			return nil, errors.Errorf("%s record without sequence_element_id", rec.Type)
		}
		if _, err := ir.Get[*ir.Sequence](p, *rec.Sequence); err != nil {
			return nil, err
		}
		return &BlockFusion{Sequence: *rec.Sequence}, nil

	case NameEinsumLift:
		for _, id := range rec.Loops {
			if _, err := ir.Get[*ir.Loop](p, id); err != nil {
				return nil, err
			}
		}
		blk, err := block()
		if err != nil {
			return nil, err
		}
		return &EinsumLift{Loops: rec.Loops, Block: blk}, nil

	case NameEinsumExpand:
		id, err := loop()
		if err != nil {
			return nil, err
		}
		blk, err := block()
		if err != nil {
			return nil, err
		}
		n, err := node()
		if err != nil {
			return nil, err
		}
		return &EinsumExpand{Loop: id, Block: blk, Node: n}, nil

	case NameEinsum2BLAS:
		blk, err := block()
		if err != nil {
			return nil, err
		}
		n, err := node()
		if err != nil {
			return nil, err
		}
		return &Einsum2BLAS{Block: blk, Node: n, Impl: ctx.BLASImpl}, nil
	}
	return nil, errors.Errorf("unknown transformation type %q", rec.Type)
}

// Apply applies t and logs the outcome.
func Apply(ctx *Context, t Transformation) error {
	if err := t.Apply(ctx); err != nil {
		return errors.WithMessagef(err, "apply %s", t.Name())
	}
	ctx.Logger.Debug().Str("transformation", t.Name()).Str("record", t.Record().String()).Msg("applied")
	return nil
}

func idRef(id ir.ID) *ir.ID { return &id }
