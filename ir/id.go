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

	"github.com/pkg/errors"
)

// ID is a stable, generation-checked handle to a control node. The zero ID
// never names a node: generations start at 1.
type ID struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether id is the zero handle.
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) String() string { return fmt.Sprintf("%d.%d", id.Index, id.Gen) }

// MarshalText encodes id as "<index>.<gen>".
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText decodes the form produced by MarshalText.
func (id *ID) UnmarshalText(b []byte) error {
	var idx, gen uint32
	n, err := fmt.Sscanf(string(b), "%d.%d", &idx, &gen)
	if err != nil || n != 2 {
		return errors.Errorf("malformed node id %q", b)
	}
	id.Index, id.Gen = idx, gen
	return nil
}

type slot struct {
	node Node
	gen  uint32
}

// arena stores control nodes. Freed slots are reused LIFO with a bumped
// generation, so allocation order alone determines every ID.
type arena struct {
	slots []slot
	free  []uint32
}

func (a *arena) alloc() ID {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		return ID{Index: idx, Gen: a.slots[idx].gen}
	}
	a.slots = append(a.slots, slot{gen: 1})
	return ID{Index: uint32(len(a.slots) - 1), Gen: 1}
}

func (a *arena) set(id ID, n Node) {
	a.slots[id.Index].node = n
}

func (a *arena) get(id ID) (Node, error) {
	if int(id.Index) >= len(a.slots) {
		return nil, errors.WithStack(&LookupError{ID: id})
	}
	s := a.slots[id.Index]
	if s.gen != id.Gen || s.node == nil {
		return nil, errors.WithStack(&LookupError{ID: id})
	}
	return s.node, nil
}

func (a *arena) release(id ID) {
	s := &a.slots[id.Index]
	if s.gen != id.Gen || s.node == nil {
		return
	}
	s.node = nil
	s.gen++
	a.free = append(a.free, id.Index)
}

// size is the number of slots ever allocated; an upper bound for Index.
func (a *arena) size() int { return len(a.slots) }
