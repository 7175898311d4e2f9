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

// StructuralError reports a tree that contains a node kind or shape the
// caller cannot classify. It is fatal.
type StructuralError struct {
	Node   ID
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Node.IsZero() {
		return "structural error: " + e.Reason
	}
	return fmt.Sprintf("structural error at node %s: %s", e.Node, e.Reason)
}

// LookupError reports an ID that no longer names a live node, typically a
// replayed record taken against a different program state.
type LookupError struct {
	ID ID
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("node %s not found", e.ID)
}

// InvariantViolation reports a failed post-mutation consistency check.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Reason
}

// Structural returns a StructuralError with a stack trace.
func Structural(id ID, format string, args ...any) error {
	return errors.WithStack(&StructuralError{Node: id, Reason: fmt.Sprintf(format, args...)})
}

// Invariant returns an InvariantViolation with a stack trace.
func Invariant(format string, args ...any) error {
	return errors.WithStack(&InvariantViolation{Reason: fmt.Sprintf(format, args...)})
}

// IsFatal reports whether err carries one of the error kinds that must abort
// a rewrite session.
func IsFatal(err error) bool {
	var se *StructuralError
	var le *LookupError
	var iv *InvariantViolation
	return errors.As(err, &se) || errors.As(err, &le) || errors.As(err, &iv)
}
