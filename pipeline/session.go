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

package pipeline

import (
	"io"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/ajroetker/einsumopt/ir"
	"github.com/ajroetker/einsumopt/transform"
)

// Session is the replayable log of one pipeline run.
type Session struct {
	ID       ulid.ULID          `json:"id"`
	Program  string             `json:"program"`
	BLASImpl ir.BLASImpl        `json:"blas_impl,omitempty"`
	Records  []transform.Record `json:"records"`
}

// Session captures the rewrites of the last Run under a fresh ID.
func (pl *Pipeline) Session(program string) *Session {
	return &Session{
		ID:       ulid.Make(),
		Program:  program,
		BLASImpl: pl.config.BLASImpl,
		Records:  pl.Records(),
	}
}

// WriteSession encodes s as indented JSON.
func WriteSession(w io.Writer, s *Session) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(s), "encode session")
}

// ReadSession decodes a session written by WriteSession.
func ReadSession(r io.Reader) (*Session, error) {
	var s Session
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return &s, nil
}

// Replay re-applies the records of s, in order, to the program of ctx,
// which must be a fresh copy of the program the session was recorded on.
//
// A record naming a node that does not exist yields an ir.LookupError; a
// record whose rewrite is not legal yields an ir.InvariantViolation. The
// program is validated after every record.
func Replay(ctx *transform.Context, s *Session) error {
	p := ctx.Program()
	if s.Program != "" && s.Program != p.Name {
		return errors.Errorf("session %s was recorded on %q, not %q", s.ID, s.Program, p.Name)
	}
	if s.BLASImpl != "" {
		ctx.BLASImpl = s.BLASImpl
	}
	for i, rec := range s.Records {
		t, err := transform.Decode(ctx, rec)
		if err != nil {
			return errors.WithMessagef(err, "record %d", i)
		}
		if !t.CanBeApplied(ctx) {
			return ir.Invariant("record %d is not applicable: %s", i, rec)
		}
		if err := transform.Apply(ctx, t); err != nil {
			return errors.WithMessagef(err, "record %d", i)
		}
		if err := ir.Validate(p); err != nil {
			return errors.WithMessagef(err, "record %d", i)
		}
	}
	ctx.Logger.Info().Str("session", s.ID.String()).Int("records", len(s.Records)).Msg("replayed")
	return nil
}
