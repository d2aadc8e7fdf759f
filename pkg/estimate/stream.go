// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package estimate

import (
	"io"
	"reflect"
)

// Stream writes the complete rendering of v to w. Unlike Render it has no
// size cap, and subtrees that are not descended into (beyond the depth
// limit, cyclic or opaque) contribute no text at all, so nothing in the
// output is produced by the renderer rather than by v. Stream stops at the
// first write error and returns it. A panic in user code met during
// traversal ends the output early.
func Stream(w io.Writer, v any) error {
	return defaultEstimator.Stream(w, v)
}

// Stream is like the package-level Stream but honors this Estimator's depth
// limit.
func (e *Estimator) Stream(w io.Writer, v any) (err error) {
	s := &streamSink{w: w}
	defer func() {
		if r := recover(); r != nil {
			err = s.err
		}
	}()

	walker := newWalker(e.depthLimit, s)
	walker.walk(reflect.ValueOf(v), 1)
	return s.err
}

type streamSink struct {
	w   io.Writer
	err error
	one [1]byte
}

func (s *streamSink) write(b []byte) {
	if s.err == nil {
		_, s.err = s.w.Write(b)
	}
}

func (s *streamSink) writeString(v string) {
	if s.err == nil {
		_, s.err = io.WriteString(s.w, v)
	}
}

func (s *streamSink) str(v string) {
	s.punct('"')
	s.writeString(v)
	s.punct('"')
}

func (s *streamSink) blob(b []byte) {
	s.punct('"')
	s.write(b)
	s.punct('"')
}

func (s *streamSink) key(k string) { s.str(k) }
func (s *streamSink) raw(b []byte) { s.write(b) }

func (s *streamSink) punct(c byte) {
	s.one[0] = c
	s.write(s.one[:])
}

func (s *streamSink) fallback(string) {}
func (s *streamSink) full() bool      { return s.err != nil }
