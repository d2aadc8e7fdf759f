// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package estimate

import "reflect"

// DefaultRenderLimit caps the output of Render.
const DefaultRenderLimit = 1 << 20

// Render returns a compact JSON-like text form of v for display. Strings are
// written verbatim between quotes, without escaping, and subtrees that are
// not descended into show up as "<depth>", "<cycle>" or "<opaque>". Output
// stops at maxBytes (DefaultRenderLimit when maxBytes <= 0); traversal stops
// with it. Use Stream to match against the whole value.
func Render(v any, maxBytes int) string {
	return defaultEstimator.Render(v, maxBytes)
}

// Render is like the package-level Render but honors this Estimator's depth
// limit.
func (e *Estimator) Render(v any, maxBytes int) (out string) {
	if maxBytes <= 0 {
		maxBytes = DefaultRenderLimit
	}
	s := &textSink{max: maxBytes}
	defer func() {
		if r := recover(); r != nil {
			out = string(s.buf)
		}
	}()

	w := newWalker(e.depthLimit, s)
	w.walk(reflect.ValueOf(v), 1)
	return string(s.buf)
}

type textSink struct {
	buf []byte
	max int
}

func (s *textSink) write(b ...byte) {
	room := s.max - len(s.buf)
	if room <= 0 {
		return
	}
	if len(b) > room {
		b = b[:room]
	}
	s.buf = append(s.buf, b...)
}

func (s *textSink) writeString(v string) {
	room := s.max - len(s.buf)
	if room <= 0 {
		return
	}
	if len(v) > room {
		v = v[:room]
	}
	s.buf = append(s.buf, v...)
}

func (s *textSink) str(v string) {
	s.write('"')
	s.writeString(v)
	s.write('"')
}

func (s *textSink) blob(b []byte) {
	s.write('"')
	s.write(b...)
	s.write('"')
}

func (s *textSink) key(k string) { s.str(k) }
func (s *textSink) raw(b []byte) { s.write(b...) }
func (s *textSink) punct(c byte) { s.write(c) }

func (s *textSink) fallback(reason string) {
	s.writeString(`"<`)
	s.writeString(reason)
	s.writeString(`>"`)
}

func (s *textSink) full() bool { return len(s.buf) >= s.max }
