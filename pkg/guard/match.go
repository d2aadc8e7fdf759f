// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package guard

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/transform"

	"github.com/sigil-dev/leash/pkg/estimate"
)

// errMatched stops a rendering once a matcher has found what it looks for.
var errMatched = errors.New("guard: match found")

// matcher is an io.Writer that looks for any of a set of substrings in the
// concatenation of everything written to it. Between writes it keeps only
// the last len(longest)-1 bytes, so a match split across writes is still
// found.
type matcher struct {
	subs  [][]byte
	keep  int
	tail  []byte
	found []byte
}

func newMatcher(forbidden []string) *matcher {
	m := &matcher{}
	for _, s := range forbidden {
		if s == "" {
			continue
		}
		m.subs = append(m.subs, []byte(s))
		m.keep = max(m.keep, len(s)-1)
	}
	return m
}

func (m *matcher) Write(p []byte) (int, error) {
	if m.found != nil {
		return 0, errMatched
	}

	buf := append(m.tail, p...)
	for _, sub := range m.subs {
		if bytes.Contains(buf, sub) {
			m.found = sub
			return 0, errMatched
		}
	}

	if len(buf) > m.keep {
		buf = buf[len(buf)-m.keep:]
	}
	m.tail = append(m.tail[:0], buf...)
	return len(p), nil
}

// scan writes the matchable text of value into m, through the normalizing
// transform when norm is set, and returns the substring found, if any.
func (m *matcher) scan(value any, norm bool) (string, bool) {
	if len(m.subs) == 0 {
		return "", false
	}

	var w io.Writer = m
	var tw *transform.Writer
	if norm {
		tw = transform.NewWriter(m, normalizer())
		w = tw
	}
	err := writeText(w, value)
	if tw != nil && err == nil {
		_ = tw.Close()
	}

	if m.found == nil {
		return "", false
	}
	return string(m.found), true
}

// writeText writes the form of value that forbidden substrings are matched
// against: strings and byte slices as is, errors and fmt.Stringers through
// their methods, and everything else through estimate.Stream.
func writeText(w io.Writer, value any) error {
	switch v := value.(type) {
	case string:
		_, err := io.WriteString(w, v)
		return err
	case []byte:
		_, err := w.Write(v)
		return err
	case error:
		if s, ok := safeString(v.Error); ok {
			_, err := io.WriteString(w, s)
			return err
		}
	case fmt.Stringer:
		if s, ok := safeString(v.String); ok {
			_, err := io.WriteString(w, s)
			return err
		}
	}
	return estimate.Stream(w, value)
}

// safeString calls f, treating a panic (typically a nil receiver) as absent.
func safeString(f func() string) (s string, ok bool) {
	defer func() {
		if recover() != nil {
			s, ok = "", false
		}
	}()
	return f(), true
}
