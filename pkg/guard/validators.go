// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package guard

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/text/transform"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/estimate"
)

// Chain runs validators in order and stops at the first error.
func Chain(validators ...Validator) Validator {
	return func(ctx context.Context, tool string, args Args) error {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(ctx, tool, args); err != nil {
				return err
			}
		}
		return nil
	}
}

// MaxPayloadBytes blocks calls whose arguments measure more than n bytes
// under the estimate byte model. Nothing is serialized.
func MaxPayloadBytes(n int64) Validator {
	e := estimate.New()
	return func(_ context.Context, tool string, args Args) error {
		size := e.Bytes(args)
		if size > n {
			return &leasherr.BlockedError{
				ToolName: tool,
				Reason:   fmt.Sprintf("payload of %d bytes exceeds limit of %d bytes", size, n),
			}
		}
		return nil
	}
}

// secretPattern is a credential format that must never reach a tool.
type secretPattern struct {
	name    string
	pattern *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"openai_api_key", regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{20,}`)},
	{"openai_legacy_key", regexp.MustCompile(`sk-[A-Za-z0-9]{40,}`)},
	{"github_pat", regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`)},
	{"github_fine_grained_pat", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`)},
	{"slack_token", regexp.MustCompile(`xox[bpas]-[A-Za-z0-9-]+`)},
	{"anthropic_api_key", regexp.MustCompile(`sk-ant-api\d{2}-[A-Za-z0-9_-]{20,}`)},
	{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`)},
	{"pem_private_key", regexp.MustCompile(`-----BEGIN\s+(RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{"database_connection_string", regexp.MustCompile(`(?i)(postgres|mysql|mongodb|redis|jdbc:[a-z]+)://[^\s]+:[^\s]+@[^\s]+`)},
	{"dsn_password", regexp.MustCompile(`(?i)(?:Server|Data Source)\s*=\s*[^;]+;\s*(?:Password|Pwd)\s*=\s*[^;]+`)},
}

// Secrets blocks calls whose arguments contain a known credential format
// anywhere in their rendered text. The text is normalized and scanned in
// overlapping windows, so argument size does not bound what is checked.
func Secrets() Validator {
	return func(_ context.Context, tool string, args Args) error {
		s := &secretScanner{}
		tw := transform.NewWriter(s, normalizer())
		_ = estimate.Stream(tw, args)
		_ = tw.Close()
		s.flush()
		if s.found == "" {
			return nil
		}
		return &leasherr.BlockedError{
			ToolName: tool,
			Reason:   fmt.Sprintf("arguments contain a credential matching %s", s.found),
		}
	}
}

// Windows of rendered text the secret patterns run against. Consecutive
// windows share secretOverlap bytes, which every pattern's shortest match
// fits in.
const (
	secretWindow  = 64 << 10
	secretOverlap = 1 << 10
)

// secretScanner is an io.Writer that runs secretPatterns over overlapping
// windows of the text written to it.
type secretScanner struct {
	buf   []byte
	fresh int
	found string
}

func (s *secretScanner) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 && s.found == "" {
		take := min(secretWindow-len(s.buf), len(p))
		s.buf = append(s.buf, p[:take]...)
		s.fresh += take
		p = p[take:]
		if len(s.buf) == secretWindow {
			s.flush()
		}
	}
	if s.found != "" {
		return 0, errMatched
	}
	return n, nil
}

// flush scans the window if it holds unscanned text, then keeps only its
// last secretOverlap bytes.
func (s *secretScanner) flush() {
	if s.fresh == 0 || s.found != "" {
		return
	}
	s.fresh = 0
	for _, p := range secretPatterns {
		if p.pattern.Match(s.buf) {
			s.found = p.name
			return
		}
	}
	if len(s.buf) > secretOverlap {
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-secretOverlap:]...)
	}
}
