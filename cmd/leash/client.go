// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// sidecarHTTPClient is the HTTP client used by commands that talk to a
// running sidecar. Overridden in tests.
var sidecarHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// sidecarClient provides HTTP access to a running leash sidecar.
type sidecarClient struct {
	baseURL string
	http    *http.Client
}

func newSidecarClient(addr string) *sidecarClient {
	return &sidecarClient{
		baseURL: "http://" + addr,
		http:    sidecarHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
// A refused connection is reported as CodeCLISidecarNotRunning.
func (c *sidecarClient) getJSON(path string, query url.Values, dest any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := c.http.Get(u)
	if err != nil {
		if isDialError(err) {
			return leasherr.Wrap(err, leasherr.CodeCLISidecarNotRunning, "sidecar is not running (connection refused)")
		}
		return leasherr.Errorf(leasherr.CodeCLISetupFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return leasherr.Errorf(leasherr.CodeCLISetupFailure, "sidecar returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return leasherr.Errorf(leasherr.CodeCLISetupFailure, "invalid response: %w", err)
	}
	return nil
}

// isDialError reports whether err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
