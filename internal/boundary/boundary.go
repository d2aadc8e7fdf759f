// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package boundary checks and decodes tool-call payloads at the edge of the
// process, before they reach the guard. The guard itself never re-validates
// structure.
package boundary

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
)

// Validator checks payloads against one compiled JSON Schema. It is safe
// for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles a JSON Schema document.
func NewValidator(schema []byte) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, leasherr.Wrap(err, leasherr.CodeBoundarySchemaInvalid, "compiling argument schema")
	}
	return &Validator{schema: s}, nil
}

// Validate checks decoded arguments against the schema. Every violation is
// reported, in the order the schema library produced them.
func (v *Validator) Validate(args map[string]any) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return leasherr.Wrap(err, leasherr.CodeBoundaryPayloadInvalid, "validating arguments")
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return leasherr.New(leasherr.CodeBoundaryPayloadInvalid,
		"arguments do not match schema: "+strings.Join(violations, "; "),
		leasherr.Field("violations", violations))
}

// Decode parses a JSON or YAML object into call arguments. An empty
// document is an empty argument mapping.
func Decode(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := yaml.Unmarshal(data, &args); err != nil {
		return nil, leasherr.Wrap(err, leasherr.CodeBoundaryPayloadParseInvalid, "decoding arguments")
	}
	if args == nil {
		return map[string]any{}, nil
	}
	return args, nil
}
